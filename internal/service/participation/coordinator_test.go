package participation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocomet/club-rides/internal/domain/membership"
	domain "github.com/gocomet/club-rides/internal/domain/participation"
	"github.com/gocomet/club-rides/internal/domain/ride"
	"github.com/gocomet/club-rides/internal/service/authz"
	"github.com/gocomet/club-rides/internal/service/lifecycle"
	"github.com/gocomet/club-rides/internal/store"
	apperrors "github.com/gocomet/club-rides/pkg/errors"
	"github.com/gocomet/club-rides/pkg/logger"
	"github.com/gocomet/club-rides/pkg/monitoring"
)

type env struct {
	store *store.MemoryStore
	mgr   *lifecycle.Manager
	coord *Coordinator
}

func newEnv(t *testing.T, waitlistEnabled bool) *env {
	t.Helper()
	s := store.NewMemoryStore()
	engine := authz.NewEngine(membership.NewStoreDirectory(s))
	e := &env{
		store: s,
		mgr:   lifecycle.NewManager(s, engine, logger.NewNop(), &monitoring.NewRelicApp{}),
		coord: NewCoordinator(s, logger.NewNop(), &monitoring.NewRelicApp{}, waitlistEnabled),
	}
	e.seedMembership(t, "captain", "c1", membership.RoleRideCaptain)
	return e
}

func (e *env) seedMembership(t *testing.T, userID, clubID string, role membership.Role) {
	t.Helper()
	attrs, err := store.MarshalItem(&membership.Membership{
		ClubID: clubID, UserID: userID, Role: role,
		Status: membership.StatusActive, JoinedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, e.store.Put(context.Background(), store.Item{
		Key: membership.Key(userID, clubID), Attributes: attrs,
	}, nil))
}

func (e *env) createRide(t *testing.T, max *int64, publish bool, start time.Time) *ride.Ride {
	t.Helper()
	r, err := e.mgr.CreateRide(context.Background(), lifecycle.CreateRideInput{
		Title:                    "Hill Repeats",
		Description:              "Climbing intervals",
		RideType:                 "road",
		Difficulty:               "hard",
		StartDateTime:            start,
		EstimatedDurationMinutes: 90,
		MeetingPoint:             ride.MeetingPoint{Name: "Depot", Address: "2 Hill Rd"},
		MaxParticipants:          max,
		PublishImmediately:       publish,
	}, "captain", "c1")
	require.NoError(t, err)
	return r
}

func (e *env) counter(t *testing.T, r *ride.Ride) int64 {
	t.Helper()
	item, err := e.store.Get(context.Background(), ride.PrimaryKey(r.ClubID, r.ID))
	require.NoError(t, err)
	return store.Int(item.Attributes, ride.CounterField)
}

func int64p(v int64) *int64 { return &v }

func futureStart() time.Time {
	return time.Date(2025, 7, 5, 7, 30, 0, 0, time.UTC)
}

func TestJoinRide_Published(t *testing.T) {
	e := newEnv(t, true)
	r := e.createRide(t, int64p(10), true, futureStart())

	p, err := e.coord.JoinRide(context.Background(), r.ID, "rider1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleParticipant, p.Role)
	assert.Equal(t, domain.StatusActive, p.Status)
	assert.Equal(t, int64(1), e.counter(t, r))
}

func TestJoinRide_UnknownRide(t *testing.T) {
	e := newEnv(t, true)

	_, err := e.coord.JoinRide(context.Background(), uuid.New(), "rider1")
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", apperrors.GetAppError(err).Code)
}

func TestJoinRide_NotPublished(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()

	draft := e.createRide(t, nil, false, futureStart())
	_, err := e.coord.JoinRide(ctx, draft.ID, "rider1")
	require.Error(t, err)
	assert.Equal(t, "CONFLICT", apperrors.GetAppError(err).Code)

	published := e.createRide(t, nil, true, futureStart())
	_, err = e.mgr.CancelRide(ctx, published.ID, "captain", "storm")
	require.NoError(t, err)
	_, err = e.coord.JoinRide(ctx, published.ID, "rider1")
	require.Error(t, err)
	assert.Equal(t, "CONFLICT", apperrors.GetAppError(err).Code)
}

func TestJoinRide_DuplicateJoin(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()
	r := e.createRide(t, int64p(10), true, futureStart())

	_, err := e.coord.JoinRide(ctx, r.ID, "rider1")
	require.NoError(t, err)

	_, err = e.coord.JoinRide(ctx, r.ID, "rider1")
	require.Error(t, err)
	assert.Equal(t, "CONFLICT", apperrors.GetAppError(err).Code)

	// The duplicate attempt must not consume a seat
	assert.Equal(t, int64(1), e.counter(t, r))
}

func TestJoinRide_FullWithoutWaitlist(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	r := e.createRide(t, int64p(1), true, futureStart())

	_, err := e.coord.JoinRide(ctx, r.ID, "rider1")
	require.NoError(t, err)

	_, err = e.coord.JoinRide(ctx, r.ID, "rider2")
	require.Error(t, err)
	assert.Equal(t, "CONFLICT", apperrors.GetAppError(err).Code)
	assert.Equal(t, int64(1), e.counter(t, r))
}

func TestJoinRide_FullGoesToWaitlist(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()
	r := e.createRide(t, int64p(1), true, futureStart())

	p1, err := e.coord.JoinRide(ctx, r.ID, "rider1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleParticipant, p1.Role)

	p2, err := e.coord.JoinRide(ctx, r.ID, "rider2")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleWaitlisted, p2.Role)
	assert.Equal(t, domain.StatusActive, p2.Status)

	// Waitlisted riders never count against capacity
	assert.Equal(t, int64(1), e.counter(t, r))
}

func TestLeaveRide_PromotesEarliestWaitlisted(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()
	r := e.createRide(t, int64p(1), true, futureStart())

	_, err := e.coord.JoinRide(ctx, r.ID, "rider1")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = e.coord.JoinRide(ctx, r.ID, "rider2")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = e.coord.JoinRide(ctx, r.ID, "rider3")
	require.NoError(t, err)

	require.NoError(t, e.coord.LeaveRide(ctx, r.ID, "rider1"))

	// rider2 joined the waitlist first, so rider2 gets the seat
	item, err := e.store.Get(ctx, domain.Key(r.ID, "rider2"))
	require.NoError(t, err)
	var promoted domain.Participation
	require.NoError(t, store.UnmarshalItem(item.Attributes, &promoted))
	assert.Equal(t, domain.RoleParticipant, promoted.Role)
	assert.Equal(t, domain.StatusActive, promoted.Status)

	item, err = e.store.Get(ctx, domain.Key(r.ID, "rider3"))
	require.NoError(t, err)
	var waiting domain.Participation
	require.NoError(t, store.UnmarshalItem(item.Attributes, &waiting))
	assert.Equal(t, domain.RoleWaitlisted, waiting.Role)

	assert.Equal(t, int64(1), e.counter(t, r))
}

func TestLeaveRide_WaitlistedLeaveDoesNotFreeASeat(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()
	r := e.createRide(t, int64p(1), true, futureStart())

	_, err := e.coord.JoinRide(ctx, r.ID, "rider1")
	require.NoError(t, err)
	_, err = e.coord.JoinRide(ctx, r.ID, "rider2")
	require.NoError(t, err)

	require.NoError(t, e.coord.LeaveRide(ctx, r.ID, "rider2"))
	assert.Equal(t, int64(1), e.counter(t, r))
}

func TestLeaveRide_NeverJoined(t *testing.T) {
	e := newEnv(t, true)
	r := e.createRide(t, nil, true, futureStart())

	err := e.coord.LeaveRide(context.Background(), r.ID, "rider1")
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", apperrors.GetAppError(err).Code)
}

func TestLeaveRide_TwiceIsNotFound(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()
	r := e.createRide(t, nil, true, futureStart())

	_, err := e.coord.JoinRide(ctx, r.ID, "rider1")
	require.NoError(t, err)
	require.NoError(t, e.coord.LeaveRide(ctx, r.ID, "rider1"))

	err = e.coord.LeaveRide(ctx, r.ID, "rider1")
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", apperrors.GetAppError(err).Code)
}

func TestLeaveRide_CaptainCannotLeave(t *testing.T) {
	e := newEnv(t, true)
	r := e.createRide(t, nil, true, futureStart())

	err := e.coord.LeaveRide(context.Background(), r.ID, "captain")
	require.Error(t, err)
	assert.Equal(t, "CONFLICT", apperrors.GetAppError(err).Code)
}

func TestJoinRide_RejoinAfterLeave(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()
	r := e.createRide(t, int64p(5), true, futureStart())

	first, err := e.coord.JoinRide(ctx, r.ID, "rider1")
	require.NoError(t, err)
	require.NoError(t, e.coord.LeaveRide(ctx, r.ID, "rider1"))
	assert.Equal(t, int64(0), e.counter(t, r))

	time.Sleep(2 * time.Millisecond)
	second, err := e.coord.JoinRide(ctx, r.ID, "rider1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, second.Status)
	assert.True(t, second.JoinedAt.After(first.JoinedAt))
	assert.Equal(t, int64(1), e.counter(t, r))
}

func TestGetUserRides_LimitValidation(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()

	for _, limit := range []int{-1, 101} {
		_, err := e.coord.GetUserRides(ctx, "rider1", RideFilter{}, Page{Limit: limit})
		require.Error(t, err)
		assert.Equal(t, "VALIDATION_ERROR", apperrors.GetAppError(err).Code)
	}

	page, err := e.coord.GetUserRides(ctx, "rider1", RideFilter{}, Page{})
	require.NoError(t, err)
	assert.Equal(t, defaultLimit, page.Limit)
	assert.Empty(t, page.Rides)
}

func TestGetUserRides_NewestStartFirst(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()

	march := e.createRide(t, nil, true, time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))
	july := e.createRide(t, nil, true, time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC))
	may := e.createRide(t, nil, true, time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC))
	for _, r := range []*ride.Ride{march, july, may} {
		_, err := e.coord.JoinRide(ctx, r.ID, "rider1")
		require.NoError(t, err)
	}

	page, err := e.coord.GetUserRides(ctx, "rider1", RideFilter{}, Page{})
	require.NoError(t, err)
	require.Len(t, page.Rides, 3)
	assert.Equal(t, july.ID, page.Rides[0].Ride.ID)
	assert.Equal(t, may.ID, page.Rides[1].Ride.ID)
	assert.Equal(t, march.ID, page.Rides[2].Ride.ID)
	assert.Empty(t, page.NextCursor)
}

func TestGetUserRides_CursorContinuation(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		start := time.Date(2025, time.Month(i+1), 1, 8, 0, 0, 0, time.UTC)
		r := e.createRide(t, nil, true, start)
		_, err := e.coord.JoinRide(ctx, r.ID, "rider1")
		require.NoError(t, err)
	}

	var seen []uuid.UUID
	cursor := ""
	for {
		page, err := e.coord.GetUserRides(ctx, "rider1", RideFilter{}, Page{Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		for _, ur := range page.Rides {
			seen = append(seen, ur.Ride.ID)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	assert.Len(t, seen, 5)
}

func TestGetUserRides_Filters(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()

	// The captain's own rides: one draft, one published
	draft := e.createRide(t, nil, false, time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC))
	published := e.createRide(t, nil, true, time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC))

	byStatus, err := e.coord.GetUserRides(ctx, "captain", RideFilter{Status: ride.StatusPublished}, Page{})
	require.NoError(t, err)
	require.Len(t, byStatus.Rides, 1)
	assert.Equal(t, published.ID, byStatus.Rides[0].Ride.ID)

	byRole, err := e.coord.GetUserRides(ctx, "captain", RideFilter{Role: domain.RoleCaptain}, Page{})
	require.NoError(t, err)
	require.Len(t, byRole.Rides, 2)
	assert.ElementsMatch(t,
		[]uuid.UUID{draft.ID, published.ID},
		[]uuid.UUID{byRole.Rides[0].Ride.ID, byRole.Rides[1].Ride.ID})

	none, err := e.coord.GetUserRides(ctx, "captain", RideFilter{Role: domain.RoleParticipant}, Page{})
	require.NoError(t, err)
	assert.Empty(t, none.Rides)
}

func TestGetUserRides_LeftRidesExcluded(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()

	r := e.createRide(t, nil, true, futureStart())
	_, err := e.coord.JoinRide(ctx, r.ID, "rider1")
	require.NoError(t, err)
	require.NoError(t, e.coord.LeaveRide(ctx, r.ID, "rider1"))

	page, err := e.coord.GetUserRides(ctx, "rider1", RideFilter{}, Page{})
	require.NoError(t, err)
	assert.Empty(t, page.Rides)
}

func TestLeaveRide_ConcurrentLeavesPromoteDistinctRiders(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()
	r := e.createRide(t, int64p(3), true, futureStart())

	leavers := []string{"rider1", "rider2", "rider3"}
	waiters := []string{"rider4", "rider5", "rider6"}
	for _, id := range leavers {
		p, err := e.coord.JoinRide(ctx, r.ID, id)
		require.NoError(t, err)
		require.Equal(t, domain.RoleParticipant, p.Role)
	}
	for _, id := range waiters {
		p, err := e.coord.JoinRide(ctx, r.ID, id)
		require.NoError(t, err)
		require.Equal(t, domain.RoleWaitlisted, p.Role)
	}

	var wg sync.WaitGroup
	for _, id := range leavers {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, e.coord.LeaveRide(ctx, r.ID, id))
		}(id)
	}
	wg.Wait()

	// Every freed seat went to exactly one waitlisted rider; no row was
	// promoted twice and no decrement was lost
	for _, id := range waiters {
		item, err := e.store.Get(ctx, domain.Key(r.ID, id))
		require.NoError(t, err)
		var p domain.Participation
		require.NoError(t, store.UnmarshalItem(item.Attributes, &p))
		assert.Equal(t, domain.RoleParticipant, p.Role, id)
		assert.Equal(t, domain.StatusActive, p.Status, id)
	}
	for _, id := range leavers {
		item, err := e.store.Get(ctx, domain.Key(r.ID, id))
		require.NoError(t, err)
		var p domain.Participation
		require.NoError(t, store.UnmarshalItem(item.Attributes, &p))
		assert.Equal(t, domain.StatusLeft, p.Status, id)
	}
	assert.Equal(t, int64(3), e.counter(t, r))
}

func TestJoinRide_ConcurrentJoinsNeverOversubscribe(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()

	const seats = int64(5)
	const riders = 25
	r := e.createRide(t, int64p(seats), true, futureStart())

	var wg sync.WaitGroup
	results := make([]*domain.Participation, riders)
	for i := 0; i < riders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := e.coord.JoinRide(ctx, r.ID, fmt.Sprintf("rider%02d", i))
			if err == nil {
				results[i] = p
			}
		}(i)
	}
	wg.Wait()

	var active, waitlisted int
	for _, p := range results {
		require.NotNil(t, p)
		switch p.Role {
		case domain.RoleParticipant:
			active++
		case domain.RoleWaitlisted:
			waitlisted++
		}
	}
	assert.Equal(t, int(seats), active)
	assert.Equal(t, riders-int(seats), waitlisted)
	assert.Equal(t, seats, e.counter(t, r))
}
