package participation

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/gocomet/club-rides/internal/domain/participation"
	"github.com/gocomet/club-rides/internal/domain/ride"
	"github.com/gocomet/club-rides/internal/service/lifecycle"
	"github.com/gocomet/club-rides/internal/store"
	apperrors "github.com/gocomet/club-rides/pkg/errors"
	"github.com/gocomet/club-rides/pkg/logger"
	"github.com/gocomet/club-rides/pkg/monitoring"
)

const (
	maxAttempts  = 3
	defaultLimit = 20
	maxLimit     = 100
)

// Coordinator owns join/leave/waitlist transitions, capacity accounting, and
// "my rides" queries. All coordination happens through the store's
// conditional primitives; nothing is cached across requests.
type Coordinator struct {
	store           store.Store
	logger          *logger.Logger
	monitor         *monitoring.NewRelicApp
	waitlistEnabled bool
}

// NewCoordinator creates a Coordinator
func NewCoordinator(s store.Store, log *logger.Logger, monitor *monitoring.NewRelicApp, waitlistEnabled bool) *Coordinator {
	return &Coordinator{store: s, logger: log, monitor: monitor, waitlistEnabled: waitlistEnabled}
}

// JoinRide adds the actor to a published ride. When the ride is at capacity
// and waitlisting is enabled the actor is queued instead; otherwise the join
// conflicts. The capacity gate is the bounded atomic increment on the ride's
// counter, so concurrent joins can never oversubscribe a ride.
func (c *Coordinator) JoinRide(ctx context.Context, rideID uuid.UUID, actorID string) (*participation.Participation, error) {
	r, err := lifecycle.Resolve(ctx, c.store, rideID)
	if err != nil {
		return nil, err
	}
	if r.Status != ride.StatusPublished {
		return nil, apperrors.ErrRideNotPublished
	}

	existing, err := c.getParticipation(ctx, rideID, actorID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.IsActive() {
		return nil, apperrors.ErrAlreadyJoined
	}

	// Rejoin flips the retained left row; first join creates the row. The
	// condition re-checks atomically, so two racing joins cannot both win.
	claim := &store.Condition{NotExists: true}
	if existing != nil {
		claim = &store.Condition{Equals: map[string]any{"status": string(participation.StatusLeft)}}
	}

	role := participation.RoleParticipant
	counted := true
	if r.MaxParticipants != nil {
		_, err = c.store.Add(ctx, ride.PrimaryKey(r.ClubID, rideID), ride.CounterField, 1, &store.Bound{Max: r.MaxParticipants})
		if err == store.ErrConditionFailed {
			if !c.waitlistEnabled {
				return nil, apperrors.ErrRideFull
			}
			role = participation.RoleWaitlisted
			counted = false
		} else if err == store.ErrNotFound {
			return nil, apperrors.ErrRideNotFound
		} else if err != nil {
			return nil, apperrors.Internal("Failed to reserve a seat", err)
		}
	} else {
		if _, err := c.store.Add(ctx, ride.PrimaryKey(r.ClubID, rideID), ride.CounterField, 1, nil); err != nil {
			return nil, apperrors.Internal("Failed to reserve a seat", err)
		}
	}

	p := &participation.Participation{
		RideID:   rideID,
		UserID:   actorID,
		Role:     role,
		Status:   participation.StatusActive,
		JoinedAt: time.Now().UTC(),
	}
	attrs, err := store.MarshalItem(p)
	if err != nil {
		c.releaseSeat(ctx, r, counted)
		return nil, apperrors.Internal("Failed to encode participation", err)
	}
	err = c.store.Put(ctx, store.Item{Key: participation.Key(rideID, actorID), Attributes: attrs}, claim)
	if err == store.ErrConditionFailed {
		// A concurrent join by the same user won the row; give the seat back
		c.releaseSeat(ctx, r, counted)
		return nil, apperrors.ErrAlreadyJoined
	}
	if err != nil {
		c.releaseSeat(ctx, r, counted)
		return nil, apperrors.Internal("Failed to record participation", err)
	}

	c.writeIndex(ctx, r, p)

	c.logger.Info("Ride joined",
		logger.String("ride_id", rideID.String()),
		logger.String("user_id", actorID),
		logger.String("role", string(role)),
	)
	c.monitor.RecordParticipantJoined(r.ClubID, string(role))

	return p, nil
}

// LeaveRide marks the actor's active participation as left. Leaving a ride
// never joined (or already left) is a not-found. A non-waitlisted leave
// frees a seat and promotes the earliest-joined waitlisted participation,
// race-free: the conditional role flip is the claim, so two concurrent
// leaves cannot promote the same row or double-decrement the counter.
func (c *Coordinator) LeaveRide(ctx context.Context, rideID uuid.UUID, actorID string) error {
	r, err := lifecycle.Resolve(ctx, c.store, rideID)
	if err != nil {
		return err
	}

	p, err := c.getParticipation(ctx, rideID, actorID)
	if err != nil {
		return err
	}
	if p == nil || !p.IsActive() {
		return apperrors.ErrParticipationNotFound
	}
	if p.Role == participation.RoleCaptain {
		return apperrors.Conflict("The ride captain cannot leave their own ride")
	}

	left := *p
	left.Status = participation.StatusLeft
	attrs, err := store.MarshalItem(&left)
	if err != nil {
		return apperrors.Internal("Failed to encode participation", err)
	}
	err = c.store.Put(ctx, store.Item{Key: participation.Key(rideID, actorID), Attributes: attrs},
		&store.Condition{Equals: map[string]any{"status": string(participation.StatusActive)}})
	if err == store.ErrConditionFailed {
		// A concurrent leave already claimed this row
		return apperrors.ErrParticipationNotFound
	}
	if err != nil {
		return apperrors.Internal("Failed to record leave", err)
	}

	c.writeIndex(ctx, r, &left)

	if p.Role != participation.RoleWaitlisted {
		zero := int64(0)
		_, err := c.store.Add(ctx, ride.PrimaryKey(r.ClubID, rideID), ride.CounterField, -1, &store.Bound{Min: &zero})
		if err == store.ErrConditionFailed {
			// Counter already at zero: drift, reconcilable from participations
			c.logger.Warn("Participant counter underflow suppressed",
				logger.String("ride_id", rideID.String()),
				logger.String("action", "reconcile"),
			)
		} else if err != nil {
			return apperrors.Internal("Failed to release the seat", err)
		}
		c.promote(ctx, r)
	}

	c.logger.Info("Ride left",
		logger.String("ride_id", rideID.String()),
		logger.String("user_id", actorID),
	)
	c.monitor.RecordParticipantLeft(r.ClubID)

	return nil
}

// promote moves the earliest-joined waitlisted participation into the freed
// seat. The conditional flip waitlisted→participant is the claim; the
// bounded re-increment keeps the capacity invariant even when a concurrent
// join takes the seat first, in which case the flip is reverted.
func (c *Coordinator) promote(ctx context.Context, r *ride.Ride) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidate, err := c.earliestWaitlisted(ctx, r.ID)
		if err != nil {
			c.logger.Error("Waitlist scan failed", logger.String("ride_id", r.ID.String()), logger.Err(err))
			return
		}
		if candidate == nil {
			return
		}

		promoted := *candidate
		promoted.Role = participation.RoleParticipant
		attrs, err := store.MarshalItem(&promoted)
		if err != nil {
			c.logger.Error("Failed to encode promotion", logger.String("ride_id", r.ID.String()), logger.Err(err))
			return
		}
		err = c.store.Put(ctx, store.Item{Key: participation.Key(r.ID, candidate.UserID), Attributes: attrs},
			&store.Condition{Equals: map[string]any{
				"role":   string(participation.RoleWaitlisted),
				"status": string(participation.StatusActive),
			}})
		if err == store.ErrConditionFailed {
			// Another leave promoted (or the candidate left); rescan
			continue
		}
		if err != nil {
			c.logger.Error("Promotion write failed", logger.String("ride_id", r.ID.String()), logger.Err(err))
			return
		}

		_, err = c.store.Add(ctx, ride.PrimaryKey(r.ClubID, r.ID), ride.CounterField, 1,
			&store.Bound{Max: r.MaxParticipants})
		if err == store.ErrConditionFailed {
			// A concurrent join took the freed seat; put the candidate back
			c.revertPromotion(ctx, r, &promoted)
			return
		}
		if err != nil {
			c.logger.Error("Promotion counter update failed",
				logger.String("ride_id", r.ID.String()),
				logger.String("action", "reconcile"),
				logger.Err(err),
			)
			return
		}

		c.writeIndex(ctx, r, &promoted)
		c.logger.Info("Waitlisted participant promoted",
			logger.String("ride_id", r.ID.String()),
			logger.String("user_id", promoted.UserID),
		)
		c.monitor.RecordWaitlistPromoted(r.ClubID)
		return
	}
	c.logger.Warn("Promotion retries exhausted",
		logger.String("ride_id", r.ID.String()),
	)
}

func (c *Coordinator) revertPromotion(ctx context.Context, r *ride.Ride, promoted *participation.Participation) {
	reverted := *promoted
	reverted.Role = participation.RoleWaitlisted
	attrs, err := store.MarshalItem(&reverted)
	if err == nil {
		err = c.store.Put(ctx, store.Item{Key: participation.Key(r.ID, promoted.UserID), Attributes: attrs},
			&store.Condition{Equals: map[string]any{
				"role":   string(participation.RoleParticipant),
				"status": string(participation.StatusActive),
			}})
	}
	if err != nil && err != store.ErrConditionFailed {
		c.logger.Error("Promotion revert failed",
			logger.String("ride_id", r.ID.String()),
			logger.String("user_id", promoted.UserID),
			logger.String("action", "reconcile"),
			logger.Err(err),
		)
	}
}

// earliestWaitlisted scans the ride's participations for the waitlisted row
// with the oldest joinedAt
func (c *Coordinator) earliestWaitlisted(ctx context.Context, rideID uuid.UUID) (*participation.Participation, error) {
	var candidates []participation.Participation
	cursor := ""
	for {
		page, err := c.store.Query(ctx, "RIDE#"+rideID.String(), store.QueryOptions{
			Prefix: participation.UserPrefix,
			Limit:  maxLimit,
			Cursor: cursor,
		})
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			var p participation.Participation
			if err := store.UnmarshalItem(item.Attributes, &p); err != nil {
				return nil, err
			}
			if p.Role == participation.RoleWaitlisted && p.IsActive() {
				candidates = append(candidates, p)
			}
		}
		if page.NextCursor == "" || len(page.Items) == 0 {
			break
		}
		cursor = page.NextCursor
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].JoinedAt.Equal(candidates[j].JoinedAt) {
			return candidates[i].UserID < candidates[j].UserID
		}
		return candidates[i].JoinedAt.Before(candidates[j].JoinedAt)
	})
	return &candidates[0], nil
}

// RideFilter narrows a "my rides" page
type RideFilter struct {
	Status ride.Status
	Role   participation.Role
}

// Page controls pagination of a "my rides" query
type Page struct {
	Limit  int
	Cursor string
}

// UserRide pairs a ride with the user's participation in it
type UserRide struct {
	Ride     *ride.Ride         `json:"ride"`
	Role     participation.Role `json:"role"`
	JoinedAt time.Time          `json:"joined_at"`
}

// RidePage is one page of a user's rides, newest start first
type RidePage struct {
	Rides      []UserRide `json:"rides"`
	Limit      int        `json:"limit"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// GetUserRides pages through the user's rides ordered by (startDateTime,
// rideId) descending. The inverse index drives the page; ride details come
// from a batch-get of the ride main items.
func (c *Coordinator) GetUserRides(ctx context.Context, userID string, filter RideFilter, page Page) (*RidePage, error) {
	limit := page.Limit
	if limit == 0 {
		limit = defaultLimit
	}
	if limit < 1 || limit > maxLimit {
		return nil, apperrors.Validation("limit must be between 1 and 100", "limit")
	}

	result, err := c.store.Query(ctx, "USER#"+userID, store.QueryOptions{
		Prefix:     participation.IndexPrefix,
		Descending: true,
		Limit:      limit,
		Cursor:     page.Cursor,
	})
	if err == store.ErrConditionFailed {
		return nil, apperrors.Validation("invalid cursor", "cursor")
	}
	if err != nil {
		return nil, apperrors.Internal("Failed to list rides", err)
	}

	entries := make([]participation.IndexEntry, 0, len(result.Items))
	keys := make([]store.Key, 0, len(result.Items))
	for _, item := range result.Items {
		var entry participation.IndexEntry
		if err := store.UnmarshalItem(item.Attributes, &entry); err != nil {
			return nil, apperrors.Internal("Failed to decode ride index", err)
		}
		if entry.Status != participation.StatusActive {
			continue
		}
		if filter.Role != "" && entry.Role != filter.Role {
			continue
		}
		entries = append(entries, entry)
		keys = append(keys, ride.PrimaryKey(entry.ClubID, entry.RideID))
	}

	items, err := c.store.BatchGet(ctx, keys)
	if err != nil {
		return nil, apperrors.Internal("Failed to load rides", err)
	}
	rides := make(map[uuid.UUID]*ride.Ride, len(items))
	for _, item := range items {
		var r ride.Ride
		if err := store.UnmarshalItem(item.Attributes, &r); err != nil {
			return nil, apperrors.Internal("Failed to decode ride", err)
		}
		rides[r.ID] = &r
	}

	out := &RidePage{Rides: []UserRide{}, Limit: limit, NextCursor: result.NextCursor}
	for _, entry := range entries {
		r, ok := rides[entry.RideID]
		if !ok {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out.Rides = append(out.Rides, UserRide{Ride: r, Role: entry.Role, JoinedAt: entry.JoinedAt})
	}
	return out, nil
}

func (c *Coordinator) getParticipation(ctx context.Context, rideID uuid.UUID, userID string) (*participation.Participation, error) {
	item, err := c.store.Get(ctx, participation.Key(rideID, userID))
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Internal("Failed to read participation", err)
	}
	var p participation.Participation
	if err := store.UnmarshalItem(item.Attributes, &p); err != nil {
		return nil, apperrors.Internal("Failed to decode participation", err)
	}
	return &p, nil
}

// releaseSeat undoes a counter increment after a failed participation write
func (c *Coordinator) releaseSeat(ctx context.Context, r *ride.Ride, counted bool) {
	if !counted {
		return
	}
	zero := int64(0)
	_, err := c.store.Add(ctx, ride.PrimaryKey(r.ClubID, r.ID), ride.CounterField, -1, &store.Bound{Min: &zero})
	if err != nil {
		c.logger.Error("Seat release failed",
			logger.String("ride_id", r.ID.String()),
			logger.String("action", "reconcile"),
			logger.Err(err),
		)
	}
}

// writeIndex upserts the user's inverse-index row. Index maintenance is
// secondary to the participation row: a failure is logged for
// reconciliation, never failing the already-durable primary write.
func (c *Coordinator) writeIndex(ctx context.Context, r *ride.Ride, p *participation.Participation) {
	entry := &participation.IndexEntry{
		RideID:        r.ID,
		ClubID:        r.ClubID,
		Role:          p.Role,
		Status:        p.Status,
		StartDateTime: r.StartDateTime,
		JoinedAt:      p.JoinedAt,
	}
	attrs, err := store.MarshalItem(entry)
	if err == nil {
		err = c.store.Put(ctx, store.Item{
			Key:        participation.IndexKey(p.UserID, r.StartDateTime, r.ID),
			Attributes: attrs,
		}, nil)
	}
	if err != nil {
		c.logger.Error("Ride index update failed",
			logger.String("ride_id", r.ID.String()),
			logger.String("user_id", p.UserID),
			logger.String("action", "reconcile"),
			logger.Err(err),
		)
	}
}
