package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gocomet/club-rides/internal/domain/participation"
	"github.com/gocomet/club-rides/internal/domain/ride"
	"github.com/gocomet/club-rides/internal/service/authz"
	"github.com/gocomet/club-rides/internal/store"
	apperrors "github.com/gocomet/club-rides/pkg/errors"
	"github.com/gocomet/club-rides/pkg/logger"
	"github.com/gocomet/club-rides/pkg/monitoring"
)

// maxAttempts bounds conditional-write retries on state transitions
const maxAttempts = 3

// Manager owns the ride state machine and ride creation, including the
// atomic captain-participation seeding
type Manager struct {
	store   store.Store
	authz   *authz.Engine
	logger  *logger.Logger
	monitor *monitoring.NewRelicApp
}

// NewManager creates a lifecycle Manager
func NewManager(s store.Store, az *authz.Engine, log *logger.Logger, monitor *monitoring.NewRelicApp) *Manager {
	return &Manager{store: s, authz: az, logger: log, monitor: monitor}
}

// CreateRideInput carries the fields of a ride proposal
type CreateRideInput struct {
	Title                    string
	Description              string
	RideType                 string
	Difficulty               string
	StartDateTime            time.Time
	EstimatedDurationMinutes int
	MeetingPoint             ride.MeetingPoint
	Route                    *string
	MaxParticipants          *int64
	PublishImmediately       bool
}

func (in *CreateRideInput) missingFields() []string {
	var missing []string
	if in.Title == "" {
		missing = append(missing, "title")
	}
	if in.Description == "" {
		missing = append(missing, "description")
	}
	if in.RideType == "" {
		missing = append(missing, "rideType")
	}
	if in.Difficulty == "" {
		missing = append(missing, "difficulty")
	}
	if in.StartDateTime.IsZero() {
		missing = append(missing, "startDateTime")
	}
	if in.EstimatedDurationMinutes <= 0 {
		missing = append(missing, "estimatedDuration")
	}
	if in.MeetingPoint.Name == "" || in.MeetingPoint.Address == "" {
		missing = append(missing, "meetingPoint")
	}
	return missing
}

// CreateRide validates the proposal, checks CREATE_RIDE_PROPOSALS, and
// writes the ride together with its captain participation. The writes form
// a saga: ride main, ride pointer, captain participation, user index; a
// failed later step compensates the earlier ones so no partial ride is ever
// externally visible.
//
// publishImmediately is honored only when the actor holds
// PUBLISH_RIDE_IMMEDIATELY; otherwise the flag is ignored and the ride
// starts as a draft.
func (m *Manager) CreateRide(ctx context.Context, input CreateRideInput, actorID, clubID string) (*ride.Ride, error) {
	if missing := input.missingFields(); len(missing) > 0 {
		return nil, apperrors.Validation("Missing required fields", missing...)
	}

	if err := m.authz.RequireCapability(ctx, authz.CapCreateRideProposals, actorID, clubID); err != nil {
		return nil, err
	}

	status := ride.StatusDraft
	if input.PublishImmediately {
		canPublish, err := m.authz.HasCapability(ctx, authz.CapPublishRideImmediately, actorID, clubID)
		if err != nil {
			return nil, err
		}
		if canPublish {
			status = ride.StatusPublished
		}
	}

	now := time.Now().UTC()
	r := &ride.Ride{
		ID:                       uuid.New(),
		ClubID:                   clubID,
		Title:                    input.Title,
		Description:              input.Description,
		RideType:                 input.RideType,
		Difficulty:               input.Difficulty,
		StartDateTime:            input.StartDateTime,
		EstimatedDurationMinutes: input.EstimatedDurationMinutes,
		MeetingPoint:             input.MeetingPoint,
		Route:                    input.Route,
		MaxParticipants:          input.MaxParticipants,
		Status:                   status,
		CurrentParticipants:      0,
		CreatedBy:                actorID,
		CreatedAt:                now,
	}

	captain := &participation.Participation{
		RideID:   r.ID,
		UserID:   actorID,
		Role:     participation.RoleCaptain,
		Status:   participation.StatusActive,
		JoinedAt: now,
	}

	steps := []sagaStep{
		{key: ride.PrimaryKey(clubID, r.ID), value: r},
		{key: ride.PointerKey(r.ID), value: &ride.Pointer{ClubID: clubID}},
		{key: participation.Key(r.ID, actorID), value: captain},
		{key: participation.IndexKey(actorID, r.StartDateTime, r.ID), value: &participation.IndexEntry{
			RideID:        r.ID,
			ClubID:        clubID,
			Role:          participation.RoleCaptain,
			Status:        participation.StatusActive,
			StartDateTime: r.StartDateTime,
			JoinedAt:      now,
		}},
	}

	for i, step := range steps {
		attrs, err := store.MarshalItem(step.value)
		if err != nil {
			m.compensate(ctx, r.ID, steps[:i])
			return nil, apperrors.Internal("Failed to encode ride", err)
		}
		err = m.store.Put(ctx, store.Item{Key: step.key, Attributes: attrs}, &store.Condition{NotExists: true})
		if err != nil {
			m.compensate(ctx, r.ID, steps[:i])
			if err == store.ErrConditionFailed {
				return nil, apperrors.Concurrency("Ride creation collided with a concurrent write", err)
			}
			return nil, apperrors.Internal("Failed to create ride", err)
		}
	}

	m.logger.Info("Ride created",
		logger.String("ride_id", r.ID.String()),
		logger.String("club_id", clubID),
		logger.String("created_by", actorID),
		logger.String("status", string(r.Status)),
	)
	m.monitor.RecordRideCreated(clubID, string(r.Status))

	return r, nil
}

type sagaStep struct {
	key   store.Key
	value any
}

// compensate deletes the already-written saga steps in reverse order. A
// failed compensating delete gets one immediate retry, then is logged for
// manual reconciliation.
func (m *Manager) compensate(ctx context.Context, rideID uuid.UUID, written []sagaStep) {
	for i := len(written) - 1; i >= 0; i-- {
		key := written[i].key
		err := m.store.Delete(ctx, key, nil)
		if err != nil {
			err = m.store.Delete(ctx, key, nil)
		}
		if err != nil {
			m.logger.Error("Compensating delete failed",
				logger.String("ride_id", rideID.String()),
				logger.String("key", key.String()),
				logger.String("action", "reconcile"),
				logger.Err(err),
			)
		}
	}
}

// PublishRide moves a draft ride to published. Requires
// PUBLISH_RIDE_IMMEDIATELY.
func (m *Manager) PublishRide(ctx context.Context, rideID uuid.UUID, actorID string) (*ride.Ride, error) {
	return m.transition(ctx, rideID, func(r *ride.Ride) error {
		if err := m.authz.RequireCapability(ctx, authz.CapPublishRideImmediately, actorID, r.ClubID); err != nil {
			return err
		}
		if !r.CanPublish() {
			if r.Status.IsTerminal() {
				return apperrors.ErrRideTerminal
			}
			return apperrors.ErrRideNotDraft
		}
		r.Status = ride.StatusPublished
		return nil
	}, func(r *ride.Ride) {
		m.logger.Info("Ride published",
			logger.String("ride_id", r.ID.String()),
			logger.String("actor_id", actorID),
		)
		m.monitor.RecordRidePublished(r.ClubID)
	})
}

// CancelRide moves a draft or published ride to cancelled. The captain of
// the ride is always allowed; anyone else needs CANCEL_ANY_RIDE. Cancelling
// an already cancelled or completed ride is a conflict.
func (m *Manager) CancelRide(ctx context.Context, rideID uuid.UUID, actorID, reason string) (*ride.Ride, error) {
	return m.transition(ctx, rideID, func(r *ride.Ride) error {
		isCaptain, err := m.isCaptain(ctx, rideID, actorID)
		if err != nil {
			return err
		}
		if !isCaptain {
			if err := m.authz.RequireCapability(ctx, authz.CapCancelAnyRide, actorID, r.ClubID); err != nil {
				return err
			}
		}
		if !r.CanCancel() {
			return apperrors.ErrRideTerminal
		}
		now := time.Now().UTC()
		r.Status = ride.StatusCancelled
		r.CancelledAt = &now
		r.CancellationReason = reason
		return nil
	}, func(r *ride.Ride) {
		m.logger.Info("Ride cancelled",
			logger.String("ride_id", r.ID.String()),
			logger.String("actor_id", actorID),
			logger.String("reason", reason),
		)
		m.monitor.RecordRideCancelled(r.ClubID, reason)
	})
}

// CompleteRide moves a published ride to completed. Invoked by the external
// time-driven trigger, so it carries no actor check.
func (m *Manager) CompleteRide(ctx context.Context, rideID uuid.UUID) (*ride.Ride, error) {
	return m.transition(ctx, rideID, func(r *ride.Ride) error {
		if !r.CanComplete() {
			return apperrors.ErrRideTerminal
		}
		r.Status = ride.StatusCompleted
		return nil
	}, func(r *ride.Ride) {
		m.logger.Info("Ride completed", logger.String("ride_id", r.ID.String()))
	})
}

// GetRide resolves a ride by id alone
func (m *Manager) GetRide(ctx context.Context, rideID uuid.UUID) (*ride.Ride, error) {
	return Resolve(ctx, m.store, rideID)
}

// transition re-reads, mutates, and conditionally writes the ride, gated on
// the status it read. A lost race re-reads and retries up to maxAttempts,
// then surfaces a concurrency error.
func (m *Manager) transition(ctx context.Context, rideID uuid.UUID, mutate func(*ride.Ride) error, onSuccess func(*ride.Ride)) (*ride.Ride, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		r, err := Resolve(ctx, m.store, rideID)
		if err != nil {
			return nil, err
		}

		previous := r.Status
		if err := mutate(r); err != nil {
			return nil, err
		}

		attrs, err := store.MarshalItem(r)
		if err != nil {
			return nil, apperrors.Internal("Failed to encode ride", err)
		}
		err = m.store.Put(ctx, store.Item{Key: ride.PrimaryKey(r.ClubID, r.ID), Attributes: attrs},
			&store.Condition{Equals: map[string]any{"status": string(previous)}})
		if err == nil {
			onSuccess(r)
			return r, nil
		}
		if err != store.ErrConditionFailed {
			return nil, apperrors.Internal("Failed to update ride", err)
		}
		lastErr = err
	}
	return nil, apperrors.Concurrency("Ride update lost the write race repeatedly", lastErr)
}

func (m *Manager) isCaptain(ctx context.Context, rideID uuid.UUID, actorID string) (bool, error) {
	item, err := m.store.Get(ctx, participation.Key(rideID, actorID))
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, apperrors.Internal("Failed to read participation", err)
	}
	var p participation.Participation
	if err := store.UnmarshalItem(item.Attributes, &p); err != nil {
		return false, apperrors.Internal("Failed to decode participation", err)
	}
	return p.Role == participation.RoleCaptain && p.IsActive(), nil
}

// Resolve follows the ride pointer and loads the ride main item. Shared
// with the participation coordinator.
func Resolve(ctx context.Context, s store.Store, rideID uuid.UUID) (*ride.Ride, error) {
	item, err := s.Get(ctx, ride.PointerKey(rideID))
	if err == store.ErrNotFound {
		return nil, apperrors.ErrRideNotFound
	}
	if err != nil {
		return nil, apperrors.Internal("Failed to resolve ride", err)
	}
	var ptr ride.Pointer
	if err := store.UnmarshalItem(item.Attributes, &ptr); err != nil {
		return nil, apperrors.Internal("Failed to decode ride pointer", err)
	}

	main, err := s.Get(ctx, ride.PrimaryKey(ptr.ClubID, rideID))
	if err == store.ErrNotFound {
		return nil, apperrors.ErrRideNotFound
	}
	if err != nil {
		return nil, apperrors.Internal("Failed to read ride", err)
	}
	var r ride.Ride
	if err := store.UnmarshalItem(main.Attributes, &r); err != nil {
		return nil, apperrors.Internal("Failed to decode ride", err)
	}
	return &r, nil
}
