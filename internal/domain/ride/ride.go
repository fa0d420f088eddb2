package ride

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gocomet/club-rides/internal/store"
)

// Status represents ride lifecycle status
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// IsValid validates the status
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// MeetingPoint is where a ride gathers before rolling out
type MeetingPoint struct {
	Name         string `json:"name"`
	Address      string `json:"address"`
	Instructions string `json:"instructions,omitempty"`
}

// Ride represents a club-organized group ride
type Ride struct {
	ID                       uuid.UUID    `json:"id"`
	ClubID                   string       `json:"club_id"`
	Title                    string       `json:"title"`
	Description              string       `json:"description"`
	RideType                 string       `json:"ride_type"`
	Difficulty               string       `json:"difficulty"`
	StartDateTime            time.Time    `json:"start_date_time"`
	EstimatedDurationMinutes int          `json:"estimated_duration_minutes"`
	MeetingPoint             MeetingPoint `json:"meeting_point"`
	Route                    *string      `json:"route,omitempty"`
	MaxParticipants          *int64       `json:"max_participants,omitempty"`
	Status                   Status       `json:"status"`
	CurrentParticipants      int64        `json:"current_participants"`
	CreatedBy                string       `json:"created_by"`
	CreatedAt                time.Time    `json:"created_at"`
	CancelledAt              *time.Time   `json:"cancelled_at,omitempty"`
	CancellationReason       string       `json:"cancellation_reason,omitempty"`
}

// CanPublish checks if the ride can move to published
func (r *Ride) CanPublish() bool {
	return r.Status == StatusDraft
}

// CanCancel checks if the ride can move to cancelled
func (r *Ride) CanCancel() bool {
	return r.Status == StatusDraft || r.Status == StatusPublished
}

// CanComplete checks if the ride can move to completed
func (r *Ride) CanComplete() bool {
	return r.Status == StatusPublished
}

// CounterField is the attribute mutated through atomic Add. It counts active
// role=participant rows; ride staff seeded at creation do not consume rider
// capacity.
const CounterField = "current_participants"

// Pointer resolves a ride id to its owning club
type Pointer struct {
	ClubID string `json:"club_id"`
}

// PrimaryKey locates the ride main item, which also carries the counter
func PrimaryKey(clubID string, rideID uuid.UUID) store.Key {
	return store.Key{Partition: "CLUB#" + clubID, Sort: "RIDE#" + rideID.String()}
}

// PointerKey locates the rideID-to-club pointer item
func PointerKey(rideID uuid.UUID) store.Key {
	return store.Key{Partition: "RIDE#" + rideID.String(), Sort: "META"}
}

// StartSortKey orders a user's rides by (startDateTime, rideId). Queried
// descending it yields newest-first pages.
func StartSortKey(start time.Time, rideID uuid.UUID) string {
	return fmt.Sprintf("RIDE#%s#%s", start.UTC().Format("20060102T150405Z"), rideID)
}
