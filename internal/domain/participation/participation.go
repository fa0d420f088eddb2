package participation

import (
	"time"

	"github.com/google/uuid"

	"github.com/gocomet/club-rides/internal/domain/ride"
	"github.com/gocomet/club-rides/internal/store"
)

// Role represents a participant's function on a ride
type Role string

const (
	RoleCaptain     Role = "captain"
	RoleLeader      Role = "leader"
	RoleParticipant Role = "participant"
	RoleWaitlisted  Role = "waitlisted"
)

// IsValid validates the role
func (r Role) IsValid() bool {
	switch r {
	case RoleCaptain, RoleLeader, RoleParticipant, RoleWaitlisted:
		return true
	}
	return false
}

// Status represents participation status. Rows are never deleted; leaving
// flips the status and keeps the row as an audit trail.
type Status string

const (
	StatusActive Status = "active"
	StatusLeft   Status = "left"
)

// Participation is one user's relationship to one ride, unique per
// (rideId, userId)
type Participation struct {
	RideID   uuid.UUID `json:"ride_id"`
	UserID   string    `json:"user_id"`
	Role     Role      `json:"role"`
	Status   Status    `json:"status"`
	JoinedAt time.Time `json:"joined_at"`
}

// IsActive reports whether this participation currently counts
func (p *Participation) IsActive() bool {
	return p.Status == StatusActive
}

// Key locates the participation item within the ride's partition
func Key(rideID uuid.UUID, userID string) store.Key {
	return store.Key{Partition: "RIDE#" + rideID.String(), Sort: "USER#" + userID}
}

// UserPrefix is the sort-key prefix shared by all participations of a ride
const UserPrefix = "USER#"

// IndexEntry is the denormalized "my rides" inverse-index row. It carries
// enough to filter a page without fetching every participation, paired with
// a batch-get of ride main items for ride details.
type IndexEntry struct {
	RideID        uuid.UUID `json:"ride_id"`
	ClubID        string    `json:"club_id"`
	Role          Role      `json:"role"`
	Status        Status    `json:"status"`
	StartDateTime time.Time `json:"start_date_time"`
	JoinedAt      time.Time `json:"joined_at"`
}

// IndexKey locates a user's inverse-index row for a ride, ordered by
// (startDateTime, rideId)
func IndexKey(userID string, start time.Time, rideID uuid.UUID) store.Key {
	return store.Key{Partition: "USER#" + userID, Sort: ride.StartSortKey(start, rideID)}
}

// IndexPrefix is the sort-key prefix of all index rows in a user partition
const IndexPrefix = "RIDE#"
