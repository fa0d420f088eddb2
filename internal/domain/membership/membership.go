package membership

import (
	"context"
	"time"

	"github.com/gocomet/club-rides/internal/store"
	apperrors "github.com/gocomet/club-rides/pkg/errors"
)

// Role represents a user's role within a club
type Role string

const (
	RoleMember      Role = "member"
	RoleRideLeader  Role = "ride_leader"
	RoleRideCaptain Role = "ride_captain"
	RoleAdmin       Role = "admin"
	RoleOwner       Role = "owner"
)

// IsValid validates the role
func (r Role) IsValid() bool {
	switch r {
	case RoleMember, RoleRideLeader, RoleRideCaptain, RoleAdmin, RoleOwner:
		return true
	}
	return false
}

// Status represents membership status
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Membership ties a user to a club with a role. Written by the external
// membership-approval workflow; this service only reads it.
type Membership struct {
	ClubID   string    `json:"club_id"`
	UserID   string    `json:"user_id"`
	Role     Role      `json:"role"`
	Status   Status    `json:"status"`
	JoinedAt time.Time `json:"joined_at"`
}

// Directory resolves an actor's membership in a club. Role and status may
// change between calls; callers never cache a result beyond one request.
type Directory interface {
	// GetMembership returns the membership, or nil when none exists
	GetMembership(ctx context.Context, userID, clubID string) (*Membership, error)
}

// Key locates a membership in the user's partition
func Key(userID, clubID string) store.Key {
	return store.Key{Partition: "MEMBER#" + userID, Sort: "CLUB#" + clubID}
}

// InverseKey locates the club-side index of the same membership
func InverseKey(clubID, userID string) store.Key {
	return store.Key{Partition: "CLUBMEMBERS#" + clubID, Sort: "USER#" + userID}
}

// StoreDirectory reads memberships from the partitioned store
type StoreDirectory struct {
	store store.Store
}

// NewStoreDirectory creates a Directory backed by s
func NewStoreDirectory(s store.Store) *StoreDirectory {
	return &StoreDirectory{store: s}
}

// GetMembership returns the membership, or nil when none exists
func (d *StoreDirectory) GetMembership(ctx context.Context, userID, clubID string) (*Membership, error) {
	item, err := d.store.Get(ctx, Key(userID, clubID))
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Internal("Failed to read membership", err)
	}
	var m Membership
	if err := store.UnmarshalItem(item.Attributes, &m); err != nil {
		return nil, apperrors.Internal("Failed to decode membership", err)
	}
	return &m, nil
}
