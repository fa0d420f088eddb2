package authz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocomet/club-rides/internal/domain/membership"
	"github.com/gocomet/club-rides/internal/store"
	apperrors "github.com/gocomet/club-rides/pkg/errors"
)

func seedMembership(t *testing.T, s store.Store, userID, clubID string, role membership.Role, status membership.Status) {
	t.Helper()
	attrs, err := store.MarshalItem(&membership.Membership{
		ClubID:   clubID,
		UserID:   userID,
		Role:     role,
		Status:   status,
		JoinedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), store.Item{
		Key:        membership.Key(userID, clubID),
		Attributes: attrs,
	}, nil))
}

func TestCapabilityTable_Hierarchy(t *testing.T) {
	tests := []struct {
		role       membership.Role
		capability Capability
		allowed    bool
	}{
		{membership.RoleMember, CapCreateRideProposals, true},
		{membership.RoleMember, CapPublishRideImmediately, false},
		{membership.RoleMember, CapCancelAnyRide, false},
		{membership.RoleRideLeader, CapCreateRideProposals, true},
		{membership.RoleRideLeader, CapPublishRideImmediately, true},
		{membership.RoleRideLeader, CapCancelAnyRide, false},
		{membership.RoleRideCaptain, CapPublishRideImmediately, true},
		{membership.RoleRideCaptain, CapCancelAnyRide, true},
		{membership.RoleRideCaptain, CapManageClubSettings, false},
		{membership.RoleAdmin, CapManageClubSettings, true},
		{membership.RoleAdmin, CapApproveJoinRequests, true},
		{membership.RoleOwner, CapCreateRideProposals, true},
		{membership.RoleOwner, CapManageClubSettings, true},
		{membership.RoleOwner, CapCancelAnyRide, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+string(tt.capability), func(t *testing.T) {
			assert.Equal(t, tt.allowed, Allows(tt.role, tt.capability))
		})
	}
}

func TestRequireCapability_MissingMembership(t *testing.T) {
	engine := NewEngine(membership.NewStoreDirectory(store.NewMemoryStore()))

	err := engine.RequireCapability(context.Background(), CapCreateRideProposals, "u1", "c1")
	require.Error(t, err)
	assert.Equal(t, "AUTHORIZATION_ERROR", apperrors.GetAppError(err).Code)
}

func TestRequireCapability_InactiveMembership(t *testing.T) {
	tests := []struct {
		name   string
		status membership.Status
	}{
		{"pending membership", membership.StatusPending},
		{"suspended membership", membership.StatusSuspended},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.NewMemoryStore()
			seedMembership(t, s, "u1", "c1", membership.RoleAdmin, tt.status)
			engine := NewEngine(membership.NewStoreDirectory(s))

			err := engine.RequireCapability(context.Background(), CapCreateRideProposals, "u1", "c1")
			require.Error(t, err)
			assert.Equal(t, "AUTHORIZATION_ERROR", apperrors.GetAppError(err).Code)
		})
	}
}

func TestRequireCapability_ActiveMember(t *testing.T) {
	s := store.NewMemoryStore()
	seedMembership(t, s, "u1", "c1", membership.RoleMember, membership.StatusActive)
	engine := NewEngine(membership.NewStoreDirectory(s))

	assert.NoError(t, engine.RequireCapability(context.Background(), CapCreateRideProposals, "u1", "c1"))

	err := engine.RequireCapability(context.Background(), CapCancelAnyRide, "u1", "c1")
	require.Error(t, err)
	assert.Equal(t, "AUTHORIZATION_ERROR", apperrors.GetAppError(err).Code)
}

func TestHasCapability_DoesNotFailTheRequest(t *testing.T) {
	s := store.NewMemoryStore()
	seedMembership(t, s, "member", "c1", membership.RoleMember, membership.StatusActive)
	seedMembership(t, s, "captain", "c1", membership.RoleRideCaptain, membership.StatusActive)
	engine := NewEngine(membership.NewStoreDirectory(s))
	ctx := context.Background()

	ok, err := engine.HasCapability(ctx, CapPublishRideImmediately, "member", "c1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = engine.HasCapability(ctx, CapPublishRideImmediately, "captain", "c1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Unknown actor is a plain deny, not an error
	ok, err = engine.HasCapability(ctx, CapPublishRideImmediately, "stranger", "c1")
	require.NoError(t, err)
	assert.False(t, ok)
}
