// Package authz is the single choke point for permission checks. Every
// mutation routes through RequireCapability; no other component compares
// role strings.
//
// Capability grants by role (each role inherits everything below it):
//   - member:       CREATE_RIDE_PROPOSALS
//   - ride_leader:  + PUBLISH_RIDE_IMMEDIATELY
//   - ride_captain: + CANCEL_ANY_RIDE
//   - admin:        + MANAGE_CLUB_SETTINGS, APPROVE_JOIN_REQUESTS
//   - owner:        everything
package authz

import (
	"context"
	"fmt"

	"github.com/gocomet/club-rides/internal/domain/membership"
	apperrors "github.com/gocomet/club-rides/pkg/errors"
)

// Capability is a named permission an actor obtains through its club role
type Capability string

const (
	CapCreateRideProposals    Capability = "CREATE_RIDE_PROPOSALS"
	CapPublishRideImmediately Capability = "PUBLISH_RIDE_IMMEDIATELY"
	CapCancelAnyRide          Capability = "CANCEL_ANY_RIDE"
	CapManageClubSettings     Capability = "MANAGE_CLUB_SETTINGS"
	CapApproveJoinRequests    Capability = "APPROVE_JOIN_REQUESTS"
)

// hierarchy orders roles lowest to highest; additions lists what each role
// grants on top of everything below it
var hierarchy = []membership.Role{
	membership.RoleMember,
	membership.RoleRideLeader,
	membership.RoleRideCaptain,
	membership.RoleAdmin,
	membership.RoleOwner,
}

var additions = map[membership.Role][]Capability{
	membership.RoleMember:      {CapCreateRideProposals},
	membership.RoleRideLeader:  {CapPublishRideImmediately},
	membership.RoleRideCaptain: {CapCancelAnyRide},
	membership.RoleAdmin:       {CapManageClubSettings, CapApproveJoinRequests},
	membership.RoleOwner:       {},
}

// grants is the flattened role → capability-set table, built once
var grants = buildGrants()

func buildGrants() map[membership.Role]map[Capability]bool {
	table := make(map[membership.Role]map[Capability]bool, len(hierarchy))
	inherited := map[Capability]bool{}
	for _, role := range hierarchy {
		for _, cap := range additions[role] {
			inherited[cap] = true
		}
		set := make(map[Capability]bool, len(inherited))
		for cap := range inherited {
			set[cap] = true
		}
		table[role] = set
	}
	return table
}

// Allows reports whether the role's capability set includes cap
func Allows(role membership.Role, cap Capability) bool {
	return grants[role][cap]
}

// Engine maps (actor, club, capability) to allow/deny via the membership
// directory and the static grant table
type Engine struct {
	directory membership.Directory
}

// NewEngine creates an Engine reading roles from directory
func NewEngine(directory membership.Directory) *Engine {
	return &Engine{directory: directory}
}

// RequireCapability fails with an authorization error when the actor has no
// membership in the club, the membership is not active, or the resolved
// role's capability set excludes cap
func (e *Engine) RequireCapability(ctx context.Context, cap Capability, actorID, clubID string) error {
	m, err := e.directory.GetMembership(ctx, actorID, clubID)
	if err != nil {
		return err
	}
	if m == nil {
		return apperrors.ErrMembershipNotFound
	}
	if m.Status != membership.StatusActive {
		return apperrors.ErrMembershipInactive
	}
	if !Allows(m.Role, cap) {
		return apperrors.Authorization(fmt.Sprintf("Role %s does not grant %s", m.Role, cap))
	}
	return nil
}

// HasCapability reports whether the actor holds cap without failing the
// request. Used where a capability toggles behavior instead of gating it,
// e.g. publishImmediately on ride creation.
func (e *Engine) HasCapability(ctx context.Context, cap Capability, actorID, clubID string) (bool, error) {
	err := e.RequireCapability(ctx, cap, actorID, clubID)
	if err == nil {
		return true, nil
	}
	if apperrors.IsCode(err, "AUTHORIZATION_ERROR") {
		return false, nil
	}
	return false, err
}
