package authcore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aether-os/kernel/internal/apperr"
	"github.com/aether-os/kernel/internal/store"
)

// CreateOrganization inserts an Organization and a self-owner OrgMember
// together: if the membership insert fails, the organization row is deleted
// again, so the call leaves either both rows or neither, per spec.md §4.3.3.
func (s *Service) CreateOrganization(ctx context.Context, ownerUserID, name, displayName string) (*store.Organization, error) {
	if _, err := s.store.GetUserByID(ctx, ownerUserID); err != nil {
		return nil, err
	}

	now := time.Now()
	org := &store.Organization{
		ID:          uuid.New().String(),
		Name:        name,
		DisplayName: displayName,
		OwnerUserID: ownerUserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateOrganization(ctx, org); err != nil {
		return nil, err
	}

	if err := s.store.CreateOrgMember(ctx, &store.OrgMember{
		OrgID: org.ID, UserID: ownerUserID, Role: "owner", JoinedAt: now,
	}); err != nil {
		_ = s.store.DeleteOrganization(ctx, org.ID)
		return nil, err
	}

	s.bus.Publish(EventOrgCreated, org)
	return org, nil
}

// InviteMember adds userID to orgID with role. Inviting someone directly as
// "owner" is forbidden — ownership only transfers via TransferOwnership
// (not modeled; out of spec scope), per spec.md §4.3.3.
func (s *Service) InviteMember(ctx context.Context, orgID, userID, role string) (*store.OrgMember, error) {
	if role == "owner" {
		return nil, apperr.New(apperr.Forbidden, "cannot invite a member directly as owner")
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}

	m := &store.OrgMember{OrgID: orgID, UserID: userID, Role: role, JoinedAt: time.Now()}
	if err := s.store.CreateOrgMember(ctx, m); err != nil {
		return nil, err
	}
	s.bus.Publish(EventPermissionGranted, m)
	return m, nil
}

// PromoteMember changes a member's role within an org. A role change to or
// from "owner" is forbidden both ways, per spec.md §4.3.3 invariant I4.
func (s *Service) PromoteMember(ctx context.Context, orgID, userID, newRole string) error {
	if newRole == "owner" {
		return apperr.New(apperr.Forbidden, "promotion to owner is forbidden")
	}
	member, err := s.store.GetOrgMember(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if member.Role == "owner" {
		return apperr.New(apperr.Forbidden, "demoting the org owner is forbidden")
	}
	return s.store.UpdateOrgMemberRole(ctx, orgID, userID, newRole)
}

// RemoveMember removes userID from orgID. Removing the owner is forbidden,
// per spec.md §4.3.3.
func (s *Service) RemoveMember(ctx context.Context, orgID, userID string) error {
	member, err := s.store.GetOrgMember(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if member.Role == "owner" {
		return apperr.New(apperr.Forbidden, "removing the org owner is forbidden")
	}
	if err := s.store.DeleteOrgMember(ctx, orgID, userID); err != nil {
		return err
	}
	s.bus.Publish(EventPermissionRevoked, member)
	return nil
}

// CreateTeam creates a team under orgID. The caller must already hold
// "teams.create" on the org (enforced by the caller via HasPermission,
// per spec.md §4.3.3 — AuthCore does not re-derive the caller's identity
// here, it trusts the boundary layer already gated the call).
func (s *Service) CreateTeam(ctx context.Context, orgID, name, description string) (*store.Team, error) {
	if _, err := s.store.GetOrganization(ctx, orgID); err != nil {
		return nil, err
	}
	team := &store.Team{ID: uuid.New().String(), OrgID: orgID, Name: name, Description: description}
	if err := s.store.CreateTeam(ctx, team); err != nil {
		return nil, err
	}
	return team, nil
}

// AddTeamMember adds userID to teamID. The user must already be an
// OrgMember of the team's parent org, per spec.md §4.3.3.
func (s *Service) AddTeamMember(ctx context.Context, teamID, userID, role string) (*store.TeamMember, error) {
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetOrgMember(ctx, team.OrgID, userID); err != nil {
		return nil, apperr.Wrap(apperr.InvalidState, "user must be an org member before joining a team", err)
	}

	tm := &store.TeamMember{TeamID: teamID, UserID: userID, Role: role, JoinedAt: time.Now()}
	if err := s.store.CreateTeamMember(ctx, tm); err != nil {
		return nil, err
	}
	return tm, nil
}
