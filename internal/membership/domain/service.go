package domain

import (
	"context"
	"errors"
	"time"

	"github.com/tenantry/tenantry/pkg/db/pagination"
)

// Service exposes the membership lifecycle use cases. Every method takes
// the acting principal's external id; resolution to a user and all
// authorization happen inside the use case.
type Service interface {
	// AddMember invites or directly adds a user by username. A left or
	// removed membership is reactivated rather than duplicated.
	AddMember(ctx context.Context, externalID, orgID string, req AddMemberRequest) (*MemberResponse, error)
	// AcceptInvitation moves the caller's pending membership to active.
	AcceptInvitation(ctx context.Context, externalID, orgID string) (*MemberResponse, error)
	// UpdateRole changes a member's role. Owner role cannot be granted or
	// revoked here; ownership moves only via organization transfer.
	UpdateRole(ctx context.Context, externalID, orgID, userID string, req UpdateRoleRequest) (*MemberResponse, error)
	// Leave marks the caller's own membership as left. Owners must
	// transfer ownership first.
	Leave(ctx context.Context, externalID, orgID string) error
	// Remove force-removes a member.
	Remove(ctx context.Context, externalID, orgID, userID string) error
	// List returns a page of members with joined user data. Plain active
	// members only ever see active peers, whatever filter they request.
	List(ctx context.Context, externalID, orgID string, req ListMembersRequest) (*ListMembersResponse, error)
}

type AddMemberRequest struct {
	Username string
	RoleCode string
	// Invite creates a pending membership awaiting acceptance instead of
	// an immediately active one.
	Invite bool
}

type UpdateRoleRequest struct {
	RoleCode string
}

type ListMembersRequest struct {
	pagination.Page
	IncludeActive  *bool
	IncludePending *bool
	IncludeRemoved *bool
}

// MemberUser is the nested user portion of a listing row. Synthesized as
// a shell (id empty, registered false) for username-only invitations.
type MemberUser struct {
	ID         string `json:"id,omitempty"`
	Username   string `json:"username"`
	Email      string `json:"email,omitempty"`
	Registered bool   `json:"registered"`
}

// MemberOrganization is the nested organization portion of a listing row.
type MemberOrganization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type MemberResponse struct {
	ID           string              `json:"id"`
	UserID       string              `json:"user_id,omitempty"`
	Username     string              `json:"username"`
	RoleCode     string              `json:"role_code"`
	Status       Status              `json:"status"`
	InvitedAt    *time.Time          `json:"invited_at,omitempty"`
	JoinedAt     *time.Time          `json:"joined_at,omitempty"`
	LeftAt       *time.Time          `json:"left_at,omitempty"`
	RemovedAt    *time.Time          `json:"removed_at,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	User         *MemberUser         `json:"user,omitempty"`
	Organization *MemberOrganization `json:"organization,omitempty"`
}

type ListMembersResponse struct {
	Items      []MemberResponse    `json:"items"`
	Pagination pagination.PageInfo `json:"pagination"`
}

var (
	ErrInvalidOrganization      = errors.New("invalid_organization")
	ErrInvalidUsername          = errors.New("invalid_username")
	ErrInvalidRole              = errors.New("invalid_role")
	ErrInvalidMember            = errors.New("invalid_member")
	ErrMemberExists             = errors.New("member_exists")
	ErrMembershipNotFound       = errors.New("membership_not_found")
	ErrNoPendingInvitation      = errors.New("no_pending_invitation")
	ErrOwnerCannotLeave         = errors.New("owner_cannot_leave")
	ErrMembershipNotActive      = errors.New("membership_not_active")
	ErrMembershipAlreadyRemoved = errors.New("membership_already_removed")
	ErrOwnerRoleImmutable       = errors.New("owner_role_immutable")
	ErrCannotRemoveOwner        = errors.New("cannot_remove_owner")
)
