// Package authorization decides, per organization, whether a user may
// perform an operation. Roles are never read from the request: the
// effective role is derived from the organization's owner pointer and
// the caller's live membership at decision time.
package authorization

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

const (
	ObjectOrganization = "organization"
	ObjectMember       = "member"
	ObjectAuditLog     = "audit_log"
)

const (
	ActionOrganizationView     = "organization.view"
	ActionOrganizationUpdate   = "organization.update"
	ActionOrganizationArchive  = "organization.archive"
	ActionOrganizationRestore  = "organization.restore"
	ActionOrganizationDelete   = "organization.delete"
	ActionOrganizationTransfer = "organization.transfer_ownership"

	ActionMemberList       = "member.list"
	ActionMemberAdd        = "member.add"
	ActionMemberUpdateRole = "member.update_role"
	ActionMemberRemove     = "member.remove"

	ActionAuditLogView = "audit_log.view"
)

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type Service interface {
	// Authorize returns nil when the user may perform the action in the
	// organization, ErrPermissionDenied otherwise.
	Authorize(ctx context.Context, userID, orgID snowflake.ID, object, action string) error
	// EffectiveRole resolves the user's role in the organization: owner
	// when the org's owner pointer matches, otherwise the role of the
	// user's active membership. Returns ErrPermissionDenied when the user
	// has no active standing.
	EffectiveRole(ctx context.Context, userID, orgID snowflake.ID) (string, error)
}

var (
	ErrPermissionDenied    = errors.New("permission_denied")
	ErrInvalidActor        = errors.New("invalid_actor")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidObject       = errors.New("invalid_object")
	ErrInvalidAction       = errors.New("invalid_action")
)
