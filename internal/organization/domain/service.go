package domain

import (
	"context"
	"errors"
	"time"
)

// Service exposes the organization lifecycle use cases. Every method
// takes the acting principal's external id.
type Service interface {
	// Create opens a new organization; the caller becomes owner and an
	// active owner membership is written in the same transaction.
	Create(ctx context.Context, externalID string, req CreateOrganizationRequest) (*OrganizationResponse, error)
	Get(ctx context.Context, externalID, orgID string) (*OrganizationResponse, error)
	Update(ctx context.Context, externalID, orgID string, req UpdateOrganizationRequest) (*OrganizationResponse, error)
	// Archive parks the organization; memberships are left untouched so a
	// later restore brings back the exact member state.
	Archive(ctx context.Context, externalID, orgID string) error
	// Restore un-archives. Owner only, and the owner must not be deleted.
	Restore(ctx context.Context, externalID, orgID string) error
	// Delete soft-deletes. Owner only, stricter than archive. Memberships
	// are deliberately not cascaded.
	Delete(ctx context.Context, externalID, orgID string) error
	// TransferOwnership atomically moves the owner pointer and swaps the
	// two parties' membership roles.
	TransferOwnership(ctx context.Context, externalID, orgID string, req TransferOwnershipRequest) error
	ListByUser(ctx context.Context, externalID string) ([]OrganizationListResponseItem, error)
}

type CreateOrganizationRequest struct {
	Name string
}

type UpdateOrganizationRequest struct {
	Name     string
	Metadata map[string]any
}

type TransferOwnershipRequest struct {
	NewOwnerUserID string
}

type OrganizationResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Slug        string     `json:"slug"`
	OwnerUserID string     `json:"owner_user_id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
}

type OrganizationListResponseItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	RoleCode  string    `json:"role_code"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	ErrInvalidName             = errors.New("invalid_name")
	ErrInvalidOrganization     = errors.New("invalid_organization")
	ErrInvalidNewOwner         = errors.New("invalid_new_owner")
	ErrOrganizationNotFound    = errors.New("organization_not_found")
	ErrOrganizationDeleted     = errors.New("organization_deleted")
	ErrOrganizationArchived    = errors.New("organization_archived")
	ErrOrganizationNotArchived = errors.New("organization_not_archived")
	ErrOwnerDeleted            = errors.New("owner_deleted")
	ErrNotCurrentOwner         = errors.New("not_current_owner")
	ErrSameOwner               = errors.New("same_owner")
	ErrNewOwnerDeleted         = errors.New("new_owner_deleted")
	ErrOwnerNotActiveMember    = errors.New("owner_not_active_member")
	ErrNewOwnerNotActiveMember = errors.New("new_owner_not_active_member")
)
