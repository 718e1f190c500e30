package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ListFilter selects membership rows for the paginated listing.
type ListFilter struct {
	Statuses []Status
	Offset   int
	Limit    int
}

// MemberWithUser is one row of the joined member listing. The user_*
// columns are nil for username-only invitations with no registered user.
type MemberWithUser struct {
	ID             snowflake.ID  `gorm:"column:id"`
	OrgID          snowflake.ID  `gorm:"column:org_id"`
	UserID         *snowflake.ID `gorm:"column:user_id"`
	Username       string        `gorm:"column:username"`
	RoleCode       string        `gorm:"column:role_code"`
	InvitedAt      *time.Time    `gorm:"column:invited_at"`
	JoinedAt       *time.Time    `gorm:"column:joined_at"`
	LeftAt         *time.Time    `gorm:"column:left_at"`
	DeletedAt      *time.Time    `gorm:"column:deleted_at"`
	CreatedAt      time.Time     `gorm:"column:created_at"`
	UpdatedAt      time.Time     `gorm:"column:updated_at"`
	UserRowID      *snowflake.ID `gorm:"column:user_row_id"`
	UserExternalID *string       `gorm:"column:user_external_id"`
	UserEmail      *string       `gorm:"column:user_email"`
	UserDeletedAt  *time.Time    `gorm:"column:user_deleted_at"`
}

// Status derives the row's lifecycle state.
func (m *MemberWithUser) Status() Status {
	return DeriveStatus(m.JoinedAt, m.LeftAt, m.DeletedAt)
}

// Repository persists memberships. Lookup methods return (nil, nil)
// when no row matches.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, m *OrganizationMembership) error
	Update(ctx context.Context, m *OrganizationMembership) error
	FindByID(ctx context.Context, id snowflake.ID) (*OrganizationMembership, error)
	FindByUserAndOrg(ctx context.Context, userID, orgID snowflake.ID) (*OrganizationMembership, error)
	// FindByUsernameAndOrg returns the most recent membership row for the
	// username in the organization, regardless of state.
	FindByUsernameAndOrg(ctx context.Context, username string, orgID snowflake.ID) (*OrganizationMembership, error)
	// FindLiveByUsernameAndOrg returns the row currently occupying the
	// username slot (not left, not removed), if any.
	FindLiveByUsernameAndOrg(ctx context.Context, username string, orgID snowflake.ID) (*OrganizationMembership, error)
	FindByUser(ctx context.Context, userID snowflake.ID) ([]OrganizationMembership, error)
	// ListByOrganizationWithUsers returns a page of memberships joined
	// with user records, ordered by created_at ascending, plus the
	// unpaginated total for the same filter.
	ListByOrganizationWithUsers(ctx context.Context, orgID snowflake.ID, filter ListFilter) ([]MemberWithUser, int64, error)
	// LinkUsernameMemberships attaches rows invited by username only to
	// the user id that registered that username.
	LinkUsernameMemberships(ctx context.Context, username string, userID snowflake.ID) error
	// CountOwners counts live owner-role memberships in the organization.
	CountOwners(ctx context.Context, orgID snowflake.ID) (int64, error)
}
