package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// OrganizationListItem is one row of a user's organization listing.
type OrganizationListItem struct {
	ID        snowflake.ID
	Name      string
	Slug      string
	RoleCode  string
	CreatedAt time.Time
}

// Repository persists organizations. FindByID returns (nil, nil) when
// no row matches; soft-deleted rows are still returned so use cases can
// distinguish deleted from absent.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, org *Organization) error
	Update(ctx context.Context, org *Organization) error
	FindByID(ctx context.Context, id snowflake.ID) (*Organization, error)
	// ListByUser returns organizations where the user holds an active
	// membership, ordered by creation time.
	ListByUser(ctx context.Context, userID snowflake.ID) ([]OrganizationListItem, error)
}
