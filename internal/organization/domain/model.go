// Package domain contains the organization model and contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Organization represents a tenant. Exactly one owner at any time;
// ownership moves only through the transfer use case. ArchivedAt and
// DeletedAt are mutually exclusive lifecycle markers.
type Organization struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name        string            `gorm:"type:text;not null" json:"name"`
	Slug        string            `gorm:"type:text;not null;uniqueIndex:ux_organizations_slug" json:"slug"`
	OwnerUserID snowflake.ID      `gorm:"column:owner_user_id;not null;index" json:"owner_user_id"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	ArchivedAt  *time.Time        `gorm:"column:archived_at" json:"archived_at,omitempty"`
	DeletedAt   *time.Time        `gorm:"column:deleted_at" json:"deleted_at,omitempty"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

// IsArchived reports whether the organization is archived (restorable).
func (o *Organization) IsArchived() bool {
	return o.ArchivedAt != nil
}

// IsDeleted reports whether the organization is soft-deleted. Deleted
// organizations cannot be archived, restored, or transferred.
func (o *Organization) IsDeleted() bool {
	return o.DeletedAt != nil
}
