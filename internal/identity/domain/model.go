// Package domain contains the user identity model and contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// User is a registered principal, keyed externally by the auth
// provider's subject.
type User struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	ExternalID string            `gorm:"type:text;not null;uniqueIndex:ux_users_external_id" json:"external_id"`
	Username   string            `gorm:"type:text;not null;uniqueIndex:ux_users_username" json:"username"`
	Email      string            `gorm:"type:text" json:"email"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt  *time.Time        `gorm:"index" json:"deleted_at,omitempty"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// IsDeleted reports whether the user has been soft-deleted. A deleted
// user cannot own or join organizations.
func (u *User) IsDeleted() bool {
	return u.DeletedAt != nil
}
