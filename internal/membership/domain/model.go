// Package domain contains the membership state machine: the join entity
// linking users to organizations with a role and temporal status.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Status is the derived lifecycle state of a membership. It is never
// stored; it is always recomputed from the four timestamp fields.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusLeft    Status = "left"
	StatusRemoved Status = "removed"
)

// OrganizationMembership links a user to an organization. UserID is nil
// for a pending invitation addressed by username only; it is populated
// when that username registers. Rows are never physically deleted.
type OrganizationMembership struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID      `gorm:"column:org_id;not null;index" json:"org_id"`
	UserID    *snowflake.ID     `gorm:"column:user_id;index" json:"user_id,omitempty"`
	Username  string            `gorm:"type:text;not null;index" json:"username"`
	RoleCode  string            `gorm:"column:role_code;type:text;not null" json:"role_code"`
	InvitedAt *time.Time        `gorm:"column:invited_at" json:"invited_at,omitempty"`
	JoinedAt  *time.Time        `gorm:"column:joined_at" json:"joined_at,omitempty"`
	LeftAt    *time.Time        `gorm:"column:left_at" json:"left_at,omitempty"`
	DeletedAt *time.Time        `gorm:"column:deleted_at" json:"deleted_at,omitempty"`
	Metadata  datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (OrganizationMembership) TableName() string { return "organization_memberships" }

// Status derives the lifecycle state from the timestamp fields.
func (m *OrganizationMembership) Status() Status {
	return DeriveStatus(m.JoinedAt, m.LeftAt, m.DeletedAt)
}

// DeriveStatus computes the lifecycle state from the timestamp markers.
// Removal wins over every other marker; a left membership stays left
// until a fresh add reactivates it. This is the only place the
// derivation lives.
func DeriveStatus(joinedAt, leftAt, deletedAt *time.Time) Status {
	switch {
	case deletedAt != nil:
		return StatusRemoved
	case leftAt != nil:
		return StatusLeft
	case joinedAt != nil:
		return StatusActive
	default:
		return StatusPending
	}
}

// IsActive reports whether the membership is joined, not left, not removed.
func (m *OrganizationMembership) IsActive() bool {
	return m.Status() == StatusActive
}

// IsAdmin reports whether the membership grants admin privileges right now.
func (m *OrganizationMembership) IsAdmin() bool {
	return m.IsActive() && m.RoleCode == RoleAdmin
}

// IsLive reports whether the row still occupies the per-organization
// username slot: not left and not removed. At most one live row may
// exist per (org, username) pair.
func (m *OrganizationMembership) IsLive() bool {
	return m.DeletedAt == nil && m.LeftAt == nil
}

// ValidRole reports whether code is a known role code.
func ValidRole(code string) bool {
	switch code {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	default:
		return false
	}
}
