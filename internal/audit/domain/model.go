// Package domain contains the audit trail model and contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSystem ActorType = "system"
)

// Audit actions recorded by the write use cases. Every mutation writes
// exactly one entry after its transaction commits.
const (
	ActionRegisterUser = "REGISTER_USER"

	ActionCreateOrganization  = "CREATE_ORGANIZATION"
	ActionUpdateOrganization  = "UPDATE_ORGANIZATION"
	ActionArchiveOrganization = "ARCHIVE_ORGANIZATION"
	ActionRestoreOrganization = "RESTORE_ORGANIZATION"
	ActionDeleteOrganization  = "DELETE_ORGANIZATION"
	ActionTransferOwnership   = "TRANSFER_ORGANIZATION_OWNERSHIP"

	ActionAddMember         = "ADD_ORGANIZATION_MEMBER"
	ActionAcceptInvitation  = "ACCEPT_ORGANIZATION_INVITATION"
	ActionUpdateMemberRole  = "UPDATE_ORGANIZATION_MEMBER_ROLE"
	ActionLeaveOrganization = "LEAVE_ORGANIZATION"
	ActionRemoveMember      = "REMOVE_ORGANIZATION_MEMBER"

	ActionAuthorizationDenied = "AUTHORIZATION_DENIED"
)

type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID      *snowflake.ID     `gorm:"column:org_id;index" json:"org_id,omitempty"`
	ActorType  string            `gorm:"column:actor_type;not null" json:"actor_type"`
	ActorID    *string           `gorm:"column:actor_id" json:"actor_id,omitempty"`
	Action     string            `gorm:"column:action;not null;index" json:"action"`
	TargetType string            `gorm:"column:target_type;not null" json:"target_type"`
	TargetID   *string           `gorm:"column:target_id" json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	IPAddress  *string           `gorm:"column:ip_address" json:"ip_address,omitempty"`
	UserAgent  *string           `gorm:"column:user_agent" json:"user_agent,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;index" json:"created_at"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }

// AuditCursor is the keyset position for backwards pagination.
type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

// ListFilter selects audit rows, newest first.
type ListFilter struct {
	OrgID      snowflake.ID
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}
