package domain

import (
	"context"

	"gorm.io/gorm"
)

// Repository persists audit entries. It takes the db handle per call so
// callers can pass a transaction when an entry must commit atomically
// with the write it records.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}
