package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/tenantry/tenantry/internal/membership/domain"
	"gorm.io/gorm"
)

// Status predicates over the nullable timestamp columns. These mirror
// domain.DeriveStatus so SQL-side filtering and Go-side derivation can
// never disagree. Columns carry the m alias because the listing query
// joins users, which has its own deleted_at.
const (
	predActive  = "(m.joined_at IS NOT NULL AND m.left_at IS NULL AND m.deleted_at IS NULL)"
	predPending = "(m.invited_at IS NOT NULL AND m.joined_at IS NULL AND m.left_at IS NULL AND m.deleted_at IS NULL)"
	predLeft    = "(m.left_at IS NOT NULL AND m.deleted_at IS NULL)"
	predRemoved = "(m.deleted_at IS NOT NULL)"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) Insert(ctx context.Context, m *domain.OrganizationMembership) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *repository) Update(ctx context.Context, m *domain.OrganizationMembership) error {
	return r.db.WithContext(ctx).Save(m).Error
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*domain.OrganizationMembership, error) {
	return r.findOne(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *repository) FindByUserAndOrg(ctx context.Context, userID, orgID snowflake.ID) (*domain.OrganizationMembership, error) {
	q := r.db.WithContext(ctx).
		Where("user_id = ? AND org_id = ?", userID, orgID).
		Order("created_at DESC")
	return r.findOne(q)
}

func (r *repository) FindByUsernameAndOrg(ctx context.Context, username string, orgID snowflake.ID) (*domain.OrganizationMembership, error) {
	q := r.db.WithContext(ctx).
		Where("username = ? AND org_id = ?", username, orgID).
		Order("created_at DESC")
	return r.findOne(q)
}

func (r *repository) FindLiveByUsernameAndOrg(ctx context.Context, username string, orgID snowflake.ID) (*domain.OrganizationMembership, error) {
	q := r.db.WithContext(ctx).
		Where("username = ? AND org_id = ?", username, orgID).
		Where("left_at IS NULL AND deleted_at IS NULL")
	return r.findOne(q)
}

func (r *repository) FindByUser(ctx context.Context, userID snowflake.ID) ([]domain.OrganizationMembership, error) {
	var rows []domain.OrganizationMembership
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListByOrganizationWithUsers(ctx context.Context, orgID snowflake.ID, filter domain.ListFilter) ([]domain.MemberWithUser, int64, error) {
	base := r.db.WithContext(ctx).
		Table("organization_memberships m").
		Where("m.org_id = ?", orgID)
	if pred := statusPredicate(filter.Statuses); pred != "" {
		base = base.Where(pred)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []domain.MemberWithUser
	err := base.Session(&gorm.Session{}).
		Select(`m.id, m.org_id, m.user_id, m.username, m.role_code,
			m.invited_at, m.joined_at, m.left_at, m.deleted_at,
			m.created_at, m.updated_at,
			u.id AS user_row_id, u.external_id AS user_external_id,
			u.email AS user_email, u.deleted_at AS user_deleted_at`).
		Joins("LEFT JOIN users u ON u.username = m.username").
		Order("m.created_at ASC").
		Offset(filter.Offset).
		Limit(filter.Limit).
		Scan(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (r *repository) LinkUsernameMemberships(ctx context.Context, username string, userID snowflake.ID) error {
	return r.db.WithContext(ctx).
		Model(&domain.OrganizationMembership{}).
		Where("username = ? AND user_id IS NULL", username).
		Update("user_id", userID).Error
}

func (r *repository) CountOwners(ctx context.Context, orgID snowflake.ID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.OrganizationMembership{}).
		Where("org_id = ? AND role_code = ?", orgID, domain.RoleOwner).
		Where("left_at IS NULL AND deleted_at IS NULL").
		Count(&count).Error
	return count, err
}

func (r *repository) findOne(q *gorm.DB) (*domain.OrganizationMembership, error) {
	var m domain.OrganizationMembership
	err := q.First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// statusPredicate builds the WHERE clause for the requested statuses.
// An empty or all-status filter yields no predicate.
func statusPredicate(statuses []domain.Status) string {
	if len(statuses) == 0 {
		return ""
	}
	preds := make([]string, 0, len(statuses))
	for _, s := range statuses {
		switch s {
		case domain.StatusActive:
			preds = append(preds, predActive)
		case domain.StatusPending:
			preds = append(preds, predPending)
		case domain.StatusLeft:
			preds = append(preds, predLeft)
		case domain.StatusRemoved:
			preds = append(preds, predRemoved)
		}
	}
	if len(preds) == 0 {
		return ""
	}
	return "(" + strings.Join(preds, " OR ") + ")"
}
