package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/tenantry/tenantry/internal/audit/domain"
	"github.com/tenantry/tenantry/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
	Metrics  *metrics.Metrics    `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
	metrics  *metrics.Metrics
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, userID, orgID snowflake.ID, object string, action string) error {
	if userID == 0 {
		return ErrInvalidActor
	}
	if orgID == 0 {
		return ErrInvalidOrganization
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	role, err := s.EffectiveRole(ctx, userID, orgID)
	if err != nil {
		s.record(ctx, userID, orgID, object, action, "denied")
		return err
	}

	subject := fmt.Sprintf("user:%s", userID)
	roleName := fmt.Sprintf("role:%s", role)
	domain := fmt.Sprintf("org:%s", orgID)
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.record(ctx, userID, orgID, object, action, "denied")
		return ErrPermissionDenied
	}

	s.record(ctx, userID, orgID, object, action, "granted")
	return nil
}

func (s *ServiceImpl) EffectiveRole(ctx context.Context, userID, orgID snowflake.ID) (string, error) {
	var owner struct {
		OwnerUserID snowflake.ID `gorm:"column:owner_user_id"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT owner_user_id
		 FROM organizations
		 WHERE id = ? AND deleted_at IS NULL`,
		orgID,
	).Scan(&owner).Error; err != nil {
		return "", err
	}
	if owner.OwnerUserID != 0 && owner.OwnerUserID == userID {
		return RoleOwner, nil
	}

	var row struct {
		RoleCode string `gorm:"column:role_code"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role_code
		 FROM organization_memberships
		 WHERE org_id = ? AND user_id = ?
		   AND joined_at IS NOT NULL AND left_at IS NULL AND deleted_at IS NULL
		 LIMIT 1`,
		orgID,
		userID,
	).Scan(&row).Error; err != nil {
		return "", err
	}

	role := strings.ToLower(strings.TrimSpace(row.RoleCode))
	if role == "" {
		return "", ErrPermissionDenied
	}
	return role, nil
}

// ensureGrouping keeps the subject's grouping in the domain in sync with
// the role resolved from the database, replacing any stale grouping left
// over from a role change or ownership transfer.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) record(ctx context.Context, userID, orgID snowflake.ID, object string, action string, decision string) {
	if s.metrics != nil {
		s.metrics.RecordAuthzDecision(ctx, action, decision)
	}
	if decision != "denied" || s.auditSvc == nil {
		return
	}
	actorID := userID.String()
	targetID := object
	_ = s.auditSvc.AuditLog(ctx, &orgID, string(auditdomain.ActorTypeUser), &actorID, auditdomain.ActionAuthorizationDenied, "authorization", &targetID, map[string]any{
		"object": object,
		"action": action,
	})
}

// Policies are flattened per role rather than chained through role
// inheritance, so a single enforcer lookup answers each decision.
func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Any active member may look around.
		{"role:member", ObjectOrganization, ActionOrganizationView},
		{"role:member", ObjectMember, ActionMemberList},

		// Admins manage the roster and the organization profile.
		{"role:admin", ObjectOrganization, ActionOrganizationView},
		{"role:admin", ObjectOrganization, ActionOrganizationUpdate},
		{"role:admin", ObjectOrganization, ActionOrganizationArchive},
		{"role:admin", ObjectMember, ActionMemberList},
		{"role:admin", ObjectMember, ActionMemberAdd},
		{"role:admin", ObjectMember, ActionMemberUpdateRole},
		{"role:admin", ObjectMember, ActionMemberRemove},
		{"role:admin", ObjectAuditLog, ActionAuditLogView},

		// Owners additionally control the organization lifecycle.
		{"role:owner", ObjectOrganization, ActionOrganizationView},
		{"role:owner", ObjectOrganization, ActionOrganizationUpdate},
		{"role:owner", ObjectOrganization, ActionOrganizationArchive},
		{"role:owner", ObjectOrganization, ActionOrganizationRestore},
		{"role:owner", ObjectOrganization, ActionOrganizationDelete},
		{"role:owner", ObjectOrganization, ActionOrganizationTransfer},
		{"role:owner", ObjectMember, ActionMemberList},
		{"role:owner", ObjectMember, ActionMemberAdd},
		{"role:owner", ObjectMember, ActionMemberUpdateRole},
		{"role:owner", ObjectMember, ActionMemberRemove},
		{"role:owner", ObjectAuditLog, ActionAuditLogView},
	}

	for _, policy := range policies {
		if len(policy) < 3 {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
