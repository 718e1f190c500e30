package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/tenantry/tenantry/internal/audit/domain"
	"github.com/tenantry/tenantry/internal/authorization"
	"github.com/tenantry/tenantry/internal/clock"
	"github.com/tenantry/tenantry/internal/config"
	identitydomain "github.com/tenantry/tenantry/internal/identity/domain"
	"github.com/tenantry/tenantry/internal/membership/domain"
	"github.com/tenantry/tenantry/internal/observability/metrics"
	orgdomain "github.com/tenantry/tenantry/internal/organization/domain"
	"github.com/tenantry/tenantry/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Policy       *config.MembershipPolicyHolder
	Repo         domain.Repository
	OrgRepo      orgdomain.Repository
	IdentityRepo identitydomain.Repository
	IdentitySvc  identitydomain.Service
	AuthzSvc     authorization.Service
	AuditSvc     auditdomain.Service `optional:"true"`
	Metrics      *metrics.Metrics    `optional:"true"`
}

type service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	policy       *config.MembershipPolicyHolder
	repo         domain.Repository
	orgRepo      orgdomain.Repository
	identityRepo identitydomain.Repository
	identitySvc  identitydomain.Service
	authzSvc     authorization.Service
	auditSvc     auditdomain.Service
	metrics      *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &service{
		db:           p.DB,
		log:          p.Log.Named("membership.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		policy:       p.Policy,
		repo:         p.Repo,
		orgRepo:      p.OrgRepo,
		identityRepo: p.IdentityRepo,
		identitySvc:  p.IdentitySvc,
		authzSvc:     p.AuthzSvc,
		auditSvc:     p.AuditSvc,
		metrics:      p.Metrics,
	}
}

func (s *service) AddMember(ctx context.Context, externalID, orgID string, req domain.AddMemberRequest) (*domain.MemberResponse, error) {
	actor, org, err := s.load(ctx, externalID, orgID)
	if err != nil {
		return nil, err
	}
	if err := s.authzSvc.Authorize(ctx, actor.ID, org.ID, authorization.ObjectMember, authorization.ActionMemberAdd); err != nil {
		return nil, err
	}
	if org.IsArchived() {
		return nil, orgdomain.ErrOrganizationArchived
	}

	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" {
		return nil, domain.ErrInvalidUsername
	}
	role := strings.ToLower(strings.TrimSpace(req.RoleCode))
	if role == "" {
		role = domain.RoleMember
	}
	if !s.assignableRole(role) {
		return nil, domain.ErrInvalidRole
	}

	// The username may not belong to a registered user yet; the row is
	// linked when that username registers.
	target, err := s.identityRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if target != nil && target.IsDeleted() {
		return nil, domain.ErrInvalidUsername
	}

	now := s.clock.Now().UTC()
	var membership *domain.OrganizationMembership

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		existing, err := repo.FindByUsernameAndOrg(ctx, username, org.ID)
		if err != nil {
			return err
		}
		if existing != nil && existing.IsLive() {
			return domain.ErrMemberExists
		}

		if existing != nil {
			// A left or removed row is reactivated in place rather than
			// duplicated, preserving its history timestamps in metadata.
			existing.LeftAt = nil
			existing.DeletedAt = nil
			existing.InvitedAt = &now
			existing.JoinedAt = nil
			if !req.Invite {
				existing.JoinedAt = &now
			}
			existing.RoleCode = role
			if existing.UserID == nil && target != nil {
				existing.UserID = &target.ID
			}
			membership = existing
			return repo.Update(ctx, existing)
		}

		membership = &domain.OrganizationMembership{
			ID:        s.genID.Generate(),
			OrgID:     org.ID,
			Username:  username,
			RoleCode:  role,
			InvitedAt: &now,
			Metadata:  datatypes.JSONMap{},
		}
		if !req.Invite {
			membership.JoinedAt = &now
		}
		if target != nil {
			membership.UserID = &target.ID
		}
		return repo.Insert(ctx, membership)
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition(ctx, "add_member", membership)
	s.audit(ctx, org, actor.ID, auditdomain.ActionAddMember, membership, map[string]any{
		"username":  username,
		"role_code": role,
		"invited":   req.Invite,
	})
	return s.toResponse(membership, org, target), nil
}

func (s *service) AcceptInvitation(ctx context.Context, externalID, orgID string) (*domain.MemberResponse, error) {
	actor, org, err := s.load(ctx, externalID, orgID)
	if err != nil {
		return nil, err
	}
	if org.IsArchived() {
		return nil, orgdomain.ErrOrganizationArchived
	}

	now := s.clock.Now().UTC()
	var membership *domain.OrganizationMembership

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		m, err := repo.FindByUserAndOrg(ctx, actor.ID, org.ID)
		if err != nil {
			return err
		}
		if m == nil {
			// Invitations created before the user registered are keyed by
			// username only.
			m, err = repo.FindLiveByUsernameAndOrg(ctx, actor.Username, org.ID)
			if err != nil {
				return err
			}
		}
		if m == nil {
			return domain.ErrMembershipNotFound
		}
		if m.Status() != domain.StatusPending {
			return domain.ErrNoPendingInvitation
		}

		m.JoinedAt = &now
		if m.UserID == nil {
			m.UserID = &actor.ID
		}
		membership = m
		return repo.Update(ctx, m)
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition(ctx, "accept_invitation", membership)
	s.audit(ctx, org, actor.ID, auditdomain.ActionAcceptInvitation, membership, nil)
	return s.toResponse(membership, org, actor), nil
}

func (s *service) UpdateRole(ctx context.Context, externalID, orgID, userID string, req domain.UpdateRoleRequest) (*domain.MemberResponse, error) {
	actor, org, err := s.load(ctx, externalID, orgID)
	if err != nil {
		return nil, err
	}
	if err := s.authzSvc.Authorize(ctx, actor.ID, org.ID, authorization.ObjectMember, authorization.ActionMemberUpdateRole); err != nil {
		return nil, err
	}
	if org.IsArchived() {
		return nil, orgdomain.ErrOrganizationArchived
	}

	targetID, err := snowflake.ParseString(strings.TrimSpace(userID))
	if err != nil || targetID == 0 {
		return nil, domain.ErrInvalidMember
	}
	role := strings.ToLower(strings.TrimSpace(req.RoleCode))
	if role == domain.RoleOwner {
		// Ownership moves only through the transfer use case.
		return nil, domain.ErrOwnerRoleImmutable
	}
	if !s.assignableRole(role) {
		return nil, domain.ErrInvalidRole
	}

	membership, err := s.repo.FindByUserAndOrg(ctx, targetID, org.ID)
	if err != nil {
		return nil, err
	}
	if membership == nil {
		return nil, domain.ErrMembershipNotFound
	}
	if !membership.IsActive() {
		return nil, domain.ErrMembershipNotActive
	}
	if targetID == org.OwnerUserID || membership.RoleCode == domain.RoleOwner {
		return nil, domain.ErrOwnerRoleImmutable
	}

	membership.RoleCode = role
	if err := s.repo.Update(ctx, membership); err != nil {
		return nil, err
	}

	s.audit(ctx, org, actor.ID, auditdomain.ActionUpdateMemberRole, membership, map[string]any{
		"role_code": role,
	})
	return s.toResponse(membership, org, nil), nil
}

func (s *service) Leave(ctx context.Context, externalID, orgID string) error {
	actor, org, err := s.load(ctx, externalID, orgID)
	if err != nil {
		return err
	}

	membership, err := s.repo.FindByUserAndOrg(ctx, actor.ID, org.ID)
	if err != nil {
		return err
	}
	if membership == nil {
		return domain.ErrMembershipNotFound
	}
	if !membership.IsActive() {
		return domain.ErrMembershipNotActive
	}
	if actor.ID == org.OwnerUserID || membership.RoleCode == domain.RoleOwner {
		// The organization must never be left ownerless.
		return domain.ErrOwnerCannotLeave
	}

	now := s.clock.Now().UTC()
	membership.LeftAt = &now
	if err := s.repo.Update(ctx, membership); err != nil {
		return err
	}

	s.recordTransition(ctx, "leave", membership)
	s.audit(ctx, org, actor.ID, auditdomain.ActionLeaveOrganization, membership, nil)
	return nil
}

func (s *service) Remove(ctx context.Context, externalID, orgID, userID string) error {
	actor, org, err := s.load(ctx, externalID, orgID)
	if err != nil {
		return err
	}
	if err := s.authzSvc.Authorize(ctx, actor.ID, org.ID, authorization.ObjectMember, authorization.ActionMemberRemove); err != nil {
		return err
	}

	targetID, err := snowflake.ParseString(strings.TrimSpace(userID))
	if err != nil || targetID == 0 {
		return domain.ErrInvalidMember
	}

	membership, err := s.repo.FindByUserAndOrg(ctx, targetID, org.ID)
	if err != nil {
		return err
	}
	if membership == nil {
		return domain.ErrMembershipNotFound
	}
	if membership.Status() == domain.StatusRemoved {
		return domain.ErrMembershipAlreadyRemoved
	}
	if targetID == org.OwnerUserID || membership.RoleCode == domain.RoleOwner {
		return domain.ErrCannotRemoveOwner
	}

	now := s.clock.Now().UTC()
	membership.DeletedAt = &now
	if err := s.repo.Update(ctx, membership); err != nil {
		return err
	}

	s.recordTransition(ctx, "remove", membership)
	s.audit(ctx, org, actor.ID, auditdomain.ActionRemoveMember, membership, map[string]any{
		"removed_user_id": targetID.String(),
	})
	return nil
}

func (s *service) List(ctx context.Context, externalID, orgID string, req domain.ListMembersRequest) (*domain.ListMembersResponse, error) {
	actor, org, err := s.load(ctx, externalID, orgID)
	if err != nil {
		return nil, err
	}
	if err := s.authzSvc.Authorize(ctx, actor.ID, org.ID, authorization.ObjectMember, authorization.ActionMemberList); err != nil {
		return nil, err
	}

	role, err := s.authzSvc.EffectiveRole(ctx, actor.ID, org.ID)
	if err != nil {
		return nil, err
	}
	statuses := resolveStatusFilter(req, role)

	policy := s.policy.Get()
	page := req.Page.Normalize(policy.DefaultPageSize, policy.MaxPageSize)

	response := &domain.ListMembersResponse{
		Items:      []domain.MemberResponse{},
		Pagination: pagination.NewPageInfo(0, page),
	}
	if len(statuses) == 0 {
		return response, nil
	}

	rows, total, err := s.repo.ListByOrganizationWithUsers(ctx, org.ID, domain.ListFilter{
		Statuses: statuses,
		Offset:   page.Offset(),
		Limit:    page.PageSize,
	})
	if err != nil {
		return nil, err
	}

	items := make([]domain.MemberResponse, 0, len(rows))
	for i := range rows {
		items = append(items, toListItem(&rows[i], org))
	}
	response.Items = items
	response.Pagination = pagination.NewPageInfo(total, page)
	return response, nil
}

// resolveStatusFilter applies the role gate: plain members always get
// the active-only view, whatever they asked for. Admins and owners may
// widen the filter explicitly.
func resolveStatusFilter(req domain.ListMembersRequest, role string) []domain.Status {
	if role != domain.RoleAdmin && role != domain.RoleOwner {
		return []domain.Status{domain.StatusActive}
	}

	// Admins and owners see the full roster unless they narrow it.
	if req.IncludeActive == nil && req.IncludePending == nil && req.IncludeRemoved == nil {
		return []domain.Status{domain.StatusActive, domain.StatusPending, domain.StatusRemoved}
	}

	includeActive := true
	if req.IncludeActive != nil {
		includeActive = *req.IncludeActive
	}
	includePending := req.IncludePending != nil && *req.IncludePending
	includeRemoved := req.IncludeRemoved != nil && *req.IncludeRemoved

	statuses := make([]domain.Status, 0, 3)
	if includeActive {
		statuses = append(statuses, domain.StatusActive)
	}
	if includePending {
		statuses = append(statuses, domain.StatusPending)
	}
	if includeRemoved {
		statuses = append(statuses, domain.StatusRemoved)
	}
	return statuses
}

func (s *service) assignableRole(role string) bool {
	if !domain.ValidRole(role) || role == domain.RoleOwner {
		return false
	}
	for _, allowed := range s.policy.Get().AssignableRoles {
		if strings.EqualFold(allowed, role) {
			return true
		}
	}
	return false
}

// load resolves the acting user and the target organization. Deleted
// organizations are reported as not found.
func (s *service) load(ctx context.Context, externalID, orgID string) (*identitydomain.User, *orgdomain.Organization, error) {
	actor, err := s.identitySvc.Resolve(ctx, externalID)
	if err != nil {
		return nil, nil, err
	}
	id, err := snowflake.ParseString(strings.TrimSpace(orgID))
	if err != nil || id == 0 {
		return nil, nil, domain.ErrInvalidOrganization
	}
	org, err := s.orgRepo.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if org == nil || org.IsDeleted() {
		return nil, nil, orgdomain.ErrOrganizationNotFound
	}
	return actor, org, nil
}

func (s *service) recordTransition(ctx context.Context, operation string, m *domain.OrganizationMembership) {
	if s.metrics == nil || m == nil {
		return
	}
	s.metrics.RecordMembershipTransition(ctx, operation, string(m.Status()))
}

func (s *service) audit(ctx context.Context, org *orgdomain.Organization, actorID snowflake.ID, action string, m *domain.OrganizationMembership, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	actor := actorID.String()
	target := m.ID.String()
	_ = s.auditSvc.AuditLog(ctx, &org.ID, string(auditdomain.ActorTypeUser), &actor, action, "organization_membership", &target, metadata)
}

func (s *service) toResponse(m *domain.OrganizationMembership, org *orgdomain.Organization, user *identitydomain.User) *domain.MemberResponse {
	resp := &domain.MemberResponse{
		ID:        m.ID.String(),
		Username:  m.Username,
		RoleCode:  m.RoleCode,
		Status:    m.Status(),
		InvitedAt: m.InvitedAt,
		JoinedAt:  m.JoinedAt,
		LeftAt:    m.LeftAt,
		RemovedAt: m.DeletedAt,
		CreatedAt: m.CreatedAt,
		Organization: &domain.MemberOrganization{
			ID:   org.ID.String(),
			Name: org.Name,
			Slug: org.Slug,
		},
	}
	if m.UserID != nil {
		resp.UserID = m.UserID.String()
	}
	if user != nil {
		resp.User = &domain.MemberUser{
			ID:         user.ID.String(),
			Username:   user.Username,
			Email:      user.Email,
			Registered: true,
		}
	}
	return resp
}

// toListItem synthesizes a shell user for username-only invitations so
// every listing row carries a user object.
func toListItem(row *domain.MemberWithUser, org *orgdomain.Organization) domain.MemberResponse {
	resp := domain.MemberResponse{
		ID:        row.ID.String(),
		Username:  row.Username,
		RoleCode:  row.RoleCode,
		Status:    row.Status(),
		InvitedAt: row.InvitedAt,
		JoinedAt:  row.JoinedAt,
		LeftAt:    row.LeftAt,
		RemovedAt: row.DeletedAt,
		CreatedAt: row.CreatedAt,
		User: &domain.MemberUser{
			Username:   row.Username,
			Registered: false,
		},
		Organization: &domain.MemberOrganization{
			ID:   org.ID.String(),
			Name: org.Name,
			Slug: org.Slug,
		},
	}
	if row.UserID != nil {
		resp.UserID = row.UserID.String()
	}
	if row.UserRowID != nil && row.UserDeletedAt == nil {
		resp.User.ID = row.UserRowID.String()
		resp.User.Registered = true
		if row.UserEmail != nil {
			resp.User.Email = *row.UserEmail
		}
	}
	return resp
}
