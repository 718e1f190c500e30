package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/tenantry/tenantry/internal/audit/domain"
	"github.com/tenantry/tenantry/internal/authorization"
	"github.com/tenantry/tenantry/internal/clock"
	identitydomain "github.com/tenantry/tenantry/internal/identity/domain"
	membershipdomain "github.com/tenantry/tenantry/internal/membership/domain"
	"github.com/tenantry/tenantry/internal/organization/domain"
	"github.com/tenantry/tenantry/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Repo           domain.Repository
	MembershipRepo membershipdomain.Repository
	IdentityRepo   identitydomain.Repository
	IdentitySvc    identitydomain.Service
	AuthzSvc       authorization.Service
	AuditSvc       auditdomain.Service `optional:"true"`
}

type service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	repo           domain.Repository
	membershipRepo membershipdomain.Repository
	identityRepo   identitydomain.Repository
	identitySvc    identitydomain.Service
	authzSvc       authorization.Service
	auditSvc       auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &service{
		db:             p.DB,
		log:            p.Log.Named("organization.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		repo:           p.Repo,
		membershipRepo: p.MembershipRepo,
		identityRepo:   p.IdentityRepo,
		identitySvc:    p.IdentitySvc,
		authzSvc:       p.AuthzSvc,
		auditSvc:       p.AuditSvc,
	}
}

func (s *service) Create(ctx context.Context, externalID string, req domain.CreateOrganizationRequest) (*domain.OrganizationResponse, error) {
	actor, err := s.identitySvc.Resolve(ctx, externalID)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	now := s.clock.Now().UTC()
	org := &domain.Organization{
		ID:          s.genID.Generate(),
		Name:        name,
		Slug:        slug.Make(name),
		OwnerUserID: actor.ID,
		Metadata:    datatypes.JSONMap{},
	}

	// The creator's owner membership lands in the same transaction so the
	// organization is never ownerless.
	membership := &membershipdomain.OrganizationMembership{
		ID:        s.genID.Generate(),
		OrgID:     org.ID,
		UserID:    &actor.ID,
		Username:  actor.Username,
		RoleCode:  membershipdomain.RoleOwner,
		InvitedAt: &now,
		JoinedAt:  &now,
		Metadata:  datatypes.JSONMap{},
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Insert(ctx, org); err != nil {
			if db.IsDuplicateKeyErr(err) {
				// Slug collision. Suffix with the id and retry once.
				org.Slug = fmt.Sprintf("%s-%s", org.Slug, org.ID)
				if err := repo.Insert(ctx, org); err != nil {
					return err
				}
			} else {
				return err
			}
		}
		return s.membershipRepo.WithTx(tx).Insert(ctx, membership)
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, org.ID, actor.ID, auditdomain.ActionCreateOrganization, map[string]any{
		"name": org.Name,
		"slug": org.Slug,
	})
	s.log.Info("organization created",
		zap.String("org_id", org.ID.String()),
		zap.String("owner_user_id", actor.ID.String()),
	)
	return toResponse(org), nil
}

func (s *service) Get(ctx context.Context, externalID, orgID string) (*domain.OrganizationResponse, error) {
	actor, org, err := s.load(ctx, externalID, orgID)
	if err != nil {
		return nil, err
	}
	if err := s.authzSvc.Authorize(ctx, actor.ID, org.ID, authorization.ObjectOrganization, authorization.ActionOrganizationView); err != nil {
		return nil, err
	}
	return toResponse(org), nil
}

func (s *service) Update(ctx context.Context, externalID, orgID string, req domain.UpdateOrganizationRequest) (*domain.OrganizationResponse, error) {
	actor, org, err := s.load(ctx, externalID, orgID)
	if err != nil {
		return nil, err
	}
	if err := s.authzSvc.Authorize(ctx, actor.ID, org.ID, authorization.ObjectOrganization, authorization.ActionOrganizationUpdate); err != nil {
		return nil, err
	}
	if org.IsArchived() {
		return nil, domain.ErrOrganizationArchived
	}

	if name := strings.TrimSpace(req.Name); name != "" {
		org.Name = name
	}
	if req.Metadata != nil {
		if org.Metadata == nil {
			org.Metadata = datatypes.JSONMap{}
		}
		for key, value := range req.Metadata {
			org.Metadata[key] = value
		}
	}

	if err := s.repo.Update(ctx, org); err != nil {
		return nil, err
	}

	s.audit(ctx, org.ID, actor.ID, auditdomain.ActionUpdateOrganization, map[string]any{
		"name": org.Name,
	})
	return toResponse(org), nil
}

func (s *service) Archive(ctx context.Context, externalID, orgID string) error {
	actor, org, err := s.load(ctx, externalID, orgID)
	if err != nil {
		return err
	}
	if err := s.authzSvc.Authorize(ctx, actor.ID, org.ID, authorization.ObjectOrganization, authorization.ActionOrganizationArchive); err != nil {
		return err
	}
	if org.IsArchived() {
		return domain.ErrOrganizationArchived
	}

	now := s.clock.Now().UTC()
	org.ArchivedAt = &now
	if err := s.repo.Update(ctx, org); err != nil {
		return err
	}

	s.audit(ctx, org.ID, actor.ID, auditdomain.ActionArchiveOrganization, nil)
	return nil
}

func (s *service) Restore(ctx context.Context, externalID, orgID string) error {
	actor, org, err := s.load(ctx, externalID, orgID)
	if err != nil {
		return err
	}
	if err := s.authzSvc.Authorize(ctx, actor.ID, org.ID, authorization.ObjectOrganization, authorization.ActionOrganizationRestore); err != nil {
		return err
	}
	if !org.IsArchived() {
		return domain.ErrOrganizationNotArchived
	}

	// Memberships were never touched by archive, so restore brings back
	// the exact roster.
	org.ArchivedAt = nil
	if err := s.repo.Update(ctx, org); err != nil {
		return err
	}

	s.audit(ctx, org.ID, actor.ID, auditdomain.ActionRestoreOrganization, nil)
	return nil
}

func (s *service) Delete(ctx context.Context, externalID, orgID string) error {
	actor, org, err := s.load(ctx, externalID, orgID)
	if err != nil {
		return err
	}
	if err := s.authzSvc.Authorize(ctx, actor.ID, org.ID, authorization.ObjectOrganization, authorization.ActionOrganizationDelete); err != nil {
		return err
	}

	// archived_at and deleted_at are mutually exclusive markers; deleting
	// an archived organization supersedes the archive.
	now := s.clock.Now().UTC()
	org.DeletedAt = &now
	org.ArchivedAt = nil
	if err := s.repo.Update(ctx, org); err != nil {
		return err
	}

	s.audit(ctx, org.ID, actor.ID, auditdomain.ActionDeleteOrganization, nil)
	s.log.Info("organization deleted", zap.String("org_id", org.ID.String()))
	return nil
}

func (s *service) TransferOwnership(ctx context.Context, externalID, orgID string, req domain.TransferOwnershipRequest) error {
	actor, org, err := s.load(ctx, externalID, orgID)
	if err != nil {
		return err
	}
	if err := s.authzSvc.Authorize(ctx, actor.ID, org.ID, authorization.ObjectOrganization, authorization.ActionOrganizationTransfer); err != nil {
		return err
	}
	if org.IsArchived() {
		return domain.ErrOrganizationArchived
	}
	if org.OwnerUserID != actor.ID {
		return domain.ErrNotCurrentOwner
	}

	newOwnerID, err := snowflake.ParseString(strings.TrimSpace(req.NewOwnerUserID))
	if err != nil || newOwnerID == 0 {
		return domain.ErrInvalidNewOwner
	}
	if newOwnerID == actor.ID {
		return domain.ErrSameOwner
	}

	newOwner, err := s.identityRepo.FindByID(ctx, newOwnerID)
	if err != nil {
		return err
	}
	if newOwner == nil {
		return domain.ErrInvalidNewOwner
	}
	if newOwner.IsDeleted() {
		return domain.ErrNewOwnerDeleted
	}

	newOwnerMembership, err := s.membershipRepo.FindByUserAndOrg(ctx, newOwnerID, org.ID)
	if err != nil {
		return err
	}
	if newOwnerMembership == nil || !newOwnerMembership.IsActive() {
		return domain.ErrNewOwnerNotActiveMember
	}

	currentOwnerMembership, err := s.membershipRepo.FindByUserAndOrg(ctx, actor.ID, org.ID)
	if err != nil {
		return err
	}
	if currentOwnerMembership == nil || !currentOwnerMembership.IsActive() {
		return domain.ErrOwnerNotActiveMember
	}

	// All three writes land together or not at all: the owner pointer,
	// the promotion, and the demotion.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		orgRepo := s.repo.WithTx(tx)
		memberRepo := s.membershipRepo.WithTx(tx)

		org.OwnerUserID = newOwnerID
		if err := orgRepo.Update(ctx, org); err != nil {
			return err
		}

		newOwnerMembership.RoleCode = membershipdomain.RoleOwner
		if err := memberRepo.Update(ctx, newOwnerMembership); err != nil {
			return err
		}

		currentOwnerMembership.RoleCode = membershipdomain.RoleMember
		if err := memberRepo.Update(ctx, currentOwnerMembership); err != nil {
			return err
		}

		// The transfer must leave exactly one live owner membership.
		owners, err := memberRepo.CountOwners(ctx, org.ID)
		if err != nil {
			return err
		}
		if owners != 1 {
			return fmt.Errorf("owner membership count %d after transfer", owners)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.audit(ctx, org.ID, actor.ID, auditdomain.ActionTransferOwnership, map[string]any{
		"previous_owner_user_id": actor.ID.String(),
		"new_owner_user_id":      newOwnerID.String(),
	})
	s.log.Info("ownership transferred",
		zap.String("org_id", org.ID.String()),
		zap.String("new_owner_user_id", newOwnerID.String()),
	)
	return nil
}

func (s *service) ListByUser(ctx context.Context, externalID string) ([]domain.OrganizationListResponseItem, error) {
	actor, err := s.identitySvc.Resolve(ctx, externalID)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListByUser(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.OrganizationListResponseItem, 0, len(items))
	for _, item := range items {
		out = append(out, domain.OrganizationListResponseItem{
			ID:        item.ID.String(),
			Name:      item.Name,
			Slug:      item.Slug,
			RoleCode:  item.RoleCode,
			CreatedAt: item.CreatedAt,
		})
	}
	return out, nil
}

// load resolves the acting user and the target organization. Deleted
// organizations are reported as not found.
func (s *service) load(ctx context.Context, externalID, orgID string) (*identitydomain.User, *domain.Organization, error) {
	actor, err := s.identitySvc.Resolve(ctx, externalID)
	if err != nil {
		return nil, nil, err
	}
	id, err := snowflake.ParseString(strings.TrimSpace(orgID))
	if err != nil || id == 0 {
		return nil, nil, domain.ErrInvalidOrganization
	}
	org, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if org == nil || org.IsDeleted() {
		return nil, nil, domain.ErrOrganizationNotFound
	}
	return actor, org, nil
}

func (s *service) audit(ctx context.Context, orgID, actorID snowflake.ID, action string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	actor := actorID.String()
	target := orgID.String()
	_ = s.auditSvc.AuditLog(ctx, &orgID, string(auditdomain.ActorTypeUser), &actor, action, "organization", &target, metadata)
}

func toResponse(org *domain.Organization) *domain.OrganizationResponse {
	return &domain.OrganizationResponse{
		ID:          org.ID.String(),
		Name:        org.Name,
		Slug:        org.Slug,
		OwnerUserID: org.OwnerUserID.String(),
		CreatedAt:   org.CreatedAt,
		UpdatedAt:   org.UpdatedAt,
		ArchivedAt:  org.ArchivedAt,
	}
}
