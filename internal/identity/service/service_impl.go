package service

import (
	"context"
	"regexp"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/tenantry/tenantry/internal/audit/domain"
	"github.com/tenantry/tenantry/internal/identity/domain"
	membershipdomain "github.com/tenantry/tenantry/internal/membership/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{1,62}[a-z0-9]$`)

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Repo           domain.Repository
	MembershipRepo membershipdomain.Repository
	AuditSvc       auditdomain.Service `optional:"true"`
}

type service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	repo           domain.Repository
	membershipRepo membershipdomain.Repository
	auditSvc       auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &service{
		db:             p.DB,
		log:            p.Log.Named("identity.service"),
		genID:          p.GenID,
		repo:           p.Repo,
		membershipRepo: p.MembershipRepo,
		auditSvc:       p.AuditSvc,
	}
}

func (s *service) Register(ctx context.Context, req domain.RegisterRequest) (*domain.UserResponse, error) {
	externalID := strings.TrimSpace(req.ExternalID)
	if externalID == "" {
		return nil, domain.ErrInvalidExternalID
	}
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if !usernamePattern.MatchString(username) {
		return nil, domain.ErrInvalidUsername
	}
	email := strings.TrimSpace(req.Email)

	user := &domain.User{
		ID:         s.genID.Generate(),
		ExternalID: externalID,
		Username:   username,
		Email:      email,
		Metadata:   datatypes.JSONMap{},
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		existing, err := repo.FindByExternalID(ctx, externalID)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrUserExists
		}
		existing, err = repo.FindByUsername(ctx, username)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrUserExists
		}

		if err := repo.Create(ctx, user); err != nil {
			return err
		}

		// Invitations addressed to this username before the user existed
		// become addressable by user id from here on.
		return s.membershipRepo.WithTx(tx).LinkUsernameMemberships(ctx, username, user.ID)
	})
	if err != nil {
		return nil, err
	}

	if s.auditSvc != nil {
		actorID := user.ID.String()
		targetID := user.ID.String()
		_ = s.auditSvc.AuditLog(ctx, nil, string(auditdomain.ActorTypeUser), &actorID, auditdomain.ActionRegisterUser, "user", &targetID, map[string]any{
			"username": username,
		})
	}

	s.log.Info("user registered",
		zap.String("user_id", user.ID.String()),
		zap.String("username", username),
	)
	return toUserResponse(user), nil
}

func (s *service) Resolve(ctx context.Context, externalID string) (*domain.User, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, domain.ErrInvalidExternalID
	}
	user, err := s.repo.FindByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrUserNotFound
	}
	if user.IsDeleted() {
		return nil, domain.ErrUserDeleted
	}
	return user, nil
}

func (s *service) GetByUsername(ctx context.Context, username string) (*domain.UserResponse, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return nil, domain.ErrInvalidUsername
	}
	user, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil || user.IsDeleted() {
		return nil, domain.ErrUserNotFound
	}
	return toUserResponse(user), nil
}

func toUserResponse(user *domain.User) *domain.UserResponse {
	return &domain.UserResponse{
		ID:         user.ID.String(),
		ExternalID: user.ExternalID,
		Username:   user.Username,
		Email:      user.Email,
	}
}
