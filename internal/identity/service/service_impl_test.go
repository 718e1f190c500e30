package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tenantry/tenantry/internal/identity/domain"
	"github.com/tenantry/tenantry/internal/identity/repository"
	membershipdomain "github.com/tenantry/tenantry/internal/membership/domain"
	membershiprepository "github.com/tenantry/tenantry/internal/membership/repository"
	"github.com/tenantry/tenantry/internal/migration"
	"github.com/tenantry/tenantry/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := migration.AutoMigrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	svc := NewService(Params{
		DB:             conn,
		Log:            zap.NewNop(),
		GenID:          node,
		Repo:           repository.NewRepository(conn),
		MembershipRepo: membershiprepository.NewRepository(conn),
	})
	return svc, conn, node
}

func TestRegister(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Register(ctx, domain.RegisterRequest{
		ExternalID: "ext-1",
		Username:   "alice",
		Email:      "alice@example.com",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if resp.Username != "alice" {
		t.Fatalf("username = %q, want alice", resp.Username)
	}

	user, err := svc.Resolve(ctx, "ext-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if user.ID.String() != resp.ID {
		t.Fatalf("resolved id = %s, want %s", user.ID, resp.ID)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	req := domain.RegisterRequest{ExternalID: "ext-1", Username: "alice", Email: "alice@example.com"}
	if _, err := svc.Register(ctx, req); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := svc.Register(ctx, req); !errors.Is(err, domain.ErrUserExists) {
		t.Fatalf("duplicate external id err = %v, want ErrUserExists", err)
	}
	if _, err := svc.Register(ctx, domain.RegisterRequest{ExternalID: "ext-2", Username: "alice"}); !errors.Is(err, domain.ErrUserExists) {
		t.Fatalf("duplicate username err = %v, want ErrUserExists", err)
	}
}

func TestRegisterInvalidUsername(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for _, username := range []string{"", "ab", "-leading", "trailing-", "sp ace"} {
		if _, err := svc.Register(ctx, domain.RegisterRequest{ExternalID: "ext-x", Username: username}); !errors.Is(err, domain.ErrInvalidUsername) {
			t.Fatalf("username %q err = %v, want ErrInvalidUsername", username, err)
		}
	}
}

func TestRegisterLinksUsernameMemberships(t *testing.T) {
	svc, conn, node := newTestService(t)
	ctx := context.Background()

	// A username-only invitation written before the user registers.
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	membership := &membershipdomain.OrganizationMembership{
		ID:        node.Generate(),
		OrgID:     node.Generate(),
		Username:  "alice",
		RoleCode:  membershipdomain.RoleMember,
		InvitedAt: &now,
	}
	if err := conn.Create(membership).Error; err != nil {
		t.Fatalf("seed membership: %v", err)
	}

	resp, err := svc.Register(ctx, domain.RegisterRequest{ExternalID: "ext-1", Username: "alice"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	var linked membershipdomain.OrganizationMembership
	if err := conn.First(&linked, "id = ?", membership.ID).Error; err != nil {
		t.Fatalf("reload membership: %v", err)
	}
	if linked.UserID == nil || linked.UserID.String() != resp.ID {
		t.Fatalf("membership not linked to new user: %+v", linked.UserID)
	}
}

func TestResolve(t *testing.T) {
	svc, conn, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Resolve(ctx, ""); !errors.Is(err, domain.ErrInvalidExternalID) {
		t.Fatalf("empty external id err = %v, want ErrInvalidExternalID", err)
	}
	if _, err := svc.Resolve(ctx, "ext-missing"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("missing err = %v, want ErrUserNotFound", err)
	}

	if _, err := svc.Register(ctx, domain.RegisterRequest{ExternalID: "ext-1", Username: "alice"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	deletedAt := time.Now().UTC()
	if err := conn.Model(&domain.User{}).Where("external_id = ?", "ext-1").Update("deleted_at", deletedAt).Error; err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if _, err := svc.Resolve(ctx, "ext-1"); !errors.Is(err, domain.ErrUserDeleted) {
		t.Fatalf("deleted err = %v, want ErrUserDeleted", err)
	}
}
