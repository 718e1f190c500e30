package service

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tenantry/tenantry/internal/authorization"
	"github.com/tenantry/tenantry/internal/clock"
	"github.com/tenantry/tenantry/internal/config"
	identitydomain "github.com/tenantry/tenantry/internal/identity/domain"
	identityrepository "github.com/tenantry/tenantry/internal/identity/repository"
	identityservice "github.com/tenantry/tenantry/internal/identity/service"
	"github.com/tenantry/tenantry/internal/membership/domain"
	"github.com/tenantry/tenantry/internal/membership/repository"
	"github.com/tenantry/tenantry/internal/migration"
	orgdomain "github.com/tenantry/tenantry/internal/organization/domain"
	orgrepository "github.com/tenantry/tenantry/internal/organization/repository"
	"github.com/tenantry/tenantry/pkg/db"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type testEnv struct {
	db          *gorm.DB
	node        *snowflake.Node
	clock       *clock.FakeClock
	identitySvc identitydomain.Service
	svc         domain.Service
}

func newTestEnv(t *testing.T) *testEnv {
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

	enforcer, err := authorization.NewEnforcer(conn)
	if err != nil {
		t.Fatalf("enforcer: %v", err)
	}
	authzSvc := authorization.NewService(authorization.Params{
		DB:       conn,
		Log:      zap.NewNop(),
		Enforcer: enforcer,
	})

	identityRepo := identityrepository.NewRepository(conn)
	membershipRepo := repository.NewRepository(conn)
	orgRepo := orgrepository.NewRepository(conn)

	identitySvc := identityservice.NewService(identityservice.Params{
		DB:             conn,
		Log:            zap.NewNop(),
		GenID:          node,
		Repo:           identityRepo,
		MembershipRepo: membershipRepo,
	})

	fakeClock := clock.NewFakeClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:           conn,
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        fakeClock,
		Policy:       config.StaticMembershipPolicyHolder(config.DefaultMembershipPolicy()),
		Repo:         membershipRepo,
		OrgRepo:      orgRepo,
		IdentityRepo: identityRepo,
		IdentitySvc:  identitySvc,
		AuthzSvc:     authzSvc,
	})

	return &testEnv{
		db:          conn,
		node:        node,
		clock:       fakeClock,
		identitySvc: identitySvc,
		svc:         svc,
	}
}

func (e *testEnv) registerUser(t *testing.T, externalID, username string) *identitydomain.User {
	t.Helper()
	if _, err := e.identitySvc.Register(context.Background(), identitydomain.RegisterRequest{
		ExternalID: externalID,
		Username:   username,
		Email:      username + "@example.com",
	}); err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	user, err := e.identitySvc.Resolve(context.Background(), externalID)
	if err != nil {
		t.Fatalf("resolve %s: %v", externalID, err)
	}
	return user
}

func (e *testEnv) createOrg(t *testing.T, owner *identitydomain.User, name string) *orgdomain.Organization {
	t.Helper()
	now := e.clock.Now()
	org := &orgdomain.Organization{
		ID:          e.node.Generate(),
		Name:        name,
		Slug:        name,
		OwnerUserID: owner.ID,
		Metadata:    datatypes.JSONMap{},
	}
	if err := e.db.Create(org).Error; err != nil {
		t.Fatalf("create org: %v", err)
	}
	membership := &domain.OrganizationMembership{
		ID:        e.node.Generate(),
		OrgID:     org.ID,
		UserID:    &owner.ID,
		Username:  owner.Username,
		RoleCode:  domain.RoleOwner,
		InvitedAt: &now,
		JoinedAt:  &now,
		Metadata:  datatypes.JSONMap{},
	}
	if err := e.db.Create(membership).Error; err != nil {
		t.Fatalf("create owner membership: %v", err)
	}
	return org
}

func TestAddMemberDirect(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.registerUser(t, "ext-owner", "olivia")
	env.registerUser(t, "ext-bob", "bob")
	org := env.createOrg(t, owner, "acme")

	resp, err := env.svc.AddMember(ctx, "ext-owner", org.ID.String(), domain.AddMemberRequest{
		Username: "bob",
		RoleCode: domain.RoleMember,
	})
	if err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if resp.Status != domain.StatusActive {
		t.Fatalf("status = %q, want active", resp.Status)
	}
	if resp.UserID == "" {
		t.Fatal("registered username should link immediately")
	}
	if resp.RoleCode != domain.RoleMember {
		t.Fatalf("role = %q, want member", resp.RoleCode)
	}
}

func TestAddMemberInviteAndAccept(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.registerUser(t, "ext-owner", "olivia")
	env.registerUser(t, "ext-bob", "bob")
	org := env.createOrg(t, owner, "acme")

	resp, err := env.svc.AddMember(ctx, "ext-owner", org.ID.String(), domain.AddMemberRequest{
		Username: "bob",
		RoleCode: domain.RoleMember,
		Invite:   true,
	})
	if err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if resp.Status != domain.StatusPending {
		t.Fatalf("status = %q, want pending", resp.Status)
	}

	accepted, err := env.svc.AcceptInvitation(ctx, "ext-bob", org.ID.String())
	if err != nil {
		t.Fatalf("AcceptInvitation: %v", err)
	}
	if accepted.Status != domain.StatusActive {
		t.Fatalf("status after accept = %q, want active", accepted.Status)
	}

	if _, err := env.svc.AcceptInvitation(ctx, "ext-bob", org.ID.String()); !errors.Is(err, domain.ErrNoPendingInvitation) {
		t.Fatalf("second accept err = %v, want ErrNoPendingInvitation", err)
	}
}

func TestAddMemberConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.registerUser(t, "ext-owner", "olivia")
	env.registerUser(t, "ext-bob", "bob")
	org := env.createOrg(t, owner, "acme")

	if _, err := env.svc.AddMember(ctx, "ext-owner", org.ID.String(), domain.AddMemberRequest{Username: "bob"}); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if _, err := env.svc.AddMember(ctx, "ext-owner", org.ID.String(), domain.AddMemberRequest{Username: "bob"}); !errors.Is(err, domain.ErrMemberExists) {
		t.Fatalf("second add err = %v, want ErrMemberExists", err)
	}
}

func TestAddMemberReactivatesLeftRow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.registerUser(t, "ext-owner", "olivia")
	env.registerUser(t, "ext-bob", "bob")
	org := env.createOrg(t, owner, "acme")

	first, err := env.svc.AddMember(ctx, "ext-owner", org.ID.String(), domain.AddMemberRequest{Username: "bob"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := env.svc.Leave(ctx, "ext-bob", org.ID.String()); err != nil {
		t.Fatalf("leave: %v", err)
	}

	env.clock.Advance(time.Hour)
	second, err := env.svc.AddMember(ctx, "ext-owner", org.ID.String(), domain.AddMemberRequest{
		Username: "bob",
		RoleCode: domain.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("re-add created a new row: %s != %s", second.ID, first.ID)
	}
	if second.Status != domain.StatusActive {
		t.Fatalf("status = %q, want active", second.Status)
	}
	if second.RoleCode != domain.RoleAdmin {
		t.Fatalf("role = %q, want admin", second.RoleCode)
	}
	if second.LeftAt != nil {
		t.Fatal("left_at should be cleared on reactivation")
	}
}

func TestAddMemberUnknownUsernameLinksOnRegister(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.registerUser(t, "ext-owner", "olivia")
	org := env.createOrg(t, owner, "acme")

	resp, err := env.svc.AddMember(ctx, "ext-owner", org.ID.String(), domain.AddMemberRequest{
		Username: "ghost",
		Invite:   true,
	})
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if resp.UserID != "" {
		t.Fatal("unregistered username must not carry a user id")
	}

	env.registerUser(t, "ext-ghost", "ghost")

	accepted, err := env.svc.AcceptInvitation(ctx, "ext-ghost", org.ID.String())
	if err != nil {
		t.Fatalf("accept after register: %v", err)
	}
	if accepted.UserID == "" {
		t.Fatal("registration should have linked the invitation")
	}
	if accepted.Status != domain.StatusActive {
		t.Fatalf("status = %q, want active", accepted.Status)
	}
}

func TestAddMemberRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.registerUser(t, "ext-owner", "olivia")
	env.registerUser(t, "ext-bob", "bob")
	env.registerUser(t, "ext-carol", "carol")
	org := env.createOrg(t, owner, "acme")

	if _, err := env.svc.AddMember(ctx, "ext-owner", org.ID.String(), domain.AddMemberRequest{Username: "bob"}); err != nil {
		t.Fatalf("seed member: %v", err)
	}

	_, err := env.svc.AddMember(ctx, "ext-bob", org.ID.String(), domain.AddMemberRequest{Username: "carol"})
	if !errors.Is(err, authorization.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
}

func TestUpdateRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.registerUser(t, "ext-owner", "olivia")
	bob := env.registerUser(t, "ext-bob", "bob")
	org := env.createOrg(t, owner, "acme")

	if _, err := env.svc.AddMember(ctx, "ext-owner", org.ID.String(), domain.AddMemberRequest{Username: "bob"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	resp, err := env.svc.UpdateRole(ctx, "ext-owner", org.ID.String(), bob.ID.String(), domain.UpdateRoleRequest{RoleCode: domain.RoleAdmin})
	if err != nil {
		t.Fatalf("UpdateRole: %v", err)
	}
	if resp.RoleCode != domain.RoleAdmin {
		t.Fatalf("role = %q, want admin", resp.RoleCode)
	}

	if _, err := env.svc.UpdateRole(ctx, "ext-owner", org.ID.String(), bob.ID.String(), domain.UpdateRoleRequest{RoleCode: domain.RoleOwner}); !errors.Is(err, domain.ErrOwnerRoleImmutable) {
		t.Fatalf("grant owner err = %v, want ErrOwnerRoleImmutable", err)
	}
	if _, err := env.svc.UpdateRole(ctx, "ext-owner", org.ID.String(), owner.ID.String(), domain.UpdateRoleRequest{RoleCode: domain.RoleMember}); !errors.Is(err, domain.ErrOwnerRoleImmutable) {
		t.Fatalf("demote owner err = %v, want ErrOwnerRoleImmutable", err)
	}
}

func TestLeave(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.registerUser(t, "ext-owner", "olivia")
	env.registerUser(t, "ext-bob", "bob")
	org := env.createOrg(t, owner, "acme")

	if err := env.svc.Leave(ctx, "ext-owner", org.ID.String()); !errors.Is(err, domain.ErrOwnerCannotLeave) {
		t.Fatalf("owner leave err = %v, want ErrOwnerCannotLeave", err)
	}

	if _, err := env.svc.AddMember(ctx, "ext-owner", org.ID.String(), domain.AddMemberRequest{Username: "bob"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := env.svc.Leave(ctx, "ext-bob", org.ID.String()); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := env.svc.Leave(ctx, "ext-bob", org.ID.String()); !errors.Is(err, domain.ErrMembershipNotActive) {
		t.Fatalf("second leave err = %v, want ErrMembershipNotActive", err)
	}
}

func TestRemove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.registerUser(t, "ext-owner", "olivia")
	bob := env.registerUser(t, "ext-bob", "bob")
	org := env.createOrg(t, owner, "acme")

	if _, err := env.svc.AddMember(ctx, "ext-owner", org.ID.String(), domain.AddMemberRequest{Username: "bob"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := env.svc.Remove(ctx, "ext-owner", org.ID.String(), bob.ID.String()); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := env.svc.Remove(ctx, "ext-owner", org.ID.String(), bob.ID.String()); !errors.Is(err, domain.ErrMembershipAlreadyRemoved) {
		t.Fatalf("second remove err = %v, want ErrMembershipAlreadyRemoved", err)
	}
	if err := env.svc.Remove(ctx, "ext-owner", org.ID.String(), owner.ID.String()); !errors.Is(err, domain.ErrCannotRemoveOwner) {
		t.Fatalf("remove owner err = %v, want ErrCannotRemoveOwner", err)
	}
}

func TestListFilterOverrideForPlainMembers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.registerUser(t, "ext-owner", "olivia")
	bob := env.registerUser(t, "ext-bob", "bob")
	env.registerUser(t, "ext-carol", "carol")
	org := env.createOrg(t, owner, "acme")

	if _, err := env.svc.AddMember(ctx, "ext-owner", org.ID.String(), domain.AddMemberRequest{Username: "bob"}); err != nil {
		t.Fatalf("add bob: %v", err)
	}
	if _, err := env.svc.AddMember(ctx, "ext-owner", org.ID.String(), domain.AddMemberRequest{Username: "carol"}); err != nil {
		t.Fatalf("add carol: %v", err)
	}
	if err := env.svc.Remove(ctx, "ext-owner", org.ID.String(), bob.ID.String()); err != nil {
		t.Fatalf("remove bob: %v", err)
	}

	includeRemoved := true

	// Owner sees removed rows when asked.
	resp, err := env.svc.List(ctx, "ext-owner", org.ID.String(), domain.ListMembersRequest{IncludeRemoved: &includeRemoved})
	if err != nil {
		t.Fatalf("owner list: %v", err)
	}
	if !hasStatus(resp.Items, domain.StatusRemoved) {
		t.Fatal("owner list should include removed member")
	}

	// A plain member gets the active-only view regardless of the filter,
	// and the total counts only what that view contains.
	resp, err = env.svc.List(ctx, "ext-carol", org.ID.String(), domain.ListMembersRequest{IncludeRemoved: &includeRemoved})
	if err != nil {
		t.Fatalf("member list: %v", err)
	}
	if hasStatus(resp.Items, domain.StatusRemoved) {
		t.Fatal("plain member must not see removed rows")
	}
	for _, item := range resp.Items {
		if item.Status != domain.StatusActive {
			t.Fatalf("plain member saw status %q", item.Status)
		}
	}
	// Active rows: the owner and carol.
	if len(resp.Items) != 2 {
		t.Fatalf("len = %d, want 2", len(resp.Items))
	}
	if resp.Pagination.Total != 2 {
		t.Fatalf("total = %d, want 2", resp.Pagination.Total)
	}
}

func TestListIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.registerUser(t, "ext-owner", "olivia")
	env.registerUser(t, "ext-bob", "bob")
	env.registerUser(t, "ext-carol", "carol")
	org := env.createOrg(t, owner, "acme")

	if _, err := env.svc.AddMember(ctx, "ext-owner", org.ID.String(), domain.AddMemberRequest{Username: "bob"}); err != nil {
		t.Fatalf("add bob: %v", err)
	}
	if _, err := env.svc.AddMember(ctx, "ext-owner", org.ID.String(), domain.AddMemberRequest{Username: "carol", Invite: true}); err != nil {
		t.Fatalf("invite carol: %v", err)
	}

	req := domain.ListMembersRequest{}
	req.Page.Page = 1
	req.Page.PageSize = 10

	first, err := env.svc.List(ctx, "ext-owner", org.ID.String(), req)
	if err != nil {
		t.Fatalf("first list: %v", err)
	}
	second, err := env.svc.List(ctx, "ext-owner", org.ID.String(), req)
	if err != nil {
		t.Fatalf("second list: %v", err)
	}

	// No writes in between, so both calls must agree exactly.
	if !reflect.DeepEqual(first.Items, second.Items) {
		t.Fatalf("items differ between identical calls:\n%+v\n%+v", first.Items, second.Items)
	}
	if first.Pagination != second.Pagination {
		t.Fatalf("pagination differs: %+v vs %+v", first.Pagination, second.Pagination)
	}
}

func TestListPagination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.registerUser(t, "ext-owner", "olivia")
	org := env.createOrg(t, owner, "acme")

	usernames := []string{"bob", "carol", "dave", "erin"}
	for i, username := range usernames {
		env.registerUser(t, "ext-"+username, username)
		if _, err := env.svc.AddMember(ctx, "ext-owner", org.ID.String(), domain.AddMemberRequest{Username: username}); err != nil {
			t.Fatalf("add %s: %v", username, err)
		}
		env.clock.Advance(time.Duration(i+1) * time.Minute)
	}

	req := domain.ListMembersRequest{}
	req.Page.Page = 1
	req.Page.PageSize = 2

	resp, err := env.svc.List(ctx, "ext-owner", org.ID.String(), req)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("page size = %d, want 2", len(resp.Items))
	}
	// Five active rows: owner plus four members.
	if resp.Pagination.Total != 5 {
		t.Fatalf("total = %d, want 5", resp.Pagination.Total)
	}
	if resp.Pagination.TotalPages != 3 {
		t.Fatalf("total_pages = %d, want 3", resp.Pagination.TotalPages)
	}
}

func hasStatus(items []domain.MemberResponse, status domain.Status) bool {
	for _, item := range items {
		if item.Status == status {
			return true
		}
	}
	return false
}
