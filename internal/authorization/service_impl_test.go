package authorization

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	identitydomain "github.com/tenantry/tenantry/internal/identity/domain"
	membershipdomain "github.com/tenantry/tenantry/internal/membership/domain"
	"github.com/tenantry/tenantry/internal/migration"
	orgdomain "github.com/tenantry/tenantry/internal/organization/domain"
	"github.com/tenantry/tenantry/pkg/db"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type authzFixture struct {
	db   *gorm.DB
	node *snowflake.Node
	svc  Service

	owner snowflake.ID
	org   snowflake.ID
}

func newAuthzFixture(t *testing.T) *authzFixture {
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
	enforcer, err := NewEnforcer(conn)
	if err != nil {
		t.Fatalf("enforcer: %v", err)
	}
	svc := NewService(Params{DB: conn, Log: zap.NewNop(), Enforcer: enforcer})

	f := &authzFixture{db: conn, node: node, svc: svc}
	f.owner = f.createUser(t, "olivia")
	f.org = f.createOrg(t, f.owner)
	return f
}

func (f *authzFixture) createUser(t *testing.T, username string) snowflake.ID {
	t.Helper()
	user := &identitydomain.User{
		ID:         f.node.Generate(),
		ExternalID: "ext-" + username,
		Username:   username,
		Metadata:   datatypes.JSONMap{},
	}
	if err := f.db.Create(user).Error; err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return user.ID
}

func (f *authzFixture) createOrg(t *testing.T, owner snowflake.ID) snowflake.ID {
	t.Helper()
	org := &orgdomain.Organization{
		ID:          f.node.Generate(),
		Name:        "acme",
		Slug:        "acme",
		OwnerUserID: owner,
		Metadata:    datatypes.JSONMap{},
	}
	if err := f.db.Create(org).Error; err != nil {
		t.Fatalf("create org: %v", err)
	}
	return org.ID
}

func (f *authzFixture) addMember(t *testing.T, userID snowflake.ID, username, role string) {
	t.Helper()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	membership := &membershipdomain.OrganizationMembership{
		ID:        f.node.Generate(),
		OrgID:     f.org,
		UserID:    &userID,
		Username:  username,
		RoleCode:  role,
		InvitedAt: &now,
		JoinedAt:  &now,
		Metadata:  datatypes.JSONMap{},
	}
	if err := f.db.Create(membership).Error; err != nil {
		t.Fatalf("create membership: %v", err)
	}
}

func TestAuthorizeOwnerByPointer(t *testing.T) {
	f := newAuthzFixture(t)
	ctx := context.Background()

	// The owner pointer alone grants the owner role; no membership row is
	// consulted.
	for _, action := range []string{ActionOrganizationDelete, ActionOrganizationTransfer, ActionMemberAdd} {
		object := ObjectOrganization
		if action == ActionMemberAdd {
			object = ObjectMember
		}
		if err := f.svc.Authorize(ctx, f.owner, f.org, object, action); err != nil {
			t.Fatalf("owner denied %s: %v", action, err)
		}
	}
}

func TestAuthorizeAdmin(t *testing.T) {
	f := newAuthzFixture(t)
	ctx := context.Background()

	admin := f.createUser(t, "alice")
	f.addMember(t, admin, "alice", "admin")

	if err := f.svc.Authorize(ctx, admin, f.org, ObjectMember, ActionMemberAdd); err != nil {
		t.Fatalf("admin denied member.add: %v", err)
	}
	if err := f.svc.Authorize(ctx, admin, f.org, ObjectOrganization, ActionOrganizationArchive); err != nil {
		t.Fatalf("admin denied archive: %v", err)
	}
	// Delete, restore and ownership transfer stay with the owner.
	for _, action := range []string{ActionOrganizationDelete, ActionOrganizationRestore, ActionOrganizationTransfer} {
		if err := f.svc.Authorize(ctx, admin, f.org, ObjectOrganization, action); !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("admin %s err = %v, want ErrPermissionDenied", action, err)
		}
	}
}

func TestAuthorizeMember(t *testing.T) {
	f := newAuthzFixture(t)
	ctx := context.Background()

	member := f.createUser(t, "bob")
	f.addMember(t, member, "bob", "member")

	if err := f.svc.Authorize(ctx, member, f.org, ObjectOrganization, ActionOrganizationView); err != nil {
		t.Fatalf("member denied view: %v", err)
	}
	if err := f.svc.Authorize(ctx, member, f.org, ObjectMember, ActionMemberAdd); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("member member.add err = %v, want ErrPermissionDenied", err)
	}
	if err := f.svc.Authorize(ctx, member, f.org, ObjectAuditLog, ActionAuditLogView); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("member audit_log.view err = %v, want ErrPermissionDenied", err)
	}
}

func TestAuthorizeNonMember(t *testing.T) {
	f := newAuthzFixture(t)
	ctx := context.Background()

	outsider := f.createUser(t, "mallory")
	if err := f.svc.Authorize(ctx, outsider, f.org, ObjectOrganization, ActionOrganizationView); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("outsider err = %v, want ErrPermissionDenied", err)
	}
}

func TestAuthorizeValidation(t *testing.T) {
	f := newAuthzFixture(t)
	ctx := context.Background()

	if err := f.svc.Authorize(ctx, 0, f.org, ObjectOrganization, ActionOrganizationView); !errors.Is(err, ErrInvalidActor) {
		t.Fatalf("zero actor err = %v, want ErrInvalidActor", err)
	}
	if err := f.svc.Authorize(ctx, f.owner, 0, ObjectOrganization, ActionOrganizationView); !errors.Is(err, ErrInvalidOrganization) {
		t.Fatalf("zero org err = %v, want ErrInvalidOrganization", err)
	}
	if err := f.svc.Authorize(ctx, f.owner, f.org, "", ActionOrganizationView); !errors.Is(err, ErrInvalidObject) {
		t.Fatalf("empty object err = %v, want ErrInvalidObject", err)
	}
	if err := f.svc.Authorize(ctx, f.owner, f.org, ObjectOrganization, " "); !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("empty action err = %v, want ErrInvalidAction", err)
	}
}

func TestEffectiveRoleTracksRoleChanges(t *testing.T) {
	f := newAuthzFixture(t)
	ctx := context.Background()

	user := f.createUser(t, "alice")
	f.addMember(t, user, "alice", "member")

	role, err := f.svc.EffectiveRole(ctx, user, f.org)
	if err != nil {
		t.Fatalf("EffectiveRole: %v", err)
	}
	if role != RoleMember {
		t.Fatalf("role = %q, want member", role)
	}

	if err := f.db.Model(&membershipdomain.OrganizationMembership{}).
		Where("user_id = ?", user).Update("role_code", "admin").Error; err != nil {
		t.Fatalf("promote: %v", err)
	}
	// A stale member grouping must not linger after promotion.
	if err := f.svc.Authorize(ctx, user, f.org, ObjectMember, ActionMemberAdd); err != nil {
		t.Fatalf("promoted admin denied member.add: %v", err)
	}
	if err := f.svc.Authorize(ctx, user, f.org, ObjectOrganization, ActionOrganizationDelete); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("promoted admin delete err = %v, want ErrPermissionDenied", err)
	}
}
