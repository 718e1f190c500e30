package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	identitydomain "github.com/tenantry/tenantry/internal/identity/domain"
	"github.com/tenantry/tenantry/internal/membership/domain"
	"github.com/tenantry/tenantry/internal/migration"
	"github.com/tenantry/tenantry/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func setupRepo(t *testing.T) (*gorm.DB, domain.Repository, *snowflake.Node) {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, migration.AutoMigrate(conn))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return conn, NewRepository(conn), node
}

func seedMembership(t *testing.T, conn *gorm.DB, node *snowflake.Node, orgID snowflake.ID, username string, mutate func(*domain.OrganizationMembership)) *domain.OrganizationMembership {
	t.Helper()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := &domain.OrganizationMembership{
		ID:        node.Generate(),
		OrgID:     orgID,
		Username:  username,
		RoleCode:  domain.RoleMember,
		InvitedAt: &now,
		JoinedAt:  &now,
		Metadata:  datatypes.JSONMap{},
	}
	if mutate != nil {
		mutate(m)
	}
	require.NoError(t, conn.Create(m).Error)
	return m
}

func TestFindLiveByUsernameAndOrg(t *testing.T) {
	conn, repo, node := setupRepo(t)
	ctx := context.Background()
	orgID := node.Generate()
	leftAt := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

	// A left row does not occupy the username slot.
	seedMembership(t, conn, node, orgID, "alice", func(m *domain.OrganizationMembership) {
		m.LeftAt = &leftAt
	})
	got, err := repo.FindLiveByUsernameAndOrg(ctx, "alice", orgID)
	require.NoError(t, err)
	assert.Nil(t, got)

	// A pending invitation does.
	pending := seedMembership(t, conn, node, orgID, "bob", func(m *domain.OrganizationMembership) {
		m.JoinedAt = nil
	})
	got, err = repo.FindLiveByUsernameAndOrg(ctx, "bob", orgID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, pending.ID, got.ID)
	assert.Equal(t, domain.StatusPending, got.Status())
}

func TestFindByUsernameAndOrgReturnsMostRecent(t *testing.T) {
	conn, repo, node := setupRepo(t)
	ctx := context.Background()
	orgID := node.Generate()
	leftAt := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

	old := seedMembership(t, conn, node, orgID, "alice", func(m *domain.OrganizationMembership) {
		m.LeftAt = &leftAt
		m.CreatedAt = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	})
	recent := seedMembership(t, conn, node, orgID, "alice", func(m *domain.OrganizationMembership) {
		m.LeftAt = &leftAt
		m.CreatedAt = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	})

	got, err := repo.FindByUsernameAndOrg(ctx, "alice", orgID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, recent.ID, got.ID)
	assert.NotEqual(t, old.ID, got.ID)
}

func TestListByOrganizationWithUsers(t *testing.T) {
	conn, repo, node := setupRepo(t)
	ctx := context.Background()
	orgID := node.Generate()

	user := &identitydomain.User{
		ID:         node.Generate(),
		ExternalID: "ext-alice",
		Username:   "alice",
		Email:      "alice@example.com",
		Metadata:   datatypes.JSONMap{},
	}
	require.NoError(t, conn.Create(user).Error)

	seedMembership(t, conn, node, orgID, "alice", func(m *domain.OrganizationMembership) {
		m.UserID = &user.ID
	})
	// Username-only invitation, no user row behind it.
	seedMembership(t, conn, node, orgID, "ghost", func(m *domain.OrganizationMembership) {
		m.JoinedAt = nil
	})
	removedAt := time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)
	seedMembership(t, conn, node, orgID, "gone", func(m *domain.OrganizationMembership) {
		m.DeletedAt = &removedAt
	})

	rows, total, err := repo.ListByOrganizationWithUsers(ctx, orgID, domain.ListFilter{
		Statuses: []domain.Status{domain.StatusActive, domain.StatusPending},
		Limit:    10,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, rows, 2)

	byUsername := map[string]domain.MemberWithUser{}
	for _, row := range rows {
		byUsername[row.Username] = row
	}
	require.NotNil(t, byUsername["alice"].UserRowID)
	assert.Equal(t, "ext-alice", *byUsername["alice"].UserExternalID)
	assert.Nil(t, byUsername["ghost"].UserRowID)

	// Removed rows only show up when asked for.
	rows, total, err = repo.ListByOrganizationWithUsers(ctx, orgID, domain.ListFilter{
		Statuses: []domain.Status{domain.StatusRemoved},
		Limit:    10,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, rows, 1)
	assert.Equal(t, "gone", rows[0].Username)
}

func TestLinkUsernameMemberships(t *testing.T) {
	conn, repo, node := setupRepo(t)
	ctx := context.Background()
	orgA := node.Generate()
	orgB := node.Generate()

	first := seedMembership(t, conn, node, orgA, "alice", func(m *domain.OrganizationMembership) {
		m.JoinedAt = nil
	})
	second := seedMembership(t, conn, node, orgB, "alice", func(m *domain.OrganizationMembership) {
		m.JoinedAt = nil
	})
	otherID := node.Generate()
	claimed := seedMembership(t, conn, node, orgA, "bob", func(m *domain.OrganizationMembership) {
		m.UserID = &otherID
	})

	userID := node.Generate()
	require.NoError(t, repo.LinkUsernameMemberships(ctx, "alice", userID))

	for _, id := range []snowflake.ID{first.ID, second.ID} {
		got, err := repo.FindByID(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, got.UserID)
		assert.Equal(t, userID, *got.UserID)
	}

	got, err := repo.FindByID(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, otherID, *got.UserID)
}

func TestCountOwners(t *testing.T) {
	conn, repo, node := setupRepo(t)
	ctx := context.Background()
	orgID := node.Generate()
	leftAt := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

	seedMembership(t, conn, node, orgID, "olivia", func(m *domain.OrganizationMembership) {
		m.RoleCode = domain.RoleOwner
	})
	seedMembership(t, conn, node, orgID, "former", func(m *domain.OrganizationMembership) {
		m.RoleCode = domain.RoleOwner
		m.LeftAt = &leftAt
	})
	seedMembership(t, conn, node, orgID, "bob", nil)

	count, err := repo.CountOwners(ctx, orgID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}
