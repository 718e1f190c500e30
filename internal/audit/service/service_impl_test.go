package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/tenantry/tenantry/internal/audit/domain"
	"github.com/tenantry/tenantry/internal/audit/repository"
	"github.com/tenantry/tenantry/internal/clock"
	"github.com/tenantry/tenantry/internal/migration"
	"github.com/tenantry/tenantry/internal/orgcontext"
	"github.com/tenantry/tenantry/pkg/db"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (auditdomain.Service, *clock.FakeClock, *snowflake.Node) {
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
	fakeClock := clock.NewFakeClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fakeClock,
		Repo:  repository.Provide(),
	})
	return svc, fakeClock, node
}

func TestAuditLogAndList(t *testing.T) {
	svc, fakeClock, node := newTestService(t)

	orgID := node.Generate()
	ctx := orgcontext.WithOrgID(context.Background(), int64(orgID))

	actorID := "actor-1"
	for i := 0; i < 3; i++ {
		targetID := "target"
		if err := svc.AuditLog(ctx, &orgID, string(auditdomain.ActorTypeUser), &actorID, auditdomain.ActionAddMember, "membership", &targetID, map[string]any{
			"seq": i,
		}); err != nil {
			t.Fatalf("AuditLog %d: %v", i, err)
		}
		fakeClock.Advance(time.Minute)
	}

	resp, err := svc.List(ctx, auditdomain.ListAuditLogRequest{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(resp.AuditLogs) != 3 {
		t.Fatalf("len = %d, want 3", len(resp.AuditLogs))
	}
	// Newest first.
	if !resp.AuditLogs[0].CreatedAt.After(resp.AuditLogs[2].CreatedAt) {
		t.Fatal("entries not ordered newest first")
	}
	if resp.HasMore {
		t.Fatal("has_more set on a complete page")
	}
}

func TestListCursorPagination(t *testing.T) {
	svc, fakeClock, node := newTestService(t)

	orgID := node.Generate()
	ctx := orgcontext.WithOrgID(context.Background(), int64(orgID))

	for i := 0; i < 5; i++ {
		targetID := "target"
		if err := svc.AuditLog(ctx, &orgID, string(auditdomain.ActorTypeSystem), nil, auditdomain.ActionCreateOrganization, "organization", &targetID, nil); err != nil {
			t.Fatalf("AuditLog %d: %v", i, err)
		}
		fakeClock.Advance(time.Minute)
	}

	req := auditdomain.ListAuditLogRequest{}
	req.PageSize = 2

	var seen int
	var token string
	for page := 0; page < 4; page++ {
		req.PageToken = token
		resp, err := svc.List(ctx, req)
		if err != nil {
			t.Fatalf("List page %d: %v", page, err)
		}
		seen += len(resp.AuditLogs)
		if !resp.HasMore {
			break
		}
		token = resp.NextPageToken
	}
	if seen != 5 {
		t.Fatalf("saw %d entries across pages, want 5", seen)
	}
}

func TestListValidation(t *testing.T) {
	svc, _, node := newTestService(t)

	// No organization in context.
	if _, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{}); !errors.Is(err, auditdomain.ErrInvalidOrganization) {
		t.Fatalf("err = %v, want ErrInvalidOrganization", err)
	}

	ctx := orgcontext.WithOrgID(context.Background(), int64(node.Generate()))

	req := auditdomain.ListAuditLogRequest{}
	req.PageToken = "garbage"
	if _, err := svc.List(ctx, req); !errors.Is(err, auditdomain.ErrInvalidPageToken) {
		t.Fatalf("err = %v, want ErrInvalidPageToken", err)
	}

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	if _, err := svc.List(ctx, auditdomain.ListAuditLogRequest{StartAt: &start, EndAt: &end}); !errors.Is(err, auditdomain.ErrInvalidTimeRange) {
		t.Fatalf("err = %v, want ErrInvalidTimeRange", err)
	}
}

func TestAuditLogRequiresAction(t *testing.T) {
	svc, _, node := newTestService(t)
	orgID := node.Generate()

	if err := svc.AuditLog(context.Background(), &orgID, string(auditdomain.ActorTypeSystem), nil, "  ", "organization", nil, nil); !errors.Is(err, auditdomain.ErrInvalidAction) {
		t.Fatalf("err = %v, want ErrInvalidAction", err)
	}
}
