package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aether-os/kernel/internal/apperr"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestUser(t *testing.T, s *SQLiteStore, username, role string) *User {
	t.Helper()
	u := &User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: "hash-" + username,
		Role:         role,
		CreatedAt:    time.Now(),
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("createTestUser(%s): %v", username, err)
	}
	return u
}

func TestSQLiteStore_UserCRUD(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	u := createTestUser(t, s, "ada", "admin")

	got, err := s.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if got.Username != "ada" {
		t.Errorf("expected username ada, got %s", got.Username)
	}

	got.DisplayName = "Ada Lovelace"
	if err := s.UpdateUser(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	got2, err := s.GetUserByUsername(ctx, "ada")
	if err != nil {
		t.Fatalf("get by username: %v", err)
	}
	if got2.DisplayName != "Ada Lovelace" {
		t.Errorf("expected updated display name, got %q", got2.DisplayName)
	}

	if err := s.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetUserByID(ctx, u.ID); !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("expected NOT_FOUND after delete, got %v", err)
	}
}

func TestSQLiteStore_UserDuplicateUsername(t *testing.T) {
	s := newTestSQLite(t)
	createTestUser(t, s, "ada", "user")

	err := s.CreateUser(context.Background(), &User{
		ID: uuid.New().String(), Username: "ada", PasswordHash: "x", Role: "user", CreatedAt: time.Now(),
	})
	if !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("expected CONFLICT on duplicate username, got %v", err)
	}
}

func TestSQLiteStore_OrganizationAndMembers(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	org := &Organization{ID: uuid.New().String(), Name: "acme", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := s.CreateOrganization(ctx, org); err != nil {
		t.Fatalf("create org: %v", err)
	}

	u := createTestUser(t, s, "bob", "user")
	if err := s.CreateOrgMember(ctx, &OrgMember{OrgID: org.ID, UserID: u.ID, Role: "member", JoinedAt: time.Now()}); err != nil {
		t.Fatalf("create member: %v", err)
	}

	members, err := s.ListOrgMembers(ctx, org.ID)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("expected 1 member, got %d", len(members))
	}

	byName, err := s.GetOrganizationByName(ctx, "acme")
	if err != nil || byName.ID != org.ID {
		t.Fatalf("expected to find org by name, got %v err=%v", byName, err)
	}
}

func TestSQLiteStore_CronJobLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	j := &CronJob{ID: uuid.New().String(), Name: "daily", CronExpr: "0 9 * * *", Enabled: true}
	if err := s.CreateCronJob(ctx, j); err != nil {
		t.Fatalf("create cron job: %v", err)
	}

	jobs, err := s.ListEnabledCronJobs(ctx)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("expected 1 enabled job, got %d err=%v", len(jobs), err)
	}

	j.Enabled = false
	if err := s.UpdateCronJob(ctx, j); err != nil {
		t.Fatalf("update cron job: %v", err)
	}
	jobs, err = s.ListEnabledCronJobs(ctx)
	if err != nil || len(jobs) != 0 {
		t.Fatalf("expected 0 enabled jobs after disable, got %d err=%v", len(jobs), err)
	}
}

func TestSQLiteStore_AuditQueryAndPurge(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	pid := 1
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := s.AppendAudit(ctx, &AuditEntry{
			ID:        uuid.New().String(),
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			PID:       &pid, Action: "spawn", EventType: "process", Outcome: "success",
		}); err != nil {
			t.Fatalf("append audit: %v", err)
		}
	}

	entries, total, err := s.QueryAudit(ctx, AuditFilter{PID: &pid, Limit: 2})
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected total 3, got %d", total)
	}
	if len(entries) != 2 {
		t.Fatalf("expected page of 2, got %d", len(entries))
	}

	purged, err := s.PurgeOldAudit(ctx, base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 2 {
		t.Fatalf("expected 2 purged entries, got %d", purged)
	}
}

func TestSQLiteStore_KVRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	if err := s.SetKV(ctx, "cursor", "100"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetKV(ctx, "cursor", "200"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, ok, err := s.GetKV(ctx, "cursor")
	if err != nil || !ok || v != "200" {
		t.Fatalf("expected v=200 ok=true, got v=%q ok=%v err=%v", v, ok, err)
	}
}

func TestSQLiteStore_PlanLatestWins(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_ = s.UpsertPlan(ctx, &Plan{ID: uuid.New().String(), PID: 5, Goal: "draft", CreatedAt: time.Now(), Status: "active"})
	time.Sleep(time.Millisecond)
	_ = s.UpsertPlan(ctx, &Plan{ID: uuid.New().String(), PID: 5, Goal: "final", CreatedAt: time.Now(), Status: "active"})

	p, err := s.GetActivePlanByPID(ctx, 5)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if p.Goal != "final" {
		t.Fatalf("expected latest plan to win, got %q", p.Goal)
	}
}
