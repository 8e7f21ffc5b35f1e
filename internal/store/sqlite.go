package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aether-os/kernel/internal/apperr"
)

// SQLiteStore implements Store on top of modernc.org/sqlite, the pack's
// pure-Go SQLite driver (grounded on hub/internal/store/sqlite.go).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens dsn and runs migrations. ":memory:" is rewritten to a
// shared-cache DSN so every pooled connection observes the same database.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid lock contention

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'user',
			mfa_secret TEXT NOT NULL DEFAULT '',
			mfa_enabled INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_login_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS organizations (
			id TEXT PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			owner_user_id TEXT NOT NULL DEFAULT '',
			settings TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS org_members (
			org_id TEXT NOT NULL REFERENCES organizations(id),
			user_id TEXT NOT NULL REFERENCES users(id),
			role TEXT NOT NULL DEFAULT 'member',
			joined_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (org_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS teams (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL REFERENCES organizations(id),
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_teams_org_id ON teams(org_id)`,
		`CREATE TABLE IF NOT EXISTS team_members (
			team_id TEXT NOT NULL REFERENCES teams(id),
			user_id TEXT NOT NULL REFERENCES users(id),
			role TEXT NOT NULL DEFAULT 'member',
			joined_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (team_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS permission_policies (
			id TEXT PRIMARY KEY,
			subject TEXT NOT NULL,
			action TEXT NOT NULL,
			resource TEXT NOT NULL,
			effect TEXT NOT NULL DEFAULT 'deny',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_by TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_policies_subject ON permission_policies(subject)`,
		`CREATE TABLE IF NOT EXISTS cron_jobs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			cron_expr TEXT NOT NULL,
			agent_config TEXT NOT NULL DEFAULT '{}',
			owner_uid TEXT NOT NULL DEFAULT '',
			enabled INTEGER NOT NULL DEFAULT 1,
			last_fired_at DATETIME,
			next_fire_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cron_jobs_enabled ON cron_jobs(enabled)`,
		`CREATE TABLE IF NOT EXISTS event_triggers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			event_pattern TEXT NOT NULL,
			filter TEXT NOT NULL DEFAULT '{}',
			agent_config TEXT NOT NULL DEFAULT '{}',
			owner_uid TEXT NOT NULL DEFAULT '',
			enabled INTEGER NOT NULL DEFAULT 1,
			cooldown_ms INTEGER NOT NULL DEFAULT 0,
			last_fired_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_triggers_enabled ON event_triggers(enabled)`,
		`CREATE TABLE IF NOT EXISTS audit_entries (
			id TEXT PRIMARY KEY,
			ts DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			pid INTEGER,
			uid TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			event_type TEXT NOT NULL DEFAULT '',
			subject TEXT NOT NULL DEFAULT '',
			resource TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entries_ts ON audit_entries(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entries_action ON audit_entries(action)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entries_pid ON audit_entries(pid)`,
		`CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			pid INTEGER NOT NULL,
			uid TEXT NOT NULL DEFAULT '',
			goal TEXT NOT NULL DEFAULT '',
			root_nodes TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			status TEXT NOT NULL DEFAULT 'active'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_plans_pid ON plans(pid, created_at)`,
		`CREATE TABLE IF NOT EXISTS kv_store (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n  SQL: %s", err, m)
		}
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQLiteStore) Close() error                   { return s.db.Close() }

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return contains(msg, "UNIQUE constraint failed") || contains(msg, "duplicate key")
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

// --- Users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, display_name, password_hash, role, mfa_secret, mfa_enabled, created_at, last_login_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.DisplayName, u.PasswordHash, u.Role, u.MFASecret, u.MFAEnabled, u.CreatedAt, u.LastLoginAt)
	if isUniqueViolation(err) {
		return apperr.Newf(apperr.Conflict, "username %q already exists", u.Username)
	}
	return err
}

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Role,
		&u.MFASecret, &u.MFAEnabled, &u.CreatedAt, &u.LastLoginAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "user not found")
		}
		return nil, err
	}
	return &u, nil
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, display_name, password_hash, role, mfa_secret, mfa_enabled, created_at, last_login_at
		 FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, display_name, password_hash, role, mfa_secret, mfa_enabled, created_at, last_login_at
		 FROM users WHERE username = ?`, username)
	return scanUser(row)
}

func (s *SQLiteStore) UpdateUser(ctx context.Context, u *User) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET display_name=?, password_hash=?, role=?, mfa_secret=?, mfa_enabled=?, last_login_at=?
		 WHERE id=?`,
		u.DisplayName, u.PasswordHash, u.Role, u.MFASecret, u.MFAEnabled, u.LastLoginAt, u.ID)
	if err != nil {
		return err
	}
	return requireRowsAffected(res, "user", u.ID)
}

func (s *SQLiteStore) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id)
	if err != nil {
		return err
	}
	return requireRowsAffected(res, "user", id)
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, display_name, password_hash, role, mfa_secret, mfa_enabled, created_at, last_login_at
		 FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Role,
			&u.MFASecret, &u.MFAEnabled, &u.CreatedAt, &u.LastLoginAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func requireRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.Newf(apperr.NotFound, "%s %q not found", kind, id)
	}
	return nil
}

// --- Organizations ---

func (s *SQLiteStore) CreateOrganization(ctx context.Context, org *Organization) error {
	settings := org.Settings
	if settings == nil {
		settings = json.RawMessage("{}")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO organizations (id, name, display_name, owner_user_id, settings, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		org.ID, org.Name, org.DisplayName, org.OwnerUserID, string(settings), org.CreatedAt, org.UpdatedAt)
	if isUniqueViolation(err) {
		return apperr.Newf(apperr.Conflict, "organization %q already exists", org.Name)
	}
	return err
}

func scanOrg(row interface{ Scan(...any) error }) (*Organization, error) {
	var org Organization
	var settings string
	if err := row.Scan(&org.ID, &org.Name, &org.DisplayName, &org.OwnerUserID, &settings, &org.CreatedAt, &org.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "organization not found")
		}
		return nil, err
	}
	org.Settings = json.RawMessage(settings)
	return &org, nil
}

func (s *SQLiteStore) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, display_name, owner_user_id, settings, created_at, updated_at FROM organizations WHERE id=?`, id)
	return scanOrg(row)
}

func (s *SQLiteStore) GetOrganizationByName(ctx context.Context, name string) (*Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, display_name, owner_user_id, settings, created_at, updated_at FROM organizations WHERE name=?`, name)
	return scanOrg(row)
}

func (s *SQLiteStore) UpdateOrganization(ctx context.Context, org *Organization) error {
	settings := org.Settings
	if settings == nil {
		settings = json.RawMessage("{}")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE organizations SET display_name=?, owner_user_id=?, settings=?, updated_at=? WHERE id=?`,
		org.DisplayName, org.OwnerUserID, string(settings), org.UpdatedAt, org.ID)
	if err != nil {
		return err
	}
	return requireRowsAffected(res, "organization", org.ID)
}

func (s *SQLiteStore) DeleteOrganization(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM organizations WHERE id=?`, id)
	if err != nil {
		return err
	}
	return requireRowsAffected(res, "organization", id)
}

func (s *SQLiteStore) ListOrganizations(ctx context.Context) ([]Organization, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, display_name, owner_user_id, settings, created_at, updated_at FROM organizations ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Organization
	for rows.Next() {
		var org Organization
		var settings string
		if err := rows.Scan(&org.ID, &org.Name, &org.DisplayName, &org.OwnerUserID, &settings, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, err
		}
		org.Settings = json.RawMessage(settings)
		out = append(out, org)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CountOrganizations(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM organizations`).Scan(&n)
	return n, err
}

// --- Org members ---

func (s *SQLiteStore) CreateOrgMember(ctx context.Context, m *OrgMember) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO org_members (org_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)`,
		m.OrgID, m.UserID, m.Role, m.JoinedAt)
	if isUniqueViolation(err) {
		return apperr.Newf(apperr.Conflict, "user %q is already a member of org %q", m.UserID, m.OrgID)
	}
	return err
}

func (s *SQLiteStore) GetOrgMember(ctx context.Context, orgID, userID string) (*OrgMember, error) {
	var m OrgMember
	err := s.db.QueryRowContext(ctx,
		`SELECT org_id, user_id, role, joined_at FROM org_members WHERE org_id=? AND user_id=?`, orgID, userID,
	).Scan(&m.OrgID, &m.UserID, &m.Role, &m.JoinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "org membership not found")
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLiteStore) ListOrgMembers(ctx context.Context, orgID string) ([]OrgMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT org_id, user_id, role, joined_at FROM org_members WHERE org_id=? ORDER BY joined_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OrgMember
	for rows.Next() {
		var m OrgMember
		if err := rows.Scan(&m.OrgID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListOrgsByUser(ctx context.Context, userID string) ([]OrgMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT org_id, user_id, role, joined_at FROM org_members WHERE user_id=? ORDER BY joined_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OrgMember
	for rows.Next() {
		var m OrgMember
		if err := rows.Scan(&m.OrgID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateOrgMemberRole(ctx context.Context, orgID, userID, role string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE org_members SET role=? WHERE org_id=? AND user_id=?`, role, orgID, userID)
	if err != nil {
		return err
	}
	return requireRowsAffected(res, "org membership", orgID+"/"+userID)
}

func (s *SQLiteStore) DeleteOrgMember(ctx context.Context, orgID, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM org_members WHERE org_id=? AND user_id=?`, orgID, userID)
	if err != nil {
		return err
	}
	return requireRowsAffected(res, "org membership", orgID+"/"+userID)
}

// --- Teams ---

func (s *SQLiteStore) CreateTeam(ctx context.Context, t *Team) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO teams (id, org_id, name, description) VALUES (?, ?, ?, ?)`,
		t.ID, t.OrgID, t.Name, t.Description)
	return err
}

func (s *SQLiteStore) GetTeam(ctx context.Context, id string) (*Team, error) {
	var t Team
	err := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, name, description FROM teams WHERE id=?`, id,
	).Scan(&t.ID, &t.OrgID, &t.Name, &t.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Newf(apperr.NotFound, "team %q not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLiteStore) ListTeamsByOrg(ctx context.Context, orgID string) ([]Team, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, org_id, name, description FROM teams WHERE org_id=? ORDER BY id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Team
	for rows.Next() {
		var t Team
		if err := rows.Scan(&t.ID, &t.OrgID, &t.Name, &t.Description); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteTeam(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM teams WHERE id=?`, id)
	if err != nil {
		return err
	}
	return requireRowsAffected(res, "team", id)
}

// --- Team members ---

func (s *SQLiteStore) CreateTeamMember(ctx context.Context, m *TeamMember) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO team_members (team_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)`,
		m.TeamID, m.UserID, m.Role, m.JoinedAt)
	return err
}

func (s *SQLiteStore) ListTeamMembers(ctx context.Context, teamID string) ([]TeamMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT team_id, user_id, role, joined_at FROM team_members WHERE team_id=? ORDER BY joined_at`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TeamMember
	for rows.Next() {
		var m TeamMember
		if err := rows.Scan(&m.TeamID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteTeamMember(ctx context.Context, teamID, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM team_members WHERE team_id=? AND user_id=?`, teamID, userID)
	if err != nil {
		return err
	}
	return requireRowsAffected(res, "team membership", teamID+"/"+userID)
}

// --- Permission policies ---

func (s *SQLiteStore) CreatePolicy(ctx context.Context, p *PermissionPolicy) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO permission_policies (id, subject, action, resource, effect, created_at, created_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Subject, p.Action, p.Resource, p.Effect, p.CreatedAt, p.CreatedBy)
	return err
}

func (s *SQLiteStore) GetPolicy(ctx context.Context, id string) (*PermissionPolicy, error) {
	var p PermissionPolicy
	err := s.db.QueryRowContext(ctx,
		`SELECT id, subject, action, resource, effect, created_at, created_by FROM permission_policies WHERE id=?`, id,
	).Scan(&p.ID, &p.Subject, &p.Action, &p.Resource, &p.Effect, &p.CreatedAt, &p.CreatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Newf(apperr.NotFound, "policy %q not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) ListPoliciesBySubjects(ctx context.Context, subjects []string) ([]PermissionPolicy, error) {
	if len(subjects) == 0 {
		return nil, nil
	}
	query := `SELECT id, subject, action, resource, effect, created_at, created_by FROM permission_policies WHERE subject IN (`
	args := make([]any, len(subjects))
	for i, subj := range subjects {
		if i > 0 {
			query += ","
		}
		query += "?"
		args[i] = subj
	}
	query += ") ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PermissionPolicy
	for rows.Next() {
		var p PermissionPolicy
		if err := rows.Scan(&p.ID, &p.Subject, &p.Action, &p.Resource, &p.Effect, &p.CreatedAt, &p.CreatedBy); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListAllPolicies(ctx context.Context) ([]PermissionPolicy, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subject, action, resource, effect, created_at, created_by FROM permission_policies ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PermissionPolicy
	for rows.Next() {
		var p PermissionPolicy
		if err := rows.Scan(&p.ID, &p.Subject, &p.Action, &p.Resource, &p.Effect, &p.CreatedAt, &p.CreatedBy); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeletePolicy(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM permission_policies WHERE id=?`, id)
	if err != nil {
		return err
	}
	return requireRowsAffected(res, "policy", id)
}

// --- Cron jobs ---

func (s *SQLiteStore) CreateCronJob(ctx context.Context, j *CronJob) error {
	cfg := j.AgentConfig
	if cfg == nil {
		cfg = json.RawMessage("{}")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cron_jobs (id, name, cron_expr, agent_config, owner_uid, enabled, last_fired_at, next_fire_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Name, j.CronExpr, string(cfg), j.OwnerUID, j.Enabled, j.LastFiredAt, j.NextFireAt)
	return err
}

func scanCronJob(row interface{ Scan(...any) error }) (*CronJob, error) {
	var j CronJob
	var cfg string
	if err := row.Scan(&j.ID, &j.Name, &j.CronExpr, &cfg, &j.OwnerUID, &j.Enabled, &j.LastFiredAt, &j.NextFireAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "cron job not found")
		}
		return nil, err
	}
	j.AgentConfig = json.RawMessage(cfg)
	return &j, nil
}

func (s *SQLiteStore) GetCronJob(ctx context.Context, id string) (*CronJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, cron_expr, agent_config, owner_uid, enabled, last_fired_at, next_fire_at FROM cron_jobs WHERE id=?`, id)
	return scanCronJob(row)
}

func (s *SQLiteStore) ListEnabledCronJobs(ctx context.Context) ([]CronJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, cron_expr, agent_config, owner_uid, enabled, last_fired_at, next_fire_at
		 FROM cron_jobs WHERE enabled=1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CronJob
	for rows.Next() {
		var j CronJob
		var cfg string
		if err := rows.Scan(&j.ID, &j.Name, &j.CronExpr, &cfg, &j.OwnerUID, &j.Enabled, &j.LastFiredAt, &j.NextFireAt); err != nil {
			return nil, err
		}
		j.AgentConfig = json.RawMessage(cfg)
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateCronJob(ctx context.Context, j *CronJob) error {
	cfg := j.AgentConfig
	if cfg == nil {
		cfg = json.RawMessage("{}")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE cron_jobs SET name=?, cron_expr=?, agent_config=?, enabled=?, last_fired_at=?, next_fire_at=? WHERE id=?`,
		j.Name, j.CronExpr, string(cfg), j.Enabled, j.LastFiredAt, j.NextFireAt, j.ID)
	if err != nil {
		return err
	}
	return requireRowsAffected(res, "cron job", j.ID)
}

func (s *SQLiteStore) DeleteCronJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cron_jobs WHERE id=?`, id)
	if err != nil {
		return err
	}
	return requireRowsAffected(res, "cron job", id)
}

// --- Event triggers ---

func (s *SQLiteStore) CreateEventTrigger(ctx context.Context, t *EventTrigger) error {
	filter := t.Filter
	if filter == nil {
		filter = json.RawMessage("{}")
	}
	cfg := t.AgentConfig
	if cfg == nil {
		cfg = json.RawMessage("{}")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_triggers (id, name, event_pattern, filter, agent_config, owner_uid, enabled, cooldown_ms, last_fired_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.EventPattern, string(filter), string(cfg), t.OwnerUID, t.Enabled, t.CooldownMs, t.LastFiredAt)
	return err
}

func scanEventTrigger(row interface{ Scan(...any) error }) (*EventTrigger, error) {
	var t EventTrigger
	var filter, cfg string
	if err := row.Scan(&t.ID, &t.Name, &t.EventPattern, &filter, &cfg, &t.OwnerUID, &t.Enabled, &t.CooldownMs, &t.LastFiredAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "event trigger not found")
		}
		return nil, err
	}
	t.Filter = json.RawMessage(filter)
	t.AgentConfig = json.RawMessage(cfg)
	return &t, nil
}

func (s *SQLiteStore) GetEventTrigger(ctx context.Context, id string) (*EventTrigger, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, event_pattern, filter, agent_config, owner_uid, enabled, cooldown_ms, last_fired_at
		 FROM event_triggers WHERE id=?`, id)
	return scanEventTrigger(row)
}

func (s *SQLiteStore) ListEnabledEventTriggers(ctx context.Context) ([]EventTrigger, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, event_pattern, filter, agent_config, owner_uid, enabled, cooldown_ms, last_fired_at
		 FROM event_triggers WHERE enabled=1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EventTrigger
	for rows.Next() {
		var t EventTrigger
		var filter, cfg string
		if err := rows.Scan(&t.ID, &t.Name, &t.EventPattern, &filter, &cfg, &t.OwnerUID, &t.Enabled, &t.CooldownMs, &t.LastFiredAt); err != nil {
			return nil, err
		}
		t.Filter = json.RawMessage(filter)
		t.AgentConfig = json.RawMessage(cfg)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateEventTrigger(ctx context.Context, t *EventTrigger) error {
	filter := t.Filter
	if filter == nil {
		filter = json.RawMessage("{}")
	}
	cfg := t.AgentConfig
	if cfg == nil {
		cfg = json.RawMessage("{}")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE event_triggers SET name=?, event_pattern=?, filter=?, agent_config=?, enabled=?, cooldown_ms=?, last_fired_at=? WHERE id=?`,
		t.Name, t.EventPattern, string(filter), string(cfg), t.Enabled, t.CooldownMs, t.LastFiredAt, t.ID)
	if err != nil {
		return err
	}
	return requireRowsAffected(res, "event trigger", t.ID)
}

func (s *SQLiteStore) DeleteEventTrigger(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM event_triggers WHERE id=?`, id)
	if err != nil {
		return err
	}
	return requireRowsAffected(res, "event trigger", id)
}

// --- Audit ---

func (s *SQLiteStore) AppendAudit(ctx context.Context, e *AuditEntry) error {
	detail := e.Detail
	if detail == nil {
		detail = json.RawMessage("{}")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_entries (id, ts, pid, uid, action, event_type, subject, resource, outcome, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp, e.PID, e.UID, e.Action, e.EventType, e.Subject, e.Resource, e.Outcome, string(detail))
	return err
}

func (s *SQLiteStore) QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, int, error) {
	where := "WHERE 1=1"
	var args []any
	if filter.PID != nil {
		where += " AND pid = ?"
		args = append(args, *filter.PID)
	}
	if filter.Action != "" {
		where += " AND action = ?"
		args = append(args, filter.Action)
	}
	if filter.EventType != "" {
		where += " AND event_type = ?"
		args = append(args, filter.EventType)
	}
	if filter.StartTime != nil {
		where += " AND ts >= ?"
		args = append(args, *filter.StartTime)
	}
	if filter.EndTime != nil {
		where += " AND ts <= ?"
		args = append(args, *filter.EndTime)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_entries "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT id, ts, pid, uid, action, event_type, subject, resource, outcome, detail FROM audit_entries " +
		where + " ORDER BY ts DESC"
	queryArgs := append([]any(nil), args...)
	if filter.Limit > 0 {
		query += " LIMIT ?"
		queryArgs = append(queryArgs, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			queryArgs = append(queryArgs, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var detail string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.PID, &e.UID, &e.Action, &e.EventType, &e.Subject, &e.Resource, &e.Outcome, &detail); err != nil {
			return nil, 0, err
		}
		e.Detail = json.RawMessage(detail)
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (s *SQLiteStore) PurgeOldAudit(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_entries WHERE ts < ?`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Plans ---

func (s *SQLiteStore) UpsertPlan(ctx context.Context, p *Plan) error {
	nodes := p.RootNodes
	if nodes == nil {
		nodes = json.RawMessage("[]")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plans (id, pid, uid, goal, root_nodes, created_at, status) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.PID, p.UID, p.Goal, string(nodes), p.CreatedAt, p.Status)
	return err
}

func (s *SQLiteStore) GetActivePlanByPID(ctx context.Context, pid int) (*Plan, error) {
	var p Plan
	var nodes string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, pid, uid, goal, root_nodes, created_at, status FROM plans WHERE pid=? ORDER BY created_at DESC LIMIT 1`, pid,
	).Scan(&p.ID, &p.PID, &p.UID, &p.Goal, &nodes, &p.CreatedAt, &p.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Newf(apperr.NotFound, "no plan for pid %d", pid)
	}
	if err != nil {
		return nil, err
	}
	p.RootNodes = json.RawMessage(nodes)
	return &p, nil
}

// --- KV ---

func (s *SQLiteStore) GetKV(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *SQLiteStore) SetKV(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_store (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value)
	return err
}
