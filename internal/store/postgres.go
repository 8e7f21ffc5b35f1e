package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aether-os/kernel/internal/apperr"
)

// PostgresStore implements Store on top of jackc/pgx/v5's connection pool,
// for deployments that need a shared, horizontally-reachable StateStore
// rather than the single-file SQLiteStore.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn and runs migrations.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'user',
			mfa_secret TEXT NOT NULL DEFAULT '',
			mfa_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_login_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS organizations (
			id TEXT PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			owner_user_id TEXT NOT NULL DEFAULT '',
			settings JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS org_members (
			org_id TEXT NOT NULL REFERENCES organizations(id),
			user_id TEXT NOT NULL REFERENCES users(id),
			role TEXT NOT NULL DEFAULT 'member',
			joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
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
			joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (team_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS permission_policies (
			id TEXT PRIMARY KEY,
			subject TEXT NOT NULL,
			action TEXT NOT NULL,
			resource TEXT NOT NULL,
			effect TEXT NOT NULL DEFAULT 'deny',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			created_by TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_policies_subject ON permission_policies(subject)`,
		`CREATE TABLE IF NOT EXISTS cron_jobs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			cron_expr TEXT NOT NULL,
			agent_config JSONB NOT NULL DEFAULT '{}',
			owner_uid TEXT NOT NULL DEFAULT '',
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			last_fired_at TIMESTAMPTZ,
			next_fire_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cron_jobs_enabled ON cron_jobs(enabled)`,
		`CREATE TABLE IF NOT EXISTS event_triggers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			event_pattern TEXT NOT NULL,
			filter JSONB NOT NULL DEFAULT '{}',
			agent_config JSONB NOT NULL DEFAULT '{}',
			owner_uid TEXT NOT NULL DEFAULT '',
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			cooldown_ms BIGINT NOT NULL DEFAULT 0,
			last_fired_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_triggers_enabled ON event_triggers(enabled)`,
		`CREATE TABLE IF NOT EXISTS audit_entries (
			id TEXT PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL DEFAULT now(),
			pid INTEGER,
			uid TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			event_type TEXT NOT NULL DEFAULT '',
			subject TEXT NOT NULL DEFAULT '',
			resource TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL DEFAULT '',
			detail JSONB NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entries_ts ON audit_entries(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entries_action ON audit_entries(action)`,
		`CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			pid INTEGER NOT NULL,
			uid TEXT NOT NULL DEFAULT '',
			goal TEXT NOT NULL DEFAULT '',
			root_nodes JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			status TEXT NOT NULL DEFAULT 'active'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_plans_pid ON plans(pid, created_at)`,
		`CREATE TABLE IF NOT EXISTS kv_store (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := s.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w\n  SQL: %s", err, m)
		}
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }
func (s *PostgresStore) Close() error                   { s.pool.Close(); return nil }

func pgUniqueViolation(err error) bool {
	return err != nil && contains(err.Error(), "duplicate key value violates unique constraint")
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username, display_name, password_hash, role, mfa_secret, mfa_enabled, created_at, last_login_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		u.ID, u.Username, u.DisplayName, u.PasswordHash, u.Role, u.MFASecret, u.MFAEnabled, u.CreatedAt, u.LastLoginAt)
	if pgUniqueViolation(err) {
		return apperr.Newf(apperr.Conflict, "username %q already exists", u.Username)
	}
	return err
}

func scanPgUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Role,
		&u.MFASecret, &u.MFAEnabled, &u.CreatedAt, &u.LastLoginAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "user not found")
		}
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, username, display_name, password_hash, role, mfa_secret, mfa_enabled, created_at, last_login_at
		 FROM users WHERE id=$1`, id)
	return scanPgUser(row)
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, username, display_name, password_hash, role, mfa_secret, mfa_enabled, created_at, last_login_at
		 FROM users WHERE username=$1`, username)
	return scanPgUser(row)
}

func (s *PostgresStore) UpdateUser(ctx context.Context, u *User) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET display_name=$1, password_hash=$2, role=$3, mfa_secret=$4, mfa_enabled=$5, last_login_at=$6 WHERE id=$7`,
		u.DisplayName, u.PasswordHash, u.Role, u.MFASecret, u.MFAEnabled, u.LastLoginAt, u.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.NotFound, "user %q not found", u.ID)
	}
	return nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.NotFound, "user %q not found", id)
	}
	return nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.pool.Query(ctx,
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

// --- Organizations ---

func (s *PostgresStore) CreateOrganization(ctx context.Context, org *Organization) error {
	settings := org.Settings
	if settings == nil {
		settings = json.RawMessage("{}")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO organizations (id, name, display_name, owner_user_id, settings, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		org.ID, org.Name, org.DisplayName, org.OwnerUserID, settings, org.CreatedAt, org.UpdatedAt)
	if pgUniqueViolation(err) {
		return apperr.Newf(apperr.Conflict, "organization %q already exists", org.Name)
	}
	return err
}

func scanPgOrg(row pgx.Row) (*Organization, error) {
	var org Organization
	if err := row.Scan(&org.ID, &org.Name, &org.DisplayName, &org.OwnerUserID, &org.Settings, &org.CreatedAt, &org.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "organization not found")
		}
		return nil, err
	}
	return &org, nil
}

func (s *PostgresStore) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, display_name, owner_user_id, settings, created_at, updated_at FROM organizations WHERE id=$1`, id)
	return scanPgOrg(row)
}

func (s *PostgresStore) GetOrganizationByName(ctx context.Context, name string) (*Organization, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, display_name, owner_user_id, settings, created_at, updated_at FROM organizations WHERE name=$1`, name)
	return scanPgOrg(row)
}

func (s *PostgresStore) UpdateOrganization(ctx context.Context, org *Organization) error {
	settings := org.Settings
	if settings == nil {
		settings = json.RawMessage("{}")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE organizations SET display_name=$1, owner_user_id=$2, settings=$3, updated_at=$4 WHERE id=$5`,
		org.DisplayName, org.OwnerUserID, settings, org.UpdatedAt, org.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.NotFound, "organization %q not found", org.ID)
	}
	return nil
}

func (s *PostgresStore) DeleteOrganization(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM organizations WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.NotFound, "organization %q not found", id)
	}
	return nil
}

func (s *PostgresStore) ListOrganizations(ctx context.Context) ([]Organization, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, display_name, owner_user_id, settings, created_at, updated_at FROM organizations ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Organization
	for rows.Next() {
		var org Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.DisplayName, &org.OwnerUserID, &org.Settings, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountOrganizations(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM organizations`).Scan(&n)
	return n, err
}

// --- Org members ---

func (s *PostgresStore) CreateOrgMember(ctx context.Context, m *OrgMember) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO org_members (org_id, user_id, role, joined_at) VALUES ($1,$2,$3,$4)`,
		m.OrgID, m.UserID, m.Role, m.JoinedAt)
	if pgUniqueViolation(err) {
		return apperr.Newf(apperr.Conflict, "user %q is already a member of org %q", m.UserID, m.OrgID)
	}
	return err
}

func (s *PostgresStore) GetOrgMember(ctx context.Context, orgID, userID string) (*OrgMember, error) {
	var m OrgMember
	err := s.pool.QueryRow(ctx,
		`SELECT org_id, user_id, role, joined_at FROM org_members WHERE org_id=$1 AND user_id=$2`, orgID, userID,
	).Scan(&m.OrgID, &m.UserID, &m.Role, &m.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "org membership not found")
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) ListOrgMembers(ctx context.Context, orgID string) ([]OrgMember, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT org_id, user_id, role, joined_at FROM org_members WHERE org_id=$1 ORDER BY joined_at`, orgID)
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

func (s *PostgresStore) ListOrgsByUser(ctx context.Context, userID string) ([]OrgMember, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT org_id, user_id, role, joined_at FROM org_members WHERE user_id=$1 ORDER BY joined_at`, userID)
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

func (s *PostgresStore) UpdateOrgMemberRole(ctx context.Context, orgID, userID, role string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE org_members SET role=$1 WHERE org_id=$2 AND user_id=$3`, role, orgID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "org membership not found")
	}
	return nil
}

func (s *PostgresStore) DeleteOrgMember(ctx context.Context, orgID, userID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM org_members WHERE org_id=$1 AND user_id=$2`, orgID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "org membership not found")
	}
	return nil
}

// --- Teams ---

func (s *PostgresStore) CreateTeam(ctx context.Context, t *Team) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO teams (id, org_id, name, description) VALUES ($1,$2,$3,$4)`,
		t.ID, t.OrgID, t.Name, t.Description)
	return err
}

func (s *PostgresStore) GetTeam(ctx context.Context, id string) (*Team, error) {
	var t Team
	err := s.pool.QueryRow(ctx, `SELECT id, org_id, name, description FROM teams WHERE id=$1`, id).
		Scan(&t.ID, &t.OrgID, &t.Name, &t.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.NotFound, "team %q not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) ListTeamsByOrg(ctx context.Context, orgID string) ([]Team, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, org_id, name, description FROM teams WHERE org_id=$1 ORDER BY id`, orgID)
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

func (s *PostgresStore) DeleteTeam(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM teams WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.NotFound, "team %q not found", id)
	}
	return nil
}

// --- Team members ---

func (s *PostgresStore) CreateTeamMember(ctx context.Context, m *TeamMember) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO team_members (team_id, user_id, role, joined_at) VALUES ($1,$2,$3,$4)`,
		m.TeamID, m.UserID, m.Role, m.JoinedAt)
	return err
}

func (s *PostgresStore) ListTeamMembers(ctx context.Context, teamID string) ([]TeamMember, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT team_id, user_id, role, joined_at FROM team_members WHERE team_id=$1 ORDER BY joined_at`, teamID)
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

func (s *PostgresStore) DeleteTeamMember(ctx context.Context, teamID, userID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM team_members WHERE team_id=$1 AND user_id=$2`, teamID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "team membership not found")
	}
	return nil
}

// --- Permission policies ---

func (s *PostgresStore) CreatePolicy(ctx context.Context, p *PermissionPolicy) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO permission_policies (id, subject, action, resource, effect, created_at, created_by)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.Subject, p.Action, p.Resource, p.Effect, p.CreatedAt, p.CreatedBy)
	return err
}

func (s *PostgresStore) GetPolicy(ctx context.Context, id string) (*PermissionPolicy, error) {
	var p PermissionPolicy
	err := s.pool.QueryRow(ctx,
		`SELECT id, subject, action, resource, effect, created_at, created_by FROM permission_policies WHERE id=$1`, id,
	).Scan(&p.ID, &p.Subject, &p.Action, &p.Resource, &p.Effect, &p.CreatedAt, &p.CreatedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.NotFound, "policy %q not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) ListPoliciesBySubjects(ctx context.Context, subjects []string) ([]PermissionPolicy, error) {
	if len(subjects) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, subject, action, resource, effect, created_at, created_by
		 FROM permission_policies WHERE subject = ANY($1) ORDER BY created_at`, subjects)
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

func (s *PostgresStore) ListAllPolicies(ctx context.Context) ([]PermissionPolicy, error) {
	rows, err := s.pool.Query(ctx,
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

func (s *PostgresStore) DeletePolicy(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM permission_policies WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.NotFound, "policy %q not found", id)
	}
	return nil
}

// --- Cron jobs ---

func (s *PostgresStore) CreateCronJob(ctx context.Context, j *CronJob) error {
	cfg := j.AgentConfig
	if cfg == nil {
		cfg = json.RawMessage("{}")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cron_jobs (id, name, cron_expr, agent_config, owner_uid, enabled, last_fired_at, next_fire_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		j.ID, j.Name, j.CronExpr, cfg, j.OwnerUID, j.Enabled, j.LastFiredAt, j.NextFireAt)
	return err
}

func (s *PostgresStore) GetCronJob(ctx context.Context, id string) (*CronJob, error) {
	var j CronJob
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, cron_expr, agent_config, owner_uid, enabled, last_fired_at, next_fire_at FROM cron_jobs WHERE id=$1`, id,
	).Scan(&j.ID, &j.Name, &j.CronExpr, &j.AgentConfig, &j.OwnerUID, &j.Enabled, &j.LastFiredAt, &j.NextFireAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "cron job not found")
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) ListEnabledCronJobs(ctx context.Context) ([]CronJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, cron_expr, agent_config, owner_uid, enabled, last_fired_at, next_fire_at
		 FROM cron_jobs WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CronJob
	for rows.Next() {
		var j CronJob
		if err := rows.Scan(&j.ID, &j.Name, &j.CronExpr, &j.AgentConfig, &j.OwnerUID, &j.Enabled, &j.LastFiredAt, &j.NextFireAt); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateCronJob(ctx context.Context, j *CronJob) error {
	cfg := j.AgentConfig
	if cfg == nil {
		cfg = json.RawMessage("{}")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE cron_jobs SET name=$1, cron_expr=$2, agent_config=$3, enabled=$4, last_fired_at=$5, next_fire_at=$6 WHERE id=$7`,
		j.Name, j.CronExpr, cfg, j.Enabled, j.LastFiredAt, j.NextFireAt, j.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.NotFound, "cron job %q not found", j.ID)
	}
	return nil
}

func (s *PostgresStore) DeleteCronJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cron_jobs WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.NotFound, "cron job %q not found", id)
	}
	return nil
}

// --- Event triggers ---

func (s *PostgresStore) CreateEventTrigger(ctx context.Context, t *EventTrigger) error {
	filter := t.Filter
	if filter == nil {
		filter = json.RawMessage("{}")
	}
	cfg := t.AgentConfig
	if cfg == nil {
		cfg = json.RawMessage("{}")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO event_triggers (id, name, event_pattern, filter, agent_config, owner_uid, enabled, cooldown_ms, last_fired_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		t.ID, t.Name, t.EventPattern, filter, cfg, t.OwnerUID, t.Enabled, t.CooldownMs, t.LastFiredAt)
	return err
}

func (s *PostgresStore) GetEventTrigger(ctx context.Context, id string) (*EventTrigger, error) {
	var t EventTrigger
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, event_pattern, filter, agent_config, owner_uid, enabled, cooldown_ms, last_fired_at
		 FROM event_triggers WHERE id=$1`, id,
	).Scan(&t.ID, &t.Name, &t.EventPattern, &t.Filter, &t.AgentConfig, &t.OwnerUID, &t.Enabled, &t.CooldownMs, &t.LastFiredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "event trigger not found")
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) ListEnabledEventTriggers(ctx context.Context) ([]EventTrigger, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, event_pattern, filter, agent_config, owner_uid, enabled, cooldown_ms, last_fired_at
		 FROM event_triggers WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EventTrigger
	for rows.Next() {
		var t EventTrigger
		if err := rows.Scan(&t.ID, &t.Name, &t.EventPattern, &t.Filter, &t.AgentConfig, &t.OwnerUID, &t.Enabled, &t.CooldownMs, &t.LastFiredAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateEventTrigger(ctx context.Context, t *EventTrigger) error {
	filter := t.Filter
	if filter == nil {
		filter = json.RawMessage("{}")
	}
	cfg := t.AgentConfig
	if cfg == nil {
		cfg = json.RawMessage("{}")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE event_triggers SET name=$1, event_pattern=$2, filter=$3, agent_config=$4, enabled=$5, cooldown_ms=$6, last_fired_at=$7 WHERE id=$8`,
		t.Name, t.EventPattern, filter, cfg, t.Enabled, t.CooldownMs, t.LastFiredAt, t.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.NotFound, "event trigger %q not found", t.ID)
	}
	return nil
}

func (s *PostgresStore) DeleteEventTrigger(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM event_triggers WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.NotFound, "event trigger %q not found", id)
	}
	return nil
}

// --- Audit ---

func (s *PostgresStore) AppendAudit(ctx context.Context, e *AuditEntry) error {
	detail := e.Detail
	if detail == nil {
		detail = json.RawMessage("{}")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_entries (id, ts, pid, uid, action, event_type, subject, resource, outcome, detail)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, e.Timestamp, e.PID, e.UID, e.Action, e.EventType, e.Subject, e.Resource, e.Outcome, detail)
	return err
}

func (s *PostgresStore) QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, int, error) {
	where := "WHERE 1=1"
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.PID != nil {
		where += " AND pid = " + arg(*filter.PID)
	}
	if filter.Action != "" {
		where += " AND action = " + arg(filter.Action)
	}
	if filter.EventType != "" {
		where += " AND event_type = " + arg(filter.EventType)
	}
	if filter.StartTime != nil {
		where += " AND ts >= " + arg(*filter.StartTime)
	}
	if filter.EndTime != nil {
		where += " AND ts <= " + arg(*filter.EndTime)
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_entries "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT id, ts, pid, uid, action, event_type, subject, resource, outcome, detail FROM audit_entries " +
		where + " ORDER BY ts DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET " + arg(filter.Offset)
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.PID, &e.UID, &e.Action, &e.EventType, &e.Subject, &e.Resource, &e.Outcome, &e.Detail); err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (s *PostgresStore) PurgeOldAudit(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_entries WHERE ts < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- Plans ---

func (s *PostgresStore) UpsertPlan(ctx context.Context, p *Plan) error {
	nodes := p.RootNodes
	if nodes == nil {
		nodes = json.RawMessage("[]")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO plans (id, pid, uid, goal, root_nodes, created_at, status) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.PID, p.UID, p.Goal, nodes, p.CreatedAt, p.Status)
	return err
}

func (s *PostgresStore) GetActivePlanByPID(ctx context.Context, pid int) (*Plan, error) {
	var p Plan
	err := s.pool.QueryRow(ctx,
		`SELECT id, pid, uid, goal, root_nodes, created_at, status FROM plans WHERE pid=$1 ORDER BY created_at DESC LIMIT 1`, pid,
	).Scan(&p.ID, &p.PID, &p.UID, &p.Goal, &p.RootNodes, &p.CreatedAt, &p.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.NotFound, "no plan for pid %d", pid)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// --- KV ---

func (s *PostgresStore) GetKV(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.pool.QueryRow(ctx, `SELECT value FROM kv_store WHERE key=$1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *PostgresStore) SetKV(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO kv_store (key, value) VALUES ($1,$2) ON CONFLICT (key) DO UPDATE SET value=excluded.value`,
		key, value)
	return err
}
