// Package store defines the kernel's persistence contract (StateStore) and
// provides SQLite, PostgreSQL, and in-memory implementations of it. The core
// depends only on the narrow interface declared here; concrete storage
// engines are interchangeable collaborators per spec.md §4.2.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the persistence interface every kernel subsystem is built
// against. Implementations must provide atomic single-row reads/writes,
// unique secondary indexes on username and org name, deterministic
// enumeration order (users, orgs and policies by creation time, members by
// join time, teams, cron jobs and triggers by id, audit entries newest
// first), and a fail-fast
// durability contract: once a write returns, the data survives restart.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	UpdateUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context) ([]User, error)

	// Organizations
	CreateOrganization(ctx context.Context, org *Organization) error
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	GetOrganizationByName(ctx context.Context, name string) (*Organization, error)
	UpdateOrganization(ctx context.Context, org *Organization) error
	DeleteOrganization(ctx context.Context, id string) error
	ListOrganizations(ctx context.Context) ([]Organization, error)
	CountOrganizations(ctx context.Context) (int, error)

	// Org members
	CreateOrgMember(ctx context.Context, m *OrgMember) error
	GetOrgMember(ctx context.Context, orgID, userID string) (*OrgMember, error)
	ListOrgMembers(ctx context.Context, orgID string) ([]OrgMember, error)
	ListOrgsByUser(ctx context.Context, userID string) ([]OrgMember, error)
	UpdateOrgMemberRole(ctx context.Context, orgID, userID, role string) error
	DeleteOrgMember(ctx context.Context, orgID, userID string) error

	// Teams
	CreateTeam(ctx context.Context, t *Team) error
	GetTeam(ctx context.Context, id string) (*Team, error)
	ListTeamsByOrg(ctx context.Context, orgID string) ([]Team, error)
	DeleteTeam(ctx context.Context, id string) error

	// Team members
	CreateTeamMember(ctx context.Context, m *TeamMember) error
	ListTeamMembers(ctx context.Context, teamID string) ([]TeamMember, error)
	DeleteTeamMember(ctx context.Context, teamID, userID string) error

	// Permission policies
	CreatePolicy(ctx context.Context, p *PermissionPolicy) error
	GetPolicy(ctx context.Context, id string) (*PermissionPolicy, error)
	ListPoliciesBySubjects(ctx context.Context, subjects []string) ([]PermissionPolicy, error)
	ListAllPolicies(ctx context.Context) ([]PermissionPolicy, error)
	DeletePolicy(ctx context.Context, id string) error

	// Cron jobs
	CreateCronJob(ctx context.Context, j *CronJob) error
	GetCronJob(ctx context.Context, id string) (*CronJob, error)
	ListEnabledCronJobs(ctx context.Context) ([]CronJob, error)
	UpdateCronJob(ctx context.Context, j *CronJob) error
	DeleteCronJob(ctx context.Context, id string) error

	// Event triggers
	CreateEventTrigger(ctx context.Context, t *EventTrigger) error
	GetEventTrigger(ctx context.Context, id string) (*EventTrigger, error)
	ListEnabledEventTriggers(ctx context.Context) ([]EventTrigger, error)
	UpdateEventTrigger(ctx context.Context, t *EventTrigger) error
	DeleteEventTrigger(ctx context.Context, id string) error

	// Audit
	AppendAudit(ctx context.Context, e *AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, int, error)
	PurgeOldAudit(ctx context.Context, before time.Time) (int64, error)

	// Plans
	UpsertPlan(ctx context.Context, p *Plan) error
	GetActivePlanByPID(ctx context.Context, pid int) (*Plan, error)

	// Opaque KV blobs (e.g. remote-access snapshots, process config overrides)
	GetKV(ctx context.Context, key string) (string, bool, error)
	SetKV(ctx context.Context, key, value string) error

	Ping(ctx context.Context) error
	Close() error
}

// User mirrors spec.md §3's User entity.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	DisplayName  string     `json:"display_name"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"` // "admin" or "user"
	MFASecret    string     `json:"-"`
	MFAEnabled   bool       `json:"mfa_enabled"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// Organization mirrors spec.md §3's Organization entity.
type Organization struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	DisplayName string          `json:"display_name"`
	OwnerUserID string          `json:"owner_user_id"`
	Settings    json.RawMessage `json:"settings,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// OrgMember mirrors spec.md §3's OrgMember entity.
type OrgMember struct {
	OrgID    string    `json:"org_id"`
	UserID   string    `json:"user_id"`
	Role     string    `json:"role"` // owner, admin, member, viewer
	JoinedAt time.Time `json:"joined_at"`
}

// Team mirrors spec.md §3's Team entity.
type Team struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// TeamMember mirrors spec.md §3's TeamMember entity.
type TeamMember struct {
	TeamID   string    `json:"team_id"`
	UserID   string    `json:"user_id"`
	Role     string    `json:"role"` // lead, member
	JoinedAt time.Time `json:"joined_at"`
}

// PermissionPolicy mirrors spec.md §3's PermissionPolicy entity.
type PermissionPolicy struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	Effect    string    `json:"effect"` // allow, deny
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by,omitempty"`
}

// CronJob mirrors spec.md §3's CronJob entity.
type CronJob struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	CronExpr    string          `json:"cron_expr"`
	AgentConfig json.RawMessage `json:"agent_config"`
	OwnerUID    string          `json:"owner_uid"`
	Enabled     bool            `json:"enabled"`
	LastFiredAt *time.Time      `json:"last_fired_at,omitempty"`
	NextFireAt  *time.Time      `json:"next_fire_at,omitempty"`
}

// EventTrigger mirrors spec.md §3's EventTrigger entity.
type EventTrigger struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	EventPattern string         `json:"event_pattern"`
	Filter      json.RawMessage `json:"filter,omitempty"`
	AgentConfig json.RawMessage `json:"agent_config"`
	OwnerUID    string          `json:"owner_uid"`
	Enabled     bool            `json:"enabled"`
	CooldownMs  int64           `json:"cooldown_ms"`
	LastFiredAt *time.Time      `json:"last_fired_at,omitempty"`
}

// AuditEntry mirrors spec.md §3's AuditEntry entity.
type AuditEntry struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"ts"`
	PID       *int            `json:"pid,omitempty"`
	UID       string          `json:"uid,omitempty"`
	Action    string          `json:"action"`
	EventType string          `json:"event_type"`
	Subject   string          `json:"subject,omitempty"`
	Resource  string          `json:"resource,omitempty"`
	Outcome   string          `json:"outcome"`
	Detail    json.RawMessage `json:"detail,omitempty"`
}

// AuditFilter specifies criteria for filtering audit entries.
type AuditFilter struct {
	PID       *int
	Action    string
	EventType string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// Plan mirrors spec.md §3's Plan entity.
type Plan struct {
	ID        string          `json:"id"`
	PID       int             `json:"pid"`
	UID       string          `json:"uid"`
	Goal      string          `json:"goal"`
	RootNodes json.RawMessage `json:"root_nodes"`
	CreatedAt time.Time       `json:"created_at"`
	Status    string          `json:"status"`
}
