package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aether-os/kernel/internal/apperr"
)

// MemoryStore is an in-process Store backed by maps under a single mutex. It
// exists for fast unit testing of the layers built on top of Store and for
// single-process evaluation runs that don't need durability.
type MemoryStore struct {
	mu sync.RWMutex

	users       map[string]User
	usersByName map[string]string // username -> id

	orgs       map[string]Organization
	orgsByName map[string]string // name -> id

	orgMembers  map[string]OrgMember // orgID+"\x00"+userID -> member
	teams       map[string]Team
	teamMembers map[string]TeamMember // teamID+"\x00"+userID -> member

	policies map[string]PermissionPolicy
	cronJobs map[string]CronJob
	triggers map[string]EventTrigger

	audit   []AuditEntry
	plans   map[int]Plan // pid -> latest plan
	kv      map[string]string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]User),
		usersByName: make(map[string]string),
		orgs:        make(map[string]Organization),
		orgsByName:  make(map[string]string),
		orgMembers:  make(map[string]OrgMember),
		teams:       make(map[string]Team),
		teamMembers: make(map[string]TeamMember),
		policies:    make(map[string]PermissionPolicy),
		cronJobs:    make(map[string]CronJob),
		triggers:    make(map[string]EventTrigger),
		plans:       make(map[int]Plan),
		kv:          make(map[string]string),
	}
}

func memberKey(a, b string) string { return a + "\x00" + b }

// --- Users ---

func (m *MemoryStore) CreateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.usersByName[u.Username]; exists {
		return apperr.Newf(apperr.Conflict, "username %q already exists", u.Username)
	}
	m.users[u.ID] = *u
	m.usersByName[u.Username] = u.ID
	return nil
}

func (m *MemoryStore) GetUserByID(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "user %q not found", id)
	}
	return &u, nil
}

func (m *MemoryStore) GetUserByUsername(_ context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.usersByName[username]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "user %q not found", username)
	}
	u := m.users[id]
	return &u, nil
}

func (m *MemoryStore) UpdateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return apperr.Newf(apperr.NotFound, "user %q not found", u.ID)
	}
	m.users[u.ID] = *u
	return nil
}

func (m *MemoryStore) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return apperr.Newf(apperr.NotFound, "user %q not found", id)
	}
	delete(m.users, id)
	delete(m.usersByName, u.Username)
	return nil
}

func (m *MemoryStore) ListUsers(_ context.Context) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- Organizations ---

func (m *MemoryStore) CreateOrganization(_ context.Context, org *Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orgsByName[org.Name]; exists {
		return apperr.Newf(apperr.Conflict, "organization %q already exists", org.Name)
	}
	m.orgs[org.ID] = *org
	m.orgsByName[org.Name] = org.ID
	return nil
}

func (m *MemoryStore) GetOrganization(_ context.Context, id string) (*Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orgs[id]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "organization %q not found", id)
	}
	return &o, nil
}

func (m *MemoryStore) GetOrganizationByName(_ context.Context, name string) (*Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.orgsByName[name]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "organization %q not found", name)
	}
	o := m.orgs[id]
	return &o, nil
}

func (m *MemoryStore) UpdateOrganization(_ context.Context, org *Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orgs[org.ID]; !ok {
		return apperr.Newf(apperr.NotFound, "organization %q not found", org.ID)
	}
	m.orgs[org.ID] = *org
	return nil
}

func (m *MemoryStore) DeleteOrganization(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orgs[id]
	if !ok {
		return apperr.Newf(apperr.NotFound, "organization %q not found", id)
	}
	delete(m.orgs, id)
	delete(m.orgsByName, o.Name)
	return nil
}

func (m *MemoryStore) ListOrganizations(_ context.Context) ([]Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Organization, 0, len(m.orgs))
	for _, o := range m.orgs {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CountOrganizations(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.orgs), nil
}

// --- Org members ---

func (m *MemoryStore) CreateOrgMember(_ context.Context, om *OrgMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memberKey(om.OrgID, om.UserID)
	if _, exists := m.orgMembers[key]; exists {
		return apperr.Newf(apperr.Conflict, "user %q is already a member of org %q", om.UserID, om.OrgID)
	}
	m.orgMembers[key] = *om
	return nil
}

func (m *MemoryStore) GetOrgMember(_ context.Context, orgID, userID string) (*OrgMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	om, ok := m.orgMembers[memberKey(orgID, userID)]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "org membership not found")
	}
	return &om, nil
}

func (m *MemoryStore) ListOrgMembers(_ context.Context, orgID string) ([]OrgMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []OrgMember
	for _, om := range m.orgMembers {
		if om.OrgID == orgID {
			out = append(out, om)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (m *MemoryStore) ListOrgsByUser(_ context.Context, userID string) ([]OrgMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []OrgMember
	for _, om := range m.orgMembers {
		if om.UserID == userID {
			out = append(out, om)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (m *MemoryStore) UpdateOrgMemberRole(_ context.Context, orgID, userID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memberKey(orgID, userID)
	om, ok := m.orgMembers[key]
	if !ok {
		return apperr.New(apperr.NotFound, "org membership not found")
	}
	om.Role = role
	m.orgMembers[key] = om
	return nil
}

func (m *MemoryStore) DeleteOrgMember(_ context.Context, orgID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memberKey(orgID, userID)
	if _, ok := m.orgMembers[key]; !ok {
		return apperr.New(apperr.NotFound, "org membership not found")
	}
	delete(m.orgMembers, key)
	return nil
}

// --- Teams ---

func (m *MemoryStore) CreateTeam(_ context.Context, t *Team) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teams[t.ID] = *t
	return nil
}

func (m *MemoryStore) GetTeam(_ context.Context, id string) (*Team, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.teams[id]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "team %q not found", id)
	}
	return &t, nil
}

func (m *MemoryStore) ListTeamsByOrg(_ context.Context, orgID string) ([]Team, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Team
	for _, t := range m.teams {
		if t.OrgID == orgID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) DeleteTeam(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.teams[id]; !ok {
		return apperr.Newf(apperr.NotFound, "team %q not found", id)
	}
	delete(m.teams, id)
	return nil
}

// --- Team members ---

func (m *MemoryStore) CreateTeamMember(_ context.Context, tm *TeamMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teamMembers[memberKey(tm.TeamID, tm.UserID)] = *tm
	return nil
}

func (m *MemoryStore) ListTeamMembers(_ context.Context, teamID string) ([]TeamMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []TeamMember
	for _, tm := range m.teamMembers {
		if tm.TeamID == teamID {
			out = append(out, tm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (m *MemoryStore) DeleteTeamMember(_ context.Context, teamID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memberKey(teamID, userID)
	if _, ok := m.teamMembers[key]; !ok {
		return apperr.New(apperr.NotFound, "team membership not found")
	}
	delete(m.teamMembers, key)
	return nil
}

// --- Permission policies ---

func (m *MemoryStore) CreatePolicy(_ context.Context, p *PermissionPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[p.ID] = *p
	return nil
}

func (m *MemoryStore) GetPolicy(_ context.Context, id string) (*PermissionPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[id]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "policy %q not found", id)
	}
	return &p, nil
}

func (m *MemoryStore) ListPoliciesBySubjects(_ context.Context, subjects []string) ([]PermissionPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := make(map[string]bool, len(subjects))
	for _, s := range subjects {
		want[s] = true
	}
	var out []PermissionPolicy
	for _, p := range m.policies {
		if want[p.Subject] {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListAllPolicies(_ context.Context) ([]PermissionPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PermissionPolicy, 0, len(m.policies))
	for _, p := range m.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) DeletePolicy(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[id]; !ok {
		return apperr.Newf(apperr.NotFound, "policy %q not found", id)
	}
	delete(m.policies, id)
	return nil
}

// --- Cron jobs ---

func (m *MemoryStore) CreateCronJob(_ context.Context, j *CronJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cronJobs[j.ID] = *j
	return nil
}

func (m *MemoryStore) GetCronJob(_ context.Context, id string) (*CronJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.cronJobs[id]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "cron job %q not found", id)
	}
	return &j, nil
}

func (m *MemoryStore) ListEnabledCronJobs(_ context.Context) ([]CronJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []CronJob
	for _, j := range m.cronJobs {
		if j.Enabled {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) UpdateCronJob(_ context.Context, j *CronJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cronJobs[j.ID]; !ok {
		return apperr.Newf(apperr.NotFound, "cron job %q not found", j.ID)
	}
	m.cronJobs[j.ID] = *j
	return nil
}

func (m *MemoryStore) DeleteCronJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cronJobs[id]; !ok {
		return apperr.Newf(apperr.NotFound, "cron job %q not found", id)
	}
	delete(m.cronJobs, id)
	return nil
}

// --- Event triggers ---

func (m *MemoryStore) CreateEventTrigger(_ context.Context, t *EventTrigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers[t.ID] = *t
	return nil
}

func (m *MemoryStore) GetEventTrigger(_ context.Context, id string) (*EventTrigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.triggers[id]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "event trigger %q not found", id)
	}
	return &t, nil
}

func (m *MemoryStore) ListEnabledEventTriggers(_ context.Context) ([]EventTrigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []EventTrigger
	for _, t := range m.triggers {
		if t.Enabled {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) UpdateEventTrigger(_ context.Context, t *EventTrigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.triggers[t.ID]; !ok {
		return apperr.Newf(apperr.NotFound, "event trigger %q not found", t.ID)
	}
	m.triggers[t.ID] = *t
	return nil
}

func (m *MemoryStore) DeleteEventTrigger(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.triggers[id]; !ok {
		return apperr.Newf(apperr.NotFound, "event trigger %q not found", id)
	}
	delete(m.triggers, id)
	return nil
}

// --- Audit ---

func (m *MemoryStore) AppendAudit(_ context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, *e)
	return nil
}

func (m *MemoryStore) QueryAudit(_ context.Context, filter AuditFilter) ([]AuditEntry, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []AuditEntry
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if filter.PID != nil && (e.PID == nil || *e.PID != *filter.PID) {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.EventType != "" && e.EventType != filter.EventType {
			continue
		}
		if filter.StartTime != nil && e.Timestamp.Before(*filter.StartTime) {
			continue
		}
		if filter.EndTime != nil && e.Timestamp.After(*filter.EndTime) {
			continue
		}
		matched = append(matched, e)
	}

	total := len(matched)
	start := filter.Offset
	if start > total {
		start = total
	}
	end := total
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}
	return matched[start:end], total, nil
}

func (m *MemoryStore) PurgeOldAudit(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.audit[:0]
	var purged int64
	for _, e := range m.audit {
		if e.Timestamp.Before(before) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	m.audit = kept
	return purged, nil
}

// --- Plans ---

func (m *MemoryStore) UpsertPlan(_ context.Context, p *Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[p.PID] = *p
	return nil
}

func (m *MemoryStore) GetActivePlanByPID(_ context.Context, pid int) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[pid]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "no plan for pid %d", pid)
	}
	return &p, nil
}

// --- KV ---

func (m *MemoryStore) GetKV(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.kv[key]
	return v, ok, nil
}

func (m *MemoryStore) SetKV(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = value
	return nil
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }
func (m *MemoryStore) Close() error                 { return nil }
