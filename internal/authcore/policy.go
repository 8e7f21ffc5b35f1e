package authcore

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// ROLE_PERMISSIONS maps an OrgMember role to the set of coarse permission
// strings it holds, per spec.md §4.3.4 Layer A. The spec names the role set
// (owner/admin/member/viewer per §4.3.3) and the lookup shape but not the
// concrete permission strings; this table is an Open Question decision
// (see DESIGN.md) modeled on the coarse capability tiers the teacher's own
// admin/non-admin split implies, generalized to four org roles.
var rolePermissions = map[string]map[string]bool{
	"owner": {
		"org.manage": true, "org.delete": true, "members.invite": true, "members.remove": true,
		"teams.create": true, "teams.manage": true, "policies.manage": true, "processes.manage": true,
	},
	"admin": {
		"org.manage": true, "members.invite": true, "members.remove": true,
		"teams.create": true, "teams.manage": true, "policies.manage": true, "processes.manage": true,
	},
	"member": {
		"teams.create": true, "processes.manage": true,
	},
	"viewer": {
		"processes.read": true,
	},
}

// HasPermission implements Layer A (coarse, role-based) of spec.md §4.3.4.
func (s *Service) HasPermission(ctx context.Context, userID, permission, orgID string) (bool, error) {
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if u.Role == "admin" {
		return true, nil
	}

	if orgID == "" {
		return s.noOrgsExist(ctx)
	}

	member, err := s.store.GetOrgMember(ctx, orgID, userID)
	if err != nil {
		return s.noOrgsExist(ctx)
	}
	perms := rolePermissions[member.Role]
	return perms != nil && perms[permission], nil
}

// noOrgsExist implements the backward-compatibility rule: if no Organization
// exists anywhere in the store, any authenticated user is permitted
// (empty-deployment convenience).
func (s *Service) noOrgsExist(ctx context.Context) (bool, error) {
	n, err := s.store.CountOrganizations(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// CheckPermission implements Layer B (fine, policy-engine) of spec.md
// §4.3.4: deny-by-default, deny-overrides-allow, subject-set evaluation.
func (s *Service) CheckPermission(ctx context.Context, userID, action, resource string) (bool, error) {
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if u.Role == "admin" {
		return true, nil
	}

	memberships, err := s.store.ListOrgsByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	subjects := make([]string, 0, len(memberships)+1)
	subjects = append(subjects, "user:"+userID)
	for _, m := range memberships {
		subjects = append(subjects, "role:"+m.Role)
	}

	policies, err := s.store.ListPoliciesBySubjects(ctx, subjects)
	if err != nil {
		return false, err
	}
	if len(policies) == 0 {
		return true, nil // bootstrap mode: no policy corpus present
	}

	sawAllow := false
	for _, p := range policies {
		if !MatchesPattern(p.Action, action) || !MatchesPattern(p.Resource, resource) {
			continue
		}
		if p.Effect == "deny" {
			return false, nil
		}
		if p.Effect == "allow" {
			sawAllow = true
		}
	}
	return sawAllow, nil
}

// CanUseTool is the canUseTool(uid, name) convenience wrapper of spec.md §4.3.4.
func (s *Service) CanUseTool(ctx context.Context, userID, name string) (bool, error) {
	return s.CheckPermission(ctx, userID, fmt.Sprintf("tool.%s.execute", name), name)
}

// CanUseLLM is the llm.<prov>.use convenience wrapper.
func (s *Service) CanUseLLM(ctx context.Context, userID, provider string) (bool, error) {
	return s.CheckPermission(ctx, userID, fmt.Sprintf("llm.%s.use", provider), provider)
}

// CanUseFS is the fs.<path>.<mode> convenience wrapper.
func (s *Service) CanUseFS(ctx context.Context, userID, path, mode string) (bool, error) {
	return s.CheckPermission(ctx, userID, fmt.Sprintf("fs.%s.%s", path, mode), path)
}

// MatchesPattern implements spec.md §4.3.4's pattern matcher. "*" matches
// any value outright; otherwise pattern is compiled by escaping every
// literal run (regexp.QuoteMeta — no raw user text ever reaches the regex
// engine unescaped) and replacing each "*" glob with "[^.]*", since dot is a
// segment boundary. Thus "tool.*.execute" matches "tool.run_command.execute"
// but not "tool.a.b.execute". An unparsable pattern collapses to a literal
// equality check, per spec.md's "invalid patterns collapse to equality".
func MatchesPattern(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	re, err := compilePattern(pattern)
	if err != nil {
		return pattern == value
	}
	return re.MatchString(value)
}

var patternCache = struct {
	mu sync.Mutex
	m  map[string]*regexp.Regexp
}{m: make(map[string]*regexp.Regexp)}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	patternCache.mu.Lock()
	if re, ok := patternCache.m[pattern]; ok {
		patternCache.mu.Unlock()
		return re, nil
	}
	patternCache.mu.Unlock()

	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, "[^.]*") + "$")
	if err != nil {
		return nil, err
	}

	patternCache.mu.Lock()
	patternCache.m[pattern] = re
	patternCache.mu.Unlock()
	return re, nil
}
