package workflow

import (
	"fmt"

	"constructlink/internal/config"
	"constructlink/internal/models"
)

// Rule grants a set of roles one transition. An empty From allows every
// valid pre-state of the transition.
type Rule struct {
	Transition models.Transition
	Roles      []models.Role
	From       []models.Status
}

// DefaultRules is the stock permission policy.
func DefaultRules() []Rule {
	return []Rule{
		{Transition: models.TransitionSubmit, Roles: []models.Role{
			models.RoleWarehouseman, models.RoleSiteInventoryClerk, models.RoleProjectManager, models.RoleSystemAdmin,
		}},
		{Transition: models.TransitionSchedule, Roles: []models.Role{
			models.RoleWarehouseman, models.RoleProjectManager, models.RoleSystemAdmin,
		}},
		{Transition: models.TransitionVerify, Roles: []models.Role{
			models.RoleProjectManager, models.RoleSystemAdmin,
		}},
		{Transition: models.TransitionApprove, Roles: []models.Role{
			models.RoleAssetDirector, models.RoleFinanceDirector, models.RoleSystemAdmin,
		}},
		{Transition: models.TransitionRelease, Roles: []models.Role{
			models.RoleWarehouseman, models.RoleSystemAdmin,
		}},
		{Transition: models.TransitionReturn, Roles: []models.Role{
			models.RoleWarehouseman, models.RoleSiteInventoryClerk, models.RoleSystemAdmin,
		}},
		{Transition: models.TransitionCancel, Roles: []models.Role{models.RoleSystemAdmin}},
		{
			Transition: models.TransitionCancel,
			Roles:      []models.Role{models.RoleAssetDirector},
			From:       []models.Status{models.StatusPendingVerification, models.StatusPendingApproval, models.StatusApproved},
		},
		{
			Transition: models.TransitionCancel,
			Roles:      []models.Role{models.RoleProjectManager},
			From:       []models.Status{models.StatusPendingVerification, models.StatusPendingApproval},
		},
	}
}

// RulesFromConfig converts configured permissions. No rows means the default policy.
func RulesFromConfig(perms []config.PermissionConfig) ([]Rule, error) {
	if len(perms) == 0 {
		return DefaultRules(), nil
	}

	rules := make([]Rule, 0, len(perms))
	for i, p := range perms {
		t, err := models.ParseTransition(p.Transition)
		if err != nil {
			return nil, fmt.Errorf("permission %d: %w", i, err)
		}
		rule := Rule{Transition: t}
		for _, raw := range p.Roles {
			role, err := models.ParseRole(raw)
			if err != nil {
				return nil, fmt.Errorf("permission %d: %w", i, err)
			}
			rule.Roles = append(rule.Roles, role)
		}
		for _, raw := range p.From {
			st, err := models.ParseStatus(raw)
			if err != nil {
				return nil, fmt.Errorf("permission %d: %w", i, err)
			}
			rule.From = append(rule.From, st)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

type grant struct {
	any  bool
	from map[models.Status]bool
}

// Matrix answers whether a role may perform a transition.
type Matrix struct {
	rules  []Rule
	grants map[models.Transition]map[models.Role]*grant
}

func NewMatrix(rules []Rule) *Matrix {
	m := &Matrix{
		rules:  append([]Rule(nil), rules...),
		grants: make(map[models.Transition]map[models.Role]*grant),
	}
	for _, r := range rules {
		byRole, ok := m.grants[r.Transition]
		if !ok {
			byRole = make(map[models.Role]*grant)
			m.grants[r.Transition] = byRole
		}
		for _, role := range r.Roles {
			g, ok := byRole[role]
			if !ok {
				g = &grant{from: make(map[models.Status]bool)}
				byRole[role] = g
			}
			if len(r.From) == 0 {
				g.any = true
			}
			for _, s := range r.From {
				g.from[s] = true
			}
		}
	}
	return m
}

func DefaultMatrix() *Matrix { return NewMatrix(DefaultRules()) }

// IsAuthorized reports whether role may perform t from at least one pre-state.
func (m *Matrix) IsAuthorized(t models.Transition, role models.Role) bool {
	_, ok := m.grants[t][role]
	return ok
}

// Allows reports whether role may perform t on a batch whose status is from.
// Overdue is treated as Borrowed.
func (m *Matrix) Allows(t models.Transition, role models.Role, from models.Status) bool {
	g, ok := m.grants[t][role]
	if !ok {
		return false
	}
	if g.any {
		return true
	}
	if from == models.StatusOverdue {
		from = models.StatusBorrowed
	}
	return g.from[from]
}

// Roles lists the roles holding any grant for t.
func (m *Matrix) Roles(t models.Transition) []models.Role {
	var roles []models.Role
	for _, r := range models.AllRoles() {
		if m.IsAuthorized(t, r) {
			roles = append(roles, r)
		}
	}
	return roles
}

func (m *Matrix) Rules() []Rule {
	return append([]Rule(nil), m.rules...)
}
