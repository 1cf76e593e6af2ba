// Package authz maps JWT roles to payroll permissions with a casbin
// RBAC model held in memory.
package authz

import (
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

type Role string

const (
	RoleOwner          Role = "owner"
	RoleManager        Role = "manager"
	RolePayrollOfficer Role = "payroll_officer"
	RoleEmployee       Role = "employee"
)

// Permission is "<object>:<action>".
type Permission string

const (
	PermissionRulesRead    Permission = "rules:read"
	PermissionRulesWrite   Permission = "rules:write"
	PermissionPeriodsRead  Permission = "periods:read"
	PermissionPeriodsWrite Permission = "periods:write"
	PermissionItemsRead    Permission = "items:read"
	PermissionItemsWrite   Permission = "items:write"
	PermissionItemsApprove Permission = "items:approve"
	PermissionItemsPay     Permission = "items:pay"
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

// rolePermissions lists what each role grants on its own; inherited roles
// are in roleParents.
var rolePermissions = map[Role][]Permission{
	RoleEmployee: {
		PermissionRulesRead,
	},
	RolePayrollOfficer: {
		PermissionRulesWrite,
		PermissionPeriodsRead,
		PermissionPeriodsWrite,
		PermissionItemsRead,
		PermissionItemsWrite,
	},
	RoleManager: {
		PermissionItemsApprove,
	},
	RoleOwner: {
		PermissionItemsPay,
	},
}

var roleParents = map[Role]Role{
	RolePayrollOfficer: RoleEmployee,
	RoleManager:        RolePayrollOfficer,
	RoleOwner:          RoleManager,
}

type Authorizer struct {
	enforcer *casbin.Enforcer
}

func NewAuthorizer() (*Authorizer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("authz: invalid model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("authz: failed to create enforcer: %w", err)
	}

	var policies [][]string
	for role, perms := range rolePermissions {
		for _, p := range perms {
			obj, act := p.Split()
			policies = append(policies, []string{string(role), obj, act})
		}
	}
	if _, err := enforcer.AddPolicies(policies); err != nil {
		return nil, fmt.Errorf("authz: failed to load policies: %w", err)
	}
	for child, parent := range roleParents {
		if _, err := enforcer.AddGroupingPolicy(string(child), string(parent)); err != nil {
			return nil, fmt.Errorf("authz: failed to load role hierarchy: %w", err)
		}
	}

	return &Authorizer{enforcer: enforcer}, nil
}

func (p Permission) Split() (object, action string) {
	object, action, _ = strings.Cut(string(p), ":")
	return object, action
}

// Allowed reports whether role holds permission. Unknown roles hold nothing.
func (a *Authorizer) Allowed(role string, permission Permission) (bool, error) {
	obj, act := permission.Split()
	return a.enforcer.Enforce(strings.ToLower(strings.TrimSpace(role)), obj, act)
}
