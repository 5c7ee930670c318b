package policy

import (
	"time"
)

// GetBuiltinPolicies returns the built-in authorization policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		roleBasedAccessPolicy(),
	}
}

// DefaultRoles returns the role set used when no roles are configured.
func DefaultRoles() map[string]Role {
	return map[string]Role{
		"admin": {
			Name: "admin",
			Permissions: []string{
				"record.*",
				"wizard.*",
				"model.manage",
			},
		},
		"editor": {
			Name: "editor",
			Permissions: []string{
				"record.create",
				"record.update",
				"record.delete",
				"wizard.run",
			},
		},
		"auditor": {
			Name: "auditor",
			Permissions: []string{
				"record.revert",
			},
		},
		"viewer": {
			Name:        "viewer",
			Permissions: []string{},
		},
	}
}

// roleBasedAccessPolicy grants permissions through role bindings. Role
// permission entries match the asked key exactly or by "*" prefix wildcard,
// which also covers model-scoped keys like "record.update:invoice".
func roleBasedAccessPolicy() Policy {
	return Policy{
		Name:        "role-based-access",
		Description: "Grants permissions through user role bindings with prefix wildcard support",
		Enabled:     true,
		Tags:        []string{"rbac", "builtin"},
		LoadedAt:    time.Now(),
		Rego: `package recordloom.authz

import rego.v1

default allow := false
default superuser := false

superuser if {
	data.bindings[input.user].superuser == true
}

allow if superuser

# Exact permission key held through a role.
allow if {
	some role in data.bindings[input.user].roles
	some perm in data.roles[role].permissions
	perm == input.permission
}

# Prefix wildcard, e.g. "record.*" covers "record.update" and the
# model-scoped "record.update:invoice".
allow if {
	some role in data.bindings[input.user].roles
	some perm in data.roles[role].permissions
	endswith(perm, "*")
	startswith(input.permission, trim_suffix(perm, "*"))
}

# A plain grant also covers its model-scoped variants.
allow if {
	some role in data.bindings[input.user].roles
	some perm in data.roles[role].permissions
	startswith(input.permission, concat("", [perm, ":"]))
}`,
	}
}
