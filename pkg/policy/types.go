package policy

import (
	"time"
)

// Policy is one Rego authorization policy. The oracle evaluates every
// enabled policy and grants access when any of them allows.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source records where the policy was loaded from.
	Source string `json:"source,omitempty"`

	// LoadedAt is when the policy was loaded or last reloaded.
	LoadedAt time.Time `json:"loaded_at"`
}

// Role is a named permission set. Permission entries are exact keys like
// "record.update" or prefix wildcards like "record.*".
type Role struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// Binding assigns roles to one user.
type Binding struct {
	// Roles lists the role names held by the user.
	Roles []string `json:"roles"`

	// Superuser bypasses all permission checks.
	Superuser bool `json:"superuser,omitempty"`
}

// Bindings maps user IDs to their role assignments.
type Bindings map[string]Binding

// Decision is the outcome of one authorization question.
type Decision struct {
	// Allowed reports whether the permission was granted.
	Allowed bool `json:"allowed"`

	// User is the user the question was about.
	User string `json:"user"`

	// Permission is the asked permission key, empty for superuser checks.
	Permission string `json:"permission,omitempty"`

	// Policy names the policy that granted access, if any.
	Policy string `json:"policy,omitempty"`

	// Cached reports whether the decision came from the decision cache.
	Cached bool `json:"cached"`

	// EvaluatedAt is when the decision was computed.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took. Zero for cached decisions.
	Duration time.Duration `json:"duration,omitempty"`
}

// authzInput is the input document handed to Rego queries.
type authzInput struct {
	User       string `json:"user"`
	Permission string `json:"permission,omitempty"`
}
