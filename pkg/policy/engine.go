package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

const (
	decisionTTL     = 30 * time.Second
	cacheSweepEvery = time.Minute
)

// Oracle implements engine.PermissionOracle on top of OPA. Role and binding
// data live in an in-memory Rego data store; decisions are cached briefly so
// hot permission checks do not re-enter the evaluator.
type Oracle struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	store    storage.Store
	roles    map[string]Role
	bindings Bindings
	cache    *gocache.Cache
	logger   zerolog.Logger
}

// compiledPolicy holds one compiled Rego policy with its prepared queries.
type compiledPolicy struct {
	policy     *Policy
	module     *ast.Module
	allowQuery rego.PreparedEvalQuery
	superQuery rego.PreparedEvalQuery
	compiled   time.Time
}

// NewOracle creates a permission oracle with the built-in RBAC policy and
// default roles. No bindings exist until SetBindings is called, so every
// non-superuser check denies.
func NewOracle(logger zerolog.Logger) (*Oracle, error) {
	o := &Oracle{
		policies: make(map[string]*compiledPolicy),
		roles:    DefaultRoles(),
		bindings: Bindings{},
		cache:    gocache.New(decisionTTL, cacheSweepEvery),
		logger:   logger.With().Str("component", "policy-oracle").Logger(),
	}
	o.rebuildStore()

	for _, p := range GetBuiltinPolicies() {
		p := p
		if err := o.compileAndStorePolicy(context.Background(), &p); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", p.Name, err)
		}
	}

	o.logger.Info().
		Int("policies", len(o.policies)).
		Int("roles", len(o.roles)).
		Msg("Permission oracle ready")

	return o, nil
}

// HasPermission reports whether the user holds the permission key. Any
// enabled policy allowing the key grants it.
func (o *Oracle) HasPermission(ctx context.Context, userID, key string) (bool, error) {
	decision, err := o.decide(ctx, "allow", userID, key)
	if err != nil {
		return false, err
	}
	return decision.Allowed, nil
}

// IsSuperuser reports whether the user is flagged as superuser.
func (o *Oracle) IsSuperuser(ctx context.Context, userID string) (bool, error) {
	decision, err := o.decide(ctx, "superuser", userID, "")
	if err != nil {
		return false, err
	}
	return decision.Allowed, nil
}

// Decide answers one authorization question with full decision metadata.
func (o *Oracle) Decide(ctx context.Context, userID, key string) (*Decision, error) {
	return o.decide(ctx, "allow", userID, key)
}

func (o *Oracle) decide(ctx context.Context, question, userID, key string) (*Decision, error) {
	cacheKey := question + "|" + userID + "|" + key
	if cached, ok := o.cache.Get(cacheKey); ok {
		d := cached.(Decision)
		d.Cached = true
		return &d, nil
	}

	start := time.Now()
	input := authzInput{User: userID, Permission: key}

	o.mu.RLock()
	defer o.mu.RUnlock()

	decision := Decision{
		User:        userID,
		Permission:  key,
		EvaluatedAt: start,
	}

	for _, cp := range o.policies {
		if !cp.policy.Enabled {
			continue
		}

		query := cp.allowQuery
		if question == "superuser" {
			query = cp.superQuery
		}

		allowed, err := evalBool(ctx, query, input)
		if err != nil {
			return nil, fmt.Errorf("policy %s evaluation failed: %w", cp.policy.Name, err)
		}
		if allowed {
			decision.Allowed = true
			decision.Policy = cp.policy.Name
			break
		}
	}

	decision.Duration = time.Since(start)
	o.cache.Set(cacheKey, decision, gocache.DefaultExpiration)

	o.logger.Debug().
		Str("user", userID).
		Str("permission", key).
		Bool("allowed", decision.Allowed).
		Dur("duration", decision.Duration).
		Msg("Authorization decided")

	return &decision, nil
}

// evalBool evaluates a prepared query and reduces the result to a boolean.
// An undefined result is false.
func evalBool(ctx context.Context, query rego.PreparedEvalQuery, input authzInput) (bool, error) {
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, err
	}
	for _, result := range results {
		for _, expr := range result.Expressions {
			if v, ok := expr.Value.(bool); ok && v {
				return true, nil
			}
		}
	}
	return false, nil
}

// SetBindings replaces all user role bindings and flushes the decision
// cache.
func (o *Oracle) SetBindings(ctx context.Context, bindings Bindings) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.bindings = bindings
	return o.refreshData(ctx)
}

// SetRoles replaces the role definitions and flushes the decision cache.
func (o *Oracle) SetRoles(ctx context.Context, roles map[string]Role) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.roles = roles
	return o.refreshData(ctx)
}

// refreshData rebuilds the Rego data store and re-prepares every query
// against it. Callers hold the write lock.
func (o *Oracle) refreshData(ctx context.Context) error {
	o.rebuildStore()
	for name, cp := range o.policies {
		if err := o.prepareQueries(ctx, cp); err != nil {
			return fmt.Errorf("failed to re-prepare policy %s: %w", name, err)
		}
	}
	o.cache.Flush()

	o.logger.Debug().
		Int("bindings", len(o.bindings)).
		Int("roles", len(o.roles)).
		Msg("Authorization data refreshed")
	return nil
}

// rebuildStore materializes the current roles and bindings as the Rego data
// document.
func (o *Oracle) rebuildStore() {
	roles := make(map[string]any, len(o.roles))
	for name, role := range o.roles {
		roles[name] = map[string]any{"permissions": toAnySlice(role.Permissions)}
	}
	bindings := make(map[string]any, len(o.bindings))
	for user, b := range o.bindings {
		bindings[user] = map[string]any{
			"roles":     toAnySlice(b.Roles),
			"superuser": b.Superuser,
		}
	}
	o.store = inmem.NewFromObject(map[string]any{
		"roles":    roles,
		"bindings": bindings,
	})
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// LoadPolicies loads additional policy files and compiles them.
func (o *Oracle) LoadPolicies(ctx context.Context, paths []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	loader := NewLoader(o.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	for i := range policies {
		if err := o.compileAndStorePolicyLocked(ctx, &policies[i]); err != nil {
			o.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}
	o.cache.Flush()

	o.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")
	return nil
}

// ReplacePolicies swaps the full policy set for the given one plus the
// built-ins. Used by the file watcher reload path.
func (o *Oracle) ReplacePolicies(ctx context.Context, policies []Policy) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.policies = make(map[string]*compiledPolicy)
	for _, p := range GetBuiltinPolicies() {
		p := p
		if err := o.compileAndStorePolicyLocked(ctx, &p); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", p.Name, err)
		}
	}
	for i := range policies {
		if err := o.compileAndStorePolicyLocked(ctx, &policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}
	o.cache.Flush()
	return nil
}

// compileAndStorePolicy compiles a policy and stores it.
func (o *Oracle) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.compileAndStorePolicyLocked(ctx, policy)
}

func (o *Oracle) compileAndStorePolicyLocked(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	cp := &compiledPolicy{
		policy:   policy,
		module:   module,
		compiled: time.Now(),
	}
	if err := o.prepareQueries(ctx, cp); err != nil {
		return err
	}

	o.policies[policy.Name] = cp

	o.logger.Debug().
		Str("policy", policy.Name).
		Msg("Policy compiled successfully")
	return nil
}

// prepareQueries prepares the allow and superuser queries for one policy
// against the current data store.
func (o *Oracle) prepareQueries(ctx context.Context, cp *compiledPolicy) error {
	pkg := extractPackageName(cp.policy.Rego)

	allow, err := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Rego),
		rego.Store(o.store),
		rego.Query(fmt.Sprintf("data.%s.allow", pkg)),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare allow query: %w", err)
	}

	super, err := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Rego),
		rego.Store(o.store),
		rego.Query(fmt.Sprintf("data.%s.superuser", pkg)),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare superuser query: %w", err)
	}

	cp.allowQuery = allow
	cp.superQuery = super
	return nil
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(code string) string {
	lines := strings.Split(code, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "recordloom.authz"
}

// GetPolicy returns a policy by name.
func (o *Oracle) GetPolicy(name string) (*Policy, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	cp, exists := o.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns all loaded policies.
func (o *Oracle) ListPolicies() []Policy {
	o.mu.RLock()
	defer o.mu.RUnlock()

	policies := make([]Policy, 0, len(o.policies))
	for _, cp := range o.policies {
		policies = append(policies, *cp.policy)
	}
	return policies
}

// EnablePolicy enables a policy by name.
func (o *Oracle) EnablePolicy(name string) error {
	return o.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (o *Oracle) DisablePolicy(name string) error {
	return o.setEnabled(name, false)
}

func (o *Oracle) setEnabled(name string, enabled bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	cp, exists := o.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	o.cache.Flush()

	o.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}
