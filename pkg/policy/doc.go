// Package policy implements the permission oracle behind every mutating
// operation of the record engine. Authorization questions are answered by
// Rego policies evaluated with OPA against role and binding data held in an
// in-memory store.
//
// The built-in role-based-access policy grants permissions through user role
// bindings. A role holds permission keys, either exact ("record.update"),
// model-scoped ("record.update:invoice"), or prefix wildcards ("record.*").
// Superuser is a separate flag on the binding, answered by its own query so
// the engine can ask it explicitly.
//
// Additional policies can be loaded from .rego or .json files; any enabled
// policy that allows a key grants it. The loader can watch policy paths with
// fsnotify and hot-reload on change. Decisions are cached for a short TTL
// because the engine asks the same user/permission pair repeatedly during a
// wizard run.
//
// Usage:
//
//	oracle, err := policy.NewOracle(logger)
//	if err != nil {
//		return err
//	}
//	_ = oracle.SetBindings(ctx, policy.Bindings{
//		"alice": {Roles: []string{"editor"}},
//		"root":  {Superuser: true},
//	})
//	ok, err := oracle.HasPermission(ctx, "alice", "record.create")
package policy
