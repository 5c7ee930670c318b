package engine

import (
	"context"

	"github.com/recordloom/recordloom/pkg/schema"
)

// SchemaSource provides definition lookups. Implemented by schema.Registry.
type SchemaSource interface {
	// Model returns a model definition by ID.
	Model(id string) (*schema.Model, bool)

	// RulesetByName returns a ruleset by the name properties bind it with.
	RulesetByName(name string) (*schema.Ruleset, bool)

	// Workflow returns a workflow definition by ID.
	Workflow(id string) (*schema.Workflow, bool)

	// Wizard returns a wizard definition by ID.
	Wizard(id string) (*schema.Wizard, bool)
}

// Reader is the read side of the entity store, available both directly and
// inside a transaction.
type Reader interface {
	// GetEntity retrieves an entity by ID, including soft-deleted ones.
	GetEntity(ctx context.Context, id string) (*Entity, error)

	// ListEntitiesByModel retrieves all entities of a model. Soft-deleted
	// entities are included only when includeDeleted is set; uniqueness
	// scans run with includeDeleted=false so deleted rows never conflict.
	ListEntitiesByModel(ctx context.Context, modelID string, includeDeleted bool) ([]*Entity, error)

	// GetRun retrieves a wizard run by ID.
	GetRun(ctx context.Context, id string) (*WizardRun, error)

	// GetChangelogEntry retrieves a changelog entry by ID.
	GetChangelogEntry(ctx context.Context, id string) (*ChangelogEntry, error)

	// ListChangelog lists an entity's changelog entries, newest first.
	ListChangelog(ctx context.Context, entityID string, limit, offset int) ([]*ChangelogEntry, error)
}

// Writer is the write side of the entity store; only available inside a
// transaction so every mutating path is atomic and auditable.
type Writer interface {
	// CreateEntity persists a new entity.
	CreateEntity(ctx context.Context, e *Entity) error

	// UpdateEntity persists a full entity row, including state, owner, and
	// soft-delete flags.
	UpdateEntity(ctx context.Context, e *Entity) error

	// CreateRun persists a new wizard run.
	CreateRun(ctx context.Context, run *WizardRun) error

	// UpdateRun persists a wizard run with an optimistic version check:
	// the row is only written if its stored version equals run.Version,
	// and the version is incremented on success. A lost race surfaces as
	// a sequence error, which is what guards two concurrent submissions
	// observing the same step index.
	UpdateRun(ctx context.Context, run *WizardRun) error

	// AppendChangelog appends an immutable changelog entry.
	AppendChangelog(ctx context.Context, entry *ChangelogEntry) error
}

// Tx is one atomic transaction against the backing store.
type Tx interface {
	Reader
	Writer

	Commit() error
	Rollback() error
}

// EntityStore is the transactional record store facade the engine consumes.
type EntityStore interface {
	Reader

	// Begin starts a transaction.
	Begin(ctx context.Context) (Tx, error)

	// Close releases the store.
	Close() error
}

// Validator checks a candidate value set against a model's constraints.
type Validator interface {
	// Validate stops at the first failing property and returns a
	// field-attributed validation error, the mode single-record edits and
	// wizard commits use.
	Validate(ctx context.Context, store Reader, model *schema.Model, values map[string]any, existingEntityID string) error

	// ValidateAll collects every failure for form display.
	ValidateAll(ctx context.Context, store Reader, model *schema.Model, values map[string]any, existingEntityID string) (*ValidationResult, error)
}

// WorkflowEngine answers initial-state and transition-legality questions.
type WorkflowEngine interface {
	InitialState(wf *schema.Workflow) (*schema.State, bool)

	// CheckTransition returns a state-transition error carrying the
	// human-readable from/to names when the move is illegal. An empty
	// fromStateID accepts any state of the workflow (bulk reset path).
	CheckTransition(wf *schema.Workflow, fromStateID, toStateID string) error
}

// PermissionOracle is the external permission decision engine. The core
// makes no RBAC decisions itself; it only asks.
type PermissionOracle interface {
	// HasPermission reports whether the user holds the permission key.
	HasPermission(ctx context.Context, userID, key string) (bool, error)

	// IsSuperuser is the explicit superuser predicate. Modeled as its own
	// question rather than a wildcard key string so call sites cannot be
	// bypassed by string mangling.
	IsSuperuser(ctx context.Context, userID string) (bool, error)
}

// Auditor records structured diffs for every mutation and can compute and
// apply the inverse of a recorded change.
type Auditor interface {
	// RecordCreate appends a CREATE entry with a full snapshot.
	RecordCreate(ctx context.Context, tx Tx, e *Entity, actor string) (*ChangelogEntry, error)

	// RecordUpdate appends an UPDATE entry with one diff per changed
	// field, including synthetic entries for state and owner changes.
	// Returns nil without appending when nothing changed.
	RecordUpdate(ctx context.Context, tx Tx, before, after *Entity, actor string) (*ChangelogEntry, error)

	// RecordDelete appends a DELETE entry with a snapshot taken at
	// soft-delete time.
	RecordDelete(ctx context.Context, tx Tx, e *Entity, actor string) (*ChangelogEntry, error)

	// RecordRestore appends a RESTORE marker.
	RecordRestore(ctx context.Context, tx Tx, e *Entity, actor string) (*ChangelogEntry, error)

	// Revert applies the inverse of the given entry inside tx and appends
	// the corresponding REVERT_* entry. History is append-only; prior
	// entries are never edited or removed.
	Revert(ctx context.Context, tx Tx, entryID, actor string) (*ChangelogEntry, error)
}

// Permission keys consumed from the oracle. Model-scoped checks append the
// model ID with ScopedKey.
const (
	PermRecordCreate = "record.create"
	PermRecordUpdate = "record.update"
	PermRecordDelete = "record.delete"
	PermRecordRevert = "record.revert"
	PermWizardRun    = "wizard.run"

	// PermWizardOverride allows submitting steps on another user's run.
	PermWizardOverride = "wizard.override"

	// PermModelManage covers workflow reassignment and other definition
	// level mutations.
	PermModelManage = "model.manage"
)

// ScopedKey builds a per-model permission key, e.g. "record.create:invoice".
func ScopedKey(perm, modelID string) string {
	return perm + ":" + modelID
}
