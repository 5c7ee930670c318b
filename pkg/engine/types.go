// Package engine provides the core types and operations of the Recordloom
// record engine: entities, wizard runs, the changelog, and the orchestration
// of multi-step wizard submissions.
package engine

import (
	"time"
)

// Entity is a concrete record conforming to a Model definition.
type Entity struct {
	// ID is the unique identifier of this entity.
	ID string `json:"id"`

	// ModelID references the Model this entity conforms to.
	ModelID string `json:"model_id"`

	// Values holds the named property values. The map is a dynamic bag
	// and must be validated against the Model at every boundary.
	Values map[string]any `json:"values"`

	// StateID is the current workflow state, empty when the Model has no
	// workflow or the workflow was removed.
	StateID string `json:"state_id,omitempty"`

	// OwnerID is the user that owns this entity.
	OwnerID string `json:"owner_id"`

	// Deleted marks the entity as soft-deleted. Soft-deleted entities are
	// never physically removed so that changelog reverts stay possible.
	Deleted   bool       `json:"deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the entity. The changelog records snapshots
// of entities before and after mutation, so callers must not share value maps.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Values = make(map[string]any, len(e.Values))
	for k, v := range e.Values {
		cp.Values[k] = v
	}
	if e.DeletedAt != nil {
		t := *e.DeletedAt
		cp.DeletedAt = &t
	}
	return &cp
}

// RunStatus represents the status of a wizard run.
type RunStatus string

const (
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusCompleted  RunStatus = "completed"
)

// StepData holds the captured data for one wizard step.
type StepData struct {
	// Submitted is the raw form payload for a create step.
	Submitted map[string]any `json:"submitted,omitempty"`

	// LookupEntityID references an existing entity for a lookup step.
	LookupEntityID string `json:"lookup_entity_id,omitempty"`

	// Resolved holds the resolved values this step contributes to later
	// mappings. For lookup steps these are the referenced entity's values.
	Resolved map[string]any `json:"resolved,omitempty"`

	// ProducedEntityID is the identity produced by this step during the
	// final commit: the created entity for create steps, the referenced
	// entity for lookup steps.
	ProducedEntityID string `json:"produced_entity_id,omitempty"`
}

// WizardRun is one execution of a wizard for a given user.
type WizardRun struct {
	ID       string    `json:"id"`
	WizardID string    `json:"wizard_id"`
	UserID   string    `json:"user_id"`
	Status   RunStatus `json:"status"`

	// CurrentStepIndex is the index of the last accepted step. A fresh run
	// starts at -1; a submission is only accepted for CurrentStepIndex+1.
	CurrentStepIndex int `json:"current_step_index"`

	// Steps holds per-step captured data, indexed by step position.
	Steps []StepData `json:"steps"`

	// Version is the optimistic concurrency token. Every accepted step
	// submission increments it; a stale writer loses the race and gets a
	// sequence error instead of double-applying a step.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StepAt returns the step data slot for the given index, growing the slice
// as needed.
func (r *WizardRun) StepAt(index int) *StepData {
	for len(r.Steps) <= index {
		r.Steps = append(r.Steps, StepData{})
	}
	return &r.Steps[index]
}

// ChangeType classifies a changelog entry.
type ChangeType string

const (
	ChangeTypeCreate        ChangeType = "CREATE"
	ChangeTypeUpdate        ChangeType = "UPDATE"
	ChangeTypeDelete        ChangeType = "DELETE"
	ChangeTypeRestore       ChangeType = "RESTORE"
	ChangeTypeRevertUpdate  ChangeType = "REVERT_UPDATE"
	ChangeTypeRevertDelete  ChangeType = "REVERT_DELETE"
	ChangeTypeRevertRestore ChangeType = "REVERT_RESTORE"
)

// Synthetic property names used in changelog diffs for mutations that are
// not plain value edits.
const (
	ChangePropertyState = "$workflowState"
	ChangePropertyOwner = "$owner"
)

// FieldChange records one changed field inside an UPDATE changelog entry.
type FieldChange struct {
	Property string `json:"property"`
	OldValue any    `json:"old_value"`
	NewValue any    `json:"new_value"`

	// TextDiff is a compact line diff for long string values, for display
	// only. Reverts use OldValue/NewValue, never the rendered diff.
	TextDiff string `json:"text_diff,omitempty"`
}

// ChangelogEntry is an immutable audit record of one mutation. The changelog
// is append-only: reverts add new entries and never edit prior ones.
type ChangelogEntry struct {
	ID       string     `json:"id"`
	EntityID string     `json:"entity_id"`
	Type     ChangeType `json:"type"`

	// Changes lists per-field diffs for UPDATE and REVERT_UPDATE entries.
	Changes []FieldChange `json:"changes,omitempty"`

	// Snapshot holds the full value set for CREATE and DELETE entries and
	// for REVERT_DELETE; it is what a revert of a DELETE restores from.
	Snapshot map[string]any `json:"snapshot,omitempty"`

	// RevertsID back-references the entry this entry reverts, if any.
	RevertsID string `json:"reverts_id,omitempty"`

	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
}

// ValidationFailure is one field-attributed validation failure.
type ValidationFailure struct {
	Property string `json:"property"`
	Message  string `json:"message"`
}

// ValidationResult is the outcome of validating a candidate value set
// against a Model.
type ValidationResult struct {
	Valid    bool                `json:"valid"`
	Failures []ValidationFailure `json:"failures,omitempty"`
}

// StepResult is the outcome of a wizard step submission.
type StepResult struct {
	// IsFinalStep reports whether the accepted step was the wizard's last
	// step, meaning the run committed and all entities were created.
	IsFinalStep bool `json:"is_final_step"`

	// CreatedEntityIDs lists the entities created by the final commit, in
	// step order. Empty for non-final steps.
	CreatedEntityIDs []string `json:"created_entity_ids,omitempty"`
}
