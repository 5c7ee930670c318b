package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/recordloom/recordloom/pkg/schema"
)

type serviceFixture struct {
	svc     *Service
	store   *memStore
	schemas *stubSchemas
	perms   *stubPerms
	auditor *stubAuditor
}

func setupService(t *testing.T) *serviceFixture {
	t.Helper()

	schemas := newStubSchemas()
	schemas.models["ticket"] = &schema.Model{
		ID:   "ticket",
		Name: "Ticket",
		Properties: []schema.Property{
			{ID: "p1", Name: "title", Type: schema.PropertyTypeString, Required: true},
			{ID: "p2", Name: "body", Type: schema.PropertyTypeString},
		},
		WorkflowID: "triage",
	}
	schemas.models["note"] = &schema.Model{
		ID:   "note",
		Name: "Note",
		Properties: []schema.Property{
			{ID: "p3", Name: "text", Type: schema.PropertyTypeString},
		},
	}
	schemas.workflows["triage"] = &schema.Workflow{
		ID:   "triage",
		Name: "Triage",
		States: []schema.State{
			{ID: "open", Name: "Open", Initial: true},
			{ID: "working", Name: "Working"},
			{ID: "closed", Name: "Closed"},
		},
		Transitions: []schema.Transition{
			{FromStateID: "open", ToStateID: "working"},
			{FromStateID: "working", ToStateID: "closed"},
		},
	}
	schemas.workflows["simple"] = &schema.Workflow{
		ID:   "simple",
		Name: "Simple",
		States: []schema.State{
			{ID: "new", Name: "New", Initial: true},
			{ID: "done", Name: "Done"},
		},
		Transitions: []schema.Transition{
			{FromStateID: "new", ToStateID: "done"},
		},
	}

	store := newMemStore()
	perms := newStubPerms()
	perms.superusers["root"] = true
	auditor := &stubAuditor{}

	svc := NewService(Config{
		Schemas:     schemas,
		Mutator:     schemas,
		Store:       store,
		Validator:   &stubValidator{},
		Workflow:    stubWorkflow{},
		Permissions: perms,
		Auditor:     auditor,
		Logger:      zerolog.Nop(),
	})
	svc.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	seq := 0
	svc.newID = func() string {
		seq++
		return fmt.Sprintf("ent-%03d", seq)
	}

	return &serviceFixture{svc: svc, store: store, schemas: schemas, perms: perms, auditor: auditor}
}

func TestCreateEntity(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.perms.grant("alice", ScopedKey(PermRecordCreate, "ticket"))

	e, err := f.svc.CreateEntity(ctx, "alice", "ticket", map[string]any{"title": "boom"})
	if err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}
	if e.StateID != "open" {
		t.Errorf("initial state: got %q, want open", e.StateID)
	}
	if e.OwnerID != "alice" {
		t.Errorf("owner: got %q", e.OwnerID)
	}

	stored := f.store.entities[e.ID]
	if stored == nil {
		t.Fatal("entity not persisted")
	}
	entries := f.store.entriesFor(e.ID)
	if len(entries) != 1 || entries[0].Type != ChangeTypeCreate {
		t.Errorf("expected one CREATE entry, got %+v", entries)
	}
}

func TestCreateEntityDenied(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	// Unscoped grant does not exist, scoped grant for another model does
	// not help.
	f.perms.grant("alice", ScopedKey(PermRecordCreate, "note"))
	if _, err := f.svc.CreateEntity(ctx, "alice", "ticket", map[string]any{"title": "x"}); !IsPermission(err) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if len(f.store.entities) != 0 {
		t.Error("denied create persisted an entity")
	}

	// Superusers bypass the oracle.
	if _, err := f.svc.CreateEntity(ctx, "root", "ticket", map[string]any{"title": "x"}); err != nil {
		t.Fatalf("superuser create failed: %v", err)
	}
}

func TestCreateEntityValidationFailure(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	_, err := f.svc.CreateEntity(ctx, "root", "ticket", map[string]any{"title": "invalid stuff"})
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(f.store.entities) != 0 || len(f.store.entries) != 0 {
		t.Error("failed create left data behind")
	}
}

func TestUpdateEntityMergesValues(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	e, _ := f.svc.CreateEntity(ctx, "root", "ticket", map[string]any{"title": "first", "body": "text"})

	updated, err := f.svc.UpdateEntity(ctx, "root", e.ID, map[string]any{"title": "second"})
	if err != nil {
		t.Fatalf("UpdateEntity failed: %v", err)
	}
	if updated.Values["title"] != "second" {
		t.Errorf("title: got %v", updated.Values["title"])
	}
	if updated.Values["body"] != "text" {
		t.Errorf("partial update dropped untouched property: %v", updated.Values)
	}

	entries := f.store.entriesFor(e.ID)
	if len(entries) != 2 || entries[1].Type != ChangeTypeUpdate {
		t.Errorf("expected CREATE then UPDATE, got %+v", entries)
	}
}

func TestUpdateDeletedEntityRejected(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	e, _ := f.svc.CreateEntity(ctx, "root", "ticket", map[string]any{"title": "t"})
	if err := f.svc.SoftDeleteEntity(ctx, "root", e.ID); err != nil {
		t.Fatalf("SoftDeleteEntity failed: %v", err)
	}

	if _, err := f.svc.UpdateEntity(ctx, "root", e.ID, map[string]any{"title": "nope"}); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSoftDeleteAndRestore(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	e, _ := f.svc.CreateEntity(ctx, "root", "ticket", map[string]any{"title": "t"})

	if err := f.svc.SoftDeleteEntity(ctx, "root", e.ID); err != nil {
		t.Fatalf("SoftDeleteEntity failed: %v", err)
	}
	stored := f.store.entities[e.ID]
	if !stored.Deleted || stored.DeletedAt == nil {
		t.Fatalf("entity not flagged deleted: %+v", stored)
	}

	// Deleted entities stay readable and stay out of default listings.
	if _, err := f.svc.GetEntity(ctx, e.ID); err != nil {
		t.Errorf("deleted entity must stay retrievable: %v", err)
	}
	live, _ := f.svc.ListEntities(ctx, "ticket", false)
	if len(live) != 0 {
		t.Errorf("deleted entity listed as live")
	}
	all, _ := f.svc.ListEntities(ctx, "ticket", true)
	if len(all) != 1 {
		t.Errorf("deleted entity missing from full listing")
	}

	if err := f.svc.SoftDeleteEntity(ctx, "root", e.ID); !IsValidation(err) {
		t.Fatalf("double delete: expected validation error, got %v", err)
	}

	restored, err := f.svc.RestoreEntity(ctx, "root", e.ID)
	if err != nil {
		t.Fatalf("RestoreEntity failed: %v", err)
	}
	if restored.Deleted || restored.DeletedAt != nil {
		t.Errorf("restore left delete flags: %+v", restored)
	}
	if restored.Values["title"] != "t" {
		t.Errorf("restore lost values: %v", restored.Values)
	}

	if _, err := f.svc.RestoreEntity(ctx, "root", e.ID); !IsValidation(err) {
		t.Fatalf("restoring a live entity: expected validation error, got %v", err)
	}

	entries := f.store.entriesFor(e.ID)
	want := []ChangeType{ChangeTypeCreate, ChangeTypeDelete, ChangeTypeRestore}
	if len(entries) != len(want) {
		t.Fatalf("changelog length: got %d, want %d", len(entries), len(want))
	}
	for i, ct := range want {
		if entries[i].Type != ct {
			t.Errorf("entry %d: got %s, want %s", i, entries[i].Type, ct)
		}
	}
}

func TestTransitionEntity(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	e, _ := f.svc.CreateEntity(ctx, "root", "ticket", map[string]any{"title": "t"})

	updated, err := f.svc.TransitionEntity(ctx, "root", e.ID, "working")
	if err != nil {
		t.Fatalf("TransitionEntity failed: %v", err)
	}
	if updated.StateID != "working" {
		t.Errorf("state: got %q", updated.StateID)
	}

	// Skipping a state is not a declared edge.
	if _, err := f.svc.TransitionEntity(ctx, "root", e.ID, "open"); !IsStateTransition(err) {
		t.Fatalf("expected state-transition error, got %v", err)
	}
	if f.store.entities[e.ID].StateID != "working" {
		t.Error("rejected transition changed the stored state")
	}

	// A model without a workflow cannot transition at all.
	n, _ := f.svc.CreateEntity(ctx, "root", "note", map[string]any{"text": "hi"})
	if _, err := f.svc.TransitionEntity(ctx, "root", n.ID, "working"); !IsStateTransition(err) {
		t.Fatalf("expected state-transition error, got %v", err)
	}
}

func TestReassignWorkflowResetsEntities(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	a, _ := f.svc.CreateEntity(ctx, "root", "ticket", map[string]any{"title": "a"})
	b, _ := f.svc.CreateEntity(ctx, "root", "ticket", map[string]any{"title": "b"})
	if _, err := f.svc.TransitionEntity(ctx, "root", a.ID, "working"); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	if err := f.svc.ReassignWorkflow(ctx, "root", "ticket", "simple"); err != nil {
		t.Fatalf("ReassignWorkflow failed: %v", err)
	}

	// Every entity of the model lands on the new initial state, whatever
	// state it held before.
	for _, id := range []string{a.ID, b.ID} {
		if got := f.store.entities[id].StateID; got != "new" {
			t.Errorf("entity %s state: got %q, want new", id, got)
		}
	}
	if f.schemas.models["ticket"].WorkflowID != "simple" {
		t.Errorf("model workflow not updated: %q", f.schemas.models["ticket"].WorkflowID)
	}

	// The forced reset is audited for the entity that actually moved.
	entries := f.store.entriesFor(a.ID)
	if entries[len(entries)-1].Type != ChangeTypeUpdate {
		t.Errorf("reset not audited: %+v", entries)
	}
}

func TestReassignWorkflowRestoresBindingOnResetFailure(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	a, _ := f.svc.CreateEntity(ctx, "root", "ticket", map[string]any{"title": "a"})
	if _, err := f.svc.TransitionEntity(ctx, "root", a.ID, "working"); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	f.store.updateErr = NewStoreError(nil, "disk full")
	if err := f.svc.ReassignWorkflow(ctx, "root", "ticket", "simple"); err == nil {
		t.Fatal("expected reassign to fail")
	}

	// The failed reset must leave both sides as they were: the model still
	// bound to its old workflow and the entity on its old state.
	if got := f.schemas.models["ticket"].WorkflowID; got != "triage" {
		t.Errorf("model workflow: got %q, want triage", got)
	}
	if got := f.store.entities[a.ID].StateID; got != "working" {
		t.Errorf("entity state: got %q, want working", got)
	}
}

func TestDetachWorkflowLeavesStates(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	e, _ := f.svc.CreateEntity(ctx, "root", "ticket", map[string]any{"title": "t"})

	if err := f.svc.ReassignWorkflow(ctx, "root", "ticket", ""); err != nil {
		t.Fatalf("detach failed: %v", err)
	}
	if f.schemas.models["ticket"].WorkflowID != "" {
		t.Error("workflow not detached")
	}
	// Detaching leaves existing state pointers alone.
	if f.store.entities[e.ID].StateID != "open" {
		t.Errorf("detach reset entity state to %q", f.store.entities[e.ID].StateID)
	}
}

func TestRevertChange(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.perms.grant("carol", ScopedKey(PermRecordRevert, "ticket"))

	e, _ := f.svc.CreateEntity(ctx, "root", "ticket", map[string]any{"title": "t"})
	if _, err := f.svc.UpdateEntity(ctx, "root", e.ID, map[string]any{"title": "changed"}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	entries := f.store.entriesFor(e.ID)
	updateEntry := entries[len(entries)-1]

	reverted, err := f.svc.RevertChange(ctx, "carol", updateEntry.ID)
	if err != nil {
		t.Fatalf("RevertChange failed: %v", err)
	}
	if reverted.EntityID != e.ID {
		t.Errorf("revert entry entity: got %q", reverted.EntityID)
	}

	// History is append-only: the original entry is untouched and the
	// revert landed as a new entry.
	after := f.store.entriesFor(e.ID)
	if len(after) != len(entries)+1 {
		t.Fatalf("changelog length: got %d, want %d", len(after), len(entries)+1)
	}

	// Without the revert permission the entry stays put.
	if _, err := f.svc.RevertChange(ctx, "alice", updateEntry.ID); !IsPermission(err) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if _, err := f.svc.RevertChange(ctx, "carol", "missing"); !IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestValidateValues(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	result, err := f.svc.ValidateValues(ctx, "ticket", map[string]any{"title": "ok"}, "")
	if err != nil {
		t.Fatalf("ValidateValues failed: %v", err)
	}
	if !result.Valid {
		t.Errorf("expected valid, got %+v", result)
	}

	result, err = f.svc.ValidateValues(ctx, "ticket", map[string]any{"title": "invalid", "body": "also invalid"}, "")
	if err != nil {
		t.Fatalf("ValidateValues failed: %v", err)
	}
	if result.Valid || len(result.Failures) != 2 {
		t.Errorf("expected 2 failures, got %+v", result)
	}

	if _, err := f.svc.ValidateValues(ctx, "missing", nil, ""); !IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}
