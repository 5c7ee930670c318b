package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/recordloom/recordloom/pkg/schema"
)

// memStore is an in-memory EntityStore with staged transactions: writes land
// in an overlay and only reach the base maps on Commit. That makes rollback
// behavior observable in tests.
type memStore struct {
	entities map[string]*Entity
	runs     map[string]*WizardRun
	entries  []*ChangelogEntry

	// updateErr, when set, is returned by every UpdateEntity call. Lets
	// tests force a transaction to roll back mid-flight.
	updateErr error
}

func newMemStore() *memStore {
	return &memStore{
		entities: map[string]*Entity{},
		runs:     map[string]*WizardRun{},
	}
}

func (s *memStore) GetEntity(ctx context.Context, id string) (*Entity, error) {
	e, ok := s.entities[id]
	if !ok {
		return nil, NewNotFoundError("entity not found: %s", id)
	}
	return e.Clone(), nil
}

func (s *memStore) ListEntitiesByModel(ctx context.Context, modelID string, includeDeleted bool) ([]*Entity, error) {
	var out []*Entity
	for _, e := range s.entities {
		if e.ModelID != modelID {
			continue
		}
		if e.Deleted && !includeDeleted {
			continue
		}
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) GetRun(ctx context.Context, id string) (*WizardRun, error) {
	r, ok := s.runs[id]
	if !ok {
		return nil, NewNotFoundError("wizard run not found: %s", id)
	}
	cp := *r
	cp.Steps = append([]StepData(nil), r.Steps...)
	return &cp, nil
}

func (s *memStore) GetChangelogEntry(ctx context.Context, id string) (*ChangelogEntry, error) {
	for _, e := range s.entries {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, NewNotFoundError("changelog entry not found: %s", id)
}

func (s *memStore) ListChangelog(ctx context.Context, entityID string, limit, offset int) ([]*ChangelogEntry, error) {
	var out []*ChangelogEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].EntityID == entityID {
			cp := *s.entries[i]
			out = append(out, &cp)
		}
	}
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) Begin(ctx context.Context) (Tx, error) {
	return &memTx{
		store:    s,
		entities: map[string]*Entity{},
		runs:     map[string]*WizardRun{},
	}, nil
}

func (s *memStore) Close() error { return nil }

// entriesFor returns the committed changelog entries for one entity, oldest
// first.
func (s *memStore) entriesFor(entityID string) []*ChangelogEntry {
	var out []*ChangelogEntry
	for _, e := range s.entries {
		if e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out
}

type memTx struct {
	store    *memStore
	entities map[string]*Entity
	runs     map[string]*WizardRun
	entries  []*ChangelogEntry
	done     bool
}

func (t *memTx) GetEntity(ctx context.Context, id string) (*Entity, error) {
	if e, ok := t.entities[id]; ok {
		return e.Clone(), nil
	}
	return t.store.GetEntity(ctx, id)
}

func (t *memTx) ListEntitiesByModel(ctx context.Context, modelID string, includeDeleted bool) ([]*Entity, error) {
	merged := map[string]*Entity{}
	for id, e := range t.store.entities {
		merged[id] = e
	}
	for id, e := range t.entities {
		merged[id] = e
	}
	var out []*Entity
	for _, e := range merged {
		if e.ModelID != modelID {
			continue
		}
		if e.Deleted && !includeDeleted {
			continue
		}
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) GetRun(ctx context.Context, id string) (*WizardRun, error) {
	if r, ok := t.runs[id]; ok {
		cp := *r
		cp.Steps = append([]StepData(nil), r.Steps...)
		return &cp, nil
	}
	return t.store.GetRun(ctx, id)
}

func (t *memTx) GetChangelogEntry(ctx context.Context, id string) (*ChangelogEntry, error) {
	for _, e := range t.entries {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return t.store.GetChangelogEntry(ctx, id)
}

func (t *memTx) ListChangelog(ctx context.Context, entityID string, limit, offset int) ([]*ChangelogEntry, error) {
	return t.store.ListChangelog(ctx, entityID, limit, offset)
}

func (t *memTx) CreateEntity(ctx context.Context, e *Entity) error {
	t.entities[e.ID] = e.Clone()
	return nil
}

func (t *memTx) UpdateEntity(ctx context.Context, e *Entity) error {
	if t.store.updateErr != nil {
		return t.store.updateErr
	}
	if _, err := t.GetEntity(ctx, e.ID); err != nil {
		return err
	}
	t.entities[e.ID] = e.Clone()
	return nil
}

func (t *memTx) CreateRun(ctx context.Context, run *WizardRun) error {
	cp := *run
	cp.Steps = append([]StepData(nil), run.Steps...)
	t.runs[run.ID] = &cp
	return nil
}

func (t *memTx) UpdateRun(ctx context.Context, run *WizardRun) error {
	current, err := t.GetRun(ctx, run.ID)
	if err != nil {
		return err
	}
	if current.Version != run.Version {
		return NewSequenceError("wizard run %s was modified concurrently", run.ID)
	}
	cp := *run
	cp.Version++
	cp.Steps = append([]StepData(nil), run.Steps...)
	t.runs[run.ID] = &cp
	run.Version = cp.Version
	return nil
}

func (t *memTx) AppendChangelog(ctx context.Context, entry *ChangelogEntry) error {
	cp := *entry
	t.entries = append(t.entries, &cp)
	return nil
}

func (t *memTx) Commit() error {
	if t.done {
		return NewStoreError(nil, "transaction already finished")
	}
	t.done = true
	for id, e := range t.entities {
		t.store.entities[id] = e
	}
	for id, r := range t.runs {
		t.store.runs[id] = r
	}
	t.store.entries = append(t.store.entries, t.entries...)
	return nil
}

func (t *memTx) Rollback() error {
	t.done = true
	return nil
}

// stubSchemas is an in-memory SchemaSource and SchemaMutator.
type stubSchemas struct {
	models    map[string]*schema.Model
	workflows map[string]*schema.Workflow
	wizards   map[string]*schema.Wizard
}

func newStubSchemas() *stubSchemas {
	return &stubSchemas{
		models:    map[string]*schema.Model{},
		workflows: map[string]*schema.Workflow{},
		wizards:   map[string]*schema.Wizard{},
	}
}

func (s *stubSchemas) Model(id string) (*schema.Model, bool) {
	m, ok := s.models[id]
	return m, ok
}

func (s *stubSchemas) RulesetByName(name string) (*schema.Ruleset, bool) {
	return nil, false
}

func (s *stubSchemas) Workflow(id string) (*schema.Workflow, bool) {
	w, ok := s.workflows[id]
	return w, ok
}

func (s *stubSchemas) Wizard(id string) (*schema.Wizard, bool) {
	w, ok := s.wizards[id]
	return w, ok
}

func (s *stubSchemas) SetModelWorkflow(modelID, workflowID string) error {
	m, ok := s.models[modelID]
	if !ok {
		return fmt.Errorf("model not found: %s", modelID)
	}
	m.WorkflowID = workflowID
	return nil
}

// stubPerms grants the listed permission keys. Superusers pass everything.
type stubPerms struct {
	granted    map[string]bool
	superusers map[string]bool
}

func newStubPerms() *stubPerms {
	return &stubPerms{granted: map[string]bool{}, superusers: map[string]bool{}}
}

func (p *stubPerms) grant(userID, key string) {
	p.granted[userID+"|"+key] = true
}

func (p *stubPerms) HasPermission(ctx context.Context, userID, key string) (bool, error) {
	return p.granted[userID+"|"+key], nil
}

func (p *stubPerms) IsSuperuser(ctx context.Context, userID string) (bool, error) {
	return p.superusers[userID], nil
}

// stubValidator rejects any value set where a property's string value
// contains "invalid". Good enough to steer commit failures from tests.
type stubValidator struct {
	calls int
}

func (v *stubValidator) Validate(ctx context.Context, store Reader, model *schema.Model, values map[string]any, existingEntityID string) error {
	v.calls++
	props := make([]string, 0, len(values))
	for p := range values {
		props = append(props, p)
	}
	sort.Strings(props)
	for _, p := range props {
		if s, ok := values[p].(string); ok && strings.Contains(s, "invalid") {
			return NewValidationError(p, "value %q is not acceptable", s)
		}
	}
	return nil
}

func (v *stubValidator) ValidateAll(ctx context.Context, store Reader, model *schema.Model, values map[string]any, existingEntityID string) (*ValidationResult, error) {
	result := &ValidationResult{Valid: true}
	props := make([]string, 0, len(values))
	for p := range values {
		props = append(props, p)
	}
	sort.Strings(props)
	for _, p := range props {
		if s, ok := values[p].(string); ok && strings.Contains(s, "invalid") {
			result.Valid = false
			result.Failures = append(result.Failures, ValidationFailure{
				Property: p,
				Message:  fmt.Sprintf("value %q is not acceptable", s),
			})
		}
	}
	return result, nil
}

// stubWorkflow answers from the definition alone.
type stubWorkflow struct{}

func (stubWorkflow) InitialState(wf *schema.Workflow) (*schema.State, bool) {
	return wf.InitialState()
}

func (stubWorkflow) CheckTransition(wf *schema.Workflow, fromStateID, toStateID string) error {
	if _, ok := wf.State(toStateID); !ok {
		return NewStateTransitionError("state %s does not belong to workflow %q", toStateID, wf.Name)
	}
	if fromStateID == "" {
		return nil
	}
	for _, succ := range wf.Successors(fromStateID) {
		if succ == toStateID {
			return nil
		}
	}
	return NewStateTransitionError("transition from %q to %q is not declared", fromStateID, toStateID)
}

// stubAuditor appends bare entries with sequential IDs. Diff contents are
// covered by the audit package's own tests.
type stubAuditor struct {
	seq int
}

func (a *stubAuditor) append(ctx context.Context, tx Tx, entityID string, ct ChangeType, snapshot map[string]any) (*ChangelogEntry, error) {
	a.seq++
	entry := &ChangelogEntry{
		ID:       fmt.Sprintf("chg-%03d", a.seq),
		EntityID: entityID,
		Type:     ct,
		Snapshot: snapshot,
	}
	if err := tx.AppendChangelog(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (a *stubAuditor) RecordCreate(ctx context.Context, tx Tx, e *Entity, actor string) (*ChangelogEntry, error) {
	return a.append(ctx, tx, e.ID, ChangeTypeCreate, e.Clone().Values)
}

func (a *stubAuditor) RecordUpdate(ctx context.Context, tx Tx, before, after *Entity, actor string) (*ChangelogEntry, error) {
	return a.append(ctx, tx, after.ID, ChangeTypeUpdate, nil)
}

func (a *stubAuditor) RecordDelete(ctx context.Context, tx Tx, e *Entity, actor string) (*ChangelogEntry, error) {
	return a.append(ctx, tx, e.ID, ChangeTypeDelete, e.Clone().Values)
}

func (a *stubAuditor) RecordRestore(ctx context.Context, tx Tx, e *Entity, actor string) (*ChangelogEntry, error) {
	return a.append(ctx, tx, e.ID, ChangeTypeRestore, nil)
}

func (a *stubAuditor) Revert(ctx context.Context, tx Tx, entryID, actor string) (*ChangelogEntry, error) {
	entry, err := tx.GetChangelogEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	return a.append(ctx, tx, entry.EntityID, ChangeTypeRevertUpdate, nil)
}
