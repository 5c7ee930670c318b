package schema

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestRegistry() *Registry {
	return NewRegistry(zerolog.Nop())
}

func contactModel() *Model {
	return &Model{
		ID:   "m-contact",
		Name: "contact",
		Properties: []Property{
			{ID: "p-name", Name: "name", Type: PropertyTypeString, Required: true},
			{ID: "p-email", Name: "email", Type: PropertyTypeString, Unique: true},
			{ID: "p-age", Name: "age", Type: PropertyTypeNumber},
		},
	}
}

func lifecycleWorkflow() *Workflow {
	return &Workflow{
		ID:   "wf-lifecycle",
		Name: "lifecycle",
		States: []State{
			{ID: "draft", Name: "Draft", Initial: true},
			{ID: "active", Name: "Active"},
		},
		Transitions: []Transition{
			{FromStateID: "draft", ToStateID: "active"},
		},
	}
}

func TestRegisterAndLookupModel(t *testing.T) {
	r := newTestRegistry()
	m := contactModel()
	if err := r.RegisterModel(m); err != nil {
		t.Fatalf("RegisterModel failed: %v", err)
	}

	got, ok := r.Model("m-contact")
	if !ok {
		t.Fatal("expected model by ID")
	}
	if got.Name != "contact" {
		t.Errorf("expected name contact, got %s", got.Name)
	}

	byName, ok := r.ModelByName("contact")
	if !ok || byName.ID != "m-contact" {
		t.Error("expected model by name")
	}

	if _, ok := r.Model("missing"); ok {
		t.Error("expected missing model lookup to fail")
	}
}

func TestRegisterModelDuplicateName(t *testing.T) {
	r := newTestRegistry()
	if err := r.RegisterModel(contactModel()); err != nil {
		t.Fatalf("RegisterModel failed: %v", err)
	}

	dup := contactModel()
	dup.ID = "m-other"
	err := r.RegisterModel(dup)
	if err == nil {
		t.Fatal("expected duplicate name rejection")
	}

	// Re-registering the same ID is an update, not a conflict.
	updated := contactModel()
	updated.Properties = append(updated.Properties, Property{ID: "p-phone", Name: "phone", Type: PropertyTypeString})
	if err := r.RegisterModel(updated); err != nil {
		t.Fatalf("expected same-ID re-registration to succeed: %v", err)
	}
	got, _ := r.Model("m-contact")
	if len(got.Properties) != 4 {
		t.Errorf("expected updated model, got %d properties", len(got.Properties))
	}
}

func TestRegisterModelChecks(t *testing.T) {
	minVal := 10.0
	maxVal := 1.0
	tests := []struct {
		name  string
		model *Model
		want  string
	}{
		{
			name: "duplicate property name",
			model: &Model{ID: "m1", Name: "dup", Properties: []Property{
				{ID: "a", Name: "x", Type: PropertyTypeString},
				{ID: "b", Name: "x", Type: PropertyTypeNumber},
			}},
			want: "duplicate property",
		},
		{
			name: "relationship without target",
			model: &Model{ID: "m2", Name: "rel", Properties: []Property{
				{ID: "a", Name: "parent", Type: PropertyTypeRelationship},
			}},
			want: "no target model",
		},
		{
			name: "unique on non-string",
			model: &Model{ID: "m3", Name: "uniq", Properties: []Property{
				{ID: "a", Name: "count", Type: PropertyTypeNumber, Unique: true},
			}},
			want: "unique constraint",
		},
		{
			name: "min above max",
			model: &Model{ID: "m4", Name: "bounds", Properties: []Property{
				{ID: "a", Name: "score", Type: PropertyTypeNumber, Min: &minVal, Max: &maxVal},
			}},
			want: "greater than max",
		},
		{
			name: "unknown workflow reference",
			model: &Model{ID: "m5", Name: "wired", WorkflowID: "wf-missing", Properties: []Property{
				{ID: "a", Name: "x", Type: PropertyTypeString},
			}},
			want: "unknown workflow",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry()
			err := r.RegisterModel(tt.model)
			if err == nil {
				t.Fatal("expected registration to fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestRegisterWorkflow(t *testing.T) {
	r := newTestRegistry()
	if err := r.RegisterWorkflow(lifecycleWorkflow()); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}

	wf, ok := r.Workflow("wf-lifecycle")
	if !ok {
		t.Fatal("expected workflow by ID")
	}
	initial, ok := wf.InitialState()
	if !ok || initial.ID != "draft" {
		t.Error("expected draft as initial state")
	}
}

func TestRegisterWorkflowRequiresOneInitialState(t *testing.T) {
	r := newTestRegistry()

	none := lifecycleWorkflow()
	none.States[0].Initial = false
	if err := r.RegisterWorkflow(none); err == nil {
		t.Error("expected rejection with zero initial states")
	}

	two := lifecycleWorkflow()
	two.States[1].Initial = true
	if err := r.RegisterWorkflow(two); err == nil {
		t.Error("expected rejection with two initial states")
	}
}

func TestRegisterWorkflowRejectsDanglingTransition(t *testing.T) {
	r := newTestRegistry()
	wf := lifecycleWorkflow()
	wf.Transitions = append(wf.Transitions, Transition{FromStateID: "active", ToStateID: "archived"})
	err := r.RegisterWorkflow(wf)
	if err == nil {
		t.Fatal("expected rejection for transition to unknown state")
	}
	if !strings.Contains(err.Error(), "unknown state") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRegisterRuleset(t *testing.T) {
	r := newTestRegistry()
	if err := r.RegisterRuleset(&Ruleset{ID: "rs-1", Name: "email", Pattern: `^[^@]+@[^@]+$`}); err != nil {
		t.Fatalf("RegisterRuleset failed: %v", err)
	}

	// A broken pattern is accepted here; the validator skips it at run time.
	if err := r.RegisterRuleset(&Ruleset{ID: "rs-2", Name: "broken", Pattern: `([`}); err != nil {
		t.Fatalf("expected broken pattern to register: %v", err)
	}

	rs, ok := r.RulesetByName("email")
	if !ok || rs.ID != "rs-1" {
		t.Error("expected ruleset by name")
	}

	dup := &Ruleset{ID: "rs-3", Name: "email", Pattern: `.*`}
	if err := r.RegisterRuleset(dup); err == nil {
		t.Error("expected duplicate ruleset name rejection")
	}
}

func TestRegisterWizard(t *testing.T) {
	r := newTestRegistry()
	if err := r.RegisterModel(contactModel()); err != nil {
		t.Fatalf("RegisterModel failed: %v", err)
	}
	order := &Model{
		ID:   "m-order",
		Name: "order",
		Properties: []Property{
			{ID: "p-ref", Name: "contact_ref", Type: PropertyTypeString},
			{ID: "p-label", Name: "label", Type: PropertyTypeString},
		},
	}
	if err := r.RegisterModel(order); err != nil {
		t.Fatalf("RegisterModel failed: %v", err)
	}

	w := &Wizard{
		ID:   "wz-onboard",
		Name: "onboard",
		Steps: []WizardStep{
			{ModelID: "m-contact", Type: StepTypeCreate, Properties: []string{"name", "email"}},
			{ModelID: "m-order", Type: StepTypeCreate, Mappings: []PropertyMapping{
				{SourceStepIndex: 0, SourceProperty: IdentitySource, TargetProperty: "contact_ref"},
				{SourceStepIndex: 0, SourceProperty: "name", TargetProperty: "label"},
			}},
		},
	}
	if err := r.RegisterWizard(w); err != nil {
		t.Fatalf("RegisterWizard failed: %v", err)
	}
	got, ok := r.Wizard("wz-onboard")
	if !ok || len(got.Steps) != 2 {
		t.Fatal("expected wizard by ID")
	}
}

func TestRegisterWizardMappingChecks(t *testing.T) {
	r := newTestRegistry()
	if err := r.RegisterModel(contactModel()); err != nil {
		t.Fatalf("RegisterModel failed: %v", err)
	}

	tests := []struct {
		name   string
		wizard *Wizard
		want   string
	}{
		{
			name: "unknown model",
			wizard: &Wizard{ID: "w1", Name: "w1", Steps: []WizardStep{
				{ModelID: "m-missing", Type: StepTypeCreate},
			}},
			want: "unknown model",
		},
		{
			name: "unknown requested property",
			wizard: &Wizard{ID: "w2", Name: "w2", Steps: []WizardStep{
				{ModelID: "m-contact", Type: StepTypeCreate, Properties: []string{"bogus"}},
			}},
			want: "unknown property",
		},
		{
			name: "lookup step with mappings",
			wizard: &Wizard{ID: "w3", Name: "w3", Steps: []WizardStep{
				{ModelID: "m-contact", Type: StepTypeCreate},
				{ModelID: "m-contact", Type: StepTypeLookup, Mappings: []PropertyMapping{
					{SourceStepIndex: 0, SourceProperty: "name", TargetProperty: "name"},
				}},
			}},
			want: "cannot carry mappings",
		},
		{
			name: "mapping source does not precede",
			wizard: &Wizard{ID: "w4", Name: "w4", Steps: []WizardStep{
				{ModelID: "m-contact", Type: StepTypeCreate, Mappings: []PropertyMapping{
					{SourceStepIndex: 0, SourceProperty: "name", TargetProperty: "name"},
				}},
			}},
			want: "must precede",
		},
		{
			name: "mapping target unknown",
			wizard: &Wizard{ID: "w5", Name: "w5", Steps: []WizardStep{
				{ModelID: "m-contact", Type: StepTypeCreate},
				{ModelID: "m-contact", Type: StepTypeCreate, Mappings: []PropertyMapping{
					{SourceStepIndex: 0, SourceProperty: "name", TargetProperty: "bogus"},
				}},
			}},
			want: "targets unknown property",
		},
		{
			name: "mapping source property unknown",
			wizard: &Wizard{ID: "w6", Name: "w6", Steps: []WizardStep{
				{ModelID: "m-contact", Type: StepTypeCreate},
				{ModelID: "m-contact", Type: StepTypeCreate, Mappings: []PropertyMapping{
					{SourceStepIndex: 0, SourceProperty: "bogus", TargetProperty: "name"},
				}},
			}},
			want: "reads unknown property",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.RegisterWizard(tt.wizard)
			if err == nil {
				t.Fatal("expected wizard registration to fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestSetModelWorkflow(t *testing.T) {
	r := newTestRegistry()
	if err := r.RegisterWorkflow(lifecycleWorkflow()); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}
	if err := r.RegisterModel(contactModel()); err != nil {
		t.Fatalf("RegisterModel failed: %v", err)
	}

	if err := r.SetModelWorkflow("m-contact", "wf-lifecycle"); err != nil {
		t.Fatalf("SetModelWorkflow failed: %v", err)
	}
	m, _ := r.Model("m-contact")
	if m.WorkflowID != "wf-lifecycle" {
		t.Errorf("expected workflow bound, got %q", m.WorkflowID)
	}

	if err := r.SetModelWorkflow("m-contact", ""); err != nil {
		t.Fatalf("detach failed: %v", err)
	}
	if m.WorkflowID != "" {
		t.Errorf("expected workflow detached, got %q", m.WorkflowID)
	}

	if err := r.SetModelWorkflow("m-contact", "wf-missing"); err == nil {
		t.Error("expected unknown workflow rejection")
	}
	if err := r.SetModelWorkflow("m-missing", "wf-lifecycle"); err == nil {
		t.Error("expected unknown model rejection")
	}
}

func TestRemoveWorkflowLeavesModelPointer(t *testing.T) {
	r := newTestRegistry()
	if err := r.RegisterWorkflow(lifecycleWorkflow()); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}
	m := contactModel()
	m.WorkflowID = "wf-lifecycle"
	if err := r.RegisterModel(m); err != nil {
		t.Fatalf("RegisterModel failed: %v", err)
	}

	if err := r.RemoveWorkflow("wf-lifecycle"); err != nil {
		t.Fatalf("RemoveWorkflow failed: %v", err)
	}
	if _, ok := r.Workflow("wf-lifecycle"); ok {
		t.Error("expected workflow removed")
	}

	// The model keeps its now-stale reference; consumers treat a missing
	// workflow as stateless.
	got, _ := r.Model("m-contact")
	if got.WorkflowID != "wf-lifecycle" {
		t.Errorf("expected stale workflow pointer kept, got %q", got.WorkflowID)
	}

	if err := r.RemoveWorkflow("wf-lifecycle"); err == nil {
		t.Error("expected second removal to fail")
	}
}

func TestReplaceFrom(t *testing.T) {
	r := newTestRegistry()
	if err := r.RegisterModel(contactModel()); err != nil {
		t.Fatalf("RegisterModel failed: %v", err)
	}

	fresh := newTestRegistry()
	if err := fresh.RegisterWorkflow(lifecycleWorkflow()); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}

	r.ReplaceFrom(fresh)

	// Holders of r see exactly the reloaded set.
	if _, ok := r.Model("m-contact"); ok {
		t.Error("old model survived the swap")
	}
	if _, ok := r.Workflow("wf-lifecycle"); !ok {
		t.Error("expected reloaded workflow visible through the old pointer")
	}
	if _, ok := r.ModelByName("contact"); ok {
		t.Error("expected name lookup to follow the swap")
	}
}
