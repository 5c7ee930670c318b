package workflow

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/recordloom/recordloom/pkg/engine"
	"github.com/recordloom/recordloom/pkg/schema"
)

func triageWorkflow() *schema.Workflow {
	return &schema.Workflow{
		ID:   "wf-triage",
		Name: "triage",
		States: []schema.State{
			{ID: "open", Name: "Open", Initial: true},
			{ID: "working", Name: "Working"},
			{ID: "closed", Name: "Closed"},
		},
		Transitions: []schema.Transition{
			{FromStateID: "open", ToStateID: "working"},
			{FromStateID: "working", ToStateID: "closed"},
			{FromStateID: "working", ToStateID: "open"},
		},
	}
}

func TestInitialState(t *testing.T) {
	e := NewEngine(zerolog.Nop())

	s, ok := e.InitialState(triageWorkflow())
	if !ok {
		t.Fatal("expected an initial state")
	}
	if s.ID != "open" {
		t.Errorf("expected open, got %s", s.ID)
	}

	broken := triageWorkflow()
	broken.States[0].Initial = false
	if _, ok := e.InitialState(broken); ok {
		t.Error("expected no initial state on hand-built workflow")
	}
}

func TestCheckTransition(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	wf := triageWorkflow()

	tests := []struct {
		name string
		from string
		to   string
		ok   bool
	}{
		{"declared forward", "open", "working", true},
		{"declared backward", "working", "open", true},
		{"skip a state", "open", "closed", false},
		{"terminal state has no successors", "closed", "working", false},
		{"self transition not declared", "open", "open", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.CheckTransition(wf, tt.from, tt.to)
			if tt.ok && err != nil {
				t.Errorf("expected legal transition, got %v", err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatal("expected rejection")
				}
				if !engine.IsStateTransition(err) {
					t.Errorf("expected state transition error, got %v", err)
				}
			}
		})
	}
}

func TestCheckTransitionUnknownStates(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	wf := triageWorkflow()

	if err := e.CheckTransition(wf, "open", "archived"); err == nil {
		t.Error("expected unknown target state rejection")
	}
	if err := e.CheckTransition(wf, "archived", "open"); err == nil {
		t.Error("expected unknown source state rejection")
	}
}

func TestCheckTransitionEmptyFromAcceptsAnyState(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	wf := triageWorkflow()

	// Direct assignment mode, used when an entity has no current state.
	for _, to := range []string{"open", "working", "closed"} {
		if err := e.CheckTransition(wf, "", to); err != nil {
			t.Errorf("expected %s assignable from empty state: %v", to, err)
		}
	}
	if err := e.CheckTransition(wf, "", "archived"); err == nil {
		t.Error("expected unknown state rejected even from empty state")
	}
}
