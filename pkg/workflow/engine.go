// Package workflow answers the two questions the record engine asks of a
// state machine: what is the initial state, and is a transition legal. It is
// stateless; workflow definitions come from the schema registry.
package workflow

import (
	"github.com/rs/zerolog"

	"github.com/recordloom/recordloom/pkg/engine"
	"github.com/recordloom/recordloom/pkg/schema"
)

// Engine implements engine.WorkflowEngine.
type Engine struct {
	logger zerolog.Logger
}

// NewEngine creates a workflow engine.
func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{
		logger: logger.With().Str("component", "workflow-engine").Logger(),
	}
}

// InitialState returns the workflow's entry state. Workflows registered
// through the schema registry always have exactly one; the boolean guards
// against definitions constructed by hand.
func (e *Engine) InitialState(wf *schema.Workflow) (*schema.State, bool) {
	return wf.InitialState()
}

// CheckTransition reports whether moving an entity from fromStateID to
// toStateID is legal under the workflow.
//
// An empty fromStateID accepts any state belonging to the workflow. That
// mode serves direct assignment when the entity has no current state and the
// bulk reset on workflow reassignment; it is never exposed as a user-facing
// transition. A non-empty fromStateID requires toStateID to be a declared
// successor.
func (e *Engine) CheckTransition(wf *schema.Workflow, fromStateID, toStateID string) error {
	to, ok := wf.State(toStateID)
	if !ok {
		return engine.NewStateTransitionError("state %s does not belong to workflow %q", toStateID, wf.Name)
	}

	if fromStateID == "" {
		return nil
	}

	from, ok := wf.State(fromStateID)
	if !ok {
		return engine.NewStateTransitionError("state %s does not belong to workflow %q", fromStateID, wf.Name)
	}

	for _, succ := range wf.Successors(fromStateID) {
		if succ == toStateID {
			return nil
		}
	}

	e.logger.Debug().
		Str("workflow", wf.Name).
		Str("from", from.Name).
		Str("to", to.Name).
		Msg("Illegal transition rejected")

	return engine.NewStateTransitionError("transition from %q to %q is not declared in workflow %q", from.Name, to.Name, wf.Name)
}
