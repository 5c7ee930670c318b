package schema

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Registry holds Model, Ruleset, Workflow, and Wizard definitions and
// provides lookup by ID and by name. Registration performs the semantic
// checks that must hold before any definition is usable: unique names,
// exactly one initial state per workflow, and the wizard mapping
// precondition that every mapping source step precedes its destination.
type Registry struct {
	mu sync.RWMutex

	models    map[string]*Model
	rulesets  map[string]*Ruleset
	workflows map[string]*Workflow
	wizards   map[string]*Wizard

	modelNames    map[string]string
	rulesetNames  map[string]string
	workflowNames map[string]string
	wizardNames   map[string]string

	logger zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		models:        make(map[string]*Model),
		rulesets:      make(map[string]*Ruleset),
		workflows:     make(map[string]*Workflow),
		wizards:       make(map[string]*Wizard),
		modelNames:    make(map[string]string),
		rulesetNames:  make(map[string]string),
		workflowNames: make(map[string]string),
		wizardNames:   make(map[string]string),
		logger:        logger.With().Str("component", "schema-registry").Logger(),
	}
}

// RegisterModel validates and stores a model definition.
func (r *Registry) RegisterModel(m *Model) error {
	if err := checkModel(m); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.modelNames[m.Name]; ok && existing != m.ID {
		return fmt.Errorf("model name %q already registered as %s", m.Name, existing)
	}
	if m.WorkflowID != "" {
		if _, ok := r.workflows[m.WorkflowID]; !ok {
			return fmt.Errorf("model %s references unknown workflow %s", m.Name, m.WorkflowID)
		}
	}

	r.models[m.ID] = m
	r.modelNames[m.Name] = m.ID
	r.logger.Debug().Str("model", m.Name).Int("properties", len(m.Properties)).Msg("Model registered")
	return nil
}

// RegisterRuleset stores a ruleset definition. The pattern is not compiled
// here: a broken pattern is a validator concern and is skipped fail-open at
// validation time.
func (r *Registry) RegisterRuleset(rs *Ruleset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.rulesetNames[rs.Name]; ok && existing != rs.ID {
		return fmt.Errorf("ruleset name %q already registered as %s", rs.Name, existing)
	}

	r.rulesets[rs.ID] = rs
	r.rulesetNames[rs.Name] = rs.ID
	return nil
}

// RegisterWorkflow validates and stores a workflow definition.
func (r *Registry) RegisterWorkflow(w *Workflow) error {
	if err := checkWorkflow(w); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.workflowNames[w.Name]; ok && existing != w.ID {
		return fmt.Errorf("workflow name %q already registered as %s", w.Name, existing)
	}

	r.workflows[w.ID] = w
	r.workflowNames[w.Name] = w.ID
	r.logger.Debug().Str("workflow", w.Name).Int("states", len(w.States)).Msg("Workflow registered")
	return nil
}

// RegisterWizard validates and stores a wizard definition. Mapping
// preconditions are enforced here, at definition time, so that run-time
// resolution can rely on a single forward pass without cycle detection.
func (r *Registry) RegisterWizard(w *Wizard) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.wizardNames[w.Name]; ok && existing != w.ID {
		return fmt.Errorf("wizard name %q already registered as %s", w.Name, existing)
	}
	if err := r.checkWizardLocked(w); err != nil {
		return err
	}

	r.wizards[w.ID] = w
	r.wizardNames[w.Name] = w.ID
	r.logger.Debug().Str("wizard", w.Name).Int("steps", len(w.Steps)).Msg("Wizard registered")
	return nil
}

// Model returns a model by ID.
func (r *Registry) Model(id string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	return m, ok
}

// ModelByName returns a model by its unique name.
func (r *Registry) ModelByName(name string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.modelNames[name]
	if !ok {
		return nil, false
	}
	return r.models[id], true
}

// Ruleset returns a ruleset by ID.
func (r *Registry) Ruleset(id string) (*Ruleset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.rulesets[id]
	return rs, ok
}

// RulesetByName returns a ruleset by its unique name.
func (r *Registry) RulesetByName(name string) (*Ruleset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.rulesetNames[name]
	if !ok {
		return nil, false
	}
	return r.rulesets[id], true
}

// Workflow returns a workflow by ID.
func (r *Registry) Workflow(id string) (*Workflow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workflows[id]
	return w, ok
}

// Wizard returns a wizard by ID.
func (r *Registry) Wizard(id string) (*Wizard, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.wizards[id]
	return w, ok
}

// Models returns all registered models.
func (r *Registry) Models() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	return out
}

// Workflows returns all registered workflows in unspecified order.
func (r *Registry) Workflows() []*Workflow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Workflow, 0, len(r.workflows))
	for _, w := range r.workflows {
		out = append(out, w)
	}
	return out
}

// Wizards returns all registered wizards in unspecified order.
func (r *Registry) Wizards() []*Wizard {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Wizard, 0, len(r.wizards))
	for _, w := range r.wizards {
		out = append(out, w)
	}
	return out
}

// ReplaceFrom swaps this registry's definitions for those of src, so that
// holders of the registry pointer see the reloaded set without re-wiring.
// src is expected to be a freshly loaded registry that is discarded after
// the call.
func (r *Registry) ReplaceFrom(src *Registry) {
	src.mu.RLock()
	defer src.mu.RUnlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	r.models = src.models
	r.rulesets = src.rulesets
	r.workflows = src.workflows
	r.wizards = src.wizards
	r.modelNames = src.modelNames
	r.rulesetNames = src.rulesetNames
	r.workflowNames = src.workflowNames
	r.wizardNames = src.wizardNames
}

// SetModelWorkflow rebinds a model to a workflow, or detaches it when
// workflowID is empty. The caller (engine) is responsible for the bulk state
// reset of existing entities; the registry only updates the definition.
func (r *Registry) SetModelWorkflow(modelID, workflowID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.models[modelID]
	if !ok {
		return fmt.Errorf("model not found: %s", modelID)
	}
	if workflowID != "" {
		if _, ok := r.workflows[workflowID]; !ok {
			return fmt.Errorf("workflow not found: %s", workflowID)
		}
	}
	m.WorkflowID = workflowID
	return nil
}

// RemoveWorkflow deletes a workflow definition. Models that referenced it
// keep their stale pointer and entities keep their state IDs untouched; that
// is the documented removal behavior.
func (r *Registry) RemoveWorkflow(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workflows[id]
	if !ok {
		return fmt.Errorf("workflow not found: %s", id)
	}
	delete(r.workflows, id)
	delete(r.workflowNames, w.Name)
	r.logger.Warn().Str("workflow", w.Name).Msg("Workflow removed; existing state pointers left stale")
	return nil
}

func checkModel(m *Model) error {
	seen := make(map[string]struct{}, len(m.Properties))
	for i := range m.Properties {
		p := &m.Properties[i]
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("model %s: duplicate property name %q", m.Name, p.Name)
		}
		seen[p.Name] = struct{}{}

		if p.Type == PropertyTypeRelationship && p.TargetModelID == "" {
			return fmt.Errorf("model %s: relationship property %q has no target model", m.Name, p.Name)
		}
		if p.Unique && p.Type != PropertyTypeString {
			return fmt.Errorf("model %s: unique constraint on non-string property %q", m.Name, p.Name)
		}
		if p.Min != nil && p.Max != nil && *p.Min > *p.Max {
			return fmt.Errorf("model %s: property %q has min %v greater than max %v", m.Name, p.Name, *p.Min, *p.Max)
		}
	}
	return nil
}

func checkWorkflow(w *Workflow) error {
	initial := 0
	for i := range w.States {
		if w.States[i].Initial {
			initial++
		}
	}
	if initial != 1 {
		return fmt.Errorf("workflow %s: exactly one initial state required, found %d", w.Name, initial)
	}

	for _, t := range w.Transitions {
		if _, ok := w.State(t.FromStateID); !ok {
			return fmt.Errorf("workflow %s: transition from unknown state %s", w.Name, t.FromStateID)
		}
		if _, ok := w.State(t.ToStateID); !ok {
			return fmt.Errorf("workflow %s: transition to unknown state %s", w.Name, t.ToStateID)
		}
	}
	return nil
}

// checkWizardLocked validates a wizard against registered models. Callers
// hold r.mu.
func (r *Registry) checkWizardLocked(w *Wizard) error {
	for i := range w.Steps {
		step := &w.Steps[i]
		model, ok := r.models[step.ModelID]
		if !ok {
			return fmt.Errorf("wizard %s: step %d references unknown model %s", w.Name, i, step.ModelID)
		}

		for _, name := range step.Properties {
			if _, ok := model.Property(name); !ok {
				return fmt.Errorf("wizard %s: step %d requests unknown property %q of model %s", w.Name, i, name, model.Name)
			}
		}

		if step.Type == StepTypeLookup && len(step.Mappings) > 0 {
			return fmt.Errorf("wizard %s: step %d is a lookup step and cannot carry mappings", w.Name, i)
		}

		for _, mp := range step.Mappings {
			if mp.SourceStepIndex < 0 || mp.SourceStepIndex >= i {
				return fmt.Errorf("wizard %s: step %d mapping source step %d must precede the step", w.Name, i, mp.SourceStepIndex)
			}
			if _, ok := model.Property(mp.TargetProperty); !ok {
				return fmt.Errorf("wizard %s: step %d mapping targets unknown property %q of model %s", w.Name, i, mp.TargetProperty, model.Name)
			}
			if mp.SourceProperty == IdentitySource {
				continue
			}
			source := &w.Steps[mp.SourceStepIndex]
			sourceModel, ok := r.models[source.ModelID]
			if !ok {
				return fmt.Errorf("wizard %s: step %d references unknown model %s", w.Name, mp.SourceStepIndex, source.ModelID)
			}
			if _, ok := sourceModel.Property(mp.SourceProperty); !ok {
				return fmt.Errorf("wizard %s: step %d mapping reads unknown property %q of model %s", w.Name, i, mp.SourceProperty, sourceModel.Name)
			}
		}
	}
	return nil
}
