package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/recordloom/recordloom/pkg/schema"
	"github.com/recordloom/recordloom/pkg/telemetry"
)

// DefaultsApplier fills unset property values from the model's default
// expressions before validation. Implemented by schema.DefaultEvaluator.
type DefaultsApplier interface {
	ApplyDefaults(ctx context.Context, model *schema.Model, values map[string]any) error
}

// SchemaMutator is the write side of the definition registry the engine
// needs for workflow reassignment. Implemented by schema.Registry.
type SchemaMutator interface {
	SetModelWorkflow(modelID, workflowID string) error
}

// Config wires the engine's collaborators.
type Config struct {
	Schemas     SchemaSource
	Mutator     SchemaMutator
	Store       EntityStore
	Validator   Validator
	Workflow    WorkflowEngine
	Permissions PermissionOracle
	Auditor     Auditor
	Defaults    DefaultsApplier
	Logger      zerolog.Logger
	Telemetry   *telemetry.Telemetry
}

// Orchestrator drives multi-step wizard runs: it accepts step submissions in
// strict sequence and, on the final step, atomically commits every planned
// entity or none of them.
type Orchestrator struct {
	schemas   SchemaSource
	store     EntityStore
	validator Validator
	workflow  WorkflowEngine
	perms     PermissionOracle
	auditor   Auditor
	defaults  DefaultsApplier
	logger    zerolog.Logger
	tel       *telemetry.Telemetry

	now   func() time.Time
	newID func() string
}

// NewOrchestrator creates a wizard orchestrator.
func NewOrchestrator(cfg Config) *Orchestrator {
	return &Orchestrator{
		schemas:   cfg.Schemas,
		store:     cfg.Store,
		validator: cfg.Validator,
		workflow:  cfg.Workflow,
		perms:     cfg.Permissions,
		auditor:   cfg.Auditor,
		defaults:  cfg.Defaults,
		logger:    cfg.Logger.With().Str("component", "orchestrator").Logger(),
		tel:       cfg.Telemetry,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.New().String() },
	}
}

// StartRun begins a new wizard run for the given user.
func (o *Orchestrator) StartRun(ctx context.Context, actor, wizardID string) (*WizardRun, error) {
	if err := o.authorize(ctx, actor, PermWizardRun, ""); err != nil {
		return nil, err
	}

	wizard, ok := o.schemas.Wizard(wizardID)
	if !ok {
		return nil, NewNotFoundError("wizard not found: %s", wizardID)
	}

	now := o.now()
	run := &WizardRun{
		ID:               o.newID(),
		WizardID:         wizard.ID,
		UserID:           actor,
		Status:           RunStatusInProgress,
		CurrentStepIndex: -1,
		Steps:            make([]StepData, 0, len(wizard.Steps)),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	tx, err := o.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := tx.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	o.logger.Info().
		Str("run_id", run.ID).
		Str("wizard_id", wizard.ID).
		Str("user_id", actor).
		Msg("Wizard run started")

	if o.tel != nil {
		o.tel.Metrics.RecordWizardRunStarted(wizard.Name)
		_ = o.tel.Events.PublishWizardRunStarted(run.ID, wizard.ID, actor)
	}

	return run, nil
}

// GetRun retrieves a wizard run by ID.
func (o *Orchestrator) GetRun(ctx context.Context, id string) (*WizardRun, error) {
	return o.store.GetRun(ctx, id)
}

// SubmitStep submits data for one wizard step. Steps must arrive in strict
// sequence: the submitted index must equal the run's current index plus one.
// Non-final steps only record their payload; the final step commits every
// planned entity inside a single transaction, or none of them.
//
// formData carries the raw values for a create step; lookupEntityID
// references an existing entity for a lookup step.
func (o *Orchestrator) SubmitStep(ctx context.Context, actor, runID string, stepIndex int, formData map[string]any, lookupEntityID string) (*StepResult, error) {
	var span trace.Span
	if o.tel != nil {
		ctx, span = o.tel.Tracer.StartStepSpan(ctx, runID, stepIndex)
		defer span.End()
	}

	result, err := o.submitStep(ctx, actor, runID, stepIndex, formData, lookupEntityID)

	if o.tel != nil {
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		wizardName := runID
		if run, getErr := o.store.GetRun(ctx, runID); getErr == nil {
			if wz, ok := o.schemas.Wizard(run.WizardID); ok {
				wizardName = wz.Name
			}
		}
		if err != nil {
			o.tel.Metrics.RecordWizardStep(wizardName, "rejected")
			o.tel.Metrics.RecordError(string(KindOf(err)))
			_ = o.tel.Events.PublishWizardRunFailed(runID, err.Error())
		} else {
			o.tel.Metrics.RecordWizardStep(wizardName, "accepted")
			_ = o.tel.Events.PublishWizardStepAccepted(runID, stepIndex)
			if result.IsFinalStep {
				_ = o.tel.Events.PublishWizardRunCommitted(runID, result.CreatedEntityIDs)
			}
		}
	}

	return result, err
}

func (o *Orchestrator) submitStep(ctx context.Context, actor, runID string, stepIndex int, formData map[string]any, lookupEntityID string) (*StepResult, error) {
	tx, err := o.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	run, err := tx.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != RunStatusInProgress {
		return nil, NewSequenceError("wizard run %s is already completed", runID)
	}

	if actor != run.UserID {
		if err := o.authorize(ctx, actor, PermWizardOverride, ""); err != nil {
			return nil, err
		}
	}

	wizard, ok := o.schemas.Wizard(run.WizardID)
	if !ok {
		return nil, NewNotFoundError("wizard not found: %s", run.WizardID)
	}

	if stepIndex < 0 || stepIndex >= len(wizard.Steps) {
		return nil, NewSequenceError("step index %d is out of bounds for wizard %s (%d steps)", stepIndex, wizard.Name, len(wizard.Steps))
	}
	if expected := run.CurrentStepIndex + 1; stepIndex != expected {
		return nil, NewSequenceError("step %d submitted out of order; expected step %d", stepIndex, expected)
	}

	step := &wizard.Steps[stepIndex]
	data := run.StepAt(stepIndex)

	switch step.Type {
	case schema.StepTypeCreate:
		if formData == nil {
			formData = map[string]any{}
		}
		data.Submitted = cloneValueMap(formData)
		data.LookupEntityID = ""
	case schema.StepTypeLookup:
		if lookupEntityID == "" {
			err := NewValidationError("", "lookup step requires an entity reference")
			return nil, err.WithStep(stepIndex)
		}
		if err := o.resolveLookup(ctx, tx, step, data, lookupEntityID, stepIndex); err != nil {
			return nil, err
		}
	default:
		return nil, NewInternalError(nil, "unknown step type %q", step.Type)
	}

	isFinal := stepIndex == len(wizard.Steps)-1

	if !isFinal {
		run.CurrentStepIndex = stepIndex
		run.UpdatedAt = o.now()
		if err := tx.UpdateRun(ctx, run); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}

		o.logger.Debug().
			Str("run_id", run.ID).
			Int("step_index", stepIndex).
			Msg("Wizard step recorded")

		return &StepResult{IsFinalStep: false}, nil
	}

	createdIDs, err := o.commitRun(ctx, tx, run, wizard)
	if err != nil {
		return nil, err
	}

	run.CurrentStepIndex = stepIndex
	run.Status = RunStatusCompleted
	run.UpdatedAt = o.now()
	if err := tx.UpdateRun(ctx, run); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	o.logger.Info().
		Str("run_id", run.ID).
		Str("wizard_id", wizard.ID).
		Int("entities", len(createdIDs)).
		Msg("Wizard run committed")

	if o.tel != nil {
		o.tel.Metrics.RecordWizardRunCompleted(wizard.Name, o.now().Sub(run.CreatedAt))
	}

	return &StepResult{
		IsFinalStep:      true,
		CreatedEntityIDs: createdIDs,
	}, nil
}

// resolveLookup records a lookup step's entity reference and eagerly copies
// the referenced entity's current values so later mappings can read them.
func (o *Orchestrator) resolveLookup(ctx context.Context, tx Tx, step *schema.WizardStep, data *StepData, entityID string, stepIndex int) error {
	entity, err := tx.GetEntity(ctx, entityID)
	if err != nil {
		return err
	}
	if entity.ModelID != step.ModelID {
		err := NewValidationError("", "entity %s belongs to model %s, lookup step expects model %s", entityID, entity.ModelID, step.ModelID)
		return err.WithStep(stepIndex)
	}
	if entity.Deleted {
		err := NewValidationError("", "entity %s is deleted and cannot be referenced", entityID)
		return err.WithStep(stepIndex)
	}

	data.LookupEntityID = entityID
	data.Resolved = cloneValueMap(entity.Values)
	data.Submitted = nil
	return nil
}

// commitRun runs the two-phase final commit: refresh every lookup step's
// resolved values, then create entities in step order, resolving property
// mappings against earlier steps. All inside the caller's transaction.
func (o *Orchestrator) commitRun(ctx context.Context, tx Tx, run *WizardRun, wizard *schema.Wizard) ([]string, error) {
	// Phase A: lookups may have been recorded steps ago; re-read the
	// referenced entities so mappings see current values.
	for i := range wizard.Steps {
		step := &wizard.Steps[i]
		if step.Type != schema.StepTypeLookup {
			continue
		}
		data := run.StepAt(i)
		if err := o.resolveLookup(ctx, tx, step, data, data.LookupEntityID, i); err != nil {
			return nil, err
		}
	}

	// Phase B: ordered creation. Mappings always reference earlier steps,
	// so one forward pass resolves everything.
	produced := make([]string, len(wizard.Steps))
	createdIDs := []string{}

	for i := range wizard.Steps {
		step := &wizard.Steps[i]
		data := run.StepAt(i)

		if step.Type == schema.StepTypeLookup {
			produced[i] = data.LookupEntityID
			data.ProducedEntityID = data.LookupEntityID
			continue
		}

		model, ok := o.schemas.Model(step.ModelID)
		if !ok {
			return nil, NewNotFoundError("model not found: %s", step.ModelID)
		}

		values := cloneValueMap(data.Submitted)
		for _, mapping := range step.Mappings {
			source, err := o.resolveMapping(run, produced, &mapping, i)
			if err != nil {
				return nil, err
			}
			values[mapping.TargetProperty] = source
		}

		if o.defaults != nil {
			if err := o.defaults.ApplyDefaults(ctx, model, values); err != nil {
				return nil, NewInternalError(err, "failed to apply defaults for model %s", model.Name)
			}
		}

		if err := o.validator.Validate(ctx, tx, model, values, ""); err != nil {
			var e *Error
			if errors.As(err, &e) {
				return nil, e.WithStep(i)
			}
			return nil, err
		}

		entity := &Entity{
			ID:        o.newID(),
			ModelID:   model.ID,
			Values:    values,
			OwnerID:   run.UserID,
			CreatedAt: o.now(),
			UpdatedAt: o.now(),
		}
		o.assignInitialState(entity, model)

		if err := tx.CreateEntity(ctx, entity); err != nil {
			return nil, err
		}
		if _, err := o.auditor.RecordCreate(ctx, tx, entity, run.UserID); err != nil {
			return nil, err
		}

		produced[i] = entity.ID
		data.ProducedEntityID = entity.ID
		data.Resolved = cloneValueMap(values)
		createdIDs = append(createdIDs, entity.ID)
	}

	return createdIDs, nil
}

// resolveMapping resolves one property mapping's source value from an
// earlier step: the identity sentinel yields the entity the earlier step
// produced, a property name yields its resolved value.
func (o *Orchestrator) resolveMapping(run *WizardRun, produced []string, mapping *schema.PropertyMapping, stepIndex int) (any, error) {
	src := mapping.SourceStepIndex
	if src < 0 || src >= stepIndex {
		return nil, NewInternalError(nil, "mapping on step %d references step %d", stepIndex, src)
	}

	if mapping.SourceProperty == schema.IdentitySource {
		return produced[src], nil
	}

	sourceData := run.StepAt(src)
	value, ok := sourceData.Resolved[mapping.SourceProperty]
	if !ok {
		return nil, NewNotFoundError("property %q is not resolved on step %d", mapping.SourceProperty, src)
	}
	return value, nil
}

// assignInitialState auto-assigns the model's workflow initial state. The
// state is never user-chosen. A stale workflow pointer leaves the entity
// stateless.
func (o *Orchestrator) assignInitialState(e *Entity, model *schema.Model) {
	if model.WorkflowID == "" {
		return
	}
	wf, ok := o.schemas.Workflow(model.WorkflowID)
	if !ok {
		o.logger.Warn().
			Str("model_id", model.ID).
			Str("workflow_id", model.WorkflowID).
			Msg("Model references a missing workflow, entity created without state")
		return
	}
	if initial, ok := o.workflow.InitialState(wf); ok {
		e.StateID = initial.ID
	}
}

func (o *Orchestrator) authorize(ctx context.Context, userID, perm, modelID string) error {
	return authorize(ctx, o.perms, o.tel, userID, perm, modelID)
}

// authorize answers a permission question against the oracle: superusers
// pass, then the model-scoped key, then the plain key.
func authorize(ctx context.Context, perms PermissionOracle, tel *telemetry.Telemetry, userID, perm, modelID string) error {
	super, err := perms.IsSuperuser(ctx, userID)
	if err != nil {
		return NewInternalError(err, "permission check failed")
	}
	if super {
		return nil
	}

	if modelID != "" {
		ok, err := perms.HasPermission(ctx, userID, ScopedKey(perm, modelID))
		if err != nil {
			return NewInternalError(err, "permission check failed")
		}
		if ok {
			return nil
		}
	}

	ok, err := perms.HasPermission(ctx, userID, perm)
	if err != nil {
		return NewInternalError(err, "permission check failed")
	}
	if ok {
		return nil
	}

	if tel != nil {
		_ = tel.Events.PublishPolicyViolation(userID, perm, "permission denied")
	}
	return NewPermissionError("user %s lacks permission %s", userID, perm)
}

func cloneValueMap(values map[string]any) map[string]any {
	cp := make(map[string]any, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return cp
}
