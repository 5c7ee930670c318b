package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/recordloom/recordloom/pkg/schema"
	"github.com/recordloom/recordloom/pkg/telemetry"
)

// Service is the direct record mutation API: create, update, soft delete,
// restore, workflow transitions, and changelog reverts, each permission
// checked, validated, audited, and applied in its own transaction.
type Service struct {
	schemas   SchemaSource
	mutator   SchemaMutator
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

// NewService creates a record service.
func NewService(cfg Config) *Service {
	return &Service{
		schemas:   cfg.Schemas,
		mutator:   cfg.Mutator,
		store:     cfg.Store,
		validator: cfg.Validator,
		workflow:  cfg.Workflow,
		perms:     cfg.Permissions,
		auditor:   cfg.Auditor,
		defaults:  cfg.Defaults,
		logger:    cfg.Logger.With().Str("component", "service").Logger(),
		tel:       cfg.Telemetry,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.New().String() },
	}
}

// GetEntity retrieves an entity by ID, including soft-deleted ones.
func (s *Service) GetEntity(ctx context.Context, id string) (*Entity, error) {
	return s.store.GetEntity(ctx, id)
}

// ListEntities lists all entities of a model.
func (s *Service) ListEntities(ctx context.Context, modelID string, includeDeleted bool) ([]*Entity, error) {
	return s.store.ListEntitiesByModel(ctx, modelID, includeDeleted)
}

// ListChangelog lists an entity's change history, newest first.
func (s *Service) ListChangelog(ctx context.Context, entityID string, limit, offset int) ([]*ChangelogEntry, error) {
	return s.store.ListChangelog(ctx, entityID, limit, offset)
}

// ValidateValues checks values against a model without persisting anything,
// collecting every failure. existingEntityID exempts that entity's own rows
// from uniqueness conflicts.
func (s *Service) ValidateValues(ctx context.Context, modelID string, values map[string]any, existingEntityID string) (*ValidationResult, error) {
	model, ok := s.schemas.Model(modelID)
	if !ok {
		return nil, NewNotFoundError("model not found: %s", modelID)
	}

	start := s.now()
	result, err := s.validator.ValidateAll(ctx, s.store, model, values, existingEntityID)
	if err != nil {
		return nil, err
	}

	if s.tel != nil {
		s.tel.Metrics.RecordValidation(model.Name, result.Valid, s.now().Sub(start))
	}
	return result, nil
}

// CreateEntity validates and persists a new entity of the given model. The
// initial workflow state is auto-assigned, never caller-chosen.
func (s *Service) CreateEntity(ctx context.Context, actor, modelID string, values map[string]any) (*Entity, error) {
	if err := s.authorize(ctx, actor, PermRecordCreate, modelID); err != nil {
		return nil, err
	}

	model, ok := s.schemas.Model(modelID)
	if !ok {
		return nil, NewNotFoundError("model not found: %s", modelID)
	}

	entity := &Entity{
		ID:        s.newID(),
		ModelID:   model.ID,
		Values:    cloneValueMap(values),
		OwnerID:   actor,
		CreatedAt: s.now(),
		UpdatedAt: s.now(),
	}
	s.assignInitialState(entity, model)

	err := s.inTx(ctx, func(tx Tx) error {
		if s.defaults != nil {
			if err := s.defaults.ApplyDefaults(ctx, model, entity.Values); err != nil {
				return NewInternalError(err, "failed to apply defaults for model %s", model.Name)
			}
		}
		if err := s.validator.Validate(ctx, tx, model, entity.Values, ""); err != nil {
			return err
		}
		if err := tx.CreateEntity(ctx, entity); err != nil {
			return err
		}
		_, err := s.auditor.RecordCreate(ctx, tx, entity, actor)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.observeMutation(model.Name, string(ChangeTypeCreate), telemetry.EventTypeEntityCreated, entity, actor)
	return entity, nil
}

// UpdateEntity applies a partial value update to a live entity. Keys absent
// from values keep their current value; keys present replace it. The merged
// result is validated before anything persists.
func (s *Service) UpdateEntity(ctx context.Context, actor, entityID string, values map[string]any) (*Entity, error) {
	var updated *Entity
	var modelName string

	err := s.inTx(ctx, func(tx Tx) error {
		before, err := tx.GetEntity(ctx, entityID)
		if err != nil {
			return err
		}
		if before.Deleted {
			return NewValidationError("", "entity %s is deleted and cannot be edited", entityID)
		}
		if err := s.authorize(ctx, actor, PermRecordUpdate, before.ModelID); err != nil {
			return err
		}
		model, ok := s.schemas.Model(before.ModelID)
		if !ok {
			return NewNotFoundError("model not found: %s", before.ModelID)
		}
		modelName = model.Name

		entity := before.Clone()
		for k, v := range values {
			entity.Values[k] = v
		}
		if err := s.validator.Validate(ctx, tx, model, entity.Values, entity.ID); err != nil {
			return err
		}

		entity.UpdatedAt = s.now()
		if err := tx.UpdateEntity(ctx, entity); err != nil {
			return err
		}
		if _, err := s.auditor.RecordUpdate(ctx, tx, before, entity, actor); err != nil {
			return err
		}
		updated = entity
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.observeMutation(modelName, string(ChangeTypeUpdate), telemetry.EventTypeEntityUpdated, updated, actor)
	return updated, nil
}

// SoftDeleteEntity flags an entity as deleted without removing the row. The
// changelog entry carries a full snapshot so the delete can be reverted.
func (s *Service) SoftDeleteEntity(ctx context.Context, actor, entityID string) error {
	var modelName string
	var deleted *Entity

	err := s.inTx(ctx, func(tx Tx) error {
		entity, err := tx.GetEntity(ctx, entityID)
		if err != nil {
			return err
		}
		if entity.Deleted {
			return NewValidationError("", "entity %s is already deleted", entityID)
		}
		if err := s.authorize(ctx, actor, PermRecordDelete, entity.ModelID); err != nil {
			return err
		}
		if model, ok := s.schemas.Model(entity.ModelID); ok {
			modelName = model.Name
		}

		now := s.now()
		entity.Deleted = true
		entity.DeletedAt = &now
		entity.UpdatedAt = now
		if err := tx.UpdateEntity(ctx, entity); err != nil {
			return err
		}
		if _, err := s.auditor.RecordDelete(ctx, tx, entity, actor); err != nil {
			return err
		}
		deleted = entity
		return nil
	})
	if err != nil {
		return err
	}

	s.observeMutation(modelName, string(ChangeTypeDelete), telemetry.EventTypeEntityDeleted, deleted, actor)
	return nil
}

// RestoreEntity brings a soft-deleted entity back with the values it held at
// delete time.
func (s *Service) RestoreEntity(ctx context.Context, actor, entityID string) (*Entity, error) {
	var modelName string
	var restored *Entity

	err := s.inTx(ctx, func(tx Tx) error {
		entity, err := tx.GetEntity(ctx, entityID)
		if err != nil {
			return err
		}
		if !entity.Deleted {
			return NewValidationError("", "entity %s is not deleted", entityID)
		}
		if err := s.authorize(ctx, actor, PermRecordDelete, entity.ModelID); err != nil {
			return err
		}
		if model, ok := s.schemas.Model(entity.ModelID); ok {
			modelName = model.Name
		}

		entity.Deleted = false
		entity.DeletedAt = nil
		entity.UpdatedAt = s.now()
		if err := tx.UpdateEntity(ctx, entity); err != nil {
			return err
		}
		if _, err := s.auditor.RecordRestore(ctx, tx, entity, actor); err != nil {
			return err
		}
		restored = entity
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.observeMutation(modelName, string(ChangeTypeRestore), telemetry.EventTypeEntityRestored, restored, actor)
	return restored, nil
}

// TransitionEntity moves an entity to another workflow state. The move must
// be an edge of the model's workflow.
func (s *Service) TransitionEntity(ctx context.Context, actor, entityID, toStateID string) (*Entity, error) {
	var updated *Entity
	var wfName, fromState string

	err := s.inTx(ctx, func(tx Tx) error {
		before, err := tx.GetEntity(ctx, entityID)
		if err != nil {
			return err
		}
		if before.Deleted {
			return NewValidationError("", "entity %s is deleted and cannot transition", entityID)
		}
		if err := s.authorize(ctx, actor, PermRecordUpdate, before.ModelID); err != nil {
			return err
		}
		model, ok := s.schemas.Model(before.ModelID)
		if !ok {
			return NewNotFoundError("model not found: %s", before.ModelID)
		}
		if model.WorkflowID == "" {
			return NewStateTransitionError("model %s has no workflow", model.Name)
		}
		wf, ok := s.schemas.Workflow(model.WorkflowID)
		if !ok {
			return NewNotFoundError("workflow not found: %s", model.WorkflowID)
		}
		wfName = wf.Name
		fromState = before.StateID

		if err := s.workflow.CheckTransition(wf, before.StateID, toStateID); err != nil {
			if s.tel != nil {
				s.tel.Metrics.RecordTransition(wf.Name, false)
			}
			return err
		}

		entity := before.Clone()
		entity.StateID = toStateID
		entity.UpdatedAt = s.now()
		if err := tx.UpdateEntity(ctx, entity); err != nil {
			return err
		}
		if _, err := s.auditor.RecordUpdate(ctx, tx, before, entity, actor); err != nil {
			return err
		}
		updated = entity
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("entity_id", updated.ID).
		Str("from", fromState).
		Str("to", toStateID).
		Msg("Entity transitioned")

	if s.tel != nil {
		s.tel.Metrics.RecordTransition(wfName, true)
		_ = s.tel.Events.PublishEntityTransition(updated.ID, updated.ModelID, fromState, toStateID)
	}
	return updated, nil
}

// ReassignWorkflow binds a model to a different workflow, or detaches it
// when workflowID is empty. Binding force-resets every entity of the model
// to the new workflow's initial state in one transaction; detaching leaves
// existing state pointers untouched.
func (s *Service) ReassignWorkflow(ctx context.Context, actor, modelID, workflowID string) error {
	if err := s.authorize(ctx, actor, PermModelManage, modelID); err != nil {
		return err
	}

	model, ok := s.schemas.Model(modelID)
	if !ok {
		return NewNotFoundError("model not found: %s", modelID)
	}

	if workflowID == "" {
		if err := s.mutator.SetModelWorkflow(modelID, ""); err != nil {
			return NewInternalError(err, "failed to detach workflow from model %s", model.Name)
		}
		s.logger.Info().Str("model_id", modelID).Msg("Workflow detached from model")
		return nil
	}

	wf, ok := s.schemas.Workflow(workflowID)
	if !ok {
		return NewNotFoundError("workflow not found: %s", workflowID)
	}
	initial, ok := s.workflow.InitialState(wf)
	if !ok {
		return NewStateTransitionError("workflow %s has no initial state", wf.Name)
	}

	// Rebind the definition before touching entities so a registry failure
	// cannot strand a half-finished reset; the store tx rolling back undoes
	// the rebind below.
	previousWorkflowID := model.WorkflowID
	if err := s.mutator.SetModelWorkflow(modelID, workflowID); err != nil {
		return NewInternalError(err, "failed to assign workflow %s to model %s", wf.Name, model.Name)
	}

	err := s.inTx(ctx, func(tx Tx) error {
		entities, err := tx.ListEntitiesByModel(ctx, modelID, true)
		if err != nil {
			return err
		}
		for _, before := range entities {
			if before.StateID == initial.ID {
				continue
			}
			entity := before.Clone()
			entity.StateID = initial.ID
			entity.UpdatedAt = s.now()
			if err := tx.UpdateEntity(ctx, entity); err != nil {
				return err
			}
			if _, err := s.auditor.RecordUpdate(ctx, tx, before, entity, actor); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if rbErr := s.mutator.SetModelWorkflow(modelID, previousWorkflowID); rbErr != nil {
			s.logger.Error().Err(rbErr).
				Str("model_id", modelID).
				Msg("Failed to restore workflow binding after reset failure")
		}
		return err
	}

	s.logger.Info().
		Str("model_id", modelID).
		Str("workflow_id", workflowID).
		Str("initial_state", initial.ID).
		Msg("Workflow reassigned, entities reset to initial state")
	return nil
}

// RevertChange applies the inverse of a changelog entry as a new forward
// mutation. History stays append-only.
func (s *Service) RevertChange(ctx context.Context, actor, entryID string) (*ChangelogEntry, error) {
	entry, err := s.store.GetChangelogEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	target, err := s.store.GetEntity(ctx, entry.EntityID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, PermRecordRevert, target.ModelID); err != nil {
		return nil, err
	}

	var reverted *ChangelogEntry
	err = s.inTx(ctx, func(tx Tx) error {
		var err error
		reverted, err = s.auditor.Revert(ctx, tx, entryID, actor)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("entry_id", entryID).
		Str("entity_id", target.ID).
		Str("revert_type", string(reverted.Type)).
		Msg("Change reverted")

	if s.tel != nil {
		s.tel.Metrics.RecordRevert(string(reverted.Type))
		_ = s.tel.Events.PublishEntityMutation(telemetry.EventTypeEntityReverted, target.ID, target.ModelID, actor)
	}
	return reverted, nil
}

// inTx runs fn inside a transaction, committing on success and rolling back
// on any error.
func (s *Service) inTx(ctx context.Context, fn func(tx Tx) error) error {
	var span trace.Span
	if s.tel != nil {
		ctx, span = s.tel.Tracer.StartSpan(ctx, "store.tx")
		defer span.End()
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		if s.tel != nil {
			telemetry.RecordError(span, err)
			s.tel.Metrics.RecordError(string(KindOf(err)))
		}
		return err
	}
	if span != nil {
		telemetry.RecordSuccess(span)
	}
	return tx.Commit()
}

func (s *Service) assignInitialState(e *Entity, model *schema.Model) {
	if model.WorkflowID == "" {
		return
	}
	wf, ok := s.schemas.Workflow(model.WorkflowID)
	if !ok {
		s.logger.Warn().
			Str("model_id", model.ID).
			Str("workflow_id", model.WorkflowID).
			Msg("Model references a missing workflow, entity created without state")
		return
	}
	if initial, ok := s.workflow.InitialState(wf); ok {
		e.StateID = initial.ID
	}
}

func (s *Service) observeMutation(modelName, changeType, eventType string, e *Entity, actor string) {
	s.logger.Info().
		Str("entity_id", e.ID).
		Str("model", modelName).
		Str("change_type", changeType).
		Str("actor", actor).
		Msg("Entity mutated")

	if s.tel != nil {
		s.tel.Metrics.RecordMutation(modelName, changeType)
		_ = s.tel.Events.PublishEntityMutation(eventType, e.ID, e.ModelID, actor)
	}
}

func (s *Service) authorize(ctx context.Context, userID, perm, modelID string) error {
	return authorize(ctx, s.perms, s.tel, userID, perm, modelID)
}
