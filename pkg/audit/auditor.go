// Package audit records structured diffs for every entity mutation and can
// compute and apply the inverse of a recorded change. The changelog is
// append-only: reverts add new entries and never edit prior ones.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/recordloom/recordloom/pkg/engine"
)

// Auditor implements engine.Auditor over the transactional store.
type Auditor struct {
	logger zerolog.Logger
	now    func() time.Time
}

var _ engine.Auditor = (*Auditor)(nil)

// New creates an auditor
func New(logger zerolog.Logger) *Auditor {
	return &Auditor{
		logger: logger.With().Str("component", "audit").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RecordCreate appends a CREATE entry with a full value snapshot.
func (a *Auditor) RecordCreate(ctx context.Context, tx engine.Tx, e *engine.Entity, actor string) (*engine.ChangelogEntry, error) {
	entry := &engine.ChangelogEntry{
		ID:        uuid.New().String(),
		EntityID:  e.ID,
		Type:      engine.ChangeTypeCreate,
		Snapshot:  cloneValues(e.Values),
		Actor:     actor,
		Timestamp: a.now(),
	}
	return a.append(ctx, tx, entry)
}

// RecordUpdate appends an UPDATE entry with per-field diffs. Returns nil
// without appending when nothing changed.
func (a *Auditor) RecordUpdate(ctx context.Context, tx engine.Tx, before, after *engine.Entity, actor string) (*engine.ChangelogEntry, error) {
	changes := ComputeChanges(before, after)
	if len(changes) == 0 {
		return nil, nil
	}

	entry := &engine.ChangelogEntry{
		ID:        uuid.New().String(),
		EntityID:  after.ID,
		Type:      engine.ChangeTypeUpdate,
		Changes:   changes,
		Actor:     actor,
		Timestamp: a.now(),
	}
	return a.append(ctx, tx, entry)
}

// RecordDelete appends a DELETE entry with a snapshot taken at soft-delete
// time; a later revert restores from it.
func (a *Auditor) RecordDelete(ctx context.Context, tx engine.Tx, e *engine.Entity, actor string) (*engine.ChangelogEntry, error) {
	entry := &engine.ChangelogEntry{
		ID:        uuid.New().String(),
		EntityID:  e.ID,
		Type:      engine.ChangeTypeDelete,
		Snapshot:  cloneValues(e.Values),
		Actor:     actor,
		Timestamp: a.now(),
	}
	return a.append(ctx, tx, entry)
}

// RecordRestore appends a RESTORE marker.
func (a *Auditor) RecordRestore(ctx context.Context, tx engine.Tx, e *engine.Entity, actor string) (*engine.ChangelogEntry, error) {
	entry := &engine.ChangelogEntry{
		ID:        uuid.New().String(),
		EntityID:  e.ID,
		Type:      engine.ChangeTypeRestore,
		Actor:     actor,
		Timestamp: a.now(),
	}
	return a.append(ctx, tx, entry)
}

// Revert applies the inverse of the given changelog entry inside tx and
// appends the corresponding REVERT_* entry.
//
// UPDATE and REVERT_UPDATE entries revert by re-applying each field's old
// value. DELETE and REVERT_DELETE entries revert by restoring the entity
// from the entry's snapshot. RESTORE and REVERT_RESTORE entries revert by
// soft-deleting again, snapshotting the current values. CREATE entries have
// no inverse; deleting the entity is its own auditable operation.
//
// There is no optimistic lock between the original change and the revert;
// edits made in between are overwritten for the reverted fields.
func (a *Auditor) Revert(ctx context.Context, tx engine.Tx, entryID, actor string) (*engine.ChangelogEntry, error) {
	entry, err := tx.GetChangelogEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}

	entity, err := tx.GetEntity(ctx, entry.EntityID)
	if err != nil {
		return nil, err
	}

	switch entry.Type {
	case engine.ChangeTypeUpdate, engine.ChangeTypeRevertUpdate:
		return a.revertUpdate(ctx, tx, entry, entity, actor)
	case engine.ChangeTypeDelete, engine.ChangeTypeRevertDelete:
		return a.revertDelete(ctx, tx, entry, entity, actor)
	case engine.ChangeTypeRestore, engine.ChangeTypeRevertRestore:
		return a.revertRestore(ctx, tx, entry, entity, actor)
	case engine.ChangeTypeCreate:
		return nil, engine.NewValidationError("", "a CREATE entry cannot be reverted; delete the entity instead")
	default:
		return nil, engine.NewInternalError(nil, "unknown change type %q on entry %s", entry.Type, entry.ID)
	}
}

func (a *Auditor) revertUpdate(ctx context.Context, tx engine.Tx, entry *engine.ChangelogEntry, entity *engine.Entity, actor string) (*engine.ChangelogEntry, error) {
	before := entity.Clone()

	for _, change := range entry.Changes {
		switch change.Property {
		case engine.ChangePropertyState:
			entity.StateID = stringOr(change.OldValue, "")
		case engine.ChangePropertyOwner:
			entity.OwnerID = stringOr(change.OldValue, entity.OwnerID)
		default:
			if change.OldValue == nil {
				delete(entity.Values, change.Property)
			} else {
				entity.Values[change.Property] = change.OldValue
			}
		}
	}
	entity.UpdatedAt = a.now()

	if err := tx.UpdateEntity(ctx, entity); err != nil {
		return nil, err
	}

	revert := &engine.ChangelogEntry{
		ID:        uuid.New().String(),
		EntityID:  entity.ID,
		Type:      engine.ChangeTypeRevertUpdate,
		Changes:   ComputeChanges(before, entity),
		RevertsID: entry.ID,
		Actor:     actor,
		Timestamp: a.now(),
	}
	return a.append(ctx, tx, revert)
}

func (a *Auditor) revertDelete(ctx context.Context, tx engine.Tx, entry *engine.ChangelogEntry, entity *engine.Entity, actor string) (*engine.ChangelogEntry, error) {
	entity.Values = cloneValues(entry.Snapshot)
	entity.Deleted = false
	entity.DeletedAt = nil
	entity.UpdatedAt = a.now()

	if err := tx.UpdateEntity(ctx, entity); err != nil {
		return nil, err
	}

	revert := &engine.ChangelogEntry{
		ID:        uuid.New().String(),
		EntityID:  entity.ID,
		Type:      engine.ChangeTypeRevertRestore,
		Snapshot:  cloneValues(entry.Snapshot),
		RevertsID: entry.ID,
		Actor:     actor,
		Timestamp: a.now(),
	}
	return a.append(ctx, tx, revert)
}

func (a *Auditor) revertRestore(ctx context.Context, tx engine.Tx, entry *engine.ChangelogEntry, entity *engine.Entity, actor string) (*engine.ChangelogEntry, error) {
	snapshot := cloneValues(entity.Values)

	now := a.now()
	entity.Deleted = true
	entity.DeletedAt = &now
	entity.UpdatedAt = now

	if err := tx.UpdateEntity(ctx, entity); err != nil {
		return nil, err
	}

	revert := &engine.ChangelogEntry{
		ID:        uuid.New().String(),
		EntityID:  entity.ID,
		Type:      engine.ChangeTypeRevertDelete,
		Snapshot:  snapshot,
		RevertsID: entry.ID,
		Actor:     actor,
		Timestamp: a.now(),
	}
	return a.append(ctx, tx, revert)
}

func (a *Auditor) append(ctx context.Context, tx engine.Tx, entry *engine.ChangelogEntry) (*engine.ChangelogEntry, error) {
	if err := tx.AppendChangelog(ctx, entry); err != nil {
		return nil, err
	}

	a.logger.Debug().
		Str("entry_id", entry.ID).
		Str("entity_id", entry.EntityID).
		Str("change_type", string(entry.Type)).
		Str("actor", entry.Actor).
		Msg("Changelog entry appended")

	return entry, nil
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fallback
}
