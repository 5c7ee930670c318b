package audit

import (
	"reflect"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/recordloom/recordloom/pkg/engine"
)

// Strings at or above this length get a rendered text diff alongside the
// raw old/new values.
const textDiffThreshold = 80

// ComputeChanges returns one FieldChange per property whose value differs
// between the two entity versions, in sorted property order, followed by
// synthetic entries for workflow-state and owner changes.
func ComputeChanges(before, after *engine.Entity) []engine.FieldChange {
	names := make(map[string]struct{}, len(before.Values)+len(after.Values))
	for name := range before.Values {
		names[name] = struct{}{}
	}
	for name := range after.Values {
		names[name] = struct{}{}
	}

	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	changes := []engine.FieldChange{}
	for _, name := range sorted {
		oldVal, newVal := before.Values[name], after.Values[name]
		if reflect.DeepEqual(oldVal, newVal) {
			continue
		}
		changes = append(changes, engine.FieldChange{
			Property: name,
			OldValue: oldVal,
			NewValue: newVal,
			TextDiff: renderTextDiff(oldVal, newVal),
		})
	}

	if before.StateID != after.StateID {
		changes = append(changes, engine.FieldChange{
			Property: engine.ChangePropertyState,
			OldValue: before.StateID,
			NewValue: after.StateID,
		})
	}
	if before.OwnerID != after.OwnerID {
		changes = append(changes, engine.FieldChange{
			Property: engine.ChangePropertyOwner,
			OldValue: before.OwnerID,
			NewValue: after.OwnerID,
		})
	}

	return changes
}

// renderTextDiff produces a compact wdiff-style rendering for long string
// values. Reverts never consume it; it exists for history display.
func renderTextDiff(oldVal, newVal any) string {
	oldStr, okOld := oldVal.(string)
	newStr, okNew := newVal.(string)
	if !okOld || !okNew {
		return ""
	}
	if len(oldStr) < textDiffThreshold && len(newStr) < textDiffThreshold {
		return ""
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldStr, newStr, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var b strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			b.WriteString(d.Text)
		case diffmatchpatch.DiffDelete:
			b.WriteString("[-")
			b.WriteString(d.Text)
			b.WriteString("-]")
		case diffmatchpatch.DiffInsert:
			b.WriteString("{+")
			b.WriteString(d.Text)
			b.WriteString("+}")
		}
	}
	return b.String()
}

func cloneValues(values map[string]any) map[string]any {
	cp := make(map[string]any, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return cp
}
