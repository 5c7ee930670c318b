package schema

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	l, err := NewLoader(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}
	return l
}

func writeDefinition(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

const rulesetYAML = `kind: ruleset
spec:
  id: rs-email
  name: email
  pattern: "^[^@]+@[^@]+$"
`

const workflowYAML = `kind: workflow
spec:
  id: wf-lifecycle
  name: lifecycle
  states:
    - id: draft
      name: Draft
      initial: true
    - id: active
      name: Active
  transitions:
    - from: draft
      to: active
`

const modelYAML = `kind: model
spec:
  id: m-contact
  name: contact
  workflow: wf-lifecycle
  properties:
    - id: p-name
      name: name
      type: string
      required: true
    - id: p-email
      name: email
      type: string
      ruleset: email
      unique: true
`

const wizardYAML = `kind: wizard
spec:
  id: wz-quick
  name: quick
  steps:
    - model: m-contact
      type: create
      properties: [name, email]
`

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "10-ruleset.yaml", rulesetYAML)
	writeDefinition(t, dir, "20-workflow.yml", workflowYAML)
	writeDefinition(t, dir, "30-model.yaml", modelYAML)
	writeDefinition(t, dir, "40-wizard.yaml", wizardYAML)
	writeDefinition(t, dir, "notes.txt", "ignored")

	l := newTestLoader(t)
	r := newTestRegistry()
	if err := l.LoadDir(context.Background(), r, dir); err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}

	m, ok := r.ModelByName("contact")
	if !ok {
		t.Fatal("expected contact model loaded")
	}
	if m.WorkflowID != "wf-lifecycle" {
		t.Errorf("expected workflow bound, got %q", m.WorkflowID)
	}
	if _, ok := r.RulesetByName("email"); !ok {
		t.Error("expected email ruleset loaded")
	}
	if _, ok := r.Wizard("wz-quick"); !ok {
		t.Error("expected quick wizard loaded")
	}
}

func TestLoadFilesOrderIndependent(t *testing.T) {
	// A single file defining the wizard before the model it references
	// still loads: registration runs in kind passes, not document order.
	dir := t.TempDir()
	path := writeDefinition(t, dir, "all.yaml",
		wizardYAML+"---\n"+modelYAML+"---\n"+workflowYAML+"---\n"+rulesetYAML)

	l := newTestLoader(t)
	r := newTestRegistry()
	if err := l.LoadFiles(context.Background(), r, []string{path}); err != nil {
		t.Fatalf("LoadFiles failed: %v", err)
	}
	if _, ok := r.Wizard("wz-quick"); !ok {
		t.Error("expected wizard loaded from multi-document file")
	}
}

func TestLoadRejectsUnknownKind(t *testing.T) {
	dir := t.TempDir()
	path := writeDefinition(t, dir, "bad.yaml", "kind: gadget\nspec:\n  id: g1\n")

	l := newTestLoader(t)
	err := l.LoadFiles(context.Background(), newTestRegistry(), []string{path})
	if err == nil {
		t.Fatal("expected unknown kind rejection")
	}
	if !strings.Contains(err.Error(), "unknown definition kind") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadRejectsSchemaViolation(t *testing.T) {
	dir := t.TempDir()
	path := writeDefinition(t, dir, "bad.yaml", `kind: model
spec:
  id: m-bad
  name: bad
  properties:
    - id: p-1
      name: blob
      type: binary
`)

	l := newTestLoader(t)
	err := l.LoadFiles(context.Background(), newTestRegistry(), []string{path})
	if err == nil {
		t.Fatal("expected schema violation rejection")
	}
	if !strings.Contains(err.Error(), "does not match model schema") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadRejectsSemanticViolation(t *testing.T) {
	// Structurally valid but semantically wrong: two initial states.
	dir := t.TempDir()
	path := writeDefinition(t, dir, "bad.yaml", `kind: workflow
spec:
  id: wf-bad
  name: bad
  states:
    - id: a
      name: A
      initial: true
    - id: b
      name: B
      initial: true
`)

	l := newTestLoader(t)
	err := l.LoadFiles(context.Background(), newTestRegistry(), []string{path})
	if err == nil {
		t.Fatal("expected semantic rejection")
	}
	if !strings.Contains(err.Error(), "exactly one initial state") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "10-ruleset.yaml", rulesetYAML)

	l := newTestLoader(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Registry, 4)
	done := make(chan error, 1)
	go func() {
		done <- l.Watch(ctx, dir, func(fresh *Registry) error {
			reloaded <- fresh
			return nil
		})
	}()

	// Let the watcher settle before the first write.
	time.Sleep(100 * time.Millisecond)
	writeDefinition(t, dir, "20-workflow.yaml", workflowYAML)

	var fresh *Registry
	select {
	case fresh = <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	if _, ok := fresh.Workflow("wf-lifecycle"); !ok {
		t.Error("reloaded registry missing the new workflow")
	}
	if _, ok := fresh.RulesetByName("email"); !ok {
		t.Error("reloaded registry missing the pre-existing ruleset")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Watch returned %v, want context.Canceled", err)
	}
}

func TestWatchKeepsCurrentSetOnBrokenDefinition(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "10-ruleset.yaml", rulesetYAML)

	l := newTestLoader(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Registry, 4)
	go func() {
		_ = l.Watch(ctx, dir, func(fresh *Registry) error {
			reloaded <- fresh
			return nil
		})
	}()

	time.Sleep(100 * time.Millisecond)
	writeDefinition(t, dir, "20-broken.yaml", "kind: mystery\nspec: {}\n")

	// A definition set that fails to load must not reach the callback.
	select {
	case <-reloaded:
		t.Fatal("broken definition triggered a reload")
	case <-time.After(time.Second):
	}
}
