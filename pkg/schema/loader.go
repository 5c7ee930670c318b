package schema

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// definitionDoc is the envelope of one YAML definition document.
type definitionDoc struct {
	Kind string    `yaml:"kind"`
	Spec yaml.Node `yaml:"spec"`
}

// Loader reads definition documents from YAML files, validates them against
// the built-in CUE schemas and struct tags, and registers them. Workflows
// and rulesets load before models, models before wizards, so forward
// references inside one directory resolve regardless of file order.
type Loader struct {
	schemas  *cueSchemas
	validate *validator.Validate
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher
}

// NewLoader creates a definition loader.
func NewLoader(logger zerolog.Logger) (*Loader, error) {
	cs, err := newCUESchemas()
	if err != nil {
		return nil, err
	}
	return &Loader{
		schemas:  cs,
		validate: validator.New(),
		logger:   logger.With().Str("component", "schema-loader").Logger(),
	}, nil
}

// LoadDir loads every .yaml/.yml file under dir into the registry.
func (l *Loader) LoadDir(ctx context.Context, registry *Registry, dir string) error {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk definition dir: %w", err)
	}

	return l.LoadFiles(ctx, registry, files)
}

// LoadFiles loads the given definition files into the registry.
func (l *Loader) LoadFiles(ctx context.Context, registry *Registry, files []string) error {
	var docs []definitionDoc
	for _, path := range files {
		fileDocs, err := l.parseFile(path)
		if err != nil {
			return err
		}
		docs = append(docs, fileDocs...)
	}

	// Registration order: rulesets and workflows first, then models, then
	// wizards. Models reference workflows; wizards reference models.
	for _, pass := range []string{"ruleset", "workflow", "model", "wizard"} {
		for i := range docs {
			if docs[i].Kind != pass {
				continue
			}
			if err := l.registerDoc(registry, &docs[i]); err != nil {
				return err
			}
		}
	}

	l.logger.Info().Int("documents", len(docs)).Msg("Definitions loaded")
	return nil
}

func (l *Loader) parseFile(path string) ([]definitionDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var docs []definitionDoc
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var doc definitionDoc
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		if doc.Kind == "" {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (l *Loader) registerDoc(registry *Registry, doc *definitionDoc) error {
	// Unify the raw document with the CUE schema before struct decoding.
	var raw map[string]any
	if err := doc.Spec.Decode(&raw); err != nil {
		return fmt.Errorf("failed to decode %s spec: %w", doc.Kind, err)
	}
	if err := l.schemas.validate(doc.Kind, raw); err != nil {
		return err
	}

	switch doc.Kind {
	case "model":
		var m Model
		if err := doc.Spec.Decode(&m); err != nil {
			return fmt.Errorf("failed to decode model: %w", err)
		}
		if err := l.validate.Struct(m); err != nil {
			return fmt.Errorf("model %s validation failed: %w", m.Name, err)
		}
		return registry.RegisterModel(&m)
	case "ruleset":
		var rs Ruleset
		if err := doc.Spec.Decode(&rs); err != nil {
			return fmt.Errorf("failed to decode ruleset: %w", err)
		}
		if err := l.validate.Struct(rs); err != nil {
			return fmt.Errorf("ruleset %s validation failed: %w", rs.Name, err)
		}
		return registry.RegisterRuleset(&rs)
	case "workflow":
		var w Workflow
		if err := doc.Spec.Decode(&w); err != nil {
			return fmt.Errorf("failed to decode workflow: %w", err)
		}
		if err := l.validate.Struct(w); err != nil {
			return fmt.Errorf("workflow %s validation failed: %w", w.Name, err)
		}
		return registry.RegisterWorkflow(&w)
	case "wizard":
		var w Wizard
		if err := doc.Spec.Decode(&w); err != nil {
			return fmt.Errorf("failed to decode wizard: %w", err)
		}
		if err := l.validate.Struct(w); err != nil {
			return fmt.Errorf("wizard %s validation failed: %w", w.Name, err)
		}
		return registry.RegisterWizard(&w)
	default:
		return fmt.Errorf("unknown definition kind %q", doc.Kind)
	}
}

// Watch watches dir for definition changes and invokes reloadFn with a
// freshly loaded registry on every change, debounced. Blocks until the
// context is cancelled.
func (l *Loader) Watch(ctx context.Context, dir string, reloadFn func(*Registry) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	l.watcher = watcher
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	const debounce = 250 * time.Millisecond
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			ext := strings.ToLower(filepath.Ext(event.Name))
			if ext != ".yaml" && ext != ".yml" {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Error().Err(err).Msg("Definition watcher error")

		case <-fire:
			fresh := NewRegistry(l.logger)
			if err := l.LoadDir(ctx, fresh, dir); err != nil {
				l.logger.Error().Err(err).Msg("Definition reload failed; keeping previous registry")
				continue
			}
			if err := reloadFn(fresh); err != nil {
				l.logger.Error().Err(err).Msg("Definition reload callback failed")
				continue
			}
			l.logger.Info().Str("dir", dir).Msg("Definitions reloaded")
		}
	}
}
