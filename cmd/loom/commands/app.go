package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/recordloom/recordloom/pkg/audit"
	"github.com/recordloom/recordloom/pkg/engine"
	"github.com/recordloom/recordloom/pkg/policy"
	"github.com/recordloom/recordloom/pkg/schema"
	"github.com/recordloom/recordloom/pkg/stores"
	"github.com/recordloom/recordloom/pkg/telemetry"
	"github.com/recordloom/recordloom/pkg/validate"
	"github.com/recordloom/recordloom/pkg/workflow"
)

// app bundles the wired engine for one CLI invocation.
type app struct {
	registry *schema.Registry
	store    *stores.SQLiteStore
	oracle   *policy.Oracle
	tel      *telemetry.Telemetry
	service  *engine.Service
	wizards  *engine.Orchestrator
	logger   zerolog.Logger
}

// openApp loads definitions, opens the store, and wires the engine. The
// returned app must be closed.
func openApp(ctx context.Context) (*app, error) {
	tel, err := newCLITelemetry()
	if err != nil {
		return nil, err
	}
	logger := tel.Logger.Zerolog()

	registry, err := loadRegistry(ctx, logger)
	if err != nil {
		return nil, err
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	oracle, err := newOracle(ctx, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	cfg := engine.Config{
		Schemas:     registry,
		Mutator:     registry,
		Store:       store,
		Validator:   validate.New(registry, logger),
		Workflow:    workflow.NewEngine(logger),
		Permissions: oracle,
		Auditor:     audit.New(logger),
		Defaults:    schema.NewDefaultEvaluator(0),
		Logger:      logger,
		Telemetry:   tel,
	}

	return &app{
		registry: registry,
		store:    store,
		oracle:   oracle,
		tel:      tel,
		service:  engine.NewService(cfg),
		wizards:  engine.NewOrchestrator(cfg),
		logger:   logger,
	}, nil
}

func (a *app) Close(ctx context.Context) {
	if err := a.store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Store close failed")
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
}

func newCLITelemetry() (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Output = "stderr"
	cfg.Logging.EnableCaller = false
	if verbose {
		cfg.Logging.Level = "debug"
	} else {
		cfg.Logging.Level = "warn"
	}
	// Short-lived CLI process: no trace export, no metrics listener.
	cfg.Tracing.Enabled = false
	return telemetry.NewTelemetry(cfg)
}

// loadRegistry loads every definition document under the definitions dir. A
// missing directory yields an empty registry, so store-only commands work
// before any definitions exist.
func loadRegistry(ctx context.Context, logger zerolog.Logger) (*schema.Registry, error) {
	registry := schema.NewRegistry(logger)
	if _, err := os.Stat(definitions); os.IsNotExist(err) {
		logger.Debug().Str("dir", definitions).Msg("Definition directory missing; starting empty")
		return registry, nil
	}

	loader, err := schema.NewLoader(logger)
	if err != nil {
		return nil, err
	}
	if err := loader.LoadDir(ctx, registry, definitions); err != nil {
		return nil, fmt.Errorf("failed to load definitions: %w", err)
	}
	return registry, nil
}

// newOracle builds the permission oracle from builtin policies plus any
// configured policy directory and bindings file.
func newOracle(ctx context.Context, logger zerolog.Logger) (*policy.Oracle, error) {
	oracle, err := policy.NewOracle(logger)
	if err != nil {
		return nil, err
	}

	if policiesDir != "" {
		if err := oracle.LoadPolicies(ctx, []string{policiesDir}); err != nil {
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
	}

	if bindingsPath != "" {
		loader := policy.NewLoader(logger)
		bindings, err := loader.LoadBindings(ctx, bindingsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load bindings: %w", err)
		}
		if err := oracle.SetBindings(ctx, bindings); err != nil {
			return nil, err
		}
	} else {
		// Without bindings everything would be denied; a single-user CLI
		// session runs as superuser over its own local database.
		if err := oracle.SetBindings(ctx, policy.Bindings{
			actor: {Superuser: true},
		}); err != nil {
			return nil, err
		}
	}

	return oracle, nil
}

// resolveModelID accepts either a model ID or a model name.
func resolveModelID(registry *schema.Registry, ref string) (string, error) {
	if m, ok := registry.Model(ref); ok {
		return m.ID, nil
	}
	if m, ok := registry.ModelByName(ref); ok {
		return m.ID, nil
	}
	return "", engine.NewNotFoundError("model not found: %s", ref)
}

// parseValues builds a value map from repeated key=value pairs and an
// optional JSON document (inline or @file). Pair values parse as JSON
// literals where possible, so --set age=42 yields a number and
// --set name=Ada a string.
func parseValues(jsonDoc string, pairs []string) (map[string]any, error) {
	values := make(map[string]any)

	if jsonDoc != "" {
		raw := []byte(jsonDoc)
		if strings.HasPrefix(jsonDoc, "@") {
			data, err := os.ReadFile(jsonDoc[1:])
			if err != nil {
				return nil, fmt.Errorf("failed to read values file: %w", err)
			}
			raw = data
		}
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, fmt.Errorf("failed to parse values JSON: %w", err)
		}
	}

	for _, pair := range pairs {
		key, val, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --set %q, expected key=value", pair)
		}
		var parsed any
		if err := json.Unmarshal([]byte(val), &parsed); err != nil {
			parsed = val
		}
		values[key] = parsed
	}

	return values, nil
}

// printResult renders v as indented JSON when --json is set and returns
// whether it did, letting commands fall back to human output.
func printResult(v any) (bool, error) {
	if !jsonOutput {
		return false, nil
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return false, err
	}
	fmt.Println(string(out))
	return true, nil
}
