// Package telemetry provides comprehensive observability instrumentation for Recordloom.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing into a unified system
// for monitoring and debugging Recordloom operations.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async event system for notifications
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "recordloom"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Start metrics server
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context propagation:
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger = logger.WithRunID("run-123").WithWizardID("wz-onboard")
//	logger.Info("Committing wizard run")
//	logger.WithError(err).Error("Commit failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into request flow and performance:
//
//	ctx, span := tel.Tracer.Start(ctx, "operation.name")
//	defer span.End()
//
//	// Add attributes
//	span.SetAttributes(
//	    attribute.String("entity.id", entityID),
//	    attribute.String("operation", "create"),
//	)
//
//	// Record errors
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development)
//
// # Metrics
//
// Prometheus metrics track system behavior and performance:
//
//	// Record validation outcomes
//	tel.Metrics.RecordValidation("invoice", false, duration)
//
//	// Record wizard activity
//	tel.Metrics.RecordWizardRunStarted("onboarding")
//	tel.Metrics.RecordWizardStep("onboarding", "accepted")
//	tel.Metrics.RecordWizardRunCompleted("onboarding", duration)
//
//	// Record mutations and errors
//	tel.Metrics.RecordMutation("invoice", "CREATE")
//	tel.Metrics.RecordError("validation")
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics)
//
// # Event Publishing
//
// The event system provides async publishing with buffering and filtering:
//
//	// Publish events
//	tel.Events.PublishWizardRunStarted(runID, wizardID, user)
//	tel.Events.PublishEntityMutation(telemetry.EventTypeEntityCreated, entityID, modelID, actor)
//
//	// Subscribe to events
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel("warning"))
//
// Event filters: FilterByLevel, FilterByType, FilterByRunID, FilterByEntityID
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	// Development (verbose logging, stdout traces, full sampling)
//	cfg := telemetry.DevelopmentConfig()
//
//	// Production (JSON logs, OTLP traces, 10% sampling)
//	cfg := telemetry.ProductionConfig()
//
// # Graceful Shutdown
//
// Always shut down telemetry gracefully to flush pending data:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("Telemetry shutdown error: %v", err)
//	}
//
// # Common Metrics
//
// Key metrics exposed:
//
//  - recordloom_validations_total{model,result}
//  - recordloom_workflow_transitions_total{workflow,result}
//  - recordloom_wizard_runs_started_total{wizard}
//  - recordloom_wizard_steps_total{wizard,result}
//  - recordloom_wizard_run_duration_seconds{wizard}
//  - recordloom_entity_mutations_total{model,change_type}
//  - recordloom_reverts_total{change_type}
//  - recordloom_schema_reloads_total{status}
//  - recordloom_errors_total{kind}
//  - recordloom_active_wizard_runs
//
// # Security Considerations
//
//  - Never log sensitive record values (credentials, keys, tokens)
//  - Use secure connections (TLS) for trace exporters in production
//  - Limit metrics endpoint access via network policies
package telemetry
