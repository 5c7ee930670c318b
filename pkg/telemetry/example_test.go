package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/recordloom/recordloom/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	// Create configuration
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "recordloom"
	cfg.ServiceVersion = "1.0.0"

	// Initialize telemetry
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	// Start metrics server (non-blocking)
	if err := tel.StartMetricsServer(); err != nil {
		panic(err)
	}

	// Add telemetry to context
	ctx := tel.WithContext(context.Background())

	// Use telemetry
	logger := telemetry.FromContext(ctx)
	logger.Info("Application started")

	// Output can vary, so we don't specify output for this example
}

// Example_structuredLogging demonstrates structured logging features.
func Example_structuredLogging() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Component-specific logger
	logger := tel.Logger.NewComponentLogger("engine")

	// Add context fields
	logger = logger.WithFields(map[string]interface{}{
		"run_id":    "run-123",
		"entity_id": "entity-456",
	})

	// Log at different levels
	logger.Debug("Resolving wizard step mappings")
	logger.Info("Entity created successfully")
	logger.Warn("Ruleset pattern failed to compile, constraint skipped")

	// Log with error
	err := fmt.Errorf("required value missing")
	logger.WithError(err).Error("Validation failed")

	// Output varies, no output specified
}

// Example_distributedTracing demonstrates distributed tracing usage.
func Example_distributedTracing() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Tracing.Exporter = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start a span
	ctx, span := tel.Tracer.Start(ctx, "wizard.run")
	defer span.End()

	// Add attributes
	span.SetAttributes(
		attribute.String("run.id", "run-789"),
		attribute.Int("wizard.steps", 3),
	)

	// Nested span
	ctx, childSpan := tel.Tracer.Start(ctx, "wizard.submit_step")
	defer childSpan.End()

	childSpan.SetAttributes(
		attribute.String("entity.id", "entity-456"),
		attribute.Int("step.index", 0),
	)

	// Simulate work
	time.Sleep(10 * time.Millisecond)

	// Record success
	telemetry.RecordSuccess(childSpan)

	// Output varies, no output specified
}

// Example_metricsCollection demonstrates metrics collection.
func Example_metricsCollection() {
	cfg := telemetry.DefaultConfig()
	cfg.Metrics.Enabled = true

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Record wizard run metrics
	tel.Metrics.RecordWizardRunStarted("onboarding")

	// Simulate run execution
	start := time.Now()
	time.Sleep(50 * time.Millisecond)
	duration := time.Since(start)

	tel.Metrics.RecordWizardStep("onboarding", "accepted")
	tel.Metrics.RecordWizardRunCompleted("onboarding", duration)

	// Record validation metrics
	tel.Metrics.RecordValidation("invoice", true, 5*time.Millisecond)

	// Record mutation metrics
	tel.Metrics.RecordMutation("invoice", "CREATE")

	// Record error metrics
	tel.Metrics.RecordError("validation")

	// Set entity counts
	tel.Metrics.SetEntityCount("invoice", 10)
	tel.Metrics.SetEntityCount("customer", 5)

	fmt.Println("Metrics recorded successfully")
	// Output: Metrics recorded successfully
}

// Example_eventPublishing demonstrates event publishing and subscription.
func Example_eventPublishing() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false // Synchronous for example

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Subscribe to events
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
	}, nil) // No filter, receive all events

	// Publish events
	tel.Events.PublishWizardRunStarted("run-123", "onboarding", "user@example.com")
	tel.Events.PublishWizardStepAccepted("run-123", 0)
	tel.Events.PublishWizardRunCommitted("run-123", []string{"entity-1", "entity-2"})

	// Output varies due to async nature, no output specified
}

// Example_runInstrumentation demonstrates instrumenting a complete wizard run.
func Example_runInstrumentation() {
	cfg := telemetry.DevelopmentConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start run context
	runID := "run-123"
	user := "admin@example.com"
	ctx = telemetry.WithRunContext(ctx, runID, "onboarding", user)

	// Submit steps (simulated)
	logger := telemetry.FromContext(ctx)
	logger.Info("Submitting wizard step")
	time.Sleep(10 * time.Millisecond)

	// End run context
	telemetry.EndRunContext(ctx, runID, "onboarding", []string{"entity-1"}, nil)

	fmt.Println("Run instrumentation complete")
	// Output: Run instrumentation complete
}

// Example_mutationInstrumentation demonstrates instrumenting direct mutations.
func Example_mutationInstrumentation() {
	cfg := telemetry.DevelopmentConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Record a direct entity mutation
	err := telemetry.RecordMutationOperation(ctx, "CREATE", "entity-456", "invoice", func() error {
		// Simulate the mutation
		time.Sleep(15 * time.Millisecond)
		return nil
	})

	if err == nil {
		fmt.Println("Mutation completed successfully")
	}

	// Output: Mutation completed successfully
}

// Example_instrumentedOperation demonstrates using the InstrumentedContext helper.
func Example_instrumentedOperation() {
	cfg := telemetry.DevelopmentConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start instrumented operation
	ic := telemetry.StartOperation(ctx, "schema.load",
		attribute.String("schema.dir", "/etc/recordloom/schemas"),
	)
	defer ic.End(nil)

	// Use the instrumented context
	ic.Logger.Info("Loading schema definitions")

	// Simulate loading
	time.Sleep(5 * time.Millisecond)

	ic.Logger.Debug("Schema load complete")

	fmt.Println("Operation instrumentation complete")
	// Output: Operation instrumentation complete
}

// Example_eventFiltering demonstrates event filtering.
func Example_eventFiltering() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Subscribe with level filter (only warnings and errors)
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Important event: %s\n", event.Type)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

	// Subscribe with type filter (only policy violations)
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Policy event: %s\n", event.Message)
	}, telemetry.FilterByType(telemetry.EventTypePolicyViolation))

	// Publish various events
	tel.Events.PublishWizardRunStarted("run-123", "onboarding", "user")     // Info - filtered
	tel.Events.PublishPolicyViolation("user", "record.delete", "not owner") // Error - passes
	tel.Events.PublishWizardRunFailed("run-123", "validation failed")       // Error - passes

	// Output varies, no output specified
}

// Example_productionConfiguration demonstrates production-ready configuration.
func Example_productionConfiguration() {
	cfg := telemetry.ProductionConfig()

	// Customize for your environment
	cfg.ServiceName = "recordloom"
	cfg.ServiceVersion = "1.2.3"
	cfg.Environment = "production"

	// Configure OTLP exporter
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.Endpoint = "otel-collector.monitoring.svc.cluster.local:4317"
	cfg.Tracing.SamplingRate = 0.1 // 10% sampling
	cfg.Tracing.Insecure = false   // Use TLS in production

	// Configure metrics
	cfg.Metrics.ListenAddress = ":9090"
	cfg.Metrics.Namespace = "recordloom"

	// Configure events
	cfg.Events.BufferSize = 10000
	cfg.Events.FlushInterval = 5 * time.Second

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	fmt.Println("Production configuration validated")
	// Output: Production configuration validated
}

// Example_multipleComponents demonstrates telemetry in a multi-component system.
func Example_multipleComponents() {
	cfg := telemetry.DevelopmentConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Component-specific loggers
	engineLogger := tel.Logger.NewComponentLogger("engine")
	validatorLogger := tel.Logger.NewComponentLogger("validate")
	auditLogger := tel.Logger.NewComponentLogger("audit")

	engineLogger.Info("Engine initialized")
	validatorLogger.Info("Compiling ruleset patterns")
	auditLogger.Info("Changelog store ready")

	fmt.Println("Multi-component logging complete")
	// Output: Multi-component logging complete
}
