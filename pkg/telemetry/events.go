package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event in the Recordloom system.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// RunID is the associated wizard run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// EntityID is the associated entity ID, if applicable.
	EntityID string `json:"entity_id,omitempty"`

	// ModelID is the associated model ID, if applicable.
	ModelID string `json:"model_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeEntityCreated      = "entity.created"
	EventTypeEntityUpdated      = "entity.updated"
	EventTypeEntityDeleted      = "entity.deleted"
	EventTypeEntityRestored     = "entity.restored"
	EventTypeEntityReverted     = "entity.reverted"
	EventTypeEntityTransition   = "entity.state_changed"
	EventTypeWizardRunStarted   = "wizard.run_started"
	EventTypeWizardStep         = "wizard.step_accepted"
	EventTypeWizardRunCommitted = "wizard.run_committed"
	EventTypeWizardRunFailed    = "wizard.run_failed"
	EventTypeSchemaReloaded     = "schema.reloaded"
	EventTypePolicyViolation    = "policy.violation"
	EventTypeError              = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	// Start the event processing goroutine
	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	// Start the periodic flush goroutine
	if cfg.FlushInterval > 0 {
		ep.wg.Add(1)
		go ep.periodicFlush()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	// Set ID and timestamp if not already set
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Apply global filters
	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil // Event filtered out
		}
	}
	ep.mu.RUnlock()

	// Send to buffer if async, otherwise process immediately
	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			// Buffer full, drop event or log warning
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	// Synchronous publishing
	ep.deliverEvent(event)
	return nil
}

// PublishEntityMutation publishes an entity mutation event of the given type.
func (ep *EventPublisher) PublishEntityMutation(eventType, entityID, modelID, actor string) error {
	return ep.Publish(Event{
		Type:     eventType,
		Source:   "engine",
		EntityID: entityID,
		ModelID:  modelID,
		Message:  fmt.Sprintf("Entity %s: %s by %s", entityID, eventType, actor),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"actor": actor,
		},
	})
}

// PublishEntityTransition publishes a workflow state change event.
func (ep *EventPublisher) PublishEntityTransition(entityID, modelID, fromState, toState string) error {
	return ep.Publish(Event{
		Type:     EventTypeEntityTransition,
		Source:   "engine",
		EntityID: entityID,
		ModelID:  modelID,
		Message:  fmt.Sprintf("Entity %s moved from %s to %s", entityID, fromState, toState),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"from_state": fromState,
			"to_state":   toState,
		},
	})
}

// PublishWizardRunStarted publishes a wizard run started event.
func (ep *EventPublisher) PublishWizardRunStarted(runID, wizardID, user string) error {
	return ep.Publish(Event{
		Type:    EventTypeWizardRunStarted,
		Source:  "engine",
		RunID:   runID,
		Message: fmt.Sprintf("Wizard run %s started by %s", runID, user),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"wizard_id": wizardID,
			"user":      user,
		},
	})
}

// PublishWizardStepAccepted publishes a step accepted event.
func (ep *EventPublisher) PublishWizardStepAccepted(runID string, stepIndex int) error {
	return ep.Publish(Event{
		Type:    EventTypeWizardStep,
		Source:  "engine",
		RunID:   runID,
		Message: fmt.Sprintf("Wizard run %s accepted step %d", runID, stepIndex),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"step_index": stepIndex,
		},
	})
}

// PublishWizardRunCommitted publishes a completed wizard run event.
func (ep *EventPublisher) PublishWizardRunCommitted(runID string, createdEntityIDs []string) error {
	return ep.Publish(Event{
		Type:    EventTypeWizardRunCommitted,
		Source:  "engine",
		RunID:   runID,
		Message: fmt.Sprintf("Wizard run %s committed %d entities", runID, len(createdEntityIDs)),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"created_entity_ids": createdEntityIDs,
		},
	})
}

// PublishWizardRunFailed publishes a failed step or commit event.
func (ep *EventPublisher) PublishWizardRunFailed(runID, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeWizardRunFailed,
		Source:  "engine",
		RunID:   runID,
		Message: fmt.Sprintf("Wizard run %s failed: %s", runID, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishSchemaReloaded publishes a schema reload event.
func (ep *EventPublisher) PublishSchemaReloaded(dir string, models, workflows, wizards int) error {
	return ep.Publish(Event{
		Type:    EventTypeSchemaReloaded,
		Source:  "schema_loader",
		Message: fmt.Sprintf("Schema reloaded from %s", dir),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"models":    models,
			"workflows": workflows,
			"wizards":   wizards,
		},
	})
}

// PublishPolicyViolation publishes a permission denial event.
func (ep *EventPublisher) PublishPolicyViolation(userID, permission, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Source:  "policy_engine",
		Message: fmt.Sprintf("Permission %s denied for %s: %s", permission, userID, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"user_id":    userID,
			"permission": permission,
			"reason":     reason,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			// Flush batch if it reaches max size
			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			// Flush remaining events before shutting down
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

// periodicFlush flushes events periodically.
func (ep *EventPublisher) periodicFlush() {
	defer ep.wg.Done()

	ticker := time.NewTicker(ep.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Trigger flush by draining buffer
			// This is handled by the processEvents goroutine
		case <-ep.ctx.Done():
			return
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		// Apply subscriber-specific filter
		if entry.filter != nil && !entry.filter(event) {
			continue
		}

		// Call subscriber in a goroutine to avoid blocking
		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	// Signal shutdown
	ep.cancel()

	// Wait for processing to complete with timeout
	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID creates a filter that only allows events for a specific run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}

// FilterByEntityID creates a filter that only allows events for a specific entity.
func FilterByEntityID(entityID string) EventFilter {
	return func(event Event) bool {
		return event.EntityID == entityID
	}
}
