package eventbus

import (
	"context"
	"time"
)

// EventType represents the type of an event
type EventType string

// Standard event types
const (
	// Capability discovery events
	EventDiscoveryStarted       EventType = "discovery_started"
	EventDiscoveryServerFailure EventType = "discovery_server_failure"
	EventDiscoveryCompleted     EventType = "discovery_completed"

	// Plan generation events
	EventPlanGenerationStarted EventType = "plan_generation_started"
	EventPlanGenerationSuccess EventType = "plan_generation_success"
	EventPlanGenerationFailure EventType = "plan_generation_failure"
	EventPlanSanitized         EventType = "plan_sanitized"

	// Step execution events
	EventStepExecutionStarted EventType = "step_execution_started"
	EventStepExecutionSuccess EventType = "step_execution_success"
	EventStepExecutionFailure EventType = "step_execution_failure"
	EventStepExecutionRetry   EventType = "step_execution_retry"

	// Plan execution events
	EventPlanExecutionStarted  EventType = "plan_execution_started"
	EventPlanExecutionProgress EventType = "plan_execution_progress"
	EventPlanExecutionStalled  EventType = "plan_execution_stalled"
	EventPlanExecutionSuccess  EventType = "plan_execution_success"

	// Reflection and formatting events
	EventReflectionFollowUp EventType = "reflection_follow_up"
	EventFormattingSuccess  EventType = "formatting_success"

	// Question processing events
	EventQuestionProcessingStarted   EventType = "question_processing_started"
	EventQuestionProcessingSuccess   EventType = "question_processing_success"
	EventQuestionProcessingFailure   EventType = "question_processing_failure"
	EventQuestionProcessingCancelled EventType = "question_processing_cancelled"

	// Background run events
	EventAsyncProcessingStarted EventType = "async_processing_started"
	EventAsyncProcessingSuccess EventType = "async_processing_success"
	EventAsyncProcessingFailure EventType = "async_processing_failure"

	// System events
	EventSystemError   EventType = "system_error"
	EventSystemWarning EventType = "system_warning"
)

// EventHandler is a function that handles events
type EventHandler func(context.Context, Event) error

// Event represents something that has happened within the system
type Event interface {
	// Type returns the event type
	Type() EventType

	// Payload returns the event data
	Payload() any

	// Metadata returns additional information about the event
	Metadata() map[string]any

	// Timestamp returns when the event occurred
	Timestamp() int64

	// Source returns information about what generated the event
	Source() string
}

// EventBus is the central event dispatch system
type EventBus interface {
	// Publish sends an event to all subscribed handlers
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a handler for specific event types
	// Returns a subscription ID that can be used to unsubscribe
	Subscribe(eventTypes []EventType, handler EventHandler) (string, error)

	// SubscribeAll registers a handler for all event types
	SubscribeAll(handler EventHandler) (string, error)

	// Unsubscribe removes a subscription by ID
	Unsubscribe(subscriptionID string) error

	// Close shuts down the event bus, cleaning up resources
	Close() error
}

// BaseEvent is a simple implementation of the Event interface
type BaseEvent struct {
	eventType  EventType
	payload    any
	metadata   map[string]any
	timestamp  int64
	sourceInfo string
}

// NewEvent creates a new BaseEvent
func NewEvent(eventType EventType, payload any, source string, metadata map[string]any) *BaseEvent {
	if metadata == nil {
		metadata = make(map[string]any)
	}
	return &BaseEvent{
		eventType:  eventType,
		payload:    payload,
		metadata:   metadata,
		timestamp:  time.Now().UnixNano(),
		sourceInfo: source,
	}
}

func (e *BaseEvent) Type() EventType          { return e.eventType }
func (e *BaseEvent) Payload() any             { return e.payload }
func (e *BaseEvent) Metadata() map[string]any { return e.metadata }
func (e *BaseEvent) Timestamp() int64         { return e.timestamp }
func (e *BaseEvent) Source() string           { return e.sourceInfo }

// WithMetadata adds or updates metadata and returns the same event
func (e *BaseEvent) WithMetadata(key string, value any) *BaseEvent {
	e.metadata[key] = value
	return e
}

// Emit publishes an event when bus is non-nil and ignores publish errors.
// Components use it so that running without a bus needs no nil checks.
func Emit(ctx context.Context, bus EventBus, eventType EventType, payload any, source string, metadata map[string]any) {
	if bus == nil {
		return
	}
	_ = bus.Publish(ctx, NewEvent(eventType, payload, source, metadata))
}
