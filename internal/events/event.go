// Package events provides domain event definitions for decoupled,
// event-driven communication between the engine components.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"leadflow_backend/platform/events"
	"leadflow_backend/platform/logger"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Publisher   = events.Publisher
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// NewInMemoryBus creates a new in-memory event bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return events.NewInMemoryBus(log)
}

// =============================================================================
// Response Tracker Events
// =============================================================================

// ResponseTracked is published after an engagement event is appended to a lead's log.
type ResponseTracked struct {
	BaseEvent
	EventID    string `json:"eventId"`
	LeadID     string `json:"leadId"`
	CampaignID string `json:"campaignId"`
	MessageID  string `json:"messageId"`
	EventType  string `json:"eventType"`
	Source     string `json:"source"`
}

func (e ResponseTracked) EventName() string { return "responses.event.tracked" }

// =============================================================================
// Lead Status Events
// =============================================================================

// LeadStatusChanged is published after a status update is appended.
type LeadStatusChanged struct {
	BaseEvent
	LeadID     string         `json:"leadId"`
	FromStatus string         `json:"fromStatus"`
	ToStatus   string         `json:"toStatus"`
	UpdatedBy  string         `json:"updatedBy"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (e LeadStatusChanged) EventName() string { return "leadstatus.changed" }

// =============================================================================
// Sequence Events
// =============================================================================

// SequenceStepDispatched is published when a sequence step was handed to a channel.
type SequenceStepDispatched struct {
	BaseEvent
	ExecutionID string `json:"executionId"`
	SequenceID  string `json:"sequenceId"`
	LeadID      string `json:"leadId"`
	Step        int    `json:"step"`
	MessageID   string `json:"messageId"`
}

func (e SequenceStepDispatched) EventName() string { return "sequences.step.dispatched" }

// SequenceFinished is published when an execution completes or is cancelled.
type SequenceFinished struct {
	BaseEvent
	ExecutionID string `json:"executionId"`
	SequenceID  string `json:"sequenceId"`
	LeadID      string `json:"leadId"`
	Status      string `json:"status"`
}

func (e SequenceFinished) EventName() string { return "sequences.execution.finished" }

// =============================================================================
// Automation Events
// =============================================================================

// AutomationExecutionFinished is published when an automation execution reaches a final state.
type AutomationExecutionFinished struct {
	BaseEvent
	ExecutionID string        `json:"executionId"`
	RuleID      string        `json:"ruleId"`
	LeadID      string        `json:"leadId,omitempty"`
	Status      string        `json:"status"`
	Duration    time.Duration `json:"duration"`
	Failures    int           `json:"failures"`
}

func (e AutomationExecutionFinished) EventName() string { return "automation.execution.finished" }

// OperatorNotificationRequested is published by the send_notification action.
type OperatorNotificationRequested struct {
	BaseEvent
	RuleID   string `json:"ruleId"`
	LeadID   string `json:"leadId,omitempty"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Priority string `json:"priority,omitempty"`
}

func (e OperatorNotificationRequested) EventName() string { return "automation.notification.requested" }

// =============================================================================
// Conversion Events
// =============================================================================

// ConversionRecorded is published after a conversion and its attribution are stored.
type ConversionRecorded struct {
	BaseEvent
	ConversionID   string  `json:"conversionId"`
	LeadID         string  `json:"leadId"`
	CampaignID     string  `json:"campaignId"`
	ConversionType string  `json:"conversionType"`
	Value          float64 `json:"value"`
	Touchpoints    int     `json:"touchpoints"`
}

func (e ConversionRecorded) EventName() string { return "conversions.recorded" }
