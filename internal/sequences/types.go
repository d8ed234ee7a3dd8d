// Package sequences runs timed, multi-step outreach for one lead at a time.
// A lead has at most one active execution; steps are driven by an external
// tick (ProcessReadySequences) and never schedule themselves.
package sequences

import (
	"time"

	"leadflow_backend/internal/channel"
	"leadflow_backend/internal/leadstatus"
	"leadflow_backend/internal/rules"
)

// ExecutionStatus is the lifecycle state of an execution.
type ExecutionStatus string

const (
	ExecutionActive    ExecutionStatus = "active"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Step is one outreach message. DelayHours is counted from the previous step
// (or from the start for the first step).
type Step struct {
	DelayHours     int               `json:"delayHours" yaml:"delayHours"`
	MessageType    channel.Kind      `json:"messageType" yaml:"messageType"`
	TemplateID     string            `json:"templateId,omitempty" yaml:"templateId"`
	Subject        string            `json:"subject,omitempty" yaml:"subject"`
	Body           string            `json:"body,omitempty" yaml:"body"`
	Conditions     []rules.Condition `json:"conditions,omitempty" yaml:"conditions"`
	ConditionLogic rules.Logic       `json:"conditionLogic,omitempty" yaml:"conditionLogic"`
}

// Sequence is an ordered list of steps started for leads entering TriggerStatus.
//
// TotalSteps and EstimatedDurationHours are derived once when the sequence is
// created. They go stale if Steps is edited in storage afterwards.
type Sequence struct {
	ID                     string            `json:"id"`
	Name                   string            `json:"name"`
	Description            string            `json:"description,omitempty"`
	TriggerStatus          leadstatus.Status `json:"triggerStatus,omitempty"`
	BusinessTypes          []string          `json:"businessTypes,omitempty"`
	CampaignID             string            `json:"campaignId"`
	Steps                  []Step            `json:"steps"`
	Active                 bool              `json:"active"`
	TotalSteps             int               `json:"totalSteps"`
	EstimatedDurationHours int               `json:"estimatedDurationHours"`
	CreatedAt              time.Time         `json:"createdAt"`
}

// Execution is one lead's progress through a sequence.
type Execution struct {
	ID            string          `json:"id"`
	LeadID        string          `json:"leadId"`
	SequenceID    string          `json:"sequenceId"`
	CurrentStep   int             `json:"currentStep"`
	Status        ExecutionStatus `json:"status"`
	StartedAt     time.Time       `json:"startedAt"`
	NextStepAt    time.Time       `json:"nextStepAt"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"lastError,omitempty"`
	LastMessageID string          `json:"lastMessageId,omitempty"`
	StepsSent     int             `json:"stepsSent"`
	StepsSkipped  int             `json:"stepsSkipped"`
	StepsFailed   int             `json:"stepsFailed"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// CreateParams is the input of CreateSequence. Active defaults to true.
type CreateParams struct {
	ID            string            `json:"id,omitempty" yaml:"id"`
	Name          string            `json:"name" yaml:"name"`
	Description   string            `json:"description,omitempty" yaml:"description"`
	TriggerStatus leadstatus.Status `json:"triggerStatus,omitempty" yaml:"triggerStatus"`
	BusinessTypes []string          `json:"businessTypes,omitempty" yaml:"businessTypes"`
	CampaignID    string            `json:"campaignId,omitempty" yaml:"campaignId"`
	Steps         []Step            `json:"steps" yaml:"steps"`
	Active        *bool             `json:"active,omitempty" yaml:"active"`
}

// Stats summarizes executions of one sequence, or all when SequenceID is empty.
type Stats struct {
	SequenceID     string  `json:"sequenceId,omitempty"`
	Total          int     `json:"total"`
	Active         int     `json:"active"`
	Paused         int     `json:"paused"`
	Completed      int     `json:"completed"`
	Cancelled      int     `json:"cancelled"`
	StepsSent      int     `json:"stepsSent"`
	StepsSkipped   int     `json:"stepsSkipped"`
	StepsFailed    int     `json:"stepsFailed"`
	CompletionRate float64 `json:"completionRate"`
}
