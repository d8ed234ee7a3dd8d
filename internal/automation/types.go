// Package automation evaluates trigger/condition rules against leads and runs
// their actions through a FIFO execution queue. Delayed actions are stored as
// continuations and resumed by a later drain, so no execution blocks another.
package automation

import (
	"time"

	"leadflow_backend/internal/leadstatus"
	"leadflow_backend/internal/rules"
)

// TriggerType selects what a rule reacts to.
type TriggerType string

const (
	TriggerEmailOpened   TriggerType = "email_opened"
	TriggerEmailClicked  TriggerType = "email_clicked"
	TriggerEmailReplied  TriggerType = "email_replied"
	TriggerSMSReplied    TriggerType = "sms_replied"
	TriggerConverted     TriggerType = "converted"
	TriggerStatusChanged TriggerType = "status_changed"
	TriggerNoResponse    TriggerType = "no_response"
	TriggerCondition     TriggerType = "condition"
)

var knownTriggers = map[TriggerType]struct{}{
	TriggerEmailOpened: {}, TriggerEmailClicked: {}, TriggerEmailReplied: {}, TriggerSMSReplied: {},
	TriggerConverted: {}, TriggerStatusChanged: {}, TriggerNoResponse: {}, TriggerCondition: {},
}

// Trigger is the firing condition of a rule. Conditions are evaluated against
// the lead snapshot for every trigger type.
type Trigger struct {
	Type       TriggerType       `json:"type" yaml:"type"`
	Conditions []rules.Condition `json:"conditions,omitempty" yaml:"conditions"`
	Logic      rules.Logic       `json:"logic,omitempty" yaml:"logic"`
	// Status narrows status_changed to one target status.
	Status leadstatus.Status `json:"status,omitempty" yaml:"status"`
	// CampaignID narrows engagement triggers to one campaign.
	CampaignID string `json:"campaignId,omitempty" yaml:"campaignId"`
	// NoResponseHours is the silence window for no_response (default 72).
	NoResponseHours int `json:"noResponseHours,omitempty" yaml:"noResponseHours"`
	// CooldownMinutes rate-limits condition triggers per lead. Zero fires once
	// each time the conditions go from false to true.
	CooldownMinutes int `json:"cooldownMinutes,omitempty" yaml:"cooldownMinutes"`
}

// ActionType names an action handler.
type ActionType string

const (
	ActionSendEmail        ActionType = "send_email"
	ActionSendSMS          ActionType = "send_sms"
	ActionUpdateStatus     ActionType = "update_status"
	ActionStartSequence    ActionType = "start_sequence"
	ActionPauseSequence    ActionType = "pause_sequence"
	ActionScheduleCall     ActionType = "schedule_call"
	ActionAddTag           ActionType = "add_tag"
	ActionRemoveTag        ActionType = "remove_tag"
	ActionCreateTask       ActionType = "create_task"
	ActionSendNotification ActionType = "send_notification"
)

// Action is one step of a rule. DelayMinutes postpones this action (and
// everything after it) relative to when the previous action finished.
type Action struct {
	Type         ActionType     `json:"type" yaml:"type"`
	Params       map[string]any `json:"params,omitempty" yaml:"params"`
	DelayMinutes int            `json:"delayMinutes,omitempty" yaml:"delayMinutes"`
}

// Rule is a trigger plus its ordered actions and run counters.
type Rule struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	Trigger        Trigger    `json:"trigger"`
	Actions        []Action   `json:"actions"`
	Active         bool       `json:"active"`
	ExecutionCount int        `json:"executionCount"`
	SuccessCount   int        `json:"successCount"`
	FailureCount   int        `json:"failureCount"`
	LastExecutedAt *time.Time `json:"lastExecutedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// CreateRuleParams is the input of CreateRule. Active defaults to true.
type CreateRuleParams struct {
	ID          string   `json:"id,omitempty" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description"`
	Trigger     Trigger  `json:"trigger" yaml:"trigger"`
	Actions     []Action `json:"actions" yaml:"actions"`
	Active      *bool    `json:"active,omitempty" yaml:"active"`
}

// ExecutionStatus is the lifecycle of one rule run.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionExecuting ExecutionStatus = "executing"
	ExecutionWaiting   ExecutionStatus = "waiting"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// ActionResult records one action outcome.
type ActionResult struct {
	Index       int            `json:"index"`
	Type        ActionType     `json:"type"`
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt time.Time      `json:"completedAt"`
}

// Execution is one run of a rule, optionally for one lead.
type Execution struct {
	ID          string          `json:"id"`
	RuleID      string          `json:"ruleId"`
	LeadID      string          `json:"leadId,omitempty"`
	Status      ExecutionStatus `json:"status"`
	TriggerType TriggerType     `json:"triggerType"`
	NextAction  int             `json:"nextAction"`
	// WaitedAction is the index whose delay has already elapsed, -1 if none.
	WaitedAction int            `json:"waitedAction"`
	ResumeAt     *time.Time     `json:"resumeAt,omitempty"`
	Results      []ActionResult `json:"results"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	StartedAt    *time.Time     `json:"startedAt,omitempty"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
}

// Task is a call or to-do created by schedule_call or create_task.
type Task struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	LeadID      string    `json:"leadId"`
	RuleID      string    `json:"ruleId"`
	ExecutionID string    `json:"executionId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Priority    string    `json:"priority,omitempty"`
	DueAt       time.Time `json:"dueAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

const (
	TaskKindCall = "call"
	TaskKindTask = "task"
)

// Stats summarizes rules and executions.
type Stats struct {
	TotalRules      int           `json:"totalRules"`
	ActiveRules     int           `json:"activeRules"`
	TotalExecutions int           `json:"totalExecutions"`
	Pending         int           `json:"pending"`
	Executing       int           `json:"executing"`
	Waiting         int           `json:"waiting"`
	Completed       int           `json:"completed"`
	Failed          int           `json:"failed"`
	SuccessRate     float64       `json:"successRate"`
	AverageDuration time.Duration `json:"averageDuration"`
	QueueDepth      int           `json:"queueDepth"`
}
