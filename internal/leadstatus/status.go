// Package leadstatus tracks each lead's funnel stage with an append-only
// transition history, a conversion-probability estimate and a next action.
package leadstatus

import (
	"strings"
	"time"
)

// Status is one funnel stage.
type Status string

const (
	StatusNew           Status = "new"
	StatusContacted     Status = "contacted"
	StatusOpened        Status = "opened"
	StatusClicked       Status = "clicked"
	StatusReplied       Status = "replied"
	StatusInterested    Status = "interested"
	StatusDemoScheduled Status = "demo_scheduled"
	StatusDemoCompleted Status = "demo_completed"
	StatusProposalSent  Status = "proposal_sent"
	StatusNegotiating   Status = "negotiating"
	StatusConverted     Status = "converted"
	StatusLost          Status = "lost"
	StatusUnqualified   Status = "unqualified"
)

// CanonicalPath is the forward funnel order. Lost and unqualified sit outside it.
var CanonicalPath = []Status{
	StatusNew,
	StatusContacted,
	StatusOpened,
	StatusClicked,
	StatusReplied,
	StatusInterested,
	StatusDemoScheduled,
	StatusDemoCompleted,
	StatusProposalSent,
	StatusNegotiating,
	StatusConverted,
}

var baseProbability = map[Status]int{
	StatusNew:           5,
	StatusContacted:     10,
	StatusOpened:        15,
	StatusClicked:       25,
	StatusReplied:       35,
	StatusInterested:    50,
	StatusDemoScheduled: 65,
	StatusDemoCompleted: 75,
	StatusProposalSent:  80,
	StatusNegotiating:   90,
	StatusConverted:     100,
	StatusLost:          0,
	StatusUnqualified:   0,
}

// Valid reports whether s is one of the 13 stages.
func (s Status) Valid() bool {
	_, ok := baseProbability[s]
	return ok
}

// Terminal reports whether s closes the funnel.
func (s Status) Terminal() bool {
	return s == StatusConverted || s == StatusLost || s == StatusUnqualified
}

// Rank is the position on the canonical path, or -1 for lost/unqualified.
func (s Status) Rank() int {
	for i, st := range CanonicalPath {
		if st == s {
			return i
		}
	}
	return -1
}

// ParseStatus normalizes and validates a status string.
func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// StatusUpdate is one immutable transition record.
type StatusUpdate struct {
	FromStatus Status         `json:"fromStatus"`
	ToStatus   Status         `json:"toStatus"`
	Timestamp  time.Time      `json:"timestamp"`
	Reason     string         `json:"reason,omitempty"`
	Notes      string         `json:"notes,omitempty"`
	UpdatedBy  string         `json:"updatedBy"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Priority orders attention items.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) weight() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// NextAction is the recommended follow-up for a lead.
type NextAction struct {
	Action   string   `json:"action"`
	Priority Priority `json:"priority"`
	Wait     bool     `json:"wait"`
}

// History is the per-lead record. TimeInStatus and TotalTime are refreshed on read.
type History struct {
	LeadID                string         `json:"leadId"`
	CurrentStatus         Status         `json:"currentStatus"`
	StatusHistory         []StatusUpdate `json:"statusHistory"`
	EnteredStatusAt       time.Time      `json:"enteredStatusAt"`
	CreatedAt             time.Time      `json:"createdAt"`
	TimeInStatus          time.Duration  `json:"timeInStatus"`
	TotalTime             time.Duration  `json:"totalTime"`
	ConversionProbability int            `json:"conversionProbability"`
	NextAction            NextAction     `json:"nextAction"`
	LastActivity          time.Time      `json:"lastActivity"`
}

func (h *History) refresh(now time.Time) {
	h.TimeInStatus = nonNegative(now.Sub(h.EnteredStatusAt))
	h.TotalTime = nonNegative(now.Sub(h.CreatedAt))
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// UpdateParams is the input of UpdateLeadStatus.
type UpdateParams struct {
	LeadID    string
	Status    Status
	UpdatedBy string
	Reason    string
	Notes     string
	Metadata  map[string]any
}

// AttentionItem is one lead whose next action is actionable now.
type AttentionItem struct {
	LeadID       string    `json:"leadId"`
	Status       Status    `json:"status"`
	Action       string    `json:"action"`
	Priority     Priority  `json:"priority"`
	LastActivity time.Time `json:"lastActivity"`
}
