package sequences

import (
	"context"

	"leadflow_backend/internal/leadstatus"
	"leadflow_backend/internal/responses"
	"leadflow_backend/internal/rules"
)

// ConditionEvaluator decides whether a step should be sent to the lead.
type ConditionEvaluator interface {
	ShouldSend(ctx context.Context, exec Execution, step Step) (bool, error)
}

// AlwaysSend accepts every step.
type AlwaysSend struct{}

func (AlwaysSend) ShouldSend(context.Context, Execution, Step) (bool, error) { return true, nil }

// EventReader is the slice of the response tracker the evaluator needs.
type EventReader interface {
	GetLeadEvents(ctx context.Context, leadID string) ([]responses.Event, error)
}

// StatusReader is the slice of the status manager the evaluator needs.
type StatusReader interface {
	CurrentStatus(ctx context.Context, leadID string) (leadstatus.Status, error)
}

// ResponseConditions evaluates step conditions against the lead's engagement
// since the execution started and its current status.
//
// Facts: not_replied, not_opened, not_clicked (bools), replied, opened,
// clicked (counts), status, engagement_score.
type ResponseConditions struct {
	events   EventReader
	statuses StatusReader
}

func NewResponseConditions(events EventReader, statuses StatusReader) *ResponseConditions {
	return &ResponseConditions{events: events, statuses: statuses}
}

func (c *ResponseConditions) ShouldSend(ctx context.Context, exec Execution, step Step) (bool, error) {
	if len(step.Conditions) == 0 {
		return true, nil
	}
	facts, err := c.facts(ctx, exec)
	if err != nil {
		return false, err
	}
	return rules.Evaluate(step.Conditions, step.ConditionLogic, facts), nil
}

func (c *ResponseConditions) facts(ctx context.Context, exec Execution) (rules.Facts, error) {
	evts, err := c.events.GetLeadEvents(ctx, exec.LeadID)
	if err != nil {
		return nil, err
	}
	counts := map[responses.EventType]int{}
	for _, e := range evts {
		if e.Timestamp.Before(exec.StartedAt) {
			continue
		}
		counts[e.Type]++
	}
	status, err := c.statuses.CurrentStatus(ctx, exec.LeadID)
	if err != nil {
		return nil, err
	}
	return rules.Facts{
		"replied":          counts[responses.EventReplied],
		"opened":           counts[responses.EventOpened],
		"clicked":          counts[responses.EventClicked],
		"not_replied":      counts[responses.EventReplied] == 0,
		"not_opened":       counts[responses.EventOpened] == 0,
		"not_clicked":      counts[responses.EventClicked] == 0,
		"status":           string(status),
		"engagement_score": responses.EngagementScore(evts),
	}, nil
}

// normalizeConditions expands the shorthand forms accepted in catalogs:
// `not_replied` with no operator, `status_in` and `min_engagement`.
func normalizeConditions(conds []rules.Condition) []rules.Condition {
	out := make([]rules.Condition, 0, len(conds))
	for _, c := range conds {
		if c.Operator == "" {
			switch c.Field {
			case "not_replied", "not_opened", "not_clicked":
				c.Operator = rules.OpEquals
				if c.Value == nil {
					c.Value = true
				}
			case "status_in":
				c.Field, c.Operator = "status", rules.OpIn
			case "min_engagement":
				c.Field, c.Operator = "engagement_score", rules.OpGreaterOrEq
			}
		}
		out = append(out, c)
	}
	return out
}
