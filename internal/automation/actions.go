package automation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"leadflow_backend/internal/channel"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leadstatus"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/kv"

	"github.com/google/uuid"
)

// UpdatedByAutomation marks status changes made by rules.
const UpdatedByAutomation = "automation_engine"

var errNoLead = errors.New("action requires a lead")

// ActionContext is what a handler sees of the running execution.
type ActionContext struct {
	Rule      Rule
	Execution Execution
	Index     int
	Action    Action
}

// ActionHandler runs one action and returns its output.
type ActionHandler func(ctx context.Context, ac ActionContext) (map[string]any, error)

func (e *Engine) defaultHandlers() map[ActionType]ActionHandler {
	return map[ActionType]ActionHandler{
		ActionSendEmail:        e.sendMessage(channel.KindEmail),
		ActionSendSMS:          e.sendMessage(channel.KindSMS),
		ActionUpdateStatus:     e.updateStatus,
		ActionStartSequence:    e.startSequence,
		ActionPauseSequence:    e.pauseSequence,
		ActionScheduleCall:     e.createTask(TaskKindCall),
		ActionCreateTask:       e.createTask(TaskKindTask),
		ActionAddTag:           e.addTag,
		ActionRemoveTag:        e.removeTag,
		ActionSendNotification: e.sendNotification,
	}
}

// runAction invokes the handler, turning errors and panics into a failed result.
func (e *Engine) runAction(ctx context.Context, rule Rule, exec Execution, index int, action Action) (result ActionResult) {
	result = ActionResult{Index: index, Type: action.Type, StartedAt: e.clock.Now()}
	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Sprintf("panic: %v", r)
		}
		result.CompletedAt = e.clock.Now()
	}()

	h, ok := e.handlers[action.Type]
	if !ok {
		result.Error = "no handler for action type " + string(action.Type)
		return result
	}
	out, err := h(ctx, ActionContext{Rule: rule, Execution: exec, Index: index, Action: action})
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = true
	result.Output = out
	return result
}

func (e *Engine) sendMessage(kind channel.Kind) ActionHandler {
	return func(ctx context.Context, ac ActionContext) (map[string]any, error) {
		if ac.Execution.LeadID == "" {
			return nil, errNoLead
		}
		campaignID := paramString(ac.Action.Params, "campaignId")
		if campaignID == "" {
			campaignID = "rule:" + ac.Rule.ID
		}
		data, _ := ac.Action.Params["data"].(map[string]any)
		res, err := e.sender.Send(ctx, channel.Message{
			LeadID:     ac.Execution.LeadID,
			CampaignID: campaignID,
			Channel:    kind,
			TemplateID: paramString(ac.Action.Params, "templateId"),
			Subject:    paramString(ac.Action.Params, "subject"),
			Body:       paramString(ac.Action.Params, "body"),
			Data:       data,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"messageId": res.MessageID, "recipient": res.Recipient, "campaignId": campaignID}, nil
	}
}

func (e *Engine) updateStatus(ctx context.Context, ac ActionContext) (map[string]any, error) {
	if ac.Execution.LeadID == "" {
		return nil, errNoLead
	}
	status, ok := leadstatus.ParseStatus(paramString(ac.Action.Params, "status"))
	if !ok {
		return nil, fmt.Errorf("invalid status %q", paramString(ac.Action.Params, "status"))
	}
	reason := paramString(ac.Action.Params, "reason")
	if reason == "" {
		reason = "rule " + ac.Rule.Name
	}
	h, err := e.statuses.UpdateLeadStatus(ctx, leadstatus.UpdateParams{
		LeadID:    ac.Execution.LeadID,
		Status:    status,
		UpdatedBy: UpdatedByAutomation,
		Reason:    reason,
		Metadata:  map[string]any{"ruleId": ac.Rule.ID, "executionId": ac.Execution.ID},
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": string(h.CurrentStatus)}, nil
}

func (e *Engine) startSequence(ctx context.Context, ac ActionContext) (map[string]any, error) {
	if ac.Execution.LeadID == "" {
		return nil, errNoLead
	}
	seqID := paramString(ac.Action.Params, "sequenceId")
	if seqID == "" {
		return nil, errors.New("sequenceId is required")
	}
	exec, err := e.sequences.StartSequence(ctx, ac.Execution.LeadID, seqID, map[string]any{"ruleId": ac.Rule.ID})
	if err != nil {
		return nil, err
	}
	return map[string]any{"sequenceExecutionId": exec.ID, "status": string(exec.Status)}, nil
}

func (e *Engine) pauseSequence(ctx context.Context, ac ActionContext) (map[string]any, error) {
	if ac.Execution.LeadID == "" {
		return nil, errNoLead
	}
	exec, err := e.sequences.PauseLeadSequence(ctx, ac.Execution.LeadID)
	if apperr.Is(err, apperr.KindNotFound) {
		return map[string]any{"paused": false}, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"paused": true, "sequenceExecutionId": exec.ID}, nil
}

func (e *Engine) createTask(kind string) ActionHandler {
	return func(ctx context.Context, ac ActionContext) (map[string]any, error) {
		if ac.Execution.LeadID == "" {
			return nil, errNoLead
		}
		now := e.clock.Now()
		title := paramString(ac.Action.Params, "title")
		due := now
		if kind == TaskKindCall {
			hours := paramInt(ac.Action.Params, "inHours", 24)
			due = now.Add(time.Duration(hours) * time.Hour)
			if title == "" {
				title = "Call lead"
			}
		} else if h := paramInt(ac.Action.Params, "dueInHours", 0); h > 0 {
			due = now.Add(time.Duration(h) * time.Hour)
		}
		if title == "" {
			return nil, errors.New("title is required")
		}
		task := Task{
			ID:          uuid.NewString(),
			Kind:        kind,
			LeadID:      ac.Execution.LeadID,
			RuleID:      ac.Rule.ID,
			ExecutionID: ac.Execution.ID,
			Title:       title,
			Description: paramString(ac.Action.Params, "description"),
			Priority:    paramString(ac.Action.Params, "priority"),
			DueAt:       due,
			CreatedAt:   now,
		}
		if err := kv.PutJSON(ctx, e.store, taskPrefix+task.ID, task); err != nil {
			return nil, err
		}
		return map[string]any{"taskId": task.ID, "dueAt": due}, nil
	}
}

func (e *Engine) addTag(ctx context.Context, ac ActionContext) (map[string]any, error) {
	return e.changeTag(ctx, ac, true)
}

func (e *Engine) removeTag(ctx context.Context, ac ActionContext) (map[string]any, error) {
	return e.changeTag(ctx, ac, false)
}

func (e *Engine) changeTag(ctx context.Context, ac ActionContext, add bool) (map[string]any, error) {
	if ac.Execution.LeadID == "" {
		return nil, errNoLead
	}
	if e.tags == nil {
		return nil, errors.New("tag store is not configured")
	}
	tag := paramString(ac.Action.Params, "tag")
	if tag == "" {
		return nil, errors.New("tag is required")
	}
	var changed bool
	var err error
	if add {
		changed, err = e.tags.AddTag(ctx, ac.Execution.LeadID, tag)
	} else {
		changed, err = e.tags.RemoveTag(ctx, ac.Execution.LeadID, tag)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"tag": strings.ToLower(tag), "changed": changed}, nil
}

func (e *Engine) sendNotification(ctx context.Context, ac ActionContext) (map[string]any, error) {
	title := paramString(ac.Action.Params, "title")
	if title == "" {
		title = "Automation: " + ac.Rule.Name
	}
	e.bus.Publish(ctx, events.OperatorNotificationRequested{
		BaseEvent: events.NewBaseEvent(e.clock.Now()),
		RuleID:    ac.Rule.ID,
		LeadID:    ac.Execution.LeadID,
		Title:     title,
		Message:   paramString(ac.Action.Params, "message"),
		Priority:  paramString(ac.Action.Params, "priority"),
	})
	return map[string]any{"notified": true}, nil
}

func paramString(params map[string]any, key string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func paramInt(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}
