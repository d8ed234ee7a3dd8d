package automation

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"leadflow_backend/internal/channel"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads"
	"leadflow_backend/internal/leadstatus"
	"leadflow_backend/internal/metrics"
	"leadflow_backend/internal/responses"
	"leadflow_backend/internal/rules"
	"leadflow_backend/internal/sequences"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/clock"
	"leadflow_backend/platform/keylock"
	"leadflow_backend/platform/kv"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	rulePrefix      = "automation:rule:"
	executionPrefix = "automation:exec:"
	waitingPrefix   = "automation:waiting:"
	markerPrefix    = "automation:fired:"
	taskPrefix      = "automation:task:"
)

// Sender dispatches outbound messages.
type Sender interface {
	Send(ctx context.Context, msg channel.Message) (channel.Result, error)
}

// StatusManager is the slice of the lead status manager the engine uses.
type StatusManager interface {
	UpdateLeadStatus(ctx context.Context, p leadstatus.UpdateParams) (leadstatus.History, error)
	GetHistory(ctx context.Context, leadID string) (leadstatus.History, error)
	ListLeadIDs(ctx context.Context) ([]string, error)
}

// EngagementSource is the slice of the response tracker the engine uses.
type EngagementSource interface {
	GetLeadEvents(ctx context.Context, leadID string) ([]responses.Event, error)
	ListLeadIDs(ctx context.Context) ([]string, error)
}

// SequenceController is the slice of the sequence manager the engine uses.
type SequenceController interface {
	StartSequence(ctx context.Context, leadID, sequenceID string, metadata map[string]any) (sequences.Execution, error)
	PauseLeadSequence(ctx context.Context, leadID string) (sequences.Execution, error)
}

// Tagger stores lead tags.
type Tagger interface {
	Tags(ctx context.Context, leadID string) ([]string, error)
	AddTag(ctx context.Context, leadID, tag string) (bool, error)
	RemoveTag(ctx context.Context, leadID, tag string) (bool, error)
}

// Deps are the collaborators of an Engine. Directory and Tags are optional.
type Deps struct {
	Store     kv.Store
	Sender    Sender
	Statuses  StatusManager
	Responses EngagementSource
	Sequences SequenceController
	Tags      Tagger
	Directory leads.Directory
	Bus       events.Bus
	Clock     clock.Clock
	Log       *logger.Logger
}

// Intervals drive the two in-process loops started by Start.
type Intervals struct {
	TriggerCheck time.Duration
	QueueDrain   time.Duration
}

// Engine owns rules, executions and tasks.
type Engine struct {
	store     kv.Store
	sender    Sender
	statuses  StatusManager
	responses EngagementSource
	sequences SequenceController
	tags      Tagger
	directory leads.Directory
	bus       events.Bus
	clock     clock.Clock
	log       *logger.Logger
	metrics   *metrics.Metrics

	handlers  map[ActionType]ActionHandler
	intervals Intervals
	locks     *keylock.Locker

	queueMu sync.Mutex
	queue   []string
	queued  map[string]struct{}

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   sync.WaitGroup
}

// New creates an Engine with the built-in action handlers.
func New(deps Deps, intervals Intervals) *Engine {
	if intervals.TriggerCheck <= 0 {
		intervals.TriggerCheck = time.Minute
	}
	if intervals.QueueDrain <= 0 {
		intervals.QueueDrain = 5 * time.Second
	}
	e := &Engine{
		store:     deps.Store,
		sender:    deps.Sender,
		statuses:  deps.Statuses,
		responses: deps.Responses,
		sequences: deps.Sequences,
		tags:      deps.Tags,
		directory: deps.Directory,
		bus:       deps.Bus,
		clock:     deps.Clock,
		log:       deps.Log,
		intervals: intervals,
		locks:     keylock.New(),
		queued:    make(map[string]struct{}),
	}
	e.handlers = e.defaultHandlers()
	return e
}

// SetMetrics attaches Prometheus collectors.
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// RegisterHandler adds or replaces the handler for an action type.
func (e *Engine) RegisterHandler(t ActionType, h ActionHandler) {
	e.handlers[t] = h
}

// =============================================================================
// Rules
// =============================================================================

// CreateRule validates and stores a rule with zeroed counters. Rules start
// active unless p.Active says otherwise.
func (e *Engine) CreateRule(ctx context.Context, p CreateRuleParams) (Rule, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return Rule{}, apperr.Validation("rule name is required").WithOp("automation.CreateRule")
	}
	if _, ok := knownTriggers[p.Trigger.Type]; !ok {
		return Rule{}, apperr.Validation("unknown trigger type: " + string(p.Trigger.Type)).WithOp("automation.CreateRule")
	}
	if p.Trigger.Type == TriggerCondition && len(p.Trigger.Conditions) == 0 {
		return Rule{}, apperr.Validation("condition trigger needs at least one condition")
	}
	if p.Trigger.Status != "" && !p.Trigger.Status.Valid() {
		return Rule{}, apperr.Validation("unknown trigger status: " + string(p.Trigger.Status))
	}
	if err := rules.Validate(p.Trigger.Conditions); err != nil {
		return Rule{}, apperr.Validation(err.Error())
	}
	if len(p.Actions) == 0 {
		return Rule{}, apperr.Validation("rule needs at least one action")
	}
	for i, a := range p.Actions {
		if _, ok := e.handlers[a.Type]; !ok {
			return Rule{}, apperr.Validation(fmt.Sprintf("action %d: unknown type %q", i, a.Type))
		}
		if a.DelayMinutes < 0 {
			return Rule{}, apperr.Validation(fmt.Sprintf("action %d: delayMinutes must not be negative", i))
		}
	}

	now := e.clock.Now()
	id := strings.TrimSpace(p.ID)
	if id == "" {
		id = uuid.NewString()
	}
	active := true
	if p.Active != nil {
		active = *p.Active
	}
	rule := Rule{
		ID:          id,
		Name:        name,
		Description: p.Description,
		Trigger:     p.Trigger,
		Actions:     p.Actions,
		Active:      active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.saveRule(ctx, rule); err != nil {
		return Rule{}, err
	}
	e.log.Info("automation rule created", "ruleId", id, "trigger", rule.Trigger.Type, "actions", len(rule.Actions))
	return rule, nil
}

// GetRule loads a rule by id.
func (e *Engine) GetRule(ctx context.Context, id string) (Rule, error) {
	rule, err := kv.GetJSON[Rule](ctx, e.store, rulePrefix+id)
	if kv.IsNotFound(err) {
		return Rule{}, apperr.NotFound("automation rule not found").WithOp("automation.GetRule")
	}
	if err != nil {
		return Rule{}, apperr.Wrap(apperr.KindInternal, "failed to load rule", err)
	}
	return rule, nil
}

// ListRules returns every rule, oldest first.
func (e *Engine) ListRules(ctx context.Context) ([]Rule, error) {
	out, err := kv.ScanJSON[Rule](ctx, e.store, rulePrefix)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list rules", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SetRuleActive enables or disables a rule. Queued executions are not touched.
func (e *Engine) SetRuleActive(ctx context.Context, id string, active bool) (Rule, error) {
	return e.updateRule(ctx, id, func(r *Rule) { r.Active = active })
}

// DeleteRule removes the rule. Its past executions are kept.
func (e *Engine) DeleteRule(ctx context.Context, id string) error {
	if _, err := e.GetRule(ctx, id); err != nil {
		return err
	}
	if err := e.store.Delete(ctx, rulePrefix+id); err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to delete rule", err)
	}
	return nil
}

func (e *Engine) updateRule(ctx context.Context, id string, mutate func(*Rule)) (Rule, error) {
	unlock := e.locks.Lock("rule:" + id)
	defer unlock()
	rule, err := e.GetRule(ctx, id)
	if err != nil {
		return Rule{}, err
	}
	mutate(&rule)
	rule.UpdatedAt = e.clock.Now()
	if err := e.saveRule(ctx, rule); err != nil {
		return Rule{}, err
	}
	return rule, nil
}

func (e *Engine) saveRule(ctx context.Context, rule Rule) error {
	if err := kv.PutJSON(ctx, e.store, rulePrefix+rule.ID, rule); err != nil {
		e.log.StoreError("automation.save_rule", err)
		return apperr.Wrap(apperr.KindInternal, "failed to store rule", err)
	}
	return nil
}

// =============================================================================
// Triggers
// =============================================================================

// CheckTriggers evaluates every active rule against every known lead and
// queues an execution for each rule that fires. It returns how many fired.
func (e *Engine) CheckTriggers(ctx context.Context) (int, error) {
	all, err := e.ListRules(ctx)
	if err != nil {
		return 0, err
	}
	active := slices.DeleteFunc(all, func(r Rule) bool { return !r.Active })
	if len(active) == 0 {
		return 0, nil
	}
	leadIDs, err := e.knownLeads(ctx)
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, leadID := range leadIDs {
		if err := ctx.Err(); err != nil {
			return fired, err
		}
		snap, err := e.snapshot(ctx, leadID)
		if err != nil {
			e.log.Warn("lead snapshot failed", "leadId", leadID, "error", err)
			continue
		}
		for _, rule := range active {
			ok, err := e.checkRule(ctx, rule, snap)
			if err != nil {
				e.log.Warn("trigger check failed", "ruleId", rule.ID, "leadId", leadID, "error", err)
				continue
			}
			if ok {
				fired++
			}
		}
	}
	if fired > 0 {
		e.log.Info("automation triggers fired", "count", fired)
	}
	return fired, nil
}

func (e *Engine) checkRule(ctx context.Context, rule Rule, snap LeadSnapshot) (bool, error) {
	key := markerPrefix + rule.ID + ":" + snap.LeadID
	unlock := e.locks.Lock("marker:" + rule.ID + ":" + snap.LeadID)
	defer unlock()

	mk, err := kv.GetJSON[fireMarker](ctx, e.store, key)
	if err != nil && !kv.IsNotFound(err) {
		return false, err
	}
	fire, next := evaluateTrigger(rule.Trigger, snap, mk, e.clock.Now())
	// the marker only advances once the execution is queued, so a failed
	// enqueue fires again on the next check
	if fire {
		if _, err := e.executeRule(ctx, rule.ID, snap.LeadID); err != nil {
			return false, err
		}
	}
	if next != mk {
		if err := kv.PutJSON(ctx, e.store, key, next); err != nil {
			return fire, err
		}
	}
	return fire, nil
}

func (e *Engine) knownLeads(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	add := func(ids []string, err error) error {
		if err != nil {
			return err
		}
		for _, id := range ids {
			seen[id] = struct{}{}
		}
		return nil
	}
	if err := add(e.responses.ListLeadIDs(ctx)); err != nil {
		return nil, err
	}
	if err := add(e.statuses.ListLeadIDs(ctx)); err != nil {
		return nil, err
	}
	if e.directory != nil {
		if err := add(e.directory.ListLeadIDs(ctx)); err != nil {
			return nil, err
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// =============================================================================
// Executions
// =============================================================================

// ExecuteRule creates a pending execution for the rule (and lead, when given)
// and appends it to the queue.
func (e *Engine) ExecuteRule(ctx context.Context, ruleID, leadID string) (Execution, error) {
	return e.executeRule(ctx, ruleID, strings.TrimSpace(leadID))
}

func (e *Engine) executeRule(ctx context.Context, ruleID, leadID string) (Execution, error) {
	rule, err := e.GetRule(ctx, ruleID)
	if err != nil {
		return Execution{}, err
	}
	if !rule.Active {
		return Execution{}, apperr.Validation("rule is not active").WithOp("automation.ExecuteRule")
	}

	now := e.clock.Now()
	exec := Execution{
		ID:           uuid.NewString(),
		RuleID:       rule.ID,
		LeadID:       leadID,
		Status:       ExecutionPending,
		TriggerType:  rule.Trigger.Type,
		WaitedAction: -1,
		Results:      []ActionResult{},
		CreatedAt:    now,
	}
	if err := e.saveExecution(ctx, exec); err != nil {
		return Execution{}, err
	}
	if _, err := e.updateRule(ctx, rule.ID, func(r *Rule) {
		r.ExecutionCount++
		r.LastExecutedAt = &now
	}); err != nil {
		return Execution{}, err
	}
	e.enqueue(exec.ID)
	e.log.Info("automation execution queued", "ruleId", rule.ID, "leadId", leadID, "executionId", exec.ID)
	return exec, nil
}

func (e *Engine) enqueue(id string) {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	if _, ok := e.queued[id]; ok {
		return
	}
	e.queued[id] = struct{}{}
	e.queue = append(e.queue, id)
	e.metrics.QueueDepth(len(e.queue))
}

func (e *Engine) dequeue() (string, bool) {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	if len(e.queue) == 0 {
		return "", false
	}
	id := e.queue[0]
	e.queue = e.queue[1:]
	delete(e.queued, id)
	e.metrics.QueueDepth(len(e.queue))
	return id, true
}

// QueueDepth reports how many executions are waiting to be drained.
func (e *Engine) QueueDepth() int {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	return len(e.queue)
}

// ProcessExecutionQueue first re-queues delayed executions that are due, then
// drains the FIFO one execution at a time. It returns how many ran.
func (e *Engine) ProcessExecutionQueue(ctx context.Context) (int, error) {
	if err := e.requeueDue(ctx); err != nil {
		return 0, err
	}
	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		id, ok := e.dequeue()
		if !ok {
			return processed, nil
		}
		if err := e.ProcessExecution(ctx, id); err != nil {
			if !apperr.Is(err, apperr.KindConflict) {
				e.log.Error("automation execution failed", "executionId", id, "error", err)
			}
			continue
		}
		processed++
	}
}

func (e *Engine) requeueDue(ctx context.Context) error {
	entries, err := e.store.Scan(ctx, waitingPrefix)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to scan waiting executions", err)
	}
	now := e.clock.Now()
	for _, ent := range entries {
		var resumeAt time.Time
		if err := resumeAt.UnmarshalText(ent.Value); err != nil {
			e.log.Warn("bad waiting entry", "key", ent.Key, "error", err)
			continue
		}
		if resumeAt.After(now) {
			continue
		}
		e.enqueue(strings.TrimPrefix(ent.Key, waitingPrefix))
	}
	return nil
}

// RecoverQueue re-queues pending executions and due continuations, for
// example after a restart lost the in-process queue.
func (e *Engine) RecoverQueue(ctx context.Context) (int, error) {
	all, err := e.ListExecutions(ctx, "")
	if err != nil {
		return 0, err
	}
	n := 0
	for _, exec := range all {
		if exec.Status == ExecutionPending || exec.Status == ExecutionExecuting {
			e.enqueue(exec.ID)
			n++
		}
	}
	if err := e.requeueDue(ctx); err != nil {
		return n, err
	}
	return n, nil
}

// ProcessExecution runs the remaining actions of a pending or due waiting
// execution. Action failures are recorded per action; store failures and
// panics outside handlers fail the execution.
func (e *Engine) ProcessExecution(ctx context.Context, executionID string) (err error) {
	exec, err := e.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	lockKey := "exec:" + exec.ID
	if exec.LeadID != "" {
		lockKey = "lead:" + exec.LeadID
	}
	unlock := e.locks.Lock(lockKey)
	defer unlock()

	if exec, err = e.GetExecution(ctx, executionID); err != nil {
		return err
	}
	now := e.clock.Now()
	switch exec.Status {
	case ExecutionPending, ExecutionExecuting:
	case ExecutionWaiting:
		if exec.ResumeAt != nil && exec.ResumeAt.After(now) {
			return apperr.Conflict("execution is not due yet")
		}
	default:
		return apperr.Conflict("execution already finished: " + string(exec.Status))
	}

	rule, err := e.GetRule(ctx, exec.RuleID)
	if err != nil {
		return e.fail(ctx, exec, nil, err)
	}

	defer func() {
		if r := recover(); r != nil {
			err = e.fail(ctx, exec, &rule, fmt.Errorf("panic: %v", r))
		}
	}()

	ctx = context.WithValue(ctx, logger.ExecutionIDKey, exec.ID)
	if exec.LeadID != "" {
		ctx = context.WithValue(ctx, logger.LeadIDKey, exec.LeadID)
	}

	exec.Status = ExecutionExecuting
	exec.ResumeAt = nil
	if exec.StartedAt == nil {
		exec.StartedAt = &now
	}
	if err := e.saveExecution(ctx, exec); err != nil {
		return e.fail(ctx, exec, &rule, err)
	}
	if err := e.store.Delete(ctx, waitingPrefix+exec.ID); err != nil {
		return e.fail(ctx, exec, &rule, err)
	}

	for i := exec.NextAction; i < len(rule.Actions); i++ {
		action := rule.Actions[i]
		if action.DelayMinutes > 0 && exec.WaitedAction != i {
			resume := e.clock.Now().Add(time.Duration(action.DelayMinutes) * time.Minute)
			exec.Status = ExecutionWaiting
			exec.ResumeAt = &resume
			exec.WaitedAction = i
			exec.NextAction = i
			if err := e.saveExecution(ctx, exec); err != nil {
				return e.fail(ctx, exec, &rule, err)
			}
			raw, _ := resume.MarshalText()
			if err := e.store.Set(ctx, waitingPrefix+exec.ID, raw); err != nil {
				return e.fail(ctx, exec, &rule, err)
			}
			e.log.WithContext(ctx).Info("automation execution waiting", "ruleId", rule.ID, "action", i, "resumeAt", resume)
			return nil
		}

		result := e.runAction(ctx, rule, exec, i, action)
		if !result.Success {
			e.log.WithContext(ctx).ActionFailed(rule.ID, exec.ID, string(action.Type), fmt.Errorf("%s", result.Error))
		}
		exec.Results = append(exec.Results, result)
		exec.NextAction = i + 1
		if err := e.saveExecution(ctx, exec); err != nil {
			return e.fail(ctx, exec, &rule, err)
		}
	}

	done := e.clock.Now()
	exec.Status = ExecutionCompleted
	exec.CompletedAt = &done
	if err := e.saveExecution(ctx, exec); err != nil {
		return e.fail(ctx, exec, &rule, err)
	}
	if _, err := e.updateRule(ctx, rule.ID, func(r *Rule) { r.SuccessCount++ }); err != nil {
		e.log.Warn("rule success counter not updated", "ruleId", rule.ID, "error", err)
	}
	e.finished(ctx, exec)
	return nil
}

func (e *Engine) fail(ctx context.Context, exec Execution, rule *Rule, cause error) error {
	now := e.clock.Now()
	exec.Status = ExecutionFailed
	exec.Error = cause.Error()
	exec.CompletedAt = &now
	if exec.StartedAt == nil {
		exec.StartedAt = &now
	}
	if err := e.saveExecution(ctx, exec); err != nil {
		e.log.StoreError("automation.fail_execution", err)
	}
	_ = e.store.Delete(ctx, waitingPrefix+exec.ID)
	if rule != nil {
		if _, err := e.updateRule(ctx, rule.ID, func(r *Rule) { r.FailureCount++ }); err != nil {
			e.log.Warn("rule failure counter not updated", "ruleId", rule.ID, "error", err)
		}
	}
	e.finished(ctx, exec)
	return apperr.Wrap(apperr.KindInternal, "automation execution failed", cause).WithOp("automation.ProcessExecution")
}

func (e *Engine) finished(ctx context.Context, exec Execution) {
	var d time.Duration
	if exec.StartedAt != nil && exec.CompletedAt != nil {
		d = exec.CompletedAt.Sub(*exec.StartedAt)
	}
	failures := 0
	for _, r := range exec.Results {
		if !r.Success {
			failures++
		}
	}
	e.metrics.AutomationFinished(string(exec.Status), d)
	e.bus.Publish(ctx, events.AutomationExecutionFinished{
		BaseEvent:   events.NewBaseEvent(e.clock.Now()),
		ExecutionID: exec.ID,
		RuleID:      exec.RuleID,
		LeadID:      exec.LeadID,
		Status:      string(exec.Status),
		Duration:    d,
		Failures:    failures,
	})
}

// GetExecution loads an automation execution by id.
func (e *Engine) GetExecution(ctx context.Context, id string) (Execution, error) {
	exec, err := kv.GetJSON[Execution](ctx, e.store, executionPrefix+id)
	if kv.IsNotFound(err) {
		return Execution{}, apperr.NotFound("automation execution not found").WithOp("automation.GetExecution")
	}
	if err != nil {
		return Execution{}, apperr.Wrap(apperr.KindInternal, "failed to load execution", err)
	}
	return exec, nil
}

// ListExecutions returns executions, optionally of one rule, oldest first.
func (e *Engine) ListExecutions(ctx context.Context, ruleID string) ([]Execution, error) {
	all, err := kv.ScanJSON[Execution](ctx, e.store, executionPrefix)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list executions", err)
	}
	if ruleID != "" {
		all = slices.DeleteFunc(all, func(x Execution) bool { return x.RuleID != ruleID })
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return all, nil
}

func (e *Engine) saveExecution(ctx context.Context, exec Execution) error {
	if err := kv.PutJSON(ctx, e.store, executionPrefix+exec.ID, exec); err != nil {
		e.log.StoreError("automation.save_execution", err)
		return apperr.Wrap(apperr.KindInternal, "failed to store execution", err)
	}
	return nil
}

// ListTasks returns tasks created by actions, optionally for one lead, by due time.
func (e *Engine) ListTasks(ctx context.Context, leadID string) ([]Task, error) {
	all, err := kv.ScanJSON[Task](ctx, e.store, taskPrefix)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list tasks", err)
	}
	if leadID != "" {
		all = slices.DeleteFunc(all, func(t Task) bool { return t.LeadID != leadID })
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].DueAt.Before(all[j].DueAt) })
	return all, nil
}

// GetAutomationStats aggregates rule and execution counts. SuccessRate is the
// share of finished executions that completed; AverageDuration covers
// finished executions.
func (e *Engine) GetAutomationStats(ctx context.Context) (Stats, error) {
	rulesList, err := e.ListRules(ctx)
	if err != nil {
		return Stats{}, err
	}
	execs, err := e.ListExecutions(ctx, "")
	if err != nil {
		return Stats{}, err
	}
	st := Stats{TotalRules: len(rulesList), TotalExecutions: len(execs), QueueDepth: e.QueueDepth()}
	for _, r := range rulesList {
		if r.Active {
			st.ActiveRules++
		}
	}
	var total time.Duration
	timed := 0
	for _, x := range execs {
		switch x.Status {
		case ExecutionPending:
			st.Pending++
		case ExecutionExecuting:
			st.Executing++
		case ExecutionWaiting:
			st.Waiting++
		case ExecutionCompleted:
			st.Completed++
		case ExecutionFailed:
			st.Failed++
		}
		if x.StartedAt != nil && x.CompletedAt != nil {
			total += x.CompletedAt.Sub(*x.StartedAt)
			timed++
		}
	}
	if finished := st.Completed + st.Failed; finished > 0 {
		st.SuccessRate = float64(st.Completed) / float64(finished) * 100
	}
	if timed > 0 {
		st.AverageDuration = total / time.Duration(timed)
	}
	return st, nil
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start runs the trigger check and queue drain loops until Stop or ctx ends.
// Calling Start twice is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.done.Add(2)
	go e.loop(runCtx, e.intervals.TriggerCheck, "trigger_check", func(ctx context.Context) error {
		_, err := e.CheckTriggers(ctx)
		return err
	})
	go e.loop(runCtx, e.intervals.QueueDrain, "queue_drain", func(ctx context.Context) error {
		_, err := e.ProcessExecutionQueue(ctx)
		return err
	})
	e.log.Info("automation engine started", "triggerInterval", e.intervals.TriggerCheck, "drainInterval", e.intervals.QueueDrain)
}

// Stop ends both loops and waits for the current iteration to return.
func (e *Engine) Stop() {
	e.runMu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	e.done.Wait()
	e.log.Info("automation engine stopped")
}

func (e *Engine) loop(ctx context.Context, every time.Duration, name string, fn func(context.Context) error) {
	defer e.done.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			e.log.Warn("automation loop iteration failed", "loop", name, "error", err)
		}
	}
}
