package automation

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"leadflow_backend/internal/channel"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads"
	"leadflow_backend/internal/leadstatus"
	"leadflow_backend/internal/responses"
	"leadflow_backend/internal/rules"
	"leadflow_backend/internal/sequences"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/clock"
	"leadflow_backend/platform/kv"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"
)

var testStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeSender struct {
	mu   sync.Mutex
	sent []channel.Message
}

func (s *fakeSender) Send(_ context.Context, msg channel.Message) (channel.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return channel.Result{MessageID: "msg-1", Channel: msg.Channel, Recipient: "lead@example.com"}, nil
}

type fakeSequences struct {
	started []string
}

func (f *fakeSequences) StartSequence(_ context.Context, leadID, sequenceID string, _ map[string]any) (sequences.Execution, error) {
	f.started = append(f.started, leadID+"/"+sequenceID)
	return sequences.Execution{ID: "seq-exec-1", LeadID: leadID, SequenceID: sequenceID, Status: sequences.ExecutionActive}, nil
}

func (f *fakeSequences) PauseLeadSequence(context.Context, string) (sequences.Execution, error) {
	return sequences.Execution{}, apperr.NotFound("no active sequence")
}

type fixture struct {
	engine    *Engine
	clock     *clock.Fake
	tracker   *responses.Tracker
	statuses  *leadstatus.Manager
	tags      *leads.TagStore
	directory *leads.MemoryDirectory
	sender    *fakeSender
	seqs      *fakeSequences
	bus       *events.InMemoryBus
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	return newFixtureWithStore(t, kv.NewMemoryStore())
}

func newFixtureWithStore(t *testing.T, store kv.Store) fixture {
	t.Helper()
	clk := clock.NewFake(testStart)
	log := logger.Discard()
	bus := events.NewInMemoryBus(log)
	f := fixture{
		clock:     clk,
		tracker:   responses.New(store, bus, clk, validator.New(), log),
		statuses:  leadstatus.New(store, bus, clk, log),
		tags:      leads.NewTagStore(store),
		directory: leads.NewMemoryDirectory(),
		sender:    &fakeSender{},
		seqs:      &fakeSequences{},
		bus:       bus,
	}
	f.engine = New(Deps{
		Store:     store,
		Sender:    f.sender,
		Statuses:  f.statuses,
		Responses: f.tracker,
		Sequences: f.seqs,
		Tags:      f.tags,
		Directory: f.directory,
		Bus:       bus,
		Clock:     clk,
		Log:       log,
	}, Intervals{TriggerCheck: time.Minute, QueueDrain: time.Second})
	return f
}

func (f fixture) rule(t *testing.T, p CreateRuleParams) Rule {
	t.Helper()
	if p.Name == "" {
		p.Name = "test rule"
	}
	r, err := f.engine.CreateRule(context.Background(), p)
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return r
}

func TestOpenedEmailRuleMarksLeadInterested(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.rule(t, CreateRuleParams{
		Trigger: Trigger{Type: TriggerEmailOpened},
		Actions: []Action{{Type: ActionUpdateStatus, Params: map[string]any{"status": "interested"}}},
	})
	if _, err := f.tracker.TrackEmailOpen(ctx, "L1", "C1", "m1"); err != nil {
		t.Fatalf("track: %v", err)
	}

	exec, err := f.engine.ExecuteRule(ctx, r.ID, "L1")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != ExecutionPending {
		t.Fatalf("expected pending, got %s", exec.Status)
	}
	if n, err := f.engine.ProcessExecutionQueue(ctx); err != nil || n != 1 {
		t.Fatalf("expected 1 processed, got %d (%v)", n, err)
	}

	got, _ := f.engine.GetExecution(ctx, exec.ID)
	if got.Status != ExecutionCompleted || len(got.Results) != 1 || !got.Results[0].Success {
		t.Fatalf("unexpected execution: %+v", got)
	}
	status, _ := f.statuses.CurrentStatus(ctx, "L1")
	if status != leadstatus.StatusInterested {
		t.Fatalf("expected interested, got %s", status)
	}
	stored, _ := f.engine.GetRule(ctx, r.ID)
	if stored.ExecutionCount != 1 || stored.SuccessCount != 1 || stored.LastExecutedAt == nil {
		t.Fatalf("unexpected counters: %+v", stored)
	}
}

func TestCreateRuleValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := map[string]CreateRuleParams{
		"no name":        {Trigger: Trigger{Type: TriggerEmailOpened}, Actions: []Action{{Type: ActionAddTag}}},
		"bad trigger":    {Name: "x", Trigger: Trigger{Type: "moon_phase"}, Actions: []Action{{Type: ActionAddTag}}},
		"no actions":     {Name: "x", Trigger: Trigger{Type: TriggerEmailOpened}},
		"bad action":     {Name: "x", Trigger: Trigger{Type: TriggerEmailOpened}, Actions: []Action{{Type: "fax"}}},
		"bare condition": {Name: "x", Trigger: Trigger{Type: TriggerCondition}, Actions: []Action{{Type: ActionAddTag}}},
		"bad operator": {Name: "x", Trigger: Trigger{Type: TriggerCondition, Conditions: []rules.Condition{{Field: "status", Operator: "like"}}},
			Actions: []Action{{Type: ActionAddTag}}},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := f.engine.CreateRule(ctx, p); !apperr.Is(err, apperr.KindValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	rulesList, _ := f.engine.ListRules(ctx)
	if len(rulesList) != 0 {
		t.Fatalf("rejected rules must not be stored, got %d", len(rulesList))
	}
}

func TestExecuteRuleRejectsInactiveAndUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inactive := false
	r := f.rule(t, CreateRuleParams{Trigger: Trigger{Type: TriggerEmailOpened}, Actions: []Action{{Type: ActionAddTag}}, Active: &inactive})

	if _, err := f.engine.ExecuteRule(ctx, r.ID, "L1"); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := f.engine.ExecuteRule(ctx, "missing", "L1"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if f.engine.QueueDepth() != 0 {
		t.Fatalf("nothing should be queued")
	}
}

func TestFailingActionsDoNotAbortExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.engine.RegisterHandler("explode", func(context.Context, ActionContext) (map[string]any, error) {
		panic("boom")
	})
	r := f.rule(t, CreateRuleParams{
		Trigger: Trigger{Type: TriggerEmailOpened},
		Actions: []Action{
			{Type: ActionUpdateStatus, Params: map[string]any{"status": "bogus"}},
			{Type: "explode"},
			{Type: ActionAddTag, Params: map[string]any{"tag": "VIP"}},
		},
	})
	exec, _ := f.engine.ExecuteRule(ctx, r.ID, "L1")
	if _, err := f.engine.ProcessExecutionQueue(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	got, _ := f.engine.GetExecution(ctx, exec.ID)
	if got.Status != ExecutionCompleted || len(got.Results) != 3 {
		t.Fatalf("unexpected execution: %+v", got)
	}
	if got.Results[0].Success || got.Results[1].Success || !got.Results[2].Success {
		t.Fatalf("unexpected results: %+v", got.Results)
	}
	if got.Results[1].Error != "panic: boom" {
		t.Fatalf("expected panic recorded, got %q", got.Results[1].Error)
	}
	tags, _ := f.tags.Tags(ctx, "L1")
	if !slices.Contains(tags, "vip") {
		t.Fatalf("expected vip tag, got %v", tags)
	}
}

func TestDelayedActionWaitsForLaterDrain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.rule(t, CreateRuleParams{
		Trigger: Trigger{Type: TriggerEmailOpened},
		Actions: []Action{
			{Type: ActionAddTag, Params: map[string]any{"tag": "first"}},
			{Type: ActionAddTag, Params: map[string]any{"tag": "second"}, DelayMinutes: 30},
		},
	})
	exec, _ := f.engine.ExecuteRule(ctx, r.ID, "L1")
	_, _ = f.engine.ProcessExecutionQueue(ctx)

	got, _ := f.engine.GetExecution(ctx, exec.ID)
	if got.Status != ExecutionWaiting || got.ResumeAt == nil || !got.ResumeAt.Equal(testStart.Add(30*time.Minute)) {
		t.Fatalf("expected waiting until +30m, got %+v", got)
	}

	f.clock.Advance(10 * time.Minute)
	if n, _ := f.engine.ProcessExecutionQueue(ctx); n != 0 {
		t.Fatalf("continuation is not due, processed %d", n)
	}
	f.clock.Advance(20 * time.Minute)
	if n, _ := f.engine.ProcessExecutionQueue(ctx); n != 1 {
		t.Fatalf("expected continuation to run, processed %d", n)
	}

	got, _ = f.engine.GetExecution(ctx, exec.ID)
	if got.Status != ExecutionCompleted || len(got.Results) != 2 {
		t.Fatalf("expected completed with 2 results, got %+v", got)
	}
	tags, _ := f.tags.Tags(ctx, "L1")
	if !slices.Contains(tags, "second") {
		t.Fatalf("expected delayed tag, got %v", tags)
	}
}

func TestEngagementTriggerFiresOncePerEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.rule(t, CreateRuleParams{
		Trigger: Trigger{Type: TriggerEmailReplied},
		Actions: []Action{{Type: ActionSendEmail, Params: map[string]any{"body": "thanks"}}},
	})
	_, _ = f.tracker.TrackEmailReply(ctx, "L1", "C1", "m1", "sounds good")

	if n, _ := f.engine.CheckTriggers(ctx); n != 1 {
		t.Fatalf("expected 1 fired, got %d", n)
	}
	if n, _ := f.engine.CheckTriggers(ctx); n != 0 {
		t.Fatalf("same reply must not fire twice, got %d", n)
	}
	f.clock.Advance(time.Minute)
	_, _ = f.tracker.TrackEmailReply(ctx, "L1", "C1", "m2", "one more thing")
	if n, _ := f.engine.CheckTriggers(ctx); n != 1 {
		t.Fatalf("new reply should fire, got %d", n)
	}

	_, _ = f.engine.ProcessExecutionQueue(ctx)
	if len(f.sender.sent) != 2 || f.sender.sent[0].CampaignID == "" || f.sender.sent[0].Channel != channel.KindEmail {
		t.Fatalf("unexpected sends: %+v", f.sender.sent)
	}
}

func TestNoResponseTriggerWaitsForWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.rule(t, CreateRuleParams{
		Trigger: Trigger{Type: TriggerNoResponse, NoResponseHours: 72},
		Actions: []Action{{Type: ActionScheduleCall}},
	})
	_, _ = f.tracker.TrackSent(ctx, "L1", "C1", "m1", responses.SourceEmail)

	f.clock.Advance(71 * time.Hour)
	if n, _ := f.engine.CheckTriggers(ctx); n != 0 {
		t.Fatalf("window not elapsed, fired %d", n)
	}
	f.clock.Advance(2 * time.Hour)
	if n, _ := f.engine.CheckTriggers(ctx); n != 1 {
		t.Fatalf("expected fire after window, got %d", n)
	}
	if n, _ := f.engine.CheckTriggers(ctx); n != 0 {
		t.Fatalf("must not fire twice for one send, got %d", n)
	}

	_, _ = f.engine.ProcessExecutionQueue(ctx)
	tasks, _ := f.engine.ListTasks(ctx, "L1")
	if len(tasks) != 1 || tasks[0].Kind != TaskKindCall {
		t.Fatalf("expected one call task, got %+v", tasks)
	}
	if want := f.clock.Now().Add(24 * time.Hour); !tasks[0].DueAt.Equal(want) {
		t.Fatalf("expected due %v, got %v", want, tasks[0].DueAt)
	}
}

func TestConditionTriggerIsEdgeTriggered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.directory.UpsertContact(ctx, leads.Contact{LeadID: "L1", Name: "Ada"})
	f.rule(t, CreateRuleParams{
		Trigger: Trigger{Type: TriggerCondition, Conditions: []rules.Condition{{Field: "tags", Operator: rules.OpContains, Value: "vip"}}},
		Actions: []Action{{Type: ActionSendNotification, Params: map[string]any{"message": "vip lead"}}},
	})

	if n, _ := f.engine.CheckTriggers(ctx); n != 0 {
		t.Fatalf("condition false, fired %d", n)
	}
	_, _ = f.tags.AddTag(ctx, "L1", "vip")
	if n, _ := f.engine.CheckTriggers(ctx); n != 1 {
		t.Fatalf("expected fire on rising edge, got %d", n)
	}
	if n, _ := f.engine.CheckTriggers(ctx); n != 0 {
		t.Fatalf("still true, must not refire, got %d", n)
	}
	_, _ = f.tags.RemoveTag(ctx, "L1", "vip")
	_, _ = f.engine.CheckTriggers(ctx)
	_, _ = f.tags.AddTag(ctx, "L1", "vip")
	if n, _ := f.engine.CheckTriggers(ctx); n != 1 {
		t.Fatalf("expected refire after re-arm, got %d", n)
	}
}

func TestSequenceActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.rule(t, CreateRuleParams{
		Trigger: Trigger{Type: TriggerEmailClicked},
		Actions: []Action{
			{Type: ActionPauseSequence},
			{Type: ActionStartSequence, Params: map[string]any{"sequenceId": "S1"}},
		},
	})
	exec, _ := f.engine.ExecuteRule(ctx, r.ID, "L1")
	_, _ = f.engine.ProcessExecutionQueue(ctx)

	got, _ := f.engine.GetExecution(ctx, exec.ID)
	if !got.Results[0].Success || got.Results[0].Output["paused"] != false {
		t.Fatalf("pause with no sequence should succeed, got %+v", got.Results[0])
	}
	if len(f.seqs.started) != 1 || f.seqs.started[0] != "L1/S1" {
		t.Fatalf("unexpected starts: %v", f.seqs.started)
	}
}

func TestLeadlessExecutionFailsLeadActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.rule(t, CreateRuleParams{
		Trigger: Trigger{Type: TriggerEmailOpened},
		Actions: []Action{{Type: ActionAddTag, Params: map[string]any{"tag": "x"}}, {Type: ActionSendNotification}},
	})
	exec, _ := f.engine.ExecuteRule(ctx, r.ID, "")
	_, _ = f.engine.ProcessExecutionQueue(ctx)

	got, _ := f.engine.GetExecution(ctx, exec.ID)
	if got.Results[0].Success || !got.Results[1].Success {
		t.Fatalf("unexpected results: %+v", got.Results)
	}
}

func TestAutomationStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.rule(t, CreateRuleParams{
		Trigger: Trigger{Type: TriggerEmailOpened},
		Actions: []Action{{Type: ActionCreateTask, Params: map[string]any{"title": "review"}}},
	})
	f.rule(t, CreateRuleParams{Trigger: Trigger{Type: TriggerEmailOpened}, Actions: []Action{{Type: ActionAddTag}}})
	_, _ = f.engine.SetRuleActive(ctx, r.ID, true)

	_, _ = f.engine.ExecuteRule(ctx, r.ID, "L1")
	_, _ = f.engine.ExecuteRule(ctx, r.ID, "L2")
	if f.engine.QueueDepth() != 2 {
		t.Fatalf("expected 2 queued, got %d", f.engine.QueueDepth())
	}
	_, _ = f.engine.ProcessExecutionQueue(ctx)

	st, err := f.engine.GetAutomationStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalRules != 2 || st.ActiveRules != 2 || st.TotalExecutions != 2 || st.Completed != 2 || st.SuccessRate != 100 || st.QueueDepth != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestRecoverQueueRequeuesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.rule(t, CreateRuleParams{Trigger: Trigger{Type: TriggerEmailOpened}, Actions: []Action{{Type: ActionSendNotification}}})
	exec, _ := f.engine.ExecuteRule(ctx, r.ID, "L1")

	// a fresh engine over the same store has an empty in-process queue
	restarted := New(Deps{
		Store: f.engine.store, Sender: f.sender, Statuses: f.statuses, Responses: f.tracker,
		Sequences: f.seqs, Bus: f.bus, Clock: f.clock, Log: logger.Discard(),
	}, Intervals{})
	if n, _ := restarted.RecoverQueue(ctx); n != 1 {
		t.Fatalf("expected 1 recovered, got %d", n)
	}
	_, _ = restarted.ProcessExecutionQueue(ctx)
	got, _ := restarted.GetExecution(ctx, exec.ID)
	if got.Status != ExecutionCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	f.engine.Start(context.Background())
	f.engine.Start(context.Background())
	f.engine.Stop()
	f.engine.Stop()
}

// flakyExecStore fails execution writes while broken is set.
type flakyExecStore struct {
	kv.Store
	broken atomic.Bool
}

func (s *flakyExecStore) Set(ctx context.Context, key string, value []byte) error {
	if s.broken.Load() && strings.HasPrefix(key, executionPrefix) {
		return errors.New("connection reset")
	}
	return s.Store.Set(ctx, key, value)
}

func TestFailedEnqueueFiresAgain(t *testing.T) {
	store := &flakyExecStore{Store: kv.NewMemoryStore()}
	f := newFixtureWithStore(t, store)
	ctx := context.Background()
	f.rule(t, CreateRuleParams{
		Trigger: Trigger{Type: TriggerEmailReplied},
		Actions: []Action{{Type: ActionAddTag, Params: map[string]any{"tag": "replied"}}},
	})
	_, _ = f.tracker.TrackEmailReply(ctx, "L1", "C1", "m1", "call me")

	store.broken.Store(true)
	if n, _ := f.engine.CheckTriggers(ctx); n != 0 {
		t.Fatalf("nothing should fire while executions cannot be stored, got %d", n)
	}
	store.broken.Store(false)
	if n, _ := f.engine.CheckTriggers(ctx); n != 1 {
		t.Fatalf("the reply should fire once the store recovers, got %d", n)
	}
	if n, _ := f.engine.CheckTriggers(ctx); n != 0 {
		t.Fatalf("the reply must not fire twice, got %d", n)
	}
}
