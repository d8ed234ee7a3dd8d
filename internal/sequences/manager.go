package sequences

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"leadflow_backend/internal/channel"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads"
	"leadflow_backend/internal/metrics"
	"leadflow_backend/internal/rules"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/clock"
	"leadflow_backend/platform/keylock"
	"leadflow_backend/platform/kv"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	sequencePrefix  = "sequences:def:"
	executionPrefix = "sequences:exec:"
	leadIndexPrefix = "sequences:lead:"
)

// Sender dispatches one message to a lead.
type Sender interface {
	Send(ctx context.Context, msg channel.Message) (channel.Result, error)
}

// Options tune step retries and the ready-tick fan-out.
type Options struct {
	RetryDelay      time.Duration
	MaxStepAttempts int
	Concurrency     int
}

type leadIndex struct {
	ExecutionIDs []string `json:"executionIds"`
}

// Manager owns sequence definitions and executions.
type Manager struct {
	store     kv.Store
	sender    Sender
	evaluator ConditionEvaluator
	directory leads.Directory
	bus       events.Bus
	clock     clock.Clock
	locks     *keylock.Locker
	opts      Options
	log       *logger.Logger
	metrics   *metrics.Metrics
}

// New creates a Manager. The condition evaluator defaults to AlwaysSend.
func New(store kv.Store, sender Sender, bus events.Bus, clk clock.Clock, log *logger.Logger, opts Options) *Manager {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Hour
	}
	if opts.MaxStepAttempts < 1 {
		opts.MaxStepAttempts = 3
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Manager{
		store:     store,
		sender:    sender,
		evaluator: AlwaysSend{},
		bus:       bus,
		clock:     clk,
		locks:     keylock.New(),
		opts:      opts,
		log:       log,
	}
}

// SetConditionEvaluator replaces the step predicate.
func (m *Manager) SetConditionEvaluator(e ConditionEvaluator) {
	if e == nil {
		e = AlwaysSend{}
	}
	m.evaluator = e
}

// SetDirectory enables business-type matching when sequences auto-start.
func (m *Manager) SetDirectory(d leads.Directory) {
	m.directory = d
}

// SetMetrics attaches Prometheus collectors.
func (m *Manager) SetMetrics(mt *metrics.Metrics) {
	m.metrics = mt
}

// =============================================================================
// Definitions
// =============================================================================

// CreateSequence validates and stores a sequence definition.
func (m *Manager) CreateSequence(ctx context.Context, p CreateParams) (Sequence, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return Sequence{}, apperr.Validation("sequence name is required").WithOp("sequences.CreateSequence")
	}
	if len(p.Steps) == 0 {
		return Sequence{}, apperr.Validation("sequence needs at least one step").WithOp("sequences.CreateSequence")
	}
	if p.TriggerStatus != "" && !p.TriggerStatus.Valid() {
		return Sequence{}, apperr.Validation("unknown trigger status: " + string(p.TriggerStatus))
	}

	steps := make([]Step, len(p.Steps))
	total := 0
	for i, s := range p.Steps {
		if s.DelayHours < 0 {
			return Sequence{}, apperr.Validation(fmt.Sprintf("step %d: delayHours must not be negative", i))
		}
		if !s.MessageType.Valid() {
			return Sequence{}, apperr.Validation(fmt.Sprintf("step %d: unknown message type %q", i, s.MessageType))
		}
		if s.TemplateID == "" && strings.TrimSpace(s.Body) == "" {
			return Sequence{}, apperr.Validation(fmt.Sprintf("step %d: templateId or body is required", i))
		}
		s.Conditions = normalizeConditions(s.Conditions)
		if err := rules.Validate(s.Conditions); err != nil {
			return Sequence{}, apperr.Validation(fmt.Sprintf("step %d: %v", i, err))
		}
		steps[i] = s
		total += s.DelayHours
	}

	id := strings.TrimSpace(p.ID)
	if id == "" {
		id = uuid.NewString()
	}
	campaignID := strings.TrimSpace(p.CampaignID)
	if campaignID == "" {
		campaignID = "sequence:" + id
	}
	active := true
	if p.Active != nil {
		active = *p.Active
	}

	seq := Sequence{
		ID:                     id,
		Name:                   name,
		Description:            p.Description,
		TriggerStatus:          p.TriggerStatus,
		BusinessTypes:          p.BusinessTypes,
		CampaignID:             campaignID,
		Steps:                  steps,
		Active:                 active,
		TotalSteps:             len(steps),
		EstimatedDurationHours: total,
		CreatedAt:              m.clock.Now(),
	}
	if err := kv.PutJSON(ctx, m.store, sequencePrefix+id, seq); err != nil {
		m.log.StoreError("sequences.create", err)
		return Sequence{}, apperr.Wrap(apperr.KindInternal, "failed to store sequence", err)
	}
	m.log.Info("sequence created", "sequenceId", id, "steps", len(steps), "trigger", p.TriggerStatus)
	return seq, nil
}

// GetSequence loads a sequence definition by id.
func (m *Manager) GetSequence(ctx context.Context, id string) (Sequence, error) {
	seq, err := kv.GetJSON[Sequence](ctx, m.store, sequencePrefix+id)
	if kv.IsNotFound(err) {
		return Sequence{}, apperr.NotFound("sequence not found").WithOp("sequences.GetSequence")
	}
	if err != nil {
		return Sequence{}, apperr.Wrap(apperr.KindInternal, "failed to load sequence", err)
	}
	return seq, nil
}

// ListSequences returns every definition ordered by creation time.
func (m *Manager) ListSequences(ctx context.Context) ([]Sequence, error) {
	seqs, err := kv.ScanJSON[Sequence](ctx, m.store, sequencePrefix)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list sequences", err)
	}
	sort.SliceStable(seqs, func(i, j int) bool {
		if !seqs[i].CreatedAt.Equal(seqs[j].CreatedAt) {
			return seqs[i].CreatedAt.Before(seqs[j].CreatedAt)
		}
		return seqs[i].ID < seqs[j].ID
	})
	return seqs, nil
}

// SetSequenceActive toggles whether new executions may start. Running executions are unaffected.
func (m *Manager) SetSequenceActive(ctx context.Context, id string, active bool) (Sequence, error) {
	seq, err := m.GetSequence(ctx, id)
	if err != nil {
		return Sequence{}, err
	}
	seq.Active = active
	if err := kv.PutJSON(ctx, m.store, sequencePrefix+id, seq); err != nil {
		return Sequence{}, apperr.Wrap(apperr.KindInternal, "failed to store sequence", err)
	}
	return seq, nil
}

// =============================================================================
// Executions
// =============================================================================

// StartSequence creates an execution for the lead. It fails with a validation
// error, changing nothing, when the lead already has an active execution.
// A first step without delay is executed before returning.
func (m *Manager) StartSequence(ctx context.Context, leadID, sequenceID string, metadata map[string]any) (Execution, error) {
	leadID = strings.TrimSpace(leadID)
	if leadID == "" {
		return Execution{}, apperr.Validation("leadId is required").WithOp("sequences.StartSequence")
	}
	seq, err := m.GetSequence(ctx, sequenceID)
	if err != nil {
		return Execution{}, err
	}
	if !seq.Active {
		return Execution{}, apperr.Validation("sequence is not active").WithOp("sequences.StartSequence")
	}

	unlock := m.locks.Lock(leadID)
	defer unlock()

	idx, err := m.loadIndex(ctx, leadID)
	if err != nil {
		return Execution{}, err
	}
	if active, ok, err := m.activeFor(ctx, idx); err != nil {
		return Execution{}, err
	} else if ok {
		return Execution{}, apperr.Validation("lead already has an active sequence").
			WithOp("sequences.StartSequence").
			WithDetails(map[string]string{"executionId": active.ID})
	}

	now := m.clock.Now()
	exec := Execution{
		ID:          uuid.NewString(),
		LeadID:      leadID,
		SequenceID:  seq.ID,
		CurrentStep: 0,
		Status:      ExecutionActive,
		StartedAt:   now,
		NextStepAt:  now.Add(hours(seq.Steps[0].DelayHours)),
		Metadata:    metadata,
		UpdatedAt:   now,
	}
	if err := m.saveExecution(ctx, exec); err != nil {
		return Execution{}, err
	}
	idx.ExecutionIDs = append(idx.ExecutionIDs, exec.ID)
	if err := kv.PutJSON(ctx, m.store, leadIndexPrefix+leadID, idx); err != nil {
		return Execution{}, apperr.Wrap(apperr.KindInternal, "failed to index execution", err)
	}
	m.log.Info("sequence started", "leadId", leadID, "sequenceId", seq.ID, "executionId", exec.ID)

	if seq.Steps[0].DelayHours == 0 {
		exec, _, err = m.executeLocked(ctx, exec, seq)
		if err != nil {
			return exec, err
		}
	}
	return exec, nil
}

// ExecuteStep runs the current step of an execution. It returns false and
// changes nothing when the execution is not active.
func (m *Manager) ExecuteStep(ctx context.Context, executionID string) (bool, error) {
	exec, err := m.GetExecution(ctx, executionID)
	if err != nil {
		return false, err
	}
	unlock := m.locks.Lock(exec.LeadID)
	defer unlock()

	// reload under the lock; a concurrent pause may have won
	exec, err = m.GetExecution(ctx, executionID)
	if err != nil {
		return false, err
	}
	if exec.Status != ExecutionActive {
		return false, nil
	}
	seq, err := m.GetSequence(ctx, exec.SequenceID)
	if err != nil {
		return false, err
	}
	_, changed, err := m.executeLocked(ctx, exec, seq)
	return changed, err
}

// executeLocked advances exec by one dispatched step. Rejected steps are
// skipped in the same call. Caller holds the lead lock.
func (m *Manager) executeLocked(ctx context.Context, exec Execution, seq Sequence) (Execution, bool, error) {
	ctx = context.WithValue(ctx, logger.ExecutionIDKey, exec.ID)
	log := m.log.WithContext(ctx).With("leadId", exec.LeadID, "sequenceId", seq.ID)

	for {
		now := m.clock.Now()
		if exec.CurrentStep >= len(seq.Steps) {
			return m.finish(ctx, exec, ExecutionCompleted)
		}
		step := seq.Steps[exec.CurrentStep]

		ok, err := m.evaluator.ShouldSend(ctx, exec, step)
		if err != nil {
			return exec, false, apperr.Wrap(apperr.KindInternal, "step condition evaluation failed", err)
		}
		if !ok {
			log.Info("sequence step skipped", "step", exec.CurrentStep)
			m.metrics.SequenceStep("skipped")
			exec.StepsSkipped++
			exec.CurrentStep++
			exec.Attempts = 0
			continue
		}

		res, err := m.sender.Send(ctx, channel.Message{
			LeadID:     exec.LeadID,
			CampaignID: seq.CampaignID,
			Channel:    step.MessageType,
			TemplateID: step.TemplateID,
			Subject:    step.Subject,
			Body:       step.Body,
			Data:       exec.Metadata,
		})
		if err != nil {
			exec.Attempts++
			exec.LastError = err.Error()
			exec.UpdatedAt = now
			if exec.Attempts < m.opts.MaxStepAttempts {
				log.Warn("sequence step failed, will retry", "step", exec.CurrentStep, "attempt", exec.Attempts, "error", err)
				m.metrics.SequenceStep("retried")
				exec.NextStepAt = now.Add(m.opts.RetryDelay)
				return exec, true, m.saveExecution(ctx, exec)
			}
			log.Error("sequence step abandoned", "step", exec.CurrentStep, "attempts", exec.Attempts, "error", err)
			m.metrics.SequenceStep("failed")
			exec.StepsFailed++
			exec.Attempts = 0
			exec.CurrentStep++
			return m.scheduleNext(ctx, exec, seq, now)
		}

		m.metrics.SequenceStep("sent")
		exec.StepsSent++
		exec.Attempts = 0
		exec.LastError = ""
		exec.LastMessageID = res.MessageID
		sentStep := exec.CurrentStep
		exec.CurrentStep++

		m.bus.Publish(ctx, events.SequenceStepDispatched{
			BaseEvent:   events.NewBaseEvent(now),
			ExecutionID: exec.ID,
			SequenceID:  seq.ID,
			LeadID:      exec.LeadID,
			Step:        sentStep,
			MessageID:   res.MessageID,
		})
		return m.scheduleNext(ctx, exec, seq, now)
	}
}

func (m *Manager) scheduleNext(ctx context.Context, exec Execution, seq Sequence, now time.Time) (Execution, bool, error) {
	if exec.CurrentStep >= len(seq.Steps) {
		return m.finish(ctx, exec, ExecutionCompleted)
	}
	exec.NextStepAt = now.Add(hours(seq.Steps[exec.CurrentStep].DelayHours))
	exec.UpdatedAt = now
	return exec, true, m.saveExecution(ctx, exec)
}

func (m *Manager) finish(ctx context.Context, exec Execution, status ExecutionStatus) (Execution, bool, error) {
	now := m.clock.Now()
	exec.Status = status
	exec.CompletedAt = &now
	exec.UpdatedAt = now
	if err := m.saveExecution(ctx, exec); err != nil {
		return exec, false, err
	}
	if status == ExecutionCompleted {
		m.metrics.SequenceStep("completed")
	}
	m.bus.Publish(ctx, events.SequenceFinished{
		BaseEvent:   events.NewBaseEvent(now),
		ExecutionID: exec.ID,
		SequenceID:  exec.SequenceID,
		LeadID:      exec.LeadID,
		Status:      string(status),
	})
	m.log.Info("sequence finished", "executionId", exec.ID, "leadId", exec.LeadID, "status", status)
	return exec, true, nil
}

// PauseSequence stops an active execution from being ticked.
func (m *Manager) PauseSequence(ctx context.Context, executionID string) (Execution, error) {
	return m.transition(ctx, executionID, func(exec *Execution, _ leadIndex) error {
		if exec.Status != ExecutionActive {
			return apperr.Validation("only active executions can be paused")
		}
		exec.Status = ExecutionPaused
		return nil
	})
}

// ResumeSequence reactivates a paused execution, due immediately. It refuses
// when another execution of the same lead is active.
func (m *Manager) ResumeSequence(ctx context.Context, executionID string) (Execution, error) {
	return m.transition(ctx, executionID, func(exec *Execution, idx leadIndex) error {
		if exec.Status != ExecutionPaused {
			return apperr.Validation("only paused executions can be resumed")
		}
		active, ok, err := m.activeFor(ctx, idx)
		if err != nil {
			return err
		}
		if ok && active.ID != exec.ID {
			return apperr.Validation("lead already has an active sequence")
		}
		exec.Status = ExecutionActive
		exec.NextStepAt = m.clock.Now()
		return nil
	})
}

// CancelSequence ends an active or paused execution. Messages already sent stay sent.
func (m *Manager) CancelSequence(ctx context.Context, executionID string) (Execution, error) {
	exec, err := m.transition(ctx, executionID, func(exec *Execution, _ leadIndex) error {
		if exec.Status != ExecutionActive && exec.Status != ExecutionPaused {
			return apperr.Validation("execution already finished")
		}
		now := m.clock.Now()
		exec.Status = ExecutionCancelled
		exec.CompletedAt = &now
		return nil
	})
	if err != nil {
		return Execution{}, err
	}
	m.bus.Publish(ctx, events.SequenceFinished{
		BaseEvent:   events.NewBaseEvent(m.clock.Now()),
		ExecutionID: exec.ID,
		SequenceID:  exec.SequenceID,
		LeadID:      exec.LeadID,
		Status:      string(ExecutionCancelled),
	})
	return exec, nil
}

// PauseLeadSequence pauses whichever execution is active for the lead.
func (m *Manager) PauseLeadSequence(ctx context.Context, leadID string) (Execution, error) {
	exec, ok, err := m.ActiveExecution(ctx, leadID)
	if err != nil {
		return Execution{}, err
	}
	if !ok {
		return Execution{}, apperr.NotFound("lead has no active sequence").WithOp("sequences.PauseLeadSequence")
	}
	return m.PauseSequence(ctx, exec.ID)
}

func (m *Manager) transition(ctx context.Context, executionID string, mutate func(*Execution, leadIndex) error) (Execution, error) {
	exec, err := m.GetExecution(ctx, executionID)
	if err != nil {
		return Execution{}, err
	}
	unlock := m.locks.Lock(exec.LeadID)
	defer unlock()

	exec, err = m.GetExecution(ctx, executionID)
	if err != nil {
		return Execution{}, err
	}
	idx, err := m.loadIndex(ctx, exec.LeadID)
	if err != nil {
		return Execution{}, err
	}
	if err := mutate(&exec, idx); err != nil {
		return Execution{}, err
	}
	exec.UpdatedAt = m.clock.Now()
	if err := m.saveExecution(ctx, exec); err != nil {
		return Execution{}, err
	}
	m.log.Info("sequence execution updated", "executionId", exec.ID, "leadId", exec.LeadID, "status", exec.Status)
	return exec, nil
}

// ProcessReadySequences executes one step of every active execution that is
// due. Different leads run in parallel up to the configured concurrency.
// Step errors are logged and do not stop the tick.
func (m *Manager) ProcessReadySequences(ctx context.Context) (int, error) {
	all, err := m.ListExecutions(ctx, "")
	if err != nil {
		return 0, err
	}
	now := m.clock.Now()

	var processed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Concurrency)
	for _, exec := range all {
		if exec.Status != ExecutionActive || exec.NextStepAt.After(now) {
			continue
		}
		id := exec.ID
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			changed, err := m.ExecuteStep(gctx, id)
			if err != nil {
				m.log.Error("sequence tick step failed", "executionId", id, "error", err)
				return nil
			}
			if changed {
				processed.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	return int(processed.Load()), err
}

// GetExecution loads a sequence execution by id.
func (m *Manager) GetExecution(ctx context.Context, id string) (Execution, error) {
	exec, err := kv.GetJSON[Execution](ctx, m.store, executionPrefix+id)
	if kv.IsNotFound(err) {
		return Execution{}, apperr.NotFound("sequence execution not found").WithOp("sequences.GetExecution")
	}
	if err != nil {
		return Execution{}, apperr.Wrap(apperr.KindInternal, "failed to load execution", err)
	}
	return exec, nil
}

// ListExecutions returns executions, optionally only those of one lead, oldest first.
func (m *Manager) ListExecutions(ctx context.Context, leadID string) ([]Execution, error) {
	var out []Execution
	if leadID != "" {
		idx, err := m.loadIndex(ctx, leadID)
		if err != nil {
			return nil, err
		}
		out = make([]Execution, 0, len(idx.ExecutionIDs))
		for _, id := range idx.ExecutionIDs {
			exec, err := m.GetExecution(ctx, id)
			if err != nil {
				return nil, err
			}
			out = append(out, exec)
		}
	} else {
		all, err := kv.ScanJSON[Execution](ctx, m.store, executionPrefix)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "failed to list executions", err)
		}
		out = all
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// ActiveExecution returns the lead's active execution if there is one.
func (m *Manager) ActiveExecution(ctx context.Context, leadID string) (Execution, bool, error) {
	idx, err := m.loadIndex(ctx, leadID)
	if err != nil {
		return Execution{}, false, err
	}
	return m.activeFor(ctx, idx)
}

func (m *Manager) activeFor(ctx context.Context, idx leadIndex) (Execution, bool, error) {
	for i := len(idx.ExecutionIDs) - 1; i >= 0; i-- {
		exec, err := m.GetExecution(ctx, idx.ExecutionIDs[i])
		if apperr.Is(err, apperr.KindNotFound) {
			continue
		}
		if err != nil {
			return Execution{}, false, err
		}
		if exec.Status == ExecutionActive {
			return exec, true, nil
		}
	}
	return Execution{}, false, nil
}

// GetSequenceStats aggregates executions of sequenceID, or of all sequences when empty.
func (m *Manager) GetSequenceStats(ctx context.Context, sequenceID string) (Stats, error) {
	if sequenceID != "" {
		if _, err := m.GetSequence(ctx, sequenceID); err != nil {
			return Stats{}, err
		}
	}
	all, err := m.ListExecutions(ctx, "")
	if err != nil {
		return Stats{}, err
	}
	st := Stats{SequenceID: sequenceID}
	for _, e := range all {
		if sequenceID != "" && e.SequenceID != sequenceID {
			continue
		}
		st.Total++
		switch e.Status {
		case ExecutionActive:
			st.Active++
		case ExecutionPaused:
			st.Paused++
		case ExecutionCompleted:
			st.Completed++
		case ExecutionCancelled:
			st.Cancelled++
		}
		st.StepsSent += e.StepsSent
		st.StepsSkipped += e.StepsSkipped
		st.StepsFailed += e.StepsFailed
	}
	if st.Total > 0 {
		st.CompletionRate = float64(st.Completed) / float64(st.Total) * 100
	}
	return st, nil
}

func (m *Manager) loadIndex(ctx context.Context, leadID string) (leadIndex, error) {
	idx, err := kv.GetJSON[leadIndex](ctx, m.store, leadIndexPrefix+leadID)
	if kv.IsNotFound(err) {
		return leadIndex{}, nil
	}
	if err != nil {
		return leadIndex{}, apperr.Wrap(apperr.KindInternal, "failed to load lead executions", err)
	}
	return idx, nil
}

func (m *Manager) saveExecution(ctx context.Context, exec Execution) error {
	if err := kv.PutJSON(ctx, m.store, executionPrefix+exec.ID, exec); err != nil {
		m.log.StoreError("sequences.save_execution", err)
		return apperr.Wrap(apperr.KindInternal, "failed to store execution", err)
	}
	return nil
}

func hours(h int) time.Duration {
	return time.Duration(h) * time.Hour
}
