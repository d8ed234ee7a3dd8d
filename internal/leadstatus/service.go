package leadstatus

import (
	"context"
	"sort"
	"strings"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/metrics"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/clock"
	"leadflow_backend/platform/keylock"
	"leadflow_backend/platform/kv"
	"leadflow_backend/platform/logger"
)

const historyPrefix = "leadstatus:history:"

// UpdatedByEngagement marks transitions driven by tracked engagement events.
const UpdatedByEngagement = "response_tracker"

// Manager owns lead status histories.
type Manager struct {
	store   kv.Store
	bus     events.Bus
	clock   clock.Clock
	locks   *keylock.Locker
	log     *logger.Logger
	metrics *metrics.Metrics
}

// New creates a Manager.
func New(store kv.Store, bus events.Bus, clk clock.Clock, log *logger.Logger) *Manager {
	return &Manager{store: store, bus: bus, clock: clk, locks: keylock.New(), log: log}
}

// SetMetrics attaches Prometheus collectors.
func (m *Manager) SetMetrics(mt *metrics.Metrics) {
	m.metrics = mt
}

// UpdateLeadStatus appends a transition. Every transition between the 13
// stages is allowed; a lead with no record starts from new.
func (m *Manager) UpdateLeadStatus(ctx context.Context, p UpdateParams) (History, error) {
	p.LeadID = strings.TrimSpace(p.LeadID)
	if p.LeadID == "" {
		return History{}, apperr.Validation("leadId is required").WithOp("leadstatus.UpdateLeadStatus")
	}
	if !p.Status.Valid() {
		return History{}, apperr.Validation("unknown lead status: " + string(p.Status)).WithOp("leadstatus.UpdateLeadStatus")
	}

	unlock := m.locks.Lock(p.LeadID)
	defer unlock()

	h, _, err := m.load(ctx, p.LeadID)
	if err != nil {
		return History{}, err
	}
	return m.apply(ctx, h, p)
}

// apply appends the transition to h, stores it and publishes. Caller holds the lead lock.
func (m *Manager) apply(ctx context.Context, h History, p UpdateParams) (History, error) {
	now := m.clock.Now()
	if h.CreatedAt.IsZero() {
		h.CreatedAt = now
	}
	from := h.CurrentStatus
	if from == "" {
		from = StatusNew
	}
	updatedBy := p.UpdatedBy
	if updatedBy == "" {
		updatedBy = "system"
	}

	h.StatusHistory = append(h.StatusHistory, StatusUpdate{
		FromStatus: from,
		ToStatus:   p.Status,
		Timestamp:  now,
		Reason:     p.Reason,
		Notes:      p.Notes,
		UpdatedBy:  updatedBy,
		Metadata:   p.Metadata,
	})
	h.CurrentStatus = p.Status
	h.EnteredStatusAt = now
	h.LastActivity = now
	h.ConversionProbability = probability(h, now)
	h.NextAction = nextAction(h.CurrentStatus, 0)
	h.refresh(now)

	if err := kv.PutJSON(ctx, m.store, historyPrefix+h.LeadID, h); err != nil {
		m.log.StoreError("leadstatus.save_history", err)
		return History{}, apperr.Wrap(apperr.KindInternal, "failed to store lead status", err)
	}

	m.metrics.StatusChanged(string(p.Status))
	m.bus.Publish(ctx, events.LeadStatusChanged{
		BaseEvent:  events.NewBaseEvent(now),
		LeadID:     h.LeadID,
		FromStatus: string(from),
		ToStatus:   string(p.Status),
		UpdatedBy:  updatedBy,
		Metadata:   p.Metadata,
	})
	m.log.Info("lead status updated", "leadId", h.LeadID, "from", from, "to", p.Status, "updatedBy", updatedBy)
	return h, nil
}

// load returns the stored history, or a fresh one in status new when absent.
func (m *Manager) load(ctx context.Context, leadID string) (History, bool, error) {
	h, err := kv.GetJSON[History](ctx, m.store, historyPrefix+leadID)
	if kv.IsNotFound(err) {
		return History{LeadID: leadID, CurrentStatus: StatusNew, StatusHistory: []StatusUpdate{}}, false, nil
	}
	if err != nil {
		m.log.StoreError("leadstatus.load_history", err)
		return History{}, false, apperr.Wrap(apperr.KindInternal, "failed to load lead status", err)
	}
	return h, true, nil
}

func (m *Manager) get(ctx context.Context, leadID string) (History, error) {
	h, ok, err := m.load(ctx, leadID)
	if err != nil {
		return History{}, err
	}
	if !ok {
		return History{}, apperr.NotFound("lead has no status history").WithOp("leadstatus")
	}
	return h, nil
}

// GetHistory returns the lead record with time fields and next action as of now.
func (m *Manager) GetHistory(ctx context.Context, leadID string) (History, error) {
	h, err := m.get(ctx, leadID)
	if err != nil {
		return History{}, err
	}
	now := m.clock.Now()
	h.refresh(now)
	h.NextAction = nextAction(h.CurrentStatus, now.Sub(h.LastActivity))
	return h, nil
}

// CurrentStatus returns the lead's status, new when nothing was recorded.
func (m *Manager) CurrentStatus(ctx context.Context, leadID string) (Status, error) {
	h, _, err := m.load(ctx, leadID)
	if err != nil {
		return "", err
	}
	return h.CurrentStatus, nil
}

// GetNextAction evaluates the decision table against the time since last activity.
func (m *Manager) GetNextAction(ctx context.Context, leadID string) (NextAction, error) {
	h, err := m.get(ctx, leadID)
	if err != nil {
		return NextAction{}, err
	}
	return nextAction(h.CurrentStatus, m.clock.Now().Sub(h.LastActivity)), nil
}

// CalculateConversionProbability returns the estimate as of now.
func (m *Manager) CalculateConversionProbability(ctx context.Context, leadID string) (int, error) {
	h, err := m.get(ctx, leadID)
	if err != nil {
		return 0, err
	}
	return probability(h, m.clock.Now()), nil
}

func (m *Manager) all(ctx context.Context) ([]History, error) {
	out, err := kv.ScanJSON[History](ctx, m.store, historyPrefix)
	if err != nil {
		m.log.StoreError("leadstatus.scan", err)
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list lead statuses", err)
	}
	return out, nil
}

// GetLeadsNeedingAttention lists leads whose next action is not a wait action,
// highest priority first and then longest idle. Lost and unqualified leads are
// included with their closing action.
func (m *Manager) GetLeadsNeedingAttention(ctx context.Context) ([]AttentionItem, error) {
	all, err := m.all(ctx)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	items := make([]AttentionItem, 0, len(all))
	for _, h := range all {
		na := nextAction(h.CurrentStatus, now.Sub(h.LastActivity))
		if na.Wait {
			continue
		}
		items = append(items, AttentionItem{
			LeadID:       h.LeadID,
			Status:       h.CurrentStatus,
			Action:       na.Action,
			Priority:     na.Priority,
			LastActivity: h.LastActivity,
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if wi, wj := items[i].Priority.weight(), items[j].Priority.weight(); wi != wj {
			return wi < wj
		}
		if !items[i].LastActivity.Equal(items[j].LastActivity) {
			return items[i].LastActivity.Before(items[j].LastActivity)
		}
		return items[i].LeadID < items[j].LeadID
	})
	return items, nil
}

// ListByStatus returns the leads currently in status, ordered by lead id.
func (m *Manager) ListByStatus(ctx context.Context, status Status) ([]History, error) {
	if !status.Valid() {
		return nil, apperr.Validation("unknown lead status: " + string(status))
	}
	all, err := m.all(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]History, 0)
	for _, h := range all {
		if h.CurrentStatus == status {
			out = append(out, h)
		}
	}
	return out, nil
}

// CountByStatus returns how many leads sit in each status. Every status is present.
func (m *Manager) CountByStatus(ctx context.Context) (map[Status]int, error) {
	all, err := m.all(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[Status]int, len(baseProbability))
	for s := range baseProbability {
		counts[s] = 0
	}
	for _, h := range all {
		counts[h.CurrentStatus]++
	}
	return counts, nil
}

// AdvanceTo moves the lead to target only if target is further along the
// canonical path than its current status. Terminal leads are left alone.
// It reports whether a transition was recorded.
func (m *Manager) AdvanceTo(ctx context.Context, leadID string, target Status, updatedBy, reason string) (bool, error) {
	if target.Rank() < 0 {
		return false, apperr.Validation("status is not on the funnel path: " + string(target))
	}
	unlock := m.locks.Lock(leadID)
	defer unlock()

	h, _, err := m.load(ctx, leadID)
	if err != nil {
		return false, err
	}
	if h.CurrentStatus.Terminal() || target.Rank() <= h.CurrentStatus.Rank() {
		return false, nil
	}
	if _, err := m.apply(ctx, h, UpdateParams{LeadID: leadID, Status: target, UpdatedBy: updatedBy, Reason: reason}); err != nil {
		return false, err
	}
	return true, nil
}

// ListLeadIDs returns every lead with a status record, sorted.
func (m *Manager) ListLeadIDs(ctx context.Context) ([]string, error) {
	entries, err := m.store.Scan(ctx, historyPrefix)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list lead statuses", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, strings.TrimPrefix(e.Key, historyPrefix))
	}
	sort.Strings(ids)
	return ids, nil
}
