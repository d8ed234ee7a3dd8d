package leadstatus

import (
	"context"
	"sync"
	"testing"
	"time"

	"leadflow_backend/internal/events"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/clock"
	"leadflow_backend/platform/kv"
	"leadflow_backend/platform/logger"
)

var testStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T) (*Manager, *clock.Fake, *events.InMemoryBus) {
	t.Helper()
	clk := clock.NewFake(testStart)
	bus := events.NewInMemoryBus(logger.Discard())
	return New(kv.NewMemoryStore(), bus, clk, logger.Discard()), clk, bus
}

func TestUpdateAppendsHistory(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	for _, s := range []Status{StatusContacted, StatusOpened, StatusReplied} {
		if _, err := m.UpdateLeadStatus(ctx, UpdateParams{LeadID: "L1", Status: s, UpdatedBy: "test"}); err != nil {
			t.Fatalf("update %s: %v", s, err)
		}
	}
	h, err := m.GetHistory(ctx, "L1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(h.StatusHistory) != 3 {
		t.Fatalf("expected 3 transitions, got %d", len(h.StatusHistory))
	}
	if h.CurrentStatus != StatusReplied {
		t.Fatalf("expected replied, got %s", h.CurrentStatus)
	}
	if h.StatusHistory[0].FromStatus != StatusNew {
		t.Fatalf("first transition must start from new, got %s", h.StatusHistory[0].FromStatus)
	}
	if h.StatusHistory[2].FromStatus != StatusOpened {
		t.Fatalf("expected opened as prior state, got %s", h.StatusHistory[2].FromStatus)
	}
}

func TestUpdateRejectsUnknownStatus(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.UpdateLeadStatus(context.Background(), UpdateParams{LeadID: "L1", Status: "ghosted"})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := m.GetHistory(context.Background(), "L1"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("rejected update must not create a record, got %v", err)
	}
}

func TestAnyTransitionIsAllowed(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	_, _ = m.UpdateLeadStatus(ctx, UpdateParams{LeadID: "L1", Status: StatusConverted})
	h, err := m.UpdateLeadStatus(ctx, UpdateParams{LeadID: "L1", Status: StatusContacted})
	if err != nil {
		t.Fatalf("regression must be allowed through the explicit operation: %v", err)
	}
	if h.CurrentStatus != StatusContacted {
		t.Fatalf("expected contacted, got %s", h.CurrentStatus)
	}
}

func TestProbabilityNonDecreasingAlongCanonicalPath(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	prev := -1
	for _, s := range CanonicalPath[1:] {
		h, err := m.UpdateLeadStatus(ctx, UpdateParams{LeadID: "L1", Status: s})
		if err != nil {
			t.Fatalf("update %s: %v", s, err)
		}
		if h.ConversionProbability < prev {
			t.Fatalf("probability dropped at %s: %d < %d", s, h.ConversionProbability, prev)
		}
		if h.ConversionProbability < 0 || h.ConversionProbability > 100 {
			t.Fatalf("probability out of range: %d", h.ConversionProbability)
		}
		prev = h.ConversionProbability
	}
	if prev != 100 {
		t.Fatalf("expected converted lead at 100, got %d", prev)
	}
}

func TestProbabilityAdjustments(t *testing.T) {
	m, clk, _ := newTestManager(t)
	ctx := context.Background()

	_, _ = m.UpdateLeadStatus(ctx, UpdateParams{LeadID: "L1", Status: StatusContacted})
	if p, _ := m.CalculateConversionProbability(ctx, "L1"); p != 10 {
		t.Fatalf("expected base 10, got %d", p)
	}

	for i := 0; i < 5; i++ {
		_, _ = m.UpdateLeadStatus(ctx, UpdateParams{LeadID: "L1", Status: StatusContacted})
	}
	if p, _ := m.CalculateConversionProbability(ctx, "L1"); p != 20 {
		t.Fatalf("expected 10+10 after 6 transitions, got %d", p)
	}

	for i := 0; i < 5; i++ {
		_, _ = m.UpdateLeadStatus(ctx, UpdateParams{LeadID: "L1", Status: StatusContacted})
	}
	if p, _ := m.CalculateConversionProbability(ctx, "L1"); p != 35 {
		t.Fatalf("expected 10+10+15 after 11 transitions, got %d", p)
	}

	clk.Advance(8 * 24 * time.Hour)
	if p, _ := m.CalculateConversionProbability(ctx, "L1"); p != 25 {
		t.Fatalf("expected long funnel penalty, got %d", p)
	}

	_, _ = m.UpdateLeadStatus(ctx, UpdateParams{LeadID: "L2", Status: StatusLost})
	clk.Advance(10 * 24 * time.Hour)
	if p, _ := m.CalculateConversionProbability(ctx, "L2"); p != 0 {
		t.Fatalf("lost lead must stay at 0, got %d", p)
	}
}

func TestNextActionThresholds(t *testing.T) {
	cases := []struct {
		status Status
		idle   time.Duration
		action string
		wait   bool
	}{
		{StatusNew, 0, "send initial outreach", false},
		{StatusContacted, time.Hour, "wait for response", true},
		{StatusContacted, 25 * time.Hour, "send follow-up", false},
		{StatusDemoScheduled, 47 * time.Hour, "wait for demo", true},
		{StatusDemoScheduled, 49 * time.Hour, "send demo reminder", false},
		{StatusProposalSent, 73 * time.Hour, "follow up on proposal", false},
		{StatusConverted, 0, "onboard customer", false},
		{StatusLost, 0, "no further action", false},
		{StatusUnqualified, 0, "remove from campaigns", false},
	}
	for _, tc := range cases {
		got := nextAction(tc.status, tc.idle)
		if got.Action != tc.action || got.Wait != tc.wait {
			t.Errorf("%s after %v: got %+v, want %q wait=%v", tc.status, tc.idle, got, tc.action, tc.wait)
		}
	}
}

func TestPriorityKeywords(t *testing.T) {
	if p := priorityFor("send proposal"); p != PriorityHigh {
		t.Fatalf("expected high, got %s", p)
	}
	if p := priorityFor("send follow-up"); p != PriorityMedium {
		t.Fatalf("expected medium, got %s", p)
	}
	if p := priorityFor("onboard customer"); p != PriorityLow {
		t.Fatalf("expected low, got %s", p)
	}
}

func TestLeadsNeedingAttention(t *testing.T) {
	m, clk, _ := newTestManager(t)
	ctx := context.Background()

	_, _ = m.UpdateLeadStatus(ctx, UpdateParams{LeadID: "waiting", Status: StatusContacted})
	_, _ = m.UpdateLeadStatus(ctx, UpdateParams{LeadID: "stale", Status: StatusContacted})
	_, _ = m.UpdateLeadStatus(ctx, UpdateParams{LeadID: "demo", Status: StatusDemoCompleted})
	_, _ = m.UpdateLeadStatus(ctx, UpdateParams{LeadID: "gone", Status: StatusLost})
	_, _ = m.UpdateLeadStatus(ctx, UpdateParams{LeadID: "junk", Status: StatusUnqualified})
	clk.Advance(30 * time.Hour)
	_, _ = m.UpdateLeadStatus(ctx, UpdateParams{LeadID: "waiting", Status: StatusContacted})

	items, err := m.GetLeadsNeedingAttention(ctx)
	if err != nil {
		t.Fatalf("attention: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("expected 4 items, got %+v", items)
	}
	if items[0].LeadID != "demo" || items[0].Priority != PriorityHigh {
		t.Fatalf("expected demo first, got %+v", items[0])
	}
	if items[1].LeadID != "stale" || items[1].Action != "send follow-up" {
		t.Fatalf("expected stale follow-up second, got %+v", items[1])
	}
	// closing actions are not waits, so terminal leads still show up last
	if items[2].LeadID != "gone" || items[2].Action != "no further action" || items[2].Priority != PriorityLow {
		t.Fatalf("expected lost lead third, got %+v", items[2])
	}
	if items[3].LeadID != "junk" || items[3].Action != "remove from campaigns" {
		t.Fatalf("expected unqualified lead last, got %+v", items[3])
	}
}

func TestCountAndListByStatus(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, _ = m.UpdateLeadStatus(ctx, UpdateParams{LeadID: "L1", Status: StatusOpened})
	_, _ = m.UpdateLeadStatus(ctx, UpdateParams{LeadID: "L2", Status: StatusOpened})
	_, _ = m.UpdateLeadStatus(ctx, UpdateParams{LeadID: "L3", Status: StatusConverted})

	counts, err := m.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[StatusOpened] != 2 || counts[StatusConverted] != 1 || counts[StatusNew] != 0 {
		t.Fatalf("unexpected counts: %v", counts)
	}
	if len(counts) != 13 {
		t.Fatalf("expected every status present, got %d", len(counts))
	}
	opened, _ := m.ListByStatus(ctx, StatusOpened)
	if len(opened) != 2 || opened[0].LeadID != "L1" {
		t.Fatalf("unexpected opened leads: %+v", opened)
	}
}

func TestEngagementAdvancesWithoutRegressing(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_ = m.HandleResponseEvent(ctx, events.ResponseTracked{LeadID: "L1", EventType: "clicked", Source: "email"})
	_ = m.HandleResponseEvent(ctx, events.ResponseTracked{LeadID: "L1", EventType: "opened", Source: "email"})

	h, err := m.GetHistory(ctx, "L1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if h.CurrentStatus != StatusClicked || len(h.StatusHistory) != 1 {
		t.Fatalf("expected single advance to clicked, got %s with %d transitions", h.CurrentStatus, len(h.StatusHistory))
	}
	if h.StatusHistory[0].UpdatedBy != UpdatedByEngagement {
		t.Fatalf("unexpected updatedBy %q", h.StatusHistory[0].UpdatedBy)
	}

	_, _ = m.UpdateLeadStatus(ctx, UpdateParams{LeadID: "L1", Status: StatusLost})
	_ = m.HandleResponseEvent(ctx, events.ResponseTracked{LeadID: "L1", EventType: "replied", Source: "sms"})
	if s, _ := m.CurrentStatus(ctx, "L1"); s != StatusLost {
		t.Fatalf("terminal lead must not move, got %s", s)
	}
}

func TestConcurrentUpdatesKeepEveryTransition(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.UpdateLeadStatus(ctx, UpdateParams{LeadID: "L1", Status: StatusContacted})
		}()
	}
	wg.Wait()
	h, _ := m.GetHistory(ctx, "L1")
	if len(h.StatusHistory) != 40 {
		t.Fatalf("expected 40 transitions, got %d", len(h.StatusHistory))
	}
}

func TestUpdatePublishesStatusChanged(t *testing.T) {
	m, _, bus := newTestManager(t)
	ctx := context.Background()

	var mu sync.Mutex
	var got []events.LeadStatusChanged
	bus.Subscribe(events.LeadStatusChanged{}.EventName(), events.HandlerFunc(func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.(events.LeadStatusChanged))
		return nil
	}))

	_, _ = m.UpdateLeadStatus(ctx, UpdateParams{LeadID: "L1", Status: StatusInterested, UpdatedBy: "rule"})
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].FromStatus != "new" || got[0].ToStatus != "interested" {
		t.Fatalf("unexpected events: %+v", got)
	}
}
