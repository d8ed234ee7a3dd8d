package conversions

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads"
	"leadflow_backend/internal/leadstatus"
	"leadflow_backend/internal/responses"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/clock"
	"leadflow_backend/platform/kv"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"
)

var testStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	tracker   *Tracker
	responses *responses.Tracker
	statuses  *leadstatus.Manager
	directory *leads.MemoryDirectory
	bus       *events.InMemoryBus
}

func newFixture(t *testing.T, model Model) fixture {
	t.Helper()
	return newFixtureWithStore(t, model, kv.NewMemoryStore())
}

func newFixtureWithStore(t *testing.T, model Model, store kv.Store) fixture {
	t.Helper()
	clk := clock.NewFake(testStart)
	log := logger.Discard()
	bus := events.NewInMemoryBus(log)
	val := validator.New()
	f := fixture{
		responses: responses.New(store, bus, clk, val, log),
		statuses:  leadstatus.New(store, bus, clk, log),
		directory: leads.NewMemoryDirectory(),
		bus:       bus,
	}
	f.tracker = New(Deps{
		Store:     store,
		Events:    f.responses,
		Statuses:  f.statuses,
		Directory: f.directory,
		Bus:       bus,
		Clock:     clk,
		Validator: val,
		Log:       log,
		Model:     model,
	})
	return f
}

func (f fixture) track(t *testing.T, lead, campaign string, typ responses.EventType, ago time.Duration) {
	t.Helper()
	_, err := f.responses.TrackEvent(context.Background(), responses.TrackParams{
		LeadID: lead, CampaignID: campaign, EventType: typ, Source: responses.SourceEmail, Timestamp: testStart.Add(-ago),
	})
	if err != nil {
		t.Fatalf("track %s: %v", typ, err)
	}
}

func TestConversionCreditsRecentTouchMore(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	f.track(t, "L1", "C1", responses.EventOpened, 10*24*time.Hour)
	f.track(t, "L1", "C2", responses.EventOpened, 24*time.Hour)

	conv, err := f.tracker.TrackConversion(ctx, TrackParams{LeadID: "L1", CampaignID: "C2", ConversionType: "subscription", Value: 1000})
	if err != nil {
		t.Fatalf("track conversion: %v", err)
	}
	attr := conv.Attribution
	if attr.Model != ModelLinear || len(attr.Touchpoints) != 2 {
		t.Fatalf("unexpected attribution: %+v", attr)
	}
	if attr.LastTouch == nil || attr.LastTouch.CampaignID != "C2" || attr.FirstTouch.CampaignID != "C1" {
		t.Fatalf("unexpected bounds: first=%+v last=%+v", attr.FirstTouch, attr.LastTouch)
	}
	older, recent := attr.Touchpoints[0], attr.Touchpoints[1]
	if recent.WeightedValue <= older.WeightedValue {
		t.Fatalf("recent share %.3f should exceed older %.3f", recent.WeightedValue, older.WeightedValue)
	}
	if sum := older.WeightedValue + recent.WeightedValue; math.Abs(sum-1) > 1e-9 {
		t.Fatalf("shares should sum to 1, got %f", sum)
	}
	if math.Abs(older.Credit+recent.Credit-1000) > 1e-6 {
		t.Fatalf("credits should sum to the value, got %f", older.Credit+recent.Credit)
	}

	status, _ := f.statuses.CurrentStatus(ctx, "L1")
	if status != leadstatus.StatusConverted {
		t.Fatalf("expected converted, got %s", status)
	}
}

func TestSingleTouchpointGetsFullShare(t *testing.T) {
	f := newFixture(t, ModelLinear)
	f.track(t, "L1", "C1", responses.EventClicked, 45*24*time.Hour)

	conv, err := f.tracker.TrackConversion(context.Background(), TrackParams{LeadID: "L1", CampaignID: "C1", ConversionType: "demo", Value: 250})
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	tp := conv.Attribution.Touchpoints[0]
	if tp.WeightedValue != 1.0 || tp.Credit != 250 {
		t.Fatalf("expected full share, got %+v", tp)
	}
	// 45 days old decays to the floor
	if want := 10 * decayFloor; math.Abs(tp.Weight-want) > 1e-9 {
		t.Fatalf("expected floored weight %f, got %f", want, tp.Weight)
	}
}

func TestConvertedAndFutureEventsAreNotTouchpoints(t *testing.T) {
	evts := []responses.Event{
		{ID: "a", Type: responses.EventSent, Timestamp: testStart.Add(-time.Hour)},
		{ID: "b", Type: responses.EventConverted, Timestamp: testStart.Add(-time.Minute)},
		{ID: "c", Type: responses.EventOpened, Timestamp: testStart.Add(time.Hour)},
	}
	attr := attribute(evts, testStart, 10, ModelLinear)
	if len(attr.Touchpoints) != 1 || attr.Touchpoints[0].EventID != "a" {
		t.Fatalf("unexpected touchpoints: %+v", attr.Touchpoints)
	}
}

func TestAttributionModels(t *testing.T) {
	evts := []responses.Event{
		{ID: "a", CampaignID: "C1", Type: responses.EventSent, Timestamp: testStart.Add(-72 * time.Hour)},
		{ID: "b", CampaignID: "C1", Type: responses.EventOpened, Timestamp: testStart.Add(-48 * time.Hour)},
		{ID: "c", CampaignID: "C2", Type: responses.EventReplied, Timestamp: testStart.Add(-24 * time.Hour)},
		{ID: "d", CampaignID: "C3", Type: responses.EventClicked, Timestamp: testStart.Add(-12 * time.Hour)},
	}
	cases := []struct {
		model Model
		want  []float64
	}{
		{ModelEven, []float64{0.25, 0.25, 0.25, 0.25}},
		{ModelFirstTouch, []float64{1, 0, 0, 0}},
		{ModelLastTouch, []float64{0, 0, 0, 1}},
	}
	for _, tc := range cases {
		t.Run(string(tc.model), func(t *testing.T) {
			attr := attribute(evts, testStart, 100, tc.model)
			for i, w := range tc.want {
				if math.Abs(attr.Touchpoints[i].WeightedValue-w) > 1e-9 {
					t.Fatalf("touchpoint %d: want %.2f, got %.4f", i, w, attr.Touchpoints[i].WeightedValue)
				}
			}
		})
	}

	attr := attribute(evts, testStart, 100, ModelLinear)
	if first, last, assisted := role(attr, "C2"); first || last || !assisted {
		t.Fatalf("C2 should be assisted, got first=%v last=%v assisted=%v", first, last, assisted)
	}
	if first, _, _ := role(attr, "C1"); !first {
		t.Fatalf("C1 should be first touch")
	}
	if _, last, _ := role(attr, "C3"); !last {
		t.Fatalf("C3 should be last touch")
	}
	if ParseModel("bogus") != ModelLinear {
		t.Fatalf("unknown model should fall back to linear")
	}
}

func TestCampaignAttributionTotals(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	for _, lead := range []string{"L1", "L2", "L3", "L4"} {
		_ = f.directory.AddToCampaign(ctx, "C1", lead)
	}
	f.track(t, "L1", "C1", responses.EventOpened, 48*time.Hour)
	f.track(t, "L2", "C0", responses.EventOpened, 72*time.Hour)
	f.track(t, "L2", "C1", responses.EventOpened, 48*time.Hour)

	_, _ = f.tracker.TrackConversion(ctx, TrackParams{LeadID: "L1", CampaignID: "C1", ConversionType: "sale", Value: 300})
	_, _ = f.tracker.TrackConversion(ctx, TrackParams{LeadID: "L2", CampaignID: "C1", ConversionType: "sale", Value: 100})

	ca, err := f.tracker.GetCampaignAttribution(ctx, "C1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ca.TotalConversions != 2 || ca.TotalRevenue != 400 || ca.AverageValue != 200 {
		t.Fatalf("unexpected totals: %+v", ca)
	}
	if ca.FirstTouchConversions != 1 || ca.LastTouchConversions != 2 || ca.AssistedConversions != 0 {
		t.Fatalf("unexpected touch counts: %+v", ca)
	}
	if ca.TotalLeads != 4 || ca.ConversionRate != 50 {
		t.Fatalf("expected 50%% of 4 leads, got %+v", ca)
	}

	convs, _ := f.tracker.GetLeadConversions(ctx, "L2")
	if len(convs) != 1 || convs[0].Value != 100 {
		t.Fatalf("unexpected lead conversions: %+v", convs)
	}
	st, _ := f.tracker.GetConversionStats(ctx)
	if st.TotalConversions != 2 || st.ConvertedLeads != 2 || st.ByType["sale"] != 2 || st.AvgTouchpoints != 1.5 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestZeroLeadCampaignHasZeroRate(t *testing.T) {
	f := newFixture(t, "")
	ca, err := f.tracker.TrackConversion(context.Background(), TrackParams{LeadID: "L9", CampaignID: "C9", ConversionType: "sale", Value: 50})
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	got, _ := f.tracker.GetCampaignAttribution(context.Background(), ca.CampaignID)
	if got.ConversionRate != 0 || got.TotalLeads != 0 {
		t.Fatalf("expected zero rate, got %+v", got)
	}
	if len(ca.Attribution.Touchpoints) != 0 || ca.Attribution.LastTouch != nil {
		t.Fatalf("expected empty attribution, got %+v", ca.Attribution)
	}
}

func TestTrackConversionValidation(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	bad := []TrackParams{
		{CampaignID: "C1", ConversionType: "sale"},
		{LeadID: "L1", ConversionType: "sale"},
		{LeadID: "L1", CampaignID: "C1"},
		{LeadID: "L1", CampaignID: "C1", ConversionType: "sale", Value: -1},
	}
	for i, p := range bad {
		if _, err := f.tracker.TrackConversion(ctx, p); !apperr.Is(err, apperr.KindValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
	if _, err := f.tracker.GetCampaignAttribution(ctx, "C1"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("rejected conversions must not be stored, got %v", err)
	}
}

func TestFunnelIsCumulative(t *testing.T) {
	counts := map[leadstatus.Status]int{
		leadstatus.StatusNew:        4,
		leadstatus.StatusContacted:  3,
		leadstatus.StatusInterested: 2,
		leadstatus.StatusConverted:  1,
		leadstatus.StatusLost:       5,
	}
	f := buildFunnel(counts)
	if f.TotalLeads != 15 || f.Lost != 5 {
		t.Fatalf("unexpected totals: %+v", f)
	}
	if f.Stages[0].Reached != 10 || f.Stages[1].Reached != 6 {
		t.Fatalf("unexpected reached counts: %+v", f.Stages[:2])
	}
	if last := f.Stages[len(f.Stages)-1]; last.Status != leadstatus.StatusConverted || last.Reached != 1 {
		t.Fatalf("unexpected last stage: %+v", last)
	}
	if f.Stages[1].RateFromPrevious != 60 {
		t.Fatalf("expected 60%% new→contacted, got %f", f.Stages[1].RateFromPrevious)
	}
	for i := 1; i < len(f.Stages); i++ {
		if f.Stages[i].Reached > f.Stages[i-1].Reached {
			t.Fatalf("funnel must not widen at %s", f.Stages[i].Status)
		}
	}
}

func TestLiveFunnelReadsStatuses(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	_, _ = f.statuses.UpdateLeadStatus(ctx, leadstatus.UpdateParams{LeadID: "L1", Status: leadstatus.StatusContacted})
	_, _ = f.statuses.UpdateLeadStatus(ctx, leadstatus.UpdateParams{LeadID: "L2", Status: leadstatus.StatusNegotiating})

	funnel, err := f.tracker.GetConversionFunnel(ctx)
	if err != nil {
		t.Fatalf("funnel: %v", err)
	}
	if funnel.TotalLeads != 2 || funnel.Stages[1].Reached != 2 || funnel.ConversionRate != 0 {
		t.Fatalf("unexpected funnel: %+v", funnel)
	}
}

func TestLinearSharesFollowDecayedWeight(t *testing.T) {
	f := newFixture(t, ModelLinear)
	f.track(t, "L1", "C1", responses.EventOpened, 10*24*time.Hour)
	f.track(t, "L1", "C1", responses.EventOpened, 24*time.Hour)

	conv, err := f.tracker.TrackConversion(context.Background(), TrackParams{LeadID: "L1", CampaignID: "C1", ConversionType: "sale", Value: 100})
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	older, recent := conv.Attribution.Touchpoints[0], conv.Attribution.Touchpoints[1]
	// opened weighs 5: 5*(1-10/30) and 5*(1-1/30)
	wantOlder := 5 * (1 - 10.0/30) / (5*(1-10.0/30) + 5*(1-1.0/30))
	if math.Abs(older.WeightedValue-wantOlder) > 1e-9 || math.Abs(recent.WeightedValue-(1-wantOlder)) > 1e-9 {
		t.Fatalf("shares should follow weights, got %.3f and %.3f", older.WeightedValue, recent.WeightedValue)
	}

	even := attribute([]responses.Event{
		{ID: "a", Type: responses.EventOpened, Timestamp: testStart.Add(-240 * time.Hour)},
		{ID: "b", Type: responses.EventOpened, Timestamp: testStart.Add(-24 * time.Hour)},
	}, testStart, 100, ModelEven)
	if even.Touchpoints[0].WeightedValue != 0.5 || even.Touchpoints[1].WeightedValue != 0.5 {
		t.Fatalf("even model should split equally, got %+v", even.Touchpoints)
	}
	if ParseModel("") != ModelLinear {
		t.Fatalf("default model should be linear")
	}
}

func TestConvertingTouchpointIsMarked(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	for _, p := range []responses.TrackParams{
		{LeadID: "L1", CampaignID: "C1", MessageID: "M1", EventType: responses.EventOpened, Source: responses.SourceEmail, Timestamp: testStart.Add(-72 * time.Hour)},
		{LeadID: "L1", CampaignID: "C1", MessageID: "M2", EventType: responses.EventOpened, Source: responses.SourceEmail, Timestamp: testStart.Add(-48 * time.Hour)},
		{LeadID: "L1", CampaignID: "C2", MessageID: "M3", EventType: responses.EventClicked, Source: responses.SourceEmail, Timestamp: testStart.Add(-24 * time.Hour)},
	} {
		if _, err := f.responses.TrackEvent(ctx, p); err != nil {
			t.Fatalf("track event: %v", err)
		}
	}

	attr, err := f.tracker.CalculateAttribution(ctx, "L1", "C1", "M1", 100, testStart)
	if err != nil {
		t.Fatalf("attribution: %v", err)
	}
	if !attr.Touchpoints[0].Converting || attr.Touchpoints[1].Converting || attr.Touchpoints[2].Converting {
		t.Fatalf("message M1 should be the converting touch: %+v", attr.Touchpoints)
	}
	if !attr.FirstTouch.Converting {
		t.Fatalf("first touch copy should carry the mark")
	}

	attr, _ = f.tracker.CalculateAttribution(ctx, "L1", "C1", "", 100, testStart)
	if !attr.Touchpoints[1].Converting || attr.Touchpoints[0].Converting {
		t.Fatalf("latest C1 touch should be converting: %+v", attr.Touchpoints)
	}
	attr, _ = f.tracker.CalculateAttribution(ctx, "L1", "C9", "", 100, testStart)
	for _, tp := range attr.Touchpoints {
		if tp.Converting {
			t.Fatalf("unknown campaign should mark nothing: %+v", attr.Touchpoints)
		}
	}
}

// recordFailingStore refuses to write conversion records.
type recordFailingStore struct {
	kv.Store
}

func (s recordFailingStore) Set(ctx context.Context, key string, value []byte) error {
	if strings.HasPrefix(key, conversionPrefix) {
		return errors.New("disk full")
	}
	return s.Store.Set(ctx, key, value)
}

func TestFailedStoreLeavesNoCampaignTotals(t *testing.T) {
	f := newFixtureWithStore(t, "", recordFailingStore{Store: kv.NewMemoryStore()})
	ctx := context.Background()
	f.track(t, "L1", "C1", responses.EventOpened, 24*time.Hour)

	if _, err := f.tracker.TrackConversion(ctx, TrackParams{LeadID: "L1", CampaignID: "C1", ConversionType: "sale", Value: 100}); !apperr.Is(err, apperr.KindInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	if _, err := f.tracker.GetCampaignAttribution(ctx, "C1"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("campaign totals should be rolled back, got %v", err)
	}
	if status, _ := f.statuses.CurrentStatus(ctx, "L1"); status == leadstatus.StatusConverted {
		t.Fatalf("lead must not be converted when the record was not stored")
	}
}
