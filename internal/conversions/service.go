package conversions

import (
	"context"
	"sort"
	"strings"
	"time"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads"
	"leadflow_backend/internal/leadstatus"
	"leadflow_backend/internal/metrics"
	"leadflow_backend/internal/responses"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/clock"
	"leadflow_backend/platform/keylock"
	"leadflow_backend/platform/kv"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"

	"github.com/google/uuid"
)

const (
	conversionPrefix = "conversions:record:"
	leadIndexPrefix  = "conversions:lead:"
	campaignPrefix   = "conversions:campaign:"
)

// UpdatedByConversions marks the converted transition in the lead history.
const UpdatedByConversions = "conversion_tracker"

// EventSource reads a lead's engagement log.
type EventSource interface {
	GetLeadEvents(ctx context.Context, leadID string) ([]responses.Event, error)
}

// StatusManager is the slice of the lead status manager conversions need.
type StatusManager interface {
	UpdateLeadStatus(ctx context.Context, p leadstatus.UpdateParams) (leadstatus.History, error)
	CountByStatus(ctx context.Context) (map[leadstatus.Status]int, error)
}

// Deps are the collaborators of a Tracker.
type Deps struct {
	Store     kv.Store
	Events    EventSource
	Statuses  StatusManager
	Directory leads.Directory
	Bus       events.Bus
	Clock     clock.Clock
	Validator *validator.Validator
	Log       *logger.Logger
	Model     Model
}

// Tracker records conversions and their attribution.
type Tracker struct {
	store     kv.Store
	events    EventSource
	statuses  StatusManager
	directory leads.Directory
	bus       events.Bus
	clock     clock.Clock
	val       *validator.Validator
	log       *logger.Logger
	metrics   *metrics.Metrics
	locks     *keylock.Locker
	model     Model
}

// New creates a conversion tracker. An empty model means linear.
func New(deps Deps) *Tracker {
	return &Tracker{
		store:     deps.Store,
		events:    deps.Events,
		statuses:  deps.Statuses,
		directory: deps.Directory,
		bus:       deps.Bus,
		clock:     deps.Clock,
		val:       deps.Validator,
		log:       deps.Log,
		locks:     keylock.New(),
		model:     ParseModel(string(deps.Model)),
	}
}

// SetMetrics attaches Prometheus collectors.
func (t *Tracker) SetMetrics(m *metrics.Metrics) {
	t.metrics = m
}

// Model reports the attribution model applied to new conversions.
func (t *Tracker) Model() Model {
	return t.model
}

// TrackConversion attributes the conversion, stores it, updates the lead index
// and the campaign totals, and marks the lead converted.
func (t *Tracker) TrackConversion(ctx context.Context, p TrackParams) (Conversion, error) {
	p.LeadID = strings.TrimSpace(p.LeadID)
	p.CampaignID = strings.TrimSpace(p.CampaignID)
	p.ConversionType = strings.TrimSpace(p.ConversionType)
	if err := t.val.Struct(p); err != nil {
		return Conversion{}, apperr.Validation(validator.Summary(err)).WithOp("conversions.TrackConversion")
	}

	now := t.clock.Now()
	attr, err := t.CalculateAttribution(ctx, p.LeadID, p.CampaignID, p.MessageID, p.Value, now)
	if err != nil {
		return Conversion{}, err
	}
	conv := Conversion{
		ID:             uuid.NewString(),
		LeadID:         p.LeadID,
		CampaignID:     p.CampaignID,
		MessageID:      p.MessageID,
		ConversionType: p.ConversionType,
		Value:          p.Value,
		Metadata:       p.Metadata,
		Attribution:    attr,
		CreatedAt:      now,
	}

	// Campaign totals first: a conversion is only stored once it is counted.
	if _, err := t.UpdateCampaignAttribution(ctx, conv); err != nil {
		return Conversion{}, err
	}
	if err := t.save(ctx, conv); err != nil {
		if _, rerr := t.applyCampaign(ctx, conv, -1); rerr != nil {
			t.log.StoreError("conversions.campaign_rollback", rerr)
		}
		return Conversion{}, err
	}

	if _, err := t.statuses.UpdateLeadStatus(ctx, leadstatus.UpdateParams{
		LeadID:    conv.LeadID,
		Status:    leadstatus.StatusConverted,
		UpdatedBy: UpdatedByConversions,
		Reason:    "conversion: " + conv.ConversionType,
		Metadata:  map[string]any{"conversionId": conv.ID, "value": conv.Value, "campaignId": conv.CampaignID},
	}); err != nil {
		return Conversion{}, err
	}

	t.metrics.ConversionRecorded(conv.ConversionType, conv.Value)
	t.bus.Publish(ctx, events.ConversionRecorded{
		BaseEvent:      events.NewBaseEvent(now),
		ConversionID:   conv.ID,
		LeadID:         conv.LeadID,
		CampaignID:     conv.CampaignID,
		ConversionType: conv.ConversionType,
		Value:          conv.Value,
		Touchpoints:    len(attr.Touchpoints),
	})
	t.log.Info("conversion tracked", "leadId", conv.LeadID, "campaignId", conv.CampaignID,
		"type", conv.ConversionType, "value", conv.Value, "touchpoints", len(attr.Touchpoints))
	return conv, nil
}

func (t *Tracker) save(ctx context.Context, conv Conversion) error {
	unlock := t.locks.Lock("lead:" + conv.LeadID)
	defer unlock()

	if err := kv.PutJSON(ctx, t.store, conversionPrefix+conv.ID, conv); err != nil {
		t.log.StoreError("conversions.store", err)
		return apperr.Wrap(apperr.KindInternal, "failed to store conversion", err)
	}
	ids, err := kv.GetJSON[[]string](ctx, t.store, leadIndexPrefix+conv.LeadID)
	if err == nil || kv.IsNotFound(err) {
		err = kv.PutJSON(ctx, t.store, leadIndexPrefix+conv.LeadID, append(ids, conv.ID))
	}
	if err != nil {
		t.log.StoreError("conversions.lead_index", err)
		_ = t.store.Delete(ctx, conversionPrefix+conv.ID)
		return apperr.Wrap(apperr.KindInternal, "failed to store lead conversions", err)
	}
	return nil
}

// CalculateAttribution splits value across the lead's touchpoints up to at,
// using the tracker's model, and marks the touchpoint of campaignID/messageID
// as the converting one.
func (t *Tracker) CalculateAttribution(ctx context.Context, leadID, campaignID, messageID string, value float64, at time.Time) (Attribution, error) {
	evts, err := t.events.GetLeadEvents(ctx, leadID)
	if err != nil {
		return Attribution{}, apperr.Wrap(apperr.KindInternal, "failed to load lead events", err)
	}
	attr := attribute(evts, at, value, t.model)
	markConverting(&attr, campaignID, messageID)
	return attr, nil
}

// UpdateCampaignAttribution folds conv into its campaign's totals.
func (t *Tracker) UpdateCampaignAttribution(ctx context.Context, conv Conversion) (CampaignAttribution, error) {
	return t.applyCampaign(ctx, conv, 1)
}

// applyCampaign adds (sign 1) or removes (sign -1) conv from its campaign's
// totals. A campaign left without conversions is deleted.
func (t *Tracker) applyCampaign(ctx context.Context, conv Conversion, sign int) (CampaignAttribution, error) {
	unlock := t.locks.Lock("campaign:" + conv.CampaignID)
	defer unlock()

	key := campaignPrefix + conv.CampaignID
	ca, err := kv.GetJSON[CampaignAttribution](ctx, t.store, key)
	if err != nil && !kv.IsNotFound(err) {
		return CampaignAttribution{}, apperr.Wrap(apperr.KindInternal, "failed to load campaign attribution", err)
	}
	ca.CampaignID = conv.CampaignID
	ca.TotalConversions += sign
	ca.TotalRevenue += float64(sign) * conv.Value
	ca.AttributedRevenue += float64(sign) * creditFor(conv.Attribution, conv.CampaignID)

	first, last, assisted := role(conv.Attribution, conv.CampaignID)
	if first {
		ca.FirstTouchConversions += sign
	}
	if last {
		ca.LastTouchConversions += sign
	}
	if assisted {
		ca.AssistedConversions += sign
	}

	if ca.TotalConversions <= 0 {
		if err := t.store.Delete(ctx, key); err != nil {
			return CampaignAttribution{}, apperr.Wrap(apperr.KindInternal, "failed to delete campaign attribution", err)
		}
		return CampaignAttribution{CampaignID: conv.CampaignID}, nil
	}

	total := 0
	if t.directory != nil {
		total, err = t.directory.CountLeadsForCampaign(ctx, conv.CampaignID)
		if err != nil {
			t.log.Warn("campaign lead count unavailable", "campaignId", conv.CampaignID, "error", err)
			total = ca.TotalLeads
		}
	}
	ca.TotalLeads = total
	ca.ConversionRate = percent(float64(ca.TotalConversions), float64(total))
	ca.AverageValue = ca.TotalRevenue / float64(ca.TotalConversions)
	ca.LastUpdated = t.clock.Now()

	if err := kv.PutJSON(ctx, t.store, key, ca); err != nil {
		t.log.StoreError("conversions.campaign", err)
		return CampaignAttribution{}, apperr.Wrap(apperr.KindInternal, "failed to store campaign attribution", err)
	}
	return ca, nil
}

// GetConversion loads a conversion by id.
func (t *Tracker) GetConversion(ctx context.Context, id string) (Conversion, error) {
	conv, err := kv.GetJSON[Conversion](ctx, t.store, conversionPrefix+id)
	if kv.IsNotFound(err) {
		return Conversion{}, apperr.NotFound("conversion not found")
	}
	if err != nil {
		return Conversion{}, apperr.Wrap(apperr.KindInternal, "failed to load conversion", err)
	}
	return conv, nil
}

// GetLeadConversions returns the lead's conversions in the order they were tracked.
func (t *Tracker) GetLeadConversions(ctx context.Context, leadID string) ([]Conversion, error) {
	ids, err := kv.GetJSON[[]string](ctx, t.store, leadIndexPrefix+leadID)
	if kv.IsNotFound(err) {
		return []Conversion{}, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load lead conversions", err)
	}
	out := make([]Conversion, 0, len(ids))
	for _, id := range ids {
		conv, err := t.GetConversion(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, nil
}

// GetCampaignAttribution returns the campaign totals, or NotFound before its first conversion.
func (t *Tracker) GetCampaignAttribution(ctx context.Context, campaignID string) (CampaignAttribution, error) {
	ca, err := kv.GetJSON[CampaignAttribution](ctx, t.store, campaignPrefix+campaignID)
	if kv.IsNotFound(err) {
		return CampaignAttribution{}, apperr.NotFound("campaign has no conversions")
	}
	if err != nil {
		return CampaignAttribution{}, apperr.Wrap(apperr.KindInternal, "failed to load campaign attribution", err)
	}
	return ca, nil
}

// ListCampaignAttributions returns every campaign with conversions, by revenue.
func (t *Tracker) ListCampaignAttributions(ctx context.Context) ([]CampaignAttribution, error) {
	out, err := kv.ScanJSON[CampaignAttribution](ctx, t.store, campaignPrefix)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list campaign attributions", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalRevenue != out[j].TotalRevenue {
			return out[i].TotalRevenue > out[j].TotalRevenue
		}
		return out[i].CampaignID < out[j].CampaignID
	})
	return out, nil
}

// GetConversionFunnel returns cumulative stage counts along the canonical
// path from the current per-status lead counts.
func (t *Tracker) GetConversionFunnel(ctx context.Context) (Funnel, error) {
	counts, err := t.statuses.CountByStatus(ctx)
	if err != nil {
		return Funnel{}, err
	}
	return buildFunnel(counts), nil
}

func buildFunnel(counts map[leadstatus.Status]int) Funnel {
	path := leadstatus.CanonicalPath
	f := Funnel{
		Stages:      make([]FunnelStage, len(path)),
		Lost:        counts[leadstatus.StatusLost],
		Unqualified: counts[leadstatus.StatusUnqualified],
	}
	for _, n := range counts {
		f.TotalLeads += n
	}

	reached := 0
	for i := len(path) - 1; i >= 0; i-- {
		reached += counts[path[i]]
		f.Stages[i] = FunnelStage{Status: path[i], Current: counts[path[i]], Reached: reached}
	}
	for i := 1; i < len(f.Stages); i++ {
		f.Stages[i].RateFromPrevious = percent(float64(f.Stages[i].Reached), float64(f.Stages[i-1].Reached))
	}
	if len(f.Stages) > 0 {
		f.Stages[0].RateFromPrevious = 100
		if f.Stages[0].Reached == 0 {
			f.Stages[0].RateFromPrevious = 0
		}
	}
	f.ConversionRate = percent(float64(counts[leadstatus.StatusConverted]), float64(f.TotalLeads))
	return f
}

// GetConversionStats summarizes every stored conversion.
func (t *Tracker) GetConversionStats(ctx context.Context) (Stats, error) {
	all, err := kv.ScanJSON[Conversion](ctx, t.store, conversionPrefix)
	if err != nil {
		return Stats{}, apperr.Wrap(apperr.KindInternal, "failed to list conversions", err)
	}
	st := Stats{ByType: map[string]int{}, RevenueByType: map[string]float64{}}
	leadsSeen := map[string]struct{}{}
	touchpoints := 0
	for _, c := range all {
		st.TotalConversions++
		st.TotalRevenue += c.Value
		st.ByType[c.ConversionType]++
		st.RevenueByType[c.ConversionType] += c.Value
		leadsSeen[c.LeadID] = struct{}{}
		touchpoints += len(c.Attribution.Touchpoints)
	}
	st.ConvertedLeads = len(leadsSeen)
	if st.TotalConversions > 0 {
		st.AverageValue = st.TotalRevenue / float64(st.TotalConversions)
		st.AvgTouchpoints = float64(touchpoints) / float64(st.TotalConversions)
	}
	return st, nil
}
