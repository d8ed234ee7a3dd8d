package responses

import (
	"context"
	"sort"
	"strings"
	"time"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/metrics"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/clock"
	"leadflow_backend/platform/keylock"
	"leadflow_backend/platform/kv"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"

	"github.com/google/uuid"
)

const (
	leadLogPrefix     = "responses:lead-log:"
	campaignLogPrefix = "responses:campaign-log:"
	leadAggPrefix     = "responses:lead:"
	campaignAggPrefix = "responses:campaign:"
)

type eventLog struct {
	Events []Event `json:"events"`
}

// Tracker appends engagement events and keeps per-lead and per-campaign
// aggregates in step with the logs. Writes for one lead are serialized.
type Tracker struct {
	store   kv.Store
	bus     events.Bus
	clock   clock.Clock
	val     *validator.Validator
	locks   *keylock.Locker
	log     *logger.Logger
	metrics *metrics.Metrics
}

// New creates a Tracker.
func New(store kv.Store, bus events.Bus, clk clock.Clock, val *validator.Validator, log *logger.Logger) *Tracker {
	return &Tracker{
		store: store,
		bus:   bus,
		clock: clk,
		val:   val,
		locks: keylock.New(),
		log:   log,
	}
}

// SetMetrics attaches Prometheus collectors.
func (t *Tracker) SetMetrics(m *metrics.Metrics) {
	t.metrics = m
}

// TrackEvent validates and appends one event, then recomputes the lead and
// campaign aggregates from the full logs.
func (t *Tracker) TrackEvent(ctx context.Context, p TrackParams) (Event, error) {
	p.LeadID = strings.TrimSpace(p.LeadID)
	p.CampaignID = strings.TrimSpace(p.CampaignID)
	if err := t.val.Struct(p); err != nil {
		return Event{}, apperr.Validation(validator.Summary(err)).WithOp("responses.TrackEvent")
	}

	evt := Event{
		ID:         p.EventID,
		LeadID:     p.LeadID,
		CampaignID: p.CampaignID,
		MessageID:  p.MessageID,
		Type:       p.EventType,
		Timestamp:  p.Timestamp.UTC(),
		Source:     p.Source,
		Metadata:   p.Metadata,
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	now := t.clock.Now()
	if p.Timestamp.IsZero() {
		evt.Timestamp = now
	}

	unlockLead := t.locks.Lock("lead:" + evt.LeadID)
	defer unlockLead()

	leadLog, err := t.loadLog(ctx, leadLogPrefix+evt.LeadID)
	if err != nil {
		return Event{}, err
	}
	if p.EventID != "" {
		for _, existing := range leadLog.Events {
			if existing.ID == p.EventID {
				return existing, nil
			}
		}
	}
	leadLog.Events = append(leadLog.Events, evt)
	if err := t.saveLog(ctx, leadLogPrefix+evt.LeadID, leadLog); err != nil {
		return Event{}, err
	}
	if err := kv.PutJSON(ctx, t.store, leadAggPrefix+evt.LeadID, buildLeadHistory(evt.LeadID, leadLog.Events)); err != nil {
		t.log.StoreError("responses.lead_aggregate", err)
		return Event{}, apperr.Wrap(apperr.KindInternal, "failed to store lead aggregate", err)
	}

	if err := t.appendCampaign(ctx, evt, now); err != nil {
		return Event{}, err
	}

	t.metrics.EventTracked(string(evt.Type), string(evt.Source))
	t.bus.Publish(ctx, events.ResponseTracked{
		BaseEvent:  events.NewBaseEvent(now),
		EventID:    evt.ID,
		LeadID:     evt.LeadID,
		CampaignID: evt.CampaignID,
		MessageID:  evt.MessageID,
		EventType:  string(evt.Type),
		Source:     string(evt.Source),
	})
	return evt, nil
}

// appendCampaign must be called with the lead lock held; the campaign lock is
// always taken second so the two never invert.
func (t *Tracker) appendCampaign(ctx context.Context, evt Event, now time.Time) error {
	unlock := t.locks.Lock("campaign:" + evt.CampaignID)
	defer unlock()

	campaignLog, err := t.loadLog(ctx, campaignLogPrefix+evt.CampaignID)
	if err != nil {
		return err
	}
	campaignLog.Events = append(campaignLog.Events, evt)
	if err := t.saveLog(ctx, campaignLogPrefix+evt.CampaignID, campaignLog); err != nil {
		return err
	}
	agg := buildCampaignResponse(evt.CampaignID, campaignLog.Events, now)
	if err := kv.PutJSON(ctx, t.store, campaignAggPrefix+evt.CampaignID, agg); err != nil {
		t.log.StoreError("responses.campaign_aggregate", err)
		return apperr.Wrap(apperr.KindInternal, "failed to store campaign aggregate", err)
	}
	return nil
}

func (t *Tracker) loadLog(ctx context.Context, key string) (eventLog, error) {
	log, err := kv.GetJSON[eventLog](ctx, t.store, key)
	if kv.IsNotFound(err) {
		return eventLog{}, nil
	}
	if err != nil {
		t.log.StoreError("responses.load_log", err)
		return eventLog{}, apperr.Wrap(apperr.KindInternal, "failed to load event log", err)
	}
	return log, nil
}

func (t *Tracker) saveLog(ctx context.Context, key string, log eventLog) error {
	if err := kv.PutJSON(ctx, t.store, key, log); err != nil {
		t.log.StoreError("responses.save_log", err)
		return apperr.Wrap(apperr.KindInternal, "failed to store event log", err)
	}
	return nil
}

// TrackSent records an outbound message handed to a channel.
func (t *Tracker) TrackSent(ctx context.Context, leadID, campaignID, messageID string, source Source) (Event, error) {
	return t.TrackEvent(ctx, TrackParams{LeadID: leadID, CampaignID: campaignID, MessageID: messageID, EventType: EventSent, Source: source})
}

// TrackEmailOpen records an email open.
func (t *Tracker) TrackEmailOpen(ctx context.Context, leadID, campaignID, messageID string) (Event, error) {
	return t.TrackEvent(ctx, TrackParams{LeadID: leadID, CampaignID: campaignID, MessageID: messageID, EventType: EventOpened, Source: SourceEmail})
}

// TrackEmailClick records a click; the url is kept in the event metadata.
func (t *Tracker) TrackEmailClick(ctx context.Context, leadID, campaignID, messageID, url string) (Event, error) {
	var meta map[string]any
	if url != "" {
		meta = map[string]any{"url": url}
	}
	return t.TrackEvent(ctx, TrackParams{LeadID: leadID, CampaignID: campaignID, MessageID: messageID, EventType: EventClicked, Source: SourceEmail, Metadata: meta})
}

// TrackEmailReply records an email reply; body is kept in the metadata.
func (t *Tracker) TrackEmailReply(ctx context.Context, leadID, campaignID, messageID, body string) (Event, error) {
	return t.TrackEvent(ctx, TrackParams{LeadID: leadID, CampaignID: campaignID, MessageID: messageID, EventType: EventReplied, Source: SourceEmail, Metadata: replyMetadata(body)})
}

// TrackSMSReply records an inbound SMS reply.
func (t *Tracker) TrackSMSReply(ctx context.Context, leadID, campaignID, messageID, body string) (Event, error) {
	return t.TrackEvent(ctx, TrackParams{LeadID: leadID, CampaignID: campaignID, MessageID: messageID, EventType: EventReplied, Source: SourceSMS, Metadata: replyMetadata(body)})
}

// TrackConversion records the converted engagement event. Conversion value and
// attribution live in the conversions package.
func (t *Tracker) TrackConversion(ctx context.Context, leadID, campaignID string, source Source, metadata map[string]any) (Event, error) {
	return t.TrackEvent(ctx, TrackParams{LeadID: leadID, CampaignID: campaignID, EventType: EventConverted, Source: source, Metadata: metadata})
}

func replyMetadata(body string) map[string]any {
	if body == "" {
		return nil
	}
	return map[string]any{"body": body}
}

// GetLeadEvents returns the lead's log in append order. Unknown leads yield an empty slice.
func (t *Tracker) GetLeadEvents(ctx context.Context, leadID string) ([]Event, error) {
	log, err := t.loadLog(ctx, leadLogPrefix+leadID)
	if err != nil {
		return nil, err
	}
	if log.Events == nil {
		return []Event{}, nil
	}
	return log.Events, nil
}

// GetLeadHistory returns the lead aggregate, or NotFound when nothing was tracked.
func (t *Tracker) GetLeadHistory(ctx context.Context, leadID string) (LeadHistory, error) {
	h, err := kv.GetJSON[LeadHistory](ctx, t.store, leadAggPrefix+leadID)
	if kv.IsNotFound(err) {
		return LeadHistory{}, apperr.NotFound("no events tracked for lead").WithOp("responses.GetLeadHistory")
	}
	if err != nil {
		return LeadHistory{}, apperr.Wrap(apperr.KindInternal, "failed to load lead history", err)
	}
	return h, nil
}

// GetCampaignResponse returns the campaign aggregate, or NotFound when nothing was tracked.
func (t *Tracker) GetCampaignResponse(ctx context.Context, campaignID string) (CampaignResponse, error) {
	r, err := kv.GetJSON[CampaignResponse](ctx, t.store, campaignAggPrefix+campaignID)
	if kv.IsNotFound(err) {
		return CampaignResponse{}, apperr.NotFound("no events tracked for campaign").WithOp("responses.GetCampaignResponse")
	}
	if err != nil {
		return CampaignResponse{}, apperr.Wrap(apperr.KindInternal, "failed to load campaign response", err)
	}
	return r, nil
}

// ListCampaignResponses returns every campaign aggregate ordered by campaign id.
func (t *Tracker) ListCampaignResponses(ctx context.Context) ([]CampaignResponse, error) {
	out, err := kv.ScanJSON[CampaignResponse](ctx, t.store, campaignAggPrefix)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list campaign responses", err)
	}
	return out, nil
}

// EngagementScore returns the lead's clamped score, 0 for an unknown lead.
func (t *Tracker) EngagementScore(ctx context.Context, leadID string) (int, error) {
	evts, err := t.GetLeadEvents(ctx, leadID)
	if err != nil {
		return 0, err
	}
	return EngagementScore(evts), nil
}

// ListLeadIDs returns every lead with at least one tracked event, sorted.
func (t *Tracker) ListLeadIDs(ctx context.Context) ([]string, error) {
	entries, err := t.store.Scan(ctx, leadAggPrefix)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list tracked leads", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, strings.TrimPrefix(e.Key, leadAggPrefix))
	}
	sort.Strings(ids)
	return ids, nil
}
