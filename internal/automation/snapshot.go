package automation

import (
	"context"
	"errors"
	"time"

	"leadflow_backend/internal/leads"
	"leadflow_backend/internal/leadstatus"
	"leadflow_backend/internal/responses"
	"leadflow_backend/internal/rules"
	"leadflow_backend/platform/apperr"
)

// LeadSnapshot is the state a trigger is evaluated against.
type LeadSnapshot struct {
	LeadID  string
	Status  leadstatus.Status
	History *leadstatus.History
	Events  []responses.Event
	Tags    []string
	Contact *leads.Contact
}

// Facts flattens the snapshot for rule conditions.
func (s LeadSnapshot) Facts(now time.Time) rules.Facts {
	counts := map[responses.EventType]int{}
	var lastActivity time.Time
	for _, e := range s.Events {
		counts[e.Type]++
		if e.Timestamp.After(lastActivity) {
			lastActivity = e.Timestamp
		}
	}
	facts := rules.Facts{
		"lead_id":          s.LeadID,
		"status":           string(s.Status),
		"engagement_score": responses.EngagementScore(s.Events),
		"sent":             counts[responses.EventSent],
		"delivered":        counts[responses.EventDelivered],
		"opened":           counts[responses.EventOpened],
		"clicked":          counts[responses.EventClicked],
		"replied":          counts[responses.EventReplied],
		"converted":        counts[responses.EventConverted],
		"tags":             s.Tags,
	}
	if s.History != nil {
		facts["conversion_probability"] = s.History.ConversionProbability
		facts["transitions"] = len(s.History.StatusHistory)
		if s.History.LastActivity.After(lastActivity) {
			lastActivity = s.History.LastActivity
		}
	}
	if !lastActivity.IsZero() {
		facts["last_activity"] = lastActivity
		facts["hours_since_activity"] = now.Sub(lastActivity).Hours()
	}
	if s.Contact != nil {
		facts["name"] = s.Contact.Name
		facts["email"] = s.Contact.Email
		facts["phone"] = s.Contact.Phone
		facts["business_type"] = s.Contact.BusinessType
		facts["source"] = s.Contact.Source
	}
	return facts
}

func (e *Engine) snapshot(ctx context.Context, leadID string) (LeadSnapshot, error) {
	snap := LeadSnapshot{LeadID: leadID, Status: leadstatus.StatusNew}

	h, err := e.statuses.GetHistory(ctx, leadID)
	switch {
	case err == nil:
		snap.History = &h
		snap.Status = h.CurrentStatus
	case !apperr.Is(err, apperr.KindNotFound):
		return LeadSnapshot{}, err
	}

	if snap.Events, err = e.responses.GetLeadEvents(ctx, leadID); err != nil {
		return LeadSnapshot{}, err
	}
	if e.tags != nil {
		if snap.Tags, err = e.tags.Tags(ctx, leadID); err != nil {
			return LeadSnapshot{}, err
		}
	}
	if e.directory != nil {
		c, err := e.directory.GetContact(ctx, leadID)
		switch {
		case err == nil:
			snap.Contact = &c
		case !errors.Is(err, leads.ErrNotFound):
			return LeadSnapshot{}, err
		}
	}
	return snap, nil
}
