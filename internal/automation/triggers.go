package automation

import (
	"time"

	"leadflow_backend/internal/leadstatus"
	"leadflow_backend/internal/responses"
	"leadflow_backend/internal/rules"
)

const defaultNoResponseHours = 72

// fireMarker remembers what already fired a rule for one lead.
type fireMarker struct {
	// LastEventAt is the newest event or transition that fired the rule.
	LastEventAt time.Time `json:"lastEventAt"`
	LastFiredAt time.Time `json:"lastFiredAt"`
	// Matched is the previous condition outcome for edge-triggered condition rules.
	Matched bool `json:"matched"`
}

// evaluateTrigger decides whether the rule fires for snap and returns the updated marker.
// The marker is returned even when the rule does not fire so condition rules
// can re-arm.
func evaluateTrigger(t Trigger, snap LeadSnapshot, mk fireMarker, now time.Time) (bool, fireMarker) {
	facts := snap.Facts(now)
	conditionsHold := rules.Evaluate(t.Conditions, t.Logic, facts)

	switch t.Type {
	case TriggerEmailOpened:
		return engagementTrigger(t, snap, mk, now, conditionsHold, responses.EventOpened, responses.SourceEmail)
	case TriggerEmailClicked:
		return engagementTrigger(t, snap, mk, now, conditionsHold, responses.EventClicked, responses.SourceEmail)
	case TriggerEmailReplied:
		return engagementTrigger(t, snap, mk, now, conditionsHold, responses.EventReplied, responses.SourceEmail)
	case TriggerSMSReplied:
		return engagementTrigger(t, snap, mk, now, conditionsHold, responses.EventReplied, responses.SourceSMS)

	case TriggerConverted:
		return statusTrigger(snap, mk, now, conditionsHold, leadstatus.StatusConverted)
	case TriggerStatusChanged:
		return statusTrigger(snap, mk, now, conditionsHold, t.Status)

	case TriggerNoResponse:
		window := t.NoResponseHours
		if window <= 0 {
			window = defaultNoResponseHours
		}
		lastSent, silent := lastUnansweredSend(snap.Events, t.CampaignID)
		if !silent || now.Sub(lastSent) < time.Duration(window)*time.Hour {
			return false, mk
		}
		if !lastSent.After(mk.LastEventAt) || !conditionsHold {
			return false, mk
		}
		mk.LastEventAt = lastSent
		mk.LastFiredAt = now
		return true, mk

	case TriggerCondition:
		if len(t.Conditions) == 0 || !conditionsHold {
			mk.Matched = false
			return false, mk
		}
		if t.CooldownMinutes > 0 {
			if !mk.LastFiredAt.IsZero() && now.Sub(mk.LastFiredAt) < time.Duration(t.CooldownMinutes)*time.Minute {
				mk.Matched = true
				return false, mk
			}
		} else if mk.Matched {
			return false, mk
		}
		mk.Matched = true
		mk.LastFiredAt = now
		return true, mk
	}
	return false, mk
}

func engagementTrigger(t Trigger, snap LeadSnapshot, mk fireMarker, now time.Time, conditionsHold bool, typ responses.EventType, src responses.Source) (bool, fireMarker) {
	var newest time.Time
	for _, e := range snap.Events {
		if e.Type != typ || e.Source != src {
			continue
		}
		if t.CampaignID != "" && e.CampaignID != t.CampaignID {
			continue
		}
		if e.Timestamp.After(newest) {
			newest = e.Timestamp
		}
	}
	if newest.IsZero() || !newest.After(mk.LastEventAt) || !conditionsHold {
		return false, mk
	}
	mk.LastEventAt = newest
	mk.LastFiredAt = now
	return true, mk
}

func statusTrigger(snap LeadSnapshot, mk fireMarker, now time.Time, conditionsHold bool, want leadstatus.Status) (bool, fireMarker) {
	if snap.History == nil || len(snap.History.StatusHistory) == 0 {
		return false, mk
	}
	if want != "" && snap.Status != want {
		return false, mk
	}
	entered := snap.History.EnteredStatusAt
	if !entered.After(mk.LastEventAt) || !conditionsHold {
		return false, mk
	}
	mk.LastEventAt = entered
	mk.LastFiredAt = now
	return true, mk
}

// lastUnansweredSend returns the newest sent event with no open, click or
// reply after it.
func lastUnansweredSend(events []responses.Event, campaignID string) (time.Time, bool) {
	var lastSent, lastResponse time.Time
	for _, e := range events {
		if campaignID != "" && e.CampaignID != campaignID {
			continue
		}
		switch e.Type {
		case responses.EventSent:
			if e.Timestamp.After(lastSent) {
				lastSent = e.Timestamp
			}
		case responses.EventOpened, responses.EventClicked, responses.EventReplied:
			if e.Timestamp.After(lastResponse) {
				lastResponse = e.Timestamp
			}
		}
	}
	if lastSent.IsZero() || !lastResponse.Before(lastSent) {
		return lastSent, false
	}
	return lastSent, true
}
