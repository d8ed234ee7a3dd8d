// Package responses records engagement events per lead and campaign and derives
// rate and engagement-score aggregates from the full event logs.
package responses

import "time"

// EventType is the kind of engagement observed.
type EventType string

const (
	EventSent      EventType = "sent"
	EventDelivered EventType = "delivered"
	EventOpened    EventType = "opened"
	EventClicked   EventType = "clicked"
	EventReplied   EventType = "replied"
	EventConverted EventType = "converted"
)

// Source is the channel an event arrived on.
type Source string

const (
	SourceEmail Source = "email"
	SourceSMS   Source = "sms"
)

// eventWeights drive both the engagement score and attribution touchpoint weights.
var eventWeights = map[EventType]int{
	EventSent:      1,
	EventDelivered: 2,
	EventOpened:    5,
	EventClicked:   10,
	EventReplied:   25,
	EventConverted: 100,
}

// Weight returns the engagement weight of an event type, 0 if unknown.
func Weight(t EventType) int {
	return eventWeights[t]
}

// IsKnownEventType reports whether t is one of the tracked event types.
func IsKnownEventType(t EventType) bool {
	_, ok := eventWeights[t]
	return ok
}

// MaxEngagementScore caps the engagement score. Sums above it are discarded.
const MaxEngagementScore = 100

// Event is one append-only engagement record.
type Event struct {
	ID         string         `json:"id"`
	LeadID     string         `json:"leadId"`
	CampaignID string         `json:"campaignId"`
	MessageID  string         `json:"messageId"`
	Type       EventType      `json:"eventType"`
	Timestamp  time.Time      `json:"timestamp"`
	Source     Source         `json:"source"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// CampaignResponse aggregates every event recorded for one campaign.
// Rates are percentages of TotalSent and are 0 when nothing was sent.
type CampaignResponse struct {
	CampaignID     string    `json:"campaignId"`
	TotalSent      int       `json:"totalSent"`
	TotalDelivered int       `json:"totalDelivered"`
	TotalOpened    int       `json:"totalOpened"`
	TotalClicked   int       `json:"totalClicked"`
	TotalReplied   int       `json:"totalReplied"`
	TotalConverted int       `json:"totalConverted"`
	UniqueLeads    int       `json:"uniqueLeads"`
	DeliveryRate   float64   `json:"deliveryRate"`
	OpenRate       float64   `json:"openRate"`
	ClickRate      float64   `json:"clickRate"`
	ReplyRate      float64   `json:"replyRate"`
	ConversionRate float64   `json:"conversionRate"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// LeadHistory aggregates every event recorded for one lead.
type LeadHistory struct {
	LeadID          string    `json:"leadId"`
	TotalEvents     int       `json:"totalEvents"`
	Sent            int       `json:"sent"`
	Delivered       int       `json:"delivered"`
	Opened          int       `json:"opened"`
	Clicked         int       `json:"clicked"`
	Replied         int       `json:"replied"`
	Converted       int       `json:"converted"`
	Campaigns       []string  `json:"campaigns"`
	FirstActivity   time.Time `json:"firstActivity"`
	LastActivity    time.Time `json:"lastActivity"`
	LastEventType   EventType `json:"lastEventType"`
	ResponseRate    float64   `json:"responseRate"`
	EngagementScore int       `json:"engagementScore"`
}

// TrackParams is the input of TrackEvent. A zero Timestamp means "now".
// EventID makes the call idempotent: a second call with the same id is ignored.
type TrackParams struct {
	EventID    string         `json:"eventId,omitempty"`
	LeadID     string         `json:"leadId" validate:"required"`
	CampaignID string         `json:"campaignId" validate:"required"`
	MessageID  string         `json:"messageId"`
	EventType  EventType      `json:"eventType" validate:"required,oneof=sent delivered opened clicked replied converted"`
	Source     Source         `json:"source" validate:"required,oneof=email sms"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
