// Package conversions records revenue events, attributes them across the
// lead's recorded touchpoints and keeps per-campaign attribution totals.
package conversions

import (
	"time"

	"leadflow_backend/internal/leadstatus"
	"leadflow_backend/internal/responses"
)

// Model selects how conversion credit is split across touchpoints.
type Model string

const (
	// ModelLinear shares credit in proportion to each touchpoint's decayed weight.
	ModelLinear Model = "linear"
	// ModelEven splits credit equally, ignoring weights.
	ModelEven       Model = "even"
	ModelFirstTouch Model = "first_touch"
	ModelLastTouch  Model = "last_touch"
)

// ParseModel returns the model named by raw, or ModelLinear when raw is empty or unknown.
func ParseModel(raw string) Model {
	switch m := Model(raw); m {
	case ModelLinear, ModelEven, ModelFirstTouch, ModelLastTouch:
		return m
	default:
		return ModelLinear
	}
}

const (
	decayHorizonDays = 30.0
	decayFloor       = 0.1
)

// Touchpoint is one engagement event that contributed to a conversion.
// WeightedValue is its normalized share of the credit; Credit is that share of the value.
type Touchpoint struct {
	EventID       string              `json:"eventId"`
	CampaignID    string              `json:"campaignId"`
	MessageID     string              `json:"messageId,omitempty"`
	EventType     responses.EventType `json:"eventType"`
	Source        responses.Source    `json:"source"`
	Timestamp     time.Time           `json:"timestamp"`
	DaysBefore    float64             `json:"daysBefore"`
	Weight        float64             `json:"weight"`
	WeightedValue float64             `json:"weightedValue"`
	Credit        float64             `json:"credit"`
	// Converting marks the touchpoint of the message or campaign the conversion came from.
	Converting bool `json:"converting,omitempty"`
}

// Attribution is the credit split of one conversion.
type Attribution struct {
	Model       Model        `json:"model"`
	FirstTouch  *Touchpoint  `json:"firstTouch,omitempty"`
	LastTouch   *Touchpoint  `json:"lastTouch,omitempty"`
	Touchpoints []Touchpoint `json:"touchpoints"`
	TotalWeight float64      `json:"totalWeight"`
}

// Conversion is one stored revenue event.
type Conversion struct {
	ID             string         `json:"id"`
	LeadID         string         `json:"leadId"`
	CampaignID     string         `json:"campaignId"`
	MessageID      string         `json:"messageId,omitempty"`
	ConversionType string         `json:"conversionType"`
	Value          float64        `json:"value"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Attribution    Attribution    `json:"attribution"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// TrackParams is the input of TrackConversion.
type TrackParams struct {
	LeadID         string         `json:"leadId" validate:"required"`
	CampaignID     string         `json:"campaignId" validate:"required"`
	MessageID      string         `json:"messageId"`
	ConversionType string         `json:"conversionType" validate:"required"`
	Value          float64        `json:"value" validate:"gte=0"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// CampaignAttribution is the running total for one campaign.
type CampaignAttribution struct {
	CampaignID            string    `json:"campaignId"`
	TotalConversions      int       `json:"totalConversions"`
	TotalRevenue          float64   `json:"totalRevenue"`
	FirstTouchConversions int       `json:"firstTouchConversions"`
	LastTouchConversions  int       `json:"lastTouchConversions"`
	AssistedConversions   int       `json:"assistedConversions"`
	AttributedRevenue     float64   `json:"attributedRevenue"`
	TotalLeads            int       `json:"totalLeads"`
	ConversionRate        float64   `json:"conversionRate"`
	AverageValue          float64   `json:"averageValue"`
	LastUpdated           time.Time `json:"lastUpdated"`
}

// FunnelStage is one step of the canonical path. Reached counts leads now at
// this stage or further along.
type FunnelStage struct {
	Status           leadstatus.Status `json:"status"`
	Current          int               `json:"current"`
	Reached          int               `json:"reached"`
	RateFromPrevious float64           `json:"rateFromPrevious"`
}

// Funnel is computed from the live per-status lead counts.
type Funnel struct {
	Stages         []FunnelStage `json:"stages"`
	TotalLeads     int           `json:"totalLeads"`
	Lost           int           `json:"lost"`
	Unqualified    int           `json:"unqualified"`
	ConversionRate float64       `json:"conversionRate"`
}

// Stats summarizes every stored conversion.
type Stats struct {
	TotalConversions int                `json:"totalConversions"`
	TotalRevenue     float64            `json:"totalRevenue"`
	AverageValue     float64            `json:"averageValue"`
	ConvertedLeads   int                `json:"convertedLeads"`
	ByType           map[string]int     `json:"byType"`
	RevenueByType    map[string]float64 `json:"revenueByType"`
	AvgTouchpoints   float64            `json:"avgTouchpoints"`
}
