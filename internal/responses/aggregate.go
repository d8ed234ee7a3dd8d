package responses

import (
	"slices"
	"time"
)

// rate returns count/total*100 within [0,100], and 0 for an empty denominator.
// Opens can outnumber sends when sent events were never recorded; the cap keeps
// the rate meaningful.
func rate(count, total int) float64 {
	if total <= 0 || count <= 0 {
		return 0
	}
	r := float64(count) / float64(total) * 100
	if r > 100 {
		return 100
	}
	return r
}

// EngagementScore sums event weights and clamps to [0, MaxEngagementScore].
func EngagementScore(events []Event) int {
	sum := 0
	for _, e := range events {
		sum += Weight(e.Type)
	}
	return clampScore(sum)
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > MaxEngagementScore {
		return MaxEngagementScore
	}
	return v
}

func buildCampaignResponse(campaignID string, events []Event, now time.Time) CampaignResponse {
	resp := CampaignResponse{CampaignID: campaignID, LastUpdated: now}
	leads := make(map[string]struct{})
	for _, e := range events {
		leads[e.LeadID] = struct{}{}
		switch e.Type {
		case EventSent:
			resp.TotalSent++
		case EventDelivered:
			resp.TotalDelivered++
		case EventOpened:
			resp.TotalOpened++
		case EventClicked:
			resp.TotalClicked++
		case EventReplied:
			resp.TotalReplied++
		case EventConverted:
			resp.TotalConverted++
		}
	}
	resp.UniqueLeads = len(leads)
	resp.DeliveryRate = rate(resp.TotalDelivered, resp.TotalSent)
	resp.OpenRate = rate(resp.TotalOpened, resp.TotalSent)
	resp.ClickRate = rate(resp.TotalClicked, resp.TotalSent)
	resp.ReplyRate = rate(resp.TotalReplied, resp.TotalSent)
	resp.ConversionRate = rate(resp.TotalConverted, resp.TotalSent)
	return resp
}

func buildLeadHistory(leadID string, events []Event) LeadHistory {
	h := LeadHistory{LeadID: leadID, TotalEvents: len(events), Campaigns: []string{}}
	for _, e := range events {
		switch e.Type {
		case EventSent:
			h.Sent++
		case EventDelivered:
			h.Delivered++
		case EventOpened:
			h.Opened++
		case EventClicked:
			h.Clicked++
		case EventReplied:
			h.Replied++
		case EventConverted:
			h.Converted++
		}
		if !slices.Contains(h.Campaigns, e.CampaignID) {
			h.Campaigns = append(h.Campaigns, e.CampaignID)
		}
		if h.FirstActivity.IsZero() || e.Timestamp.Before(h.FirstActivity) {
			h.FirstActivity = e.Timestamp
		}
		if !e.Timestamp.Before(h.LastActivity) {
			h.LastActivity = e.Timestamp
			h.LastEventType = e.Type
		}
	}
	h.ResponseRate = rate(h.Replied, h.Sent)
	h.EngagementScore = EngagementScore(events)
	return h
}
