package conversions

import (
	"math"
	"sort"
	"time"

	"leadflow_backend/internal/responses"
)

// timeDecay is max(0.1, 1 - days/30).
func timeDecay(days float64) float64 {
	return math.Max(decayFloor, 1-days/decayHorizonDays)
}

// attribute builds the touchpoints of a conversion at time at. Converted events
// and events after at are not touchpoints.
func attribute(evts []responses.Event, at time.Time, value float64, model Model) Attribution {
	tps := make([]Touchpoint, 0, len(evts))
	for _, e := range evts {
		if e.Type == responses.EventConverted || e.Timestamp.After(at) {
			continue
		}
		days := at.Sub(e.Timestamp).Hours() / 24
		tps = append(tps, Touchpoint{
			EventID:    e.ID,
			CampaignID: e.CampaignID,
			MessageID:  e.MessageID,
			EventType:  e.Type,
			Source:     e.Source,
			Timestamp:  e.Timestamp,
			DaysBefore: days,
			Weight:     float64(responses.Weight(e.Type)) * timeDecay(days),
		})
	}
	sort.SliceStable(tps, func(i, j int) bool { return tps[i].Timestamp.Before(tps[j].Timestamp) })

	attr := Attribution{Model: model, Touchpoints: tps}
	if len(tps) == 0 {
		return attr
	}
	for _, tp := range tps {
		attr.TotalWeight += tp.Weight
	}

	last := len(tps) - 1
	for i := range tps {
		var share float64
		switch model {
		case ModelEven:
			share = 1 / float64(len(tps))
		case ModelFirstTouch:
			if i == 0 {
				share = 1
			}
		case ModelLastTouch:
			if i == last {
				share = 1
			}
		default:
			if attr.TotalWeight > 0 {
				share = tps[i].Weight / attr.TotalWeight
			}
		}
		tps[i].WeightedValue = share
		tps[i].Credit = share * value
	}

	first, lastTP := tps[0], tps[last]
	attr.FirstTouch = &first
	attr.LastTouch = &lastTP
	return attr
}

// markConverting flags the touchpoint the conversion came from: the latest one
// for messageID when set, otherwise the latest one for campaignID. FirstTouch and
// LastTouch are copies and are refreshed.
func markConverting(attr *Attribution, campaignID, messageID string) {
	idx := -1
	for i := len(attr.Touchpoints) - 1; i >= 0 && messageID != ""; i-- {
		if attr.Touchpoints[i].MessageID == messageID {
			idx = i
			break
		}
	}
	for i := len(attr.Touchpoints) - 1; i >= 0 && idx < 0 && campaignID != ""; i-- {
		if attr.Touchpoints[i].CampaignID == campaignID {
			idx = i
		}
	}
	if idx < 0 {
		return
	}
	attr.Touchpoints[idx].Converting = true
	first, last := attr.Touchpoints[0], attr.Touchpoints[len(attr.Touchpoints)-1]
	attr.FirstTouch, attr.LastTouch = &first, &last
}

// role reports how campaignID took part in the attribution.
func role(attr Attribution, campaignID string) (first, last, assisted bool) {
	if attr.FirstTouch != nil && attr.FirstTouch.CampaignID == campaignID {
		first = true
	}
	if attr.LastTouch != nil && attr.LastTouch.CampaignID == campaignID {
		last = true
	}
	if first || last {
		return first, last, false
	}
	for _, tp := range attr.Touchpoints {
		if tp.CampaignID == campaignID {
			return false, false, true
		}
	}
	return false, false, false
}

// creditFor sums the credit of campaignID's touchpoints.
func creditFor(attr Attribution, campaignID string) float64 {
	var total float64
	for _, tp := range attr.Touchpoints {
		if tp.CampaignID == campaignID {
			total += tp.Credit
		}
	}
	return total
}

func percent(num, den float64) float64 {
	if den <= 0 {
		return 0
	}
	return num / den * 100
}
