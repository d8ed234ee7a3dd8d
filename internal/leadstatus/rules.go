package leadstatus

import (
	"strings"
	"time"
)

const (
	longFunnel         = 7 * 24 * time.Hour
	manyTransitions    = 5
	veryManyTransition = 10
)

// probability computes the conversion estimate for h as of now.
// Lost and unqualified stay at 0 whatever the adjustments say.
func probability(h History, now time.Time) int {
	if h.CurrentStatus == StatusLost || h.CurrentStatus == StatusUnqualified {
		return 0
	}
	p := baseProbability[h.CurrentStatus]
	// the bonuses stack: more than ten transitions earns both
	if n := len(h.StatusHistory); n > manyTransitions {
		p += 10
		if n > veryManyTransition {
			p += 15
		}
	}
	if !h.CreatedAt.IsZero() && now.Sub(h.CreatedAt) > longFunnel {
		p -= 10
	}
	return clamp(p, 0, 100)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// nextAction is the decision table over status and idle time.
func nextAction(status Status, idle time.Duration) NextAction {
	var action string
	wait := false
	switch status {
	case StatusNew:
		action = "send initial outreach"
	case StatusContacted, StatusOpened, StatusClicked:
		if idle > 24*time.Hour {
			action = "send follow-up"
		} else {
			action, wait = "wait for response", true
		}
	case StatusReplied:
		action = "respond to reply"
	case StatusInterested:
		action = "schedule demo"
	case StatusDemoScheduled:
		if idle > 48*time.Hour {
			action = "send demo reminder"
		} else {
			action, wait = "wait for demo", true
		}
	case StatusDemoCompleted:
		action = "send proposal"
	case StatusProposalSent:
		if idle > 72*time.Hour {
			action = "follow up on proposal"
		} else {
			action, wait = "wait for proposal response", true
		}
	case StatusNegotiating:
		if idle > 48*time.Hour {
			action = "follow up on negotiation"
		} else {
			action = "continue negotiation"
		}
	case StatusConverted:
		action = "onboard customer"
	case StatusLost:
		action = "no further action"
	case StatusUnqualified:
		action = "remove from campaigns"
	default:
		action = "review lead"
	}
	return NextAction{Action: action, Priority: priorityFor(action), Wait: wait}
}

func priorityFor(action string) Priority {
	a := strings.ToLower(action)
	for _, kw := range []string{"demo", "proposal", "negotiat"} {
		if strings.Contains(a, kw) {
			return PriorityHigh
		}
	}
	for _, kw := range []string{"follow", "respond"} {
		if strings.Contains(a, kw) {
			return PriorityMedium
		}
	}
	return PriorityLow
}
