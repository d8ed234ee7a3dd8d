package leadstatus

import (
	"context"

	"leadflow_backend/internal/events"
)

var engagementStage = map[string]Status{
	"sent":      StatusContacted,
	"opened":    StatusOpened,
	"clicked":   StatusClicked,
	"replied":   StatusReplied,
	"converted": StatusConverted,
}

// RegisterHandlers subscribes the manager to engagement events.
func (m *Manager) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.ResponseTracked{}.EventName(), m)
}

// Handle routes bus events.
func (m *Manager) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.ResponseTracked:
		return m.HandleResponseEvent(ctx, e)
	default:
		return nil
	}
}

// HandleResponseEvent advances the lead to the stage matching the engagement.
func (m *Manager) HandleResponseEvent(ctx context.Context, e events.ResponseTracked) error {
	target, ok := engagementStage[e.EventType]
	if !ok {
		return nil
	}
	_, err := m.AdvanceTo(ctx, e.LeadID, target, UpdatedByEngagement, e.EventType+" via "+e.Source)
	return err
}
