package sequences

import (
	"context"
	"errors"
	"slices"
	"strings"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads"
	"leadflow_backend/internal/leadstatus"
)

// RegisterHandlers subscribes the manager to status changes.
func (m *Manager) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.LeadStatusChanged{}.EventName(), m)
}

// Handle routes bus events.
func (m *Manager) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.LeadStatusChanged:
		_, err := m.HandleStatusChanged(ctx, e)
		return err
	default:
		return nil
	}
}

// HandleStatusChanged cancels the lead's running execution when it leaves the
// funnel, then starts the first active sequence triggered by the new status.
// It returns the started execution id, empty when nothing started.
func (m *Manager) HandleStatusChanged(ctx context.Context, e events.LeadStatusChanged) (string, error) {
	to := leadstatus.Status(e.ToStatus)
	if to.Terminal() {
		if active, ok, err := m.ActiveExecution(ctx, e.LeadID); err != nil {
			return "", err
		} else if ok {
			if _, err := m.CancelSequence(ctx, active.ID); err != nil {
				return "", err
			}
		}
	}

	seqs, err := m.ListSequences(ctx)
	if err != nil {
		return "", err
	}
	for _, seq := range seqs {
		if !seq.Active || seq.TriggerStatus == "" || seq.TriggerStatus != to {
			continue
		}
		ok, err := m.matchesBusinessType(ctx, seq, e.LeadID)
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}
		if _, active, err := m.ActiveExecution(ctx, e.LeadID); err != nil || active {
			return "", err
		}
		exec, err := m.StartSequence(ctx, e.LeadID, seq.ID, map[string]any{"trigger": string(to)})
		if err != nil {
			return "", err
		}
		return exec.ID, nil
	}
	return "", nil
}

func (m *Manager) matchesBusinessType(ctx context.Context, seq Sequence, leadID string) (bool, error) {
	if len(seq.BusinessTypes) == 0 {
		return true, nil
	}
	if m.directory == nil {
		return false, nil
	}
	contact, err := m.directory.GetContact(ctx, leadID)
	if errors.Is(err, leads.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	bt := strings.ToLower(strings.TrimSpace(contact.BusinessType))
	return slices.ContainsFunc(seq.BusinessTypes, func(s string) bool {
		return strings.ToLower(strings.TrimSpace(s)) == bt
	}), nil
}
