package scheduler

import (
	"context"
	"errors"

	"leadflow_backend/internal/responses"
	"leadflow_backend/platform/logger"
)

// AutomationRunner is the slice of the automation engine the scheduler drives.
type AutomationRunner interface {
	CheckTriggers(ctx context.Context) (int, error)
	ProcessExecutionQueue(ctx context.Context) (int, error)
}

// QueueRecoverer reloads pending executions from the store into the queue.
type QueueRecoverer interface {
	RecoverQueue(ctx context.Context) (int, error)
}

// SequenceRunner advances due sequence executions.
type SequenceRunner interface {
	ProcessReadySequences(ctx context.Context) (int, error)
}

// EventTracker records inbound engagement events.
type EventTracker interface {
	TrackEvent(ctx context.Context, p responses.TrackParams) (responses.Event, error)
}

// Jobs are the units of work shared by the asynq worker and the local cron driver.
type Jobs struct {
	Automation AutomationRunner
	Sequences  SequenceRunner
	Events     EventTracker
	Log        *logger.Logger
	// Shared is set when other processes write executions to the same store,
	// so each drain first picks up what they queued.
	Shared bool
}

func (j Jobs) CheckTriggers(ctx context.Context) error {
	n, err := j.Automation.CheckTriggers(ctx)
	if n > 0 {
		j.Log.Info("trigger check fired rules", "count", n)
	}
	return err
}

func (j Jobs) DrainQueue(ctx context.Context) error {
	if r, ok := j.Automation.(QueueRecoverer); ok && j.Shared {
		if _, err := r.RecoverQueue(ctx); err != nil {
			return err
		}
	}
	n, err := j.Automation.ProcessExecutionQueue(ctx)
	if n > 0 {
		j.Log.Info("automation queue drained", "processed", n)
	}
	return err
}

func (j Jobs) SequenceTick(ctx context.Context) error {
	n, err := j.Sequences.ProcessReadySequences(ctx)
	if n > 0 {
		j.Log.Info("sequence tick processed executions", "count", n)
	}
	return err
}

// Tick runs one trigger check, queue drain and sequence tick, in that order.
// Every job runs even when an earlier one fails.
func (j Jobs) Tick(ctx context.Context) error {
	return errors.Join(j.CheckTriggers(ctx), j.DrainQueue(ctx), j.SequenceTick(ctx))
}

func (j Jobs) TrackEvent(ctx context.Context, p responses.TrackParams) error {
	if j.Events == nil {
		return errors.New("event tracker not configured")
	}
	_, err := j.Events.TrackEvent(ctx, p)
	return err
}
