package scheduler

import (
	"context"
	"fmt"
	"time"

	"leadflow_backend/platform/logger"

	"github.com/robfig/cron/v3"
)

// Intervals of the local driver.
type Intervals struct {
	TriggerCheck time.Duration
	QueueDrain   time.Duration
	SequenceTick time.Duration
}

// Local runs the engine ticks in-process with robfig/cron, for single-node
// deployments without Redis. Overlapping runs of one job are skipped.
type Local struct {
	cron *cron.Cron
	log  *logger.Logger
}

func NewLocal(jobs Jobs, iv Intervals, log *logger.Logger) (*Local, error) {
	c := cron.New(cron.WithChain(cron.Recover(cronLogger{log}), cron.SkipIfStillRunning(cronLogger{log})))
	l := &Local{cron: c, log: log}

	entries := []struct {
		name  string
		every time.Duration
		run   func(context.Context) error
	}{
		{TaskCheckTriggers, iv.TriggerCheck, jobs.CheckTriggers},
		{TaskDrainQueue, iv.QueueDrain, jobs.DrainQueue},
		{TaskSequenceTick, iv.SequenceTick, jobs.SequenceTick},
	}
	for _, e := range entries {
		if e.every <= 0 {
			continue
		}
		name, run := e.name, e.run
		if _, err := c.AddFunc(everySpec(e.every), func() {
			if err := run(context.Background()); err != nil {
				log.Warn("local job failed", "job", name, "error", err)
			}
		}); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", name, err)
		}
	}
	return l, nil
}

// Run blocks until ctx is done, then waits for running jobs.
func (l *Local) Run(ctx context.Context) {
	l.cron.Start()
	l.log.Info("local scheduler started", "entries", len(l.cron.Entries()))
	<-ctx.Done()
	<-l.cron.Stop().Done()
}

// cronLogger adapts the slog wrapper to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.log.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
