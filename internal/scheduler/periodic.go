package scheduler

import (
	"context"
	"fmt"
	"time"

	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// Periodic registers the engine ticks with asynq's scheduler so a fleet of
// workers shares one trigger check, queue drain and sequence tick per interval.
type Periodic struct {
	scheduler *asynq.Scheduler
	log       *logger.Logger
}

func NewPeriodic(cfg config.SchedulerConfig, log *logger.Logger) (*Periodic, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	s := asynq.NewScheduler(opt, &asynq.SchedulerOpts{Location: time.UTC})
	queue := queueName(cfg)
	entries := []struct {
		task  string
		every time.Duration
	}{
		{TaskCheckTriggers, cfg.GetTriggerCheckInterval()},
		{TaskDrainQueue, cfg.GetQueueDrainInterval()},
		{TaskSequenceTick, cfg.GetSequenceTickInterval()},
	}
	for _, e := range entries {
		// Unique keeps a slow tick from piling up copies of itself.
		if _, err := s.Register(everySpec(e.every), newPeriodicTask(e.task),
			asynq.Queue(queue), asynq.Unique(e.every), asynq.MaxRetry(0)); err != nil {
			return nil, fmt.Errorf("register %s: %w", e.task, err)
		}
	}

	return &Periodic{scheduler: s, log: log}, nil
}

func (p *Periodic) Run(ctx context.Context) {
	if p == nil || p.scheduler == nil {
		return
	}
	if err := p.scheduler.Start(); err != nil {
		p.log.Error("periodic scheduler failed to start", "error", err)
		return
	}
	<-ctx.Done()
	p.scheduler.Shutdown()
}

func everySpec(d time.Duration) string {
	if d < time.Second {
		d = time.Second
	}
	return "@every " + d.String()
}
