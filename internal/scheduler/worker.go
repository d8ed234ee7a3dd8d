package scheduler

import (
	"context"
	"fmt"

	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// Worker runs engine jobs delivered through asynq.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	jobs   Jobs
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, jobs Jobs, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	w := &Worker{
		server: server,
		jobs:   jobs,
		log:    log,
	}
	w.mux = w.routes()
	return w, nil
}

func (w *Worker) routes() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskCheckTriggers, w.handleCheckTriggers)
	mux.HandleFunc(TaskDrainQueue, w.handleDrainQueue)
	mux.HandleFunc(TaskSequenceTick, w.handleSequenceTick)
	mux.HandleFunc(TaskTrackEvent, w.handleTrackEvent)
	return mux
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleCheckTriggers(ctx context.Context, _ *asynq.Task) error {
	return w.jobs.CheckTriggers(ctx)
}

func (w *Worker) handleDrainQueue(ctx context.Context, _ *asynq.Task) error {
	return w.jobs.DrainQueue(ctx)
}

func (w *Worker) handleSequenceTick(ctx context.Context, _ *asynq.Task) error {
	return w.jobs.SequenceTick(ctx)
}

func (w *Worker) handleTrackEvent(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseTrackEventPayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	err = w.jobs.TrackEvent(ctx, payload.Params)
	if apperr.Is(err, apperr.KindValidation) {
		w.log.Warn("inbound event rejected", "leadId", payload.Params.LeadID, "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}
