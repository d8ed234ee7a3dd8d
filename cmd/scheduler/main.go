package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"leadflow_backend/internal/bootstrap"
	"leadflow_backend/internal/scheduler"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env, "store", cfg.StoreDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize engine", "error", err)
		panic("failed to initialize engine: " + err.Error())
	}
	defer stack.Close()

	jobs := scheduler.Jobs{
		Automation: stack.Automation,
		Sequences:  stack.Sequences,
		Events:     stack.Responses,
		Log:        log,
	}

	if !cfg.IsSchedulerEnabled() {
		log.Warn("REDIS_URL not configured; running the local cron driver")
		local, err := scheduler.NewLocal(jobs, scheduler.Intervals{
			TriggerCheck: cfg.GetTriggerCheckInterval(),
			QueueDrain:   cfg.GetQueueDrainInterval(),
			SequenceTick: cfg.GetSequenceTickInterval(),
		}, log)
		if err != nil {
			log.Error("failed to initialize local scheduler", "error", err)
			panic("failed to initialize local scheduler: " + err.Error())
		}
		if _, err := stack.Automation.RecoverQueue(ctx); err != nil {
			log.Error("failed to recover automation queue", "error", err)
		}
		local.Run(ctx)
		return
	}

	switch cfg.StoreDriver {
	case "memory", "sqlite":
		log.Warn("store is not shared with the api process; queued events and executions stay in this process",
			"store", cfg.StoreDriver)
	default:
		jobs.Shared = true
	}

	periodic, err := scheduler.NewPeriodic(cfg, log)
	if err != nil {
		log.Error("failed to initialize periodic scheduler", "error", err)
		panic("failed to initialize periodic scheduler: " + err.Error())
	}
	go periodic.Run(ctx)

	worker, err := scheduler.NewWorker(cfg, jobs, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}
	worker.Run(ctx)
}
