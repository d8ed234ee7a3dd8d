package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	autohandler "leadflow_backend/internal/automation/handler"
	"leadflow_backend/internal/bootstrap"
	convhandler "leadflow_backend/internal/conversions/handler"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/http/router"
	leadshandler "leadflow_backend/internal/leads/handler"
	statushandler "leadflow_backend/internal/leadstatus/handler"
	resphandler "leadflow_backend/internal/responses/handler"
	"leadflow_backend/internal/scheduler"
	seqhandler "leadflow_backend/internal/sequences/handler"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr, "store", cfg.StoreDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Engine Components (Composition Root)
	// ========================================================================

	stack, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize engine", "error", err)
		panic("failed to initialize engine: " + err.Error())
	}
	defer stack.Close()

	if n, err := stack.Automation.RecoverQueue(ctx); err != nil {
		log.Error("failed to recover automation queue", "error", err)
	} else if n > 0 {
		log.Info("automation queue recovered", "executions", n)
	}

	events := resphandler.New(stack.Responses, stack.Validator)

	// With Redis the scheduler process owns the polling loops and inbound
	// events go through the worker queue. Without it the API runs everything.
	if cfg.IsSchedulerEnabled() {
		client, err := scheduler.NewClient(cfg)
		if err != nil {
			log.Error("failed to initialize scheduler client", "error", err)
			panic("failed to initialize scheduler client: " + err.Error())
		}
		defer func() { _ = client.Close() }()
		events.SetEnqueuer(client)
		log.Info("inbound events are queued through asynq", "queue", cfg.AsynqQueueName)
	} else {
		log.Warn("REDIS_URL not configured; running trigger checks and sequence ticks in-process")
		stack.Automation.Start(ctx)
		defer stack.Automation.Stop()

		local, err := scheduler.NewLocal(scheduler.Jobs{Sequences: stack.Sequences, Log: log}, scheduler.Intervals{
			SequenceTick: cfg.GetSequenceTickInterval(),
		}, log)
		if err != nil {
			log.Error("failed to initialize local scheduler", "error", err)
			panic("failed to initialize local scheduler: " + err.Error())
		}
		go local.Run(ctx)
	}

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:  cfg,
		Logger:  log,
		Health:  stack,
		Metrics: stack.Registry,
		Modules: []apphttp.Module{
			events,
			statushandler.New(stack.Statuses, stack.Validator),
			seqhandler.New(stack.Sequences, stack.Validator),
			autohandler.New(stack.Automation, stack.Validator),
			convhandler.New(stack.Conversions, stack.Validator),
			leadshandler.New(stack.Directory, stack.Tags, stack.Validator, cfg.GetDefaultPhoneRegion()),
		},
	}

	srv := &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", srv.Addr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}
