// Package bootstrap is the shared composition root of the api, scheduler and
// leadflowctl binaries. It opens the configured store and wires every engine
// component with its collaborators and bus subscriptions.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadflow_backend/internal/automation"
	"leadflow_backend/internal/catalog"
	"leadflow_backend/internal/channel"
	"leadflow_backend/internal/conversions"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads"
	"leadflow_backend/internal/leadstatus"
	"leadflow_backend/internal/metrics"
	"leadflow_backend/internal/responses"
	"leadflow_backend/internal/sequences"
	"leadflow_backend/platform/clock"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/db"
	"leadflow_backend/platform/kv"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sethvargo/go-retry"
)

const (
	redisNamespace = "leadflow:"
	healthProbeKey = "health:probe"
)

// Stack holds every wired component.
type Stack struct {
	Config    *config.Config
	Log       *logger.Logger
	Store     kv.Store
	Bus       *events.InMemoryBus
	Validator *validator.Validator
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics

	Directory   leads.Registry
	Tags        *leads.TagStore
	Templates   *channel.TemplateSet
	Responses   *responses.Tracker
	Statuses    *leadstatus.Manager
	Dispatcher  *channel.Dispatcher
	Sequences   *sequences.Manager
	Automation  *automation.Engine
	Conversions *conversions.Tracker

	closers []func()
}

// Open connects the store selected by STORE_DRIVER and builds the stack.
// When CATALOG_PATH is set the catalog is applied before returning.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Stack, error) {
	s := &Stack{
		Config:    cfg,
		Log:       log,
		Bus:       events.NewInMemoryBus(log),
		Validator: validator.New(),
		Registry:  prometheus.NewRegistry(),
	}
	s.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.Metrics = metrics.New(s.Registry)

	if err := s.openStore(ctx); err != nil {
		s.Close()
		return nil, err
	}
	s.wire()

	if path := cfg.GetCatalogPath(); path != "" {
		if _, err := s.ApplyCatalog(ctx, path); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Stack) openStore(ctx context.Context) error {
	cfg := s.Config
	switch cfg.GetStoreDriver() {
	case "postgres":
		var pool *pgxpool.Pool
		if err := withRetry(ctx, s.Log, "database connection", func(ctx context.Context) error {
			p, err := db.NewPool(ctx, cfg)
			if err != nil {
				return err
			}
			pool = p
			return nil
		}); err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		if err := withRetry(ctx, s.Log, "database migrations", func(ctx context.Context) error {
			return db.RunMigrations(ctx, pool)
		}); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		s.Log.Info("database migrations complete")
		s.Store = kv.NewPostgresStore(pool)
		s.Directory = leads.NewRepository(pool)

	case "redis":
		var store *kv.RedisStore
		if err := withRetry(ctx, s.Log, "redis connection", func(ctx context.Context) error {
			st, err := kv.OpenRedisStore(ctx, cfg.GetRedisURL(), redisNamespace)
			if err != nil {
				return err
			}
			store = st
			return nil
		}); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		s.closers = append(s.closers, func() { _ = store.Close() })
		s.Store = store

	case "sqlite":
		store, err := kv.OpenSQLiteStore(cfg.GetSQLitePath())
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		s.closers = append(s.closers, func() { _ = store.Close() })
		s.Store = store

	default:
		s.Store = kv.NewMemoryStore()
	}

	if s.Directory == nil {
		s.Directory = leads.NewMemoryDirectory()
	}
	s.Log.Info("store opened", "driver", cfg.GetStoreDriver())
	return nil
}

func (s *Stack) wire() {
	cfg := s.Config
	clk := clock.Real{}

	s.Tags = leads.NewTagStore(s.Store)
	s.Templates = channel.NewTemplateSet()

	s.Responses = responses.New(s.Store, s.Bus, clk, s.Validator, s.Log)
	s.Responses.SetMetrics(s.Metrics)

	s.Statuses = leadstatus.New(s.Store, s.Bus, clk, s.Log)
	s.Statuses.SetMetrics(s.Metrics)
	s.Statuses.RegisterHandlers(s.Bus)

	var email channel.EmailSender = channel.NewNoopSender(s.Log)
	if cfg.GetEmailEnabled() {
		email = channel.NewSMTPSender(cfg)
	} else {
		s.Log.Warn("SMTP not configured; email is logged only")
	}
	var sms channel.SMSSender = channel.NewNoopSender(s.Log)
	if cfg.GetTelnyxAPIKey() != "" {
		sms = channel.NewTelnyxClient(cfg, s.Log)
	} else {
		s.Log.Warn("TELNYX_API_KEY not configured; SMS is logged only")
	}

	s.Dispatcher = channel.NewDispatcher(s.Directory, s.Templates, email, sms, s.Responses, clk, s.Log, channel.Options{
		RatePerSecond: cfg.GetChannelRatePerSecond(),
		PhoneRegion:   cfg.GetDefaultPhoneRegion(),
	})
	s.Dispatcher.SetMetrics(s.Metrics)

	channel.NewOperatorNotifier(email, cfg.GetOperatorEmail(), s.Log).RegisterHandlers(s.Bus)

	s.Sequences = sequences.New(s.Store, s.Dispatcher, s.Bus, clk, s.Log, sequences.Options{
		RetryDelay:      cfg.GetSequenceRetryDelay(),
		MaxStepAttempts: cfg.GetSequenceMaxStepAttempts(),
		Concurrency:     cfg.GetSequenceConcurrency(),
	})
	s.Sequences.SetConditionEvaluator(sequences.NewResponseConditions(s.Responses, s.Statuses))
	s.Sequences.SetDirectory(s.Directory)
	s.Sequences.SetMetrics(s.Metrics)
	s.Sequences.RegisterHandlers(s.Bus)

	s.Automation = automation.New(automation.Deps{
		Store:     s.Store,
		Sender:    s.Dispatcher,
		Statuses:  s.Statuses,
		Responses: s.Responses,
		Sequences: s.Sequences,
		Tags:      s.Tags,
		Directory: s.Directory,
		Bus:       s.Bus,
		Clock:     clk,
		Log:       s.Log,
	}, automation.Intervals{
		TriggerCheck: cfg.GetTriggerCheckInterval(),
		QueueDrain:   cfg.GetQueueDrainInterval(),
	})
	s.Automation.SetMetrics(s.Metrics)

	s.Conversions = conversions.New(conversions.Deps{
		Store:     s.Store,
		Events:    s.Responses,
		Statuses:  s.Statuses,
		Directory: s.Directory,
		Bus:       s.Bus,
		Clock:     clk,
		Validator: s.Validator,
		Log:       s.Log,
		Model:     conversions.Model(cfg.GetAttributionModel()),
	})
	s.Conversions.SetMetrics(s.Metrics)
}

// ApplyCatalog seeds templates, leads, sequences and rules from a YAML file.
func (s *Stack) ApplyCatalog(ctx context.Context, path string) (catalog.Result, error) {
	f, err := catalog.LoadFile(path)
	if err != nil {
		return catalog.Result{}, err
	}
	return catalog.Apply(ctx, f, catalog.Targets{
		Templates: s.Templates,
		Sequences: s.Sequences,
		Rules:     s.Automation,
		Leads:     s.Directory,
	}, s.Log)
}

// Ping reports whether the store answers. A missing probe key is healthy.
func (s *Stack) Ping(ctx context.Context) error {
	_, err := s.Store.Get(ctx, healthProbeKey)
	if err == nil || errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	return err
}

// Close waits for in-flight bus handlers and releases the store.
func (s *Stack) Close() {
	s.Bus.Wait()
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func withRetry(ctx context.Context, log *logger.Logger, name string, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(4, retry.NewExponential(2*time.Second))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := fn(ctx); err != nil {
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}
