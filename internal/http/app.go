// Package http provides HTTP server infrastructure including module registration.
package http

import (
	"context"

	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"github.com/prometheus/client_golang/prometheus"
)

// HealthChecker exposes minimal functionality for readiness checks.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App holds the fully initialized application dependencies.
// This is populated by main.go (the composition root) and passed to the router.
type App struct {
	// Config holds the router configuration.
	Config config.HTTPConfig
	// Logger is the structured logger.
	Logger *logger.Logger
	// Health is used for readiness checks against the key-value store.
	Health HealthChecker
	// Metrics is the registry served on /metrics. Nil disables the endpoint.
	Metrics *prometheus.Registry
	// Modules contains all HTTP-facing engine components.
	Modules []Module
}
