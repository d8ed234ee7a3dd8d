// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// LeadIDKey is the context key for the lead being processed
	LeadIDKey contextKey = "lead_id"
	// ExecutionIDKey is the context key for an automation or sequence execution
	ExecutionIDKey contextKey = "execution_id"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	return newWithWriter(env, os.Stdout)
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func newWithWriter(env string, w io.Writer) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithContext returns a logger with request, lead and execution ids from ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	attrs := make([]any, 0, 3)
	if v, ok := ctx.Value(RequestIDKey).(string); ok && v != "" {
		attrs = append(attrs, slog.String("request_id", v))
	}
	if v, ok := ctx.Value(LeadIDKey).(string); ok && v != "" {
		attrs = append(attrs, slog.String("lead_id", v))
	}
	if v, ok := ctx.Value(ExecutionIDKey).(string); ok && v != "" {
		attrs = append(attrs, slog.String("execution_id", v))
	}
	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}

// With returns a logger carrying additional attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// ActionFailed logs an automation action that failed without aborting its execution.
func (l *Logger) ActionFailed(ruleID, executionID, actionType string, err error) {
	l.Warn("automation_action_failed",
		slog.String("rule_id", ruleID),
		slog.String("execution_id", executionID),
		slog.String("action_type", actionType),
		slog.String("error", err.Error()),
	)
}

// ChannelDispatch logs an outbound message handed to a channel collaborator.
func (l *Logger) ChannelDispatch(channel, leadID, campaignID, messageID string, err error) {
	if err != nil {
		l.Warn("channel_dispatch",
			slog.String("channel", channel),
			slog.String("lead_id", leadID),
			slog.String("campaign_id", campaignID),
			slog.String("error", err.Error()),
		)
		return
	}
	l.Info("channel_dispatch",
		slog.String("channel", channel),
		slog.String("lead_id", leadID),
		slog.String("campaign_id", campaignID),
		slog.String("message_id", messageID),
	)
}

// StoreError logs a persistence failure.
func (l *Logger) StoreError(operation string, err error) {
	l.Error("store_error",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// RateLimitExceeded logs a request rejected by the rate limiter.
func (l *Logger) RateLimitExceeded(ip, path string) {
	l.Warn("rate_limit_exceeded",
		slog.String("client_ip", ip),
		slog.String("path", path),
	)
}
