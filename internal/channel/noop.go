package channel

import (
	"context"

	"leadflow_backend/platform/logger"
)

// NoopSender logs instead of delivering. It stands in for unconfigured transports.
type NoopSender struct {
	log *logger.Logger
}

func NewNoopSender(log *logger.Logger) *NoopSender {
	return &NoopSender{log: log}
}

func (s *NoopSender) SendEmail(_ context.Context, env Envelope) error {
	s.log.Info("email not sent, no transport configured", "to", env.To, "subject", env.Subject, "messageId", env.MessageID)
	return nil
}

func (s *NoopSender) SendSMS(_ context.Context, env Envelope) error {
	s.log.Info("sms not sent, no transport configured", "to", env.To, "messageId", env.MessageID)
	return nil
}
