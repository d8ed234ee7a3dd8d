package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

// TelnyxClient sends SMS through the Telnyx messaging API.
type TelnyxClient struct {
	baseURL   string
	apiKey    string
	from      string
	profileID string
	http      *http.Client
	log       *logger.Logger
}

type telnyxRequest struct {
	From               string `json:"from,omitempty"`
	To                 string `json:"to"`
	Text               string `json:"text"`
	MessagingProfileID string `json:"messaging_profile_id,omitempty"`
}

// NewTelnyxClient returns nil when no API key is configured.
func NewTelnyxClient(cfg config.SMSConfig, log *logger.Logger) *TelnyxClient {
	if cfg.GetTelnyxAPIKey() == "" {
		return nil
	}
	return &TelnyxClient{
		baseURL:   strings.TrimRight(cfg.GetTelnyxAPIURL(), "/"),
		apiKey:    cfg.GetTelnyxAPIKey(),
		from:      cfg.GetTelnyxFromNumber(),
		profileID: cfg.GetTelnyxMessagingProfileID(),
		http:      &http.Client{Timeout: 10 * time.Second},
		log:       log,
	}
}

// SendSMS expects env.To in E.164. 4xx answers other than 429 are permanent.
func (c *TelnyxClient) SendSMS(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(telnyxRequest{
		From:               c.from,
		To:                 env.To,
		Text:               env.Body,
		MessagingProfileID: c.profileID,
	})
	if err != nil {
		return Permanent(fmt.Errorf("marshal sms payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if env.MessageID != "" {
		req.Header.Set("Idempotency-Key", env.MessageID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sms request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("sms provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		if resp.StatusCode < http.StatusInternalServerError && resp.StatusCode != http.StatusTooManyRequests {
			return Permanent(err)
		}
		return err
	}

	c.log.Info("sms sent", "to", env.To, "messageId", env.MessageID)
	return nil
}
