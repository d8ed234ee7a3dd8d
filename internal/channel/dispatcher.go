package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"leadflow_backend/internal/leads"
	"leadflow_backend/internal/metrics"
	"leadflow_backend/internal/responses"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/clock"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/phone"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

// SentRecorder records the "sent" engagement event after a dispatch.
type SentRecorder interface {
	TrackSent(ctx context.Context, leadID, campaignID, messageID string, source responses.Source) (responses.Event, error)
}

// Options tune a Dispatcher. Zero values pick defaults.
type Options struct {
	RatePerSecond float64
	MaxRetries    uint64
	RetryBase     time.Duration
	PhoneRegion   string
}

// Dispatcher resolves the lead, renders the message, waits for the rate
// limiter and hands the envelope to the transport, retrying transient failures.
type Dispatcher struct {
	directory leads.Directory
	templates *TemplateSet
	email     EmailSender
	sms       SMSSender
	recorder  SentRecorder
	limiter   *rate.Limiter
	opts      Options
	clock     clock.Clock
	log       *logger.Logger
	metrics   *metrics.Metrics
}

func NewDispatcher(directory leads.Directory, templates *TemplateSet, email EmailSender, sms SMSSender, recorder SentRecorder, clk clock.Clock, log *logger.Logger, opts Options) *Dispatcher {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 200 * time.Millisecond
	}
	limit := rate.Inf
	burst := 1
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
		burst = max(1, int(opts.RatePerSecond))
	}
	if templates == nil {
		templates = NewTemplateSet()
	}
	return &Dispatcher{
		directory: directory,
		templates: templates,
		email:     email,
		sms:       sms,
		recorder:  recorder,
		limiter:   rate.NewLimiter(limit, burst),
		opts:      opts,
		clock:     clk,
		log:       log,
	}
}

// SetMetrics attaches Prometheus collectors.
func (d *Dispatcher) SetMetrics(m *metrics.Metrics) {
	d.metrics = m
}

// Templates exposes the catalog so callers can validate template ids.
func (d *Dispatcher) Templates() *TemplateSet {
	return d.templates
}

// Send dispatches msg. A message that cannot be delivered returns an error and
// records nothing; a delivered message records exactly one sent event.
func (d *Dispatcher) Send(ctx context.Context, msg Message) (Result, error) {
	if !msg.Channel.Valid() {
		return Result{}, apperr.Validation("unknown channel: " + string(msg.Channel)).WithOp("channel.Send")
	}
	contact, err := d.directory.GetContact(ctx, msg.LeadID)
	if errors.Is(err, leads.ErrNotFound) {
		return Result{}, apperr.NotFound("lead not in directory: " + msg.LeadID).WithOp("channel.Send")
	}
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindUnavailable, "lead directory lookup failed", err)
	}

	env, err := d.envelope(msg, contact)
	if err != nil {
		d.metrics.ChannelSend(string(msg.Channel), "rejected")
		return Result{}, err
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit wait: %w", err)
	}

	backoff := retry.WithMaxRetries(d.opts.MaxRetries, retry.NewExponential(d.opts.RetryBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		sendErr := d.transport(ctx, msg.Channel, env)
		if sendErr != nil && !IsPermanent(sendErr) {
			return retry.RetryableError(sendErr)
		}
		return sendErr
	})
	d.log.ChannelDispatch(string(msg.Channel), msg.LeadID, msg.CampaignID, env.MessageID, err)
	if err != nil {
		d.metrics.ChannelSend(string(msg.Channel), "failed")
		return Result{}, apperr.Wrap(apperr.KindUnavailable, "channel dispatch failed", err).WithOp("channel.Send")
	}
	d.metrics.ChannelSend(string(msg.Channel), "sent")

	res := Result{MessageID: env.MessageID, Channel: msg.Channel, Recipient: env.To, SentAt: d.clock.Now()}
	if d.recorder != nil && msg.CampaignID != "" {
		if _, err := d.recorder.TrackSent(ctx, msg.LeadID, msg.CampaignID, env.MessageID, responses.Source(msg.Channel)); err != nil {
			d.log.Warn("sent event not recorded", "leadId", msg.LeadID, "messageId", env.MessageID, "error", err)
		}
	}
	return res, nil
}

func (d *Dispatcher) transport(ctx context.Context, kind Kind, env Envelope) error {
	switch kind {
	case KindEmail:
		if d.email == nil {
			return Permanent(errors.New("email transport not configured"))
		}
		return d.email.SendEmail(ctx, env)
	default:
		if d.sms == nil {
			return Permanent(errors.New("sms transport not configured"))
		}
		return d.sms.SendSMS(ctx, env)
	}
}

func (d *Dispatcher) envelope(msg Message, contact leads.Contact) (Envelope, error) {
	env := Envelope{MessageID: uuid.NewString(), Subject: msg.Subject, Body: msg.Body}

	switch msg.Channel {
	case KindEmail:
		env.To = strings.TrimSpace(contact.Email)
	case KindSMS:
		if phone.IsValid(contact.Phone, d.opts.PhoneRegion) {
			env.To = phone.NormalizeE164(contact.Phone, d.opts.PhoneRegion)
		}
	}
	if env.To == "" {
		return Envelope{}, apperr.Wrap(apperr.KindValidation, "cannot dispatch", fmt.Errorf("%w: %s", ErrNoRecipient, msg.Channel))
	}

	if msg.TemplateID != "" {
		subject, body, err := d.templates.Render(msg.TemplateID, templateData(contact, msg))
		if errors.Is(err, ErrUnknownTemplate) {
			return Envelope{}, apperr.Wrap(apperr.KindValidation, "cannot dispatch", err)
		}
		if err != nil {
			return Envelope{}, apperr.Wrap(apperr.KindInternal, "template render failed", err)
		}
		if env.Subject == "" {
			env.Subject = subject
		}
		env.Body = body
	}
	if strings.TrimSpace(env.Body) == "" {
		return Envelope{}, apperr.Validation("message body is empty").WithOp("channel.Send")
	}
	return env, nil
}

func templateData(contact leads.Contact, msg Message) map[string]any {
	data := map[string]any{
		"LeadID":       contact.LeadID,
		"Name":         contact.Name,
		"FirstName":    firstName(contact.Name),
		"Email":        contact.Email,
		"Phone":        contact.Phone,
		"BusinessType": contact.BusinessType,
		"CampaignID":   msg.CampaignID,
	}
	for k, v := range msg.Data {
		data[k] = v
	}
	return data
}

func firstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
