// Package channel sends outbound email and SMS for sequences and automation
// rules and records a "sent" engagement event for every successful dispatch.
package channel

import (
	"context"
	"errors"
	"time"
)

// Kind is an outbound channel.
type Kind string

const (
	KindEmail Kind = "email"
	KindSMS   Kind = "sms"
)

// Valid reports whether k is a supported channel.
func (k Kind) Valid() bool {
	return k == KindEmail || k == KindSMS
}

// Message is a request to contact one lead. TemplateID selects a catalog
// template; Subject and Body are used verbatim when no template is given.
type Message struct {
	LeadID     string
	CampaignID string
	Channel    Kind
	TemplateID string
	Subject    string
	Body       string
	Data       map[string]any
}

// Result describes a dispatched message.
type Result struct {
	MessageID string    `json:"messageId"`
	Channel   Kind      `json:"channel"`
	Recipient string    `json:"recipient"`
	SentAt    time.Time `json:"sentAt"`
}

// Envelope is the rendered message handed to a transport.
type Envelope struct {
	MessageID string
	To        string
	Subject   string
	Body      string
}

// EmailSender delivers a rendered email.
type EmailSender interface {
	SendEmail(ctx context.Context, env Envelope) error
}

// SMSSender delivers a rendered text message.
type SMSSender interface {
	SendSMS(ctx context.Context, env Envelope) error
}

var (
	ErrNoRecipient     = errors.New("lead has no address for channel")
	ErrUnknownTemplate = errors.New("unknown template")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
