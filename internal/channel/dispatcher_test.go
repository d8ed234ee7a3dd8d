package channel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads"
	"leadflow_backend/internal/responses"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/clock"
	"leadflow_backend/platform/kv"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"
)

type fakeTransport struct {
	mu       sync.Mutex
	failures []error
	sent     []Envelope
	calls    int
}

func (f *fakeTransport) next(env Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return err
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeTransport) SendEmail(_ context.Context, env Envelope) error { return f.next(env) }
func (f *fakeTransport) SendSMS(_ context.Context, env Envelope) error   { return f.next(env) }

type fixture struct {
	dispatcher *Dispatcher
	transport  *fakeTransport
	tracker    *responses.Tracker
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))

	dir := leads.NewMemoryDirectory()
	_ = dir.UpsertContact(ctx, leads.Contact{LeadID: "L1", Name: "Dana Reyes", Email: "dana@example.com", Phone: "(201) 555-0123", BusinessType: "dental"})
	_ = dir.UpsertContact(ctx, leads.Contact{LeadID: "L2", Name: "No Contact"})

	set := NewTemplateSet()
	if err := set.Add(Template{ID: "intro", Channel: KindEmail, Subject: "Hi {{.FirstName}}", Body: "Missed calls cost {{.BusinessType}} offices money."}); err != nil {
		t.Fatalf("add template: %v", err)
	}

	tracker := responses.New(kv.NewMemoryStore(), events.NewInMemoryBus(logger.Discard()), clk, validator.New(), logger.Discard())
	transport := &fakeTransport{}
	d := NewDispatcher(dir, set, transport, transport, tracker, clk, logger.Discard(), Options{RetryBase: time.Millisecond, MaxRetries: 3})
	return fixture{dispatcher: d, transport: transport, tracker: tracker}
}

func TestSendRendersTemplateAndRecordsSent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.dispatcher.Send(ctx, Message{LeadID: "L1", CampaignID: "C1", Channel: KindEmail, TemplateID: "intro"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(f.transport.sent) != 1 {
		t.Fatalf("expected one delivery, got %d", len(f.transport.sent))
	}
	env := f.transport.sent[0]
	if env.Subject != "Hi Dana" || !strings.Contains(env.Body, "dental") || env.To != "dana@example.com" {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	evts, _ := f.tracker.GetLeadEvents(ctx, "L1")
	if len(evts) != 1 || evts[0].Type != responses.EventSent || evts[0].MessageID != res.MessageID {
		t.Fatalf("expected one sent event for %s, got %+v", res.MessageID, evts)
	}
}

func TestSendRetriesTransientFailures(t *testing.T) {
	f := newFixture(t)
	f.transport.failures = []error{errors.New("connection reset"), errors.New("timeout")}

	if _, err := f.dispatcher.Send(context.Background(), Message{LeadID: "L1", CampaignID: "C1", Channel: KindSMS, Body: "Quick question"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if f.transport.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.transport.calls)
	}
	if f.transport.sent[0].To != "+12015550123" {
		t.Fatalf("expected E.164 recipient, got %s", f.transport.sent[0].To)
	}
}

func TestSendDoesNotRetryPermanentFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.transport.failures = []error{Permanent(errors.New("invalid number"))}

	_, err := f.dispatcher.Send(ctx, Message{LeadID: "L1", CampaignID: "C1", Channel: KindSMS, Body: "Hello"})
	if !apperr.Is(err, apperr.KindUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if f.transport.calls != 1 {
		t.Fatalf("permanent failure must not be retried, got %d calls", f.transport.calls)
	}
	evts, _ := f.tracker.GetLeadEvents(ctx, "L1")
	if len(evts) != 0 {
		t.Fatalf("failed dispatch must not record a sent event")
	}
}

func TestSendRejectsBeforeDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		msg  Message
		kind apperr.Kind
	}{
		{"unknown lead", Message{LeadID: "nobody", Channel: KindEmail, Body: "x"}, apperr.KindNotFound},
		{"no address", Message{LeadID: "L2", Channel: KindEmail, Body: "x"}, apperr.KindValidation},
		{"unknown template", Message{LeadID: "L1", Channel: KindEmail, TemplateID: "missing"}, apperr.KindValidation},
		{"empty body", Message{LeadID: "L1", Channel: KindEmail}, apperr.KindValidation},
		{"unknown channel", Message{LeadID: "L1", Channel: "fax", Body: "x"}, apperr.KindValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.dispatcher.Send(ctx, tc.msg)
			if !apperr.Is(err, tc.kind) {
				t.Fatalf("expected kind %v, got %v", tc.kind, err)
			}
		})
	}
	if f.transport.calls != 0 {
		t.Fatalf("rejected messages must not reach the transport")
	}
}

func TestLoadTemplates(t *testing.T) {
	doc := `
templates:
  - id: reminder
    channel: sms
    body: "Hi {{.Name}}, still interested?"
`
	set, err := LoadTemplates(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	_, body, err := set.Render("reminder", map[string]any{"Name": "Sam"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if body != "Hi Sam, still interested?" {
		t.Fatalf("unexpected body %q", body)
	}

	if _, err := LoadTemplates(strings.NewReader("templates:\n  - id: bad\n    channel: fax\n")); err == nil {
		t.Fatalf("expected error for unknown channel")
	}
}
