package catalog

import (
	"context"
	"strings"
	"testing"
	"time"

	"leadflow_backend/internal/automation"
	"leadflow_backend/internal/channel"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads"
	"leadflow_backend/internal/sequences"
	"leadflow_backend/platform/clock"
	"leadflow_backend/platform/kv"
	"leadflow_backend/platform/logger"
)

const doc = `
templates:
  - id: hello
    channel: email
    subject: "Hi {{.FirstName}}"
    body: "Welcome"
sequences:
  - id: s1
    name: Follow-up
    triggerStatus: contacted
    steps:
      - delayHours: 0
        messageType: email
        templateId: hello
      - delayHours: 24
        messageType: sms
        body: nudge
        conditions:
          - field: not_replied
rules:
  - id: r1
    name: Opened
    trigger:
      type: email_opened
    actions:
      - type: schedule_call
        delayMinutes: 30
        params:
          inHours: 2
leads:
  - id: L1
    name: Dana Ortiz
    email: dana@example.com
campaigns:
  C1: [L1]
`

func TestApplySeedsEveryTarget(t *testing.T) {
	ctx := context.Background()
	f, err := Load(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	store := kv.NewMemoryStore()
	clk := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	log := logger.Discard()
	bus := events.NewInMemoryBus(log)
	templates := channel.NewTemplateSet()
	seqs := sequences.New(store, nil, bus, clk, log, sequences.Options{})
	engine := automation.New(automation.Deps{Store: store, Bus: bus, Clock: clk, Log: log}, automation.Intervals{})
	dir := leads.NewMemoryDirectory()
	targets := Targets{Templates: templates, Sequences: seqs, Rules: engine, Leads: dir}

	res, err := Apply(ctx, f, targets, log)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Templates != 1 || res.Sequences != 1 || res.Rules != 1 || res.Leads != 1 || res.Skipped != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !templates.Has("hello") {
		t.Fatalf("template not loaded")
	}
	seq, err := seqs.GetSequence(ctx, "s1")
	if err != nil || seq.TotalSteps != 2 || seq.Steps[1].Conditions[0].Field != "not_replied" {
		t.Fatalf("unexpected sequence %+v (%v)", seq, err)
	}
	rule, _ := engine.GetRule(ctx, "r1")
	if rule.Actions[0].DelayMinutes != 30 || rule.Actions[0].Params["inHours"] != float64(2) {
		t.Fatalf("unexpected rule actions: %+v", rule.Actions)
	}
	if n, _ := dir.CountLeadsForCampaign(ctx, "C1"); n != 1 {
		t.Fatalf("expected 1 campaign member, got %d", n)
	}

	again, err := Apply(ctx, f, Targets{Sequences: seqs, Rules: engine}, log)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if again.Sequences != 0 || again.Rules != 0 || again.Skipped != 2 {
		t.Fatalf("second apply should skip existing ids, got %+v", again)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	if _, err := Load(strings.NewReader("rules: [unterminated")); err == nil {
		t.Fatal("expected decode error")
	}
	f, err := Load(strings.NewReader(""))
	if err != nil || len(f.Rules) != 0 {
		t.Fatalf("empty document should load, got %+v (%v)", f, err)
	}
}
