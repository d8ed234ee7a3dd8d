package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"leadflow_backend/internal/channel"
	"leadflow_backend/internal/events"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/sequences"
	"leadflow_backend/platform/clock"
	"leadflow_backend/platform/kv"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

type okSender struct{ sent int }

func (s *okSender) Send(_ context.Context, msg channel.Message) (channel.Result, error) {
	s.sent++
	return channel.Result{MessageID: "m-" + msg.LeadID, Channel: msg.Channel}, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *okSender) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sender := &okSender{}
	clk := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	mgr := sequences.New(kv.NewMemoryStore(), sender, events.NewInMemoryBus(logger.Discard()), clk, logger.Discard(), sequences.Options{})

	engine := gin.New()
	New(mgr, validator.New()).RegisterRoutes(&apphttp.RouterContext{Engine: engine, V1: engine.Group("/api/v1")})
	return engine, sender
}

func do(engine *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func createSequence(t *testing.T, engine *gin.Engine) sequences.Sequence {
	t.Helper()
	rec := do(engine, http.MethodPost, "/api/v1/sequences", map[string]any{
		"id":   "welcome",
		"name": "Welcome",
		"steps": []map[string]any{
			{"delayHours": 0, "messageType": "email", "body": "hi"},
			{"delayHours": 48, "messageType": "sms", "body": "still there?"},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var seq sequences.Sequence
	if err := json.Unmarshal(rec.Body.Bytes(), &seq); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return seq
}

func TestStartPauseResumeCancel(t *testing.T) {
	engine, sender := newTestRouter(t)
	seq := createSequence(t, engine)
	if seq.TotalSteps != 2 {
		t.Fatalf("expected 2 steps, got %d", seq.TotalSteps)
	}

	rec := do(engine, http.MethodPost, "/api/v1/sequences/welcome/start", map[string]any{"leadId": "L1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("start: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var exec sequences.Execution
	_ = json.Unmarshal(rec.Body.Bytes(), &exec)
	if sender.sent != 1 || exec.CurrentStep != 1 {
		t.Fatalf("expected first step sent, sent=%d exec=%+v", sender.sent, exec)
	}

	if rec := do(engine, http.MethodPost, "/api/v1/sequences/welcome/start", map[string]any{"leadId": "L1"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("second start: expected 400, got %d", rec.Code)
	}

	for _, step := range []struct {
		action string
		want   sequences.ExecutionStatus
	}{
		{"pause", sequences.ExecutionPaused},
		{"resume", sequences.ExecutionActive},
		{"cancel", sequences.ExecutionCancelled},
	} {
		rec := do(engine, http.MethodPost, "/api/v1/sequence-executions/"+exec.ID+"/"+step.action, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", step.action, rec.Code)
		}
		var got sequences.Execution
		_ = json.Unmarshal(rec.Body.Bytes(), &got)
		if got.Status != step.want {
			t.Fatalf("%s: expected %s, got %s", step.action, step.want, got.Status)
		}
	}

	rec = do(engine, http.MethodGet, "/api/v1/sequences/welcome/stats", nil)
	var stats sequences.Stats
	_ = json.Unmarshal(rec.Body.Bytes(), &stats)
	if stats.Total != 1 || stats.Cancelled != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestSetActiveRequiresFlag(t *testing.T) {
	engine, _ := newTestRouter(t)
	createSequence(t, engine)

	if rec := do(engine, http.MethodPatch, "/api/v1/sequences/welcome/active", map[string]any{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec := do(engine, http.MethodPatch, "/api/v1/sequences/welcome/active", map[string]any{"active": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := do(engine, http.MethodPost, "/api/v1/sequences/welcome/start", map[string]any{"leadId": "L2"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("inactive sequence start: expected 400, got %d", rec.Code)
	}
}

func TestUnknownSequenceIsNotFound(t *testing.T) {
	engine, _ := newTestRouter(t)
	if rec := do(engine, http.MethodGet, "/api/v1/sequences/missing", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
