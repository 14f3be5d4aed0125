package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tujanalyst/tujanalyst/internal/auth"
	"github.com/tujanalyst/tujanalyst/internal/logging"
	"github.com/tujanalyst/tujanalyst/internal/metrics"
	"github.com/tujanalyst/tujanalyst/internal/models"
	"github.com/tujanalyst/tujanalyst/internal/pipeline"
	"github.com/tujanalyst/tujanalyst/internal/storage"
)

type recordingProcessor struct {
	mu   sync.Mutex
	seen []models.TriggerEvent
}

func (p *recordingProcessor) ProcessTrigger(ctx context.Context, t *models.TriggerEvent) pipeline.Outcome {
	p.mu.Lock()
	p.seen = append(p.seen, *t)
	p.mu.Unlock()
	if ctx.Err() != nil {
		return pipeline.Outcome{TriggerID: t.TriggerID, Err: ctx.Err()}
	}
	return pipeline.Outcome{TriggerID: t.TriggerID, Status: t.Status}
}

func (p *recordingProcessor) calls() []models.TriggerEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.TriggerEvent(nil), p.seen...)
}

type testServer struct {
	store     *storage.MemoryStore
	processor *recordingProcessor
	handler   *Handler
	router    http.Handler
	token     string
}

func newTestServer(t *testing.T, health HealthChecker) *testServer {
	t.Helper()
	hash, err := auth.HashPassword("letmein")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	authCfg := auth.Config{JWTSecret: "test-secret", PasswordHash: hash, TokenDuration: time.Hour}
	token, err := auth.GenerateToken(adminUserID, authCfg.JWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	m, err := metrics.NewCollector()
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	store := storage.NewMemoryStore()
	processor := &recordingProcessor{}
	h := NewHandler(store, store, processor, health, logging.Discard())
	return &testServer{
		store:     store,
		processor: processor,
		handler:   h,
		router:    NewRouter(h, authCfg, m),
		token:     token,
	}
}

func (s *testServer) do(method, path, body string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	if authed {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestCreateTriggerStoresHumanTriggerAndDispatches(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodPost, "/api/triggers",
		`{"company_symbol":" abb ","company_name":"ABB India","content":"Large order win","notes":"check margins"}`, true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp CreateTriggerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != models.TriggerStatusGatePassed || !resp.Queued {
		t.Errorf("unexpected response %+v", resp)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.handler.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	stored, err := s.store.Get(context.Background(), resp.TriggerID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.CompanySymbol != "ABB" {
		t.Errorf("expected normalized symbol ABB, got %q", stored.CompanySymbol)
	}
	if stored.Priority != models.TriggerPriorityHigh || stored.Source != models.TriggerSourceHuman {
		t.Errorf("unexpected priority/source %s/%s", stored.Priority, stored.Source)
	}
	if stored.TriggeredBy != adminUserID || stored.HumanNotes != "check margins" {
		t.Errorf("unexpected provenance %q %q", stored.TriggeredBy, stored.HumanNotes)
	}
	if len(stored.StatusHistory) != 1 || stored.StatusHistory[0].Reason != models.HumanBypassReason {
		t.Errorf("unexpected history %+v", stored.StatusHistory)
	}

	calls := s.processor.calls()
	if len(calls) != 1 || calls[0].TriggerID != resp.TriggerID {
		t.Fatalf("expected one dispatch for %s, got %+v", resp.TriggerID, calls)
	}
}

func TestCreateTriggerRejectsBadRequests(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name   string
		body   string
		authed bool
		want   int
	}{
		{name: "unauthenticated", body: `{"content":"x"}`, authed: false, want: http.StatusUnauthorized},
		{name: "malformed json", body: `{`, authed: true, want: http.StatusBadRequest},
		{name: "no content or url", body: `{"company_symbol":"ABB"}`, authed: true, want: http.StatusBadRequest},
		{name: "bad url scheme", body: `{"source_url":"ftp://example.com/a.pdf"}`, authed: true, want: http.StatusBadRequest},
		{name: "symbol with spaces", body: `{"company_symbol":"AB B","content":"x"}`, authed: true, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/triggers", tt.body, tt.authed)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}

	if n := len(s.processor.calls()); n != 0 {
		t.Errorf("expected no dispatches, got %d", n)
	}
}

func TestGetTrigger(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	trigger := models.NewTriggerEvent(models.TriggerSourceNSE, "Board outcome", now)
	trigger.CompanySymbol = "ABB"
	if _, err := s.store.Save(ctx, trigger); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rec := s.do(http.MethodGet, "/api/triggers/"+trigger.TriggerID, "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp TriggerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Trigger.TriggerID != trigger.TriggerID || resp.Trigger.Status != models.TriggerStatusPending {
		t.Errorf("unexpected trigger %+v", resp.Trigger)
	}
	if resp.Report != nil {
		t.Errorf("expected no report, got %+v", resp.Report)
	}

	if rec := s.do(http.MethodGet, "/api/triggers/missing", "", true); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestListTriggersFilters(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		trigger := models.NewTriggerEvent(models.TriggerSourceBSE, "item", now.Add(time.Duration(i)*time.Minute))
		if _, err := s.store.Save(ctx, trigger); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	rec := s.do(http.MethodGet, "/api/triggers?limit=2&status=pending", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp TriggersResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("expected 2 triggers, got %d", resp.Count)
	}

	if rec := s.do(http.MethodGet, "/api/triggers?status=bogus", "", true); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid status, got %d", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodPost, "/api/auth/login", `{"password":"letmein"}`, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := auth.ValidateToken(resp.Token, "test-secret"); err != nil {
		t.Errorf("issued token does not validate: %v", err)
	}

	if rec := s.do(http.MethodPost, "/api/auth/login", `{"password":"nope"}`, false); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	healthy := newTestServer(t, func(context.Context) error { return nil })
	if rec := healthy.do(http.MethodGet, "/healthz", "", false); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	degraded := newTestServer(t, func(context.Context) error { return errors.New("connection refused") })
	rec := degraded.do(http.MethodGet, "/healthz", "", false)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "degraded") {
		t.Errorf("expected degraded body, got %s", rec.Body.String())
	}

	rec = healthy.do(http.MethodGet, "/metrics", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "/healthz") {
		t.Errorf("expected request metrics labelled by route, got:\n%s", rec.Body.String())
	}
}
