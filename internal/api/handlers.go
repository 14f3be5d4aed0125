package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"log/slog"

	"github.com/tujanalyst/tujanalyst/internal/auth"
	"github.com/tujanalyst/tujanalyst/internal/models"
	"github.com/tujanalyst/tujanalyst/internal/pipeline"
	"github.com/tujanalyst/tujanalyst/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// TriggerProcessor runs one trigger through the pipeline.
type TriggerProcessor interface {
	ProcessTrigger(ctx context.Context, trigger *models.TriggerEvent) pipeline.Outcome
}

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker func(ctx context.Context) error

// Handler serves the trigger API.
type Handler struct {
	triggers  storage.TriggerRepository
	reports   storage.ReportRepository
	processor TriggerProcessor
	health    HealthChecker
	logger    *slog.Logger
	now       func() time.Time
	startTime time.Time

	inflight sync.WaitGroup
}

// NewHandler creates the trigger API handler. reports, processor and health
// may be nil.
func NewHandler(triggers storage.TriggerRepository, reports storage.ReportRepository, processor TriggerProcessor, health HealthChecker, logger *slog.Logger) *Handler {
	return &Handler{
		triggers:  triggers,
		reports:   reports,
		processor: processor,
		health:    health,
		logger:    logger,
		now:       time.Now,
		startTime: time.Now(),
	}
}

// CreateTriggerRequest is an analyst submission.
type CreateTriggerRequest struct {
	CompanySymbol string `json:"company_symbol"`
	CompanyName   string `json:"company_name"`
	Sector        string `json:"sector"`
	Content       string `json:"content"`
	SourceURL     string `json:"source_url"`
	Notes         string `json:"notes"`
}

// CreateTriggerResponse acknowledges a submission.
type CreateTriggerResponse struct {
	TriggerID string               `json:"trigger_id"`
	Status    models.TriggerStatus `json:"status"`
	Queued    bool                 `json:"queued"`
}

// TriggerResponse describes a trigger and its report, if one exists.
type TriggerResponse struct {
	Trigger models.TriggerEvent    `json:"trigger"`
	Report  *models.AnalysisReport `json:"report,omitempty"`
}

// TriggersResponse lists recent triggers.
type TriggersResponse struct {
	Triggers []models.TriggerEvent `json:"triggers"`
	Count    int                   `json:"count"`
}

// HealthHandler handles GET /healthz
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.startTime).Seconds()),
	}
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.logger.Warn("health check failed", "error", err)
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["error"] = err.Error()
		}
	}
	writeJSON(w, h.logger, status, body)
}

// CreateTriggerHandler handles POST /api/triggers. The trigger is stored as
// gate_passed and processed in the background.
func (h *Handler) CreateTriggerHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := ValidateTriggerRequest(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	trigger := models.NewHumanTrigger(req.Content, h.now())
	trigger.CompanySymbol = req.CompanySymbol
	trigger.CompanyName = req.CompanyName
	trigger.Sector = req.Sector
	trigger.SourceURL = req.SourceURL
	trigger.HumanNotes = req.Notes
	if userID, ok := auth.GetUserIDFromContext(r.Context()); ok {
		trigger.TriggeredBy = userID
	}

	if _, err := h.triggers.Save(r.Context(), trigger); err != nil {
		h.logger.Error("failed to save human trigger", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.logger.Info("human trigger created",
		"trigger_id", trigger.TriggerID,
		"company_symbol", trigger.CompanySymbol,
		"triggered_by", trigger.TriggeredBy,
	)

	queued := h.dispatch(r.Context(), trigger)
	writeJSON(w, h.logger, http.StatusAccepted, CreateTriggerResponse{
		TriggerID: trigger.TriggerID,
		Status:    trigger.Status,
		Queued:    queued,
	})
}

func (h *Handler) dispatch(ctx context.Context, trigger *models.TriggerEvent) bool {
	if h.processor == nil {
		return false
	}
	ctx = context.WithoutCancel(ctx)
	t := trigger.Clone()
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		out := h.processor.ProcessTrigger(ctx, &t)
		if out.Err != nil {
			h.logger.Warn("human trigger processing failed", "trigger_id", out.TriggerID, "error", out.Err)
		}
	}()
	return true
}

// Wait blocks until background processing started by the API finishes or ctx
// is done.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetTriggerHandler handles GET /api/triggers/{id}
func (h *Handler) GetTriggerHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "Trigger ID required", http.StatusBadRequest)
		return
	}

	trigger, err := h.triggers.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "Trigger not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to get trigger", "trigger_id", id, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	resp := TriggerResponse{Trigger: *trigger}
	if h.reports != nil {
		report, err := h.reports.GetReportByTrigger(r.Context(), id)
		switch {
		case err == nil:
			resp.Report = report
		case !errors.Is(err, storage.ErrNotFound):
			h.logger.Warn("failed to load report", "trigger_id", id, "error", err)
		}
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}

// ListTriggersHandler handles GET /api/triggers
func (h *Handler) ListTriggersHandler(w http.ResponseWriter, r *http.Request) {
	lister, ok := h.triggers.(storage.RecentTriggerLister)
	if !ok {
		http.Error(w, "Listing not supported", http.StatusNotImplemented)
		return
	}

	filter := storage.RecentFilter{Limit: defaultListLimit}
	q := r.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = min(n, maxListLimit)
	}
	if raw := q.Get("status"); raw != "" {
		status := models.TriggerStatus(raw)
		if !status.IsValid() {
			http.Error(w, "Invalid status", http.StatusBadRequest)
			return
		}
		filter.Status = status
	}
	if raw := q.Get("source"); raw != "" {
		filter.Source = models.TriggerSource(raw)
	}

	triggers, err := lister.ListRecent(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list triggers", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if triggers == nil {
		triggers = []models.TriggerEvent{}
	}
	writeJSON(w, h.logger, http.StatusOK, TriggersResponse{Triggers: triggers, Count: len(triggers)})
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}
