package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tujanalyst/tujanalyst/internal/logging"
	"github.com/tujanalyst/tujanalyst/internal/models"
	"github.com/tujanalyst/tujanalyst/internal/storage"
)

var baseTime = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type fakeDocuments struct {
	calls  int32
	result models.ExtractionResult
	err    error
}

func (f *fakeDocuments) FetchAndExtract(ctx context.Context, trigger *models.TriggerEvent) (models.ExtractionResult, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.result, f.err
}

type fakeFilter struct {
	result models.GateResult
	calls  int32
}

func (f *fakeFilter) Check(trigger *models.TriggerEvent) models.GateResult {
	atomic.AddInt32(&f.calls, 1)
	return f.result
}

type fakeClassifier struct {
	result models.GateResult
	err    error
	calls  int32
}

func (f *fakeClassifier) Classify(ctx context.Context, text, companyName, sector string) (models.GateResult, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.result, f.err
}

type fakeAnalyzer struct {
	significant bool
	err         error
	calls       int32
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, trigger *models.TriggerEvent) (*models.Investigation, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	inv := models.NewInvestigation(trigger, baseTime)
	inv.IsSignificant = f.significant
	if f.significant {
		inv.Significance = models.SignificanceHigh
	} else {
		inv.Significance = models.SignificanceLow
	}
	return inv, nil
}

type fakeAssessor struct {
	panicWith any
	calls     int32
}

func (f *fakeAssessor) Assess(ctx context.Context, inv *models.Investigation) (*models.DecisionAssessment, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	a := models.NewDecisionAssessment(inv, baseTime)
	a.NewRecommendation = models.RecommendationBuy
	a.Confidence = 0.7
	return a, nil
}

type fakeGenerator struct {
	reports storage.ReportRepository
	calls   int32
}

func (f *fakeGenerator) Generate(ctx context.Context, inv *models.Investigation, a *models.DecisionAssessment) (*models.AnalysisReport, error) {
	atomic.AddInt32(&f.calls, 1)
	report := models.NewAnalysisReport(a, baseTime)
	report.Title = "ABB India Limited (ABB) Analysis Report"
	if err := f.reports.SaveReport(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

func (f *fakeGenerator) Reports() storage.ReportRepository { return f.reports }

type fakeDeliverer struct {
	channels []string
	err      error
	calls    int32
}

func (f *fakeDeliverer) Deliver(ctx context.Context, report *models.AnalysisReport) ([]string, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.channels, f.err
}

type harness struct {
	store      *storage.MemoryStore
	documents  *fakeDocuments
	filter     *fakeFilter
	classifier *fakeClassifier
	analyzer   *fakeAnalyzer
	assessor   *fakeAssessor
	generator  *fakeGenerator
	deliverer  *fakeDeliverer
}

func newHarness() *harness {
	store := storage.NewMemoryStore()
	return &harness{
		store:      store,
		documents:  &fakeDocuments{},
		filter:     &fakeFilter{result: models.GateResult{Passed: true, Reason: "Watched symbol matched: ABB", Method: models.GateMethodSymbolMatch}},
		classifier: &fakeClassifier{result: models.GateResult{Passed: true, Reason: "Large order", Method: models.GateMethodLLM, Model: "gpt-4o-mini"}},
		analyzer:   &fakeAnalyzer{significant: true},
		assessor:   &fakeAssessor{},
		generator:  &fakeGenerator{reports: store},
		deliverer:  &fakeDeliverer{channels: []string{"slack", "telegram"}},
	}
}

func (h *harness) stages() Stages {
	return Stages{
		Documents:  h.documents,
		Filter:     h.filter,
		Classifier: h.classifier,
		Analyzer:   h.analyzer,
		Assessor:   h.assessor,
		Generator:  h.generator,
		Deliverer:  h.deliverer,
	}
}

func (h *harness) orchestrator(t *testing.T, stages Stages, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(h.store, stages, logging.Discard(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func (h *harness) save(t *testing.T, trigger *models.TriggerEvent) *models.TriggerEvent {
	t.Helper()
	if _, err := h.store.Save(context.Background(), trigger); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return trigger
}

func (h *harness) reload(t *testing.T, id string) *models.TriggerEvent {
	t.Helper()
	got, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	last, ok := got.LastTransition()
	if !ok || last.Status != got.Status {
		t.Fatalf("history out of sync with status %s: %+v", got.Status, got.StatusHistory)
	}
	return got
}

func feedTrigger() *models.TriggerEvent {
	trigger := models.NewTriggerEvent(models.TriggerSourceNSE, "ABB India receives order", baseTime)
	trigger.CompanySymbol = "ABB"
	trigger.CompanyName = "ABB India Limited"
	return trigger
}

func statuses(t *models.TriggerEvent) []models.TriggerStatus {
	out := make([]models.TriggerStatus, 0, len(t.StatusHistory))
	for _, h := range t.StatusHistory {
		out = append(out, h.Status)
	}
	return out
}

func TestProcessTrigger_HumanTriggerFullPipeline(t *testing.T) {
	h := newHarness()
	trigger := models.NewHumanTrigger("Please look at ABB's order book", baseTime)
	trigger.CompanySymbol = "ABB"
	trigger.CompanyName = "ABB India Limited"
	h.save(t, trigger)

	out := h.orchestrator(t, h.stages()).ProcessTrigger(context.Background(), trigger)
	if out.Err != nil || out.Status != models.TriggerStatusReported {
		t.Fatalf("unexpected outcome %+v", out)
	}

	got := h.reload(t, trigger.TriggerID)
	want := []models.TriggerStatus{
		models.TriggerStatusGatePassed,
		models.TriggerStatusAnalyzing,
		models.TriggerStatusAnalyzed,
		models.TriggerStatusAssessing,
		models.TriggerStatusAssessed,
		models.TriggerStatusReported,
	}
	if gotStatuses := statuses(got); len(gotStatuses) != len(want) {
		t.Fatalf("history = %v, want %v", gotStatuses, want)
	}
	for i, s := range want {
		if got.StatusHistory[i].Status != s {
			t.Errorf("history[%d] = %s, want %s", i, got.StatusHistory[i].Status, s)
		}
	}
	if got.StatusHistory[0].Reason != models.HumanBypassReason || got.GateResult.Method != models.GateMethodHumanBypass {
		t.Errorf("expected human bypass gate, got %+v / %q", got.GateResult, got.StatusHistory[0].Reason)
	}
	if h.filter.calls != 0 || h.classifier.calls != 0 {
		t.Errorf("gate collaborators must not run for human triggers, filter=%d classifier=%d", h.filter.calls, h.classifier.calls)
	}
	if reason := got.StatusHistory[5].Reason; reason != "Report generated and delivered via slack, telegram" {
		t.Errorf("unexpected reported reason %q", reason)
	}
	if got.StatusHistory[2].Reason != "Analysis complete. Significance: high" || got.StatusHistory[4].Reason != "Assessment complete. Recommendation: buy" {
		t.Errorf("unexpected stage reasons %+v", got.StatusHistory)
	}
}

func TestProcessTrigger_FeedTriggerGate(t *testing.T) {
	tests := []struct {
		name           string
		filterPass     bool
		classifierPass bool
		wantStatus     models.TriggerStatus
		wantClassifier int32
		wantReason     string
	}{
		{"filter rejects", false, true, models.TriggerStatusFilteredOut, 0, "No watchlist symbol/name/sector-keyword match"},
		{"classifier rejects", true, false, models.TriggerStatusFilteredOut, 1, "Routine compliance filing"},
		{"both pass", true, true, models.TriggerStatusReported, 1, "Report generated and delivered via slack, telegram"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.filter.result = models.GateResult{Passed: tt.filterPass, Reason: "No watchlist symbol/name/sector-keyword match", Method: models.GateMethodNoMatch}
			if tt.filterPass {
				h.filter.result = models.GateResult{Passed: true, Reason: "Watched symbol matched: ABB", Method: models.GateMethodSymbolMatch}
			}
			h.classifier.result = models.GateResult{Passed: tt.classifierPass, Reason: "Routine compliance filing", Method: models.GateMethodLLM}
			trigger := h.save(t, feedTrigger())

			out := h.orchestrator(t, h.stages()).ProcessTrigger(context.Background(), trigger)
			if out.Status != tt.wantStatus {
				t.Fatalf("status = %s, want %s", out.Status, tt.wantStatus)
			}
			if h.classifier.calls != tt.wantClassifier {
				t.Errorf("classifier calls = %d, want %d", h.classifier.calls, tt.wantClassifier)
			}
			got := h.reload(t, trigger.TriggerID)
			last, _ := got.LastTransition()
			if last.Reason != tt.wantReason {
				t.Errorf("last reason = %q, want %q", last.Reason, tt.wantReason)
			}
			if got.GateResult == nil {
				t.Error("expected gate result to be persisted")
			}
		})
	}
}

func TestProcessTrigger_NonSignificantStopsAtAnalyzed(t *testing.T) {
	h := newHarness()
	h.analyzer.significant = false
	trigger := h.save(t, feedTrigger())

	out := h.orchestrator(t, h.stages()).ProcessTrigger(context.Background(), trigger)
	if out.Status != models.TriggerStatusAnalyzed || out.Err != nil {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if h.assessor.calls+h.generator.calls+h.deliverer.calls != 0 {
		t.Errorf("later stages must not run, assessor=%d generator=%d deliverer=%d", h.assessor.calls, h.generator.calls, h.deliverer.calls)
	}
	h.reload(t, trigger.TriggerID)
}

func TestProcessTrigger_DeliveryFailureStillReported(t *testing.T) {
	h := newHarness()
	h.deliverer.err = errors.New("slack: 500")
	trigger := h.save(t, feedTrigger())

	out := h.orchestrator(t, h.stages()).ProcessTrigger(context.Background(), trigger)
	if out.Status != models.TriggerStatusReported || out.Err != nil {
		t.Fatalf("unexpected outcome %+v", out)
	}
	got := h.reload(t, trigger.TriggerID)
	last, _ := got.LastTransition()
	if last.Reason != "Report generated but delivery failed: slack: 500" {
		t.Errorf("unexpected reason %q", last.Reason)
	}
	report, err := h.store.GetReport(context.Background(), out.Report.ReportID)
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if report.DeliveryStatus != models.DeliveryStatusDeliveryFailed {
		t.Errorf("expected delivery_failed, got %s", report.DeliveryStatus)
	}
}

func TestProcessTrigger_StageFailuresEndInError(t *testing.T) {
	tests := []struct {
		name      string
		configure func(h *harness)
		wantInMsg string
	}{
		{
			name:      "analyzer error",
			configure: func(h *harness) { h.analyzer.err = errors.New("model overloaded") },
			wantInMsg: "analysis failed: model overloaded",
		},
		{
			name:      "classifier error",
			configure: func(h *harness) { h.classifier.err = errors.New("bad request") },
			wantInMsg: "gate failed: bad request",
		},
		{
			name:      "assessor panic",
			configure: func(h *harness) { h.assessor.panicWith = "nil map write" },
			wantInMsg: "panic: nil map write",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			tt.configure(h)
			trigger := h.save(t, feedTrigger())

			out := h.orchestrator(t, h.stages()).ProcessTrigger(context.Background(), trigger)
			if out.Status != models.TriggerStatusError || out.Err == nil {
				t.Fatalf("unexpected outcome %+v", out)
			}
			got := h.reload(t, trigger.TriggerID)
			last, _ := got.LastTransition()
			if !strings.HasPrefix(last.Reason, "Pipeline error: ") || !strings.Contains(last.Reason, tt.wantInMsg) {
				t.Errorf("reason %q does not contain %q", last.Reason, tt.wantInMsg)
			}
			if out.Gate.Passed || out.Gate.Method != models.GateMethodPipelineError || out.Gate.Reason != last.Reason {
				t.Errorf("expected pipeline_error gate carrying %q, got %+v", last.Reason, out.Gate)
			}
		})
	}
}

func TestProcessTrigger_NilTrigger(t *testing.T) {
	h := newHarness()
	out := h.orchestrator(t, h.stages()).ProcessTrigger(context.Background(), nil)
	if out.Err == nil || out.Gate.Method != models.GateMethodPipelineError {
		t.Fatalf("expected pipeline error outcome, got %+v", out)
	}
	if atomic.LoadInt32(&h.filter.calls) != 0 {
		t.Error("no stage should run for a nil trigger")
	}
}

func TestProcessTrigger_StageErrorIsTyped(t *testing.T) {
	h := newHarness()
	cause := errors.New("timeout")
	h.analyzer.err = cause
	trigger := h.save(t, feedTrigger())

	out := h.orchestrator(t, h.stages()).ProcessTrigger(context.Background(), trigger)
	var stageErr *StageError
	if !errors.As(out.Err, &stageErr) || stageErr.Stage != "analysis" || !errors.Is(out.Err, cause) {
		t.Errorf("expected analysis StageError wrapping cause, got %v", out.Err)
	}
}

func TestProcessTrigger_DocumentIngestionIsIdempotent(t *testing.T) {
	h := newHarness()
	h.documents.result = models.ExtractionResult{DocumentIDs: []string{"doc-1"}, EnrichedText: "ABB India receives order\n\n=== DOCUMENT 1 ===\nbody"}
	o := h.orchestrator(t, h.stages())

	fresh := feedTrigger()
	fresh.SourceURL = "https://nsearchives.nseindia.com/corporate/ABB_10032025.pdf"
	h.save(t, fresh)
	o.ProcessTrigger(context.Background(), fresh)
	if h.documents.calls != 1 {
		t.Fatalf("expected one ingestion, got %d", h.documents.calls)
	}
	got := h.reload(t, fresh.TriggerID)
	if len(got.DocumentIDs) != 1 || !strings.Contains(got.RawContent, "=== DOCUMENT 1 ===") {
		t.Errorf("documents not persisted: %+v", got)
	}

	seen := feedTrigger()
	seen.SourceURL = "https://nsearchives.nseindia.com/corporate/ABB_11032025.pdf"
	seen.DocumentIDs = []string{"doc-0"}
	h.save(t, seen)
	o.ProcessTrigger(context.Background(), seen)
	if h.documents.calls != 1 {
		t.Errorf("ingestion must not run again for a trigger with documents, calls=%d", h.documents.calls)
	}
}

func TestProcessTrigger_DocumentFailureDoesNotStopPipeline(t *testing.T) {
	h := newHarness()
	h.documents.err = errors.New("save document: disk full")
	trigger := feedTrigger()
	trigger.SourceURL = "https://example.com/a.pdf"
	h.save(t, trigger)

	out := h.orchestrator(t, h.stages()).ProcessTrigger(context.Background(), trigger)
	if out.Status != models.TriggerStatusReported {
		t.Errorf("expected pipeline to continue, got %s", out.Status)
	}
}

func TestProcessTrigger_StopsAfterLastConfiguredStage(t *testing.T) {
	tests := []struct {
		name       string
		strip      func(s *Stages)
		wantStatus models.TriggerStatus
	}{
		{"no analyzer", func(s *Stages) { s.Analyzer = nil }, models.TriggerStatusGatePassed},
		{"no deliverer", func(s *Stages) { s.Deliverer = nil }, models.TriggerStatusAnalyzed},
		{"no assessor", func(s *Stages) { s.Assessor = nil }, models.TriggerStatusAnalyzed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			stages := h.stages()
			tt.strip(&stages)
			trigger := h.save(t, feedTrigger())

			out := h.orchestrator(t, stages).ProcessTrigger(context.Background(), trigger)
			if out.Status != tt.wantStatus || out.Err != nil {
				t.Errorf("unexpected outcome %+v", out)
			}
		})
	}
}

func TestProcessPendingTriggers(t *testing.T) {
	for _, concurrency := range []int{1, 4} {
		h := newHarness()
		for i := 0; i < 5; i++ {
			trigger := feedTrigger()
			trigger.CreatedAt = baseTime.Add(time.Duration(i) * time.Minute)
			h.save(t, trigger)
		}
		o := h.orchestrator(t, h.stages(), WithConcurrency(concurrency))

		result, err := o.ProcessPendingTriggers(context.Background(), 3)
		if err != nil {
			t.Fatalf("ProcessPendingTriggers: %v", err)
		}
		if result.Attempted != 3 || result.Reported != 3 {
			t.Errorf("concurrency %d: unexpected result %+v", concurrency, result)
		}

		pending, _ := h.store.GetPending(context.Background(), 10)
		if len(pending) != 2 {
			t.Errorf("concurrency %d: expected 2 pending left, got %d", concurrency, len(pending))
		}
	}
}

func TestNew_RequiresGate(t *testing.T) {
	if _, err := New(storage.NewMemoryStore(), Stages{}, logging.Discard()); err == nil {
		t.Error("expected error without gate collaborators")
	}
}
