package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/tujanalyst/tujanalyst/internal/logging"
	"github.com/tujanalyst/tujanalyst/internal/metrics"
	"github.com/tujanalyst/tujanalyst/internal/models"
	"github.com/tujanalyst/tujanalyst/internal/storage"
)

// DocumentIngestor downloads and extracts a trigger's source document.
type DocumentIngestor interface {
	FetchAndExtract(ctx context.Context, trigger *models.TriggerEvent) (models.ExtractionResult, error)
}

// GateFilter is the cheap local watchlist check.
type GateFilter interface {
	Check(trigger *models.TriggerEvent) models.GateResult
}

// GateClassifier is the model-backed gate, invoked only after the filter
// passes.
type GateClassifier interface {
	Classify(ctx context.Context, text, companyName, sector string) (models.GateResult, error)
}

// DeepAnalyzer produces an investigation.
type DeepAnalyzer interface {
	Analyze(ctx context.Context, trigger *models.TriggerEvent) (*models.Investigation, error)
}

// DecisionAssessor produces a recommendation decision.
type DecisionAssessor interface {
	Assess(ctx context.Context, inv *models.Investigation) (*models.DecisionAssessment, error)
}

// ReportGenerator renders a report.
type ReportGenerator interface {
	Generate(ctx context.Context, inv *models.Investigation, assessment *models.DecisionAssessment) (*models.AnalysisReport, error)
}

// ReportDeliverer sends a report and returns the channels used.
type ReportDeliverer interface {
	Deliver(ctx context.Context, report *models.AnalysisReport) ([]string, error)
}

// reportStore is implemented by generators and deliverers that persist
// reports.
type reportStore interface {
	Reports() storage.ReportRepository
}

// Stages holds the collaborators. Documents, Analyzer, Assessor, Generator
// and Deliverer may be nil; the pipeline stops after the last configured
// stage.
type Stages struct {
	Documents  DocumentIngestor
	Filter     GateFilter
	Classifier GateClassifier
	Analyzer   DeepAnalyzer
	Assessor   DecisionAssessor
	Generator  ReportGenerator
	Deliverer  ReportDeliverer
}

// StageError wraps a collaborator failure with the stage it happened in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Outcome summarizes one ProcessTrigger run.
type Outcome struct {
	TriggerID     string
	Status        models.TriggerStatus
	Gate          models.GateResult
	Investigation *models.Investigation
	Assessment    *models.DecisionAssessment
	Report        *models.AnalysisReport
	DeliveredVia  []string
	Err           error
}

// BatchResult contains the outcome of processing a batch of pending triggers.
type BatchResult struct {
	Attempted   int
	Reported    int
	FilteredOut int
	Errors      int
	ProcessedAt time.Time
}

// Orchestrator runs triggers through gate, analysis, decision, report and
// delivery, persisting every status transition.
type Orchestrator struct {
	triggers    storage.TriggerRepository
	stages      Stages
	metrics     *metrics.Collector
	logger      *slog.Logger
	now         func() time.Time
	concurrency int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency processes up to n triggers of a batch at once. Each
// trigger's stages still run in order.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithMetrics records transitions on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides the transition timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator. Filter and Classifier are required.
func New(triggers storage.TriggerRepository, stages Stages, logger *slog.Logger, opts ...Option) (*Orchestrator, error) {
	if triggers == nil {
		return nil, errors.New("pipeline: trigger repository is required")
	}
	if stages.Filter == nil || stages.Classifier == nil {
		return nil, errors.New("pipeline: gate filter and classifier are required")
	}
	o := &Orchestrator{
		triggers:    triggers,
		stages:      stages,
		logger:      logger,
		now:         time.Now,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// ProcessTrigger runs one trigger through the pipeline. It never panics and
// never returns without recording a status: failures end in the error
// status with the cause in the reason, which is also set on Outcome.Err and
// reported as a pipeline_error gate on the outcome.
func (o *Orchestrator) ProcessTrigger(ctx context.Context, trigger *models.TriggerEvent) (out Outcome) {
	if trigger == nil {
		out.Err = errors.New("pipeline: nil trigger")
		out.Gate = models.PipelineErrorGate(out.Err)
		return out
	}
	log := logging.ForTrigger(o.logger, trigger).With("component", "orchestrator")
	out.TriggerID = trigger.TriggerID

	defer func() {
		if r := recover(); r != nil {
			log.Error("trigger processing panicked", "panic", r, "stack", string(debug.Stack()))
			out.Err = fmt.Errorf("panic: %v", r)
			out.Gate = models.PipelineErrorGate(out.Err)
			out.Status = o.fail(ctx, log, trigger, out.Err)
		}
	}()

	log.Info("trigger processing started", "status", trigger.Status)
	if err := o.run(ctx, log, trigger, &out); err != nil {
		log.Error("trigger processing failed", "error", err)
		out.Err = err
		out.Gate = models.PipelineErrorGate(err)
		out.Status = o.fail(ctx, log, trigger, err)
		return out
	}
	out.Status = trigger.Status
	return out
}

func (o *Orchestrator) run(ctx context.Context, log *slog.Logger, trigger *models.TriggerEvent, out *Outcome) error {
	if err := o.ingestDocuments(ctx, log, trigger); err != nil {
		return err
	}

	gate, err := o.runGate(ctx, trigger)
	if err != nil {
		return &StageError{Stage: "gate", Err: err}
	}
	out.Gate = gate
	log.Info("gate decision",
		"gate_passed", gate.Passed,
		"gate_method", gate.Method,
		"gate_model", gate.Model,
		"gate_reason", gate.Reason)

	if err := o.triggers.SetGateResult(ctx, trigger.TriggerID, gate); err != nil {
		return fmt.Errorf("persist gate result: %w", err)
	}
	trigger.GateResult = &gate

	if !gate.Passed {
		return o.transition(ctx, log, trigger, models.TriggerStatusFilteredOut, gate.Reason)
	}
	// Human triggers are created already past the gate.
	if trigger.Status != models.TriggerStatusGatePassed {
		if err := o.transition(ctx, log, trigger, models.TriggerStatusGatePassed, gate.Reason); err != nil {
			return err
		}
	}
	return o.runPostGate(ctx, log, trigger, out)
}

func (o *Orchestrator) runPostGate(ctx context.Context, log *slog.Logger, trigger *models.TriggerEvent, out *Outcome) error {
	if o.stages.Analyzer == nil {
		log.Info("stage not configured, stopping", "stage", "analysis")
		return nil
	}

	if err := o.transition(ctx, log, trigger, models.TriggerStatusAnalyzing, "Starting deep analysis"); err != nil {
		return err
	}
	inv, err := o.stages.Analyzer.Analyze(ctx, trigger)
	if err != nil {
		return &StageError{Stage: "analysis", Err: err}
	}
	out.Investigation = inv
	if err := o.transition(ctx, log, trigger, models.TriggerStatusAnalyzed, fmt.Sprintf("Analysis complete. Significance: %s", inv.Significance)); err != nil {
		return err
	}
	log.Info("analysis completed",
		"significance", inv.Significance,
		"is_significant", inv.IsSignificant,
		"llm_model", inv.LLMModelUsed,
		"llm_input_tokens", inv.TotalInputTokens,
		"llm_output_tokens", inv.TotalOutputTokens,
		"web_search_status", inv.WebSearchStatus)

	if !inv.IsSignificant {
		log.Info("not significant, stopping after analysis")
		return nil
	}
	if o.stages.Assessor == nil || o.stages.Generator == nil || o.stages.Deliverer == nil {
		log.Warn("stage not configured, stopping", "stage", "decision")
		return nil
	}

	if err := o.transition(ctx, log, trigger, models.TriggerStatusAssessing, "Starting decision assessment"); err != nil {
		return err
	}
	assessment, err := o.stages.Assessor.Assess(ctx, inv)
	if err != nil {
		return &StageError{Stage: "assessment", Err: err}
	}
	out.Assessment = assessment
	if err := o.transition(ctx, log, trigger, models.TriggerStatusAssessed, fmt.Sprintf("Assessment complete. Recommendation: %s", assessment.NewRecommendation)); err != nil {
		return err
	}
	log.Info("assessment completed",
		"recommendation", assessment.NewRecommendation,
		"recommendation_changed", assessment.RecommendationChanged,
		"confidence", assessment.Confidence)

	report, err := o.stages.Generator.Generate(ctx, inv, assessment)
	if err != nil {
		return &StageError{Stage: "report generation", Err: err}
	}
	out.Report = report
	log.Info("report generated", "report_id", report.ReportID)

	channels, err := o.stages.Deliverer.Deliver(ctx, report)
	if err != nil {
		log.Warn("report delivery failed", "report_id", report.ReportID, "error", err)
		o.persistDeliveryFailure(ctx, log, report)
		return o.transition(ctx, log, trigger, models.TriggerStatusReported, fmt.Sprintf("Report generated but delivery failed: %v", err))
	}
	out.DeliveredVia = channels

	reason := "Report generated"
	if len(channels) > 0 {
		reason = fmt.Sprintf("%s and delivered via %s", reason, strings.Join(channels, ", "))
	}
	return o.transition(ctx, log, trigger, models.TriggerStatusReported, reason)
}

// ingestDocuments runs once per trigger. A trigger that already has
// documents is not fetched again.
func (o *Orchestrator) ingestDocuments(ctx context.Context, log *slog.Logger, trigger *models.TriggerEvent) error {
	if o.stages.Documents == nil || trigger.SourceURL == "" || trigger.HasDocuments() {
		return nil
	}

	result, err := o.stages.Documents.FetchAndExtract(ctx, trigger)
	if err != nil {
		log.Warn("document ingestion failed, continuing with announcement text", "error", err)
		return nil
	}
	if len(result.DocumentIDs) == 0 {
		return nil
	}
	if err := o.triggers.SetDocuments(ctx, trigger.TriggerID, result.DocumentIDs, result.EnrichedText); err != nil {
		return fmt.Errorf("persist documents: %w", err)
	}
	trigger.DocumentIDs = result.DocumentIDs
	trigger.RawContent = result.EnrichedText
	log.Info("documents ingested", "document_ids", result.DocumentIDs)
	return nil
}

func (o *Orchestrator) runGate(ctx context.Context, trigger *models.TriggerEvent) (models.GateResult, error) {
	if trigger.IsHuman() {
		return models.HumanBypassGate(), nil
	}
	result := o.stages.Filter.Check(trigger)
	if !result.Passed {
		return result, nil
	}
	return o.stages.Classifier.Classify(ctx, trigger.RawContent, trigger.CompanyName, trigger.Sector)
}

// transition is the only place the orchestrator changes a trigger's status.
func (o *Orchestrator) transition(ctx context.Context, log *slog.Logger, trigger *models.TriggerEvent, status models.TriggerStatus, reason string) error {
	now := o.now()
	if err := o.triggers.UpdateStatus(ctx, trigger.TriggerID, status, reason, now); err != nil {
		return fmt.Errorf("transition to %s: %w", status, err)
	}
	trigger.SetStatus(status, reason, now)
	o.metrics.Transition(string(status))
	log.Info("trigger status changed", "status", status, "reason", reason)
	return nil
}

// fail records the error status. The trigger stays as it was if even that
// write fails.
func (o *Orchestrator) fail(ctx context.Context, log *slog.Logger, trigger *models.TriggerEvent, cause error) models.TriggerStatus {
	// The caller's context may be what failed; the error status must still land.
	ctx = context.WithoutCancel(ctx)
	if err := o.transition(ctx, log, trigger, models.TriggerStatusError, fmt.Sprintf("Pipeline error: %v", cause)); err != nil {
		log.Error("failed to record pipeline error", "error", err, "cause", cause)
	}
	return trigger.Status
}

func (o *Orchestrator) persistDeliveryFailure(ctx context.Context, log *slog.Logger, report *models.AnalysisReport) {
	report.MarkDeliveryFailed()

	var repo storage.ReportRepository
	if rs, ok := o.stages.Deliverer.(reportStore); ok {
		repo = rs.Reports()
	}
	if repo == nil {
		if rs, ok := o.stages.Generator.(reportStore); ok {
			repo = rs.Reports()
		}
	}
	if repo == nil {
		log.Warn("no report repository to record delivery failure", "report_id", report.ReportID)
		return
	}
	if err := repo.SaveReport(ctx, report); err != nil {
		log.Warn("failed to record delivery failure", "report_id", report.ReportID, "error", err)
	}
}

// ProcessPendingTriggers processes up to limit pending triggers, oldest
// first, and reports what happened to them.
func (o *Orchestrator) ProcessPendingTriggers(ctx context.Context, limit int) (BatchResult, error) {
	result := BatchResult{ProcessedAt: o.now()}

	pending, err := o.triggers.GetPending(ctx, limit)
	if err != nil {
		return result, fmt.Errorf("failed to get pending triggers: %w", err)
	}
	if len(pending) == 0 {
		o.logger.Debug("no pending triggers")
		return result, nil
	}

	outcomes := make([]Outcome, len(pending))
	if o.concurrency <= 1 {
		for i := range pending {
			if ctx.Err() != nil {
				break
			}
			outcomes[i] = o.ProcessTrigger(ctx, &pending[i])
			result.Attempted++
		}
	} else {
		var wg sync.WaitGroup
		sem := make(chan struct{}, o.concurrency)
		for i := range pending {
			if ctx.Err() != nil {
				break
			}
			sem <- struct{}{}
			result.Attempted++
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				defer func() { <-sem }()
				outcomes[i] = o.ProcessTrigger(ctx, &pending[i])
			}(i)
		}
		wg.Wait()
	}

	for _, out := range outcomes[:result.Attempted] {
		switch out.Status {
		case models.TriggerStatusReported:
			result.Reported++
		case models.TriggerStatusFilteredOut:
			result.FilteredOut++
		case models.TriggerStatusError:
			result.Errors++
		}
	}
	o.logger.Info("pending batch processed",
		"attempted", result.Attempted,
		"reported", result.Reported,
		"filtered_out", result.FilteredOut,
		"errors", result.Errors)
	return result, nil
}
