package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tujanalyst/tujanalyst/internal/llm"
	"github.com/tujanalyst/tujanalyst/internal/models"
	"github.com/tujanalyst/tujanalyst/internal/storage"
)

// Assessor decides whether an investigation changes the company's
// recommendation.
type Assessor struct {
	llm         Completer
	model       string
	assessments storage.AnalysisRepository
	logger      *slog.Logger
	now         func() time.Time
}

// NewAssessor creates an assessor.
func NewAssessor(completer Completer, model string, assessments storage.AnalysisRepository, logger *slog.Logger) *Assessor {
	return &Assessor{
		llm:         completer,
		model:       model,
		assessments: assessments,
		logger:      logger,
		now:         time.Now,
	}
}

type decisionResult struct {
	ShouldChange      bool           `json:"should_change"`
	NewRecommendation string         `json:"new_recommendation"`
	Timeframe         string         `json:"timeframe"`
	Confidence        float64        `json:"confidence"`
	Reasoning         string         `json:"reasoning"`
	KeyFactorsFor     llm.StringList `json:"key_factors_for"`
	KeyFactorsAgainst llm.StringList `json:"key_factors_against"`
	Risks             llm.StringList `json:"risks"`
}

// Assess produces and persists a decision assessment for inv.
func (a *Assessor) Assess(ctx context.Context, inv *models.Investigation) (*models.DecisionAssessment, error) {
	started := time.Now()
	assessment := models.NewDecisionAssessment(inv, a.now())

	previous, err := a.assessments.LatestAssessment(ctx, inv.CompanySymbol)
	switch {
	case err == nil:
		assessment.PreviousRecommendation = previous.NewRecommendation
	case errors.Is(err, storage.ErrNotFound):
	default:
		return nil, fmt.Errorf("load previous assessment: %w", err)
	}

	var out decisionResult
	_, err = a.llm.CompleteJSON(ctx, llm.Request{
		Operation: "decision",
		Model:     a.model,
		System:    decisionPrompt,
		User: fmt.Sprintf("Company: %s (%s)\nCurrent recommendation: %s\nSignificance: %s (%s)\n\nSynthesis:\n%s\n\nKey findings:\n%s\n\nRed flags:\n%s\n\nPositive signals:\n%s",
			inv.CompanyName, inv.CompanySymbol, assessment.PreviousRecommendation,
			inv.Significance, inv.SignificanceReasoning, inv.Synthesis,
			bullets(inv.KeyFindings), bullets(inv.RedFlags), bullets(inv.PositiveSignals)),
		MaxTokens: 2000,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("decide recommendation: %w", err)
	}

	assessment.NewRecommendation = models.ParseRecommendation(out.NewRecommendation)
	assessment.RecommendationChanged = out.ShouldChange && assessment.NewRecommendation != assessment.PreviousRecommendation
	assessment.Timeframe = parseTimeframe(out.Timeframe)
	assessment.Confidence = clamp(out.Confidence, 0, 1)
	assessment.Reasoning = strings.TrimSpace(out.Reasoning)
	assessment.KeyFactorsFor = nonNil(out.KeyFactorsFor)
	assessment.KeyFactorsAgainst = nonNil(out.KeyFactorsAgainst)
	assessment.Risks = nonNil(out.Risks)
	assessment.LLMModelUsed = a.model
	assessment.ProcessingTimeSeconds = time.Since(started).Seconds()

	if err := a.assessments.SaveAssessment(ctx, assessment); err != nil {
		return nil, fmt.Errorf("save assessment: %w", err)
	}
	a.logger.Info("decision assessed",
		"company_symbol", assessment.CompanySymbol,
		"previous", assessment.PreviousRecommendation,
		"recommendation", assessment.NewRecommendation,
		"changed", assessment.RecommendationChanged,
		"confidence", assessment.Confidence)
	return assessment, nil
}

func parseTimeframe(raw string) models.Timeframe {
	switch tf := models.Timeframe(strings.ToLower(strings.TrimSpace(raw))); tf {
	case models.TimeframeShort, models.TimeframeMedium, models.TimeframeLong:
		return tf
	default:
		return models.TimeframeMedium
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func bullets(items []string) string {
	if len(items) == 0 {
		return "- none"
	}
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(item)
	}
	return b.String()
}
