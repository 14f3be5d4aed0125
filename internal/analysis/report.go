package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tujanalyst/tujanalyst/internal/llm"
	"github.com/tujanalyst/tujanalyst/internal/models"
	"github.com/tujanalyst/tujanalyst/internal/storage"
)

// ReportGenerator renders an investigation and its assessment into a report.
type ReportGenerator struct {
	llm     Completer
	model   string
	reports storage.ReportRepository
	logger  *slog.Logger
	now     func() time.Time
}

// NewReportGenerator creates a report generator.
func NewReportGenerator(completer Completer, model string, reports storage.ReportRepository, logger *slog.Logger) *ReportGenerator {
	return &ReportGenerator{
		llm:     completer,
		model:   model,
		reports: reports,
		logger:  logger,
		now:     time.Now,
	}
}

// Reports exposes the repository reports are persisted to.
func (g *ReportGenerator) Reports() storage.ReportRepository {
	return g.reports
}

type reportResult struct {
	Title                 string `json:"title"`
	ExecutiveSummary      string `json:"executive_summary"`
	RecommendationSummary string `json:"recommendation_summary"`
	ReportBodyMarkdown    string `json:"report_body_markdown"`
}

// Generate produces and persists a report. Missing fields in the model reply
// are filled from the investigation and assessment.
func (g *ReportGenerator) Generate(ctx context.Context, inv *models.Investigation, assessment *models.DecisionAssessment) (*models.AnalysisReport, error) {
	report := models.NewAnalysisReport(assessment, g.now())

	var out reportResult
	_, err := g.llm.CompleteJSON(ctx, llm.Request{
		Operation: "report",
		Model:     g.model,
		System:    reportPrompt,
		User: fmt.Sprintf("Company: %s (%s)\nSignificance: %s\nRecommendation: %s (changed: %t, previous: %s)\nTimeframe: %s\nConfidence: %.0f%%\n\nSynthesis:\n%s\n\nKey findings:\n%s\n\nRed flags:\n%s\n\nPositive signals:\n%s\n\nDecision reasoning:\n%s\n\nRisks:\n%s",
			inv.CompanyName, inv.CompanySymbol, inv.Significance,
			assessment.NewRecommendation, assessment.RecommendationChanged, assessment.PreviousRecommendation,
			assessment.Timeframe, assessment.Confidence*100,
			inv.Synthesis, bullets(inv.KeyFindings), bullets(inv.RedFlags), bullets(inv.PositiveSignals),
			assessment.Reasoning, bullets(assessment.Risks)),
		MaxTokens: 4000,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("generate report: %w", err)
	}

	report.Title = strings.TrimSpace(out.Title)
	if report.Title == "" {
		report.Title = fmt.Sprintf("%s (%s) Analysis Report", inv.CompanyName, inv.CompanySymbol)
	}
	report.RecommendationSummary = strings.TrimSpace(out.RecommendationSummary)
	if report.RecommendationSummary == "" {
		report.RecommendationSummary = RecommendationSummary(assessment)
	}
	report.ExecutiveSummary = strings.TrimSpace(out.ExecutiveSummary)
	if report.ExecutiveSummary == "" {
		report.ExecutiveSummary = fmt.Sprintf("%s (%s): %s significance. Recommendation: %s.",
			inv.CompanyName, inv.CompanySymbol, strings.ToUpper(string(inv.Significance)), report.RecommendationSummary)
	}
	report.ReportBody = strings.TrimSpace(out.ReportBodyMarkdown)
	if report.ReportBody == "" {
		report.ReportBody = fallbackBody(inv, assessment)
	}

	if err := g.reports.SaveReport(ctx, report); err != nil {
		return nil, fmt.Errorf("save report: %w", err)
	}
	g.logger.Info("report generated", "report_id", report.ReportID, "trigger_id", report.TriggerID, "company_symbol", report.CompanySymbol)
	return report, nil
}

// RecommendationSummary renders e.g. "BUY (Confidence: 75%, Timeframe: medium_term)".
func RecommendationSummary(a *models.DecisionAssessment) string {
	return fmt.Sprintf("%s (Confidence: %.0f%%, Timeframe: %s)",
		strings.ToUpper(string(a.NewRecommendation)), a.Confidence*100, a.Timeframe)
}

func fallbackBody(inv *models.Investigation, a *models.DecisionAssessment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s (%s)\n\n", inv.CompanyName, inv.CompanySymbol)
	fmt.Fprintf(&b, "## Summary\n\n%s\n\n", inv.Synthesis)
	fmt.Fprintf(&b, "## Key Findings\n\n%s\n\n", bullets(inv.KeyFindings))
	fmt.Fprintf(&b, "## Positive Signals\n\n%s\n\n", bullets(inv.PositiveSignals))
	fmt.Fprintf(&b, "## Red Flags\n\n%s\n\n", bullets(inv.RedFlags))
	fmt.Fprintf(&b, "## Recommendation\n\n%s\n\n%s\n\n", RecommendationSummary(a), a.Reasoning)
	if len(inv.WebSearchResults) > 0 {
		b.WriteString("## Sources\n\n")
		for _, r := range inv.WebSearchResults {
			fmt.Fprintf(&b, "- [%s](%s)\n", r.Title, r.URL)
		}
	}
	return strings.TrimSpace(b.String())
}
