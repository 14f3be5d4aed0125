package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tujanalyst/tujanalyst/internal/llm"
	"github.com/tujanalyst/tujanalyst/internal/models"
	"github.com/tujanalyst/tujanalyst/internal/resilience"
	"github.com/tujanalyst/tujanalyst/internal/retry"
	"github.com/tujanalyst/tujanalyst/internal/storage"
)

// Web search outcomes recorded on an investigation.
const (
	WebSearchOK          = "ok"
	WebSearchDisabled    = "disabled"
	WebSearchUnavailable = "unavailable"
	WebSearchFailed      = "failed"
)

const (
	maxQueries          = 5
	queryContextRunes   = 2000
	documentTextRunes   = 30000
	historyInvestigates = 10
)

// Completer produces a JSON completion. *llm.Client satisfies it.
type Completer interface {
	CompleteJSON(ctx context.Context, req llm.Request, out any) (llm.Usage, error)
}

// Analyzer runs deep analysis for a gate-passed trigger.
type Analyzer struct {
	llm            Completer
	model          string
	searcher       WebSearcher
	searchBreaker  *resilience.Breaker
	market         MarketDataProvider
	marketBreaker  *resilience.Breaker
	maxResults     int
	docs           storage.DocumentRepository
	investigations storage.AnalysisRepository
	logger         *slog.Logger
	now            func() time.Time
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithWebSearch enables web search behind breaker. A nil breaker leaves
// the provider unguarded.
func WithWebSearch(s WebSearcher, breaker *resilience.Breaker, maxResults int) AnalyzerOption {
	return func(a *Analyzer) {
		a.searcher = s
		a.searchBreaker = breaker
		if maxResults > 0 {
			a.maxResults = maxResults
		}
	}
}

// WithMarketData adds a price snapshot to each analysis, guarded by
// breaker. A nil breaker leaves the provider unguarded.
func WithMarketData(p MarketDataProvider, breaker *resilience.Breaker) AnalyzerOption {
	return func(a *Analyzer) {
		a.market = p
		a.marketBreaker = breaker
	}
}

// WithAnalyzerClock overrides the investigation timestamp source.
func WithAnalyzerClock(now func() time.Time) AnalyzerOption {
	return func(a *Analyzer) { a.now = now }
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(completer Completer, model string, docs storage.DocumentRepository, investigations storage.AnalysisRepository, logger *slog.Logger, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		llm:            completer,
		model:          model,
		maxResults:     5,
		docs:           docs,
		investigations: investigations,
		logger:         logger,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type synthesisResult struct {
	Synthesis             string         `json:"synthesis"`
	KeyFindings           llm.StringList `json:"key_findings"`
	RedFlags              llm.StringList `json:"red_flags"`
	PositiveSignals       llm.StringList `json:"positive_signals"`
	ManagementHighlights  llm.StringList `json:"management_highlights"`
	Significance          string         `json:"significance"`
	SignificanceReasoning string         `json:"significance_reasoning"`
	IsSignificant         bool           `json:"is_significant"`
}

// Analyze produces and persists an investigation for trigger.
func (a *Analyzer) Analyze(ctx context.Context, trigger *models.TriggerEvent) (*models.Investigation, error) {
	started := time.Now()
	inv := models.NewInvestigation(trigger, a.now())
	inv.CompanySymbol = strings.ToUpper(strings.TrimSpace(trigger.CompanySymbol))
	if inv.CompanySymbol == "" {
		inv.CompanySymbol = "UNKNOWN"
	}
	if inv.CompanyName == "" {
		inv.CompanyName = "Unknown Company"
	}

	documentText := a.documentText(ctx, trigger)
	history := a.history(ctx, inv.CompanySymbol)
	inv.MarketData = a.marketSnapshot(ctx, trigger)

	var usage llm.Usage
	results, status, queryUsage := a.webSearch(ctx, inv, documentText)
	usage.Add(queryUsage)
	inv.WebSearchResults = results
	inv.WebSearchStatus = status

	webJSON, _ := json.Marshal(results)
	marketJSON := []byte("{}")
	if inv.MarketData != nil {
		marketJSON, _ = json.Marshal(inv.MarketData)
	}
	var out synthesisResult
	synthUsage, err := a.llm.CompleteJSON(ctx, llm.Request{
		Operation: "analysis",
		Model:     a.model,
		System:    synthesisPrompt,
		User: fmt.Sprintf("Company: %s (%s)\nSource: %s\n\nAnnouncement and documents:\n%s\n\nMarket data:\n%s\n\nWeb findings (status %s):\n%s\n\nRecent investigations:\n%s",
			inv.CompanyName, inv.CompanySymbol, trigger.Source,
			truncateRunes(documentText, documentTextRunes),
			marketJSON, status, webJSON, history),
		MaxTokens: 4000,
	}, &out)
	usage.Add(synthUsage)
	if err != nil {
		return nil, fmt.Errorf("synthesize investigation: %w", err)
	}

	inv.Synthesis = strings.TrimSpace(out.Synthesis)
	inv.KeyFindings = nonNil(out.KeyFindings)
	inv.RedFlags = nonNil(out.RedFlags)
	inv.PositiveSignals = nonNil(out.PositiveSignals)
	inv.ManagementHighlights = nonNil(out.ManagementHighlights)
	inv.Significance = models.ParseSignificance(out.Significance)
	inv.SignificanceReasoning = strings.TrimSpace(out.SignificanceReasoning)
	inv.IsSignificant = out.IsSignificant && inv.Significance != models.SignificanceNoise

	inv.LLMModelUsed = a.model
	inv.TotalInputTokens = usage.InputTokens
	inv.TotalOutputTokens = usage.OutputTokens
	inv.ProcessingTimeSeconds = time.Since(started).Seconds()

	if err := a.investigations.SaveInvestigation(ctx, inv); err != nil {
		return nil, fmt.Errorf("save investigation: %w", err)
	}
	return inv, nil
}

// documentText prefers extracted document text over the trigger content.
func (a *Analyzer) documentText(ctx context.Context, trigger *models.TriggerEvent) string {
	if len(trigger.DocumentIDs) == 0 || a.docs == nil {
		return trigger.RawContent
	}

	texts := []string{models.OriginalContent(trigger.RawContent)}
	for _, id := range trigger.DocumentIDs {
		doc, err := a.docs.GetDocument(ctx, id)
		if err != nil {
			a.logger.Warn("document lookup failed", "trigger_id", trigger.TriggerID, "document_id", id, "error", err)
			continue
		}
		if doc.ExtractedText != "" {
			texts = append(texts, doc.ExtractedText)
		}
	}
	if len(texts) == 1 {
		return trigger.RawContent
	}
	return strings.Join(texts, "\n\n---\n\n")
}

func (a *Analyzer) history(ctx context.Context, symbol string) string {
	if symbol == "UNKNOWN" {
		return "[]"
	}
	past, err := a.investigations.ListInvestigationsByCompany(ctx, symbol, historyInvestigates)
	if err != nil {
		a.logger.Warn("investigation history lookup failed", "company_symbol", symbol, "error", err)
		return "[]"
	}

	type pastInvestigation struct {
		Date         string   `json:"date"`
		Significance string   `json:"significance"`
		KeyFindings  []string `json:"key_findings"`
	}
	items := make([]pastInvestigation, 0, len(past))
	for _, inv := range past {
		findings := inv.KeyFindings
		if len(findings) > 3 {
			findings = findings[:3]
		}
		items = append(items, pastInvestigation{
			Date:         inv.CreatedAt.Format(time.DateOnly),
			Significance: string(inv.Significance),
			KeyFindings:  findings,
		})
	}
	b, _ := json.Marshal(items)
	return string(b)
}

// marketSnapshot fetches the price context for the trigger's symbol. Lookup
// failures and an open breaker yield an unavailable snapshot; analysis
// continues either way.
func (a *Analyzer) marketSnapshot(ctx context.Context, trigger *models.TriggerEvent) *models.MarketDataSnapshot {
	symbol := strings.ToUpper(strings.TrimSpace(trigger.CompanySymbol))
	if a.market == nil || symbol == "" {
		return nil
	}
	if a.marketBreaker != nil && a.marketBreaker.IsOpen() {
		a.logger.Warn("market data skipped, circuit open", "company_symbol", symbol, "retry_in", a.marketBreaker.Remaining())
		return models.UnavailableMarketData(symbol)
	}

	snapshot, err := resilience.Call(ctx, a.marketBreaker, countMarketFailure, func(ctx context.Context) (*models.MarketDataSnapshot, error) {
		return a.market.Snapshot(ctx, symbol)
	})
	if err != nil {
		a.logger.Warn("market data lookup failed, continuing without snapshot", "company_symbol", symbol, "error", err)
		return models.UnavailableMarketData(symbol)
	}
	return snapshot
}

// countMarketFailure ignores symbols the provider does not list.
func countMarketFailure(err error) bool {
	return !errors.Is(err, ErrNoMarketData) && !errors.Is(err, context.Canceled)
}

// webSearch generates queries and runs them. Failures degrade to fewer or
// no results and never fail the analysis.
func (a *Analyzer) webSearch(ctx context.Context, inv *models.Investigation, documentText string) ([]models.WebSearchResult, string, llm.Usage) {
	if a.searcher == nil {
		return nil, WebSearchDisabled, llm.Usage{}
	}
	if a.searchBreaker != nil && a.searchBreaker.IsOpen() {
		a.logger.Warn("web search skipped, circuit open", "company_symbol", inv.CompanySymbol, "retry_in", a.searchBreaker.Remaining())
		return nil, WebSearchUnavailable, llm.Usage{}
	}

	var out struct {
		Queries llm.StringList `json:"queries"`
	}
	usage, err := a.llm.CompleteJSON(ctx, llm.Request{
		Operation: "web_search_queries",
		Model:     a.model,
		System:    queryGenerationPrompt,
		User: fmt.Sprintf("Company: %s (%s)\n\nContext:\n%s",
			inv.CompanyName, inv.CompanySymbol, truncateRunes(documentText, queryContextRunes)),
		MaxTokens: 400,
	}, &out)
	if err != nil {
		a.logger.Warn("web search query generation failed", "trigger_id", inv.TriggerID, "error", err)
		return nil, WebSearchFailed, usage
	}

	queries := []string(out.Queries)
	if len(queries) > maxQueries {
		queries = queries[:maxQueries]
	}

	var results []models.WebSearchResult
	failures := 0
	for _, q := range queries {
		rows, err := resilience.Call(ctx, a.searchBreaker, retry.IsTransient, func(ctx context.Context) ([]models.WebSearchResult, error) {
			return a.searcher.Search(ctx, q, a.maxResults)
		})
		if errors.Is(err, resilience.ErrCircuitOpen) {
			a.logger.Warn("web search circuit opened, skipping remaining queries", "trigger_id", inv.TriggerID)
			return results, WebSearchUnavailable, usage
		}
		if err != nil {
			failures++
			a.logger.Warn("web search query failed", "query", q, "error", err)
			continue
		}
		results = append(results, rows...)
	}

	if len(queries) > 0 && failures == len(queries) {
		return results, WebSearchFailed, usage
	}
	return results, WebSearchOK, usage
}

func nonNil(l llm.StringList) []string {
	if l == nil {
		return []string{}
	}
	return []string(l)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n])
}
