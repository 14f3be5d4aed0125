package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tujanalyst/tujanalyst/internal/llm"
	"github.com/tujanalyst/tujanalyst/internal/models"
)

// DefaultMaxInputChars bounds the announcement text sent to the classifier.
const DefaultMaxInputChars = 2000

const classifierSystemPrompt = `You screen Indian stock exchange corporate announcements for an equity research desk.
Decide whether the announcement could plausibly move the company's fundamentals or valuation
(results, orders, capacity, M&A, management change, guidance, regulatory action) and therefore
deserves deeper investigation. Routine compliance filings (trading window closures, duplicate
share certificates, newspaper publication notices) are not worth investigating.

Respond with a JSON object: {"is_worth_investigating": true|false, "reason": "<one short sentence>"}`

// Completer produces a JSON completion. *llm.Client satisfies it.
type Completer interface {
	CompleteJSON(ctx context.Context, req llm.Request, out any) (llm.Usage, error)
}

// Classifier is the model-backed gate. It fails open: any error lets the
// trigger through with method error_fallthrough.
type Classifier struct {
	llm           Completer
	model         string
	maxInputChars int
	logger        *slog.Logger
}

// NewClassifier creates a classifier using model.
func NewClassifier(completer Completer, model string, logger *slog.Logger) *Classifier {
	return &Classifier{
		llm:           completer,
		model:         model,
		maxInputChars: DefaultMaxInputChars,
		logger:        logger,
	}
}

type classification struct {
	IsWorthInvestigating bool   `json:"is_worth_investigating"`
	Reason               string `json:"reason"`
}

// Classify decides whether the announcement text merits deep analysis.
func (c *Classifier) Classify(ctx context.Context, text, companyName, sector string) (models.GateResult, error) {
	text = truncate(text, c.maxInputChars)
	company := strings.TrimSpace(companyName)
	if company == "" {
		company = "Unknown"
	}
	sectorValue := strings.TrimSpace(sector)
	if sectorValue == "" {
		sectorValue = "Unknown"
	}

	var out classification
	_, err := c.llm.CompleteJSON(ctx, llm.Request{
		Operation: "gate",
		Model:     c.model,
		System:    classifierSystemPrompt,
		User:      fmt.Sprintf("Company: %s\nSector: %s\n\nAnnouncement:\n%s", company, sectorValue, text),
		MaxTokens: 200,
	}, &out)
	if err != nil {
		c.logger.Warn("gate classification failed, passing by fail-open policy", "error", err)
		return models.GateResult{
			Passed: true,
			Reason: fmt.Sprintf("Gate classifier failure, passed by fail-open policy: %v", err),
			Method: models.GateMethodErrorFallthru,
			Model:  c.model,
		}, nil
	}

	reason := strings.TrimSpace(out.Reason)
	if reason == "" {
		reason = "No reason provided"
	}
	return models.GateResult{
		Passed: out.IsWorthInvestigating,
		Reason: reason,
		Method: models.GateMethodLLM,
		Model:  c.model,
	}, nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// FilterOnly passes everything the watchlist filter let through. It stands in
// for the classifier when no model is configured.
type FilterOnly struct{}

// Classify implements the pipeline's classifier contract.
func (FilterOnly) Classify(ctx context.Context, text, companyName, sector string) (models.GateResult, error) {
	return models.GateResult{
		Passed: true,
		Reason: "No classifier configured; watchlist filter result stands",
		Method: models.GateMethodFilterOnly,
	}, nil
}
