package inference

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/tujanalyst/tujanalyst/internal/metrics"
)

// Call describes one completed model call.
type Call struct {
	Operation    string
	Model        string
	InputTokens  int
	OutputTokens int
	Latency      time.Duration
	Err          error
}

// Logger records model calls as structured log lines and counters.
// A nil *Logger records nothing.
type Logger struct {
	logger  *slog.Logger
	metrics *metrics.Collector
}

// NewLogger creates an inference logger.
func NewLogger(logger *slog.Logger, m *metrics.Collector) *Logger {
	return &Logger{logger: logger, metrics: m}
}

// LogCall records one call with a rough cost estimate.
func (l *Logger) LogCall(ctx context.Context, c Call) {
	if l == nil {
		return
	}

	status := "success"
	if c.Err != nil {
		status = "error"
	}
	l.metrics.LLMCall(c.Operation, status, c.InputTokens, c.OutputTokens)

	attrs := []slog.Attr{
		slog.String("operation", c.Operation),
		slog.String("model", c.Model),
		slog.String("status", status),
		slog.Int("input_tokens", c.InputTokens),
		slog.Int("output_tokens", c.OutputTokens),
		slog.Int64("latency_ms", c.Latency.Milliseconds()),
		slog.Float64("cost_usd", EstimateCost(c.Model, c.InputTokens, c.OutputTokens)),
	}
	level := slog.LevelInfo
	if c.Err != nil {
		attrs = append(attrs, slog.String("error", c.Err.Error()))
		level = slog.LevelWarn
	}
	l.logger.LogAttrs(ctx, level, "llm_call", attrs...)
}

// EstimateCost returns a rough USD cost from per-million token prices.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	var inputPer1M, outputPer1M float64

	switch m := strings.ToLower(model); {
	case strings.HasPrefix(m, "gpt-4o-mini"):
		inputPer1M, outputPer1M = 0.15, 0.60
	case strings.HasPrefix(m, "gpt-4o"):
		inputPer1M, outputPer1M = 2.50, 10.00
	case strings.HasPrefix(m, "gpt-4.1-mini"):
		inputPer1M, outputPer1M = 0.40, 1.60
	case strings.HasPrefix(m, "gpt-4.1"):
		inputPer1M, outputPer1M = 2.00, 8.00
	case strings.HasPrefix(m, "gpt-4-turbo"):
		inputPer1M, outputPer1M = 10.00, 30.00
	default:
		inputPer1M, outputPer1M = 5.00, 15.00
	}

	return float64(inputTokens)/1_000_000*inputPer1M + float64(outputTokens)/1_000_000*outputPer1M
}
