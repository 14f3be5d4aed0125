package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tujanalyst/tujanalyst/internal/inference"
	"github.com/tujanalyst/tujanalyst/internal/resilience"
	"github.com/tujanalyst/tujanalyst/internal/retry"
)

// ErrEmptyResponse is returned when the model returns no choices.
var ErrEmptyResponse = errors.New("llm: empty response")

// ChatCompleter is the subset of the OpenAI client used here.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Usage counts tokens across one or more calls.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Add accumulates o into u.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
}

// Request is one JSON-producing chat completion.
type Request struct {
	Operation string
	Model     string
	System    string
	User      string
	MaxTokens int
}

// Client issues JSON completions with retry, an optional breaker and a
// per-attempt timeout.
type Client struct {
	api      ChatCompleter
	retry    retry.Options
	breaker  *resilience.Breaker
	timeout  time.Duration
	recorder *inference.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRetry overrides the retry policy.
func WithRetry(opts retry.Options) Option {
	return func(c *Client) { c.retry = opts }
}

// WithBreaker guards every call with b.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRecorder logs every call.
func WithRecorder(r *inference.Logger) Option {
	return func(c *Client) { c.recorder = r }
}

// New wraps api.
func New(api ChatCompleter, opts ...Option) *Client {
	c := &Client{
		api:     api,
		retry:   retry.DefaultOptions(),
		timeout: 120 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewOpenAI builds a client against the OpenAI API or a compatible base URL.
func NewOpenAI(apiKey, baseURL string, opts ...Option) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return New(openai.NewClientWithConfig(cfg), opts...)
}

// CompleteJSON runs req and decodes the JSON object in the reply into out.
func (c *Client) CompleteJSON(ctx context.Context, req Request, out any) (Usage, error) {
	started := time.Now()
	resp, err := resilience.Call(ctx, c.breaker, retry.IsTransient, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		return retry.Do(ctx, c.retry, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			return c.api.CreateChatCompletion(callCtx, buildRequest(req))
		})
	})

	usage := Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
	c.recorder.LogCall(ctx, inference.Call{
		Operation:    req.Operation,
		Model:        req.Model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		Latency:      time.Since(started),
		Err:          err,
	})
	if err != nil {
		return usage, fmt.Errorf("%s completion: %w", req.Operation, err)
	}
	if len(resp.Choices) == 0 {
		return usage, fmt.Errorf("%s completion: %w", req.Operation, ErrEmptyResponse)
	}
	if err := DecodeJSON(resp.Choices[0].Message.Content, out); err != nil {
		return usage, fmt.Errorf("%s completion: %w", req.Operation, err)
	}
	return usage, nil
}

// buildRequest uses JSON mode and a system message, except for reasoning
// models which accept neither.
func buildRequest(req Request) openai.ChatCompletionRequest {
	if isReasoningModel(req.Model) {
		return openai.ChatCompletionRequest{
			Model:               req.Model,
			MaxCompletionTokens: req.MaxTokens,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: req.System + "\n\n" + req.User},
			},
		}
	}
	return openai.ChatCompletionRequest{
		Model:               req.Model,
		MaxCompletionTokens: req.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
	}
}

func isReasoningModel(model string) bool {
	m := strings.ToLower(model)
	return strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3") || strings.HasPrefix(m, "o4") || strings.Contains(m, "gpt-5")
}
