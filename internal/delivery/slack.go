package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tujanalyst/tujanalyst/internal/models"
	"github.com/tujanalyst/tujanalyst/internal/retry"
)

const disclaimer = "Decision support only - not an automated trade instruction."

// SlackChannel posts reports to an incoming webhook as Block Kit messages.
type SlackChannel struct {
	webhookURL string
	client     *http.Client
	retry      retry.Options
}

// NewSlackChannel creates a Slack channel. A nil client gets a 15s timeout.
func NewSlackChannel(webhookURL string, client *http.Client) *SlackChannel {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &SlackChannel{webhookURL: webhookURL, client: client, retry: retry.DefaultOptions()}
}

// Name implements Channel.
func (s *SlackChannel) Name() string { return "slack" }

// Send implements Channel.
func (s *SlackChannel) Send(ctx context.Context, report *models.AnalysisReport) error {
	payload, err := json.Marshal(SlackMessage(report))
	if err != nil {
		return fmt.Errorf("encode slack message: %w", err)
	}

	return retry.DoErr(ctx, s.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("slack webhook: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &retry.StatusError{Code: resp.StatusCode}
		}
		return nil
	})
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

// SlackMessage renders a report as a Block Kit payload.
func SlackMessage(report *models.AnalysisReport) map[string]any {
	blocks := []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: recommendationEmoji(report) + " " + report.Title}},
		{Type: "section", Text: &slackText{Type: "mrkdwn", Text: "*" + report.RecommendationSummary + "*"}},
		{Type: "section", Text: &slackText{Type: "mrkdwn", Text: report.ExecutiveSummary}},
		{Type: "divider"},
		{Type: "context", Elements: []slackText{{Type: "mrkdwn", Text: "Report ID: `" + report.ReportID + "`"}}},
		{Type: "context", Elements: []slackText{{Type: "mrkdwn", Text: disclaimer}}},
	}
	return map[string]any{
		"text":   report.Title,
		"blocks": blocks,
	}
}
