package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tujanalyst/tujanalyst/internal/config"
	"github.com/tujanalyst/tujanalyst/internal/models"
	"github.com/tujanalyst/tujanalyst/internal/retry"
)

const (
	braveEndpoint  = "https://api.search.brave.com/res/v1/web/search"
	tavilyEndpoint = "https://api.tavily.com/search"
)

// WebSearcher runs one web query.
type WebSearcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]models.WebSearchResult, error)
}

// NewWebSearcher builds the provider named in cfg. It returns nil for "none".
func NewWebSearcher(cfg config.WebSearchConfig, client *http.Client) (WebSearcher, error) {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	switch strings.ToLower(cfg.Provider) {
	case "", "none":
		return nil, nil
	case "brave":
		return &BraveSearcher{client: client, apiKey: cfg.BraveKey, endpoint: braveEndpoint, retry: retry.DefaultOptions()}, nil
	case "tavily":
		return &TavilySearcher{client: client, apiKey: cfg.TavilyKey, endpoint: tavilyEndpoint, retry: retry.DefaultOptions()}, nil
	default:
		return nil, fmt.Errorf("unsupported web search provider %q", cfg.Provider)
	}
}

// BraveSearcher queries the Brave Search API.
type BraveSearcher struct {
	client   *http.Client
	apiKey   string
	endpoint string
	retry    retry.Options
}

// Search implements WebSearcher.
func (b *BraveSearcher) Search(ctx context.Context, query string, maxResults int) ([]models.WebSearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(maxResults))

	body, err := retry.Do(ctx, b.retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"?"+params.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Subscription-Token", b.apiKey)
		return doSearch(b.client, req)
	})
	if err != nil {
		return nil, fmt.Errorf("brave search: %w", err)
	}

	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("brave search: decode: %w", err)
	}

	results := make([]models.WebSearchResult, 0, len(payload.Web.Results))
	for _, r := range payload.Web.Results {
		results = appendResult(results, query, r.Title, r.URL, r.Description)
	}
	return results, nil
}

// TavilySearcher queries the Tavily search API.
type TavilySearcher struct {
	client   *http.Client
	apiKey   string
	endpoint string
	retry    retry.Options
}

// Search implements WebSearcher.
func (t *TavilySearcher) Search(ctx context.Context, query string, maxResults int) ([]models.WebSearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	reqBody, err := json.Marshal(map[string]any{
		"api_key":      t.apiKey,
		"query":        query,
		"max_results":  maxResults,
		"search_depth": "basic",
	})
	if err != nil {
		return nil, fmt.Errorf("tavily search: encode: %w", err)
	}

	body, err := retry.Do(ctx, t.retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(reqBody))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		return doSearch(t.client, req)
	})
	if err != nil {
		return nil, fmt.Errorf("tavily search: %w", err)
	}

	var payload struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("tavily search: decode: %w", err)
	}

	results := make([]models.WebSearchResult, 0, len(payload.Results))
	for _, r := range payload.Results {
		results = appendResult(results, query, r.Title, r.URL, r.Content)
	}
	return results, nil
}

func doSearch(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &retry.StatusError{Code: resp.StatusCode}
		if resp.StatusCode == http.StatusTooManyRequests {
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
				return nil, &retry.RetryableError{Err: statusErr, RetryAfter: time.Duration(secs) * time.Second}
			}
		}
		return nil, statusErr
	}
	return io.ReadAll(io.LimitReader(resp.Body, 2<<20))
}

func appendResult(results []models.WebSearchResult, query, title, link, snippet string) []models.WebSearchResult {
	title, link = strings.TrimSpace(title), strings.TrimSpace(link)
	if title == "" || link == "" {
		return results
	}
	return append(results, models.WebSearchResult{
		Query:   query,
		Title:   title,
		URL:     link,
		Snippet: strings.TrimSpace(snippet),
	})
}
