package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tujanalyst/tujanalyst/internal/models"
	"github.com/tujanalyst/tujanalyst/internal/retry"
)

const maxFeedBytes = 10 << 20

// ErrFeedTooLarge is returned when a feed body exceeds the size cap.
var ErrFeedTooLarge = errors.New("feed too large")

// FeedSource is one configured announcement endpoint.
type FeedSource struct {
	Source models.TriggerSource
	URL    string
}

// Fetcher downloads feed bodies.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (body []byte, contentType string, err error)
}

// HTTPFetcher fetches feeds over HTTP with bounded retries on transient
// failures.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	retry     retry.Options
	maxBytes  int64
}

// NewHTTPFetcher creates a fetcher. A nil client gets a 30s timeout.
func NewHTTPFetcher(client *http.Client, userAgent string, opts retry.Options) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Attempts <= 0 {
		opts = retry.DefaultOptions()
	}
	return &HTTPFetcher{client: client, userAgent: userAgent, retry: opts, maxBytes: maxFeedBytes}
}

type feedResponse struct {
	body        []byte
	contentType string
}

// Fetch performs the GET, retrying 429/5xx and timeouts.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	resp, err := retry.Do(ctx, f.retry, func(ctx context.Context) (feedResponse, error) {
		return f.fetchOnce(ctx, url)
	})
	if err != nil {
		return nil, "", err
	}
	return resp.body, resp.contentType, nil
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, url string) (feedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return feedResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "application/json, application/xml, text/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return feedResponse{}, fmt.Errorf("http get failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return feedResponse{}, &retry.StatusError{Code: resp.StatusCode, URL: url}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return feedResponse{}, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return feedResponse{}, fmt.Errorf("%w: more than %d bytes", ErrFeedTooLarge, f.maxBytes)
	}
	return feedResponse{body: body, contentType: resp.Header.Get("Content-Type")}, nil
}

// RSS represents the RSS 2.0 feed structure.
type RSS struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Title string    `xml:"title"`
		Items []RSSItem `xml:"item"`
	} `xml:"channel"`
}

// RSSItem represents a single RSS 2.0 item.
type RSSItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	GUID        string `xml:"guid"`
	Category    string `xml:"category"`
}

// AtomFeed represents the Atom feed structure.
type AtomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Entries []AtomEntry `xml:"entry"`
}

// AtomEntry represents a single Atom entry.
type AtomEntry struct {
	Title     string   `xml:"title"`
	Link      AtomLink `xml:"link"`
	Summary   string   `xml:"summary"`
	Published string   `xml:"published"`
	Updated   string   `xml:"updated"`
	ID        string   `xml:"id"`
}

// AtomLink represents an Atom link element.
type AtomLink struct {
	Href string `xml:"href,attr"`
}

// FeedEntry is a generic syndication entry, before exchange-specific mapping.
type FeedEntry struct {
	Title     string
	Link      string
	Summary   string
	Published string
}

// Payload is a decoded feed body: a JSON value ([]any or map[string]any),
// or a FeedEntries list for RSS/Atom.
type Payload any

// FeedEntries is the decoded form of an RSS or Atom document.
type FeedEntries []FeedEntry

// DecodePayload decodes JSON when the content type says so, otherwise tries
// RSS, then Atom, then JSON. Undecodable bodies yield an empty object.
func DecodePayload(body []byte, contentType string) (Payload, error) {
	if strings.Contains(strings.ToLower(contentType), "json") {
		return decodeJSON(body)
	}

	if entries := decodeSyndication(body); len(entries) > 0 {
		return entries, nil
	}

	if v, err := decodeJSON(body); err == nil {
		return v, nil
	}
	return map[string]any{}, nil
}

func decodeJSON(body []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json feed: %w", err)
	}
	return v, nil
}

func decodeSyndication(body []byte) FeedEntries {
	var rss RSS
	if err := xml.Unmarshal(body, &rss); err == nil && len(rss.Channel.Items) > 0 {
		entries := make(FeedEntries, 0, len(rss.Channel.Items))
		for _, item := range rss.Channel.Items {
			link := strings.TrimSpace(item.Link)
			if link == "" {
				link = strings.TrimSpace(item.GUID)
			}
			entries = append(entries, FeedEntry{
				Title:     cleanText(item.Title),
				Link:      link,
				Summary:   cleanText(item.Description),
				Published: strings.TrimSpace(item.PubDate),
			})
		}
		return entries
	}

	var atom AtomFeed
	if err := xml.Unmarshal(body, &atom); err == nil && len(atom.Entries) > 0 {
		entries := make(FeedEntries, 0, len(atom.Entries))
		for _, entry := range atom.Entries {
			published := entry.Published
			if published == "" {
				published = entry.Updated
			}
			entries = append(entries, FeedEntry{
				Title:     cleanText(entry.Title),
				Link:      strings.TrimSpace(entry.Link.Href),
				Summary:   cleanText(entry.Summary),
				Published: strings.TrimSpace(published),
			})
		}
		return entries
	}
	return nil
}

// cleanText removes HTML tags and extra whitespace.
func cleanText(text string) string {
	for _, br := range []string{"<p>", "</p>", "<br>", "<br/>", "<br />"} {
		text = strings.ReplaceAll(text, br, "\n")
	}

	for {
		start := strings.Index(text, "<")
		if start == -1 {
			break
		}
		end := strings.Index(text[start:], ">")
		if end == -1 {
			break
		}
		text = text[:start] + text[start+end+1:]
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}
