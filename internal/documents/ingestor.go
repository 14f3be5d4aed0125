package documents

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/tujanalyst/tujanalyst/internal/models"
	"github.com/tujanalyst/tujanalyst/internal/retry"
	"github.com/tujanalyst/tujanalyst/internal/storage"
)

const (
	// DefaultMaxBytes caps a single download.
	DefaultMaxBytes = 50 << 20
	// DefaultMaxTextRunes caps the text appended to a trigger.
	DefaultMaxTextRunes = 20000
)

// Ingestor downloads a trigger's source document, stores it and extracts
// readable text.
type Ingestor struct {
	docs         storage.DocumentRepository
	client       *http.Client
	userAgent    string
	maxBytes     int64
	maxTextRunes int
	retry        retry.Options
	logger       *slog.Logger
	now          func() time.Time
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithMaxBytes overrides the download size cap.
func WithMaxBytes(n int64) Option {
	return func(i *Ingestor) { i.maxBytes = n }
}

// WithRetry overrides the download retry policy.
func WithRetry(opts retry.Options) Option {
	return func(i *Ingestor) { i.retry = opts }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(i *Ingestor) { i.userAgent = ua }
}

// WithClock overrides the document timestamp source.
func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) { i.now = now }
}

// NewIngestor creates an ingestor. A nil client gets a 60s timeout.
func NewIngestor(docs storage.DocumentRepository, client *http.Client, logger *slog.Logger, opts ...Option) *Ingestor {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	i := &Ingestor{
		docs:         docs,
		client:       client,
		userAgent:    "Mozilla/5.0",
		maxBytes:     DefaultMaxBytes,
		maxTextRunes: DefaultMaxTextRunes,
		retry:        retry.DefaultOptions(),
		logger:       logger,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// FetchAndExtract downloads the trigger's source URL. Download and
// extraction problems are recorded on the stored document and do not fail
// the call, so the document id is kept and the download is not retried on
// a later run. The returned error is non-nil only when the document cannot
// be persisted.
func (i *Ingestor) FetchAndExtract(ctx context.Context, trigger *models.TriggerEvent) (models.ExtractionResult, error) {
	result := models.ExtractionResult{EnrichedText: trigger.RawContent}
	if !isFetchable(trigger.SourceURL) {
		return result, nil
	}

	doc := models.NewRawDocument(trigger.TriggerID, trigger.SourceURL, i.now())
	doc.CompanySymbol = trigger.CompanySymbol

	body, contentType, err := i.download(ctx, trigger.SourceURL)
	if err != nil {
		doc.ProcessingStatus = models.ProcessingStatusError
		doc.ProcessingErrors = append(doc.ProcessingErrors, err.Error())
		i.logger.Warn("document download failed", "trigger_id", trigger.TriggerID, "url", trigger.SourceURL, "error", err)
	} else {
		doc.ContentType = contentType
		doc.DocumentType = DetectType(trigger.SourceURL, contentType)
		doc.SizeBytes = int64(len(body))
		i.extract(doc, body)
	}

	if err := i.docs.SaveDocument(ctx, doc); err != nil {
		return result, fmt.Errorf("save document: %w", err)
	}
	result.DocumentIDs = []string{doc.DocumentID}

	if doc.ExtractedText != "" {
		result.EnrichedText = AppendDocumentText(trigger.RawContent, 1, doc.ExtractedText)
	}
	i.logger.Info("document ingested",
		"trigger_id", trigger.TriggerID,
		"document_id", doc.DocumentID,
		"document_type", doc.DocumentType,
		"size_bytes", doc.SizeBytes,
		"processing_status", doc.ProcessingStatus)
	return result, nil
}

// AppendDocumentText appends numbered document text after the original
// announcement content.
func AppendDocumentText(raw string, n int, text string) string {
	return fmt.Sprintf("%s%s%d ===\n%s", raw, models.DocumentTextMarker, n, text)
}

func (i *Ingestor) download(ctx context.Context, rawURL string) ([]byte, string, error) {
	type download struct {
		body        []byte
		contentType string
	}
	d, err := retry.Do(ctx, i.retry, func(ctx context.Context) (download, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return download{}, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", i.userAgent)
		req.Header.Set("Accept", "*/*")

		resp, err := i.client.Do(req)
		if err != nil {
			return download{}, fmt.Errorf("http get failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return download{}, &retry.StatusError{Code: resp.StatusCode, URL: rawURL}
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, i.maxBytes+1))
		if err != nil {
			return download{}, fmt.Errorf("read body: %w", err)
		}
		if int64(len(body)) > i.maxBytes {
			return download{}, fmt.Errorf("file too large: more than %d bytes", i.maxBytes)
		}
		return download{body: body, contentType: resp.Header.Get("Content-Type")}, nil
	})
	return d.body, d.contentType, err
}

func (i *Ingestor) extract(doc *models.RawDocument, body []byte) {
	switch doc.DocumentType {
	case models.DocumentTypeHTML:
		pageURL, _ := url.Parse(doc.SourceURL)
		article, err := readability.FromReader(bytes.NewReader(body), pageURL)
		if err != nil {
			doc.ProcessingStatus = models.ProcessingStatusError
			doc.ProcessingErrors = append(doc.ProcessingErrors, fmt.Sprintf("readability: %v", err))
			return
		}
		text := strings.TrimSpace(article.TextContent)
		if text == "" {
			text = strings.TrimSpace(article.Title)
		}
		doc.ExtractedText = truncateRunes(text, i.maxTextRunes)
		doc.ExtractionMethod = "readability"
		doc.ProcessingStatus = models.ProcessingStatusExtracted
	case models.DocumentTypeText:
		doc.ExtractedText = truncateRunes(strings.TrimSpace(string(body)), i.maxTextRunes)
		doc.ExtractionMethod = "plain_text"
		doc.ProcessingStatus = models.ProcessingStatusExtracted
	default:
		// PDFs and unknown binaries are stored for out-of-process extraction.
		doc.ProcessingStatus = models.ProcessingStatusDownloaded
	}
}

// DetectType classifies a download by content type, then URL extension.
func DetectType(rawURL, contentType string) models.DocumentType {
	ct := strings.ToLower(contentType)
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	}
	path = strings.ToLower(path)

	switch {
	case strings.HasPrefix(ct, "application/pdf") || strings.HasSuffix(path, ".pdf"):
		return models.DocumentTypePDF
	case strings.Contains(ct, "text/html") || strings.HasSuffix(path, ".html") || strings.HasSuffix(path, ".htm"):
		return models.DocumentTypeHTML
	case strings.HasPrefix(ct, "text/plain") || strings.HasSuffix(path, ".txt"):
		return models.DocumentTypeText
	default:
		return models.DocumentTypeUnknown
	}
}

func isFetchable(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n])
}
