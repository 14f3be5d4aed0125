package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tujanalyst/tujanalyst/internal/models"
)

// Row is one announcement record as decoded from a feed.
type Row map[string]any

// Candidate field names per logical attribute, in priority order.
var (
	titleKeys     = []string{"desc", "headline", "News_Sub", "title", "subject"}
	contentKeys   = []string{"desc", "details", "description", "News_Sub", "title", "subject"}
	symbolKeys    = []string{"symbol", "sm_symbol", "SCRIP_CD", "scrip_cd", "scripcode"}
	companyKeys   = []string{"sm_name", "companyName", "company_name", "CompanyName", "scripname"}
	sectorKeys    = []string{"industry", "sector"}
	sourceURLKeys = []string{"attchmntFile", "link", "url", "attachment", "Attachment"}
	dateKeys      = []string{"an_dt", "an_date", "news_date", "News_submission_dt", "date", "published"}
	documentKeys  = []string{"attchmntFile", "link", "url", "attachment", "Attachment", "attachments"}
	nestedURLKeys = []string{"url", "link", "href"}

	syntheticTitleKeys  = []string{"desc", "headline", "title"}
	syntheticDateKeys   = []string{"an_dt", "date", "published"}
	syntheticSymbolKeys = []string{"symbol", "sm_symbol", "SCRIP_CD"}

	nseRowKeys = []string{"data", "rows", "announcements"}
	bseRowKeys = []string{"Table", "Data", "data", "results"}
)

var (
	scripPathPattern  = regexp.MustCompile(`/(\d{6})(?:/|$)`)
	scripQueryPattern = regexp.MustCompile(`(?i)[?&]scrip(?:code|_cd|cd)?=(\d{6})`)
	symbolTokenRegex  = regexp.MustCompile(`(?i)\bsymbol\s*[:=]\s*([A-Z0-9][A-Z0-9&\-]{1,19})`)
	titleSeparators   = []string{" - ", ": ", " – "}
)

var dateLayouts = []string{
	"02-Jan-2006",
	"02-Jan-2006 15:04:05",
	"2006-01-02",
	"2006-01-02 15:04:05",
	"02/01/2006",
	"02/01/2006 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
}

var zonedDateLayouts = []string{
	time.RFC3339Nano,
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
}

// ExtractRows pulls announcement rows out of a decoded payload. Unknown
// shapes yield no rows.
func ExtractRows(source models.TriggerSource, payload Payload) []Row {
	switch v := payload.(type) {
	case FeedEntries:
		rows := make([]Row, 0, len(v))
		for _, entry := range v {
			rows = append(rows, Row{
				"desc":         entry.Title,
				"details":      entry.Summary,
				"attchmntFile": entry.Link,
				"an_dt":        entry.Published,
			})
		}
		return rows
	case []any:
		return objectRows(v)
	case map[string]any:
		var keys []string
		switch source {
		case models.TriggerSourceNSE:
			keys = nseRowKeys
		case models.TriggerSourceBSE:
			keys = bseRowKeys
		}
		for _, key := range keys {
			if list, ok := v[key].([]any); ok {
				return objectRows(list)
			}
		}
	}
	return nil
}

func objectRows(list []any) []Row {
	rows := make([]Row, 0, len(list))
	for _, item := range list {
		if obj, ok := item.(map[string]any); ok {
			rows = append(rows, Row(obj))
		}
	}
	return rows
}

// NormalizeRow maps one row to the canonical announcement shape. Relative
// links are resolved against baseURL.
func NormalizeRow(source models.TriggerSource, row Row, baseURL string) models.NormalizedAnnouncement {
	title := pickStr(row, titleKeys)
	content := pickStr(row, contentKeys)
	if content == "" {
		content = title
	}
	if title == "" {
		title = truncateRunes(content, 120)
	}

	documentURLs := extractDocumentURLs(row, baseURL)

	symbol := pickStr(row, symbolKeys)
	if symbol == "" {
		symbol = inferSymbol(title, content, documentURLs)
	}

	companyName := pickStr(row, companyKeys)
	if companyName == "" {
		companyName = companyFromTitle(title)
	}

	sourceURL := pickStr(row, sourceURLKeys)
	if sourceURL != "" {
		sourceURL = resolveURL(baseURL, sourceURL)
	} else {
		sourceURL = syntheticSourceURL(source, row)
	}

	return models.NormalizedAnnouncement{
		Source:        source,
		SourceURL:     sourceURL,
		Title:         title,
		RawContent:    content,
		CompanySymbol: symbol,
		CompanyName:   companyName,
		Sector:        pickStr(row, sectorKeys),
		PublishedAt:   ParseDate(pickStr(row, dateKeys)),
		DocumentURLs:  documentURLs,
	}
}

// pickStr returns the first non-empty scalar under keys, as a string.
func pickStr(row Row, keys []string) string {
	for _, key := range keys {
		if s, ok := scalarString(row[key]); ok {
			return s
		}
	}
	return ""
}

func scalarString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		return s, s != ""
	case json.Number:
		return val.String(), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	default:
		return "", false
	}
}

func inferSymbol(title, content string, documentURLs []string) string {
	for _, u := range documentURLs {
		if m := scripQueryPattern.FindStringSubmatch(u); m != nil {
			return m[1]
		}
		path := u
		if parsed, err := url.Parse(u); err == nil {
			path = parsed.Path
		}
		if m := scripPathPattern.FindStringSubmatch(path); m != nil {
			return m[1]
		}
	}
	for _, text := range []string{title, content} {
		if m := symbolTokenRegex.FindStringSubmatch(text); m != nil {
			return strings.ToUpper(m[1])
		}
	}
	return ""
}

func companyFromTitle(title string) string {
	cut := -1
	for _, sep := range titleSeparators {
		if idx := strings.Index(title, sep); idx > 0 && (cut == -1 || idx < cut) {
			cut = idx
		}
	}
	if cut <= 0 {
		return ""
	}
	return strings.TrimSpace(title[:cut])
}

func extractDocumentURLs(row Row, baseURL string) []string {
	var urls []string
	for _, key := range documentKeys {
		switch v := row[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				urls = append(urls, resolveURL(baseURL, s))
			}
		case []any:
			for _, item := range v {
				switch it := item.(type) {
				case string:
					if s := strings.TrimSpace(it); s != "" {
						urls = append(urls, resolveURL(baseURL, s))
					}
				case map[string]any:
					if nested := pickStr(Row(it), nestedURLKeys); nested != "" {
						urls = append(urls, resolveURL(baseURL, nested))
					}
				}
			}
		}
	}

	seen := make(map[string]struct{}, len(urls))
	deduped := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		deduped = append(deduped, u)
	}
	return deduped
}

func resolveURL(baseURL, ref string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return ref
	}
	target, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(target).String()
}

func syntheticSourceURL(source models.TriggerSource, row Row) string {
	raw := strings.Join([]string{
		string(source),
		pickStr(row, syntheticTitleKeys),
		pickStr(row, syntheticDateKeys),
		pickStr(row, syntheticSymbolKeys),
	}, "|")
	sum := sha256.Sum256([]byte(raw))
	return "urn:tuj:" + string(source) + ":" + hex.EncodeToString(sum[:])[:16]
}

// ParseDate parses the exchange and syndication date formats. Zone-less
// values are taken as UTC. Unparseable input yields nil.
func ParseDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return &t
		}
	}
	for _, layout := range zonedDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
