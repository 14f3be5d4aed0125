package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/tujanalyst/tujanalyst/internal/models"
	"github.com/tujanalyst/tujanalyst/internal/storage"
)

const (
	contentPrefixRunes = 280

	DefaultRefreshTTL = 10 * time.Minute
	DefaultLookback   = 72 * time.Hour
	DefaultSeedLimit  = 500
)

var whitespacePattern = regexp.MustCompile(`\s+`)

// DedupKeys returns the URL and content keys identifying an announcement.
// Source and document URLs share a namespace so a re-hosted attachment
// matches an earlier announcement that linked it directly.
func DedupKeys(a models.NormalizedAnnouncement) []string {
	keys := make([]string, 0, 2+len(a.DocumentURLs))
	if u := CanonicalizeURL(a.SourceURL); u != "" {
		keys = append(keys, "url:"+u)
	}
	for _, doc := range a.DocumentURLs {
		if u := CanonicalizeURL(doc); u != "" {
			keys = append(keys, "url:"+u)
		}
	}
	keys = append(keys, "fp:"+ContentFingerprint(a.Source, a.CompanySymbol, a.PublishedAt, a.Title, a.RawContent))
	return uniqueStrings(keys)
}

// TriggerDedupKeys recomputes the keys of a persisted trigger, matching what
// DedupKeys produced for its announcement. Document text appended after
// ingestion is ignored so the fingerprint stays stable.
func TriggerDedupKeys(t models.TriggerEvent) []string {
	keys := make([]string, 0, 2+len(t.DocumentURLs))
	if u := CanonicalizeURL(t.SourceURL); u != "" {
		keys = append(keys, "url:"+u)
	}
	for _, doc := range t.DocumentURLs {
		if u := CanonicalizeURL(doc); u != "" {
			keys = append(keys, "url:"+u)
		}
	}
	keys = append(keys, "fp:"+ContentFingerprint(t.Source, t.CompanySymbol, t.SourceFeedPublished, t.SourceFeedTitle, models.OriginalContent(t.RawContent)))
	return uniqueStrings(keys)
}

// ContentFingerprint hashes the lower-cased, whitespace-collapsed identity
// fields of an announcement.
func ContentFingerprint(source models.TriggerSource, symbol string, published *time.Time, title, content string) string {
	var ts string
	if published != nil {
		ts = published.UTC().Format(time.RFC3339)
	}
	parts := []string{
		string(source),
		symbol,
		ts,
		title,
		truncateRunes(normalizeWhitespace(content), contentPrefixRunes),
	}
	for i, p := range parts {
		parts[i] = normalizeWhitespace(strings.ToLower(p))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func normalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// KeyCacheConfig bounds the known-key cache.
type KeyCacheConfig struct {
	RefreshTTL time.Duration
	Lookback   time.Duration
	SeedLimit  int
}

// KeyCache holds dedup keys of recently persisted triggers. It is rebuilt
// from the store at most once per RefreshTTL, which bounds its size to the
// lookback window.
type KeyCache struct {
	cfg KeyCacheConfig
	now func() time.Time

	mu          sync.Mutex
	keys        map[string]struct{}
	lastRefresh time.Time
}

// NewKeyCache creates an empty cache. A nil clock uses time.Now.
func NewKeyCache(cfg KeyCacheConfig, now func() time.Time) *KeyCache {
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.SeedLimit <= 0 {
		cfg.SeedLimit = DefaultSeedLimit
	}
	if now == nil {
		now = time.Now
	}
	return &KeyCache{cfg: cfg, now: now, keys: make(map[string]struct{})}
}

// EnsureFresh rebuilds the cache from lister when the TTL has elapsed.
// It reports whether a refresh happened.
func (c *KeyCache) EnsureFresh(ctx context.Context, lister storage.RecentTriggerLister) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.lastRefresh.IsZero() && now.Sub(c.lastRefresh) < c.cfg.RefreshTTL {
		return false, nil
	}

	recent, err := lister.ListRecent(ctx, storage.RecentFilter{
		Limit: c.cfg.SeedLimit,
		Since: now.Add(-c.cfg.Lookback),
	})
	if err != nil {
		return false, fmt.Errorf("seed dedup cache: %w", err)
	}

	keys := make(map[string]struct{}, len(recent)*2)
	for _, t := range recent {
		for _, k := range TriggerDedupKeys(t) {
			keys[k] = struct{}{}
		}
	}
	c.keys = keys
	c.lastRefresh = now
	return true, nil
}

// ContainsAny reports whether any key is already known.
func (c *KeyCache) ContainsAny(keys []string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, k := range keys {
		if _, ok := c.keys[k]; ok {
			return true
		}
	}
	return false
}

// Add records keys as known.
func (c *KeyCache) Add(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, k := range keys {
		c.keys[k] = struct{}{}
	}
}

// Len returns the number of known keys.
func (c *KeyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keys)
}
