package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tujanalyst/tujanalyst/internal/metrics"
	"github.com/tujanalyst/tujanalyst/internal/models"
	"github.com/tujanalyst/tujanalyst/internal/storage"
)

// SymbolResolver maps exchange scrip codes to watched symbols.
type SymbolResolver interface {
	SymbolForBSECode(code string) (string, bool)
}

// Poller pulls announcement feeds and creates a pending trigger for every
// announcement not seen before.
type Poller struct {
	store    storage.TriggerRepository
	sources  []FeedSource
	fetcher  Fetcher
	cache    *KeyCache
	resolver SymbolResolver
	metrics  *metrics.Collector
	logger   *slog.Logger
	now      func() time.Time
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithSymbolResolver resolves numeric scrip codes to symbols.
func WithSymbolResolver(r SymbolResolver) PollerOption {
	return func(p *Poller) { p.resolver = r }
}

// WithMetrics records poll counters.
func WithMetrics(m *metrics.Collector) PollerOption {
	return func(p *Poller) { p.metrics = m }
}

// WithPollerClock overrides the time source for trigger timestamps and the
// dedup cache.
func WithPollerClock(now func() time.Time) PollerOption {
	return func(p *Poller) { p.now = now }
}

// NewPoller creates a poller. Sources with an empty URL are ignored.
func NewPoller(store storage.TriggerRepository, sources []FeedSource, fetcher Fetcher, cacheCfg KeyCacheConfig, logger *slog.Logger, opts ...PollerOption) *Poller {
	active := make([]FeedSource, 0, len(sources))
	for _, s := range sources {
		if s.URL != "" {
			active = append(active, s)
		}
	}

	p := &Poller{
		store:   store,
		sources: active,
		fetcher: fetcher,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.cache = NewKeyCache(cacheCfg, p.now)
	return p
}

// Poll runs one cycle over every source. A failing source contributes no
// triggers and does not stop the others. The error is non-nil only when ctx
// ends the cycle early.
func (p *Poller) Poll(ctx context.Context) ([]models.TriggerEvent, error) {
	useCache := false
	if lister, ok := p.store.(storage.RecentTriggerLister); ok {
		refreshed, err := p.cache.EnsureFresh(ctx, lister)
		if err != nil {
			p.logger.Warn("dedup cache refresh failed, falling back to url checks", "error", err)
		} else {
			useCache = true
			if refreshed {
				p.logger.Debug("dedup cache refreshed", "keys", p.cache.Len())
			}
		}
	}

	var created []models.TriggerEvent
	for _, src := range p.sources {
		if err := ctx.Err(); err != nil {
			return created, err
		}

		announcements, err := p.fetchAnnouncements(ctx, src)
		if err != nil {
			p.metrics.PollSourceError(string(src.Source))
			p.logger.Error("failed polling source", "source", src.Source, "url", src.URL, "error", err)
			continue
		}

		fresh := p.createNewTriggers(ctx, src.Source, announcements, useCache)
		p.metrics.PollCreated(string(src.Source), len(fresh))
		p.logger.Info("poll source complete",
			"source", src.Source,
			"total", len(announcements),
			"created", len(fresh))
		created = append(created, fresh...)
	}

	p.logger.Info("poll cycle complete", "created", len(created), "dedup_mode", dedupMode(useCache))
	return created, nil
}

func dedupMode(useCache bool) string {
	if useCache {
		return "cache"
	}
	return "url_exists"
}

func (p *Poller) fetchAnnouncements(ctx context.Context, src FeedSource) ([]models.NormalizedAnnouncement, error) {
	body, contentType, err := p.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	payload, err := DecodePayload(body, contentType)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	rows := ExtractRows(src.Source, payload)
	announcements := make([]models.NormalizedAnnouncement, 0, len(rows))
	for _, row := range rows {
		a := NormalizeRow(src.Source, row, src.URL)
		if p.resolver != nil && isNumeric(a.CompanySymbol) {
			if symbol, ok := p.resolver.SymbolForBSECode(a.CompanySymbol); ok {
				a.CompanySymbol = symbol
			}
		}
		announcements = append(announcements, a)
	}
	return announcements, nil
}

func (p *Poller) createNewTriggers(ctx context.Context, source models.TriggerSource, announcements []models.NormalizedAnnouncement, useCache bool) []models.TriggerEvent {
	var created []models.TriggerEvent
	for _, a := range announcements {
		keys := DedupKeys(a)

		duplicate, err := p.isDuplicate(ctx, a, keys, useCache)
		if err != nil {
			p.logger.Warn("duplicate check failed, skipping announcement", "source", source, "url", a.SourceURL, "error", err)
			continue
		}
		if duplicate {
			p.metrics.PollDuplicate(string(source))
			continue
		}

		trigger := a.ToTrigger(p.now())
		if _, err := p.store.Save(ctx, trigger); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				p.metrics.PollDuplicate(string(source))
				continue
			}
			p.logger.Error("failed to save trigger", "source", source, "url", a.SourceURL, "error", err)
			continue
		}

		p.cache.Add(keys)
		p.logger.Debug("trigger created",
			"trigger_id", trigger.TriggerID,
			"company_symbol", trigger.CompanySymbol,
			"source", trigger.Source)
		created = append(created, trigger.Clone())
	}
	return created
}

// isDuplicate checks the key cache, or in degraded mode the store by exact
// and canonical source URL.
func (p *Poller) isDuplicate(ctx context.Context, a models.NormalizedAnnouncement, keys []string, useCache bool) (bool, error) {
	if useCache {
		return p.cache.ContainsAny(keys), nil
	}

	candidates := []string{a.SourceURL}
	if canonical := CanonicalizeURL(a.SourceURL); canonical != a.SourceURL {
		candidates = append(candidates, canonical)
	}
	for _, u := range candidates {
		exists, err := p.store.ExistsByURL(ctx, u)
		if err != nil {
			return false, err
		}
		if exists {
			return true, nil
		}
	}
	return false, nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
