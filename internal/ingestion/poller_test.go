package ingestion

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tujanalyst/tujanalyst/internal/logging"
	"github.com/tujanalyst/tujanalyst/internal/models"
	"github.com/tujanalyst/tujanalyst/internal/retry"
	"github.com/tujanalyst/tujanalyst/internal/storage"
)

const (
	nseFeedURL = "https://www.nseindia.com/api/corporate-announcements"
	bseFeedURL = "https://api.bseindia.com/BseIndiaAPI/api/AnnGetData"

	nsePayload = `[{"symbol":"INOXWIND","sm_name":"Inox Wind Limited","desc":"Outcome of Board Meeting",
"attchmntFile":"https://nsearchives.nseindia.com/corporate/INOXWIND_10032025.pdf","an_dt":"10-Mar-2025 18:30:00"}]`

	bsePayload = `{"Table":[{"SCRIP_CD":500112,"News_Sub":"State Bank of India - Allotment of bonds",
"an_dt":"10-Mar-2025 17:00:00"}]}`
)

type fakeResponse struct {
	body        string
	contentType string
	err         error
}

type mockFetcher struct {
	responses map[string]fakeResponse
	calls     map[string]int
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{responses: make(map[string]fakeResponse), calls: make(map[string]int)}
}

func (m *mockFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	m.calls[url]++
	resp, ok := m.responses[url]
	if !ok {
		return nil, "", errors.New("no fixture")
	}
	if resp.err != nil {
		return nil, "", resp.err
	}
	return []byte(resp.body), resp.contentType, nil
}

// urlOnlyStore hides ListRecent so the poller runs in degraded mode.
type urlOnlyStore struct {
	storage.TriggerRepository
}

// failingLister implements ListRecent but always errors.
type failingLister struct {
	*storage.MemoryStore
}

func (f failingLister) ListRecent(ctx context.Context, filter storage.RecentFilter) ([]models.TriggerEvent, error) {
	return nil, errors.New("index unavailable")
}

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func newTestPoller(store storage.TriggerRepository, fetcher Fetcher, clock *fixedClock) *Poller {
	sources := []FeedSource{
		{Source: models.TriggerSourceNSE, URL: nseFeedURL},
		{Source: models.TriggerSourceBSE, URL: bseFeedURL},
	}
	return NewPoller(store, sources, fetcher, KeyCacheConfig{}, logging.Discard(), WithPollerClock(clock.Now))
}

func TestPoll_NSEAndBSEInSameCycle(t *testing.T) {
	store := storage.NewMemoryStore()
	fetcher := newMockFetcher()
	fetcher.responses[nseFeedURL] = fakeResponse{body: nsePayload, contentType: "application/json"}
	fetcher.responses[bseFeedURL] = fakeResponse{body: bsePayload, contentType: "application/json; charset=utf-8"}
	clock := &fixedClock{now: time.Date(2025, 3, 10, 19, 0, 0, 0, time.UTC)}

	created, err := newTestPoller(store, fetcher, clock).Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("expected 2 triggers, got %d", len(created))
	}

	bySource := map[models.TriggerSource]models.TriggerEvent{}
	for _, tr := range created {
		bySource[tr.Source] = tr
		if tr.Status != models.TriggerStatusPending {
			t.Errorf("expected pending trigger, got %s", tr.Status)
		}
	}
	if bySource[models.TriggerSourceNSE].CompanySymbol != "INOXWIND" {
		t.Errorf("expected INOXWIND on nse trigger, got %q", bySource[models.TriggerSourceNSE].CompanySymbol)
	}
	if bySource[models.TriggerSourceBSE].CompanySymbol != "500112" {
		t.Errorf("expected 500112 on bse trigger, got %q", bySource[models.TriggerSourceBSE].CompanySymbol)
	}

	pending, _ := store.GetPending(context.Background(), 10)
	if len(pending) != 2 {
		t.Errorf("expected 2 persisted pending triggers, got %d", len(pending))
	}
}

func TestPoll_SecondCycleCreatesNothing(t *testing.T) {
	store := storage.NewMemoryStore()
	fetcher := newMockFetcher()
	fetcher.responses[nseFeedURL] = fakeResponse{body: nsePayload, contentType: "application/json"}
	fetcher.responses[bseFeedURL] = fakeResponse{body: bsePayload, contentType: "application/json"}
	clock := &fixedClock{now: time.Date(2025, 3, 10, 19, 0, 0, 0, time.UTC)}
	poller := newTestPoller(store, fetcher, clock)

	if _, err := poller.Poll(context.Background()); err != nil {
		t.Fatalf("first Poll: %v", err)
	}
	clock.now = clock.now.Add(time.Minute)
	created, err := poller.Poll(context.Background())
	if err != nil {
		t.Fatalf("second Poll: %v", err)
	}
	if len(created) != 0 {
		t.Errorf("expected no new triggers, got %d", len(created))
	}
}

func TestPoll_SeededCacheCatchesRepublishedWithTracking(t *testing.T) {
	store := storage.NewMemoryStore()
	clock := &fixedClock{now: time.Date(2025, 3, 10, 19, 0, 0, 0, time.UTC)}

	// An earlier process persisted this announcement.
	prior := models.NewTriggerEvent(models.TriggerSourceNSE, "Outcome of Board Meeting", clock.now.Add(-2*time.Hour))
	prior.SourceURL = "https://nsearchives.nseindia.com/corporate/INOXWIND_10032025.pdf"
	if _, err := store.Save(context.Background(), prior); err != nil {
		t.Fatalf("Save: %v", err)
	}

	fetcher := newMockFetcher()
	fetcher.responses[nseFeedURL] = fakeResponse{
		body: `[{"symbol":"INOXWIND","desc":"Board meeting outcome (revised)",
"attchmntFile":"https://NSEARCHIVES.nseindia.com/corporate/INOXWIND_10032025.pdf?utm_source=rss&gclid=1"}]`,
		contentType: "application/json",
	}

	poller := NewPoller(store, []FeedSource{{Source: models.TriggerSourceNSE, URL: nseFeedURL}}, fetcher,
		KeyCacheConfig{}, logging.Discard(), WithPollerClock(clock.Now))
	created, err := poller.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(created) != 0 {
		t.Errorf("expected republished announcement to be skipped, got %d triggers", len(created))
	}
}

func TestPoll_LookbackExcludesOldHistory(t *testing.T) {
	store := storage.NewMemoryStore()
	clock := &fixedClock{now: time.Date(2025, 3, 10, 19, 0, 0, 0, time.UTC)}

	old := models.NewTriggerEvent(models.TriggerSourceNSE, "old", clock.now.Add(-100*time.Hour))
	old.SourceURL = "https://example.com/old.pdf?utm_source=x"
	if _, err := store.Save(context.Background(), old); err != nil {
		t.Fatalf("Save: %v", err)
	}

	fetcher := newMockFetcher()
	fetcher.responses[nseFeedURL] = fakeResponse{
		body:        `[{"symbol":"ABB","desc":"Repeat","attchmntFile":"https://example.com/old.pdf"}]`,
		contentType: "application/json",
	}
	poller := NewPoller(store, []FeedSource{{Source: models.TriggerSourceNSE, URL: nseFeedURL}}, fetcher,
		KeyCacheConfig{Lookback: 72 * time.Hour}, logging.Discard(), WithPollerClock(clock.Now))

	created, err := poller.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(created) != 1 {
		t.Errorf("expected announcement outside lookback to be treated as new, got %d", len(created))
	}
}

func TestPoll_SourceFailureIsIsolated(t *testing.T) {
	store := storage.NewMemoryStore()
	fetcher := newMockFetcher()
	fetcher.responses[nseFeedURL] = fakeResponse{err: errors.New("connection reset")}
	fetcher.responses[bseFeedURL] = fakeResponse{body: bsePayload, contentType: "application/json"}
	clock := &fixedClock{now: time.Now()}

	created, err := newTestPoller(store, fetcher, clock).Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(created) != 1 || created[0].Source != models.TriggerSourceBSE {
		t.Fatalf("expected only the bse trigger, got %+v", created)
	}
}

func TestPoll_DegradedModeWithoutLister(t *testing.T) {
	mem := storage.NewMemoryStore()
	fetcher := newMockFetcher()
	fetcher.responses[nseFeedURL] = fakeResponse{body: nsePayload, contentType: "application/json"}
	clock := &fixedClock{now: time.Now()}

	for _, store := range []storage.TriggerRepository{urlOnlyStore{mem}, failingLister{mem}} {
		poller := NewPoller(store, []FeedSource{{Source: models.TriggerSourceNSE, URL: nseFeedURL}}, fetcher,
			KeyCacheConfig{}, logging.Discard(), WithPollerClock(clock.Now))
		if _, err := poller.Poll(context.Background()); err != nil {
			t.Fatalf("Poll: %v", err)
		}
	}

	pending, _ := mem.GetPending(context.Background(), 10)
	if len(pending) != 1 {
		t.Errorf("expected exact-url repeat to be caught in degraded mode, got %d triggers", len(pending))
	}
}

func TestPoll_ResolvesScripCodeThroughWatchlist(t *testing.T) {
	store := storage.NewMemoryStore()
	fetcher := newMockFetcher()
	fetcher.responses[bseFeedURL] = fakeResponse{body: bsePayload, contentType: "application/json"}
	wl := models.Watchlist{Companies: []models.Company{{Symbol: "SBIN", Name: "State Bank of India", BSECode: "500112"}}}

	poller := NewPoller(store, []FeedSource{{Source: models.TriggerSourceBSE, URL: bseFeedURL}}, fetcher,
		KeyCacheConfig{}, logging.Discard(), WithSymbolResolver(wl))
	created, err := poller.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(created) != 1 || created[0].CompanySymbol != "SBIN" {
		t.Fatalf("expected resolved symbol SBIN, got %+v", created)
	}
}

func TestHTTPFetcher_RetriesTransientStatus(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(nsePayload))
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(server.Client(), "test-agent", retry.Options{Attempts: 3, BaseDelay: time.Millisecond})
	body, ctype, err := fetcher.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if ctype != "application/json" || len(body) == 0 {
		t.Errorf("unexpected response %q (%d bytes)", ctype, len(body))
	}
}

func TestHTTPFetcher_DoesNotRetryNotFound(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(server.Client(), "", retry.Options{Attempts: 3, BaseDelay: time.Millisecond})
	_, _, err := fetcher.Fetch(context.Background(), server.URL)
	var status *retry.StatusError
	if !errors.As(err, &status) || status.Code != http.StatusNotFound {
		t.Fatalf("expected 404 status error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected a single call, got %d", calls)
	}
}

func TestPoll_SharedDocumentURLSurvivesCacheRefresh(t *testing.T) {
	first := `[{"symbol":"ABB","desc":"Order win notice","attchmntFile":"https://example.com/a/notice.html",
"attachments":["https://cdn.example.com/filings/order.pdf"]}]`
	rehosted := `[{"symbol":"ABB","desc":"Order win intimation","attchmntFile":"https://mirror.example.org/b/notice2.html",
"attachments":["https://cdn.example.com/filings/order.pdf?utm_source=x"]}]`

	tests := []struct {
		name    string
		advance time.Duration
	}{
		{"within refresh ttl", time.Minute},
		{"after cache refresh", DefaultRefreshTTL + time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemoryStore()
			fetcher := newMockFetcher()
			fetcher.responses[nseFeedURL] = fakeResponse{body: first, contentType: "application/json"}
			clock := &fixedClock{now: time.Date(2025, 3, 10, 19, 0, 0, 0, time.UTC)}
			poller := NewPoller(store, []FeedSource{{Source: models.TriggerSourceNSE, URL: nseFeedURL}}, fetcher,
				KeyCacheConfig{}, logging.Discard(), WithPollerClock(clock.Now))

			created, err := poller.Poll(context.Background())
			if err != nil {
				t.Fatalf("first Poll: %v", err)
			}
			if len(created) != 1 {
				t.Fatalf("expected 1 trigger from first cycle, got %d", len(created))
			}

			clock.now = clock.now.Add(tt.advance)
			fetcher.responses[nseFeedURL] = fakeResponse{body: rehosted, contentType: "application/json"}
			created, err = poller.Poll(context.Background())
			if err != nil {
				t.Fatalf("second Poll: %v", err)
			}
			if len(created) != 0 {
				t.Errorf("expected re-hosted announcement sharing a document to be skipped, got %d triggers", len(created))
			}
		})
	}
}

func TestTriggerDedupKeys_MatchAnnouncementKeysWithDocumentURLs(t *testing.T) {
	published := time.Date(2025, 3, 10, 18, 30, 0, 0, time.UTC)
	a := models.NormalizedAnnouncement{
		Source:        models.TriggerSourceNSE,
		SourceURL:     "https://example.com/a/notice.html",
		Title:         "Order win",
		RawContent:    "Order win notice",
		CompanySymbol: "ABB",
		PublishedAt:   &published,
		DocumentURLs:  []string{"https://example.com/a/notice.html", "https://cdn.example.com/filings/order.pdf?utm_source=x"},
	}

	want := DedupKeys(a)
	got := TriggerDedupKeys(*a.ToTrigger(published))
	if len(got) != len(want) {
		t.Fatalf("expected %d keys, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("key %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestHTTPFetcher_RejectsOversizedFeed(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(nsePayload))
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(server.Client(), "", retry.Options{Attempts: 3, BaseDelay: time.Millisecond})
	fetcher.maxBytes = 64
	_, _, err := fetcher.Fetch(context.Background(), server.URL)
	if !errors.Is(err, ErrFeedTooLarge) {
		t.Fatalf("expected ErrFeedTooLarge, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("oversized feed should not be retried, got %d calls", calls)
	}

	fetcher.maxBytes = int64(len(nsePayload))
	if _, _, err := fetcher.Fetch(context.Background(), server.URL); err != nil {
		t.Errorf("feed at the cap should be accepted, got %v", err)
	}
}
