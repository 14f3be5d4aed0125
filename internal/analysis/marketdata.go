package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tujanalyst/tujanalyst/internal/config"
	"github.com/tujanalyst/tujanalyst/internal/models"
	"github.com/tujanalyst/tujanalyst/internal/retry"
)

// ErrNoMarketData is returned when no exchange listing reports a price.
var ErrNoMarketData = errors.New("no market data for symbol")

// exchangeSuffixes are tried in order for a bare symbol.
var exchangeSuffixes = []string{".NS", ".BO"}

// MarketDataProvider returns a price snapshot for a listed symbol.
type MarketDataProvider interface {
	Snapshot(ctx context.Context, symbol string) (*models.MarketDataSnapshot, error)
}

// NewMarketDataProvider builds the provider named in cfg. It returns nil
// for "none".
func NewMarketDataProvider(cfg config.MarketDataConfig, client *http.Client) (MarketDataProvider, error) {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	switch strings.ToLower(cfg.Provider) {
	case "", "none":
		return nil, nil
	case "yahoo":
		return &YahooMarketData{
			client:  client,
			baseURL: strings.TrimRight(cfg.BaseURL, "/"),
			retry:   retry.DefaultOptions(),
			now:     time.Now,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported market data provider %q", cfg.Provider)
	}
}

// YahooMarketData reads daily closes from the Yahoo Finance chart API,
// trying the NSE listing before BSE.
type YahooMarketData struct {
	client  *http.Client
	baseURL string
	retry   retry.Options
	now     func() time.Time
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol              string   `json:"symbol"`
				RegularMarketPrice  *float64 `json:"regularMarketPrice"`
				FiftyTwoWeekHigh    *float64 `json:"fiftyTwoWeekHigh"`
				FiftyTwoWeekLow     *float64 `json:"fiftyTwoWeekLow"`
				RegularMarketVolume *int64   `json:"regularMarketVolume"`
				RegularMarketTime   int64    `json:"regularMarketTime"`
			} `json:"meta"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
	} `json:"chart"`
}

// Snapshot implements MarketDataProvider.
func (y *YahooMarketData) Snapshot(ctx context.Context, symbol string) (*models.MarketDataSnapshot, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, ErrNoMarketData
	}

	for _, suffix := range exchangeSuffixes {
		chart, err := y.fetchChart(ctx, symbol+suffix)
		var status *retry.StatusError
		if errors.As(err, &status) && status.Code == http.StatusNotFound {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("market data %s%s: %w", symbol, suffix, err)
		}
		if snapshot := y.toSnapshot(symbol, chart); snapshot != nil {
			return snapshot, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoMarketData, symbol)
}

func (y *YahooMarketData) fetchChart(ctx context.Context, ticker string) (chartResponse, error) {
	params := url.Values{}
	params.Set("range", "1mo")
	params.Set("interval", "1d")
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", y.baseURL, url.PathEscape(ticker), params.Encode())

	body, err := retry.Do(ctx, y.retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		return doSearch(y.client, req)
	})
	if err != nil {
		return chartResponse{}, err
	}

	var chart chartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		return chartResponse{}, fmt.Errorf("decode chart: %w", err)
	}
	return chart, nil
}

func (y *YahooMarketData) toSnapshot(symbol string, chart chartResponse) *models.MarketDataSnapshot {
	if len(chart.Chart.Result) == 0 {
		return nil
	}
	result := chart.Chart.Result[0]
	meta := result.Meta

	var closes []float64
	if len(result.Indicators.Quote) > 0 {
		for _, c := range result.Indicators.Quote[0].Close {
			if c != nil {
				closes = append(closes, *c)
			}
		}
	}

	price := meta.RegularMarketPrice
	if price == nil && len(closes) > 0 {
		latest := closes[len(closes)-1]
		price = &latest
	}
	if price == nil {
		return nil
	}

	ts := y.now().UTC()
	if meta.RegularMarketTime > 0 {
		ts = time.Unix(meta.RegularMarketTime, 0).UTC()
	}
	snapshot := &models.MarketDataSnapshot{
		Symbol:        symbol,
		CurrentPrice:  price,
		Week52High:    meta.FiftyTwoWeekHigh,
		Week52Low:     meta.FiftyTwoWeekLow,
		Volume:        meta.RegularMarketVolume,
		DataSource:    models.MarketDataSourceYahoo,
		DataTimestamp: &ts,
	}

	if n := len(closes); n > 0 {
		latest := closes[n-1]
		if n >= 2 {
			snapshot.PriceChange1D = pctChange(latest, closes[n-2])
		}
		if n >= 5 {
			snapshot.PriceChange1W = pctChange(latest, closes[n-5])
		}
		if n >= 20 {
			snapshot.PriceChange1M = pctChange(latest, closes[0])
		}
	}
	return snapshot
}

func pctChange(latest, base float64) *float64 {
	if base == 0 {
		return nil
	}
	v := (latest/base - 1) * 100
	return &v
}
