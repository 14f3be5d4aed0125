package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SignificanceLevel is the deep-analysis materiality judgment.
type SignificanceLevel string

const (
	SignificanceHigh   SignificanceLevel = "high"
	SignificanceMedium SignificanceLevel = "medium"
	SignificanceLow    SignificanceLevel = "low"
	SignificanceNoise  SignificanceLevel = "noise"
)

// ParseSignificance maps free text onto a level. Unrecognized values are
// noise.
func ParseSignificance(raw string) SignificanceLevel {
	switch level := SignificanceLevel(strings.ToLower(strings.TrimSpace(raw))); level {
	case SignificanceHigh, SignificanceMedium, SignificanceLow, SignificanceNoise:
		return level
	default:
		return SignificanceNoise
	}
}

// WebSearchResult is one summarized search hit used as analysis context.
type WebSearchResult struct {
	Query   string `json:"query"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Market data sources recorded on a snapshot.
const (
	MarketDataSourceYahoo       = "yahoo_finance"
	MarketDataSourceUnavailable = "unavailable"
)

// MarketDataSnapshot is the price and valuation context at analysis time.
// Nil fields were not reported by the provider.
type MarketDataSnapshot struct {
	Symbol        string     `json:"symbol,omitempty"`
	CurrentPrice  *float64   `json:"current_price,omitempty"`
	MarketCapCr   *float64   `json:"market_cap_cr,omitempty"`
	PERatio       *float64   `json:"pe_ratio,omitempty"`
	Week52High    *float64   `json:"week_52_high,omitempty"`
	Week52Low     *float64   `json:"week_52_low,omitempty"`
	Volume        *int64     `json:"volume,omitempty"`
	PriceChange1D *float64   `json:"price_change_1d,omitempty"`
	PriceChange1W *float64   `json:"price_change_1w,omitempty"`
	PriceChange1M *float64   `json:"price_change_1m,omitempty"`
	DataSource    string     `json:"data_source"`
	DataTimestamp *time.Time `json:"data_timestamp,omitempty"`
}

// UnavailableMarketData marks a snapshot that could not be fetched.
func UnavailableMarketData(symbol string) *MarketDataSnapshot {
	return &MarketDataSnapshot{Symbol: symbol, DataSource: MarketDataSourceUnavailable}
}

// Available reports whether the snapshot carries provider data.
func (m *MarketDataSnapshot) Available() bool {
	return m != nil && m.DataSource != MarketDataSourceUnavailable
}

// Investigation is the deep-analysis result for one trigger.
type Investigation struct {
	InvestigationID string `json:"investigation_id"`
	TriggerID       string `json:"trigger_id"`
	CompanySymbol   string `json:"company_symbol"`
	CompanyName     string `json:"company_name"`

	Synthesis             string              `json:"synthesis"`
	KeyFindings           []string            `json:"key_findings"`
	RedFlags              []string            `json:"red_flags"`
	PositiveSignals       []string            `json:"positive_signals"`
	ManagementHighlights  []string            `json:"management_highlights"`
	WebSearchResults      []WebSearchResult   `json:"web_search_results"`
	WebSearchStatus       string              `json:"web_search_status,omitempty"`
	MarketData            *MarketDataSnapshot `json:"market_data,omitempty"`
	Significance          SignificanceLevel   `json:"significance"`
	SignificanceReasoning string              `json:"significance_reasoning"`
	IsSignificant         bool                `json:"is_significant"`

	LLMModelUsed          string  `json:"llm_model_used"`
	TotalInputTokens      int     `json:"total_input_tokens"`
	TotalOutputTokens     int     `json:"total_output_tokens"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`

	CreatedAt time.Time `json:"created_at"`
}

// NewInvestigation creates an investigation bound to a trigger.
func NewInvestigation(trigger *TriggerEvent, now time.Time) *Investigation {
	return &Investigation{
		InvestigationID: uuid.New().String(),
		TriggerID:       trigger.TriggerID,
		CompanySymbol:   trigger.CompanySymbol,
		CompanyName:     trigger.CompanyName,
		Significance:    SignificanceMedium,
		CreatedAt:       now,
	}
}

// Recommendation is the decision-stage stance on a company.
type Recommendation string

const (
	RecommendationBuy  Recommendation = "buy"
	RecommendationSell Recommendation = "sell"
	RecommendationHold Recommendation = "hold"
	RecommendationNone Recommendation = "none"
)

// ParseRecommendation maps free text onto a recommendation.
func ParseRecommendation(raw string) Recommendation {
	switch rec := Recommendation(strings.ToLower(strings.TrimSpace(raw))); rec {
	case RecommendationBuy, RecommendationSell, RecommendationHold:
		return rec
	default:
		return RecommendationNone
	}
}

// Timeframe is the horizon a recommendation applies to.
type Timeframe string

const (
	TimeframeShort  Timeframe = "short_term"
	TimeframeMedium Timeframe = "medium_term"
	TimeframeLong   Timeframe = "long_term"
)

// DecisionAssessment is the decision-stage output.
type DecisionAssessment struct {
	AssessmentID    string `json:"assessment_id"`
	InvestigationID string `json:"investigation_id"`
	TriggerID       string `json:"trigger_id"`
	CompanySymbol   string `json:"company_symbol"`
	CompanyName     string `json:"company_name"`

	PreviousRecommendation Recommendation `json:"previous_recommendation"`
	RecommendationChanged  bool           `json:"recommendation_changed"`
	NewRecommendation      Recommendation `json:"new_recommendation"`
	Timeframe              Timeframe      `json:"timeframe"`
	Confidence             float64        `json:"confidence"`

	Reasoning         string   `json:"reasoning"`
	KeyFactorsFor     []string `json:"key_factors_for"`
	KeyFactorsAgainst []string `json:"key_factors_against"`
	Risks             []string `json:"risks"`

	LLMModelUsed          string  `json:"llm_model_used"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`

	CreatedAt time.Time `json:"created_at"`
}

// NewDecisionAssessment creates an assessment bound to an investigation.
func NewDecisionAssessment(inv *Investigation, now time.Time) *DecisionAssessment {
	return &DecisionAssessment{
		AssessmentID:           uuid.New().String(),
		InvestigationID:        inv.InvestigationID,
		TriggerID:              inv.TriggerID,
		CompanySymbol:          inv.CompanySymbol,
		CompanyName:            inv.CompanyName,
		PreviousRecommendation: RecommendationNone,
		NewRecommendation:      RecommendationNone,
		Timeframe:              TimeframeMedium,
		CreatedAt:              now,
	}
}
