package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TriggerSource identifies where a trigger came from.
type TriggerSource string

const (
	TriggerSourceNSE   TriggerSource = "nse_rss" // Exchange feed A
	TriggerSourceBSE   TriggerSource = "bse_rss" // Exchange feed B
	TriggerSourceHuman TriggerSource = "human"   // Submitted by an analyst
)

// TriggerStatus represents the processing state of a trigger.
type TriggerStatus string

const (
	TriggerStatusPending     TriggerStatus = "pending"
	TriggerStatusFilteredOut TriggerStatus = "filtered_out"
	TriggerStatusGatePassed  TriggerStatus = "gate_passed"
	TriggerStatusAnalyzing   TriggerStatus = "analyzing"
	TriggerStatusAnalyzed    TriggerStatus = "analyzed"
	TriggerStatusAssessing   TriggerStatus = "assessing"
	TriggerStatusAssessed    TriggerStatus = "assessed"
	TriggerStatusReported    TriggerStatus = "reported"
	TriggerStatusError       TriggerStatus = "error"
)

// AllTriggerStatuses lists every status in pipeline order.
var AllTriggerStatuses = []TriggerStatus{
	TriggerStatusPending,
	TriggerStatusFilteredOut,
	TriggerStatusGatePassed,
	TriggerStatusAnalyzing,
	TriggerStatusAnalyzed,
	TriggerStatusAssessing,
	TriggerStatusAssessed,
	TriggerStatusReported,
	TriggerStatusError,
}

// forwardTransitions holds the allowed non-error transitions.
var forwardTransitions = map[TriggerStatus][]TriggerStatus{
	TriggerStatusPending:    {TriggerStatusFilteredOut, TriggerStatusGatePassed},
	TriggerStatusGatePassed: {TriggerStatusAnalyzing},
	TriggerStatusAnalyzing:  {TriggerStatusAnalyzed},
	TriggerStatusAnalyzed:   {TriggerStatusAssessing},
	TriggerStatusAssessing:  {TriggerStatusAssessed},
	TriggerStatusAssessed:   {TriggerStatusReported},
}

// IsValid reports whether s is a known status.
func (s TriggerStatus) IsValid() bool {
	for _, known := range AllTriggerStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition can leave s.
// analyzed is terminal only for non-significant runs, so it is not listed here.
func (s TriggerStatus) IsTerminal() bool {
	switch s {
	case TriggerStatusFilteredOut, TriggerStatusReported, TriggerStatusError:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a trigger in status from may move to status to.
// error is reachable from every non-terminal status.
func CanTransition(from, to TriggerStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == TriggerStatusError {
		return true
	}
	for _, allowed := range forwardTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// SourcesFrom returns the statuses that may transition into to.
func SourcesFrom(to TriggerStatus) []TriggerStatus {
	var from []TriggerStatus
	for _, status := range AllTriggerStatuses {
		if CanTransition(status, to) {
			from = append(from, status)
		}
	}
	return from
}

// TriggerPriority orders triggers for analyst attention.
type TriggerPriority string

const (
	TriggerPriorityNormal TriggerPriority = "normal"
	TriggerPriorityHigh   TriggerPriority = "high"
)

// StatusTransition records one status change.
type StatusTransition struct {
	Status    TriggerStatus `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Reason    string        `json:"reason"`
}

// Gate methods recorded on GateResult.
const (
	GateMethodHumanBypass     = "human_bypass"
	GateMethodSymbolMatch     = "symbol_match"
	GateMethodNameMatch       = "name_match"
	GateMethodKeywordMatch    = "keyword_match"
	GateMethodSectorNoKeyword = "sector_no_keyword"
	GateMethodContentScan     = "content_scan"
	GateMethodNoMatch         = "no_match"
	GateMethodLLM             = "llm_classification"
	GateMethodErrorFallthru   = "error_fallthrough"
	GateMethodFilterOnly      = "filter_only"
	GateMethodPipelineError   = "pipeline_error"
)

// HumanBypassReason is recorded when an analyst submission skips the gate.
const HumanBypassReason = "Human trigger bypasses gate"

// GateResult is the outcome of the filter/classifier gate.
type GateResult struct {
	Passed bool   `json:"passed"`
	Reason string `json:"reason"`
	Method string `json:"method"`
	Model  string `json:"model,omitempty"`
}

// HumanBypassGate returns the fixed gate outcome for human triggers.
func HumanBypassGate() GateResult {
	return GateResult{
		Passed: true,
		Reason: HumanBypassReason,
		Method: GateMethodHumanBypass,
		Model:  "n/a",
	}
}

// PipelineErrorGate is the outcome reported when processing fails. The
// trigger's persisted gate result is left untouched.
func PipelineErrorGate(cause error) GateResult {
	return GateResult{
		Passed: false,
		Reason: fmt.Sprintf("Pipeline error: %v", cause),
		Method: GateMethodPipelineError,
		Model:  "n/a",
	}
}

// TriggerEvent is one announcement under consideration for analysis.
type TriggerEvent struct {
	TriggerID           string        `json:"trigger_id"`
	Source              TriggerSource `json:"source"`
	SourceURL           string        `json:"source_url,omitempty"`
	SourceFeedTitle     string        `json:"source_feed_title,omitempty"`
	SourceFeedPublished *time.Time    `json:"source_feed_published,omitempty"`

	CompanySymbol string `json:"company_symbol,omitempty"`
	CompanyName   string `json:"company_name,omitempty"`
	Sector        string `json:"sector,omitempty"`

	RawContent   string   `json:"raw_content"`
	DocumentIDs  []string `json:"document_ids"`
	DocumentURLs []string `json:"document_urls"`

	Priority    TriggerPriority `json:"priority"`
	TriggeredBy string          `json:"triggered_by,omitempty"`
	HumanNotes  string          `json:"human_notes,omitempty"`

	Status        TriggerStatus      `json:"status"`
	StatusHistory []StatusTransition `json:"status_history"`
	GateResult    *GateResult        `json:"gate_result,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTriggerEvent creates a pending feed trigger. Creation is not a transition,
// so the history starts empty.
func NewTriggerEvent(source TriggerSource, rawContent string, now time.Time) *TriggerEvent {
	return &TriggerEvent{
		TriggerID:     uuid.New().String(),
		Source:        source,
		RawContent:    rawContent,
		DocumentIDs:   []string{},
		DocumentURLs:  []string{},
		Priority:      TriggerPriorityNormal,
		Status:        TriggerStatusPending,
		StatusHistory: []StatusTransition{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// NewHumanTrigger creates a high-priority analyst trigger that has already
// passed the gate.
func NewHumanTrigger(rawContent string, now time.Time) *TriggerEvent {
	t := NewTriggerEvent(TriggerSourceHuman, rawContent, now)
	t.Priority = TriggerPriorityHigh
	gate := HumanBypassGate()
	t.GateResult = &gate
	t.SetStatus(TriggerStatusGatePassed, HumanBypassReason, now)
	return t
}

// SetStatus is the only way a trigger's status changes in memory: it sets the
// status, stamps UpdatedAt and appends exactly one history entry.
func (t *TriggerEvent) SetStatus(status TriggerStatus, reason string, now time.Time) {
	t.Status = status
	t.UpdatedAt = now
	t.StatusHistory = append(t.StatusHistory, StatusTransition{
		Status:    status,
		Timestamp: now,
		Reason:    reason,
	})
}

// IsHuman reports whether the trigger was submitted by an analyst.
func (t *TriggerEvent) IsHuman() bool {
	return t.Source == TriggerSourceHuman
}

// HasDocuments reports whether document ingestion already ran.
func (t *TriggerEvent) HasDocuments() bool {
	return len(t.DocumentIDs) > 0
}

// LastTransition returns the most recent history entry, if any.
func (t *TriggerEvent) LastTransition() (StatusTransition, bool) {
	if len(t.StatusHistory) == 0 {
		return StatusTransition{}, false
	}
	return t.StatusHistory[len(t.StatusHistory)-1], true
}

// Clone returns a deep copy so callers cannot alias stored slices.
func (t TriggerEvent) Clone() TriggerEvent {
	out := t
	out.DocumentIDs = append([]string{}, t.DocumentIDs...)
	out.DocumentURLs = append([]string{}, t.DocumentURLs...)
	out.StatusHistory = append([]StatusTransition{}, t.StatusHistory...)
	if t.GateResult != nil {
		gate := *t.GateResult
		out.GateResult = &gate
	}
	if t.SourceFeedPublished != nil {
		published := *t.SourceFeedPublished
		out.SourceFeedPublished = &published
	}
	return out
}
