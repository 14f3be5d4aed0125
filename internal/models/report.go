package models

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus tracks outbound delivery of a report.
type DeliveryStatus string

const (
	DeliveryStatusGenerated      DeliveryStatus = "generated"
	DeliveryStatusDelivered      DeliveryStatus = "delivered"
	DeliveryStatusDeliveryFailed DeliveryStatus = "delivery_failed"
)

// AnalysisReport is the rendered output of a completed pipeline run.
type AnalysisReport struct {
	ReportID        string `json:"report_id"`
	AssessmentID    string `json:"assessment_id"`
	InvestigationID string `json:"investigation_id"`
	TriggerID       string `json:"trigger_id"`
	CompanySymbol   string `json:"company_symbol"`
	CompanyName     string `json:"company_name"`

	Title                 string         `json:"title"`
	ExecutiveSummary      string         `json:"executive_summary"`
	ReportBody            string         `json:"report_body"`
	Recommendation        Recommendation `json:"recommendation"`
	RecommendationSummary string         `json:"recommendation_summary"`

	DeliveryStatus DeliveryStatus `json:"delivery_status"`
	DeliveredVia   []string       `json:"delivered_via"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewAnalysisReport creates a report for an assessment.
func NewAnalysisReport(a *DecisionAssessment, now time.Time) *AnalysisReport {
	return &AnalysisReport{
		ReportID:        uuid.New().String(),
		AssessmentID:    a.AssessmentID,
		InvestigationID: a.InvestigationID,
		TriggerID:       a.TriggerID,
		CompanySymbol:   a.CompanySymbol,
		CompanyName:     a.CompanyName,
		Recommendation:  a.NewRecommendation,
		DeliveryStatus:  DeliveryStatusGenerated,
		DeliveredVia:    []string{},
		CreatedAt:       now,
	}
}

// MarkDelivered records a successful delivery.
func (r *AnalysisReport) MarkDelivered(channels []string, now time.Time) {
	r.DeliveryStatus = DeliveryStatusDelivered
	r.DeliveredVia = append([]string{}, channels...)
	r.DeliveredAt = &now
}

// MarkDeliveryFailed records that no channel accepted the report.
func (r *AnalysisReport) MarkDeliveryFailed() {
	r.DeliveryStatus = DeliveryStatusDeliveryFailed
	r.DeliveredVia = []string{}
	r.DeliveredAt = nil
}
