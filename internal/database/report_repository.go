package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/tujanalyst/tujanalyst/internal/models"
	"github.com/tujanalyst/tujanalyst/internal/storage"
)

const reportColumns = `report_id, assessment_id, investigation_id, trigger_id, company_symbol, company_name,
	title, executive_summary, report_body, recommendation, recommendation_summary,
	delivery_status, delivered_via, delivered_at, created_at`

// SaveReport inserts a report or updates its delivery state.
func (s *PostgresStore) SaveReport(ctx context.Context, r *models.AnalysisReport) error {
	query := `
		INSERT INTO analysis_reports (` + reportColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (report_id) DO UPDATE SET
			title = EXCLUDED.title,
			executive_summary = EXCLUDED.executive_summary,
			report_body = EXCLUDED.report_body,
			recommendation_summary = EXCLUDED.recommendation_summary,
			delivery_status = EXCLUDED.delivery_status,
			delivered_via = EXCLUDED.delivered_via,
			delivered_at = EXCLUDED.delivered_at
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ReportID,
		r.AssessmentID,
		r.InvestigationID,
		r.TriggerID,
		r.CompanySymbol,
		r.CompanyName,
		r.Title,
		r.ExecutiveSummary,
		r.ReportBody,
		r.Recommendation,
		r.RecommendationSummary,
		r.DeliveryStatus,
		pq.Array(nonNilStrings(r.DeliveredVia)),
		r.DeliveredAt,
		r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// GetReport retrieves a report by id.
func (s *PostgresStore) GetReport(ctx context.Context, id string) (*models.AnalysisReport, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM analysis_reports WHERE report_id = $1`, id)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query report: %w", err)
	}
	return r, nil
}

// GetReportByTrigger returns the newest report for a trigger.
func (s *PostgresStore) GetReportByTrigger(ctx context.Context, triggerID string) (*models.AnalysisReport, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM analysis_reports WHERE trigger_id = $1 ORDER BY created_at DESC LIMIT 1`, triggerID)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report for trigger %s: %w", triggerID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query report: %w", err)
	}
	return r, nil
}

func scanReport(row rowScanner) (*models.AnalysisReport, error) {
	var r models.AnalysisReport
	var deliveredAt sql.NullTime
	err := row.Scan(
		&r.ReportID,
		&r.AssessmentID,
		&r.InvestigationID,
		&r.TriggerID,
		&r.CompanySymbol,
		&r.CompanyName,
		&r.Title,
		&r.ExecutiveSummary,
		&r.ReportBody,
		&r.Recommendation,
		&r.RecommendationSummary,
		&r.DeliveryStatus,
		pq.Array(&r.DeliveredVia),
		&deliveredAt,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if deliveredAt.Valid {
		at := deliveredAt.Time
		r.DeliveredAt = &at
	}
	if r.DeliveredVia == nil {
		r.DeliveredVia = []string{}
	}
	return &r, nil
}
