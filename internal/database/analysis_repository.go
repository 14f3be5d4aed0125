package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tujanalyst/tujanalyst/internal/models"
	"github.com/tujanalyst/tujanalyst/internal/storage"
)

// Investigations and assessments are stored whole in a jsonb body; the
// indexed columns only serve lookups.

// SaveInvestigation inserts or replaces an investigation.
func (s *PostgresStore) SaveInvestigation(ctx context.Context, inv *models.Investigation) error {
	body, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("failed to marshal investigation: %w", err)
	}
	query := `
		INSERT INTO investigations (investigation_id, trigger_id, company_symbol, company_name, significance, is_significant, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (investigation_id) DO UPDATE SET
			significance = EXCLUDED.significance,
			is_significant = EXCLUDED.is_significant,
			body = EXCLUDED.body
	`
	_, err = s.db.ExecContext(ctx, query,
		inv.InvestigationID, inv.TriggerID, inv.CompanySymbol, inv.CompanyName,
		inv.Significance, inv.IsSignificant, string(body), inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save investigation: %w", err)
	}
	return nil
}

// GetInvestigation retrieves an investigation by id.
func (s *PostgresStore) GetInvestigation(ctx context.Context, id string) (*models.Investigation, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM investigations WHERE investigation_id = $1`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("investigation %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query investigation: %w", err)
	}
	var inv models.Investigation
	if err := json.Unmarshal(body, &inv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal investigation: %w", err)
	}
	return &inv, nil
}

// ListInvestigationsByCompany returns a company's investigations, newest first.
func (s *PostgresStore) ListInvestigationsByCompany(ctx context.Context, companySymbol string, limit int) ([]models.Investigation, error) {
	query := `SELECT body FROM investigations WHERE company_symbol = $1 ORDER BY created_at DESC`
	args := []interface{}{companySymbol}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query investigations: %w", err)
	}
	defer rows.Close()

	var result []models.Investigation
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan investigation: %w", err)
		}
		var inv models.Investigation
		if err := json.Unmarshal(body, &inv); err != nil {
			return nil, fmt.Errorf("failed to unmarshal investigation: %w", err)
		}
		result = append(result, inv)
	}
	return result, rows.Err()
}

// SaveAssessment inserts an assessment.
func (s *PostgresStore) SaveAssessment(ctx context.Context, a *models.DecisionAssessment) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal assessment: %w", err)
	}
	query := `
		INSERT INTO decision_assessments (assessment_id, investigation_id, trigger_id, company_symbol, new_recommendation, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.db.ExecContext(ctx, query,
		a.AssessmentID, a.InvestigationID, a.TriggerID, a.CompanySymbol,
		a.NewRecommendation, string(body), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save assessment: %w", err)
	}
	return nil
}

// LatestAssessment returns the newest assessment for a company.
func (s *PostgresStore) LatestAssessment(ctx context.Context, companySymbol string) (*models.DecisionAssessment, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM decision_assessments WHERE company_symbol = $1 ORDER BY created_at DESC LIMIT 1`,
		companySymbol).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("assessment for %s: %w", companySymbol, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query assessment: %w", err)
	}
	var a models.DecisionAssessment
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal assessment: %w", err)
	}
	return &a, nil
}
