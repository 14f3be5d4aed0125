package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/tujanalyst/tujanalyst/internal/models"
	"github.com/tujanalyst/tujanalyst/internal/storage"
)

// PostgresStore implements the storage repositories using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var (
	_ storage.Store               = (*PostgresStore)(nil)
	_ storage.RecentTriggerLister = (*PostgresStore)(nil)
)

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const triggerColumns = `trigger_id, source, source_url, source_feed_title, source_feed_published,
	company_symbol, company_name, sector, raw_content, document_ids, document_urls, priority,
	triggered_by, human_notes, status, status_history, gate_result, created_at, updated_at`

// Save inserts a new trigger.
func (s *PostgresStore) Save(ctx context.Context, t *models.TriggerEvent) (string, error) {
	history, err := json.Marshal(t.StatusHistory)
	if err != nil {
		return "", fmt.Errorf("failed to marshal status history: %w", err)
	}
	gate, err := marshalGate(t.GateResult)
	if err != nil {
		return "", err
	}

	query := `
		INSERT INTO triggers (` + triggerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (trigger_id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		t.TriggerID,
		t.Source,
		t.SourceURL,
		t.SourceFeedTitle,
		t.SourceFeedPublished,
		t.CompanySymbol,
		t.CompanyName,
		t.Sector,
		t.RawContent,
		pq.Array(nonNilStrings(t.DocumentIDs)),
		pq.Array(nonNilStrings(t.DocumentURLs)),
		t.Priority,
		t.TriggeredBy,
		t.HumanNotes,
		t.Status,
		string(history),
		gate,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert trigger: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", fmt.Errorf("trigger %s: %w", t.TriggerID, storage.ErrDuplicate)
	}
	return t.TriggerID, nil
}

// Get retrieves a trigger by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*models.TriggerEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+triggerColumns+` FROM triggers WHERE trigger_id = $1`, id)
	t, err := scanTrigger(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("trigger %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query trigger: %w", err)
	}
	return t, nil
}

// UpdateStatus applies one transition in a single statement: the status,
// updated_at and appended history entry land together, and only when the
// current status may move to the new one.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status models.TriggerStatus, reason string, at time.Time) error {
	entry, err := json.Marshal([]models.StatusTransition{{Status: status, Timestamp: at, Reason: reason}})
	if err != nil {
		return fmt.Errorf("failed to marshal status entry: %w", err)
	}

	from := models.SourcesFrom(status)
	allowed := make([]string, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}

	query := `
		UPDATE triggers
		SET status = $2,
		    updated_at = $3,
		    status_history = status_history || $4::jsonb
		WHERE trigger_id = $1 AND status = ANY($5)
	`
	res, err := s.db.ExecContext(ctx, query, id, status, at, string(entry), pq.Array(allowed))
	if err != nil {
		return fmt.Errorf("failed to update trigger status: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var current models.TriggerStatus
	err = s.db.QueryRowContext(ctx, `SELECT status FROM triggers WHERE trigger_id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("trigger %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to query trigger status: %w", err)
	}
	return fmt.Errorf("trigger %s %s -> %s: %w", id, current, status, storage.ErrInvalidTransition)
}

// SetGateResult records the gate outcome.
func (s *PostgresStore) SetGateResult(ctx context.Context, id string, result models.GateResult) error {
	gate, err := marshalGate(&result)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE triggers SET gate_result = $2 WHERE trigger_id = $1`, id, gate)
	if err != nil {
		return fmt.Errorf("failed to update gate result: %w", err)
	}
	return expectRow(res, "trigger", id)
}

// SetDocuments records ingested documents and the enriched content.
func (s *PostgresStore) SetDocuments(ctx context.Context, id string, documentIDs []string, rawContent string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE triggers SET document_ids = $2, raw_content = $3 WHERE trigger_id = $1`,
		id, pq.Array(nonNilStrings(documentIDs)), rawContent)
	if err != nil {
		return fmt.Errorf("failed to update trigger documents: %w", err)
	}
	return expectRow(res, "trigger", id)
}

// GetPending returns pending triggers oldest first.
func (s *PostgresStore) GetPending(ctx context.Context, limit int) ([]models.TriggerEvent, error) {
	query := `SELECT ` + triggerColumns + ` FROM triggers WHERE status = $1 ORDER BY created_at ASC, trigger_id ASC`
	args := []interface{}{models.TriggerStatusPending}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return s.queryTriggers(ctx, query, args...)
}

// ExistsByURL reports whether a trigger has this exact source URL.
func (s *PostgresStore) ExistsByURL(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM triggers WHERE source_url = $1)", url).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check trigger existence: %w", err)
	}
	return exists, nil
}

// ListRecent returns triggers newest first.
func (s *PostgresStore) ListRecent(ctx context.Context, filter storage.RecentFilter) ([]models.TriggerEvent, error) {
	var conditions []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if !filter.Since.IsZero() {
		add("created_at >= $%d", filter.Since)
	}
	if filter.Source != "" {
		add("source = $%d", filter.Source)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}

	query := `SELECT ` + triggerColumns + ` FROM triggers`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	return s.queryTriggers(ctx, query, args...)
}

func (s *PostgresStore) queryTriggers(ctx context.Context, query string, args ...interface{}) ([]models.TriggerEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}
	defer rows.Close()

	var triggers []models.TriggerEvent
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}
		triggers = append(triggers, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating triggers: %w", err)
	}
	return triggers, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrigger(row rowScanner) (*models.TriggerEvent, error) {
	var t models.TriggerEvent
	var published sql.NullTime
	var historyJSON, gateJSON []byte

	err := row.Scan(
		&t.TriggerID,
		&t.Source,
		&t.SourceURL,
		&t.SourceFeedTitle,
		&published,
		&t.CompanySymbol,
		&t.CompanyName,
		&t.Sector,
		&t.RawContent,
		pq.Array(&t.DocumentIDs),
		pq.Array(&t.DocumentURLs),
		&t.Priority,
		&t.TriggeredBy,
		&t.HumanNotes,
		&t.Status,
		&historyJSON,
		&gateJSON,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if published.Valid {
		p := published.Time
		t.SourceFeedPublished = &p
	}
	if t.DocumentIDs == nil {
		t.DocumentIDs = []string{}
	}
	if t.DocumentURLs == nil {
		t.DocumentURLs = []string{}
	}
	t.StatusHistory = []models.StatusTransition{}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &t.StatusHistory); err != nil {
			return nil, fmt.Errorf("failed to unmarshal status history: %w", err)
		}
	}
	if len(gateJSON) > 0 {
		var gate models.GateResult
		if err := json.Unmarshal(gateJSON, &gate); err != nil {
			return nil, fmt.Errorf("failed to unmarshal gate result: %w", err)
		}
		t.GateResult = &gate
	}
	return &t, nil
}

// marshalGate returns a value for a nullable jsonb column.
func marshalGate(g *models.GateResult) (interface{}, error) {
	if g == nil {
		return nil, nil
	}
	b, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gate result: %w", err)
	}
	return string(b), nil
}

func expectRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
	}
	return nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
