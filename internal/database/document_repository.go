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

const documentColumns = `document_id, trigger_id, source_url, company_symbol, document_type, content_type,
	size_bytes, extracted_text, extraction_method, processing_status, processing_errors, created_at`

// SaveDocument inserts or replaces a document.
func (s *PostgresStore) SaveDocument(ctx context.Context, doc *models.RawDocument) error {
	query := `
		INSERT INTO raw_documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (document_id) DO UPDATE SET
			document_type = EXCLUDED.document_type,
			content_type = EXCLUDED.content_type,
			size_bytes = EXCLUDED.size_bytes,
			extracted_text = EXCLUDED.extracted_text,
			extraction_method = EXCLUDED.extraction_method,
			processing_status = EXCLUDED.processing_status,
			processing_errors = EXCLUDED.processing_errors
	`
	_, err := s.db.ExecContext(ctx, query,
		doc.DocumentID,
		doc.TriggerID,
		doc.SourceURL,
		doc.CompanySymbol,
		doc.DocumentType,
		doc.ContentType,
		doc.SizeBytes,
		doc.ExtractedText,
		doc.ExtractionMethod,
		doc.ProcessingStatus,
		pq.Array(nonNilStrings(doc.ProcessingErrors)),
		doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by id.
func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*models.RawDocument, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM raw_documents WHERE document_id = $1`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query document: %w", err)
	}
	return doc, nil
}

// ListDocumentsByTrigger returns a trigger's documents oldest first.
func (s *PostgresStore) ListDocumentsByTrigger(ctx context.Context, triggerID string) ([]models.RawDocument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM raw_documents WHERE trigger_id = $1 ORDER BY created_at ASC`, triggerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []models.RawDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func scanDocument(row rowScanner) (*models.RawDocument, error) {
	var doc models.RawDocument
	err := row.Scan(
		&doc.DocumentID,
		&doc.TriggerID,
		&doc.SourceURL,
		&doc.CompanySymbol,
		&doc.DocumentType,
		&doc.ContentType,
		&doc.SizeBytes,
		&doc.ExtractedText,
		&doc.ExtractionMethod,
		&doc.ProcessingStatus,
		pq.Array(&doc.ProcessingErrors),
		&doc.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if doc.ProcessingErrors == nil {
		doc.ProcessingErrors = []string{}
	}
	return &doc, nil
}
