package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DocumentType classifies a downloaded attachment.
type DocumentType string

const (
	DocumentTypePDF     DocumentType = "pdf"
	DocumentTypeHTML    DocumentType = "html"
	DocumentTypeText    DocumentType = "text"
	DocumentTypeUnknown DocumentType = "unknown"
)

// ProcessingStatus tracks document download and extraction.
type ProcessingStatus string

const (
	ProcessingStatusDownloaded ProcessingStatus = "downloaded"
	ProcessingStatusExtracted  ProcessingStatus = "extracted"
	ProcessingStatusComplete   ProcessingStatus = "complete"
	ProcessingStatusError      ProcessingStatus = "error"
)

// RawDocument is one downloaded source document for a trigger.
type RawDocument struct {
	DocumentID       string           `json:"document_id"`
	TriggerID        string           `json:"trigger_id"`
	SourceURL        string           `json:"source_url"`
	CompanySymbol    string           `json:"company_symbol,omitempty"`
	DocumentType     DocumentType     `json:"document_type"`
	ContentType      string           `json:"content_type"`
	SizeBytes        int64            `json:"size_bytes"`
	ExtractedText    string           `json:"extracted_text,omitempty"`
	ExtractionMethod string           `json:"extraction_method,omitempty"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	ProcessingErrors []string         `json:"processing_errors"`
	CreatedAt        time.Time        `json:"created_at"`
}

// NewRawDocument creates a document record for a trigger.
func NewRawDocument(triggerID, sourceURL string, now time.Time) *RawDocument {
	return &RawDocument{
		DocumentID:       uuid.New().String(),
		TriggerID:        triggerID,
		SourceURL:        sourceURL,
		DocumentType:     DocumentTypeUnknown,
		ProcessingStatus: ProcessingStatusDownloaded,
		ProcessingErrors: []string{},
		CreatedAt:        now,
	}
}

// ExtractionResult is what document ingestion hands back to the pipeline.
type ExtractionResult struct {
	DocumentIDs  []string
	EnrichedText string
}

// DocumentTextMarker separates the original announcement text from appended
// document text in an enriched raw_content.
const DocumentTextMarker = "\n\n=== DOCUMENT "

// OriginalContent returns raw content without any appended document text.
func OriginalContent(rawContent string) string {
	if idx := strings.Index(rawContent, DocumentTextMarker); idx >= 0 {
		return rawContent[:idx]
	}
	return rawContent
}
