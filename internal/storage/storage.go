package storage

import (
	"context"
	"errors"
	"time"

	"github.com/tujanalyst/tujanalyst/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when saving a record whose id already exists.
	ErrDuplicate = errors.New("duplicate record")
	// ErrInvalidTransition is returned when a status change would move a
	// trigger backwards or out of a terminal status.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// TriggerRepository persists triggers. UpdateStatus is the only way status
// changes and must be atomic per call.
type TriggerRepository interface {
	// Save stores a new trigger and returns its id.
	Save(ctx context.Context, trigger *models.TriggerEvent) (string, error)

	// Get retrieves a trigger by id.
	Get(ctx context.Context, id string) (*models.TriggerEvent, error)

	// UpdateStatus sets the status, stamps updated_at and appends one
	// history entry in a single operation.
	UpdateStatus(ctx context.Context, id string, status models.TriggerStatus, reason string, at time.Time) error

	// SetGateResult records the latest gate outcome.
	SetGateResult(ctx context.Context, id string, result models.GateResult) error

	// SetDocuments records ingested document ids and the enriched text.
	SetDocuments(ctx context.Context, id string, documentIDs []string, rawContent string) error

	// GetPending returns up to limit pending triggers, oldest first.
	GetPending(ctx context.Context, limit int) ([]models.TriggerEvent, error)

	// ExistsByURL reports whether a trigger with this source URL exists.
	ExistsByURL(ctx context.Context, url string) (bool, error)
}

// RecentFilter narrows ListRecent.
type RecentFilter struct {
	Limit  int
	Since  time.Time
	Source models.TriggerSource
	Status models.TriggerStatus
}

// RecentTriggerLister is implemented by stores that can list recent
// triggers efficiently, newest first.
type RecentTriggerLister interface {
	ListRecent(ctx context.Context, filter RecentFilter) ([]models.TriggerEvent, error)
}

// DocumentRepository persists downloaded documents.
type DocumentRepository interface {
	SaveDocument(ctx context.Context, doc *models.RawDocument) error
	GetDocument(ctx context.Context, id string) (*models.RawDocument, error)
	ListDocumentsByTrigger(ctx context.Context, triggerID string) ([]models.RawDocument, error)
}

// AnalysisRepository persists investigations and decision assessments.
type AnalysisRepository interface {
	SaveInvestigation(ctx context.Context, inv *models.Investigation) error
	GetInvestigation(ctx context.Context, id string) (*models.Investigation, error)
	// ListInvestigationsByCompany returns a company's investigations, newest first.
	ListInvestigationsByCompany(ctx context.Context, companySymbol string, limit int) ([]models.Investigation, error)
	SaveAssessment(ctx context.Context, assessment *models.DecisionAssessment) error
	// LatestAssessment returns the newest assessment for a company.
	LatestAssessment(ctx context.Context, companySymbol string) (*models.DecisionAssessment, error)
}

// ReportRepository persists reports. SaveReport is an upsert.
type ReportRepository interface {
	SaveReport(ctx context.Context, report *models.AnalysisReport) error
	GetReport(ctx context.Context, id string) (*models.AnalysisReport, error)
	GetReportByTrigger(ctx context.Context, triggerID string) (*models.AnalysisReport, error)
}

// Store groups every repository the service needs.
type Store interface {
	TriggerRepository
	DocumentRepository
	AnalysisRepository
	ReportRepository
}
