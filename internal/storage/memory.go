package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tujanalyst/tujanalyst/internal/models"
)

// MemoryStore implements every repository in memory for tests and local runs.
type MemoryStore struct {
	mu             sync.RWMutex
	triggers       map[string]models.TriggerEvent
	urlIdx         map[string]string // source URL -> trigger ID
	documents      map[string]models.RawDocument
	investigations map[string]models.Investigation
	assessments    []models.DecisionAssessment
	reports        map[string]models.AnalysisReport
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		triggers:       make(map[string]models.TriggerEvent),
		urlIdx:         make(map[string]string),
		documents:      make(map[string]models.RawDocument),
		investigations: make(map[string]models.Investigation),
		reports:        make(map[string]models.AnalysisReport),
	}
}

var _ Store = (*MemoryStore)(nil)
var _ RecentTriggerLister = (*MemoryStore)(nil)

// Save stores a new trigger.
func (s *MemoryStore) Save(ctx context.Context, trigger *models.TriggerEvent) (string, error) {
	if trigger == nil || trigger.TriggerID == "" {
		return "", fmt.Errorf("trigger id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.triggers[trigger.TriggerID]; ok {
		return "", fmt.Errorf("trigger %s: %w", trigger.TriggerID, ErrDuplicate)
	}
	s.triggers[trigger.TriggerID] = trigger.Clone()
	if trigger.SourceURL != "" {
		s.urlIdx[trigger.SourceURL] = trigger.TriggerID
	}
	return trigger.TriggerID, nil
}

// Get retrieves a trigger by id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.TriggerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trigger, ok := s.triggers[id]
	if !ok {
		return nil, fmt.Errorf("trigger %s: %w", id, ErrNotFound)
	}
	out := trigger.Clone()
	return &out, nil
}

// UpdateStatus applies one status transition under the store lock.
func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status models.TriggerStatus, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trigger, ok := s.triggers[id]
	if !ok {
		return fmt.Errorf("trigger %s: %w", id, ErrNotFound)
	}
	if !models.CanTransition(trigger.Status, status) {
		return fmt.Errorf("trigger %s %s -> %s: %w", id, trigger.Status, status, ErrInvalidTransition)
	}
	trigger.SetStatus(status, reason, at)
	s.triggers[id] = trigger
	return nil
}

// SetGateResult records the gate outcome.
func (s *MemoryStore) SetGateResult(ctx context.Context, id string, result models.GateResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trigger, ok := s.triggers[id]
	if !ok {
		return fmt.Errorf("trigger %s: %w", id, ErrNotFound)
	}
	trigger.GateResult = &result
	s.triggers[id] = trigger
	return nil
}

// SetDocuments records ingested documents and enriched content.
func (s *MemoryStore) SetDocuments(ctx context.Context, id string, documentIDs []string, rawContent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trigger, ok := s.triggers[id]
	if !ok {
		return fmt.Errorf("trigger %s: %w", id, ErrNotFound)
	}
	trigger.DocumentIDs = append([]string{}, documentIDs...)
	trigger.RawContent = rawContent
	s.triggers[id] = trigger
	return nil
}

// GetPending returns pending triggers oldest first.
func (s *MemoryStore) GetPending(ctx context.Context, limit int) ([]models.TriggerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []models.TriggerEvent
	for _, trigger := range s.triggers {
		if trigger.Status == models.TriggerStatusPending {
			pending = append(pending, trigger.Clone())
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if !pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].CreatedAt.Before(pending[j].CreatedAt)
		}
		return pending[i].TriggerID < pending[j].TriggerID
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// ExistsByURL reports whether a trigger has this exact source URL.
func (s *MemoryStore) ExistsByURL(ctx context.Context, url string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.urlIdx[url]
	return ok, nil
}

// ListRecent returns triggers newest first.
func (s *MemoryStore) ListRecent(ctx context.Context, filter RecentFilter) ([]models.TriggerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.TriggerEvent
	for _, trigger := range s.triggers {
		if !filter.Since.IsZero() && trigger.CreatedAt.Before(filter.Since) {
			continue
		}
		if filter.Source != "" && trigger.Source != filter.Source {
			continue
		}
		if filter.Status != "" && trigger.Status != filter.Status {
			continue
		}
		result = append(result, trigger.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// SaveDocument stores a document.
func (s *MemoryStore) SaveDocument(ctx context.Context, doc *models.RawDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *doc
	stored.ProcessingErrors = append([]string{}, doc.ProcessingErrors...)
	s.documents[doc.DocumentID] = stored
	return nil
}

// GetDocument retrieves a document by id.
func (s *MemoryStore) GetDocument(ctx context.Context, id string) (*models.RawDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return &doc, nil
}

// ListDocumentsByTrigger returns a trigger's documents oldest first.
func (s *MemoryStore) ListDocumentsByTrigger(ctx context.Context, triggerID string) ([]models.RawDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []models.RawDocument
	for _, doc := range s.documents {
		if doc.TriggerID == triggerID {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
	return docs, nil
}

// SaveInvestigation stores an investigation.
func (s *MemoryStore) SaveInvestigation(ctx context.Context, inv *models.Investigation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.investigations[inv.InvestigationID] = *inv
	return nil
}

// GetInvestigation retrieves an investigation by id.
func (s *MemoryStore) GetInvestigation(ctx context.Context, id string) (*models.Investigation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.investigations[id]
	if !ok {
		return nil, fmt.Errorf("investigation %s: %w", id, ErrNotFound)
	}
	return &inv, nil
}

// ListInvestigationsByCompany returns a company's investigations, newest first.
func (s *MemoryStore) ListInvestigationsByCompany(ctx context.Context, companySymbol string, limit int) ([]models.Investigation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.Investigation
	for _, inv := range s.investigations {
		if inv.CompanySymbol == companySymbol {
			result = append(result, inv)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// SaveAssessment appends an assessment.
func (s *MemoryStore) SaveAssessment(ctx context.Context, assessment *models.DecisionAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assessments = append(s.assessments, *assessment)
	return nil
}

// LatestAssessment returns the newest assessment for a company.
func (s *MemoryStore) LatestAssessment(ctx context.Context, companySymbol string) (*models.DecisionAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.DecisionAssessment
	for i := range s.assessments {
		a := s.assessments[i]
		if a.CompanySymbol != companySymbol {
			continue
		}
		if latest == nil || !a.CreatedAt.Before(latest.CreatedAt) {
			latest = &a
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("assessment for %s: %w", companySymbol, ErrNotFound)
	}
	return latest, nil
}

// SaveReport inserts or replaces a report.
func (s *MemoryStore) SaveReport(ctx context.Context, report *models.AnalysisReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *report
	stored.DeliveredVia = append([]string{}, report.DeliveredVia...)
	s.reports[report.ReportID] = stored
	return nil
}

// GetReport retrieves a report by id.
func (s *MemoryStore) GetReport(ctx context.Context, id string) (*models.AnalysisReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report, ok := s.reports[id]
	if !ok {
		return nil, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	return &report, nil
}

// GetReportByTrigger returns the newest report for a trigger.
func (s *MemoryStore) GetReportByTrigger(ctx context.Context, triggerID string) (*models.AnalysisReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *models.AnalysisReport
	for _, report := range s.reports {
		if report.TriggerID != triggerID {
			continue
		}
		if found == nil || report.CreatedAt.After(found.CreatedAt) {
			r := report
			found = &r
		}
	}
	if found == nil {
		return nil, fmt.Errorf("report for trigger %s: %w", triggerID, ErrNotFound)
	}
	return found, nil
}
