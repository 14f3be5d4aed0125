package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/tujanalyst/tujanalyst/internal/logging"
	"github.com/tujanalyst/tujanalyst/internal/models"
	"github.com/tujanalyst/tujanalyst/internal/storage"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("Requires database connection - set TEST_DATABASE_URL to run")
	}

	cfg := DefaultConfig()
	cfg.URL = dbURL
	db, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Skipf("Skipping test: test database not available: %v", err)
	}
	if err := RunMigrations(db, logging.Discard()); err != nil {
		db.Close()
		t.Fatalf("RunMigrations: %v", err)
	}

	db.Exec("DELETE FROM analysis_reports")
	db.Exec("DELETE FROM decision_assessments")
	db.Exec("DELETE FROM investigations")
	db.Exec("DELETE FROM raw_documents")
	db.Exec("DELETE FROM triggers")
	return db
}

func TestPostgresStore_TriggerLifecycle(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	trigger := models.NewTriggerEvent(models.TriggerSourceNSE, "Board meeting outcome", now)
	trigger.SourceURL = "https://nsearchives.nseindia.com/corporate/abb_001.pdf"
	trigger.CompanySymbol = "ABB"
	trigger.DocumentURLs = []string{trigger.SourceURL, "https://cdn.example.com/abb_order.pdf"}

	if _, err := store.Save(ctx, trigger); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := store.Save(ctx, trigger); !errors.Is(err, storage.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	exists, err := store.ExistsByURL(ctx, trigger.SourceURL)
	if err != nil || !exists {
		t.Fatalf("ExistsByURL = %v, %v", exists, err)
	}

	pending, err := store.GetPending(ctx, 10)
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	if len(pending) != 1 || pending[0].TriggerID != trigger.TriggerID {
		t.Fatalf("unexpected pending %+v", pending)
	}
	if len(pending[0].DocumentURLs) != 2 || pending[0].DocumentURLs[1] != "https://cdn.example.com/abb_order.pdf" {
		t.Errorf("document urls not persisted: %v", pending[0].DocumentURLs)
	}

	gate := models.GateResult{Passed: true, Method: models.GateMethodSymbolMatch, Reason: "watchlist symbol"}
	if err := store.SetGateResult(ctx, trigger.TriggerID, gate); err != nil {
		t.Fatalf("SetGateResult: %v", err)
	}
	if err := store.UpdateStatus(ctx, trigger.TriggerID, models.TriggerStatusGatePassed, "matched", now.Add(time.Second)); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	err = store.UpdateStatus(ctx, trigger.TriggerID, models.TriggerStatusPending, "back", now.Add(2*time.Second))
	if !errors.Is(err, storage.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if err := store.UpdateStatus(ctx, "missing", models.TriggerStatusGatePassed, "x", now); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	got, err := store.Get(ctx, trigger.TriggerID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.TriggerStatusGatePassed {
		t.Errorf("expected gate_passed, got %s", got.Status)
	}
	if len(got.StatusHistory) != 1 || got.StatusHistory[0].Reason != "matched" {
		t.Errorf("unexpected history %+v", got.StatusHistory)
	}
	if got.GateResult == nil || got.GateResult.Method != models.GateMethodSymbolMatch {
		t.Errorf("unexpected gate result %+v", got.GateResult)
	}

	recent, err := store.ListRecent(ctx, storage.RecentFilter{Limit: 5, Status: models.TriggerStatusGatePassed})
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recent) != 1 {
		t.Errorf("expected 1 recent trigger, got %d", len(recent))
	}
}

func TestPostgresStore_AnalysisChain(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	trigger := models.NewHumanTrigger("Analyse ABB order win", now)
	trigger.CompanySymbol = "ABB"
	trigger.CompanyName = "ABB India"
	if _, err := store.Save(ctx, trigger); err != nil {
		t.Fatalf("Save: %v", err)
	}

	doc := models.NewRawDocument(trigger.TriggerID, "https://example.com/abb.pdf", now)
	doc.ExtractedText = "order book up"
	if err := store.SaveDocument(ctx, doc); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	if err := store.SetDocuments(ctx, trigger.TriggerID, []string{doc.DocumentID}, "enriched"); err != nil {
		t.Fatalf("SetDocuments: %v", err)
	}
	docs, err := store.ListDocumentsByTrigger(ctx, trigger.TriggerID)
	if err != nil || len(docs) != 1 {
		t.Fatalf("ListDocumentsByTrigger = %d, %v", len(docs), err)
	}

	inv := models.NewInvestigation(trigger, now)
	inv.Significance = models.SignificanceHigh
	inv.IsSignificant = true
	if err := store.SaveInvestigation(ctx, inv); err != nil {
		t.Fatalf("SaveInvestigation: %v", err)
	}
	invs, err := store.ListInvestigationsByCompany(ctx, "ABB", 10)
	if err != nil || len(invs) != 1 || invs[0].Significance != models.SignificanceHigh {
		t.Fatalf("ListInvestigationsByCompany = %+v, %v", invs, err)
	}

	if _, err := store.LatestAssessment(ctx, "ABB"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound before any assessment, got %v", err)
	}
	assessment := models.NewDecisionAssessment(inv, now)
	assessment.NewRecommendation = models.RecommendationBuy
	if err := store.SaveAssessment(ctx, assessment); err != nil {
		t.Fatalf("SaveAssessment: %v", err)
	}
	latest, err := store.LatestAssessment(ctx, "ABB")
	if err != nil || latest.AssessmentID != assessment.AssessmentID {
		t.Fatalf("LatestAssessment = %+v, %v", latest, err)
	}

	report := models.NewAnalysisReport(assessment, now)
	report.Title = "ABB India (ABB) Analysis Report"
	if err := store.SaveReport(ctx, report); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	report.MarkDelivered([]string{"slack"}, now.Add(time.Minute))
	if err := store.SaveReport(ctx, report); err != nil {
		t.Fatalf("SaveReport update: %v", err)
	}
	got, err := store.GetReportByTrigger(ctx, trigger.TriggerID)
	if err != nil {
		t.Fatalf("GetReportByTrigger: %v", err)
	}
	if got.DeliveryStatus != models.DeliveryStatusDelivered || len(got.DeliveredVia) != 1 || got.DeliveredAt == nil {
		t.Errorf("unexpected delivery state %+v", got)
	}
}
