package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/nikshitha/kanban-verifier/logger"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()

	db, err := NewDatabase(filepath.Join(t.TempDir(), "data", "history.db"), logger.Discard())
	if err != nil {
		t.Fatalf("NewDatabase failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveAndListVerifications(t *testing.T) {
	db := newTestDatabase(t)
	base := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	first := &Verification{
		URL:            "http://localhost:3000/kanban",
		Title:          "Kanban Board",
		ScreenshotPath: "verification.png",
		Status:         "success",
		DurationMs:     5200,
		StartedAt:      base,
	}
	id, err := db.SaveVerification(first)
	if err != nil {
		t.Fatalf("SaveVerification failed: %v", err)
	}
	if id == 0 || first.ID != id {
		t.Errorf("Expected ID to be set, got %d / %d", id, first.ID)
	}

	second := &Verification{
		URL:        "http://localhost:3000/kanban",
		Status:     "failure",
		Error:      "navigation failed: net::ERR_CONNECTION_REFUSED",
		DurationMs: 40,
		StartedAt:  base.Add(time.Minute),
	}
	if _, err := db.SaveVerification(second); err != nil {
		t.Fatalf("SaveVerification failed: %v", err)
	}

	runs, err := db.GetRecentVerifications(10)
	if err != nil {
		t.Fatalf("GetRecentVerifications failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(runs))
	}

	if runs[0].Status != "failure" || runs[0].Error == "" {
		t.Errorf("Newest run should be the failure, got %+v", runs[0])
	}
	if runs[1].Title != "Kanban Board" || runs[1].DurationMs != 5200 {
		t.Errorf("Oldest run not read back correctly: %+v", runs[1])
	}
	if !runs[1].StartedAt.Equal(base) {
		t.Errorf("StartedAt should round-trip, got %v", runs[1].StartedAt)
	}

	limited, err := db.GetRecentVerifications(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("Limit should be honoured, got %d runs", len(limited))
	}
}

func TestSaveVerificationDefaultsStartedAt(t *testing.T) {
	db := newTestDatabase(t)

	v := &Verification{URL: "http://localhost:3000/kanban", Status: "success"}
	if _, err := db.SaveVerification(v); err != nil {
		t.Fatal(err)
	}
	if v.StartedAt.IsZero() {
		t.Error("StartedAt should be filled in")
	}
}

func TestVerificationStats(t *testing.T) {
	db := newTestDatabase(t)

	stats, err := db.GetVerificationStats()
	if err != nil {
		t.Fatalf("GetVerificationStats failed: %v", err)
	}
	if stats.Total != 0 || stats.LastSuccess != nil {
		t.Errorf("Empty history should have zero stats, got %+v", stats)
	}

	base := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	db.SaveVerification(&Verification{URL: "u", Status: "success", StartedAt: base})
	db.SaveVerification(&Verification{URL: "u", Status: "success", StartedAt: base.Add(time.Hour)})
	db.SaveVerification(&Verification{URL: "u", Status: "failure", StartedAt: base.Add(2 * time.Hour)})

	stats, err = db.GetVerificationStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 3 || stats.Succeeded != 2 || stats.Failed != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.LastSuccess == nil || !stats.LastSuccess.Equal(base.Add(time.Hour)) {
		t.Errorf("Last success should be the second run, got %v", stats.LastSuccess)
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	db, err := NewDatabase(path, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	db.SaveVerification(&Verification{URL: "u", Status: "success"})
	db.Close()

	db, err = NewDatabase(path, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	runs, err := db.GetRecentVerifications(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Errorf("History should survive reopen, got %d runs", len(runs))
	}
}
