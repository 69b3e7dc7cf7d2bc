// Package storage provides data persistence using SQLite for the page verifier.
// It keeps a history of verification runs.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nikshitha/kanban-verifier/logger"
	_ "modernc.org/sqlite"
)

// Database wraps SQLite database operations
type Database struct {
	db     *sql.DB
	logger *logger.Logger
}

// Verification represents one recorded verification run
type Verification struct {
	ID             int64     `json:"id"`
	URL            string    `json:"url"`
	Title          string    `json:"title"`
	ScreenshotPath string    `json:"screenshot_path"`
	Status         string    `json:"status"` // success, failure
	Error          string    `json:"error,omitempty"`
	DurationMs     int64     `json:"duration_ms"`
	StartedAt      time.Time `json:"started_at"`
}

// VerificationStats summarises the history
type VerificationStats struct {
	Total       int        `json:"total"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
}

// NewDatabase creates a new database connection
func NewDatabase(dbPath string, log *logger.Logger) (*Database, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	database := &Database{
		db:     db,
		logger: log.WithModule("storage"),
	}

	if err := database.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	database.logger.Debug("Database initialized successfully")
	return database, nil
}

// initSchema creates the database tables if they don't exist
func (d *Database) initSchema() error {
	schema := `
	-- Verification runs
	CREATE TABLE IF NOT EXISTS verifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL,
		title TEXT,
		screenshot_path TEXT,
		status TEXT NOT NULL,
		error TEXT,
		duration_ms INTEGER,
		started_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_verifications_started_at ON verifications(started_at);
	CREATE INDEX IF NOT EXISTS idx_verifications_status ON verifications(status);
	`

	_, err := d.db.Exec(schema)
	return err
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// SaveVerification records a verification run
func (d *Database) SaveVerification(v *Verification) (int64, error) {
	if v.StartedAt.IsZero() {
		v.StartedAt = time.Now()
	}

	result, err := d.db.Exec(`
		INSERT INTO verifications (url, title, screenshot_path, status, error, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, v.URL, v.Title, v.ScreenshotPath, v.Status, v.Error, v.DurationMs, v.StartedAt.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to save verification: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	v.ID = id

	d.logger.WithField("id", id).Debug("Verification recorded")
	return id, nil
}

// GetRecentVerifications returns up to limit runs, newest first
func (d *Database) GetRecentVerifications(limit int) ([]*Verification, error) {
	rows, err := d.db.Query(`
		SELECT id, url, title, screenshot_path, status, error, duration_ms, started_at
		FROM verifications
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Verification
	for rows.Next() {
		var v Verification
		var title, screenshot, errText sql.NullString
		var durationMs sql.NullInt64
		var startedAt int64
		if err := rows.Scan(&v.ID, &v.URL, &title, &screenshot, &v.Status, &errText, &durationMs, &startedAt); err != nil {
			return nil, err
		}
		v.Title = title.String
		v.ScreenshotPath = screenshot.String
		v.Error = errText.String
		v.DurationMs = durationMs.Int64
		v.StartedAt = time.UnixMilli(startedAt)
		runs = append(runs, &v)
	}

	return runs, rows.Err()
}

// GetVerificationStats returns totals over the whole history
func (d *Database) GetVerificationStats() (*VerificationStats, error) {
	stats := &VerificationStats{}

	err := d.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failure' THEN 1 ELSE 0 END), 0)
		FROM verifications
	`).Scan(&stats.Total, &stats.Succeeded, &stats.Failed)
	if err != nil {
		return nil, err
	}

	var last sql.NullInt64
	err = d.db.QueryRow(`SELECT MAX(started_at) FROM verifications WHERE status = 'success'`).Scan(&last)
	if err != nil {
		return nil, err
	}
	if last.Valid {
		t := time.UnixMilli(last.Int64)
		stats.LastSuccess = &t
	}

	return stats, nil
}
