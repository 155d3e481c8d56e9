package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mediscan/analysis-server/internal/domain"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite feedback store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanFeedback scans a row into a Feedback struct.
func scanFeedback(s scanner) (*Feedback, error) {
	fb := &Feedback{}
	var labType, suggestedLevel, userLevel string

	err := s.Scan(
		&fb.ID, &fb.AnalysisID, &labType,
		&suggestedLevel, &userLevel, &fb.UserAgreed,
		&fb.Comment, &fb.CreatedAt, &fb.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	fb.LabType = domain.LabType(labType)
	fb.SuggestedLevel = domain.RiskLevel(suggestedLevel)
	fb.UserLevel = domain.RiskLevel(userLevel)
	return fb, nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		analysis_id TEXT NOT NULL UNIQUE,
		lab_type TEXT NOT NULL,
		suggested_level TEXT NOT NULL,
		user_level TEXT NOT NULL,
		user_agreed INTEGER NOT NULL DEFAULT 0,
		comment TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_feedback_lab_type ON feedback(lab_type);
	CREATE INDEX IF NOT EXISTS idx_feedback_created_at ON feedback(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Save stores or updates feedback for an analysis.
func (s *SQLiteStore) Save(ctx context.Context, feedback *Feedback) error {
	now := time.Now()

	// Check if exists
	var existingID int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM feedback WHERE analysis_id = ?",
		feedback.AnalysisID,
	).Scan(&existingID)

	if err == nil {
		// Update existing
		feedback.ID = existingID
		feedback.UpdatedAt = now

		_, err = s.db.ExecContext(ctx, `
			UPDATE feedback SET
				lab_type = ?,
				suggested_level = ?,
				user_level = ?,
				user_agreed = ?,
				comment = ?,
				updated_at = ?
			WHERE id = ?
		`,
			string(feedback.LabType),
			string(feedback.SuggestedLevel),
			string(feedback.UserLevel),
			feedback.UserAgreed,
			feedback.Comment,
			now,
			existingID,
		)
		return err
	}

	if err != sql.ErrNoRows {
		return fmt.Errorf("failed to check existing: %w", err)
	}

	// Insert new
	feedback.CreatedAt = now
	feedback.UpdatedAt = now

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback (
			analysis_id, lab_type, suggested_level, user_level,
			user_agreed, comment, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		feedback.AnalysisID,
		string(feedback.LabType),
		string(feedback.SuggestedLevel),
		string(feedback.UserLevel),
		feedback.UserAgreed,
		feedback.Comment,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	feedback.ID = id

	return nil
}

// Get retrieves the feedback for an analysis.
func (s *SQLiteStore) Get(ctx context.Context, analysisID string) (*Feedback, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, analysis_id, lab_type, suggested_level, user_level,
			user_agreed, comment, created_at, updated_at
		FROM feedback
		WHERE analysis_id = ?
		LIMIT 1
	`, analysisID)

	fb, err := scanFeedback(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return fb, nil
}

// List returns feedback entries with pagination, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*Feedback, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, analysis_id, lab_type, suggested_level, user_level,
			user_agreed, comment, created_at, updated_at
		FROM feedback
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []*Feedback
	for rows.Next() {
		fb, err := scanFeedback(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, fb)
	}
	return result, rows.Err()
}

// Count returns the total number of feedback entries.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM feedback").Scan(&count)
	return count, err
}

// GetStats returns agreement statistics across all feedback.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN user_agreed THEN 1 ELSE 0 END), 0)
		FROM feedback
	`).Scan(&stats.Total, &stats.Agreed)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	stats.Disagreed = stats.Total - stats.Agreed
	return stats, nil
}

// Delete removes a feedback entry by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM feedback WHERE id = ?", id)
	return err
}

// maxExportLimit is the maximum number of entries to export at once.
const maxExportLimit = 1000000

// ExportJSON exports all feedback to a JSON writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	all, err := s.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list feedback: %w", err)
	}

	export := &FeedbackExport{
		Version:    "1.0",
		ExportedAt: time.Now(),
		Count:      len(all),
		Feedback:   all,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

// ImportJSON imports feedback from a JSON reader.
func (s *SQLiteStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	var export FeedbackExport
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, fb := range export.Feedback {
		// Check if exists
		existing, err := s.Get(ctx, fb.AnalysisID)
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
		}

		if existing != nil {
			skipped++
			continue
		}

		if err := s.Save(ctx, fb); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}

	return imported, skipped, nil
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
