package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"

	"github.com/mediscan/analysis-server/internal/domain"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL feedback store from an existing connection.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{db: db}
	if err := store.createSchema(); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return store, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL feedback store from a connection URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewPostgresStore(db)
}

// createSchema creates the feedback table and indexes.
func (s *PostgresStore) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS feedback (
		id BIGSERIAL PRIMARY KEY,
		analysis_id TEXT NOT NULL UNIQUE,
		lab_type TEXT NOT NULL,
		suggested_level TEXT NOT NULL,
		user_level TEXT NOT NULL,
		user_agreed BOOLEAN NOT NULL DEFAULT FALSE,
		comment TEXT DEFAULT '',
		created_at TIMESTAMPTZ DEFAULT NOW(),
		updated_at TIMESTAMPTZ DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_feedback_lab_type ON feedback(lab_type);
	CREATE INDEX IF NOT EXISTS idx_feedback_created_at ON feedback(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Save stores or updates feedback for an analysis.
func (s *PostgresStore) Save(ctx context.Context, feedback *Feedback) error {
	now := time.Now()
	feedback.UpdatedAt = now

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO feedback (
			analysis_id, lab_type, suggested_level, user_level,
			user_agreed, comment, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (analysis_id) DO UPDATE SET
			lab_type = EXCLUDED.lab_type,
			suggested_level = EXCLUDED.suggested_level,
			user_level = EXCLUDED.user_level,
			user_agreed = EXCLUDED.user_agreed,
			comment = EXCLUDED.comment,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`,
		feedback.AnalysisID,
		string(feedback.LabType),
		string(feedback.SuggestedLevel),
		string(feedback.UserLevel),
		feedback.UserAgreed,
		feedback.Comment,
		now,
	).Scan(&feedback.ID, &feedback.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save feedback: %w", err)
	}

	return nil
}

// Get retrieves the feedback for an analysis.
func (s *PostgresStore) Get(ctx context.Context, analysisID string) (*Feedback, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, analysis_id, lab_type, suggested_level, user_level,
			user_agreed, comment, created_at, updated_at
		FROM feedback
		WHERE analysis_id = $1
		LIMIT 1
	`, analysisID)

	fb, err := scanPostgresFeedback(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return fb, nil
}

// scanPostgresFeedback scans a row into a Feedback struct.
func scanPostgresFeedback(s scanner) (*Feedback, error) {
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

// List returns feedback entries with pagination, newest first.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*Feedback, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, analysis_id, lab_type, suggested_level, user_level,
			user_agreed, comment, created_at, updated_at
		FROM feedback
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []*Feedback
	for rows.Next() {
		fb, err := scanPostgresFeedback(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, fb)
	}
	return result, rows.Err()
}

// Count returns the total number of feedback entries.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM feedback").Scan(&count)
	return count, err
}

// GetStats returns agreement statistics across all feedback.
func (s *PostgresStore) GetStats(ctx context.Context) (*Stats, error) {
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
func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM feedback WHERE id = $1", id)
	return err
}

// ExportJSON exports all feedback to a JSON writer.
func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
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
func (s *PostgresStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	var export FeedbackExport
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, fb := range export.Feedback {
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
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
