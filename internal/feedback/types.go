// Package feedback provides storage for user feedback on completed analyses.
// It records whether reviewers agreed with the corrected risk assessment,
// which feeds future calibration of the override rules and the model.
package feedback

import (
	"context"
	"io"
	"time"

	"github.com/mediscan/analysis-server/internal/domain"
)

// Feedback represents one reviewer's verdict on an analysis result.
type Feedback struct {
	ID             int64            `json:"id,omitempty"`
	AnalysisID     string           `json:"analysis_id"`
	LabType        domain.LabType   `json:"lab_type"`
	SuggestedLevel domain.RiskLevel `json:"suggested_level"` // System's corrected assessment
	UserLevel      domain.RiskLevel `json:"user_level"`      // Reviewer's own assessment
	UserAgreed     bool             `json:"user_agreed"`
	Comment        string           `json:"comment,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Stats aggregates feedback across analyses.
type Stats struct {
	Total     int64 `json:"total"`
	Agreed    int64 `json:"agreed"`
	Disagreed int64 `json:"disagreed"`
}

// Store defines the interface for feedback storage operations.
type Store interface {
	// Save stores or updates feedback for an analysis. Feedback is keyed by
	// analysis ID; a second submission for the same analysis updates it.
	Save(ctx context.Context, feedback *Feedback) error

	// Get retrieves the feedback for an analysis, or nil when none exists.
	Get(ctx context.Context, analysisID string) (*Feedback, error)

	// List returns feedback entries with pagination, newest first.
	List(ctx context.Context, limit, offset int) ([]*Feedback, error)

	// Count returns the total number of feedback entries.
	Count(ctx context.Context) (int64, error)

	// GetStats returns agreement statistics across all feedback.
	GetStats(ctx context.Context) (*Stats, error)

	// Delete removes a feedback entry by ID.
	Delete(ctx context.Context, id int64) error

	// ExportJSON exports all feedback to a JSON writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON imports feedback from a JSON reader.
	// Returns the number of imported and skipped entries.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	// Close closes the store and releases resources.
	Close() error
}

// FeedbackExport represents the JSON export format.
type FeedbackExport struct {
	Version    string      `json:"version"`
	ExportedAt time.Time   `json:"exported_at"`
	Count      int         `json:"count"`
	Feedback   []*Feedback `json:"feedback"`
}
