package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/mediscan/analysis-server/internal/domain"
)

// AnalysisRepository handles persistence of completed report analyses.
// Validation results, the breakdown and the referrals are stored as JSONB;
// the risk fields are flattened into columns so they can be filtered on.
type AnalysisRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewAnalysisRepository creates a new analysis repository.
func NewAnalysisRepository(db *pgxpool.Pool, logger *logrus.Logger) *AnalysisRepository {
	return &AnalysisRepository{
		db:  db,
		log: logger,
	}
}

// Create inserts a completed analysis.
func (r *AnalysisRepository) Create(ctx context.Context, record *domain.AnalysisRecord) error {
	textValidationJSON, err := json.Marshal(record.TextValidation)
	if err != nil {
		return fmt.Errorf("marshaling text validation: %w", err)
	}

	valuesValidationJSON, err := json.Marshal(record.ValuesValidation)
	if err != nil {
		return fmt.Errorf("marshaling values validation: %w", err)
	}

	breakdownJSON, err := json.Marshal(record.Breakdown)
	if err != nil {
		return fmt.Errorf("marshaling breakdown: %w", err)
	}

	referralsJSON, err := json.Marshal(record.Referrals)
	if err != nil {
		return fmt.Errorf("marshaling referrals: %w", err)
	}

	query := `
		INSERT INTO analyses (
			id, lab_type, text_validation, values_validation,
			raw_risk_level, raw_risk_score, corrected_risk_level, corrected_risk_score,
			breakdown, referrals, narrative, ocr_confidence,
			processing_time_ms, correlation_id
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)`

	_, err = r.db.Exec(ctx, query,
		record.ID,
		record.LabType,
		textValidationJSON,
		valuesValidationJSON,
		record.RawRisk.Level,
		record.RawRisk.Score,
		record.CorrectedRisk.Level,
		record.CorrectedRisk.Score,
		breakdownJSON,
		referralsJSON,
		record.Narrative,
		record.OCRConfidence,
		record.ProcessingTimeMS,
		record.CorrelationID,
	)

	if err != nil {
		r.log.WithFields(logrus.Fields{
			"analysis_id": record.ID,
			"lab_type":    record.LabType,
			"error":       err,
		}).Error("Failed to create analysis")
		return fmt.Errorf("creating analysis: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"analysis_id":     record.ID,
		"lab_type":        record.LabType,
		"risk_level":      record.CorrectedRisk.Level,
		"processing_time": record.ProcessingTimeMS,
	}).Info("Analysis stored")

	return nil
}

const analysisColumns = `
	id, lab_type, text_validation, values_validation,
	raw_risk_level, raw_risk_score, corrected_risk_level, corrected_risk_score,
	breakdown, referrals, narrative, ocr_confidence,
	processing_time_ms, correlation_id, created_at`

// GetByID retrieves an analysis by its ID.
func (r *AnalysisRepository) GetByID(ctx context.Context, id string) (*domain.AnalysisRecord, error) {
	query := `SELECT` + analysisColumns + ` FROM analyses WHERE id = $1`

	record, err := scanAnalysis(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("analysis not found: %w", domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"analysis_id": id,
			"error":       err,
		}).Error("Failed to get analysis by ID")
		return nil, fmt.Errorf("getting analysis by ID: %w", err)
	}

	return record, nil
}

// ListRecent retrieves the most recently completed analyses.
func (r *AnalysisRepository) ListRecent(ctx context.Context, limit int) ([]*domain.AnalysisRecord, error) {
	query := `SELECT` + analysisColumns + ` FROM analyses ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		r.log.WithError(err).Error("Failed to list recent analyses")
		return nil, fmt.Errorf("listing recent analyses: %w", err)
	}
	defer rows.Close()

	return collectAnalyses(rows)
}

// ListByLabType retrieves analyses for one lab type with pagination.
func (r *AnalysisRepository) ListByLabType(ctx context.Context, labType domain.LabType, limit, offset int) ([]*domain.AnalysisRecord, error) {
	query := `SELECT` + analysisColumns + ` FROM analyses
		WHERE lab_type = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, labType, limit, offset)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"lab_type": labType,
			"error":    err,
		}).Error("Failed to list analyses by lab type")
		return nil, fmt.Errorf("listing analyses by lab type: %w", err)
	}
	defer rows.Close()

	return collectAnalyses(rows)
}

// CountByRiskLevel returns the number of stored analyses per corrected risk
// level, for the stats endpoint.
func (r *AnalysisRepository) CountByRiskLevel(ctx context.Context) (map[domain.RiskLevel]int, error) {
	query := `SELECT corrected_risk_level, COUNT(*) FROM analyses GROUP BY corrected_risk_level`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("counting analyses by risk level: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.RiskLevel]int)
	for rows.Next() {
		var level domain.RiskLevel
		var count int
		if err := rows.Scan(&level, &count); err != nil {
			return nil, fmt.Errorf("scanning risk level count: %w", err)
		}
		counts[level] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating risk level counts: %w", err)
	}

	return counts, nil
}

// Delete removes an analysis.
func (r *AnalysisRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Exec(ctx, `DELETE FROM analyses WHERE id = $1`, id)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"analysis_id": id,
			"error":       err,
		}).Error("Failed to delete analysis")
		return fmt.Errorf("deleting analysis: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("analysis not found: %w", domain.ErrNotFound)
	}

	r.log.WithField("analysis_id", id).Info("Analysis deleted")
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (*domain.AnalysisRecord, error) {
	var record domain.AnalysisRecord
	var textValidationJSON, valuesValidationJSON, breakdownJSON, referralsJSON []byte
	var createdAt time.Time

	err := row.Scan(
		&record.ID,
		&record.LabType,
		&textValidationJSON,
		&valuesValidationJSON,
		&record.RawRisk.Level,
		&record.RawRisk.Score,
		&record.CorrectedRisk.Level,
		&record.CorrectedRisk.Score,
		&breakdownJSON,
		&referralsJSON,
		&record.Narrative,
		&record.OCRConfidence,
		&record.ProcessingTimeMS,
		&record.CorrelationID,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(textValidationJSON, &record.TextValidation); err != nil {
		return nil, fmt.Errorf("unmarshaling text validation: %w", err)
	}
	if err := json.Unmarshal(valuesValidationJSON, &record.ValuesValidation); err != nil {
		return nil, fmt.Errorf("unmarshaling values validation: %w", err)
	}
	if err := json.Unmarshal(breakdownJSON, &record.Breakdown); err != nil {
		return nil, fmt.Errorf("unmarshaling breakdown: %w", err)
	}
	if err := json.Unmarshal(referralsJSON, &record.Referrals); err != nil {
		return nil, fmt.Errorf("unmarshaling referrals: %w", err)
	}

	record.CreatedAt = createdAt
	return &record, nil
}

func collectAnalyses(rows pgx.Rows) ([]*domain.AnalysisRecord, error) {
	var records []*domain.AnalysisRecord
	for rows.Next() {
		record, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning analysis row: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating analysis rows: %w", err)
	}

	return records, nil
}
