package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mediscan/analysis-server/internal/domain"
)

// AnalysisRequest is one report upload to run through the pipeline.
type AnalysisRequest struct {
	Image         []byte
	LabType       domain.LabType
	CorrelationID string
}

// ReportAnalyzer orchestrates the analysis pipeline for one upload:
// OCR, text plausibility check, structured value check, statistical
// prediction, narrative generation, risk reconciliation, persistence.
// Stages are strictly sequential; each stage's input depends on the
// previous stage's output, so there is no fan-out. Concurrent requests
// are independent and share only the read-only rule tables.
type ReportAnalyzer struct {
	ocr            domain.OCRExtractor
	predictor      domain.RiskPredictor
	narrative      domain.BreakdownGenerator
	repo           domain.AnalysisRepository
	textValidator  *TextValidator
	valueValidator *ValueValidator
	riskCorrector  *RiskCorrector
	progress       domain.ProgressSink
	logger         *logrus.Logger
}

// NewReportAnalyzer wires the pipeline. The progress sink may be nil when no
// live progress reporting is wanted.
func NewReportAnalyzer(
	ocr domain.OCRExtractor,
	predictor domain.RiskPredictor,
	narrative domain.BreakdownGenerator,
	repo domain.AnalysisRepository,
	progress domain.ProgressSink,
	logger *logrus.Logger,
) *ReportAnalyzer {
	return &ReportAnalyzer{
		ocr:            ocr,
		predictor:      predictor,
		narrative:      narrative,
		repo:           repo,
		textValidator:  NewTextValidator(),
		valueValidator: NewValueValidator(),
		riskCorrector:  NewRiskCorrector(),
		progress:       progress,
		logger:         logger,
	}
}

var invalidImageSuggestions = []string{
	"Retake the photo with the full report visible and in focus",
	"Make sure the image shows a lab report, not a prescription or receipt",
	"Avoid glare and shadows over the printed values",
}

var mismatchedTypeSuggestions = []string{
	"Check that the selected report type matches the uploaded document",
	"Upload the page of the report that lists the measured values",
}

// AnalyzeReport runs the full pipeline for one upload. The two validation
// gates run before any statistical prediction or narrative generation, so
// an upload already known to be wrong never pays for the expensive
// downstream calls. Rejections are returned as *domain.RejectionError;
// any other error means a collaborator or the store failed.
func (a *ReportAnalyzer) AnalyzeReport(ctx context.Context, req *AnalysisRequest) (*domain.AnalysisRecord, error) {
	start := time.Now()
	analysisID := uuid.New().String()

	log := a.logger.WithFields(logrus.Fields{
		"analysis_id":    analysisID,
		"lab_type":       req.LabType,
		"correlation_id": req.CorrelationID,
	})
	log.Info("Starting report analysis")
	a.publish(analysisID, domain.StageReceived)

	ocrResult, err := a.ocr.ExtractText(ctx, req.Image, req.LabType)
	if err != nil {
		log.WithError(err).Error("OCR extraction failed")
		a.publish(analysisID, domain.StageFailed)
		return nil, domain.NewAPIError(domain.ErrExternalAPI,
			"Failed to extract text from the uploaded image", err.Error(), req.CorrelationID)
	}

	textResult := a.textValidator.ValidateReportText(ocrResult.Text, req.LabType)
	if !textResult.IsValid {
		log.WithFields(logrus.Fields{
			"confidence": textResult.Confidence,
			"reasons":    textResult.Reasons,
		}).Warn("Upload rejected: text does not look like the selected report type")
		a.publish(analysisID, domain.StageRejectedInvalidImage)
		return nil, domain.NewRejectionError(
			domain.ErrInvalidLabImage,
			"The uploaded image does not appear to be a valid lab report",
			req.LabType, textResult, invalidImageSuggestions)
	}
	a.publish(analysisID, domain.StageTextValidated)

	valuesResult := a.valueValidator.ValidateParsedValues(ocrResult.ParsedValues, req.LabType)
	if !valuesResult.IsValid {
		log.WithFields(logrus.Fields{
			"confidence": valuesResult.Confidence,
			"matched":    valuesResult.MatchedParameters,
		}).Warn("Upload rejected: parsed values do not match the selected report type")
		a.publish(analysisID, domain.StageRejectedMismatchedType)
		return nil, domain.NewRejectionError(
			domain.ErrMismatchedLabType,
			"The report contents do not match the selected report type",
			req.LabType, valuesResult, mismatchedTypeSuggestions)
	}
	a.publish(analysisID, domain.StageValuesValidated)

	prediction, err := a.predictor.PredictRisk(ctx, ocrResult.ParsedValues)
	if err != nil {
		log.WithError(err).Error("Risk prediction failed")
		a.publish(analysisID, domain.StageFailed)
		return nil, domain.NewAPIError(domain.ErrExternalAPI,
			"Risk prediction service is unavailable", err.Error(), req.CorrelationID)
	}

	narrative, err := a.narrative.GenerateBreakdown(ctx, req.LabType, ocrResult.ParsedValues, prediction.RiskAssessment)
	if err != nil {
		log.WithError(err).Error("Breakdown generation failed")
		a.publish(analysisID, domain.StageFailed)
		return nil, domain.NewAPIError(domain.ErrExternalAPI,
			"Could not generate the analysis breakdown", err.Error(), req.CorrelationID)
	}

	backfillNormalRanges(req.LabType, narrative.Breakdown)

	corrected := a.riskCorrector.CorrectRisk(narrative.Breakdown, narrative.Referrals, prediction.RiskAssessment)
	if corrected != prediction.RiskAssessment {
		log.WithFields(logrus.Fields{
			"raw_level":       prediction.Level,
			"raw_score":       prediction.Score,
			"corrected_level": corrected.Level,
			"corrected_score": corrected.Score,
		}).Info("Statistical prediction overridden by clinical findings")
	}
	a.publish(analysisID, domain.StageAnalyzed)

	record := &domain.AnalysisRecord{
		ID:               analysisID,
		LabType:          req.LabType,
		TextValidation:   textResult,
		ValuesValidation: valuesResult,
		RawRisk:          prediction.RiskAssessment,
		CorrectedRisk:    corrected,
		Breakdown:        narrative.Breakdown,
		Referrals:        narrative.Referrals,
		Narrative:        narrative.Narrative,
		OCRConfidence:    ocrResult.Confidence,
		ProcessingTimeMS: int(time.Since(start).Milliseconds()),
		CorrelationID:    req.CorrelationID,
		CreatedAt:        time.Now().UTC(),
	}

	if err := a.repo.Create(ctx, record); err != nil {
		log.WithError(err).Error("Failed to persist analysis")
		a.publish(analysisID, domain.StageFailed)
		return nil, domain.NewAPIError(domain.ErrDatabaseError,
			"Failed to store the analysis result", err.Error(), req.CorrelationID)
	}
	a.publish(analysisID, domain.StagePersisted)

	log.WithFields(logrus.Fields{
		"risk_level":         corrected.Level,
		"risk_score":         corrected.Score,
		"processing_time_ms": record.ProcessingTimeMS,
	}).Info("Report analysis completed")
	a.publish(analysisID, domain.StageResponded)

	return record, nil
}

// GetAnalysis returns a previously completed analysis by ID.
func (a *ReportAnalyzer) GetAnalysis(ctx context.Context, id string) (*domain.AnalysisRecord, error) {
	return a.repo.GetByID(ctx, id)
}

// DeleteAnalysis removes a persisted analysis, for retention cleanup or
// a user withdrawing an upload.
func (a *ReportAnalyzer) DeleteAnalysis(ctx context.Context, id string) error {
	if err := a.repo.Delete(ctx, id); err != nil {
		return err
	}
	a.logger.WithField("analysis_id", id).Info("Analysis deleted")
	return nil
}

// ListRecentAnalyses returns the most recent completed analyses.
func (a *ReportAnalyzer) ListRecentAnalyses(ctx context.Context, limit int) ([]*domain.AnalysisRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return a.repo.ListRecent(ctx, limit)
}

func (a *ReportAnalyzer) publish(analysisID string, stage domain.AnalysisStage) {
	if a.progress != nil {
		a.progress.Publish(analysisID, stage)
	}
}
