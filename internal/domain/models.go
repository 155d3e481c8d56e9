// Package domain contains core business entities and types for lab-report
// validation and risk assessment.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// LabType identifies one of the supported lab-report categories.
// The user declares the lab type before upload and it drives which
// validation rule set is used throughout the pipeline.
type LabType string

const (
	LabTypeCBC          LabType = "cbc"
	LabTypeUrinalysis   LabType = "urinalysis"
	LabTypeLipidProfile LabType = "lipid"
)

// Validation errors for medical data integrity
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidLabType   = errors.New("invalid lab type")
	ErrInvalidRiskLevel = errors.New("invalid risk level")
)

// AllLabTypes lists every supported lab type.
func AllLabTypes() []LabType {
	return []LabType{LabTypeCBC, LabTypeUrinalysis, LabTypeLipidProfile}
}

// ParseLabType normalizes and validates a declared lab type string.
// Accepted values are "cbc", "urinalysis" and "lipid", case-insensitive
// and trimmed. Anything else is rejected before validation runs.
func ParseLabType(s string) (LabType, error) {
	lt := LabType(strings.ToLower(strings.TrimSpace(s)))
	if !lt.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidLabType, s)
	}
	return lt, nil
}

// IsValid reports whether the LabType is one of the closed enumeration.
func (lt LabType) IsValid() bool {
	switch lt {
	case LabTypeCBC, LabTypeUrinalysis, LabTypeLipidProfile:
		return true
	default:
		return false
	}
}

// DisplayName returns the human-readable name of the lab type.
func (lt LabType) DisplayName() string {
	switch lt {
	case LabTypeCBC:
		return "Complete Blood Count"
	case LabTypeUrinalysis:
		return "Urinalysis"
	case LabTypeLipidProfile:
		return "Lipid Profile"
	default:
		return string(lt)
	}
}

// RiskLevel represents the overall health risk category. Levels are
// ordered: low < moderate < high.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
)

// IsValid reports whether the RiskLevel is one of the known categories.
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLow, RiskModerate, RiskHigh:
		return true
	default:
		return false
	}
}

// Rank returns the ordinal position of the risk level for comparisons.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskModerate:
		return 1
	case RiskHigh:
		return 2
	default:
		return -1
	}
}

// RiskAssessment is a risk level plus a 0-100 score. Two instances exist per
// analysis: the raw statistical prediction and the rule-corrected final
// assessment. The corrected values supersede the raw ones everywhere
// downstream; raw values are retained for audit.
type RiskAssessment struct {
	Level RiskLevel `json:"riskLevel"`
	Score int       `json:"riskScore"`
}

// ParameterStatus marks a single lab value against its normal range.
type ParameterStatus string

const (
	StatusNormal     ParameterStatus = "normal"
	StatusBorderline ParameterStatus = "borderline"
	StatusAbnormal   ParameterStatus = "abnormal"
)

// ReferralUrgency grades how quickly a specialist consultation is advised.
type ReferralUrgency string

const (
	UrgencyRoutine ReferralUrgency = "routine"
	UrgencySoon    ReferralUrgency = "soon"
	UrgencyUrgent  ReferralUrgency = "urgent"
)

// LabValueBreakdownEntry is one row of the per-parameter clinical breakdown
// produced by the narrative generation collaborator. Read-only input to
// risk reconciliation.
type LabValueBreakdownEntry struct {
	Parameter      string          `json:"parameter"`
	Value          string          `json:"value"`
	NormalRange    string          `json:"normalRange"`
	Status         ParameterStatus `json:"status"`
	Interpretation string          `json:"interpretation,omitempty"`
}

// SpecialistReferral is a suggested specialty consultation with urgency.
type SpecialistReferral struct {
	Type    string          `json:"type"`
	Reason  string          `json:"reason"`
	Urgency ReferralUrgency `json:"urgency"`
}

// ValidationResult is the output of both report classifiers. Reasons are
// human-readable explanations appended in evaluation order; the matched
// lists exist for audit and debugging. Results are created fresh per call
// and never mutated after being returned.
type ValidationResult struct {
	IsValid           bool     `json:"is_valid"`
	Confidence        float64  `json:"confidence"`
	Reasons           []string `json:"reasons"`
	MatchedKeywords   []string `json:"matched_keywords"`
	MatchedParameters []string `json:"matched_parameters"`
}

// ConfidenceTier buckets a [0,1] confidence score for display purposes.
func ConfidenceTier(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return "high"
	case confidence >= 0.5:
		return "medium"
	default:
		return "low"
	}
}

// AnalysisStage is one state of the upload-analysis pipeline.
type AnalysisStage string

const (
	StageReceived               AnalysisStage = "RECEIVED"
	StageTextValidated          AnalysisStage = "TEXT_VALIDATED"
	StageValuesValidated        AnalysisStage = "VALUES_VALIDATED"
	StageAnalyzed               AnalysisStage = "ANALYZED"
	StagePersisted              AnalysisStage = "PERSISTED"
	StageResponded              AnalysisStage = "RESPONDED"
	StageRejectedInvalidImage   AnalysisStage = "REJECTED_INVALID_IMAGE"
	StageRejectedMismatchedType AnalysisStage = "REJECTED_MISMATCHED_TYPE"
	StageFailed                 AnalysisStage = "FAILED"
)

// IsTerminal reports whether the stage ends the pipeline.
func (s AnalysisStage) IsTerminal() bool {
	switch s {
	case StageResponded, StageRejectedInvalidImage, StageRejectedMismatchedType, StageFailed:
		return true
	default:
		return false
	}
}

// OCRResult is the document OCR collaborator's output for one upload.
type OCRResult struct {
	Text         string              `json:"text"`
	Confidence   float64             `json:"confidence"`
	ParsedValues map[string]LabValue `json:"parsedValues"`
}

// RiskPrediction is the statistical risk collaborator's raw output.
type RiskPrediction struct {
	RiskAssessment
	Confidence    int                `json:"confidence"`
	Model         string             `json:"model"`
	Probabilities map[string]float64 `json:"probabilities,omitempty"`
}

// AnalysisNarrative is the narrative generation collaborator's output:
// the per-parameter breakdown, specialist referrals, and explanation text
// passed through unmodified to the response.
type AnalysisNarrative struct {
	Breakdown []LabValueBreakdownEntry `json:"labValueBreakdown"`
	Referrals []SpecialistReferral     `json:"specialistReferrals"`
	Narrative string                   `json:"narrativeText"`
}

// AnalysisRecord is the persisted result of one completed analysis.
type AnalysisRecord struct {
	ID               string                   `json:"id"`
	LabType          LabType                  `json:"lab_type"`
	TextValidation   *ValidationResult        `json:"text_validation"`
	ValuesValidation *ValidationResult        `json:"values_validation"`
	RawRisk          RiskAssessment           `json:"raw_risk"`
	CorrectedRisk    RiskAssessment           `json:"corrected_risk"`
	Breakdown        []LabValueBreakdownEntry `json:"breakdown"`
	Referrals        []SpecialistReferral     `json:"referrals"`
	Narrative        string                   `json:"narrative"`
	OCRConfidence    float64                  `json:"ocr_confidence"`
	ProcessingTimeMS int                      `json:"processing_time_ms"`
	CorrelationID    string                   `json:"correlation_id"`
	CreatedAt        time.Time                `json:"created_at"`
}
