package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIErrorError(t *testing.T) {
	err := NewAPIError(ErrExternalAPI, "prediction service unavailable", "", "req-1")
	assert.Equal(t, "EXTERNAL_API_ERROR: prediction service unavailable", err.Error())
	assert.False(t, err.Timestamp.IsZero())
}

func TestValidationErrorError(t *testing.T) {
	err := NewValidationError("lab_type", "lab type is required", "")
	assert.Contains(t, err.Error(), "lab_type")
	assert.Contains(t, err.Error(), "lab type is required")
}

func TestNewRejectionError(t *testing.T) {
	result := &ValidationResult{
		IsValid:    false,
		Confidence: 0.2,
		Reasons:    []string{"Missing required keywords for cbc report"},
	}

	rej := NewRejectionError(ErrInvalidLabImage, "The uploaded image does not appear to be a cbc report",
		LabTypeCBC, result, []string{"Upload a clearer photo of the full report"})

	assert.Equal(t, ErrInvalidLabImage, rej.Code)
	assert.Equal(t, LabTypeCBC, rej.Details.SelectedLabType)
	assert.Equal(t, "low", rej.Details.ConfidenceTier)
	assert.Equal(t, 20, rej.Details.Confidence)
	assert.Equal(t, result.Reasons, rej.Details.Reasons)
	assert.Len(t, rej.Details.Suggestions, 1)
	assert.Equal(t, "INVALID_LAB_IMAGE: The uploaded image does not appear to be a cbc report", rej.Error())
}

func TestRejectionTiers(t *testing.T) {
	tests := []struct {
		confidence float64
		tier       string
		percent    int
	}{
		{0.85, "high", 85},
		{0.5, "medium", 50},
		{0.2, "low", 20},
	}

	for _, tt := range tests {
		rej := NewRejectionError(ErrMismatchedLabType, "mismatch", LabTypeUrinalysis,
			&ValidationResult{Confidence: tt.confidence}, nil)
		assert.Equal(t, tt.tier, rej.Details.ConfidenceTier)
		assert.Equal(t, tt.percent, rej.Details.Confidence)
	}
}
