package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediscan/analysis-server/internal/domain"
)

func TestValueValidator_SubstringAndWordMatching(t *testing.T) {
	validator := NewValueValidator()

	tests := []struct {
		name    string
		key     string
		matched string
	}{
		{"substring match on suffixed key", "hemoglobin_level", "hemoglobin"},
		{"word match across separators", "red_cell_count", "red cell"},
		{"word match without separators", "redcell", "red cell"},
		{"substring match on plain key", "platelet", "platelet"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := map[string]domain.LabValue{
				tt.key: domain.NumericValue(1),
			}
			result := validator.ValidateParsedValues(values, domain.LabTypeCBC)
			assert.Contains(t, result.MatchedParameters, tt.matched)
		})
	}
}

func TestValueValidator_RedBloodCellRequiresAllWords(t *testing.T) {
	validator := NewValueValidator()

	// "red_cell_count" lacks the word "blood", so it must match the
	// "red cell" variant but not "red blood cell".
	values := map[string]domain.LabValue{
		"red_cell_count": domain.NumericValue(4.8),
	}
	result := validator.ValidateParsedValues(values, domain.LabTypeCBC)

	assert.Contains(t, result.MatchedParameters, "red cell")
	assert.NotContains(t, result.MatchedParameters, "red blood cell")
}

func TestValueValidator_CBCValues(t *testing.T) {
	validator := NewValueValidator()

	values := map[string]domain.LabValue{
		"hemoglobin_level": domain.NumericValue(12.5),
		"wbc_count":        domain.NumericValue(6.2),
		"platelet_count":   domain.NumericValue(250),
		"hematocrit":       domain.NumericValue(41),
	}
	result := validator.ValidateParsedValues(values, domain.LabTypeCBC)

	require.True(t, result.IsValid)
	assert.Equal(t, 1.0, result.Confidence)
	assert.Empty(t, result.MatchedKeywords)
}

func TestValueValidator_MismatchedType(t *testing.T) {
	validator := NewValueValidator()

	// Lipid panel values uploaded as a CBC.
	values := map[string]domain.LabValue{
		"total_cholesterol": domain.NumericValue(180),
		"triglycerides":     domain.NumericValue(140),
		"hdl_cholesterol":   domain.NumericValue(55),
	}
	result := validator.ValidateParsedValues(values, domain.LabTypeCBC)

	assert.False(t, result.IsValid)
	assert.Equal(t, 0.0, result.Confidence)
	assert.Empty(t, result.MatchedParameters)
}

func TestValueValidator_PartialMatchConfidence(t *testing.T) {
	validator := NewValueValidator()

	// Two of the four required CBC parameters: confidence 2/4.
	values := map[string]domain.LabValue{
		"hemoglobin": domain.NumericValue(12.5),
		"wbc":        domain.NumericValue(6.2),
	}
	result := validator.ValidateParsedValues(values, domain.LabTypeCBC)

	assert.False(t, result.IsValid)
	assert.InDelta(t, 0.5, result.Confidence, 1e-9)
}

func TestValueValidator_TextValuesCount(t *testing.T) {
	validator := NewValueValidator()

	// Matching is by key only, so categorical string values count equally.
	values := map[string]domain.LabValue{
		"color":            domain.TextValue("yellow"),
		"appearance":       domain.TextValue("clear"),
		"specific_gravity": domain.NumericValue(1.020),
		"protein":          domain.TextValue("negative"),
		"glucose":          domain.TextValue("negative"),
	}
	result := validator.ValidateParsedValues(values, domain.LabTypeUrinalysis)

	assert.True(t, result.IsValid)
}

func TestValueValidator_EmptyValues(t *testing.T) {
	validator := NewValueValidator()

	result := validator.ValidateParsedValues(map[string]domain.LabValue{}, domain.LabTypeUrinalysis)

	assert.False(t, result.IsValid)
	assert.Equal(t, 0.0, result.Confidence)
}
