package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediscan/analysis-server/internal/domain"
)

func TestRuleSetFor_AllLabTypesCovered(t *testing.T) {
	for _, labType := range domain.AllLabTypes() {
		rules, err := RuleSetFor(labType)
		require.NoError(t, err, labType)
		require.NotNil(t, rules, labType)
		assert.NotEmpty(t, rules.RequiredKeywords, labType)
		assert.NotEmpty(t, rules.ExpectedParameters, labType)
		assert.NotEmpty(t, rules.CommonPatterns, labType)
	}
}

func TestRuleSetFor_UnknownType(t *testing.T) {
	_, err := RuleSetFor(domain.LabType("xray"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidLabType)
}

// The minimum match count must be satisfiable by the parameter list,
// otherwise a lab type could never validate.
func TestRuleSets_MinimumMatchesSatisfiable(t *testing.T) {
	for labType, rules := range validationRules {
		assert.Greater(t, rules.MinimumParameterMatches, 0, labType)
		assert.LessOrEqual(t, rules.MinimumParameterMatches, len(rules.ExpectedParameters), labType)
	}
}

// Rule-table phrases are matched against lowercased text, so they must be
// stored lowercase.
func TestRuleSets_PhrasesAreLowercase(t *testing.T) {
	for labType, rules := range validationRules {
		for _, kw := range rules.RequiredKeywords {
			assert.Equal(t, strings.ToLower(kw), kw, "keyword for %s", labType)
		}
		for _, param := range rules.ExpectedParameters {
			assert.Equal(t, strings.ToLower(param), param, "parameter for %s", labType)
		}
	}
}

func TestReferenceRanges(t *testing.T) {
	for _, labType := range domain.AllLabTypes() {
		assert.NotEmpty(t, ReferenceRangesFor(labType), labType)
	}

	display := referenceRangeDisplay(domain.LabTypeCBC, "hemoglobin")
	assert.Equal(t, "12-17.5 g/dL", display)

	// Parameter names from the narrative service may carry casing or padding.
	assert.Equal(t, "12-17.5 g/dL", referenceRangeDisplay(domain.LabTypeCBC, " Hemoglobin "))

	assert.Empty(t, referenceRangeDisplay(domain.LabTypeCBC, "unknown"))
}

func TestBackfillNormalRanges(t *testing.T) {
	breakdown := []domain.LabValueBreakdownEntry{
		{Parameter: "hdl", Status: domain.StatusNormal},
		{Parameter: "ldl", NormalRange: "40-120 mg/dL", Status: domain.StatusBorderline},
		{Parameter: "apolipoprotein b", Status: domain.StatusNormal},
	}

	backfillNormalRanges(domain.LabTypeLipidProfile, breakdown)

	assert.Equal(t, "50-90 mg/dL", breakdown[0].NormalRange)
	assert.Equal(t, "40-120 mg/dL", breakdown[1].NormalRange)
	assert.Empty(t, breakdown[2].NormalRange)
}
