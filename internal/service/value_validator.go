package service

import (
	"fmt"
	"strings"

	"github.com/mediscan/analysis-server/internal/domain"
)

// ValueValidator checks structured key/value pairs parsed from a report
// against the parameters expected for the declared lab type. Like the text
// classifier it is pure and never fails.
type ValueValidator struct {
	rules map[domain.LabType]*ValidationRuleSet
}

// NewValueValidator creates a structured value classifier over the static
// validation rule tables.
func NewValueValidator() *ValueValidator {
	return &ValueValidator{rules: validationRules}
}

// ValidateParsedValues decides whether a parsed value map plausibly came
// from a report of the declared lab type. Keys are matched case-insensitively
// against the expected parameter names: either the expected name is a
// substring of the key, or every word of the expected name appears somewhere
// in the key (so "red_cell_count" matches "red cell" and "hemoglobin_level"
// matches "hemoglobin").
func (v *ValueValidator) ValidateParsedValues(values map[string]domain.LabValue, labType domain.LabType) *domain.ValidationResult {
	result := &domain.ValidationResult{
		Reasons:           []string{},
		MatchedKeywords:   []string{},
		MatchedParameters: []string{},
	}

	rules, ok := v.rules[labType]
	if !ok {
		result.Reasons = append(result.Reasons, fmt.Sprintf("No validation rules defined for lab type %q", labType))
		return result
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, strings.ToLower(key))
	}

	for _, param := range rules.ExpectedParameters {
		for _, key := range keys {
			if matchesParameter(key, param) {
				result.MatchedParameters = append(result.MatchedParameters, param)
				break
			}
		}
	}

	matched := len(result.MatchedParameters)
	confidence := float64(matched) / float64(rules.MinimumParameterMatches)
	if confidence > 1.0 {
		confidence = 1.0
	}
	result.Confidence = confidence
	result.IsValid = matched >= rules.MinimumParameterMatches

	if result.IsValid {
		result.Reasons = append(result.Reasons, fmt.Sprintf(
			"Parsed values contain %d parameters expected in a %s report", matched, labType))
	} else {
		result.Reasons = append(result.Reasons, fmt.Sprintf(
			"Parsed values contain only %d of the %d parameters required for a %s report",
			matched, rules.MinimumParameterMatches, labType))
	}

	return result
}

func matchesParameter(key, param string) bool {
	if strings.Contains(key, param) {
		return true
	}
	for _, word := range strings.Fields(param) {
		if !strings.Contains(key, word) {
			return false
		}
	}
	return true
}
