package service

import (
	"fmt"
	"strings"

	"github.com/mediscan/analysis-server/internal/domain"
)

// TextValidator scores raw OCR text against a declared lab type using
// keyword and pattern matching. It is pure: diagnostics are returned in the
// ValidationResult rather than logged, and it never fails - a non-match is
// a business-logic rejection, not an error.
type TextValidator struct {
	rules map[domain.LabType]*ValidationRuleSet
}

// NewTextValidator creates a text plausibility classifier over the static
// validation rule tables.
func NewTextValidator() *TextValidator {
	return &TextValidator{rules: validationRules}
}

// ValidateReportText decides whether OCR-extracted text plausibly matches
// the declared lab type. Text may be empty or noisy; the result explains
// every contributing factor in evaluation order.
func (v *TextValidator) ValidateReportText(text string, labType domain.LabType) *domain.ValidationResult {
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

	lower := strings.ToLower(text)

	hasGenericIndicators := false
	for _, indicator := range genericIndicators {
		if strings.Contains(lower, indicator) {
			hasGenericIndicators = true
			break
		}
	}

	for _, keyword := range rules.RequiredKeywords {
		if strings.Contains(lower, keyword) {
			result.MatchedKeywords = append(result.MatchedKeywords, keyword)
		}
	}

	// Parameter matching runs before the keyword decision: the urinalysis
	// leniency below depends on the parameter count.
	for _, param := range rules.ExpectedParameters {
		if strings.Contains(lower, param) {
			result.MatchedParameters = append(result.MatchedParameters, param)
		}
	}

	// OCR frequently misses a urinalysis header while still capturing its
	// tabular values, so a strong parameter signal stands in for keywords.
	hasRequiredKeywords := len(result.MatchedKeywords) >= 2
	if !hasRequiredKeywords && labType == domain.LabTypeUrinalysis &&
		len(result.MatchedParameters) >= rules.MinimumParameterMatches {
		hasRequiredKeywords = true
	}

	hasEnoughParameters := len(result.MatchedParameters) >= rules.MinimumParameterMatches

	hasExpectedPatterns := false
	for _, pattern := range rules.CommonPatterns {
		if pattern.MatchString(text) {
			hasExpectedPatterns = true
			break
		}
	}

	confidence := 0.0
	if hasGenericIndicators {
		confidence += 0.2
	}
	if hasRequiredKeywords {
		confidence += 0.3
	}
	if hasEnoughParameters {
		confidence += 0.3
	}
	if hasExpectedPatterns {
		confidence += 0.2
	}
	if labType == domain.LabTypeUrinalysis &&
		len(result.MatchedParameters) > rules.MinimumParameterMatches+2 {
		confidence += 0.1
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	result.Confidence = confidence

	result.IsValid = hasGenericIndicators && hasRequiredKeywords && hasEnoughParameters

	if !hasGenericIndicators {
		result.Reasons = append(result.Reasons,
			"Text does not contain generic medical document indicators")
	}
	if !hasRequiredKeywords {
		result.Reasons = append(result.Reasons, fmt.Sprintf(
			"Found %d of %d required keywords for a %s report (need at least 2)",
			len(result.MatchedKeywords), len(rules.RequiredKeywords), labType))
	}
	if !hasEnoughParameters {
		result.Reasons = append(result.Reasons, fmt.Sprintf(
			"Found %d of %d expected parameters (need at least %d)",
			len(result.MatchedParameters), len(rules.ExpectedParameters), rules.MinimumParameterMatches))
	}
	if !hasExpectedPatterns {
		result.Reasons = append(result.Reasons, fmt.Sprintf(
			"Text does not contain value formats typical of a %s report", labType))
	}
	if result.IsValid {
		result.Reasons = append(result.Reasons, fmt.Sprintf(
			"Text matches the expected structure of a %s report", labType))
	}

	return result
}
