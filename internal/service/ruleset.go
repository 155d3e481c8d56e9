package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mediscan/analysis-server/internal/domain"
)

// ValidationRuleSet holds the static validation rules for one lab type.
// Rule sets are defined at process start and never mutated.
type ValidationRuleSet struct {
	// RequiredKeywords are case-insensitive phrases that should appear in
	// plausible report text for this type.
	RequiredKeywords []string

	// ExpectedParameters are parameter name variants (synonyms) expected in
	// a correctly-typed report. Stored lowercase.
	ExpectedParameters []string

	// MinimumParameterMatches is the minimum count of distinct expected
	// parameters that must be found for a report to be structurally valid.
	MinimumParameterMatches int

	// CommonPatterns capture typical numeric/unit formats for this lab type.
	CommonPatterns []*regexp.Regexp
}

// genericIndicators are cross-type phrases whose presence suggests the text
// came from some medical document at all. Their absence is recorded as a
// reason but does not by itself invalidate.
var genericIndicators = []string{
	"laboratory",
	"patient",
	"specimen",
	"reference range",
	"report",
	"result",
	"clinic",
	"hospital",
	"blood",
	"urine",
}

// validationRules maps each lab type to its rule set. Adding a lab type
// means adding one entry here, not touching classifier logic.
var validationRules = map[domain.LabType]*ValidationRuleSet{
	domain.LabTypeCBC: {
		RequiredKeywords: []string{
			"complete blood count",
			"cbc",
			"hematology",
			"blood count",
			"differential count",
		},
		ExpectedParameters: []string{
			"hemoglobin",
			"hematocrit",
			"wbc",
			"white blood cell",
			"rbc",
			"red blood cell",
			"red cell",
			"platelet",
			"mcv",
			"mch",
			"mchc",
			"neutrophil",
			"lymphocyte",
			"monocyte",
			"eosinophil",
		},
		MinimumParameterMatches: 4,
		CommonPatterns: []*regexp.Regexp{
			regexp.MustCompile(`\d+\.?\d*\s*g/d[lL]`),
			regexp.MustCompile(`\d+\.?\d*\s*(x\s?10|×\s?10|10\^)`),
			regexp.MustCompile(`\d+\.?\d*\s*f[lL]`),
			regexp.MustCompile(`\d+\.?\d*\s*%`),
		},
	},
	domain.LabTypeUrinalysis: {
		RequiredKeywords: []string{
			"urinalysis",
			"urine analysis",
			"urine examination",
			"urine test",
			"microscopic examination",
		},
		ExpectedParameters: []string{
			"color",
			"appearance",
			"specific gravity",
			"ph",
			"protein",
			"glucose",
			"ketone",
			"bilirubin",
			"urobilinogen",
			"nitrite",
			"leukocyte",
			"epithelial",
			"bacteria",
			"pus cells",
		},
		MinimumParameterMatches: 5,
		CommonPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(negative|positive|trace)\b`),
			regexp.MustCompile(`1\.\d{3}`),
			regexp.MustCompile(`(?i)ph\s*:?\s*\d`),
			regexp.MustCompile(`/hpf`),
		},
	},
	domain.LabTypeLipidProfile: {
		RequiredKeywords: []string{
			"lipid profile",
			"lipid panel",
			"cholesterol",
			"lipids",
		},
		ExpectedParameters: []string{
			"total cholesterol",
			"hdl",
			"ldl",
			"vldl",
			"triglyceride",
			"non-hdl",
			"cholesterol ratio",
		},
		MinimumParameterMatches: 3,
		CommonPatterns: []*regexp.Regexp{
			regexp.MustCompile(`\d+\.?\d*\s*mg/d[lL]`),
			regexp.MustCompile(`\d+\.?\d*\s*mmol/[lL]`),
		},
	},
}

// RuleSetFor returns the validation rule set for a lab type.
func RuleSetFor(labType domain.LabType) (*ValidationRuleSet, error) {
	rules, ok := validationRules[labType]
	if !ok {
		return nil, fmt.Errorf("no validation rules for lab type %q: %w", labType, domain.ErrInvalidLabType)
	}
	return rules, nil
}

// ReferenceRange is a medical normal range for one parameter, used for
// display and to backfill breakdown rows the narrative service leaves blank.
type ReferenceRange struct {
	Parameter string  `json:"parameter"`
	Low       float64 `json:"low"`
	High      float64 `json:"high"`
	Unit      string  `json:"unit"`
}

// Display renders the range the way reports print it.
func (r ReferenceRange) Display() string {
	return fmt.Sprintf("%g-%g %s", r.Low, r.High, r.Unit)
}

// referenceRanges holds adult normal ranges per lab type, following
// standard clinical guidelines.
var referenceRanges = map[domain.LabType][]ReferenceRange{
	domain.LabTypeCBC: {
		{Parameter: "wbc", Low: 4.5, High: 11.0, Unit: "x10^9/L"},
		{Parameter: "rbc", Low: 4.2, High: 5.9, Unit: "x10^12/L"},
		{Parameter: "hemoglobin", Low: 12.0, High: 17.5, Unit: "g/dL"},
		{Parameter: "hematocrit", Low: 36.0, High: 52.0, Unit: "%"},
		{Parameter: "platelets", Low: 150, High: 400, Unit: "x10^9/L"},
	},
	domain.LabTypeUrinalysis: {
		{Parameter: "ph", Low: 4.5, High: 8.0, Unit: ""},
		{Parameter: "specific gravity", Low: 1.005, High: 1.030, Unit: ""},
		{Parameter: "protein", Low: 0, High: 0, Unit: "negative"},
		{Parameter: "glucose", Low: 0, High: 0, Unit: "negative"},
	},
	domain.LabTypeLipidProfile: {
		{Parameter: "cholesterol", Low: 125, High: 200, Unit: "mg/dL"},
		{Parameter: "hdl", Low: 50, High: 90, Unit: "mg/dL"},
		{Parameter: "ldl", Low: 50, High: 130, Unit: "mg/dL"},
		{Parameter: "triglycerides", Low: 50, High: 150, Unit: "mg/dL"},
	},
}

// ReferenceRangesFor returns the normal-range table for a lab type.
func ReferenceRangesFor(labType domain.LabType) []ReferenceRange {
	return referenceRanges[labType]
}

// referenceRangeDisplay looks up the printed range for a parameter name, or
// returns empty when the parameter has no tabled range.
func referenceRangeDisplay(labType domain.LabType, parameter string) string {
	name := strings.ToLower(strings.TrimSpace(parameter))
	for _, r := range referenceRanges[labType] {
		if r.Parameter == name {
			return r.Display()
		}
	}
	return ""
}

// backfillNormalRanges fills in the NormalRange of breakdown rows the
// narrative service left blank, using the tabled ranges. Rows without a
// tabled range stay blank.
func backfillNormalRanges(labType domain.LabType, breakdown []domain.LabValueBreakdownEntry) {
	for i := range breakdown {
		if breakdown[i].NormalRange == "" {
			breakdown[i].NormalRange = referenceRangeDisplay(labType, breakdown[i].Parameter)
		}
	}
}
