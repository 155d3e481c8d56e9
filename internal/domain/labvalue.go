package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ValueKind discriminates the two shapes a parsed lab value can take.
type ValueKind int

const (
	// ValueNumeric is a measured quantity, e.g. hemoglobin 12.5.
	ValueNumeric ValueKind = iota
	// ValueText is a categorical result, e.g. urine protein "Negative".
	ValueText
)

// LabValue is a tagged union over the parsed values the OCR collaborator
// extracts. Values arrive from the wire as either JSON numbers or strings;
// numeric-looking strings are promoted to numeric so threshold comparisons
// have one checked conversion point instead of silent coercion.
type LabValue struct {
	Kind   ValueKind
	Number float64
	Text   string
}

// NumericValue constructs a numeric LabValue.
func NumericValue(n float64) LabValue {
	return LabValue{Kind: ValueNumeric, Number: n}
}

// TextValue constructs a categorical LabValue.
func TextValue(s string) LabValue {
	return LabValue{Kind: ValueText, Text: s}
}

// Float64 returns the numeric reading. Categorical results map the way the
// prediction service expects: "positive" and "trace" count as 1, everything
// else as 0; ok is false only when no usable value exists at all.
func (v LabValue) Float64() (value float64, ok bool) {
	switch v.Kind {
	case ValueNumeric:
		return v.Number, true
	case ValueText:
		switch strings.ToLower(strings.TrimSpace(v.Text)) {
		case "positive", "trace":
			return 1.0, true
		case "negative", "nil", "absent":
			return 0.0, true
		case "":
			return 0.0, false
		default:
			return 0.0, false
		}
	}
	return 0.0, false
}

// String renders the value for display and narrative prompts.
func (v LabValue) String() string {
	if v.Kind == ValueNumeric {
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	}
	return v.Text
}

// MarshalJSON emits numbers for numeric values and strings otherwise.
func (v LabValue) MarshalJSON() ([]byte, error) {
	if v.Kind == ValueNumeric {
		return json.Marshal(v.Number)
	}
	return json.Marshal(v.Text)
}

// UnmarshalJSON accepts JSON numbers, numeric strings (promoted to
// numeric), and arbitrary categorical strings.
func (v *LabValue) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*v = NumericValue(n)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("lab value must be a number or string: %w", err)
	}
	if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		*v = NumericValue(n)
		return nil
	}
	*v = TextValue(s)
	return nil
}
