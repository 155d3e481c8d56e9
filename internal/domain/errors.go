package domain

import (
	"fmt"
	"time"
)

// APIError represents a standardized error response
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrInvalidInput      = "INVALID_INPUT"
	ErrInvalidLabImage   = "INVALID_LAB_IMAGE"
	ErrMismatchedLabType = "MISMATCHED_LAB_TYPE"
	ErrDatabaseError     = "DATABASE_ERROR"
	ErrExternalAPI       = "EXTERNAL_API_ERROR"
	ErrInternalServer    = "INTERNAL_SERVER_ERROR"
	ErrValidation        = "VALIDATION_ERROR"
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// RejectionDetails is the structured detail payload returned when a
// classifier rejects an upload.
type RejectionDetails struct {
	SelectedLabType LabType  `json:"selectedLabType"`
	ConfidenceTier  string   `json:"confidenceTier"`
	Confidence      int      `json:"confidence"`
	Reasons         []string `json:"reasons"`
	Suggestions     []string `json:"suggestions"`
}

// RejectionError is a business-logic rejection from one of the report
// classifiers. It short-circuits the pipeline before costly downstream
// collaborator calls; it is not a system fault.
type RejectionError struct {
	Code    string           `json:"code"`
	Message string           `json:"message"`
	Details RejectionDetails `json:"details"`
}

// Error implements the error interface
func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewRejectionError builds a RejectionError from a classifier result.
func NewRejectionError(code, message string, labType LabType, result *ValidationResult, suggestions []string) *RejectionError {
	return &RejectionError{
		Code:    code,
		Message: message,
		Details: RejectionDetails{
			SelectedLabType: labType,
			ConfidenceTier:  ConfidenceTier(result.Confidence),
			Confidence:      int(result.Confidence * 100),
			Reasons:         result.Reasons,
			Suggestions:     suggestions,
		},
	}
}
