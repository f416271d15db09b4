package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfiguration is matched by every error returned from Resolve.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// ValidationError represents one configuration problem.
type ValidationError struct {
	Field   string `json:"field" yaml:"field"`
	Message string `json:"message" yaml:"message"`
	Value   any    `json:"value,omitempty" yaml:"value,omitempty"`
}

// Error implements the error interface
func (ve *ValidationError) Error() string {
	if ve.Field != "" {
		return fmt.Sprintf("%s: %s", ve.Field, ve.Message)
	}
	return ve.Message
}

// ValidationResult collects every problem found before an analysis starts.
type ValidationResult struct {
	Valid    bool               `json:"valid" yaml:"valid"`
	Errors   []*ValidationError `json:"errors,omitempty" yaml:"errors,omitempty"`
	Warnings []string           `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

func newResult() *ValidationResult {
	return &ValidationResult{Valid: true}
}

// AddError adds a validation error
func (vr *ValidationResult) AddError(field, message string, value any) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	})
}

// AddWarning records a problem that does not stop the analysis.
func (vr *ValidationResult) AddWarning(format string, args ...any) {
	vr.Warnings = append(vr.Warnings, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// ToError returns nil for a valid result, otherwise an *InvalidError.
func (vr *ValidationResult) ToError() error {
	if !vr.HasErrors() {
		return nil
	}
	return &InvalidError{Result: vr}
}

// InvalidError carries the failed validation result.
type InvalidError struct {
	Result *ValidationResult
}

func (e *InvalidError) Error() string {
	messages := make([]string, len(e.Result.Errors))
	for i, err := range e.Result.Errors {
		messages[i] = err.Error()
	}
	return fmt.Sprintf("%s: %s", ErrInvalidConfiguration, strings.Join(messages, "; "))
}

func (e *InvalidError) Unwrap() error {
	return ErrInvalidConfiguration
}
