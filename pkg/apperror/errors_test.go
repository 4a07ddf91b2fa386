// Package apperror provides tests for the custom error types and utility functions.
package apperror

import (
	"errors"
	"net/http"
	"testing"
)

// TestError_Error verifies that the Error() method returns the correct string format.
func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "without field",
			err:      New(CodeValidation, "pdf_url is invalid"),
			expected: "[VALIDATION] pdf_url is invalid",
		},
		{
			name:     "with field",
			err:      NewWithField(CodeValidation, "territory_id is required", "territory_id"),
			expected: "[VALIDATION] territory_id is required (field: territory_id)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %v, want %v", got, tt.expected)
			}
		})
	}
}

// TestError_Unwrap verifies that the Unwrap() method correctly returns the underlying cause.
func TestError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(cause, CodeWorkerInternal, "wrapped error")

	if unwrapped := err.Unwrap(); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}
}

// TestError_HTTPStatus verifies that HTTPStatus() maps ErrorCodes to the correct status.
func TestError_HTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		code     ErrorCode
		expected int
	}{
		{"validation", CodeValidation, http.StatusBadRequest},
		{"configuration", CodeConfiguration, http.StatusBadRequest},
		{"not found", CodeNotFound, http.StatusNotFound},
		{"timeout", CodeTimeout, http.StatusGatewayTimeout},
		{"external api", CodeExternalAPI, http.StatusBadGateway},
		{"storage", CodeStorage, http.StatusInternalServerError},
		{"queue", CodeQueue, http.StatusInternalServerError},
		{"worker internal", CodeWorkerInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "test message")
			if got := err.HTTPStatus(); got != tt.expected {
				t.Errorf("HTTPStatus() = %v, want %v", got, tt.expected)
			}
		})
	}
}

// TestNew verifies the New function correctly initializes an Error.
func TestNew(t *testing.T) {
	err := New(CodeNotFound, "gazette not found")

	if err.Code != CodeNotFound {
		t.Errorf("Code = %v, want %v", err.Code, CodeNotFound)
	}
	if err.Message != "gazette not found" {
		t.Errorf("Message = %v, want %v", err.Message, "gazette not found")
	}
	if err.Severity != SeverityError {
		t.Errorf("Severity = %v, want %v", err.Severity, SeverityError)
	}
}

// TestNewWarning verifies the NewWarning function correctly initializes an Error with SeverityWarning.
func TestNewWarning(t *testing.T) {
	err := NewWarning(CodeValidation, "low confidence finding")

	if err.Severity != SeverityWarning {
		t.Errorf("Severity = %v, want %v", err.Severity, SeverityWarning)
	}
}

// TestNewCritical verifies the NewCritical function correctly initializes an Error with SeverityCritical.
func TestNewCritical(t *testing.T) {
	err := NewCritical(CodeStorage, "database connection pool exhausted")

	if err.Severity != SeverityCritical {
		t.Errorf("Severity = %v, want %v", err.Severity, SeverityCritical)
	}
}

// TestDefaultRetryable verifies the default Retryable flag assigned by New per code.
func TestDefaultRetryable(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		expected bool
	}{
		{CodeExternalAPI, true},
		{CodeStorage, true},
		{CodeTimeout, true},
		{CodeQueue, true},
		{CodeValidation, false},
		{CodeConfiguration, false},
		{CodeNotFound, false},
		{CodeWorkerInternal, false},
	}

	for _, tt := range tests {
		err := New(tt.code, "test")
		if err.Retryable != tt.expected {
			t.Errorf("New(%v).Retryable = %v, want %v", tt.code, err.Retryable, tt.expected)
		}
	}
}

// TestWithDetails verifies that WithDetails adds key-value pairs to the error's details map.
func TestWithDetails(t *testing.T) {
	err := New(CodeValidation, "invalid").
		WithDetails("territory_id", "4205902").
		WithDetails("attempt", 2)

	if err.Details["territory_id"] != "4205902" {
		t.Errorf("Details[territory_id] = %v, want 4205902", err.Details["territory_id"])
	}
	if err.Details["attempt"] != 2 {
		t.Errorf("Details[attempt] = %v, want 2", err.Details["attempt"])
	}
}

// TestWithField verifies that WithField sets the field of the error.
func TestWithField(t *testing.T) {
	err := New(CodeValidation, "invalid source").WithField("pdf_url")

	if err.Field != "pdf_url" {
		t.Errorf("Field = %v, want pdf_url", err.Field)
	}
}

// TestWithSeverity verifies that WithSeverity sets the severity level of the error.
func TestWithSeverity(t *testing.T) {
	err := New(CodeStorage, "invalid").WithSeverity(SeverityCritical)

	if err.Severity != SeverityCritical {
		t.Errorf("Severity = %v, want %v", err.Severity, SeverityCritical)
	}
}

// TestWithRetryable verifies that WithRetryable overrides the default decision.
func TestWithRetryable(t *testing.T) {
	err := New(CodeValidation, "invalid").WithRetryable(true)
	if !err.Retryable {
		t.Error("expected Retryable to be true after WithRetryable(true)")
	}
}

// TestIs verifies the Is function correctly identifies errors by their ErrorCode.
func TestIs(t *testing.T) {
	err := New(CodeNotFound, "gazette not found")

	if !Is(err, CodeNotFound) {
		t.Error("Is() should return true for matching code")
	}
	if Is(err, CodeValidation) {
		t.Error("Is() should return false for non-matching code")
	}
	if Is(errors.New("regular error"), CodeNotFound) {
		t.Error("Is() should return false for non-Error")
	}
}

// TestCode verifies the Code function correctly extracts the ErrorCode.
func TestCode(t *testing.T) {
	err := New(CodeQueue, "claim failed")

	if Code(err) != CodeQueue {
		t.Errorf("Code() = %v, want %v", Code(err), CodeQueue)
	}

	regularErr := errors.New("regular error")
	if Code(regularErr) != CodeWorkerInternal {
		t.Errorf("Code() for regular error = %v, want %v", Code(regularErr), CodeWorkerInternal)
	}
}

// TestIsRetryable verifies the IsRetryable helper used by stage consumers.
func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("IsRetryable(nil) should be false")
	}
	if !IsRetryable(New(CodeExternalAPI, "ocr provider timed out")) {
		t.Error("external api errors should default to retryable")
	}
	if IsRetryable(New(CodeValidation, "bad request")) {
		t.Error("validation errors should default to non-retryable")
	}
	if !IsRetryable(errors.New("unclassified error")) {
		t.Error("unclassified errors should be treated as retryable")
	}
}

// TestHTTPStatusHelper verifies the package-level HTTPStatus helper.
func TestHTTPStatusHelper(t *testing.T) {
	if got := HTTPStatus(New(CodeNotFound, "missing")); got != http.StatusNotFound {
		t.Errorf("HTTPStatus() = %v, want %v", got, http.StatusNotFound)
	}
	if got := HTTPStatus(errors.New("plain")); got != http.StatusInternalServerError {
		t.Errorf("HTTPStatus() for plain error = %v, want %v", got, http.StatusInternalServerError)
	}
}

// TestIsWarning verifies the IsWarning function correctly identifies warning errors.
func TestIsWarning(t *testing.T) {
	warning := NewWarning(CodeValidation, "low confidence")
	err := New(CodeValidation, "invalid")

	if !IsWarning(warning) {
		t.Error("IsWarning() should return true for warning")
	}
	if IsWarning(err) {
		t.Error("IsWarning() should return false for error")
	}
}

// TestIsCritical verifies the IsCritical function correctly identifies critical errors.
func TestIsCritical(t *testing.T) {
	critical := NewCritical(CodeStorage, "critical")
	err := New(CodeValidation, "invalid")

	if !IsCritical(critical) {
		t.Error("IsCritical() should return true for critical")
	}
	if IsCritical(err) {
		t.Error("IsCritical() should return false for error")
	}
}

// TestSeverity_String verifies the String method of Severity returns the correct string representation.
func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		expected string
	}{
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.severity.String(); got != tt.expected {
			t.Errorf("Severity.String() = %v, want %v", got, tt.expected)
		}
	}
}

// TestValidationErrors verifies the functionality of the ValidationErrors collection.
func TestValidationErrors(t *testing.T) {
	t.Run("new validation errors", func(t *testing.T) {
		ve := NewValidationErrors()
		if ve.HasErrors() {
			t.Error("new ValidationErrors should not have errors")
		}
		if ve.HasWarnings() {
			t.Error("new ValidationErrors should not have warnings")
		}
		if !ve.IsValid() {
			t.Error("new ValidationErrors should be valid")
		}
	})

	t.Run("add error", func(t *testing.T) {
		ve := NewValidationErrors()
		ve.AddError(CodeValidation, "invalid batch")

		if !ve.HasErrors() {
			t.Error("should have errors")
		}
		if ve.IsValid() {
			t.Error("should not be valid")
		}
		if len(ve.Errors) != 1 {
			t.Errorf("errors count = %d, want 1", len(ve.Errors))
		}
	})

	t.Run("add warning", func(t *testing.T) {
		ve := NewValidationErrors()
		ve.AddWarning(CodeValidation, "deprecated field used")

		if !ve.HasWarnings() {
			t.Error("should have warnings")
		}
		if !ve.IsValid() {
			t.Error("should be valid (warnings don't affect validity)")
		}
	})

	t.Run("add error with field", func(t *testing.T) {
		ve := NewValidationErrors()
		ve.AddErrorWithField(CodeValidation, "invalid", "spider_id")

		if ve.Errors[0].Field != "spider_id" {
			t.Errorf("Field = %v, want spider_id", ve.Errors[0].Field)
		}
	})

	t.Run("add via Add method", func(t *testing.T) {
		ve := NewValidationErrors()
		ve.Add(NewWarning(CodeValidation, "warning"))
		ve.Add(New(CodeValidation, "error"))

		if len(ve.Warnings) != 1 {
			t.Errorf("warnings count = %d, want 1", len(ve.Warnings))
		}
		if len(ve.Errors) != 1 {
			t.Errorf("errors count = %d, want 1", len(ve.Errors))
		}
	})

	t.Run("merge", func(t *testing.T) {
		ve1 := NewValidationErrors()
		ve1.AddError(CodeValidation, "error1")

		ve2 := NewValidationErrors()
		ve2.AddError(CodeValidation, "error2")
		ve2.AddWarning(CodeValidation, "warning")

		ve1.Merge(ve2)

		if len(ve1.Errors) != 2 {
			t.Errorf("errors count = %d, want 2", len(ve1.Errors))
		}
		if len(ve1.Warnings) != 1 {
			t.Errorf("warnings count = %d, want 1", len(ve1.Warnings))
		}
	})

	t.Run("merge nil", func(t *testing.T) {
		ve := NewValidationErrors()
		ve.Merge(nil) // should not panic
	})

	t.Run("error messages", func(t *testing.T) {
		ve := NewValidationErrors()
		ve.AddError(CodeValidation, "error1")
		ve.AddError(CodeValidation, "error2")

		messages := ve.ErrorMessages()
		if len(messages) != 2 {
			t.Errorf("messages count = %d, want 2", len(messages))
		}
	})

	t.Run("warning messages", func(t *testing.T) {
		ve := NewValidationErrors()
		ve.AddWarning(CodeValidation, "warning1")

		messages := ve.WarningMessages()
		if len(messages) != 1 {
			t.Errorf("messages count = %d, want 1", len(messages))
		}
		if messages[0] != "warning1" {
			t.Errorf("message = %v, want warning1", messages[0])
		}
	})
}

// TestPredefinedErrors verifies that all predefined errors are correctly initialized.
func TestPredefinedErrors(t *testing.T) {
	predefinedErrors := []*Error{
		ErrNotFound,
		ErrTimeout,
		ErrInvalidPDFURL,
		ErrPrivateNetworkURL,
		ErrAlreadyClaimed,
		ErrCircuitOpen,
		ErrMaxDeliveriesReached,
	}

	for _, err := range predefinedErrors {
		if err == nil {
			t.Error("predefined error should not be nil")
			continue
		}
		if err.Code == "" {
			t.Error("predefined error should have a code")
		}
		if err.Message == "" {
			t.Error("predefined error should have a message")
		}
	}
}
