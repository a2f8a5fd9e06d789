// Package errors defines the categorized error taxonomy used across the airdrop tool.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/solargatsby/airdroptool/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents malformed or missing caller input
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents a missing campaign or receiver
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents an invalid state transition
	CategoryConflict ErrorCategory = "conflict"
	// CategoryStorage represents store connectivity or constraint failures
	CategoryStorage ErrorCategory = "storage"
	// CategorySubmission represents ledger submission failures
	CategorySubmission ErrorCategory = "submission"
	// CategoryConfirmation represents receipt polling failures
	CategoryConfirmation ErrorCategory = "confirmation"
	// CategorySystem represents unexpected internal failures
	CategorySystem ErrorCategory = "system"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewValidationError creates a validation error for malformed caller input
func NewValidationError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id interface{}) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %v", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewConflictError creates a domain conflict error for an invalid state transition
func NewConflictError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "CONFLICT",
		Message:    message,
	}
}

// NewDuplicateCampaignError is returned when a campaign id already has a request row
func NewDuplicateCampaignError(campaignID int64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "DUPLICATE_CAMPAIGN",
		Message:    fmt.Sprintf("campaign %d already has an airdrop request", campaignID),
		Details: map[string]interface{}{
			"campaignId": campaignID,
		},
	}
}

// NewStorageError creates a storage error
func NewStorageError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryStorage,
		StatusCode: http.StatusInternalServerError,
		Code:       "STORAGE_ERROR",
		Message:    fmt.Sprintf("storage error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewSubmissionError creates a ledger submission error
func NewSubmissionError(chain string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySubmission,
		StatusCode: http.StatusBadGateway,
		Code:       "LEDGER_SUBMISSION_ERROR",
		Message:    fmt.Sprintf("ledger submission failed on %s", chain),
		Cause:      cause,
		Details: map[string]interface{}{
			"chain": chain,
		},
	}
}

// NewConfirmationError creates a ledger confirmation error
func NewConfirmationError(chain string, txHash string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConfirmation,
		StatusCode: http.StatusBadGateway,
		Code:       "LEDGER_CONFIRMATION_ERROR",
		Message:    fmt.Sprintf("ledger confirmation failed on %s for tx %s", chain, txHash),
		Cause:      cause,
		Details: map[string]interface{}{
			"chain":  chain,
			"txHash": txHash,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}

	return NewInternalError("unexpected error", err)
}

// IsRetryable reports whether the engine loop should treat the error as transient
// and retry on its next scheduled cycle.
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryStorage, CategorySubmission, CategoryConfirmation:
		return true
	default:
		return false
	}
}

// IsConflict reports whether the error is a domain state conflict.
func IsConflict(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryConflict
}

// IsNotFound reports whether the error is a missing-resource error.
func IsNotFound(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryNotFound
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}
