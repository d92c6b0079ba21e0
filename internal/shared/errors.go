package shared

import (
	"errors"
	"fmt"
)

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Authentication errors
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrTimeout          = fmt.Errorf("operation timed out")

	// Backend errors
	ErrBackendUnavailable = fmt.Errorf("backend unavailable")
	ErrTransient          = fmt.Errorf("transient backend error")
	ErrNonRetryable       = fmt.Errorf("non-retryable backend error")
	ErrSchemaMismatch     = fmt.Errorf("schema mismatch")
	ErrFeatureUnavailable = fmt.Errorf("feature unavailable")
	ErrNotFound           = fmt.Errorf("record not found")

	// Audio errors
	ErrOwnershipConflict = fmt.Errorf("resource held by another owner")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// Stable error codes reported by the service layer.
const (
	CodeOK                 = ""
	CodeInvalidInput       = "invalid_input"
	CodeSchemaMismatch     = "schema_mismatch"
	CodeOwnershipConflict  = "ownership_conflict"
	CodeNotFound           = "not_found"
	CodeFeatureUnavailable = "feature_unavailable"
	CodeNonRetryable       = "non_retryable"
	CodeTimeout            = "timeout"
	CodeTransient          = "transient"
	CodeQueuedOffline      = "queued_offline"
	CodeUnknown            = "unknown"
)

// ErrorCode maps err onto the error taxonomy shared by every service.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrMissingArgument), errors.Is(err, ErrInvalidArgument):
		return CodeInvalidInput
	case errors.Is(err, ErrOwnershipConflict):
		return CodeOwnershipConflict
	case errors.Is(err, ErrSchemaMismatch):
		return CodeSchemaMismatch
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrFeatureUnavailable):
		return CodeFeatureUnavailable
	case errors.Is(err, ErrNonRetryable):
		return CodeNonRetryable
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrTransient), errors.Is(err, ErrBackendUnavailable):
		return CodeTransient
	default:
		return CodeUnknown
	}
}
