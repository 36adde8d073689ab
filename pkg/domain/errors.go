package domain

import "errors"

// Common domain errors
var (
	ErrConfigInvalid       = errors.New("invalid configuration")
	ErrUpstreamUnreachable = errors.New("upstream service unreachable")
	ErrDocumentTooLarge    = errors.New("document exceeds rewrite limit")
	ErrDocumentInvalid     = errors.New("document could not be processed")
)

// DomainError wraps errors with additional context.
//
//nolint:revive // Name is intentionally verbose to distinguish domain-layer errors
type DomainError struct {
	Err     error
	Code    string
	Message string
	Details map[string]any
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// ErrorResponse defines the standard JSON error model returned by the proxy and admin endpoints.
// TraceID carries the current OpenTelemetry trace identifier when available.
type ErrorResponse struct {
	Code    string `json:"code"`               // Machine-readable error code (e.g., UPSTREAM_UNREACHABLE)
	Message string `json:"message"`            // Human-readable message (safe for logs)
	TraceID string `json:"trace_id,omitempty"` // Optional trace/correlation ID
}

// Error codes used in ErrorResponse.
const (
	CodeUpstreamUnreachable = "UPSTREAM_UNREACHABLE"
	CodeRewriteFailed       = "REWRITE_FAILED"
)
