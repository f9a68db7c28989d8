package shared

import (
	"errors"
	"fmt"
)

// RequestError is used when we want a specific error message and StatusCode.
// Sane defaults are listed below. For routes that need custom error messages,
// a request error can be generated and a handler expects the router to return
// the exact message inside the request error msg.
//
// Error codes should be bubbled where the RequestError msg is expected to be
// returned to the user. If the user should see a generic error message but
// the error chain should include more detail for logging purposes, then a generic
// error should be added that provides context
type RequestError struct {
	StatusCode int
	Err        error
}

func (r *RequestError) Error() string {
	return fmt.Sprintf("status %d: err %v", r.StatusCode, r.Err)
}

var (
	ErrMissingAuth   = &RequestError{Err: errors.New("missing authorization header"), StatusCode: 401}
	ErrInvalidFormat = &RequestError{Err: errors.New("invalid authentication format"), StatusCode: 401}
	ErrUnauthorized  = &RequestError{Err: errors.New("unauthorized"), StatusCode: 401}

	ErrInvalidRequest      = &RequestError{Err: errors.New("invalid request body"), StatusCode: 400}
	ErrEmptyPrompt         = &RequestError{Err: errors.New("prompt must not be empty"), StatusCode: 400}
	ErrInternalServerError = &RequestError{Err: errors.New("internal server error"), StatusCode: 500}
)

// OutcomeKind classifies every terminal result of a pipeline run. Each kind
// maps to its own user facing message and metric label; no outcome is ever
// reported as a generic opaque failure.
type OutcomeKind string

const (
	OutcomeOK OutcomeKind = "ok"

	// Admission denied, no resources consumed
	OutcomeRateLimited OutcomeKind = "rate_limited"
	// Permanent API side error (bad prompt, auth failure, invalid model), not retried
	OutcomeRejected OutcomeKind = "rejected"
	// All retry attempts spent on transient failures
	OutcomeExhausted OutcomeKind = "exhausted"
	// Response body could not be interpreted as an image after fallback repair
	OutcomeDecodeFailed OutcomeKind = "decode_failed"
	// Companion service could not be reached
	OutcomeDeliveryUnreachable OutcomeKind = "delivery_unreachable"
	// Companion service refused the artifact
	OutcomeDeliveryRejected OutcomeKind = "delivery_rejected"
	// Disk write error
	OutcomeStorageFailed OutcomeKind = "storage_failed"
)

// PipelineError is the structured failure handed back to the caller layer.
// Detail is human readable, Err keeps the underlying chain for logging.
type PipelineError struct {
	Kind   OutcomeKind
	Detail string
	Err    error
}

func (p *PipelineError) Error() string {
	if p.Err != nil {
		return fmt.Sprintf("%s: %s: %v", p.Kind, p.Detail, p.Err)
	}
	return fmt.Sprintf("%s: %s", p.Kind, p.Detail)
}

func (p *PipelineError) Unwrap() error {
	return p.Err
}

func NewPipelineError(kind OutcomeKind, detail string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Detail: detail, Err: err}
}

// KindOf extracts the outcome kind from an error chain, or OutcomeOK for nil.
// Errors that never got classified surface as storage level failures.
func KindOf(err error) OutcomeKind {
	if err == nil {
		return OutcomeOK
	}
	var perr *PipelineError
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return OutcomeStorageFailed
}
