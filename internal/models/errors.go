package models

import "errors"

// Error kinds surfaced by the core. Components wrap these with context via
// fmt.Errorf("...: %w", err); callers classify with errors.Is.
var (
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrUpstreamRateLimited = errors.New("upstream rate limited")
	ErrUpstreamSaturated   = errors.New("upstream saturated")
	ErrValidation          = errors.New("validation failed")
	ErrDuplicateSnapshot   = errors.New("duplicate snapshot")
	ErrBatchValidation     = errors.New("batch validation failed")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrCancelled           = errors.New("cancelled")
	ErrNotFound            = errors.New("not found")
	ErrInvalidArgument     = errors.New("invalid argument")
)
