package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Record stores, audit sinks and queues
// return these (optionally wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: record does not exist in the store
//   - ErrConflict: concurrent modification or duplicate identifier (retryable)
//   - ErrUnavailable: backing service temporarily unavailable
//   - ErrQueueEmpty: retry queue has nothing to deliver
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
	ErrQueueEmpty  = errors.New("queue empty")
)
