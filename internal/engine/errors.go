package engine

import "errors"

var (
	// ErrNoRecords is returned when Submit is called with an empty record list.
	ErrNoRecords = errors.New("engine: no records to submit")
	// ErrNoSubmitFunc is returned when Submit is called without a submit function.
	ErrNoSubmitFunc = errors.New("engine: submit function is required")
	// ErrInvalidBatchSize is returned for a negative batch size.
	ErrInvalidBatchSize = errors.New("engine: batch size must be >= 1")
	// ErrRunInProgress is returned when Submit is called while a run is active.
	ErrRunInProgress = errors.New("engine: a run is already in progress")
	// ErrBatchTimeout marks a submit call that exceeded the per-call timeout.
	ErrBatchTimeout = errors.New("engine: batch submission timed out")
	// ErrBatchPanic marks a submit call that panicked.
	ErrBatchPanic = errors.New("engine: batch submission panicked")

	errAlreadyFolded = errors.New("engine: batch already folded")
)
