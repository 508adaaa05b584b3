package record

import "errors"

// Failure reasons carried on TerminationResult and returned by the engine.
// None of these is fatal to the host process; every failure resolves to a
// result object.
var (
	ErrNotFound          = errors.New("process not found")
	ErrSafetyRejected    = errors.New("safetyCheckFailed")
	ErrTimeout           = errors.New("termination wait timed out")
	ErrSignalFailed      = errors.New("signalFailed")
	ErrStillRunning      = errors.New("processStillRunning")
	ErrConcurrencyLimit  = errors.New("concurrencyLimitReached")
	ErrRestartFailed     = errors.New("restartFailed")
	ErrPersistenceFailed = errors.New("persistenceFailed")
)
