package services

import "errors"

var (
	// ErrProfileIncomplete: the user has not finished the required profile
	// fields. An expected precondition failure, not a system error.
	ErrProfileIncomplete = errors.New("profile incomplete")

	// ErrNotReady distinguishes "no plan exists yet" on the read path so
	// clients can retry instead of treating it as a failure.
	ErrNotReady = errors.New("plan not ready")

	// ErrJobAlreadyRunning is returned synchronously on a duplicate batch
	// trigger, together with the live run snapshot.
	ErrJobAlreadyRunning = errors.New("recompute job already running")
)
