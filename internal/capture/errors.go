package capture

import "errors"

var (
	// ErrValidation is returned when the food name is empty after trimming.
	ErrValidation = errors.New("validation failed")
	// ErrPermissionDenied ends the session; the user may grant access in settings.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrCaptureFailed leaves the session ready to capture again.
	ErrCaptureFailed = errors.New("image capture failed")
	// ErrPredictionFailed covers non-2xx responses, network errors and timeouts.
	ErrPredictionFailed = errors.New("prediction failed")
	// ErrCommitFailed is reported after the session has already been reset.
	ErrCommitFailed = errors.New("commit failed")

	ErrStaleSession      = errors.New("stale session handle")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvalidDecision   = errors.New("invalid decision")
	ErrSessionCancelled  = errors.New("session cancelled")
	ErrCancelled         = errors.New("capture cancelled by user")
)
