package engine

import "errors"

// Failure classes. Per-faction and per-decision failures are absorbed with a
// fallback; only ErrTick escalates and fails the run.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrOracle        = errors.New("oracle failure")
	ErrResolution    = errors.New("resolution failure")
	ErrTick          = errors.New("tick failure")
	ErrDataIntegrity = errors.New("data integrity warning")

	ErrRunNotFound   = errors.New("run not found")
	ErrRunTerminated = errors.New("run has terminated")
)
