package bridge

import "errors"

var (
	// ErrResetRequested ends a runtime after the reset command's delay.
	ErrResetRequested = errors.New("reset requested")
	// ErrWatchdogExpired ends a runtime whose slow tick stopped kicking the watchdog.
	ErrWatchdogExpired = errors.New("watchdog expired")
)
