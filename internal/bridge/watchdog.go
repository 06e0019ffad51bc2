package bridge

import (
	"context"
	"time"
)

// Watchdog fires once unless kicked at least every timeout.
type Watchdog struct {
	timeout time.Duration
	kick    chan struct{}
}

func NewWatchdog(timeout time.Duration) *Watchdog {
	return &Watchdog{timeout: timeout, kick: make(chan struct{}, 1)}
}

// Kick restarts the countdown. It never blocks.
func (w *Watchdog) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Run counts down until ctx ends or the deadline passes, in which case
// expire is called.
func (w *Watchdog) Run(ctx context.Context, expire func()) {
	t := time.NewTimer(w.timeout)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.kick:
			t.Reset(w.timeout)
		case <-t.C:
			expire()
			return
		}
	}
}
