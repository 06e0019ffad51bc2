// Package telemetry writes human-readable status lines to the control link
// under a leaky-bucket byte budget.
package telemetry

import (
	"io"
	"log/slog"

	"github.com/uscpte7/CAN-Bus1/internal/logging"
	"github.com/uscpte7/CAN-Bus1/internal/metrics"
)

// Budget parameters: at most Ceiling bytes may be outstanding and DecayStep
// bytes drain every slow tick.
const (
	Ceiling   = 120
	DecayStep = 64
)

// Overflow replaces a line that does not fit the budget.
var Overflow = []byte("X\n")

// Writer is not safe for concurrent use; the runtime serializes calls.
type Writer struct {
	out    io.Writer
	budget int
	l      *slog.Logger
}

// NewWriter returns a writer with an empty budget.
func NewWriter(out io.Writer, l *slog.Logger) *Writer {
	if l == nil {
		l = logging.L()
	}
	return &Writer{out: out, l: l}
}

// Submit writes line if it fits the remaining budget, otherwise writes the
// overflow marker and leaves the budget untouched. It reports whether line
// was written.
func (w *Writer) Submit(line []byte) bool {
	if w.budget+len(line) > Ceiling {
		metrics.IncTelemetryOverflow()
		w.write(Overflow)
		return false
	}
	w.budget += len(line)
	w.write(line)
	metrics.AddTelemetryBytes(len(line))
	return true
}

func (w *Writer) write(b []byte) {
	if _, err := w.out.Write(b); err != nil {
		w.l.Debug("telemetry_write_error", "error", err)
	}
}

// Decay drains one slow tick worth of budget.
func (w *Writer) Decay() {
	w.budget -= DecayStep
	if w.budget < 0 {
		w.budget = 0
	}
}

// Budget returns the bytes currently charged.
func (w *Writer) Budget() int { return w.budget }

// Reset empties the budget.
func (w *Writer) Reset() { w.budget = 0 }
