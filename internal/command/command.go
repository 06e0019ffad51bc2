// Package command interprets the single-byte control protocol.
package command

import (
	"log/slog"

	"github.com/uscpte7/CAN-Bus1/internal/logging"
	"github.com/uscpte7/CAN-Bus1/internal/metrics"
	"github.com/uscpte7/CAN-Bus1/internal/telemetry"
)

// Command bytes.
const (
	Nop          byte = '0'
	ResetNul     byte = 0x00
	Reset        byte = 'Z'
	ToggleStream byte = '@'
	Identify     byte = 0xFF
)

// ByteSource yields at most one pending byte without blocking.
type ByteSource interface {
	PollByte() (byte, bool)
}

// Sink accepts reply lines; the telemetry writer in production.
type Sink interface {
	Submit(line []byte) bool
}

// Controller is the part of the runtime a command can act on.
type Controller interface {
	// ToggleStreaming flips frame streaming and returns the new state.
	ToggleStreaming() bool
	// ScheduleReset arranges a restart after the configured delay.
	ScheduleReset()
}

// Processor executes one command per Step.
type Processor struct {
	src   ByteSource
	out   Sink
	ctl   Controller
	ident []byte
	l     *slog.Logger
}

// New builds a processor. An empty ident selects telemetry.DefaultIdent.
func New(src ByteSource, out Sink, ctl Controller, ident string, l *slog.Logger) *Processor {
	if l == nil {
		l = logging.L()
	}
	return &Processor{src: src, out: out, ctl: ctl, ident: telemetry.IdentLine(ident), l: l}
}

// Step polls one byte and executes it. It reports whether a byte was consumed.
func (p *Processor) Step() bool {
	b, ok := p.src.PollByte()
	if !ok {
		return false
	}
	switch b {
	case Nop:
		metrics.IncCommand("nop")
	case ResetNul, Reset:
		metrics.IncCommand("reset")
		p.l.Info("reset_requested", "byte", b)
		p.ctl.ScheduleReset()
	case ToggleStream:
		metrics.IncCommand("stream")
		on := p.ctl.ToggleStreaming()
		p.l.Info("streaming_toggled", "on", on)
	case Identify:
		metrics.IncCommand("identify")
		p.out.Submit(p.ident)
	default:
		metrics.IncCommand("unknown")
		line := telemetry.UnknownCommandLine(b)
		p.out.Submit(line[:])
	}
	return true
}
