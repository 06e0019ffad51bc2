// Package pipeline services one controller interrupt: it pulls a received
// frame, applies rewrite rules, repeats it onto the routed channel, streams
// it to telemetry and reports controller errors.
package pipeline

import (
	"log/slog"

	"github.com/uscpte7/CAN-Bus1/internal/can"
	"github.com/uscpte7/CAN-Bus1/internal/driver"
	"github.com/uscpte7/CAN-Bus1/internal/logging"
	"github.com/uscpte7/CAN-Bus1/internal/metrics"
	"github.com/uscpte7/CAN-Bus1/internal/rules"
	"github.com/uscpte7/CAN-Bus1/internal/telemetry"
	"github.com/uscpte7/CAN-Bus1/internal/txring"
)

// MaxChannels is the number of bridged buses.
const MaxChannels = 3

// Sink receives telemetry lines.
type Sink interface {
	Submit(line []byte) bool
}

// Flags are the runtime switches read on every event.
type Flags struct {
	Repeat bool
	Stream bool
}

// Pipeline is stateless apart from its collaborators. Callers serialize
// Handle with every other user of the rings and the sink.
type Pipeline struct {
	rules  *rules.Set
	rings  [MaxChannels + 1]*txring.Ring
	out    Sink
	fault  func()
	mirror func(ch int, f can.Frame)
	l      *slog.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithFault sets the callback raised when the controller reports errors.
func WithFault(fn func()) Option { return func(p *Pipeline) { p.fault = fn } }

// WithMirror offers every received frame, after rewriting, to fn. fn must
// not block.
func WithMirror(fn func(ch int, f can.Frame)) Option { return func(p *Pipeline) { p.mirror = fn } }

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.l = l } }

// New builds a pipeline. rings is indexed by channel number; nil entries
// mark absent channels.
func New(rs *rules.Set, rings [MaxChannels + 1]*txring.Ring, out Sink, opts ...Option) *Pipeline {
	if rs == nil {
		rs = rules.Default()
	}
	p := &Pipeline{rules: rs, rings: rings, out: out, l: logging.L()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Handle services one pending event of channel ch on dev. It reports
// whether the controller had anything pending.
func (p *Pipeline) Handle(ch int, dev driver.Driver, fl Flags) bool {
	intf := dev.ReadRegister(driver.RegCANINTF)

	var (
		f   can.Frame
		got bool
	)
	switch {
	case intf&driver.RX0IF != 0:
		f = dev.ReadRxSlot(0)
		dev.ModifyRegister(driver.RegCANINTF, driver.RX0IF, 0)
		got = true
	case intf&driver.RX1IF != 0:
		f = dev.ReadRxSlot(1)
		dev.ModifyRegister(driver.RegCANINTF, driver.RX1IF, 0)
		got = true
	}

	if got {
		p.relay(ch, f, fl)
	}

	if intf&driver.ErrorCause != 0 {
		p.serviceErrors(ch, dev, intf)
	}
	return got || intf&driver.ErrorCause != 0
}

func (p *Pipeline) relay(ch int, f can.Frame, fl Flags) {
	metrics.IncRx(ch)
	if p.rules.Mutate(&f) {
		metrics.IncRewritten()
	}
	if p.mirror != nil {
		p.mirror(ch, f)
	}
	if !fl.Repeat {
		return
	}
	if p.rules.Blocked(f) {
		metrics.IncBlacklisted()
		return
	}
	to, ok := p.rules.Route(ch)
	if !ok || to < 1 || to > MaxChannels || p.rings[to] == nil {
		return
	}
	ring := p.rings[to]
	if ring.Push(f) {
		metrics.IncForwarded(to)
	} else {
		metrics.IncRingDrop(to)
		p.l.Debug("ring_full", "ch", to, "id", f.ID)
	}
	metrics.SetRingDepth(to, ring.Len())
	if fl.Stream {
		line := telemetry.FrameLine(ch, f)
		p.out.Submit(line[:])
	}
}

func (p *Pipeline) serviceErrors(ch int, dev driver.Driver, intf byte) {
	eflg := dev.ReadErrorFlags()
	if eflg&driver.RxOverflow != 0 {
		dev.WriteRegister(driver.RegEFLG, 0)
		metrics.IncRxOverflow(ch)
		line := telemetry.OverflowLine(ch)
		p.out.Submit(line[:])
	}
	if eflg != 0 {
		p.l.Debug("controller_error", "ch", ch, "eflg", eflg)
		if p.fault != nil {
			p.fault()
		}
	}
	dev.ModifyRegister(driver.RegCANINTF, intf&driver.ErrorClear, 0)
}

// Inject pushes a frame received from outside the buses (the mirror tap)
// into the ring of channel ch. Callers hold the same lock as for Handle.
func (p *Pipeline) Inject(ch int, f can.Frame) bool {
	if ch < 1 || ch > MaxChannels || p.rings[ch] == nil {
		return false
	}
	ok := p.rings[ch].Push(f)
	if !ok {
		metrics.IncRingDrop(ch)
	}
	metrics.SetRingDepth(ch, p.rings[ch].Len())
	return ok
}
