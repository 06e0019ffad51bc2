package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/uscpte7/CAN-Bus1/internal/can"
	"github.com/uscpte7/CAN-Bus1/internal/command"
	"github.com/uscpte7/CAN-Bus1/internal/driver"
	"github.com/uscpte7/CAN-Bus1/internal/logging"
	"github.com/uscpte7/CAN-Bus1/internal/metrics"
	"github.com/uscpte7/CAN-Bus1/internal/pipeline"
	"github.com/uscpte7/CAN-Bus1/internal/telemetry"
	"github.com/uscpte7/CAN-Bus1/internal/txring"
)

// maxBurst bounds how many events one reception pass services before it
// lets the ticks take the lock.
const maxBurst = 8

// Channels lists the controllers by channel number; index 0 and nil
// entries are unused.
type Channels [MaxChannels + 1]driver.Driver

// Runtime is one boot's worth of bridge state. mu plays the part of the
// interrupt mask: reception, both ticks and injection hold it while they
// touch rings, the telemetry budget, counters or flags.
type Runtime struct {
	cfg  Config
	devs Channels
	link Link
	ind  Indicator
	l    *slog.Logger

	mu    sync.Mutex
	rings [MaxChannels + 1]*txring.Ring
	tel   *telemetry.Writer
	pipe  *pipeline.Pipeline
	cmd   *command.Processor

	ms         uint16
	sec        int
	tenSec     int
	secElapsed bool
	streaming  bool
	repeat     bool
	resetIn    int // slow ticks until restart, 0 when none is scheduled

	busy [MaxChannels + 1]atomic.Bool
	wd   *Watchdog
	stop context.CancelCauseFunc
}

// RuntimeOption customizes a Runtime.
type RuntimeOption func(*runtimeOptions)

type runtimeOptions struct {
	mirror func(ch int, f can.Frame)
	l      *slog.Logger
}

// WithMirror offers every received frame to fn. fn runs under the runtime
// lock and must not block.
func WithMirror(fn func(ch int, f can.Frame)) RuntimeOption {
	return func(o *runtimeOptions) { o.mirror = fn }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(o *runtimeOptions) { o.l = l }
}

// NewRuntime builds fresh state around already initialized controllers.
func NewRuntime(cfg Config, devs Channels, link Link, ind Indicator, opts ...RuntimeOption) *Runtime {
	o := runtimeOptions{l: logging.Component("bridge")}
	for _, fn := range opts {
		fn(&o)
	}
	cfg = cfg.withDefaults()
	r := &Runtime{
		cfg:    cfg,
		devs:   devs,
		link:   link,
		ind:    ind,
		l:      o.l,
		sec:    secondTicks,
		tenSec: tenSecondTicks,
		repeat: cfg.Repeat,
		wd:     NewWatchdog(cfg.Watchdog),
	}
	for ch := 1; ch <= MaxChannels; ch++ {
		if devs[ch] == nil {
			continue
		}
		size := cfg.TxLarge
		if ch == 3 {
			size = cfg.TxSmall
		}
		r.rings[ch] = txring.New(size)
		metrics.SetRingDepth(ch, 0)
	}
	r.tel = telemetry.NewWriter(link, o.l)
	popts := []pipeline.Option{
		pipeline.WithFault(func() { r.ind.SetFault(true) }),
		pipeline.WithLogger(o.l),
	}
	if o.mirror != nil {
		popts = append(popts, pipeline.WithMirror(o.mirror))
	}
	r.pipe = pipeline.New(cfg.Rules, r.rings, r.tel, popts...)
	r.cmd = command.New(link, r.tel, control{r}, cfg.Ident, o.l)
	return r
}

// Run drives the runtime until ctx ends, the watchdog expires or a
// scheduled reset comes due. The returned error is the cause:
// ErrWatchdogExpired, ErrResetRequested or the context's error.
func (r *Runtime) Run(parent context.Context) error {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)
	r.mu.Lock()
	r.stop = cancel
	r.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.wd.Run(ctx, func() {
			r.l.Error("watchdog_expired", "timeout", r.cfg.Watchdog)
			cancel(ErrWatchdogExpired)
		})
	}()
	for ch := 1; ch <= MaxChannels; ch++ {
		if r.devs[ch] == nil {
			continue
		}
		wg.Add(1)
		go func(ch int) {
			defer wg.Done()
			r.receive(ctx, ch)
		}(ch)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(r.cfg.FastTick)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				r.FastTick()
			}
		}
	}()

	r.l.Info("runtime_started", "fast_tick", r.cfg.FastTick, "slow_tick", r.cfg.SlowTick, "watchdog", r.cfg.Watchdog)
	slow := time.NewTicker(r.cfg.SlowTick)
	defer slow.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-slow.C:
			r.SlowTick()
			r.Idle()
		}
	}
	wg.Wait()
	err := context.Cause(ctx)
	if errors.Is(err, ErrResetRequested) || errors.Is(err, ErrWatchdogExpired) {
		return err
	}
	return parent.Err()
}

// receive is the reception context of one channel: it waits for the
// controller's interrupt line and services events while any are pending.
func (r *Runtime) receive(ctx context.Context, ch int) {
	irq := r.devs[ch].Interrupts()
	for {
		select {
		case <-ctx.Done():
			return
		case <-irq:
		}
		for r.service(ch) {
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// service runs the pipeline for up to maxBurst events and reports whether
// the controller still has events pending.
func (r *Runtime) service(ch int) bool {
	r.busy[ch].Store(true)
	defer r.busy[ch].Store(false)
	r.mu.Lock()
	defer r.mu.Unlock()
	dev := r.devs[ch]
	fl := pipeline.Flags{Repeat: r.repeat, Stream: r.streaming}
	for i := 0; i < maxBurst; i++ {
		if !r.pipe.Handle(ch, dev, fl) {
			return false
		}
	}
	return dev.ReadRegister(driver.RegCANINTF)&dev.ReadRegister(driver.RegCANINTE) != 0
}

// FastTick hands at most one queued frame per channel to its controller,
// channels in order 1, 2, 3.
func (r *Runtime) FastTick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ch := 1; ch <= MaxChannels; ch++ {
		ring := r.rings[ch]
		if ring == nil || ring.Empty() {
			continue
		}
		if ring.FlushOne(r.devs[ch]) {
			metrics.IncTx(ch)
			metrics.SetRingDepth(ch, ring.Len())
		}
	}
}

// SlowTick is the 1 ms housekeeping pass.
func (r *Runtime) SlowTick() {
	r.wd.Kick()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ms++
	if !r.anyBusy() {
		r.cmd.Step()
	}
	r.link.Service()
	r.tel.Decay()
	r.sec--
	if r.sec <= 0 {
		r.sec = secondTicks
		r.secElapsed = true
		r.ind.SetFault(false)
		r.tenSec--
		if r.tenSec <= 0 {
			r.tenSec = tenSecondTicks
		}
	}
	if r.resetIn > 0 {
		r.resetIn--
		if r.resetIn == 0 && r.stop != nil {
			r.l.Info("runtime_reset", "reason", "command")
			r.stop(ErrResetRequested)
		}
	}
}

// Idle emits the once-a-second status line while streaming is off.
func (r *Runtime) Idle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.streaming || !r.secElapsed {
		return
	}
	r.secElapsed = false
	line := telemetry.StatusLine(r.ms)
	r.tel.Submit(line[:])
}

// Inject queues f for transmission on channel ch.
func (r *Runtime) Inject(ch int, f can.Frame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipe.Inject(ch, f)
}

// Streaming reports whether frame streaming is on.
func (r *Runtime) Streaming() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streaming
}

// RingLen returns the number of frames queued for channel ch.
func (r *Runtime) RingLen(ch int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch < 1 || ch > MaxChannels || r.rings[ch] == nil {
		return 0
	}
	return r.rings[ch].Len()
}

func (r *Runtime) anyBusy() bool {
	for ch := 1; ch <= MaxChannels; ch++ {
		if r.busy[ch].Load() {
			return true
		}
	}
	return false
}

// control is the command.Controller view of a Runtime. Its methods run
// inside SlowTick with mu held.
type control struct{ r *Runtime }

func (c control) ToggleStreaming() bool {
	c.r.streaming = !c.r.streaming
	return c.r.streaming
}

func (c control) ScheduleReset() {
	if c.r.resetIn == 0 {
		c.r.resetIn = c.r.cfg.ResetDelay
	}
}
