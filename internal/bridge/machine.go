package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/uscpte7/CAN-Bus1/internal/can"
	"github.com/uscpte7/CAN-Bus1/internal/driver"
	"github.com/uscpte7/CAN-Bus1/internal/logging"
	"github.com/uscpte7/CAN-Bus1/internal/metrics"
)

// State is a phase of the boot cycle.
type State int32

const (
	StateBoot State = iota
	StateCanInit
	StateRunning
	StateReset
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateBoot:
		return "boot"
	case StateCanInit:
		return "can_init"
	case StateRunning:
		return "running"
	case StateReset:
		return "reset"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// RetryPolicy controls controller initialization retries.
type RetryPolicy struct {
	Interval time.Duration
	// MaxAttempts of 0 retries forever.
	MaxAttempts int
}

// DefaultRetry retries every 10 ms without limit.
var DefaultRetry = RetryPolicy{Interval: 10 * time.Millisecond}

// Machine cycles Boot -> CanInit -> Running -> Reset -> Boot until its
// context ends. Every Boot starts from fresh runtime state.
type Machine struct {
	cfg   Config
	devs  Channels
	link  Link
	ind   Indicator
	retry RetryPolicy
	ropts []RuntimeOption
	l     *slog.Logger

	boots   atomic.Int64
	state   atomic.Int32
	current atomic.Pointer[Runtime]
	onState func(State)
}

// MachineOption customizes a Machine.
type MachineOption func(*Machine)

// WithRetry replaces DefaultRetry.
func WithRetry(p RetryPolicy) MachineOption { return func(m *Machine) { m.retry = p } }

// WithRuntimeOptions are passed to every Runtime the machine creates.
func WithRuntimeOptions(opts ...RuntimeOption) MachineOption {
	return func(m *Machine) { m.ropts = append(m.ropts, opts...) }
}

// WithStateHook is called on every transition, from the machine goroutine.
func WithStateHook(fn func(State)) MachineOption { return func(m *Machine) { m.onState = fn } }

// WithMachineLogger overrides the logger.
func WithMachineLogger(l *slog.Logger) MachineOption { return func(m *Machine) { m.l = l } }

func NewMachine(cfg Config, devs Channels, link Link, ind Indicator, opts ...MachineOption) *Machine {
	m := &Machine{
		cfg:   cfg,
		devs:  devs,
		link:  link,
		ind:   ind,
		retry: DefaultRetry,
		l:     logging.Component("bridge"),
	}
	for _, o := range opts {
		o(m)
	}
	m.ropts = append([]RuntimeOption{WithLogger(m.l)}, m.ropts...)
	return m
}

// Boots reports how many times the machine entered Boot.
func (m *Machine) Boots() int64 { return m.boots.Load() }

// State returns the current phase.
func (m *Machine) State() State { return State(m.state.Load()) }

// Running reports whether a runtime is relaying traffic.
func (m *Machine) Running() bool { return m.State() == StateRunning }

// Inject queues f on channel ch of the running runtime. It fails while the
// machine is between runtimes.
func (m *Machine) Inject(ch int, f can.Frame) bool {
	rt := m.current.Load()
	if rt == nil {
		return false
	}
	return rt.Inject(ch, f)
}

func (m *Machine) set(s State) {
	m.state.Store(int32(s))
	if m.onState != nil {
		m.onState(s)
	}
}

// Run blocks until ctx ends, returning nil, or until initialization gives
// up under a bounded RetryPolicy.
func (m *Machine) Run(ctx context.Context) error {
	defer m.set(StateStopped)
	for {
		m.set(StateBoot)
		n := m.boots.Add(1)
		metrics.IncBoot()
		m.l.Info("boot", "count", n)

		m.set(StateCanInit)
		if err := m.initAll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		rt := NewRuntime(m.cfg, m.devs, m.link, m.ind, m.ropts...)
		m.current.Store(rt)
		m.set(StateRunning)
		err := rt.Run(ctx)
		m.current.Store(nil)
		if ctx.Err() != nil {
			return nil
		}

		m.set(StateReset)
		switch {
		case errors.Is(err, ErrResetRequested):
			metrics.IncReset("command")
		case errors.Is(err, ErrWatchdogExpired):
			metrics.IncReset("watchdog")
		default:
			return err
		}
		m.l.Warn("runtime_reset", "cause", err)
		m.ind.SetReady(false)
	}
}

// initAll brings every present controller into normal mode, retrying per
// the policy with the fault indicator raised.
func (m *Machine) initAll(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		err := m.initOnce()
		if err == nil {
			m.ind.SetFault(false)
			m.ind.SetReady(true)
			if attempt > 1 {
				m.l.Info("can_init_ok", "attempts", attempt)
			}
			return nil
		}
		metrics.IncInitFailure()
		m.ind.SetFault(true)
		if attempt == 1 || attempt%100 == 0 {
			m.l.Warn("can_init_failed", "attempt", attempt, "error", err)
		}
		if m.retry.MaxAttempts > 0 && attempt >= m.retry.MaxAttempts {
			return fmt.Errorf("can init after %d attempts: %w", attempt, err)
		}
		t := time.NewTimer(m.retry.Interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (m *Machine) initOnce() error {
	for ch := 1; ch <= MaxChannels; ch++ {
		if m.devs[ch] == nil {
			continue
		}
		if err := m.devs[ch].Initialize(driver.ModeNormal); err != nil {
			return fmt.Errorf("channel %d: %w", ch, err)
		}
	}
	return nil
}
