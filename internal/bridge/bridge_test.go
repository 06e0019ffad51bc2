package bridge

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uscpte7/CAN-Bus1/internal/can"
	"github.com/uscpte7/CAN-Bus1/internal/driver"
	"github.com/uscpte7/CAN-Bus1/internal/logging"
	"github.com/uscpte7/CAN-Bus1/internal/metrics"
)

type fakeLink struct {
	mu       sync.Mutex
	in       []byte
	out      bytes.Buffer
	services int
}

func (l *fakeLink) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Write(p)
}

func (l *fakeLink) PollByte() (byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.in) == 0 {
		return 0, false
	}
	b := l.in[0]
	l.in = l.in[1:]
	return b, true
}

func (l *fakeLink) Service() { l.mu.Lock(); l.services++; l.mu.Unlock() }

func (l *fakeLink) feed(b ...byte) { l.mu.Lock(); l.in = append(l.in, b...); l.mu.Unlock() }

func (l *fakeLink) output() string { l.mu.Lock(); defer l.mu.Unlock(); return l.out.String() }

type fakeIndicator struct {
	mu     sync.Mutex
	fault  bool
	ready  bool
	faults int
}

func (i *fakeIndicator) SetFault(on bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if on {
		i.faults++
	}
	i.fault = on
}

func (i *fakeIndicator) SetReady(on bool) { i.mu.Lock(); i.ready = on; i.mu.Unlock() }

func (i *fakeIndicator) state() (fault, ready bool, faults int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.fault, i.ready, i.faults
}

// emulators builds one controller per channel; opts apply to channel 1 only.
func emulators(t *testing.T, init bool, opts ...driver.EmulatorOption) (Channels, [MaxChannels + 1]*driver.Emulator) {
	t.Helper()
	var devs Channels
	var emus [MaxChannels + 1]*driver.Emulator
	for ch := 1; ch <= MaxChannels; ch++ {
		if ch == 1 {
			emus[ch] = driver.NewEmulator(opts...)
		} else {
			emus[ch] = driver.NewEmulator()
		}
		if init {
			require.NoError(t, emus[ch].Initialize(driver.ModeNormal))
		}
		devs[ch] = emus[ch]
	}
	return devs, emus
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Watchdog = time.Second
	return cfg
}

func newRuntime(t *testing.T) (*Runtime, [MaxChannels + 1]*driver.Emulator, *fakeLink, *fakeIndicator) {
	t.Helper()
	devs, emus := emulators(t, true)
	link := &fakeLink{}
	ind := &fakeIndicator{}
	return NewRuntime(testConfig(), devs, link, ind, WithLogger(logging.Discard())), emus, link, ind
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond, msg)
}

func TestSlowTickStatusLineEverySecond(t *testing.T) {
	r, _, link, _ := newRuntime(t)
	for i := 0; i < 999; i++ {
		r.SlowTick()
		r.Idle()
	}
	assert.Empty(t, link.output())
	r.SlowTick()
	r.Idle()
	assert.Equal(t, "ms 1000\n", link.output())
	r.Idle()
	assert.Equal(t, "ms 1000\n", link.output(), "one line per elapsed second")
	assert.Equal(t, 1000, link.services)
}

func TestIdleSilentWhileStreaming(t *testing.T) {
	r, _, link, _ := newRuntime(t)
	link.feed('@')
	for i := 0; i < 1000; i++ {
		r.SlowTick()
		r.Idle()
	}
	assert.True(t, r.Streaming())
	assert.Empty(t, link.output())
}

func TestSecondTickClearsFault(t *testing.T) {
	r, _, _, ind := newRuntime(t)
	ind.SetFault(true)
	for i := 0; i < 1000; i++ {
		r.SlowTick()
	}
	fault, _, _ := ind.state()
	assert.False(t, fault)
}

func TestFastTickOneFramePerChannel(t *testing.T) {
	r, emus, _, _ := newRuntime(t)
	for ch := 1; ch <= MaxChannels; ch++ {
		require.True(t, r.Inject(ch, can.NewFrame(uint32(0x100*ch))))
		require.True(t, r.Inject(ch, can.NewFrame(uint32(0x100*ch+1))))
	}
	r.FastTick()
	for ch := 1; ch <= MaxChannels; ch++ {
		require.Len(t, emus[ch].Sent(), 1, "channel %d", ch)
		assert.Equal(t, uint32(0x100*ch), emus[ch].Sent()[0].ID)
		assert.Equal(t, 1, r.RingLen(ch))
	}
	r.FastTick()
	r.FastTick()
	for ch := 1; ch <= MaxChannels; ch++ {
		assert.Len(t, emus[ch].Sent(), 2)
		assert.Zero(t, r.RingLen(ch))
	}
}

func TestRingSizes(t *testing.T) {
	r, _, _, _ := newRuntime(t)
	assert.Equal(t, DefaultTxLarge, r.rings[1].Cap())
	assert.Equal(t, DefaultTxLarge, r.rings[2].Cap())
	assert.Equal(t, DefaultTxSmall, r.rings[3].Cap())
}

func TestCommandSkippedWhileBusy(t *testing.T) {
	r, _, link, _ := newRuntime(t)
	link.feed('@')
	r.busy[2].Store(true)
	r.SlowTick()
	assert.False(t, r.Streaming())
	r.busy[2].Store(false)
	r.SlowTick()
	assert.True(t, r.Streaming())
}

func TestResetFiresAfterDelay(t *testing.T) {
	r, _, link, _ := newRuntime(t)
	var cause error
	r.stop = func(err error) { cause = err }
	link.feed('Z')
	for i := 1; i < DefaultResetDelay; i++ {
		r.SlowTick()
		require.NoError(t, cause, "tick %d", i)
	}
	r.SlowTick()
	assert.ErrorIs(t, cause, ErrResetRequested)
}

func TestRunRelaysAndRewrites(t *testing.T) {
	r, emus, link, _ := newRuntime(t)
	link.feed('@')
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	eventually(t, r.Streaming, "streaming never enabled")
	emus[1].Deliver(can.NewFrame(0x1DC, 1, 2, 3, 4, 5, 6, 7, 8))
	emus[2].Deliver(can.NewFrame(0x59E, 1))
	emus[2].Deliver(can.NewFrame(0x123, 0xAB))

	eventually(t, func() bool { return len(emus[2].Sent()) == 1 && len(emus[1].Sent()) == 1 }, "frames not relayed")
	got := emus[2].Sent()[0]
	assert.Equal(t, [8]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x1F, 0xFF, 0xFC, 0x6B}, got.Data)
	assert.Equal(t, uint32(0x123), emus[1].Sent()[0].ID)
	assert.Contains(t, link.output(), "1|1DC|FF FF FF FF 1F FF FC 6B\n")
	assert.NotContains(t, link.output(), "|59E|")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRunWatchdogExpires(t *testing.T) {
	devs, _ := emulators(t, true)
	cfg := testConfig()
	cfg.SlowTick = time.Hour // the slow tick never runs
	cfg.Watchdog = 20 * time.Millisecond
	r := NewRuntime(cfg, devs, &fakeLink{}, &fakeIndicator{}, WithLogger(logging.Discard()))

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrWatchdogExpired)
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not fire")
	}
}

func TestRunResetCommand(t *testing.T) {
	devs, _ := emulators(t, true)
	cfg := testConfig()
	cfg.ResetDelay = 3
	link := &fakeLink{}
	link.feed('Z')
	r := NewRuntime(cfg, devs, link, &fakeIndicator{}, WithLogger(logging.Discard()))
	err := r.Run(context.Background())
	assert.ErrorIs(t, err, ErrResetRequested)
}

func TestRxOverflowRaisesFault(t *testing.T) {
	r, emus, link, ind := newRuntime(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()
	emus[1].SetErrorFlags(driver.RX0OVR)
	eventually(t, func() bool { _, _, n := ind.state(); return n > 0 }, "fault not raised")
	eventually(t, func() bool { return bytes.Contains([]byte(link.output()), []byte("CAN1 RX OVF\n")) }, "overflow not reported")
}

func TestWatchdogKickKeepsAlive(t *testing.T) {
	w := NewWatchdog(30 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	fired := make(chan struct{})
	go w.Run(ctx, func() { close(fired) })
	for i := 0; i < 10; i++ {
		time.Sleep(5 * time.Millisecond)
		w.Kick()
	}
	select {
	case <-fired:
		t.Fatal("watchdog fired while kicked")
	default:
	}
	cancel()
}

func TestMachineRetriesInit(t *testing.T) {
	devs, emus := emulators(t, false, driver.WithInitFailures(3))
	ind := &fakeIndicator{}
	m := NewMachine(testConfig(), devs, &fakeLink{}, ind,
		WithRetry(RetryPolicy{Interval: time.Millisecond}),
		WithMachineLogger(logging.Discard()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	eventually(t, m.Running, "machine never reached running")
	fault, ready, faults := ind.state()
	assert.False(t, fault)
	assert.True(t, ready)
	assert.Equal(t, 3, faults)
	assert.Equal(t, 4, emus[1].Inits())
	assert.Equal(t, int64(1), m.Boots())

	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, StateStopped, m.State())
}

func TestMachineGivesUpWithBoundedRetry(t *testing.T) {
	devs, _ := emulators(t, false, driver.WithInitFailures(100))
	m := NewMachine(testConfig(), devs, &fakeLink{}, &fakeIndicator{},
		WithRetry(RetryPolicy{Interval: time.Millisecond, MaxAttempts: 2}),
		WithMachineLogger(logging.Discard()))
	err := m.Run(context.Background())
	assert.ErrorIs(t, err, driver.ErrNotReady)
}

func TestMachineRebootsAfterReset(t *testing.T) {
	devs, emus := emulators(t, false)
	cfg := testConfig()
	cfg.ResetDelay = 2
	link := &fakeLink{}
	link.feed('@', 'Z')
	var mu sync.Mutex
	var states []State
	m := NewMachine(cfg, devs, link, &fakeIndicator{},
		WithMachineLogger(logging.Discard()),
		WithStateHook(func(s State) { mu.Lock(); states = append(states, s); mu.Unlock() }))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	eventually(t, func() bool { return m.Boots() == 2 && m.Running() }, "no second boot")
	assert.Equal(t, 2, emus[1].Inits())

	// fresh state after the reset: streaming is off again
	rt := m.current.Load()
	require.NotNil(t, rt)
	assert.False(t, rt.Streaming())
	assert.True(t, m.Inject(1, can.NewFrame(0x7)))

	cancel()
	require.NoError(t, <-done)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{
		StateBoot, StateCanInit, StateRunning, StateReset,
		StateBoot, StateCanInit, StateRunning, StateStopped,
	}, states)
}

func TestMachineRebootsAfterStarvedSlowTick(t *testing.T) {
	devs, _ := emulators(t, false)
	cfg := testConfig()
	cfg.SlowTick = time.Hour
	cfg.Watchdog = 20 * time.Millisecond
	before := testutil.ToFloat64(metrics.Resets.WithLabelValues("watchdog"))
	ind := &fakeIndicator{}
	m := NewMachine(cfg, devs, &fakeLink{}, ind, WithMachineLogger(logging.Discard()),
		WithRuntimeOptions(WithLogger(logging.Discard())))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	eventually(t, func() bool { return m.Boots() >= 2 }, "starved runtime was not restarted")
	cancel()
	require.NoError(t, <-done)
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.Resets.WithLabelValues("watchdog"))-before, 1.0)
	assert.Equal(t, StateStopped, m.State())
}

func TestMachineInjectWhileStopped(t *testing.T) {
	devs, _ := emulators(t, false)
	m := NewMachine(testConfig(), devs, &fakeLink{}, &fakeIndicator{})
	assert.False(t, m.Inject(1, can.NewFrame(1)))
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	cfg.Watchdog = cfg.SlowTick
	assert.Error(t, cfg.Validate())
	cfg = DefaultConfig()
	cfg.TxSmall = 1
	assert.Error(t, cfg.Validate())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.True(t, errors.Is(ErrResetRequested, ErrResetRequested))
}
