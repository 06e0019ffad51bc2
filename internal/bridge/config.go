package bridge

import (
	"fmt"
	"io"
	"time"

	"github.com/uscpte7/CAN-Bus1/internal/rules"
	"github.com/uscpte7/CAN-Bus1/internal/telemetry"
)

// MaxChannels is the number of bridged buses; channels are numbered from 1.
const MaxChannels = 3

// Defaults.
const (
	DefaultFastTick   = 100 * time.Microsecond
	DefaultSlowTick   = time.Millisecond
	DefaultWatchdog   = 15 * time.Millisecond
	DefaultTxLarge    = 16
	DefaultTxSmall    = 5
	DefaultResetDelay = 1000 // slow ticks
	secondTicks       = 1000
	tenSecondTicks    = 10
)

// Config holds the runtime parameters. Zero fields take defaults.
type Config struct {
	FastTick time.Duration
	SlowTick time.Duration
	Watchdog time.Duration
	// TxLarge sizes the rings of channels 1 and 2, TxSmall the ring of channel 3.
	TxLarge int
	TxSmall int
	// ResetDelay is the number of slow ticks between the reset command and
	// the restart.
	ResetDelay int
	// Repeat enables cross-bus repeating at boot.
	Repeat bool
	// Ident answers the identify command.
	Ident string
	Rules *rules.Set
}

// DefaultConfig returns the stock timing with repeating enabled.
func DefaultConfig() Config {
	return Config{
		FastTick:   DefaultFastTick,
		SlowTick:   DefaultSlowTick,
		Watchdog:   DefaultWatchdog,
		TxLarge:    DefaultTxLarge,
		TxSmall:    DefaultTxSmall,
		ResetDelay: DefaultResetDelay,
		Repeat:     true,
		Ident:      telemetry.DefaultIdent,
		Rules:      rules.Default(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FastTick <= 0 {
		c.FastTick = d.FastTick
	}
	if c.SlowTick <= 0 {
		c.SlowTick = d.SlowTick
	}
	if c.Watchdog <= 0 {
		c.Watchdog = d.Watchdog
	}
	if c.TxLarge <= 0 {
		c.TxLarge = d.TxLarge
	}
	if c.TxSmall <= 0 {
		c.TxSmall = d.TxSmall
	}
	if c.ResetDelay <= 0 {
		c.ResetDelay = d.ResetDelay
	}
	if c.Rules == nil {
		c.Rules = d.Rules
	}
	return c
}

// Validate rejects settings the runtime cannot honor.
func (c Config) Validate() error {
	if c.Watchdog > 0 && c.SlowTick > 0 && c.Watchdog <= c.SlowTick {
		return fmt.Errorf("watchdog %v must exceed slow tick %v", c.Watchdog, c.SlowTick)
	}
	if c.TxLarge == 1 || c.TxSmall == 1 {
		return fmt.Errorf("ring capacity must be at least 2")
	}
	if c.Rules != nil {
		return c.Rules.Validate()
	}
	return nil
}

// Link is the control channel: telemetry goes out through Write, commands
// come in through PollByte and Service does the per-tick bookkeeping.
type Link interface {
	io.Writer
	PollByte() (byte, bool)
	Service()
}

// Indicator shows controller health (the LEDs of a hardware bridge).
type Indicator interface {
	SetFault(on bool)
	SetReady(on bool)
}
