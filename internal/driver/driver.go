// Package driver defines the per-channel CAN controller contract the bridge
// core depends on, a register-level controller emulator, and the backends
// that feed the emulator from real buses.
package driver

import (
	"errors"

	"github.com/uscpte7/CAN-Bus1/internal/can"
)

// ErrNotReady is returned (wrapped) by Initialize when the controller does
// not come up. The boot sequence retries on it.
var ErrNotReady = errors.New("controller not ready")

// Mode is the controller operating mode requested at init.
type Mode byte

// Operating modes (REQOP bits of CANCTRL).
const (
	ModeNormal     Mode = 0x00
	ModeSleep      Mode = 0x20
	ModeLoopback   Mode = 0x40
	ModeListenOnly Mode = 0x60
	ModeConfig     Mode = 0x80
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeSleep:
		return "sleep"
	case ModeLoopback:
		return "loopback"
	case ModeListenOnly:
		return "listen-only"
	case ModeConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Driver is the register-level contract of one CAN channel.
//
// Methods other than Initialize and Close never block and never fail: the
// controller is memory-mapped as far as the core is concerned.
type Driver interface {
	Initialize(mode Mode) error
	ReadRegister(addr byte) byte
	WriteRegister(addr, v byte)
	ModifyRegister(addr, mask, v byte)
	ReadRxSlot(slot int) can.Frame
	LoadTxSlot(slot int, f can.Frame)
	RequestSend(slot int)
	ReadErrorFlags() byte
	IsTxSlotBusy(slot int) bool
	// Interrupts delivers a token whenever the controller raises its
	// interrupt line. Level semantics are recovered by re-reading CANINTF.
	Interrupts() <-chan struct{}
	Close() error
}
