package driver

import (
	"errors"
	"fmt"
	"sync"

	"github.com/uscpte7/CAN-Bus1/internal/can"
)

// ErrClosed is returned by Initialize after Close.
var ErrClosed = errors.New("controller closed")

// Emulator models an MCP2515-family controller at register level: two
// receive slots with RXnIF flags, three transmit slots with TXREQ, EFLG
// overflow reporting and a single interrupt line. Backends feed it frames
// from a real bus with Deliver and complete transmissions with CompleteTx.
// With no transmit hook it completes sends immediately and records them,
// which makes it the test double of the bridge core. WithDiscard turns the
// recording off for long-running use.
type Emulator struct {
	mu       sync.Mutex
	regs     [0x80]byte
	rx       [NumRxSlots]can.Frame
	tx       [NumTxSlots]can.Frame
	sent     []can.Frame
	discard  bool
	irq      chan struct{}
	transmit func(can.Frame)
	check    func() error
	onClose  func() error
	failInit int
	inits    int
	closed   bool
}

// EmulatorOption customizes an Emulator.
type EmulatorOption func(*Emulator)

// WithTransmit routes RequestSend to fn. The slot stays busy until
// CompleteTx is called.
func WithTransmit(fn func(can.Frame)) EmulatorOption {
	return func(e *Emulator) { e.transmit = fn }
}

// WithDiscard completes hookless sends without recording them.
func WithDiscard() EmulatorOption {
	return func(e *Emulator) { e.discard = true }
}

// WithInitCheck runs fn on every Initialize; a non-nil result fails the init.
func WithInitCheck(fn func() error) EmulatorOption {
	return func(e *Emulator) { e.check = fn }
}

// WithInitFailures makes the first n Initialize calls fail with ErrNotReady.
func WithInitFailures(n int) EmulatorOption {
	return func(e *Emulator) { e.failInit = n }
}

// WithCloser runs fn on Close.
func WithCloser(fn func() error) EmulatorOption {
	return func(e *Emulator) { e.onClose = fn }
}

// NewEmulator returns a controller in configuration mode. Initialize must be
// called before it accepts frames.
func NewEmulator(opts ...EmulatorOption) *Emulator {
	e := &Emulator{irq: make(chan struct{}, 1)}
	e.regs[RegCANCTRL] = byte(ModeConfig)
	e.regs[RegCANSTAT] = byte(ModeConfig)
	for _, o := range opts {
		o(e)
	}
	return e
}

// Initialize resets the register file and enters mode.
func (e *Emulator) Initialize(mode Mode) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.inits++
	if e.failInit > 0 {
		e.failInit--
		return fmt.Errorf("init attempt %d: %w", e.inits, ErrNotReady)
	}
	if e.check != nil {
		if err := e.check(); err != nil {
			return fmt.Errorf("%w: %v", ErrNotReady, err)
		}
	}
	e.regs = [0x80]byte{}
	e.rx = [NumRxSlots]can.Frame{}
	e.regs[RegCANCTRL] = byte(mode)
	e.regs[RegCANSTAT] = byte(mode)
	e.regs[RegCANINTE] = RX0IF | RX1IF | ERRIF | MERRF
	return nil
}

// Inits reports how many times Initialize has been called.
func (e *Emulator) Inits() int { e.mu.Lock(); defer e.mu.Unlock(); return e.inits }

func (e *Emulator) ReadRegister(addr byte) byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.regs[addr&0x7F]
}

func (e *Emulator) WriteRegister(addr, v byte) {
	e.mu.Lock()
	e.regs[addr&0x7F] = v
	e.mu.Unlock()
}

// ModifyRegister is the BIT MODIFY instruction: only bits in mask change.
func (e *Emulator) ModifyRegister(addr, mask, v byte) {
	e.mu.Lock()
	r := &e.regs[addr&0x7F]
	*r = *r&^mask | v&mask
	e.mu.Unlock()
}

func (e *Emulator) ReadRxSlot(slot int) can.Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	if slot < 0 || slot >= NumRxSlots {
		return can.Frame{}
	}
	return e.rx[slot]
}

func (e *Emulator) LoadTxSlot(slot int, f can.Frame) {
	if slot < 0 || slot >= NumTxSlots {
		return
	}
	e.mu.Lock()
	e.tx[slot] = f
	e.mu.Unlock()
}

// RequestSend sets TXREQ and hands the slot's frame to the bus.
func (e *Emulator) RequestSend(slot int) {
	if slot < 0 || slot >= NumTxSlots {
		return
	}
	e.mu.Lock()
	ctrl := txCtrl(slot)
	e.regs[ctrl] = e.regs[ctrl]&^(TXERR|MLOA|ABTF) | TXREQ
	f := e.tx[slot]
	mode := Mode(e.regs[RegCANCTRL] & OpModeMask)
	transmit := e.transmit
	if transmit == nil || mode != ModeNormal {
		e.regs[ctrl] &^= TXREQ
		if mode == ModeNormal && !e.discard {
			e.sent = append(e.sent, f)
		}
	}
	e.mu.Unlock()

	switch {
	case mode == ModeLoopback:
		e.Deliver(f)
	case mode != ModeNormal:
	case transmit != nil:
		transmit(f)
	}
}

// CompleteTx clears TXREQ on slot, flagging TXERR when err is non-nil.
func (e *Emulator) CompleteTx(slot int, err error) {
	if slot < 0 || slot >= NumTxSlots {
		return
	}
	e.mu.Lock()
	ctrl := txCtrl(slot)
	e.regs[ctrl] &^= TXREQ
	if err != nil {
		e.regs[ctrl] |= TXERR
	}
	e.mu.Unlock()
}

func (e *Emulator) ReadErrorFlags() byte { return e.ReadRegister(RegEFLG) }

func (e *Emulator) IsTxSlotBusy(slot int) bool {
	if slot < 0 || slot >= NumTxSlots {
		return true
	}
	return e.ReadRegister(txCtrl(slot))&TXREQ != 0
}

func (e *Emulator) Interrupts() <-chan struct{} { return e.irq }

// Deliver places a frame received from the bus into the first free RX slot
// and raises the interrupt line. With both slots full the frame is lost and
// RX1OVR/ERRIF are set, like the hardware. It reports whether the frame was
// accepted.
func (e *Emulator) Deliver(f can.Frame) bool {
	if f.Len > can.MaxLen {
		f.Len = can.MaxLen
	}
	e.mu.Lock()
	if e.closed || Mode(e.regs[RegCANCTRL]&OpModeMask) == ModeConfig {
		e.mu.Unlock()
		return false
	}
	accepted := true
	switch intf := e.regs[RegCANINTF]; {
	case intf&RX0IF == 0:
		e.rx[0] = f
		e.regs[RegCANINTF] |= RX0IF
	case intf&RX1IF == 0:
		e.rx[1] = f
		e.regs[RegCANINTF] |= RX1IF
	default:
		e.regs[RegEFLG] |= RX1OVR
		e.regs[RegCANINTF] |= ERRIF
		accepted = false
	}
	e.mu.Unlock()
	e.raise()
	return accepted
}

// SetErrorFlags ORs bits into EFLG and raises ERRIF.
func (e *Emulator) SetErrorFlags(bits byte) {
	e.mu.Lock()
	e.regs[RegEFLG] |= bits
	e.regs[RegCANINTF] |= ERRIF
	e.mu.Unlock()
	e.raise()
}

// Pending reports whether an enabled interrupt cause is still set.
func (e *Emulator) Pending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.regs[RegCANINTF]&e.regs[RegCANINTE] != 0
}

// Sent returns the frames transmitted without a transmit hook.
func (e *Emulator) Sent() []can.Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]can.Frame, len(e.sent))
	copy(out, e.sent)
	return out
}

func (e *Emulator) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	fn := e.onClose
	e.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return nil
}

func (e *Emulator) raise() {
	select {
	case e.irq <- struct{}{}:
	default:
	}
}

var _ Driver = (*Emulator)(nil)
