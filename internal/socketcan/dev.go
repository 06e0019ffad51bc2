// Package socketcan talks to Linux CAN interfaces through raw AF_CAN sockets.
package socketcan

import (
	"errors"
	"fmt"

	"github.com/uscpte7/CAN-Bus1/internal/can"
)

// Dev is the surface the bridge backends need from a CAN socket.
// Implemented by *Device on Linux and by fakes in tests.
type Dev interface {
	ReadFrame(*can.Frame) error
	WriteFrame(can.Frame) error
	Close() error
}

// ErrReadTimeout is returned by ReadFrame when no frame arrived within the
// socket receive timeout. Callers loop on it to notice cancellation.
var ErrReadTimeout = errors.New("socketcan read timeout")

// Error classes carried in the can_id of error frames (<linux/can/error.h>).
const (
	ErrClassTxTimeout = 0x00000001
	ErrClassLostArb   = 0x00000002
	ErrClassCtrl      = 0x00000004
	ErrClassProt      = 0x00000008
	ErrClassTrx       = 0x00000010
	ErrClassAck       = 0x00000020
	ErrClassBusOff    = 0x00000040
	ErrClassBusError  = 0x00000080
	ErrClassRestarted = 0x00000100
)

// Controller status bits in data[1] of ErrClassCtrl frames.
const (
	CtrlRxOverflow = 0x01
	CtrlTxOverflow = 0x02
	CtrlRxWarning  = 0x04
	CtrlTxWarning  = 0x08
	CtrlRxPassive  = 0x10
	CtrlTxPassive  = 0x20
)

// ErrorFrame is returned by ReadFrame when the kernel reports a controller
// error instead of a data frame. It is informational: the socket stays usable.
type ErrorFrame struct {
	Class uint32
	Data  [8]byte
}

func (e *ErrorFrame) Error() string {
	return fmt.Sprintf("can error frame class=0x%X data=% X", e.Class, e.Data)
}

// RxOverflow reports a controller receive overflow.
func (e *ErrorFrame) RxOverflow() bool {
	return e.Class&ErrClassCtrl != 0 && e.Data[1]&CtrlRxOverflow != 0
}
