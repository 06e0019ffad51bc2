package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/uscpte7/CAN-Bus1/internal/can"
	"github.com/uscpte7/CAN-Bus1/internal/metrics"
	"github.com/uscpte7/CAN-Bus1/internal/socketcan"
	"github.com/uscpte7/CAN-Bus1/internal/transport"
)

const (
	txQueueSize  = 4 // one frame in flight per TX slot, a little slack for retries
	rxBackoffMin = 20 * time.Millisecond
	rxBackoffMax = 500 * time.Millisecond
)

// Backend names accepted by Open.
const (
	BackendSocketCAN = "socketcan"
	BackendBrutella  = "brutella"
	BackendSim       = "sim"
)

// ErrTxOverflow reports that the bus writer could not take another frame.
var ErrTxOverflow = errors.New("can tx overflow")

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// Open creates the controller for one channel on the selected backend.
func Open(ctx context.Context, backend, iface string, l *slog.Logger) (*Emulator, error) {
	switch backend {
	case BackendSocketCAN:
		return OpenSocketCAN(ctx, iface, l)
	case BackendBrutella:
		return OpenBrutella(ctx, iface, l)
	case BackendSim:
		return NewEmulator(WithDiscard()), nil
	default:
		return nil, fmt.Errorf("unknown backend %q (use socketcan|brutella|sim)", backend)
	}
}

// Attach puts an emulated controller in front of dev: a reader goroutine
// delivers bus frames into the RX slots and RequestSend is served by an
// AsyncTx worker that clears TXREQ once the write returns. Closing the
// emulator stops both and closes dev.
func Attach(parent context.Context, name string, dev socketcan.Dev, l *slog.Logger, opts ...EmulatorOption) *Emulator {
	ctx, cancel := context.WithCancel(parent)
	var (
		emu *Emulator
		wg  sync.WaitGroup
	)
	tx := transport.NewAsyncTx(ctx, txQueueSize, dev.WriteFrame, transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrCANWrite)
			l.Warn("can_write_error", "if", name, "error", err)
			emu.CompleteTx(0, err)
		},
		OnAfter: func() { emu.CompleteTx(0, nil) },
		OnDrop: func() error {
			metrics.IncError(metrics.ErrCANTxOverflow)
			emu.CompleteTx(0, ErrTxOverflow)
			return ErrTxOverflow
		},
	})
	send := func(fr can.Frame) { _ = tx.Send(fr) }
	closer := func() error {
		cancel()
		err := dev.Close()
		tx.Close()
		wg.Wait()
		l.Info("can_closed", "if", name)
		return err
	}
	all := append([]EmulatorOption{WithTransmit(send), WithCloser(closer)}, opts...)
	emu = NewEmulator(all...)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Debug("can_rx_end", "if", name)
		backoff := rxBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			var fr can.Frame
			err := dev.ReadFrame(&fr)
			if err == nil {
				emu.Deliver(fr)
				backoff = rxBackoffMin
				continue
			}
			if ctx.Err() != nil { // shutting down
				return
			}
			if errors.Is(err, socketcan.ErrReadTimeout) {
				continue
			}
			var ef *socketcan.ErrorFrame
			if errors.As(err, &ef) {
				metrics.IncError(metrics.ErrCANErrorFrame)
				l.Debug("can_error_frame", "if", name, "class", fmt.Sprintf("0x%X", ef.Class))
				emu.SetErrorFlags(errorFlags(ef))
				continue
			}
			metrics.IncError(metrics.ErrCANRead)
			l.Warn("can_read_error", "if", name, "error", err, "backoff", backoff)
			sleepFn(backoff)
			backoff *= 2
			if backoff > rxBackoffMax {
				backoff = rxBackoffMax
			}
		}
	}()
	return emu
}

// errorFlags maps a SocketCAN error frame onto EFLG bits.
func errorFlags(ef *socketcan.ErrorFrame) byte {
	var f byte
	if ef.RxOverflow() {
		f |= RX0OVR
	}
	if ef.Class&socketcan.ErrClassBusOff != 0 {
		f |= TXBO
	}
	if ef.Class&socketcan.ErrClassCtrl != 0 {
		st := ef.Data[1]
		if st&socketcan.CtrlRxPassive != 0 {
			f |= RXEP
		}
		if st&socketcan.CtrlTxPassive != 0 {
			f |= TXEP
		}
		if st&socketcan.CtrlRxWarning != 0 {
			f |= RXWAR | EWARN
		}
		if st&socketcan.CtrlTxWarning != 0 {
			f |= TXWAR | EWARN
		}
	}
	if f == 0 {
		f = EWARN
	}
	return f
}

// interfaceUp fails while iface is missing or administratively down, which
// keeps the boot sequence retrying until the link is configured.
func interfaceUp(iface string) func() error {
	return func() error {
		ifi, err := net.InterfaceByName(iface)
		if err != nil {
			return err
		}
		if ifi.Flags&net.FlagUp == 0 {
			return fmt.Errorf("interface %s is down", iface)
		}
		return nil
	}
}
