//go:build linux

package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	brutella "github.com/brutella/can"

	"github.com/uscpte7/CAN-Bus1/internal/can"
	"github.com/uscpte7/CAN-Bus1/internal/metrics"
	"github.com/uscpte7/CAN-Bus1/internal/socketcan"
)

const brutellaRxQueue = 64

// brutellaDev adapts github.com/brutella/can's publish/subscribe bus to the
// blocking socketcan.Dev surface used by Attach.
type brutellaDev struct {
	bus     *brutella.Bus
	rx      chan can.Frame
	done    chan struct{}
	once    sync.Once
	timeout time.Duration
}

// Handle implements brutella.Handler.
func (d *brutellaDev) Handle(frame brutella.Frame) {
	var fr can.Frame
	fr.FromSocketID(frame.ID)
	fr.Len = frame.Length
	if fr.Len > can.MaxLen {
		fr.Len = can.MaxLen
	}
	fr.Data = frame.Data
	select {
	case d.rx <- fr:
	default:
		metrics.IncError(metrics.ErrCANRxDrop)
	}
}

func (d *brutellaDev) ReadFrame(fr *can.Frame) error {
	t := time.NewTimer(d.timeout)
	defer t.Stop()
	select {
	case f := <-d.rx:
		*fr = f
		return nil
	case <-t.C:
		return socketcan.ErrReadTimeout
	case <-d.done:
		return socketcan.ErrReadTimeout
	}
}

func (d *brutellaDev) WriteFrame(fr can.Frame) error {
	return d.bus.Publish(brutella.Frame{
		ID:     fr.SocketID(),
		Length: fr.Len,
		Data:   fr.Data,
	})
}

func (d *brutellaDev) Close() error {
	var err error
	d.once.Do(func() {
		close(d.done)
		err = d.bus.Disconnect()
	})
	return err
}

// OpenBrutella connects to iface through github.com/brutella/can.
func OpenBrutella(ctx context.Context, iface string, l *slog.Logger) (*Emulator, error) {
	bus, err := brutella.NewBusForInterfaceWithName(iface)
	if err != nil {
		return nil, fmt.Errorf("brutella open %s: %w", iface, err)
	}
	d := &brutellaDev{
		bus:     bus,
		rx:      make(chan can.Frame, brutellaRxQueue),
		done:    make(chan struct{}),
		timeout: 100 * time.Millisecond,
	}
	bus.Subscribe(d)
	go func() {
		if err := bus.ConnectAndPublish(); err != nil {
			select {
			case <-d.done:
			default:
				l.Warn("brutella_bus_end", "if", iface, "error", err)
			}
		}
	}()
	l.Info("brutella_open", "if", iface)
	return Attach(ctx, iface, d, l, WithInitCheck(interfaceUp(iface))), nil
}
