//go:build linux

package driver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/uscpte7/CAN-Bus1/internal/socketcan"
)

// openSocketCANDevice is a hook for tests (overridden in unit tests).
var openSocketCANDevice = func(iface string) (socketcan.Dev, error) { return socketcan.Open(iface) }

// OpenSocketCAN binds a raw CAN socket to iface and returns its controller.
func OpenSocketCAN(ctx context.Context, iface string, l *slog.Logger) (*Emulator, error) {
	dev, err := openSocketCANDevice(iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan open %s: %w", iface, err)
	}
	l.Info("socketcan_open", "if", iface)
	return Attach(ctx, iface, dev, l, WithInitCheck(interfaceUp(iface))), nil
}
