//go:build !linux

package driver

import (
	"context"
	"errors"
	"log/slog"
)

var errUnsupported = errors.New("CAN sockets unsupported on this platform")

// OpenSocketCAN is unavailable off Linux.
func OpenSocketCAN(ctx context.Context, iface string, l *slog.Logger) (*Emulator, error) {
	return nil, errUnsupported
}

// OpenBrutella is unavailable off Linux.
func OpenBrutella(ctx context.Context, iface string, l *slog.Logger) (*Emulator, error) {
	return nil, errUnsupported
}
