package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/uscpte7/CAN-Bus1/internal/bridge"
	"github.com/uscpte7/CAN-Bus1/internal/driver"
)

// openDriver is a hook for tests.
var openDriver = func(ctx context.Context, backend, iface string, l *slog.Logger) (driver.Driver, error) {
	return driver.Open(ctx, backend, iface, l)
}

// openChannels opens one controller per configured interface. Channels with
// no interface stay nil. On error the controllers opened so far are closed.
func openChannels(ctx context.Context, cfg *appConfig, l *slog.Logger) (bridge.Channels, func(), error) {
	var devs bridge.Channels
	cleanup := func() {
		for ch, d := range devs {
			if d == nil {
				continue
			}
			if err := d.Close(); err != nil {
				l.Warn("can_close_error", "ch", ch, "error", err)
			}
		}
	}
	for ch := 1; ch <= bridge.MaxChannels; ch++ {
		iface := cfg.channels[ch]
		if iface == "" {
			continue
		}
		d, err := openDriver(ctx, cfg.backend, iface, l.With("ch", ch, "if", iface))
		if err != nil {
			cleanup()
			return bridge.Channels{}, func() {}, fmt.Errorf("channel %d (%s): %w", ch, iface, err)
		}
		devs[ch] = d
		l.Info("can_open", "ch", ch, "if", iface, "backend", cfg.backend)
	}
	return devs, cleanup, nil
}
