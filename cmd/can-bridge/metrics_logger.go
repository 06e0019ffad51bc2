package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/uscpte7/CAN-Bus1/internal/metrics"
)

// startMetricsLogger periodically logs counter totals for setups without a
// Prometheus scraper.
func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"rx", snap.Rx,
					"tx", snap.Tx,
					"forwarded", snap.Forwarded,
					"ring_drops", snap.RingDrops,
					"rx_overflows", snap.RxOverflows,
					"rewritten", snap.Rewritten,
					"blacklisted", snap.Blacklisted,
					"telemetry_bytes", snap.TelemetryBytes,
					"telemetry_overflows", snap.TelemetryOverflows,
					"boots", snap.Boots,
					"resets", snap.Resets,
					"mirror_rx", snap.MirrorRx,
					"mirror_tx", snap.MirrorTx,
					"hub_drops", snap.HubDrops,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
