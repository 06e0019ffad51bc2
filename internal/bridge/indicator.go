package bridge

import (
	"log/slog"
	"sync/atomic"

	"github.com/uscpte7/CAN-Bus1/internal/metrics"
)

// MetricsIndicator publishes the indicator state as the fault gauge and
// logs transitions.
type MetricsIndicator struct {
	fault atomic.Bool
	ready atomic.Bool
	l     *slog.Logger
}

func NewMetricsIndicator(l *slog.Logger) *MetricsIndicator {
	return &MetricsIndicator{l: l}
}

func (i *MetricsIndicator) SetFault(on bool) {
	if i.fault.Swap(on) != on {
		metrics.SetFault(on)
		i.l.Debug("fault_indicator", "on", on)
	}
}

func (i *MetricsIndicator) SetReady(on bool) {
	if i.ready.Swap(on) != on {
		i.l.Info("ready_indicator", "on", on)
	}
}

func (i *MetricsIndicator) Fault() bool { return i.fault.Load() }
func (i *MetricsIndicator) Ready() bool { return i.ready.Load() }
