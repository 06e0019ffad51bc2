//go:build linux

package driver

import (
	"testing"

	brutella "github.com/brutella/can"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/uscpte7/CAN-Bus1/internal/can"
	"github.com/uscpte7/CAN-Bus1/internal/metrics"
)

func TestBrutellaHandleCountsDrops(t *testing.T) {
	d := &brutellaDev{rx: make(chan can.Frame, 1), done: make(chan struct{})}
	drops := metrics.Errors.WithLabelValues(metrics.ErrCANRxDrop)
	before := testutil.ToFloat64(drops)

	d.Handle(brutella.Frame{ID: 0x123, Length: 2, Data: [8]uint8{1, 2}})
	d.Handle(brutella.Frame{ID: 0x124, Length: 1})

	if got := testutil.ToFloat64(drops) - before; got != 1 {
		t.Fatalf("expected 1 counted drop, got %v", got)
	}
	fr := <-d.rx
	if fr.ID != 0x123 || fr.Len != 2 || fr.Data[1] != 2 {
		t.Fatalf("unexpected queued frame %v", fr)
	}
}
