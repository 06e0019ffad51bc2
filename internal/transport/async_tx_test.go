package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/uscpte7/CAN-Bus1/internal/can"
)

var (
	errOverflow = errors.New("overflow")
	errSendFail = errors.New("send fail")
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestAsyncTxFramesDelivered(t *testing.T) {
	var sent, after atomic.Int64
	ax := NewAsyncTx(context.Background(), 4, func(fr can.Frame) error {
		sent.Add(1)
		return nil
	}, Hooks{OnAfter: func() { after.Add(1) }})
	defer ax.Close()
	for i := 0; i < 3; i++ {
		if err := ax.Send(can.NewFrame(uint32(i))); err != nil {
			t.Fatalf("unexpected send error: %v", err)
		}
	}
	waitFor(t, func() bool { return sent.Load() == 3 && after.Load() == 3 })
}

func TestAsyncTxByteChunksKeepOrder(t *testing.T) {
	got := make(chan string, 4)
	ax := NewAsyncTx(context.Background(), 4, func(b []byte) error {
		got <- string(b)
		return nil
	}, Hooks{})
	defer ax.Close()
	for _, s := range []string{"a", "bc", "def"} {
		if err := ax.Send([]byte(s)); err != nil {
			t.Fatalf("send %q: %v", s, err)
		}
	}
	for _, want := range []string{"a", "bc", "def"} {
		select {
		case s := <-got:
			if s != want {
				t.Fatalf("got %q want %q", s, want)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timeout waiting for %q", want)
		}
	}
}

func TestAsyncTxOverflow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var drops atomic.Int64
	block := make(chan struct{})
	ax := NewAsyncTx(ctx, 1, func(fr can.Frame) error { <-block; return nil }, Hooks{OnDrop: func() error { drops.Add(1); return errOverflow }})
	defer func() { close(block); ax.Close() }()
	// First frame is taken by the worker, second fills the queue.
	if err := ax.Send(can.Frame{}); err != nil {
		t.Fatalf("unexpected error enqueue first: %v", err)
	}
	waitFor(t, func() bool { return ax.Pending() == 0 })
	if err := ax.Send(can.Frame{}); err != nil {
		t.Fatalf("unexpected error enqueue second: %v", err)
	}
	if err := ax.Send(can.Frame{}); !errors.Is(err, errOverflow) {
		t.Fatalf("expected overflow error, got %v", err)
	}
	if drops.Load() != 1 {
		t.Fatalf("expected 1 drop, got %d", drops.Load())
	}
}

func TestAsyncTxSendError(t *testing.T) {
	var errs atomic.Int64
	ax := NewAsyncTx(context.Background(), 2, func(fr can.Frame) error { return errSendFail }, Hooks{OnError: func(error) { errs.Add(1) }})
	defer ax.Close()
	_ = ax.Send(can.Frame{})
	waitFor(t, func() bool { return errs.Load() > 0 })
}

func TestAsyncTxSendAfterClose(t *testing.T) {
	tx := NewAsyncTx(context.Background(), 2, func(fr can.Frame) error { return nil }, Hooks{})
	tx.Close()
	if err := tx.Send(can.NewFrame(123)); !errors.Is(err, ErrAsyncTxClosed) {
		t.Fatalf("expected ErrAsyncTxClosed, got %v", err)
	}
}

func TestAsyncTxCloseConcurrentSend(t *testing.T) {
	for i := 0; i < 100; i++ {
		ax := NewAsyncTx(context.Background(), 1, func(fr can.Frame) error { return nil }, Hooks{})
		done := make(chan error, 1)
		go func() {
			done <- ax.Send(can.Frame{})
		}()
		time.Sleep(1 * time.Millisecond)
		ax.Close()
		if err := <-done; err != nil && !errors.Is(err, ErrAsyncTxClosed) {
			t.Fatalf("iteration %d: unexpected send error %v", i, err)
		}
	}
}
