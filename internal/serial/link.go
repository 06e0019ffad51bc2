// Package serial carries the bridge's control link: single command bytes
// in, telemetry text out.
package serial

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/uscpte7/CAN-Bus1/internal/logging"
	"github.com/uscpte7/CAN-Bus1/internal/metrics"
	"github.com/uscpte7/CAN-Bus1/internal/transport"
)

const (
	rxQueueSize    = 64   // command bytes waiting for the slow tick
	txQueueSize    = 32   // chunks waiting for the port writer
	maxPending     = 4096 // bytes buffered between two Service calls
	readBufSize    = 256
	rxBackoffMin   = 20 * time.Millisecond
	rxBackoffMax   = 500 * time.Millisecond
	eofRetryPeriod = 100 * time.Millisecond
)

var (
	// ErrTxOverflow reports that outbound text was dropped.
	ErrTxOverflow = errors.New("serial tx overflow")
	// ErrClosed is returned by Write after Close.
	ErrClosed = errors.New("serial link closed")
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// Link is safe for concurrent use.
type Link struct {
	port Port
	rx   chan byte
	tx   *transport.AsyncTx[[]byte]
	l    *slog.Logger

	mu      sync.Mutex
	pending []byte
	closed  bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewLink starts the reader goroutine and the write worker on port.
func NewLink(parent context.Context, port Port, l *slog.Logger) *Link {
	if l == nil {
		l = logging.L()
	}
	ctx, cancel := context.WithCancel(parent)
	k := &Link{
		port:    port,
		rx:      make(chan byte, rxQueueSize),
		l:       l,
		pending: make([]byte, 0, maxPending),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	k.tx = transport.NewAsyncTx(ctx, txQueueSize, func(b []byte) error {
		_, err := port.Write(b)
		return err
	}, transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrSerialWrite)
			l.Error("serial_write_error", "error", err)
		},
		OnDrop: func() error {
			metrics.IncError(metrics.ErrSerialOverflow)
			return ErrTxOverflow
		},
	})
	go k.readLoop(ctx)
	return k
}

func (k *Link) readLoop(ctx context.Context) {
	defer close(k.done)
	defer k.l.Debug("serial_rx_end")
	buf := make([]byte, readBufSize)
	backoff := rxBackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := k.port.Read(buf)
		for _, b := range buf[:n] {
			select {
			case k.rx <- b:
			default:
				metrics.IncError(metrics.ErrSerialRxDrop)
			}
		}
		if n > 0 {
			backoff = rxBackoffMin
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil { // shutting down
			return
		}
		var perr *os.PathError
		if errors.As(err, &perr) && !errors.Is(err, os.ErrDeadlineExceeded) {
			k.l.Warn("serial_gone", "error", err)
			return
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			sleepFn(eofRetryPeriod)
			continue
		}
		metrics.IncError(metrics.ErrSerialRead)
		k.l.Warn("serial_read_error", "error", err, "backoff", backoff)
		sleepFn(backoff)
		backoff *= 2
		if backoff > rxBackoffMax {
			backoff = rxBackoffMax
		}
	}
}

// PollByte returns the oldest received byte without blocking.
func (k *Link) PollByte() (byte, bool) {
	select {
	case b := <-k.rx:
		return b, true
	default:
		return 0, false
	}
}

// Write buffers p until the next Service. Bytes beyond the buffer limit
// are dropped and reported as ErrTxOverflow.
func (k *Link) Write(p []byte) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return 0, ErrClosed
	}
	room := maxPending - len(k.pending)
	if len(p) > room {
		k.pending = append(k.pending, p[:room]...)
		metrics.IncError(metrics.ErrSerialOverflow)
		return room, ErrTxOverflow
	}
	k.pending = append(k.pending, p...)
	return len(p), nil
}

// Service hands everything buffered since the last call to the port writer.
func (k *Link) Service() {
	k.mu.Lock()
	if k.closed || len(k.pending) == 0 {
		k.mu.Unlock()
		return
	}
	chunk := make([]byte, len(k.pending))
	copy(chunk, k.pending)
	k.pending = k.pending[:0]
	k.mu.Unlock()
	if err := k.tx.Send(chunk); err != nil {
		k.l.Debug("serial_tx_drop", "bytes", len(chunk), "error", err)
	}
}

// Pending returns the number of bytes waiting for Service.
func (k *Link) Pending() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.pending)
}

// Done is closed once the reader goroutine has exited.
func (k *Link) Done() <-chan struct{} { return k.done }

// Close stops the writer and closes the port. The reader exits when its
// pending Read returns; stdin may keep it parked until the process ends.
func (k *Link) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	k.mu.Unlock()
	k.cancel()
	err := k.port.Close()
	k.tx.Close()
	return err
}
