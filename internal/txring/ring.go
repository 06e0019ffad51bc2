// Package txring holds the per-channel transmit queue that sits between the
// frame pipeline and a controller's single transmit slot.
package txring

import "github.com/uscpte7/CAN-Bus1/internal/can"

// TxSlot is the part of a controller the ring drains into.
type TxSlot interface {
	IsTxSlotBusy(slot int) bool
	LoadTxSlot(slot int, f can.Frame)
	RequestSend(slot int)
}

// Ring is a fixed-capacity FIFO of frames. Entries live in [head, tail); the
// buffer is compacted back to index 0 whenever it empties instead of
// wrapping, so at most Cap()-1 frames are ever held.
//
// Ring is not safe for concurrent use. The bridge runtime serializes access.
type Ring struct {
	buf     []can.Frame
	head    int
	tail    int
	dropped uint64
}

// New allocates a ring with room for capacity-1 frames. Capacities below 2
// are raised to 2.
func New(capacity int) *Ring {
	if capacity < 2 {
		capacity = 2
	}
	return &Ring{buf: make([]can.Frame, capacity)}
}

// Push appends f. When the ring is full the frame is discarded, the drop is
// counted and Push returns false.
func (r *Ring) Push(f can.Frame) bool {
	if r.tail >= len(r.buf)-1 {
		r.tail = len(r.buf) - 1
		r.dropped++
		return false
	}
	r.buf[r.tail] = f
	r.tail++
	return true
}

// FlushOne moves the oldest frame into TX slot 0 when the slot is free.
// It reports whether a frame was handed over.
func (r *Ring) FlushOne(tx TxSlot) bool {
	if r.head == r.tail || tx.IsTxSlotBusy(0) {
		return false
	}
	tx.LoadTxSlot(0, r.buf[r.head])
	tx.RequestSend(0)
	r.head++
	if r.head == r.tail {
		r.head, r.tail = 0, 0
	}
	return true
}

// Peek returns the oldest frame without removing it.
func (r *Ring) Peek() (can.Frame, bool) {
	if r.head == r.tail {
		return can.Frame{}, false
	}
	return r.buf[r.head], true
}

func (r *Ring) Len() int    { return r.tail - r.head }
func (r *Ring) Empty() bool { return r.head == r.tail }
func (r *Ring) Cap() int    { return len(r.buf) }
func (r *Ring) Head() int   { return r.head }
func (r *Ring) Tail() int   { return r.tail }

// Dropped is the number of frames refused by Push since the last Reset.
func (r *Ring) Dropped() uint64 { return r.dropped }

// Reset empties the ring and clears the drop counter.
func (r *Ring) Reset() {
	r.head, r.tail, r.dropped = 0, 0, 0
}
