// Package rules holds the relay configuration: which identifiers get their
// payload rewritten, which are never repeated, and which channel each
// channel forwards to.
package rules

import (
	"errors"
	"fmt"

	"github.com/uscpte7/CAN-Bus1/internal/can"
	"github.com/uscpte7/CAN-Bus1/internal/crc8"
)

// MaxChannel is the highest channel number a route may name.
const MaxChannel = 3

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid rules")

// Rule rewrites selected payload bytes of a frame.
type Rule struct {
	// Mask selects the positions of Data that are overwritten.
	Mask [can.MaxLen]bool
	Data [can.MaxLen]byte
	// Checksum seals byte 7 with the CRC-8 of bytes 0..6 after the rewrite
	// and forces the frame length to 8.
	Checksum bool
}

// Apply rewrites f in place.
func (r Rule) Apply(f *can.Frame) {
	for i, set := range r.Mask {
		if set {
			f.Data[i] = r.Data[i]
			if int(f.Len) <= i {
				f.Len = uint8(i + 1)
			}
		}
	}
	if r.Checksum {
		f.Len = can.MaxLen
		crc8.Seal(&f.Data)
	}
}

// Set is the complete relay configuration. It is read-only once a runtime
// starts using it.
type Set struct {
	Rewrite   map[uint32]Rule
	Blacklist map[uint32]bool
	// Routes maps a receiving channel to the channel its frames are repeated on.
	Routes map[int]int
}

// Default returns the compiled-in configuration: 0x1DC is rewritten to
// FF FF FF FF 1F FF FC plus checksum, 0x59E is never repeated, channels 1
// and 2 repeat into each other and channel 3 only listens.
func Default() *Set {
	var r Rule
	copy(r.Data[:], []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x1F, 0xFF, 0xFC})
	for i := 0; i < crc8.InputLen; i++ {
		r.Mask[i] = true
	}
	r.Checksum = true
	return &Set{
		Rewrite:   map[uint32]Rule{0x1DC: r},
		Blacklist: map[uint32]bool{0x59E: true},
		Routes:    map[int]int{1: 2, 2: 1},
	}
}

// Table keys up to 0x7FF name standard frames, larger keys extended ones.
// An extended frame never matches a standard key of the same value.
func keyOf(f *can.Frame) (uint32, bool) {
	if f.Extended != (f.ID > can.CAN_SFF_MASK) {
		return 0, false
	}
	return f.ID, true
}

// Mutate applies the rewrite rule for f, if any, and reports whether one
// matched.
func (s *Set) Mutate(f *can.Frame) bool {
	id, ok := keyOf(f)
	if !ok {
		return false
	}
	r, ok := s.Rewrite[id]
	if !ok {
		return false
	}
	r.Apply(f)
	return true
}

// Blocked reports whether f must not be repeated.
func (s *Set) Blocked(f can.Frame) bool {
	id, ok := keyOf(&f)
	return ok && s.Blacklist[id]
}

// Route returns the forwarding target of ch.
func (s *Set) Route(ch int) (int, bool) {
	to, ok := s.Routes[ch]
	return to, ok
}

// Validate checks routes and identifiers. It does not modify s.
func (s *Set) Validate() error {
	for from, to := range s.Routes {
		if from < 1 || from > MaxChannel || to < 1 || to > MaxChannel {
			return fmt.Errorf("%w: route %d->%d outside channels 1..%d", ErrInvalid, from, to, MaxChannel)
		}
		if from == to {
			return fmt.Errorf("%w: route %d->%d loops back", ErrInvalid, from, to)
		}
	}
	for id := range s.Rewrite {
		if id > can.CAN_EFF_MASK {
			return fmt.Errorf("%w: rewrite id 0x%X exceeds 29 bits", ErrInvalid, id)
		}
	}
	for id := range s.Blacklist {
		if id > can.CAN_EFF_MASK {
			return fmt.Errorf("%w: blacklist id 0x%X exceeds 29 bits", ErrInvalid, id)
		}
	}
	return nil
}
