// Package cnl speaks the cannelloni TCP framing used by the mirror tap.
package cnl

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/uscpte7/CAN-Bus1/internal/can"
	"github.com/uscpte7/CAN-Bus1/internal/metrics"
)

// Codec encodes/decodes cannelloni frames. Stateless and safe for concurrent use.
type Codec struct{}

// frameMax is the worst-case wire size of one frame: 4 (id) + 1 (len) + 8 (data).
const frameMax = 4 + 1 + can.MaxLen

var (
	// ErrInvalidLength is returned when a frame length (DLC) is outside 0..8.
	ErrInvalidLength = errors.New("cannelloni: invalid length")
	// ErrTruncatedFrame is returned when the underlying reader ends mid-frame.
	ErrTruncatedFrame = errors.New("cannelloni: truncated frame")
)

// Encode packs frames into one buffer.
func (c *Codec) Encode(frames []can.Frame) []byte {
	if len(frames) == 0 {
		return nil
	}
	var buf bytes.Buffer
	buf.Grow(len(frames) * frameMax)
	_, _ = c.EncodeTo(&buf, frames)
	return buf.Bytes()
}

// EncodeTo writes frames to w and returns the bytes written. Each frame is a
// 4-byte big-endian SocketCAN can_id (EFF flag for 29-bit ids), one length
// byte and the payload.
func (c *Codec) EncodeTo(w io.Writer, frames []can.Frame) (int, error) {
	var (
		total int
		rec   [frameMax]byte
	)
	for i := range frames {
		f := &frames[i]
		p := f.Payload()
		binary.BigEndian.PutUint32(rec[:4], f.SocketID())
		rec[4] = byte(len(p))
		copy(rec[5:], p)
		n, err := w.Write(rec[:5+len(p)])
		total += n
		if err != nil {
			return total, fmt.Errorf("cannelloni encode: %w", err)
		}
	}
	return total, nil
}

// Decode reads exactly one frame from r. It returns io.EOF at a clean frame
// boundary. RTR and error flags in the id are discarded.
func (c *Codec) Decode(r io.Reader) (can.Frame, error) {
	var (
		f   can.Frame
		hdr [5]byte
	)
	if _, err := io.ReadFull(r, hdr[:4]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			metrics.IncMalformed()
			return f, fmt.Errorf("cannelloni decode id: %w", ErrTruncatedFrame)
		}
		return f, err
	}
	if _, err := io.ReadFull(r, hdr[4:]); err != nil {
		if errors.Is(err, io.EOF) {
			metrics.IncMalformed()
			return f, fmt.Errorf("cannelloni decode len: %w", ErrTruncatedFrame)
		}
		return f, err
	}
	f.FromSocketID(binary.BigEndian.Uint32(hdr[:4]))
	ln := int(hdr[4] & 0x7F) // high bit is a flag on the wire
	if ln > can.MaxLen {
		metrics.IncMalformed()
		return f, fmt.Errorf("cannelloni decode: %w (%d)", ErrInvalidLength, ln)
	}
	f.Len = uint8(ln)
	if ln > 0 {
		if _, err := io.ReadFull(r, f.Data[:ln]); err != nil {
			metrics.IncMalformed()
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return f, fmt.Errorf("cannelloni decode payload: %w", ErrTruncatedFrame)
			}
			return f, fmt.Errorf("cannelloni decode payload: %w", err)
		}
	}
	return f, nil
}

// DecodeN decodes up to max frames (max <= 0 means until error), calling
// onFrame for each. It returns the count and the terminal error, io.EOF at a
// clean end.
func (c *Codec) DecodeN(r io.Reader, max int, onFrame func(can.Frame)) (int, error) {
	var n int
	for max <= 0 || n < max {
		fr, err := c.Decode(r)
		if err != nil {
			return n, err
		}
		onFrame(fr)
		n++
	}
	return n, nil
}
