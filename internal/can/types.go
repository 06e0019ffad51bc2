package can

import "fmt"

// Identifier masks and SocketCAN flag bits for can_id (same values as <linux/can.h>).
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// MaxLen is the classic CAN payload limit.
const MaxLen = 8

// Frame is a classic CAN frame as it travels through the bridge.
// ID holds the bare 11- or 29-bit identifier; Extended marks 29-bit frames.
// Only the first Len bytes of Data are valid.
//
// Frames are values: every pipeline stage works on its own copy.
type Frame struct {
	ID       uint32
	Len      uint8
	Extended bool
	Data     [MaxLen]byte
}

// NewFrame builds a frame from an identifier and up to eight payload bytes.
// Extra bytes are ignored.
func NewFrame(id uint32, data ...byte) Frame {
	f := Frame{ID: id}
	if id > CAN_SFF_MASK {
		f.Extended = true
		f.ID &= CAN_EFF_MASK
	}
	n := copy(f.Data[:], data)
	f.Len = uint8(n)
	return f
}

// Payload returns the valid part of Data.
func (f *Frame) Payload() []byte {
	n := f.Len
	if n > MaxLen {
		n = MaxLen
	}
	return f.Data[:n]
}

// SocketID returns the identifier in SocketCAN can_id form (EFF flag set for 29-bit).
func (f Frame) SocketID() uint32 {
	if f.Extended {
		return (f.ID & CAN_EFF_MASK) | CAN_EFF_FLAG
	}
	return f.ID & CAN_SFF_MASK
}

// FromSocketID fills ID and Extended from a SocketCAN can_id. RTR and ERR
// bits are dropped; the bridge relays data frames only.
func (f *Frame) FromSocketID(canID uint32) {
	if canID&CAN_EFF_FLAG != 0 {
		f.ID = canID & CAN_EFF_MASK
		f.Extended = true
		return
	}
	f.ID = canID & CAN_SFF_MASK
	f.Extended = false
}

func (f Frame) String() string {
	return fmt.Sprintf("%03X#% X", f.ID, f.Data[:min(int(f.Len), MaxLen)])
}
