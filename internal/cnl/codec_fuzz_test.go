package cnl

import (
	"bytes"
	"testing"

	"github.com/uscpte7/CAN-Bus1/internal/can"
)

// FuzzCodecDecode feeds arbitrary bytes to the decoder; every decoded frame
// must survive a re-encode.
func FuzzCodecDecode(f *testing.F) {
	c := Codec{}
	f.Add(c.Encode([]can.Frame{mkFrame(0x100, 0)}))
	f.Add(c.Encode([]can.Frame{mkFrame(0x1DC, 8), mkFrame(0x18DAF110, 3)}))
	f.Add([]byte{0, 0, 0, 1, 0})
	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = c.DecodeN(bytes.NewReader(data), 16, func(fr can.Frame) {
			if fr.Len > can.MaxLen {
				t.Fatalf("decoded length %d", fr.Len)
			}
			back, err := c.Decode(bytes.NewReader(c.Encode([]can.Frame{fr})))
			if err != nil || back != fr {
				t.Fatalf("re-encode mismatch: %v -> %v (%v)", fr, back, err)
			}
		})
	})
}
