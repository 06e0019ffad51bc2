package telemetry

import (
	"github.com/uscpte7/CAN-Bus1/internal/can"
)

// Fixed line widths.
const (
	FrameLineLen    = 30
	OverflowLineLen = 12
	StatusLineLen   = 8
	UnknownLineLen  = 25
)

// DefaultIdent answers the identify command.
const DefaultIdent = "MUXSAN CAN bridge\n"

const hexDigits = "0123456789ABCDEF"

// FrameLine formats a relayed frame as "<ch>|<ID>|<b0> <b1> ... <b7>\n".
// The identifier is printed as its low 12 bits and the payload column is
// padded with spaces to 23 characters.
func FrameLine(ch int, f can.Frame) [FrameLineLen]byte {
	var b [FrameLineLen]byte
	for i := range b {
		b[i] = ' '
	}
	b[0] = '0' + byte(ch%10)
	b[1] = '|'
	b[2] = hexDigits[f.ID>>8&0xF]
	b[3] = hexDigits[f.ID>>4&0xF]
	b[4] = hexDigits[f.ID&0xF]
	b[5] = '|'
	p := 6
	for i, v := range f.Payload() {
		if i > 0 {
			p++
		}
		b[p] = hexDigits[v>>4]
		b[p+1] = hexDigits[v&0xF]
		p += 2
	}
	b[FrameLineLen-1] = '\n'
	return b
}

// OverflowLine reports a receive overflow: "CAN<ch> RX OVF\n".
func OverflowLine(ch int) [OverflowLineLen]byte {
	b := [OverflowLineLen]byte{'C', 'A', 'N', 'X', ' ', 'R', 'X', ' ', 'O', 'V', 'F', '\n'}
	b[3] = '0' + byte(ch%10)
	return b
}

// StatusLine is the idle heartbeat "ms NNNN\n" with ms modulo 10000.
func StatusLine(ms uint16) [StatusLineLen]byte {
	b := [StatusLineLen]byte{'m', 's', ' ', '0', '0', '0', '0', '\n'}
	v := ms % 10000
	for i := 6; i >= 3; i-- {
		b[i] = '0' + byte(v%10)
		v /= 10
	}
	return b
}

// IdentLine returns text as a line, appending a newline when missing.
func IdentLine(text string) []byte {
	if text == "" {
		text = DefaultIdent
	}
	if text[len(text)-1] != '\n' {
		text += "\n"
	}
	return []byte(text)
}

// UnknownCommandLine echoes an unrecognized command byte at offset 22 of
// "Unrecognized Command:   \n".
func UnknownCommandLine(cmd byte) [UnknownLineLen]byte {
	var b [UnknownLineLen]byte
	copy(b[:], "Unrecognized Command:   \n")
	b[22] = cmd
	return b
}
