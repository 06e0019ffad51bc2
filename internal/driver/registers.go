package driver

// Register addresses of the MCP2515 family controller.
const (
	RegCANSTAT  = 0x0E
	RegCANCTRL  = 0x0F
	RegEFLG     = 0x2D
	RegCANINTE  = 0x2B
	RegCANINTF  = 0x2C
	RegTXB0CTRL = 0x30
	RegTXB1CTRL = 0x40
	RegTXB2CTRL = 0x50
	RegRXB0CTRL = 0x60
	RegRXB1CTRL = 0x70
)

// CANINTF bits.
const (
	RX0IF = 0x01
	RX1IF = 0x02
	TX0IF = 0x04
	TX1IF = 0x08
	TX2IF = 0x10
	ERRIF = 0x20
	WAKIF = 0x40
	MERRF = 0x80

	// RxFlags covers both receive slots.
	RxFlags = RX0IF | RX1IF
	// ErrorCause are the interrupt causes that send the pipeline to EFLG.
	ErrorCause = MERRF | ERRIF
	// ErrorClear are the cause bits cleared once the error path has run.
	ErrorClear = MERRF | WAKIF | ERRIF
)

// EFLG bits.
const (
	EWARN  = 0x01
	RXWAR  = 0x02
	TXWAR  = 0x04
	RXEP   = 0x08
	TXEP   = 0x10
	TXBO   = 0x20
	RX0OVR = 0x40
	RX1OVR = 0x80

	RxOverflow = RX0OVR | RX1OVR
)

// TXBnCTRL bits.
const (
	TXREQ = 0x08
	TXERR = 0x10
	MLOA  = 0x20
	ABTF  = 0x40
)

// REQOP mask of CANCTRL / OPMOD mask of CANSTAT.
const OpModeMask = 0xE0

// NumRxSlots and NumTxSlots describe the controller's hardware buffers.
const (
	NumRxSlots = 2
	NumTxSlots = 3
)

func txCtrl(slot int) byte {
	switch slot {
	case 1:
		return RegTXB1CTRL
	case 2:
		return RegTXB2CTRL
	default:
		return RegTXB0CTRL
	}
}
