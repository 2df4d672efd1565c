package core

import "errors"

// Register offsets of the SD host controller block.
const (
	RegPower   uint32 = 0x00 // power control
	RegClkCr   uint32 = 0x04 // clock divider, bus width, flow control
	RegArg     uint32 = 0x08 // command argument
	RegCmd     uint32 = 0x0C // command index, response kind, state machine enable
	RegRespCmd uint32 = 0x10 // index echoed by the last response
	RegResp1   uint32 = 0x14 // response word, most significant first
	RegResp2   uint32 = 0x18
	RegResp3   uint32 = 0x1C
	RegResp4   uint32 = 0x20
	RegDTimer  uint32 = 0x24 // data timeout in bus clock cycles
	RegDLen    uint32 = 0x28 // data transfer length in bytes
	RegDCtrl   uint32 = 0x2C // data path enable, direction, block size
	RegDCount  uint32 = 0x30 // remaining data count
	RegStatus  uint32 = 0x34 // status flags
	RegIntClr  uint32 = 0x38 // write 1 to clear status flags
	RegMask    uint32 = 0x3C // interrupt mask, unused in polled mode
	RegFifo    uint32 = 0x80 // data fifo window
)

// status is the flag set read from RegStatus and cleared via RegIntClr.
type status uint32

const (
	staCCRCFail status = 1 << 0  // response checksum failed
	staDCRCFail status = 1 << 1  // data block checksum failed
	staCTimeout status = 1 << 2  // no response start bit
	staDTimeout status = 1 << 3  // data path timed out
	staTxUnderr status = 1 << 4  // transmit fifo ran dry mid-block
	staRxOverr  status = 1 << 5  // receive fifo overflowed
	staCmdRend  status = 1 << 6  // response received
	staCmdSent  status = 1 << 7  // command sent, no response expected
	staDataEnd  status = 1 << 8  // data transfer complete
	staDBckEnd  status = 1 << 10 // block transferred and checksum ok
	staDPSMAct  status = 1 << 12 // data path state machine busy
	staCPSMAct  status = 1 << 13 // command path state machine busy
	staTxFifoHE status = 1 << 14 // transmit fifo at least half empty
	staRxFifoHF status = 1 << 15 // receive fifo at least half full
	staRxFifoE  status = 1 << 19 // receive fifo empty
	staBusyD0   status = 1 << 20 // card signalling busy on DAT0
)

const (
	staCmdFlags  = staCCRCFail | staCTimeout | staCmdRend | staCmdSent
	staDataFlags = staDCRCFail | staDTimeout | staTxUnderr | staRxOverr |
		staDataEnd | staDBckEnd
)

// RegCmd fields.
const (
	cmdIndexMask uint32 = 0x3F
	cmdStop      uint32 = 1 << 7
	cmdRespShift        = 8 // 2-bit response kind, protocol.ResponseKind encoding
	cmdEnable    uint32 = 1 << 12
)

// RegClkCr fields.
const (
	clkDivMask   uint32 = 0x3FF
	clkWideBus   uint32 = 1 << 14 // 4-bit data bus
	clkFlowCtrl  uint32 = 1 << 17 // hardware flow control
	clkDivLimit         = 1023
)

// RegDCtrl fields.
const (
	dctrlEnable     uint32 = 1 << 0
	dctrlCardToHost uint32 = 1 << 1 // direction: card to host
	dctrlBlockShift        = 4      // log2 of block size
)

// RegPower values.
const powerOn uint32 = 0b11

// ErrClockRange reports a bus frequency the divider cannot reach.
var ErrClockRange = errors.New("requested bus clock outside the divider range")

// clockDivider computes the divider field for a target bus frequency.
// The bus runs at kernel/(2*div); div is rounded up so the result never
// exceeds the request.
func clockDivider(kernelHz, targetHz uint32) (div, actualHz uint32, err error) {
	if targetHz == 0 || kernelHz == 0 {
		return 0, 0, ErrClockRange
	}
	d := (uint64(kernelHz) + uint64(2*targetHz) - 1) / uint64(2*targetHz)
	if d < 1 {
		d = 1
	}
	if d > clkDivLimit {
		return 0, 0, ErrClockRange
	}
	return uint32(d), kernelHz / (2 * uint32(d)), nil
}
