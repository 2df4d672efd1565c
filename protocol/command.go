package protocol

import "encoding/binary"

// ResponseKind selects how a command's response is received and checked.
// The values match the 2-bit WAITRESP encoding of the controller's
// command register.
type ResponseKind uint8

const (
	// RespNone expects no response (CMD0, CMD12 deselect).
	RespNone ResponseKind = 0b00
	// RespShort expects a 48-bit response with a valid CRC-7.
	RespShort ResponseKind = 0b01
	// RespShortNoCRC expects a 48-bit response whose CRC field is not
	// checked (R3, the OCR response to ACMD41).
	RespShortNoCRC ResponseKind = 0b10
	// RespLong expects a 136-bit response (R2: CID or CSD).
	RespLong ResponseKind = 0b11
)

// Command indices used by the card initialization and transfer sequences.
// Indices above 55 in the application command set are reached by sending
// CMD55 first.
const (
	CmdGoIdleState      = 0  // reset card to idle
	CmdAllSendCID       = 2  // broadcast, cards answer with CID
	CmdSendRelativeAddr = 3  // card publishes its RCA
	CmdSelectCard       = 7  // toggle card between stby and tran
	CmdSendIfCond       = 8  // voltage check, v2 cards echo the pattern
	CmdSendCSD          = 9  // addressed card sends its CSD
	CmdStopTransmission = 12 // end an open-ended multi-block transfer
	CmdSendStatus       = 13 // addressed card sends its 32-bit status
	CmdSetBlockLen      = 16 // set block length for SDSC cards
	CmdReadSingleBlock  = 17
	CmdReadMultiBlock   = 18
	CmdSetBlockCount    = 23 // pre-declare the length of a multi-block transfer
	CmdWriteSingleBlock = 24
	CmdWriteMultiBlock  = 25
	CmdAppCmd           = 55 // next command is an application command

	ACmdSetBusWidth = 6  // 1-lane or 4-lane data bus
	ACmdSDAppOpCond = 41 // negotiate operating conditions, poll until powered up
	ACmdSendSCR     = 51 // card sends its 64-bit SCR via the data lines
)

// Operating-condition argument and response bits (ACMD41 / OCR).
const (
	// OCRHostWindow is the voltage window this host offers: the full
	// 2.7-3.6 V range, bits 23:15 of the OCR.
	OCRHostWindow uint32 = 0x00FF8000
	// OCRHighCapacity (HCS in the argument, CCS in the response) asks
	// for / reports block-addressed high-capacity operation.
	OCRHighCapacity uint32 = 1 << 30
	// OCRPowerUpDone is set in the response once the card has finished
	// its power-up routine. While clear the card is still busy.
	OCRPowerUpDone uint32 = 1 << 31
)

// SendIfCondPattern is the CMD8 argument: 2.7-3.6 V (0x1) in bits 11:8
// and the 0xAA check pattern the card must echo back.
const SendIfCondPattern uint32 = 0x1AA

// Command is one 48-bit command to be driven onto the CMD line: a 6-bit
// index, a 32-bit argument and the response kind the host must arm for.
type Command struct {
	Index uint8
	Arg   uint32
	Kind  ResponseKind
	// HasStatus marks commands whose short response carries the card
	// status word (R1/R6) and must be screened for card-side error bits.
	HasStatus bool
}

// Frame returns the command as transmitted on the wire: start+direction
// bits, index, argument, CRC-7 and end bit.
func (c Command) Frame() [6]byte {
	var f [6]byte
	f[0] = 0x40 | c.Index&0x3F
	binary.BigEndian.PutUint32(f[1:5], c.Arg)
	f[5] = CRC7(f[:5])<<1 | 1
	return f
}

// ResponseFrame builds the 48-bit short response a card sends for the
// given command index and 32-bit payload.
func ResponseFrame(index uint8, payload uint32) [6]byte {
	var f [6]byte
	f[0] = index & 0x3F
	binary.BigEndian.PutUint32(f[1:5], payload)
	f[5] = CRC7(f[:5])<<1 | 1
	return f
}

// VerifyFrame reports whether a 48-bit frame is intact: transmission
// bits, end bit and CRC-7 all check out.
func VerifyFrame(f [6]byte) bool {
	return f[0]&0x80 == 0 && f[5]&1 == 1 && f[5]>>1 == CRC7(f[:5])
}

// GoIdleState resets the card to the idle state. No response.
func GoIdleState() Command {
	return Command{Index: CmdGoIdleState, Kind: RespNone}
}

// SendIfCond probes for a v2 card. v2 cards echo the argument back;
// v1 cards do not answer at all.
func SendIfCond() Command {
	return Command{Index: CmdSendIfCond, Arg: SendIfCondPattern, Kind: RespShort}
}

// AppCmd announces that the next command is an application command.
// Before the card has an address the RCA argument is zero.
func AppCmd(rca uint16) Command {
	return Command{Index: CmdAppCmd, Arg: uint32(rca) << 16, Kind: RespShort, HasStatus: true}
}

// SDAppOpCond negotiates operating conditions. The response is the OCR,
// sent without CRC protection, so card-status screening does not apply.
func SDAppOpCond(arg uint32) Command {
	return Command{Index: ACmdSDAppOpCond, Arg: arg, Kind: RespShortNoCRC}
}

// AllSendCID asks all cards on the bus to send their CID.
func AllSendCID() Command {
	return Command{Index: CmdAllSendCID, Kind: RespLong}
}

// SendRelativeAddr asks the card to publish a relative card address.
func SendRelativeAddr() Command {
	return Command{Index: CmdSendRelativeAddr, Kind: RespShort}
}

// SendCSD asks the addressed card for its CSD.
func SendCSD(rca uint16) Command {
	return Command{Index: CmdSendCSD, Arg: uint32(rca) << 16, Kind: RespLong}
}

// SelectCard moves the addressed card into the transfer state. With a
// zero RCA it deselects all cards instead, and no card answers.
func SelectCard(rca uint16) Command {
	kind := RespShort
	if rca == 0 {
		kind = RespNone
	}
	return Command{Index: CmdSelectCard, Arg: uint32(rca) << 16, Kind: kind, HasStatus: rca != 0}
}

// SetBusWidth configures the data bus width; lanes must be 1 or 4.
// Application command.
func SetBusWidth(lanes int) Command {
	var arg uint32
	if lanes == 4 {
		arg = 0b10
	}
	return Command{Index: ACmdSetBusWidth, Arg: arg, Kind: RespShort, HasStatus: true}
}

// SendSCR asks the card for its SCR, delivered over the data lines.
// Application command.
func SendSCR() Command {
	return Command{Index: ACmdSendSCR, Kind: RespShort, HasStatus: true}
}

// SendStatus asks the addressed card for its 32-bit status word.
func SendStatus(rca uint16) Command {
	return Command{Index: CmdSendStatus, Arg: uint32(rca) << 16, Kind: RespShort, HasStatus: true}
}

// SetBlockLen sets the block length in bytes for standard-capacity cards.
func SetBlockLen(n uint32) Command {
	return Command{Index: CmdSetBlockLen, Arg: n, Kind: RespShort, HasStatus: true}
}

// SetBlockCount pre-declares the number of blocks of the following
// multi-block transfer.
func SetBlockCount(n uint32) Command {
	return Command{Index: CmdSetBlockCount, Arg: n, Kind: RespShort, HasStatus: true}
}

// ReadSingleBlock reads one block at the given card address.
func ReadSingleBlock(addr uint32) Command {
	return Command{Index: CmdReadSingleBlock, Arg: addr, Kind: RespShort, HasStatus: true}
}

// ReadMultiBlock reads consecutive blocks starting at the given address.
func ReadMultiBlock(addr uint32) Command {
	return Command{Index: CmdReadMultiBlock, Arg: addr, Kind: RespShort, HasStatus: true}
}

// WriteSingleBlock writes one block at the given card address.
func WriteSingleBlock(addr uint32) Command {
	return Command{Index: CmdWriteSingleBlock, Arg: addr, Kind: RespShort, HasStatus: true}
}

// WriteMultiBlock writes consecutive blocks starting at the given address.
func WriteMultiBlock(addr uint32) Command {
	return Command{Index: CmdWriteMultiBlock, Arg: addr, Kind: RespShort, HasStatus: true}
}

// StopTransmission terminates an open-ended multi-block transfer. The
// card answers with R1b: a status response followed by busy on DAT0.
func StopTransmission() Command {
	return Command{Index: CmdStopTransmission, Kind: RespShort, HasStatus: true}
}
