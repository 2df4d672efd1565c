package protocol

import "encoding/binary"

// CapacityClass tells how block addresses are formed for a card.
type CapacityClass uint8

const (
	// CapacityStandard cards (SDSC) are byte addressed and accept a
	// configurable block length.
	CapacityStandard CapacityClass = iota
	// CapacityHigh cards (SDHC/SDXC) are addressed in fixed 512-byte
	// blocks.
	CapacityHigh
)

func (c CapacityClass) String() string {
	if c == CapacityHigh {
		return "high"
	}
	return "standard"
}

// OCR is the operating conditions register returned by ACMD41.
type OCR uint32

// PowerUpDone reports whether the card has left its power-up busy phase.
func (o OCR) PowerUpDone() bool { return uint32(o)&OCRPowerUpDone != 0 }

// HighCapacity reports the CCS bit. Only meaningful once PowerUpDone.
func (o OCR) HighCapacity() bool { return uint32(o)&OCRHighCapacity != 0 }

// VoltageWindow returns the card's supported voltage window, bits 23:15.
func (o OCR) VoltageWindow() uint32 { return uint32(o) & OCRHostWindow }

// Class returns the card's capacity class per the CCS bit.
func (o OCR) Class() CapacityClass {
	if o.HighCapacity() {
		return CapacityHigh
	}
	return CapacityStandard
}

// CID is the 128-bit card identification register.
type CID [16]byte

// NewCID assembles a CID from the four long-response words, most
// significant word first.
func NewCID(words [4]uint32) CID {
	var c CID
	for i, w := range words {
		binary.BigEndian.PutUint32(c[4*i:], w)
	}
	return c
}

// ManufacturerID returns the MID byte assigned by the SD association.
func (c CID) ManufacturerID() uint8 { return c[0] }

// OEMID returns the two-character OEM/application identifier.
func (c CID) OEMID() string { return string(c[1:3]) }

// ProductName returns the five-character product name.
func (c CID) ProductName() string { return string(c[3:8]) }

// ProductRevision returns the BCD product revision as (major, minor).
func (c CID) ProductRevision() (uint8, uint8) { return c[8] >> 4, c[8] & 0xF }

// SerialNumber returns the 32-bit product serial number.
func (c CID) SerialNumber() uint32 { return binary.BigEndian.Uint32(c[9:13]) }

// ManufactureDate returns the manufacturing year and month.
func (c CID) ManufactureDate() (year uint16, month uint8) {
	mdt := uint16(c[13]&0xF)<<8 | uint16(c[14])
	return 2000 + mdt>>4, uint8(mdt) & 0xF
}

// CSD is the 128-bit card-specific data register. It is kept as two
// 64-bit halves and read through bit-field extraction, matching the
// register's documented bit positions.
type CSD struct {
	Hi, Lo uint64
}

// NewCSD assembles a CSD from the four long-response words, most
// significant word first.
func NewCSD(words [4]uint32) CSD {
	return CSD{
		Hi: uint64(words[0])<<32 | uint64(words[1]),
		Lo: uint64(words[2])<<32 | uint64(words[3]),
	}
}

func (c CSD) field(shift, width uint) uint32 {
	var v uint64
	if shift >= 64 {
		v = c.Hi >> (shift - 64)
	} else {
		v = c.Lo>>shift | c.Hi<<(64-shift)
	}
	return uint32(v) & (1<<width - 1)
}

// Version returns the CSD structure version: 0 for v1 (standard
// capacity), 1 for v2 (high capacity).
func (c CSD) Version() uint8 { return uint8(c.field(126, 2)) }

// BlockLength returns the card's read block length in bytes. ok is
// false when the encoded length is outside the legal 512/1024/2048 set.
func (c CSD) BlockLength() (n uint32, ok bool) {
	bl := c.field(80, 4)
	if bl < 9 || bl > 11 {
		return 0, false
	}
	return 1 << bl, true
}

// Blocks returns the number of blocks of BlockLength bytes the card
// holds.
func (c CSD) Blocks() uint32 {
	if c.Version() >= 1 {
		// v2: fixed 512-byte blocks, (C_SIZE+1) * 512 KiB capacity.
		return (c.field(48, 22) + 1) * 1024
	}
	mult := uint32(1) << (c.field(47, 3) + 2)
	return (c.field(62, 12) + 1) * mult
}

// Capacity returns the card capacity in bytes.
func (c CSD) Capacity() uint64 {
	bl, ok := c.BlockLength()
	if !ok {
		return 0
	}
	return uint64(c.Blocks()) * uint64(bl)
}

// CommandClasses returns the 12-bit supported command class set.
func (c CSD) CommandClasses() uint16 { return uint16(c.field(84, 12)) }

// tranSpeedMul10 maps the TRAN_SPEED multiplier code to ten times its
// value, avoiding floating point.
var tranSpeedMul10 = [16]uint32{0, 10, 12, 13, 15, 20, 25, 30, 35, 40, 45, 50, 55, 60, 70, 80}

// MaxTransferRate decodes TRAN_SPEED into a bit rate in Hz. A typical
// card reports 0x32, 25 Mbit/s.
func (c CSD) MaxTransferRate() uint32 {
	ts := c.field(96, 8)
	unit := [4]uint32{10_000, 100_000, 1_000_000, 10_000_000}
	if ts&7 > 3 {
		return 0
	}
	return unit[ts&7] * tranSpeedMul10[ts>>3&0xF]
}

// SCR is the 64-bit SD configuration register, fetched via ACMD51 over
// the data lines.
type SCR uint64

// NewSCR assembles an SCR from its wire representation, most
// significant byte first.
func NewSCR(b [8]byte) SCR { return SCR(binary.BigEndian.Uint64(b[:])) }

// SupportsFourLanes reports whether the card can run a 4-bit data bus.
func (s SCR) SupportsFourLanes() bool { return s&(1<<50) != 0 }

// SpecVersion returns the SD_SPEC field: 0 for 1.0x, 1 for 1.10,
// 2 for 2.00 and later.
func (s SCR) SpecVersion() uint8 { return uint8(s >> 56 & 0xF) }

// Card states reported in bits 12:9 of the R1 status word.
const (
	StateIdle           = 0
	StateReady          = 1
	StateIdentification = 2
	StateStandby        = 3
	StateTransfer       = 4
	StateSendingData    = 5
	StateReceiveData    = 6
	StateProgramming    = 7
	StateDisconnect     = 8
)

// StatusErrorMask selects the error bits of the R1 card status word:
// address, CRC, command and general error conditions.
const StatusErrorMask uint32 = 0xFFF9C004

// CardStatus is the 32-bit R1 status word.
type CardStatus uint32

// State returns the current-state field, one of the State constants.
func (s CardStatus) State() uint8 { return uint8(s >> 9 & 0xF) }

// ErrorBits returns the active error bits, zero when the card reports
// no error.
func (s CardStatus) ErrorBits() uint32 { return uint32(s) & StatusErrorMask }

// ReadyForData reports whether the card's data buffer can accept data.
func (s CardStatus) ReadyForData() bool { return s&(1<<8) != 0 }

// AppCmdArmed reports whether the card will interpret the next command
// as an application command.
func (s CardStatus) AppCmdArmed() bool { return s&(1<<5) != 0 }
