package diag

import (
	"encoding/binary"
	"fmt"

	"sdhost/core"
	"sdhost/protocol"
)

// CardReport is the card descriptor exchanged over the link. The cbor
// tags serve host-side tooling that archives probe results.
type CardReport struct {
	HighCapacity bool   `cbor:"high_capacity"`
	Lanes        uint8  `cbor:"lanes"`
	RCA          uint16 `cbor:"rca"`
	Blocks       uint32 `cbor:"blocks"`
	ClockHz      uint32 `cbor:"clock_hz"`
	Manufacturer uint8  `cbor:"manufacturer"`
	OEM          string `cbor:"oem"`
	Product      string `cbor:"product"`
	Serial       uint32 `cbor:"serial"`
}

// reportSize is the fixed wire size: flags, lanes, rca, blocks, clock,
// mid, oem, product, serial.
const reportSize = 1 + 1 + 2 + 4 + 4 + 1 + 2 + 5 + 4

// NewCardReport flattens a card descriptor for the wire.
func NewCardReport(card core.Card, clockHz uint32) CardReport {
	return CardReport{
		HighCapacity: card.Class == protocol.CapacityHigh,
		Lanes:        card.Lanes,
		RCA:          card.RCA,
		Blocks:       card.Blocks,
		ClockHz:      clockHz,
		Manufacturer: card.CID.ManufacturerID(),
		OEM:          card.CID.OEMID(),
		Product:      card.CID.ProductName(),
		Serial:       card.CID.SerialNumber(),
	}
}

// Encode renders the report as a fixed-width big-endian payload.
func (r CardReport) Encode() []byte {
	buf := make([]byte, 0, reportSize)
	var flags byte
	if r.HighCapacity {
		flags = 1
	}
	buf = append(buf, flags, r.Lanes)
	buf = binary.BigEndian.AppendUint16(buf, r.RCA)
	buf = binary.BigEndian.AppendUint32(buf, r.Blocks)
	buf = binary.BigEndian.AppendUint32(buf, r.ClockHz)
	buf = append(buf, r.Manufacturer)
	buf = append(buf, pad(r.OEM, 2)...)
	buf = append(buf, pad(r.Product, 5)...)
	buf = binary.BigEndian.AppendUint32(buf, r.Serial)
	return buf
}

// DecodeCardReport parses a report payload.
func DecodeCardReport(p []byte) (CardReport, error) {
	if len(p) != reportSize {
		return CardReport{}, fmt.Errorf("card report payload is %d bytes, want %d", len(p), reportSize)
	}
	return CardReport{
		HighCapacity: p[0] != 0,
		Lanes:        p[1],
		RCA:          binary.BigEndian.Uint16(p[2:4]),
		Blocks:       binary.BigEndian.Uint32(p[4:8]),
		ClockHz:      binary.BigEndian.Uint32(p[8:12]),
		Manufacturer: p[12],
		OEM:          string(p[13:15]),
		Product:      string(p[15:20]),
		Serial:       binary.BigEndian.Uint32(p[20:24]),
	}, nil
}

func pad(s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	return b
}
