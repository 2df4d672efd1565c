// Package diag implements the framed request/response protocol spoken
// between a host tool and firmware driving one SD controller. Frames
// travel over any byte stream; the block checksum engine protects them.
package diag

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"sdhost/protocol"
)

// Frame layout: sync byte, big-endian payload length, type, payload,
// big-endian CRC-16 over length, type and payload.
const (
	FrameSync     = 0x7E
	frameOverhead = 6
	MaxPayload    = 0xFFFF
)

// Frame types. Requests flow host to device, responses device to host.
const (
	TypePing         = 0x01
	TypePong         = 0x02
	TypeCardInfo     = 0x03
	TypeCardInfoResp = 0x04
	TypeReadBlocks   = 0x05
	TypeBlockData    = 0x06
	TypeError        = 0x7F
)

// ErrBadFrame reports a frame that failed its checksum or framing.
var ErrBadFrame = errors.New("malformed frame")

// WriteFrame sends one frame.
func WriteFrame(w io.Writer, typ byte, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("payload %d exceeds frame limit", len(payload))
	}
	buf := make([]byte, 0, len(payload)+frameOverhead)
	buf = append(buf, FrameSync)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(payload)))
	buf = append(buf, typ)
	buf = append(buf, payload...)
	buf = binary.BigEndian.AppendUint16(buf, protocol.CRC16(buf[1:]))
	_, err := w.Write(buf)
	return err
}

// ReadFrame receives one frame, skipping noise before the sync byte.
// It returns ErrBadFrame when the checksum does not match.
func ReadFrame(r io.Reader) (typ byte, payload []byte, err error) {
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, nil, err
		}
		if b[0] == FrameSync {
			break
		}
	}
	var hdr [3]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint16(hdr[:2])
	body := make([]byte, int(n)+2)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	sum := binary.BigEndian.Uint16(body[n:])
	check := make([]byte, 0, int(n)+3)
	check = append(check, hdr[:]...)
	check = append(check, body[:n]...)
	if protocol.CRC16(check) != sum {
		return 0, nil, ErrBadFrame
	}
	return hdr[2], body[:n], nil
}
