package diag

import (
	"encoding/binary"
	"errors"
	"io"

	"sdhost/core"
)

// Error codes carried in the first byte of a TypeError payload.
const (
	ErrCodeNoCard   = 0x01
	ErrCodeTransfer = 0x02
	ErrCodeRequest  = 0x03
)

// MaxBlocksPerRead bounds one read response to what a frame can carry.
const MaxBlocksPerRead = MaxPayload / core.BlockSize

// Responder serves link requests against one controller. The firmware
// target runs it over its serial port; tests run it over an in-memory
// pipe.
type Responder struct {
	rw   io.ReadWriter
	ctrl *core.Controller
}

// NewResponder wires a controller to a byte stream.
func NewResponder(rw io.ReadWriter, ctrl *core.Controller) *Responder {
	return &Responder{rw: rw, ctrl: ctrl}
}

// Serve handles requests until the stream fails. Malformed frames are
// answered with an error frame and do not end the loop.
func (r *Responder) Serve() error {
	for {
		if err := r.ServeOne(); err != nil {
			return err
		}
	}
}

// ServeOne handles a single request.
func (r *Responder) ServeOne() error {
	typ, payload, err := ReadFrame(r.rw)
	if errors.Is(err, ErrBadFrame) {
		return r.sendError(ErrCodeRequest, "bad frame")
	}
	if err != nil {
		return err
	}

	switch typ {
	case TypePing:
		return WriteFrame(r.rw, TypePong, payload)

	case TypeCardInfo:
		card, ok := r.ctrl.Card()
		if !ok {
			return r.sendError(ErrCodeNoCard, "no initialized card")
		}
		return WriteFrame(r.rw, TypeCardInfoResp, NewCardReport(card, r.ctrl.Clock()).Encode())

	case TypeReadBlocks:
		if len(payload) != 6 {
			return r.sendError(ErrCodeRequest, "bad read request")
		}
		start := binary.BigEndian.Uint32(payload[:4])
		count := int(binary.BigEndian.Uint16(payload[4:6]))
		if count < 1 || count > MaxBlocksPerRead {
			return r.sendError(ErrCodeRequest, "block count out of range")
		}
		buf := make([]byte, count*core.BlockSize)
		if err := r.ctrl.ReadBlocks(start, buf); err != nil {
			return r.sendError(ErrCodeTransfer, err.Error())
		}
		return WriteFrame(r.rw, TypeBlockData, buf)

	default:
		return r.sendError(ErrCodeRequest, "unknown request")
	}
}

func (r *Responder) sendError(code byte, msg string) error {
	p := append([]byte{code}, msg...)
	return WriteFrame(r.rw, TypeError, p)
}
