// Package probe is the host-side client of the diagnostic link.
package probe

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"sdhost/core"
	"sdhost/diag"
)

// Client issues requests over an open link and decodes the responses.
type Client struct {
	rw io.ReadWriter
}

// NewClient wraps a byte stream, typically an open serial port.
func NewClient(rw io.ReadWriter) *Client {
	return &Client{rw: rw}
}

// Ping round-trips a token through the device.
func (c *Client) Ping() error {
	token := []byte{0xA5, 0x5A}
	payload, err := c.request(diag.TypePing, token, diag.TypePong)
	if err != nil {
		return err
	}
	if !bytes.Equal(payload, token) {
		return fmt.Errorf("ping echoed %x", payload)
	}
	return nil
}

// CardInfo fetches the device's card descriptor.
func (c *Client) CardInfo() (diag.CardReport, error) {
	payload, err := c.request(diag.TypeCardInfo, nil, diag.TypeCardInfoResp)
	if err != nil {
		return diag.CardReport{}, err
	}
	return diag.DecodeCardReport(payload)
}

// ReadBlocks fetches count blocks starting at block index start.
func (c *Client) ReadBlocks(start uint32, count int) ([]byte, error) {
	if count < 1 || count > diag.MaxBlocksPerRead {
		return nil, fmt.Errorf("block count %d out of range", count)
	}
	req := make([]byte, 6)
	binary.BigEndian.PutUint32(req[:4], start)
	binary.BigEndian.PutUint16(req[4:6], uint16(count))
	payload, err := c.request(diag.TypeReadBlocks, req, diag.TypeBlockData)
	if err != nil {
		return nil, err
	}
	if len(payload) != count*core.BlockSize {
		return nil, fmt.Errorf("device returned %d bytes, want %d", len(payload), count*core.BlockSize)
	}
	return payload, nil
}

func (c *Client) request(typ byte, payload []byte, wantResp byte) ([]byte, error) {
	if err := diag.WriteFrame(c.rw, typ, payload); err != nil {
		return nil, err
	}
	respType, resp, err := diag.ReadFrame(c.rw)
	if err != nil {
		return nil, err
	}
	if respType == diag.TypeError {
		if len(resp) > 0 {
			return nil, fmt.Errorf("device error %#02x: %s", resp[0], resp[1:])
		}
		return nil, fmt.Errorf("device error")
	}
	if respType != wantResp {
		return nil, fmt.Errorf("unexpected response type %#02x", respType)
	}
	return resp, nil
}
