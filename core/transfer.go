package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"sdhost/protocol"
)

var (
	// ErrBufferSize: transfer buffers must hold a whole number of
	// blocks.
	ErrBufferSize = errors.New("buffer not a whole number of blocks")
	// ErrOutOfRange: the block range extends past the card capacity.
	ErrOutOfRange = errors.New("block range outside card capacity")
)

// ReadBlocks reads len(buf)/BlockSize consecutive blocks starting at
// block index start. On error the buffer contents are unspecified; no
// partial result is reported as success.
func (c *Controller) ReadBlocks(start uint32, buf []byte) error {
	n, addr, err := c.span(start, buf)
	if err != nil {
		return err
	}
	if n == 1 {
		return c.readData(protocol.ReadSingleBlock(addr), buf, BlockSize)
	}
	if _, err := c.issue(protocol.SetBlockCount(uint32(n))); err != nil {
		return err
	}
	rdErr := c.readData(protocol.ReadMultiBlock(addr), buf, BlockSize)
	_, stopErr := c.issue(protocol.StopTransmission())
	if rdErr != nil {
		return rdErr
	}
	return stopErr
}

// WriteBlocks writes len(buf)/BlockSize consecutive blocks starting at
// block index start. It returns once the card has finished programming.
func (c *Controller) WriteBlocks(start uint32, buf []byte) error {
	n, addr, err := c.span(start, buf)
	if err != nil {
		return err
	}
	if n == 1 {
		if err := c.writeData(protocol.WriteSingleBlock(addr), buf, BlockSize); err != nil {
			return err
		}
		return c.waitProgramDone(ErrDataTimeout)
	}
	if _, err := c.issue(protocol.SetBlockCount(uint32(n))); err != nil {
		return err
	}
	wrErr := c.writeData(protocol.WriteMultiBlock(addr), buf, BlockSize)
	_, stopErr := c.issue(protocol.StopTransmission())
	if wrErr != nil {
		return wrErr
	}
	if stopErr != nil {
		return stopErr
	}
	return c.waitProgramDone(ErrStopTransmission)
}

// span validates a transfer buffer and translates the starting block
// index into the card's address form: block index for high-capacity
// cards, byte offset for standard-capacity ones.
func (c *Controller) span(start uint32, buf []byte) (n int, addr uint32, err error) {
	if c.card == nil {
		return 0, 0, ErrNotReady
	}
	if len(buf) == 0 || len(buf)%BlockSize != 0 {
		return 0, 0, ErrBufferSize
	}
	n = len(buf) / BlockSize
	if uint64(start)+uint64(n) > uint64(c.card.Blocks) {
		return 0, 0, ErrOutOfRange
	}
	addr = start
	if c.card.Class == protocol.CapacityStandard {
		addr = start * BlockSize
	}
	return n, addr, nil
}

// readData arms the data path for a card-to-host transfer, issues the
// command and pumps the fifo until the transfer completes. blockSize
// must be a power of two.
func (c *Controller) readData(cmd protocol.Command, buf []byte, blockSize uint32) error {
	c.armData(len(buf), blockSize, true)
	if _, err := c.issue(cmd); err != nil {
		return err
	}
	pos := 0
	for i := 0; i < c.cfg.DataBudget; i++ {
		st := status(c.bus.ReadReg(RegStatus))
		if err := dataError(st, cmd.Index); err != nil {
			c.bus.WriteReg(RegIntClr, uint32(staDataFlags))
			return err
		}
		switch {
		case st&staRxFifoHF != 0 && len(buf)-pos >= 32:
			for k := 0; k < 8; k++ {
				binary.LittleEndian.PutUint32(buf[pos:], c.bus.ReadReg(RegFifo))
				pos += 4
			}
		case st&staRxFifoE == 0 && pos < len(buf):
			binary.LittleEndian.PutUint32(buf[pos:], c.bus.ReadReg(RegFifo))
			pos += 4
		}
		if pos == len(buf) && st&staDataEnd != 0 {
			c.bus.WriteReg(RegIntClr, uint32(staDataFlags))
			return nil
		}
	}
	return fmt.Errorf("cmd%d: %w", cmd.Index, ErrDataTimeout)
}

// writeData issues the command, then arms the data path host-to-card
// and feeds the fifo until the transfer completes.
func (c *Controller) writeData(cmd protocol.Command, buf []byte, blockSize uint32) error {
	if _, err := c.issue(cmd); err != nil {
		return err
	}
	c.armData(len(buf), blockSize, false)
	pos := 0
	for i := 0; i < c.cfg.DataBudget; i++ {
		st := status(c.bus.ReadReg(RegStatus))
		if err := dataError(st, cmd.Index); err != nil {
			c.bus.WriteReg(RegIntClr, uint32(staDataFlags))
			return err
		}
		if st&staTxFifoHE != 0 && pos < len(buf) {
			for k := 0; k < 8 && pos < len(buf); k++ {
				c.bus.WriteReg(RegFifo, binary.LittleEndian.Uint32(buf[pos:]))
				pos += 4
			}
		}
		if pos == len(buf) && st&staDataEnd != 0 {
			c.bus.WriteReg(RegIntClr, uint32(staDataFlags))
			return nil
		}
	}
	return fmt.Errorf("cmd%d: %w", cmd.Index, ErrDataTimeout)
}

func (c *Controller) armData(length int, blockSize uint32, cardToHost bool) {
	c.bus.WriteReg(RegIntClr, uint32(staDataFlags))
	// Data timeout of roughly one second of bus cycles.
	c.bus.WriteReg(RegDTimer, c.busClock)
	c.bus.WriteReg(RegDLen, uint32(length))
	v := dctrlEnable | uint32(bits.TrailingZeros32(blockSize))<<dctrlBlockShift
	if cardToHost {
		v |= dctrlCardToHost
	}
	c.bus.WriteReg(RegDCtrl, v)
}

// dataError maps data path status flags to transfer errors, tagged
// with the command index that started the transfer.
func dataError(st status, index uint8) error {
	switch {
	case st&staDCRCFail != 0:
		return fmt.Errorf("cmd%d: %w", index, ErrDataCRC)
	case st&staDTimeout != 0:
		return fmt.Errorf("cmd%d: %w", index, ErrDataTimeout)
	case st&staRxOverr != 0:
		return fmt.Errorf("cmd%d: %w", index, ErrFifoOverrun)
	case st&staTxUnderr != 0:
		return fmt.Errorf("cmd%d: %w", index, ErrFifoUnderrun)
	}
	return nil
}

// waitProgramDone polls the card status until it leaves the receiving
// and programming states. onTimeout names the error for this wait's
// context.
func (c *Controller) waitProgramDone(onTimeout error) error {
	for i := 0; i < c.cfg.ProgramBudget; i++ {
		resp, err := c.issue(protocol.SendStatus(c.card.RCA))
		if err != nil {
			return err
		}
		switch protocol.CardStatus(resp[0]).State() {
		case protocol.StateReceiveData, protocol.StateProgramming:
		default:
			return nil
		}
	}
	return onTimeout
}
