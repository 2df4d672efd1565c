package core

import (
	"encoding/binary"

	"sdhost/protocol"
)

// SimConfig shapes the simulated card and its failure modes. The zero
// value is a healthy standard-capacity card.
type SimConfig struct {
	// HighCapacity selects a block-addressed SDHC card.
	HighCapacity bool
	// Legacy selects a v1 card that does not answer the interface
	// condition probe.
	Legacy bool
	// Blocks is the card size in 512-byte blocks. Must be a multiple
	// of 1024 for high-capacity cards, 512 otherwise. Defaults to
	// 131072 (64 MiB).
	Blocks uint32
	// OCRWindow is the voltage window the card reports. Defaults to
	// the full 2.7-3.6 V range.
	OCRWindow uint32
	// BusyPolls is how many operating-condition rounds the card stays
	// busy before reporting power-up done. Defaults to 3.
	BusyPolls int
	// ProgramPolls is how many status polls the card spends in the
	// programming state after a write. Defaults to 2.
	ProgramPolls int
	// NarrowOnly advertises a 1-bit-only data bus in the SCR.
	NarrowOnly bool

	// Fault injection.
	NoCard           bool // nothing answers any command
	WrongIfCondEcho  bool // interface condition echoed with a flipped pattern
	StuckBusy        bool // operating-condition negotiation never completes
	CorruptResponses int  // next N checked short responses get a broken checksum
	StuckProgramming bool // card never leaves the programming state
}

func (c SimConfig) withDefaults() SimConfig {
	if c.Blocks == 0 {
		c.Blocks = 131072
	}
	if c.OCRWindow == 0 {
		c.OCRWindow = protocol.OCRHostWindow
	}
	if c.BusyPolls == 0 {
		c.BusyPolls = 3
	}
	if c.ProgramPolls == 0 {
		c.ProgramPolls = 2
	}
	return c
}

// CardSim emulates the host controller register block with one card
// behind it. It implements RegisterBus, so a Controller drives it
// exactly as it would hardware. Command and response frames are built
// and checked with the real checksums, so the protocol package is
// exercised on the modeled wire.
type CardSim struct {
	cfg SimConfig

	// Log records the index of every command received, in order.
	Log []uint8
	// Lanes is the bus width the card was switched to via ACMD6.
	Lanes int

	// controller-side registers
	regs    map[uint32]uint32
	sta     status
	resp    [4]uint32
	respCmd uint32

	// data engine
	rdActive bool
	rd       []byte
	rdPos    int
	wrActive bool
	wr       []byte
	wrMulti  bool
	wrAddr   uint32

	// one-shot data path faults
	corruptRead  bool
	corruptWrite bool
	injOverrun   bool
	injUnderrun  bool

	// card state
	state     uint8
	rca       uint16
	app       bool
	opPolls   int
	prgLeft   int
	blockLen  uint32
	statusErr uint32
	store     map[uint32][]byte
}

// NewCardSim builds a simulator with one powered but uninitialized card.
func NewCardSim(cfg SimConfig) *CardSim {
	return &CardSim{
		cfg:      cfg.withDefaults(),
		regs:     make(map[uint32]uint32),
		state:    protocol.StateIdle,
		rca:      0xB368,
		blockLen: BlockSize,
		store:    make(map[uint32][]byte),
		Lanes:    1,
	}
}

// LoadBlock seeds the card with block content, bypassing the bus.
func (s *CardSim) LoadBlock(idx uint32, data []byte) {
	b := make([]byte, BlockSize)
	copy(b, data)
	s.store[idx] = b
}

// BlockData returns a copy of a block's content, zeros if never written.
func (s *CardSim) BlockData(idx uint32) []byte {
	b := make([]byte, BlockSize)
	copy(b, s.store[idx])
	return b
}

// InjectStatusError raises the given error bits in the card's next
// status-bearing response.
func (s *CardSim) InjectStatusError(bits uint32) {
	s.statusErr = bits
}

// CorruptNextResponses breaks the checksum of the next n checked short
// responses.
func (s *CardSim) CorruptNextResponses(n int) {
	s.cfg.CorruptResponses = n
}

// CorruptNextRead makes the next data read fail its block checksum.
func (s *CardSim) CorruptNextRead() { s.corruptRead = true }

// CorruptNextWrite makes the card reject the next written block; its
// data is discarded.
func (s *CardSim) CorruptNextWrite() { s.corruptWrite = true }

// InjectReadOverrun overruns the receive fifo on the next read.
func (s *CardSim) InjectReadOverrun() { s.injOverrun = true }

// InjectWriteUnderrun underruns the transmit fifo on the next write.
func (s *CardSim) InjectWriteUnderrun() { s.injUnderrun = true }

// WriteReg implements RegisterBus.
func (s *CardSim) WriteReg(off uint32, v uint32) {
	switch off {
	case RegIntClr:
		s.sta &^= status(v)
	case RegCmd:
		s.regs[off] = v
		if v&cmdEnable != 0 {
			s.command(v)
		}
	case RegDCtrl:
		s.regs[off] = v
		if v&dctrlEnable != 0 && v&dctrlCardToHost == 0 && s.wr != nil {
			s.wrActive = true
		}
	case RegFifo:
		s.fifoWrite(v)
	default:
		s.regs[off] = v
	}
}

// ReadReg implements RegisterBus.
func (s *CardSim) ReadReg(off uint32) uint32 {
	switch off {
	case RegStatus:
		return uint32(s.sta | s.fifoFlags())
	case RegResp1, RegResp2, RegResp3, RegResp4:
		return s.resp[(off-RegResp1)/4]
	case RegRespCmd:
		return s.respCmd
	case RegFifo:
		return s.fifoRead()
	case RegDCount:
		return s.regs[RegDLen] - uint32(s.rdPos)
	default:
		return s.regs[off]
	}
}

func (s *CardSim) fifoFlags() status {
	var f status
	if s.rdActive {
		rem := len(s.rd) - s.rdPos
		if rem >= 32 {
			f |= staRxFifoHF
		}
		if rem == 0 {
			f |= staRxFifoE
		}
	} else {
		f |= staRxFifoE
	}
	if s.wrActive && len(s.wr) < int(s.regs[RegDLen]) {
		f |= staTxFifoHE
	}
	return f
}

func (s *CardSim) fifoRead() uint32 {
	if !s.rdActive || s.rdPos+4 > len(s.rd) {
		return 0
	}
	v := binary.LittleEndian.Uint32(s.rd[s.rdPos:])
	s.rdPos += 4
	if s.rdPos == len(s.rd) {
		s.rdActive = false
		if s.corruptRead {
			s.corruptRead = false
			s.sta |= staDCRCFail
		} else {
			s.sta |= staDataEnd | staDBckEnd
		}
		if s.state == protocol.StateSendingData {
			s.state = protocol.StateTransfer
		}
	}
	return v
}

func (s *CardSim) fifoWrite(v uint32) {
	if !s.wrActive {
		return
	}
	if s.injUnderrun {
		s.injUnderrun = false
		s.sta |= staTxUnderr
		return
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	s.wr = append(s.wr, b[:]...)
	if len(s.wr) < int(s.regs[RegDLen]) {
		return
	}
	s.wrActive = false
	if s.corruptWrite {
		s.corruptWrite = false
		s.sta |= staDCRCFail
		s.state = protocol.StateTransfer
		s.wr = nil
		return
	}
	for i := 0; i*BlockSize < len(s.wr); i++ {
		blk := make([]byte, BlockSize)
		copy(blk, s.wr[i*BlockSize:])
		s.store[s.wrAddr+uint32(i)] = blk
	}
	s.wr = nil
	s.sta |= staDataEnd | staDBckEnd
	if s.wrMulti {
		// Stays in the receive state until stopped.
		s.state = protocol.StateReceiveData
	} else {
		s.state = protocol.StateProgramming
		s.prgLeft = s.cfg.ProgramPolls
	}
}

// command models the command line round trip: frame the command, run
// the card state machine, frame the response and run the controller's
// checksum check on it.
func (s *CardSim) command(v uint32) {
	idx := uint8(v & cmdIndexMask)
	kind := protocol.ResponseKind(v >> cmdRespShift & 3)
	arg := s.regs[RegArg]
	s.Log = append(s.Log, idx)

	if s.cfg.NoCard {
		if kind == protocol.RespNone {
			s.sta |= staCmdSent
		} else {
			s.sta |= staCTimeout
		}
		return
	}

	frame := protocol.Command{Index: idx, Arg: arg, Kind: kind}.Frame()
	if !protocol.VerifyFrame(frame) {
		// Cards ignore broken command frames.
		s.sta |= staCTimeout
		return
	}

	resp, long, ok := s.exec(idx, arg)
	if kind == protocol.RespNone {
		s.sta |= staCmdSent
		return
	}
	if !ok {
		s.sta |= staCTimeout
		return
	}
	if long {
		// Long responses carry their own internal protection; modeled
		// as always intact.
		s.resp = resp
		s.sta |= staCmdRend
		return
	}

	f := protocol.ResponseFrame(idx, resp[0])
	if kind == protocol.RespShort && s.cfg.CorruptResponses > 0 {
		s.cfg.CorruptResponses--
		f[5] ^= 0x02
	}
	s.resp[0] = binary.BigEndian.Uint32(f[1:5])
	s.respCmd = uint32(f[0])
	if kind != protocol.RespShortNoCRC && !protocol.VerifyFrame(f) {
		s.sta |= staCCRCFail
		return
	}
	s.sta |= staCmdRend
}

func (s *CardSim) r1() uint32 {
	r := uint32(s.state)<<9 | 1<<8 | s.statusErr
	s.statusErr = 0
	return r
}

// exec runs the card's command state machine. ok reports whether the
// card answered at all.
func (s *CardSim) exec(idx uint8, arg uint32) (resp [4]uint32, long, ok bool) {
	if s.app {
		s.app = false
		switch idx {
		case protocol.ACmdSDAppOpCond:
			return s.execOpCond(arg), false, true
		case protocol.ACmdSetBusWidth:
			r := s.r1()
			if arg == 0b10 {
				s.Lanes = 4
			} else {
				s.Lanes = 1
			}
			return [4]uint32{r}, false, true
		case protocol.ACmdSendSCR:
			scr := [8]byte{0x02, 0x05}
			if s.cfg.NarrowOnly {
				scr = [8]byte{0x01, 0x01}
			}
			s.rd = scr[:]
			s.rdPos = 0
			s.rdActive = true
			return [4]uint32{s.r1()}, false, true
		}
	}

	switch idx {
	case protocol.CmdGoIdleState:
		s.reset()
		return resp, false, true
	case protocol.CmdSendIfCond:
		if s.cfg.Legacy {
			return resp, false, false
		}
		echo := arg
		if s.cfg.WrongIfCondEcho {
			echo ^= 0xFF
		}
		return [4]uint32{echo}, false, true
	case protocol.CmdAppCmd:
		s.app = true
		return [4]uint32{s.r1() | 1<<5}, false, true
	case protocol.CmdAllSendCID:
		if s.state == protocol.StateReady {
			s.state = protocol.StateIdentification
		}
		return s.cidWords(), true, true
	case protocol.CmdSendRelativeAddr:
		s.state = protocol.StateStandby
		return [4]uint32{uint32(s.rca)<<16 | uint32(s.state)<<9}, false, true
	case protocol.CmdSendCSD:
		return csdWords(s.cfg.HighCapacity, s.cfg.Blocks), true, true
	case protocol.CmdSelectCard:
		r := s.r1()
		if uint16(arg>>16) == s.rca {
			s.state = protocol.StateTransfer
		} else {
			s.state = protocol.StateStandby
		}
		return [4]uint32{r}, false, true
	case protocol.CmdSendStatus:
		r := s.r1()
		if s.state == protocol.StateProgramming && !s.cfg.StuckProgramming {
			s.prgLeft--
			if s.prgLeft <= 0 {
				s.state = protocol.StateTransfer
			}
		}
		return [4]uint32{r}, false, true
	case protocol.CmdSetBlockLen:
		s.blockLen = arg
		return [4]uint32{s.r1()}, false, true
	case protocol.CmdSetBlockCount:
		return [4]uint32{s.r1()}, false, true
	case protocol.CmdReadSingleBlock, protocol.CmdReadMultiBlock:
		r := s.r1()
		s.armRead(s.blockAddr(arg), s.regs[RegDLen])
		return [4]uint32{r}, false, true
	case protocol.CmdWriteSingleBlock, protocol.CmdWriteMultiBlock:
		r := s.r1()
		s.wrAddr = s.blockAddr(arg)
		s.wr = []byte{}
		s.wrMulti = idx == protocol.CmdWriteMultiBlock
		s.state = protocol.StateReceiveData
		return [4]uint32{r}, false, true
	case protocol.CmdStopTransmission:
		r := s.r1()
		switch s.state {
		case protocol.StateSendingData:
			s.state = protocol.StateTransfer
		case protocol.StateReceiveData:
			s.state = protocol.StateProgramming
			s.prgLeft = s.cfg.ProgramPolls
		}
		return [4]uint32{r}, false, true
	}
	return resp, false, false
}

func (s *CardSim) execOpCond(arg uint32) [4]uint32 {
	ocr := s.cfg.OCRWindow
	if s.cfg.StuckBusy {
		return [4]uint32{ocr}
	}
	s.opPolls++
	if s.opPolls > s.cfg.BusyPolls {
		ocr |= protocol.OCRPowerUpDone
		if s.cfg.HighCapacity && arg&protocol.OCRHighCapacity != 0 {
			ocr |= protocol.OCRHighCapacity
		}
		if s.state == protocol.StateIdle {
			s.state = protocol.StateReady
		}
	}
	return [4]uint32{ocr}
}

func (s *CardSim) reset() {
	s.state = protocol.StateIdle
	s.app = false
	s.opPolls = 0
	s.rdActive = false
	s.wrActive = false
	s.wr = nil
	s.blockLen = BlockSize
}

// blockAddr translates a transfer argument into a block index per the
// card's addressing mode.
func (s *CardSim) blockAddr(arg uint32) uint32 {
	if s.cfg.HighCapacity {
		return arg
	}
	return arg / s.blockLen
}

func (s *CardSim) armRead(blk, length uint32) {
	s.rd = make([]byte, 0, length)
	for i := uint32(0); uint32(len(s.rd)) < length; i++ {
		s.rd = append(s.rd, s.BlockData(blk+i)...)
	}
	s.rd = s.rd[:length]
	s.rdPos = 0
	s.rdActive = true
	s.state = protocol.StateSendingData
	if s.injOverrun {
		s.injOverrun = false
		s.sta |= staRxOverr
	}
}

func (s *CardSim) cidWords() [4]uint32 {
	raw := [16]byte{0: 0xAA, 8: 0x10}
	copy(raw[1:3], "GO")
	copy(raw[3:8], "SIMCA")
	binary.BigEndian.PutUint32(raw[9:13], 0x00C0FFEE)
	raw[13], raw[14] = 0x01, 0x83 // March 2024
	var w [4]uint32
	for i := range w {
		w[i] = binary.BigEndian.Uint32(raw[4*i:])
	}
	return w
}

// csdWords synthesizes a well-formed CSD for the configured geometry.
func csdWords(highCap bool, blocks uint32) [4]uint32 {
	var hi, lo uint64
	set := func(shift, width uint, val uint64) {
		if shift >= 64 {
			hi |= val << (shift - 64)
			return
		}
		lo |= val << shift
		if shift+width > 64 {
			hi |= val >> (64 - shift)
		}
	}
	set(96, 8, 0x32) // 25 Mbit/s
	set(84, 12, 0x5B5)
	set(80, 4, 9) // 512-byte blocks
	if highCap {
		set(126, 2, 1)
		set(48, 22, uint64(blocks/1024-1))
	} else {
		set(47, 3, 7)
		set(62, 12, uint64(blocks/512-1))
	}
	return [4]uint32{uint32(hi >> 32), uint32(hi), uint32(lo >> 32), uint32(lo)}
}
