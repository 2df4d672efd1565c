package core

import (
	"errors"

	"sdhost/protocol"
)

// MaxBusHz is the default-speed bus ceiling. Initialize clips the
// requested frequency to it.
const MaxBusHz = 25_000_000

// Initialize brings a freshly powered card to the transfer state and
// publishes its descriptor. targetHz is the bus clock to run at after
// identification, clipped to MaxBusHz. On any failure no descriptor is
// published and the previous one, if any, is discarded.
func (c *Controller) Initialize(targetHz uint32) (err error) {
	c.card = nil
	c.busClock = 0
	c.busDiv = 0

	// Identification programs a slow clock below; a failed attempt must
	// not leave it published.
	defer func() {
		if err != nil {
			c.busClock = 0
			c.busDiv = 0
		}
	}()

	c.bus.WriteReg(RegPower, powerOn)
	if err := c.setClock(c.cfg.InitHz, 1); err != nil {
		return err
	}

	if _, err := c.issue(protocol.GoIdleState()); err != nil {
		return err
	}

	// Interface condition probe. v2 cards echo the argument; v1 cards
	// stay silent. Any other echo means the card is unusable.
	v2 := false
	resp, err := c.issue(protocol.SendIfCond())
	switch {
	case err == nil:
		if resp[0]&0xFFF != protocol.SendIfCondPattern {
			return ErrInterfaceMismatch
		}
		v2 = true
	case errors.Is(err, ErrCommandTimeout):
	default:
		return err
	}

	ocr, err := c.negotiateOpCond(v2)
	if err != nil {
		return err
	}
	if ocr.VoltageWindow()&protocol.OCRHostWindow == 0 {
		return ErrVoltageMismatch
	}

	resp, err = c.issue(protocol.AllSendCID())
	if err != nil {
		return err
	}
	cid := protocol.NewCID(resp)

	resp, err = c.issue(protocol.SendRelativeAddr())
	if err != nil {
		return err
	}
	rca := uint16(resp[0] >> 16)

	resp, err = c.issue(protocol.SendCSD(rca))
	if err != nil {
		return err
	}
	csd := protocol.NewCSD(resp)
	if _, ok := csd.BlockLength(); !ok {
		return ErrUnsupportedGeometry
	}

	if _, err := c.issue(protocol.SelectCard(rca)); err != nil {
		return err
	}

	card := Card{
		RCA:    rca,
		Class:  ocr.Class(),
		OCR:    ocr,
		CID:    cid,
		CSD:    csd,
		Blocks: uint32(csd.Capacity() / BlockSize),
		Lanes:  1,
	}

	// Standard-capacity cards may default to another block length;
	// force the uniform one.
	if card.Class == protocol.CapacityStandard {
		if _, err := c.issue(protocol.SetBlockLen(BlockSize)); err != nil {
			return err
		}
	}

	// The SCR gates 4-lane operation. Failure to fetch it, or to switch
	// width, leaves the card usable on one lane.
	if scr, err := c.fetchSCR(rca); err == nil {
		card.SCR = scr
		if c.cfg.FourLanes && scr.SupportsFourLanes() {
			if err := c.appCmd(protocol.SetBusWidth(4), rca); err == nil {
				card.Lanes = 4
			}
		}
	}

	if targetHz > MaxBusHz {
		targetHz = MaxBusHz
	}
	if err := c.setClock(targetHz, card.Lanes); err != nil {
		return err
	}

	c.card = &card
	return nil
}

// negotiateOpCond polls the operating-condition negotiation until the
// card reports power-up done, bounded by the configured attempt budget.
func (c *Controller) negotiateOpCond(v2 bool) (protocol.OCR, error) {
	arg := protocol.OCRHostWindow
	if v2 {
		arg |= protocol.OCRHighCapacity
	}
	for i := 0; i < c.cfg.OpCondAttempts; i++ {
		if _, err := c.issue(protocol.AppCmd(0)); err != nil {
			return 0, err
		}
		resp, err := c.issue(protocol.SDAppOpCond(arg))
		if err != nil {
			return 0, err
		}
		if ocr := protocol.OCR(resp[0]); ocr.PowerUpDone() {
			return ocr, nil
		}
	}
	return 0, ErrInitTimeout
}

// fetchSCR reads the 8-byte SD configuration register over the data
// lines.
func (c *Controller) fetchSCR(rca uint16) (protocol.SCR, error) {
	if _, err := c.issue(protocol.AppCmd(rca)); err != nil {
		return 0, err
	}
	// The first byte off the wire lands in the low bits of a fifo
	// word, so unpacking words little-endian restores wire order.
	var buf [8]byte
	if err := c.readData(protocol.SendSCR(), buf[:], 8); err != nil {
		return 0, err
	}
	return protocol.NewSCR(buf), nil
}
