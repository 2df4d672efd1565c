package core

import (
	"errors"

	"sdhost/protocol"
)

// BlockSize is the transfer block size. High-capacity cards fix it at
// 512 bytes; standard-capacity cards are configured to match.
const BlockSize = 512

// Config carries the controller parameters that are not discoverable
// from the card. Zero fields take defaults.
type Config struct {
	// KernelHz is the clock feeding the controller's divider.
	KernelHz uint32
	// InitHz is the bus clock during card identification. Defaults to
	// 400 kHz, the identification-mode ceiling.
	InitHz uint32
	// FourLanes asks for a 4-bit data bus when the card supports one.
	FourLanes bool

	// Poll budgets. Every wait loop in the driver is bounded; a loop
	// that exhausts its budget reports the corresponding timeout error.
	CommandBudget  int // status polls per command
	DataBudget     int // status polls per data transfer
	OpCondAttempts int // operating-condition negotiation rounds
	ProgramBudget  int // status polls while the card programs a write
}

func (c Config) withDefaults() Config {
	if c.InitHz == 0 {
		c.InitHz = 400_000
	}
	if c.CommandBudget == 0 {
		c.CommandBudget = 10_000
	}
	if c.DataBudget == 0 {
		c.DataBudget = 1_000_000
	}
	if c.OpCondAttempts == 0 {
		c.OpCondAttempts = 1_000
	}
	if c.ProgramBudget == 0 {
		c.ProgramBudget = 100_000
	}
	return c
}

// Card describes an initialized card.
type Card struct {
	RCA   uint16
	Class protocol.CapacityClass
	OCR   protocol.OCR
	CID   protocol.CID
	CSD   protocol.CSD
	SCR   protocol.SCR
	// Blocks is the card capacity in BlockSize units.
	Blocks uint32
	// Lanes is the negotiated data bus width, 1 or 4.
	Lanes uint8
}

// Capacity returns the card size in bytes.
func (c Card) Capacity() uint64 { return uint64(c.Blocks) * BlockSize }

// Controller drives one SD card through a register bus. It is not safe
// for concurrent use; callers serialize access themselves.
type Controller struct {
	bus      RegisterBus
	cfg      Config
	card     *Card
	busClock uint32
	busDiv   uint32
}

// New wraps a register bus. The bus must not be shared with another
// Controller. The card is not touched until Initialize.
func New(bus RegisterBus, cfg Config) (*Controller, error) {
	if bus == nil {
		return nil, errors.New("nil register bus")
	}
	if cfg.KernelHz == 0 {
		return nil, errors.New("kernel clock not configured")
	}
	return &Controller{bus: bus, cfg: cfg.withDefaults()}, nil
}

// Card returns the active card descriptor. ok is false until a card has
// been initialized successfully.
func (c *Controller) Card() (Card, bool) {
	if c.card == nil {
		return Card{}, false
	}
	return *c.card, true
}

// Clock returns the actual bus clock in Hz, zero before Initialize.
func (c *Controller) Clock() uint32 { return c.busClock }

// setClock programs the divider for the target frequency with the given
// lane configuration.
func (c *Controller) setClock(targetHz uint32, lanes uint8) error {
	div, actual, err := clockDivider(c.cfg.KernelHz, targetHz)
	if err != nil {
		return err
	}
	c.busDiv = div
	c.busClock = actual
	c.writeClkCr(lanes)
	return nil
}

func (c *Controller) writeClkCr(lanes uint8) {
	v := c.busDiv & clkDivMask
	if lanes == 4 {
		v |= clkWideBus
	}
	c.bus.WriteReg(RegClkCr, v|clkFlowCtrl)
}

// SetBusWidth renegotiates the data bus width on an initialized card.
// lanes must be 1 or 4, and 4 requires card support.
func (c *Controller) SetBusWidth(lanes int) error {
	if c.card == nil {
		return ErrNotReady
	}
	if lanes != 1 && lanes != 4 {
		return ErrBusWidth
	}
	if lanes == 4 && !c.card.SCR.SupportsFourLanes() {
		return ErrBusWidth
	}
	if err := c.appCmd(protocol.SetBusWidth(lanes), c.card.RCA); err != nil {
		return err
	}
	c.card.Lanes = uint8(lanes)
	c.writeClkCr(c.card.Lanes)
	return nil
}
