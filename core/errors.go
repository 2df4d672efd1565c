package core

import (
	"errors"
	"fmt"

	"sdhost/protocol"
)

// Initialization failures.
var (
	// ErrInterfaceMismatch: the card answered the interface condition
	// probe with a wrong echo. The card is unusable at this voltage.
	ErrInterfaceMismatch = errors.New("interface condition echo mismatch")
	// ErrVoltageMismatch: the card's voltage window does not overlap
	// the window this host offers.
	ErrVoltageMismatch = errors.New("card voltage window does not overlap host window")
	// ErrInitTimeout: the card never left its power-up busy phase
	// within the configured attempt budget.
	ErrInitTimeout = errors.New("card stuck busy during initialization")
	// ErrUnsupportedGeometry: the card's block geometry is outside the
	// legal set.
	ErrUnsupportedGeometry = errors.New("unsupported card block geometry")
)

// Command failures, wrapped in CommandError with the command index.
var (
	ErrCommandTimeout   = errors.New("no response within the command timeout")
	ErrResponseChecksum = errors.New("response failed the checksum")
	ErrCardStatus       = errors.New("card reported status error bits")
)

// Transfer failures.
var (
	// ErrNotReady: no initialized card behind this controller.
	ErrNotReady = errors.New("no initialized card")
	// ErrDataTimeout: the data path timed out before the transfer
	// completed.
	ErrDataTimeout = errors.New("data path timeout")
	// ErrDataCRC: a data block failed its checksum. None of the
	// transfer's data may be trusted.
	ErrDataCRC = errors.New("data block failed the checksum")
	// ErrFifoUnderrun: the transmit fifo ran dry mid-block.
	ErrFifoUnderrun = errors.New("transmit fifo underrun")
	// ErrFifoOverrun: the receive fifo overflowed.
	ErrFifoOverrun = errors.New("receive fifo overrun")
	// ErrStopTransmission: the card stayed busy after the transfer was
	// stopped; its state is unknown.
	ErrStopTransmission = errors.New("card stuck busy after stop transmission")
	// ErrBusWidth: the requested lane count is not available.
	ErrBusWidth = errors.New("unsupported bus width")
)

// CommandError reports a failed bus command together with its index.
// Err is one of ErrCommandTimeout, ErrResponseChecksum or ErrCardStatus;
// for ErrCardStatus, Status holds the card's R1 status word.
type CommandError struct {
	Index  uint8
	Err    error
	Status protocol.CardStatus
}

func (e *CommandError) Error() string {
	if errors.Is(e.Err, ErrCardStatus) {
		return fmt.Sprintf("cmd%d: %v: %#08x", e.Index, e.Err, e.Status.ErrorBits())
	}
	return fmt.Sprintf("cmd%d: %v", e.Index, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }
