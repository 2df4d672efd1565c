package core

import (
	"errors"
	"testing"

	"sdhost/protocol"
)

func newTestController(t *testing.T, simCfg SimConfig) (*Controller, *CardSim) {
	t.Helper()
	sim := NewCardSim(simCfg)
	c, err := New(sim, Config{
		KernelHz:       200_000_000,
		FourLanes:      true,
		OpCondAttempts: 32,
		ProgramBudget:  16,
	})
	if err != nil {
		t.Fatal(err)
	}
	return c, sim
}

func cmdIndexOf(log []uint8, idx uint8) int {
	for i, v := range log {
		if v == idx {
			return i
		}
	}
	return -1
}

func TestInitializeHighCapacity(t *testing.T) {
	c, sim := newTestController(t, SimConfig{HighCapacity: true})
	if err := c.Initialize(25_000_000); err != nil {
		t.Fatal(err)
	}
	card, ok := c.Card()
	if !ok {
		t.Fatal("no card published")
	}
	if card.Class != protocol.CapacityHigh {
		t.Errorf("Class = %v, want high", card.Class)
	}
	if card.Blocks != 131072 {
		t.Errorf("Blocks = %d, want 131072", card.Blocks)
	}
	if card.RCA == 0 {
		t.Error("RCA not assigned")
	}
	if card.Lanes != 4 {
		t.Errorf("Lanes = %d, want 4", card.Lanes)
	}
	if sim.Lanes != 4 {
		t.Errorf("card side lanes = %d, want 4", sim.Lanes)
	}
	if c.Clock() != 25_000_000 {
		t.Errorf("Clock = %d, want 25 MHz", c.Clock())
	}
	if got := card.CID.ProductName(); got != "SIMCA" {
		t.Errorf("ProductName = %q", got)
	}

	// Identification must run in order: reset, interface condition,
	// operating conditions, CID, RCA, CSD, select.
	log := sim.Log
	if log[0] != protocol.CmdGoIdleState || log[1] != protocol.CmdSendIfCond {
		t.Fatalf("init does not start with CMD0, CMD8: %v", log)
	}
	order := []uint8{
		protocol.ACmdSDAppOpCond,
		protocol.CmdAllSendCID,
		protocol.CmdSendRelativeAddr,
		protocol.CmdSendCSD,
		protocol.CmdSelectCard,
	}
	last := -1
	for _, idx := range order {
		at := cmdIndexOf(log, idx)
		if at < 0 || at < last {
			t.Fatalf("cmd%d missing or out of order in %v", idx, log)
		}
		last = at
	}
}

func TestInitializeStandardCapacity(t *testing.T) {
	c, sim := newTestController(t, SimConfig{})
	if err := c.Initialize(25_000_000); err != nil {
		t.Fatal(err)
	}
	card, _ := c.Card()
	if card.Class != protocol.CapacityStandard {
		t.Errorf("Class = %v, want standard", card.Class)
	}
	if cmdIndexOf(sim.Log, protocol.CmdSetBlockLen) < 0 {
		t.Error("block length never configured on a standard-capacity card")
	}
}

func TestInitializeLegacyCard(t *testing.T) {
	c, _ := newTestController(t, SimConfig{Legacy: true})
	if err := c.Initialize(25_000_000); err != nil {
		t.Fatal(err)
	}
	card, ok := c.Card()
	if !ok {
		t.Fatal("legacy card not initialized")
	}
	if card.Class != protocol.CapacityStandard {
		t.Errorf("legacy card Class = %v, want standard", card.Class)
	}
}

func TestInterfaceMismatchAborts(t *testing.T) {
	c, sim := newTestController(t, SimConfig{WrongIfCondEcho: true})
	err := c.Initialize(25_000_000)
	if !errors.Is(err, ErrInterfaceMismatch) {
		t.Fatalf("err = %v, want interface mismatch", err)
	}
	if _, ok := c.Card(); ok {
		t.Error("card published after mismatch")
	}
	// Nothing may follow the failed probe.
	if last := sim.Log[len(sim.Log)-1]; last != protocol.CmdSendIfCond {
		t.Errorf("commands sent after mismatch, log %v", sim.Log)
	}
}

func TestStuckBusyInitTimeout(t *testing.T) {
	c, _ := newTestController(t, SimConfig{StuckBusy: true})
	if err := c.Initialize(25_000_000); !errors.Is(err, ErrInitTimeout) {
		t.Fatalf("err = %v, want init timeout", err)
	}
	if _, ok := c.Card(); ok {
		t.Error("card published after init timeout")
	}
	if c.Clock() != 0 {
		t.Errorf("Clock = %d after init timeout, want 0", c.Clock())
	}
}

func TestVoltageMismatch(t *testing.T) {
	c, _ := newTestController(t, SimConfig{OCRWindow: 0x00000080})
	if err := c.Initialize(25_000_000); !errors.Is(err, ErrVoltageMismatch) {
		t.Fatalf("err = %v, want voltage mismatch", err)
	}
}

func TestNoCardTimesOut(t *testing.T) {
	c, _ := newTestController(t, SimConfig{NoCard: true})
	err := c.Initialize(25_000_000)
	if !errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("err = %v, want command timeout", err)
	}
	var ce *CommandError
	if !errors.As(err, &ce) {
		t.Fatal("timeout not wrapped in CommandError")
	}
	if ce.Index != protocol.CmdAppCmd {
		t.Errorf("failing index = %d, want %d", ce.Index, protocol.CmdAppCmd)
	}
}

func TestCorruptResponseChecksum(t *testing.T) {
	c, _ := newTestController(t, SimConfig{CorruptResponses: 1})
	err := c.Initialize(25_000_000)
	if !errors.Is(err, ErrResponseChecksum) {
		t.Fatalf("err = %v, want response checksum", err)
	}
	var ce *CommandError
	if !errors.As(err, &ce) || ce.Index != protocol.CmdSendIfCond {
		t.Errorf("checksum failure not attributed to CMD8: %v", err)
	}
}

func TestReinitializeDiscardsCard(t *testing.T) {
	c, sim := newTestController(t, SimConfig{HighCapacity: true})
	if err := c.Initialize(25_000_000); err != nil {
		t.Fatal(err)
	}
	sim.CorruptNextResponses(1)
	if err := c.Initialize(25_000_000); err == nil {
		t.Fatal("second initialization unexpectedly succeeded")
	}
	if _, ok := c.Card(); ok {
		t.Error("stale card still published after failed re-init")
	}
	if c.Clock() != 0 {
		t.Error("stale bus clock still published after failed re-init")
	}
}

func TestNarrowCardStaysOnOneLane(t *testing.T) {
	c, sim := newTestController(t, SimConfig{NarrowOnly: true})
	if err := c.Initialize(25_000_000); err != nil {
		t.Fatal(err)
	}
	card, _ := c.Card()
	if card.Lanes != 1 {
		t.Errorf("Lanes = %d, want 1", card.Lanes)
	}
	if cmdIndexOf(sim.Log, protocol.ACmdSetBusWidth) >= 0 {
		t.Error("bus width switch attempted on a 1-bit-only card")
	}
}

func TestSetBusWidth(t *testing.T) {
	c, _ := newTestController(t, SimConfig{HighCapacity: true})
	if err := c.Initialize(25_000_000); err != nil {
		t.Fatal(err)
	}
	if err := c.SetBusWidth(1); err != nil {
		t.Fatal(err)
	}
	if card, _ := c.Card(); card.Lanes != 1 {
		t.Errorf("Lanes = %d after narrowing", card.Lanes)
	}
	if err := c.SetBusWidth(4); err != nil {
		t.Fatal(err)
	}
	if err := c.SetBusWidth(2); !errors.Is(err, ErrBusWidth) {
		t.Errorf("2-lane request not rejected: %v", err)
	}

	narrow, _ := newTestController(t, SimConfig{NarrowOnly: true})
	if err := narrow.Initialize(25_000_000); err != nil {
		t.Fatal(err)
	}
	if err := narrow.SetBusWidth(4); !errors.Is(err, ErrBusWidth) {
		t.Errorf("4-lane switch on narrow card not rejected: %v", err)
	}
}
