package core

// RegisterBus is the access path to one SD host controller register
// block. Implementations are MMIO on hardware targets and CardSim in
// tests and desktop examples. A RegisterBus instance is owned by exactly
// one Controller; implementations enforce exclusive take at
// construction time.
type RegisterBus interface {
	ReadReg(off uint32) uint32
	WriteReg(off uint32, v uint32)
}
