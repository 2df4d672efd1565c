//go:build tinygo && stm32

package main

import (
	"runtime/volatile"
	"sync/atomic"
	"unsafe"
)

// SDMMC1 register block on the AHB3 peripheral bus.
const sdmmc1Base uintptr = 0x52007000

var sdmmc1Taken uint32

// MMIOBus drives one SDMMC register block directly.
type MMIOBus struct {
	base uintptr
}

// TakeSDMMC1 claims the SDMMC1 block. The claim is exclusive; a second
// take fails. Pin multiplexing and kernel clock routing must already be
// set up by board init.
func TakeSDMMC1() (*MMIOBus, bool) {
	if !atomic.CompareAndSwapUint32(&sdmmc1Taken, 0, 1) {
		return nil, false
	}
	return &MMIOBus{base: sdmmc1Base}, true
}

func (b *MMIOBus) ReadReg(off uint32) uint32 {
	return (*volatile.Register32)(unsafe.Pointer(b.base + uintptr(off))).Get()
}

func (b *MMIOBus) WriteReg(off uint32, v uint32) {
	(*volatile.Register32)(unsafe.Pointer(b.base + uintptr(off))).Set(v)
}
