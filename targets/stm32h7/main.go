//go:build tinygo && stm32

// Probe firmware: initializes the card on SDMMC1 and serves the
// diagnostic link on the board serial port.
package main

import (
	"machine"
	"time"

	"sdhost/core"
	"sdhost/diag"
)

// kernelHz is the SDMMC kernel clock configured by board init.
const kernelHz = 200_000_000

func main() {
	machine.Serial.Configure(machine.UARTConfig{BaudRate: 115200})

	bus, ok := TakeSDMMC1()
	if !ok {
		panic("sdmmc1 already taken")
	}
	ctrl, err := core.New(bus, core.Config{
		KernelHz:  kernelHz,
		FourLanes: true,
	})
	if err != nil {
		panic(err.Error())
	}

	for {
		if err := ctrl.Initialize(25_000_000); err != nil {
			println("sd init:", err.Error())
			time.Sleep(time.Second)
			continue
		}
		break
	}
	if card, ok := ctrl.Card(); ok {
		println("card ready:", int(card.Blocks), "blocks,", int(card.Lanes), "lane(s)")
	}

	responder := diag.NewResponder(machine.Serial, ctrl)
	for {
		if err := responder.ServeOne(); err != nil {
			println("link:", err.Error())
		}
	}
}
