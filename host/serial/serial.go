// Package serial opens the host side of the diagnostic link.
package serial

import (
	"fmt"
	"time"

	"github.com/tarm/serial"
)

// Config holds the link parameters. USB CDC devices ignore the baud
// rate, but the driver still wants one.
type Config struct {
	Device      string // e.g. /dev/ttyACM0, COM3
	Baud        int
	ReadTimeout time.Duration // zero blocks forever
}

// DefaultConfig returns the parameters the probe firmware expects.
// Probe responses can take a while on a slow bus, so the read timeout
// is generous.
func DefaultConfig(device string) Config {
	return Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 2 * time.Second,
	}
}

// Port is an open serial device carrying diagnostic frames.
type Port struct {
	p *serial.Port
}

// Open opens the device described by cfg.
func Open(cfg Config) (*Port, error) {
	p, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}
	return &Port{p: p}, nil
}

func (p *Port) Read(b []byte) (int, error)  { return p.p.Read(b) }
func (p *Port) Write(b []byte) (int, error) { return p.p.Write(b) }
func (p *Port) Close() error                { return p.p.Close() }
