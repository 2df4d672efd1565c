// sdprobe talks to firmware running the diagnostic link responder and
// queries the card behind it.
//
// Usage:
//
//	sdprobe -device /dev/ttyACM0 -info
//	sdprobe -device /dev/ttyACM0 -info -cbor card.cbor
//	sdprobe -device /dev/ttyACM0 -read 2048 -count 4 -out blocks.bin
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"

	"sdhost/host/probe"
	"sdhost/host/serial"
)

func main() {
	device := flag.String("device", "", "serial device of the probe firmware")
	baud := flag.Int("baud", 115200, "baud rate")
	info := flag.Bool("info", false, "query the card descriptor")
	cborOut := flag.String("cbor", "", "write the card descriptor to this file as CBOR")
	read := flag.Int64("read", -1, "read blocks starting at this block index")
	count := flag.Int("count", 1, "number of blocks to read")
	out := flag.String("out", "", "write block data to this file instead of stdout hex")
	flag.Parse()

	if *device == "" {
		fmt.Fprintln(os.Stderr, "sdprobe: -device is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg := serial.DefaultConfig(*device)
	cfg.Baud = *baud
	port, err := serial.Open(cfg)
	if err != nil {
		fatal(err)
	}
	defer port.Close()

	client := probe.NewClient(port)
	if err := client.Ping(); err != nil {
		fatal(fmt.Errorf("device not answering: %w", err))
	}

	if *info || *cborOut != "" {
		report, err := client.CardInfo()
		if err != nil {
			fatal(err)
		}
		fmt.Printf("card: %s, %d blocks (%d MiB), rca %#04x\n",
			capacityName(report.HighCapacity), report.Blocks, report.Blocks/2048, report.RCA)
		fmt.Printf("bus: %d lane(s) at %d Hz\n", report.Lanes, report.ClockHz)
		fmt.Printf("identity: mid %#02x oem %q product %q serial %#08x\n",
			report.Manufacturer, report.OEM, report.Product, report.Serial)
		if *cborOut != "" {
			raw, err := cbor.Marshal(report)
			if err != nil {
				fatal(err)
			}
			if err := os.WriteFile(*cborOut, raw, 0o644); err != nil {
				fatal(err)
			}
			fmt.Printf("wrote %d bytes to %s\n", len(raw), *cborOut)
		}
	}

	if *read >= 0 {
		data, err := client.ReadBlocks(uint32(*read), *count)
		if err != nil {
			fatal(err)
		}
		if *out != "" {
			if err := os.WriteFile(*out, data, 0o644); err != nil {
				fatal(err)
			}
			fmt.Printf("wrote %d bytes to %s\n", len(data), *out)
		} else {
			dumpHex(data)
		}
	}
}

func capacityName(high bool) string {
	if high {
		return "high capacity"
	}
	return "standard capacity"
}

func dumpHex(data []byte) {
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		fmt.Printf("%08x  % x\n", off, data[off:end])
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "sdprobe:", err)
	os.Exit(1)
}
