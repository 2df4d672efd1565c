package diag

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net"
	"testing"

	"sdhost/core"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if err := WriteFrame(&buf, TypeBlockData, payload); err != nil {
		t.Fatal(err)
	}
	typ, got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if typ != TypeBlockData || !bytes.Equal(got, payload) {
		t.Errorf("got type %#x payload %x", typ, got)
	}
}

func TestFrameSkipsNoise(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x13, 0x37})
	if err := WriteFrame(&buf, TypePing, nil); err != nil {
		t.Fatal(err)
	}
	typ, _, err := ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if typ != TypePing {
		t.Errorf("type = %#x, want ping", typ)
	}
}

func TestFrameRejectsCorruption(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, TypePong, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()
	raw[5] ^= 0x40
	if _, _, err := ReadFrame(bytes.NewReader(raw)); !errors.Is(err, ErrBadFrame) {
		t.Fatalf("err = %v, want bad frame", err)
	}
}

func TestCardReportRoundTrip(t *testing.T) {
	in := CardReport{
		HighCapacity: true,
		Lanes:        4,
		RCA:          0xB368,
		Blocks:       131072,
		ClockHz:      25_000_000,
		Manufacturer: 0xAA,
		OEM:          "GO",
		Product:      "SIMCA",
		Serial:       0x00C0FFEE,
	}
	out, err := DecodeCardReport(in.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Errorf("round trip mismatch: %+v != %+v", out, in)
	}
	if _, err := DecodeCardReport([]byte{1, 2, 3}); err == nil {
		t.Error("short payload accepted")
	}
}

// startResponder brings up an initialized simulated card behind a
// responder on one end of an in-memory pipe and returns the host end.
func startResponder(t *testing.T) (net.Conn, *core.CardSim) {
	t.Helper()
	sim := core.NewCardSim(core.SimConfig{HighCapacity: true})
	ctrl, err := core.New(sim, core.Config{KernelHz: 200_000_000, FourLanes: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := ctrl.Initialize(25_000_000); err != nil {
		t.Fatal(err)
	}
	host, dev := net.Pipe()
	go NewResponder(dev, ctrl).Serve()
	t.Cleanup(func() { host.Close(); dev.Close() })
	return host, sim
}

func TestResponderPing(t *testing.T) {
	host, _ := startResponder(t)
	if err := WriteFrame(host, TypePing, []byte{0x5A}); err != nil {
		t.Fatal(err)
	}
	typ, payload, err := ReadFrame(host)
	if err != nil {
		t.Fatal(err)
	}
	if typ != TypePong || !bytes.Equal(payload, []byte{0x5A}) {
		t.Errorf("got type %#x payload %x", typ, payload)
	}
}

func TestResponderCardInfo(t *testing.T) {
	host, _ := startResponder(t)
	if err := WriteFrame(host, TypeCardInfo, nil); err != nil {
		t.Fatal(err)
	}
	typ, payload, err := ReadFrame(host)
	if err != nil {
		t.Fatal(err)
	}
	if typ != TypeCardInfoResp {
		t.Fatalf("type = %#x, payload %x", typ, payload)
	}
	report, err := DecodeCardReport(payload)
	if err != nil {
		t.Fatal(err)
	}
	if !report.HighCapacity || report.Blocks != 131072 || report.Product != "SIMCA" {
		t.Errorf("report = %+v", report)
	}
}

func TestResponderReadBlocks(t *testing.T) {
	host, sim := startResponder(t)
	want := make([]byte, core.BlockSize)
	for i := range want {
		want[i] = byte(i * 7)
	}
	sim.LoadBlock(42, want)

	req := make([]byte, 6)
	binary.BigEndian.PutUint32(req[:4], 42)
	binary.BigEndian.PutUint16(req[4:6], 1)
	if err := WriteFrame(host, TypeReadBlocks, req); err != nil {
		t.Fatal(err)
	}
	typ, payload, err := ReadFrame(host)
	if err != nil {
		t.Fatal(err)
	}
	if typ != TypeBlockData {
		t.Fatalf("type = %#x: %s", typ, payload)
	}
	if !bytes.Equal(payload, want) {
		t.Error("block data mismatch")
	}
}

func TestResponderBadRequest(t *testing.T) {
	host, _ := startResponder(t)
	if err := WriteFrame(host, TypeReadBlocks, []byte{1, 2}); err != nil {
		t.Fatal(err)
	}
	typ, payload, err := ReadFrame(host)
	if err != nil {
		t.Fatal(err)
	}
	if typ != TypeError || len(payload) == 0 || payload[0] != ErrCodeRequest {
		t.Errorf("got type %#x payload %x", typ, payload)
	}
}
