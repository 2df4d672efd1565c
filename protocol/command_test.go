package protocol

import "testing"

func TestCommandFrame(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want [6]byte
	}{
		{"CMD0", GoIdleState(), [6]byte{0x40, 0x00, 0x00, 0x00, 0x00, 0x95}},
		{"CMD8", SendIfCond(), [6]byte{0x48, 0x00, 0x00, 0x01, 0xAA, 0x87}},
		{"CMD17", ReadSingleBlock(0), [6]byte{0x51, 0x00, 0x00, 0x00, 0x00, 0x55}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cmd.Frame(); got != tt.want {
				t.Errorf("Frame() = %x, want %x", got, tt.want)
			}
		})
	}
}

func TestVerifyFrame(t *testing.T) {
	f := ResponseFrame(CmdReadSingleBlock, 0x00000900)
	if !VerifyFrame(f) {
		t.Fatal("valid response frame rejected")
	}
	f[3] ^= 0x01
	if VerifyFrame(f) {
		t.Fatal("corrupted response frame accepted")
	}
}

func TestResponseKinds(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		kind ResponseKind
	}{
		{"CMD0 no response", GoIdleState(), RespNone},
		{"ACMD41 crc ignored", SDAppOpCond(OCRHostWindow), RespShortNoCRC},
		{"CMD2 long", AllSendCID(), RespLong},
		{"CMD9 long", SendCSD(0x1234), RespLong},
		{"CMD7 deselect silent", SelectCard(0), RespNone},
		{"CMD7 select short", SelectCard(0x1234), RespShort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.cmd.Kind != tt.kind {
				t.Errorf("Kind = %d, want %d", tt.cmd.Kind, tt.kind)
			}
		})
	}
}

func TestRCAArguments(t *testing.T) {
	if got := SendCSD(0xB368).Arg; got != 0xB3680000 {
		t.Errorf("SendCSD arg = %#08x, want RCA in the top half", got)
	}
	if got := AppCmd(0).Arg; got != 0 {
		t.Errorf("AppCmd(0) arg = %#08x, want 0", got)
	}
}

func TestSetBusWidthArg(t *testing.T) {
	if got := SetBusWidth(1).Arg; got != 0b00 {
		t.Errorf("1-lane arg = %#x, want 0", got)
	}
	if got := SetBusWidth(4).Arg; got != 0b10 {
		t.Errorf("4-lane arg = %#x, want 0b10", got)
	}
}
