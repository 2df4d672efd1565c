package protocol

import (
	"bytes"
	"testing"
)

func TestCRC16KnownVectors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{"empty", nil, 0x0000},
		{"check string", []byte("123456789"), 0x31C3},
		{"512 x 0xFF", bytes.Repeat([]byte{0xFF}, 512), 0x7FA1},
		{"512 x 0x00", bytes.Repeat([]byte{0x00}, 512), 0x0000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CRC16(tt.data); got != tt.want {
				t.Errorf("CRC16 = %#04x, want %#04x", got, tt.want)
			}
		})
	}
}

func TestCRC16DetectsSingleBitFlip(t *testing.T) {
	block := bytes.Repeat([]byte{0xA5}, 512)
	ref := CRC16(block)
	block[200] ^= 0x10
	if CRC16(block) == ref {
		t.Fatal("checksum unchanged after bit flip")
	}
}
