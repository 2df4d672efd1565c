package protocol

import "testing"

func TestCRC7KnownFrames(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		crc   uint8
		frame uint8 // crc<<1 | end bit, the byte on the wire
	}{
		{"CMD0", []byte{0x40, 0x00, 0x00, 0x00, 0x00}, 0x4A, 0x95},
		{"CMD8 0x1AA", []byte{0x48, 0x00, 0x00, 0x01, 0xAA}, 0x43, 0x87},
		{"CMD17 addr 0", []byte{0x51, 0x00, 0x00, 0x00, 0x00}, 0x2A, 0x55},
		{"CMD17 response", []byte{0x11, 0x00, 0x00, 0x09, 0x00}, 0x33, 0x67},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CRC7(tt.data)
			if got != tt.crc {
				t.Errorf("CRC7(%x) = %#02x, want %#02x", tt.data, got, tt.crc)
			}
			if b := got<<1 | 1; b != tt.frame {
				t.Errorf("wire byte = %#02x, want %#02x", b, tt.frame)
			}
		})
	}
}

func TestCRC7SevenBits(t *testing.T) {
	data := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	if got := CRC7(data); got > 0x7F {
		t.Errorf("CRC7 overflowed 7 bits: %#02x", got)
	}
}
