package protocol

// CRC7 calculates the 7-bit checksum protecting command and response
// frames on the CMD line. Polynomial x^7 + x^3 + 1, zero initial value,
// bits fed MSB first. The result occupies the low 7 bits.
func CRC7(data []byte) uint8 {
	var crc uint8
	for _, b := range data {
		for mask := uint8(0x80); mask != 0; mask >>= 1 {
			fb := crc&0x40 != 0
			crc = (crc << 1) & 0x7F
			if (b&mask != 0) != fb {
				crc ^= 0x09
			}
		}
	}
	return crc
}
