package protocol

// CRC16 calculates the checksum protecting each data block, one per data
// line. CCITT polynomial x^16 + x^12 + x^5 + 1, zero initial value
// (XMODEM variant), bits fed MSB first.
func CRC16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
