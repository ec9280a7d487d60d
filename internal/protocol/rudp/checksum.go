package rudp

// Checksum computes the Internet ones'-complement checksum of data: the sum
// of big-endian 16-bit words, an odd trailing byte padded with a zero low
// byte, carries folded back until none remain, then complemented.
func Checksum(data []byte) uint16 {
	var sum uint32

	n := len(data)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(data[i])<<8 | uint32(data[i+1])
		// keep the accumulator from overflowing on 64 KiB inputs
		if sum > 0xFFFF0000 {
			sum = sum&0xFFFF + sum>>16
		}
	}
	if n%2 == 1 {
		sum += uint32(data[n-1]) << 8
	}

	for sum>>16 != 0 {
		sum = sum&0xFFFF + sum>>16
	}

	return ^uint16(sum)
}
