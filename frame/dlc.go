package frame

// CAN-FD stores payload length as a 4 bit code, not a byte count. Codes 0..8
// map one to one; the remaining seven cover the FD lengths.
var codeToLength = [16]uint8{
	0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64,
}

// CodeToLength returns the payload byte count for a length code.
func CodeToLength(code uint8) uint8 {
	return codeToLength[code&0xF]
}

// LengthToCode returns the smallest code whose length is >= n. Lengths above
// 64 saturate to the 64 byte code.
func LengthToCode(n uint8) uint8 {
	if n <= 8 {
		return n
	}
	for code := uint8(9); code < 15; code++ {
		if codeToLength[code] >= n {
			return code
		}
	}
	return 15
}

// RoundLength returns the smallest wire-representable length >= n.
func RoundLength(n uint8) uint8 {
	return codeToLength[LengthToCode(n)]
}
