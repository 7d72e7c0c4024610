package rlphacks

func generateRlpPrefixLen(l int) int {
	if l < 2 {
		return 0
	}
	if l < 56 {
		return 1
	}
	if l < 256 {
		return 2
	}
	if l < 65536 {
		return 3
	}
	return 4
}

func generateByteArrayLen(buffer []byte, pos int, l int) int {
	if l < 56 {
		buffer[pos] = byte(emptyStringCode + l)
		pos++
	} else if l < 256 {
		// len(vn) can be encoded as 1 byte
		buffer[pos] = 0xb8
		pos++
		buffer[pos] = byte(l)
		pos++
	} else if l < 65536 {
		// len(vn) is encoded as two bytes
		buffer[pos] = 0xb9
		pos++
		buffer[pos] = byte(l >> 8)
		pos++
		buffer[pos] = byte(l & 255)
		pos++
	} else {
		// len(vn) is encoded as three bytes
		buffer[pos] = 0xba
		pos++
		buffer[pos] = byte(l >> 16)
		pos++
		buffer[pos] = byte((l >> 8) & 255)
		pos++
		buffer[pos] = byte(l & 255)
		pos++
	}
	return pos
}

func generateRlpPrefixLenDouble(l int, firstByte byte) int {
	if l < 2 {
		// the single byte is its own encoding, possibly wrapped twice
		if firstByte >= emptyStringCode {
			return 2
		}
		return 0
	}
	if l < 55 {
		return 2
	}
	if l < 56 { // l == 55
		return 3
	}
	if l < 254 {
		return 4
	}
	if l < 256 {
		return 5
	}
	if l < 65533 {
		return 6
	}
	if l < 65536 {
		return 7
	}
	return 8
}

func generateByteArrayLenDouble(buffer []byte, pos int, l int) int {
	if l < 55 {
		// After first wrapping, the length will be l + 1 < 56
		buffer[pos] = byte(emptyStringCode + l + 1)
		pos++
		buffer[pos] = byte(emptyStringCode + l)
		pos++
	} else if l < 56 {
		buffer[pos] = 0xb8
		pos++
		buffer[pos] = byte(l + 1)
		pos++
		buffer[pos] = byte(emptyStringCode + l)
		pos++
	} else if l < 254 {
		// After first wrapping, the length will be l + 2 < 256
		buffer[pos] = 0xb8
		pos++
		buffer[pos] = byte(l + 2)
		pos++
		buffer[pos] = 0xb8
		pos++
		buffer[pos] = byte(l)
		pos++
	} else if l < 256 {
		// After first wrapping, the length will be l + 2 >= 256
		buffer[pos] = 0xb9
		pos++
		buffer[pos] = byte((l + 2) >> 8)
		pos++
		buffer[pos] = byte((l + 2) & 255)
		pos++
		buffer[pos] = 0xb8
		pos++
		buffer[pos] = byte(l)
		pos++
	} else if l < 65533 {
		// After first wrapping, the length will be l + 3 < 65536
		buffer[pos] = 0xb9
		pos++
		buffer[pos] = byte((l + 3) >> 8)
		pos++
		buffer[pos] = byte((l + 3) & 255)
		pos++
		buffer[pos] = 0xb9
		pos++
		buffer[pos] = byte(l >> 8)
		pos++
		buffer[pos] = byte(l & 255)
		pos++
	} else if l < 65536 {
		// After first wrapping, the length will be l + 3 >= 65536
		buffer[pos] = 0xba
		pos++
		buffer[pos] = byte((l + 3) >> 16)
		pos++
		buffer[pos] = byte(((l + 3) >> 8) & 255)
		pos++
		buffer[pos] = byte((l + 3) & 255)
		pos++
		buffer[pos] = 0xb9
		pos++
		buffer[pos] = byte(l >> 8)
		pos++
		buffer[pos] = byte(l & 255)
		pos++
	} else {
		// After first wrapping, the length will be l + 4 >= 65536
		buffer[pos] = 0xba
		pos++
		buffer[pos] = byte((l + 4) >> 16)
		pos++
		buffer[pos] = byte(((l + 4) >> 8) & 255)
		pos++
		buffer[pos] = byte((l + 4) & 255)
		pos++
		buffer[pos] = 0xba
		pos++
		buffer[pos] = byte(l >> 16)
		pos++
		buffer[pos] = byte((l >> 8) & 255)
		pos++
		buffer[pos] = byte(l & 255)
		pos++
	}
	return pos
}
