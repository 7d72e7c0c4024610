package common

import (
	"encoding/hex"
	"fmt"
)

// CopyBytes returns an exact copy of the provided bytes.
func CopyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

// Copy is an alias kept for call sites that read better with a short name.
func Copy(b []byte) []byte { return CopyBytes(b) }

// FromHex returns the bytes represented by the hexadecimal string s.
// s may be prefixed with "0x".
func FromHex(s string) []byte {
	if has0xPrefix(s) {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, _ := hex.DecodeString(s)
	return b
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

// ByteCount produces a human-readable byte count for logging.
func ByteCount(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	bGb, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		bGb *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(b)/float64(bGb), "KMGTPE"[exp])
}
