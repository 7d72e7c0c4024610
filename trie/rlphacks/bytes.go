package rlphacks

import (
	"io"
)

const emptyStringCode = 0x80

// RlpSerializable is a value that can be double-RLP coded.
type RlpSerializable interface {
	ToDoubleRLP(io.Writer) error
	DoubleRLPLen() int
	RawBytes() []byte
}

// RlpSerializableBytes are raw bytes: the double encoding wraps them as an
// RLP string, then wraps that string once more (the form trie leaves carry).
type RlpSerializableBytes []byte

func (b RlpSerializableBytes) ToDoubleRLP(w io.Writer) error {
	return encodeBytesAsRlpToWriter(b, w, generateByteArrayLenDouble, 8)
}

func (b RlpSerializableBytes) RawBytes() []byte { return b }

func (b RlpSerializableBytes) DoubleRLPLen() int {
	if len(b) < 1 {
		return 0
	}
	return generateRlpPrefixLenDouble(len(b), b[0]) + len(b)
}

// RlpEncodedBytes are already valid RLP (an account structure); the double
// encoding only wraps them as a string once.
type RlpEncodedBytes []byte

func (b RlpEncodedBytes) ToDoubleRLP(w io.Writer) error {
	return encodeBytesAsRlpToWriter(b, w, generateByteArrayLen, 4)
}

func (b RlpEncodedBytes) RawBytes() []byte { return b }

func (b RlpEncodedBytes) DoubleRLPLen() int {
	return generateRlpPrefixLen(len(b)) + len(b)
}

func encodeBytesAsRlpToWriter(source []byte, w io.Writer, prefixGenFunc func([]byte, int, int) int, prefixBufferSize uint) error {
	// > 1 byte, write a prefix or prefixes first
	if len(source) > 1 || (len(source) == 1 && source[0] >= emptyStringCode) {
		prefix := make([]byte, prefixBufferSize)
		prefixLen := prefixGenFunc(prefix, 0, len(source))

		if _, err := w.Write(prefix[:prefixLen]); err != nil {
			return err
		}
	}
	_, err := w.Write(source)
	return err
}
