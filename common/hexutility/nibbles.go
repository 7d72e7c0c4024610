// Package hexutility converts between packed byte keys and their
// nibble-expanded ("hex") form used by the trie.
package hexutility

import "encoding/binary"

// DecompressNibbles unpacks each byte of in into two nibble bytes, storing the
// result in *out (reused if the capacity allows).
func DecompressNibbles(in []byte, out *[]byte) {
	tmp := (*out)[:0]
	for i := range in {
		tmp = append(tmp, (in[i]>>4)&0x0f, in[i]&0x0f)
	}
	*out = tmp
}

// CompressNibbles packs a nibble slice back into bytes: [1,2,3,4] -> [0x12, 0x34].
// len(in) must be even.
func CompressNibbles(in []byte, out *[]byte) {
	tmp := (*out)[:0]
	for i := 0; i < len(in); i += 2 {
		tmp = append(tmp, in[i]<<4|in[i+1])
	}
	*out = tmp
}

// EncodeTs encodes a block number the way all block-number-prefixed keys do.
func EncodeTs(number uint64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, number)
	return enc
}
