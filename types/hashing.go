package types

import (
	"bytes"
	"sort"

	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/crypto"
	"github.com/erigontech/execution/rlp"
)

var (
	// EmptyRootHash is the root of an empty Merkle-Patricia trie.
	EmptyRootHash = common.HexToHash("0x56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421")
	// EmptyUncleHash is keccak256(rlp([])).
	EmptyUncleHash = common.HexToHash("0x1dcc4de8dec75d7aab85b567b6ccd41ad312451b948a7413f0a142fd40d49347")
)

// OmmersHash is keccak256 of the RLP list of ommer headers.
func OmmersHash(uncles []*Header) common.Hash {
	if len(uncles) == 0 {
		return EmptyUncleHash
	}
	var payload bytes.Buffer
	for _, uncle := range uncles {
		if err := uncle.EncodeRLP(&payload); err != nil {
			panic(err)
		}
	}
	var out bytes.Buffer
	var b [9]byte
	if err := rlp.EncodeStructSizePrefix(payload.Len(), &out, b[:]); err != nil {
		panic(err)
	}
	out.Write(payload.Bytes())
	return crypto.Keccak256Hash(out.Bytes())
}

// DerivableList is a list whose per-index encodings feed an index-keyed trie.
type DerivableList interface {
	Len() int
	EncodeIndex(i int, w *bytes.Buffer)
}

// DeriveSha computes the root of the Merkle-Patricia trie keyed by rlp(index).
// Used for transactions_root, receipts_root and withdrawals_root.
func DeriveSha(list DerivableList) common.Hash {
	if list.Len() == 0 {
		return EmptyRootHash
	}
	items := make([]trieItem, 0, list.Len())
	var keyBuf, valBuf bytes.Buffer
	var b [9]byte
	for i := 0; i < list.Len(); i++ {
		keyBuf.Reset()
		if err := rlp.EncodeInt(uint64(i), &keyBuf, b[:]); err != nil {
			panic(err)
		}
		valBuf.Reset()
		list.EncodeIndex(i, &valBuf)
		items = append(items, trieItem{
			key:   keyNibbles(keyBuf.Bytes()),
			value: common.CopyBytes(valBuf.Bytes()),
		})
	}
	sort.Slice(items, func(i, j int) bool { return bytes.Compare(items[i].key, items[j].key) < 0 })
	root := hashTrieNode(items, 0)
	if len(root) == 33 && root[0] == 0x80+32 {
		return common.BytesToHash(root[1:])
	}
	// the root node is always hashed, even when its encoding is short
	return crypto.Keccak256Hash(root[1:])
}

type trieItem struct {
	key   []byte // nibbles
	value []byte
}

// TrieRoot computes the root of a Merkle-Patricia trie over arbitrary
// (key, value) pairs, e.g. hashed account keys to their trie RLP. Pairs need
// not be sorted. Empty input gives EmptyRootHash.
func TrieRoot(keys, values [][]byte) common.Hash {
	if len(keys) == 0 {
		return EmptyRootHash
	}
	items := make([]trieItem, len(keys))
	for i := range keys {
		items[i] = trieItem{key: keyNibbles(keys[i]), value: values[i]}
	}
	sort.Slice(items, func(i, j int) bool { return bytes.Compare(items[i].key, items[j].key) < 0 })
	root := hashTrieNode(items, 0)
	if len(root) == 33 && root[0] == 0x80+32 {
		return common.BytesToHash(root[1:])
	}
	return crypto.Keccak256Hash(root[1:])
}

func keyNibbles(key []byte) []byte {
	nibbles := make([]byte, 2*len(key))
	for i, kb := range key {
		nibbles[i*2] = kb >> 4
		nibbles[i*2+1] = kb & 0x0f
	}
	return nibbles
}

// compactEncode packs nibbles into the hex-prefix encoding.
func compactEncode(nibbles []byte, terminating bool) []byte {
	var flag byte
	if terminating {
		flag = 2
	}
	odd := len(nibbles)%2 == 1
	var out []byte
	if odd {
		out = append(out, (flag|1)<<4|nibbles[0])
		nibbles = nibbles[1:]
	} else {
		out = append(out, flag<<4)
	}
	for i := 0; i < len(nibbles); i += 2 {
		out = append(out, nibbles[i]<<4|nibbles[i+1])
	}
	return out
}

// hashTrieNode returns the RLP reference of the subtree of items whose keys
// agree up to depth: the 33-byte hash string when the node encoding is >= 32
// bytes, the raw encoding prefixed by its length otherwise.
//
// References are returned in "stack form": out[0] == 0x80+32 means the
// 32-byte hash follows; anything else is the embedded RLP of a short node,
// stored in full at out[1:] with out[0] = byte(len).
func hashTrieNode(items []trieItem, depth int) []byte {
	enc := encodeTrieNode(items, depth)
	if len(enc) < 32 {
		out := make([]byte, 1+len(enc))
		out[0] = byte(len(enc))
		copy(out[1:], enc)
		return out
	}
	h := crypto.Keccak256(enc)
	out := make([]byte, 33)
	out[0] = 0x80 + 32
	copy(out[1:], h)
	return out
}

// refBytes converts a stack-form reference into the bytes spliced into the
// parent encoding.
func refBytes(ref []byte) []byte {
	if ref[0] == 0x80+32 {
		return ref
	}
	return ref[1:]
}

func encodeTrieNode(items []trieItem, depth int) []byte {
	if len(items) == 1 {
		// leaf
		item := items[0]
		compact := compactEncode(item.key[depth:], true)
		return encodeListOfTwo(compact, item.value, true)
	}

	// longest common prefix below depth
	lcp := 0
	first, last := items[0].key[depth:], items[len(items)-1].key[depth:]
	for lcp < len(first) && lcp < len(last) && first[lcp] == last[lcp] {
		lcp++
	}
	if lcp > 0 {
		child := hashTrieNode(items, depth+lcp)
		compact := compactEncode(items[0].key[depth:depth+lcp], false)
		return encodeListOfTwo(compact, refBytes(child), false)
	}

	// branch
	var children [16][]byte
	var value []byte
	i := 0
	for i < len(items) {
		if len(items[i].key) == depth {
			value = items[i].value
			i++
			continue
		}
		nibble := items[i].key[depth]
		j := i
		for j < len(items) && len(items[j].key) > depth && items[j].key[depth] == nibble {
			j++
		}
		children[nibble] = refBytes(hashTrieNode(items[i:j], depth))
		i = j
	}

	var payload bytes.Buffer
	for nibble := 0; nibble < 16; nibble++ {
		if children[nibble] == nil {
			payload.WriteByte(rlp.EmptyStringCode)
		} else {
			payload.Write(children[nibble])
		}
	}
	if value == nil {
		payload.WriteByte(rlp.EmptyStringCode)
	} else {
		var b [9]byte
		if err := rlp.EncodeString(value, &payload, b[:]); err != nil {
			panic(err)
		}
	}
	var out bytes.Buffer
	var b [9]byte
	if err := rlp.EncodeStructSizePrefix(payload.Len(), &out, b[:]); err != nil {
		panic(err)
	}
	out.Write(payload.Bytes())
	return out.Bytes()
}

// encodeListOfTwo encodes [compactKey, value]; the value is an RLP string for
// leaves and a raw reference for extensions.
func encodeListOfTwo(compactKey, value []byte, valueIsString bool) []byte {
	var payload bytes.Buffer
	var b [9]byte
	if err := rlp.EncodeString(compactKey, &payload, b[:]); err != nil {
		panic(err)
	}
	if valueIsString {
		if err := rlp.EncodeString(value, &payload, b[:]); err != nil {
			panic(err)
		}
	} else {
		payload.Write(value)
	}
	var out bytes.Buffer
	if err := rlp.EncodeStructSizePrefix(payload.Len(), &out, b[:]); err != nil {
		panic(err)
	}
	out.Write(payload.Bytes())
	return out.Bytes()
}
