package trie

import (
	"bytes"
	"sort"

	"github.com/erigontech/execution/common/hexutility"
)

// RetainDecider decides, prefix by prefix, whether the trie must be re-walked
// below the prefix (true) or the cached intermediate hash can be used (false).
type RetainDecider interface {
	Retain(prefix []byte) bool
}

// RetainDeciderWithMarker additionally reports the next "created" prefix at or
// after the given one. The loader uses it to keep its skip-state tracking
// correct across freshly created accounts and slots.
type RetainDeciderWithMarker interface {
	RetainDecider
	RetainWithMarker(prefix []byte) (retain bool, nextCreated []byte)
}

// RetainList is an ordered set of nibble-unpacked key prefixes; a trie walk
// must visit every prefix on the list. It is the prefix-set that drives
// incremental trie updates: one entry per changed hashed key.
type RetainList struct {
	inited    bool // Whether keys are sorted and "LTE" and "GT" indices set
	minLength int  // Shorter prefixes always get true from Retain
	lteIndex  int  // Index of the "LTE" key in the keys slice. Next one is "GT"
	hexes     [][]byte
	markers   []bool
}

// NewRetainList creates a new RetainList.
func NewRetainList(minLength int) *RetainList {
	return &RetainList{minLength: minLength}
}

// AddKey adds a new key (in KEY encoding) to the list.
func (rl *RetainList) AddKey(key []byte) {
	var nibbles []byte
	hexutility.DecompressNibbles(key, &nibbles)
	rl.AddHex(nibbles)
}

// AddKeyWithMarker adds a key flagged as freshly created.
func (rl *RetainList) AddKeyWithMarker(key []byte, marker bool) {
	var nibbles []byte
	hexutility.DecompressNibbles(key, &nibbles)
	rl.AddHex(nibbles)
	rl.markers[len(rl.markers)-1] = marker
}

// AddHex adds a new key (in HEX encoding) to the list.
func (rl *RetainList) AddHex(hex []byte) {
	rl.hexes = append(rl.hexes, hex)
	rl.markers = append(rl.markers, false)
	rl.inited = false
}

func (rl *RetainList) Len() int { return len(rl.hexes) }
func (rl *RetainList) Less(i, j int) bool {
	return bytes.Compare(rl.hexes[i], rl.hexes[j]) < 0
}
func (rl *RetainList) Swap(i, j int) {
	rl.hexes[i], rl.hexes[j] = rl.hexes[j], rl.hexes[i]
	rl.markers[i], rl.markers[j] = rl.markers[j], rl.markers[i]
}

func (rl *RetainList) ensureInited() {
	if rl.inited {
		return
	}
	if !sort.IsSorted(rl) {
		sort.Sort(rl)
	}
	rl.lteIndex = 0
	rl.inited = true
}

// Retain decides whether to emit the hash of the given prefix (false) or
// continue the resolution (true).
func (rl *RetainList) Retain(prefix []byte) bool {
	rl.ensureInited()
	if len(prefix) < rl.minLength {
		return true
	}
	// Adjust "GT" if necessary
	var gtAdjusted bool
	for rl.lteIndex < len(rl.hexes)-1 && bytes.Compare(rl.hexes[rl.lteIndex+1], prefix) <= 0 {
		rl.lteIndex++
		gtAdjusted = true
	}
	// Adjust "LTE" if necessary (normally will not be necessary)
	for !gtAdjusted && rl.lteIndex > 0 && bytes.Compare(rl.hexes[rl.lteIndex], prefix) > 0 {
		rl.lteIndex--
	}
	if rl.lteIndex < len(rl.hexes) {
		if bytes.HasPrefix(rl.hexes[rl.lteIndex], prefix) {
			return true
		}
	}
	if rl.lteIndex < len(rl.hexes)-1 {
		if bytes.HasPrefix(rl.hexes[rl.lteIndex+1], prefix) {
			return true
		}
	}
	return false
}

// RetainWithMarker also returns the first marked key at or after the prefix.
func (rl *RetainList) RetainWithMarker(prefix []byte) (bool, []byte) {
	retain := rl.Retain(prefix)

	nextMarkedIndex := rl.lteIndex
	if !retain {
		nextMarkedIndex = rl.lteIndex + 1
	}
	for ; nextMarkedIndex < len(rl.hexes); nextMarkedIndex++ {
		if bytes.Compare(rl.hexes[nextMarkedIndex], prefix) >= 0 && rl.markers[nextMarkedIndex] {
			return retain, rl.hexes[nextMarkedIndex]
		}
	}
	return retain, nil
}

// Rewind resets the walking index; needed when the same list drives more than
// one pass.
func (rl *RetainList) Rewind() {
	rl.lteIndex = 0
}

func (rl *RetainList) String() string {
	var sb bytes.Buffer
	for i, hex := range rl.hexes {
		if i > 0 {
			sb.WriteByte(',')
		}
		for _, n := range hex {
			sb.WriteByte("0123456789abcdef"[n&0xf])
		}
	}
	return sb.String()
}
