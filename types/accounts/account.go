// Package accounts holds the account entity and its two encodings: the
// compact fieldset encoding used in PlainState/HashedAccounts, and the RLP
// encoding that feeds the account trie.
package accounts

import (
	"fmt"
	"math/bits"

	"github.com/holiman/uint256"

	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/crypto"
)

// Account is the Ethereum consensus representation of an account.
// These objects are stored in the main account trie.
type Account struct {
	Initialised bool
	Nonce       uint64
	Balance     uint256.Int
	Root        common.Hash // merkle root of the storage trie
	CodeHash    common.Hash // hash of the bytecode
	Incarnation uint64
}

var emptyCodeHash = crypto.Keccak256Hash(nil)
var emptyRoot = common.HexToHash("0x56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421")

func NewAccount() Account {
	return Account{
		Initialised: true,
		Root:        emptyRoot,
		CodeHash:    emptyCodeHash,
	}
}

func (a *Account) Copy(image *Account) {
	a.Initialised = image.Initialised
	a.Nonce = image.Nonce
	a.Balance.Set(&image.Balance)
	copy(a.Root[:], image.Root[:])
	copy(a.CodeHash[:], image.CodeHash[:])
	a.Incarnation = image.Incarnation
}

func (a *Account) IsEmptyCodeHash() bool {
	return a.CodeHash == emptyCodeHash || a.CodeHash == (common.Hash{})
}

func (a *Account) IsEmptyRoot() bool {
	return a.Root == emptyRoot || a.Root == (common.Hash{})
}

// Equals compares the storage-encoded fields of two accounts.
func (a *Account) Equals(other *Account) bool {
	return a.Nonce == other.Nonce &&
		a.Balance.Eq(&other.Balance) &&
		a.CodeHash == other.CodeHash &&
		a.Incarnation == other.Incarnation
}

func bytesRequired(v uint64) int {
	if v == 0 {
		return 0
	}
	return (bits.Len64(v) + 7) / 8
}

// EncodingLengthForStorage returns the length of the fieldset encoding.
func (a *Account) EncodingLengthForStorage() int {
	length := 1 // fieldset byte
	if a.Nonce > 0 {
		length += 1 + bytesRequired(a.Nonce)
	}
	if !a.Balance.IsZero() {
		length += 1 + (a.Balance.BitLen()+7)/8
	}
	if a.Incarnation > 0 {
		length += 1 + bytesRequired(a.Incarnation)
	}
	if !a.IsEmptyCodeHash() {
		length += 1 + 32
	}
	return length
}

// EncodeForStorage writes the fieldset encoding into buffer:
// one fieldset byte, then length-prefixed minimal big-endian values for every
// non-default field (nonce, balance, incarnation, code hash, in that order).
func (a *Account) EncodeForStorage(buffer []byte) {
	var fieldSet byte
	pos := 1
	if a.Nonce > 0 {
		fieldSet = 1
		nonceBytes := bytesRequired(a.Nonce)
		buffer[pos] = byte(nonceBytes)
		for i, nonce := pos+nonceBytes, a.Nonce; i > pos; i-- {
			buffer[i] = byte(nonce)
			nonce >>= 8
		}
		pos += 1 + nonceBytes
	}
	if !a.Balance.IsZero() {
		fieldSet |= 2
		balanceBytes := (a.Balance.BitLen() + 7) / 8
		buffer[pos] = byte(balanceBytes)
		a.Balance.WriteToSlice(buffer[pos+1 : pos+1+balanceBytes])
		pos += 1 + balanceBytes
	}
	if a.Incarnation > 0 {
		fieldSet |= 4
		incarnationBytes := bytesRequired(a.Incarnation)
		buffer[pos] = byte(incarnationBytes)
		for i, inc := pos+incarnationBytes, a.Incarnation; i > pos; i-- {
			buffer[i] = byte(inc)
			inc >>= 8
		}
		pos += 1 + incarnationBytes
	}
	if !a.IsEmptyCodeHash() {
		fieldSet |= 8
		buffer[pos] = 32
		copy(buffer[pos+1:pos+33], a.CodeHash[:])
	}
	buffer[0] = fieldSet
}

// DecodeForStorage parses the fieldset encoding.
func (a *Account) DecodeForStorage(enc []byte) error {
	a.Nonce = 0
	a.Incarnation = 0
	a.Balance.Clear()
	a.Root = emptyRoot
	a.CodeHash = emptyCodeHash
	if len(enc) == 0 {
		a.Initialised = false
		return nil
	}
	a.Initialised = true

	fieldSet := enc[0]
	pos := 1
	if fieldSet&1 > 0 {
		decodeLength := int(enc[pos])
		if len(enc) < pos+decodeLength+1 {
			return fmt.Errorf("malformed CBOR for Account.Nonce: %s, length %d", enc[pos+1:], decodeLength)
		}
		var nonce uint64
		for _, b := range enc[pos+1 : pos+decodeLength+1] {
			nonce = (nonce << 8) + uint64(b)
		}
		a.Nonce = nonce
		pos += decodeLength + 1
	}
	if fieldSet&2 > 0 {
		decodeLength := int(enc[pos])
		if len(enc) < pos+decodeLength+1 {
			return fmt.Errorf("malformed CBOR for Account.Balance: %s, length %d", enc[pos+1:], decodeLength)
		}
		a.Balance.SetBytes(enc[pos+1 : pos+decodeLength+1])
		pos += decodeLength + 1
	}
	if fieldSet&4 > 0 {
		decodeLength := int(enc[pos])
		if len(enc) < pos+decodeLength+1 {
			return fmt.Errorf("malformed CBOR for Account.Incarnation: %s, length %d", enc[pos+1:], decodeLength)
		}
		var incarnation uint64
		for _, b := range enc[pos+1 : pos+decodeLength+1] {
			incarnation = (incarnation << 8) + uint64(b)
		}
		a.Incarnation = incarnation
		pos += decodeLength + 1
	}
	if fieldSet&8 > 0 {
		decodeLength := int(enc[pos])
		if decodeLength != 32 {
			return fmt.Errorf("codehash should be 32 bytes long, was %d", decodeLength)
		}
		if len(enc) < pos+decodeLength+1 {
			return fmt.Errorf("malformed CBOR for Account.CodeHash: %s, length %d", enc[pos+1:], decodeLength)
		}
		a.CodeHash.SetBytes(enc[pos+1 : pos+decodeLength+1])
	}
	return nil
}

func Deserialise(enc []byte) (Account, error) {
	var a Account
	if err := a.DecodeForStorage(enc); err != nil {
		return a, err
	}
	return a, nil
}

func (a *Account) SelfCopy() *Account {
	cpy := NewAccount()
	cpy.Copy(a)
	return &cpy
}

func (a *Account) EncodeForStorageBytes() []byte {
	buf := make([]byte, a.EncodingLengthForStorage())
	a.EncodeForStorage(buf)
	return buf
}

// EncodingLengthForHashing returns the length of the RLP encoding that feeds
// the account trie: [nonce, balance, storage_root, code_hash].
func (a *Account) EncodingLengthForHashing() int {
	balanceBytes := 0
	if !a.Balance.LtUint64(128) {
		balanceBytes = (a.Balance.BitLen() + 7) / 8
	}
	nonceBytes := 0
	if a.Nonce >= 128 {
		nonceBytes = bytesRequired(a.Nonce)
	}
	structLength := uint(balanceBytes + nonceBytes + 2 + 66)
	if structLength < 56 {
		return int(1 + structLength)
	}
	return int(1+(bits.Len(structLength)+7)/8) + int(structLength)
}

// EncodeForHashing writes the trie RLP of the account into buffer.
func (a *Account) EncodeForHashing(buffer []byte) {
	balanceBytes := 0
	if !a.Balance.LtUint64(128) {
		balanceBytes = (a.Balance.BitLen() + 7) / 8
	}
	nonceBytes := 0
	if a.Nonce >= 128 {
		nonceBytes = bytesRequired(a.Nonce)
	}
	structLength := balanceBytes + nonceBytes + 2 + 66

	var pos int
	if structLength < 56 {
		buffer[0] = byte(192 + structLength)
		pos = 1
	} else {
		lengthBytes := (bits.Len(uint(structLength)) + 7) / 8
		buffer[0] = byte(247 + lengthBytes)
		for i, l := lengthBytes, structLength; i > 0; i-- {
			buffer[i] = byte(l)
			l >>= 8
		}
		pos = lengthBytes + 1
	}

	// nonce
	if a.Nonce < 128 && a.Nonce != 0 {
		buffer[pos] = byte(a.Nonce)
	} else {
		buffer[pos] = byte(128 + nonceBytes)
		for i, nonce := nonceBytes, a.Nonce; i > 0; i-- {
			buffer[pos+i] = byte(nonce)
			nonce >>= 8
		}
	}
	pos += 1 + nonceBytes

	// balance
	if a.Balance.LtUint64(128) && !a.Balance.IsZero() {
		buffer[pos] = byte(a.Balance.Uint64())
	} else {
		buffer[pos] = byte(128 + balanceBytes)
		if balanceBytes > 0 {
			a.Balance.WriteToSlice(buffer[pos+1 : pos+1+balanceBytes])
		}
	}
	pos += 1 + balanceBytes

	// storage root
	buffer[pos] = 128 + 32
	copy(buffer[pos+1:], a.Root[:])
	pos += 33

	// code hash
	buffer[pos] = 128 + 32
	copy(buffer[pos+1:], a.CodeHash[:])
}
