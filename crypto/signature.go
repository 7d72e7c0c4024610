package crypto

import (
	"errors"
	"fmt"

	"github.com/erigontech/secp256k1"
	"github.com/holiman/uint256"

	"github.com/erigontech/execution/common"
)

// SignatureLength indicates the byte length required to carry a signature
// with recovery id: 64 bytes ECDSA + 1 byte recovery id.
const SignatureLength = 64 + 1

// secp256k1N/2, used to enforce the low-s rule from Homestead onward.
var secp256k1halfN = new(uint256.Int).Rsh(
	uint256.MustFromHex("0xfffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141"), 1)

var secp256k1N = uint256.MustFromHex("0xfffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141")

var ErrInvalidSignature = errors.New("invalid signature")

// Ecrecover returns the uncompressed public key that created the given signature.
func Ecrecover(hash, sig []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash is required to be exactly 32 bytes (%d)", len(hash))
	}
	if len(sig) != SignatureLength {
		return nil, fmt.Errorf("signature must be %d bytes long", SignatureLength)
	}
	pub, err := secp256k1.RecoverPubkey(hash, sig)
	if err != nil {
		return nil, err
	}
	return pub, nil
}

// RecoverAddress recovers the 20-byte sender address from a signing hash and a
// 65-byte [R ‖ S ‖ V] signature.
func RecoverAddress(sighash common.Hash, sig []byte) (common.Address, error) {
	pub, err := Ecrecover(sighash[:], sig)
	if err != nil {
		return common.Address{}, err
	}
	if len(pub) == 0 || pub[0] != 4 {
		return common.Address{}, ErrInvalidSignature
	}
	var addr common.Address
	copy(addr[:], Keccak256(pub[1:])[12:])
	return addr, nil
}

// TransactionSignatureIsValid reports whether v, r, s form a valid secp256k1
// signature encoding. The low-s rule is enforced when homestead is true.
func TransactionSignatureIsValid(v byte, r, s *uint256.Int, homestead bool) bool {
	if r.IsZero() || s.IsZero() {
		return false
	}
	if homestead && s.Gt(secp256k1halfN) {
		return false
	}
	// Frontier: allow s to be in full N range
	return r.Lt(secp256k1N) && s.Lt(secp256k1N) && (v == 0 || v == 1)
}
