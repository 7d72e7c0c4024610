// Package clique implements the proof-of-authority surface the execution core
// needs: signer recovery from the seal in extra-data, header shape checks and
// the in-turn/out-of-turn difficulty rule. The voting snapshot machinery
// lives with the (out-of-scope) block producer.
package clique

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/erigontech/execution/chain"
	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/consensus"
	"github.com/erigontech/execution/core/state"
	"github.com/erigontech/execution/crypto"
	"github.com/erigontech/execution/types"
)

const (
	// ExtraVanity is the fixed number of extra-data prefix bytes reserved for
	// the signer vanity.
	ExtraVanity = 32
	// ExtraSeal is the fixed number of extra-data suffix bytes reserved for
	// the signer seal.
	ExtraSeal = 65

	inmemorySignatures = 4096
)

var (
	// DiffInTurn is the difficulty of a block signed in turn.
	DiffInTurn = big.NewInt(2)
	// DiffNoTurn is the difficulty of a block signed out of turn.
	DiffNoTurn = big.NewInt(1)

	errMissingVanity      = errors.New("extra-data 32 byte vanity prefix missing")
	errMissingSignature   = errors.New("extra-data 65 byte signature suffix missing")
	errInvalidMixDigest   = errors.New("non-zero mix digest")
	errInvalidUncleHash   = errors.New("non empty uncle hash")
	errInvalidDifficulty = errors.New("invalid difficulty")
)

type Clique struct {
	config *chain.CliqueConfig

	signatures *lru.Cache[common.Hash, common.Address] // recovered signers by header hash
}

func New(config *chain.CliqueConfig) *Clique {
	signatures, _ := lru.New[common.Hash, common.Address](inmemorySignatures)
	return &Clique{config: config, signatures: signatures}
}

func (c *Clique) Type() chain.ConsensusName { return chain.CliqueConsensus }

// GetBeneficiary returns the signer recovered from the seal: in clique the
// coinbase field carries votes, not the fee recipient.
func (c *Clique) GetBeneficiary(header *types.Header) common.Address {
	signer, err := c.Author(header)
	if err != nil {
		return common.Address{}
	}
	return signer
}

// Author retrieves the account that sealed the header.
func (c *Clique) Author(header *types.Header) (common.Address, error) {
	if signer, ok := c.signatures.Get(header.Hash()); ok {
		return signer, nil
	}
	if len(header.Extra) < ExtraSeal {
		return common.Address{}, errMissingSignature
	}
	signature := header.Extra[len(header.Extra)-ExtraSeal:]

	signer, err := crypto.RecoverAddress(sealHash(header), signature)
	if err != nil {
		return common.Address{}, err
	}
	c.signatures.Add(header.Hash(), signer)
	return signer, nil
}

func (c *Clique) ValidateBlockHeader(reader consensus.ChainHeaderReader, header *types.Header, checkFutureTimestamp bool) error {
	if len(header.Extra) < ExtraVanity {
		return errMissingVanity
	}
	if len(header.Extra) < ExtraVanity+ExtraSeal {
		return errMissingSignature
	}
	if header.MixDigest != (common.Hash{}) {
		return errInvalidMixDigest
	}
	if header.UncleHash != types.EmptyUncleHash {
		return errInvalidUncleHash
	}
	if header.Number.Sign() > 0 {
		if header.Difficulty == nil || (header.Difficulty.Cmp(DiffInTurn) != 0 && header.Difficulty.Cmp(DiffNoTurn) != 0) {
			return errInvalidDifficulty
		}
	}
	_, err := consensus.ValidateHeaderBasics(reader, header, checkFutureTimestamp)
	return err
}

// ValidateSeal recovers the sealer. Membership in the signer set is decided by
// the snapshot layer of the block producer; here a recoverable signature is
// what makes a seal valid.
func (c *Clique) ValidateSeal(_ consensus.ChainHeaderReader, header *types.Header) error {
	if _, err := c.Author(header); err != nil {
		return fmt.Errorf("%w: %v", consensus.ErrInvalidSeal, err)
	}
	return nil
}

func (c *Clique) ValidateOmmers(_ consensus.ChainHeaderReader, _ *types.Header, ommers []*types.Header) error {
	if len(ommers) > 0 {
		return consensus.ErrTooManyOmmers
	}
	return nil
}

// Finalize is a no-op: clique has no block rewards.
func (c *Clique) Finalize(*chain.Config, *types.Header, *state.IntraBlockState, []*types.Header, types.Withdrawals) error {
	return nil
}

func (c *Clique) CalcDifficulty(_ consensus.ChainHeaderReader, _, _ uint64, _ *big.Int, _ uint64, _, _ common.Hash) *big.Int {
	return new(big.Int).Set(DiffInTurn)
}

// sealHash is the hash the sealer signed: the header with the seal bytes
// stripped from extra-data.
func sealHash(header *types.Header) common.Hash {
	sealless := header.Copy()
	sealless.Extra = header.Extra[:len(header.Extra)-ExtraSeal]
	var buf bytes.Buffer
	if err := sealless.EncodeRLP(&buf); err != nil {
		panic(err)
	}
	return crypto.Keccak256Hash(buf.Bytes())
}
