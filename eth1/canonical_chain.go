package eth1

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/core/rawdb"
	"github.com/erigontech/execution/kv"
	"github.com/erigontech/execution/types"
)

const canonicalCacheSize = 1000

// CanonicalChain tracks the (height, hash) head and rewrites the
// canonical-hash table forward and backward, climbing parent links. A small
// LRU caches recent number -> canonical hash lookups.
//
// Invariant after any operation: for every h <= current head, CanonicalHashes
// has exactly one entry chaining by parent back to the genesis.
type CanonicalChain struct {
	initialHead BlockId
	currentHead BlockId
	cache       *lru.Cache[uint64, common.Hash]
}

type BlockId struct {
	Number uint64
	Hash   common.Hash
}

func NewCanonicalChain(tx kv.Tx) (*CanonicalChain, error) {
	cache, err := lru.New[uint64, common.Hash](canonicalCacheSize)
	if err != nil {
		return nil, err
	}
	chain := &CanonicalChain{cache: cache}
	headHash := rawdb.ReadHeadHeaderHash(tx)
	if headHash != (common.Hash{}) {
		number, err := rawdb.ReadHeaderNumber(tx, headHash)
		if err != nil {
			return nil, err
		}
		if number == nil {
			return nil, fmt.Errorf("head header %x has no number", headHash)
		}
		chain.initialHead = BlockId{Number: *number, Hash: headHash}
		chain.currentHead = chain.initialHead
	}
	return chain, nil
}

func (c *CanonicalChain) InitialHead() BlockId { return c.initialHead }

func (c *CanonicalChain) CurrentHead() BlockId { return c.currentHead }

func (c *CanonicalChain) canonicalHash(tx kv.Tx, number uint64) (common.Hash, error) {
	if hash, ok := c.cache.Get(number); ok {
		return hash, nil
	}
	hash, err := rawdb.ReadCanonicalHash(tx, number)
	if err != nil {
		return common.Hash{}, err
	}
	if hash != (common.Hash{}) {
		c.cache.Add(number, hash)
	}
	return hash, nil
}

// FindForkingPoint walks parent pointers of a header already in the header
// table until a parent matches the canonical hash at that height. Returns the
// number of the highest ancestor on the canonical chain.
func (c *CanonicalChain) FindForkingPoint(tx kv.Tx, header *types.Header) (uint64, error) {
	current := header
	for {
		number := current.Number.Uint64()
		if number == 0 {
			return 0, nil
		}
		parentNumber := number - 1
		canonical, err := c.canonicalHash(tx, parentNumber)
		if err != nil {
			return 0, err
		}
		if canonical == current.ParentHash {
			return parentNumber, nil
		}
		parent := rawdb.ReadHeader(tx, current.ParentHash, parentNumber)
		if parent == nil {
			// a parent header that must exist is missing: storage corruption
			panic(fmt.Errorf("canonical chain: missing parent header %x at %d", current.ParentHash, parentNumber))
		}
		current = parent
	}
}

// UpdateUpTo rewrites canonical hashes from height downward, climbing parent
// links, until the existing canonical hash agrees. The cache is updated in
// lockstep.
func (c *CanonicalChain) UpdateUpTo(tx kv.RwTx, height uint64, hash common.Hash) error {
	currentHash := hash
	for number := height; ; number-- {
		existing, err := rawdb.ReadCanonicalHash(tx, number)
		if err != nil {
			return err
		}
		if existing == currentHash {
			break
		}
		if err := rawdb.WriteCanonicalHash(tx, currentHash, number); err != nil {
			return err
		}
		c.cache.Add(number, currentHash)
		if number == 0 {
			break
		}
		header := rawdb.ReadHeader(tx, currentHash, number)
		if header == nil {
			panic(fmt.Errorf("canonical chain: missing header %x at %d", currentHash, number))
		}
		currentHash = header.ParentHash
	}
	c.currentHead = BlockId{Number: height, Hash: hash}
	return nil
}

// DeleteDownTo removes canonical hashes strictly above the unwind point; the
// head becomes (unwindPoint, canonical hash at unwindPoint), which must exist.
func (c *CanonicalChain) DeleteDownTo(tx kv.RwTx, unwindPoint uint64) error {
	if err := rawdb.TruncateCanonicalHash(tx, unwindPoint+1); err != nil {
		return err
	}
	for number := unwindPoint + 1; number <= c.currentHead.Number; number++ {
		c.cache.Remove(number)
	}
	newHeadHash, err := rawdb.ReadCanonicalHash(tx, unwindPoint)
	if err != nil {
		return err
	}
	if newHeadHash == (common.Hash{}) {
		panic(fmt.Errorf("canonical chain: no canonical hash at unwind point %d", unwindPoint))
	}
	c.currentHead = BlockId{Number: unwindPoint, Hash: newHeadHash}
	return nil
}
