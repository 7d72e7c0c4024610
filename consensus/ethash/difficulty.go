package ethash

import (
	"math/big"

	"github.com/erigontech/execution/chain"
	"github.com/erigontech/execution/common"
	"github.com/erigontech/execution/params"
	"github.com/erigontech/execution/types"
)

var (
	expDiffPeriod = big.NewInt(100000)
	big1          = big.NewInt(1)
	big2          = big.NewInt(2)
	big9          = big.NewInt(9)
	big10         = big.NewInt(10)
	bigMinus99    = big.NewInt(-99)

	minimumDifficulty      = new(big.Int).SetUint64(params.MinimumDifficulty)
	difficultyBoundDivisor = new(big.Int).SetUint64(params.DifficultyBoundDivisor)
	durationLimit          = new(big.Int).SetUint64(params.DurationLimit)
)

// CalcDifficulty is the difficulty adjustment algorithm. It returns the
// difficulty that a new block should have when created at time given the
// parent block's time and difficulty.
func CalcDifficulty(config *chain.Config, time, parentTime uint64, parentDifficulty *big.Int, parentNumber uint64, parentUncleHash common.Hash) *big.Int {
	next := parentNumber + 1
	switch {
	case config.IsGrayGlacier(next):
		return calcDifficultyEip5133(time, parentTime, parentDifficulty, parentNumber, parentUncleHash)
	case config.IsArrowGlacier(next):
		return calcDifficultyEip4345(time, parentTime, parentDifficulty, parentNumber, parentUncleHash)
	case config.IsMuirGlacier(next):
		return calcDifficultyEip2384(time, parentTime, parentDifficulty, parentNumber, parentUncleHash)
	case config.IsConstantinople(next):
		return calcDifficultyConstantinople(time, parentTime, parentDifficulty, parentNumber, parentUncleHash)
	case config.IsByzantium(next):
		return calcDifficultyByzantium(time, parentTime, parentDifficulty, parentNumber, parentUncleHash)
	case config.IsHomestead(next):
		return calcDifficultyHomestead(time, parentTime, parentDifficulty, parentNumber)
	default:
		return calcDifficultyFrontier(time, parentTime, parentDifficulty, parentNumber)
	}
}

// makeDifficultyCalculator creates a difficulty calculator with the given bomb delay.
// the difficulty is calculated with Byzantium rules, which differs from Homestead in
// how uncles affect the calculation.
func makeDifficultyCalculator(bombDelay *big.Int) func(time, parentTime uint64, parentDifficulty *big.Int, parentNumber uint64, parentUncleHash common.Hash) *big.Int {
	// Note, the calculations below look at the parent number, which is 1 below
	// the block number. Thus we remove one from the delay given.
	bombDelayFromParent := new(big.Int).Sub(bombDelay, big1)
	return func(time, parentTime uint64, parentDifficulty *big.Int, parentNumber uint64, parentUncleHash common.Hash) *big.Int {
		// https://github.com/ethereum/EIPs/issues/100
		// algorithm:
		// diff = (parent_diff +
		//         (parent_diff / 2048 * max((2 if len(parent.uncles) else 1) - ((timestamp - parent.timestamp) // 9), -99))
		//        ) + 2^(periodCount - 2)
		x := new(big.Int).SetUint64(time - parentTime)
		x.Div(x, big9)
		if parentUncleHash == types.EmptyUncleHash {
			x.Sub(big1, x)
		} else {
			x.Sub(big2, x)
		}
		if x.Cmp(bigMinus99) < 0 {
			x.Set(bigMinus99)
		}
		y := new(big.Int).Div(parentDifficulty, difficultyBoundDivisor)
		x.Mul(y, x)
		x.Add(parentDifficulty, x)
		if x.Cmp(minimumDifficulty) < 0 {
			x.Set(minimumDifficulty)
		}
		// calculate a fake block number for the ice-age delay
		fakeBlockNumber := new(big.Int)
		if parentBig := new(big.Int).SetUint64(parentNumber); parentBig.Cmp(bombDelayFromParent) >= 0 {
			fakeBlockNumber.Sub(parentBig, bombDelayFromParent)
		}
		periodCount := fakeBlockNumber.Div(fakeBlockNumber, expDiffPeriod)
		if periodCount.Cmp(big1) > 0 {
			y.Sub(periodCount, big2)
			y.Exp(big2, y, nil)
			x.Add(x, y)
		}
		return x
	}
}

var (
	calcDifficultyEip5133         = makeDifficultyCalculator(big.NewInt(11400000))
	calcDifficultyEip4345         = makeDifficultyCalculator(big.NewInt(10700000))
	calcDifficultyEip2384         = makeDifficultyCalculator(big.NewInt(9000000))
	calcDifficultyConstantinople  = makeDifficultyCalculator(big.NewInt(5000000))
	calcDifficultyByzantium       = makeDifficultyCalculator(big.NewInt(3000000))
)

// calcDifficultyHomestead is the difficulty adjustment algorithm of the
// Homestead rules.
func calcDifficultyHomestead(time, parentTime uint64, parentDifficulty *big.Int, parentNumber uint64) *big.Int {
	// https://github.com/ethereum/EIPs/blob/master/EIPS/eip-2.md
	// algorithm:
	// diff = (parent_diff +
	//         (parent_diff / 2048 * max(1 - (block_timestamp - parent_timestamp) // 10, -99))
	//        ) + 2^(periodCount - 2)
	x := new(big.Int).SetUint64(time - parentTime)
	x.Div(x, big10)
	x.Sub(big1, x)
	if x.Cmp(bigMinus99) < 0 {
		x.Set(bigMinus99)
	}
	y := new(big.Int).Div(parentDifficulty, difficultyBoundDivisor)
	x.Mul(y, x)
	x.Add(parentDifficulty, x)
	if x.Cmp(minimumDifficulty) < 0 {
		x.Set(minimumDifficulty)
	}
	periodCount := new(big.Int).SetUint64(parentNumber + 1)
	periodCount.Div(periodCount, expDiffPeriod)
	if periodCount.Cmp(big1) > 0 {
		y.Sub(periodCount, big2)
		y.Exp(big2, y, nil)
		x.Add(x, y)
	}
	return x
}

// calcDifficultyFrontier is the original difficulty adjustment algorithm.
func calcDifficultyFrontier(time, parentTime uint64, parentDifficulty *big.Int, parentNumber uint64) *big.Int {
	diff := new(big.Int)
	adjust := new(big.Int).Div(parentDifficulty, difficultyBoundDivisor)
	bigTime := new(big.Int).SetUint64(time)
	bigParentTime := new(big.Int).SetUint64(parentTime)

	if bigTime.Sub(bigTime, bigParentTime).Cmp(durationLimit) < 0 {
		diff.Add(parentDifficulty, adjust)
	} else {
		diff.Sub(parentDifficulty, adjust)
	}
	if diff.Cmp(minimumDifficulty) < 0 {
		diff.Set(minimumDifficulty)
	}

	periodCount := new(big.Int).SetUint64(parentNumber + 1)
	periodCount.Div(periodCount, expDiffPeriod)
	if periodCount.Cmp(big1) > 0 {
		expDiff := periodCount.Sub(periodCount, big2)
		expDiff.Exp(big2, expDiff, nil)
		diff.Add(diff, expDiff)
		if diff.Cmp(minimumDifficulty) < 0 {
			diff.Set(minimumDifficulty)
		}
	}
	return diff
}
