package phragmen

import (
	"math/big"

	"go.uber.org/zap"

	"npos_election/pkg/data"
)

// balance narrows the spread between the most and least backed winners by
// moving stake along voters that back both. Winners and their ranks are not
// affected, and each voter's total stays equal to its stake. It returns the
// number of passes that moved stake.
func (e *election) balance(cfg *data.BalancingConfig) int {
	if cfg == nil || len(e.winners) < 2 {
		return 0
	}
	iterations := cfg.Iterations
	tolerance := cfg.Tolerance.Big()

	backing := make([]*big.Int, len(e.candidates))
	for _, ci := range e.winners {
		backing[ci] = new(big.Int)
	}
	for vi := range e.voters {
		v := &e.voters[vi]
		for _, ed := range v.edges[:v.active] {
			backing[ed.candidate].Add(backing[ed.candidate], ed.amount)
		}
	}

	passes := 0
	for ; passes < iterations; passes++ {
		hi, lo := e.extremes(backing)
		spread := new(big.Int).Sub(backing[hi], backing[lo])
		if spread.Cmp(tolerance) <= 0 {
			break
		}
		want := spread.Rsh(spread, 1)
		if want.Sign() == 0 {
			break
		}

		moved := new(big.Int)
		step := new(big.Int)
		for _, vi := range e.candidates[hi].voters {
			v := &e.voters[vi]
			from, to := v.edgeTo(hi), v.edgeTo(lo)
			if from == nil || to == nil || from.amount.Sign() == 0 {
				continue
			}
			step.Sub(want, moved)
			if from.amount.Cmp(step) < 0 {
				step.Set(from.amount)
			}
			from.amount.Sub(from.amount, step)
			to.amount.Add(to.amount, step)
			moved.Add(moved, step)
			if moved.Cmp(want) == 0 {
				break
			}
		}
		if moved.Sign() == 0 {
			break
		}
		backing[hi].Sub(backing[hi], moved)
		backing[lo].Add(backing[lo], moved)

		e.logger.Debug("balanced stake",
			zap.String("from", e.candidates[hi].id),
			zap.String("to", e.candidates[lo].id),
			zap.String("amount", moved.String()))
	}
	return passes
}

// extremes returns the winners with the highest and lowest backing, lowest
// account id first on ties.
func (e *election) extremes(backing []*big.Int) (hi, lo int) {
	hi, lo = -1, -1
	for _, ci := range e.winners {
		id := e.candidates[ci].id
		if hi < 0 {
			hi, lo = ci, ci
			continue
		}
		if c := backing[ci].Cmp(backing[hi]); c > 0 || (c == 0 && id < e.candidates[hi].id) {
			hi = ci
		}
		if c := backing[ci].Cmp(backing[lo]); c < 0 || (c == 0 && id < e.candidates[lo].id) {
			lo = ci
		}
	}
	return hi, lo
}
