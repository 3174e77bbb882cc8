// Package phragmen implements the sequential Phragmén method for electing a
// committee from approval votes weighted by stake.
//
// Voter loads are held as Q192 fixed-point integers (real load * 2^192) so
// every comparison and division is exact and the outcome does not depend on
// floating-point rounding.
package phragmen

import (
	"fmt"
	"math/big"
	"sort"

	"go.uber.org/zap"

	"npos_election/pkg/data"
)

const loadBits = 192

var loadUnit = new(big.Int).Lsh(big.NewInt(1), loadBits)

// Solution is the raw outcome of an election: winners in election order and
// each voter's stake split across the winners it backs.
type Solution struct {
	Winners      []data.SelectedValidator
	Distribution []data.StakeAllocation
	// TotalStake is the stake of every voter that backs at least one
	// winner. It equals the sum of Distribution amounts.
	TotalStake data.Balance
	// BalancingIterations is the number of equalization passes that moved
	// stake.
	BalancingIterations int
}

// SequentialPhragmen runs elections. It holds no per-run state and is safe for
// concurrent use.
type SequentialPhragmen struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *SequentialPhragmen {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SequentialPhragmen{logger: logger}
}

type candidate struct {
	id        string
	selfStake data.Balance
	// approval is the total stake of the candidate's voters.
	approval *big.Int
	// weighted is the sum of load*stake over the candidate's voters.
	weighted *big.Int
	voters   []int
	elected  bool
	round    int
}

type edge struct {
	candidate int
	load      *big.Int
	amount    *big.Int
}

type voter struct {
	id    string
	stake *big.Int
	load  *big.Int
	edges []edge
	// active is the number of leading edges that point at winners once the
	// election is over.
	active int
}

func (v *voter) edgeTo(ci int) *edge {
	for i := 0; i < v.active; i++ {
		if v.edges[i].candidate == ci {
			return &v.edges[i]
		}
	}
	return nil
}

type election struct {
	candidates []candidate
	voters     []voter
	winners    []int
	logger     *zap.Logger
}

// Run elects committeeSize candidates from d. Targets that name no
// candidate in d are ignored, as are voters left without any target.
func (p *SequentialPhragmen) Run(d *data.ElectionData, committeeSize uint32, balancing *data.BalancingConfig) (*Solution, error) {
	if d == nil || len(d.Candidates) == 0 {
		return nil, data.NewValidationError("candidates", "no candidates available")
	}
	if len(d.Nominators) == 0 {
		return nil, data.NewValidationError("nominators", "no nominators available")
	}
	if committeeSize == 0 {
		return nil, data.NewValidationError("active_set_size", "active set size must be greater than zero")
	}
	if int(committeeSize) > len(d.Candidates) {
		return nil, &data.InsufficientCandidatesError{
			Requested: committeeSize,
			Available: uint32(len(d.Candidates)),
		}
	}

	e := newElection(d, p.logger)
	e.elect(int(committeeSize))
	if len(e.winners) < int(committeeSize) {
		return nil, &data.AlgorithmError{
			Message: fmt.Sprintf("only %d of %d requested candidates have any backing stake",
				len(e.winners), committeeSize),
			Algorithm: data.AlgorithmSequentialPhragmen,
		}
	}

	e.distribute()
	iterations := e.balance(balancing)

	sol, err := e.solution()
	if err != nil {
		return nil, err
	}
	sol.BalancingIterations = iterations
	return sol, nil
}

func newElection(d *data.ElectionData, logger *zap.Logger) *election {
	e := &election{
		candidates: make([]candidate, len(d.Candidates)),
		logger:     logger,
	}
	index := make(map[string]int, len(d.Candidates))
	for i, c := range d.Candidates {
		e.candidates[i] = candidate{
			id:        c.AccountID,
			selfStake: c.Stake,
			approval:  new(big.Int),
			weighted:  new(big.Int),
			round:     -1,
		}
		index[c.AccountID] = i
	}

	order := make([]int, len(d.Nominators))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return d.Nominators[order[a]].AccountID < d.Nominators[order[b]].AccountID
	})

	for _, ni := range order {
		n := &d.Nominators[ni]
		v := voter{id: n.AccountID, stake: n.Stake.Big(), load: new(big.Int)}
		seen := make(map[int]struct{}, len(n.Targets))
		for _, target := range n.Targets {
			ci, ok := index[target]
			if !ok {
				continue
			}
			if _, dup := seen[ci]; dup {
				continue
			}
			seen[ci] = struct{}{}
			v.edges = append(v.edges, edge{candidate: ci, load: new(big.Int), amount: new(big.Int)})
		}
		if len(v.edges) == 0 {
			continue
		}

		vi := len(e.voters)
		e.voters = append(e.voters, v)
		for _, ed := range v.edges {
			c := &e.candidates[ed.candidate]
			c.voters = append(c.voters, vi)
			c.approval.Add(c.approval, v.stake)
		}
	}
	return e
}

// score is (1 + sum(load*stake)) / approval in Q192.
func (c *candidate) score() *big.Int {
	s := new(big.Int).Add(loadUnit, c.weighted)
	return s.Quo(s, c.approval)
}

func (e *election) elect(rounds int) {
	for round := 0; round < rounds; round++ {
		best := -1
		var bestScore *big.Int
		for ci := range e.candidates {
			c := &e.candidates[ci]
			if c.elected || c.approval.Sign() == 0 {
				continue
			}
			s := c.score()
			if best < 0 {
				best, bestScore = ci, s
				continue
			}
			if order := s.Cmp(bestScore); order < 0 || (order == 0 && c.id < e.candidates[best].id) {
				best, bestScore = ci, s
			}
		}
		if best < 0 {
			return
		}
		e.choose(best, bestScore, round)
	}
}

func (e *election) choose(ci int, score *big.Int, round int) {
	w := &e.candidates[ci]
	w.elected = true
	w.round = round
	e.winners = append(e.winners, ci)

	for _, vi := range w.voters {
		v := &e.voters[vi]
		delta := new(big.Int).Sub(score, v.load)
		if delta.Sign() < 0 {
			delta.SetInt64(0)
		}
		var weight *big.Int
		if delta.Sign() > 0 && v.stake.Sign() > 0 {
			weight = new(big.Int).Mul(delta, v.stake)
		}
		for j := range v.edges {
			ed := &v.edges[j]
			if ed.candidate == ci {
				ed.load.Set(delta)
				continue
			}
			if c := &e.candidates[ed.candidate]; weight != nil && !c.elected {
				c.weighted.Add(c.weighted, weight)
			}
		}
		if delta.Sign() > 0 {
			v.load.Set(score)
		}
	}

	e.logger.Debug("candidate elected",
		zap.String("candidate", w.id),
		zap.Int("round", round+1),
		zap.Int("voters", len(w.voters)),
		zap.String("approval_stake", w.approval.String()))
}

// distribute splits every voter's stake over the winners it backs in
// proportion to the load each edge carries. The rounding remainder goes to
// the edge with the largest amount, the earliest elected on ties.
func (e *election) distribute() {
	for vi := range e.voters {
		v := &e.voters[vi]
		sort.SliceStable(v.edges, func(a, b int) bool {
			return e.edgeOrder(v.edges[a]) < e.edgeOrder(v.edges[b])
		})
		v.active = 0
		for _, ed := range v.edges {
			if e.candidates[ed.candidate].elected {
				v.active++
			}
		}
		if v.active == 0 {
			continue
		}

		active := v.edges[:v.active]
		total := new(big.Int)
		for _, ed := range active {
			total.Add(total, ed.load)
		}

		assigned := new(big.Int)
		if total.Sign() == 0 {
			share := new(big.Int).Quo(v.stake, big.NewInt(int64(len(active))))
			for _, ed := range active {
				ed.amount.Set(share)
				assigned.Add(assigned, share)
			}
		} else {
			for _, ed := range active {
				ed.amount.Mul(v.stake, ed.load)
				ed.amount.Quo(ed.amount, total)
				assigned.Add(assigned, ed.amount)
			}
		}

		remainder := new(big.Int).Sub(v.stake, assigned)
		if remainder.Sign() > 0 {
			largest := 0
			for i := 1; i < len(active); i++ {
				if active[i].amount.Cmp(active[largest].amount) > 0 {
					largest = i
				}
			}
			active[largest].amount.Add(active[largest].amount, remainder)
		}
	}
}

// edgeOrder sorts edges to winners by election round, ahead of edges to
// candidates that lost.
func (e *election) edgeOrder(ed edge) int {
	c := &e.candidates[ed.candidate]
	if !c.elected {
		return len(e.candidates) + ed.candidate
	}
	return c.round
}

func (e *election) solution() (*Solution, error) {
	backing := make([]*big.Int, len(e.candidates))
	counts := make([]uint32, len(e.candidates))
	for _, ci := range e.winners {
		backing[ci] = new(big.Int)
	}

	totalStake := new(big.Int)
	for vi := range e.voters {
		v := &e.voters[vi]
		if v.active == 0 {
			continue
		}
		totalStake.Add(totalStake, v.stake)
		for _, ed := range v.edges[:v.active] {
			backing[ed.candidate].Add(backing[ed.candidate], ed.amount)
			counts[ed.candidate]++
		}
	}

	sol := &Solution{
		Winners:      make([]data.SelectedValidator, 0, len(e.winners)),
		Distribution: []data.StakeAllocation{},
	}
	var err error
	if sol.TotalStake, err = data.BalanceFromBig(totalStake); err != nil {
		return nil, err
	}

	for rank, ci := range e.winners {
		c := &e.candidates[ci]
		total, err := data.BalanceFromBig(backing[ci])
		if err != nil {
			return nil, err
		}
		sol.Winners = append(sol.Winners, data.SelectedValidator{
			AccountID:         c.id,
			TotalBackingStake: total,
			SelfStake:         c.selfStake,
			NominatorCount:    counts[ci],
			Rank:              uint32(rank + 1),
		})

		for _, vi := range c.voters {
			v := &e.voters[vi]
			ed := v.edgeTo(ci)
			if ed == nil {
				continue
			}
			amount, err := data.BalanceFromBig(ed.amount)
			if err != nil {
				return nil, err
			}
			sol.Distribution = append(sol.Distribution, data.StakeAllocation{
				NominatorID: v.id,
				ValidatorID: c.id,
				Amount:      amount,
				Proportion:  v.proportion(ed),
			})
		}
	}
	return sol, nil
}

// proportion is the share of the voter's stake on ed. Voters without stake
// report the share of their load instead.
func (v *voter) proportion(ed *edge) data.Proportion {
	if v.stake.Sign() > 0 {
		return data.NewProportion(ed.amount, v.stake)
	}
	total := new(big.Int)
	for _, other := range v.edges[:v.active] {
		total.Add(total, other.load)
	}
	if total.Sign() > 0 {
		return data.NewProportion(ed.load, total)
	}
	return data.NewProportion(big.NewInt(1), big.NewInt(int64(v.active)))
}
