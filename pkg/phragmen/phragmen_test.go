package phragmen

import (
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"npos_election/pkg/data"
)

func electionData(candidates []string, nominators ...data.Nominator) *data.ElectionData {
	d := data.NewElectionData()
	for _, id := range candidates {
		d.Candidates = append(d.Candidates, data.ValidatorCandidate{AccountID: id, Stake: data.NewBalance(1000)})
	}
	d.Nominators = append(d.Nominators, nominators...)
	return d
}

func nominator(id string, stake uint64, targets ...string) data.Nominator {
	return data.Nominator{AccountID: id, Stake: data.NewBalance(stake), Targets: targets}
}

func winnerIDs(sol *Solution) []string {
	ids := make([]string, len(sol.Winners))
	for i, w := range sol.Winners {
		ids[i] = w.AccountID
	}
	return ids
}

func backing(sol *Solution) map[string]string {
	out := make(map[string]string, len(sol.Winners))
	for _, w := range sol.Winners {
		out[w.AccountID] = w.TotalBackingStake.String()
	}
	return out
}

func amounts(sol *Solution) map[string]string {
	out := make(map[string]string, len(sol.Distribution))
	for _, a := range sol.Distribution {
		out[a.NominatorID+"->"+a.ValidatorID] = a.Amount.String()
	}
	return out
}

// assertConservation checks that every voter's allocations sum to its
// stake, its proportions sum to one, and the total matches.
func assertConservation(t *testing.T, d *data.ElectionData, sol *Solution) {
	t.Helper()

	perNominator := make(map[string][]data.StakeAllocation)
	var total data.Balance
	for _, a := range sol.Distribution {
		perNominator[a.NominatorID] = append(perNominator[a.NominatorID], a)
		total = total.Add(a.Amount)
	}
	assert.True(t, total.Equal(sol.TotalStake), "allocated %s, total stake %s", total, sol.TotalStake)

	for id, allocs := range perNominator {
		n, ok := d.Nominator(id)
		require.True(t, ok)

		var sum data.Balance
		props := make([]data.Proportion, 0, len(allocs))
		for _, a := range allocs {
			assert.LessOrEqual(t, a.Amount.Cmp(n.Stake), 0)
			sum = sum.Add(a.Amount)
			props = append(props, a.Proportion)
		}
		assert.True(t, sum.Equal(n.Stake), "nominator %s allocated %s of %s", id, sum, n.Stake)
		assert.Equal(t, 0, data.SumProportions(props...).Cmp(big.NewRat(1, 1)), "nominator %s", id)
	}
}

func TestThreeCandidatesSingleNominator(t *testing.T) {
	d := data.NewElectionData()
	d.Candidates = []data.ValidatorCandidate{
		{AccountID: "A", Stake: data.NewBalance(1_000_000_000)},
		{AccountID: "B", Stake: data.NewBalance(2_000_000_000)},
		{AccountID: "C", Stake: data.NewBalance(3_000_000_000)},
	}
	d.Nominators = []data.Nominator{nominator("n1", 10_000_000_000, "A", "B", "C")}

	sol, err := New(zaptest.NewLogger(t)).Run(d, 3, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C"}, winnerIDs(sol))
	assert.Equal(t, "10000000000", sol.TotalStake.String())
	assert.Equal(t, map[string]string{
		"n1->A": "3333333334",
		"n1->B": "3333333333",
		"n1->C": "3333333333",
	}, amounts(sol))

	for i, w := range sol.Winners {
		assert.Equal(t, uint32(i+1), w.Rank)
		assert.Equal(t, uint32(1), w.NominatorCount)
	}
	assert.Equal(t, "3000000000", sol.Winners[2].SelfStake.String())
	assertConservation(t, d, sol)
}

func classicData() *data.ElectionData {
	return electionData([]string{"a", "b", "c", "d"},
		nominator("n1", 10, "a", "b"),
		nominator("n2", 20, "a", "c"),
		nominator("n3", 30, "a", "d"),
		nominator("n4", 40, "b", "c", "d"),
	)
}

func TestSequentialPhragmen(t *testing.T) {
	p := New(zaptest.NewLogger(t))

	t.Run("TwoSeats", func(t *testing.T) {
		d := classicData()
		sol, err := p.Run(d, 2, nil)
		require.NoError(t, err)

		assert.Equal(t, []string{"d", "a"}, winnerIDs(sol))
		assert.Equal(t, map[string]string{"d": "58", "a": "42"}, backing(sol))
		assert.Equal(t, map[string]string{
			"n1->a": "10",
			"n2->a": "20",
			"n3->d": "18",
			"n3->a": "12",
			"n4->d": "40",
		}, amounts(sol))
		assert.Equal(t, "100", sol.TotalStake.String())
		assertConservation(t, d, sol)
	})

	t.Run("ThreeSeats", func(t *testing.T) {
		d := classicData()
		sol, err := p.Run(d, 3, nil)
		require.NoError(t, err)

		assert.Equal(t, []string{"d", "a", "c"}, winnerIDs(sol))
		assert.Equal(t, map[string]string{"d": "34", "a": "36", "c": "30"}, backing(sol))
		assertConservation(t, d, sol)
	})

	t.Run("DistributionOrdering", func(t *testing.T) {
		sol, err := p.Run(classicData(), 2, nil)
		require.NoError(t, err)

		var order []string
		for _, a := range sol.Distribution {
			order = append(order, a.ValidatorID+":"+a.NominatorID)
		}
		assert.Equal(t, []string{"d:n3", "d:n4", "a:n1", "a:n2", "a:n3"}, order)
	})

	t.Run("TiesBreakByAccountID", func(t *testing.T) {
		d := electionData([]string{"zeta", "alpha", "mid"},
			nominator("n1", 50, "zeta", "alpha", "mid"),
		)
		sol, err := p.Run(d, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"alpha"}, winnerIDs(sol))
	})

	t.Run("Proportions", func(t *testing.T) {
		sol, err := p.Run(classicData(), 2, nil)
		require.NoError(t, err)
		for _, a := range sol.Distribution {
			if a.NominatorID == "n3" && a.ValidatorID == "d" {
				assert.Equal(t, "3/5", a.Proportion.String())
			}
		}
	})
}

func TestBalancing(t *testing.T) {
	p := New(zaptest.NewLogger(t))

	t.Run("EqualizesTwoSeats", func(t *testing.T) {
		d := classicData()
		sol, err := p.Run(d, 2, data.DefaultBalancingConfig())
		require.NoError(t, err)

		assert.Equal(t, []string{"d", "a"}, winnerIDs(sol))
		assert.Equal(t, map[string]string{"d": "50", "a": "50"}, backing(sol))
		assert.Equal(t, 1, sol.BalancingIterations)
		assertConservation(t, d, sol)
	})

	t.Run("StopsWithinTolerance", func(t *testing.T) {
		d := classicData()
		sol, err := p.Run(d, 3, data.DefaultBalancingConfig())
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"d": "34", "a": "33", "c": "33"}, backing(sol))
		assertConservation(t, d, sol)

		wide := &data.BalancingConfig{Iterations: 16, Tolerance: data.NewBalance(6)}
		sol, err = p.Run(classicData(), 3, wide)
		require.NoError(t, err)
		assert.Equal(t, 0, sol.BalancingIterations)
		assert.Equal(t, map[string]string{"d": "34", "a": "36", "c": "30"}, backing(sol))
	})

	t.Run("ZeroIterationsIsOff", func(t *testing.T) {
		plain, err := p.Run(classicData(), 2, nil)
		require.NoError(t, err)
		sol, err := p.Run(classicData(), 2, &data.BalancingConfig{})
		require.NoError(t, err)
		assert.Equal(t, 0, sol.BalancingIterations)
		assert.Equal(t, backing(plain), backing(sol))
	})

	t.Run("NeverChangesWinners", func(t *testing.T) {
		d := randomData(7, 30, 300, 6)
		plain, err := p.Run(d, 12, nil)
		require.NoError(t, err)
		balanced, err := p.Run(d, 12, data.DefaultBalancingConfig())
		require.NoError(t, err)

		assert.Equal(t, winnerIDs(plain), winnerIDs(balanced))
		assert.True(t, plain.TotalStake.Equal(balanced.TotalStake))
		assertConservation(t, d, balanced)
	})
}

func TestRunErrors(t *testing.T) {
	p := New(nil)

	t.Run("NoCandidates", func(t *testing.T) {
		_, err := p.Run(electionData(nil, nominator("n1", 1, "a")), 1, nil)
		var verr *data.ValidationError
		assert.True(t, errors.As(err, &verr))
	})

	t.Run("NoNominators", func(t *testing.T) {
		_, err := p.Run(electionData([]string{"a"}), 1, nil)
		var verr *data.ValidationError
		assert.True(t, errors.As(err, &verr))
	})

	t.Run("ZeroSeats", func(t *testing.T) {
		_, err := p.Run(classicData(), 0, nil)
		var verr *data.ValidationError
		assert.True(t, errors.As(err, &verr))
	})

	t.Run("MoreSeatsThanCandidates", func(t *testing.T) {
		_, err := p.Run(classicData(), 5, nil)
		var insufficient *data.InsufficientCandidatesError
		require.True(t, errors.As(err, &insufficient))
		assert.Equal(t, uint32(5), insufficient.Requested)
		assert.Equal(t, uint32(4), insufficient.Available)
	})

	t.Run("InsufficientSupport", func(t *testing.T) {
		d := electionData([]string{"a", "b", "c"},
			nominator("n1", 10, "a"),
			nominator("n2", 0, "b"),
		)
		_, err := p.Run(d, 2, nil)
		var algErr *data.AlgorithmError
		require.True(t, errors.As(err, &algErr))
		assert.Equal(t, data.AlgorithmSequentialPhragmen, algErr.Algorithm)
	})
}

func TestUnresolvableTargets(t *testing.T) {
	d := electionData([]string{"a", "b"},
		nominator("n1", 10, "a", "ghost"),
		nominator("n2", 20, "ghost"),
		nominator("n3", 5, "b"),
	)
	sol, err := New(nil).Run(d, 2, nil)
	require.NoError(t, err)

	assert.Equal(t, "15", sol.TotalStake.String())
	assert.Equal(t, map[string]string{"n1->a": "10", "n3->b": "5"}, amounts(sol))
}

func TestZeroStakeNominator(t *testing.T) {
	d := electionData([]string{"a"},
		nominator("n0", 0, "a"),
		nominator("n1", 10, "a"),
	)
	sol, err := New(nil).Run(d, 1, nil)
	require.NoError(t, err)

	require.Len(t, sol.Distribution, 2)
	zero := sol.Distribution[0]
	assert.Equal(t, "n0", zero.NominatorID)
	assert.True(t, zero.Amount.IsZero())
	assert.Equal(t, "1/1", zero.Proportion.String())
	assert.Equal(t, uint32(2), sol.Winners[0].NominatorCount)
	assert.Equal(t, "10", sol.TotalStake.String())
}

func TestLargeStakes(t *testing.T) {
	maxStake := data.MustParseBalance("340282366920938463463374607431768211455")
	d := electionData([]string{"a", "b", "c"})
	d.Nominators = []data.Nominator{
		{AccountID: "whale1", Stake: maxStake, Targets: []string{"a", "b", "c"}},
		{AccountID: "whale2", Stake: maxStake, Targets: []string{"b", "c"}},
		{AccountID: "minnow", Stake: data.NewBalance(1), Targets: []string{"a"}},
	}

	sol, err := New(nil).Run(d, 3, data.DefaultBalancingConfig())
	require.NoError(t, err)
	assert.Equal(t, maxStake.Add(maxStake).Add(data.NewBalance(1)).String(), sol.TotalStake.String())
	assertConservation(t, d, sol)
}

func randomData(seed int64, candidates, nominators, maxTargets int) *data.ElectionData {
	rng := rand.New(rand.NewSource(seed))
	d := data.NewElectionData()
	for i := 0; i < candidates; i++ {
		d.Candidates = append(d.Candidates, data.ValidatorCandidate{
			AccountID: fmt.Sprintf("candidate-%03d", i),
			Stake:     data.NewBalance(uint64(rng.Int63n(1_000_000_000_000))),
		})
	}
	for i := 0; i < nominators; i++ {
		count := 1 + rng.Intn(maxTargets)
		perm := rng.Perm(candidates)[:count]
		targets := make([]string, count)
		for j, ci := range perm {
			targets[j] = d.Candidates[ci].AccountID
		}
		d.Nominators = append(d.Nominators, data.Nominator{
			AccountID: fmt.Sprintf("nominator-%04d", i),
			Stake:     data.NewBalance(1 + uint64(rng.Int63n(10_000_000_000_000))),
			Targets:   targets,
		})
	}
	return d
}

func TestDeterminism(t *testing.T) {
	d := randomData(42, 50, 500, 16)
	p := New(nil)

	first, err := p.Run(d, 25, data.DefaultBalancingConfig())
	require.NoError(t, err)
	assert.Len(t, first.Winners, 25)
	assertConservation(t, d, first)

	for i := 0; i < 10; i++ {
		again, err := p.Run(d, 25, data.DefaultBalancingConfig())
		require.NoError(t, err)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("run %d differs (-first +again):\n%s", i, diff)
		}
	}

	t.Run("InputOrderIndependent", func(t *testing.T) {
		shuffled := d.Clone()
		rng := rand.New(rand.NewSource(1))
		rng.Shuffle(len(shuffled.Candidates), func(i, j int) {
			shuffled.Candidates[i], shuffled.Candidates[j] = shuffled.Candidates[j], shuffled.Candidates[i]
		})
		rng.Shuffle(len(shuffled.Nominators), func(i, j int) {
			shuffled.Nominators[i], shuffled.Nominators[j] = shuffled.Nominators[j], shuffled.Nominators[i]
		})

		again, err := p.Run(shuffled, 25, data.DefaultBalancingConfig())
		require.NoError(t, err)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("shuffled input differs (-first +shuffled):\n%s", diff)
		}
	})
}
