package input

import (
	"fmt"
	"math/rand"

	"npos_election/pkg/data"
	"npos_election/pkg/validation"
)

// SyntheticBuilder assembles election data by hand, mostly for tests and
// what-if experiments.
type SyntheticBuilder struct {
	data       *data.ElectionData
	candidates map[string]struct{}
	nominators map[string]struct{}
	err        error
}

func NewSyntheticBuilder() *SyntheticBuilder {
	d := data.NewElectionData()
	d.Metadata = &data.ElectionMetadata{Source: data.DataSourceSynthetic}
	return &SyntheticBuilder{
		data:       d,
		candidates: make(map[string]struct{}),
		nominators: make(map[string]struct{}),
	}
}

// AddCandidate records a candidate. The first error is kept and returned by
// Build.
func (b *SyntheticBuilder) AddCandidate(id string, stake data.Balance) *SyntheticBuilder {
	if b.err != nil {
		return b
	}
	if _, dup := b.candidates[id]; dup {
		b.err = &data.InvalidDataError{Message: fmt.Sprintf("duplicate candidate %s", id)}
		return b
	}
	b.candidates[id] = struct{}{}
	b.data.Candidates = append(b.data.Candidates, data.ValidatorCandidate{AccountID: id, Stake: stake})
	return b
}

func (b *SyntheticBuilder) AddNominator(id string, stake data.Balance, targets ...string) *SyntheticBuilder {
	if b.err != nil {
		return b
	}
	if _, dup := b.nominators[id]; dup {
		b.err = &data.InvalidDataError{Message: fmt.Sprintf("duplicate nominator %s", id)}
		return b
	}
	b.nominators[id] = struct{}{}
	b.data.Nominators = append(b.data.Nominators, data.Nominator{
		AccountID: id,
		Stake:     stake,
		Targets:   append([]string{}, targets...),
	})
	return b
}

func (b *SyntheticBuilder) WithBlockNumber(n uint64) *SyntheticBuilder {
	b.data.Metadata.BlockNumber = &n
	return b
}

// Build validates and returns a copy of the assembled data.
func (b *SyntheticBuilder) Build() (*data.ElectionData, error) {
	if b.err != nil {
		return nil, b.err
	}
	d := b.data.Clone()
	if err := validation.ValidateElectionData(d); err != nil {
		return nil, err
	}
	return d, nil
}

// SyntheticConfig parameterizes GenerateSynthetic.
type SyntheticConfig struct {
	Seed       int64
	Candidates int
	Nominators int
	// MaxTargets caps the number of targets per nominator.
	MaxTargets int
	MinStake   uint64
	MaxStake   uint64
}

func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Seed:       1,
		Candidates: 100,
		Nominators: 1000,
		MaxTargets: 16,
		MinStake:   1_000_000_000_000,
		MaxStake:   1_000_000_000_000_000,
	}
}

// GenerateSynthetic builds a pseudo-random dataset. The same config always
// yields the same data.
func GenerateSynthetic(cfg SyntheticConfig) (*data.ElectionData, error) {
	if cfg.Candidates <= 0 || cfg.Nominators <= 0 {
		return nil, data.NewValidationError("synthetic", "need at least one candidate and one nominator")
	}
	if cfg.MaxTargets <= 0 {
		cfg.MaxTargets = 16
	}
	if cfg.MaxTargets > cfg.Candidates {
		cfg.MaxTargets = cfg.Candidates
	}
	if cfg.MaxStake < cfg.MinStake {
		return nil, data.NewValidationError("synthetic", "max stake %d is below min stake %d", cfg.MaxStake, cfg.MinStake)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	stake := func() data.Balance {
		span := cfg.MaxStake - cfg.MinStake
		if span == 0 {
			return data.NewBalance(cfg.MinStake)
		}
		return data.NewBalance(cfg.MinStake + uint64(rng.Int63n(int64(min64(span, 1<<62)))))
	}

	b := NewSyntheticBuilder()
	ids := make([]string, cfg.Candidates)
	for i := range ids {
		ids[i] = fmt.Sprintf("candidate-%05d", i)
		b.AddCandidate(ids[i], stake())
	}
	for i := 0; i < cfg.Nominators; i++ {
		count := 1 + rng.Intn(cfg.MaxTargets)
		targets := make([]string, 0, count)
		for _, ci := range rng.Perm(cfg.Candidates)[:count] {
			targets = append(targets, ids[ci])
		}
		b.AddNominator(fmt.Sprintf("nominator-%06d", i), stake(), targets...)
	}
	return b.Build()
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
