package data

import "sort"

// AlgorithmType selects the election algorithm.
type AlgorithmType string

const (
	AlgorithmSequentialPhragmen AlgorithmType = "sequential-phragmen"
	AlgorithmParallelPhragmen   AlgorithmType = "parallel-phragmen"
	AlgorithmMultiPhase         AlgorithmType = "multi-phase"
)

// Algorithms lists every known algorithm type.
var Algorithms = []AlgorithmType{
	AlgorithmSequentialPhragmen,
	AlgorithmParallelPhragmen,
	AlgorithmMultiPhase,
}

// ParseAlgorithmType accepts the canonical names.
func ParseAlgorithmType(s string) (AlgorithmType, error) {
	for _, a := range Algorithms {
		if string(a) == s {
			return a, nil
		}
	}
	return "", NewValidationError("algorithm", "unknown algorithm %q", s)
}

func (a AlgorithmType) String() string { return string(a) }

// DataSource tags where election data came from.
type DataSource string

const (
	DataSourceJSON      DataSource = "json"
	DataSourceSynthetic DataSource = "synthetic"
)

// ValidatorCandidate is an account standing for election.
type ValidatorCandidate struct {
	AccountID string  `json:"account_id"`
	Stake     Balance `json:"stake"`
}

// Nominator is a staker voting for a set of candidates.
type Nominator struct {
	AccountID string            `json:"account_id"`
	Stake     Balance           `json:"stake"`
	Targets   []string          `json:"targets"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// HasTarget reports whether id is among the nominator's targets.
func (n *Nominator) HasTarget(id string) bool {
	for _, t := range n.Targets {
		if t == id {
			return true
		}
	}
	return false
}

// AddTarget appends id unless already present.
func (n *Nominator) AddTarget(id string) bool {
	if n.HasTarget(id) {
		return false
	}
	n.Targets = append(n.Targets, id)
	return true
}

// RemoveTarget deletes every occurrence of id.
func (n *Nominator) RemoveTarget(id string) bool {
	kept := n.Targets[:0]
	removed := false
	for _, t := range n.Targets {
		if t == id {
			removed = true
			continue
		}
		kept = append(kept, t)
	}
	n.Targets = kept
	return removed
}

func (n Nominator) Clone() Nominator {
	c := n
	if n.Targets != nil {
		c.Targets = make([]string, len(n.Targets))
		copy(c.Targets, n.Targets)
	}
	if n.Metadata != nil {
		c.Metadata = make(map[string]string, len(n.Metadata))
		for k, v := range n.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// ElectionMetadata describes the snapshot an ElectionData was taken from.
type ElectionMetadata struct {
	BlockNumber *uint64    `json:"block_number,omitempty"`
	Chain       string     `json:"chain,omitempty"`
	Source      DataSource `json:"source,omitempty"`
}

// ElectionData is a complete election snapshot.
type ElectionData struct {
	Candidates []ValidatorCandidate `json:"candidates"`
	Nominators []Nominator          `json:"nominators"`
	Metadata   *ElectionMetadata    `json:"metadata,omitempty"`
}

func NewElectionData() *ElectionData {
	return &ElectionData{
		Candidates: []ValidatorCandidate{},
		Nominators: []Nominator{},
	}
}

// Candidate returns a pointer into d.Candidates.
func (d *ElectionData) Candidate(id string) (*ValidatorCandidate, bool) {
	for i := range d.Candidates {
		if d.Candidates[i].AccountID == id {
			return &d.Candidates[i], true
		}
	}
	return nil, false
}

// Nominator returns a pointer into d.Nominators.
func (d *ElectionData) Nominator(id string) (*Nominator, bool) {
	for i := range d.Nominators {
		if d.Nominators[i].AccountID == id {
			return &d.Nominators[i], true
		}
	}
	return nil, false
}

// TotalNominatorStake sums the stake of every nominator.
func (d *ElectionData) TotalNominatorStake() Balance {
	var total Balance
	for _, n := range d.Nominators {
		total = total.Add(n.Stake)
	}
	return total
}

// Clone returns a deep copy sharing nothing with d.
func (d *ElectionData) Clone() *ElectionData {
	c := &ElectionData{}
	if d.Candidates != nil {
		c.Candidates = make([]ValidatorCandidate, len(d.Candidates))
		copy(c.Candidates, d.Candidates)
	}
	if d.Nominators != nil {
		c.Nominators = make([]Nominator, len(d.Nominators))
		for i, n := range d.Nominators {
			c.Nominators[i] = n.Clone()
		}
	}
	if d.Metadata != nil {
		m := *d.Metadata
		if m.BlockNumber != nil {
			bn := *m.BlockNumber
			m.BlockNumber = &bn
		}
		c.Metadata = &m
	}
	return c
}

// Source returns the metadata source tag, if any.
func (d *ElectionData) Source() DataSource {
	if d.Metadata == nil {
		return ""
	}
	return d.Metadata.Source
}

// EdgeAction is the kind of voting-edge modification.
type EdgeAction string

const (
	EdgeAdd    EdgeAction = "add"
	EdgeRemove EdgeAction = "remove"
	EdgeModify EdgeAction = "modify"
)

// EdgeModification changes one nominator->candidate edge.
type EdgeModification struct {
	NominatorID string     `json:"nominator_id"`
	CandidateID string     `json:"candidate_id"`
	Action      EdgeAction `json:"action"`
}

// ElectionOverrides are what-if changes applied to a copy of the input.
type ElectionOverrides struct {
	CandidateStakes map[string]Balance `json:"candidate_stakes,omitempty"`
	NominatorStakes map[string]Balance `json:"nominator_stakes,omitempty"`
	VotingEdges     []EdgeModification `json:"voting_edges,omitempty"`
}

func (o *ElectionOverrides) IsEmpty() bool {
	return o == nil || (len(o.CandidateStakes) == 0 && len(o.NominatorStakes) == 0 && len(o.VotingEdges) == 0)
}

// SortedKeys returns the keys of m in byte-wise order.
func SortedKeys(m map[string]Balance) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DefaultBalancingIterations is the pass cap of DefaultBalancingConfig and of
// the config and CLI defaults. An explicit zero is rejected by validation.
const DefaultBalancingIterations = 16

// BalancingConfig enables post-election stake equalization.
type BalancingConfig struct {
	Iterations int     `json:"iterations" validate:"gte=1"`
	Tolerance  Balance `json:"tolerance"`
}

func DefaultBalancingConfig() *BalancingConfig {
	return &BalancingConfig{Iterations: DefaultBalancingIterations}
}

// ElectionConfiguration holds the parameters of one election run.
type ElectionConfiguration struct {
	Algorithm     AlgorithmType      `json:"algorithm" validate:"required,oneof=sequential-phragmen parallel-phragmen multi-phase"`
	ActiveSetSize uint32             `json:"active_set_size" validate:"gte=1"`
	Overrides     *ElectionOverrides `json:"overrides,omitempty"`
	BlockNumber   *uint64            `json:"block_number,omitempty"`
	Balancing     *BalancingConfig   `json:"balancing,omitempty"`
}

// NewElectionConfiguration returns a sequential Phragmén configuration for
// activeSetSize seats.
func NewElectionConfiguration(activeSetSize uint32) *ElectionConfiguration {
	return &ElectionConfiguration{
		Algorithm:     AlgorithmSequentialPhragmen,
		ActiveSetSize: activeSetSize,
	}
}

func (c *ElectionConfiguration) WithOverrides(o *ElectionOverrides) *ElectionConfiguration {
	c.Overrides = o
	return c
}

func (c *ElectionConfiguration) WithBlockNumber(n uint64) *ElectionConfiguration {
	c.BlockNumber = &n
	return c
}

func (c *ElectionConfiguration) WithBalancing(b *BalancingConfig) *ElectionConfiguration {
	c.Balancing = b
	return c
}
