package data

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

// SelectedValidator is an elected candidate. Rank is the 1-based round in
// which it was elected.
type SelectedValidator struct {
	AccountID         string  `json:"account_id"`
	TotalBackingStake Balance `json:"total_backing_stake"`
	SelfStake         Balance `json:"self_stake"`
	NominatorCount    uint32  `json:"nominator_count"`
	Rank              uint32  `json:"rank"`
}

// StakeAllocation is the part of a nominator's stake assigned to one
// elected validator.
type StakeAllocation struct {
	NominatorID string     `json:"nominator_id"`
	ValidatorID string     `json:"validator_id"`
	Amount      Balance    `json:"amount"`
	Proportion  Proportion `json:"proportion"`
}

type ExecutionMetadata struct {
	BlockNumber        *uint64    `json:"block_number,omitempty"`
	ExecutionTimestamp *time.Time `json:"execution_timestamp,omitempty"`
	DataSource         DataSource `json:"data_source,omitempty"`
}

// ElectionResult is the outcome of an election. SelectedValidators are in
// rank order; StakeDistribution is ordered by validator rank, then
// nominator id.
type ElectionResult struct {
	SelectedValidators []SelectedValidator `json:"selected_validators"`
	StakeDistribution  []StakeAllocation   `json:"stake_distribution"`
	TotalStake         Balance             `json:"total_stake"`
	AlgorithmUsed      AlgorithmType       `json:"algorithm_used"`
	ExecutionMetadata  ExecutionMetadata   `json:"execution_metadata"`
	Diagnostics        *Diagnostics        `json:"diagnostics,omitempty"`
}

func (r *ElectionResult) ValidatorCount() int { return len(r.SelectedValidators) }

func (r *ElectionResult) Validator(id string) (*SelectedValidator, bool) {
	for i := range r.SelectedValidators {
		if r.SelectedValidators[i].AccountID == id {
			return &r.SelectedValidators[i], true
		}
	}
	return nil, false
}

func (r *ElectionResult) IsSelected(id string) bool {
	_, ok := r.Validator(id)
	return ok
}

// AllocationsFor returns the allocations of one nominator in result order.
func (r *ElectionResult) AllocationsFor(nominatorID string) []StakeAllocation {
	var out []StakeAllocation
	for _, a := range r.StakeDistribution {
		if a.NominatorID == nominatorID {
			out = append(out, a)
		}
	}
	return out
}

// TotalAllocated sums every allocation amount.
func (r *ElectionResult) TotalAllocated() Balance {
	var total Balance
	for _, a := range r.StakeDistribution {
		total = total.Add(a.Amount)
	}
	return total
}

// Digest is a blake2b-256 hash of the canonical JSON encoding of the result
// with the execution timestamp removed. Two runs over the same inputs have
// the same digest.
func (r *ElectionResult) Digest() (string, error) {
	c := *r
	c.ExecutionMetadata.ExecutionTimestamp = nil
	raw, err := json.Marshal(&c)
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// UnelectedReason explains why a candidate was not selected.
type UnelectedReason string

const (
	ReasonNoSupport UnelectedReason = "no_support"
	ReasonOutscored UnelectedReason = "outscored"
)

type ValidatorDiagnostics struct {
	AccountID      string     `json:"account_id"`
	Rank           uint32     `json:"rank"`
	Backing        Balance    `json:"backing"`
	SelfStake      Balance    `json:"self_stake"`
	Share          Proportion `json:"share"`
	NominatorCount uint32     `json:"nominator_count"`
}

type CandidateDiagnostics struct {
	AccountID     string          `json:"account_id"`
	ApprovalStake Balance         `json:"approval_stake"`
	Voters        uint32          `json:"voters"`
	Reason        UnelectedReason `json:"reason"`
}

// Diagnostics is optional analysis attached to a result.
type Diagnostics struct {
	Validators           []ValidatorDiagnostics `json:"validators"`
	Unelected            []CandidateDiagnostics `json:"unelected"`
	MinBacking           Balance                `json:"min_backing"`
	MaxBacking           Balance                `json:"max_backing"`
	MeanBacking          Balance                `json:"mean_backing"`
	BackingSpread        Balance                `json:"backing_spread"`
	UnassignedNominators uint32                 `json:"unassigned_nominators"`
	UnassignedStake      Balance                `json:"unassigned_stake"`
}
