// Package diagnostics summarizes how stake ended up spread across an elected
// committee.
package diagnostics

import (
	"fmt"
	"sort"

	"npos_election/pkg/data"
)

// Generator builds data.Diagnostics. The zero value is ready to use.
type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// Generate analyses result against the data it was computed from. It fails
// with *data.InvalidDataError when the result names accounts missing from d.
func (g *Generator) Generate(result *data.ElectionResult, d *data.ElectionData) (*data.Diagnostics, error) {
	if result == nil || d == nil {
		return nil, &data.InvalidDataError{Message: "diagnostics need both a result and election data"}
	}

	diag := &data.Diagnostics{
		Validators: make([]data.ValidatorDiagnostics, 0, len(result.SelectedValidators)),
		Unelected:  []data.CandidateDiagnostics{},
	}

	selected := make(map[string]struct{}, len(result.SelectedValidators))
	for i, v := range result.SelectedValidators {
		c, ok := d.Candidate(v.AccountID)
		if !ok {
			return nil, &data.InvalidDataError{Message: fmt.Sprintf("selected validator %s is not a candidate", v.AccountID)}
		}
		selected[v.AccountID] = struct{}{}

		diag.Validators = append(diag.Validators, data.ValidatorDiagnostics{
			AccountID:      v.AccountID,
			Rank:           v.Rank,
			Backing:        v.TotalBackingStake,
			SelfStake:      c.Stake,
			Share:          data.ProportionOf(v.TotalBackingStake, result.TotalStake),
			NominatorCount: v.NominatorCount,
		})

		if i == 0 || v.TotalBackingStake.Cmp(diag.MinBacking) < 0 {
			diag.MinBacking = v.TotalBackingStake
		}
		if v.TotalBackingStake.Cmp(diag.MaxBacking) > 0 {
			diag.MaxBacking = v.TotalBackingStake
		}
	}
	if n := len(result.SelectedValidators); n > 0 {
		var sum data.Balance
		for _, v := range result.SelectedValidators {
			sum = sum.Add(v.TotalBackingStake)
		}
		diag.MeanBacking = sum.DivUint64(uint64(n))
		diag.BackingSpread = diag.MaxBacking.Sub(diag.MinBacking)
	}

	assigned := make(map[string]struct{}, len(d.Nominators))
	for _, a := range result.StakeDistribution {
		if _, ok := selected[a.ValidatorID]; !ok {
			return nil, &data.InvalidDataError{Message: fmt.Sprintf("allocation to unselected validator %s", a.ValidatorID)}
		}
		if _, ok := d.Nominator(a.NominatorID); !ok {
			return nil, &data.InvalidDataError{Message: fmt.Sprintf("allocation from unknown nominator %s", a.NominatorID)}
		}
		assigned[a.NominatorID] = struct{}{}
	}

	approval := make(map[string]data.Balance, len(d.Candidates))
	voters := make(map[string]uint32, len(d.Candidates))
	for _, n := range d.Nominators {
		if _, ok := assigned[n.AccountID]; !ok {
			diag.UnassignedNominators++
			diag.UnassignedStake = diag.UnassignedStake.Add(n.Stake)
		}
		for _, t := range n.Targets {
			approval[t] = approval[t].Add(n.Stake)
			voters[t]++
		}
	}

	for _, c := range d.Candidates {
		if _, ok := selected[c.AccountID]; ok {
			continue
		}
		reason := data.ReasonOutscored
		if approval[c.AccountID].IsZero() {
			reason = data.ReasonNoSupport
		}
		diag.Unelected = append(diag.Unelected, data.CandidateDiagnostics{
			AccountID:     c.AccountID,
			ApprovalStake: approval[c.AccountID],
			Voters:        voters[c.AccountID],
			Reason:        reason,
		})
	}
	sort.Slice(diag.Unelected, func(i, j int) bool {
		return diag.Unelected[i].AccountID < diag.Unelected[j].AccountID
	})

	return diag, nil
}
