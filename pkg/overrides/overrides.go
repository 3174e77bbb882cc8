// Package overrides applies what-if modifications to election snapshots.
package overrides

import (
	"fmt"

	"npos_election/pkg/data"
)

// Report lists override entries that referenced unknown accounts and were
// skipped.
type Report struct {
	IgnoredCandidates []string
	IgnoredNominators []string
	IgnoredEdges      []data.EdgeModification
}

func (r Report) Empty() bool {
	return len(r.IgnoredCandidates) == 0 && len(r.IgnoredNominators) == 0 && len(r.IgnoredEdges) == 0
}

// Apply returns a copy of d with o applied; d itself is never modified.
//
// Candidate stake overrides run first, then nominator stake overrides, then
// edge modifications in list order. Ids that match nothing are skipped and
// listed in the Report. Edge additions may name candidates that are not in
// the snapshot; the algorithm ignores such edges.
func Apply(d *data.ElectionData, o *data.ElectionOverrides) (*data.ElectionData, Report, error) {
	var report Report
	if d == nil {
		return nil, report, data.NewValidationError("", "election data is nil")
	}
	out := d.Clone()
	if o.IsEmpty() {
		return out, report, nil
	}

	for _, id := range data.SortedKeys(o.CandidateStakes) {
		stake := o.CandidateStakes[id]
		if !stake.FitsStake() {
			return nil, report, &data.InvalidDataError{Message: fmt.Sprintf("override stake for candidate %s exceeds 128 bits", id)}
		}
		c, ok := out.Candidate(id)
		if !ok {
			report.IgnoredCandidates = append(report.IgnoredCandidates, id)
			continue
		}
		c.Stake = stake
	}

	for _, id := range data.SortedKeys(o.NominatorStakes) {
		stake := o.NominatorStakes[id]
		if !stake.FitsStake() {
			return nil, report, &data.InvalidDataError{Message: fmt.Sprintf("override stake for nominator %s exceeds 128 bits", id)}
		}
		n, ok := out.Nominator(id)
		if !ok {
			report.IgnoredNominators = append(report.IgnoredNominators, id)
			continue
		}
		n.Stake = stake
	}

	for _, m := range o.VotingEdges {
		n, ok := out.Nominator(m.NominatorID)
		switch m.Action {
		case data.EdgeAdd, data.EdgeRemove, data.EdgeModify:
		default:
			return nil, report, &data.InvalidDataError{Message: fmt.Sprintf("unknown edge action %q", m.Action)}
		}
		if !ok {
			report.IgnoredEdges = append(report.IgnoredEdges, m)
			continue
		}
		switch m.Action {
		case data.EdgeAdd:
			n.AddTarget(m.CandidateID)
		case data.EdgeRemove:
			n.RemoveTarget(m.CandidateID)
		case data.EdgeModify:
			n.RemoveTarget(m.CandidateID)
			n.AddTarget(m.CandidateID)
		}
	}

	return out, report, nil
}
