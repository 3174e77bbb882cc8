package overrides

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"npos_election/pkg/data"
)

func baseData() *data.ElectionData {
	d := data.NewElectionData()
	d.Candidates = []data.ValidatorCandidate{
		{AccountID: "v1", Stake: data.NewBalance(100)},
		{AccountID: "v2", Stake: data.NewBalance(100)},
	}
	d.Nominators = []data.Nominator{
		{AccountID: "n1", Stake: data.NewBalance(10), Targets: []string{"v1"}},
		{AccountID: "n2", Stake: data.NewBalance(20), Targets: []string{"v1", "v2"}},
	}
	return d
}

func TestApply(t *testing.T) {
	t.Run("NilOverridesClones", func(t *testing.T) {
		d := baseData()
		out, report, err := Apply(d, nil)
		require.NoError(t, err)
		assert.True(t, report.Empty())
		assert.Equal(t, d, out)
		assert.NotSame(t, d, out)
	})

	t.Run("StakeOverrides", func(t *testing.T) {
		d := baseData()
		o := &data.ElectionOverrides{
			CandidateStakes: map[string]data.Balance{"v2": data.NewBalance(500), "ghost": data.NewBalance(1)},
			NominatorStakes: map[string]data.Balance{"n1": data.NewBalance(99), "nobody": data.NewBalance(1)},
		}
		out, report, err := Apply(d, o)
		require.NoError(t, err)

		c, _ := out.Candidate("v2")
		assert.Equal(t, "500", c.Stake.String())
		n, _ := out.Nominator("n1")
		assert.Equal(t, "99", n.Stake.String())

		assert.Equal(t, []string{"ghost"}, report.IgnoredCandidates)
		assert.Equal(t, []string{"nobody"}, report.IgnoredNominators)

		orig, _ := d.Candidate("v2")
		assert.Equal(t, "100", orig.Stake.String())
	})

	t.Run("EdgeModifications", func(t *testing.T) {
		d := baseData()
		o := &data.ElectionOverrides{VotingEdges: []data.EdgeModification{
			{NominatorID: "n1", CandidateID: "v2", Action: data.EdgeAdd},
			{NominatorID: "n1", CandidateID: "v2", Action: data.EdgeAdd},
			{NominatorID: "n2", CandidateID: "v1", Action: data.EdgeRemove},
			{NominatorID: "n2", CandidateID: "v2", Action: data.EdgeModify},
			{NominatorID: "missing", CandidateID: "v1", Action: data.EdgeAdd},
		}}
		out, report, err := Apply(d, o)
		require.NoError(t, err)

		n1, _ := out.Nominator("n1")
		assert.Equal(t, []string{"v1", "v2"}, n1.Targets)
		n2, _ := out.Nominator("n2")
		assert.Equal(t, []string{"v2"}, n2.Targets)
		assert.Len(t, report.IgnoredEdges, 1)

		orig, _ := d.Nominator("n2")
		assert.Equal(t, []string{"v1", "v2"}, orig.Targets)
	})

	t.Run("SameEdgeInListOrder", func(t *testing.T) {
		edit := func(a data.EdgeAction) data.EdgeModification {
			return data.EdgeModification{NominatorID: "n2", CandidateID: "v1", Action: a}
		}
		tests := []struct {
			name    string
			actions []data.EdgeAction
			present bool
		}{
			{"RemoveThenModify", []data.EdgeAction{data.EdgeRemove, data.EdgeModify}, true},
			{"ModifyThenRemove", []data.EdgeAction{data.EdgeModify, data.EdgeRemove}, false},
			{"AddThenRemove", []data.EdgeAction{data.EdgeAdd, data.EdgeRemove}, false},
			{"RemoveThenAdd", []data.EdgeAction{data.EdgeRemove, data.EdgeAdd}, true},
			{"RemoveTwice", []data.EdgeAction{data.EdgeRemove, data.EdgeRemove}, false},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				o := &data.ElectionOverrides{}
				for _, a := range tt.actions {
					o.VotingEdges = append(o.VotingEdges, edit(a))
				}
				out, report, err := Apply(baseData(), o)
				require.NoError(t, err)
				assert.True(t, report.Empty())

				n2, _ := out.Nominator("n2")
				if tt.present {
					assert.Contains(t, n2.Targets, "v1")
				} else {
					assert.NotContains(t, n2.Targets, "v1")
				}
				assert.Contains(t, n2.Targets, "v2")
			})
		}
	})

	t.Run("AddToUnknownCandidate", func(t *testing.T) {
		out, _, err := Apply(baseData(), &data.ElectionOverrides{VotingEdges: []data.EdgeModification{
			{NominatorID: "n1", CandidateID: "outsider", Action: data.EdgeAdd},
		}})
		require.NoError(t, err)
		n1, _ := out.Nominator("n1")
		assert.Contains(t, n1.Targets, "outsider")
	})

	t.Run("UnknownAction", func(t *testing.T) {
		_, _, err := Apply(baseData(), &data.ElectionOverrides{VotingEdges: []data.EdgeModification{
			{NominatorID: "n1", CandidateID: "v1", Action: "swap"},
		}})
		var invalid *data.InvalidDataError
		assert.True(t, errors.As(err, &invalid))
	})
}
