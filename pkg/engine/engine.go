// Package engine orchestrates an election: validation, committee size
// adjustment, overrides, algorithm dispatch and result checks.
package engine

import (
	"time"

	"go.uber.org/zap"

	"npos_election/pkg/data"
	"npos_election/pkg/diagnostics"
	"npos_election/pkg/overrides"
	"npos_election/pkg/phragmen"
	"npos_election/pkg/validation"
)

// DiagnosticsGenerator produces optional analysis for a finished election.
type DiagnosticsGenerator interface {
	Generate(result *data.ElectionResult, d *data.ElectionData) (*data.Diagnostics, error)
}

// Engine runs elections. It is immutable after New and safe for concurrent
// use.
type Engine struct {
	logger      *zap.Logger
	diagnostics DiagnosticsGenerator
	now         func() time.Time
	sequential  *phragmen.SequentialPhragmen
}

type Option func(*Engine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithDiagnostics(g DiagnosticsGenerator) Option {
	return func(e *Engine) { e.diagnostics = g }
}

// WithClock sets the source of execution timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{
		logger:      zap.NewNop(),
		diagnostics: diagnostics.NewGenerator(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sequential = phragmen.New(e.logger.Named("phragmen"))
	return e
}

// Execute runs an election without diagnostics.
func (e *Engine) Execute(cfg *data.ElectionConfiguration, d *data.ElectionData) (*data.ElectionResult, error) {
	return e.ExecuteWithDiagnostics(cfg, d, false)
}

// ExecuteWithDiagnostics runs an election and, when requested, attaches
// diagnostics. A diagnostics failure is logged and the result is returned
// without them.
func (e *Engine) ExecuteWithDiagnostics(cfg *data.ElectionConfiguration, d *data.ElectionData, withDiagnostics bool) (*data.ElectionResult, error) {
	if err := validation.ValidateElectionData(d); err != nil {
		return nil, err
	}
	if err := validation.ValidateConfiguration(cfg); err != nil {
		return nil, err
	}

	committeeSize := cfg.ActiveSetSize
	if available := uint32(len(d.Candidates)); committeeSize > available {
		e.logger.Warn("active set size exceeds candidate count, reducing",
			zap.Uint32("requested", committeeSize),
			zap.Uint32("available", available))
		committeeSize = available
	}

	working, report, err := overrides.Apply(d, cfg.Overrides)
	if err != nil {
		return nil, err
	}
	e.logIgnoredOverrides(report)

	result, err := e.dispatch(cfg, working, committeeSize)
	if err != nil {
		return nil, err
	}

	if err := validateResult(result, committeeSize); err != nil {
		e.logger.Error("election produced an inconsistent result",
			zap.String("algorithm", cfg.Algorithm.String()),
			zap.Error(err))
		return nil, err
	}

	ts := e.now().UTC()
	result.ExecutionMetadata = data.ExecutionMetadata{
		BlockNumber:        blockNumber(cfg, d),
		ExecutionTimestamp: &ts,
		DataSource:         d.Source(),
	}

	if withDiagnostics {
		e.attachDiagnostics(result, working)
	}
	return result, nil
}

func (e *Engine) dispatch(cfg *data.ElectionConfiguration, d *data.ElectionData, committeeSize uint32) (*data.ElectionResult, error) {
	switch cfg.Algorithm {
	case data.AlgorithmSequentialPhragmen:
		sol, err := e.sequential.Run(d, committeeSize, cfg.Balancing)
		if err != nil {
			return nil, err
		}
		return &data.ElectionResult{
			SelectedValidators: sol.Winners,
			StakeDistribution:  sol.Distribution,
			TotalStake:         sol.TotalStake,
			AlgorithmUsed:      data.AlgorithmSequentialPhragmen,
		}, nil
	case data.AlgorithmParallelPhragmen, data.AlgorithmMultiPhase:
		return nil, &data.AlgorithmError{Message: "algorithm not supported", Algorithm: cfg.Algorithm}
	default:
		return nil, &data.AlgorithmError{Message: "unknown algorithm", Algorithm: cfg.Algorithm}
	}
}

func validateResult(result *data.ElectionResult, committeeSize uint32) error {
	if got := len(result.SelectedValidators); got != int(committeeSize) {
		return data.NewValidationError("selected_validators",
			"result has %d validators but expected %d", got, committeeSize)
	}
	if allocated := result.TotalAllocated(); !allocated.Equal(result.TotalStake) {
		return data.NewValidationError("stake_distribution",
			"stake distribution total %s doesn't match total stake %s", allocated, result.TotalStake)
	}
	return nil
}

func (e *Engine) logIgnoredOverrides(r overrides.Report) {
	if r.Empty() {
		return
	}
	for _, id := range r.IgnoredCandidates {
		e.logger.Warn("ignoring stake override for unknown candidate", zap.String("candidate", id))
	}
	for _, id := range r.IgnoredNominators {
		e.logger.Warn("ignoring stake override for unknown nominator", zap.String("nominator", id))
	}
	for _, m := range r.IgnoredEdges {
		e.logger.Warn("ignoring edge override for unknown nominator",
			zap.String("nominator", m.NominatorID),
			zap.String("candidate", m.CandidateID),
			zap.String("action", string(m.Action)))
	}
}

func (e *Engine) attachDiagnostics(result *data.ElectionResult, d *data.ElectionData) {
	if e.diagnostics == nil {
		e.logger.Warn("diagnostics requested but no generator is configured")
		return
	}
	diag, err := e.diagnostics.Generate(result, d)
	if err != nil {
		e.logger.Warn("failed to generate diagnostics", zap.Error(err))
		return
	}
	result.Diagnostics = diag
}

func blockNumber(cfg *data.ElectionConfiguration, d *data.ElectionData) *uint64 {
	switch {
	case cfg.BlockNumber != nil:
		n := *cfg.BlockNumber
		return &n
	case d.Metadata != nil && d.Metadata.BlockNumber != nil:
		n := *d.Metadata.BlockNumber
		return &n
	}
	return nil
}
