package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"npos_election/pkg/data"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrDuplicate     = errors.New("duplicate record")
	ErrInvalidFilter = errors.New("invalid filter parameters")
)

// Repository persists election runs
type Repository interface {
	SaveRun(ctx context.Context, run *ElectionRun) error
	GetRun(ctx context.Context, id string) (*ElectionRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*ElectionRun, error)
	DeleteRun(ctx context.Context, id string) error
}

// ElectionRun is a stored election result
type ElectionRun struct {
	ID            string               `json:"id"`
	Digest        string               `json:"digest"`
	BlockNumber   *uint64              `json:"block_number,omitempty"`
	Algorithm     data.AlgorithmType   `json:"algorithm"`
	ActiveSetSize uint32               `json:"active_set_size"`
	TotalStake    data.Balance         `json:"total_stake"`
	Result        *data.ElectionResult `json:"result"`
	CreatedAt     time.Time            `json:"created_at"`
}

// NewElectionRun wraps a result for storage under a fresh id.
func NewElectionRun(result *data.ElectionResult) (*ElectionRun, error) {
	if result == nil {
		return nil, fmt.Errorf("result cannot be nil")
	}
	digest, err := result.Digest()
	if err != nil {
		return nil, fmt.Errorf("computing digest: %w", err)
	}
	run := &ElectionRun{
		ID:            uuid.New().String(),
		Digest:        digest,
		Algorithm:     result.AlgorithmUsed,
		ActiveSetSize: uint32(len(result.SelectedValidators)),
		TotalStake:    result.TotalStake,
		Result:        result,
		CreatedAt:     time.Now().UTC(),
	}
	if bn := result.ExecutionMetadata.BlockNumber; bn != nil {
		n := *bn
		run.BlockNumber = &n
	}
	if ts := result.ExecutionMetadata.ExecutionTimestamp; ts != nil {
		run.CreatedAt = ts.UTC()
	}
	return run, nil
}

// Validate checks that a run can be stored
func (r *ElectionRun) Validate() error {
	if _, err := uuid.Parse(r.ID); err != nil {
		return fmt.Errorf("invalid run id %q: %w", r.ID, err)
	}
	if r.Digest == "" {
		return fmt.Errorf("digest cannot be empty")
	}
	if r.Result == nil {
		return fmt.Errorf("result cannot be nil")
	}
	if r.BlockNumber != nil && *r.BlockNumber > 1<<63-1 {
		return fmt.Errorf("block number %d out of range", *r.BlockNumber)
	}
	return nil
}

// RunFilter defines filter parameters for run queries
type RunFilter struct {
	Digest      string
	BlockNumber *uint64
	Algorithm   data.AlgorithmType
	FromTime    *time.Time
	ToTime      *time.Time
	Limit       int
	Offset      int
}

func (f RunFilter) validate() error {
	if f.Limit < 0 || f.Offset < 0 {
		return ErrInvalidFilter
	}
	if f.FromTime != nil && f.ToTime != nil && f.FromTime.After(*f.ToTime) {
		return ErrInvalidFilter
	}
	return nil
}

func (f RunFilter) matches(r *ElectionRun) bool {
	if f.Digest != "" && r.Digest != f.Digest {
		return false
	}
	if f.BlockNumber != nil && (r.BlockNumber == nil || *r.BlockNumber != *f.BlockNumber) {
		return false
	}
	if f.Algorithm != "" && r.Algorithm != f.Algorithm {
		return false
	}
	if f.FromTime != nil && r.CreatedAt.Before(*f.FromTime) {
		return false
	}
	if f.ToTime != nil && r.CreatedAt.After(*f.ToTime) {
		return false
	}
	return true
}
