package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"npos_election/pkg/data"
)

// PostgresRepository implements Repository using PostgreSQL. Balances are
// stored as NUMERIC(78,0) and the full result as JSONB; allocations are also
// written to their own table for querying by nominator.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresRepository creates a repository over an open pool
func NewPostgresRepository(pool *pgxpool.Pool, logger *zap.Logger) *PostgresRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresRepository{
		pool:   pool,
		logger: logger,
	}
}

const selectRunColumns = `
	SELECT id::text, digest, block_number, algorithm, active_set_size,
		   total_stake::text, result, created_at
	FROM election_runs`

// SaveRun persists a run and its allocations in one transaction
func (r *PostgresRepository) SaveRun(ctx context.Context, run *ElectionRun) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("validating run: %w", err)
	}

	resultJSON, err := json.Marshal(run.Result)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO election_runs (
			id, digest, block_number, algorithm, active_set_size,
			total_stake, result, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6::text::numeric, $7, $8
		)`

	_, err = tx.Exec(ctx, query,
		run.ID, run.Digest, toNullableInt64(run.BlockNumber), string(run.Algorithm),
		int64(run.ActiveSetSize), run.TotalStake.String(), string(resultJSON), run.CreatedAt,
	)
	if err != nil {
		if isPgDuplicateError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting election run: %w", err)
	}

	batch := &pgx.Batch{}
	for _, a := range run.Result.StakeDistribution {
		batch.Queue(`
			INSERT INTO election_allocations (run_id, validator_id, nominator_id, amount, proportion)
			VALUES ($1, $2, $3, $4::text::numeric, $5)`,
			run.ID, a.ValidatorID, a.NominatorID, a.Amount.String(), a.Proportion.String(),
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting allocations: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing election run: %w", err)
	}

	r.logger.Debug("saved election run",
		zap.String("id", run.ID),
		zap.String("digest", run.Digest),
		zap.Int("allocations", len(run.Result.StakeDistribution)))
	return nil
}

// GetRun retrieves a run by ID
func (r *PostgresRepository) GetRun(ctx context.Context, id string) (*ElectionRun, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	run, err := scanRun(r.pool.QueryRow(ctx, selectRunColumns+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if isPgInvalidTextError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying election run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs matching filter, newest first
func (r *PostgresRepository) ListRuns(ctx context.Context, filter RunFilter) ([]*ElectionRun, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}

	query := selectRunColumns + ` WHERE 1=1`
	args := make([]interface{}, 0)
	argCount := 1

	if filter.Digest != "" {
		query += fmt.Sprintf(" AND digest = $%d", argCount)
		args = append(args, filter.Digest)
		argCount++
	}

	if filter.BlockNumber != nil {
		query += fmt.Sprintf(" AND block_number = $%d", argCount)
		args = append(args, toNullableInt64(filter.BlockNumber))
		argCount++
	}

	if filter.Algorithm != "" {
		query += fmt.Sprintf(" AND algorithm = $%d", argCount)
		args = append(args, string(filter.Algorithm))
		argCount++
	}

	if filter.FromTime != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *filter.FromTime)
		argCount++
	}

	if filter.ToTime != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argCount)
		args = append(args, *filter.ToTime)
		argCount++
	}

	query += " ORDER BY created_at DESC, id"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
		argCount++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying election runs: %w", err)
	}
	defer rows.Close()

	var runs []*ElectionRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning election run row: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating election run rows: %w", err)
	}

	return runs, nil
}

// AllocationsForNominator returns every stored allocation of a nominator
// across runs.
func (r *PostgresRepository) AllocationsForNominator(ctx context.Context, nominatorID string) (map[string][]data.StakeAllocation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT run_id::text, validator_id, nominator_id, amount::text, proportion
		FROM election_allocations
		WHERE nominator_id = $1
		ORDER BY run_id, validator_id`, nominatorID)
	if err != nil {
		return nil, fmt.Errorf("querying allocations: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]data.StakeAllocation)
	for rows.Next() {
		var runID, amount, proportion string
		var a data.StakeAllocation
		if err := rows.Scan(&runID, &a.ValidatorID, &a.NominatorID, &amount, &proportion); err != nil {
			return nil, fmt.Errorf("scanning allocation row: %w", err)
		}
		if a.Amount, err = data.ParseBalance(amount); err != nil {
			return nil, err
		}
		if a.Proportion, err = data.ParseProportion(proportion); err != nil {
			return nil, err
		}
		out[runID] = append(out[runID], a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating allocation rows: %w", err)
	}
	return out, nil
}

// DeleteRun removes a run and, by cascade, its allocations
func (r *PostgresRepository) DeleteRun(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	result, err := r.pool.Exec(ctx, `DELETE FROM election_runs WHERE id = $1`, id)
	if err != nil {
		if isPgInvalidTextError(err) {
			return ErrNotFound
		}
		return fmt.Errorf("deleting election run: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func scanRun(row pgx.Row) (*ElectionRun, error) {
	var (
		run        ElectionRun
		block      *int64
		algorithm  string
		setSize    int32
		totalStake string
		resultJSON []byte
	)
	if err := row.Scan(&run.ID, &run.Digest, &block, &algorithm, &setSize, &totalStake, &resultJSON, &run.CreatedAt); err != nil {
		return nil, err
	}

	run.Algorithm = data.AlgorithmType(algorithm)
	run.ActiveSetSize = uint32(setSize)
	if block != nil {
		n := uint64(*block)
		run.BlockNumber = &n
	}

	var err error
	if run.TotalStake, err = data.ParseBalance(totalStake); err != nil {
		return nil, fmt.Errorf("decoding total stake: %w", err)
	}
	run.Result = &data.ElectionResult{}
	if err := json.Unmarshal(resultJSON, run.Result); err != nil {
		return nil, fmt.Errorf("decoding result: %w", err)
	}
	return &run, nil
}

func toNullableInt64(v *uint64) *int64 {
	if v == nil {
		return nil
	}
	n := int64(*v)
	return &n
}

// Helper function to check for PostgreSQL duplicate key errors
func isPgDuplicateError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" // unique_violation
}

// invalid_text_representation, raised for malformed UUIDs
func isPgInvalidTextError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}
