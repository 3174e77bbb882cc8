package engine

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"npos_election/pkg/data"
)

// ExecuteBatch runs one election per dataset with the same configuration,
// in parallel. Results are returned in input order. The first failure
// cancels elections that have not started yet and is returned with the
// index of the failing dataset.
func (e *Engine) ExecuteBatch(ctx context.Context, cfg *data.ElectionConfiguration, datasets []*data.ElectionData) ([]*data.ElectionResult, error) {
	results := make([]*data.ElectionResult, len(datasets))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, d := range datasets {
		i, d := i, d
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			result, err := e.Execute(cfg, d)
			if err != nil {
				return fmt.Errorf("election %d: %w", i, err)
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		e.logger.Error("batch election failed", zap.Int("datasets", len(datasets)), zap.Error(err))
		return nil, err
	}
	return results, nil
}
