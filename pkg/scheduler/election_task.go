package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"npos_election/pkg/config"
	"npos_election/pkg/data"
	"npos_election/pkg/database"
	"npos_election/pkg/engine"
	"npos_election/pkg/input"
)

// NewElectionTask builds a task that reloads the job's snapshot on every run,
// executes the election and stores the result in repo. defaults supplies
// everything the job does not override.
func NewElectionTask(job config.JobConfig, defaults *data.ElectionConfiguration, eng *engine.Engine, repo database.Repository, logger *zap.Logger) (*Task, error) {
	if defaults == nil {
		return nil, fmt.Errorf("job %s: election configuration cannot be nil", job.Name)
	}
	if eng == nil || repo == nil {
		return nil, fmt.Errorf("job %s: engine and repository are required", job.Name)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("job", job.Name))
	loader := input.NewJSONLoader()

	run := func(ctx context.Context) error {
		snapshot, err := loader.LoadFromFile(job.Snapshot)
		if err != nil {
			return fmt.Errorf("loading snapshot: %w", err)
		}

		cfg := *defaults
		if job.ActiveSetSize > 0 {
			cfg.ActiveSetSize = job.ActiveSetSize
		}
		if job.Overrides != "" {
			o, err := input.LoadOverridesFromFile(job.Overrides)
			if err != nil {
				return fmt.Errorf("loading overrides: %w", err)
			}
			cfg.Overrides = o
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := eng.ExecuteWithDiagnostics(&cfg, snapshot, job.Diagnostics)
		if err != nil {
			return fmt.Errorf("executing election: %w", err)
		}

		stored, err := database.NewElectionRun(result)
		if err != nil {
			return err
		}
		if err := repo.SaveRun(ctx, stored); err != nil {
			return fmt.Errorf("saving run: %w", err)
		}

		logger.Info("Election run stored",
			zap.String("runID", stored.ID),
			zap.String("digest", stored.Digest),
			zap.Int("validators", result.ValidatorCount()),
			zap.String("totalStake", result.TotalStake.String()))
		return nil
	}

	return &Task{
		ID:       job.Name,
		Name:     job.Name,
		Schedule: job.Schedule,
		Metadata: map[string]string{
			"snapshot":  job.Snapshot,
			"overrides": job.Overrides,
		},
		ExecutionFn: run,
	}, nil
}

// ScheduleElectionJobs registers every configured job. Retries follow the
// scheduler's retry_attempts setting.
func (s *Scheduler) ScheduleElectionJobs(defaults *data.ElectionConfiguration, eng *engine.Engine, repo database.Repository) error {
	for _, job := range s.config.Jobs {
		task, err := NewElectionTask(job, defaults, eng, repo, s.logger)
		if err != nil {
			return err
		}
		task.MaxRetries = s.config.RetryAttempts
		if err := s.ScheduleTask(task); err != nil {
			return fmt.Errorf("job %s: %w", job.Name, err)
		}
	}
	return nil
}
