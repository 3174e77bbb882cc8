package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"npos_election/pkg/data"
	"npos_election/pkg/engine"
)

func newScheduleCmd(c *cli) *cobra.Command {
	var runNow bool

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the configured election jobs on their cron schedules",
		Long: `Starts the scheduler with every job under scheduler.jobs and runs until
interrupted. Results are stored in the database when it is enabled and kept
in memory otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.schedule(cmd.Context(), runNow)
		},
	}
	cmd.Flags().BoolVar(&runNow, "run-now", false, "run every job once at startup")

	return cmd
}

func (c *cli) schedule(ctx context.Context, runNow bool) error {
	if len(c.cfg.Scheduler.Jobs) == 0 {
		return fmt.Errorf("no jobs configured under scheduler.jobs")
	}
	defaults, err := c.cfg.Election.ElectionConfiguration()
	if err != nil {
		return err
	}

	a, err := newApp(c.cfg, c.logger, true)
	if err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := a.start(startCtx); err != nil {
		return err
	}
	if !c.cfg.Database.Enabled {
		c.logger.Warn("Database disabled, runs are kept in memory only")
	}

	eng := engine.New(engine.WithLogger(c.logger.Named("engine")))
	if err := a.scheduleJobs(defaults, eng); err != nil {
		return err
	}

	if runNow {
		for _, task := range a.sched.ListTasks() {
			if err := a.sched.RunNow(task.ID); err != nil {
				c.logger.Error("Initial run failed", zap.String("job", task.ID), zap.Error(err))
			}
		}
	}

	waitForShutdown(ctx, c.logger)
	return a.shutdown()
}

// scheduleJobs registers every configured job, stopping the app if any of
// them is rejected.
func (a *app) scheduleJobs(defaults *data.ElectionConfiguration, eng *engine.Engine) error {
	if err := a.sched.ScheduleElectionJobs(defaults, eng, a.repo); err != nil {
		return errors.Join(err, a.shutdown())
	}
	return nil
}

// shutdown stops the app with a fresh deadline, since the command context
// is usually already cancelled by then.
func (a *app) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return a.stop(ctx)
}
