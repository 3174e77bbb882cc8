package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"npos_election/pkg/config"
	"npos_election/pkg/database"
	"npos_election/pkg/scheduler"
)

// app owns the long-lived services a command needs
type app struct {
	db     *database.Service
	sched  *scheduler.Scheduler
	repo   database.Repository
	logger *zap.Logger
}

// newApp wires the database service when it is enabled and, if requested,
// a scheduler. Without a database runs are kept in memory.
func newApp(cfg *config.Config, logger *zap.Logger, withScheduler bool) (*app, error) {
	a := &app{logger: logger}

	if cfg.Database.Enabled {
		db, err := database.NewService(&cfg.Database, logger.Named("database"))
		if err != nil {
			return nil, fmt.Errorf("initializing database service: %w", err)
		}
		a.db = db
	} else {
		a.repo = database.NewMemoryRepository()
	}

	if withScheduler {
		a.sched = scheduler.NewScheduler(&cfg.Scheduler, logger.Named("scheduler"))
	}
	return a, nil
}

func (a *app) start(ctx context.Context) error {
	if a.db != nil {
		if err := a.db.Start(ctx); err != nil {
			return fmt.Errorf("starting database: %w", err)
		}
		a.repo = a.db.Repository()
	}

	if a.sched != nil {
		if err := a.sched.Start(); err != nil {
			return errors.Join(fmt.Errorf("starting scheduler: %w", err), a.stopDatabase(ctx))
		}
	}

	a.logger.Info("All services started successfully",
		zap.Bool("database", a.db != nil),
		zap.Bool("scheduler", a.sched != nil))
	return nil
}

// stop shuts services down in reverse start order
func (a *app) stop(ctx context.Context) error {
	var errs []error

	if a.sched != nil {
		if err := a.sched.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping scheduler: %w", err))
		}
	}
	if err := a.stopDatabase(ctx); err != nil {
		errs = append(errs, err)
	}

	for _, err := range errs {
		a.logger.Error("Shutdown error", zap.Error(err))
	}

	a.logger.Info("All services stopped")
	return errors.Join(errs...)
}

func (a *app) stopDatabase(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	if err := a.db.Stop(ctx); err != nil {
		return fmt.Errorf("stopping database: %w", err)
	}
	return nil
}

// waitForShutdown blocks until SIGINT, SIGTERM or ctx cancellation
func waitForShutdown(ctx context.Context, logger *zap.Logger) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info("Shutting down")
}
