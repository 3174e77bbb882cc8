package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"npos_election/pkg/config"
	"npos_election/pkg/data"
	"npos_election/pkg/database"
	"npos_election/pkg/engine"
	"npos_election/pkg/input"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const hourly = "@every 1h"

func setupTestScheduler(t *testing.T) *Scheduler {
	logger := zaptest.NewLogger(t)
	cfg := &config.SchedConfig{
		MaxConcurrent: 5,
		RetryDelay:    10 * time.Millisecond,
	}

	scheduler := NewScheduler(cfg, logger)
	require.NoError(t, scheduler.Start())

	return scheduler
}

func noop(context.Context) error { return nil }

func TestScheduleTask(t *testing.T) {
	scheduler := setupTestScheduler(t)
	defer scheduler.Stop()

	t.Run("ValidTask", func(t *testing.T) {
		task := &Task{
			ID:          "test-task-1",
			Name:        "Test Task",
			Schedule:    "*/5 * * * * *",
			MaxRetries:  3,
			ExecutionFn: noop,
		}

		require.NoError(t, scheduler.ScheduleTask(task))

		scheduledTask, err := scheduler.GetTask(task.ID)
		require.NoError(t, err)
		assert.Equal(t, task.ID, scheduledTask.ID)
		assert.Equal(t, TaskStatusPending, scheduledTask.Status)
		assert.False(t, scheduledTask.NextRun.IsZero())
	})

	t.Run("InvalidTasks", func(t *testing.T) {
		tests := []struct {
			name string
			task *Task
		}{
			{"EmptyID", &Task{Schedule: hourly, ExecutionFn: noop}},
			{"EmptySchedule", &Task{ID: "x", ExecutionFn: noop}},
			{"NoFunction", &Task{ID: "x", Schedule: hourly}},
			{"InvalidSchedule", &Task{ID: "x", Schedule: "invalid", ExecutionFn: noop}},
			{"FiveFieldSchedule", &Task{ID: "x", Schedule: "*/5 * * * *", ExecutionFn: noop}},
			{"NegativeRetries", &Task{ID: "x", Schedule: hourly, MaxRetries: -1, ExecutionFn: noop}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert.Error(t, scheduler.ScheduleTask(tt.task))
			})
		}
	})

	t.Run("DuplicateTask", func(t *testing.T) {
		task := &Task{ID: "test-task-3", Schedule: hourly, ExecutionFn: noop}
		require.NoError(t, scheduler.ScheduleTask(task))
		assert.Error(t, scheduler.ScheduleTask(task))
	})

	t.Run("Unschedule", func(t *testing.T) {
		task := &Task{ID: "test-task-4", Schedule: hourly, ExecutionFn: noop}
		require.NoError(t, scheduler.ScheduleTask(task))
		require.NoError(t, scheduler.UnscheduleTask(task.ID))

		_, err := scheduler.GetTask(task.ID)
		assert.Error(t, err)
		assert.Error(t, scheduler.UnscheduleTask(task.ID))
	})

	t.Run("ListTasks", func(t *testing.T) {
		tasks := scheduler.ListTasks()
		ids := make([]string, 0, len(tasks))
		for _, task := range tasks {
			ids = append(ids, task.ID)
		}
		assert.Equal(t, []string{"test-task-1", "test-task-3"}, ids)
	})
}

func TestTaskExecution(t *testing.T) {
	scheduler := setupTestScheduler(t)
	defer scheduler.Stop()

	t.Run("CronTriggered", func(t *testing.T) {
		executed := make(chan struct{}, 10)
		task := &Task{
			ID:       "every-second",
			Schedule: "* * * * * *",
			ExecutionFn: func(ctx context.Context) error {
				select {
				case executed <- struct{}{}:
				default:
				}
				return nil
			},
		}
		require.NoError(t, scheduler.ScheduleTask(task))

		select {
		case <-executed:
		case <-time.After(3 * time.Second):
			t.Fatal("Task execution timeout")
		}

		require.Eventually(t, func() bool {
			got, err := scheduler.GetTask(task.ID)
			return err == nil && got.Status == TaskStatusComplete
		}, 2*time.Second, 10*time.Millisecond)
		require.NoError(t, scheduler.UnscheduleTask(task.ID))
	})

	t.Run("FailedExecution", func(t *testing.T) {
		expectedErr := errors.New("execution failed")
		task := &Task{
			ID:         "failing",
			Schedule:   hourly,
			MaxRetries: 1,
			ExecutionFn: func(ctx context.Context) error {
				return expectedErr
			},
		}
		require.NoError(t, scheduler.ScheduleTask(task))

		err := scheduler.RunNow(task.ID)
		assert.ErrorIs(t, err, expectedErr)

		got, err := scheduler.GetTask(task.ID)
		require.NoError(t, err)
		assert.Equal(t, TaskStatusFailed, got.Status)
		assert.ErrorIs(t, got.Error, expectedErr)
		assert.Equal(t, 1, got.RetryCount)
	})

	t.Run("RetryThenSucceed", func(t *testing.T) {
		var attempts atomic.Int32
		task := &Task{
			ID:         "retry-task",
			Schedule:   hourly,
			MaxRetries: 2,
			ExecutionFn: func(ctx context.Context) error {
				if attempts.Add(1) <= 2 {
					return errors.New("temporary failure")
				}
				return nil
			},
		}
		require.NoError(t, scheduler.ScheduleTask(task))

		require.NoError(t, scheduler.RunNow(task.ID))

		got, err := scheduler.GetTask(task.ID)
		require.NoError(t, err)
		assert.Equal(t, TaskStatusComplete, got.Status)
		assert.Equal(t, 2, got.RetryCount)
		assert.Equal(t, int32(3), attempts.Load())
	})

	t.Run("PanicRecovery", func(t *testing.T) {
		var calls atomic.Int32
		task := &Task{
			ID:         "recovery-task",
			Schedule:   hourly,
			MaxRetries: 1,
			ExecutionFn: func(ctx context.Context) error {
				if calls.Add(1) == 1 {
					panic("unexpected panic")
				}
				return nil
			},
		}
		require.NoError(t, scheduler.ScheduleTask(task))

		require.NoError(t, scheduler.RunNow(task.ID))

		got, err := scheduler.GetTask(task.ID)
		require.NoError(t, err)
		assert.Equal(t, TaskStatusComplete, got.Status)
		assert.Equal(t, 1, got.RetryCount)
	})

	t.Run("UnknownTask", func(t *testing.T) {
		assert.Error(t, scheduler.RunNow("missing"))
	})
}

func TestSchedulerMetrics(t *testing.T) {
	scheduler := setupTestScheduler(t)
	defer scheduler.Stop()

	require.NoError(t, scheduler.ScheduleTask(&Task{ID: "ok", Schedule: hourly, ExecutionFn: noop}))
	require.NoError(t, scheduler.ScheduleTask(&Task{
		ID:       "fail",
		Schedule: hourly,
		ExecutionFn: func(ctx context.Context) error {
			time.Sleep(time.Millisecond)
			return errors.New("task failed")
		},
	}))

	require.NoError(t, scheduler.RunNow("ok"))
	require.Error(t, scheduler.RunNow("fail"))

	stats := scheduler.GetSchedulerStats()
	assert.Equal(t, int64(2), stats.TasksScheduled)
	assert.Equal(t, int64(1), stats.TasksCompleted)
	assert.Equal(t, int64(1), stats.TasksFailed)
	assert.NotZero(t, stats.AverageLatency)
}

func TestScheduleUpdate(t *testing.T) {
	scheduler := setupTestScheduler(t)
	defer scheduler.Stop()

	task := &Task{ID: "update-schedule-task", Schedule: hourly, ExecutionFn: noop}
	require.NoError(t, scheduler.ScheduleTask(task))

	before, err := scheduler.GetTask(task.ID)
	require.NoError(t, err)

	require.NoError(t, scheduler.UpdateTaskSchedule(task.ID, "*/2 * * * * *"))
	after, err := scheduler.GetTask(task.ID)
	require.NoError(t, err)

	assert.Equal(t, "*/2 * * * * *", after.Schedule)
	assert.True(t, after.NextRun.Before(before.NextRun))
	assert.Error(t, scheduler.UpdateTaskSchedule(task.ID, "bogus"))
	assert.Error(t, scheduler.UpdateTaskSchedule("missing", hourly))
}

func TestSchedulerGracefulShutdown(t *testing.T) {
	scheduler := setupTestScheduler(t)

	started := make(chan struct{})
	cancelled := make(chan struct{})
	var once sync.Once
	task := &Task{
		ID:       "shutdown-task",
		Schedule: "* * * * * *",
		ExecutionFn: func(ctx context.Context) error {
			once.Do(func() {
				close(started)
				<-ctx.Done()
				close(cancelled)
			})
			return ctx.Err()
		},
	}
	require.NoError(t, scheduler.ScheduleTask(task))

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("task did not start")
	}

	done := make(chan error, 1)
	go func() { done <- scheduler.Stop() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Scheduler shutdown timeout")
	}

	<-cancelled
	got, err := scheduler.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCancelled, got.Status)
}

func TestStartStopCycles(t *testing.T) {
	for i := 0; i < 20; i++ {
		t.Run(fmt.Sprintf("Cycle%02d", i), func(t *testing.T) {
			scheduler := NewScheduler(&config.SchedConfig{MaxConcurrent: 1}, zaptest.NewLogger(t))
			require.NoError(t, scheduler.Start())
			require.NoError(t, scheduler.ScheduleTask(&Task{ID: "tick", Schedule: "* * * * * *", ExecutionFn: noop}))
			require.NoError(t, scheduler.Stop())
		})
	}
}

func TestCronLoggerSilence(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &cronLogger{s: zap.New(core).Sugar()}

	l.Info("wake", "now", 1)
	l.Error(errors.New("boom"), "panic")
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, zap.DebugLevel, logs.All()[0].Level)
	assert.Equal(t, "boom", logs.All()[1].ContextMap()["error"])

	l.silence()
	l.Info("stop")
	l.Error(errors.New("late"), "late")
	assert.Equal(t, 2, logs.Len())
}

func writeSnapshot(t *testing.T, dir string) string {
	t.Helper()
	d, err := input.NewSyntheticBuilder().
		AddCandidate("a", data.NewBalance(1000)).
		AddCandidate("b", data.NewBalance(1000)).
		AddCandidate("c", data.NewBalance(1000)).
		AddCandidate("d", data.NewBalance(1000)).
		AddNominator("n1", data.NewBalance(10), "a", "b").
		AddNominator("n2", data.NewBalance(20), "a", "c").
		AddNominator("n3", data.NewBalance(30), "a", "d").
		AddNominator("n4", data.NewBalance(40), "b", "c", "d").
		WithBlockNumber(77).
		Build()
	require.NoError(t, err)

	path := filepath.Join(dir, "snapshot.json")
	require.NoError(t, input.NewJSONLoader().SaveToFile(path, d))
	return path
}

func TestElectionTask(t *testing.T) {
	dir := t.TempDir()
	snapshot := writeSnapshot(t, dir)
	logger := zaptest.NewLogger(t)
	eng := engine.New(engine.WithLogger(logger))
	defaults := data.NewElectionConfiguration(2)

	t.Run("StoresRun", func(t *testing.T) {
		repo := database.NewMemoryRepository()
		task, err := NewElectionTask(config.JobConfig{
			Name:        "classic",
			Schedule:    hourly,
			Snapshot:    snapshot,
			Diagnostics: true,
		}, defaults, eng, repo, logger)
		require.NoError(t, err)
		assert.Equal(t, "classic", task.ID)
		assert.Equal(t, snapshot, task.Metadata["snapshot"])

		require.NoError(t, task.ExecutionFn(context.Background()))

		runs, err := repo.ListRuns(context.Background(), database.RunFilter{})
		require.NoError(t, err)
		require.Len(t, runs, 1)

		run := runs[0]
		assert.Equal(t, data.AlgorithmSequentialPhragmen, run.Algorithm)
		assert.Equal(t, uint32(2), run.ActiveSetSize)
		require.NotNil(t, run.BlockNumber)
		assert.Equal(t, uint64(77), *run.BlockNumber)
		assert.Equal(t, "100", run.TotalStake.String())
		assert.True(t, run.Result.IsSelected("d"))
		assert.True(t, run.Result.IsSelected("a"))
		assert.NotNil(t, run.Result.Diagnostics)
	})

	t.Run("JobOverrides", func(t *testing.T) {
		overridesPath := filepath.Join(dir, "overrides.json")
		doc := `{"voting_edges": [{"nominator_id": "n4", "candidate_id": "d", "action": "remove"}]}`
		require.NoError(t, os.WriteFile(overridesPath, []byte(doc), 0644))

		repo := database.NewMemoryRepository()
		task, err := NewElectionTask(config.JobConfig{
			Name:          "what-if",
			Schedule:      hourly,
			Snapshot:      snapshot,
			Overrides:     overridesPath,
			ActiveSetSize: 1,
		}, defaults, eng, repo, logger)
		require.NoError(t, err)
		require.NoError(t, task.ExecutionFn(context.Background()))

		runs, err := repo.ListRuns(context.Background(), database.RunFilter{})
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, uint32(1), runs[0].ActiveSetSize)
		assert.True(t, runs[0].Result.IsSelected("a"))
		assert.Equal(t, uint32(2), defaults.ActiveSetSize)
		assert.Nil(t, defaults.Overrides)
	})

	t.Run("MissingSnapshot", func(t *testing.T) {
		repo := database.NewMemoryRepository()
		task, err := NewElectionTask(config.JobConfig{
			Name:     "missing",
			Schedule: hourly,
			Snapshot: filepath.Join(dir, "nope.json"),
		}, defaults, eng, repo, logger)
		require.NoError(t, err)

		err = task.ExecutionFn(context.Background())
		var fileErr *data.FileError
		assert.True(t, errors.As(err, &fileErr))
	})

	t.Run("RequiresCollaborators", func(t *testing.T) {
		_, err := NewElectionTask(config.JobConfig{Name: "x"}, nil, eng, database.NewMemoryRepository(), logger)
		assert.Error(t, err)
		_, err = NewElectionTask(config.JobConfig{Name: "x"}, defaults, nil, database.NewMemoryRepository(), logger)
		assert.Error(t, err)
	})
}

func TestScheduleElectionJobs(t *testing.T) {
	dir := t.TempDir()
	snapshot := writeSnapshot(t, dir)
	logger := zaptest.NewLogger(t)

	cfg := &config.SchedConfig{
		MaxConcurrent: 2,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
	}
	for i := 0; i < 3; i++ {
		cfg.Jobs = append(cfg.Jobs, config.JobConfig{
			Name:     fmt.Sprintf("job-%d", i),
			Schedule: hourly,
			Snapshot: snapshot,
		})
	}

	scheduler := NewScheduler(cfg, logger)
	require.NoError(t, scheduler.Start())
	defer scheduler.Stop()

	repo := database.NewMemoryRepository()
	eng := engine.New(engine.WithLogger(logger))
	require.NoError(t, scheduler.ScheduleElectionJobs(data.NewElectionConfiguration(2), eng, repo))

	tasks := scheduler.ListTasks()
	require.Len(t, tasks, 3)
	for _, task := range tasks {
		assert.Equal(t, 2, task.MaxRetries)
		require.NoError(t, scheduler.RunNow(task.ID))
	}

	runs, err := repo.ListRuns(context.Background(), database.RunFilter{})
	require.NoError(t, err)
	assert.Len(t, runs, 3)
	assert.Equal(t, runs[0].Digest, runs[2].Digest)
}
