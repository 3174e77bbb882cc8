package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"npos_election/pkg/config"
	"npos_election/pkg/utils"
)

// TaskStatus represents the current state of a scheduled task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusComplete  TaskStatus = "complete"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Task is a unit of work fired on a cron schedule. The scheduler owns the
// state fields once the task is registered; read them through GetTask.
type Task struct {
	ID          string
	Name        string
	Schedule    string
	LastRun     time.Time
	NextRun     time.Time
	Status      TaskStatus
	Error       error
	RetryCount  int
	MaxRetries  int
	CronID      cron.EntryID
	Metadata    map[string]string
	ExecutionFn func(context.Context) error
}

// Scheduler runs registered tasks on their cron schedules with a bounded
// number of concurrent executions.
type Scheduler struct {
	cron     *cron.Cron
	cronLog  *cronLogger
	tasks    map[string]*Task
	config   *config.SchedConfig
	logger   *zap.Logger
	stats    *statsCollector
	slots    chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	sampling sync.WaitGroup
	mu       sync.RWMutex
}

// NewScheduler creates a new scheduler instance. Schedules use
// config.CronParser, so they carry a leading seconds field.
func NewScheduler(cfg *config.SchedConfig, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	cl := &cronLogger{s: logger.Named("cron").Sugar()}

	slots := cfg.MaxConcurrent
	if slots <= 0 {
		slots = 1
	}

	return &Scheduler{
		cron: cron.New(
			cron.WithParser(config.CronParser),
			cron.WithLogger(cl),
			cron.WithChain(cron.SkipIfStillRunning(cl)),
		),
		cronLog: cl,
		tasks:   make(map[string]*Task),
		config:  cfg,
		logger:  logger,
		stats:   &statsCollector{},
		slots:   make(chan struct{}, slots),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the cron loop and the running-task sampler.
func (s *Scheduler) Start() error {
	s.logger.Info("Starting scheduler", zap.Int("maxConcurrent", cap(s.slots)))

	s.sampling.Add(1)
	utils.SafeGo(s.logger, func() {
		defer s.sampling.Done()
		s.sampleRunning()
	})
	s.cron.Start()
	return nil
}

// Stop cancels running tasks and waits for them to return. Tasks that never
// ran are marked cancelled. Nothing is logged through the scheduler's logger
// once Stop returns.
func (s *Scheduler) Stop() error {
	s.logger.Info("Stopping scheduler")
	s.cancel()

	// cron's loop goroutine can outlive Stop's context and still log
	// its own shutdown.
	s.cronLog.silence()
	<-s.cron.Stop().Done()
	s.sampling.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range s.tasks {
		if task.Status == TaskStatusPending {
			task.Status = TaskStatusCancelled
		}
	}
	return nil
}

// ScheduleTask validates task and registers it with cron.
func (s *Scheduler) ScheduleTask(task *Task) error {
	if err := validateTask(task); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task with ID %s already exists", task.ID)
	}
	if err := s.register(task, task.Schedule); err != nil {
		return fmt.Errorf("scheduling task: %w", err)
	}
	task.Status = TaskStatusPending
	s.tasks[task.ID] = task
	s.stats.scheduled()

	s.logger.Info("Task scheduled",
		zap.String("taskID", task.ID),
		zap.String("schedule", task.Schedule),
		zap.Time("nextRun", task.NextRun))
	return nil
}

// UpdateTaskSchedule moves an existing task onto a new schedule.
func (s *Scheduler) UpdateTaskSchedule(taskID string, schedule string) error {
	if _, err := config.CronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %s not found", taskID)
	}
	s.cron.Remove(task.CronID)
	if err := s.register(task, schedule); err != nil {
		return fmt.Errorf("updating task schedule: %w", err)
	}

	s.logger.Info("Task schedule updated",
		zap.String("taskID", taskID),
		zap.String("schedule", schedule),
		zap.Time("nextRun", task.NextRun))
	return nil
}

// register adds task to cron under schedule. Callers hold s.mu.
func (s *Scheduler) register(task *Task, schedule string) error {
	id, err := s.cron.AddFunc(schedule, func() { s.executeTask(s.ctx, task) })
	if err != nil {
		return err
	}
	task.Schedule = schedule
	task.CronID = id
	task.NextRun = s.cron.Entry(id).Next
	return nil
}

// UnscheduleTask removes a task from the scheduler
func (s *Scheduler) UnscheduleTask(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %s not found", taskID)
	}
	s.cron.Remove(task.CronID)
	delete(s.tasks, taskID)

	s.logger.Info("Task unscheduled", zap.String("taskID", taskID))
	return nil
}

// GetTask returns a snapshot of a task's state
func (s *Scheduler) GetTask(taskID string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return nil, fmt.Errorf("task %s not found", taskID)
	}
	snapshot := *task
	return &snapshot, nil
}

// ListTasks returns snapshots of all scheduled tasks ordered by ID
func (s *Scheduler) ListTasks() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]*Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		snapshot := *task
		tasks = append(tasks, &snapshot)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks
}

// RunNow executes a scheduled task immediately on the caller's goroutine,
// through the same worker pool and retry policy as cron-triggered runs.
func (s *Scheduler) RunNow(taskID string) error {
	s.mu.RLock()
	task, exists := s.tasks[taskID]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("task %s not found", taskID)
	}

	s.executeTask(s.ctx, task)

	s.mu.RLock()
	defer s.mu.RUnlock()
	return task.Error
}

func (s *Scheduler) executeTask(ctx context.Context, task *Task) {
	if ctx.Err() != nil {
		return
	}
	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ctx.Done():
		return
	}

	start := time.Now()
	s.setStatus(task, TaskStatusRunning, nil, start)

	err := s.runTaskWithRetries(ctx, task)
	elapsed := time.Since(start)

	switch {
	case err != nil && ctx.Err() != nil:
		s.setStatus(task, TaskStatusCancelled, err, time.Time{})
	case err != nil:
		s.setStatus(task, TaskStatusFailed, err, time.Time{})
		s.stats.finished(false, elapsed)
	default:
		s.setStatus(task, TaskStatusComplete, nil, time.Time{})
		s.stats.finished(true, elapsed)
	}

	s.logger.Info("Task execution completed",
		zap.String("taskID", task.ID),
		zap.Duration("duration", elapsed),
		zap.Error(err))
}

// setStatus records a state transition. A non-zero startedAt marks the
// beginning of a run; any other transition refreshes NextRun.
func (s *Scheduler) setStatus(task *Task, status TaskStatus, err error, startedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task.Status = status
	if !startedAt.IsZero() {
		task.LastRun = startedAt
		return
	}
	task.Error = err
	task.NextRun = s.cron.Entry(task.CronID).Next
}

func (s *Scheduler) runTaskWithRetries(ctx context.Context, task *Task) error {
	var lastErr error
	for attempt := 0; attempt <= task.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.config.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := s.runOnce(ctx, task)
		s.mu.Lock()
		task.RetryCount = attempt
		s.mu.Unlock()
		if err == nil {
			return nil
		}

		lastErr = err
		s.logger.Warn("Task execution failed",
			zap.String("taskID", task.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		if ctx.Err() != nil {
			return err
		}
	}
	return fmt.Errorf("task failed after %d retries: %w", task.MaxRetries, lastErr)
}

// runOnce turns a panicking attempt into a failed one
func (s *Scheduler) runOnce(ctx context.Context, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in task",
				zap.String("taskID", task.ID),
				zap.Any("panic", r),
				zap.Stack("stack"))
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task.ExecutionFn(ctx)
}

func validateTask(task *Task) error {
	switch {
	case task.ID == "":
		return fmt.Errorf("task ID cannot be empty")
	case task.Schedule == "":
		return fmt.Errorf("task schedule cannot be empty")
	case task.ExecutionFn == nil:
		return fmt.Errorf("task execution function cannot be nil")
	case task.MaxRetries < 0:
		return fmt.Errorf("max retries cannot be negative")
	}
	if _, err := config.CronParser.Parse(task.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule: %w", err)
	}
	return nil
}

// sampleRunning refreshes the running-task gauge once a minute until the
// scheduler stops.
func (s *Scheduler) sampleRunning() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mu.RLock()
			running := 0
			for _, task := range s.tasks {
				if task.Status == TaskStatusRunning {
					running++
				}
			}
			s.mu.RUnlock()
			s.stats.sampled(running)
		}
	}
}

// GetSchedulerStats returns current scheduler statistics
func (s *Scheduler) GetSchedulerStats() SchedulerStats {
	return s.stats.snapshot()
}

// SchedulerStats represents scheduler statistics
type SchedulerStats struct {
	TasksScheduled  int64
	TasksCompleted  int64
	TasksFailed     int64
	AverageLatency  time.Duration
	ConcurrentTasks int
	LastUpdate      time.Time
}

// statsCollector guards a SchedulerStats. AverageLatency is an exponential
// moving average with weight 1/10 on the newest run.
type statsCollector struct {
	mu    sync.RWMutex
	stats SchedulerStats
}

func (c *statsCollector) scheduled() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.TasksScheduled++
	c.stats.LastUpdate = time.Now()
}

func (c *statsCollector) finished(ok bool, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.stats.TasksCompleted++
	} else {
		c.stats.TasksFailed++
	}
	if c.stats.AverageLatency == 0 {
		c.stats.AverageLatency = elapsed
	} else {
		c.stats.AverageLatency = (c.stats.AverageLatency*9 + elapsed) / 10
	}
	c.stats.LastUpdate = time.Now()
}

func (c *statsCollector) sampled(running int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.ConcurrentTasks = running
	c.stats.LastUpdate = time.Now()
}

func (c *statsCollector) snapshot() SchedulerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// cronLogger routes cron's own logging through zap until silence is called.
type cronLogger struct {
	mu    sync.RWMutex
	quiet bool
	s     *zap.SugaredLogger
}

// silence blocks until in-flight writes finish, then drops all later ones.
func (l *cronLogger) silence() {
	l.mu.Lock()
	l.quiet = true
	l.mu.Unlock()
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.quiet {
		l.s.Debugw(msg, keysAndValues...)
	}
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.quiet {
		l.s.Errorw(msg, append(keysAndValues, "error", err)...)
	}
}
