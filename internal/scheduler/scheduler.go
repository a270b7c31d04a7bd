// Package scheduler runs the clinic's periodic background tasks under a single owner.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/dentalchart-platform/internal/observability/metrics"
	"github.com/wolfman30/dentalchart-platform/pkg/logging"
)

var (
	ErrAlreadyStarted = errors.New("scheduler: already started")
	ErrInvalidTask    = errors.New("scheduler: invalid task")
	ErrUnknownTask    = errors.New("scheduler: unknown task")
)

// Task is a named unit of periodic work.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error

	// Timeout bounds a single run. Zero means the run is bounded only by the scheduler's lifetime.
	Timeout time.Duration
	// Immediate runs the task once on Start before the first tick.
	Immediate bool
}

type entry struct {
	task Task
	mu   sync.Mutex // held for the duration of a run
}

// Scheduler owns a set of tasks, each ticking on its own goroutine. A task never overlaps itself.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool

	metrics *metrics.SchedulerMetrics
	logger  *logging.Logger
}

func New(m *metrics.SchedulerMetrics, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{
		entries: make(map[string]*entry),
		metrics: m,
		logger:  logger.WithComponent("scheduler"),
	}
}

// Register adds a task. Tasks must be registered before Start.
func (s *Scheduler) Register(task Task) error {
	task.Name = strings.TrimSpace(task.Name)
	switch {
	case task.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidTask)
	case task.Interval <= 0:
		return fmt.Errorf("%w: %s: interval must be positive", ErrInvalidTask, task.Name)
	case task.Run == nil:
		return fmt.Errorf("%w: %s: run func is required", ErrInvalidTask, task.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	if _, exists := s.entries[task.Name]; exists {
		return fmt.Errorf("%w: %s: already registered", ErrInvalidTask, task.Name)
	}
	s.entries[task.Name] = &entry{task: task}
	s.order = append(s.order, task.Name)
	return nil
}

// Tasks returns registered task names in registration order.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Start launches every registered task. Cancelling ctx or calling Stop ends them.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, name := range s.order {
		e := s.entries[name]
		s.wg.Add(1)
		go s.loop(ctx, e)
	}
	s.logger.Info("scheduler started", "tasks", len(s.order))
	return nil
}

// Stop cancels all tasks and waits for in-flight runs to return. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// RunNow runs a task once on the caller's goroutine, waiting for any in-flight run to finish first.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return s.run(ctx, e)
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	defer s.wg.Done()

	ticker := time.NewTicker(e.task.Interval)
	defer ticker.Stop()

	if e.task.Immediate {
		_ = s.run(ctx, e)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.run(ctx, e)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, e *entry) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if e.task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.task.Timeout)
		defer cancel()
	}

	start := time.Now()
	status := "ok"
	defer func() {
		if r := recover(); r != nil {
			status = "panic"
			err = fmt.Errorf("scheduler: task %s panicked: %v", e.task.Name, r)
			s.logger.Error("scheduled task panicked", "task", e.task.Name, "panic", r, "stack", string(debug.Stack()))
		}
		s.metrics.ObserveRun(e.task.Name, status, time.Since(start).Seconds())
	}()

	if err = e.task.Run(ctx); err != nil {
		status = "error"
		s.logger.Error("scheduled task failed", "task", e.task.Name, "error", err)
		return err
	}
	s.logger.Debug("scheduled task completed", "task", e.task.Name, "duration_ms", time.Since(start).Milliseconds())
	return nil
}
