package pulse

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/cronexpr"
	hclog "github.com/hashicorp/go-hclog"
)

// Option configures a task at registration time.
type Option func(*Task) error

// WithDelay sets the interval between executions.
func WithDelay(d time.Duration) Option {
	return func(t *Task) error {
		t.delay = d
		return nil
	}
}

// WithRepeat bounds the number of successful executions. RepeatForever
// reschedules indefinitely.
func WithRepeat(n int) Option {
	return func(t *Task) error {
		t.repeat = n
		return nil
	}
}

// WithAttempts bounds the retry budget. AttemptsUnlimited retries forever.
func WithAttempts(n int) Option {
	return func(t *Task) error {
		t.attempts = n
		return nil
	}
}

// WithAutostart controls whether Register also starts the task. Defaults to
// true.
func WithAutostart(b bool) Option {
	return func(t *Task) error {
		t.autostart = b
		return nil
	}
}

// WithCron schedules the task by cron expression instead of a fixed delay.
// The expression is parsed here; each reschedule re-derives the delay from
// the next fire instant.
func WithCron(expr string) Option {
	return func(t *Task) error {
		parsed, err := cronexpr.Parse(expr)
		if err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", expr, err)
		}
		t.cron = parsed
		return nil
	}
}

// WithParams attaches registration parameters retrievable via Task.Params.
func WithParams(params ...interface{}) Option {
	return func(t *Task) error {
		t.params = params
		return nil
	}
}

// Scheduler owns the task table. One scheduler instance serves the whole
// runtime; cron work and plugin interval work share it.
type Scheduler struct {
	logger hclog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	lock  sync.RWMutex
	tasks map[string]*Task
}

// NewScheduler returns a running scheduler. Shutdown stops every task.
func NewScheduler(logger hclog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger: logger.Named("pulse"),
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]*Task),
	}
}

// Register creates a task under id and, unless autostart is disabled, starts
// it. Registering an existing id is an error; use Replace to swap.
func (s *Scheduler) Register(id string, cb Callback, opts ...Option) (*Task, error) {
	if id == "" {
		return nil, fmt.Errorf("task id must not be empty")
	}
	if cb == nil {
		return nil, fmt.Errorf("task %s: callback must not be nil", id)
	}

	t := &Task{
		id:        id,
		logger:    s.logger,
		cb:        cb,
		ctx:       s.ctx,
		status:    StatusReady,
		repeat:    RepeatForever,
		attempts:  AttemptsUnlimited,
		autostart: true,
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}

	s.lock.Lock()
	if _, exists := s.tasks[id]; exists {
		s.lock.Unlock()
		return nil, fmt.Errorf("task %s is already registered", id)
	}
	s.tasks[id] = t
	s.lock.Unlock()

	if t.autostart {
		t.Start()
	}
	s.logger.Debug("registered task", "task", id, "cron", t.cron != nil)
	return t, nil
}

// Replace unregisters any existing task under id, waiting for its in-flight
// run, and registers the new one.
func (s *Scheduler) Replace(id string, cb Callback, opts ...Option) (*Task, error) {
	s.Unregister(id)
	return s.Register(id, cb, opts...)
}

// Get returns the task registered under id, nil when absent.
func (s *Scheduler) Get(id string) *Task {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.tasks[id]
}

// Unregister stops the task, waits for any in-flight run to finish, and
// drops it from the table. Unknown ids are a no-op.
func (s *Scheduler) Unregister(id string) {
	s.lock.Lock()
	t, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
	}
	s.lock.Unlock()
	if !ok {
		return
	}

	t.Stop()
	t.wait()
	s.logger.Debug("unregistered task", "task", id)
}

// List returns the registered tasks ordered by id.
func (s *Scheduler) List() []*Task {
	s.lock.RLock()
	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	s.lock.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Shutdown cancels the scheduler context, stops every task, and waits for
// in-flight runs.
func (s *Scheduler) Shutdown() {
	s.cancel()
	for _, t := range s.List() {
		t.Stop()
		t.wait()
	}
}
