// Package pulse is the recurring-task scheduler. Every piece of scheduled
// work in the runtime, interval or cron, runs as a pulse task with its own
// state machine, retry budget, and progress accounting.
package pulse

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/cronexpr"
	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
)

// Status is the state of a task's state machine.
type Status string

const (
	// StatusReady means the task is idle or waiting on its timer.
	StatusReady Status = "ready"

	// StatusRunning means the callback is executing right now.
	StatusRunning Status = "running"

	// StatusStopped means the task will not run again until restarted.
	StatusStopped Status = "stopped"

	// StatusError is the transient state between a callback failure and the
	// retry decision.
	StatusError Status = "error"
)

const (
	// RepeatForever makes a task reschedule after every successful run.
	RepeatForever = -1

	// AttemptsUnlimited retries a failing task indefinitely.
	AttemptsUnlimited = -1
)

// Callback is the work a task performs. The task passes itself so the
// callback can inspect progress or parameters.
type Callback func(ctx context.Context, t *Task) error

// Task is one scheduled unit of work. All exported accessors are safe for
// concurrent use; the callback itself runs outside the task lock.
type Task struct {
	id     string
	logger hclog.Logger
	cb     Callback
	params []interface{}
	ctx    context.Context

	autostart bool

	mu          sync.Mutex
	status      Status
	delay       time.Duration
	repeat      int
	attempts    int
	attempt     int
	count       int
	failed      bool
	complete    bool
	lastErr     error
	pendingStop bool
	timer       *time.Timer
	cron        *cronexpr.Expression

	// wg tracks the pending timer plus any in-flight callback so that
	// unregistration can wait for quiescence.
	wg sync.WaitGroup
}

// ID returns the task id.
func (t *Task) ID() string { return t.id }

// Params returns the registration parameters.
func (t *Task) Params() []interface{} { return t.params }

// Status returns the current state.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Attempt returns the current retry counter.
func (t *Task) Attempt() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempt
}

// Count returns the number of successful executions. It is incremented when
// an attempt starts and decremented on error, so it settles on successes.
func (t *Task) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Failed reports whether the task stopped with its retry budget exhausted.
func (t *Task) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

// Complete reports whether a finite-repeat task finished every repetition.
func (t *Task) Complete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.complete
}

// Err returns the most recent callback error.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Progress reports completion as a fraction: 1 when complete, count/repeat
// for finite repeats, otherwise 0.
func (t *Task) Progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.complete {
		return 1
	}
	if t.repeat > 0 {
		return float64(t.count) / float64(t.repeat)
	}
	return 0
}

// Start schedules the next execution after the task's delay (or its cron
// expression's next fire instant). Starting a running or already scheduled
// task is a no-op.
func (t *Task) Start() *Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusRunning || t.timer != nil {
		return t
	}
	t.pendingStop = false
	t.status = StatusReady
	t.scheduleLocked(t.nextDelayLocked())
	return t
}

// Now pre-empts the timer and runs the callback immediately, on the caller's
// goroutine. A concurrent run wins; Now returns without executing.
func (t *Task) Now() *Task {
	t.mu.Lock()
	if t.status == StatusRunning {
		t.mu.Unlock()
		return t
	}
	t.cancelTimerLocked()
	t.pendingStop = false
	t.wg.Add(1)
	t.mu.Unlock()

	t.fire()
	return t
}

// Stop halts the task. While the callback is running the stop is recorded
// and honoured at the callback boundary.
func (t *Task) Stop() *Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusRunning {
		t.pendingStop = true
		return t
	}
	t.cancelTimerLocked()
	t.status = StatusStopped
	return t
}

// Reset stops the task and clears its counters back to a fresh ready state.
func (t *Task) Reset() *Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusRunning {
		t.pendingStop = true
	}
	t.cancelTimerLocked()
	t.attempt = 0
	t.count = 0
	t.failed = false
	t.complete = false
	t.lastErr = nil
	t.status = StatusReady
	return t
}

// Retry clears a failed stop and schedules the task again. The attempt
// counter is preserved only while the task is in its error state; a manual
// retry starts a fresh budget.
func (t *Task) Retry() *Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusRunning {
		return t
	}
	t.cancelTimerLocked()
	t.failed = false
	t.attempt = 0
	t.status = StatusReady
	t.scheduleLocked(t.nextDelayLocked())
	return t
}

// wait blocks until the pending timer and any in-flight callback finish.
func (t *Task) wait() {
	t.wg.Wait()
}

func (t *Task) scheduleLocked(d time.Duration) {
	t.wg.Add(1)
	t.timer = time.AfterFunc(d, t.fire)
}

func (t *Task) cancelTimerLocked() {
	if t.timer != nil && t.timer.Stop() {
		t.wg.Done()
	}
	t.timer = nil
}

func (t *Task) nextDelayLocked() time.Duration {
	if t.cron != nil {
		d := time.Until(t.cron.Next(time.Now()))
		if d < 0 {
			d = 0
		}
		return d
	}
	return t.delay
}

// fire is one execution of the state machine: run the callback, then decide
// between completion, rescheduling, retry, and failure.
func (t *Task) fire() {
	defer t.wg.Done()
	defer metrics.MeasureSince([]string{"strata", "pulse", "run"}, time.Now())

	t.mu.Lock()
	t.timer = nil
	if t.pendingStop || t.ctx.Err() != nil {
		t.pendingStop = false
		t.status = StatusStopped
		t.mu.Unlock()
		return
	}
	t.status = StatusRunning
	t.count++
	t.mu.Unlock()

	err := t.cb(t.ctx, t)

	t.mu.Lock()
	defer t.mu.Unlock()

	if err != nil {
		t.count--
		t.lastErr = err
		t.status = StatusError
		metrics.IncrCounter([]string{"strata", "pulse", "error"}, 1)
		t.logger.Warn("task callback failed", "task", t.id, "attempt", t.attempt, "error", err)

		// The budget check precedes the increment, so a task with N
		// attempts runs its callback N+1 times before failing.
		if t.attempts >= 0 && t.attempt >= t.attempts {
			t.status = StatusStopped
			t.failed = true
			return
		}
		t.attempt++
		if t.pendingStop {
			t.pendingStop = false
			t.status = StatusStopped
			return
		}
		t.scheduleLocked(t.nextDelayLocked())
		return
	}

	t.lastErr = nil
	t.attempt = 0

	if t.pendingStop {
		t.pendingStop = false
		t.status = StatusStopped
		return
	}
	if t.repeat > 0 && t.count >= t.repeat {
		t.complete = true
		t.status = StatusStopped
		return
	}
	t.status = StatusReady
	t.scheduleLocked(t.nextDelayLocked())
}
