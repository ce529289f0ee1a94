package pulse

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shoenig/test/must"
	"github.com/shoenig/test/wait"
	"github.com/stretchr/testify/require"

	"github.com/strata-cms/strata/ci"
	"github.com/strata-cms/strata/helper/testlog"
)

func testScheduler(t *testing.T) *Scheduler {
	s := NewScheduler(testlog.HCLogger(t))
	t.Cleanup(s.Shutdown)
	return s
}

func waitForStatus(t *testing.T, task *Task, status Status) {
	t.Helper()
	must.Wait(t, wait.InitialSuccess(
		wait.BoolFunc(func() bool { return task.Status() == status }),
		wait.Timeout(3*time.Second),
		wait.Gap(5*time.Millisecond),
	))
}

func TestScheduler_Register_Validation(t *testing.T) {
	ci.Parallel(t)
	s := testScheduler(t)

	_, err := s.Register("", func(context.Context, *Task) error { return nil })
	require.Error(t, err)

	_, err = s.Register("no-cb", nil)
	require.Error(t, err)

	_, err = s.Register("bad-cron", func(context.Context, *Task) error { return nil },
		WithCron("not a cron"))
	require.Error(t, err)

	_, err = s.Register("ok", func(context.Context, *Task) error { return nil },
		WithAutostart(false))
	require.NoError(t, err)

	_, err = s.Register("ok", func(context.Context, *Task) error { return nil },
		WithAutostart(false))
	require.Error(t, err)
}

func TestTask_FiniteRepeat_Completes(t *testing.T) {
	ci.Parallel(t)
	s := testScheduler(t)

	var runs atomic.Int32
	task, err := s.Register("ticker", func(context.Context, *Task) error {
		runs.Add(1)
		return nil
	}, WithDelay(time.Millisecond), WithRepeat(3))
	require.NoError(t, err)

	waitForStatus(t, task, StatusStopped)

	must.Eq(t, int32(3), runs.Load())
	must.Eq(t, 3, task.Count())
	must.Eq(t, float64(1), task.Progress())
	must.True(t, task.Complete())
	must.False(t, task.Failed())
}

func TestTask_RetryBudget_Exhausted(t *testing.T) {
	ci.Parallel(t)
	s := testScheduler(t)

	var runs atomic.Int32
	boom := errors.New("boom")
	task, err := s.Register("flaky", func(context.Context, *Task) error {
		runs.Add(1)
		return boom
	}, WithDelay(0), WithRepeat(1), WithAttempts(2))
	require.NoError(t, err)

	waitForStatus(t, task, StatusStopped)

	// Attempts counted 0, 1, 2 with the budget check before the increment,
	// so the callback runs attempts+1 times.
	must.Eq(t, int32(3), runs.Load())
	must.Eq(t, 2, task.Attempt())
	must.Eq(t, 0, task.Count())
	must.True(t, task.Failed())
	require.ErrorIs(t, task.Err(), boom)
}

func TestTask_RetryThenSucceed(t *testing.T) {
	ci.Parallel(t)
	s := testScheduler(t)

	var runs atomic.Int32
	task, err := s.Register("recovers", func(context.Context, *Task) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithDelay(0), WithRepeat(1), WithAttempts(5))
	require.NoError(t, err)

	waitForStatus(t, task, StatusStopped)

	must.Eq(t, int32(3), runs.Load())
	must.Eq(t, 1, task.Count())
	must.True(t, task.Complete())
	must.False(t, task.Failed())
	must.NoError(t, task.Err())
}

func TestTask_Now_RunsImmediately(t *testing.T) {
	ci.Parallel(t)
	s := testScheduler(t)

	var runs atomic.Int32
	task, err := s.Register("deferred", func(context.Context, *Task) error {
		runs.Add(1)
		return nil
	}, WithDelay(time.Hour), WithRepeat(2), WithAutostart(false))
	require.NoError(t, err)

	// Now executes on the caller's goroutine, so the first run is already
	// counted when it returns.
	task.Now()
	must.Eq(t, int32(1), runs.Load())
	must.Eq(t, 1, task.Count())

	// The reschedule is an hour out; stop it.
	task.Stop()
	must.Eq(t, StatusStopped, task.Status())
}

func TestTask_PendingStop(t *testing.T) {
	ci.Parallel(t)
	s := testScheduler(t)

	release := make(chan struct{})
	started := make(chan struct{})
	var runs atomic.Int32
	task, err := s.Register("slow", func(context.Context, *Task) error {
		runs.Add(1)
		close(started)
		<-release
		return nil
	}, WithDelay(0), WithAutostart(false))
	require.NoError(t, err)

	task.Start()
	<-started
	must.Eq(t, StatusRunning, task.Status())

	// Stop during the run is honoured at the callback boundary.
	task.Stop()
	close(release)

	waitForStatus(t, task, StatusStopped)
	must.Eq(t, int32(1), runs.Load())
	must.False(t, task.Failed())
}

func TestTask_Reset(t *testing.T) {
	ci.Parallel(t)
	s := testScheduler(t)

	task, err := s.Register("resettable", func(context.Context, *Task) error {
		return errors.New("always")
	}, WithDelay(0), WithAttempts(0), WithAutostart(false))
	require.NoError(t, err)

	task.Now()
	must.True(t, task.Failed())

	task.Reset()
	must.Eq(t, StatusReady, task.Status())
	must.Zero(t, task.Attempt())
	must.Zero(t, task.Count())
	must.False(t, task.Failed())
	must.NoError(t, task.Err())
}

func TestScheduler_Unregister_WaitsForInflight(t *testing.T) {
	ci.Parallel(t)
	s := testScheduler(t)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	_, err := s.Register("inflight", func(context.Context, *Task) error {
		close(started)
		<-release
		close(done)
		return nil
	}, WithDelay(0), WithRepeat(1))
	require.NoError(t, err)

	<-started
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()

	s.Unregister("inflight")

	// Unregister returned, so the callback must have finished.
	select {
	case <-done:
	default:
		t.Fatal("unregister returned before the in-flight run completed")
	}
	must.Nil(t, s.Get("inflight"))

	// Unknown ids are a no-op.
	s.Unregister("inflight")
}

func TestScheduler_Replace(t *testing.T) {
	ci.Parallel(t)
	s := testScheduler(t)

	_, err := s.Register("job", func(context.Context, *Task) error { return nil },
		WithAutostart(false))
	require.NoError(t, err)

	replaced, err := s.Replace("job", func(context.Context, *Task) error { return nil },
		WithAutostart(false), WithRepeat(7))
	require.NoError(t, err)
	must.Eq(t, replaced, s.Get("job"))
}

func TestScheduler_CronTask(t *testing.T) {
	ci.Parallel(t)
	s := testScheduler(t)

	// Six-field expression fires every second.
	var runs atomic.Int32
	task, err := s.Register("cron", func(context.Context, *Task) error {
		runs.Add(1)
		return nil
	}, WithCron("* * * * * *"))
	require.NoError(t, err)

	must.Wait(t, wait.InitialSuccess(
		wait.BoolFunc(func() bool { return runs.Load() >= 1 }),
		wait.Timeout(3*time.Second),
		wait.Gap(20*time.Millisecond),
	))
	task.Stop()
}

func TestScheduler_List_Ordered(t *testing.T) {
	ci.Parallel(t)
	s := testScheduler(t)

	for _, id := range []string{"b", "c", "a"} {
		_, err := s.Register(id, func(context.Context, *Task) error { return nil },
			WithAutostart(false))
		require.NoError(t, err)
	}

	list := s.List()
	require.Len(t, list, 3)
	must.Eq(t, "a", list[0].ID())
	must.Eq(t, "b", list[1].ID())
	must.Eq(t, "c", list[2].ID())
}
