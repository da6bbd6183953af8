package v1

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"servicecatalog-cron/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecutor struct {
	mu       sync.Mutex
	executed []models.Intent
	fail     bool
}

func (r *recordingExecutor) Execute(_ context.Context, intent models.Intent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("billing gateway unavailable")
	}
	r.executed = append(r.executed, intent)
	return nil
}

func (r *recordingExecutor) setFail(fail bool) {
	r.mu.Lock()
	r.fail = fail
	r.mu.Unlock()
}

func (r *recordingExecutor) kinds() []models.IntentKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return intentKinds(r.executed)
}

func newTestEngine() (*Engine, *MemoryStore, *recordingExecutor) {
	store := NewMemoryStore()
	exec := &recordingExecutor{}
	return NewEngine(store, store, store, exec), store, exec
}

func TestEngineRecord(t *testing.T) {
	ctx := context.Background()
	engine, store, exec := newTestEngine()
	p := compile(t, withFailure(1, 0))
	run := exitRun("run-1", 1, t0)

	tr, err := engine.Record(ctx, run, p, testSubject())
	require.NoError(t, err)
	assert.Equal(t, models.Suspended, tr.State.State)
	assert.Equal(t, []models.IntentKind{models.BillingSuspend, models.NotifySuspend}, exec.kinds())

	state, err := engine.State(ctx, "enr-1")
	require.NoError(t, err)
	assert.Equal(t, models.Suspended, state.State)

	runs, err := store.GetRuns(ctx, []string{"run-1"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.Fail, runs[0].Outcome)

	pending, err := store.Pending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	t.Run("replayed_run_executes_nothing", func(t *testing.T) {
		_, err := engine.Record(ctx, run, p, testSubject())
		require.NoError(t, err)
		assert.Len(t, exec.kinds(), 2)
	})
}

func TestEngineReplayBeyondProcessedWindow(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newTestEngine()
	p := compile(t, withFailure(3, 0))

	old := exitRun("run-1", 1, t0)
	_, err := engine.Record(ctx, old, p, testSubject())
	require.NoError(t, err)

	// Age the run out of the state's own replay window.
	state, err := store.LoadState(ctx, "enr-1")
	require.NoError(t, err)
	state.ProcessedRunIDs = nil
	require.NoError(t, store.SaveState(ctx, state))

	tr, err := engine.Record(ctx, old, p, testSubject())
	require.NoError(t, err)
	assert.False(t, tr.Changed)
	state, err = store.LoadState(ctx, "enr-1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.ConsecutiveFailures)

	t.Run("logged_but_unapplied_run_is_applied", func(t *testing.T) {
		later := exitRun("run-2", 1, t0.Add(time.Hour))
		inserted, err := store.AppendRun(ctx, later)
		require.NoError(t, err)
		require.True(t, inserted)

		tr, err := engine.Record(ctx, later, p, testSubject())
		require.NoError(t, err)
		assert.True(t, tr.Changed)
		assert.Equal(t, 2, tr.State.ConsecutiveFailures)
	})
}

func TestEngineExecutionErrorIsLoggedNotCounted(t *testing.T) {
	ctx := context.Background()
	engine, store, exec := newTestEngine()
	p := compile(t, withFailure(1, 0))

	run := models.HealthCheckRun{ID: "run-1", EnrollmentID: "enr-1", ScheduledAt: t0, ExecError: "script not approved"}
	_, err := engine.Record(ctx, run, p, testSubject())
	require.ErrorIs(t, err, ErrExecution)

	state, err := engine.State(ctx, "enr-1")
	require.NoError(t, err)
	assert.Equal(t, models.Healthy, state.State)
	assert.Zero(t, state.ConsecutiveFailures)
	assert.Empty(t, exec.kinds())

	recent, err := store.RecentRuns(ctx, "enr-1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "script not approved", recent[0].ExecError)
}

func TestEngineOutboxDeduplicates(t *testing.T) {
	ctx := context.Background()
	engine, _, exec := newTestEngine()

	intent := models.Intent{Key: "enr-1:billing_suspend:1", Kind: models.BillingSuspend, EnrollmentID: "enr-1", Episode: 1}
	engine.emit(ctx, intent)
	engine.emit(ctx, intent)

	assert.Equal(t, []models.IntentKind{models.BillingSuspend}, exec.kinds())
}

func TestEngineRetryPending(t *testing.T) {
	ctx := context.Background()
	engine, store, exec := newTestEngine()
	p := compile(t, withFailure(1, 0))

	exec.setFail(true)
	tr, err := engine.Record(ctx, exitRun("run-1", 1, t0), p, testSubject())
	require.NoError(t, err)
	assert.Equal(t, models.Suspended, tr.State.State)

	pending, err := store.Pending(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	assert.Zero(t, engine.RetryPending(ctx, 10))

	exec.setFail(false)
	assert.Equal(t, 2, engine.RetryPending(ctx, 10))
	assert.Equal(t, []models.IntentKind{models.BillingSuspend, models.NotifySuspend}, exec.kinds())
	assert.Zero(t, engine.RetryPending(ctx, 10))
}

func TestEngineAdvance(t *testing.T) {
	ctx := context.Background()
	engine, _, exec := newTestEngine()
	p := compile(t, withFailure(1, 4))

	_, err := engine.Record(ctx, exitRun("run-1", 1, t0), p, testSubject())
	require.NoError(t, err)

	tr, err := engine.Advance(ctx, "enr-1", p, testSubject(), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.ThresholdCrossed, tr.State.State)
	assert.Empty(t, exec.kinds())

	tr, err = engine.Advance(ctx, "enr-1", p, testSubject(), t0.Add(4*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.Suspended, tr.State.State)
	assert.Equal(t, []models.IntentKind{models.BillingSuspend, models.NotifySuspend}, exec.kinds())
}

func TestEngineConcurrentRunsSuspendOnce(t *testing.T) {
	ctx := context.Background()
	engine, _, exec := newTestEngine()
	p := compile(t, withFailure(1, 0))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := engine.Record(ctx, exitRun(fmt.Sprintf("run-%d", i), 1, t0.Add(time.Duration(i)*time.Second)), p, testSubject())
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, []models.IntentKind{models.BillingSuspend, models.NotifySuspend}, exec.kinds())
	state, err := engine.State(ctx, "enr-1")
	require.NoError(t, err)
	assert.Equal(t, 50, state.ConsecutiveFailures)
	assert.Len(t, state.ProcessedRunIDs, 50)
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()

	unlockA := k.Lock("a")
	locked := make(chan struct{})
	go func() {
		unlock := k.Lock("b")
		close(locked)
		unlock()
	}()
	select {
	case <-locked:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}

	second := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		close(second)
		unlock()
	}()
	select {
	case <-second:
		t.Fatal("second lock on a acquired while held")
	case <-time.After(50 * time.Millisecond):
	}
	unlockA()
	<-second

	require.Eventually(t, func() bool {
		k.mu.Lock()
		defer k.mu.Unlock()
		return len(k.locks) == 0
	}, time.Second, 10*time.Millisecond)
}
