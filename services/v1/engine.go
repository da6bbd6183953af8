package v1

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"servicecatalog-cron/models"
)

// IntentExecutor carries out one intent against external systems.
type IntentExecutor interface {
	Execute(ctx context.Context, intent models.Intent) error
}

// Engine serializes state machine updates per enrollment and persists the
// results. Different enrollments never share a lock.
type Engine struct {
	states   StateStore
	runs     RunLog
	outbox   Outbox
	executor IntentExecutor
	locks    *keyedMutex
}

func NewEngine(states StateStore, runs RunLog, outbox Outbox, executor IntentExecutor) *Engine {
	return &Engine{
		states:   states,
		runs:     runs,
		outbox:   outbox,
		executor: executor,
		locks:    newKeyedMutex(),
	}
}

// Record appends run to the run log and feeds it to the enrollment's state
// machine. Intents are written to the outbox and executed before the new
// state is saved, so a crash in between replays them under the same keys.
func (e *Engine) Record(ctx context.Context, run models.HealthCheckRun, p *Policy, subj Subject) (Transition, error) {
	unlock := e.locks.Lock(run.EnrollmentID)
	defer unlock()

	state, err := e.states.LoadState(ctx, run.EnrollmentID)
	if err != nil {
		return Transition{}, fmt.Errorf("load state %s: %w", run.EnrollmentID, err)
	}
	if run.ExecError == "" && run.Outcome == "" {
		if outcome, err := Classify(run, p); err == nil {
			run.Outcome = outcome
		}
	}
	inserted, err := e.runs.AppendRun(ctx, run)
	if err != nil {
		return Transition{}, fmt.Errorf("append run %s: %w", run.ID, err)
	}
	// A logged run that is not newer than the last applied one has already
	// been folded in, even when it has aged out of ProcessedRunIDs. A newer
	// one was logged but its state never saved, so it is applied again.
	if !inserted && state.LastRunAt != nil && !runTime(run).After(*state.LastRunAt) {
		log.Printf("[ENFORCE] Run %s already recorded for enrollment %s, skipping", run.ID, run.EnrollmentID)
		return Transition{From: state.State, State: state}, nil
	}

	tr, err := Apply(state, run, p, subj)
	if err != nil {
		if errors.Is(err, ErrExecution) {
			log.Printf("[ENFORCE] Enrollment %s run %s not counted: %v", run.EnrollmentID, run.ID, err)
		}
		return tr, err
	}
	if !tr.Changed {
		return tr, nil
	}
	if err := e.commit(ctx, tr); err != nil {
		return tr, err
	}
	if tr.From != tr.State.State {
		log.Printf("[ENFORCE] Enrollment %s %s -> %s (failures=%d, episode=%d)",
			run.EnrollmentID, tr.From, tr.State.State, tr.State.ConsecutiveFailures, tr.State.Episode)
	}
	return tr, nil
}

// Advance lets an elapsed grace period take effect without a new run.
func (e *Engine) Advance(ctx context.Context, enrollmentID string, p *Policy, subj Subject, now time.Time) (Transition, error) {
	unlock := e.locks.Lock(enrollmentID)
	defer unlock()

	state, err := e.states.LoadState(ctx, enrollmentID)
	if err != nil {
		return Transition{}, fmt.Errorf("load state %s: %w", enrollmentID, err)
	}
	tr := Advance(state, p, now, subj)
	if !tr.Changed {
		return tr, nil
	}
	if err := e.commit(ctx, tr); err != nil {
		return tr, err
	}
	log.Printf("[ENFORCE] Enrollment %s %s -> %s after grace period", enrollmentID, tr.From, tr.State.State)
	return tr, nil
}

// State returns the stored state of an enrollment.
func (e *Engine) State(ctx context.Context, enrollmentID string) (models.EnrollmentState, error) {
	return e.states.LoadState(ctx, enrollmentID)
}

// RetryPending re-executes outbox intents that never completed.
func (e *Engine) RetryPending(ctx context.Context, limit int) int {
	pending, err := e.outbox.Pending(ctx, limit)
	if err != nil {
		log.Printf("[ENFORCE] Error listing pending intents: %v", err)
		return 0
	}
	done := 0
	for _, intent := range pending {
		if err := e.executor.Execute(ctx, intent); err != nil {
			log.Printf("[ENFORCE] Intent %s still failing: %v", intent.Key, err)
			continue
		}
		if err := e.outbox.MarkDone(ctx, intent.Key); err != nil {
			log.Printf("[ENFORCE] Error marking intent %s done: %v", intent.Key, err)
			continue
		}
		done++
	}
	return done
}

func (e *Engine) commit(ctx context.Context, tr Transition) error {
	for _, intent := range tr.Intents {
		e.emit(ctx, intent)
	}
	if err := e.states.SaveState(ctx, tr.State); err != nil {
		return fmt.Errorf("save state %s: %w", tr.State.EnrollmentID, err)
	}
	return nil
}

// emit is at-least-once towards the executor and exactly-once per key as
// far as the outbox can tell.
func (e *Engine) emit(ctx context.Context, intent models.Intent) {
	inserted, qerr := e.outbox.Enqueue(ctx, intent)
	if qerr != nil {
		log.Printf("[ENFORCE] Error writing intent %s to outbox: %v", intent.Key, qerr)
	} else if !inserted {
		log.Printf("[ENFORCE] Intent %s already emitted, skipping", intent.Key)
		return
	}

	if err := e.executor.Execute(ctx, intent); err != nil {
		log.Printf("[ENFORCE] Intent %s failed, left pending: %v", intent.Key, err)
		return
	}
	if qerr != nil {
		return
	}
	if err := e.outbox.MarkDone(ctx, intent.Key); err != nil {
		log.Printf("[ENFORCE] Error marking intent %s done: %v", intent.Key, err)
	}
}

// keyedMutex hands out one mutex per key and drops it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*refMutex{}}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
