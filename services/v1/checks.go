package v1

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"servicecatalog-cron/models"

	"github.com/google/uuid"
)

// CheckNow runs the health check of one enrollment immediately, outside
// its schedule.
func (s *Scheduler) CheckNow(ctx context.Context, enrollmentID string) (models.HealthCheckRun, Transition, error) {
	e, err := s.catalog.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return models.HealthCheckRun{}, Transition{}, err
	}
	p, err := s.catalog.Policy(ctx, e.ServiceID)
	if err != nil {
		return models.HealthCheckRun{}, Transition{}, err
	}
	if p == nil {
		return models.HealthCheckRun{}, Transition{}, fmt.Errorf("service %s has no health check: %w", e.ServiceID, ErrNotFound)
	}
	t := checkTask{enrollment: e, policy: p, scheduledAt: s.now().UTC()}
	return s.check(ctx, t)
}

func (s *Scheduler) runCheck(ctx context.Context, t checkTask) (Transition, error) {
	_, tr, err := s.check(ctx, t)
	return tr, err
}

// check executes the approved script for one enrollment and feeds the run
// to the engine. Unapproved or tampered scripts are never executed.
func (s *Scheduler) check(ctx context.Context, t checkTask) (models.HealthCheckRun, Transition, error) {
	e := t.enrollment
	run := models.HealthCheckRun{
		ID:           uuid.NewString(),
		EnrollmentID: e.ID,
		ServiceID:    e.ServiceID,
		ScheduledAt:  t.scheduledAt,
	}

	body, hash, err := s.approvals.ApprovedScript(ctx, e.ServiceID, e.OS)
	switch {
	case err != nil:
		run.ExecError = err.Error()
	case hash != t.policy.ScriptHash(e.OS):
		run.ExecError = fmt.Sprintf("approved script %s does not match active policy %s", hash, t.policy.ScriptHash(e.OS))
	}

	if run.ExecError == "" {
		run.ScriptHash = hash
		run.StartedAt = s.now().UTC()
		res, err := s.execute(ctx, ScriptRequest{
			EnrollmentID: e.ID,
			Body:         body,
			OS:           e.OS,
			Timeout:      t.policy.Timeout(),
		})
		run.FinishedAt = s.now().UTC()
		if err != nil {
			run.ExecError = err.Error()
		} else {
			run.Completed = res.Completed
			if res.Completed {
				code := res.ExitCode
				run.ExitCode = &code
			}
			run.LogExcerpt = truncateExcerpt(res.Log, s.cfg.LogExcerptBytes)
		}
	}

	tr, err := s.engine.Record(ctx, run, t.policy, s.catalog.Subject(ctx, e))
	run.Outcome = tr.Outcome
	if s.metrics != nil {
		if merr := s.metrics.RecordRun(ctx, run); merr != nil {
			log.Printf("[REDIS] Error recording metrics for enrollment %s: %v", e.ID, merr)
		}
	}
	if err != nil {
		return run, tr, err
	}
	log.Printf("[HEALTH] Enrollment %s (device %s) check completed with %s, state %s", e.ID, e.DeviceName, tr.Outcome, tr.State.State)
	return run, tr, nil
}

// execute runs the script under the policy deadline. The deadline is
// enforced here too, so an executor that ignores ctx cannot hold a worker
// past the timeout.
func (s *Scheduler) execute(ctx context.Context, req ScriptRequest) (ScriptResult, error) {
	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	type result struct {
		res ScriptResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := s.executor.Execute(ctx, req)
		done <- result{res: res, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ScriptResult{Completed: false, Log: fmt.Sprintf("timed out after %s", req.Timeout)}, nil
		}
		return r.res, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ScriptResult{Completed: false, Log: fmt.Sprintf("timed out after %s", req.Timeout)}, nil
		}
		return ScriptResult{}, &ExecutionError{EnrollmentID: req.EnrollmentID, Reason: "cancelled", Err: ctx.Err()}
	}
}

// SetClock replaces the scheduler's time source.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}
