package v1

import (
	"fmt"
	"strings"
	"time"

	"servicecatalog-cron/models"
)

const (
	maxProcessedRuns = 256
	maxFailureRuns   = 100
)

// Subject identifies what a transition is about, for notification text.
type Subject struct {
	Enrollment  models.Enrollment
	ServiceName string
}

func (s Subject) bindings() TicketBindings {
	return TicketBindings{
		CustomerID:   s.Enrollment.CustomerID,
		CustomerName: s.Enrollment.CustomerName,
		DeviceID:     s.Enrollment.DeviceID,
		DeviceName:   s.Enrollment.DeviceName,
	}
}

// Transition is the result of feeding one event to the state machine.
type Transition struct {
	From    models.HealthState
	State   models.EnrollmentState
	Outcome models.Outcome
	Intents []models.Intent
	Changed bool
}

// NewState returns the initial state of an enrollment.
func NewState(enrollmentID string) models.EnrollmentState {
	return models.EnrollmentState{EnrollmentID: enrollmentID, State: models.Healthy}
}

// Apply folds one run into the enrollment state. A run id that was already
// applied is a no-op, which keeps replays from double-suspending or
// double-notifying. Runs that failed to execute return an *ExecutionError
// and leave the state untouched.
func Apply(state models.EnrollmentState, run models.HealthCheckRun, p *Policy, subj Subject) (Transition, error) {
	if state.State == "" {
		state.State = models.Healthy
	}
	tr := Transition{From: state.State, State: state}
	if containsString(state.ProcessedRunIDs, run.ID) {
		return tr, nil
	}
	if run.ExecError != "" {
		return tr, &ExecutionError{EnrollmentID: state.EnrollmentID, Reason: run.ExecError}
	}
	outcome, err := Classify(run, p)
	if err != nil {
		return tr, err
	}

	at := runTime(run)
	next := cloneState(state)

	// A grace period that ran out before this run arrived still suspends.
	intents := advance(&next, p, at, subj)

	next.ProcessedRunIDs = appendCapped(next.ProcessedRunIDs, run.ID, maxProcessedRuns)
	next.LastRunAt = &at
	next.LastOutcome = outcome
	next.ConsecutiveFailures = foldOutcome(next.ConsecutiveFailures, outcome)

	if outcome == models.Pass {
		intents = append(intents, restore(&next, p, at, subj)...)
	} else {
		next.FailureRunIDs = appendCapped(next.FailureRunIDs, run.ID, maxFailureRuns)
		if next.State == models.Healthy && next.ConsecutiveFailures >= p.failure.ConsecutiveFailuresRequired {
			next.State = models.ThresholdCrossed
			next.ThresholdCrossedAt = &at
			next.Episode++
		}
		intents = append(intents, advance(&next, p, at, subj)...)
	}

	tr.State = next
	tr.Outcome = outcome
	tr.Intents = intents
	tr.Changed = true
	return tr, nil
}

// Advance moves a THRESHOLD_CROSSED enrollment to SUSPENDED once its grace
// period has elapsed at now. Any other state is returned unchanged.
func Advance(state models.EnrollmentState, p *Policy, now time.Time, subj Subject) Transition {
	next := cloneState(state)
	intents := advance(&next, p, now, subj)
	return Transition{
		From:    state.State,
		State:   next,
		Intents: intents,
		Changed: len(intents) > 0 || next.State != state.State,
	}
}

func advance(s *models.EnrollmentState, p *Policy, now time.Time, subj Subject) []models.Intent {
	if s.State != models.ThresholdCrossed || s.ThresholdCrossedAt == nil {
		return nil
	}
	if now.Before(s.ThresholdCrossedAt.Add(p.GracePeriod())) {
		return nil
	}

	s.State = models.Suspended
	s.SuspendedAt = &now
	s.SuspensionCause = append([]string(nil), s.FailureRunIDs...)

	var intents []models.Intent
	if p.failure.SuspendBillingOnFailure {
		s.BillingSuspended = true
		intents = append(intents, newIntent(models.BillingSuspend, *s, subj, now))
	}
	deliveries := buildDeliveries(p, subj, *s, false)
	if len(deliveries) > 0 {
		s.Notified = true
		in := newIntent(models.NotifySuspend, *s, subj, now)
		in.Deliveries = deliveries
		intents = append(intents, in)
	}
	return intents
}

func restore(s *models.EnrollmentState, p *Policy, now time.Time, subj Subject) []models.Intent {
	prev := *s
	s.State = models.Healthy
	s.ConsecutiveFailures = 0
	s.FailureRunIDs = nil
	s.ThresholdCrossedAt = nil
	s.SuspendedAt = nil
	s.BillingSuspended = false
	s.Notified = false

	if prev.State != models.Suspended {
		return nil
	}
	var intents []models.Intent
	if prev.BillingSuspended {
		intents = append(intents, newIntent(models.BillingResume, prev, subj, now))
	}
	if prev.Notified {
		in := newIntent(models.NotifyResolve, prev, subj, now)
		in.Deliveries = buildDeliveries(p, subj, prev, true)
		intents = append(intents, in)
	}
	return intents
}

// IntentKey is the idempotency key of one edge of one failure episode.
func IntentKey(enrollmentID string, kind models.IntentKind, episode int) string {
	return fmt.Sprintf("%s:%s:%d", enrollmentID, kind, episode)
}

func newIntent(kind models.IntentKind, s models.EnrollmentState, subj Subject, at time.Time) models.Intent {
	return models.Intent{
		Key:          IntentKey(s.EnrollmentID, kind, s.Episode),
		Kind:         kind,
		EnrollmentID: s.EnrollmentID,
		ServiceID:    subj.Enrollment.ServiceID,
		Episode:      s.Episode,
		CauseRunIDs:  append([]string(nil), s.SuspensionCause...),
		CreatedAt:    at.UTC(),
	}
}

const (
	suspendSubject = "Health check failing on @deviceName"
	suspendBody    = "Service %s on device @deviceName (@deviceId) for @customerName (@customerId) failed %d consecutive health checks. Billing suspended: %t. Runs: %s"
	resolveSubject = "Health check recovered on @deviceName"
	resolveBody    = "Service %s on device @deviceName (@deviceId) for @customerName (@customerId) is passing again. Billing resumed: %t."
)

// buildDeliveries fans a message out to every configured channel plus the
// always-notified roles and additional recipients. Destinations are unique.
func buildDeliveries(p *Policy, subj Subject, s models.EnrollmentState, resolve bool) []models.Notification {
	b := subj.bindings()
	var subject, body string
	if resolve {
		subject = RenderTicket(resolveSubject, b)
		body = RenderTicket(fmt.Sprintf(resolveBody, subj.ServiceName, s.BillingSuspended), b)
	} else {
		subject = RenderTicket(suspendSubject, b)
		body = RenderTicket(fmt.Sprintf(suspendBody, subj.ServiceName, s.ConsecutiveFailures, s.BillingSuspended, strings.Join(s.SuspensionCause, ",")), b)
	}
	dedup := fmt.Sprintf("%s:%d", s.EnrollmentID, s.Episode)

	n := p.notify
	var out []models.Notification
	seen := map[string]bool{}
	add := func(ch models.Channel, dest string) {
		key := string(ch) + "|" + dest
		if dest == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, models.Notification{
			Channel:     ch,
			Destination: dest,
			Subject:     subject,
			Message:     body,
			DedupKey:    dedup,
			Resolve:     resolve,
		})
	}

	for _, ch := range n.Channels {
		switch ch {
		case models.Email:
			for _, r := range n.EmailRecipients {
				add(models.Email, r)
			}
		case models.Teams:
			add(models.Teams, n.TeamsWebhookURL)
		case models.PagerDuty:
			add(models.PagerDuty, n.PagerDutyKey)
		case models.Ticket:
			add(models.Ticket, n.TicketSystem)
		}
	}
	for _, role := range models.DefaultNotifyRoles {
		add(models.Email, "role:"+role)
	}
	for _, role := range n.Roles {
		add(models.Email, "role:"+role)
	}
	for _, r := range n.AdditionalRecipients {
		add(models.Email, r)
	}
	return out
}

func runTime(run models.HealthCheckRun) time.Time {
	switch {
	case !run.FinishedAt.IsZero():
		return run.FinishedAt.UTC()
	case !run.StartedAt.IsZero():
		return run.StartedAt.UTC()
	default:
		return run.ScheduledAt.UTC()
	}
}

func cloneState(s models.EnrollmentState) models.EnrollmentState {
	s.FailureRunIDs = append([]string(nil), s.FailureRunIDs...)
	s.SuspensionCause = append([]string(nil), s.SuspensionCause...)
	s.ProcessedRunIDs = append([]string(nil), s.ProcessedRunIDs...)
	if s.State == "" {
		s.State = models.Healthy
	}
	return s
}

func appendCapped(list []string, v string, max int) []string {
	list = append(list, v)
	if len(list) > max {
		list = list[len(list)-max:]
	}
	return list
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
