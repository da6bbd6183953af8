package v1

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"servicecatalog-cron/models"

	"github.com/robfig/cron/v3"
)

// Policy is a validated, frozen HealthCheckPolicy. It is safe to share
// between goroutines; accessors return copies.
type Policy struct {
	serviceID   string
	enabled     bool
	targets     []models.OS
	scripts     map[models.OS]frozenScript
	schedule    models.Schedule
	location    *time.Location
	recurrence  cron.Schedule
	timeout     time.Duration
	successSet  map[int]struct{}
	failure     models.FailurePolicy
	notify      models.NotificationPolicy
	activatedAt time.Time
}

type frozenScript struct {
	version int
	hash    string
}

// HashScript returns the hex sha256 of a script body.
func HashScript(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// ValidatePolicy checks the authored policy without requiring approvals.
// It is used when a service is submitted and scripts are still pending review.
func ValidatePolicy(p models.HealthCheckPolicy) error {
	verr := &ValidationError{}
	validateStructure(p, verr)
	return verr.orNil()
}

// CompilePolicy validates p, requires every target script to be approved
// for its current body, and freezes the result.
func CompilePolicy(serviceID string, p models.HealthCheckPolicy, activatedAt time.Time) (*Policy, error) {
	verr := &ValidationError{}
	loc, recurrence := validateStructure(p, verr)

	for _, target := range p.Targets {
		script, ok := p.Scripts[target]
		if !ok {
			continue // reported by validateStructure
		}
		field := fmt.Sprintf("scripts.%s.approval", target)
		switch {
		case script.Approval == nil:
			verr.add(field, "script for %s is not approved", target)
		case script.Approval.ContentHash != HashScript(script.Body):
			verr.add(field, "script for %s changed since approval and must be re-approved", target)
		case script.Approval.Version != script.Version:
			verr.add(field, "approval covers version %d, script is at version %d", script.Approval.Version, script.Version)
		}
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	out := &Policy{
		serviceID:   serviceID,
		enabled:     p.Enabled,
		targets:     append([]models.OS(nil), p.Targets...),
		scripts:     make(map[models.OS]frozenScript, len(p.Targets)),
		schedule:    p.Schedule,
		location:    loc,
		recurrence:  recurrence,
		timeout:     time.Duration(p.Schedule.TimeoutSeconds) * time.Second,
		successSet:  make(map[int]struct{}, len(p.SuccessExitCodes)),
		failure:     p.FailurePolicy,
		notify:      copyNotify(p.Notify),
		activatedAt: activatedAt.UTC(),
	}
	for _, target := range p.Targets {
		s := p.Scripts[target]
		out.scripts[target] = frozenScript{version: s.Version, hash: HashScript(s.Body)}
	}
	for _, code := range p.SuccessExitCodes {
		out.successSet[code] = struct{}{}
	}
	return out, nil
}

func validateStructure(p models.HealthCheckPolicy, verr *ValidationError) (*time.Location, cron.Schedule) {
	if len(p.Targets) == 0 {
		verr.add("targets", "at least one target OS is required")
	}
	seen := map[models.OS]bool{}
	for _, target := range p.Targets {
		if target != models.Linux && target != models.Windows {
			verr.add("targets", "unsupported OS %q", target)
			continue
		}
		if seen[target] {
			verr.add("targets", "duplicate OS %q", target)
		}
		seen[target] = true
		script, ok := p.Scripts[target]
		if !ok || strings.TrimSpace(script.Body) == "" {
			verr.add(fmt.Sprintf("scripts.%s", target), "target %s has no script", target)
		} else if script.Version < 1 {
			verr.add(fmt.Sprintf("scripts.%s.version", target), "version must be >= 1")
		}
	}

	if len(p.SuccessExitCodes) == 0 {
		verr.add("successExitCodes", "at least one success exit code is required")
	}
	if p.Schedule.TimeoutSeconds <= 0 {
		verr.add("schedule.timeoutSeconds", "must be greater than 0")
	}
	if p.FailurePolicy.ConsecutiveFailuresRequired < 1 {
		verr.add("failurePolicy.consecutiveFailuresRequired", "must be at least 1")
	}
	if p.FailurePolicy.GracePeriodHours < 0 {
		verr.add("failurePolicy.gracePeriodHours", "must not be negative")
	}

	validateNotify(p.Notify, verr)
	return compileSchedule(p.Schedule, verr)
}

func validateNotify(n models.NotificationPolicy, verr *ValidationError) {
	for _, ch := range n.Channels {
		switch ch {
		case models.Email:
			if len(nonEmpty(n.EmailRecipients)) == 0 {
				verr.add("notify.emailRecipients", "email channel requires at least one recipient")
			}
		case models.Teams:
			if strings.TrimSpace(n.TeamsWebhookURL) == "" {
				verr.add("notify.teamsWebhookUrl", "teams channel requires a webhook URL")
			}
		case models.PagerDuty:
			if strings.TrimSpace(n.PagerDutyKey) == "" {
				verr.add("notify.pagerDutyKey", "pagerduty channel requires an integration key")
			}
		case models.Ticket:
			if strings.TrimSpace(n.TicketSystem) == "" {
				verr.add("notify.ticketSystem", "ticket channel requires a ticket system")
			}
		default:
			verr.add("notify.channels", "unsupported channel %q", ch)
		}
	}
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func copyNotify(n models.NotificationPolicy) models.NotificationPolicy {
	n.Channels = append([]models.Channel(nil), n.Channels...)
	n.EmailRecipients = nonEmpty(n.EmailRecipients)
	n.Roles = nonEmpty(n.Roles)
	n.AdditionalRecipients = nonEmpty(n.AdditionalRecipients)
	return n
}

func (p *Policy) ServiceID() string { return p.serviceID }
func (p *Policy) Enabled() bool { return p.enabled }
func (p *Policy) Timeout() time.Duration { return p.timeout }
func (p *Policy) ActivatedAt() time.Time { return p.activatedAt }
func (p *Policy) Location() *time.Location { return p.location }
func (p *Policy) Schedule() models.Schedule { return p.schedule }

func (p *Policy) Failure() models.FailurePolicy { return p.failure }

func (p *Policy) GracePeriod() time.Duration {
	return time.Duration(p.failure.GracePeriodHours) * time.Hour
}

func (p *Policy) Targets() []models.OS {
	return append([]models.OS(nil), p.targets...)
}

func (p *Policy) HasTarget(os models.OS) bool {
	_, ok := p.scripts[os]
	return ok
}

// ScriptHash returns the approved content hash for os, or "" if os is not a target.
func (p *Policy) ScriptHash(os models.OS) string {
	return p.scripts[os].hash
}

func (p *Policy) ScriptVersion(os models.OS) int {
	return p.scripts[os].version
}

// SuccessExitCodes returns the success set in ascending order.
func (p *Policy) SuccessExitCodes() []int {
	codes := make([]int, 0, len(p.successSet))
	for c := range p.successSet {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	return codes
}

func (p *Policy) IsSuccess(code int) bool {
	_, ok := p.successSet[code]
	return ok
}

func (p *Policy) Notify() models.NotificationPolicy {
	return copyNotify(p.notify)
}
