package models

import "time"

// OS is a health-check target platform.
type OS string

const (
	Linux   OS = "linux"
	Windows OS = "windows"
)

type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Custom  Frequency = "custom"
)

type Channel string

const (
	Email     Channel = "email"
	Teams     Channel = "teams"
	PagerDuty Channel = "pagerduty"
	Ticket    Channel = "ticket"
)

// HealthCheckPolicy is the policy as authored. It is validated and frozen
// into a services/v1 Policy before anything is scheduled against it.
type HealthCheckPolicy struct {
	Enabled          bool               `json:"enabled" yaml:"enabled"`
	Targets          []OS               `json:"targets" yaml:"targets"`
	Scripts          map[OS]Script      `json:"scripts" yaml:"scripts"`
	Schedule         Schedule           `json:"schedule" yaml:"schedule"`
	SuccessExitCodes []int              `json:"successExitCodes" yaml:"success_exit_codes"`
	FailurePolicy    FailurePolicy      `json:"failurePolicy" yaml:"failure_policy"`
	Notify           NotificationPolicy `json:"notify" yaml:"notify"`
}

type Script struct {
	Body     string          `json:"body" yaml:"body"`
	Version  int             `json:"version" yaml:"version"`
	Approval *ScriptApproval `json:"approval,omitempty" yaml:"approval"`
}

// ScriptApproval pins an approval to the sha256 of the body that was reviewed.
type ScriptApproval struct {
	ApprovedBy  string    `json:"approvedBy" yaml:"approved_by"`
	ApprovedAt  time.Time `json:"approvedAt" yaml:"approved_at"`
	ContentHash string    `json:"contentHash" yaml:"content_hash"`
	Version     int       `json:"version" yaml:"version"`
}

type Schedule struct {
	Frequency      Frequency `json:"frequency" yaml:"frequency"`
	TimeOfDay      string    `json:"timeOfDay" yaml:"time_of_day"`
	Timezone       string    `json:"timezone" yaml:"timezone"`
	DayOfMonth     int       `json:"dayOfMonth,omitempty" yaml:"day_of_month"`
	DayOfWeek      int       `json:"dayOfWeek,omitempty" yaml:"day_of_week"`
	Expression     string    `json:"expression,omitempty" yaml:"expression"`
	TimeoutSeconds int       `json:"timeoutSeconds" yaml:"timeout_seconds"`
}

type FailurePolicy struct {
	ConsecutiveFailuresRequired int  `json:"consecutiveFailuresRequired" yaml:"consecutive_failures_required"`
	GracePeriodHours            int  `json:"gracePeriodHours" yaml:"grace_period_hours"`
	SuspendBillingOnFailure     bool `json:"suspendBillingOnFailure" yaml:"suspend_billing_on_failure"`
}

type NotificationPolicy struct {
	Channels             []Channel `json:"channels" yaml:"channels"`
	EmailRecipients      []string  `json:"emailRecipients,omitempty" yaml:"email_recipients"`
	TeamsWebhookURL      string    `json:"teamsWebhookUrl,omitempty" yaml:"teams_webhook_url"`
	PagerDutyKey         string    `json:"pagerDutyKey,omitempty" yaml:"pagerduty_key"`
	TicketSystem         string    `json:"ticketSystem,omitempty" yaml:"ticket_system"`
	Roles                []string  `json:"roles,omitempty" yaml:"roles"`
	AdditionalRecipients []string  `json:"additionalRecipients,omitempty" yaml:"additional_recipients"`
}

// DefaultNotifyRoles are always notified on suspension and resolution.
var DefaultNotifyRoles = []string{"service-owner", "account-manager"}
