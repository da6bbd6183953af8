package v1

import (
	"errors"
	"testing"
	"time"

	"servicecatalog-cron/models"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func approvedScript(body string) models.Script {
	return models.Script{
		Body:    body,
		Version: 1,
		Approval: &models.ScriptApproval{
			ApprovedBy:  "secops",
			ApprovedAt:  t0,
			ContentHash: HashScript(body),
			Version:     1,
		},
	}
}

func basePolicy() models.HealthCheckPolicy {
	return models.HealthCheckPolicy{
		Enabled: true,
		Targets: []models.OS{models.Linux},
		Scripts: map[models.OS]models.Script{
			models.Linux: approvedScript("test -f /var/run/agent.pid"),
		},
		Schedule: models.Schedule{
			Frequency:      models.Daily,
			TimeOfDay:      "02:00",
			Timezone:       "UTC",
			TimeoutSeconds: 60,
		},
		SuccessExitCodes: []int{0},
		FailurePolicy: models.FailurePolicy{
			ConsecutiveFailuresRequired: 3,
			GracePeriodHours:            0,
			SuspendBillingOnFailure:     true,
		},
		Notify: models.NotificationPolicy{
			Channels:        []models.Channel{models.Email},
			EmailRecipients: []string{"noc@example.com"},
		},
	}
}

func compile(t *testing.T, p models.HealthCheckPolicy) *Policy {
	t.Helper()
	out, err := CompilePolicy("svc-1", p, t0)
	require.NoError(t, err)
	return out
}

func withFailure(consecutive, graceHours int) models.HealthCheckPolicy {
	p := basePolicy()
	p.FailurePolicy.ConsecutiveFailuresRequired = consecutive
	p.FailurePolicy.GracePeriodHours = graceHours
	return p
}

// exitRun is a completed run that finished at at with code.
func exitRun(id string, code int, at time.Time) models.HealthCheckRun {
	return models.HealthCheckRun{
		ID:           id,
		EnrollmentID: "enr-1",
		ServiceID:    "svc-1",
		ScheduledAt:  at.Add(-time.Second),
		StartedAt:    at.Add(-time.Second),
		FinishedAt:   at,
		ExitCode:     &code,
		Completed:    true,
	}
}

func testSubject() Subject {
	return Subject{
		ServiceName: "Managed Backup",
		Enrollment: models.Enrollment{
			ID:           "enr-1",
			ServiceID:    "svc-1",
			CustomerID:   "cust-1",
			CustomerName: "Acme",
			DeviceID:     "dev-9",
			DeviceName:   "web-01",
			OS:           models.Linux,
		},
	}
}

func intentKinds(intents []models.Intent) []models.IntentKind {
	kinds := make([]models.IntentKind, 0, len(intents))
	for _, in := range intents {
		kinds = append(kinds, in.Kind)
	}
	return kinds
}

func fieldNames(t *testing.T, err error) []string {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected *ValidationError, got %v", err)
	names := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		names = append(names, f.Field)
	}
	return names
}
