package v1

import (
	"testing"

	"servicecatalog-cron/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompilePolicy(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		p := compile(t, basePolicy())
		assert.Equal(t, "svc-1", p.ServiceID())
		assert.True(t, p.Enabled())
		assert.Equal(t, []models.OS{models.Linux}, p.Targets())
		assert.True(t, p.HasTarget(models.Linux))
		assert.False(t, p.HasTarget(models.Windows))
		assert.Equal(t, HashScript("test -f /var/run/agent.pid"), p.ScriptHash(models.Linux))
		assert.Equal(t, 1, p.ScriptVersion(models.Linux))
		assert.Equal(t, 60, int(p.Timeout().Seconds()))
	})

	t.Run("structural_errors_are_all_reported", func(t *testing.T) {
		p := basePolicy()
		p.Schedule.TimeoutSeconds = 0
		p.SuccessExitCodes = nil
		p.FailurePolicy.ConsecutiveFailuresRequired = 0
		p.FailurePolicy.GracePeriodHours = -1
		p.Notify.EmailRecipients = []string{"  "}

		_, err := CompilePolicy("svc-1", p, t0)
		require.ErrorIs(t, err, ErrValidation)
		assert.ElementsMatch(t, []string{
			"successExitCodes",
			"schedule.timeoutSeconds",
			"failurePolicy.consecutiveFailuresRequired",
			"failurePolicy.gracePeriodHours",
			"notify.emailRecipients",
		}, fieldNames(t, err))
	})

	t.Run("targets", func(t *testing.T) {
		p := basePolicy()
		p.Targets = nil
		_, err := CompilePolicy("svc-1", p, t0)
		assert.Contains(t, fieldNames(t, err), "targets")

		p = basePolicy()
		p.Targets = []models.OS{models.Linux, "macos"}
		_, err = CompilePolicy("svc-1", p, t0)
		assert.Contains(t, fieldNames(t, err), "targets")

		p = basePolicy()
		p.Targets = []models.OS{models.Linux, models.Windows}
		_, err = CompilePolicy("svc-1", p, t0)
		assert.Contains(t, fieldNames(t, err), "scripts.windows")
	})

	t.Run("notify_destinations", func(t *testing.T) {
		p := basePolicy()
		p.Notify = models.NotificationPolicy{
			Channels: []models.Channel{models.Teams, models.PagerDuty, models.Ticket, "sms"},
		}
		_, err := CompilePolicy("svc-1", p, t0)
		assert.ElementsMatch(t, []string{
			"notify.teamsWebhookUrl",
			"notify.pagerDutyKey",
			"notify.ticketSystem",
			"notify.channels",
		}, fieldNames(t, err))
	})

	t.Run("unapproved_script", func(t *testing.T) {
		p := basePolicy()
		s := p.Scripts[models.Linux]
		s.Approval = nil
		p.Scripts[models.Linux] = s

		_, err := CompilePolicy("svc-1", p, t0)
		assert.Equal(t, []string{"scripts.linux.approval"}, fieldNames(t, err))
		assert.NoError(t, ValidatePolicy(p))
	})

	t.Run("script_changed_after_approval", func(t *testing.T) {
		p := basePolicy()
		s := p.Scripts[models.Linux]
		s.Body = "exit 0"
		p.Scripts[models.Linux] = s

		_, err := CompilePolicy("svc-1", p, t0)
		assert.Equal(t, []string{"scripts.linux.approval"}, fieldNames(t, err))
	})

	t.Run("approval_for_older_version", func(t *testing.T) {
		p := basePolicy()
		s := p.Scripts[models.Linux]
		s.Version = 2
		p.Scripts[models.Linux] = s

		_, err := CompilePolicy("svc-1", p, t0)
		assert.Equal(t, []string{"scripts.linux.approval"}, fieldNames(t, err))
	})

	t.Run("frozen_against_caller_mutation", func(t *testing.T) {
		src := basePolicy()
		src.SuccessExitCodes = []int{0, 3}
		p := compile(t, src)

		src.SuccessExitCodes[0] = 42
		src.Targets[0] = models.Windows
		src.Notify.EmailRecipients[0] = "changed@example.com"

		assert.Equal(t, []int{0, 3}, p.SuccessExitCodes())
		assert.Equal(t, []models.OS{models.Linux}, p.Targets())
		assert.Equal(t, []string{"noc@example.com"}, p.Notify().EmailRecipients)
	})
}

func TestHashScript(t *testing.T) {
	assert.Equal(t, HashScript("exit 0"), HashScript("exit 0"))
	assert.NotEqual(t, HashScript("exit 0"), HashScript("exit 0\n"))
	assert.Len(t, HashScript(""), 64)
}
