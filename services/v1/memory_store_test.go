package v1

import (
	"context"
	"testing"

	"servicecatalog-cron/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreCopiesDefinitions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	hc := basePolicy()
	def := models.ServiceDefinition{ID: "svc-1", Name: "Backup", HealthCheck: &hc}
	require.NoError(t, store.SaveService(ctx, def))

	hc.Scripts[models.Linux] = models.Script{Body: "tampered"}
	got, err := store.GetService(ctx, "svc-1")
	require.NoError(t, err)
	assert.Equal(t, "test -f /var/run/agent.pid", got.HealthCheck.Scripts[models.Linux].Body)

	got.HealthCheck.Scripts[models.Linux].Approval.ContentHash = "forged"
	again, err := store.GetService(ctx, "svc-1")
	require.NoError(t, err)
	assert.Equal(t, HashScript("test -f /var/run/agent.pid"), again.HealthCheck.Scripts[models.Linux].Approval.ContentHash)

	_, err = store.GetService(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreRuns(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, run := range []models.HealthCheckRun{exitRun("run-1", 0, t0), exitRun("run-2", 1, t0)} {
		inserted, err := store.AppendRun(ctx, run)
		require.NoError(t, err)
		assert.True(t, inserted)
	}
	inserted, err := store.AppendRun(ctx, exitRun("run-1", 7, t0))
	require.NoError(t, err)
	assert.False(t, inserted)

	runs, err := store.GetRuns(ctx, []string{"run-2", "run-1", "missing"})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, 0, *runs[1].ExitCode, "append ignores a known run id")

	recent, err := store.RecentRuns(ctx, "enr-1", 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "run-2", recent[0].ID)
}

func TestMemoryStoreOutbox(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	in := models.Intent{Key: "k1", Kind: models.BillingSuspend}
	inserted, err := store.Enqueue(ctx, in)
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = store.Enqueue(ctx, in)
	require.NoError(t, err)
	assert.False(t, inserted)

	_, _ = store.Enqueue(ctx, models.Intent{Key: "k2", Kind: models.NotifySuspend})
	pending, err := store.Pending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "k1", pending[0].Key)

	require.NoError(t, store.MarkDone(ctx, "k1"))
	pending, err = store.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "k2", pending[0].Key)
}

func TestMemoryStoreMetrics(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	pass := exitRun("run-1", 0, t0)
	pass.Outcome = models.Pass
	fail := exitRun("run-2", 1, t0)
	fail.Outcome = models.Fail
	broken := models.HealthCheckRun{ID: "run-3", EnrollmentID: "enr-1", ScheduledAt: t0, ExecError: "boom"}

	for _, run := range []models.HealthCheckRun{pass, fail, broken} {
		require.NoError(t, store.RecordRun(ctx, run))
	}

	counts, err := store.DailyCounts(ctx, "enr-1", "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{
		"total_checks":    3,
		"PASS":            1,
		"FAIL":            1,
		"execution_error": 1,
	}, counts)

	empty, err := store.DailyCounts(ctx, "enr-1", "2024-01-02")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
