package v1

import (
	"context"
	"os"
	"testing"

	"servicecatalog-cron/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRedisStore connects to TEST_REDIS_URI. Keys are namespaced by random
// ids, so the database is never flushed.
func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	uri := os.Getenv("TEST_REDIS_URI")
	if uri == "" {
		t.Skip("TEST_REDIS_URI not set")
	}
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return NewRedisStore(rdb)
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	store := newRedisStore(t)

	hc := basePolicy()
	svcID := "svc-" + uuid.NewString()
	def := models.ServiceDefinition{ID: svcID, Name: "Managed Backup", Tag: "managed-backup", Status: models.ServiceActive, SubmittedAt: t0, HealthCheck: &hc}
	require.NoError(t, store.SaveService(ctx, def))

	got, err := store.GetService(ctx, svcID)
	require.NoError(t, err)
	assert.Equal(t, def.Name, got.Name)
	assert.Equal(t, models.ServiceActive, got.Status)
	assert.Equal(t, hc.Scripts[models.Linux].Approval.ContentHash, got.HealthCheck.Scripts[models.Linux].Approval.ContentHash)

	_, err = store.GetService(ctx, "svc-"+uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)

	e := models.Enrollment{ID: "enr-" + uuid.NewString(), ServiceID: svcID, CustomerID: "cust-1", DeviceID: "dev-1", DeviceName: "web-01", OS: models.Linux, EnrolledAt: t0}
	require.NoError(t, store.SaveEnrollment(ctx, e))
	list, err := store.ListEnrollments(ctx, svcID)
	require.NoError(t, err)
	assert.Equal(t, []models.Enrollment{e}, list)

	state, err := store.LoadState(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Healthy, state.State)

	state.State = models.Suspended
	state.Episode = 2
	state.SuspensionCause = []string{"run-1", "run-2"}
	require.NoError(t, store.SaveState(ctx, state))
	loaded, err := store.LoadState(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Suspended, loaded.State)
	assert.Equal(t, 2, loaded.Episode)
	assert.Equal(t, []string{"run-1", "run-2"}, loaded.SuspensionCause)

	run := exitRun("run-1", 1, t0)
	run.EnrollmentID = e.ID
	run.Outcome = models.Fail
	require.NoError(t, store.RecordRun(ctx, run))
	counts, err := store.DailyCounts(ctx, e.ID, "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["total_checks"])
	assert.Equal(t, int64(1), counts["FAIL"])
}
