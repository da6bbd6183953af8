package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"servicecatalog-cron/models"
	v1 "servicecatalog-cron/services/v1"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type exitExecutor struct{ code int }

func (x exitExecutor) Execute(_ context.Context, _ v1.ScriptRequest) (v1.ScriptResult, error) {
	return v1.ScriptResult{Completed: true, ExitCode: x.code}, nil
}

func newTestRouter(t *testing.T, exitCode int) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := v1.NewMemoryStore()
	c := v1.NewCatalog(store, store)
	engine := v1.NewEngine(store, store, store, v1.NewIntentRouter(v1.NewMemoryBilling(), noopNotifier{}, store, nil))
	scheduler := v1.NewScheduler(c, engine, exitExecutor{code: exitCode}, store, v1.SchedulerConfig{})

	r := gin.New()
	NewHandler(c, scheduler, store).Register(r.Group("/api/v1"))
	return r
}

type noopNotifier struct{}

func (noopNotifier) Enqueue(context.Context, models.Notification) error { return nil }

func do(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

func serviceBody() map[string]interface{} {
	return map[string]interface{}{
		"name":     "Managed Backup",
		"category": "backup",
		"tag":      "managed-backup",
		"billing":  map[string]interface{}{"unit": "device", "unitCost": 12.5, "code": "MB-01"},
		"healthCheck": map[string]interface{}{
			"enabled": true,
			"targets": []string{"linux"},
			"scripts": map[string]interface{}{
				"linux": map[string]interface{}{"body": "test -f /var/backup/last.ok"},
			},
			"schedule": map[string]interface{}{
				"frequency":      "daily",
				"timeOfDay":      "02:00",
				"timezone":       "UTC",
				"timeoutSeconds": 60,
			},
			"successExitCodes": []int{0},
			"failurePolicy": map[string]interface{}{
				"consecutiveFailuresRequired": 1,
				"gracePeriodHours":            0,
				"suspendBillingOnFailure":     true,
			},
			"notify": map[string]interface{}{
				"channels":        []string{"email"},
				"emailRecipients": []string{"noc@example.com"},
			},
		},
	}
}

// activate walks a service through submit, approve and activate.
func activate(t *testing.T, r http.Handler) models.ServiceDefinition {
	t.Helper()
	w := do(t, r, http.MethodPost, "/api/v1/services", serviceBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var def models.ServiceDefinition
	decode(t, w, &def)

	w = do(t, r, http.MethodPost, "/api/v1/services/"+def.ID+"/scripts/linux/approve", map[string]string{"approver": "secops"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, r, http.MethodPost, "/api/v1/services/"+def.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &def)
	return def
}

func TestServiceLifecycle(t *testing.T) {
	r := newTestRouter(t, 0)

	w := do(t, r, http.MethodPost, "/api/v1/services", serviceBody())
	require.Equal(t, http.StatusCreated, w.Code)
	var def models.ServiceDefinition
	decode(t, w, &def)
	assert.Equal(t, models.ServicePending, def.Status)

	w = do(t, r, http.MethodPost, "/api/v1/services/"+def.ID+"/activate", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "scripts.linux.approval")

	active := activate(t, r)
	assert.Equal(t, models.ServiceActive, active.Status)

	w = do(t, r, http.MethodGet, "/api/v1/services", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.ServiceDefinition
	decode(t, w, &list)
	assert.Len(t, list, 2)

	w = do(t, r, http.MethodGet, "/api/v1/services/"+active.ID+"/next-run?after=2024-01-01T03:00:00Z", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var next struct {
		Next string `json:"next"`
	}
	decode(t, w, &next)
	assert.Equal(t, "2024-01-02T02:00:00Z", next.Next)

	w = do(t, r, http.MethodGet, "/api/v1/services/"+active.ID+"/next-run?after=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPut, "/api/v1/services/"+active.ID+"/scripts/linux", map[string]string{"body": "exit 0"})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &def)
	assert.Equal(t, 2, def.HealthCheck.Scripts[models.Linux].Version)
	assert.Nil(t, def.HealthCheck.Scripts[models.Linux].Approval)
}

func TestSubmitValidation(t *testing.T) {
	r := newTestRouter(t, 0)

	body := serviceBody()
	body["name"] = ""
	w := do(t, r, http.MethodPost, "/api/v1/services", body)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp struct {
		Fields []v1.FieldError `json:"fields"`
	}
	decode(t, w, &resp)
	require.NotEmpty(t, resp.Fields)
	assert.Equal(t, "name", resp.Fields[0].Field)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/services", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	w = do(t, r, http.MethodGet, "/api/v1/services/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEnrollAndRun(t *testing.T) {
	r := newTestRouter(t, 2)
	def := activate(t, r)

	w := do(t, r, http.MethodPost, "/api/v1/services/"+def.ID+"/enrollments", map[string]string{
		"customerId":   "cust-1",
		"customerName": "Acme",
		"deviceId":     "dev-1",
		"deviceName":   "web-01",
		"os":           "linux",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var e models.Enrollment
	decode(t, w, &e)
	assert.Equal(t, def.ID, e.ServiceID)

	w = do(t, r, http.MethodGet, "/api/v1/services/"+def.ID+"/enrollments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.Enrollment
	decode(t, w, &list)
	assert.Len(t, list, 1)

	w = do(t, r, http.MethodPost, "/api/v1/enrollments/"+e.ID+"/run", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var run struct {
		Run     models.HealthCheckRun  `json:"run"`
		State   models.EnrollmentState `json:"state"`
		Intents []models.Intent        `json:"intents"`
	}
	decode(t, w, &run)
	assert.Equal(t, models.Fail, run.Run.Outcome)
	assert.Equal(t, models.Suspended, run.State.State)
	assert.Len(t, run.Intents, 2)

	w = do(t, r, http.MethodGet, "/api/v1/enrollments/"+e.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report v1.EnrollmentReport
	decode(t, w, &report)
	assert.Equal(t, models.Suspended, report.State.State)
	require.Len(t, report.CauseRuns, 1)
	assert.Equal(t, run.Run.ID, report.CauseRuns[0].ID)

	date := run.Run.FinishedAt.UTC().Format("2006-01-02")
	w = do(t, r, http.MethodGet, "/api/v1/enrollments/"+e.ID+"/metrics?date="+date, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var metrics struct {
		Counts map[string]int64 `json:"counts"`
	}
	decode(t, w, &metrics)
	assert.Equal(t, int64(1), metrics.Counts["FAIL"])

	w = do(t, r, http.MethodGet, "/api/v1/enrollments/"+e.ID+"/metrics?date=01-02-2024", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/api/v1/services/"+def.ID+"/enrollments", map[string]string{"os": "linux"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestPreviewTicket(t *testing.T) {
	r := newTestRouter(t, 0)

	w := do(t, r, http.MethodPost, "/api/v1/tickets/preview", map[string]interface{}{
		"template": "Device @deviceName (ID: @deviceId) for @customerName",
		"bindings": map[string]string{"deviceName": "web-01", "deviceId": "dev-9", "customerName": "Acme"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Rendered string   `json:"rendered"`
		Tokens   []string `json:"tokens"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "Device web-01 (ID: dev-9) for Acme", resp.Rendered)
	assert.Len(t, resp.Tokens, 4)

	w = do(t, r, http.MethodPost, "/api/v1/tickets/preview", map[string]string{"template": "@deviceName"})
	decode(t, w, &resp)
	assert.Equal(t, "[Device Name]", resp.Rendered)
}
