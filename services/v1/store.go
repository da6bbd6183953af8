package v1

import (
	"context"

	"servicecatalog-cron/models"
)

// CatalogStore persists service definitions and enrollments.
type CatalogStore interface {
	SaveService(ctx context.Context, def models.ServiceDefinition) error
	GetService(ctx context.Context, id string) (models.ServiceDefinition, error)
	ListServices(ctx context.Context) ([]models.ServiceDefinition, error)
	SaveEnrollment(ctx context.Context, e models.Enrollment) error
	GetEnrollment(ctx context.Context, id string) (models.Enrollment, error)
	ListEnrollments(ctx context.Context, serviceID string) ([]models.Enrollment, error)
}

// StateStore persists per-enrollment enforcement state. LoadState returns
// a fresh HEALTHY state for enrollments that have none yet.
type StateStore interface {
	LoadState(ctx context.Context, enrollmentID string) (models.EnrollmentState, error)
	SaveState(ctx context.Context, state models.EnrollmentState) error
}

// RunLog is the append-only log of health check runs. AppendRun ignores
// a run id it already holds and reports false for it.
type RunLog interface {
	AppendRun(ctx context.Context, run models.HealthCheckRun) (bool, error)
	GetRuns(ctx context.Context, ids []string) ([]models.HealthCheckRun, error)
	RecentRuns(ctx context.Context, enrollmentID string, limit int) ([]models.HealthCheckRun, error)
}

// Outbox records intents before they are executed. Enqueue reports false
// when the key is already present.
type Outbox interface {
	Enqueue(ctx context.Context, intent models.Intent) (bool, error)
	MarkDone(ctx context.Context, key string) error
	Pending(ctx context.Context, limit int) ([]models.Intent, error)
}

// DeliveryLog remembers which deliveries of a notification intent were
// handed to the notifier, so a retried intent only sends the rest.
type DeliveryLog interface {
	Delivered(ctx context.Context, key string) (bool, error)
	MarkDelivered(ctx context.Context, key string) error
}

// RunMetrics keeps per-day outcome counters for dashboards.
type RunMetrics interface {
	RecordRun(ctx context.Context, run models.HealthCheckRun) error
	DailyCounts(ctx context.Context, enrollmentID, date string) (map[string]int64, error)
}

// Store bundles the hot-state interfaces a backend provides.
type Store interface {
	CatalogStore
	StateStore
	RunMetrics
}
