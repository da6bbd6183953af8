package v1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"servicecatalog-cron/models"

	"github.com/go-redis/redis/v8"
)

const (
	servicesKey    = "services:ids"
	enrollmentsKey = "enrollments:ids"
	historyLimit   = 1000
)

// RedisStore keeps service definitions, enrollments, enforcement state and
// daily run metrics in Redis.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func serviceKey(id string) string { return fmt.Sprintf("service:%s", id) }
func serviceEnrollmentsKey(id string) string { return fmt.Sprintf("service:%s:enrollments", id) }
func enrollmentKey(id string) string { return fmt.Sprintf("enrollment:%s", id) }
func stateKey(id string) string { return fmt.Sprintf("enrollment:%s:state", id) }
func historyKey(id string) string { return fmt.Sprintf("enrollment:%s:history", id) }

func (r *RedisStore) SaveService(ctx context.Context, def models.ServiceDefinition) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode service %s: %w", def.ID, err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, serviceKey(def.ID), map[string]interface{}{
		"id":           def.ID,
		"name":         def.Name,
		"category":     def.Category,
		"tag":          def.Tag,
		"status":       string(def.Status),
		"submitted_at": def.SubmittedAt.Format(time.RFC3339),
		"definition":   string(raw),
	})
	pipe.SAdd(ctx, servicesKey, def.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) GetService(ctx context.Context, id string) (models.ServiceDefinition, error) {
	data, err := r.rdb.HGetAll(ctx, serviceKey(id)).Result()
	if err != nil {
		return models.ServiceDefinition{}, err
	}
	if len(data) == 0 {
		return models.ServiceDefinition{}, fmt.Errorf("service %s: %w", id, ErrNotFound)
	}
	return mapToService(data)
}

// ListServices fetches every service hash in one pipeline round-trip.
func (r *RedisStore) ListServices(ctx context.Context) ([]models.ServiceDefinition, error) {
	ids, err := r.rdb.SMembers(ctx, servicesKey).Result()
	if err != nil {
		return nil, err
	}

	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, pipe.HGetAll(ctx, serviceKey(id)))
	}
	if len(cmds) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
	}

	services := make([]models.ServiceDefinition, 0, len(cmds))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		def, err := mapToService(data)
		if err != nil {
			log.Printf("[REDIS] Skipping unreadable service %s: %v", data["id"], err)
			continue
		}
		services = append(services, def)
	}
	sort.Slice(services, func(i, j int) bool { return services[i].ID < services[j].ID })
	return services, nil
}

func mapToService(data map[string]string) (models.ServiceDefinition, error) {
	var def models.ServiceDefinition
	if err := json.Unmarshal([]byte(data["definition"]), &def); err != nil {
		return def, fmt.Errorf("decode service %s: %w", data["id"], err)
	}
	// The hash fields are authoritative for what list views filter on.
	if v := data["status"]; v != "" {
		def.Status = models.ServiceStatus(v)
	}
	return def, nil
}

func (r *RedisStore) SaveEnrollment(ctx context.Context, e models.Enrollment) error {
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, enrollmentKey(e.ID), map[string]interface{}{
		"id":            e.ID,
		"service_id":    e.ServiceID,
		"customer_id":   e.CustomerID,
		"customer_name": e.CustomerName,
		"device_id":     e.DeviceID,
		"device_name":   e.DeviceName,
		"os":            string(e.OS),
		"enrolled_at":   e.EnrolledAt.Format(time.RFC3339),
	})
	pipe.SAdd(ctx, enrollmentsKey, e.ID)
	pipe.SAdd(ctx, serviceEnrollmentsKey(e.ServiceID), e.ID)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) GetEnrollment(ctx context.Context, id string) (models.Enrollment, error) {
	data, err := r.rdb.HGetAll(ctx, enrollmentKey(id)).Result()
	if err != nil {
		return models.Enrollment{}, err
	}
	if len(data) == 0 {
		return models.Enrollment{}, fmt.Errorf("enrollment %s: %w", id, ErrNotFound)
	}
	return mapToEnrollment(data), nil
}

func (r *RedisStore) ListEnrollments(ctx context.Context, serviceID string) ([]models.Enrollment, error) {
	setKey := enrollmentsKey
	if serviceID != "" {
		setKey = serviceEnrollmentsKey(serviceID)
	}
	ids, err := r.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, err
	}

	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, pipe.HGetAll(ctx, enrollmentKey(id)))
	}
	if len(cmds) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
	}

	var out []models.Enrollment
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		out = append(out, mapToEnrollment(data))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func mapToEnrollment(data map[string]string) models.Enrollment {
	e := models.Enrollment{
		ID:           data["id"],
		ServiceID:    data["service_id"],
		CustomerID:   data["customer_id"],
		CustomerName: data["customer_name"],
		DeviceID:     data["device_id"],
		DeviceName:   data["device_name"],
		OS:           models.OS(data["os"]),
	}
	if v, ok := data["enrolled_at"]; ok && v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			e.EnrolledAt = t
		}
	}
	return e
}

func (r *RedisStore) LoadState(ctx context.Context, enrollmentID string) (models.EnrollmentState, error) {
	raw, err := r.rdb.Get(ctx, stateKey(enrollmentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return NewState(enrollmentID), nil
	}
	if err != nil {
		return models.EnrollmentState{}, err
	}
	var state models.EnrollmentState
	if err := json.Unmarshal(raw, &state); err != nil {
		return models.EnrollmentState{}, fmt.Errorf("decode state %s: %w", enrollmentID, err)
	}
	return cloneState(state), nil
}

func (r *RedisStore) SaveState(ctx context.Context, state models.EnrollmentState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state %s: %w", state.EnrollmentID, err)
	}
	return r.rdb.Set(ctx, stateKey(state.EnrollmentID), raw, 0).Err()
}

// RecordRun appends the run to a capped history list and bumps the day's
// outcome counters.
func (r *RedisStore) RecordRun(ctx context.Context, run models.HealthCheckRun) error {
	entry := map[string]interface{}{
		"id":        run.ID,
		"timestamp": runTime(run).Format(time.RFC3339),
		"outcome":   metricsField(run),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	key := historyKey(run.EnrollmentID)
	mkey := metricsKey(run.EnrollmentID, runTime(run))
	pipe := r.rdb.Pipeline()
	pipe.RPush(ctx, key, raw)
	pipe.LTrim(ctx, key, -historyLimit, -1)
	pipe.HIncrBy(ctx, mkey, "total_checks", 1)
	pipe.HIncrBy(ctx, mkey, metricsField(run), 1)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) DailyCounts(ctx context.Context, enrollmentID, date string) (map[string]int64, error) {
	data, err := r.rdb.HGetAll(ctx, fmt.Sprintf("enrollment:%s:metrics:%s", enrollmentID, date)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(data))
	for k, v := range data {
		var n int64
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			out[k] = n
		}
	}
	return out, nil
}
