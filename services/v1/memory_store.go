package v1

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"servicecatalog-cron/models"
)

// MemoryStore keeps everything in process. It backs STORAGE_BACKEND=memory
// and the tests.
type MemoryStore struct {
	mu          sync.RWMutex
	services    map[string]models.ServiceDefinition
	enrollments map[string]models.Enrollment
	states      map[string]models.EnrollmentState
	runs        map[string]models.HealthCheckRun
	runOrder    []string
	intents     map[string]models.Intent
	intentOrder []string
	done        map[string]bool
	delivered   map[string]bool
	metrics     map[string]map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		services:    map[string]models.ServiceDefinition{},
		enrollments: map[string]models.Enrollment{},
		states:      map[string]models.EnrollmentState{},
		runs:        map[string]models.HealthCheckRun{},
		intents:     map[string]models.Intent{},
		done:        map[string]bool{},
		delivered:   map[string]bool{},
		metrics:     map[string]map[string]int64{},
	}
}

func (m *MemoryStore) SaveService(_ context.Context, def models.ServiceDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[def.ID] = cloneDefinition(def)
	return nil
}

func (m *MemoryStore) GetService(_ context.Context, id string) (models.ServiceDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.services[id]
	if !ok {
		return models.ServiceDefinition{}, fmt.Errorf("service %s: %w", id, ErrNotFound)
	}
	return cloneDefinition(def), nil
}

func (m *MemoryStore) ListServices(_ context.Context) ([]models.ServiceDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ServiceDefinition, 0, len(m.services))
	for _, def := range m.services {
		out = append(out, cloneDefinition(def))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) SaveEnrollment(_ context.Context, e models.Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrollments[e.ID] = e
	return nil
}

func (m *MemoryStore) GetEnrollment(_ context.Context, id string) (models.Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.enrollments[id]
	if !ok {
		return models.Enrollment{}, fmt.Errorf("enrollment %s: %w", id, ErrNotFound)
	}
	return e, nil
}

func (m *MemoryStore) ListEnrollments(_ context.Context, serviceID string) ([]models.Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Enrollment
	for _, e := range m.enrollments {
		if serviceID == "" || e.ServiceID == serviceID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) LoadState(_ context.Context, enrollmentID string) (models.EnrollmentState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[enrollmentID]
	if !ok {
		return NewState(enrollmentID), nil
	}
	return cloneState(s), nil
}

func (m *MemoryStore) SaveState(_ context.Context, state models.EnrollmentState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.EnrollmentID] = cloneState(state)
	return nil
}

func (m *MemoryStore) AppendRun(_ context.Context, run models.HealthCheckRun) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return false, nil
	}
	m.runs[run.ID] = run
	m.runOrder = append(m.runOrder, run.ID)
	return true, nil
}

func (m *MemoryStore) GetRuns(_ context.Context, ids []string) ([]models.HealthCheckRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.HealthCheckRun, 0, len(ids))
	for _, id := range ids {
		if run, ok := m.runs[id]; ok {
			out = append(out, run)
		}
	}
	return out, nil
}

func (m *MemoryStore) RecentRuns(_ context.Context, enrollmentID string, limit int) ([]models.HealthCheckRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.HealthCheckRun
	for i := len(m.runOrder) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		run := m.runs[m.runOrder[i]]
		if run.EnrollmentID == enrollmentID {
			out = append(out, run)
		}
	}
	return out, nil
}

func (m *MemoryStore) Enqueue(_ context.Context, intent models.Intent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.intents[intent.Key]; ok {
		return false, nil
	}
	m.intents[intent.Key] = intent
	m.intentOrder = append(m.intentOrder, intent.Key)
	return true, nil
}

func (m *MemoryStore) MarkDone(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done[key] = true
	return nil
}

func (m *MemoryStore) Pending(_ context.Context, limit int) ([]models.Intent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Intent
	for _, key := range m.intentOrder {
		if m.done[key] {
			continue
		}
		out = append(out, m.intents[key])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) Delivered(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.delivered[key], nil
}

func (m *MemoryStore) MarkDelivered(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered[key] = true
	return nil
}

func (m *MemoryStore) RecordRun(_ context.Context, run models.HealthCheckRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := metricsKey(run.EnrollmentID, runTime(run))
	counts, ok := m.metrics[key]
	if !ok {
		counts = map[string]int64{}
		m.metrics[key] = counts
	}
	counts["total_checks"]++
	counts[metricsField(run)]++
	return nil
}

func (m *MemoryStore) DailyCounts(_ context.Context, enrollmentID, date string) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[string]int64{}
	for k, v := range m.metrics[fmt.Sprintf("enrollment:%s:metrics:%s", enrollmentID, date)] {
		out[k] = v
	}
	return out, nil
}

func metricsKey(enrollmentID string, at time.Time) string {
	return fmt.Sprintf("enrollment:%s:metrics:%s", enrollmentID, at.UTC().Format("2006-01-02"))
}

func metricsField(run models.HealthCheckRun) string {
	if run.ExecError != "" {
		return "execution_error"
	}
	return string(run.Outcome)
}

func cloneDefinition(def models.ServiceDefinition) models.ServiceDefinition {
	if def.HealthCheck == nil {
		return def
	}
	hc := *def.HealthCheck
	hc.Targets = append([]models.OS(nil), hc.Targets...)
	hc.SuccessExitCodes = append([]int(nil), hc.SuccessExitCodes...)
	hc.Notify = copyNotify(hc.Notify)
	scripts := make(map[models.OS]models.Script, len(hc.Scripts))
	for os, s := range hc.Scripts {
		if s.Approval != nil {
			a := *s.Approval
			s.Approval = &a
		}
		scripts[os] = s
	}
	hc.Scripts = scripts
	def.HealthCheck = &hc
	return def
}
