package v1

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"servicecatalog-cron/models"

	"github.com/google/uuid"
)

// ApprovalStore supplies the approved script for a service and OS.
type ApprovalStore interface {
	ApprovedScript(ctx context.Context, serviceID string, os models.OS) (body, hash string, err error)
}

// Catalog owns service definitions, their approval flow and enrollments.
type Catalog struct {
	store  Store
	runs   RunLog
	now    func() time.Time
	mu     sync.RWMutex
	policy map[string]*Policy
}

func NewCatalog(store Store, runs RunLog) *Catalog {
	return &Catalog{
		store:  store,
		runs:   runs,
		now:    time.Now,
		policy: map[string]*Policy{},
	}
}

// SetClock replaces the time source.
func (c *Catalog) SetClock(now func() time.Time) {
	c.now = now
}

func validateDefinition(def models.ServiceDefinition) error {
	verr := &ValidationError{}
	if strings.TrimSpace(def.Name) == "" {
		verr.add("name", "service name is required")
	}
	if strings.TrimSpace(def.Tag) == "" {
		verr.add("tag", "tag is required")
	}
	if def.Billing.UnitCost < 0 {
		verr.add("billing.unitCost", "must not be negative")
	}
	if def.Eligibility.MinDevices != nil && *def.Eligibility.MinDevices < 0 {
		verr.add("eligibility.minDevices", "must not be negative")
	}
	if def.Eligibility.MaxEnrollments != nil && *def.Eligibility.MaxEnrollments < 0 {
		verr.add("eligibility.maxEnrollments", "must not be negative")
	}
	if def.HealthCheck != nil {
		if err := ValidatePolicy(*def.HealthCheck); err != nil {
			if pe, ok := err.(*ValidationError); ok {
				for _, f := range pe.Fields {
					verr.add("healthCheck."+f.Field, "%s", f.Message)
				}
			}
		}
	}
	return verr.orNil()
}

// Submit stores a new service definition pending approval. Approvals on
// submitted scripts are discarded; scripts are approved through ApproveScript.
func (c *Catalog) Submit(ctx context.Context, def models.ServiceDefinition) (models.ServiceDefinition, error) {
	def = normalizeDefinition(def)
	if def.HealthCheck != nil {
		for os, script := range def.HealthCheck.Scripts {
			script.Approval = nil
			def.HealthCheck.Scripts[os] = script
		}
	}
	if err := validateDefinition(def); err != nil {
		return models.ServiceDefinition{}, err
	}
	def.ID = uuid.NewString()
	def.Status = models.ServicePending
	def.SubmittedAt = c.now().UTC()
	def.ApprovedAt = nil
	if err := c.store.SaveService(ctx, def); err != nil {
		return models.ServiceDefinition{}, fmt.Errorf("save service: %w", err)
	}
	log.Printf("[CATALOG] Submitted service %s (%s) for approval", def.Name, def.ID)
	return def, nil
}

// Import stores a definition as given, keeping ids and approvals. Active
// definitions get their policy compiled immediately.
func (c *Catalog) Import(ctx context.Context, def models.ServiceDefinition) (models.ServiceDefinition, error) {
	def = normalizeDefinition(def)
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if def.SubmittedAt.IsZero() {
		def.SubmittedAt = c.now().UTC()
	}
	if def.Status == "" {
		def.Status = models.ServicePending
	}
	if err := validateDefinition(def); err != nil {
		return models.ServiceDefinition{}, err
	}
	if def.Status == models.ServiceActive {
		if _, err := c.compile(def); err != nil {
			return models.ServiceDefinition{}, err
		}
	}
	if err := c.store.SaveService(ctx, def); err != nil {
		return models.ServiceDefinition{}, fmt.Errorf("save service: %w", err)
	}
	return def, nil
}

func normalizeDefinition(def models.ServiceDefinition) models.ServiceDefinition {
	def.Name = strings.TrimSpace(def.Name)
	def.Tag = strings.TrimSpace(def.Tag)
	def.Description = strings.TrimSpace(def.Description)
	if def.HealthCheck != nil {
		hc := *def.HealthCheck
		scripts := make(map[models.OS]models.Script, len(hc.Scripts))
		for os, s := range hc.Scripts {
			if s.Version < 1 {
				s.Version = 1
			}
			scripts[os] = s
		}
		hc.Scripts = scripts
		def.HealthCheck = &hc
	}
	return def
}

func (c *Catalog) Get(ctx context.Context, id string) (models.ServiceDefinition, error) {
	return c.store.GetService(ctx, id)
}

func (c *Catalog) List(ctx context.Context) ([]models.ServiceDefinition, error) {
	return c.store.ListServices(ctx)
}

// UpdateScript replaces the body of one target script, bumps its version
// and drops its approval. Enrollment health state is untouched.
func (c *Catalog) UpdateScript(ctx context.Context, serviceID string, os models.OS, body string) (models.ServiceDefinition, error) {
	def, err := c.store.GetService(ctx, serviceID)
	if err != nil {
		return def, err
	}
	if def.HealthCheck == nil || !containsOS(def.HealthCheck.Targets, os) {
		return def, &ValidationError{Fields: []FieldError{{Field: "os", Message: fmt.Sprintf("%s is not a target of this service", os)}}}
	}
	if strings.TrimSpace(body) == "" {
		return def, &ValidationError{Fields: []FieldError{{Field: "body", Message: "script body is required"}}}
	}
	script := def.HealthCheck.Scripts[os]
	if script.Body == body {
		return def, nil
	}
	script.Body = body
	script.Version++
	script.Approval = nil
	def.HealthCheck.Scripts[os] = script
	if err := c.store.SaveService(ctx, def); err != nil {
		return def, fmt.Errorf("save service: %w", err)
	}
	log.Printf("[CATALOG] Service %s %s script now at version %d, awaiting approval", serviceID, os, script.Version)
	return def, nil
}

// ApproveScript approves the current body of one script by its hash. For an
// active service the policy is recompiled once every target is approved.
func (c *Catalog) ApproveScript(ctx context.Context, serviceID string, os models.OS, approver string) (models.ServiceDefinition, error) {
	def, err := c.store.GetService(ctx, serviceID)
	if err != nil {
		return def, err
	}
	if strings.TrimSpace(approver) == "" {
		return def, &ValidationError{Fields: []FieldError{{Field: "approver", Message: "approver is required"}}}
	}
	if def.HealthCheck == nil || !containsOS(def.HealthCheck.Targets, os) {
		return def, &ValidationError{Fields: []FieldError{{Field: "os", Message: fmt.Sprintf("%s is not a target of this service", os)}}}
	}
	script := def.HealthCheck.Scripts[os]
	hash := HashScript(script.Body)
	if script.Approval != nil && script.Approval.ContentHash == hash && script.Approval.Version == script.Version {
		return def, nil
	}
	script.Approval = &models.ScriptApproval{
		ApprovedBy:  approver,
		ApprovedAt:  c.now().UTC(),
		ContentHash: hash,
		Version:     script.Version,
	}
	def.HealthCheck.Scripts[os] = script

	if def.Status == models.ServiceActive && allApproved(def.HealthCheck) {
		if _, err := c.compile(def); err != nil {
			return def, err
		}
	}
	if err := c.store.SaveService(ctx, def); err != nil {
		return def, fmt.Errorf("save service: %w", err)
	}
	log.Printf("[CATALOG] %s approved %s script v%d for service %s (sha256 %s)", approver, os, script.Version, serviceID, hash[:12])
	return def, nil
}

// Activate approves the service itself. Its policy must compile, which
// requires every target script to be approved.
func (c *Catalog) Activate(ctx context.Context, serviceID string) (models.ServiceDefinition, error) {
	def, err := c.store.GetService(ctx, serviceID)
	if err != nil {
		return def, err
	}
	if def.Status == models.ServiceActive {
		return def, nil
	}
	now := c.now().UTC()
	def.Status = models.ServiceActive
	def.ApprovedAt = &now
	if _, err := c.compile(def); err != nil {
		return models.ServiceDefinition{}, err
	}
	if err := c.store.SaveService(ctx, def); err != nil {
		return def, fmt.Errorf("save service: %w", err)
	}
	log.Printf("[CATALOG] Service %s (%s) is active", def.Name, def.ID)
	return def, nil
}

func (c *Catalog) compile(def models.ServiceDefinition) (*Policy, error) {
	if def.HealthCheck == nil {
		c.mu.Lock()
		delete(c.policy, def.ID)
		c.mu.Unlock()
		return nil, nil
	}
	activatedAt := def.SubmittedAt
	if def.ApprovedAt != nil {
		activatedAt = *def.ApprovedAt
	}
	for _, s := range def.HealthCheck.Scripts {
		if s.Approval != nil && s.Approval.ApprovedAt.After(activatedAt) {
			activatedAt = s.Approval.ApprovedAt
		}
	}
	p, err := CompilePolicy(def.ID, *def.HealthCheck, activatedAt)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.policy[def.ID] = p
	c.mu.Unlock()
	return p, nil
}

// Policy returns the compiled policy of an active service. A nil policy
// with a nil error means the service has no health check.
func (c *Catalog) Policy(ctx context.Context, serviceID string) (*Policy, error) {
	c.mu.RLock()
	p, ok := c.policy[serviceID]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}
	def, err := c.store.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if def.Status != models.ServiceActive {
		return nil, fmt.Errorf("service %s is %s: %w", serviceID, def.Status, ErrScriptNotApproved)
	}
	return c.compile(def)
}

// ApprovedScript returns the body and hash of the approved script. It fails
// with ErrScriptNotApproved if the script changed since approval.
func (c *Catalog) ApprovedScript(ctx context.Context, serviceID string, os models.OS) (string, string, error) {
	def, err := c.store.GetService(ctx, serviceID)
	if err != nil {
		return "", "", err
	}
	if def.HealthCheck == nil {
		return "", "", fmt.Errorf("service %s has no health check: %w", serviceID, ErrNotFound)
	}
	script, ok := def.HealthCheck.Scripts[os]
	if !ok {
		return "", "", fmt.Errorf("service %s has no %s script: %w", serviceID, os, ErrNotFound)
	}
	hash := HashScript(script.Body)
	if script.Approval == nil || script.Approval.ContentHash != hash {
		return "", "", fmt.Errorf("service %s %s script v%d: %w", serviceID, os, script.Version, ErrScriptNotApproved)
	}
	return script.Body, hash, nil
}

// Enroll binds a device to an active service.
func (c *Catalog) Enroll(ctx context.Context, e models.Enrollment) (models.Enrollment, error) {
	def, err := c.store.GetService(ctx, e.ServiceID)
	if err != nil {
		return e, err
	}
	verr := &ValidationError{}
	if def.Status != models.ServiceActive {
		verr.add("serviceId", "service %s is not active", def.ID)
	}
	if strings.TrimSpace(e.CustomerID) == "" {
		verr.add("customerId", "customer id is required")
	}
	if strings.TrimSpace(e.DeviceID) == "" {
		verr.add("deviceId", "device id is required")
	}
	if def.HealthCheck != nil && !containsOS(def.HealthCheck.Targets, e.OS) {
		verr.add("os", "device OS %q is not a health check target", e.OS)
	}
	existing, err := c.store.ListEnrollments(ctx, def.ID)
	if err != nil {
		return e, err
	}
	for _, other := range existing {
		if other.CustomerID == e.CustomerID && other.DeviceID == e.DeviceID {
			return other, nil
		}
	}
	if limit := def.Eligibility.MaxEnrollments; limit != nil && *limit > 0 && len(existing) >= *limit {
		verr.add("serviceId", "service reached its maximum of %d enrollments", *limit)
	}
	if err := verr.orNil(); err != nil {
		return e, err
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.EnrolledAt.IsZero() {
		e.EnrolledAt = c.now().UTC()
	}
	if err := c.store.SaveEnrollment(ctx, e); err != nil {
		return e, fmt.Errorf("save enrollment: %w", err)
	}
	if err := c.store.SaveState(ctx, NewState(e.ID)); err != nil {
		return e, fmt.Errorf("init state: %w", err)
	}
	log.Printf("[CATALOG] Enrolled device %s (%s) of customer %s into %s", e.DeviceName, e.DeviceID, e.CustomerID, def.Name)
	return e, nil
}

func (c *Catalog) Enrollments(ctx context.Context, serviceID string) ([]models.Enrollment, error) {
	return c.store.ListEnrollments(ctx, serviceID)
}

// EnrollmentReport explains an enrollment's health, including the runs
// that caused its latest suspension.
type EnrollmentReport struct {
	Enrollment  models.Enrollment       `json:"enrollment"`
	State       models.EnrollmentState  `json:"state"`
	CauseRuns   []models.HealthCheckRun `json:"causeRuns"`
	RecentRuns  []models.HealthCheckRun `json:"recentRuns"`
	NextDueTime *time.Time              `json:"nextDueTime,omitempty"`
}

func (c *Catalog) Report(ctx context.Context, enrollmentID string) (EnrollmentReport, error) {
	e, err := c.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return EnrollmentReport{}, err
	}
	state, err := c.store.LoadState(ctx, enrollmentID)
	if err != nil {
		return EnrollmentReport{}, err
	}
	report := EnrollmentReport{Enrollment: e, State: state}
	if len(state.SuspensionCause) > 0 {
		if report.CauseRuns, err = c.runs.GetRuns(ctx, state.SuspensionCause); err != nil {
			return report, err
		}
	}
	if report.RecentRuns, err = c.runs.RecentRuns(ctx, enrollmentID, 20); err != nil {
		return report, err
	}
	if p, err := c.Policy(ctx, e.ServiceID); err == nil && p != nil {
		from := p.ActivatedAt()
		if state.LastRunAt != nil {
			from = *state.LastRunAt
		}
		if next, err := NextDueTime(p, from); err == nil {
			report.NextDueTime = &next
		}
	}
	return report, nil
}

func (c *Catalog) Subject(ctx context.Context, e models.Enrollment) Subject {
	subj := Subject{Enrollment: e}
	if def, err := c.store.GetService(ctx, e.ServiceID); err == nil {
		subj.ServiceName = def.Name
	}
	return subj
}

func allApproved(p *models.HealthCheckPolicy) bool {
	for _, os := range p.Targets {
		s, ok := p.Scripts[os]
		if !ok || s.Approval == nil || s.Approval.ContentHash != HashScript(s.Body) {
			return false
		}
	}
	return true
}

func containsOS(list []models.OS, os models.OS) bool {
	for _, item := range list {
		if item == os {
			return true
		}
	}
	return false
}
