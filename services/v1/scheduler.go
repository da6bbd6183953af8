package v1

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"servicecatalog-cron/models"

	"github.com/robfig/cron/v3"
)

type SchedulerConfig struct {
	Workers         int
	QueueSize       int
	SyncSpec        string
	SweepSpec       string
	LogExcerptBytes int
}

type scheduledJob struct {
	entryID    cron.EntryID
	policy     *Policy
	enrollment models.Enrollment
}

type checkTask struct {
	enrollment  models.Enrollment
	policy      *Policy
	scheduledAt time.Time
}

// Scheduler keeps one cron entry per monitored enrollment and hands due
// checks to a worker pool. At most one check per enrollment is queued or
// running at a time.
type Scheduler struct {
	catalog   *Catalog
	engine    *Engine
	executor  ScriptExecutor
	approvals ApprovalStore
	metrics   RunMetrics
	cfg       SchedulerConfig
	now       func() time.Time

	cron     *cron.Cron
	mu       sync.Mutex
	jobs     map[string]scheduledJob
	inflight map[string]bool
	tasks    chan checkTask
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewScheduler(catalog *Catalog, engine *Engine, executor ScriptExecutor, metrics RunMetrics, cfg SchedulerConfig) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 64
	}
	if cfg.SyncSpec == "" {
		cfg.SyncSpec = "@every 15s"
	}
	if cfg.SweepSpec == "" {
		cfg.SweepSpec = "@every 1m"
	}
	return &Scheduler{
		catalog:   catalog,
		engine:    engine,
		executor:  executor,
		approvals: catalog,
		metrics:   metrics,
		cfg:       cfg,
		now:       time.Now,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cron.PrintfLogger(log.Default())),
		),
		jobs:     map[string]scheduledJob{},
		inflight: map[string]bool{},
		tasks:    make(chan checkTask, cfg.QueueSize),
	}
}

// Start registers the sync and sweep jobs, starts the workers and runs a
// first sync immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	log.Println("[CRON] Starting health check scheduler...")
	s.ctx, s.cancel = context.WithCancel(ctx)

	if _, err := s.cron.AddFunc(s.cfg.SyncSpec, s.syncJobs); err != nil {
		return fmt.Errorf("add sync job: %w", err)
	}
	if _, err := s.cron.AddFunc(s.cfg.SweepSpec, s.sweep); err != nil {
		return fmt.Errorf("add sweep job: %w", err)
	}

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	s.cron.Start()
	s.syncJobs()
	return nil
}

// Stop waits for running cron jobs, cancels in-flight checks and waits for
// the workers to exit.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	log.Println("[CRON] Scheduler stopped")
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case t := <-s.tasks:
			if _, err := s.runCheck(s.ctx, t); err != nil {
				log.Printf("[HEALTH] Enrollment %s check error: %v", t.enrollment.ID, err)
			}
			s.mu.Lock()
			delete(s.inflight, t.enrollment.ID)
			s.mu.Unlock()
		case <-s.ctx.Done():
			return
		}
	}
}

// enqueue hands a check to the pool without blocking the cron goroutine.
func (s *Scheduler) enqueue(t checkTask) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[t.enrollment.ID] {
		log.Printf("[CRON] Enrollment %s still running, skipping tick", t.enrollment.ID)
		return false
	}
	select {
	case s.tasks <- t:
		s.inflight[t.enrollment.ID] = true
		return true
	default:
		log.Printf("[CRON] Queue full, dropping tick for enrollment %s", t.enrollment.ID)
		return false
	}
}

// syncJobs loads monitored enrollments and reconciles the cron entries.
func (s *Scheduler) syncJobs() {
	ctx := s.ctx
	desired, err := s.desiredJobs(ctx)
	if err != nil {
		log.Println("[CRON] Error loading enrollments:", err)
		return
	}

	s.mu.Lock()
	var catchUp []checkTask
	for id, want := range desired {
		if job, exists := s.jobs[id]; exists {
			if job.policy == want.policy {
				job.enrollment = want.enrollment
				s.jobs[id] = job
				continue
			}
			log.Printf("[CRON] Updating job for enrollment %s (service %s)", id, want.enrollment.ServiceID)
			s.cron.Remove(job.entryID)
		} else {
			log.Printf("[CRON] Adding job for enrollment %s (service %s)", id, want.enrollment.ServiceID)
		}

		task := checkTask{enrollment: want.enrollment, policy: want.policy}
		want.entryID = s.cron.Schedule(dueSchedule{policy: want.policy}, cron.FuncJob(func() {
			t := task
			t.scheduledAt = s.now().UTC().Truncate(time.Second)
			s.enqueue(t)
		}))
		s.jobs[id] = want

		if state, err := s.engine.State(ctx, id); err == nil && IsDue(want.policy, state.LastRunAt, s.now()) {
			catchUp = append(catchUp, checkTask{
				enrollment:  want.enrollment,
				policy:      want.policy,
				scheduledAt: s.now().UTC().Truncate(time.Second),
			})
		}
	}

	for id, job := range s.jobs {
		if _, ok := desired[id]; !ok {
			log.Printf("[CRON] Removing job for enrollment %s", id)
			s.cron.Remove(job.entryID)
			delete(s.jobs, id)
		}
	}
	s.mu.Unlock()

	for _, t := range catchUp {
		log.Printf("[CRON] Enrollment %s missed its due time, running now", t.enrollment.ID)
		s.enqueue(t)
	}
}

func (s *Scheduler) desiredJobs(ctx context.Context) (map[string]scheduledJob, error) {
	services, err := s.catalog.List(ctx)
	if err != nil {
		return nil, err
	}
	desired := make(map[string]scheduledJob)
	for _, def := range services {
		if def.Status != models.ServiceActive || def.HealthCheck == nil {
			continue
		}
		p, err := s.catalog.Policy(ctx, def.ID)
		if err != nil {
			log.Printf("[CRON] Service %s policy unavailable: %v", def.ID, err)
			continue
		}
		if p == nil || !p.Enabled() {
			continue
		}
		enrollments, err := s.catalog.Enrollments(ctx, def.ID)
		if err != nil {
			return nil, err
		}
		for _, e := range enrollments {
			desired[e.ID] = scheduledJob{policy: p, enrollment: e}
		}
	}
	return desired, nil
}

// sweep lets elapsed grace periods suspend and retries stuck intents.
func (s *Scheduler) sweep() {
	ctx := s.ctx
	s.mu.Lock()
	jobs := make([]scheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	s.mu.Unlock()

	now := s.now().UTC()
	for _, job := range jobs {
		state, err := s.engine.State(ctx, job.enrollment.ID)
		if err != nil || state.State != models.ThresholdCrossed {
			continue
		}
		if _, err := s.engine.Advance(ctx, job.enrollment.ID, job.policy, s.catalog.Subject(ctx, job.enrollment), now); err != nil {
			log.Printf("[ENFORCE] Error advancing enrollment %s: %v", job.enrollment.ID, err)
		}
	}
	if n := s.engine.RetryPending(ctx, 100); n > 0 {
		log.Printf("[ENFORCE] Completed %d pending intents", n)
	}
}

// Jobs returns the ids of enrollments that currently have a cron entry.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}
