package cron

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"
)

// Job is a unit of scheduled work run by the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Schedule pairs a job with how often it should run.
type Schedule struct {
	Job   Job
	Every time.Duration
}

type scheduledJob struct {
	job   Job
	every time.Duration
	next  time.Time
}

// Registry holds the jobs and when each is next due. A job that has never
// run is due immediately.
type Registry struct {
	mu      sync.Mutex
	entries []*scheduledJob
}

func NewRegistry(schedules ...Schedule) *Registry {
	r := &Registry{}
	for _, s := range schedules {
		r.Register(s.Job, s.Every)
	}
	return r
}

// Register adds job; a non-positive every means run on every tick.
func (r *Registry) Register(job Job, every time.Duration) {
	if job == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, &scheduledJob{job: job, every: max(every, 0)})
}

// Jobs returns the registered jobs in registration order.
func (r *Registry) Jobs() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobs := make([]Job, 0, len(r.entries))
	for _, e := range r.entries {
		jobs = append(jobs, e.job)
	}
	return jobs
}

// Due lists the jobs whose next run is at or before now.
func (r *Registry) Due(now time.Time) []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []Job
	for _, e := range r.entries {
		if !e.next.After(now) {
			due = append(due, e.job)
		}
	}
	return due
}

// MarkRan schedules the job's next run one interval after at.
func (r *Registry) MarkRan(job Job, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.job == job {
			e.next = at.Add(e.every)
		}
	}
}

// ShortestInterval is the smallest positive cadence, or 0 when none is set.
func (r *Registry) ShortestInterval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var shortest time.Duration
	for _, e := range r.entries {
		if e.every > 0 && (shortest == 0 || e.every < shortest) {
			shortest = e.every
		}
	}
	return shortest
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}
