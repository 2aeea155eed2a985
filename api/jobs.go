package api

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var ErrJobNotFound = errors.New("job not found")

const defaultJobRetention = time.Hour

type JobStatus string

const (
	JobRunning     JobStatus = "running"
	JobCompleted   JobStatus = "completed"
	JobInterrupted JobStatus = "interrupted"
	JobFailed      JobStatus = "failed"
)

// jobFunc runs one strategy. interrupted reports a clean stop on ctx
// cancellation, which is not an error.
type jobFunc func(ctx context.Context) (result interface{}, interrupted bool, err error)

type JobView struct {
	ID         string      `json:"id"`
	Kind       string      `json:"kind"`
	Status     JobStatus   `json:"status"`
	CreatedAt  time.Time   `json:"createdAt"`
	FinishedAt *time.Time  `json:"finishedAt,omitempty"`
	Result     interface{} `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
}

type job struct {
	view   JobView
	cancel context.CancelFunc
	done   chan struct{}
}

// JobRegistry runs strategies in their own goroutines, each with its own
// cancel function. Finished jobs are forgotten once they are older than the
// retention period; running jobs are never evicted.
type JobRegistry struct {
	mu        sync.RWMutex
	jobs      map[string]*job
	base      context.Context
	stop      context.CancelFunc
	wg        sync.WaitGroup
	retention time.Duration
	now       func() time.Time
	logger    *logrus.Logger
}

func NewJobRegistry(retention time.Duration, logger *logrus.Logger) *JobRegistry {
	if retention <= 0 {
		retention = defaultJobRetention
	}
	base, stop := context.WithCancel(context.Background())
	return &JobRegistry{
		jobs:      make(map[string]*job),
		base:      base,
		stop:      stop,
		retention: retention,
		now:       time.Now,
		logger:    logger,
	}
}

func (r *JobRegistry) Start(kind string, initial interface{}, fn jobFunc) JobView {
	ctx, cancel := context.WithCancel(r.base)
	j := &job{
		view: JobView{
			ID:        uuid.NewString(),
			Kind:      kind,
			Status:    JobRunning,
			CreatedAt: r.now().UTC(),
			Result:    initial,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	r.evictLocked()
	r.jobs[j.view.ID] = j
	view := j.view
	r.mu.Unlock()

	log := r.logger.WithFields(logrus.Fields{"job_id": view.ID, "kind": kind})
	log.Info("Job started")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(j.done)
		defer cancel()

		result, interrupted, err := fn(ctx)

		r.mu.Lock()
		defer r.mu.Unlock()
		now := r.now().UTC()
		j.view.FinishedAt = &now
		if result != nil {
			j.view.Result = result
		}
		switch {
		case err != nil:
			j.view.Status = JobFailed
			j.view.Error = err.Error()
			log.WithError(err).Error("Job failed")
		case interrupted:
			j.view.Status = JobInterrupted
			log.Info("Job interrupted")
		default:
			j.view.Status = JobCompleted
			log.Info("Job completed")
		}
	}()

	return view
}

func (r *JobRegistry) evictLocked() {
	cutoff := r.now().Add(-r.retention)
	for id, j := range r.jobs {
		if j.view.FinishedAt != nil && j.view.FinishedAt.Before(cutoff) {
			delete(r.jobs, id)
		}
	}
}

// Prune drops finished jobs older than the retention period.
func (r *JobRegistry) Prune() {
	r.mu.Lock()
	r.evictLocked()
	r.mu.Unlock()
}

func (r *JobRegistry) Get(id string) (JobView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[id]
	if !ok {
		return JobView{}, ErrJobNotFound
	}
	return j.view, nil
}

func (r *JobRegistry) List() []JobView {
	r.mu.Lock()
	r.evictLocked()
	views := make([]JobView, 0, len(r.jobs))
	for _, j := range r.jobs {
		views = append(views, j.view)
	}
	r.mu.Unlock()

	sort.Slice(views, func(a, b int) bool {
		return views[a].CreatedAt.Before(views[b].CreatedAt)
	})
	return views
}

// Cancel stops a job and waits for it to finish or ctx to end.
func (r *JobRegistry) Cancel(ctx context.Context, id string) (JobView, error) {
	r.mu.RLock()
	j, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return JobView{}, ErrJobNotFound
	}

	j.cancel()
	select {
	case <-j.done:
	case <-ctx.Done():
	}
	return r.Get(id)
}

// Close cancels every running job and waits for them to return.
func (r *JobRegistry) Close() {
	r.stop()
	r.wg.Wait()
}
