package hypervisor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// localJobs is the local driver's in-process job table.
// Finished jobs are kept so late lookups still see their terminal state.
type localJobs struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	cancels map[string]context.CancelFunc
}

func newLocalJobs() *localJobs {
	return &localJobs{
		jobs:    make(map[string]*Job),
		cancels: make(map[string]context.CancelFunc),
	}
}

// jobHandle lets a running operation report into its job.
type jobHandle struct {
	table *localJobs
	id    string
}

// start registers a running job and derives a context that CancelJob cancels.
func (t *localJobs) start(ctx context.Context, caption, description, elementName string) (context.Context, *jobHandle) {
	ctx, cancel := context.WithCancel(ctx)
	id := uuid.New().String()

	t.mu.Lock()
	t.jobs[id] = &Job{
		ID:          id,
		Caption:     caption,
		Description: description,
		ElementName: elementName,
		State:       JobRunning,
		StartTime:   time.Now(),
	}
	t.cancels[id] = cancel
	t.mu.Unlock()

	return ctx, &jobHandle{table: t, id: id}
}

// progress records done out of total bytes. Percent never moves backwards
// and stays below 100 until finish.
func (h *jobHandle) progress(done, total int64) {
	if total <= 0 {
		return
	}
	pct := int(done * 100 / total)
	if pct > 99 {
		pct = 99
	}

	h.table.mu.Lock()
	defer h.table.mu.Unlock()
	if job := h.table.jobs[h.id]; job != nil && pct > job.PercentComplete {
		job.PercentComplete = pct
	}
}

// finish moves the job to its terminal state.
func (h *jobHandle) finish(err error) {
	h.table.mu.Lock()
	defer h.table.mu.Unlock()

	job := h.table.jobs[h.id]
	if job == nil {
		return
	}
	switch {
	case err == nil:
		job.State = JobCompleted
		job.PercentComplete = 100
	case errors.Is(err, context.Canceled):
		job.State = JobTerminated
		job.ErrorDescription = err.Error()
	default:
		job.State = JobError
		job.ErrorDescription = err.Error()
	}
	if cancel := h.table.cancels[h.id]; cancel != nil {
		cancel()
		delete(h.table.cancels, h.id)
	}
}

func (t *localJobs) list() []Job {
	t.mu.RLock()
	defer t.mu.RUnlock()

	jobs := make([]Job, 0, len(t.jobs))
	for _, job := range t.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].StartTime.Before(jobs[j].StartTime)
	})
	return jobs
}

func (t *localJobs) get(id string) (*Job, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	job, ok := t.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (t *localJobs) cancel(id string) error {
	t.mu.RLock()
	_, ok := t.jobs[id]
	cancel := t.cancels[id]
	t.mu.RUnlock()

	if !ok {
		return ErrJobNotFound
	}
	if cancel != nil {
		cancel()
	}
	return nil
}
