package queue

import (
	"context"
	"sort"
	"sync"
)

// MemoryDispatcher implements Dispatcher in process memory. It mirrors the
// redis semantics including idempotent ids and priority ordering, and exists
// for tests and single-node development setups.
type MemoryDispatcher struct {
	mu      sync.Mutex
	opts    Options
	jobs    map[string]Job
	waiting []waitingEntry
	seq     int64
}

type waitingEntry struct {
	jobID    string
	priority int
	seq      int64
}

func NewMemoryDispatcher(opts Options) *MemoryDispatcher {
	return &MemoryDispatcher{
		opts: opts.withDefaults(),
		jobs: make(map[string]Job),
	}
}

func (d *MemoryDispatcher) Enqueue(_ context.Context, job Job) (EnqueueResult, error) {
	if job.ID == "" {
		return EnqueueResult{}, ErrDispatchFailed
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.jobs[job.ID]; exists {
		jobsDuplicate.Inc()
		return EnqueueResult{JobID: job.ID, AlreadyQueued: true}, nil
	}

	d.seq++
	d.jobs[job.ID] = job
	d.waiting = append(d.waiting, waitingEntry{jobID: job.ID, priority: job.Priority, seq: d.seq})
	jobsEnqueued.WithLabelValues(job.Name).Inc()
	return EnqueueResult{JobID: job.ID}, nil
}

func (d *MemoryDispatcher) Remove(_ context.Context, jobID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, entry := range d.waiting {
		if entry.jobID == jobID {
			d.waiting = append(d.waiting[:i], d.waiting[i+1:]...)
			delete(d.jobs, jobID)
			return true, nil
		}
	}
	return false, nil
}

func (d *MemoryDispatcher) Complete(_ context.Context, jobID string) error {
	jobsCompleted.Inc()
	if !d.opts.RemoveOnComplete {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.jobs, jobID)
	return nil
}

func (d *MemoryDispatcher) Fail(_ context.Context, jobID string) error {
	jobsFailed.Inc()
	if !d.opts.RemoveOnFail {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.jobs, jobID)
	return nil
}

func (d *MemoryDispatcher) Pending(_ context.Context) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.waiting)), nil
}

// Waiting returns the queued jobs in the order a worker would consume them.
func (d *MemoryDispatcher) Waiting() []Job {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries := make([]waitingEntry, len(d.waiting))
	copy(entries, d.waiting)
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority < entries[j].priority
		}
		return entries[i].seq < entries[j].seq
	})

	jobs := make([]Job, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, d.jobs[entry.jobID])
	}
	return jobs
}
