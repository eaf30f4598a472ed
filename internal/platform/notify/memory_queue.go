package notify

import (
	"context"
	"sort"
	"sync"
	"time"
)

type jobState string

const (
	jobPending    jobState = "pending"
	jobProcessing jobState = "processing"
	jobSent       jobState = "sent"
	jobFailed     jobState = "failed"
)

type memoryJob struct {
	Job
	state jobState
	seq   int64
}

// MemoryQueue is a bounded in-process Queue.
type MemoryQueue struct {
	mu       sync.Mutex
	capacity int
	jobs     map[string]*memoryJob
	seq      int64
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{capacity: capacity, jobs: make(map[string]*memoryJob)}
}

func (q *MemoryQueue) open() int {
	n := 0
	for _, j := range q.jobs {
		if j.state == jobPending || j.state == jobProcessing {
			n++
		}
	}
	return n
}

func (q *MemoryQueue) Enqueue(_ context.Context, j Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.open() >= q.capacity {
		return ErrQueueFull
	}
	q.seq++
	q.jobs[j.ID] = &memoryJob{Job: j, state: jobPending, seq: q.seq}
	return nil
}

func (q *MemoryQueue) Claim(_ context.Context, limit int, now time.Time) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ready := make([]*memoryJob, 0)
	for _, j := range q.jobs {
		if j.state == jobPending && !j.NextRunAt.After(now) {
			ready = append(ready, j)
		}
	}
	sort.Slice(ready, func(a, b int) bool { return ready[a].seq < ready[b].seq })
	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}
	out := make([]Job, 0, len(ready))
	for _, j := range ready {
		j.state = jobProcessing
		out = append(out, j.Job)
	}
	return out, nil
}

func (q *MemoryQueue) Complete(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if j, ok := q.jobs[id]; ok {
		j.state = jobSent
	}
	return nil
}

func (q *MemoryQueue) Retry(_ context.Context, id string, nextRunAt time.Time, lastErr string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if j, ok := q.jobs[id]; ok {
		j.state = jobPending
		j.Attempts++
		j.NextRunAt = nextRunAt
		j.LastError = lastErr
	}
	return nil
}

func (q *MemoryQueue) Fail(_ context.Context, id string, lastErr string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if j, ok := q.jobs[id]; ok {
		j.state = jobFailed
		j.Attempts++
		j.LastError = lastErr
	}
	return nil
}

// Counts reports jobs per state name.
func (q *MemoryQueue) Counts() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]int)
	for _, j := range q.jobs {
		out[string(j.state)]++
	}
	return out
}
