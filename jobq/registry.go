package jobq

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hazyhaar/figbridge/idgen"
)

// State is a job's position in its lifecycle.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Snapshot is a point-in-time copy of a job. Ops is shared with the registry
// and must not be modified.
type Snapshot struct {
	ID         string           `json:"id"`
	Status     State            `json:"status"`
	Ops        []map[string]any `json:"-"`
	OpCount    int              `json:"opCount"`
	CreatedAt  time.Time        `json:"createdAt"`
	FinishedAt *time.Time       `json:"finishedAt,omitempty"`
	Result     json.RawMessage  `json:"result,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Summary is the listing form of a job.
type Summary struct {
	ID        string    `json:"id"`
	Status    State     `json:"status"`
	OpCount   int       `json:"opCount"`
	CreatedAt time.Time `json:"createdAt"`
	Error     string    `json:"error,omitempty"`
}

type job struct {
	id         string
	ops        []map[string]any
	createdAt  time.Time
	state      State
	finishedAt time.Time
	result     json.RawMessage
	errMsg     string
	// done is closed exactly once, on the transition to a terminal state.
	done chan struct{}
}

func (j *job) snapshot() Snapshot {
	s := Snapshot{
		ID:        j.id,
		Status:    j.state,
		Ops:       j.ops,
		OpCount:   len(j.ops),
		CreatedAt: j.createdAt,
		Result:    j.result,
		Error:     j.errMsg,
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		s.FinishedAt = &t
	}
	return s
}

// Registry owns every job for the life of the process. All transitions are
// serialized by one mutex; waiting happens on the per-job done channel,
// outside the lock.
type Registry struct {
	mu      sync.Mutex
	jobs    map[string]*job
	order   []*job
	pending []*job

	newID idgen.Generator
	now   func() time.Time
	obs   Observer
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	o := buildOptions(opts)
	return &Registry{
		jobs:  make(map[string]*job),
		newID: o.newID,
		now:   o.now,
		obs:   o.observer,
	}
}

// Enqueue stores a new pending job holding the serialized ops. It never
// blocks on the executor.
func (r *Registry) Enqueue(ops []map[string]any) Snapshot {
	r.mu.Lock()
	j := &job{
		id:        r.newID(),
		ops:       ops,
		createdAt: r.now(),
		state:     StatePending,
		done:      make(chan struct{}),
	}
	r.jobs[j.id] = j
	r.order = append(r.order, j)
	r.pending = append(r.pending, j)
	snap := j.snapshot()
	r.mu.Unlock()

	r.obs.JobChanged(snap, "")
	return snap
}

// Drain claims the oldest pending job, moving it to in_progress. The claim
// is exactly-once: concurrent callers never receive the same job.
func (r *Registry) Drain() (Snapshot, bool) {
	r.mu.Lock()
	if len(r.pending) == 0 {
		r.mu.Unlock()
		return Snapshot{}, false
	}
	j := r.pending[0]
	r.pending[0] = nil
	r.pending = r.pending[1:]
	if len(r.pending) == 0 {
		r.pending = nil
	}
	j.state = StateInProgress
	snap := j.snapshot()
	r.mu.Unlock()

	r.obs.JobChanged(snap, StatePending)
	return snap, true
}

// Complete moves an in_progress job to completed and stores result. It
// returns false, changing nothing, when the job is unknown or not
// in_progress.
func (r *Registry) Complete(id string, result json.RawMessage) bool {
	return r.finish(id, StateCompleted, bytes.Clone(result), "")
}

// Fail moves an in_progress job to failed. Same contract as Complete.
func (r *Registry) Fail(id, msg string) bool {
	return r.finish(id, StateFailed, nil, msg)
}

func (r *Registry) finish(id string, to State, result json.RawMessage, msg string) bool {
	r.mu.Lock()
	j, ok := r.jobs[id]
	if !ok || j.state != StateInProgress {
		r.mu.Unlock()
		return false
	}
	j.state = to
	j.result = result
	j.errMsg = msg
	j.finishedAt = r.now()
	close(j.done)
	snap := j.snapshot()
	r.mu.Unlock()

	r.obs.JobChanged(snap, StateInProgress)
	return true
}

// Get returns the current snapshot of a job.
func (r *Registry) Get(id string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return Snapshot{}, false
	}
	return j.snapshot(), true
}

// Await waits until the job is terminal, the timeout elapses or ctx is
// done, then returns the job's snapshot at that moment. A timeout is not an
// error: the caller inspects Status. The bool is false only for an unknown
// id. Waiting never changes the job.
func (r *Registry) Await(ctx context.Context, id string, timeout time.Duration) (Snapshot, bool) {
	r.mu.Lock()
	j, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-j.done:
		case <-timer.C:
		case <-ctx.Done():
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return j.snapshot(), true
}

// Summaries lists every job, oldest first.
func (r *Registry) Summaries() []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Summary, len(r.order))
	for i, j := range r.order {
		out[i] = Summary{
			ID:        j.id,
			Status:    j.state,
			OpCount:   len(j.ops),
			CreatedAt: j.createdAt,
			Error:     j.errMsg,
		}
	}
	return out
}

// Counts returns the number of jobs in each state.
func (r *Registry) Counts() map[State]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[State]int{
		StatePending:    0,
		StateInProgress: 0,
		StateCompleted:  0,
		StateFailed:     0,
	}
	for _, j := range r.order {
		counts[j.state]++
	}
	return counts
}
