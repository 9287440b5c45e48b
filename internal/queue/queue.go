// Package queue runs analysis jobs for issue numbers with a concurrency cap
// and reports their lifecycle as a stream of typed events.
package queue

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// DefaultConcurrency is the job cap used when Options.Concurrency is unset.
const DefaultConcurrency = 3

// State is a job's position in its lifecycle.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Job is an in-memory queue entry. It is forgotten once its terminal event
// has been emitted.
type Job struct {
	Key        int
	State      State
	Capability string
	EnqueuedAt time.Time
	StartedAt  time.Time
}

// Runner executes one job. The context carries the per-job timeout.
type Runner interface {
	Run(ctx context.Context, job Job) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, job Job) error

func (f RunnerFunc) Run(ctx context.Context, job Job) error { return f(ctx, job) }

// Options configures a Queue.
type Options struct {
	// Concurrency caps running jobs. Zero means DefaultConcurrency.
	Concurrency int
	// Capability names the analysis capability handed to new jobs.
	Capability string
	// JobTimeout bounds each job. Zero means no deadline.
	JobTimeout time.Duration
	// Broadcaster receives events. A new EventBroadcaster is used if nil.
	Broadcaster Broadcaster
}

// Queue admits keys and runs at most Concurrency jobs at a time.
type Queue struct {
	runner  Runner
	limit   int
	timeout time.Duration
	bc      Broadcaster

	mu         sync.Mutex
	capability string
	pending    []*Job
	queued     map[int]bool
	active     map[int]*Job
	stopped    bool
	busy       bool          // work outstanding since the last Drained
	idle       chan struct{} // closed once the Drained ending busy is delivered

	outbox      []outEvent
	dispatching bool
}

// outEvent is an event waiting for the dispatcher. done, if set, is closed
// after the event has been delivered.
type outEvent struct {
	ev   Event
	done chan struct{}
}

// New creates a queue that runs jobs with runner.
func New(runner Runner, opts Options) *Queue {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Broadcaster == nil {
		opts.Broadcaster = NewBroadcaster()
	}
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		idle:       idle,
		runner:     runner,
		limit:      opts.Concurrency,
		timeout:    opts.JobTimeout,
		bc:         opts.Broadcaster,
		capability: opts.Capability,
		queued:     make(map[int]bool),
		active:     make(map[int]*Job),
	}
}

// Subscribe registers for queue events.
func (q *Queue) Subscribe() (int, <-chan Event) {
	return q.bc.Subscribe()
}

// Unsubscribe removes a subscription and closes its channel.
func (q *Queue) Unsubscribe(id int) {
	q.bc.Unsubscribe(id)
}

// Enqueue admits keys that are neither pending nor running, in order, and
// returns how many were admitted. After Stop nothing is admitted.
func (q *Queue) Enqueue(keys ...int) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return 0
	}

	admitted := 0
	for _, key := range keys {
		if q.queued[key] || q.active[key] != nil {
			continue
		}
		now := time.Now()
		q.pending = append(q.pending, &Job{Key: key, State: StateQueued, EnqueuedAt: now})
		q.queued[key] = true
		q.emitLocked(Queued{Key: key, At: now})
		admitted++
	}
	if admitted > 0 && !q.busy {
		q.busy = true
		q.idle = make(chan struct{})
	}
	q.pumpLocked()
	return admitted
}

// SetCapability changes the capability for jobs that have not started.
func (q *Queue) SetCapability(name string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.capability = name
}

// Capability returns the capability new jobs will use.
func (q *Queue) Capability() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capability
}

// ActiveKeys returns the running keys in ascending order.
func (q *Queue) ActiveKeys() []int {
	q.mu.Lock()
	defer q.mu.Unlock()
	keys := make([]int, 0, len(q.active))
	for k := range q.active {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// PendingCount returns the number of keys waiting to start.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Jobs returns a snapshot of running jobs followed by pending jobs in FIFO
// order.
func (q *Queue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := make([]Job, 0, len(q.active)+len(q.pending))
	for _, j := range q.active {
		jobs = append(jobs, *j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].StartedAt.Before(jobs[k].StartedAt) })
	for _, j := range q.pending {
		jobs = append(jobs, *j)
	}
	return jobs
}

// Stop clears the pending FIFO and stops admitting keys. Running jobs run
// to completion and still emit their terminal events. Cleared keys emit
// nothing further.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stopped = true
	if n := len(q.pending); n > 0 {
		log.Printf("[queue] Stop: dropping %d pending jobs", n)
	}
	q.pending = nil
	q.queued = make(map[int]bool)
	q.checkDrainLocked()
}

// Wait blocks until the queue has no pending or running work and the
// Drained event has been delivered to every subscriber.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pumpLocked starts jobs while below the cap. Callers hold q.mu.
func (q *Queue) pumpLocked() {
	for len(q.active) < q.limit && len(q.pending) > 0 {
		job := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		delete(q.queued, job.Key)

		job.State = StateRunning
		job.StartedAt = time.Now()
		job.Capability = q.capability
		q.active[job.Key] = job
		q.emitLocked(Started{Key: job.Key, Capability: job.Capability, At: job.StartedAt})

		go q.run(*job)
	}
	q.checkDrainLocked()
}

func (q *Queue) checkDrainLocked() {
	if q.busy && len(q.pending) == 0 && len(q.active) == 0 {
		q.busy = false
		q.outbox = append(q.outbox, outEvent{ev: Drained{At: time.Now()}, done: q.idle})
		q.startDispatchLocked()
	}
}

func (q *Queue) run(job Job) {
	err := q.invoke(job)
	now := time.Now()
	duration := now.Sub(job.StartedAt)

	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.active, job.Key)
	if err != nil {
		log.Printf("[queue] Job #%d failed after %s: %v", job.Key, duration.Round(time.Millisecond), err)
		q.emitLocked(Failed{Key: job.Key, Capability: job.Capability, Duration: duration, Err: err.Error(), At: now})
	} else {
		q.emitLocked(Succeeded{Key: job.Key, Capability: job.Capability, Duration: duration, At: now})
	}
	q.pumpLocked()
}

// invoke runs the job under its timeout and turns a panic into an error.
func (q *Queue) invoke(job Job) (err error) {
	ctx := context.Background()
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return q.runner.Run(ctx, job)
}

// emitLocked appends to the outbox and starts a dispatcher if none is
// running. A single dispatcher delivers events in emission order.
func (q *Queue) emitLocked(e Event) {
	q.outbox = append(q.outbox, outEvent{ev: e})
	q.startDispatchLocked()
}

func (q *Queue) startDispatchLocked() {
	if !q.dispatching {
		q.dispatching = true
		go q.dispatch()
	}
}

func (q *Queue) dispatch() {
	for {
		q.mu.Lock()
		if len(q.outbox) == 0 {
			q.dispatching = false
			q.mu.Unlock()
			return
		}
		batch := q.outbox
		q.outbox = nil
		q.mu.Unlock()

		for _, e := range batch {
			q.bc.Broadcast(e.ev)
			if e.done != nil {
				close(e.done)
			}
		}
	}
}
