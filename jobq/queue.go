// Package jobq is the rendezvous between a producer that submits work
// instantly and an executor that can only poll for it.
//
// A Queue bundles three pieces of state: the job Registry, the single-slot
// ReadChannel for read-back requests, and the Liveness tracker fed by every
// executor poll. Producers block only on per-entity completion channels,
// never on a lock, and a timed-out wait leaves all state untouched.
package jobq

import (
	"time"

	"github.com/hazyhaar/figbridge/idgen"
)

// Queue is the state shared by the producer tools and the executor routes.
type Queue struct {
	Jobs  *Registry
	Reads *ReadChannel
	Live  *Liveness
}

// New creates a Queue. Every component shares the same options, so a test
// clock or ID generator applies everywhere.
func New(opts ...Option) *Queue {
	return &Queue{
		Jobs:  NewRegistry(opts...),
		Reads: NewReadChannel(opts...),
		Live:  NewLiveness(opts...),
	}
}

// NextJob records an executor poll and drains the oldest pending job.
func (q *Queue) NextJob() (Snapshot, bool) {
	q.Live.RecordPoll()
	return q.Jobs.Drain()
}

// PendingRead records an executor poll and returns the outstanding read
// request, if any.
func (q *Queue) PendingRead() (*ReadRequest, bool) {
	q.Live.RecordPoll()
	return q.Reads.Poll()
}

// Option configures a Queue or one of its components.
type Option func(*options)

type options struct {
	newID        idgen.Generator
	now          func() time.Time
	attachWindow time.Duration
	observer     Observer
}

func buildOptions(opts []Option) options {
	o := options{
		newID:        idgen.Default,
		now:          time.Now,
		attachWindow: DefaultAttachWindow,
		observer:     nopObserver{},
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithIDGenerator sets how job and read-request IDs are produced.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(o *options) { o.newID = gen }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithAttachWindow sets the liveness freshness window.
func WithAttachWindow(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.attachWindow = d
		}
	}
}

// WithObserver registers observers notified of every transition. Multiple
// calls accumulate.
func WithObserver(obs ...Observer) Option {
	return func(o *options) {
		all := append([]Observer{o.observer}, obs...)
		o.observer = Observers(all...)
	}
}
