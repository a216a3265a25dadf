package jobq

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hazyhaar/figbridge/idgen"
)

// ReadRequest asks the executor to serialize the current document tree.
type ReadRequest struct {
	ID        string
	Depth     int
	CreatedAt time.Time

	done chan struct{}
	// data is written once, before done is closed.
	data json.RawMessage
}

// Done is closed when the request is fulfilled.
func (q *ReadRequest) Done() <-chan struct{} { return q.done }

// Response returns the payload once the request has been fulfilled.
func (q *ReadRequest) Response() (json.RawMessage, bool) {
	select {
	case <-q.done:
		return q.data, true
	default:
		return nil, false
	}
}

// ReadChannel is a single-slot rendezvous for read-back requests. A new
// request replaces any unfulfilled one; the replaced request is never
// fulfilled and its waiter times out.
type ReadChannel struct {
	mu      sync.Mutex
	current *ReadRequest

	newID idgen.Generator
	now   func() time.Time
	obs   Observer
}

// NewReadChannel creates an empty channel.
func NewReadChannel(opts ...Option) *ReadChannel {
	o := buildOptions(opts)
	return &ReadChannel{newID: o.newID, now: o.now, obs: o.observer}
}

// Request publishes a new request, superseding any outstanding one.
func (c *ReadChannel) Request(depth int) *ReadRequest {
	req := &ReadRequest{
		Depth: depth,
		done:  make(chan struct{}),
	}

	c.mu.Lock()
	req.ID = c.newID()
	req.CreatedAt = c.now()
	prev := c.current
	c.current = req
	c.mu.Unlock()

	if prev != nil {
		c.obs.ReadChanged(ReadEvent{ID: prev.ID, Depth: prev.Depth, Outcome: ReadSuperseded})
	}
	c.obs.ReadChanged(ReadEvent{ID: req.ID, Depth: depth, Outcome: ReadRequested})
	return req
}

// Poll returns the outstanding request without consuming it.
func (c *ReadChannel) Poll() (*ReadRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.current != nil
}

// Fulfill stores data on the outstanding request if its id matches, wakes
// its waiters and clears the slot. A stale or unknown id returns false.
func (c *ReadChannel) Fulfill(id string, data json.RawMessage) bool {
	c.mu.Lock()
	req := c.current
	if req == nil || req.ID != id {
		c.mu.Unlock()
		return false
	}
	req.data = bytes.Clone(data)
	close(req.done)
	c.current = nil
	wait := c.now().Sub(req.CreatedAt)
	c.mu.Unlock()

	c.obs.ReadChanged(ReadEvent{ID: id, Depth: req.Depth, Outcome: ReadFulfilled, Wait: wait})
	return true
}

// Await waits for req to be fulfilled. It returns false when the timeout
// elapses or ctx is done first; the request stays in the slot.
func (c *ReadChannel) Await(ctx context.Context, req *ReadRequest, timeout time.Duration) (json.RawMessage, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	start := c.now()
	select {
	case <-req.done:
		return req.data, true
	case <-timer.C:
		c.obs.ReadChanged(ReadEvent{ID: req.ID, Depth: req.Depth, Outcome: ReadTimedOut, Wait: timeout})
	case <-ctx.Done():
		c.obs.ReadChanged(ReadEvent{ID: req.ID, Depth: req.Depth, Outcome: ReadAbandoned, Wait: c.now().Sub(start)})
	}
	return nil, false
}
