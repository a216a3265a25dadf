package jobq

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestReadChannel_PollDoesNotConsume(t *testing.T) {
	c := NewReadChannel()
	req := c.Request(3)

	for range 3 {
		got, ok := c.Poll()
		if !ok || got.ID != req.ID || got.Depth != 3 {
			t.Fatalf("Poll = %+v, %v", got, ok)
		}
	}
}

func TestReadChannel_FulfillClearsSlot(t *testing.T) {
	c := NewReadChannel()
	req := c.Request(2)

	if !c.Fulfill(req.ID, json.RawMessage(`{"type":"PAGE"}`)) {
		t.Fatal("fulfill should succeed")
	}
	if _, ok := c.Poll(); ok {
		t.Fatal("slot should be empty after fulfill")
	}
	data, ok := req.Response()
	if !ok || string(data) != `{"type":"PAGE"}` {
		t.Fatalf("Response = %s, %v", data, ok)
	}
	if c.Fulfill(req.ID, json.RawMessage(`{}`)) {
		t.Fatal("second fulfill must fail")
	}
}

func TestReadChannel_SupersededRequestIsStale(t *testing.T) {
	// WHAT: A second request replaces the first; fulfilling the old id
	// fails and leaves the new request untouched.
	c := NewReadChannel()
	old := c.Request(1)
	cur := c.Request(4)

	if c.Fulfill(old.ID, json.RawMessage(`{"stale":true}`)) {
		t.Fatal("stale fulfill must fail")
	}
	got, ok := c.Poll()
	if !ok || got.ID != cur.ID {
		t.Fatalf("current request = %+v", got)
	}
	if _, done := cur.Response(); done {
		t.Fatal("new request must not be fulfilled")
	}
	if _, done := old.Response(); done {
		t.Fatal("old request must never be fulfilled")
	}
}

func TestReadChannel_AwaitFulfilled(t *testing.T) {
	c := NewReadChannel()
	req := c.Request(3)
	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Fulfill(req.ID, json.RawMessage(`{"children":[]}`))
	}()
	data, ok := c.Await(context.Background(), req, 5*time.Second)
	if !ok || string(data) != `{"children":[]}` {
		t.Fatalf("Await = %s, %v", data, ok)
	}
}

func TestReadChannel_AwaitTimeoutKeepsRequest(t *testing.T) {
	obs := &recordingObserver{}
	c := NewReadChannel(WithObserver(obs))
	req := c.Request(3)
	if _, ok := c.Await(context.Background(), req, 10*time.Millisecond); ok {
		t.Fatal("expected timeout")
	}
	if got, ok := c.Poll(); !ok || got.ID != req.ID {
		t.Fatal("timeout must not clear the slot")
	}
	want := []ReadOutcome{ReadRequested, ReadTimedOut}
	if len(obs.reads) != 2 || obs.reads[0] != want[0] || obs.reads[1] != want[1] {
		t.Errorf("events = %v", obs.reads)
	}
}

func TestReadChannel_AwaitCancelledIsNotATimeout(t *testing.T) {
	// WHAT: a producer that goes away is reported separately from an
	// executor that never answered.
	obs := &recordingObserver{}
	c := NewReadChannel(WithObserver(obs))
	req := c.Request(3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := c.Await(ctx, req, time.Hour); ok {
		t.Fatal("cancelled Await reported success")
	}
	if len(obs.reads) != 2 || obs.reads[1] != ReadAbandoned {
		t.Fatalf("events = %v, want requested then abandoned", obs.reads)
	}
	if obs.lastRead.Wait >= time.Hour {
		t.Errorf("wait = %v, want the time actually waited", obs.lastRead.Wait)
	}
	if got, ok := c.Poll(); !ok || got.ID != req.ID {
		t.Fatal("cancellation must not clear the slot")
	}
}
