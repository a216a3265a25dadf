package jobq

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/figbridge/idgen"
)

func testOps(n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{"op": "CREATE_ELLIPSE", "tempId": string(rune('a' + i))}
	}
	return out
}

func TestEnqueue_StartsPending(t *testing.T) {
	r := NewRegistry(WithIDGenerator(idgen.Sequential("job-")))
	snap := r.Enqueue(testOps(2))
	if snap.ID != "job-1" || snap.Status != StatePending || snap.OpCount != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
	got, ok := r.Get("job-1")
	if !ok || got.Status != StatePending {
		t.Fatalf("Get = %+v, %v", got, ok)
	}
}

func TestDrain_FIFOAndExactlyOnce(t *testing.T) {
	r := NewRegistry()
	first := r.Enqueue(testOps(1))
	second := r.Enqueue(testOps(1))

	got, ok := r.Drain()
	if !ok || got.ID != first.ID || got.Status != StateInProgress {
		t.Fatalf("first drain = %+v, %v", got, ok)
	}
	got, ok = r.Drain()
	if !ok || got.ID != second.ID {
		t.Fatalf("second drain = %+v, %v", got, ok)
	}
	if _, ok := r.Drain(); ok {
		t.Fatal("queue should be empty")
	}
}

func TestDrain_ConcurrentClaimsAreUnique(t *testing.T) {
	// WHAT: Many executors draining at once never claim the same job twice.
	r := NewRegistry()
	const jobs = 200
	for range jobs {
		r.Enqueue(testOps(1))
	}

	var mu sync.Mutex
	claimed := make(map[string]int)
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				snap, ok := r.Drain()
				if !ok {
					return
				}
				mu.Lock()
				claimed[snap.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != jobs {
		t.Fatalf("claimed %d distinct jobs, want %d", len(claimed), jobs)
	}
	for id, n := range claimed {
		if n != 1 {
			t.Errorf("job %s claimed %d times", id, n)
		}
	}
}

func TestComplete_OnlyFromInProgress(t *testing.T) {
	r := NewRegistry()
	snap := r.Enqueue(testOps(1))

	if r.Complete(snap.ID, json.RawMessage(`{}`)) {
		t.Fatal("completing a pending job must fail")
	}
	if r.Complete("missing", json.RawMessage(`{}`)) {
		t.Fatal("completing an unknown job must fail")
	}

	r.Drain()
	if !r.Complete(snap.ID, json.RawMessage(`{"a":"1:23"}`)) {
		t.Fatal("complete should succeed")
	}
	// Late duplicate callback and a late failure are both no-ops.
	if r.Complete(snap.ID, json.RawMessage(`{"a":"9:99"}`)) {
		t.Fatal("second complete must fail")
	}
	if r.Fail(snap.ID, "boom") {
		t.Fatal("fail after complete must fail")
	}

	got, _ := r.Get(snap.ID)
	if got.Status != StateCompleted || string(got.Result) != `{"a":"1:23"}` || got.Error != "" {
		t.Fatalf("state after conflicts = %+v", got)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}
}

func TestFail_StoresMessage(t *testing.T) {
	r := NewRegistry()
	snap := r.Enqueue(testOps(1))
	r.Drain()
	if !r.Fail(snap.ID, "font not available") {
		t.Fatal("fail should succeed")
	}
	got, _ := r.Get(snap.ID)
	if got.Status != StateFailed || got.Error != "font not available" || got.Result != nil {
		t.Fatalf("got %+v", got)
	}
	if r.Complete(snap.ID, json.RawMessage(`{}`)) {
		t.Fatal("complete after fail must fail")
	}
}

func TestAwait_ReleasesAllWaiters(t *testing.T) {
	// WHAT: Every waiter, current or future, sees the terminal state once.
	r := NewRegistry()
	snap := r.Enqueue(testOps(1))
	r.Drain()

	const waiters = 10
	results := make(chan Snapshot, waiters)
	var started sync.WaitGroup
	for range waiters {
		started.Add(1)
		go func() {
			started.Done()
			s, _ := r.Await(context.Background(), snap.ID, 5*time.Second)
			results <- s
		}()
	}
	started.Wait()
	r.Complete(snap.ID, json.RawMessage(`{"ok":true}`))

	for range waiters {
		select {
		case s := <-results:
			if s.Status != StateCompleted {
				t.Errorf("waiter saw %s", s.Status)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("waiter not released")
		}
	}

	late, ok := r.Await(context.Background(), snap.ID, time.Second)
	if !ok || late.Status != StateCompleted {
		t.Fatalf("late waiter = %+v", late)
	}
}

func TestAwait_TimeoutReturnsCurrentSnapshot(t *testing.T) {
	// WHAT: A short wait returns in_progress with no error, and a later
	// wait still observes completion.
	r := NewRegistry()
	snap := r.Enqueue(testOps(1))
	r.Drain()

	got, ok := r.Await(context.Background(), snap.ID, 20*time.Millisecond)
	if !ok || got.Status != StateInProgress {
		t.Fatalf("after timeout = %+v, %v", got, ok)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		r.Complete(snap.ID, json.RawMessage(`{}`))
	}()
	got, _ = r.Await(context.Background(), snap.ID, 5*time.Second)
	if got.Status != StateCompleted {
		t.Fatalf("eventual status = %s", got.Status)
	}
}

func TestAwait_UnknownAndZeroTimeout(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Await(context.Background(), "nope", time.Second); ok {
		t.Fatal("unknown id should report not found")
	}
	snap := r.Enqueue(testOps(1))
	start := time.Now()
	got, ok := r.Await(context.Background(), snap.ID, 0)
	if !ok || got.Status != StatePending || time.Since(start) > time.Second {
		t.Fatalf("zero timeout should return immediately: %+v", got)
	}
}

func TestAwait_ContextCancel(t *testing.T) {
	r := NewRegistry()
	snap := r.Enqueue(testOps(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, ok := r.Await(ctx, snap.ID, time.Minute)
	if !ok || got.Status != StatePending {
		t.Fatalf("got %+v", got)
	}
}

func TestSummariesAndCounts(t *testing.T) {
	r := NewRegistry()
	a := r.Enqueue(testOps(3))
	b := r.Enqueue(testOps(1))
	r.Drain()
	r.Fail(a.ID, "nope")

	list := r.Summaries()
	if len(list) != 2 || list[0].ID != a.ID || list[1].ID != b.ID {
		t.Fatalf("order = %+v", list)
	}
	if list[0].OpCount != 3 || list[0].Status != StateFailed || list[0].Error != "nope" {
		t.Errorf("first = %+v", list[0])
	}
	counts := r.Counts()
	if counts[StateFailed] != 1 || counts[StatePending] != 1 || counts[StateCompleted] != 0 {
		t.Errorf("counts = %v", counts)
	}
}

type recordingObserver struct {
	mu    sync.Mutex
	jobs     []State
	reads    []ReadOutcome
	lastRead ReadEvent
}

func (o *recordingObserver) JobChanged(s Snapshot, _ State) {
	o.mu.Lock()
	o.jobs = append(o.jobs, s.Status)
	o.mu.Unlock()
}

func (o *recordingObserver) ReadChanged(ev ReadEvent) {
	o.mu.Lock()
	o.reads = append(o.reads, ev.Outcome)
	o.lastRead = ev
	o.mu.Unlock()
}

func TestObserver_SeesEveryTransition(t *testing.T) {
	obs := &recordingObserver{}
	r := NewRegistry(WithObserver(obs))
	snap := r.Enqueue(testOps(1))
	r.Drain()
	r.Complete(snap.ID, nil)
	r.Complete(snap.ID, nil) // no-op, no event

	want := []State{StatePending, StateInProgress, StateCompleted}
	if len(obs.jobs) != len(want) {
		t.Fatalf("events = %v", obs.jobs)
	}
	for i := range want {
		if obs.jobs[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, obs.jobs[i], want[i])
		}
	}
}
