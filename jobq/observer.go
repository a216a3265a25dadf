package jobq

import "time"

// ReadOutcome names a read-back lifecycle event.
type ReadOutcome string

const (
	ReadRequested  ReadOutcome = "requested"
	ReadSuperseded ReadOutcome = "superseded"
	ReadFulfilled  ReadOutcome = "fulfilled"
	ReadTimedOut   ReadOutcome = "timed_out"
	// ReadAbandoned means the waiter's context ended before the timeout.
	ReadAbandoned ReadOutcome = "abandoned"
)

// ReadEvent describes a read-back lifecycle event. Wait is set for
// fulfilled, timed-out and abandoned events.
type ReadEvent struct {
	ID      string
	Depth   int
	Outcome ReadOutcome
	Wait    time.Duration
}

// Observer is notified after each transition, outside every lock.
// Implementations must not block; the metrics and the journal are the two
// in-tree implementations.
type Observer interface {
	// JobChanged is called with the new snapshot; from is "" on enqueue.
	JobChanged(snap Snapshot, from State)
	ReadChanged(ev ReadEvent)
}

type nopObserver struct{}

func (nopObserver) JobChanged(Snapshot, State) {}
func (nopObserver) ReadChanged(ReadEvent)      {}

type multiObserver []Observer

func (m multiObserver) JobChanged(snap Snapshot, from State) {
	for _, o := range m {
		o.JobChanged(snap, from)
	}
}

func (m multiObserver) ReadChanged(ev ReadEvent) {
	for _, o := range m {
		o.ReadChanged(ev)
	}
}

// Observers fans events out to every non-nil observer in order.
func Observers(obs ...Observer) Observer {
	var m multiObserver
	for _, o := range obs {
		switch o := o.(type) {
		case nil, nopObserver:
		case multiObserver:
			m = append(m, o...)
		default:
			m = append(m, o)
		}
	}
	if len(m) == 0 {
		return nopObserver{}
	}
	return m
}
