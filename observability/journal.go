// Package observability records what the bridge does: an optional SQLite
// event journal of every job and read-back transition, and Prometheus
// metrics exported through OpenTelemetry. Both plug into the queue as
// jobq.Observer implementations.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/figbridge/dbopen"
	"github.com/hazyhaar/figbridge/idgen"
	"github.com/hazyhaar/figbridge/jobq"
)

// Event is one journal row.
type Event struct {
	ID         string
	At         time.Time
	EntityType string
	EntityID   string
	Action     string
	FromState  string
	OpCount    int
	Details    string
}

// Journal persists events asynchronously. Notifications never block the
// queue: when the buffer is full the event is dropped and counted.
type Journal struct {
	db            *sql.DB
	logger        *slog.Logger
	newID         idgen.Generator
	now           func() time.Time
	flushInterval time.Duration
	batchSize     int

	ch        chan Event
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
}

// JournalOption configures a Journal.
type JournalOption func(*Journal)

// WithJournalIDGenerator sets the event ID generator.
func WithJournalIDGenerator(gen idgen.Generator) JournalOption {
	return func(j *Journal) { j.newID = gen }
}

// WithFlushInterval sets how often buffered events are written.
func WithFlushInterval(d time.Duration) JournalOption {
	return func(j *Journal) {
		if d > 0 {
			j.flushInterval = d
		}
	}
}

func WithJournalLogger(l *slog.Logger) JournalOption {
	return func(j *Journal) { j.logger = l }
}

// NewJournal applies Schema and starts the flush loop. Recommended
// bufferSize: 1024.
func NewJournal(db *sql.DB, bufferSize int, opts ...JournalOption) (*Journal, error) {
	if err := Init(context.Background(), db); err != nil {
		return nil, err
	}
	j := &Journal{
		db:            db,
		logger:        slog.Default(),
		newID:         idgen.Prefixed("evt_", idgen.Default),
		now:           time.Now,
		flushInterval: 2 * time.Second,
		batchSize:     100,
		ch:            make(chan Event, bufferSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, o := range opts {
		o(j)
	}
	j.logger = j.logger.With("component", "journal")
	go j.flushLoop()
	return j, nil
}

// JobChanged implements jobq.Observer.
func (j *Journal) JobChanged(snap jobq.Snapshot, from jobq.State) {
	details := map[string]any{}
	if snap.Error != "" {
		details["error"] = snap.Error
	}
	if snap.Result != nil {
		details["resultBytes"] = len(snap.Result)
	}
	if snap.FinishedAt != nil {
		details["durationMs"] = snap.FinishedAt.Sub(snap.CreatedAt).Milliseconds()
	}
	j.record(Event{
		EntityType: "job",
		EntityID:   snap.ID,
		Action:     jobAction(snap.Status),
		FromState:  string(from),
		OpCount:    snap.OpCount,
		Details:    encodeDetails(details),
	})
}

// ReadChanged implements jobq.Observer.
func (j *Journal) ReadChanged(ev jobq.ReadEvent) {
	details := map[string]any{"depth": ev.Depth}
	if ev.Wait > 0 {
		details["waitMs"] = ev.Wait.Milliseconds()
	}
	j.record(Event{
		EntityType: "read",
		EntityID:   ev.ID,
		Action:     string(ev.Outcome),
		Details:    encodeDetails(details),
	})
}

func jobAction(s jobq.State) string {
	switch s {
	case jobq.StatePending:
		return "enqueued"
	case jobq.StateInProgress:
		return "claimed"
	default:
		return string(s)
	}
}

func encodeDetails(m map[string]any) string {
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func (j *Journal) record(e Event) {
	e.ID = j.newID()
	e.At = j.now()
	select {
	case j.ch <- e:
	default:
		if n := j.dropped.Add(1); n == 1 || n%100 == 0 {
			j.logger.Warn("journal buffer full, dropping events", "dropped", n)
		}
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (j *Journal) Dropped() int64 { return j.dropped.Load() }

// Close flushes pending events and stops the loop. Safe to call twice.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() { close(j.stop) })
	<-j.done
	return nil
}

// Events returns the journal rows for one entity, oldest first.
func (j *Journal) Events(ctx context.Context, entityID string) ([]Event, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT event_id, created_at, entity_type, entity_id, action, from_state, op_count, details
		FROM bridge_events WHERE entity_id = ? ORDER BY created_at, rowid`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var ms int64
		if err := rows.Scan(&e.ID, &ms, &e.EntityType, &e.EntityID, &e.Action, &e.FromState, &e.OpCount, &e.Details); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (j *Journal) flushLoop() {
	defer close(j.done)
	ticker := time.NewTicker(j.flushInterval)
	defer ticker.Stop()
	batch := make([]Event, 0, j.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := j.insert(ctx, batch); err != nil {
			j.logger.Error("journal flush failed", "error", err, "events", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-j.stop:
			for {
				select {
				case e := <-j.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-j.ch:
			batch = append(batch, e)
			if len(batch) >= j.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (j *Journal) insert(ctx context.Context, batch []Event) error {
	return dbopen.RunTx(ctx, j.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO bridge_events
			(event_id, created_at, entity_type, entity_id, action, from_state, op_count, details)
			VALUES (?,?,?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range batch {
			if _, err := stmt.ExecContext(ctx,
				e.ID, e.At.UnixMilli(), e.EntityType, e.EntityID, e.Action, e.FromState, e.OpCount, e.Details,
			); err != nil {
				return err
			}
		}
		return nil
	})
}
