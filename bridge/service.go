// Package bridge wires the operation validator and the job queue to their
// two audiences: the producer, which reaches the bridge through MCP tools,
// and the executor plugin, which can only poll the HTTP API.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/hazyhaar/figbridge/jobq"
	"github.com/hazyhaar/figbridge/ops"
)

const (
	DefaultStatusWait = 15 * time.Second
	MaxStatusWait     = 60 * time.Second

	DefaultReadDepth   = 3
	MaxReadDepth       = 10
	DefaultReadTimeout = 30 * time.Second

	DefaultMaxBody = 16 << 20

	// MaxTreeChars caps the node tree text returned to the producer.
	MaxTreeChars = 50_000
)

var (
	ErrJobNotFound = errors.New("bridge: job not found")
	ErrBadDepth    = fmt.Errorf("bridge: depth must be between 0 and %d", MaxReadDepth)
)

// Service holds the queue shared by the producer tools and the executor
// routes.
type Service struct {
	queue       *jobq.Queue
	logger      *slog.Logger
	readTimeout time.Duration
	maxBody     int64
}

// Option configures a Service.
type Option func(*Service)

// WithReadTimeout bounds how long ReadTree waits for the executor.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}

// WithMaxBody caps executor request bodies.
func WithMaxBody(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

func NewService(q *jobq.Queue, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		queue:       q,
		logger:      logger.With("component", "bridge"),
		readTimeout: DefaultReadTimeout,
		maxBody:     DefaultMaxBody,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Queue returns the underlying queue.
func (s *Service) Queue() *jobq.Queue { return s.queue }

// Enqueue validates raw and queues it as one job. Nothing is queued when
// validation fails; the error is an *ops.OpError or an ops sentinel.
func (s *Service) Enqueue(raw []map[string]any) (jobq.Snapshot, error) {
	batch, err := ops.Validate(raw)
	if err != nil {
		return jobq.Snapshot{}, err
	}
	snap := s.queue.Jobs.Enqueue(batch.Wire())
	s.logger.Info("job enqueued", "job_id", snap.ID, "ops", snap.OpCount)
	return snap, nil
}

// Status returns the job, first waiting up to wait for it to finish when it
// is not terminal. wait is clamped to [0, MaxStatusWait].
func (s *Service) Status(ctx context.Context, id string, wait time.Duration) (jobq.Snapshot, error) {
	wait = min(max(wait, 0), MaxStatusWait)
	snap, found := s.queue.Jobs.Await(ctx, id, wait)
	if !found {
		return jobq.Snapshot{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return snap, nil
}

// Jobs lists every job in creation order.
func (s *Service) Jobs() []jobq.Summary { return s.queue.Jobs.Summaries() }

// Attached reports whether the executor polled recently.
func (s *Service) Attached() bool { return s.queue.Live.IsAttached() }

// ReadOutcome is the result of a read-back attempt.
type ReadOutcome int

const (
	ReadOK ReadOutcome = iota
	ReadDetached
	ReadTimeout
)

// ReadTree asks the executor for its node tree and waits for the answer.
// When the executor is detached no request is published.
func (s *Service) ReadTree(ctx context.Context, depth int) (json.RawMessage, ReadOutcome, error) {
	if depth < 0 || depth > MaxReadDepth {
		return nil, 0, fmt.Errorf("%w: got %d", ErrBadDepth, depth)
	}
	if !s.Attached() {
		return nil, ReadDetached, nil
	}
	req := s.queue.Reads.Request(depth)
	data, ok := s.queue.Reads.Await(ctx, req, s.readTimeout)
	if !ok {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		s.logger.Warn("read request timed out", "read_id", req.ID, "depth", depth)
		return nil, ReadTimeout, nil
	}
	return data, ReadOK, nil
}

// truncate cuts text to at most limit characters and appends a note with
// the full length.
func truncate(text string, limit int) string {
	n := utf8.RuneCountInString(text)
	if n <= limit {
		return text
	}
	cut := 0
	for range limit {
		_, size := utf8.DecodeRuneInString(text[cut:])
		cut += size
	}
	return fmt.Sprintf("%s\n\n[Truncated: showing %d of %d characters. Call read_node_tree with a lower depth to see the whole tree.]",
		text[:cut], limit, n)
}
