// Package eventsink batches CountedEvents into Postgres and, optionally,
// republishes them on NATS for downstream consumers. It is the single
// destination for every event the counter produces.
package eventsink

import (
	"context"
	"sync"
	"time"
)

// CountedEvent is the sink's wire shape for one zone transition, matching
// the counter_events table schema.
type CountedEvent struct {
	OccurredAt   time.Time
	ChannelID    int
	ZoneID       string
	EventType    string // "enter" or "exit"
	TrackID      int
	PersonID     *string
	FrameNumber  int
}

const (
	defaultFlushBatchSize = 200
	defaultFlushInterval  = 500 * time.Millisecond
	hardCapEntries        = 10000
)

// Writer is anything that can durably persist a batch of events. Sink
// treats a Writer error as sink-down: the batch is dropped (not retried
// inline) and sink_errors_total is incremented by the caller's metrics
// hook.
type Writer interface {
	WriteBatch(ctx context.Context, events []CountedEvent) error
}

// Publisher optionally fans out individual events (e.g. onto NATS). A nil
// Publisher disables fan-out entirely.
type Publisher interface {
	Publish(event CountedEvent) error
}

// Sink owns the in-process batching buffer described by the event sink's
// flush policy: flush at 200 events or 500ms of age, whichever comes
// first, with a hard 10,000-entry cap that drops the oldest entry on
// overflow.
type Sink struct {
	writer    Writer
	publisher Publisher

	flushBatchSize int
	flushInterval  time.Duration

	mu       sync.Mutex
	buf      []CountedEvent
	lastFlus time.Time
	dropped  int64

	onFlushError func(error)
	onOverflow   func()
}

// Option configures a Sink away from its defaults.
type Option func(*Sink)

// WithFlushBatchSize overrides the flush-by-count threshold (default 200).
func WithFlushBatchSize(n int) Option {
	return func(s *Sink) { s.flushBatchSize = n }
}

// WithFlushInterval overrides the flush-by-age threshold (default 500ms).
func WithFlushInterval(d time.Duration) Option {
	return func(s *Sink) { s.flushInterval = d }
}

// WithPublisher attaches an optional fan-out publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Sink) { s.publisher = p }
}

// WithFlushErrorHook registers a callback invoked whenever WriteBatch
// fails, for wiring sink_errors_total.
func WithFlushErrorHook(fn func(error)) Option {
	return func(s *Sink) { s.onFlushError = fn }
}

// WithOverflowHook registers a callback invoked whenever the hard cap is
// hit and an event is dropped, for wiring a loss counter.
func WithOverflowHook(fn func()) Option {
	return func(s *Sink) { s.onOverflow = fn }
}

// New builds a Sink over the given durable Writer.
func New(writer Writer, opts ...Option) *Sink {
	s := &Sink{
		writer:         writer,
		flushBatchSize: defaultFlushBatchSize,
		flushInterval:  defaultFlushInterval,
		lastFlus:       time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue appends one event to the buffer, flushing inline if the batch
// threshold or age threshold has been reached. Overflow past the hard cap
// drops the oldest buffered event and increments the loss counter.
func (s *Sink) Enqueue(ctx context.Context, evt CountedEvent) {
	if s.publisher != nil {
		_ = s.publisher.Publish(evt)
	}

	s.mu.Lock()
	if len(s.buf) >= hardCapEntries {
		s.buf = s.buf[1:]
		s.dropped++
		if s.onOverflow != nil {
			s.onOverflow()
		}
	}
	s.buf = append(s.buf, evt)
	shouldFlush := len(s.buf) >= s.flushBatchSize || time.Since(s.lastFlus) >= s.flushInterval
	s.mu.Unlock()

	if shouldFlush {
		s.Flush(ctx)
	}
}

// Flush writes out whatever is currently buffered, regardless of whether
// a threshold has been reached. Safe to call on a timer.
func (s *Sink) Flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.buf) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.buf
	s.buf = nil
	s.lastFlus = time.Now()
	s.mu.Unlock()

	if err := s.writer.WriteBatch(ctx, batch); err != nil {
		if s.onFlushError != nil {
			s.onFlushError(err)
		}
	}
}

// Dropped returns the cumulative count of events dropped to overflow.
func (s *Sink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Buffered returns the current buffer depth, for health/diagnostic
// reporting.
func (s *Sink) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// RunFlushLoop periodically flushes on the configured interval until ctx
// is canceled, for callers that want age-based flushing even when no new
// events arrive. A final flush runs before returning (cancellation must
// not drop already-buffered events, per the shutdown contract).
func (s *Sink) RunFlushLoop(ctx context.Context) {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Flush(context.Background())
			return
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}
