package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AsyncSink decouples audit delivery from the sync path.
//
// The state machine must never stall or fail because the audit store is
// slow or down: Append buffers the record and returns immediately; a
// background drainer delivers to the destination sink, re-attempting
// failed deliveries a bounded number of times before dropping the record
// with an error log.
//
// The buffer is unbounded so a burst of attempts can never block a worker.
// Thread-safety mirrors the enqueue/dequeue split: Append may be called
// from any goroutine, the drain loop runs in exactly one.
type AsyncSink struct {
	dst Sink

	maxDeliveries int
	deliverTO     time.Duration
	retryDelay    time.Duration

	mu       sync.Mutex
	buf      []delivery
	inFlight bool
	closed   bool

	signal chan struct{} // availability signal (buffered, size 1)
	done   chan struct{} // closed when the drain loop exits
}

type delivery struct {
	rec      Record
	attempts int
}

// AsyncOption configures an AsyncSink.
type AsyncOption func(*AsyncSink)

// WithMaxDeliveries bounds delivery attempts per record (default 3).
func WithMaxDeliveries(n int) AsyncOption {
	return func(s *AsyncSink) {
		s.maxDeliveries = n
	}
}

// WithDeliveryTimeout bounds each delivery attempt (default 5s).
func WithDeliveryTimeout(d time.Duration) AsyncOption {
	return func(s *AsyncSink) {
		s.deliverTO = d
	}
}

// WithRetryDelay sets the pause after a failed delivery (default 100ms).
// Tests shrink it to keep re-delivery cases fast.
func WithRetryDelay(d time.Duration) AsyncOption {
	return func(s *AsyncSink) {
		s.retryDelay = d
	}
}

// NewAsync wraps dst and starts the drain loop.
// Callers own the sink's lifecycle: Flush before shutdown, then Close.
func NewAsync(dst Sink, opts ...AsyncOption) *AsyncSink {
	s := &AsyncSink{
		dst:           dst,
		maxDeliveries: 3,
		deliverTO:     5 * time.Second,
		retryDelay:    100 * time.Millisecond,
		buf:           make([]delivery, 0, 64),
		signal:        make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.drain()
	return s
}

// Append implements Sink. Never blocks and never returns an error: audit
// delivery problems are the drainer's to handle, not the sync path's.
// Records appended after Close are dropped with a log.
func (s *AsyncSink) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		slog.Error("audit record dropped: sink closed",
			"release_id", rec.ReleaseID,
			"operation", rec.Operation,
		)
		return nil
	}
	s.buf = append(s.buf, delivery{rec: rec})
	// Coalescing signal: a buffer of one is enough to wake the drainer.
	// Sent under the lock so it cannot race Close closing the channel.
	select {
	case s.signal <- struct{}{}:
	default:
	}
	s.mu.Unlock()
	return nil
}

// Flush blocks until every buffered record has been delivered or dropped,
// or ctx is done. Call before process exit so shutdown cannot lose audit
// history that the sync path already considers recorded.
func (s *AsyncSink) Flush(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		s.mu.Lock()
		empty := len(s.buf) == 0 && !s.inFlight
		s.mu.Unlock()
		if empty {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close stops the drain loop after the buffer empties and waits for it to
// exit. Idempotent.
func (s *AsyncSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	close(s.signal) // wakes the drainer; it exits once the buffer is empty
	s.mu.Unlock()

	<-s.done
}

// Pending returns the number of undelivered records. Diagnostics/tests.
func (s *AsyncSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// drain is the single-consumer delivery loop.
func (s *AsyncSink) drain() {
	defer close(s.done)

	for {
		d, ok := s.next()
		if !ok {
			s.mu.Lock()
			exit := s.closed && len(s.buf) == 0
			s.mu.Unlock()
			if exit {
				return
			}
			<-s.signal // closed channel also wakes us for the exit check
			continue
		}

		s.deliver(d)
	}
}

// next pops the oldest buffered delivery, marking the drainer in-flight
// so Flush does not report empty while a record is being written.
func (s *AsyncSink) next() (delivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) == 0 {
		return delivery{}, false
	}

	d := s.buf[0]
	// Zero the slot so the backing array does not retain the record.
	s.buf[0] = delivery{}
	if len(s.buf) == 1 {
		s.buf = s.buf[:0]
	} else {
		s.buf = s.buf[1:]
	}
	s.inFlight = true
	return d, true
}

// deliver writes one record, re-queueing on failure until the delivery
// budget runs out.
func (s *AsyncSink) deliver(d delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), s.deliverTO)
	err := s.dst.Append(ctx, d.rec)
	cancel()

	s.mu.Lock()
	s.inFlight = false
	if err == nil {
		s.mu.Unlock()
		return
	}

	d.attempts++
	if d.attempts >= s.maxDeliveries {
		s.mu.Unlock()
		slog.Error("audit record dropped after re-delivery budget",
			"error", err,
			"release_id", d.rec.ReleaseID,
			"operation", d.rec.Operation,
			"attempts", d.attempts,
		)
		return
	}

	s.buf = append(s.buf, d)
	s.mu.Unlock()

	slog.Warn("audit delivery failed, will re-attempt",
		"error", err,
		"release_id", d.rec.ReleaseID,
		"attempts", d.attempts,
	)
	time.Sleep(s.retryDelay)
}
