package report

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"go.uber.org/atomic"

	"github.com/skypro1111/ccs-service/internal/metrics"
)

// DefaultQueueSize is the number of reports buffered per queued sink
const DefaultQueueSize = 8

// ErrSinkClosed is returned by Emit after Close
var ErrSinkClosed = errors.New("sink closed")

// QueuedSink delivers reports to a wrapped sink from its own goroutine, so a
// slow or unreachable destination never delays the reporter's ticks.
// When the queue is full the oldest pending report is dropped.
type QueuedSink struct {
	sink    Sink
	logger  *slog.Logger
	metrics *metrics.Metrics
	queue   chan Report

	// Cancelled by Close to abort an in-flight delivery
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex // serializes enqueue and close
	closed bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewQueuedSink wraps sink and starts its delivery goroutine
func NewQueuedSink(sink Sink, size int, logger *slog.Logger, m *metrics.Metrics) *QueuedSink {
	if size < 1 {
		size = DefaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &QueuedSink{
		sink:    sink,
		logger:  logger,
		metrics: m,
		queue:   make(chan Report, size),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go q.deliverLoop()

	return q
}

// Name implements Sink
func (q *QueuedSink) Name() string { return q.sink.Name() }

// Emit implements Sink. It never blocks on the wrapped sink.
func (q *QueuedSink) Emit(_ context.Context, r Report) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrSinkClosed
	}

	for {
		select {
		case q.queue <- r:
			return nil
		default:
		}

		select {
		case old := <-q.queue:
			q.dropped.Inc()
			q.logger.Warn("Report queue full, dropping oldest report",
				slog.String("sink", q.sink.Name()),
				slog.Uint64("sequence", old.Sequence),
			)
		default:
		}
	}
}

// deliverLoop hands queued reports to the wrapped sink until the queue is closed
func (q *QueuedSink) deliverLoop() {
	defer close(q.done)

	for r := range q.queue {
		if err := q.sink.Emit(q.ctx, r); err != nil {
			q.metrics.RecordSinkError(q.sink.Name())
			q.logger.Warn("Failed to emit statistics report",
				slog.String("sink", q.sink.Name()),
				slog.Uint64("sequence", r.Sequence),
				slog.String("error", err.Error()),
			)
			continue
		}
		q.delivered.Inc()
	}
}

// Close stops accepting reports and waits for the queue to drain. If ctx ends
// first, the in-flight delivery is cancelled and the remaining reports are discarded.
func (q *QueuedSink) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.queue)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.done
		return ctx.Err()
	}
}

// Delivered returns the number of reports the wrapped sink accepted
func (q *QueuedSink) Delivered() uint64 {
	return q.delivered.Load()
}

// Dropped returns the number of reports discarded because the queue was full
func (q *QueuedSink) Dropped() uint64 {
	return q.dropped.Load()
}
