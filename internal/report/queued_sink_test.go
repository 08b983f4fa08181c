package report

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/ccs-service/internal/metrics"
	"github.com/skypro1111/ccs-service/internal/protocol"
)

// blockingSink holds every delivery until released or cancelled
type blockingSink struct {
	started chan struct{}
	release chan struct{}

	mu        sync.Mutex
	sequences []uint64
}

func newBlockingSink() *blockingSink {
	return &blockingSink{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (b *blockingSink) Name() string { return "blocking" }

func (b *blockingSink) Emit(ctx context.Context, r Report) error {
	select {
	case b.started <- struct{}{}:
	default:
	}

	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.sequences = append(b.sequences, r.Sequence)
	return nil
}

func (b *blockingSink) delivered() []uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]uint64(nil), b.sequences...)
}

func TestRunKeepsScheduleWithBlockedSink(t *testing.T) {
	const interval = 20 * time.Millisecond

	blocked := newBlockingSink()
	queued := NewQueuedSink(blocked, 2, testLogger(), metrics.NewMetrics())
	capture := &captureSink{}
	r, rolling, _ := newTestReporter(interval, queued, capture)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	rolling.RecordComputed(protocol.OpAdd, 1)

	// The blocked destination holds its first report for the whole test, yet
	// periods keep closing on the ticker.
	require.Eventually(t, func() bool { return capture.count() >= 10 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done

	assert.Empty(t, blocked.delivered())
	assert.Positive(t, queued.Dropped())
	assert.Equal(t, uint64(1), r.Cumulative().ComputedRequests)

	close(blocked.release)
	require.NoError(t, queued.Close(context.Background()))
	assert.NotEmpty(t, blocked.delivered())
}

func TestQueuedSinkDropsOldest(t *testing.T) {
	blocked := newBlockingSink()
	queued := NewQueuedSink(blocked, 2, testLogger(), metrics.NewMetrics())

	require.NoError(t, queued.Emit(context.Background(), Report{Sequence: 1}))
	<-blocked.started

	for seq := uint64(2); seq <= 5; seq++ {
		require.NoError(t, queued.Emit(context.Background(), Report{Sequence: seq}))
	}
	assert.Equal(t, uint64(2), queued.Dropped())

	close(blocked.release)
	require.NoError(t, queued.Close(context.Background()))

	assert.Equal(t, []uint64{1, 4, 5}, blocked.delivered())
	assert.Equal(t, uint64(3), queued.Delivered())
	assert.ErrorIs(t, queued.Emit(context.Background(), Report{Sequence: 6}), ErrSinkClosed)
}

func TestQueuedSinkCloseCancelsDelivery(t *testing.T) {
	blocked := newBlockingSink()
	queued := NewQueuedSink(blocked, 4, testLogger(), metrics.NewMetrics())

	require.NoError(t, queued.Emit(context.Background(), Report{Sequence: 1}))
	<-blocked.started
	require.NoError(t, queued.Emit(context.Background(), Report{Sequence: 2}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, queued.Close(ctx), context.DeadlineExceeded)
	assert.Empty(t, blocked.delivered())
	assert.Equal(t, uint64(0), queued.Delivered())
}

func TestQueuedSinkRecordsErrors(t *testing.T) {
	m := metrics.NewMetrics()
	failing := &captureSink{err: assert.AnError}
	queued := NewQueuedSink(failing, 4, testLogger(), m)

	require.NoError(t, queued.Emit(context.Background(), Report{Sequence: 1}))
	require.NoError(t, queued.Emit(context.Background(), Report{Sequence: 2}))
	require.NoError(t, queued.Close(context.Background()))

	assert.Equal(t, 2, failing.count())
	assert.Equal(t, "capture", queued.Name())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SinkErrors.WithLabelValues("capture")))
	assert.Equal(t, uint64(0), queued.Delivered())
}
