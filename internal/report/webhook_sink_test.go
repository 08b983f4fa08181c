package report

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/skypro1111/ccs-service/internal/protocol"
	"github.com/skypro1111/ccs-service/internal/stats"
)

func newTestWebhook(t *testing.T, url string, maxRetries int) *WebhookSink {
	t.Helper()

	sink, err := NewWebhookSink(WebhookConfig{
		URL:        url,
		Token:      "secret",
		Timeout:    time.Second,
		MaxRetries: maxRetries,
	})
	require.NoError(t, err)
	sink.backoff = time.Millisecond
	t.Cleanup(sink.Close)
	return sink
}

func TestWebhookSinkDelivers(t *testing.T) {
	var got Report
	var auth, contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		contentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := newTestWebhook(t, srv.URL, 2)

	counters := stats.NewCounters()
	counters.RecordComputed(protocol.OpMul, 42)
	rep := Report{Sequence: 7, Period: counters.Drain()}

	require.NoError(t, sink.Emit(context.Background(), rep))
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, uint64(7), got.Sequence)
	assert.Equal(t, int64(42), got.Period.ValueSum)

	assert.Equal(t, WebhookStats{TotalRequests: 1, SuccessRequests: 1}, sink.GetStats())
}

func TestWebhookSinkRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Inc() < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := newTestWebhook(t, srv.URL, 2)

	require.NoError(t, sink.Emit(context.Background(), Report{}))
	assert.Equal(t, int32(3), calls.Load())

	st := sink.GetStats()
	assert.Equal(t, uint64(2), st.TotalRetries)
	assert.Equal(t, uint64(1), st.SuccessRequests)
}

func TestWebhookSinkGivesUp(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		expectedCalls int32
	}{
		{"client error is not retried", http.StatusBadRequest, 1},
		{"rate limit is retried", http.StatusTooManyRequests, 3},
		{"server error is retried", http.StatusInternalServerError, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Inc()
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			sink := newTestWebhook(t, srv.URL, 2)

			err := sink.Emit(context.Background(), Report{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "webhook delivery failed")

			var se *statusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.status, se.code)
			assert.Equal(t, tt.expectedCalls, calls.Load())
			assert.Equal(t, uint64(1), sink.GetStats().FailedRequests)
		})
	}
}

func TestWebhookSinkConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	sink := newTestWebhook(t, url, 1)

	require.Error(t, sink.Emit(context.Background(), Report{}))
	assert.Equal(t, uint64(1), sink.GetStats().TotalRetries)
}

func TestWebhookSinkStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := newTestWebhook(t, srv.URL, 5)
	sink.backoff = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, sink.Emit(ctx, Report{}), context.DeadlineExceeded)
}

func TestNewWebhookSinkRequiresURL(t *testing.T) {
	_, err := NewWebhookSink(WebhookConfig{})
	assert.Error(t, err)
}

func TestRetryDelay(t *testing.T) {
	sink := &WebhookSink{backoff: 500 * time.Millisecond}

	assert.Equal(t, 500*time.Millisecond, sink.retryDelay(1))
	assert.Equal(t, time.Second, sink.retryDelay(2))
	assert.Equal(t, 2*time.Second, sink.retryDelay(3))
	assert.Equal(t, maxWebhookBackoff, sink.retryDelay(10))
}
