package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/ccs-service/internal/report"
)

func TestReceiverAcceptsWebhookReports(t *testing.T) {
	srv := httptest.NewServer(newRouter(slog.New(slog.NewTextHandler(io.Discard, nil))))
	defer srv.Close()

	sink, err := report.NewWebhookSink(report.WebhookConfig{
		URL:     srv.URL + "/reports",
		Timeout: time.Second,
	})
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Emit(context.Background(), report.Report{Sequence: 1}))
	assert.Equal(t, uint64(1), sink.GetStats().SuccessRequests)
}

func TestReceiverRejectsGarbage(t *testing.T) {
	srv := httptest.NewServer(newRouter(slog.New(slog.NewTextHandler(io.Discard, nil))))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/reports", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/reports")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}
