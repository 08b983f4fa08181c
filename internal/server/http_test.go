package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/ccs-service/internal/report"
)

func newTestAPI(t *testing.T) (*testEnv, *httptest.Server) {
	t.Helper()

	env := newTestEnv(t)
	api := NewHTTPServer(testLogger(), env.cfg, env.tcp, env.udp, env.sessions, env.reporter, env.hub, env.metrics)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return env, srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHTTPHealth(t *testing.T) {
	_, srv := newTestAPI(t)

	var body map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/health", &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Contains(t, body, "components")
}

func TestHTTPRoot(t *testing.T) {
	_, srv := newTestAPI(t)

	var body map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/", &body))
	assert.Contains(t, body["endpoints"], "GET /stats")
}

func TestHTTPStats(t *testing.T) {
	env, srv := newTestAPI(t)

	c := env.dial(t)
	_, err := c.Send("MUL 6 7")
	require.NoError(t, err)
	_, err = c.Send("DIV 1 0")
	require.NoError(t, err)

	var body struct {
		Rolling struct {
			ComputedRequests    uint64            `json:"computed_requests"`
			IncorrectOperations uint64            `json:"incorrect_operations"`
			ValueSum            int64             `json:"value_sum"`
			PerOperation        map[string]uint64 `json:"per_operation"`
		} `json:"rolling"`
		LastReport *report.Report `json:"last_report"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/stats", &body))
	assert.Equal(t, uint64(1), body.Rolling.ComputedRequests)
	assert.Equal(t, uint64(1), body.Rolling.IncorrectOperations)
	assert.Equal(t, int64(42), body.Rolling.ValueSum)
	assert.Len(t, body.Rolling.PerOperation, 4)
	assert.Nil(t, body.LastReport)
}

func TestHTTPSessions(t *testing.T) {
	env, srv := newTestAPI(t)

	c := env.dial(t)
	_, err := c.Send("ADD 1 2")
	require.NoError(t, err)

	var list struct {
		TotalSessions int `json:"total_sessions"`
		Sessions      []struct {
			ID         string `json:"id"`
			RemoteAddr string `json:"remote_addr"`
			Requests   uint64 `json:"requests"`
		} `json:"sessions"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/sessions", &list))
	require.Equal(t, 1, list.TotalSessions)
	assert.Equal(t, c.LocalAddr().String(), list.Sessions[0].RemoteAddr)

	var detail map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/sessions/"+list.Sessions[0].ID, &detail))
	assert.Equal(t, float64(1), detail["requests"])

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/sessions/not-a-uuid", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/sessions/"+uuid.NewString(), nil))
}

func TestHTTPConfig(t *testing.T) {
	_, srv := newTestAPI(t)

	var body map[string]map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/config", &body))
	assert.Equal(t, "127.0.0.1", body["server"]["bind_address"])
	assert.Equal(t, float64(64), body["discovery"]["buffer_size"])
	assert.NotContains(t, body["nats"], "url")
}

func TestHTTPMetrics(t *testing.T) {
	env, srv := newTestAPI(t)

	c := env.dial(t)
	_, err := c.Send("ADD 1 2")
	require.NoError(t, err)

	// Generates an HTTP request sample before the scrape
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/health", &map[string]any{}))

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(data)

	assert.Contains(t, body, `ccs_requests_computed_total{operation="ADD"} 1`)
	assert.Contains(t, body, `ccs_request_errors_total{kind="overflow"} 0`)
	assert.Contains(t, body, "ccs_connections_accepted_total 1")
	assert.Contains(t, body, `ccs_http_requests_total{endpoint="/health",method="GET",status_code="200"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestHTTPUnknownRoute(t *testing.T) {
	_, srv := newTestAPI(t)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/nope", nil))
}

func TestWebsocketStatsStream(t *testing.T) {
	env, srv := newTestAPI(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/stats"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool { return env.hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	c := env.dial(t)
	_, err = c.Send("SUB 5 7")
	require.NoError(t, err)

	sent := env.reporter.Tick(context.Background())

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got report.Report
	require.NoError(t, ws.ReadJSON(&got))

	assert.Equal(t, sent.Sequence, got.Sequence)
	assert.Equal(t, uint64(1), got.Period.ComputedRequests)
	assert.Equal(t, int64(-2), got.Period.ValueSum)
	assert.Equal(t, uint64(1), got.Total.PerOperation["SUB"])
}

func TestHubCloseDisconnectsSubscribers(t *testing.T) {
	env, srv := newTestAPI(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/stats"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool { return env.hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	env.hub.Close()
	assert.Equal(t, 0, env.hub.Subscribers())

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = ws.ReadMessage()
	assert.Error(t, err, "expected the subscription to end")

	// Emitting after close is a no-op
	assert.NoError(t, env.hub.Emit(context.Background(), report.Report{}))
}
