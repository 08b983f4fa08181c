package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/ccs-service/internal/config"
	"github.com/skypro1111/ccs-service/internal/metrics"
	"github.com/skypro1111/ccs-service/internal/report"
	"github.com/skypro1111/ccs-service/internal/session"
)

const (
	serviceName    = "ccs-service"
	serviceVersion = "1.0.0"
)

// HTTPServer provides HTTP API endpoints for monitoring
type HTTPServer struct {
	server   *http.Server
	router   chi.Router
	logger   *slog.Logger
	config   *config.Config
	tcp      *TCPServer
	udp      *UDPServer
	sessions *session.Manager
	reporter *report.Reporter
	hub      *Hub
	metrics  *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(logger *slog.Logger, appConfig *config.Config, tcp *TCPServer, udp *UDPServer,
	sessions *session.Manager, reporter *report.Reporter, hub *Hub, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		tcp:       tcp,
		udp:       udp,
		sessions:  sessions,
		reporter:  reporter,
		hub:       hub,
		metrics:   m,
		startTime: time.Now(),
	}

	h.router = h.setupRoutes()

	h.server = &http.Server{
		Addr:         appConfig.HTTP.ListenAddress(),
		Handler:      h.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", h.withMetrics("/", h.handleRoot))
	r.Get("/health", h.withMetrics("/health", h.handleHealth))
	r.Get("/stats", h.withMetrics("/stats", h.handleStats))
	r.Get("/sessions", h.withMetrics("/sessions", h.handleSessions))
	r.Get("/sessions/{id}", h.withMetrics("/sessions/{id}", h.handleSessionDetail))
	r.Get("/config", h.withMetrics("/config", h.handleConfig))

	// No request metrics for the scrape and streaming endpoints
	r.Handle("/metrics", promhttp.HandlerFor(h.metrics.Registry(), promhttp.HandlerOpts{}))
	r.Handle("/ws/stats", h.hub)

	return r
}

// Handler returns the root handler
func (h *HTTPServer) Handler() http.Handler {
	return h.router
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		handler(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(status), time.Since(startTime).Seconds())
	}
}

// Start binds the HTTP listener and serves in the background
func (h *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on HTTP address %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting HTTP API server",
		slog.String("address", listener.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	h.hub.Close()
	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	tcpStats := h.tcp.GetStatistics()
	udpStats := h.udp.GetStatistics()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": map[string]interface{}{
			"tcp_server": map[string]interface{}{
				"status":               "running",
				"connections_accepted": tcpStats.ConnectionsAccepted,
				"active_connections":   tcpStats.ActiveConnections,
				"accept_errors":        tcpStats.AcceptErrors,
			},
			"discovery": map[string]interface{}{
				"status":          "running",
				"probes_answered": udpStats.ProbesAnswered,
				"socket_errors":   udpStats.SocketErrors,
			},
			"reporter": map[string]interface{}{
				"interval":    h.reporter.Interval().String(),
				"subscribers": h.hub.Subscribers(),
			},
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"uptime":     time.Since(h.startTime).String(),
		"timestamp":  time.Now().UTC(),
		"rolling":    h.reporter.Rolling(),
		"cumulative": h.reporter.Cumulative(),
		"tcp":        h.tcp.GetStatistics(),
		"udp":        h.udp.GetStatistics(),
	}
	if last, ok := h.reporter.LastReport(); ok {
		stats["last_report"] = last
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessions.All()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_sessions": len(sessions),
		"timestamp":      time.Now().UTC(),
		"sessions":       sessions,
	})
}

// handleSessionDetail implements the /sessions/{id} endpoint
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	sess, exists := h.sessions.Get(id)
	if !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, sess.Info())
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg := map[string]interface{}{
		"server": map[string]interface{}{
			"port":         h.config.Server.Port,
			"bind_address": h.config.Server.BindAddress,
			"idle_timeout": h.config.Server.IdleTimeout,
		},
		"discovery": map[string]interface{}{
			"buffer_size": h.config.Discovery.BufferSize,
		},
		"report": map[string]interface{}{
			"interval": h.config.Report.Interval,
		},
		"nats": map[string]interface{}{
			"enabled": h.config.NATS.Enabled,
			"subject": h.config.NATS.Subject,
			// URL omitted, it may carry credentials
		},
		"webhook": map[string]interface{}{
			"enabled":     h.config.Webhook.Enabled,
			"timeout":     h.config.Webhook.Timeout,
			"max_retries": h.config.Webhook.MaxRetries,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, cfg)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	apiDoc := map[string]interface{}{
		"service": "CCS Compute Service",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":               "API documentation",
			"GET /health":         "Service health check",
			"GET /stats":          "Rolling and cumulative statistics",
			"GET /sessions":       "List open connections",
			"GET /sessions/{id}":  "Get connection details",
			"GET /config":         "Get service configuration",
			"GET /metrics":        "Prometheus metrics",
			"GET /ws/stats":       "Websocket stream of statistics reports",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
