package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skypro1111/ccs-service/internal/config"
	"github.com/skypro1111/ccs-service/internal/metrics"
	"github.com/skypro1111/ccs-service/internal/report"
	"github.com/skypro1111/ccs-service/internal/server"
	"github.com/skypro1111/ccs-service/internal/session"
	"github.com/skypro1111/ccs-service/internal/stats"
)

const (
	serviceName    = "ccs-service"
	serviceVersion = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-config path] <port>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	port, err := config.ParsePort(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid port: %v\n", err)
		os.Exit(1)
	}

	// Load configuration
	cfg := config.Default()
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
	}
	cfg.Server.Port = port

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("idle_timeout", cfg.Server.IdleTimeout),
		slog.Int("discovery_buffer_size", cfg.Discovery.BufferSize),
		slog.Int("report_interval", cfg.Report.Interval),
		slog.Bool("http_enabled", cfg.HTTP.Enabled),
		slog.Bool("nats_enabled", cfg.NATS.Enabled),
		slog.Bool("webhook_enabled", cfg.Webhook.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Rolling counters are drained by the reporter into the cumulative ones
	rolling := stats.NewCounters()
	cumulative := stats.NewCounters()

	sessions := session.NewManager(logger, cfg.Server.GetIdleTimeoutDuration())

	tcpServer := server.NewTCPServer(&cfg.Server, logger, rolling, appMetrics, sessions)
	udpServer := server.NewUDPServer(&cfg.Server, &cfg.Discovery, logger, rolling, appMetrics)
	hub := server.NewHub(logger)

	// Report sinks. Network destinations are queued so they never delay a tick.
	sinks := []report.Sink{report.NewLogSink(logger), hub}
	var queued []*report.QueuedSink

	var natsSink *report.NATSSink
	if cfg.NATS.Enabled {
		natsSink, err = report.NewNATSSink(cfg.NATS.URL, cfg.NATS.Subject, logger)
		if err != nil {
			logger.Error("Failed to connect to NATS", slog.String("error", err.Error()))
			os.Exit(1)
		}
		q := report.NewQueuedSink(natsSink, report.DefaultQueueSize, logger, appMetrics)
		queued = append(queued, q)
		sinks = append(sinks, q)
	}

	var webhookSink *report.WebhookSink
	if cfg.Webhook.Enabled {
		webhookSink, err = report.NewWebhookSink(report.WebhookConfig{
			URL:        cfg.Webhook.URL,
			Token:      cfg.Webhook.Token,
			Timeout:    cfg.Webhook.GetTimeoutDuration(),
			MaxRetries: cfg.Webhook.MaxRetries,
		})
		if err != nil {
			logger.Error("Failed to create webhook sink", slog.String("error", err.Error()))
			os.Exit(1)
		}
		q := report.NewQueuedSink(webhookSink, report.DefaultQueueSize, logger, appMetrics)
		queued = append(queued, q)
		sinks = append(sinks, q)
	}

	reporter := report.NewReporter(logger, cfg.Report.GetIntervalDuration(), rolling, cumulative, appMetrics, sinks...)

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(logger, cfg, tcpServer, udpServer, sessions, reporter, hub, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", cfg.HTTP.ListenAddress()),
		)
	}

	// Start UDP discovery responder
	if err := udpServer.Start(); err != nil {
		logger.Error("Failed to start UDP discovery responder", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start TCP server
	if err := tcpServer.Start(); err != nil {
		logger.Error("Failed to start TCP server", slog.String("error", err.Error()))
		_ = udpServer.Stop()
		os.Exit(1)
	}

	// Start HTTP server (if enabled)
	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			_ = tcpServer.Stop()
			_ = udpServer.Stop()
			os.Exit(1)
		}
	}

	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		reporter.Run(ctx)
	}()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("address", cfg.Server.ListenAddress()),
	)

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop accepting connections and close open ones
	if err := tcpServer.Stop(); err != nil {
		logger.Error("Error stopping TCP server", slog.String("error", err.Error()))
	}

	if err := udpServer.Stop(); err != nil {
		logger.Error("Error stopping UDP discovery responder", slog.String("error", err.Error()))
	}

	sessions.Stop()

	cancel()
	<-reporterDone

	// Flush the last partial period to every sink
	total := reporter.Tick(context.Background()).Total

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer flushCancel()
	for _, q := range queued {
		if err := q.Close(flushCtx); err != nil {
			logger.Warn("Report queue not fully delivered",
				slog.String("sink", q.Name()),
				slog.String("error", err.Error()),
			)
		}
		logger.Info("Report queue closed",
			slog.String("sink", q.Name()),
			slog.Uint64("delivered", q.Delivered()),
			slog.Uint64("dropped", q.Dropped()),
		)
	}

	if natsSink != nil {
		if err := natsSink.Close(); err != nil {
			logger.Error("Error closing NATS connection", slog.String("error", err.Error()))
		}
	}
	if webhookSink != nil {
		ws := webhookSink.GetStats()
		logger.Info("Webhook sink statistics",
			slog.Uint64("total_requests", ws.TotalRequests),
			slog.Uint64("success_requests", ws.SuccessRequests),
			slog.Uint64("failed_requests", ws.FailedRequests),
			slog.Uint64("total_retries", ws.TotalRetries),
		)
		webhookSink.Close()
	}
	hub.Close()

	logger.Info("Final service statistics",
		slog.Uint64("new_connections", total.NewConnections),
		slog.Uint64("computed_requests", total.ComputedRequests),
		slog.Uint64("incorrect_operations", total.IncorrectOperations),
		slog.Int64("value_sum", total.ValueSum),
		slog.Uint64("discovery_probes", total.DiscoveryProbes),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
