package report

import (
	"context"
	"log/slog"

	"github.com/skypro1111/ccs-service/internal/protocol"
	"github.com/skypro1111/ccs-service/internal/stats"
)

// LogSink writes reports through the structured logger
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs at info level
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Name implements Sink
func (s *LogSink) Name() string { return "log" }

// Emit implements Sink
func (s *LogSink) Emit(ctx context.Context, r Report) error {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "Statistics report",
		slog.Uint64("sequence", r.Sequence),
		slog.Bool("idle", r.Period.IsZero()),
		snapshotGroup("total", r.Total),
		snapshotGroup("last_period", r.Period),
	)
	return nil
}

func snapshotGroup(name string, s stats.Snapshot) slog.Attr {
	attrs := []any{
		slog.Uint64("new_connections", s.NewConnections),
		slog.Uint64("computed_requests", s.ComputedRequests),
		slog.Int64("value_sum", s.ValueSum),
		slog.Uint64("incorrect_operations", s.IncorrectOperations),
		slog.Uint64("discovery_probes", s.DiscoveryProbes),
	}
	for _, op := range protocol.Operations {
		attrs = append(attrs, slog.Uint64(op.String(), s.PerOperation[op.String()]))
	}
	return slog.Group(name, attrs...)
}
