package report

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/ccs-service/internal/metrics"
	"github.com/skypro1111/ccs-service/internal/stats"
)

// Report is the pair of snapshots emitted on every tick
type Report struct {
	Sequence  uint64         `json:"sequence"`
	Timestamp time.Time      `json:"timestamp"`
	Interval  string         `json:"interval"`
	Period    stats.Snapshot `json:"period"`
	Total     stats.Snapshot `json:"total"`
}

// Sink receives every report
type Sink interface {
	Name() string
	Emit(ctx context.Context, r Report) error
}

// Reporter periodically drains the rolling counters into the cumulative counters
type Reporter struct {
	rolling    *stats.Counters
	cumulative *stats.Counters
	interval   time.Duration
	sinks      []Sink
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// Serializes ticks and guards last
	mu       sync.Mutex
	last     Report
	sequence uint64
}

// NewReporter creates a reporter over the given counter sets
func NewReporter(logger *slog.Logger, interval time.Duration, rolling, cumulative *stats.Counters,
	m *metrics.Metrics, sinks ...Sink) *Reporter {
	return &Reporter{
		rolling:    rolling,
		cumulative: cumulative,
		interval:   interval,
		sinks:      sinks,
		logger:     logger,
		metrics:    m,
	}
}

// Run emits a report every interval until ctx is cancelled. Ticks fire
// regardless of traffic; an idle period produces an all-zero report.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("Statistics reporter started",
		slog.Duration("interval", r.interval),
		slog.Int("sinks", len(r.sinks)),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Statistics reporter stopping")
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick drains the rolling counters, merges the snapshot into the cumulative
// counters and emits both to every sink.
func (r *Reporter) Tick(ctx context.Context) Report {
	r.mu.Lock()
	period := r.rolling.Drain()
	r.cumulative.Merge(period)
	r.sequence++
	rep := Report{
		Sequence:  r.sequence,
		Timestamp: time.Now().UTC(),
		Interval:  r.interval.String(),
		Period:    period,
		Total:     r.cumulative.Snapshot(),
	}
	r.last = rep
	r.mu.Unlock()

	r.metrics.RecordReport()

	for _, sink := range r.sinks {
		if err := sink.Emit(ctx, rep); err != nil {
			r.metrics.RecordSinkError(sink.Name())
			r.logger.Warn("Failed to emit statistics report",
				slog.String("sink", sink.Name()),
				slog.String("error", err.Error()),
			)
		}
	}

	return rep
}

// Rolling returns the counters accumulated since the last tick
func (r *Reporter) Rolling() stats.Snapshot {
	return r.rolling.Snapshot()
}

// Cumulative returns the totals merged so far
func (r *Reporter) Cumulative() stats.Snapshot {
	return r.cumulative.Snapshot()
}

// LastReport returns the most recent report, if any tick has happened
func (r *Reporter) LastReport() (Report, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.last, r.sequence > 0
}

// Interval returns the reporting period
func (r *Reporter) Interval() time.Duration {
	return r.interval
}
