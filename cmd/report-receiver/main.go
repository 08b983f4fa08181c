// Command report-receiver is a development endpoint for the webhook report sink.
// It accepts the reports POSTed by ccs-server and logs them.
package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/skypro1111/ccs-service/internal/report"
)

func newRouter(logger *slog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/reports", reportHandler(logger))
	return r
}

func reportHandler(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rep report.Report
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
		if err := dec.Decode(&rep); err != nil {
			http.Error(w, "Error parsing report", http.StatusBadRequest)
			return
		}

		logger.Info("Report received",
			slog.Uint64("sequence", rep.Sequence),
			slog.Time("timestamp", rep.Timestamp),
			slog.String("remote_addr", r.RemoteAddr),
			slog.Bool("authorized", r.Header.Get("Authorization") != ""),
			slog.Group("last_period",
				slog.Uint64("new_connections", rep.Period.NewConnections),
				slog.Uint64("computed_requests", rep.Period.ComputedRequests),
				slog.Uint64("incorrect_operations", rep.Period.IncorrectOperations),
				slog.Int64("value_sum", rep.Period.ValueSum),
			),
			slog.Group("total",
				slog.Uint64("new_connections", rep.Total.NewConnections),
				slog.Uint64("computed_requests", rep.Total.ComputedRequests),
				slog.Uint64("incorrect_operations", rep.Total.IncorrectOperations),
				slog.Int64("value_sum", rep.Total.ValueSum),
			),
		)

		w.WriteHeader(http.StatusNoContent)
	}
}

func main() {
	addr := flag.String("addr", "127.0.0.1:9000", "Listen address")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newRouter(logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("Report receiver starting",
		slog.String("endpoint", "http://"+*addr+"/reports"),
	)

	if err := srv.ListenAndServe(); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
