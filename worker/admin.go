package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"order-mailer/pkg/observability"
	"order-mailer/pkg/trigger"
)

// adminHandler serves metrics, a liveness probe and manual cycle requests.
func adminHandler(metrics *observability.Metrics, queue *trigger.Queue, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/reconcile", handleReconcile(queue, logger))
	return mux
}

func handleReconcile(queue *trigger.Queue, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		queued := queue.Submit(trigger.Event{Source: trigger.SourceAdmin})
		logger.Info("manual reconciliation requested", "queued", queued, "remote", r.RemoteAddr)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]bool{"queued": queued})
	}
}
