package healthcheck

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nholik/relay-sentinel/internal/watchdog"
)

// HealthHandler serves /healthz responses.
func HealthHandler(tracker *Tracker, pollInterval, passBudget time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusServiceUnavailable
		if tracker.Healthy(time.Now().UTC(), pollInterval, passBudget) {
			status = http.StatusOK
		}
		writeJSON(w, status, tracker.Snapshot())
	}
}

// ReadyHandler serves /readyz responses.
func ReadyHandler(tracker *Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusServiceUnavailable
		if tracker.Ready() {
			status = http.StatusOK
		}
		writeJSON(w, status, tracker.Snapshot())
	}
}

// ReportHandler serves the most recent pass report, or 404 before the first pass.
func ReportHandler(last func() (watchdog.Report, bool)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if last == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no pass completed"})
			return
		}
		report, ok := last()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no pass completed"})
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
