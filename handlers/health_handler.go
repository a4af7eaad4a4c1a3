package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger reports whether a backing service is reachable.
type Pinger func(ctx context.Context) error

// Health answers liveness checks. With a pinger it also reports storage
// reachability and answers 503 when the store is down.
func Health(ping Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := envelope{"status": "success", "message": "API is running"}
		status := http.StatusOK
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				body["success"] = false
				body["status"] = "degraded"
				body["store"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, status, body)
	}
}
