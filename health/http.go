package health

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// LivenessHandler always answers 200 OK.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// ReadinessHandler answers 200 while c is healthy or degraded and 503
// otherwise.
func ReadinessHandler(c Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		res := c.Check(ctx)
		w.Header().Set("Content-Type", "text/plain")
		switch res.Status {
		case StatusHealthy:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		case StatusDegraded:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("DEGRADED"))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("UNHEALTHY"))
		}
	}
}

// Response is the JSON body of the detailed endpoint.
type Response struct {
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Timestamp string         `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// DetailedHandler writes the result of c as JSON.
func DetailedHandler(c Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		res := c.Check(ctx)
		body := Response{
			Status:    res.Status.String(),
			Message:   res.Message,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Details:   res.Details,
		}
		if res.Error != nil {
			body.Error = res.Error.Error()
		}

		w.Header().Set("Content-Type", "application/json")
		if res.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(body)
	}
}

// RegisterHandlers mounts /healthz, /readyz and /health on mux.
func RegisterHandlers(mux *http.ServeMux, c Checker) {
	mux.HandleFunc("/healthz", LivenessHandler())
	mux.HandleFunc("/readyz", ReadinessHandler(c))
	mux.HandleFunc("/health", DetailedHandler(c))
}
