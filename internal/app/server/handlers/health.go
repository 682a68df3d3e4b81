package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"stranger/pkg/logging"
)

// Pinger is anything whose reachability decides readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a plain function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type HealthHandler struct {
	checks  map[string]Pinger
	timeout time.Duration
	online  func() int
}

func NewHealthHandler(checks map[string]Pinger, online func() int, timeout time.Duration) *HealthHandler {
	return &HealthHandler{checks: checks, online: online, timeout: timeout}
}

func (h *HealthHandler) Handler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			logging.FromContext(r.Context()).WarnContext(ctx, "health handler - check failed", "dependency", name, logging.Err(err))
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}
	body := map[string]interface{}{
		"status":       http.StatusText(status),
		"dependencies": deps,
	}
	if h.online != nil {
		body["online"] = h.online()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
