package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger is a dependency the health check pings.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	deps   map[string]Pinger
	sender string
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. deps are pinged on every check;
// sender is the account submissions are signed by.
func NewHealthHandler(deps map[string]Pinger, sender string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{deps: deps, sender: sender, logger: logger}
}

// HealthCheck reports "ok" when every dependency answers and "degraded"
// with a 503 otherwise.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	checks := make(map[string]string, len(h.deps))
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed", slog.String("dependency", name), slog.String("error", err.Error()))
			checks[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"checks":    checks,
		"sender":    h.sender,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping implements Pinger.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }
