// Package health provides HTTP health and readiness check handlers.
//
// The package exposes three endpoints:
//
//   - /health: status summary for browser clients with the model state
//     and a millisecond timestamp. Always 200.
//   - /healthz: liveness check; always returns 200 OK.
//   - /readyz: readiness check; returns 200 only when all registered
//     [Checker] functions pass.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// ErrModelNotLoaded is reported by [ModelChecker] while no model is bound.
var ErrModelNotLoaded = errors.New("model not loaded")

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short label for this check (e.g. "model"). It appears as a
	// key in the JSON response.
	Name string

	// Check exercises the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// ModelChecker returns a [Checker] named "model" that fails until loaded
// reports true.
func ModelChecker(loaded func() bool) Checker {
	return Checker{
		Name: "model",
		Check: func(context.Context) error {
			if !loaded() {
				return ErrModelNotLoaded
			}
			return nil
		},
	}
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Status is the /health response body.
type Status struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"modelLoaded"`
	Timestamp   int64  `json:"timestamp"`
}

// Handler serves the health endpoints. It is safe for concurrent use; the
// checker list is fixed at construction time.
type Handler struct {
	loaded   func() bool
	checkers []Checker
	now      func() time.Time
}

// New creates a [Handler]. loaded reports whether a model is bound; when
// non-nil a [ModelChecker] is evaluated first on every /readyz request,
// followed by checkers in the order provided.
func New(loaded func() bool, checkers ...Checker) *Handler {
	h := &Handler{loaded: loaded, now: time.Now}
	if loaded != nil {
		h.checkers = append(h.checkers, ModelChecker(loaded))
	}
	h.checkers = append(h.checkers, checkers...)
	return h
}

// Health reports the model state. It never fails so that clients can poll
// it while the model is still loading.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Status{
		Status:      "ok",
		ModelLoaded: h.loaded != nil && h.loaded(),
		Timestamp:   h.now().UnixMilli(),
	})
}

// Healthz is a liveness check that always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, readiness{Status: "ok"})
}

// Readyz returns 200 only when every registered [Checker] passes. Each
// checker gets a context with a [checkTimeout] deadline derived from the
// request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := readiness{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the health routes to mux. /health is also served under
// /api/health.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /api/health", h.Health)
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
