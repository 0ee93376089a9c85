package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrWong99/visage/internal/observe"
	"github.com/MrWong99/visage/internal/resilience"
	"github.com/MrWong99/visage/pkg/face"
)

// ErrTooManyStreams is returned when every stream slot is taken.
var ErrTooManyStreams = errors.New("server: too many concurrent streams")

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps a pipeline or boundary error to an HTTP status and the
// message shown to the client.
func statusFor(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, face.ErrNotBound):
		return http.StatusServiceUnavailable, "model not loaded"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "inference temporarily unavailable"
	case errors.Is(err, ErrTooManyStreams):
		return http.StatusServiceUnavailable, "too many concurrent streams"
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "request body too large"
	case errors.Is(err, face.ErrUnsupportedSource):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads this.
		return 499, "request cancelled"
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	log := observe.Logger(r.Context())
	if status == http.StatusInternalServerError {
		log.Error("request failed", "path", r.URL.Path, "status", status, "err", err)
	} else {
		log.Debug("request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
