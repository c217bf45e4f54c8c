package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/flowrooms/server/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

func writeErrorCode(w http.ResponseWriter, status int, code, msg string, retryable bool) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: msg, Retryable: retryable}})
}

// writeError maps a domain error onto its status and error code.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := models.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case models.KindValidation:
		status = http.StatusBadRequest
	case models.KindNotFound:
		status = http.StatusNotFound
	case models.KindCapacityExceeded, models.KindConflict:
		status = http.StatusConflict
	case models.KindBackendUnavailable:
		status = http.StatusServiceUnavailable
	case models.KindRateLimited:
		status = http.StatusTooManyRequests
	}

	msg := err.Error()
	var e *models.Error
	if errors.As(err, &e) && e.Message != "" {
		msg = e.Message
	}
	code := kind.String()
	if kind == models.KindUnknown {
		code, msg = "internal", "internal error"
	}

	if status >= 500 {
		log.Error().Str("module", "http").Str("path", r.URL.Path).Err(err).Msg("request failed")
	}
	writeErrorCode(w, status, code, msg, models.IsRetryable(err))
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Health reports liveness plus reachability of each dependency.
func Health(deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status, code := "healthy", http.StatusOK
		checks := make(map[string]string, len(deps))
		for name, dep := range deps {
			if err := dep.Ping(ctx); err != nil {
				checks[name] = err.Error()
				status, code = "degraded", http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}
		writeJSON(w, code, map[string]interface{}{
			"status":  status,
			"service": "flowrooms",
			"checks":  checks,
		})
	}
}
