package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-otp-nosql/internal/domain"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OTPEnvelope wraps every OTP endpoint response. Error carries the stable
// machine-readable kind; Message is for humans.
type OTPEnvelope struct {
	Success     bool                `json:"success"`
	Message     string              `json:"message,omitempty"`
	Error       string              `json:"error,omitempty"`
	WaitSeconds int                 `json:"wait_seconds,omitempty"`
	ExpiresAt   *time.Time          `json:"expires_at,omitempty"`
	Code        string              `json:"code,omitempty"`
	Verified    bool                `json:"verified,omitempty"`
	AccountFlag *domain.AccountFlag `json:"account_flag,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}

// httpError maps a service error onto its status code and caller-facing
// envelope. Storage and internal details stay in the server log.
func httpError(w http.ResponseWriter, r *http.Request, err error) {
	env := OTPEnvelope{Error: domain.KindOf(err)}
	var status int

	var ce *domain.CooldownError
	switch {
	case errors.As(err, &ce):
		status = http.StatusTooManyRequests
		env.WaitSeconds = ce.WaitSeconds
		env.Message = fmt.Sprintf("Please wait %ds before resending", ce.WaitSeconds)
		w.Header().Set("Retry-After", strconv.Itoa(ce.WaitSeconds))
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
		env.Message = "Invalid request"
	case errors.Is(err, domain.ErrQuotaExceeded):
		status = http.StatusTooManyRequests
		env.Message = "Too many OTP requests, try again later"
	case errors.Is(err, domain.ErrNotFoundOrExpired):
		status = http.StatusBadRequest
		env.Message = "Invalid or expired OTP"
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		env.Error = "not_found"
		env.Message = "Not found"
	case errors.Is(err, domain.ErrTransportFailure):
		status = http.StatusInternalServerError
		env.Message = "Send failed"
	default:
		status = http.StatusInternalServerError
		env.Message = "Internal server error"
	}

	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path,
			"request_id", chimiddleware.GetReqID(r.Context()),
			"kind", env.Error,
			"err", err,
		)
	}
	writeJSON(w, status, env)
}
