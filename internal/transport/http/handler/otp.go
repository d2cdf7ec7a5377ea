package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-otp-nosql/internal/application/otp"
	"github.com/go-otp-nosql/internal/domain"
)

const maxBodyBytes = 1 << 16

// OTPHandler serves OTP issuance, verification and account flag lookups.
type OTPHandler struct {
	svc otp.Service
}

func NewOTPHandler(svc otp.Service) *OTPHandler {
	return &OTPHandler{svc: svc}
}

func (h *OTPHandler) Action(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "action") {
	case "send":
		h.Send(w, r)
	case "verify":
		h.Verify(w, r)
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}

func (h *OTPHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req domain.SendOTPRequest
	if err := decode(w, r, &req); err != nil {
		httpError(w, r, err)
		return
	}
	res, err := h.svc.Issue(r.Context(), req)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OTPEnvelope{
		Success:   true,
		Message:   "OTP sent",
		ExpiresAt: &res.ExpiresAt,
		Code:      res.Code,
	})
}

func (h *OTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyOTPRequest
	if err := decode(w, r, &req); err != nil {
		httpError(w, r, err)
		return
	}
	flag, err := h.svc.Verify(r.Context(), req)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OTPEnvelope{
		Success:     true,
		Message:     "Verified",
		Verified:    true,
		AccountFlag: flag,
	})
}

func (h *OTPHandler) Flag(w http.ResponseWriter, r *http.Request) {
	email, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil {
		httpError(w, r, fmt.Errorf("malformed path: %w", domain.ErrInvalidInput))
		return
	}
	flag, err := h.svc.Flag(r.Context(), email)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OTPEnvelope{
		Success:     true,
		Verified:    flag.Verified,
		AccountFlag: flag,
	})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", domain.ErrInvalidInput)
	}
	return nil
}
