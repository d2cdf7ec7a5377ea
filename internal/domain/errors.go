package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	ErrInvalidInput      = errors.New("invalid input")
	ErrCooldownActive    = errors.New("cooldown active")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrNotFoundOrExpired = errors.New("otp not found or expired")
	ErrTransportFailure  = errors.New("transport failure")
	ErrStorageFailure    = errors.New("storage failure")
)

// Machine-readable error kinds returned to callers.
const (
	KindInvalidInput      = "invalid_input"
	KindCooldownActive    = "cooldown_active"
	KindQuotaExceeded     = "quota_exceeded"
	KindNotFoundOrExpired = "not_found_or_expired"
	KindTransportFailure  = "transport_failure"
	KindStorageFailure    = "storage_failure"
	KindInternal          = "internal_error"
)

// CooldownError reports a resend attempt inside the cooldown window.
// It matches ErrCooldownActive under errors.Is.
type CooldownError struct {
	WaitSeconds int
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("please wait %ds before resending", e.WaitSeconds)
}

func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldownActive
}

// KindOf maps err onto its stable kind string.
func KindOf(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrCooldownActive):
		return KindCooldownActive
	case errors.Is(err, ErrQuotaExceeded):
		return KindQuotaExceeded
	case errors.Is(err, ErrNotFoundOrExpired):
		return KindNotFoundOrExpired
	case errors.Is(err, ErrTransportFailure):
		return KindTransportFailure
	case errors.Is(err, ErrStorageFailure):
		return KindStorageFailure
	default:
		return KindInternal
	}
}
