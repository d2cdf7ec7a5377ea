package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-otp-nosql/internal/domain"
)

// quotaWindow is the trailing window MaxPerHour applies to.
const quotaWindow = time.Hour

// Policy holds the issuance throttling rules.
type Policy struct {
	Cooldown   time.Duration
	MaxPerHour int
}

// Limiter evaluates resend cooldown and hourly quota against stored history.
// It is consulted at issuance only and has no side effects.
type Limiter struct {
	store  Store
	policy Policy
}

func NewLimiter(store Store, policy Policy) *Limiter {
	return &Limiter{store: store, policy: policy}
}

// Check returns *domain.CooldownError, domain.ErrQuotaExceeded, a wrapped
// domain.ErrStorageFailure, or nil when identity may receive a new code.
func (l *Limiter) Check(ctx context.Context, identity string, now time.Time) error {
	if l.policy.Cooldown > 0 {
		last, err := l.store.FindMostRecentSince(ctx, identity, now.Add(-l.policy.Cooldown))
		switch {
		case err == nil:
			if residual := last.CreatedAt.Add(l.policy.Cooldown).Sub(now); residual > 0 {
				return &domain.CooldownError{WaitSeconds: waitSeconds(residual)}
			}
		case !errors.Is(err, domain.ErrNotFound):
			return fmt.Errorf("%w: cooldown lookup: %w", domain.ErrStorageFailure, err)
		}
	}

	n, err := l.store.CountSince(ctx, identity, now.Add(-quotaWindow))
	if err != nil {
		return fmt.Errorf("%w: quota count: %w", domain.ErrStorageFailure, err)
	}
	if n >= l.policy.MaxPerHour {
		return fmt.Errorf("%d codes issued in the last hour: %w", n, domain.ErrQuotaExceeded)
	}
	return nil
}

// waitSeconds rounds the residual up to whole seconds, never below one.
func waitSeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		return 1
	}
	return s
}
