package otp

import (
	"context"
	"time"

	"github.com/go-otp-nosql/internal/domain"
)

// Store persists OTP records. Implementations must never report an expired
// or used record as active, and MarkUsed must be an atomic used:false -> true
// transition returning domain.ErrConflict when the record was already used.
type Store interface {
	Insert(ctx context.Context, rec *domain.OTPRecord) (string, error)
	FindActive(ctx context.Context, identity, code string, now time.Time) (*domain.OTPRecord, error)
	CountSince(ctx context.Context, identity string, since time.Time) (int, error)
	FindMostRecentSince(ctx context.Context, identity string, since time.Time) (*domain.OTPRecord, error)
	MarkUsed(ctx context.Context, identity, recordID string, verifiedAt time.Time) error
	InvalidateOutstanding(ctx context.Context, identity string, now time.Time) (int, error)
}

// FlagStore persists the per-identity verified flag.
type FlagStore interface {
	Upsert(ctx context.Context, f *domain.AccountFlag) (*domain.AccountFlag, error)
	Get(ctx context.Context, identity string) (*domain.AccountFlag, error)
}

// MailSender delivers the code to the recipient.
type MailSender interface {
	SendEmail(ctx context.Context, to, subject, textBody, htmlBody string) error
}

// CodeGenerator produces fresh codes.
type CodeGenerator interface {
	Generate() (string, error)
}

// IssueGuard serialises issuance per identity across instances. Acquire
// returns false and the remaining hold time when another issuance holds it.
type IssueGuard interface {
	Acquire(ctx context.Context, identity string, hold time.Duration) (bool, time.Duration, error)
	Release(ctx context.Context, identity string) error
}

// EventPublisher announces completed verifications.
type EventPublisher interface {
	PublishVerified(ctx context.Context, flag *domain.AccountFlag) error
}
