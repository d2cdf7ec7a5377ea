package otp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-otp-nosql/internal/domain"
	"github.com/go-otp-nosql/internal/pkg/clock"
	"github.com/go-otp-nosql/internal/pkg/validate"
)

// IssueResult describes a freshly issued code. Code is only populated when
// the service runs with code exposure enabled (development).
type IssueResult struct {
	Identity  string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
	Code      string    `json:"code,omitempty"`
}

type Service interface {
	Issue(ctx context.Context, req domain.SendOTPRequest) (*IssueResult, error)
	Verify(ctx context.Context, req domain.VerifyOTPRequest) (*domain.AccountFlag, error)
	Flag(ctx context.Context, identity string) (*domain.AccountFlag, error)
}

// ServiceDeps wires the service. Guard and Events are optional.
type ServiceDeps struct {
	Store       Store
	Flags       FlagStore
	Mailer      MailSender
	Generator   CodeGenerator
	Clock       clock.Clocker
	Guard       IssueGuard
	Events      EventPublisher
	TTL         time.Duration
	Policy      Policy
	MailTimeout time.Duration
	ExposeCode  bool
}

type service struct {
	store       Store
	flags       FlagStore
	mailer      MailSender
	generator   CodeGenerator
	clock       clock.Clocker
	guard       IssueGuard
	events      EventPublisher
	limiter     *Limiter
	ttl         time.Duration
	cooldown    time.Duration
	mailTimeout time.Duration
	exposeCode  bool
}

func NewService(d ServiceDeps) Service {
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	return &service{
		store:       d.Store,
		flags:       d.Flags,
		mailer:      d.Mailer,
		generator:   d.Generator,
		clock:       d.Clock,
		guard:       d.Guard,
		events:      d.Events,
		limiter:     NewLimiter(d.Store, d.Policy),
		ttl:         d.TTL,
		cooldown:    d.Policy.Cooldown,
		mailTimeout: d.MailTimeout,
		exposeCode:  d.ExposeCode,
	}
}

// Issue persists a new code for req.Email and mails it. Throttling runs first
// and has no side effects. A mail failure fails the request but leaves the
// stored code valid and counted against the quota.
func (s *service) Issue(ctx context.Context, req domain.SendOTPRequest) (*IssueResult, error) {
	req.Email = validate.NormalizeEmail(req.Email)
	if err := validate.Struct(&req); err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), domain.ErrInvalidInput)
	}
	now := s.clock.Now()

	if err := s.limiter.Check(ctx, req.Email, now); err != nil {
		otpIssueRejectedTotal.WithLabelValues(domain.KindOf(err)).Inc()
		if errors.Is(err, domain.ErrStorageFailure) {
			slog.ErrorContext(ctx, "rate limit check failed", "identity", req.Email, "err", err)
		}
		return nil, err
	}

	guarded := false
	if s.guard != nil && s.cooldown > 0 {
		ok, remaining, err := s.guard.Acquire(ctx, req.Email, s.cooldown)
		switch {
		case err != nil:
			slog.WarnContext(ctx, "issue guard unavailable, continuing without it", "identity", req.Email, "err", err)
		case !ok:
			otpIssueRejectedTotal.WithLabelValues(domain.KindCooldownActive).Inc()
			return nil, &domain.CooldownError{WaitSeconds: waitSeconds(remaining)}
		default:
			guarded = true
		}
	}

	code, err := s.generator.Generate()
	if err != nil {
		s.releaseGuard(ctx, guarded, req.Email)
		slog.ErrorContext(ctx, "failed to generate otp", "err", err)
		return nil, fmt.Errorf("generate otp: %w", err)
	}

	rec := &domain.OTPRecord{
		Identity:  req.Email,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	recordID, err := s.store.Insert(ctx, rec)
	if err != nil {
		s.releaseGuard(ctx, guarded, req.Email)
		slog.ErrorContext(ctx, "failed to persist otp", "identity", req.Email, "err", err)
		return nil, fmt.Errorf("%w: insert otp: %w", domain.ErrStorageFailure, err)
	}
	otpIssuedTotal.Inc()

	if err := s.send(ctx, req.Email, code); err != nil {
		slog.ErrorContext(ctx, "failed to send otp email", "identity", req.Email, "record_id", recordID, "err", err)
		return nil, fmt.Errorf("%w: send otp email: %w", domain.ErrTransportFailure, err)
	}
	slog.InfoContext(ctx, "otp issued", "identity", req.Email, "record_id", recordID, "expires_at", rec.ExpiresAt)

	res := &IssueResult{Identity: req.Email, ExpiresAt: rec.ExpiresAt}
	if s.exposeCode {
		res.Code = code
	}
	return res, nil
}

func (s *service) send(ctx context.Context, to, code string) error {
	sendCtx, cancel := context.WithTimeout(ctx, s.mailTimeout)
	defer cancel()

	subject, text, html := renderEmail(code, s.ttl)
	start := time.Now()
	err := s.mailer.SendEmail(sendCtx, to, subject, text, html)
	status := "ok"
	if err != nil {
		status = "error"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
	}
	otpMailDurationHistogram.WithLabelValues(status).Observe(time.Since(start).Seconds())
	return err
}

func (s *service) releaseGuard(ctx context.Context, guarded bool, identity string) {
	if !guarded {
		return
	}
	if err := s.guard.Release(ctx, identity); err != nil {
		slog.WarnContext(ctx, "failed to release issue guard", "identity", identity, "err", err)
	}
}

// Verify redeems the newest active code matching req. Wrong, expired,
// already-used and never-issued codes all yield domain.ErrNotFoundOrExpired.
// Verifying an identity whose flag is already set succeeds again.
func (s *service) Verify(ctx context.Context, req domain.VerifyOTPRequest) (*domain.AccountFlag, error) {
	req.Email = validate.NormalizeEmail(req.Email)
	if err := validate.Struct(&req); err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), domain.ErrInvalidInput)
	}
	now := s.clock.Now()

	rec, err := s.store.FindActive(ctx, req.Email, req.OTP, now)
	if errors.Is(err, domain.ErrNotFound) {
		otpVerifyTotal.WithLabelValues("no_match").Inc()
		return nil, domain.ErrNotFoundOrExpired
	}
	if err != nil {
		otpVerifyTotal.WithLabelValues("error").Inc()
		slog.ErrorContext(ctx, "failed to look up otp", "identity", req.Email, "err", err)
		return nil, fmt.Errorf("%w: find otp: %w", domain.ErrStorageFailure, err)
	}

	if err := s.store.MarkUsed(ctx, rec.Identity, rec.ID, now); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			otpVerifyTotal.WithLabelValues("conflict").Inc()
			return nil, domain.ErrNotFoundOrExpired
		}
		otpVerifyTotal.WithLabelValues("error").Inc()
		slog.ErrorContext(ctx, "failed to mark otp used", "identity", req.Email, "record_id", rec.ID, "err", err)
		return nil, fmt.Errorf("%w: mark otp used: %w", domain.ErrStorageFailure, err)
	}

	if n, err := s.store.InvalidateOutstanding(ctx, req.Email, now); err != nil {
		slog.WarnContext(ctx, "failed to invalidate outstanding otps", "identity", req.Email, "err", err)
	} else if n > 0 {
		slog.InfoContext(ctx, "invalidated outstanding otps", "identity", req.Email, "count", n)
	}

	flag, err := s.flags.Upsert(ctx, &domain.AccountFlag{
		Identity:  req.Email,
		Verified:  true,
		Method:    domain.MethodEmail,
		UpdatedAt: now,
	})
	if err != nil {
		otpVerifyTotal.WithLabelValues("error").Inc()
		slog.ErrorContext(ctx, "failed to upsert account flag", "identity", req.Email, "err", err)
		return nil, fmt.Errorf("%w: upsert account flag: %w", domain.ErrStorageFailure, err)
	}
	otpVerifyTotal.WithLabelValues("verified").Inc()

	if s.events != nil {
		if err := s.events.PublishVerified(ctx, flag); err != nil {
			slog.WarnContext(ctx, "failed to publish verified event", "identity", req.Email, "err", err)
		}
	}
	return flag, nil
}

// Flag returns the stored account flag for identity.
func (s *service) Flag(ctx context.Context, identity string) (*domain.AccountFlag, error) {
	identity = validate.NormalizeEmail(identity)
	if !validate.Email(identity) {
		return nil, fmt.Errorf("malformed email: %w", domain.ErrInvalidInput)
	}
	f, err := s.flags.Get(ctx, identity)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("account flag not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to read account flag", "identity", identity, "err", err)
		return nil, fmt.Errorf("%w: get account flag: %w", domain.ErrStorageFailure, err)
	}
	return f, nil
}
