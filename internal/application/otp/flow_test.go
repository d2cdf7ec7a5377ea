package otp_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-otp-nosql/internal/application/otp"
	"github.com/go-otp-nosql/internal/domain"
	"github.com/go-otp-nosql/internal/infrastructure/memory"
	"github.com/go-otp-nosql/internal/pkg/clock"
	"github.com/go-otp-nosql/internal/pkg/otpcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inbox records the last code mailed to each recipient.
type inbox struct {
	mu    sync.Mutex
	codes map[string]string
	fail  bool
}

func (b *inbox) SendEmail(_ context.Context, to, _, text, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errors.New("smtp: connection refused")
	}
	if b.codes == nil {
		b.codes = make(map[string]string)
	}
	// the code is the first six-digit run in the text body
	var code string
	for i := 0; i+otpcode.Length <= len(text); i++ {
		if isDigits(text[i : i+otpcode.Length]) {
			code = text[i : i+otpcode.Length]
			break
		}
	}
	b.codes[to] = code
	return nil
}

func (b *inbox) last(to string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.codes[to]
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

type stubGen struct{ code string }

func (g stubGen) Generate() (string, error) { return g.code, nil }

type env struct {
	svc   otp.Service
	clock *clock.Fixed
	mail  *inbox
}

func newEnv(gen otp.CodeGenerator) *env {
	c := &clock.Fixed{T: time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)}
	mail := &inbox{}
	svc := otp.NewService(otp.ServiceDeps{
		Store:       memory.NewOTPStore(time.Hour),
		Flags:       memory.NewFlagStore(),
		Mailer:      mail,
		Generator:   gen,
		Clock:       c,
		TTL:         5 * time.Minute,
		Policy:      otp.Policy{Cooldown: 60 * time.Second, MaxPerHour: 10},
		MailTimeout: time.Second,
	})
	return &env{svc: svc, clock: c, mail: mail}
}

func TestFlow_IssueThenVerifySetsFlag(t *testing.T) {
	e := newEnv(otpcode.New())
	ctx := context.Background()

	_, err := e.svc.Issue(ctx, domain.SendOTPRequest{Email: "user@example.com"})
	require.NoError(t, err)
	code := e.mail.last("user@example.com")
	require.Len(t, code, otpcode.Length)

	e.clock.Advance(30 * time.Second)
	flag, err := e.svc.Verify(ctx, domain.VerifyOTPRequest{Email: "user@example.com", OTP: code})
	require.NoError(t, err)
	assert.True(t, flag.Verified)
	assert.Equal(t, domain.MethodEmail, flag.Method)

	stored, err := e.svc.Flag(ctx, "user@example.com")
	require.NoError(t, err)
	assert.True(t, stored.Verified)

	_, err = e.svc.Verify(ctx, domain.VerifyOTPRequest{Email: "user@example.com", OTP: code})
	assert.True(t, errors.Is(err, domain.ErrNotFoundOrExpired))
}

func TestFlow_RepeatVerificationAdvancesFlag(t *testing.T) {
	e := newEnv(otpcode.New())
	ctx := context.Background()
	req := domain.SendOTPRequest{Email: "user@example.com"}

	_, err := e.svc.Issue(ctx, req)
	require.NoError(t, err)
	first, err := e.svc.Verify(ctx, domain.VerifyOTPRequest{Email: "user@example.com", OTP: e.mail.last("user@example.com")})
	require.NoError(t, err)
	firstAt := first.UpdatedAt

	e.clock.Advance(61 * time.Second)
	_, err = e.svc.Issue(ctx, req)
	require.NoError(t, err)
	second, err := e.svc.Verify(ctx, domain.VerifyOTPRequest{Email: "user@example.com", OTP: e.mail.last("user@example.com")})
	require.NoError(t, err)
	assert.True(t, second.Verified)

	stored, err := e.svc.Flag(ctx, "user@example.com")
	require.NoError(t, err)
	assert.True(t, stored.Verified)
	assert.Equal(t, domain.MethodEmail, stored.Method)
	assert.True(t, stored.UpdatedAt.After(firstAt))
	assert.Equal(t, e.clock.Now(), stored.UpdatedAt)
}

func TestFlow_ExpiredCodeRejected(t *testing.T) {
	e := newEnv(otpcode.New())
	ctx := context.Background()

	_, err := e.svc.Issue(ctx, domain.SendOTPRequest{Email: "user@example.com"})
	require.NoError(t, err)
	code := e.mail.last("user@example.com")

	e.clock.Advance(5*time.Minute + time.Second)
	_, err = e.svc.Verify(ctx, domain.VerifyOTPRequest{Email: "user@example.com", OTP: code})
	assert.True(t, errors.Is(err, domain.ErrNotFoundOrExpired))

	_, err = e.svc.Flag(ctx, "user@example.com")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestFlow_CooldownThenQuota(t *testing.T) {
	e := newEnv(otpcode.New())
	ctx := context.Background()
	req := domain.SendOTPRequest{Email: "user@example.com"}

	_, err := e.svc.Issue(ctx, req)
	require.NoError(t, err)

	e.clock.Advance(15 * time.Second)
	_, err = e.svc.Issue(ctx, req)
	var ce *domain.CooldownError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 45, ce.WaitSeconds)

	for i := 1; i < 10; i++ {
		e.clock.Advance(61 * time.Second)
		_, err = e.svc.Issue(ctx, req)
		require.NoError(t, err, "issue %d", i+1)
	}

	e.clock.Advance(61 * time.Second)
	_, err = e.svc.Issue(ctx, req)
	assert.True(t, errors.Is(err, domain.ErrQuotaExceeded))

	// first issuance falls out of the trailing hour
	e.clock.Advance(time.Hour - 10*61*time.Second - 15*time.Second + time.Second)
	_, err = e.svc.Issue(ctx, req)
	assert.NoError(t, err)
}

func TestFlow_QuotaIsPerIdentity(t *testing.T) {
	e := newEnv(otpcode.New())
	ctx := context.Background()

	_, err := e.svc.Issue(ctx, domain.SendOTPRequest{Email: "a@example.com"})
	require.NoError(t, err)
	_, err = e.svc.Issue(ctx, domain.SendOTPRequest{Email: "b@example.com"})
	assert.NoError(t, err)
}

func TestFlow_ConcurrentVerifyExactlyOneWins(t *testing.T) {
	e := newEnv(otpcode.New())
	ctx := context.Background()

	_, err := e.svc.Issue(ctx, domain.SendOTPRequest{Email: "user@example.com"})
	require.NoError(t, err)
	code := e.mail.last("user@example.com")

	var wins, losses int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.svc.Verify(ctx, domain.VerifyOTPRequest{Email: "user@example.com", OTP: code})
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, domain.ErrNotFoundOrExpired):
				atomic.AddInt32(&losses, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(15), losses)
}

func TestFlow_SendFailureKeepsCodeRedeemable(t *testing.T) {
	e := newEnv(stubGen{code: "246810"})
	ctx := context.Background()
	e.mail.fail = true

	_, err := e.svc.Issue(ctx, domain.SendOTPRequest{Email: "user@example.com"})
	require.True(t, errors.Is(err, domain.ErrTransportFailure))

	e.clock.Advance(10 * time.Second)
	_, err = e.svc.Issue(ctx, domain.SendOTPRequest{Email: "user@example.com"})
	assert.True(t, errors.Is(err, domain.ErrCooldownActive), "failed send still counts")

	flag, err := e.svc.Verify(ctx, domain.VerifyOTPRequest{Email: "user@example.com", OTP: "246810"})
	require.NoError(t, err)
	assert.True(t, flag.Verified)
}

func TestFlow_VerifyInvalidatesOlderCodes(t *testing.T) {
	gen := &seqGen{codes: []string{"111111", "222222"}}
	e := newEnv(gen)
	ctx := context.Background()

	_, err := e.svc.Issue(ctx, domain.SendOTPRequest{Email: "user@example.com"})
	require.NoError(t, err)
	e.clock.Advance(61 * time.Second)
	_, err = e.svc.Issue(ctx, domain.SendOTPRequest{Email: "user@example.com"})
	require.NoError(t, err)

	_, err = e.svc.Verify(ctx, domain.VerifyOTPRequest{Email: "user@example.com", OTP: "222222"})
	require.NoError(t, err)
	_, err = e.svc.Verify(ctx, domain.VerifyOTPRequest{Email: "user@example.com", OTP: "111111"})
	assert.True(t, errors.Is(err, domain.ErrNotFoundOrExpired))
}

func TestFlow_CodeMatchIsExact(t *testing.T) {
	e := newEnv(stubGen{code: "012345"})
	ctx := context.Background()

	_, err := e.svc.Issue(ctx, domain.SendOTPRequest{Email: "user@example.com"})
	require.NoError(t, err)

	for _, wrong := range []string{"12345", "012345 ", "0123456"} {
		_, err = e.svc.Verify(ctx, domain.VerifyOTPRequest{Email: "user@example.com", OTP: wrong})
		assert.True(t, errors.Is(err, domain.ErrNotFoundOrExpired), wrong)
	}
	_, err = e.svc.Verify(ctx, domain.VerifyOTPRequest{Email: "user@example.com", OTP: "012345"})
	assert.NoError(t, err)
}

type seqGen struct {
	mu    sync.Mutex
	codes []string
}

func (g *seqGen) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.codes[0]
	g.codes = g.codes[1:]
	return c, nil
}
