package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-otp-nosql/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func insert(t *testing.T, s *OTPStore, identity, code string, at time.Time) string {
	t.Helper()
	id, err := s.Insert(context.Background(), &domain.OTPRecord{
		Identity:  identity,
		Code:      code,
		CreatedAt: at,
		ExpiresAt: at.Add(5 * time.Minute),
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}

func TestFindActive_ReturnsNewestMatch(t *testing.T) {
	s := NewOTPStore(time.Hour)
	ctx := context.Background()
	insert(t, s, "a@b.com", "111111", t0)
	newer := insert(t, s, "a@b.com", "111111", t0.Add(2*time.Minute))
	insert(t, s, "a@b.com", "222222", t0.Add(3*time.Minute))

	rec, err := s.FindActive(ctx, "a@b.com", "111111", t0.Add(4*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, newer, rec.ID)
	assert.False(t, rec.Used)
}

func TestFindActive_ExactCodeOnly(t *testing.T) {
	s := NewOTPStore(time.Hour)
	insert(t, s, "a@b.com", "123456", t0)

	_, err := s.FindActive(context.Background(), "a@b.com", " 123456", t0)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = s.FindActive(context.Background(), "other@b.com", "123456", t0)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestFindActive_ExpiryBoundary(t *testing.T) {
	s := NewOTPStore(time.Hour)
	insert(t, s, "a@b.com", "123456", t0)

	_, err := s.FindActive(context.Background(), "a@b.com", "123456", t0.Add(5*time.Minute))
	assert.NoError(t, err, "expiresAt == now is still active")

	_, err = s.FindActive(context.Background(), "a@b.com", "123456", t0.Add(5*time.Minute+time.Nanosecond))
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestCountAndMostRecentSince(t *testing.T) {
	s := NewOTPStore(time.Hour)
	ctx := context.Background()
	insert(t, s, "a@b.com", "111111", t0)
	last := insert(t, s, "a@b.com", "222222", t0.Add(10*time.Minute))

	n, err := s.CountSince(ctx, "a@b.com", t0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.CountSince(ctx, "a@b.com", t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := s.FindMostRecentSince(ctx, "a@b.com", t0)
	require.NoError(t, err)
	assert.Equal(t, last, rec.ID)

	_, err = s.FindMostRecentSince(ctx, "a@b.com", t0.Add(11*time.Minute))
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestMarkUsed_SecondCallConflicts(t *testing.T) {
	s := NewOTPStore(time.Hour)
	ctx := context.Background()
	id := insert(t, s, "a@b.com", "123456", t0)

	require.NoError(t, s.MarkUsed(ctx, "a@b.com", id, t0.Add(time.Minute)))
	err := s.MarkUsed(ctx, "a@b.com", id, t0.Add(2*time.Minute))
	assert.True(t, errors.Is(err, domain.ErrConflict))

	_, err = s.FindActive(ctx, "a@b.com", "123456", t0.Add(time.Minute))
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	err = s.MarkUsed(ctx, "a@b.com", "missing", t0)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestMarkUsed_ConcurrentExactlyOneWins(t *testing.T) {
	s := NewOTPStore(time.Hour)
	id := insert(t, s, "a@b.com", "123456", t0)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.MarkUsed(context.Background(), "a@b.com", id, t0) == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestInvalidateOutstanding(t *testing.T) {
	s := NewOTPStore(time.Hour)
	ctx := context.Background()
	insert(t, s, "a@b.com", "111111", t0)
	insert(t, s, "a@b.com", "222222", t0.Add(time.Minute))
	insert(t, s, "c@d.com", "333333", t0)

	n, err := s.InvalidateOutstanding(ctx, "a@b.com", t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.FindActive(ctx, "a@b.com", "111111", t0.Add(2*time.Minute))
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = s.FindActive(ctx, "c@d.com", "333333", t0.Add(2*time.Minute))
	assert.NoError(t, err)

	count, err := s.CountSince(ctx, "a@b.com", t0)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "history stays for quota evaluation")
}

func TestSweep_HonoursRetention(t *testing.T) {
	s := NewOTPStore(time.Hour)
	insert(t, s, "a@b.com", "111111", t0)
	insert(t, s, "a@b.com", "222222", t0.Add(30*time.Minute))

	assert.Equal(t, 0, s.Sweep(t0.Add(time.Hour)))
	assert.Equal(t, 1, s.Sweep(t0.Add(time.Hour+6*time.Minute)))
	assert.Equal(t, 1, s.Sweep(t0.Add(2*time.Hour)))

	n, err := s.CountSince(context.Background(), "a@b.com", t0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunSweeper_StopsOnCancel(t *testing.T) {
	s := NewOTPStore(0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestFlagStore_UpsertAndGet(t *testing.T) {
	s := NewFlagStore()
	ctx := context.Background()

	_, err := s.Get(ctx, "a@b.com")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	f, err := s.Upsert(ctx, &domain.AccountFlag{Identity: "a@b.com", Verified: true, Method: domain.MethodEmail, UpdatedAt: t0})
	require.NoError(t, err)
	assert.True(t, f.Verified)

	_, err = s.Upsert(ctx, &domain.AccountFlag{Identity: "a@b.com", Verified: true, Method: domain.MethodEmail, UpdatedAt: t0.Add(time.Hour)})
	require.NoError(t, err)

	got, err := s.Get(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), got.UpdatedAt)
	assert.Equal(t, domain.MethodEmail, got.Method)
}
