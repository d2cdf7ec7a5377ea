// Package memory holds single-instance stores for development and tests.
// State is lost on restart and is not shared between processes.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-otp-nosql/internal/domain"
	"github.com/go-otp-nosql/internal/pkg/id"
)

// OTPStore keeps OTP records per identity in insertion order.
type OTPStore struct {
	mu        sync.Mutex
	records   map[string][]*domain.OTPRecord
	retention time.Duration
}

// NewOTPStore keeps records for retention past their expiry so quota
// checks still see them.
func NewOTPStore(retention time.Duration) *OTPStore {
	return &OTPStore{
		records:   make(map[string][]*domain.OTPRecord),
		retention: retention,
	}
}

func (s *OTPStore) Insert(_ context.Context, rec *domain.OTPRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	cp.ID = id.NewAt(rec.CreatedAt)
	s.records[rec.Identity] = append(s.records[rec.Identity], &cp)
	return cp.ID, nil
}

func (s *OTPStore) FindActive(_ context.Context, identity, code string, now time.Time) (*domain.OTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.records[identity]
	for i := len(recs) - 1; i >= 0; i-- {
		r := recs[i]
		if r.Code == code && r.Active(now) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("otp not found: %w", domain.ErrNotFound)
}

func (s *OTPStore) CountSince(_ context.Context, identity string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.records[identity] {
		if !r.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *OTPStore) FindMostRecentSince(_ context.Context, identity string, since time.Time) (*domain.OTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var newest *domain.OTPRecord
	for _, r := range s.records[identity] {
		if r.CreatedAt.Before(since) {
			continue
		}
		if newest == nil || r.CreatedAt.After(newest.CreatedAt) {
			newest = r
		}
	}
	if newest == nil {
		return nil, fmt.Errorf("otp not found: %w", domain.ErrNotFound)
	}
	cp := *newest
	return &cp, nil
}

// MarkUsed flips used under the store lock; a second call reports ErrConflict.
func (s *OTPStore) MarkUsed(_ context.Context, identity, recordID string, verifiedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records[identity] {
		if r.ID != recordID {
			continue
		}
		if r.Used {
			return fmt.Errorf("otp already used: %w", domain.ErrConflict)
		}
		r.Used = true
		at := verifiedAt
		r.VerifiedAt = &at
		return nil
	}
	return fmt.Errorf("otp %s not found: %w", recordID, domain.ErrNotFound)
}

func (s *OTPStore) InvalidateOutstanding(_ context.Context, identity string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.records[identity] {
		if r.Active(now) {
			r.Used = true
			n++
		}
	}
	return n, nil
}

// Sweep drops records whose expiry plus retention has passed.
func (s *OTPStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for identity, recs := range s.records {
		kept := recs[:0]
		for _, r := range recs {
			if now.Sub(r.ExpiresAt) > s.retention {
				removed++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(s.records, identity)
			continue
		}
		s.records[identity] = kept
	}
	return removed
}

// RunSweeper sweeps every interval until ctx is done.
func (s *OTPStore) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Sweep(now.UTC()); n > 0 {
				slog.Debug("swept expired otp records", "count", n)
			}
		}
	}
}

// FlagStore keeps account flags keyed by identity.
type FlagStore struct {
	mu    sync.RWMutex
	flags map[string]domain.AccountFlag
}

func NewFlagStore() *FlagStore {
	return &FlagStore{flags: make(map[string]domain.AccountFlag)}
}

func (s *FlagStore) Upsert(_ context.Context, f *domain.AccountFlag) (*domain.AccountFlag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[f.Identity] = *f
	cp := *f
	return &cp, nil
}

func (s *FlagStore) Get(_ context.Context, identity string) (*domain.AccountFlag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flags[identity]
	if !ok {
		return nil, fmt.Errorf("account flag not found: %w", domain.ErrNotFound)
	}
	return &f, nil
}
