// Package clock lets business logic read the current time through an
// interface so tests can pin it.
package clock

import "time"

// Clocker supplies the current time.
type Clocker interface {
	Now() time.Time
}

// TimeClocker is the production clock backed by time.Now.
type TimeClocker struct{}

func New() *TimeClocker {
	return &TimeClocker{}
}

// Now returns the current UTC time.
func (*TimeClocker) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a settable clock for tests.
type Fixed struct {
	T time.Time
}

func (f *Fixed) Now() time.Time { return f.T }

// Advance moves the fixed clock forward by d.
func (f *Fixed) Advance(d time.Duration) { f.T = f.T.Add(d) }
