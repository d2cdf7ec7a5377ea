package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeClocker_IsUTC(t *testing.T) {
	now := New().Now()
	assert.Equal(t, time.UTC, now.Location())
	assert.WithinDuration(t, time.Now(), now, time.Second)
}

func TestFixed_Advance(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := &Fixed{T: base}
	c.Advance(90 * time.Second)
	assert.Equal(t, base.Add(90*time.Second), c.Now())
}
