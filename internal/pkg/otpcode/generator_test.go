package otpcode

import (
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_SixDigits(t *testing.T) {
	g := New()
	for i := 0; i < 1000; i++ {
		code, err := g.Generate()
		require.NoError(t, err)
		require.Len(t, code, Length)
		n, err := strconv.Atoi(code)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 100000)
		assert.LessOrEqual(t, n, 999999)
	}
}

// Each position should be roughly uniform: 1-9 for the leading digit, 0-9 elsewhere.
func TestGenerate_DigitDistribution(t *testing.T) {
	const samples = 20000
	g := New()
	var counts [Length][10]int
	for i := 0; i < samples; i++ {
		code, err := g.Generate()
		require.NoError(t, err)
		for pos, c := range code {
			counts[pos][c-'0']++
		}
	}

	assert.Zero(t, counts[0][0], "leading digit must never be zero")
	lead := float64(samples) / 9
	for d := 1; d <= 9; d++ {
		assert.InDelta(t, lead, float64(counts[0][d]), lead*0.15, "leading digit %d", d)
	}
	rest := float64(samples) / 10
	for pos := 1; pos < Length; pos++ {
		for d := 0; d <= 9; d++ {
			assert.InDelta(t, rest, float64(counts[pos][d]), rest*0.15, "pos %d digit %d", pos, d)
		}
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestGenerate_SourceFailure(t *testing.T) {
	_, err := NewWithReader(failingReader{}).Generate()
	assert.ErrorContains(t, err, "entropy exhausted")
}
