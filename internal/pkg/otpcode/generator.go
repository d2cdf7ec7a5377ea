package otpcode

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

const (
	// Length is the number of digits in every generated code.
	Length = 6

	minCode = 100000
	span    = 900000 // codes fall in [minCode, minCode+span)
)

// Generator produces numeric one-time codes from a cryptographic source.
type Generator struct {
	src io.Reader
}

// New returns a Generator reading from crypto/rand.
func New() *Generator {
	return &Generator{src: rand.Reader}
}

// NewWithReader is used by tests to feed a deterministic source.
func NewWithReader(r io.Reader) *Generator {
	return &Generator{src: r}
}

// Generate returns a 6-digit code uniform over [100000, 999999].
func (g *Generator) Generate() (string, error) {
	n, err := rand.Int(g.src, big.NewInt(span))
	if err != nil {
		return "", fmt.Errorf("read random source: %w", err)
	}
	return fmt.Sprintf("%06d", minCode+n.Int64()), nil
}
