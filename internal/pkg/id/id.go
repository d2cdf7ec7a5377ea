package id

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewAt generates a ULID string stamped with t. ULIDs sort lexicographically
// by creation time, which makes them usable as DynamoDB sort keys. IDs
// minted within the same millisecond stay ordered because the entropy
// source is monotonic.
func NewAt(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

// MinAt returns the smallest ULID whose timestamp is t, so that
// "id >= MinAt(t)" selects everything created at or after t.
func MinAt(t time.Time) string {
	var u ulid.ULID
	_ = u.SetTime(ulid.Timestamp(t)) // fails only past year 10889
	return u.String()
}
