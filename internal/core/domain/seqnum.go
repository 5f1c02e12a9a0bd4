package domain

import (
	"math"
	"strconv"
	"time"
)

// Sequence number bounds.
const (
	// MinSeqNum is the first valid FIX sequence number and the starting value
	// of every counter.
	MinSeqNum int64 = 1

	// MaxSeqNum bounds counters and log keys. MsgSeqNum(34) is an int in
	// every FIX engine we interoperate with.
	MaxSeqNum int64 = math.MaxInt32

	// CreationTimeKey is the reserved log key holding the creation time.
	// It is never a valid sequence number.
	CreationTimeKey int64 = 0
)

// ValidateSeqNum returns ErrSeqNumOutOfRange if n is outside [MinSeqNum, MaxSeqNum].
func ValidateSeqNum(n int64) error {
	if n < MinSeqNum || n > MaxSeqNum {
		return ErrSeqNumOutOfRange.WithDetailsf("%d not in [%d, %d]", n, MinSeqNum, MaxSeqNum)
	}
	return nil
}

// FormatCreationTime encodes t as UTC milliseconds since the epoch.
func FormatCreationTime(t time.Time) string {
	return strconv.FormatInt(t.UTC().UnixMilli(), 10)
}

// ParseCreationTime decodes a value written by FormatCreationTime.
func ParseCreationTime(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, ErrCorruptStore.WithDetailsf("creation time %q", s).WithCause(err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
