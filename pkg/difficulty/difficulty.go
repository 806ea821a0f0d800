// Package difficulty defines the scalar types shared by the retargeting
// engines in internal/consensus.
package difficulty

import "errors"

// ErrNotStrictlyIncreasing is returned by Adjustment.Add when the
// accumulated difficulty of the new observation does not exceed the last
// one recorded.
var ErrNotStrictlyIncreasing = errors.New("accumulated difficulty must strictly increase")

// Difficulty is a proof-of-work difficulty value. The zero value is not a
// valid difficulty; the minimum representable difficulty is 1.
type Difficulty uint64

// Add returns d+other, saturating at the maximum uint64 instead of
// overflowing. Difficulty has no subtraction method; accumulated
// difficulty only increases.
func (d Difficulty) Add(other Difficulty) Difficulty {
	sum := uint64(d) + uint64(other)
	if sum < uint64(d) {
		return Difficulty(^uint64(0))
	}
	return Difficulty(sum)
}

// Clamped returns d, or 1 if d is 0. Difficulty has no valid zero value.
func (d Difficulty) Clamped() Difficulty {
	if d == 0 {
		return 1
	}
	return d
}

// EpochTime is a count of seconds since the Unix epoch.
type EpochTime uint64

// Increase returns t+n, saturating at the maximum uint64 instead of
// overflowing.
func (t EpochTime) Increase(n uint64) EpochTime {
	sum := uint64(t) + n
	if sum < uint64(t) {
		return EpochTime(^uint64(0))
	}
	return EpochTime(sum)
}

// Observation is a single (timestamp, accumulated-difficulty) sample in an
// Adjustment's window. Timestamps are not required to be monotonic;
// accumulated difficulty is.
type Observation struct {
	Timestamp             EpochTime
	AccumulatedDifficulty Difficulty
}

// Adjustment is the contract both LWMA and TSA implement: append an
// observation, and compute the difficulty the next block should target.
type Adjustment interface {
	Add(timestamp EpochTime, accumulatedDifficulty Difficulty) error
	GetDifficulty() Difficulty
}
