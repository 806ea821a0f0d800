package consensus

import (
	"math"

	"github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/pkg/difficulty"
)

// LWMA implements the Linear Weighted Moving Average difficulty retargeting
// algorithm: recent solve-time intervals are weighted more heavily than
// older ones, and a single outlier interval is clamped to 6x the target
// block time so it cannot collapse the next difficulty.
type LWMA struct {
	observations []difficulty.Observation
	blockWindow  int
	targetTime   uint64
	initial      difficulty.Difficulty
}

// NewLWMA creates an LWMA engine bounded to blockWindow+1 observations.
func NewLWMA(blockWindow int, targetTime uint64, initialDifficulty difficulty.Difficulty) *LWMA {
	return &LWMA{
		observations: make([]difficulty.Observation, 0, blockWindow+1),
		blockWindow:  blockWindow,
		targetTime:   targetTime,
		initial:      initialDifficulty.Clamped(),
	}
}

// Add appends a new observation, evicting the oldest once the window
// exceeds blockWindow+1 entries. Fails if accumulatedDifficulty does not
// strictly exceed the previous observation's.
func (l *LWMA) Add(timestamp difficulty.EpochTime, accumulatedDifficulty difficulty.Difficulty) error {
	if n := len(l.observations); n > 0 && accumulatedDifficulty <= l.observations[n-1].AccumulatedDifficulty {
		return difficulty.ErrNotStrictlyIncreasing
	}
	l.observations = append(l.observations, difficulty.Observation{
		Timestamp:             timestamp,
		AccumulatedDifficulty: accumulatedDifficulty,
	})
	if windowCap := l.blockWindow + 1; len(l.observations) > windowCap {
		l.observations = l.observations[len(l.observations)-windowCap:]
	}
	log.Consensus.Trace().
		Uint64("timestamp", uint64(timestamp)).
		Uint64("accumulated_difficulty", uint64(accumulatedDifficulty)).
		Int("window_len", len(l.observations)).
		Msg("lwma: observation added")
	return nil
}

// GetDifficulty computes the difficulty the next block should target. It is
// pure: it never mutates the observation window.
//
// S is the sum of per-interval solve times weighted by recency (i); the
// result is diffDelta scaled by the ratio of target_time*(n+1)/2 (the
// weighted sum target_time*n*(n+1)/2 that uniform target-time intervals
// would give, divided by n) to the actual weighted sum S.
func (l *LWMA) GetDifficulty() difficulty.Difficulty {
	if len(l.observations) < 2 {
		return l.initial
	}

	n := uint64(len(l.observations) - 1)
	maxSolve := 6 * l.targetTime

	var weightedSum uint64
	for i := uint64(1); i <= n; i++ {
		cur := l.observations[i].Timestamp
		prev := l.observations[i-1].Timestamp
		var solve uint64
		if cur <= prev {
			solve = 1
		} else {
			solve = uint64(cur - prev)
		}
		if solve > maxSolve {
			solve = maxSolve
		}
		weightedSum += i * solve
	}
	if weightedSum == 0 {
		return l.initial
	}

	diffDelta := uint64(l.observations[n].AccumulatedDifficulty - l.observations[0].AccumulatedDifficulty)
	numerator := float64(diffDelta) * float64(l.targetTime) * float64(n+1)
	denominator := 2 * float64(weightedSum)
	result := uint64(math.Ceil(numerator / denominator))
	return difficulty.Difficulty(result).Clamped()
}

// window exposes the raw observation slice to TSA, which needs direct
// access to the last two timestamps beyond what the Adjustment interface
// provides.
func (l *LWMA) window() []difficulty.Observation {
	return l.observations
}

// target returns the configured target block time, needed by TSA.
func (l *LWMA) target() uint64 {
	return l.targetTime
}
