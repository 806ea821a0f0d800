package consensus

import (
	"math"

	"github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/pkg/difficulty"
)

// tsaR is the "softness" factor of the per-block TSA adjustment. R<6 is
// aggressive; the source fixes it at 2.
const tsaR = 2

// TSA wraps LWMA with a per-block exponential correction based on the most
// recent solve time: it dampens difficulty hard on short solves (preventing
// timewarp-style amplification) and, on long ones, scales it by a factor
// that grows exponentially with the solve time.
type TSA struct {
	lwma       *LWMA
	targetTime uint64
	initial    difficulty.Difficulty
}

// NewTSA creates a TSA engine over the same window and target time as LWMA.
func NewTSA(blockWindow int, targetTime uint64, initialDifficulty difficulty.Difficulty) *TSA {
	return &TSA{
		lwma:       NewLWMA(blockWindow, targetTime, initialDifficulty),
		targetTime: targetTime,
		initial:    initialDifficulty.Clamped(),
	}
}

// Add delegates to the wrapped LWMA engine.
func (t *TSA) Add(timestamp difficulty.EpochTime, accumulatedDifficulty difficulty.Difficulty) error {
	if err := t.lwma.Add(timestamp, accumulatedDifficulty); err != nil {
		return err
	}
	log.Consensus.Trace().
		Uint64("timestamp", uint64(timestamp)).
		Uint64("accumulated_difficulty", uint64(accumulatedDifficulty)).
		Msg("tsa: observation added")
	return nil
}

// GetDifficulty implements the TSA algorithm. For windows of length 2 or
// less it falls back to the initial difficulty, even though the wrapped
// LWMA can compute a real value at length 2 — this asymmetry is carried
// from the source rather than "fixed".
func (t *TSA) GetDifficulty() difficulty.Difficulty {
	obs := t.lwma.window()
	if len(obs) <= 2 {
		return t.initial
	}

	base := float64(t.lwma.GetDifficulty())
	targetTime := t.targetTime

	n := uint64(len(obs) - 1)
	thisTS := obs[n].Timestamp
	prevTS := obs[n-1].Timestamp
	if thisTS <= prevTS {
		thisTS = prevTS.Increase(1)
	}
	solveTime := uint64(thisTS - prevTS)
	if maxSolve := 6 * targetTime; solveTime > maxSolve {
		solveTime = maxSolve
	}

	// Unwanted modification (kept verbatim, see DESIGN.md): rescale the
	// accumulated window solve-time and fold it back into solveTime before
	// branching. The source marks this block as unintended but the
	// determinism requirement forbids silently dropping it.
	asc := uint64(obs[n].Timestamp - obs[0].Timestamp)
	if asc/n+1 <= targetTime/tsaR {
		asc = asc / (n + 1) / targetTime * asc
	}
	rescaled := int64(solveTime) * int64(asc/(n+1)*1000/targetTime) / 1000
	if rescaled < 0 {
		rescaled = 0
	}
	solveTime = uint64(rescaled)

	if solveTime <= targetTime/5 {
		return difficulty.Difficulty(uint64(math.Ceil(base / 5))).Clamped()
	}

	// Branch B: approximate e^x, x = solveTime/(targetTime*R), via a
	// whole-step loop (multiplications by e) plus a 4-term Taylor
	// expansion for the fractional remainder, in the integer-scaled form
	// the source uses; then scale base by
	// (targetTime + (solveTime-targetTime)*e^x) / solveTime.
	const m = 1_000_000.0
	const e = 2.71828
	exm := m
	step := targetTime * tsaR
	whole := solveTime / step
	for i := uint64(0); i < whole; i++ {
		exm = (exm * (e * m)) / m
	}

	f := float64(solveTime % step)
	tr := float64(step)
	level4 := m + (f*m)/(4*tr)
	level3 := m + (f*level4)/(3*tr)
	level2 := m + (f*level3)/(2*tr)
	level1 := m + (f*level2)/tr
	exm = (exm * level1) / m

	result := base * (1000 * (m*float64(targetTime) + (float64(solveTime)-float64(targetTime))*exm)) /
		(m * float64(solveTime)) / 1000
	return difficulty.Difficulty(uint64(math.Ceil(result))).Clamped()
}
