// Package acceptance decides whether the annealer takes a proposed move.
package acceptance

import (
	"math"
	"math/rand"
)

// PerfectScore is the score at or below which a proposal ends the run.
const PerfectScore = 1e-4

// Decision is the outcome of one Metropolis test.
type Decision struct {
	Accepted    bool
	Probability float64
	// Perfect is set when the proposal reached PerfectScore.
	Perfect bool
}

// Metropolis implements the Metropolis acceptance criterion for a minimized score.
type Metropolis struct {
	rng *rand.Rand
}

// NewMetropolis creates a criterion drawing from rng
func NewMetropolis(rng *rand.Rand) *Metropolis {
	return &Metropolis{rng: rng}
}

// Probability returns the chance of taking a move that worsens the score by
// diff at temperature temp. It is 0 when temp or scale is not positive.
func Probability(diff, scale, temp float64) float64 {
	if diff <= 0 {
		return 1
	}
	if temp <= 0 || scale <= 0 {
		return 0
	}
	return math.Exp(-diff / (scale * temp))
}

// Decide tests a move from current to proposed. Improvements and ties are
// always taken; worse moves are taken with Probability.
func (m *Metropolis) Decide(current, proposed, scale, temp float64) Decision {
	if proposed <= PerfectScore {
		return Decision{Accepted: true, Probability: 1, Perfect: true}
	}
	if proposed <= current {
		return Decision{Accepted: true, Probability: 1}
	}
	p := Probability(proposed-current, scale, temp)
	return Decision{Accepted: m.rng.Float64() < p, Probability: p}
}
