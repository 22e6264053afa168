// Package results aggregates optimization outcomes into summary statistics
// and report tables.
package results

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/nmrmix/internal/optimization"
)

// Spread is the population mean and standard deviation of a sample.
type Spread struct {
	Mean   float64 `json:"mean" yaml:"mean"`
	StdDev float64 `json:"stddev" yaml:"stddev"`
}

// PerCompound scales the spread down to a single compound.
func (s Spread) PerCompound(n int) Spread {
	if n <= 0 {
		return Spread{}
	}
	return Spread{Mean: s.Mean / float64(n), StdDev: s.StdDev / float64(n)}
}

// Range is a Spread together with its extremes.
type Range struct {
	Spread `yaml:",inline"`
	Min    float64 `json:"min" yaml:"min"`
	Max    float64 `json:"max" yaml:"max"`
}

func spread(xs []float64) Spread {
	if len(xs) == 0 {
		return Spread{}
	}
	mean, std := stat.PopMeanStdDev(xs, nil)
	return Spread{Mean: mean, StdDev: std}
}

func valueRange(xs []float64) Range {
	if len(xs) == 0 {
		return Range{}
	}
	return Range{Spread: spread(xs), Min: floats.Min(xs), Max: floats.Max(xs)}
}

// BucketSummary condenses the iterations of one bucket.
type BucketSummary struct {
	Bucket        string              `json:"bucket" yaml:"bucket"`
	Status        optimization.Status `json:"status" yaml:"status"`
	Compounds     int                 `json:"compounds" yaml:"compounds"`
	Iterations    int                 `json:"iterations" yaml:"iterations"`
	BestIteration int                 `json:"best_iteration" yaml:"best_iteration"`
	Steps         int                 `json:"steps" yaml:"steps"`
	Accepted      int                 `json:"accepted" yaml:"accepted"`

	StartScore    Spread `json:"start_score" yaml:"start_score"`
	FinalScore    Spread `json:"final_score" yaml:"final_score"`
	StartOverlaps Spread `json:"start_overlaps" yaml:"start_overlaps"`
	FinalOverlaps Spread `json:"final_overlaps" yaml:"final_overlaps"`

	// StepDelta is the absolute score change proposed per step.
	StepDelta Range `json:"step_delta" yaml:"step_delta"`
}

// AcceptanceRate is the fraction of steps whose proposal was accepted.
func (s BucketSummary) AcceptanceRate() float64 {
	if s.Steps == 0 {
		return 0
	}
	return float64(s.Accepted) / float64(s.Steps)
}

// Summarize computes the statistics of one bucket across its iterations.
func Summarize(res optimization.BucketResult) BucketSummary {
	s := BucketSummary{
		Bucket:        res.Bucket.Name,
		Status:        res.Status,
		Compounds:     len(res.Bucket.Compounds),
		Iterations:    len(res.Iterations),
		BestIteration: res.BestIndex,
	}

	var start, final, startOv, finalOv, deltas []float64
	for _, it := range res.Iterations {
		start = append(start, it.Start.Value)
		final = append(final, it.Final.Value)
		startOv = append(startOv, float64(it.Start.Overlaps))
		finalOv = append(finalOv, float64(it.Final.Overlaps))
		for _, trace := range [][]optimization.Step{it.Anneal, it.Refine} {
			for _, st := range trace {
				deltas = append(deltas, math.Abs(st.ScoreBefore-st.ScoreProposed))
				if st.Accepted {
					s.Accepted++
				}
			}
		}
	}
	s.Steps = len(deltas)
	s.StartScore = spread(start)
	s.FinalScore = spread(final)
	s.StartOverlaps = spread(startOv)
	s.FinalOverlaps = spread(finalOv)
	s.StepDelta = valueRange(deltas)
	return s
}

// SummarizeOutcome summarizes every bucket of out in order.
func SummarizeOutcome(out *optimization.Outcome) []BucketSummary {
	if out == nil {
		return nil
	}
	sums := make([]BucketSummary, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		sums = append(sums, Summarize(b))
	}
	return sums
}
