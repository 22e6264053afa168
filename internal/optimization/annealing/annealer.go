// Package annealing optimizes mixture assignments by simulated annealing.
package annealing

import (
	"context"
	"math/rand"

	"go.uber.org/zap"

	"github.com/copyleftdev/nmrmix/internal/optimization"
	"github.com/copyleftdev/nmrmix/internal/optimization/acceptance"
	"github.com/copyleftdev/nmrmix/internal/optimization/cooling"
)

// Recorder receives instrumentation from the annealer and the runner.
type Recorder interface {
	ObserveStep(bucket string, phase optimization.Phase, accepted bool)
	ObserveScore(bucket string, score float64)
	ObserveBucket(bucket string, status optimization.Status, seconds float64)
}

type nopRecorder struct{}

func (nopRecorder) ObserveStep(string, optimization.Phase, bool)       {}
func (nopRecorder) ObserveScore(string, float64)                       {}
func (nopRecorder) ObserveBucket(string, optimization.Status, float64) {}

// Pass is the result of one annealing or refinement pass.
type Pass struct {
	Phase      optimization.Phase
	Start      optimization.Score
	// Best is the lowest score seen during the pass.
	Best       optimization.Score
	Assignment optimization.Assignment
	Steps      []optimization.Step
	EarlyExit  bool
}

// Annealer runs annealing passes for a single worker. It is not safe for
// concurrent use.
type Annealer struct {
	params   optimization.Parameters
	eval     Evaluator
	peaks    func(ids []string) int
	rng      *rand.Rand
	logger   *zap.Logger
	recorder Recorder
	progress func(optimization.Progress)
}

// AnnealerOption configures an Annealer.
type AnnealerOption func(*Annealer)

// WithProgress sets the callback receiving periodic progress snapshots.
func WithProgress(fn func(optimization.Progress)) AnnealerOption {
	return func(a *Annealer) { a.progress = fn }
}

// WithRecorder sets the instrumentation sink.
func WithRecorder(r Recorder) AnnealerOption {
	return func(a *Annealer) { a.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) AnnealerOption {
	return func(a *Annealer) { a.logger = l.Named("annealer") }
}

// WithPeakCounter sets the function reporting the total peak count of a set
// of compounds, used for trace records.
func WithPeakCounter(fn func(ids []string) int) AnnealerOption {
	return func(a *Annealer) { a.peaks = fn }
}

// NewAnnealer creates an annealer scoring with eval and drawing from rng
func NewAnnealer(params optimization.Parameters, eval Evaluator, rng *rand.Rand, opts ...AnnealerOption) *Annealer {
	a := &Annealer{
		params:   params,
		eval:     eval,
		rng:      rng,
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
		progress: func(optimization.Progress) {},
		peaks:    func([]string) int { return 0 },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run anneals wc under the schedule of phase. wc is left at the last accepted
// state; the returned Pass carries the best state seen, which is never worse
// than the start. If ctx is cancelled the partial Pass is returned with an
// error wrapping optimization.ErrCancelled.
func (a *Annealer) Run(ctx context.Context, wc *WorkingCopy, phase optimization.Phase, bucket string, iteration int) (*Pass, error) {
	sch := a.params.ScheduleFor(phase)
	schedule, err := cooling.New(sch)
	if err != nil {
		return nil, err
	}
	delta, err := acceptance.NewDeltaScale(a.params, sch)
	if err != nil {
		return nil, err
	}
	criterion := acceptance.NewMetropolis(a.rng)

	start := wc.Assignment()
	curr, err := totalScore(a.eval, start)
	if err != nil {
		return nil, err
	}
	pass := &Pass{
		Phase:      phase,
		Start:      curr,
		Best:       curr,
		Assignment: start,
		Steps:      make([]optimization.Step, 0, sch.MaxSteps),
	}
	if wc.Movable() < 2 {
		a.logger.Debug("fewer than two movable mixtures, skipping pass",
			zap.String("bucket", bucket),
			zap.String("phase", string(phase)))
		return pass, nil
	}

	totalPeaks := a.peaks(wc.Compounds())
	maxScore := float64(sch.MixRate) * a.params.ScoreScale
	temp := schedule.Start()

	for step := 1; step <= sch.MaxSteps; step++ {
		select {
		case <-ctx.Done():
			return pass, optimization.WrapErrorf(optimization.ErrCancelled, "%s %s pass at step %d: %v", bucket, phase, step, ctx.Err())
		default:
		}

		prop, err := wc.Propose(a.rng, sch.MixRate, a.params.MixSize, a.eval)
		if err != nil {
			return pass, err
		}
		proposed := curr.Add(prop.Diff)
		delta.Observe(proposed.Value - curr.Value)
		d := criterion.Decide(curr.Value, proposed.Value, delta.Scale(), temp)

		pass.Steps = append(pass.Steps, optimization.Step{
			Step:          step,
			Temperature:   temp,
			ScoreBefore:   curr.Value,
			ScoreProposed: proposed.Value,
			OverlapBefore: curr.Overlaps,
			OverlapAfter:  proposed.Overlaps,
			TotalPeaks:    totalPeaks,
			MaxScore:      maxScore,
			Probability:   d.Probability,
			Accepted:      d.Accepted,
		})
		a.recorder.ObserveStep(bucket, phase, d.Accepted)

		if d.Accepted {
			wc.Commit(prop)
			curr = proposed
			if curr.Value < pass.Best.Value {
				pass.Best = curr
				pass.Assignment = wc.Assignment()
			}
		} else {
			wc.Discard(prop)
		}

		if step%a.params.PrintStepSize == 0 || d.Perfect {
			a.recorder.ObserveScore(bucket, curr.Value)
			a.progress(optimization.Progress{
				Bucket:      bucket,
				Iteration:   iteration,
				Phase:       phase,
				Step:        step,
				MaxSteps:    sch.MaxSteps,
				Temperature: temp,
				Score:       curr.Value,
			})
		}
		if d.Perfect {
			pass.EarlyExit = true
			break
		}
		temp = schedule.Next(temp)
	}

	// Incremental sums drift; report the exact score of the kept state.
	best, err := totalScore(a.eval, pass.Assignment)
	if err != nil {
		return pass, err
	}
	pass.Best = best

	a.logger.Debug("pass finished",
		zap.String("bucket", bucket),
		zap.String("phase", string(phase)),
		zap.Int("iteration", iteration),
		zap.Int("steps", len(pass.Steps)),
		zap.Float64("start", pass.Start.Value),
		zap.Float64("best", pass.Best.Value),
		zap.Bool("early_exit", pass.EarlyExit))
	return pass, nil
}

func totalScore(eval Evaluator, a optimization.Assignment) (optimization.Score, error) {
	var total optimization.Score
	for _, id := range a.MixtureIDs() {
		sc, err := eval.MixtureScore(a[id])
		if err != nil {
			return optimization.Score{}, optimization.WrapErrorf(err, "mixture %d", id)
		}
		total = total.Add(sc)
	}
	return total, nil
}
