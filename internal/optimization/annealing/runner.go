package annealing

import (
	"context"
	"errors"
	"math/rand"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/copyleftdev/nmrmix/internal/optimization"
	"github.com/copyleftdev/nmrmix/internal/optimization/partition"
	"github.com/copyleftdev/nmrmix/internal/optimization/scoring"
)

// Runner optimizes every bucket of a plan with one worker per bucket.
type Runner struct {
	params   optimization.Parameters
	scorer   *scoring.Scorer
	logger   *zap.Logger
	recorder Recorder
	workers  int
	buffer   int
}

var _ optimization.Optimizer = (*Runner)(nil)

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger sets the logger.
func WithRunnerLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithRunnerRecorder sets the instrumentation sink.
func WithRunnerRecorder(rec Recorder) RunnerOption {
	return func(r *Runner) { r.recorder = rec }
}

// WithWorkers bounds the number of buckets optimized at once. Zero or less
// means GOMAXPROCS.
func WithWorkers(n int) RunnerOption {
	return func(r *Runner) { r.workers = n }
}

// WithEventBuffer sets the capacity of a job's progress channel.
func WithEventBuffer(n int) RunnerOption {
	return func(r *Runner) { r.buffer = n }
}

// NewRunner creates a runner. scorer is only used as a template; every
// worker scores with its own fork.
func NewRunner(params optimization.Parameters, scorer *scoring.Scorer, opts ...RunnerOption) (*Runner, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{
		params:   params,
		scorer:   scorer,
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
		buffer:   256,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.workers <= 0 {
		r.workers = runtime.GOMAXPROCS(0)
	}
	r.logger = r.logger.Named("runner")
	return r, nil
}

// Job is a running optimization.
type Job struct {
	events chan optimization.Progress
	done   chan struct{}
	cancel context.CancelFunc

	outcome *optimization.Outcome
	err     error
}

// Events streams progress snapshots. The channel is closed when the job ends.
// Snapshots are dropped when the consumer falls behind.
func (j *Job) Events() <-chan optimization.Progress { return j.events }

// Done is closed when the job ends.
func (j *Job) Done() <-chan struct{} { return j.done }

// Cancel stops the job cooperatively. Buckets still running are discarded.
func (j *Job) Cancel() { j.cancel() }

// Wait blocks until the job ends and returns its outcome.
func (j *Job) Wait() (*optimization.Outcome, error) {
	<-j.done
	return j.outcome, j.err
}

// Start optimizes plan in the background.
func (r *Runner) Start(ctx context.Context, plan *optimization.Plan) *Job {
	ctx, cancel := context.WithCancel(ctx)
	job := &Job{
		events: make(chan optimization.Progress, r.buffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	emit := func(p optimization.Progress) {
		select {
		case job.events <- p:
		default:
		}
	}

	go func() {
		defer close(job.done)
		defer close(job.events)
		defer cancel()
		job.outcome, job.err = r.run(ctx, plan, emit)
	}()
	return job
}

// Optimize runs plan to completion. It satisfies optimization.Optimizer.
func (r *Runner) Optimize(ctx context.Context, plan *optimization.Plan) (*optimization.Outcome, error) {
	return r.run(ctx, plan, func(optimization.Progress) {})
}

func (r *Runner) run(ctx context.Context, plan *optimization.Plan, emit func(optimization.Progress)) (*optimization.Outcome, error) {
	if plan == nil || len(plan.Buckets) == 0 {
		return nil, optimization.WrapError(optimization.ErrNoCompounds, "nothing to optimize")
	}
	for _, id := range plan.Assignment.MixtureIDs() {
		for _, c := range plan.Assignment[id] {
			if !r.scorer.Known(c) {
				return nil, optimization.WrapErrorf(optimization.ErrUnknownCompound, "mixture %d: compound %s", id, c)
			}
		}
	}

	seed := r.params.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	r.logger.Info("optimization started",
		zap.Int("buckets", len(plan.Buckets)),
		zap.Int("mixtures", len(plan.Assignment)),
		zap.Int64("seed", seed))

	results := make([]optimization.BucketResult, len(plan.Buckets))
	var g errgroup.Group
	g.SetLimit(r.workers)
	for i, b := range plan.Buckets {
		i, b := i, b
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seed + int64(i)))
			results[i] = r.runBucket(ctx, plan, b, rng, emit)
			return nil
		})
	}
	_ = g.Wait()

	return r.merge(plan, results), nil
}

// runBucket runs every iteration of one bucket on a private scorer and
// working copy. Nothing it does is visible until merge.
func (r *Runner) runBucket(ctx context.Context, plan *optimization.Plan, b optimization.Bucket, rng *rand.Rand, emit func(optimization.Progress)) optimization.BucketResult {
	began := time.Now()
	scorer := r.scorer.Fork()
	logger := r.logger.With(zap.String("bucket", b.Name))
	annealer := NewAnnealer(r.params, scorer, rng,
		WithLogger(logger),
		WithRecorder(r.recorder),
		WithProgress(emit),
		WithPeakCounter(scorer.NumPeaks))

	res := optimization.BucketResult{Bucket: b, Status: optimization.StatusCompleted}
	initial := plan.Assignment.Subset(b.MixtureIDs)
	finish := func(status optimization.Status, err error) optimization.BucketResult {
		res.Status = status
		if err != nil {
			res.Err = err.Error()
		}
		if status != optimization.StatusCompleted {
			res.Assignment = nil
		}
		r.recorder.ObserveBucket(b.Name, status, time.Since(began).Seconds())
		logger.Info("bucket finished",
			zap.String("status", string(status)),
			zap.Float64("initial", res.Initial.Value),
			zap.Float64("best", res.Best.Value),
			zap.Int("iterations", len(res.Iterations)),
			zap.Duration("elapsed", time.Since(began)),
			zap.Error(err))
		return res
	}

	var err error
	res.Initial, err = totalScore(scorer, initial)
	if err != nil {
		return finish(optimization.StatusFailed, err)
	}
	res.Best = res.Initial
	res.Assignment = initial

	prev := initial
	for it := 0; it < r.params.Iterations; it++ {
		start := prev
		if it > 0 && r.params.RandomizeInitial {
			start = partition.Deal(partition.Shuffle(b.Compounds, rng), b.MixtureIDs)
		}

		ir, err := r.iterate(ctx, annealer, start, b, plan.IsLocked, it)
		if err != nil {
			if errors.Is(err, optimization.ErrCancelled) {
				return finish(optimization.StatusCancelled, err)
			}
			return finish(optimization.StatusFailed, err)
		}
		res.Iterations = append(res.Iterations, *ir)

		if it == 0 || ir.Final.Value <= res.Best.Value {
			res.Best = ir.Final
			res.BestIndex = it
			res.Assignment = ir.Assignment
		}
		prev = res.Assignment
	}
	return finish(optimization.StatusCompleted, nil)
}

// iterate runs the anneal pass and the optional refinement pass from start.
func (r *Runner) iterate(ctx context.Context, a *Annealer, start optimization.Assignment, b optimization.Bucket, locked func(int) bool, it int) (*optimization.IterationResult, error) {
	wc := NewWorkingCopy(start, b.MixtureIDs, locked, r.params.MixSize)
	anneal, err := a.Run(ctx, wc, optimization.PhaseAnneal, b.Name, it)
	if err != nil {
		return nil, err
	}
	ir := &optimization.IterationResult{
		Iteration:  it,
		Start:      anneal.Start,
		Final:      anneal.Best,
		Anneal:     anneal.Steps,
		Assignment: anneal.Assignment,
		EarlyExit:  anneal.EarlyExit,
	}
	if !r.params.UseRefine || anneal.EarlyExit {
		return ir, nil
	}

	wc = NewWorkingCopy(anneal.Assignment, b.MixtureIDs, locked, r.params.MixSize)
	refine, err := a.Run(ctx, wc, optimization.PhaseRefine, b.Name, it)
	if err != nil {
		return nil, err
	}
	ir.Refine = refine.Steps
	ir.Final = refine.Best
	ir.Assignment = refine.Assignment
	ir.EarlyExit = refine.EarlyExit
	return ir, nil
}

// merge applies every completed bucket to a copy of the plan's assignment.
func (r *Runner) merge(plan *optimization.Plan, results []optimization.BucketResult) *optimization.Outcome {
	out := &optimization.Outcome{
		Status:     optimization.StatusCompleted,
		Assignment: plan.Assignment.Clone(),
		Buckets:    results,
	}

	cancelled, failed := false, false
	for _, res := range results {
		out.Initial = out.Initial.Add(res.Initial)
		switch res.Status {
		case optimization.StatusCompleted:
			out.Assignment.Merge(res.Assignment)
			out.Final = out.Final.Add(res.Best)
		case optimization.StatusCancelled:
			cancelled = true
			out.Final = out.Final.Add(res.Initial)
		default:
			failed = true
			out.Final = out.Final.Add(res.Initial)
		}
	}

	switch {
	case cancelled:
		out.Status = optimization.StatusCancelled
	case failed:
		out.Status = optimization.StatusFailed
	case out.Final.Value >= out.Initial.Value && out.Initial.Value > 0:
		out.Status = optimization.StatusNotImproved
	}
	r.logger.Info("optimization finished",
		zap.String("status", string(out.Status)),
		zap.Float64("initial", out.Initial.Value),
		zap.Float64("final", out.Final.Value))
	return out
}
