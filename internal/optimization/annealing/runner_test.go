package annealing

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/nmrmix/internal/optimization"
	"github.com/copyleftdev/nmrmix/internal/optimization/partition"
)

func TestRunnerOptimizesEveryBucket(t *testing.T) {
	lib := randomLibrary(t, rand.New(rand.NewSource(21)), 30)
	params := testParams(t, func(p *optimization.Parameters) {
		p.UseGroup = true
		p.Iterations = 2
	})
	plan, err := partition.Generate(lib, params, nil, rand.New(rand.NewSource(params.Seed)))
	require.NoError(t, err)
	require.Len(t, plan.Buckets, 2)

	runner, err := NewRunner(params, newScorer(lib, params), WithWorkers(2))
	require.NoError(t, err)
	out, err := runner.Optimize(context.Background(), plan)
	require.NoError(t, err)

	assert.Contains(t, []optimization.Status{optimization.StatusCompleted, optimization.StatusNotImproved}, out.Status)
	assert.LessOrEqual(t, out.Final.Value, out.Initial.Value)
	assert.Equal(t, plan.Assignment.Compounds(), out.Assignment.Compounds())

	groups := lib.ByGroup()
	for _, b := range out.Buckets {
		assert.Equal(t, optimization.StatusCompleted, b.Status)
		assert.Len(t, b.Iterations, 2)
		assert.LessOrEqual(t, b.Best.Value, b.Initial.Value)

		var members []string
		for _, id := range b.Bucket.MixtureIDs {
			members = append(members, out.Assignment[id]...)
			assert.LessOrEqual(t, len(out.Assignment[id]), params.MixSize)
		}
		sort.Strings(members)
		assert.Equal(t, groups[b.Bucket.Name], members, "bucket %s keeps its own compounds", b.Bucket.Name)

		best := b.Iterations[b.BestIndex].Final.Value
		for _, it := range b.Iterations {
			assert.GreaterOrEqual(t, it.Final.Value, best)
			if !it.EarlyExit {
				assert.Len(t, it.Anneal, params.Anneal.MaxSteps)
			}
		}
	}
}

func TestRunnerIsReproducible(t *testing.T) {
	lib := randomLibrary(t, rand.New(rand.NewSource(8)), 16)
	params := testParams(t, func(p *optimization.Parameters) { p.Seed = 42 })

	run := func() *optimization.Outcome {
		plan, err := partition.Generate(lib, params, nil, rand.New(rand.NewSource(params.Seed)))
		require.NoError(t, err)
		runner, err := NewRunner(params, newScorer(lib, params))
		require.NoError(t, err)
		out, err := runner.Optimize(context.Background(), plan)
		require.NoError(t, err)
		return out
	}

	a, b := run(), run()
	assert.Equal(t, a.Assignment, b.Assignment)
	assert.Equal(t, a.Final, b.Final)
}

func TestRunnerRefinementAndIterations(t *testing.T) {
	lib := randomLibrary(t, rand.New(rand.NewSource(9)), 12)
	params := testParams(t, func(p *optimization.Parameters) {
		p.UseRefine = true
		p.Iterations = 3
		p.RandomizeInitial = false
	})
	plan, err := partition.Generate(lib, params, nil, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	runner, err := NewRunner(params, newScorer(lib, params))
	require.NoError(t, err)
	out, err := runner.Optimize(context.Background(), plan)
	require.NoError(t, err)

	require.Len(t, out.Buckets, 1)
	b := out.Buckets[0]
	require.Len(t, b.Iterations, 3)
	for i, it := range b.Iterations {
		if !it.EarlyExit {
			assert.Len(t, it.Refine, params.Refine.MaxSteps, "iteration %d", i)
		}
		if i > 0 {
			assert.LessOrEqual(t, it.Start.Value, b.Iterations[i-1].Start.Value+1e-6,
				"continuing iterations start from the best so far")
		}
	}
	assert.Equal(t, b.Best, b.Iterations[b.BestIndex].Final)
}

func TestRunnerKeepsLockedMixtures(t *testing.T) {
	lib := randomLibrary(t, rand.New(rand.NewSource(10)), 14)
	params := testParams(t, nil)
	ids := lib.IDs()
	locked := optimization.Assignment{900: {ids[0], ids[1]}}

	plan, err := partition.Generate(lib, params, locked, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	runner, err := NewRunner(params, newScorer(lib, params))
	require.NoError(t, err)
	out, err := runner.Optimize(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, []string{ids[0], ids[1]}, out.Assignment[900])
	assert.Equal(t, ids, out.Assignment.Compounds())
}

func TestJobCancellation(t *testing.T) {
	// Every compound shares one shift, so no run can reach a perfect score.
	shifts := make(map[string]float64)
	for i := 0; i < 12; i++ {
		shifts[fmt.Sprintf("C%02d", i)] = 1
	}
	lib := singlePeakLibrary(t, shifts)
	params := testParams(t, func(p *optimization.Parameters) {
		p.Anneal.MaxSteps = 1000000
		p.PrintStepSize = 1
	})
	plan, err := partition.Generate(lib, params, nil, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	runner, err := NewRunner(params, newScorer(lib, params), WithEventBuffer(4))
	require.NoError(t, err)
	job := runner.Start(context.Background(), plan)

	_, ok := <-job.Events()
	require.True(t, ok, "progress is streamed before completion")
	job.Cancel()

	out, err := job.Wait()
	require.NoError(t, err)
	assert.Equal(t, optimization.StatusCancelled, out.Status)
	assert.Equal(t, plan.Assignment, out.Assignment, "cancelled buckets are not applied")
	assert.Equal(t, out.Initial, out.Final)

	for range job.Events() {
	}
}

func TestRunnerRejectsBadPlans(t *testing.T) {
	lib := singlePeakLibrary(t, map[string]float64{"A": 1, "B": 2})
	params := testParams(t, nil)
	runner, err := NewRunner(params, newScorer(lib, params))
	require.NoError(t, err)

	_, err = runner.Optimize(context.Background(), &optimization.Plan{})
	assert.ErrorIs(t, err, optimization.ErrNoCompounds)

	_, err = runner.Optimize(context.Background(), bucketPlan(optimization.Assignment{1: {"A", "Z"}, 2: {"B"}}))
	assert.ErrorIs(t, err, optimization.ErrUnknownCompound)

	params.MixSize = 0
	_, err = NewRunner(params, newScorer(lib, params))
	assert.ErrorIs(t, err, optimization.ErrInvalidParameter)
}
