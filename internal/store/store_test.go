package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/copyleftdev/nmrmix/internal/errors"
	"github.com/copyleftdev/nmrmix/internal/optimization"
	"github.com/copyleftdev/nmrmix/internal/optimization/results"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRun(id string, created time.Time) Run {
	return Run{
		ID:         id,
		Status:     optimization.StatusCompleted,
		Parameters: optimization.DefaultParameters(),
		Initial:    optimization.Score{Value: 25000, Overlaps: 5},
		Final:      optimization.Score{Value: 5000, Overlaps: 1},
		CreatedAt:  created,
		FinishedAt: created.Add(time.Minute),
		Mixtures: []results.MixtureRow{
			{ID: 1001, Score: 5000, Overlaps: 1, Group: "D2O", Members: []string{"A", "B"}},
			{ID: 1002, Score: 0, Group: results.MixedGroup, Members: []string{"C", "D", "E"}},
		},
	}
}

func testOutcome() *optimization.Outcome {
	return &optimization.Outcome{
		Buckets: []optimization.BucketResult{{
			Bucket: optimization.Bucket{Name: "D2O"},
			Iterations: []optimization.IterationResult{{
				Anneal: []optimization.Step{
					{Step: 1, Temperature: 100, ScoreBefore: 25000, ScoreProposed: 20000, Accepted: true},
					{Step: 2, Temperature: 90, ScoreBefore: 20000, ScoreProposed: 30000},
				},
			}},
		}},
	}
}

func TestSaveAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(ctx, testRun("run-1", created), testOutcome()))

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	want := testRun("run-1", created)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Parameters, got.Parameters)
	assert.Equal(t, want.Initial, got.Initial)
	assert.Equal(t, want.Final, got.Final)
	assert.True(t, created.Equal(got.CreatedAt))
	assert.Equal(t, want.Mixtures, got.Mixtures)
	assert.Equal(t, optimization.Assignment{1001: {"A", "B"}, 1002: {"C", "D", "E"}}, got.Assignment())

	trace, err := s.Trace(ctx, "run-1", "D2O", 0, optimization.PhaseAnneal)
	require.NoError(t, err)
	assert.Equal(t, []TracePoint{
		{Temperature: 100, Score: 20000, Accepted: true},
		{Temperature: 90, Score: 20000},
	}, trace)

	_, err = s.Trace(ctx, "run-1", "D2O", 0, optimization.PhaseRefine)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestSaveReplaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	run := testRun("run-1", time.Now())
	require.NoError(t, s.Save(ctx, run, testOutcome()))

	run.Status = optimization.StatusCancelled
	run.Error = "cancelled by client"
	run.Mixtures = run.Mixtures[:1]
	require.NoError(t, s.Save(ctx, run, nil))

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, optimization.StatusCancelled, got.Status)
	assert.Equal(t, "cancelled by client", got.Error)
	assert.Len(t, got.Mixtures, 1)

	_, err = s.Trace(ctx, "run-1", "D2O", 0, optimization.PhaseAnneal)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestListAndDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Save(ctx, testRun(id, base.Add(time.Duration(i)*time.Hour)), nil))
	}

	runs, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
	assert.Empty(t, runs[0].Mixtures)

	require.NoError(t, s.Delete(ctx, "b"))
	_, err = s.Get(ctx, "b")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(s.Delete(ctx, "b")))

	runs, err = s.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
