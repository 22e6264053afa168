package results

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/nmrmix/internal/library"
	"github.com/copyleftdev/nmrmix/internal/optimization"
	"github.com/copyleftdev/nmrmix/internal/optimization/scoring"
)

func TestSummarize(t *testing.T) {
	res := optimization.BucketResult{
		Bucket:    optimization.Bucket{Name: "D2O", Compounds: []string{"A", "B", "C", "D"}},
		Status:    optimization.StatusCompleted,
		BestIndex: 1,
		Iterations: []optimization.IterationResult{
			{
				Start: optimization.Score{Value: 40, Overlaps: 4},
				Final: optimization.Score{Value: 20, Overlaps: 2},
				Anneal: []optimization.Step{
					{ScoreBefore: 40, ScoreProposed: 30, Accepted: true},
					{ScoreBefore: 30, ScoreProposed: 34},
				},
			},
			{
				Start:  optimization.Score{Value: 40, Overlaps: 4},
				Final:  optimization.Score{Value: 10, Overlaps: 0},
				Anneal: []optimization.Step{{ScoreBefore: 40, ScoreProposed: 20, Accepted: true}},
				Refine: []optimization.Step{{ScoreBefore: 20, ScoreProposed: 10, Accepted: true}},
			},
		},
	}

	s := Summarize(res)
	assert.Equal(t, "D2O", s.Bucket)
	assert.Equal(t, 4, s.Compounds)
	assert.Equal(t, 2, s.Iterations)
	assert.Equal(t, 1, s.BestIteration)
	assert.Equal(t, 4, s.Steps)
	assert.Equal(t, 3, s.Accepted)
	assert.InDelta(t, 0.75, s.AcceptanceRate(), 1e-12)

	assert.Equal(t, Spread{Mean: 40, StdDev: 0}, s.StartScore)
	assert.InDelta(t, 15, s.FinalScore.Mean, 1e-12)
	assert.InDelta(t, 5, s.FinalScore.StdDev, 1e-12, "population deviation")
	assert.InDelta(t, 1, s.FinalOverlaps.Mean, 1e-12)
	assert.InDelta(t, 1, s.FinalOverlaps.StdDev, 1e-12)

	assert.InDelta(t, 4, s.StepDelta.Min, 1e-12)
	assert.InDelta(t, 20, s.StepDelta.Max, 1e-12)
	assert.InDelta(t, 11, s.StepDelta.Mean, 1e-12)

	per := s.FinalScore.PerCompound(s.Compounds)
	assert.InDelta(t, 3.75, per.Mean, 1e-12)
	assert.Equal(t, Spread{}, s.FinalScore.PerCompound(0))
}

func TestSummarizeWithoutIterations(t *testing.T) {
	s := Summarize(optimization.BucketResult{Status: optimization.StatusCancelled})
	assert.Zero(t, s.Steps)
	assert.Zero(t, s.AcceptanceRate())
	assert.Equal(t, Range{}, s.StepDelta)
	assert.Nil(t, SummarizeOutcome(nil))
}

func reportLibrary(t *testing.T) *library.Library {
	t.Helper()
	lib := library.New()
	add := func(id, group string, shifts ...float64) {
		var peaks []library.Peak
		for _, s := range shifts {
			peaks = append(peaks, library.Peak{Shift: s, Intensity: 1})
		}
		c, err := library.NewCompound(id, "name "+id, group, true, peaks)
		require.NoError(t, err)
		require.NoError(t, lib.Add(c))
	}
	add("A", "D2O", 1.0, 3.0)
	add("B", "D2O", 1.0)
	add("C", "DMSO", 5.0)
	add("D", "D2O", 7.0)
	return lib
}

func TestBuildReport(t *testing.T) {
	lib := reportLibrary(t)
	params := optimization.DefaultParameters()
	scorer := scoring.NewScorer(lib, params, nil)
	a := optimization.Assignment{
		1001: {"B", "A"},
		1002: {"C", "D"},
		1003: {},
	}

	r, err := BuildReport(lib, scorer, a, params)
	require.NoError(t, err)

	assert.Equal(t, 4, r.Compounds)
	assert.Equal(t, 5, r.Peaks)
	assert.Equal(t, 2, r.Overlaps)
	assert.InDelta(t, 1.5*params.ScoreScale, r.Score, 1e-9)
	assert.InDelta(t, 0.5, r.OverlapsPerCompound(), 1e-12)

	require.Len(t, r.Mixtures, 3)
	assert.Equal(t, MixtureRow{ID: 1001, Score: 1.5 * params.ScoreScale, Overlaps: 2, Group: "D2O", Members: []string{"A", "B"}}, r.Mixtures[0])
	assert.Equal(t, MixedGroup, r.Mixtures[1].Group)
	assert.Equal(t, library.Ungrouped, r.Mixtures[2].Group)

	require.Len(t, r.Scores, 4)
	assert.Equal(t, CompoundRow{ID: "A", Name: "name A", Mixture: 1001, Peaks: 2, Overlaps: 1, Score: 0.5 * params.ScoreScale, MixtureScore: 1.5 * params.ScoreScale}, r.Scores[0])

	var free []ROIRow
	for _, row := range r.NoOverlapROIs {
		if row.Compound == "A" {
			free = append(free, row)
		}
	}
	require.Len(t, free, 1, "only the peak at 3.0 ppm is free")
	assert.InDelta(t, 3.0-params.PeakRange/2, free[0].Low, 1e-12)
	assert.Equal(t, 1, free[0].Index)

	full := 0
	for _, row := range r.FullROIs {
		if row.Compound == "A" {
			full++
		}
	}
	assert.Equal(t, 2, full)
}

func TestBuildReportUnknownCompound(t *testing.T) {
	lib := reportLibrary(t)
	params := optimization.DefaultParameters()
	_, err := BuildReport(lib, scoring.NewScorer(lib, params, nil), optimization.Assignment{1: {"A", "Z"}}, params)
	assert.ErrorIs(t, err, optimization.ErrUnknownCompound)
}

func TestWriteSummary(t *testing.T) {
	lib := reportLibrary(t)
	params := optimization.DefaultParameters()
	r, err := BuildReport(lib, scoring.NewScorer(lib, params, nil), optimization.Assignment{1: {"A", "B"}, 2: {"C", "D"}}, params)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, r))
	out := buf.String()
	assert.Contains(t, out, "Total # of Compounds: 4\n")
	assert.Contains(t, out, "Total # of Mixtures: 2\n")
	assert.Contains(t, out, "Total Score: 15000.0\n")
	assert.Contains(t, out, "1 | 15000.0 | D2O | A | B | Blank | Blank | Blank\n")
	assert.Contains(t, out, "2 | 0.0 | Mixed | C | D | Blank | Blank | Blank\n")

	buf.Reset()
	require.NoError(t, WriteBucketSummaries(&buf, []BucketSummary{{Iterations: 1, Compounds: 2}}))
	assert.True(t, strings.HasPrefix(buf.String(), "All Mixtures"))
}
