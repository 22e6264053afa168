package scoring

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/nmrmix/internal/library"
	"github.com/copyleftdev/nmrmix/internal/optimization"
)

type compoundDef struct {
	id    string
	peaks []library.Peak
}

func newLibrary(t testing.TB, defs ...compoundDef) *library.Library {
	t.Helper()
	lib := library.New()
	for _, d := range defs {
		c, err := library.NewCompound(d.id, d.id, "", true, d.peaks)
		require.NoError(t, err)
		require.NoError(t, lib.Add(c))
	}
	return lib
}

func peaks(pairs ...float64) []library.Peak {
	out := make([]library.Peak, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, library.Peak{Shift: pairs[i], Intensity: pairs[i+1]})
	}
	return out
}

func TestDisjointPeaksScoreZero(t *testing.T) {
	lib := newLibrary(t,
		compoundDef{"A", peaks(1.0, 1.0)},
		compoundDef{"B", peaks(5.0, 1.0)},
	)
	s := NewScorer(lib, optimization.DefaultParameters(), nil)

	sc, err := s.MixtureScore([]string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, optimization.Score{}, sc)

	sc, err = s.MixtureScore([]string{"B", "A"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, sc.Value)
}

func TestIdenticalPeaksOverlap(t *testing.T) {
	lib := newLibrary(t,
		compoundDef{"A", peaks(1.0, 1.0)},
		compoundDef{"B", peaks(1.0, 0.5)},
	)
	params := optimization.DefaultParameters()
	s := NewScorer(lib, params, nil)

	a, err := s.CompoundScore("A", []string{"A", "B"})
	require.NoError(t, err)
	b, err := s.CompoundScore("B", []string{"A", "B"})
	require.NoError(t, err)

	assert.Equal(t, optimization.Score{Value: params.ScoreScale, Overlaps: 1}, a)
	assert.Equal(t, a, b, "overlap is symmetric")

	mix, err := s.MixtureScore([]string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, optimization.Score{Value: 2 * params.ScoreScale, Overlaps: 2}, mix)
}

func TestOverlapRule(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []library.Peak
		expected int
	}{
		{
			name:     "touching windows do not overlap",
			a:        []library.Peak{{Shift: 1.0, Intensity: 1, Width: 0.5}},
			b:        []library.Peak{{Shift: 1.5, Intensity: 1, Width: 0.5}},
			expected: 0,
		},
		{
			name:     "partial overlap",
			a:        []library.Peak{{Shift: 1.0, Intensity: 1, Width: 0.5}},
			b:        []library.Peak{{Shift: 1.25, Intensity: 1, Width: 0.5}},
			expected: 1,
		},
		{
			name:     "custom width widens the window",
			a:        []library.Peak{{Shift: 1.0, Intensity: 1, Width: 1.0}},
			b:        []library.Peak{{Shift: 1.4, Intensity: 1}},
			expected: 1,
		},
		{
			name:     "peak credited once against many peers",
			a:        []library.Peak{{Shift: 2.0, Intensity: 1, Width: 0.5}},
			b:        peaks(1.9, 1, 2.0, 1, 2.1, 1),
			expected: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lib := newLibrary(t, compoundDef{"A", tt.a}, compoundDef{"B", tt.b})
			s := NewScorer(lib, optimization.DefaultParameters(), nil)

			ab, err := s.CompoundScore("A", []string{"B"})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ab.Overlaps)
		})
	}
}

func TestScoreShaping(t *testing.T) {
	lib := newLibrary(t,
		compoundDef{"A", peaks(1.0, 0.5, 3.0, 1.0)},
		compoundDef{"B", peaks(1.0, 1.0)},
	)

	tests := []struct {
		name         string
		useIntensity bool
		power        float64
		expected     float64
	}{
		{"count", false, 1, 5000},
		{"count squared", false, 2, 2500},
		{"intensity", true, 1, 0.5 / 1.5 * 10000},
		{"intensity squared", true, 2, 0.25 / 1.5 * 10000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := optimization.DefaultParameters().Update(func(p *optimization.Parameters) {
				p.UseIntensity = tt.useIntensity
				p.ScorePower = tt.power
			})
			require.NoError(t, err)

			s := NewScorer(lib, params, nil)
			sc, err := s.CompoundScore("A", []string{"B"})
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, sc.Value, 1e-9)
			assert.Equal(t, 1, sc.Overlaps)
		})
	}
}

func TestDegenerateMixtures(t *testing.T) {
	lib := newLibrary(t, compoundDef{"A", peaks(1.0, 1.0)})
	s := NewScorer(lib, optimization.DefaultParameters(), nil)

	sc, err := s.MixtureScore([]string{"A"})
	require.NoError(t, err)
	assert.Equal(t, optimization.Score{}, sc)

	sc, err = s.MixtureScore(nil)
	require.NoError(t, err)
	assert.Equal(t, optimization.Score{}, sc)

	sc, err = s.MixtureScore([]string{"A", "A"})
	require.NoError(t, err)
	assert.Equal(t, optimization.Score{}, sc, "duplicate ids are one member")
}

func TestUnknownCompound(t *testing.T) {
	lib := newLibrary(t, compoundDef{"A", peaks(1.0, 1.0)})
	s := NewScorer(lib, optimization.DefaultParameters(), nil)

	_, err := s.MixtureScore([]string{"A", "Z"})
	assert.ErrorIs(t, err, optimization.ErrUnknownCompound)

	_, err = s.TotalScore(optimization.Assignment{1: {"A"}, 2: {"Z"}})
	assert.ErrorIs(t, err, optimization.ErrUnknownCompound)
}

func TestMixtureCache(t *testing.T) {
	lib := newLibrary(t,
		compoundDef{"A", peaks(1.0, 1.0, 2.0, 1.0)},
		compoundDef{"B", peaks(1.0, 1.0)},
		compoundDef{"C", peaks(2.0, 1.0, 7.0, 1.0)},
	)
	s := NewScorer(lib, optimization.DefaultParameters(), nil)

	first, err := s.MixtureScore([]string{"A", "B", "C"})
	require.NoError(t, err)
	for _, order := range [][]string{{"C", "B", "A"}, {"B", "A", "C"}, {"A", "C", "B", "A"}} {
		sc, err := s.MixtureScore(order)
		require.NoError(t, err)
		assert.Equal(t, first, sc)
	}
	hits, misses := s.CacheStats()
	assert.Equal(t, 3, hits)
	assert.Equal(t, 1, misses)

	assert.Empty(t, s.CompoundScores(), "memoized scoring records nothing")

	s.Reset()
	hits, misses = s.CacheStats()
	assert.Zero(t, hits+misses)
}

func TestCommitRecordsReports(t *testing.T) {
	lib := newLibrary(t,
		compoundDef{"A", peaks(1.0, 1.0, 2.0, 1.0)},
		compoundDef{"B", peaks(1.0, 1.0)},
	)
	s := NewScorer(lib, optimization.DefaultParameters(), nil)

	total, err := s.CommitAll(optimization.Assignment{1: {"A", "B"}})
	require.NoError(t, err)
	assert.Equal(t, 2, total.Overlaps)
	assert.InDelta(t, 15000, total.Value, 1e-9)

	scores := s.CompoundScores()
	assert.Equal(t, CompoundScore{Score: 5000, Overlaps: 1, Peaks: 2}, scores["A"])

	r, ok := s.Report("A")
	require.True(t, ok)
	assert.Len(t, r.Overlapped, 1)
	assert.Len(t, r.Free, 1)
	assert.Equal(t, 2.0, r.Free[0].Shift)
	require.Len(t, r.FreeROIs, 1)
	assert.InDelta(t, 1.9875, r.FreeROIs[0].Low, 1e-12)

	_, ok = s.Report("missing")
	assert.False(t, ok)
}

func TestForkHasIndependentCache(t *testing.T) {
	lib := newLibrary(t, compoundDef{"A", peaks(1.0, 1.0)}, compoundDef{"B", peaks(1.0, 1.0)})
	s := NewScorer(lib, optimization.DefaultParameters(), nil)
	_, err := s.MixtureScore([]string{"A", "B"})
	require.NoError(t, err)

	f := s.Fork()
	_, err = f.MixtureScore([]string{"A", "B"})
	require.NoError(t, err)
	hits, misses := f.CacheStats()
	assert.Equal(t, 0, hits)
	assert.Equal(t, 1, misses)
	assert.Equal(t, 2, f.NumPeaks([]string{"A", "B", "Z"}))
}

func randomLibrary(t testing.TB, rng *rand.Rand, n int) *library.Library {
	defs := make([]compoundDef, n)
	for i := range defs {
		var ps []library.Peak
		for j := 0; j < 1+rng.Intn(12); j++ {
			ps = append(ps, library.Peak{Shift: rng.Float64() * 10, Intensity: rng.Float64()*2 - 0.2})
		}
		ps = append(ps, library.Peak{Shift: rng.Float64() * 10, Intensity: 1})
		defs[i] = compoundDef{fmt.Sprintf("C%03d", i), ps}
	}
	return newLibrary(t, defs...)
}

func TestScoresAreNonNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	lib := randomLibrary(t, rng, 40)
	ids := lib.IDs()

	for _, useIntensity := range []bool{false, true} {
		params := optimization.DefaultParameters()
		params.UseIntensity = useIntensity
		s := NewScorer(lib, params, nil)

		for trial := 0; trial < 50; trial++ {
			rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
			mix := ids[:1+rng.Intn(6)]
			sc, err := s.MixtureScore(mix)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, sc.Value, 0.0)
			assert.LessOrEqual(t, sc.Value, float64(len(mix))*params.ScoreScale+1e-6)
		}
	}
}

func BenchmarkMixtureScore(b *testing.B) {
	rng := rand.New(rand.NewSource(42))
	lib := randomLibrary(b, rng, 200)
	ids := lib.IDs()
	s := NewScorer(lib, optimization.DefaultParameters(), nil)

	mixes := make([][]string, 64)
	for i := range mixes {
		rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		mixes[i] = append([]string(nil), ids[:5]...)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Reset()
		for _, m := range mixes {
			if _, err := s.MixtureScore(m); err != nil {
				b.Fatal(err)
			}
		}
	}
}
