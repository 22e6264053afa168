package annealing

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/nmrmix/internal/library"
	"github.com/copyleftdev/nmrmix/internal/optimization"
	"github.com/copyleftdev/nmrmix/internal/optimization/scoring"
)

// singlePeakLibrary creates one compound per shift, each with one peak.
func singlePeakLibrary(t testing.TB, shifts map[string]float64) *library.Library {
	t.Helper()
	lib := library.New()
	for id, shift := range shifts {
		c, err := library.NewCompound(id, id, "", true, []library.Peak{{Shift: shift, Intensity: 1}})
		require.NoError(t, err)
		require.NoError(t, lib.Add(c))
	}
	return lib
}

// randomLibrary creates n compounds in two groups with random peak lists.
func randomLibrary(t testing.TB, rng *rand.Rand, n int) *library.Library {
	t.Helper()
	lib := library.New()
	for i := 0; i < n; i++ {
		var peaks []library.Peak
		for j := 0; j < 2+rng.Intn(6); j++ {
			peaks = append(peaks, library.Peak{Shift: rng.Float64() * 4, Intensity: 0.1 + rng.Float64()})
		}
		group := "D2O"
		if i%3 == 0 {
			group = "DMSO"
		}
		c, err := library.NewCompound(fmt.Sprintf("C%03d", i), "", group, true, peaks)
		require.NoError(t, err)
		require.NoError(t, lib.Add(c))
	}
	return lib
}

func testParams(t testing.TB, fn func(p *optimization.Parameters)) optimization.Parameters {
	t.Helper()
	p, err := optimization.DefaultParameters().Update(func(p *optimization.Parameters) {
		p.Seed = 1
		p.Anneal = optimization.Schedule{StartTemp: 100, FinalTemp: 1, MaxSteps: 200, Cooling: optimization.LinearCooling, MixRate: 2}
		p.Refine = optimization.Schedule{StartTemp: 5, FinalTemp: 1, MaxSteps: 50, Cooling: optimization.ExponentialCooling, MixRate: 2}
		if fn != nil {
			fn(p)
		}
	})
	require.NoError(t, err)
	return p
}

func bucketPlan(a optimization.Assignment) *optimization.Plan {
	return &optimization.Plan{
		Assignment: a,
		Buckets: []optimization.Bucket{{
			MixtureIDs: a.MixtureIDs(),
			Compounds:  a.Compounds(),
		}},
	}
}

func newScorer(lib *library.Library, params optimization.Parameters) *scoring.Scorer {
	return scoring.NewScorer(lib, params, nil)
}
