package optimization

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultParametersValidate(t *testing.T) {
	p := DefaultParameters()
	require.NoError(t, p.Validate())
	assert.Equal(t, 0.025, p.PeakRange)
	assert.Equal(t, 1001, p.StartNum)
	assert.Equal(t, ExponentialCooling, p.Anneal.Cooling)
	assert.Equal(t, p.Refine, p.ScheduleFor(PhaseRefine))
	assert.Equal(t, p.Anneal, p.ScheduleFor(PhaseAnneal))
}

func TestParametersValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Parameters)
	}{
		{"zero peak range", func(p *Parameters) { p.PeakRange = 0 }},
		{"infinite peak range", func(p *Parameters) { p.PeakRange = math.Inf(1) }},
		{"NaN peak range", func(p *Parameters) { p.PeakRange = math.NaN() }},
		{"zero mix size", func(p *Parameters) { p.MixSize = 0 }},
		{"negative extra mixtures", func(p *Parameters) { p.ExtraMixtures = -1 }},
		{"zero iterations", func(p *Parameters) { p.Iterations = 0 }},
		{"score scale below one", func(p *Parameters) { p.ScoreScale = 0.5 }},
		{"zero score power", func(p *Parameters) { p.ScorePower = 0 }},
		{"zero print step", func(p *Parameters) { p.PrintStepSize = 0 }},
		{"unknown delta mode", func(p *Parameters) { p.DeltaMode = "mean" }},
		{"intense cutoff above one", func(p *Parameters) { p.IntensePeakCutoff = 1.5 }},
		{"zero start temp", func(p *Parameters) { p.Anneal.StartTemp = 0 }},
		{"negative final temp", func(p *Parameters) { p.Refine.FinalTemp = -1 }},
		{"zero max steps", func(p *Parameters) { p.Anneal.MaxSteps = 0 }},
		{"zero mix rate", func(p *Parameters) { p.Refine.MixRate = 0 }},
		{"unknown cooling", func(p *Parameters) { p.Anneal.Cooling = "cubic" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParameters()
			tt.mutate(&p)
			err := p.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidParameter))
			_, ok := IsOptimizationError(err)
			assert.True(t, ok)
		})
	}
}

func TestParametersUpdateKeepsPriorOnError(t *testing.T) {
	p := DefaultParameters()

	next, err := p.Update(func(p *Parameters) { p.MixSize = 8 })
	require.NoError(t, err)
	assert.Equal(t, 8, next.MixSize)
	assert.Equal(t, 5, p.MixSize, "receiver must not change")

	kept, err := next.Update(func(p *Parameters) {
		p.MixSize = 3
		p.Anneal.Cooling = "cubic"
	})
	assert.Error(t, err)
	assert.Equal(t, next, kept)
}

func TestAssignmentHelpers(t *testing.T) {
	a := Assignment{1002: {"C"}, 1001: {"A", "B"}, 1003: nil}

	assert.Equal(t, []int{1001, 1002, 1003}, a.MixtureIDs())
	assert.Equal(t, []string{"A", "B", "C"}, a.Compounds())

	clone := a.Clone()
	clone[1001][0] = "Z"
	assert.Equal(t, "A", a[1001][0])

	sub := a.Subset([]int{1002, 1004})
	assert.Equal(t, Assignment{1002: {"C"}, 1004: nil}, sub)

	a.Merge(Assignment{1003: {"D"}})
	assert.Equal(t, []string{"D"}, a[1003])

	plan := &Plan{Assignment: a, Locked: map[int]bool{1001: true}}
	assert.True(t, plan.IsLocked(1001))
	assert.False(t, plan.IsLocked(1002))
}

func TestScoreArithmetic(t *testing.T) {
	a := Score{Value: 3, Overlaps: 2}
	b := Score{Value: 1, Overlaps: 1}
	assert.Equal(t, Score{Value: 4, Overlaps: 3}, a.Add(b))
	assert.Equal(t, Score{Value: 2, Overlaps: 1}, a.Sub(b))
	assert.Equal(t, "PASSED", Step{Accepted: true}.Status())
	assert.Equal(t, "FAILED", Step{}.Status())
}

func TestErrorFormatting(t *testing.T) {
	err := WrapError(ErrUnknownCompound, "mixture 1001")
	assert.Equal(t, "mixture 1001: unknown compound", err.Error())
	assert.True(t, errors.Is(err, ErrUnknownCompound))
	assert.Nil(t, WrapError(nil, "ignored"))

	e := NewErrorf("bad %s", "value").WithOperation("Validate").WithComponent("params")
	assert.Equal(t, "params: Validate: bad value", e.Error())
}
