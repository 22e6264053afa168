package library

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/nmrmix/internal/optimization"
)

func TestMergeIntervals(t *testing.T) {
	tests := []struct {
		name     string
		in       []ROI
		expected []ROI
	}{
		{
			name:     "empty",
			in:       nil,
			expected: nil,
		},
		{
			name:     "overlapping and disjoint",
			in:       []ROI{{1.0, 2.0}, {1.5, 2.5}, {4.0, 5.0}},
			expected: []ROI{{1.0, 2.5}, {4.0, 5.0}},
		},
		{
			name:     "unsorted input",
			in:       []ROI{{4.0, 5.0}, {1.5, 2.5}, {1.0, 2.0}},
			expected: []ROI{{1.0, 2.5}, {4.0, 5.0}},
		},
		{
			name:     "touching intervals merge",
			in:       []ROI{{1.0, 2.0}, {2.0, 3.0}},
			expected: []ROI{{1.0, 3.0}},
		},
		{
			name:     "contained interval",
			in:       []ROI{{1.0, 4.0}, {2.0, 3.0}},
			expected: []ROI{{1.0, 4.0}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MergeIntervals(tt.in))
		})
	}
}

func TestMergeROIs(t *testing.T) {
	peaks := []Peak{
		{Shift: 1.0, Intensity: 1},
		{Shift: 1.01, Intensity: 1},
		{Shift: 3.0, Intensity: 1, Width: 0.1},
	}
	rois := MergeROIs(peaks, 0.025)
	require.Len(t, rois, 2)
	assert.InDelta(t, 0.9875, rois[0].Low, 1e-12)
	assert.InDelta(t, 1.0225, rois[0].High, 1e-12)
	assert.InDelta(t, 2.95, rois[1].Low, 1e-12)
	assert.InDelta(t, 3.05, rois[1].High, 1e-12)

	assert.Empty(t, MergeROIs(nil, 0.025))
}

func TestNormalize(t *testing.T) {
	t.Run("max becomes one", func(t *testing.T) {
		out, err := Normalize([]Peak{
			{Shift: 3.0, Intensity: 50},
			{Shift: 1.0, Intensity: 200},
			{Shift: 2.0, Intensity: -10},
		})
		require.NoError(t, err)
		require.Len(t, out, 3)

		assert.Equal(t, 1.0, out[0].Shift)
		assert.InDelta(t, 1.0, out[0].Intensity, 1e-12)
		assert.Equal(t, 0.0, out[1].Intensity)
		assert.InDelta(t, 0.25, out[2].Intensity, 1e-12)
		for _, p := range out {
			assert.GreaterOrEqual(t, p.Intensity, 0.0)
		}
	})

	t.Run("empty list is refused", func(t *testing.T) {
		_, err := Normalize(nil)
		assert.ErrorIs(t, err, optimization.ErrEmptyPeakList)
	})

	t.Run("no positive intensity", func(t *testing.T) {
		_, err := Normalize([]Peak{{Shift: 1, Intensity: 0}, {Shift: 2, Intensity: -1}})
		assert.ErrorIs(t, err, ErrNoIntensity)
	})
}

func TestClassifyIgnored(t *testing.T) {
	peaks := []Peak{
		{Shift: 1.0, Intensity: 1},
		{Shift: 2.0, Intensity: 1},
		{Shift: 4.8, Intensity: 1},
	}
	regions := []IgnoreRegion{
		{Name: "water", Lower: 4.7, Upper: 4.9, Scope: ScopeAll},
		{Name: "water-wide", Lower: 4.5, Upper: 5.0, Scope: ScopeAll},
		{Name: "dmso", Lower: 1.9, Upper: 2.0, Scope: "DMSO"},
	}

	keep, ignored := ClassifyIgnored(peaks, regions, "D2O")
	assert.Len(t, keep, 2)
	assert.Equal(t, []Peak{{Shift: 4.8, Intensity: 1}}, ignored)

	keep, ignored = ClassifyIgnored(peaks, regions, "DMSO")
	assert.Equal(t, []Peak{{Shift: 1.0, Intensity: 1}}, keep)
	assert.Len(t, ignored, 2, "upper bound is inclusive")
}

func TestSanitizeIgnoreRegions(t *testing.T) {
	regions, log := SanitizeIgnoreRegions([]IgnoreRegion{
		{Name: "water", Lower: 4.9, Upper: 4.7, Scope: "all"},
		{Name: "water", Lower: 1, Upper: 2, Scope: "ALL"},
		{Name: "flat", Lower: 3, Upper: 3, Scope: "ALL"},
		{Name: "", Lower: 1, Upper: 2},
		{Name: "buffer", Lower: 2, Upper: 2.2, Scope: "CDCL3"},
		{Name: "dmso", Lower: 2.5, Upper: 2.6, Scope: "dmso"},
	}, []string{"DMSO", "D2O"})

	require.Len(t, regions, 3)
	assert.Equal(t, IgnoreRegion{Name: "water", Lower: 4.7, Upper: 4.9, Scope: ScopeAll}, regions[0])
	assert.Equal(t, ScopeAll, regions[1].Scope)
	assert.Equal(t, "DMSO", regions[2].Scope)
	assert.Len(t, log, 5)
}
