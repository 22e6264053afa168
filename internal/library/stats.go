package library

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// PeakType classifies a compound by where its peaks fall relative to the
// aromatic cutoff.
type PeakType string

const (
	Balanced      PeakType = "aliphatic/aromatic"
	AllAromatic   PeakType = "all aromatic"
	AllAliphatic  PeakType = "all aliphatic"
	MoreAromatic  PeakType = "more aromatic"
	MoreAliphatic PeakType = "more aliphatic"
)

// PeakStats describes the current peak list of one compound.
type PeakStats struct {
	Peaks           int      `json:"peaks"`
	Aromatic        int      `json:"aromatic"`
	Aliphatic       int      `json:"aliphatic"`
	AromaticPercent float64  `json:"aromatic_percent"`
	Type            PeakType `json:"type"`
	MedianShift     float64  `json:"median_shift"`
	IntensePeaks    []Peak   `json:"intense_peaks,omitempty"`
	IgnoredIntense  int      `json:"ignored_intense"`
}

// PeakStats computes the statistics of c. A peak is aromatic when its shift is
// at or above aromaticCutoff and intense when its normalized intensity exceeds
// intenseCutoff.
func (c *Compound) PeakStats(aromaticCutoff, intenseCutoff float64) PeakStats {
	peaks := c.Peaks()
	st := PeakStats{Peaks: len(peaks)}

	shifts := make([]float64, len(peaks))
	for i, p := range peaks {
		shifts[i] = p.Shift
		if p.Shift >= aromaticCutoff {
			st.Aromatic++
		} else {
			st.Aliphatic++
		}
		if p.Intensity > intenseCutoff {
			st.IntensePeaks = append(st.IntensePeaks, p)
		}
	}
	for _, p := range c.ignored {
		if p.Intensity > intenseCutoff {
			st.IgnoredIntense++
		}
	}
	if st.Peaks > 0 {
		st.AromaticPercent = 100 * float64(st.Aromatic) / float64(st.Peaks)
	}
	st.MedianShift = median(shifts)

	switch {
	case st.Aromatic == st.Aliphatic:
		st.Type = Balanced
	case st.Aliphatic == 0:
		st.Type = AllAromatic
	case st.Aromatic == 0:
		st.Type = AllAliphatic
	case st.Aromatic > st.Aliphatic:
		st.Type = MoreAromatic
	default:
		st.Type = MoreAliphatic
	}
	return st
}

// AllGroups labels the library-wide row of the group statistics.
const AllGroups = "ALL"

// GroupStats summarizes the compounds of one group.
type GroupStats struct {
	Group     string `json:"group"`
	Compounds int    `json:"compounds"`
	Peaks     int    `json:"peaks"`

	PeaksMean   float64 `json:"peaks_mean"`
	PeaksStdDev float64 `json:"peaks_stddev"`
	PeaksMedian float64 `json:"peaks_median"`
	PeaksMax    int     `json:"peaks_max"`
	PeaksMin    int     `json:"peaks_min"`

	AromaticCompounds  int `json:"aromatic_compounds"`
	AliphaticCompounds int `json:"aliphatic_compounds"`

	IgnoredPeakCompounds    int `json:"ignored_peak_compounds"`
	IgnoredPeaks            int `json:"ignored_peaks"`
	IgnoredIntenseCompounds int `json:"ignored_intense_compounds"`
	IgnoredIntensePeaks     int `json:"ignored_intense_peaks"`
	// AllIgnored counts compounds whose every peak is ignored.
	AllIgnored int `json:"all_ignored"`
}

type groupAccumulator struct {
	stats  GroupStats
	counts []float64
}

func (a *groupAccumulator) add(c *Compound, ps PeakStats) {
	a.stats.Compounds++
	a.stats.Peaks += ps.Peaks
	a.counts = append(a.counts, float64(ps.Peaks))

	switch ps.Type {
	case AllAromatic, MoreAromatic:
		a.stats.AromaticCompounds++
	case AllAliphatic, MoreAliphatic:
		a.stats.AliphaticCompounds++
	}
	if n := len(c.ignored); n > 0 {
		a.stats.IgnoredPeakCompounds++
		a.stats.IgnoredPeaks += n
	}
	if ps.IgnoredIntense > 0 {
		a.stats.IgnoredIntenseCompounds++
		a.stats.IgnoredIntensePeaks += ps.IgnoredIntense
	}
	if len(c.mix) == 0 {
		a.stats.AllIgnored++
	}
}

func (a *groupAccumulator) finish() GroupStats {
	if len(a.counts) == 0 {
		return a.stats
	}
	a.stats.PeaksMean, a.stats.PeaksStdDev = stat.PopMeanStdDev(a.counts, nil)
	a.stats.PeaksMedian = median(a.counts)
	a.stats.PeaksMax = int(floats.Max(a.counts))
	a.stats.PeaksMin = int(floats.Min(a.counts))
	return a.stats
}

// Stats returns the library-wide statistics row followed by one row per
// group. Inactive compounds are not counted.
func (l *Library) Stats(aromaticCutoff, intenseCutoff float64) []GroupStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	all := &groupAccumulator{stats: GroupStats{Group: AllGroups}}
	groups := make(map[string]*groupAccumulator)
	for _, g := range l.groups() {
		groups[g] = &groupAccumulator{stats: GroupStats{Group: g}}
	}

	for _, m := range []map[string]*Compound{l.active, l.ignored} {
		for _, id := range sortedKeys(m) {
			c := m[id]
			ps := c.PeakStats(aromaticCutoff, intenseCutoff)
			all.add(c, ps)
			groups[c.Group].add(c, ps)
		}
	}

	out := []GroupStats{all.finish()}
	for _, g := range l.groups() {
		out = append(out, groups[g].finish())
	}
	return out
}

// median averages the two middle values for even lengths. The input is not modified.
func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}
