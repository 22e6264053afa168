// Package library models compound peak lists, their regions of interest and
// the compound library consumed by the optimizer.
package library

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/copyleftdev/nmrmix/internal/optimization"
)

// ErrNoIntensity reports a peak list whose intensities are all zero or negative.
var ErrNoIntensity = errors.New("peak list has no positive intensity")

// Peak is a single resonance.
type Peak struct {
	Shift     float64 `json:"shift" yaml:"shift"`
	Intensity float64 `json:"intensity" yaml:"intensity"`
	// Width is a custom overlap width in ppm. Zero means the library default.
	Width float64 `json:"width,omitempty" yaml:"width,omitempty"`
}

// Interval returns the raw overlap window of p.
func (p Peak) Interval(defaultWidth float64) (low, high float64) {
	w := defaultWidth
	if p.Width > 0 {
		w = p.Width
	}
	return p.Shift - w/2, p.Shift + w/2
}

// ROI is a merged ppm interval.
type ROI struct {
	Low  float64 `json:"low" yaml:"low"`
	High float64 `json:"high" yaml:"high"`
}

// MergeIntervals merges overlapping or touching intervals with a sort and a
// linear sweep. The input is not modified.
func MergeIntervals(intervals []ROI) []ROI {
	if len(intervals) == 0 {
		return nil
	}
	sorted := append([]ROI(nil), intervals...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Low != sorted[j].Low {
			return sorted[i].Low < sorted[j].Low
		}
		return sorted[i].High < sorted[j].High
	})

	merged := []ROI{sorted[0]}
	for _, next := range sorted[1:] {
		last := &merged[len(merged)-1]
		if next.Low <= last.High {
			if next.High > last.High {
				last.High = next.High
			}
			continue
		}
		merged = append(merged, next)
	}
	return merged
}

// MergeROIs returns the regions of interest of peaks.
func MergeROIs(peaks []Peak, defaultWidth float64) []ROI {
	intervals := make([]ROI, 0, len(peaks))
	for _, p := range peaks {
		lo, hi := p.Interval(defaultWidth)
		intervals = append(intervals, ROI{Low: lo, High: hi})
	}
	return MergeIntervals(intervals)
}

// MaxIntensity returns the largest intensity of peaks with negatives clamped to zero.
func MaxIntensity(peaks []Peak) float64 {
	var max float64
	for _, p := range peaks {
		if p.Intensity > max {
			max = p.Intensity
		}
	}
	return max
}

// Normalize scales intensities so the largest equals 1. Negative intensities
// are clamped to 0. The result is sorted by shift.
func Normalize(peaks []Peak) ([]Peak, error) {
	if len(peaks) == 0 {
		return peaks, optimization.WrapError(optimization.ErrEmptyPeakList, "normalize")
	}
	max := MaxIntensity(peaks)
	if max <= 0 {
		return peaks, ErrNoIntensity
	}
	return scaleBy(peaks, max), nil
}

// scaleBy divides every intensity by max, clamping negatives to 0.
func scaleBy(peaks []Peak, max float64) []Peak {
	out := make([]Peak, len(peaks))
	for i, p := range peaks {
		if p.Intensity < 0 {
			p.Intensity = 0
		} else {
			p.Intensity /= max
		}
		out[i] = p
	}
	sortByShift(out)
	return out
}

func sortByShift(peaks []Peak) {
	sort.SliceStable(peaks, func(i, j int) bool {
		return peaks[i].Shift < peaks[j].Shift
	})
}

// ScopeAll is the scope of an ignore region that applies to every group.
const ScopeAll = "ALL"

// IgnoreRegion is a named ppm interval whose peaks are excluded from scoring.
type IgnoreRegion struct {
	Name  string  `json:"name" yaml:"name"`
	Lower float64 `json:"lower" yaml:"lower"`
	Upper float64 `json:"upper" yaml:"upper"`
	// Scope is ScopeAll or a group label.
	Scope string `json:"scope" yaml:"scope"`
}

// Applies reports whether the region is in effect for group.
func (r IgnoreRegion) Applies(group string) bool {
	return r.Scope == ScopeAll || r.Scope == group
}

// Contains reports whether shift lies inside the region, bounds included.
func (r IgnoreRegion) Contains(shift float64) bool {
	return shift >= r.Lower && shift <= r.Upper
}

// ClassifyIgnored splits peaks into those kept for scoring and those inside
// any region that applies to group. A peak matched by several regions is
// ignored once.
func ClassifyIgnored(peaks []Peak, regions []IgnoreRegion, group string) (keep, ignored []Peak) {
	for _, p := range peaks {
		hit := false
		for _, r := range regions {
			if r.Applies(group) && r.Contains(p.Shift) {
				hit = true
				break
			}
		}
		if hit {
			ignored = append(ignored, p)
		} else {
			keep = append(keep, p)
		}
	}
	return keep, ignored
}

// SanitizeIgnoreRegions applies the import rules for region declarations:
// reversed limits are swapped, empty ranges and unnamed or duplicate regions
// are skipped, and a scope naming no known group falls back to ScopeAll.
// It returns the accepted regions and a log of every adjustment.
func SanitizeIgnoreRegions(regions []IgnoreRegion, groups []string) ([]IgnoreRegion, []string) {
	known := make(map[string]bool, len(groups))
	for _, g := range groups {
		known[g] = true
	}
	seen := make(map[string]bool, len(regions))

	var out []IgnoreRegion
	var log []string
	for i, r := range regions {
		r.Name = strings.TrimSpace(r.Name)
		r.Scope = strings.ToUpper(strings.TrimSpace(r.Scope))
		switch {
		case r.Name == "":
			log = append(log, fmt.Sprintf("skipped region %d due to missing name", i+1))
			continue
		case seen[r.Name]:
			log = append(log, fmt.Sprintf("%s is a duplicate", r.Name))
			continue
		case r.Lower == r.Upper:
			log = append(log, fmt.Sprintf("no range of limits for %s, region skipped", r.Name))
			continue
		case r.Lower > r.Upper:
			log = append(log, fmt.Sprintf("ppm limits for %s were reversed", r.Name))
			r.Lower, r.Upper = r.Upper, r.Lower
		}
		if r.Scope == "" || (r.Scope != ScopeAll && !known[r.Scope]) {
			if r.Scope != "" {
				log = append(log, fmt.Sprintf("group specificity for %s not recognized, set to ALL", r.Name))
			}
			r.Scope = ScopeAll
		}
		seen[r.Name] = true
		out = append(out, r)
	}
	return out, log
}
