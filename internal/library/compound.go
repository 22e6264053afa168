package library

import (
	"fmt"
	"strings"

	"github.com/copyleftdev/nmrmix/internal/optimization"
)

// Ungrouped is the group label of a compound that declares none.
const Ungrouped = "N/A"

// Record carries the descriptive fields of a library entry that the optimizer
// passes through untouched.
type Record struct {
	BMRBID    string `json:"bmrb_id,omitempty" yaml:"bmrb_id,omitempty"`
	HMDBID    string `json:"hmdb_id,omitempty" yaml:"hmdb_id,omitempty"`
	PeakFile  string `json:"peak_file,omitempty" yaml:"peak_file,omitempty"`
	Format    string `json:"format,omitempty" yaml:"format,omitempty"`
	PubChemID string `json:"pubchem_id,omitempty" yaml:"pubchem_id,omitempty"`
	KEGGID    string `json:"kegg_id,omitempty" yaml:"kegg_id,omitempty"`
	SMILES    string `json:"smiles,omitempty" yaml:"smiles,omitempty"`
}

// Compound is one library entry and its peak list views.
//
// A Compound is not safe for concurrent mutation. The optimizer only reads
// compounds, so edits must happen before or after a run.
type Compound struct {
	ID     string
	Name   string
	Group  string
	Active bool
	Record Record

	original []Peak // raw, sorted by shift
	owned    []Peak // raw, sorted by shift
	mix      []Peak // normalized
	ignored  []Peak // normalized on the mix scale
	regions  []IgnoreRegion
}

// NewCompound creates a compound from its raw peak list. The group label is
// upper-cased and defaults to Ungrouped.
func NewCompound(id, name, group string, active bool, peaks []Peak) (*Compound, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, &optimization.Error{
			Message: "compound id must not be empty",
			Op:      "NewCompound",
			Err:     optimization.ErrInvalidParameter,
		}
	}
	if len(peaks) == 0 {
		return nil, optimization.WrapErrorf(optimization.ErrEmptyPeakList, "compound %s", id)
	}
	if MaxIntensity(peaks) <= 0 {
		return nil, fmt.Errorf("compound %s: %w", id, ErrNoIntensity)
	}

	raw := append([]Peak(nil), peaks...)
	sortByShift(raw)

	c := &Compound{
		ID:       id,
		Name:     strings.TrimSpace(name),
		Group:    NormalizeGroup(group),
		Active:   active,
		original: raw,
		owned:    append([]Peak(nil), raw...),
	}
	c.derive()
	return c, nil
}

// NormalizeGroup upper-cases a group label and maps an empty label to Ungrouped.
func NormalizeGroup(group string) string {
	g := strings.ToUpper(strings.TrimSpace(group))
	if g == "" {
		return Ungrouped
	}
	return g
}

// derive recomputes the mix and ignored views from the owned peaks.
func (c *Compound) derive() {
	keep, ignored := ClassifyIgnored(c.owned, c.regions, c.Group)

	scale := MaxIntensity(keep)
	if len(keep) == 0 {
		scale = MaxIntensity(ignored)
	}
	if scale <= 0 {
		scale = 1
	}
	c.mix = scaleBy(keep, scale)
	c.ignored = scaleBy(ignored, scale)
}

// OriginalPeaks returns the peak list as first imported.
func (c *Compound) OriginalPeaks() []Peak {
	return append([]Peak(nil), c.original...)
}

// Peaks returns the current peak list, the union of MixPeaks and IgnoredPeaks.
func (c *Compound) Peaks() []Peak {
	out := make([]Peak, 0, len(c.mix)+len(c.ignored))
	out = append(out, c.mix...)
	out = append(out, c.ignored...)
	sortByShift(out)
	return out
}

// MixPeaks returns the normalized peaks used for scoring.
func (c *Compound) MixPeaks() []Peak {
	return append([]Peak(nil), c.mix...)
}

// IgnoredPeaks returns the peaks excluded by ignore regions.
func (c *Compound) IgnoredPeaks() []Peak {
	return append([]Peak(nil), c.ignored...)
}

// NumPeaks returns the number of scoring peaks.
func (c *Compound) NumPeaks() int {
	return len(c.mix)
}

// IntensitySum returns the summed normalized intensity of the scoring peaks.
func (c *Compound) IntensitySum() float64 {
	var sum float64
	for _, p := range c.mix {
		sum += p.Intensity
	}
	return sum
}

// ROIs returns the merged regions of interest of the scoring peaks.
func (c *Compound) ROIs(defaultWidth float64) []ROI {
	return MergeROIs(c.mix, defaultWidth)
}

// ApplyIgnoreRegions re-derives the peak views for a new set of regions.
// Regions whose scope does not match the compound's group have no effect.
func (c *Compound) ApplyIgnoreRegions(regions []IgnoreRegion) {
	c.regions = append([]IgnoreRegion(nil), regions...)
	c.derive()
}

// AddPeak adds a peak to the owned list. A peak at an existing shift replaces it.
func (c *Compound) AddPeak(p Peak) {
	for i := range c.owned {
		if c.owned[i].Shift == p.Shift {
			c.owned[i] = p
			c.derive()
			return
		}
	}
	c.owned = append(c.owned, p)
	sortByShift(c.owned)
	c.derive()
}

// RemovePeak removes the peak at shift. Removing the last peak is refused.
func (c *Compound) RemovePeak(shift float64) error {
	idx := -1
	for i, p := range c.owned {
		if p.Shift == shift {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("compound %s has no peak at %.4f ppm", c.ID, shift)
	}
	if len(c.owned) == 1 {
		return optimization.WrapErrorf(optimization.ErrEmptyPeakList, "remove last peak of %s", c.ID)
	}
	c.owned = append(c.owned[:idx], c.owned[idx+1:]...)
	c.derive()
	return nil
}

// ResetPeaks restores the originally imported peak list.
func (c *Compound) ResetPeaks() {
	c.owned = append([]Peak(nil), c.original...)
	c.derive()
}

// Modified reports whether the owned peaks differ from the original import.
func (c *Compound) Modified() bool {
	if len(c.owned) != len(c.original) {
		return true
	}
	for i := range c.owned {
		if c.owned[i] != c.original[i] {
			return true
		}
	}
	return false
}

func (c *Compound) String() string {
	return c.ID + ": " + c.Name
}
