package library

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Document is the serialized form of a library: compounds with inline peak
// lists plus the ignore regions.
type Document struct {
	Compounds     []CompoundSpec `json:"compounds" yaml:"compounds"`
	IgnoreRegions []IgnoreRegion `json:"ignore_regions,omitempty" yaml:"ignore_regions,omitempty"`
}

// CompoundSpec is one compound of a Document. Each peak is written as
// [shift, intensity] or [shift, intensity, width].
type CompoundSpec struct {
	ID     string      `json:"id" yaml:"id"`
	Name   string      `json:"name" yaml:"name"`
	Group  string      `json:"group,omitempty" yaml:"group,omitempty"`
	Active *bool       `json:"active,omitempty" yaml:"active,omitempty"`
	Peaks  [][]float64 `json:"peaks" yaml:"peaks"`
	Record `json:",inline" yaml:",inline"`
}

// PeakList converts the raw tuples.
func (s CompoundSpec) PeakList() ([]Peak, error) {
	peaks := make([]Peak, 0, len(s.Peaks))
	for i, t := range s.Peaks {
		switch len(t) {
		case 2:
			peaks = append(peaks, Peak{Shift: t[0], Intensity: t[1]})
		case 3:
			if t[2] < 0 {
				return nil, fmt.Errorf("compound %s peak %d: negative width %v", s.ID, i+1, t[2])
			}
			peaks = append(peaks, Peak{Shift: t[0], Intensity: t[1], Width: t[2]})
		default:
			return nil, fmt.Errorf("compound %s peak %d: expected 2 or 3 values, got %d", s.ID, i+1, len(t))
		}
	}
	return peaks, nil
}

// Load decodes a YAML library document and builds the library from it.
func Load(r io.Reader) (*Library, []string, error) {
	var doc Document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, nil, fmt.Errorf("decode library document: %w", err)
	}
	return doc.Build()
}

// Build creates a library from the document. Compounds that fail to import
// abort the build; the returned log carries ignore region adjustments.
func (d Document) Build() (*Library, []string, error) {
	lib := New()
	for _, spec := range d.Compounds {
		peaks, err := spec.PeakList()
		if err != nil {
			return nil, nil, err
		}
		active := true
		if spec.Active != nil {
			active = *spec.Active
		}
		entry := Entry{Active: active, ID: spec.ID, Name: spec.Name, Group: spec.Group, Record: spec.Record}
		c, err := entry.Compound(peaks)
		if err != nil {
			return nil, nil, err
		}
		if err := lib.Add(c); err != nil {
			return nil, nil, err
		}
	}

	var log []string
	if len(d.IgnoreRegions) > 0 {
		log = lib.SetIgnoreRegions(d.IgnoreRegions)
	}
	return lib, log, nil
}

// Export writes the library back to a Document, current peaks included.
func (l *Library) Export() Document {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var doc Document
	for _, m := range []map[string]*Compound{l.active, l.ignored, l.inactive} {
		for _, id := range sortedKeys(m) {
			c := m[id]
			active := c.Active
			spec := CompoundSpec{ID: c.ID, Name: c.Name, Group: c.Group, Active: &active, Record: c.Record}
			for _, p := range c.owned {
				t := []float64{p.Shift, p.Intensity}
				if p.Width > 0 {
					t = append(t, p.Width)
				}
				spec.Peaks = append(spec.Peaks, t)
			}
			doc.Compounds = append(doc.Compounds, spec)
		}
	}
	doc.IgnoreRegions = append([]IgnoreRegion(nil), l.regions...)
	return doc
}
