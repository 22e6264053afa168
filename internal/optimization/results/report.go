package results

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/copyleftdev/nmrmix/internal/library"
	"github.com/copyleftdev/nmrmix/internal/optimization"
	"github.com/copyleftdev/nmrmix/internal/optimization/scoring"
)

// MixedGroup labels a mixture whose members span more than one group.
const MixedGroup = "Mixed"

// Catalog resolves compounds by id.
type Catalog interface {
	Compound(id string) (*library.Compound, bool)
}

// MixtureRow is one line of the mixture table.
type MixtureRow struct {
	ID       int      `json:"id" yaml:"id"`
	Score    float64  `json:"score" yaml:"score"`
	Overlaps int      `json:"overlaps" yaml:"overlaps"`
	Group    string   `json:"group" yaml:"group"`
	Members  []string `json:"members" yaml:"members"`
}

// CompoundRow is one line of the per-compound score table.
type CompoundRow struct {
	ID           string  `json:"id" yaml:"id"`
	Name         string  `json:"name,omitempty" yaml:"name,omitempty"`
	Mixture      int     `json:"mixture" yaml:"mixture"`
	Peaks        int     `json:"peaks" yaml:"peaks"`
	Overlaps     int     `json:"overlaps" yaml:"overlaps"`
	Score        float64 `json:"score" yaml:"score"`
	MixtureScore float64 `json:"mixture_score" yaml:"mixture_score"`
}

// ROIRow is one region of interest of a compound within its mixture.
type ROIRow struct {
	Mixture  int     `json:"mixture" yaml:"mixture"`
	Compound string  `json:"compound" yaml:"compound"`
	Name     string  `json:"name,omitempty" yaml:"name,omitempty"`
	Index    int     `json:"index" yaml:"index"`
	Low      float64 `json:"low" yaml:"low"`
	High     float64 `json:"high" yaml:"high"`
	Group    string  `json:"group" yaml:"group"`
}

// Report is the exported view of a final assignment.
type Report struct {
	Compounds int     `json:"compounds" yaml:"compounds"`
	Peaks     int     `json:"peaks" yaml:"peaks"`
	Overlaps  int     `json:"overlaps" yaml:"overlaps"`
	Score     float64 `json:"score" yaml:"score"`
	MixSize   int     `json:"mix_size" yaml:"mix_size"`

	Mixtures []MixtureRow  `json:"mixtures" yaml:"mixtures"`
	Scores   []CompoundRow `json:"scores" yaml:"scores"`

	// NoOverlapROIs are the regions of each compound free of any overlap.
	NoOverlapROIs []ROIRow `json:"no_overlap_rois,omitempty" yaml:"no_overlap_rois,omitempty"`
	// FullROIs are the regions of every scoring peak of each compound.
	FullROIs []ROIRow `json:"full_rois,omitempty" yaml:"full_rois,omitempty"`
}

// OverlapsPerCompound returns Overlaps averaged over compounds.
func (r *Report) OverlapsPerCompound() float64 {
	if r.Compounds == 0 {
		return 0
	}
	return float64(r.Overlaps) / float64(r.Compounds)
}

// ScorePerCompound returns Score averaged over compounds.
func (r *Report) ScorePerCompound() float64 {
	if r.Compounds == 0 {
		return 0
	}
	return r.Score / float64(r.Compounds)
}

// MixtureGroup returns the shared group of members, MixedGroup when they
// disagree and library.Ungrouped for an empty mixture.
func MixtureGroup(cat Catalog, members []string) string {
	group := ""
	for _, id := range members {
		c, ok := cat.Compound(id)
		if !ok {
			continue
		}
		switch {
		case group == "":
			group = c.Group
		case c.Group != group:
			return MixedGroup
		}
	}
	if group == "" {
		return library.Ungrouped
	}
	return group
}

// BuildReport scores every mixture of a and collects the report tables. It
// commits each mixture to scorer, replacing its recorded compound reports.
func BuildReport(cat Catalog, scorer *scoring.Scorer, a optimization.Assignment, params optimization.Parameters) (*Report, error) {
	r := &Report{MixSize: params.MixSize}
	for _, id := range a.MixtureIDs() {
		members := append([]string(nil), a[id]...)
		sort.Strings(members)

		sc, err := scorer.Commit(members)
		if err != nil {
			return nil, optimization.WrapErrorf(err, "mixture %d", id)
		}
		group := MixtureGroup(cat, members)
		r.Mixtures = append(r.Mixtures, MixtureRow{
			ID:       id,
			Score:    sc.Value,
			Overlaps: sc.Overlaps,
			Group:    group,
			Members:  members,
		})
		r.Score += sc.Value
		r.Overlaps += sc.Overlaps

		for _, cid := range members {
			c, ok := cat.Compound(cid)
			if !ok {
				return nil, optimization.WrapErrorf(optimization.ErrUnknownCompound, "mixture %d: compound %s", id, cid)
			}
			rep, _ := scorer.Report(cid)
			r.Compounds++
			r.Peaks += c.NumPeaks()
			r.Scores = append(r.Scores, CompoundRow{
				ID:           cid,
				Name:         c.Name,
				Mixture:      id,
				Peaks:        rep.Score.Peaks,
				Overlaps:     rep.Score.Overlaps,
				Score:        rep.Score.Score,
				MixtureScore: sc.Value,
			})
			r.NoOverlapROIs = appendROIs(r.NoOverlapROIs, id, c, group, rep.FreeROIs)
			r.FullROIs = appendROIs(r.FullROIs, id, c, group, c.ROIs(params.PeakRange))
		}
	}
	return r, nil
}

func appendROIs(rows []ROIRow, mixture int, c *library.Compound, group string, rois []library.ROI) []ROIRow {
	for i, roi := range rois {
		rows = append(rows, ROIRow{
			Mixture:  mixture,
			Compound: c.ID,
			Name:     c.Name,
			Index:    i + 1,
			Low:      roi.Low,
			High:     roi.High,
			Group:    group,
		})
	}
	return rows
}

// BlankMember pads mixtures below capacity in the text summary.
const BlankMember = "Blank"

// WriteSummary writes the plain text summary: totals followed by one line
// per mixture.
func WriteSummary(w io.Writer, r *Report) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Total # of Compounds: %d\n", r.Compounds)
	fmt.Fprintf(&b, "Total # of Mixtures: %d\n", len(r.Mixtures))
	fmt.Fprintf(&b, "Total # of Peaks: %d\n", r.Peaks)
	fmt.Fprintf(&b, "Total # of Overlaps: %d\n", r.Overlaps)
	fmt.Fprintf(&b, "Total Score: %.1f\n", r.Score)
	fmt.Fprintf(&b, "# of Overlaps / Compound: %.1f\n", r.OverlapsPerCompound())
	fmt.Fprintf(&b, "Score / Compound: %.1f\n\n", r.ScorePerCompound())

	for _, m := range r.Mixtures {
		cols := []string{fmt.Sprint(m.ID), fmt.Sprintf("%.1f", m.Score), m.Group}
		cols = append(cols, m.Members...)
		for i := len(m.Members); i < r.MixSize; i++ {
			cols = append(cols, BlankMember)
		}
		b.WriteString(strings.Join(cols, " | "))
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteBucketSummaries writes the iteration statistics of every bucket.
func WriteBucketSummaries(w io.Writer, sums []BucketSummary) error {
	var b strings.Builder
	for _, s := range sums {
		name := s.Bucket
		if name == "" {
			name = "All Mixtures"
		}
		start, final := s.StartScore.PerCompound(s.Compounds), s.FinalScore.PerCompound(s.Compounds)
		startOv, finalOv := s.StartOverlaps.PerCompound(s.Compounds), s.FinalOverlaps.PerCompound(s.Compounds)

		fmt.Fprintf(&b, "%s (%s, %d iterations, best #%d)\n", name, s.Status, s.Iterations, s.BestIteration+1)
		fmt.Fprintf(&b, "  Starting Score: %.1f ± %.1f (%.1f ± %.1f per compound)\n",
			s.StartScore.Mean, s.StartScore.StdDev, start.Mean, start.StdDev)
		fmt.Fprintf(&b, "  Starting Overlaps: %.1f ± %.1f (%.2f ± %.2f per compound)\n",
			s.StartOverlaps.Mean, s.StartOverlaps.StdDev, startOv.Mean, startOv.StdDev)
		fmt.Fprintf(&b, "  Final Score: %.1f ± %.1f (%.1f ± %.1f per compound)\n",
			s.FinalScore.Mean, s.FinalScore.StdDev, final.Mean, final.StdDev)
		fmt.Fprintf(&b, "  Final Overlaps: %.1f ± %.1f (%.2f ± %.2f per compound)\n",
			s.FinalOverlaps.Mean, s.FinalOverlaps.StdDev, finalOv.Mean, finalOv.StdDev)
		fmt.Fprintf(&b, "  Mean Score Difference Per Step (Min/Max): %.1f ± %.1f (%.1f / %.1f)\n",
			s.StepDelta.Mean, s.StepDelta.StdDev, s.StepDelta.Min, s.StepDelta.Max)
		fmt.Fprintf(&b, "  Acceptance: %d / %d steps\n", s.Accepted, s.Steps)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
