// Package scoring computes spectral overlap scores for compounds and mixtures.
package scoring

import (
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/copyleftdev/nmrmix/internal/library"
	"github.com/copyleftdev/nmrmix/internal/optimization"
)

// Catalog supplies the compounds a scorer can evaluate.
type Catalog interface {
	Compounds() []*library.Compound
}

// peakRange is a peak's overlap window.
type peakRange struct {
	low, high float64
	intensity float64
}

// profile is the precomputed scoring view of one compound.
type profile struct {
	peaks        []library.Peak
	ranges       []peakRange
	intensitySum float64
}

// CompoundScore is the last recorded score of a compound.
type CompoundScore struct {
	Score    float64 `json:"score"`
	Overlaps int     `json:"overlaps"`
	Peaks    int     `json:"peaks"`
}

// CompoundReport describes which peaks of a compound overlap its mixture peers.
type CompoundReport struct {
	ID          string         `json:"id"`
	Overlapped  []library.Peak `json:"overlapped,omitempty"`
	Free        []library.Peak `json:"free,omitempty"`
	OverlapROIs []library.ROI  `json:"overlap_rois,omitempty"`
	FreeROIs    []library.ROI  `json:"free_rois,omitempty"`
	Score       CompoundScore  `json:"score"`
}

// Scorer evaluates overlap scores with a memo of mixture scores keyed by
// membership.
//
// A Scorer is not safe for concurrent use. Give every worker its own Fork.
type Scorer struct {
	useIntensity bool
	power        float64
	scale        float64
	width        float64

	profiles map[string]*profile // shared between forks, read-only

	mixtures map[string]optimization.Score
	scores   map[string]CompoundScore
	reports  map[string]*CompoundReport

	hits, misses int
	logger       *zap.Logger
}

// NewScorer precomputes the overlap windows of every compound in the catalog.
// Compounds edited afterwards need a new scorer.
func NewScorer(catalog Catalog, params optimization.Parameters, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scorer{
		useIntensity: params.UseIntensity,
		power:        params.ScorePower,
		scale:        params.ScoreScale,
		width:        params.PeakRange,
		profiles:     make(map[string]*profile),
		logger:       logger.Named("scorer"),
	}
	if s.power <= 0 {
		s.power = 1
	}

	for _, c := range catalog.Compounds() {
		peaks := c.MixPeaks()
		p := &profile{peaks: peaks, ranges: make([]peakRange, len(peaks))}
		for i, pk := range peaks {
			lo, hi := pk.Interval(s.width)
			p.ranges[i] = peakRange{low: lo, high: hi, intensity: pk.Intensity}
			p.intensitySum += pk.Intensity
		}
		s.profiles[c.ID] = p
	}
	s.Reset()
	return s
}

// Fork returns a scorer sharing the precomputed windows but with empty caches.
func (s *Scorer) Fork() *Scorer {
	f := *s
	f.hits, f.misses = 0, 0
	f.Reset()
	return &f
}

// Reset clears every cache.
func (s *Scorer) Reset() {
	if s.hits+s.misses > 0 {
		s.logger.Debug("scoring cache reset",
			zap.Int("entries", len(s.mixtures)),
			zap.Int("hits", s.hits),
			zap.Int("misses", s.misses))
	}
	s.mixtures = make(map[string]optimization.Score)
	s.scores = make(map[string]CompoundScore)
	s.reports = make(map[string]*CompoundReport)
	s.hits, s.misses = 0, 0
}

// CacheStats returns the memo hit and miss counts since the last Reset.
func (s *Scorer) CacheStats() (hits, misses int) {
	return s.hits, s.misses
}

// MaxScore is the score of a compound whose every peak overlaps.
func (s *Scorer) MaxScore() float64 {
	return s.scale
}

// NumPeaks returns the number of scoring peaks of the given compounds.
func (s *Scorer) NumPeaks(ids []string) int {
	n := 0
	for _, id := range ids {
		if p, ok := s.profiles[id]; ok {
			n += len(p.ranges)
		}
	}
	return n
}

// Known reports whether the scorer has a profile for id.
func (s *Scorer) Known(id string) bool {
	_, ok := s.profiles[id]
	return ok
}

// members resolves and deduplicates ids, returning them sorted.
func (s *Scorer) members(ids []string) ([]string, error) {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	n := 0
	for i, id := range out {
		if i > 0 && id == out[n-1] {
			continue
		}
		if _, ok := s.profiles[id]; !ok {
			return nil, optimization.WrapErrorf(optimization.ErrUnknownCompound, "compound %s", id)
		}
		out[n] = id
		n++
	}
	return out[:n], nil
}

// overlaps marks target peaks overlapped by any peer peak. Each target peak
// is credited at most once. Touching windows do not overlap.
func overlaps(target *profile, peers []*profile, hit []bool) int {
	count := 0
	for i, a := range target.ranges {
	search:
		for _, peer := range peers {
			for _, b := range peer.ranges {
				if a.high > b.low && a.low < b.high {
					hit[i] = true
					count++
					break search
				}
			}
		}
	}
	return count
}

func (s *Scorer) value(target *profile, hit []bool, count int) float64 {
	n := len(target.ranges)
	if n == 0 || count == 0 {
		return 0
	}
	if s.useIntensity {
		if target.intensitySum <= 0 {
			return 0
		}
		var sum float64
		for i, h := range hit {
			if h {
				sum += math.Pow(target.ranges[i].intensity, s.power)
			}
		}
		return sum / target.intensitySum * s.scale
	}
	return math.Pow(float64(count)/float64(n), s.power) * s.scale
}

// score evaluates target against the rest of the sorted, deduplicated members.
func (s *Scorer) score(id string, members []string) (optimization.Score, []bool) {
	target := s.profiles[id]
	peers := make([]*profile, 0, len(members))
	for _, m := range members {
		if m != id {
			peers = append(peers, s.profiles[m])
		}
	}
	hit := make([]bool, len(target.ranges))
	count := overlaps(target, peers, hit)
	return optimization.Score{Value: s.value(target, hit, count), Overlaps: count}, hit
}

// CompoundScore scores id against the other members of mixture and records
// the result for reporting. id does not need to be a member of mixture.
func (s *Scorer) CompoundScore(id string, mixture []string) (optimization.Score, error) {
	members, err := s.members(append(append([]string(nil), mixture...), id))
	if err != nil {
		return optimization.Score{}, err
	}
	sc, hit := s.score(id, members)
	s.record(id, sc, hit)
	return sc, nil
}

func (s *Scorer) record(id string, sc optimization.Score, hit []bool) {
	target := s.profiles[id]
	cs := CompoundScore{Score: sc.Value, Overlaps: sc.Overlaps, Peaks: len(target.ranges)}
	s.scores[id] = cs

	r := &CompoundReport{ID: id, Score: cs}
	for i, pk := range target.peaks {
		if hit[i] {
			r.Overlapped = append(r.Overlapped, pk)
		} else {
			r.Free = append(r.Free, pk)
		}
	}
	r.OverlapROIs = library.MergeROIs(r.Overlapped, s.width)
	r.FreeROIs = library.MergeROIs(r.Free, s.width)
	s.reports[id] = r
}

func cacheKey(members []string) string {
	return strings.Join(members, "\x00")
}

// MixtureScore returns the summed compound scores of a mixture. The result is
// memoized by membership, so any ordering of the same ids hits the cache.
// It records nothing for reporting and is the hot path of annealing.
func (s *Scorer) MixtureScore(ids []string) (optimization.Score, error) {
	members, err := s.members(ids)
	if err != nil {
		return optimization.Score{}, err
	}
	key := cacheKey(members)
	if sc, ok := s.mixtures[key]; ok {
		s.hits++
		return sc, nil
	}
	s.misses++

	var total optimization.Score
	for _, id := range members {
		sc, _ := s.score(id, members)
		total = total.Add(sc)
	}
	s.mixtures[key] = total
	return total, nil
}

// Commit scores a mixture and records every member's score and overlap
// report. It also refreshes the memo entry.
func (s *Scorer) Commit(ids []string) (optimization.Score, error) {
	members, err := s.members(ids)
	if err != nil {
		return optimization.Score{}, err
	}
	var total optimization.Score
	for _, id := range members {
		sc, hit := s.score(id, members)
		s.record(id, sc, hit)
		total = total.Add(sc)
	}
	s.mixtures[cacheKey(members)] = total
	return total, nil
}

// TotalScore sums MixtureScore over every mixture of a.
func (s *Scorer) TotalScore(a optimization.Assignment) (optimization.Score, error) {
	var total optimization.Score
	for _, id := range a.MixtureIDs() {
		sc, err := s.MixtureScore(a[id])
		if err != nil {
			return optimization.Score{}, optimization.WrapErrorf(err, "mixture %d", id)
		}
		total = total.Add(sc)
	}
	return total, nil
}

// CommitAll commits every mixture of a and returns the total.
func (s *Scorer) CommitAll(a optimization.Assignment) (optimization.Score, error) {
	var total optimization.Score
	for _, id := range a.MixtureIDs() {
		sc, err := s.Commit(a[id])
		if err != nil {
			return optimization.Score{}, optimization.WrapErrorf(err, "mixture %d", id)
		}
		total = total.Add(sc)
	}
	return total, nil
}

// CompoundScores returns the recorded compound scores.
func (s *Scorer) CompoundScores() map[string]CompoundScore {
	out := make(map[string]CompoundScore, len(s.scores))
	for id, cs := range s.scores {
		out[id] = cs
	}
	return out
}

// Report returns the recorded overlap report of a compound.
func (s *Scorer) Report(id string) (CompoundReport, bool) {
	r, ok := s.reports[id]
	if !ok {
		return CompoundReport{}, false
	}
	return *r, true
}
