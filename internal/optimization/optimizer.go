package optimization

import (
	"context"
	"sort"
)

// Optimizer defines the interface for mixture optimizers.
type Optimizer interface {
	// Optimize anneals every bucket of the plan and returns the merged outcome.
	Optimize(ctx context.Context, plan *Plan) (*Outcome, error)
}

// Phase identifies which schedule a step belongs to.
type Phase string

const (
	PhaseAnneal Phase = "anneal"
	PhaseRefine Phase = "refine"
)

// Score is an overlap score together with its overlapped peak count.
type Score struct {
	Value    float64 `json:"value"`
	Overlaps int     `json:"overlaps"`
}

// Add returns s + o.
func (s Score) Add(o Score) Score {
	return Score{Value: s.Value + o.Value, Overlaps: s.Overlaps + o.Overlaps}
}

// Sub returns s - o.
func (s Score) Sub(o Score) Score {
	return Score{Value: s.Value - o.Value, Overlaps: s.Overlaps - o.Overlaps}
}

// Assignment maps a mixture number to its member compound ids.
type Assignment map[int][]string

// Clone returns a deep copy.
func (a Assignment) Clone() Assignment {
	out := make(Assignment, len(a))
	for id, members := range a {
		out[id] = append([]string(nil), members...)
	}
	return out
}

// MixtureIDs returns the mixture numbers in ascending order.
func (a Assignment) MixtureIDs() []int {
	ids := make([]int, 0, len(a))
	for id := range a {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Subset returns a deep copy restricted to ids. Missing ids map to empty mixtures.
func (a Assignment) Subset(ids []int) Assignment {
	out := make(Assignment, len(ids))
	for _, id := range ids {
		out[id] = append([]string(nil), a[id]...)
	}
	return out
}

// Merge overwrites the mixtures of a with those of other.
func (a Assignment) Merge(other Assignment) {
	for id, members := range other {
		a[id] = append([]string(nil), members...)
	}
}

// Compounds returns every member id, sorted.
func (a Assignment) Compounds() []string {
	var out []string
	for _, members := range a {
		out = append(out, members...)
	}
	sort.Strings(out)
	return out
}

// Bucket is one stratum of the library: the compounds sharing a group value
// and the mixture numbers generated for them.
type Bucket struct {
	Name       string   `json:"name"`
	MixtureIDs []int    `json:"mixture_ids"`
	Compounds  []string `json:"compounds"`
}

// Plan is a starting assignment ready for optimization.
type Plan struct {
	Assignment Assignment   `json:"assignment"`
	Locked     map[int]bool `json:"locked,omitempty"`
	Buckets    []Bucket     `json:"buckets"`
}

// IsLocked reports whether mixture id must keep its membership.
func (p *Plan) IsLocked(id int) bool {
	return p.Locked[id]
}

// Step is one entry of an annealing trace.
type Step struct {
	Step          int     `json:"step"`
	Temperature   float64 `json:"temperature"`
	ScoreBefore   float64 `json:"score_before"`
	ScoreProposed float64 `json:"score_proposed"`
	OverlapBefore int     `json:"overlap_before"`
	OverlapAfter  int     `json:"overlap_after"`
	TotalPeaks    int     `json:"total_peaks"`
	MaxScore      float64 `json:"max_score"`
	Probability   float64 `json:"probability"`
	Accepted      bool    `json:"accepted"`
}

// Status renders the acceptance decision the way traces are exported.
func (s Step) Status() string {
	if s.Accepted {
		return "PASSED"
	}
	return "FAILED"
}

// Progress is a periodic snapshot emitted while a bucket is being optimized.
type Progress struct {
	Bucket      string  `json:"bucket"`
	Iteration   int     `json:"iteration"`
	Phase       Phase   `json:"phase"`
	Step        int     `json:"step"`
	MaxSteps    int     `json:"max_steps"`
	Temperature float64 `json:"temperature"`
	Score       float64 `json:"score"`
}

// IterationResult holds one independent annealing restart of a bucket.
type IterationResult struct {
	Iteration  int        `json:"iteration"`
	Start      Score      `json:"start"`
	Final      Score      `json:"final"`
	Anneal     []Step     `json:"anneal"`
	Refine     []Step     `json:"refine,omitempty"`
	Assignment Assignment `json:"assignment"`
	EarlyExit  bool       `json:"early_exit"`
}

// Status is the terminal state of a bucket or of a whole run.
type Status string

const (
	StatusCompleted   Status = "completed"
	StatusNotImproved Status = "not_improved"
	StatusCancelled   Status = "cancelled"
	StatusFailed      Status = "failed"
)

// BucketResult collects everything produced for one bucket.
type BucketResult struct {
	Bucket     Bucket            `json:"bucket"`
	Status     Status            `json:"status"`
	Initial    Score             `json:"initial"`
	Best       Score             `json:"best"`
	BestIndex  int               `json:"best_index"`
	Iterations []IterationResult `json:"iterations"`
	Assignment Assignment        `json:"assignment,omitempty"`
	Err        string            `json:"error,omitempty"`
}

// Outcome is the merged result of a run across buckets.
type Outcome struct {
	Status     Status         `json:"status"`
	Initial    Score          `json:"initial"`
	Final      Score          `json:"final"`
	Assignment Assignment     `json:"assignment"`
	Buckets    []BucketResult `json:"buckets"`
}
