package acceptance

import (
	"container/heap"
	"fmt"

	"github.com/copyleftdev/nmrmix/internal/optimization"
)

// DeltaScale estimates the typical size of a score change so that the
// acceptance probability is independent of the score's magnitude.
type DeltaScale interface {
	// Observe records |proposed - current| for one step.
	Observe(delta float64)
	// Scale returns the current estimate.
	Scale() float64
}

// MedianScale tracks the running median of observed deltas with two heaps,
// floored at a minimum.
type MedianScale struct {
	floor float64
	low   maxHeap // lower half
	high  minHeap // upper half
}

// NewMedianScale creates a median estimator that never reports less than floor
func NewMedianScale(floor float64) *MedianScale {
	return &MedianScale{floor: floor}
}

// Observe adds delta to the running median
func (m *MedianScale) Observe(delta float64) {
	if delta < 0 {
		delta = -delta
	}
	if m.low.Len() == 0 || delta <= m.low[0] {
		heap.Push(&m.low, delta)
	} else {
		heap.Push(&m.high, delta)
	}
	switch {
	case m.low.Len() > m.high.Len()+1:
		heap.Push(&m.high, heap.Pop(&m.low))
	case m.high.Len() > m.low.Len():
		heap.Push(&m.low, heap.Pop(&m.high))
	}
}

// Median returns the unfloored running median, 0 before any observation.
func (m *MedianScale) Median() float64 {
	switch {
	case m.low.Len() == 0:
		return 0
	case m.low.Len() > m.high.Len():
		return m.low[0]
	default:
		return (m.low[0] + m.high[0]) / 2
	}
}

// Scale returns the floored median
func (m *MedianScale) Scale() float64 {
	if med := m.Median(); med > m.floor {
		return med
	}
	return m.floor
}

// FixedScale is a constant estimate.
type FixedScale float64

// Observe is a no-op
func (FixedScale) Observe(float64) {}

// Scale returns the constant
func (f FixedScale) Scale() float64 { return float64(f) }

// FixedDivisor converts mix_rate * score_scale into the fixed delta scale.
const FixedDivisor = 25000

// NewDeltaScale returns the estimator selected by params for a pass using s.
func NewDeltaScale(params optimization.Parameters, s optimization.Schedule) (DeltaScale, error) {
	switch params.DeltaMode {
	case optimization.DeltaMedian, "":
		return NewMedianScale(0.001 * params.ScoreScale), nil
	case optimization.DeltaFixed:
		return FixedScale(float64(s.MixRate) * params.ScoreScale / FixedDivisor), nil
	default:
		return nil, &optimization.Error{
			Message: fmt.Sprintf("unknown delta mode %q", params.DeltaMode),
			Op:      "acceptance.NewDeltaScale",
			Err:     optimization.ErrInvalidParameter,
		}
	}
}

type minHeap []float64

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(float64)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

type maxHeap []float64

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i] > h[j] }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(float64)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}
