package annealing

// memberPool provides reusable member slices to reduce allocations on the
// proposal path. It is owned by a single worker.
type memberPool struct {
	slices [][]string
}

// newMemberPool creates a pool sized for mixtures of up to mixSize members
func newMemberPool(mixSize int) *memberPool {
	return &memberPool{slices: make([][]string, 0, 2*mixSize)}
}

// get returns an empty slice from the pool or allocates one with room for n members
func (p *memberPool) get(n int) []string {
	if k := len(p.slices); k > 0 {
		s := p.slices[k-1]
		p.slices = p.slices[:k-1]
		if cap(s) >= n {
			return s[:0]
		}
	}
	return make([]string, 0, n)
}

// put returns a slice to the pool
func (p *memberPool) put(s []string) {
	if s == nil {
		return
	}
	p.slices = append(p.slices, s[:0])
}

// clone copies members into a pooled slice with one spare slot
func (p *memberPool) clone(members []string) []string {
	return append(p.get(len(members)+1), members...)
}
