package annealing

import (
	"math/rand"
	"sort"

	"github.com/copyleftdev/nmrmix/internal/optimization"
)

// Evaluator scores mixtures without recording side effects.
type Evaluator interface {
	MixtureScore(ids []string) (optimization.Score, error)
}

// WorkingCopy is a worker's private view of one bucket's mixtures. A
// proposal copies only the mixtures it touches; nothing changes until Commit.
type WorkingCopy struct {
	mixtures map[int][]string
	movable  []int
	pool     *memberPool
}

// Proposal is a pending perturbation of a WorkingCopy.
type Proposal struct {
	Touched []int
	Diff    optimization.Score

	next map[int][]string
}

// NewWorkingCopy copies the mixtures listed in ids out of a. Mixtures for
// which locked returns true are kept but never perturbed.
func NewWorkingCopy(a optimization.Assignment, ids []int, locked func(int) bool, mixSize int) *WorkingCopy {
	wc := &WorkingCopy{
		mixtures: make(map[int][]string, len(ids)),
		pool:     newMemberPool(mixSize),
	}
	for _, id := range ids {
		wc.mixtures[id] = append(make([]string, 0, mixSize+1), a[id]...)
		if locked == nil || !locked(id) {
			wc.movable = append(wc.movable, id)
		}
	}
	sort.Ints(wc.movable)
	return wc
}

// Movable returns the number of mixtures proposals may perturb.
func (wc *WorkingCopy) Movable() int {
	return len(wc.movable)
}

// Assignment returns a deep copy of the current mixtures.
func (wc *WorkingCopy) Assignment() optimization.Assignment {
	return optimization.Assignment(wc.mixtures).Clone()
}

// Compounds returns every member of the working copy, sorted.
func (wc *WorkingCopy) Compounds() []string {
	return optimization.Assignment(wc.mixtures).Compounds()
}

// Propose draws a random perturbation: up to mixRate movable mixtures each
// give up one member (or a blank slot when under capacity), and every
// selected mixture receives the pick of the next selected one. The score
// difference is computed over the touched mixtures only.
func (wc *WorkingCopy) Propose(rng *rand.Rand, mixRate, mixSize int, eval Evaluator) (*Proposal, error) {
	k := mixRate
	if k > len(wc.movable) {
		k = len(wc.movable)
	}
	perm := rng.Perm(len(wc.movable))
	p := &Proposal{
		Touched: make([]int, k),
		next:    make(map[int][]string, k),
	}
	picks := make([]string, k)
	blank := make([]bool, k)

	for i := 0; i < k; i++ {
		id := wc.movable[perm[i]]
		p.Touched[i] = id
		members := wc.pool.clone(wc.mixtures[id])

		slot := -1
		if len(members) < mixSize {
			if pick := rng.Intn(mixSize); pick < len(members) {
				slot = pick
			}
		} else if len(members) > 0 {
			slot = rng.Intn(len(members))
		}
		if slot < 0 {
			blank[i] = true
		} else {
			picks[i] = members[slot]
			members = append(members[:slot], members[slot+1:]...)
		}
		p.next[id] = members
	}

	for i, id := range p.Touched {
		donor := (i + 1) % k
		if !blank[donor] {
			p.next[id] = append(p.next[id], picks[donor])
		}
		sort.Strings(p.next[id])

		before, err := eval.MixtureScore(wc.mixtures[id])
		if err != nil {
			wc.Discard(p)
			return nil, err
		}
		after, err := eval.MixtureScore(p.next[id])
		if err != nil {
			wc.Discard(p)
			return nil, err
		}
		p.Diff = p.Diff.Add(after.Sub(before))
	}
	return p, nil
}

// Commit applies p.
func (wc *WorkingCopy) Commit(p *Proposal) {
	for id, members := range p.next {
		wc.pool.put(wc.mixtures[id])
		wc.mixtures[id] = members
	}
	p.next = nil
}

// Discard drops p without applying it.
func (wc *WorkingCopy) Discard(p *Proposal) {
	for _, members := range p.next {
		wc.pool.put(members)
	}
	p.next = nil
}
