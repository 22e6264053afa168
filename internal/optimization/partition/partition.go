// Package partition generates starting mixture assignments.
package partition

import (
	"math/rand"
	"sort"

	"github.com/copyleftdev/nmrmix/internal/optimization"
)

// Source lists the compounds available for mixtures.
type Source interface {
	IDs() []string
	ByGroup() map[string][]string
}

// MixtureCount returns how many mixtures a bucket of n compounds gets.
// A bucket that fits in one mixture is still split in two.
func MixtureCount(n, mixSize, extra int) int {
	switch {
	case n == 0:
		return 0
	case n <= mixSize:
		return 2
	}
	count := (n + mixSize - 1) / mixSize
	if count < extra {
		return 2 * count
	}
	return count + extra
}

// Deal assigns ids round-robin to the given mixtures, so that no mixture
// holds more than ceil(len(ids)/len(mixtures)) members. Members are sorted.
func Deal(ids []string, mixtures []int) optimization.Assignment {
	a := make(optimization.Assignment, len(mixtures))
	for _, m := range mixtures {
		a[m] = nil
	}
	if len(mixtures) == 0 {
		return a
	}
	for i, id := range ids {
		m := mixtures[i%len(mixtures)]
		a[m] = append(a[m], id)
	}
	for _, m := range mixtures {
		sort.Strings(a[m])
	}
	return a
}

// Shuffle returns a random permutation of ids. The input is not modified.
func Shuffle(ids []string, rng *rand.Rand) []string {
	out := append([]string(nil), ids...)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// Generate builds a plan from src. Locked mixtures are kept verbatim and
// their members are withheld from the new mixtures. With params.UseGroup
// every group gets its own bucket of mixtures; otherwise all compounds share
// one bucket named "".
func Generate(src Source, params optimization.Parameters, locked optimization.Assignment, rng *rand.Rand) (*optimization.Plan, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	ids := src.IDs()
	if len(ids) == 0 {
		return nil, optimization.WrapError(optimization.ErrNoCompounds, "generate mixtures")
	}

	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	withheld := make(map[string]bool)
	plan := &optimization.Plan{
		Assignment: make(optimization.Assignment),
		Locked:     make(map[int]bool),
	}
	for _, m := range locked.MixtureIDs() {
		for _, id := range locked[m] {
			if !known[id] {
				return nil, optimization.WrapErrorf(optimization.ErrUnknownCompound, "locked mixture %d: compound %s", m, id)
			}
			withheld[id] = true
		}
		plan.Assignment[m] = append([]string(nil), locked[m]...)
		sort.Strings(plan.Assignment[m])
		plan.Locked[m] = true
	}

	buckets := map[string][]string{"": ids}
	if params.UseGroup {
		buckets = src.ByGroup()
	}
	names := make([]string, 0, len(buckets))
	for name := range buckets {
		names = append(names, name)
	}
	sort.Strings(names)

	next := params.StartNum
	for _, name := range names {
		var pool []string
		for _, id := range buckets[name] {
			if !withheld[id] {
				pool = append(pool, id)
			}
		}
		if len(pool) == 0 {
			continue
		}
		sort.Strings(pool)

		count := MixtureCount(len(pool), params.MixSize, params.ExtraMixtures)
		mixtures := make([]int, 0, count)
		for len(mixtures) < count {
			if _, used := plan.Assignment[next]; !used {
				mixtures = append(mixtures, next)
				plan.Assignment[next] = nil
			}
			next++
		}

		plan.Assignment.Merge(Deal(Shuffle(pool, rng), mixtures))
		plan.Buckets = append(plan.Buckets, optimization.Bucket{
			Name:       name,
			MixtureIDs: mixtures,
			Compounds:  pool,
		})
	}
	return plan, nil
}
