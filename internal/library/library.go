package library

import (
	"fmt"
	"sort"
	"sync"

	"github.com/copyleftdev/nmrmix/internal/optimization"
)

// Library holds the compounds available for mixture generation.
//
// Active compounds with at least one scoring peak take part in mixtures.
// Inactive compounds and compounds whose every peak falls inside an ignore
// region are retained but excluded.
type Library struct {
	mu       sync.RWMutex
	active   map[string]*Compound
	inactive map[string]*Compound
	ignored  map[string]*Compound
	regions  []IgnoreRegion
}

// New creates an empty library.
func New() *Library {
	return &Library{
		active:   make(map[string]*Compound),
		inactive: make(map[string]*Compound),
		ignored:  make(map[string]*Compound),
	}
}

// Add inserts a compound. Ids must be unique across the whole library.
func (l *Library) Add(c *Compound) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.lookup(c.ID); ok {
		return optimization.WrapErrorf(optimization.ErrDuplicateCompound, "compound %s", c.ID)
	}
	if !c.Active {
		l.inactive[c.ID] = c
		return nil
	}
	c.ApplyIgnoreRegions(l.regions)
	l.place(c)
	return nil
}

// place files an active compound under active or ignored.
func (l *Library) place(c *Compound) {
	if c.NumPeaks() == 0 {
		l.ignored[c.ID] = c
		return
	}
	l.active[c.ID] = c
}

func (l *Library) lookup(id string) (*Compound, bool) {
	for _, m := range []map[string]*Compound{l.active, l.inactive, l.ignored} {
		if c, ok := m[id]; ok {
			return c, true
		}
	}
	return nil, false
}

// Compound returns the compound with the given id from any part of the library.
func (l *Library) Compound(id string) (*Compound, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lookup(id)
}

// IsActive reports whether id takes part in mixtures.
func (l *Library) IsActive(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.active[id]
	return ok
}

// Len returns the number of compounds taking part in mixtures.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.active)
}

// IDs returns the ids of the compounds taking part in mixtures, sorted.
func (l *Library) IDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return sortedKeys(l.active)
}

// InactiveIDs returns the ids of compounds marked inactive, sorted.
func (l *Library) InactiveIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return sortedKeys(l.inactive)
}

// IgnoredIDs returns the ids of active compounds whose every peak is ignored, sorted.
func (l *Library) IgnoredIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return sortedKeys(l.ignored)
}

// Compounds returns the compounds taking part in mixtures ordered by id.
func (l *Library) Compounds() []*Compound {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Compound, 0, len(l.active))
	for _, id := range sortedKeys(l.active) {
		out = append(out, l.active[id])
	}
	return out
}

// Groups returns the distinct group labels of active compounds, sorted.
func (l *Library) Groups() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.groups()
}

func (l *Library) groups() []string {
	seen := make(map[string]bool)
	for _, m := range []map[string]*Compound{l.active, l.ignored} {
		for _, c := range m {
			seen[c.Group] = true
		}
	}
	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// ByGroup returns the active ids of each group, sorted within the group.
func (l *Library) ByGroup() map[string][]string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string][]string)
	for _, id := range sortedKeys(l.active) {
		g := l.active[id].Group
		out[g] = append(out[g], id)
	}
	return out
}

// SetIgnoreRegions replaces the ignore regions and re-derives every active
// compound. Declarations are sanitized first. The returned log lists every
// adjusted declaration and every compound that moved in or out of the
// ignored set.
func (l *Library) SetIgnoreRegions(regions []IgnoreRegion) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	accepted, log := SanitizeIgnoreRegions(regions, l.groups())
	l.regions = accepted

	pending := make([]*Compound, 0, len(l.active)+len(l.ignored))
	for _, m := range []map[string]*Compound{l.active, l.ignored} {
		for id, c := range m {
			pending = append(pending, c)
			delete(m, id)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })

	for _, c := range pending {
		wasIgnored := c.NumPeaks() == 0
		c.ApplyIgnoreRegions(accepted)
		l.place(c)
		switch nowIgnored := c.NumPeaks() == 0; {
		case nowIgnored && !wasIgnored:
			log = append(log, fmt.Sprintf("%s has all peaks ignored and was removed from mixtures", c.ID))
		case !nowIgnored && wasIgnored:
			log = append(log, fmt.Sprintf("%s has scoring peaks again and was restored", c.ID))
		}
	}
	return log
}

// IgnoreRegions returns the regions currently in effect.
func (l *Library) IgnoreRegions() []IgnoreRegion {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]IgnoreRegion(nil), l.regions...)
}

func sortedKeys(m map[string]*Compound) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
