// Package convindex maintains the reverse lookup from conversion names to the
// live experiments that declared them.
//
// The index is derived data. It is never the system of record and can always be
// rebuilt from the experiment registry.
package convindex

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dyluth/bingo/pkg/ledger"
)

// snapshot maps conversion name -> sorted experiment names. Never mutated
// after publication.
type snapshot map[string][]string

// Index is a copy-on-write reverse index. Reads are a single atomic load;
// writers copy the affected entries and publish a new snapshot.
type Index struct {
	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[snapshot]
}

// New creates an empty index.
func New() *Index {
	idx := &Index{}
	empty := snapshot{}
	idx.snap.Store(&empty)
	return idx
}

// ExperimentsFor returns the names of live experiments declaring conversion,
// sorted. The returned slice belongs to the caller.
func (i *Index) ExperimentsFor(conversion string) []string {
	snap := *i.snap.Load()
	return slices.Clone(snap[conversion])
}

// Conversions returns the number of distinct conversion names indexed.
func (i *Index) Conversions() int {
	return len(*i.snap.Load())
}

// Add indexes a live experiment under each of its conversion names.
// Retired experiments are removed instead.
func (i *Index) Add(e *ledger.Experiment) {
	if !e.Live() {
		i.Remove(e.Name)
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	old := *i.snap.Load()
	next := make(snapshot, len(old)+len(e.ConversionNames))
	for conv, names := range old {
		next[conv] = names
	}

	for _, conv := range e.ConversionNames {
		names := next[conv]
		pos, found := slices.BinarySearch(names, e.Name)
		if found {
			continue
		}
		next[conv] = slices.Insert(slices.Clone(names), pos, e.Name)
	}

	i.snap.Store(&next)
}

// Remove drops an experiment from every conversion entry.
func (i *Index) Remove(name string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	old := *i.snap.Load()
	next := make(snapshot, len(old))
	for conv, names := range old {
		pos, found := slices.BinarySearch(names, name)
		if !found {
			next[conv] = names
			continue
		}
		if len(names) == 1 {
			continue
		}
		next[conv] = slices.Delete(slices.Clone(names), pos, pos+1)
	}

	i.snap.Store(&next)
}

// Rebuild replaces the whole index from a full set of experiments.
func (i *Index) Rebuild(experiments []*ledger.Experiment) {
	next := make(snapshot)
	for _, e := range experiments {
		if !e.Live() {
			continue
		}
		for _, conv := range e.ConversionNames {
			next[conv] = append(next[conv], e.Name)
		}
	}
	for conv := range next {
		slices.Sort(next[conv])
		next[conv] = slices.Compact(next[conv])
	}

	i.mu.Lock()
	i.snap.Store(&next)
	i.mu.Unlock()
}
