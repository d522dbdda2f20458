// Package assignment buckets identities into experiment alternatives and
// keeps those buckets sticky.
package assignment

import (
	"github.com/dyluth/bingo/pkg/ledger"
	"github.com/zeebo/xxh3"
)

// Chooser picks an alternative for an identity with a seeded weighted hash.
// The same (seed, experiment, identity) always maps to the same alternative,
// so two processes racing on a first assignment usually propose the same value.
type Chooser struct {
	seed uint64
}

// NewChooser creates a chooser. Changing the seed reshuffles every identity
// that does not yet have a committed assignment.
func NewChooser(seed uint64) Chooser {
	return Chooser{seed: seed}
}

// Choose returns the alternative identity falls into. Alternatives with zero
// weight are never chosen. e must have at least one positive weight.
func (c Chooser) Choose(e *ledger.Experiment, identity string) ledger.Alternative {
	total := e.TotalWeight()
	target := c.fraction(e.Name, identity) * total

	var (
		cumulative float64
		last       ledger.Alternative
	)
	for _, alt := range e.Alternatives {
		if alt.Weight <= 0 {
			continue
		}
		cumulative += alt.Weight
		last = alt
		if target < cumulative {
			return alt
		}
	}

	// Float rounding can leave target == total.
	return last
}

// fraction maps (name, identity) onto [0, 1) using the top 53 bits of the hash.
func (c Chooser) fraction(name, identity string) float64 {
	h := xxh3.HashStringSeed(name+"\x00"+identity, c.seed)
	return float64(h>>11) / (1 << 53)
}
