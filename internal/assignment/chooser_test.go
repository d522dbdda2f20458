package assignment

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/dyluth/bingo/pkg/ledger"
	"github.com/stretchr/testify/assert"
)

func weighted(weights ...float64) *ledger.Experiment {
	alts := make([]ledger.Alternative, len(weights))
	for i, w := range weights {
		alts[i] = ledger.Alternative{Value: json.RawMessage(fmt.Sprintf("%d", i)), Weight: w}
	}
	return &ledger.Experiment{Name: "exp", Alternatives: alts, Status: ledger.StatusLive}
}

func TestChoose_Deterministic(t *testing.T) {
	c := NewChooser(42)
	e := weighted(1, 1, 1)

	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("user-%d", i)
		assert.Equal(t, c.Choose(e, id), c.Choose(e, id))
	}
}

func TestChoose_ZeroWeightNeverChosen(t *testing.T) {
	c := NewChooser(0)
	e := weighted(0, 1, 0)

	for i := 0; i < 1000; i++ {
		alt := c.Choose(e, fmt.Sprintf("user-%d", i))
		assert.Equal(t, "1", alt.Key())
	}
}

func TestChoose_RespectsWeights(t *testing.T) {
	c := NewChooser(7)
	e := weighted(3, 1)

	counts := map[string]int{}
	const n = 20000
	for i := 0; i < n; i++ {
		counts[c.Choose(e, fmt.Sprintf("user-%d", i)).Key()]++
	}

	share := float64(counts["0"]) / n
	assert.InDelta(t, 0.75, share, 0.03)
}

func TestChoose_SeedChangesBuckets(t *testing.T) {
	e := weighted(1, 1)
	a, b := NewChooser(1), NewChooser(2)

	differ := 0
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("user-%d", i)
		if a.Choose(e, id).Key() != b.Choose(e, id).Key() {
			differ++
		}
	}
	assert.Greater(t, differ, 0)
}
