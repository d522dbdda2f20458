package convindex

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/dyluth/bingo/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func experiment(name string, status ledger.Status, conversions ...string) *ledger.Experiment {
	return &ledger.Experiment{
		Name:            name,
		Alternatives:    []ledger.Alternative{{Value: json.RawMessage(`true`), Weight: 1}},
		ConversionNames: conversions,
		Status:          status,
	}
}

func TestIndex_Add(t *testing.T) {
	idx := New()
	assert.Empty(t, idx.ExperimentsFor("c1"))

	idx.Add(experiment("exp", ledger.StatusLive, "c1", "c2"))

	assert.Equal(t, []string{"exp"}, idx.ExperimentsFor("c1"))
	assert.Equal(t, []string{"exp"}, idx.ExperimentsFor("c2"))
	assert.Empty(t, idx.ExperimentsFor("c3"))
	assert.Equal(t, 2, idx.Conversions())
}

func TestIndex_AddKeepsSortedAndUnique(t *testing.T) {
	idx := New()
	idx.Add(experiment("zeta", ledger.StatusLive, "click"))
	idx.Add(experiment("alpha", ledger.StatusLive, "click"))
	idx.Add(experiment("alpha", ledger.StatusLive, "click"))

	assert.Equal(t, []string{"alpha", "zeta"}, idx.ExperimentsFor("click"))
}

func TestIndex_AddRetiredRemoves(t *testing.T) {
	idx := New()
	idx.Add(experiment("exp", ledger.StatusLive, "click"))
	idx.Add(experiment("exp", ledger.StatusRetired, "click"))

	assert.Empty(t, idx.ExperimentsFor("click"))
}

func TestIndex_Remove(t *testing.T) {
	idx := New()
	idx.Add(experiment("a", ledger.StatusLive, "click", "buy"))
	idx.Add(experiment("b", ledger.StatusLive, "click"))

	idx.Remove("a")

	assert.Equal(t, []string{"b"}, idx.ExperimentsFor("click"))
	assert.Empty(t, idx.ExperimentsFor("buy"))
	assert.Equal(t, 1, idx.Conversions())

	idx.Remove("missing")
	assert.Equal(t, []string{"b"}, idx.ExperimentsFor("click"))
}

func TestIndex_Rebuild(t *testing.T) {
	idx := New()
	idx.Add(experiment("stale", ledger.StatusLive, "old"))

	idx.Rebuild([]*ledger.Experiment{
		experiment("b", ledger.StatusLive, "click"),
		experiment("a", ledger.StatusLive, "click", "buy"),
		experiment("r", ledger.StatusRetired, "click"),
	})

	assert.Empty(t, idx.ExperimentsFor("old"))
	assert.Equal(t, []string{"a", "b"}, idx.ExperimentsFor("click"))
	assert.Equal(t, []string{"a"}, idx.ExperimentsFor("buy"))
}

func TestIndex_ReturnedSliceIsCallerOwned(t *testing.T) {
	idx := New()
	idx.Add(experiment("exp", ledger.StatusLive, "click"))

	got := idx.ExperimentsFor("click")
	got[0] = "mutated"

	assert.Equal(t, []string{"exp"}, idx.ExperimentsFor("click"))
}

func TestIndex_ConcurrentReadersAndWriters(t *testing.T) {
	idx := New()
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				idx.Add(experiment(fmt.Sprintf("exp-%d-%d", w, i), ledger.StatusLive, "click"))
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = idx.ExperimentsFor("click")
			}
		}()
	}
	wg.Wait()

	require.Len(t, idx.ExperimentsFor("click"), 200)
}
