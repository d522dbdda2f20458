package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dyluth/bingo/pkg/ledger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "bingo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testExperiment(name string) *ledger.Experiment {
	return &ledger.Experiment{
		Name: name,
		Alternatives: []ledger.Alternative{
			{Value: json.RawMessage(`"red"`), Weight: 1},
			{Value: json.RawMessage(`"blue"`), Weight: 1},
		},
		ConversionNames: []string{"click"},
		Status:          ledger.StatusLive,
		CreatedAtMs:     1700000000000,
	}
}

func TestCreateAndGetExperiment(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateExperiment(ctx, testExperiment("button_color")))

	got, err := store.GetExperiment(ctx, "button_color")
	require.NoError(t, err)
	assert.Equal(t, "button_color", got.Name)
	assert.Len(t, got.Alternatives, 2)
	assert.Equal(t, ledger.StatusLive, got.Status)

	dup := testExperiment("button_color")
	dup.ConversionNames = []string{"purchase"}
	err = store.CreateExperiment(ctx, dup)
	assert.ErrorIs(t, err, ledger.ErrExperimentExists)

	got, err = store.GetExperiment(ctx, "button_color")
	require.NoError(t, err)
	assert.Equal(t, []string{"click"}, got.ConversionNames)

	_, err = store.GetExperiment(ctx, "missing")
	assert.True(t, ledger.IsNotFound(err))
}

func TestListExperiments(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"b", "a", "c"} {
		require.NoError(t, store.CreateExperiment(ctx, testExperiment(name)))
	}

	list, err := store.ListExperiments(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].Name)
	assert.Equal(t, "c", list[2].Name)
}

func TestSetStatus(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateExperiment(ctx, testExperiment("exp")))

	require.NoError(t, store.SetStatus(ctx, "exp", ledger.StatusRetired))
	got, err := store.GetExperiment(ctx, "exp")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusRetired, got.Status)

	assert.ErrorIs(t, store.SetStatus(ctx, "exp", ledger.StatusLive), ledger.ErrInvalidTransition)
	assert.True(t, ledger.IsNotFound(store.SetStatus(ctx, "missing", ledger.StatusRetired)))
}

func TestAssign(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateExperiment(ctx, testExperiment("exp")))

	_, err := store.LookupAssignment(ctx, "user-1", "exp")
	assert.True(t, ledger.IsNotFound(err))

	winner, committed, err := store.Assign(ctx, "user-1", "exp", `"red"`)
	require.NoError(t, err)
	assert.True(t, committed)
	assert.Equal(t, `"red"`, winner)

	winner, committed, err = store.Assign(ctx, "user-1", "exp", `"blue"`)
	require.NoError(t, err)
	assert.False(t, committed)
	assert.Equal(t, `"red"`, winner)

	value, err := store.LookupAssignment(ctx, "user-1", "exp")
	require.NoError(t, err)
	assert.Equal(t, `"red"`, value)
}

func TestAssign_Concurrent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateExperiment(ctx, testExperiment("exp")))

	const racers = 16
	winners := make([]string, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, _, err := store.Assign(ctx, "user-1", "exp", fmt.Sprintf(`"alt-%d"`, i))
			assert.NoError(t, err)
			winners[i] = w
		}(i)
	}
	wg.Wait()

	for _, w := range winners {
		assert.Equal(t, winners[0], w)
	}
}

func TestAssign_RequiresLiveExperiment(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, _, err := store.Assign(ctx, "user-1", "exp", `"red"`)
	assert.True(t, ledger.IsNotFound(err))

	require.NoError(t, store.CreateExperiment(ctx, testExperiment("exp")))
	_, _, err = store.Assign(ctx, "user-1", "exp", `"red"`)
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(ctx, "exp", ledger.StatusRetired))

	winner, committed, err := store.Assign(ctx, "user-1", "exp", `"blue"`)
	require.NoError(t, err)
	assert.False(t, committed)
	assert.Equal(t, `"red"`, winner)

	_, _, err = store.Assign(ctx, "user-2", "exp", `"red"`)
	assert.ErrorIs(t, err, ledger.ErrNotLive)
	_, err = store.LookupAssignment(ctx, "user-2", "exp")
	assert.True(t, ledger.IsNotFound(err))
}

func TestRecordConversion_RequiresLiveExperiment(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ev := &ledger.ConversionEvent{
		ID:          uuid.New().String(),
		Identity:    "user-1",
		Experiment:  "exp",
		Alternative: `"red"`,
		Conversion:  "click",
		TimestampMs: 1,
	}
	assert.True(t, ledger.IsNotFound(store.RecordConversion(ctx, ev)))

	require.NoError(t, store.CreateExperiment(ctx, testExperiment("exp")))
	require.NoError(t, store.SetStatus(ctx, "exp", ledger.StatusRetired))
	assert.ErrorIs(t, store.RecordConversion(ctx, ev), ledger.ErrNotLive)

	events, err := store.ConversionEvents(ctx, "exp", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestConversionsAndStats(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateExperiment(ctx, testExperiment("exp")))

	_, _, err := store.Assign(ctx, "user-1", "exp", `"blue"`)
	require.NoError(t, err)
	_, _, err = store.Assign(ctx, "user-2", "exp", `"red"`)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.RecordConversion(ctx, &ledger.ConversionEvent{
			ID:          uuid.New().String(),
			Identity:    "user-1",
			Experiment:  "exp",
			Alternative: `"blue"`,
			Conversion:  "click",
			TimestampMs: int64(i),
		}))
	}

	events, err := store.ConversionEvents(ctx, "exp", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(0), events[0].TimestampMs)

	limited, err := store.ConversionEvents(ctx, "exp", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	stats, err := store.Stats(ctx, "exp")
	require.NoError(t, err)
	require.Len(t, stats.Alternatives, 2)
	assert.Equal(t, int64(1), stats.Alternatives[0].Participants)
	assert.Equal(t, int64(0), stats.Alternatives[0].Conversions)
	assert.Equal(t, int64(1), stats.Alternatives[1].Participants)
	assert.Equal(t, int64(3), stats.Alternatives[1].Conversions)
}

func TestClosedStore(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	ctx := context.Background()
	assert.ErrorIs(t, store.Ping(ctx), ErrStoreClosed)
	_, err := store.GetExperiment(ctx, "exp")
	assert.ErrorIs(t, err, ErrStoreClosed)
}
