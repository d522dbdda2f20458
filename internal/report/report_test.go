package report

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/bingo/internal/timespec"
	"github.com/dyluth/bingo/pkg/ledger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLedger(t *testing.T) *ledger.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := ledger.NewClient(&redis.Options{Addr: mr.Addr()}, "test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func createExperiment(t *testing.T, client *ledger.Client, name string, createdAt time.Time) {
	t.Helper()
	require.NoError(t, client.CreateExperiment(context.Background(), &ledger.Experiment{
		Name: name,
		Alternatives: []ledger.Alternative{
			{Value: json.RawMessage(`true`), Weight: 1},
			{Value: json.RawMessage(`false`), Weight: 1},
		},
		ConversionNames: []string{"signup"},
		Status:          ledger.StatusLive,
		CreatedAtMs:     createdAt.UnixMilli(),
	}))
}

func recordConversion(t *testing.T, client *ledger.Client, identity, experiment string, at time.Time) {
	t.Helper()
	ctx := context.Background()
	alt, _, err := client.Assign(ctx, identity, experiment, "true")
	require.NoError(t, err)
	require.NoError(t, client.RecordConversion(ctx, &ledger.ConversionEvent{
		ID:          uuid.New().String(),
		Identity:    identity,
		Experiment:  experiment,
		Alternative: alt,
		Conversion:  "signup",
		TimestampMs: at.UnixMilli(),
	}))
}

func TestParseOutputFormat(t *testing.T) {
	f, err := ParseOutputFormat("jsonl")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatJSONL, f)

	_, err = ParseOutputFormat("yaml")
	assert.Error(t, err)
}

func TestListExperiments_OldestFirst(t *testing.T) {
	client := setupLedger(t)
	base := time.Now().Add(-time.Hour)
	createExperiment(t, client, "newer", base.Add(time.Minute))
	createExperiment(t, client, "older", base)

	var buf bytes.Buffer
	require.NoError(t, ListExperiments(context.Background(), client, "test", OutputFormatJSONL, &buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"canonical_name":"older"`)
	assert.Contains(t, lines[1], `"canonical_name":"newer"`)
}

func TestShowExperiment(t *testing.T) {
	client := setupLedger(t)
	createExperiment(t, client, "signup_copy", time.Now())
	recordConversion(t, client, "user-1", "signup_copy", time.Now())

	var buf bytes.Buffer
	require.NoError(t, ShowExperiment(context.Background(), client, "signup_copy", OutputFormatDefault, &buf))
	assert.Contains(t, buf.String(), "1 participant, 1 conversion")

	err := ShowExperiment(context.Background(), client, "missing", OutputFormatDefault, &buf)
	assert.True(t, ledger.IsNotFound(err))
}

func TestListEvents_Window(t *testing.T) {
	client := setupLedger(t)
	now := time.Now()
	createExperiment(t, client, "signup_copy", now.Add(-3*time.Hour))
	recordConversion(t, client, "early", "signup_copy", now.Add(-2*time.Hour))
	recordConversion(t, client, "late", "signup_copy", now.Add(-10*time.Minute))

	window, err := timespec.ParseRange("1h", "", now)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, ListEvents(context.Background(), client, "signup_copy", window, OutputFormatJSONL, &buf))

	out := strings.TrimSpace(buf.String())
	assert.Equal(t, 1, strings.Count(out, "\n")+1)
	assert.Contains(t, out, `"identity":"late"`)
}

func TestListEvents_UnknownExperiment(t *testing.T) {
	client := setupLedger(t)

	var buf bytes.Buffer
	err := ListEvents(context.Background(), client, "missing", timespec.Range{}, OutputFormatDefault, &buf)
	assert.True(t, ledger.IsNotFound(err))
	assert.Empty(t, buf.String())
}

func TestFilterEvents(t *testing.T) {
	events := []*ledger.ConversionEvent{{TimestampMs: 10}, {TimestampMs: 20}, {TimestampMs: 30}}
	window := timespec.Range{Since: time.UnixMilli(15), Until: time.UnixMilli(30)}

	kept := FilterEvents(events, window)
	require.Len(t, kept, 1)
	assert.Equal(t, int64(20), kept[0].TimestampMs)
}
