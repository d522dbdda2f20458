package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/bingo/pkg/ledger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	events chan *ledger.ConversionEvent
	errs   chan error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		events: make(chan *ledger.ConversionEvent, 10),
		errs:   make(chan error, 10),
	}
}

func (f *fakeSource) Events() <-chan *ledger.ConversionEvent { return f.events }
func (f *fakeSource) Errors() <-chan error                   { return f.errs }

// syncBuffer is a bytes.Buffer safe for one writer and one reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func event(experiment, identity string) *ledger.ConversionEvent {
	return &ledger.ConversionEvent{
		ID:          uuid.New().String(),
		Identity:    identity,
		Experiment:  experiment,
		Alternative: `"red"`,
		Conversion:  "click",
		TimestampMs: time.Now().UnixMilli(),
	}
}

func TestStreamConversions_DefaultFormat(t *testing.T) {
	src := newFakeSource()
	src.events <- event("button_color", "user-1")
	close(src.events)

	var buf bytes.Buffer
	n, err := StreamConversions(context.Background(), src, Options{}, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, buf.String(), `🎯 button_color: user-1 converted on "click" (alternative "red")`)
}

func TestStreamConversions_JSONAndFilter(t *testing.T) {
	src := newFakeSource()
	src.events <- event("button_color", "user-1")
	src.events <- event("signup_copy", "user-2")
	close(src.events)

	var buf bytes.Buffer
	n, err := StreamConversions(context.Background(), src, Options{
		Format:     OutputFormatJSON,
		Experiment: "signup_copy",
	}, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var got ledger.ConversionEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &got))
	assert.Equal(t, "user-2", got.Identity)
}

func TestStreamConversions_ReportsErrors(t *testing.T) {
	src := newFakeSource()
	src.errs <- errors.New("bad payload")
	close(src.errs)

	var (
		mu   sync.Mutex
		seen []error
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		StreamConversions(ctx, src, Options{OnError: func(err error) {
			mu.Lock()
			seen = append(seen, err)
			mu.Unlock()
		}}, &bytes.Buffer{})
	}()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestStreamConversions_UnknownFormat(t *testing.T) {
	_, err := StreamConversions(context.Background(), newFakeSource(), Options{Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestStreamConversions_RedisSubscription(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := ledger.NewClient(&redis.Options{Addr: mr.Addr()}, "test")
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := client.SubscribeConversionEvents(ctx)
	require.NoError(t, err)
	defer sub.Close()

	var buf syncBuffer
	done := make(chan struct{})
	go func() {
		defer close(done)
		StreamConversions(ctx, sub, Options{Format: OutputFormatJSON}, &buf)
	}()

	require.NoError(t, client.CreateExperiment(ctx, &ledger.Experiment{
		Name:            "button_color",
		Alternatives:    ledger.DefaultAlternatives(),
		ConversionNames: []string{"click"},
		Status:          ledger.StatusLive,
	}))
	require.NoError(t, client.RecordConversion(ctx, event("button_color", "user-9")))

	assert.Eventually(t, func() bool {
		return strings.Contains(buf.String(), `"identity":"user-9"`)
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	<-done
}
