package engine

import (
	"log/slog"
	"time"

	"github.com/dyluth/bingo/internal/metrics"
	"go.opentelemetry.io/otel/trace"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector. Defaults to a no-op collector.
func WithMetrics(m metrics.Collector) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithTracer sets the tracer used for engine spans. Defaults to the global
// OpenTelemetry provider, which is a no-op unless the host installs one.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithHashSeed seeds the bucket chooser.
func WithHashSeed(seed uint64) Option {
	return func(e *Engine) {
		e.hashSeed = seed
	}
}

// WithCacheSize bounds the in-process assignment memo. Zero means unbounded.
func WithCacheSize(n int) Option {
	return func(e *Engine) {
		e.cacheSize = n
	}
}

// WithClock overrides the clock used to stamp conversion events.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}
