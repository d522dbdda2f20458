// Package engine implements the bingo facade: ab_test fetches or creates an
// experiment and returns the caller's sticky bucket, bingo scores a
// conversion against every live experiment the caller is enrolled in.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dyluth/bingo/internal/assignment"
	"github.com/dyluth/bingo/internal/convindex"
	"github.com/dyluth/bingo/internal/metrics"
	"github.com/dyluth/bingo/internal/registry"
	"github.com/dyluth/bingo/pkg/ledger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/dyluth/bingo/internal/engine"

// Caller identifies who is asking. Identity comes from the identity resolver;
// the engine never derives it.
type Caller struct {
	Identity   string
	CanControl bool // may create experiments
}

// Result is the answer to ab_test.
type Result struct {
	Alternative json.RawMessage // The caller's alternative value
	Created     bool            // True when this call created the experiment
}

// Engine owns the registry, conversion index and assignment cache for one
// store. It is safe for concurrent use.
type Engine struct {
	store       ledger.Store
	registry    *registry.Registry
	assignments *assignment.Cache

	logger    *slog.Logger
	metrics   metrics.Collector
	tracer    trace.Tracer
	now       func() time.Time
	hashSeed  uint64
	cacheSize int
}

// New wires an engine over store. Call Start before serving traffic so the
// conversion index reflects experiments that already exist.
func New(store ledger.Store, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		logger:  slog.Default(),
		metrics: metrics.NewNop(),
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.registry = registry.New(store, convindex.New(), e.logger)
	e.logger = e.logger.With("component", "engine")
	e.assignments = assignment.NewCache(store, assignment.NewChooser(e.hashSeed), e.cacheSize)
	return e
}

// Start loads every stored experiment and builds the conversion index.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.registry.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to load experiments: %w", err)
	}
	return nil
}

// Run keeps the registry converged with other processes until ctx ends. It
// refreshes from the store every interval and, when the store broadcasts
// experiment changes, applies them as they arrive.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	var wg sync.WaitGroup
	if notifier, ok := e.store.(ledger.ChangeNotifier); ok {
		sub, err := notifier.SubscribeExperimentChanges(ctx)
		if err != nil {
			e.logger.Warn("experiment change feed unavailable", "event_type", "change_feed_failed", "error", err)
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer sub.Close()
				e.registry.Follow(ctx, sub.Names())
			}()
		}
	}

	e.registry.Run(ctx, interval)
	wg.Wait()
}

// Ping checks the store.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// ABTest returns the caller's alternative for the named experiment, creating
// the experiment from def when it does not exist and the caller may control
// experiments. def is ignored for existing experiments.
func (e *Engine) ABTest(ctx context.Context, caller Caller, name string, def *Definition) (res Result, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.ABTest", trace.WithAttributes(
		attribute.String("bingo.experiment", name),
	))
	defer e.finish(span, "ab_test", time.Now(), &err)

	if caller.Identity == "" {
		return Result{}, fmt.Errorf("%w: identity is required", ErrInvalidArgument)
	}
	if name == "" {
		return Result{}, fmt.Errorf("%w: canonical_name is required", ErrInvalidArgument)
	}

	exp, created, err := e.getOrCreate(ctx, caller, name, def)
	if err != nil {
		return Result{}, err
	}
	span.SetAttributes(attribute.Bool("bingo.created", created))

	if !exp.Live() {
		return e.retired(ctx, caller, exp)
	}

	a, err := e.assignments.GetOrAssign(ctx, caller.Identity, exp)
	if errors.Is(err, ledger.ErrNotLive) {
		// Retired by another process since it was cached.
		if exp, err = e.registry.Reload(ctx, name); err != nil {
			return Result{}, fmt.Errorf("failed to reload experiment: %w", err)
		}
		return e.retired(ctx, caller, exp)
	}
	if err != nil {
		return Result{}, err
	}

	if a.Committed {
		e.metrics.RecordAssignment(name, metrics.AssignmentCommitted)
	} else {
		e.metrics.RecordAssignment(name, metrics.AssignmentExisting)
	}

	return Result{Alternative: json.RawMessage(a.Value), Created: created}, nil
}

// retired answers ab_test for an experiment that no longer enrolls: the
// caller's existing alternative, or the control.
func (e *Engine) retired(ctx context.Context, caller Caller, exp *ledger.Experiment) (Result, error) {
	value, ok, err := e.assignments.Lookup(ctx, caller.Identity, exp.Name)
	if err != nil {
		return Result{}, fmt.Errorf("failed to look up assignment: %w", err)
	}
	if !ok {
		value = exp.Control().Key()
	}
	e.metrics.RecordAssignment(exp.Name, metrics.AssignmentRetired)
	return Result{Alternative: json.RawMessage(value)}, nil
}

func (e *Engine) getOrCreate(ctx context.Context, caller Caller, name string, def *Definition) (*ledger.Experiment, bool, error) {
	exp, err := e.registry.Get(ctx, name)
	if err == nil {
		return exp, false, nil
	}
	if !ledger.IsNotFound(err) {
		return nil, false, fmt.Errorf("failed to get experiment: %w", err)
	}

	if !caller.CanControl {
		return nil, false, fmt.Errorf("%w: experiment %q: %w", ErrNotFound, name, ErrUnauthorized)
	}

	// Validate before touching the store so bad input never creates anything.
	want, err := def.experiment(name)
	if err != nil {
		return nil, false, err
	}

	exp, err = e.registry.Create(ctx, name, want.Alternatives, want.ConversionNames)
	switch {
	case err == nil:
		e.metrics.RecordExperimentCreated(name)
		return exp, true, nil
	case errors.Is(err, ledger.ErrExperimentExists):
		// Lost a creation race. The winner's definition stands.
		e.logger.Debug("experiment creation raced", "event_type", "create_raced", "experiment", name)
		exp, err = e.registry.Get(ctx, name)
		if err != nil {
			return nil, false, fmt.Errorf("failed to get experiment after creation race: %w", err)
		}
		return exp, false, nil
	default:
		return nil, false, fmt.Errorf("failed to create experiment: %w", err)
	}
}

// Bingo scores conversion for the caller against every live experiment that
// declares it and that the caller is already enrolled in. It never enrolls.
// Returns ErrNotFound when no experiment declares the conversion; otherwise
// the number of experiments scored, which may be zero.
func (e *Engine) Bingo(ctx context.Context, caller Caller, conversion string) (scored int, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.Bingo", trace.WithAttributes(
		attribute.String("bingo.conversion", conversion),
	))
	defer e.finish(span, "bingo", time.Now(), &err)

	if caller.Identity == "" || conversion == "" {
		e.metrics.RecordConversionRejected("invalid")
		return 0, fmt.Errorf("%w: identity and conversion are required", ErrInvalidArgument)
	}

	candidates := e.registry.Index().ExperimentsFor(conversion)
	if len(candidates) == 0 {
		// Another process may have created a declaring experiment.
		if err := e.registry.RefreshOnMiss(ctx); err != nil {
			return 0, fmt.Errorf("failed to refresh experiments: %w", err)
		}
		candidates = e.registry.Index().ExperimentsFor(conversion)
	}
	if len(candidates) == 0 {
		e.metrics.RecordConversionRejected("undeclared")
		return 0, fmt.Errorf("%w: no experiment declares conversion %q", ErrNotFound, conversion)
	}

	var errs []error
	for _, name := range candidates {
		ok, err := e.score(ctx, caller.Identity, name, conversion)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			scored++
		}
	}

	span.SetAttributes(attribute.Int("bingo.scored", scored))
	e.metrics.RecordConversion(conversion, scored)
	e.logger.Debug("conversion scored",
		"event_type", "conversion_scored",
		"conversion", conversion,
		"candidates", len(candidates),
		"scored", scored)

	return scored, errors.Join(errs...)
}

// score records one conversion event if the experiment still listens for
// conversion and identity holds an assignment in it.
func (e *Engine) score(ctx context.Context, identity, name, conversion string) (bool, error) {
	exp, err := e.registry.Get(ctx, name)
	if err != nil {
		if ledger.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("experiment %q: %w", name, err)
	}
	if !exp.Live() || !exp.Declares(conversion) {
		return false, nil
	}

	alternative, enrolled, err := e.assignments.Lookup(ctx, identity, name)
	if err != nil {
		return false, fmt.Errorf("experiment %q: failed to look up assignment: %w", name, err)
	}
	if !enrolled {
		return false, nil
	}

	ev := &ledger.ConversionEvent{
		ID:          uuid.NewString(),
		Identity:    identity,
		Experiment:  name,
		Alternative: alternative,
		Conversion:  conversion,
		TimestampMs: e.now().UnixMilli(),
	}
	if err := e.store.RecordConversion(ctx, ev); err != nil {
		if errors.Is(err, ledger.ErrNotLive) {
			if _, err := e.registry.Reload(ctx, name); err != nil {
				return false, fmt.Errorf("experiment %q: failed to reload: %w", name, err)
			}
			return false, nil
		}
		return false, fmt.Errorf("experiment %q: %w", name, err)
	}
	return true, nil
}

// Create registers a new experiment outside of ab_test, for operators and
// configuration seeding. It fails with ErrAlreadyExists if the name is taken.
func (e *Engine) Create(ctx context.Context, name string, def *Definition) (*ledger.Experiment, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: canonical_name is required", ErrInvalidArgument)
	}
	want, err := def.experiment(name)
	if err != nil {
		return nil, err
	}

	exp, err := e.registry.Create(ctx, name, want.Alternatives, want.ConversionNames)
	if err != nil {
		if errors.Is(err, ledger.ErrExperimentExists) {
			return nil, fmt.Errorf("%w: experiment %q", ErrAlreadyExists, name)
		}
		return nil, fmt.Errorf("failed to create experiment: %w", err)
	}

	e.metrics.RecordExperimentCreated(name)
	return exp, nil
}

// Retire stops new assignments and conversion scoring for an experiment.
// History is kept. Retiring a retired experiment is a no-op.
func (e *Engine) Retire(ctx context.Context, name string) error {
	if _, err := e.registry.Retire(ctx, name); err != nil {
		if ledger.IsNotFound(err) {
			return fmt.Errorf("%w: experiment %q", ErrNotFound, name)
		}
		return fmt.Errorf("failed to retire experiment: %w", err)
	}
	return nil
}

// Experiment returns one experiment definition.
func (e *Engine) Experiment(ctx context.Context, name string) (*ledger.Experiment, error) {
	exp, err := e.registry.Get(ctx, name)
	if err != nil {
		if ledger.IsNotFound(err) {
			return nil, fmt.Errorf("%w: experiment %q", ErrNotFound, name)
		}
		return nil, err
	}
	return exp, nil
}

// Experiments lists every stored experiment, sorted by name.
func (e *Engine) Experiments(ctx context.Context) ([]*ledger.Experiment, error) {
	return e.registry.List(ctx)
}

// ExperimentsFor returns the live experiments declaring conversion.
func (e *Engine) ExperimentsFor(conversion string) []string {
	return e.registry.Index().ExperimentsFor(conversion)
}

// Lookup returns identity's alternative for an experiment without enrolling.
func (e *Engine) Lookup(ctx context.Context, identity, name string) (json.RawMessage, bool, error) {
	value, ok, err := e.assignments.Lookup(ctx, identity, name)
	if err != nil || !ok {
		return nil, ok, err
	}
	return json.RawMessage(value), true, nil
}

// Stats returns participation and conversion counters for an experiment.
func (e *Engine) Stats(ctx context.Context, name string) (*ledger.Stats, error) {
	stats, err := e.store.Stats(ctx, name)
	if err != nil {
		if ledger.IsNotFound(err) {
			return nil, fmt.Errorf("%w: experiment %q", ErrNotFound, name)
		}
		return nil, err
	}
	return stats, nil
}

// ConversionEvents returns recorded events for an experiment, oldest first.
func (e *Engine) ConversionEvents(ctx context.Context, name string, limit int64) ([]*ledger.ConversionEvent, error) {
	return e.store.ConversionEvents(ctx, name, limit)
}

func (e *Engine) finish(span trace.Span, op string, start time.Time, errp *error) {
	result := metrics.ResultOK
	if err := *errp; err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrInvalidArgument) {
		result = metrics.ResultError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	e.metrics.ObserveOperation(op, result, time.Since(start).Seconds())
	span.End()
}
