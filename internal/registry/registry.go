// Package registry caches experiment definitions in front of the ledger store
// and keeps the conversion index in step with them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dyluth/bingo/internal/convindex"
	"github.com/dyluth/bingo/pkg/ledger"
	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/time/rate"
)

// DefaultMissRefreshInterval bounds how often a conversion nobody declares
// may trigger a full refresh.
const DefaultMissRefreshInterval = time.Second

// Store is the subset of the ledger the registry needs.
type Store interface {
	CreateExperiment(ctx context.Context, e *ledger.Experiment) error
	GetExperiment(ctx context.Context, name string) (*ledger.Experiment, error)
	ListExperiments(ctx context.Context) ([]*ledger.Experiment, error)
	SetStatus(ctx context.Context, name string, status ledger.Status) error
}

// Registry is the in-process view of the experiment set.
//
// Reads are lock-free on the cache. Writers (create, retire, refresh and
// cache fills) serialize on a mutex only while they publish a definition to
// the cache and the conversion index, so the index never disagrees with the
// cache it was built from.
type Registry struct {
	store  Store
	index  *convindex.Index
	cache  *xsync.Map[string, *ledger.Experiment]
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time

	missRefresh rate.Sometimes
}

// New creates a registry over store, publishing into index.
func New(store Store, index *convindex.Index, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  store,
		index:  index,
		cache:  xsync.NewMap[string, *ledger.Experiment](),
		logger: logger.With("component", "registry"),
		now:    time.Now,

		missRefresh: rate.Sometimes{Interval: DefaultMissRefreshInterval},
	}
}

// Index returns the conversion index this registry maintains.
func (r *Registry) Index() *convindex.Index {
	return r.index
}

// Get returns the experiment named name. Cache misses fall through to the
// store. Returned experiments are shared and must not be modified.
func (r *Registry) Get(ctx context.Context, name string) (*ledger.Experiment, error) {
	if e, ok := r.cache.Load(name); ok {
		return e, nil
	}

	e, err := r.store.GetExperiment(ctx, name)
	if err != nil {
		return nil, err
	}
	return r.publish(e), nil
}

// Reload re-reads one experiment from the store and republishes it, so a
// change made by another process takes effect here.
func (r *Registry) Reload(ctx context.Context, name string) (*ledger.Experiment, error) {
	e, err := r.store.GetExperiment(ctx, name)
	if err != nil {
		return nil, err
	}
	return r.publish(e), nil
}

// Exists reports whether an experiment named name has been created.
func (r *Registry) Exists(ctx context.Context, name string) (bool, error) {
	_, err := r.Get(ctx, name)
	if err == nil {
		return true, nil
	}
	if ledger.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// Create stores a new live experiment and makes it conversion-reachable
// before returning. It fails with ledger.ErrExperimentExists if the name is
// taken; the stored definition is never overwritten.
func (r *Registry) Create(ctx context.Context, name string, alternatives []ledger.Alternative, conversions []string) (*ledger.Experiment, error) {
	if conversions == nil {
		conversions = []string{}
	}
	e := &ledger.Experiment{
		Name:            name,
		Alternatives:    alternatives,
		ConversionNames: conversions,
		Status:          ledger.StatusLive,
		CreatedAtMs:     r.now().UnixMilli(),
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("invalid experiment: %w", err)
	}

	if err := r.store.CreateExperiment(ctx, e); err != nil {
		return nil, err
	}

	r.logger.Info("experiment created",
		"event_type", "experiment_created",
		"experiment", e.Name,
		"alternatives", len(e.Alternatives),
		"conversions", e.ConversionNames)

	return r.publish(e), nil
}

// Retire moves an experiment to retired. Retiring twice is not an error.
// The experiment leaves the conversion index immediately.
func (r *Registry) Retire(ctx context.Context, name string) (*ledger.Experiment, error) {
	if err := r.store.SetStatus(ctx, name, ledger.StatusRetired); err != nil {
		return nil, err
	}

	e, err := r.store.GetExperiment(ctx, name)
	if err != nil {
		return nil, err
	}

	r.logger.Info("experiment retired", "event_type", "experiment_retired", "experiment", name)
	return r.publish(e), nil
}

// List returns every experiment known to the store, sorted by name.
func (r *Registry) List(ctx context.Context) ([]*ledger.Experiment, error) {
	return r.store.ListExperiments(ctx)
}

// Cached returns the number of experiments currently held in memory.
func (r *Registry) Cached() int {
	return r.cache.Size()
}

// Refresh re-reads the store and rebuilds the conversion index from the
// merged view. Experiments created or retired by other processes become
// visible here.
func (r *Registry) Refresh(ctx context.Context) error {
	experiments, err := r.store.ListExperiments(ctx)
	if err != nil {
		return fmt.Errorf("failed to list experiments: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range experiments {
		r.cache.Store(e.Name, r.terminal(e))
	}

	all := make([]*ledger.Experiment, 0, r.cache.Size())
	r.cache.Range(func(_ string, e *ledger.Experiment) bool {
		all = append(all, e)
		return true
	})
	r.index.Rebuild(all)

	r.logger.Debug("registry refreshed",
		"event_type", "registry_refreshed",
		"experiments", len(all),
		"conversions", r.index.Conversions())
	return nil
}

// Run refreshes the registry every interval until ctx is cancelled.
// Refresh failures are logged and retried on the next tick.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Warn("registry refresh failed", "event_type", "registry_refresh_failed", "error", err)
			}
		}
	}
}

// RefreshOnMiss refreshes the registry for a conversion the index does not
// know, at most once per DefaultMissRefreshInterval. Callers that are rate
// limited return immediately with a nil error.
func (r *Registry) RefreshOnMiss(ctx context.Context) error {
	var err error
	r.missRefresh.Do(func() {
		err = r.Refresh(ctx)
	})
	return err
}

// Follow reloads every experiment named on names until ctx is cancelled or
// names is closed.
func (r *Registry) Follow(ctx context.Context, names <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case name, ok := <-names:
			if !ok {
				return
			}
			e, err := r.Reload(ctx, name)
			if err != nil {
				if !ledger.IsNotFound(err) && !errors.Is(err, context.Canceled) {
					r.logger.Warn("experiment reload failed", "event_type", "registry_reload_failed", "experiment", name, "error", err)
				}
				continue
			}
			r.logger.Debug("experiment reloaded", "event_type", "registry_reloaded", "experiment", name, "status", e.Status)
		}
	}
}

// publish installs e in the cache and the index and returns the definition
// that won. A cached retired experiment is never replaced by a live one.
func (r *Registry) publish(e *ledger.Experiment) *ledger.Experiment {
	r.mu.Lock()
	defer r.mu.Unlock()

	e = r.terminal(e)
	r.cache.Store(e.Name, e)
	r.index.Add(e)
	return e
}

// terminal must be called with mu held.
func (r *Registry) terminal(e *ledger.Experiment) *ledger.Experiment {
	if cached, ok := r.cache.Load(e.Name); ok && !cached.Live() && e.Live() {
		return cached
	}
	return e
}
