package ledger

import "context"

// Store is the durable contract shared by the Redis client and the SQLite
// backend. Implementations must make Assign a single compare-and-set: the
// first alternative written for (identity, experiment) is the one every
// later caller sees. Assign and RecordConversion check the stored status in
// the same step, so a retired experiment never gains assignments or
// conversions whatever a caller's cache believes.
type Store interface {
	Ping(ctx context.Context) error
	Close() error

	CreateExperiment(ctx context.Context, e *Experiment) error
	GetExperiment(ctx context.Context, name string) (*Experiment, error)
	ListExperiments(ctx context.Context) ([]*Experiment, error)
	SetStatus(ctx context.Context, name string, status Status) error

	Assign(ctx context.Context, identity, experiment, alternative string) (winner string, committed bool, err error)
	LookupAssignment(ctx context.Context, identity, experiment string) (string, error)

	RecordConversion(ctx context.Context, ev *ConversionEvent) error
	ConversionEvents(ctx context.Context, experiment string, limit int64) ([]*ConversionEvent, error)
	Stats(ctx context.Context, name string) (*Stats, error)
}

// ChangeNotifier is implemented by stores that broadcast experiment changes
// to every process sharing them.
type ChangeNotifier interface {
	SubscribeExperimentChanges(ctx context.Context) (*ChangeSubscription, error)
}

var (
	_ Store          = (*Client)(nil)
	_ ChangeNotifier = (*Client)(nil)
)
