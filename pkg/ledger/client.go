package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Sentinel errors returned by ledger stores.
var (
	// ErrNotFound is returned when an experiment or assignment does not exist.
	ErrNotFound = errors.New("not found")

	// ErrExperimentExists is returned by CreateExperiment when the name is taken.
	ErrExperimentExists = errors.New("experiment already exists")

	// ErrInvalidTransition is returned when a status change would leave retired.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotLive is returned when a new assignment or a conversion targets a
	// retired experiment.
	ErrNotLive = errors.New("experiment is not live")
)

// createExperimentScript writes the definition only if the name is free, then
// records the initial status. Returns 1 on create, 0 if the name was taken.
var createExperimentScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then
	return 0
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
return 1
`)

// setStatusScript returns -1 for an unknown experiment and -2 when asked to
// move a retired experiment anywhere but retired.
var setStatusScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 then
	return -1
end
local current = redis.call('HGET', KEYS[2], ARGV[1])
if current == 'retired' and ARGV[2] ~= 'retired' then
	return -2
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
return 1
`)

// assignScript is the compare-and-set for assignments. The first writer for a
// (identity, experiment) field wins and bumps the participant counter; later
// callers get the stored value back untouched. New assignments need a live
// experiment: -1 means unknown, -2 means not live.
var assignScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], ARGV[1])
if current then
	return {current, 0}
end
local status = redis.call('HGET', KEYS[3], ARGV[1])
if not status then
	return {'', -1}
end
if status ~= 'live' then
	return {'', -2}
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('HINCRBY', KEYS[2], ARGV[2], 1)
return {ARGV[2], 1}
`)

// recordConversionScript appends the event and bumps the alternative's
// counter only while the experiment is live. Returns 1 on write, -1 for an
// unknown experiment and -2 for one that is not live.
var recordConversionScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], ARGV[1])
if not status then
	return -1
end
if status ~= 'live' then
	return -2
end
redis.call('XADD', KEYS[2], '*',
	'id', ARGV[3], 'identity', ARGV[4], 'experiment', ARGV[1],
	'alternative', ARGV[2], 'conversion', ARGV[5], 'timestamp_ms', ARGV[6])
redis.call('HINCRBY', KEYS[3], ARGV[2], 1)
return 1
`)

// Client provides namespace-scoped Redis operations for the ledger.
// All keys and channels are automatically namespaced.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb       *redis.Client
	namespace string
}

// NewClient creates a new ledger client for the specified namespace.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - namespace: Deployment namespace (must not be empty)
//
// Returns an error if namespace is empty.
func NewClient(redisOpts *redis.Options, namespace string) (*Client, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}

	return &Client{
		rdb:       redis.NewClient(redisOpts),
		namespace: namespace,
	}, nil
}

// Namespace returns the namespace this client writes under.
func (c *Client) Namespace() string {
	return c.namespace
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// CreateExperiment validates and stores a new experiment.
// Returns ErrExperimentExists if the name is already taken; the stored
// experiment is never overwritten.
func (c *Client) CreateExperiment(ctx context.Context, e *Experiment) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid experiment: %w", err)
	}

	definition, err := ExperimentToJSON(e)
	if err != nil {
		return err
	}

	keys := []string{ExperimentsKey(c.namespace), ExperimentStatusKey(c.namespace)}
	created, err := createExperimentScript.Run(ctx, c.rdb, keys, e.Name, definition, string(e.Status)).Int64()
	if err != nil {
		return fmt.Errorf("failed to write experiment to Redis: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("%w: %s", ErrExperimentExists, e.Name)
	}

	c.notifyChange(ctx, e.Name)
	return nil
}

// GetExperiment retrieves an experiment by canonical name.
// Returns ErrNotFound if it doesn't exist.
func (c *Client) GetExperiment(ctx context.Context, name string) (*Experiment, error) {
	definition, err := c.rdb.HGet(ctx, ExperimentsKey(c.namespace), name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("experiment %q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read experiment from Redis: %w", err)
	}

	status, err := c.rdb.HGet(ctx, ExperimentStatusKey(c.namespace), name).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read experiment status from Redis: %w", err)
	}

	return JSONToExperiment(definition, status)
}

// ListExperiments returns every experiment in the namespace, sorted by name.
func (c *Client) ListExperiments(ctx context.Context) ([]*Experiment, error) {
	definitions, err := c.rdb.HGetAll(ctx, ExperimentsKey(c.namespace)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read experiments from Redis: %w", err)
	}

	statuses, err := c.rdb.HGetAll(ctx, ExperimentStatusKey(c.namespace)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read experiment statuses from Redis: %w", err)
	}

	experiments := make([]*Experiment, 0, len(definitions))
	for name, definition := range definitions {
		exp, err := JSONToExperiment(definition, statuses[name])
		if err != nil {
			return nil, fmt.Errorf("experiment %q: %w", name, err)
		}
		experiments = append(experiments, exp)
	}

	sort.Slice(experiments, func(i, j int) bool {
		return experiments[i].Name < experiments[j].Name
	})

	return experiments, nil
}

// SetStatus changes an experiment's status.
// Returns ErrNotFound for unknown experiments and ErrInvalidTransition when
// trying to revive a retired experiment.
func (c *Client) SetStatus(ctx context.Context, name string, status Status) error {
	if err := status.Validate(); err != nil {
		return err
	}

	keys := []string{ExperimentsKey(c.namespace), ExperimentStatusKey(c.namespace)}
	result, err := setStatusScript.Run(ctx, c.rdb, keys, name, string(status)).Int64()
	if err != nil {
		return fmt.Errorf("failed to update experiment status in Redis: %w", err)
	}

	switch result {
	case -1:
		return fmt.Errorf("experiment %q: %w", name, ErrNotFound)
	case -2:
		return fmt.Errorf("%w: %s is retired", ErrInvalidTransition, name)
	}

	c.notifyChange(ctx, name)
	return nil
}

// notifyChange tells other processes to reload an experiment. Delivery is
// best effort; periodic refresh covers lost messages.
func (c *Client) notifyChange(ctx context.Context, name string) {
	c.rdb.Publish(ctx, ExperimentChangesChannel(c.namespace), name)
}

// Assign commits alternative for (identity, experiment) unless an assignment
// already exists. It returns the winning alternative and whether this call
// committed it. Safe under concurrent callers across processes.
//
// An existing assignment is always returned. A new one is refused with
// ErrNotFound for unknown experiments and ErrNotLive for retired ones.
func (c *Client) Assign(ctx context.Context, identity, experiment, alternative string) (string, bool, error) {
	if identity == "" || experiment == "" || alternative == "" {
		return "", false, fmt.Errorf("identity, experiment and alternative are required")
	}

	keys := []string{
		AssignmentsKey(c.namespace, identity),
		ParticipantsKey(c.namespace, experiment),
		ExperimentStatusKey(c.namespace),
	}
	result, err := assignScript.Run(ctx, c.rdb, keys, experiment, alternative).Slice()
	if err != nil {
		return "", false, fmt.Errorf("failed to write assignment to Redis: %w", err)
	}
	if len(result) != 2 {
		return "", false, fmt.Errorf("unexpected assignment reply: %v", result)
	}

	code, _ := result[1].(int64)
	switch code {
	case -1:
		return "", false, fmt.Errorf("experiment %q: %w", experiment, ErrNotFound)
	case -2:
		return "", false, fmt.Errorf("experiment %q: %w", experiment, ErrNotLive)
	}

	winner, ok := result[0].(string)
	if !ok {
		return "", false, fmt.Errorf("unexpected assignment value: %v", result[0])
	}

	return winner, code == 1, nil
}

// LookupAssignment returns the identity's alternative for an experiment
// without creating one. Returns ErrNotFound if the identity is not enrolled.
func (c *Client) LookupAssignment(ctx context.Context, identity, experiment string) (string, error) {
	value, err := c.rdb.HGet(ctx, AssignmentsKey(c.namespace, identity), experiment).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("assignment %s/%s: %w", identity, experiment, ErrNotFound)
		}
		return "", fmt.Errorf("failed to read assignment from Redis: %w", err)
	}
	return value, nil
}

// RecordConversion appends a conversion event and bumps the alternative's
// conversion counter atomically, then publishes the event. Events for unknown
// experiments fail with ErrNotFound and for retired ones with ErrNotLive.
//
// The event is durable once the script succeeds; Pub/Sub delivery is
// at-most-once and a publish failure is not reported.
func (c *Client) RecordConversion(ctx context.Context, ev *ConversionEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid conversion event: %w", err)
	}

	values := ConversionEventToValues(ev)
	keys := []string{
		ExperimentStatusKey(c.namespace),
		ConversionEventsKey(c.namespace, ev.Experiment),
		ConversionCountsKey(c.namespace, ev.Experiment),
	}
	result, err := recordConversionScript.Run(ctx, c.rdb, keys,
		ev.Experiment, ev.Alternative,
		values["id"], values["identity"], values["conversion"], values["timestamp_ms"],
	).Int64()
	if err != nil {
		return fmt.Errorf("failed to write conversion event to Redis: %w", err)
	}
	switch result {
	case -1:
		return fmt.Errorf("experiment %q: %w", ev.Experiment, ErrNotFound)
	case -2:
		return fmt.Errorf("experiment %q: %w", ev.Experiment, ErrNotLive)
	}

	if payload, err := json.Marshal(ev); err == nil {
		c.rdb.Publish(ctx, ConversionEventsChannel(c.namespace), payload)
	}

	return nil
}

// ConversionEvents returns up to limit events for an experiment, oldest first.
// A limit <= 0 returns the whole stream.
func (c *Client) ConversionEvents(ctx context.Context, experiment string, limit int64) ([]*ConversionEvent, error) {
	key := ConversionEventsKey(c.namespace, experiment)

	var (
		messages []redis.XMessage
		err      error
	)
	if limit > 0 {
		messages, err = c.rdb.XRangeN(ctx, key, "-", "+", limit).Result()
	} else {
		messages, err = c.rdb.XRange(ctx, key, "-", "+").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read conversion events from Redis: %w", err)
	}

	events := make([]*ConversionEvent, 0, len(messages))
	for _, msg := range messages {
		ev, err := ValuesToConversionEvent(msg.Values)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", msg.ID, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// Stats returns participant and conversion counters for an experiment.
func (c *Client) Stats(ctx context.Context, name string) (*Stats, error) {
	exp, err := c.GetExperiment(ctx, name)
	if err != nil {
		return nil, err
	}

	participants, err := c.readCounters(ctx, ParticipantsKey(c.namespace, name))
	if err != nil {
		return nil, fmt.Errorf("failed to read participants: %w", err)
	}
	conversions, err := c.readCounters(ctx, ConversionCountsKey(c.namespace, name))
	if err != nil {
		return nil, fmt.Errorf("failed to read conversions: %w", err)
	}

	return BuildStats(exp, participants, conversions), nil
}

func (c *Client) readCounters(ctx context.Context, key string) (map[string]int64, error) {
	raw, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	counters := make(map[string]int64, len(raw))
	for field, value := range raw {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", field, err)
		}
		counters[field] = n
	}
	return counters, nil
}

// Subscription represents an active Pub/Sub subscription to conversion events.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan *ConversionEvent
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of conversion events.
// The channel will be closed when the subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan *ConversionEvent {
	return s.events
}

// Errors returns the channel of subscription errors.
// The subscription continues after errors - messages are skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeConversionEvents subscribes to conversion events for this namespace.
// Context cancellation also stops the subscription.
//
// Events are delivered on a buffered channel (size 10). If the subscriber is
// too slow, events may be dropped by Redis Pub/Sub (at-most-once delivery).
func (c *Client) SubscribeConversionEvents(ctx context.Context) (*Subscription, error) {
	pubsub := c.rdb.Subscribe(ctx, ConversionEventsChannel(c.namespace))

	// Wait for the subscription to be confirmed so no event published after
	// this call returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to conversion events: %w", err)
	}

	eventsChan := make(chan *ConversionEvent, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var ev ConversionEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal conversion event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &ev:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// ChangeSubscription delivers the names of experiments created or changed by
// any process sharing the namespace. Caller must call Close() when done.
type ChangeSubscription struct {
	names  <-chan string
	cancel func()
	once   sync.Once
}

// Names returns the channel of changed experiment names.
// The channel will be closed when the subscription is closed or the context is cancelled.
func (s *ChangeSubscription) Names() <-chan string {
	return s.names
}

// Close stops the subscription. Safe to call multiple times.
func (s *ChangeSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeExperimentChanges subscribes to experiment creation and status
// changes for this namespace. Like conversion events, delivery is
// at-most-once.
func (c *Client) SubscribeExperimentChanges(ctx context.Context) (*ChangeSubscription, error) {
	pubsub := c.rdb.Subscribe(ctx, ExperimentChangesChannel(c.namespace))

	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to experiment changes: %w", err)
	}

	namesChan := make(chan string, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(namesChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case namesChan <- msg.Payload:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &ChangeSubscription{names: namesChan, cancel: cancelFunc}, nil
}

// IsNotFound returns true if the error means the experiment or assignment does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, redis.Nil)
}
