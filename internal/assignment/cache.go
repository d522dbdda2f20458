package assignment

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dyluth/bingo/pkg/ledger"
	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/sync/singleflight"
)

// Store is the durable side of the cache. Assign must be a compare-and-set
// that returns the first committed alternative for the pair.
type Store interface {
	Assign(ctx context.Context, identity, experiment, alternative string) (string, bool, error)
	LookupAssignment(ctx context.Context, identity, experiment string) (string, error)
}

// FlightTimeout bounds a shared store round trip. The flight runs detached
// from any one caller so a cancelled request does not fail the others
// waiting on it.
const FlightTimeout = 5 * time.Second

// Assignment is the outcome of GetOrAssign.
type Assignment struct {
	Value     string // Canonical JSON of the alternative
	Committed bool   // True only for the call that wrote the assignment
}

// Cache memoizes assignments in front of the store.
//
// The memo is only an accelerator: the store's compare-and-set decides every
// first assignment, and concurrent first requests for the same pair in this
// process share a single store round trip.
type Cache struct {
	store   Store
	chooser Chooser
	memo    *xsync.Map[string, string]
	limit   int
	group   singleflight.Group
}

// NewCache creates an assignment cache. A limit <= 0 leaves the memo unbounded.
func NewCache(store Store, chooser Chooser, limit int) *Cache {
	return &Cache{
		store:   store,
		chooser: chooser,
		memo:    xsync.NewMap[string, string](),
		limit:   limit,
	}
}

// flight carries a shared result; exactly one sharer may claim the commit.
type flight struct {
	value     string
	committed bool
	claimed   atomic.Bool
}

// GetOrAssign returns identity's alternative for e, assigning one if needed.
// Every caller for the same pair observes the same value, and at most one
// call in the whole system reports Committed.
func (c *Cache) GetOrAssign(ctx context.Context, identity string, e *ledger.Experiment) (Assignment, error) {
	key := memoKey(identity, e.Name)
	if v, ok := c.memo.Load(key); ok {
		return Assignment{Value: v}, nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		if v, ok := c.memo.Load(key); ok {
			return &flight{value: v}, nil
		}

		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), FlightTimeout)
		defer cancel()

		proposed := c.chooser.Choose(e, identity)
		winner, committed, err := c.store.Assign(flightCtx, identity, e.Name, proposed.Key())
		if err != nil {
			return nil, err
		}

		c.remember(key, winner)
		return &flight{value: winner, committed: committed}, nil
	})

	var res interface{}
	select {
	case <-ctx.Done():
		return Assignment{}, fmt.Errorf("failed to assign %s/%s: %w", identity, e.Name, ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return Assignment{}, fmt.Errorf("failed to assign %s/%s: %w", identity, e.Name, r.Err)
		}
		res = r.Val
	}

	f, ok := res.(*flight)
	if !ok {
		return Assignment{}, fmt.Errorf("unexpected type from assignment flight: got %T", res)
	}

	return Assignment{
		Value:     f.value,
		Committed: f.committed && f.claimed.CompareAndSwap(false, true),
	}, nil
}

// Lookup returns identity's alternative for experiment without creating one.
// The bool is false when the identity is not enrolled.
func (c *Cache) Lookup(ctx context.Context, identity, experiment string) (string, bool, error) {
	key := memoKey(identity, experiment)
	if v, ok := c.memo.Load(key); ok {
		return v, true, nil
	}

	v, err := c.store.LookupAssignment(ctx, identity, experiment)
	if err != nil {
		if ledger.IsNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}

	c.remember(key, v)
	return v, true, nil
}

// Len returns the number of memoized assignments.
func (c *Cache) Len() int {
	return c.memo.Size()
}

func (c *Cache) remember(key, value string) {
	if c.limit > 0 && c.memo.Size() >= c.limit {
		c.memo.Clear()
	}
	c.memo.Store(key, value)
}

func memoKey(identity, experiment string) string {
	return identity + "\x00" + experiment
}
