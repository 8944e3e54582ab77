// Package placecache memoizes discovery results per query key with a fixed
// TTL, LRU eviction and single-flight loading.
package placecache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// LoadFunc computes the value for a key on a cache miss.
type LoadFunc[V any] func(ctx context.Context) (V, error)

// Backing is an optional shared tier consulted before LoadFunc. Entries carry
// their original creation time so a value never outlives the TTL.
type Backing interface {
	Get(ctx context.Context, key string) (payload []byte, createdAt time.Time, ok bool, err error)
	Set(ctx context.Context, key string, payload []byte, createdAt time.Time, ttl time.Duration) error
}

// Observer receives cache events, typically for metrics.
type Observer interface {
	CacheHit()
	CacheMiss()
	CacheEvict(reason string)
	CacheLoad(d time.Duration, err error)
}

// Cache is a concurrent-safe LRU cache with TTL expiration measured from
// entry creation. Concurrent misses for one key share a single load.
// Cached values are shared between callers and must not be mutated.
type Cache[V any] struct {
	mu         sync.Mutex
	entries    map[string]*entry[V]
	order      []string // LRU order: front=oldest, back=newest
	maxEntries int
	ttl        time.Duration

	group    singleflight.Group
	flights  map[string]*flight
	backing  Backing
	observer Observer
	now      func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	loads     atomic.Int64
}

// flight is the context shared by every caller waiting on one load. It is
// cancelled once the last waiter has gone, or when the load returns.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

type entry[V any] struct {
	value     V
	createdAt time.Time
}

// Stats contains cache performance statistics.
type Stats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	TTLSecs    float64 `json:"ttl_secs"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	Evictions  int64   `json:"evictions"`
	Loads      int64   `json:"loads"`
	HitRate    float64 `json:"hit_rate"`
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	backing  Backing
	observer Observer
	now      func() time.Time
}

// WithBacking adds a shared tier (e.g. Redis) behind the in-process map.
func WithBacking(b Backing) Option {
	return func(o *options) { o.backing = b }
}

// WithObserver registers an event observer.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a Cache with the given capacity and TTL.
func New[V any](maxEntries int, ttl time.Duration, opts ...Option) (*Cache[V], error) {
	if maxEntries <= 0 {
		return nil, eris.Errorf("placecache: max entries must be positive, got %d", maxEntries)
	}
	if ttl <= 0 {
		return nil, eris.Errorf("placecache: ttl must be positive, got %s", ttl)
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return &Cache[V]{
		entries:    make(map[string]*entry[V]),
		flights:    make(map[string]*flight),
		maxEntries: maxEntries,
		ttl:        ttl,
		backing:    o.backing,
		observer:   o.observer,
		now:        o.now,
	}, nil
}

// Get returns the live value for key, loading it with load on a miss or
// after expiry. The bool reports whether the value came from the in-process
// map. Failed loads are not cached.
//
// A shared load keeps running while at least one waiter is still interested,
// so one caller giving up does not fail the others. It is cancelled when the
// last waiter leaves.
func (c *Cache[V]) Get(ctx context.Context, key string, load LoadFunc[V]) (V, bool, error) {
	if v, ok := c.lookup(key); ok {
		c.hits.Add(1)
		c.notify(func(o Observer) { o.CacheHit() })
		return v, true, nil
	}
	c.misses.Add(1)
	c.notify(func(o Observer) { o.CacheMiss() })

	var zero V
	for attempt := 0; ; attempt++ {
		v, err := c.wait(ctx, key, load)
		if err == nil {
			return v, false, nil
		}
		// A flight this caller joined late can end with another caller's
		// cancellation. Try once more while our own context is live.
		if attempt == 0 && ctx.Err() == nil && isContextErr(err) {
			continue
		}
		return zero, false, err
	}
}

func (c *Cache[V]) wait(ctx context.Context, key string, load LoadFunc[V]) (V, error) {
	fl := c.join(ctx, key)
	defer c.leave(key, fl)

	ch := c.group.DoChan(key, func() (any, error) {
		defer c.land(key, fl)
		// Another flight may have stored the key between lookup and DoChan.
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		return c.load(fl.ctx, key, load)
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// join registers the caller as a waiter on the key's flight, starting one
// if none is in progress. The flight context keeps the caller's values but
// not its cancellation.
func (c *Cache[V]) join(ctx context.Context, key string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()

	fl, ok := c.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		fl = &flight{ctx: fctx, cancel: cancel}
		c.flights[key] = fl
	}
	fl.waiters++
	return fl
}

// leave drops one waiter and cancels the flight when none remain.
func (c *Cache[V]) leave(key string, fl *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fl.waiters--
	if fl.waiters > 0 {
		return
	}
	fl.cancel()
	if c.flights[key] == fl {
		delete(c.flights, key)
	}
}

// land retires a flight whose load has returned.
func (c *Cache[V]) land(key string, fl *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.flights[key] == fl {
		delete(c.flights, key)
	}
	fl.cancel()
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Cache[V]) load(ctx context.Context, key string, load LoadFunc[V]) (V, error) {
	log := zap.L().With(zap.String("component", "placecache"), zap.String("key", key))

	if v, createdAt, ok := c.fromBacking(ctx, key, log); ok {
		c.put(key, v, createdAt)
		return v, nil
	}

	start := c.now()
	v, err := load(ctx)
	c.loads.Add(1)
	c.notify(func(o Observer) { o.CacheLoad(c.now().Sub(start), err) })
	if err != nil {
		var zero V
		return zero, err
	}

	createdAt := c.now()
	c.put(key, v, createdAt)
	c.toBacking(ctx, key, v, createdAt, log)
	return v, nil
}

func (c *Cache[V]) fromBacking(ctx context.Context, key string, log *zap.Logger) (V, time.Time, bool) {
	var zero V
	if c.backing == nil {
		return zero, time.Time{}, false
	}

	payload, createdAt, ok, err := c.backing.Get(ctx, key)
	if err != nil {
		log.Warn("shared cache read failed", zap.Error(err))
		return zero, time.Time{}, false
	}
	if !ok || c.now().Sub(createdAt) >= c.ttl {
		return zero, time.Time{}, false
	}

	var v V
	if err := json.Unmarshal(payload, &v); err != nil {
		log.Warn("shared cache payload undecodable", zap.Error(err))
		return zero, time.Time{}, false
	}
	return v, createdAt, true
}

func (c *Cache[V]) toBacking(ctx context.Context, key string, v V, createdAt time.Time, log *zap.Logger) {
	if c.backing == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		log.Warn("shared cache encode failed", zap.Error(err))
		return
	}
	if err := c.backing.Set(ctx, key, payload, createdAt, c.ttl); err != nil {
		log.Warn("shared cache write failed", zap.Error(err))
	}
}

// lookup returns a live entry and marks it most recently used. Expired
// entries are removed.
func (c *Cache[V]) lookup(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}

	if !c.live(e) {
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.evicted("expired")
		return zero, false
	}

	c.removeFromOrder(key)
	c.order = append(c.order, key)
	return e.value, true
}

// put stores a value, replacing any previous entry wholesale and evicting the
// least recently used entries while at capacity.
func (c *Cache[V]) put(key string, v V, createdAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.entries[key] = &entry[V]{value: v, createdAt: createdAt}
		c.removeFromOrder(key)
		c.order = append(c.order, key)
		return
	}

	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
		c.evicted("capacity")
	}

	c.entries[key] = &entry[V]{value: v, createdAt: createdAt}
	c.order = append(c.order, key)
}

func (c *Cache[V]) live(e *entry[V]) bool {
	return c.now().Sub(e.createdAt) < c.ttl
}

func (c *Cache[V]) evicted(reason string) {
	c.evictions.Add(1)
	c.notify(func(o Observer) { o.CacheEvict(reason) })
}

func (c *Cache[V]) notify(fn func(Observer)) {
	if c.observer != nil {
		fn(c.observer)
	}
}

// Purge removes all expired entries and returns how many were dropped.
func (c *Cache[V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var remaining []string
	removed := 0
	for _, key := range c.order {
		if c.live(c.entries[key]) {
			remaining = append(remaining, key)
			continue
		}
		delete(c.entries, key)
		c.evicted("expired")
		removed++
	}
	c.order = remaining
	return removed
}

// Invalidate drops the entry for key, if any.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.removeFromOrder(key)
	}
}

// Len returns the number of stored entries, including expired ones not yet purged.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache performance statistics.
func (c *Cache[V]) Stats() Stats {
	entries := c.Len()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Entries:    entries,
		MaxEntries: c.maxEntries,
		TTLSecs:    c.ttl.Seconds(),
		Hits:       hits,
		Misses:     misses,
		Evictions:  c.evictions.Load(),
		Loads:      c.loads.Load(),
		HitRate:    hitRate,
	}
}

// removeFromOrder removes a key from the LRU order slice.
func (c *Cache[V]) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
