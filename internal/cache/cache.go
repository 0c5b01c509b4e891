// Package cache is the client's shared read cache: keyed entries with a
// staleness window, one in-flight fetch per key, prefix invalidation,
// optimistic patches that can be rolled back, and subscribers that are told
// about every new value of a key.
package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"sonar/internal/domain"
	applog "sonar/internal/log"
)

const (
	DefaultGCTime        = 10 * time.Minute
	DefaultRetry         = 2
	DefaultRetryDelay    = time.Second
	DefaultMaxRetryDelay = 30 * time.Second
)

// FetchFunc loads the value for a key.
type FetchFunc func(ctx context.Context) (any, error)

type Options struct {
	// Store defaults to a MemoryStore.
	Store Store
	// GCTime is how long an unobserved entry survives Sweep.
	GCTime time.Duration
	// Retry is the number of extra attempts a failed fetch gets. Zero means
	// DefaultRetry, negative disables retries.
	Retry         int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	// RefetchInterval polls subscribed keys when > 0.
	RefetchInterval time.Duration
	Now             func() time.Time
}

type Cache struct {
	store         Store
	gcTime        time.Duration
	retry         int
	retryDelay    time.Duration
	maxRetryDelay time.Duration
	refetchEvery  time.Duration
	now           func() time.Time

	group singleflight.Group

	// mu guards flights and subs and serializes writes to the store.
	// flights holds the token of the call currently allowed to store each
	// key; a key without a token has no attached call in group.
	mu      sync.Mutex
	seq     uint64
	flights map[string]uint64
	subs    map[string][]*Subscription
}

func New(opts Options) *Cache {
	c := &Cache{
		store:         opts.Store,
		gcTime:        opts.GCTime,
		retry:         opts.Retry,
		retryDelay:    opts.RetryDelay,
		maxRetryDelay: opts.MaxRetryDelay,
		refetchEvery:  opts.RefetchInterval,
		now:           opts.Now,
		flights:       map[string]uint64{},
		subs:          map[string][]*Subscription{},
	}
	if c.store == nil {
		c.store = NewMemoryStore()
	}
	if c.gcTime <= 0 {
		c.gcTime = DefaultGCTime
	}
	switch {
	case c.retry == 0:
		c.retry = DefaultRetry
	case c.retry < 0:
		c.retry = 0
	}
	if c.retryDelay <= 0 {
		c.retryDelay = DefaultRetryDelay
	}
	if c.maxRetryDelay <= 0 {
		c.maxRetryDelay = DefaultMaxRetryDelay
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Get returns the stored entry for key, fresh or not.
func (c *Cache) Get(ctx context.Context, key string) (Entry, bool) {
	e, ok, err := c.store.Get(ctx, key)
	if err != nil {
		applog.Warn(nil, "cache.get", err, map[string]any{"key": key})
		return Entry{}, false
	}
	return e, ok
}

// Set stores value as a fresh entry and tells subscribers. A fetch of the
// same key that is still running will not overwrite it.
func (c *Cache) Set(ctx context.Context, key string, value any, staleTime time.Duration) {
	c.mu.Lock()
	c.detachLocked(key)
	c.put(ctx, key, Entry{Value: value, FetchedAt: c.now(), StaleTime: staleTime})
	subs := c.subscribersLocked(key)
	c.mu.Unlock()
	notify(subs, value, nil)
}

// InFlight reports whether a fetch for key is running.
func (c *Cache) InFlight(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.flights[key]
	return ok
}

// Fetch returns the entry for key when it is fresh. Otherwise it runs fn,
// sharing one run between all concurrent callers of the same key. The run is
// not tied to ctx: a caller that gives up leaves it to finish for the others.
func (c *Cache) Fetch(ctx context.Context, key string, staleTime time.Duration, fn FetchFunc) (any, error) {
	if e, ok := c.Get(ctx, key); ok && e.Fresh(c.now()) {
		return e.Value, nil
	}
	return c.join(ctx, key, staleTime, fn, true)
}

// join attaches to the running call for key or starts one. With onlyIfStale
// the entry is checked again under mu, since a call that finished after the
// caller's first look has already stored a fresh value.
func (c *Cache) join(ctx context.Context, key string, staleTime time.Duration, fn FetchFunc, onlyIfStale bool) (any, error) {
	c.mu.Lock()
	if onlyIfStale {
		if e, ok := c.Get(ctx, key); ok && e.Fresh(c.now()) {
			c.mu.Unlock()
			return e.Value, nil
		}
	}
	tok, ok := c.flights[key]
	if !ok {
		c.seq++
		tok = c.seq
		c.flights[key] = tok
		// a finished call may still sit in group until its goroutine returns
		c.group.Forget(key)
	}
	runCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return c.run(runCtx, key, staleTime, tok, fn)
	})
	c.mu.Unlock()

	select {
	case r := <-ch:
		return r.Val, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run stores the result only if tok is still the current call for key.
// Invalidate, Set and Remove detach running calls, so a result that started
// before them answers its own callers and is otherwise dropped.
func (c *Cache) run(ctx context.Context, key string, staleTime time.Duration, tok uint64, fn FetchFunc) (any, error) {
	val, err := c.attempt(ctx, key, fn)

	var subs []*Subscription
	c.mu.Lock()
	if cur, ok := c.flights[key]; ok && cur == tok {
		delete(c.flights, key)
		if err == nil {
			c.put(ctx, key, Entry{Value: val, FetchedAt: c.now(), StaleTime: staleTime})
		}
		subs = c.subscribersLocked(key)
	} else {
		applog.Debug("cache.fetch.discarded", map[string]any{"key": key})
	}
	c.mu.Unlock()

	notify(subs, val, err)
	return val, err
}

// detachLocked lets a later join start a new call for key. The running call
// keeps its callers but can no longer store.
func (c *Cache) detachLocked(key string) {
	if _, ok := c.flights[key]; ok {
		delete(c.flights, key)
		c.group.Forget(key)
	}
}

func (c *Cache) detachPrefixLocked(prefix string) {
	for k := range c.flights {
		if strings.HasPrefix(k, prefix) {
			c.detachLocked(k)
		}
	}
}

func (c *Cache) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryDelay
	b.MaxInterval = c.maxRetryDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.retry)), ctx)
}

func (c *Cache) attempt(ctx context.Context, key string, fn FetchFunc) (any, error) {
	attempts := 0
	return backoff.RetryNotifyWithData(func() (any, error) {
		attempts++
		v, err := fn(ctx)
		if err != nil && !Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, c.backOff(ctx), func(err error, wait time.Duration) {
		applog.Debug("cache.fetch.retry", map[string]any{"key": key, "attempt": attempts, "wait_ms": wait.Milliseconds(), "err": err.Error()})
	})
}

// Retryable reports whether a failed read is worth another attempt.
// Rejected input, missing rows, auth failures and cancellation are final.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrAuth):
		return false
	}
	return true
}

// Invalidate marks every entry under prefix stale and detaches running
// fetches for those keys. Subscribed keys are refetched right away.
func (c *Cache) Invalidate(ctx context.Context, prefix string) {
	c.mu.Lock()
	c.detachPrefixLocked(prefix)
	keys, err := c.store.Keys(ctx, prefix)
	if err != nil {
		applog.Warn(nil, "cache.invalidate", err, map[string]any{"prefix": prefix})
	}
	for _, k := range keys {
		e, ok := c.Get(ctx, k)
		if !ok || e.Invalidated {
			continue
		}
		e.Invalidated = true
		c.put(ctx, k, e)
	}
	var refetch []*Subscription
	for k, subs := range c.subs {
		if strings.HasPrefix(k, prefix) && len(subs) > 0 {
			// one refetch per key; the others receive its result
			refetch = append(refetch, subs[0])
		}
	}
	c.mu.Unlock()

	for _, s := range refetch {
		go s.refetch()
	}
}

// Remove drops every entry under prefix and detaches running fetches.
func (c *Cache) Remove(ctx context.Context, prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detachPrefixLocked(prefix)
	keys, err := c.store.Keys(ctx, prefix)
	if err != nil {
		applog.Warn(nil, "cache.remove", err, map[string]any{"prefix": prefix})
		return
	}
	if err := c.store.Delete(ctx, keys...); err != nil {
		applog.Warn(nil, "cache.remove", err, map[string]any{"prefix": prefix})
	}
}

// Clear empties the cache.
func (c *Cache) Clear(ctx context.Context) { c.Remove(ctx, "") }

type patched struct {
	key  string
	prev Entry
	at   time.Time
}

// Snapshot remembers the entries a Patch replaced.
type Snapshot struct{ items []patched }

// Len is the number of entries the patch changed.
func (s Snapshot) Len() int { return len(s.items) }

// Patch rewrites the value of every entry under prefix for which fn reports
// a change. Entries keep their fetch time, so a later refetch is
// recognisable by Restore.
func (c *Cache) Patch(ctx context.Context, prefix string, fn func(key string, v any) (any, bool)) Snapshot {
	var snap Snapshot
	type update struct {
		subs []*Subscription
		v    any
	}
	var updates []update

	c.mu.Lock()
	keys, err := c.store.Keys(ctx, prefix)
	if err != nil {
		applog.Warn(nil, "cache.patch", err, map[string]any{"prefix": prefix})
	}
	for _, k := range keys {
		e, ok := c.Get(ctx, k)
		if !ok {
			continue
		}
		nv, changed := fn(k, e.Value)
		if !changed {
			continue
		}
		ne := e
		ne.Value = nv
		c.put(ctx, k, ne)
		snap.items = append(snap.items, patched{key: k, prev: e, at: e.FetchedAt})
		updates = append(updates, update{subs: c.subscribersLocked(k), v: nv})
	}
	c.mu.Unlock()

	for _, u := range updates {
		notify(u.subs, u.v, nil)
	}
	return snap
}

// Restore puts back what Patch replaced, skipping entries that were
// refetched or set since. An invalidation that happened in between is kept.
func (c *Cache) Restore(ctx context.Context, snap Snapshot) {
	type update struct {
		subs []*Subscription
		v    any
	}
	var updates []update

	c.mu.Lock()
	for _, it := range snap.items {
		cur, ok := c.Get(ctx, it.key)
		if !ok || !cur.FetchedAt.Equal(it.at) {
			continue
		}
		e := it.prev
		e.Invalidated = e.Invalidated || cur.Invalidated
		c.put(ctx, it.key, e)
		updates = append(updates, update{subs: c.subscribersLocked(it.key), v: e.Value})
	}
	c.mu.Unlock()

	for _, u := range updates {
		notify(u.subs, u.v, nil)
	}
}

// Sweep drops entries nobody subscribes to once they are older than the GC
// time. It returns the number of entries removed.
func (c *Cache) Sweep(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, err := c.store.Keys(ctx, "")
	if err != nil {
		applog.Warn(nil, "cache.sweep", err, nil)
		return 0
	}
	now := c.now()
	var drop []string
	for _, k := range keys {
		if len(c.subs[k]) > 0 {
			continue
		}
		if _, running := c.flights[k]; running {
			continue
		}
		e, ok := c.Get(ctx, k)
		if ok && now.Sub(e.FetchedAt) <= c.gcTime {
			continue
		}
		drop = append(drop, k)
	}
	if err := c.store.Delete(ctx, drop...); err != nil {
		applog.Warn(nil, "cache.sweep", err, nil)
		return 0
	}
	return len(drop)
}

// RunJanitor sweeps every interval until ctx is done.
func (c *Cache) RunJanitor(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := c.Sweep(ctx); n > 0 {
				applog.Debug("cache.sweep", map[string]any{"removed": n})
			}
		}
	}
}

func (c *Cache) put(ctx context.Context, key string, e Entry) {
	if err := c.store.Set(ctx, key, e); err != nil {
		applog.Warn(nil, "cache.set", err, map[string]any{"key": key})
	}
}

func (c *Cache) subscribersLocked(key string) []*Subscription {
	subs := c.subs[key]
	if len(subs) == 0 {
		return nil
	}
	return append([]*Subscription(nil), subs...)
}

func notify(subs []*Subscription, v any, err error) {
	for _, s := range subs {
		s.deliver(v, err)
	}
}
