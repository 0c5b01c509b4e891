package cache

import (
	"context"
	"sync"
	"time"
)

// Subscription delivers every new value of one key until Unsubscribe.
type Subscription struct {
	c         *Cache
	key       string
	staleTime time.Duration
	fetch     FetchFunc

	mu      sync.Mutex
	active  bool
	onValue func(any, error)

	stopOnce sync.Once
	stop     chan struct{}
}

// Subscribe registers onValue for key. fn is used to refetch the key after
// an invalidation and, when a refetch interval is configured, on every tick.
// onValue runs on the goroutine that produced the value and must not call
// Unsubscribe.
func (c *Cache) Subscribe(key string, staleTime time.Duration, fn FetchFunc, onValue func(any, error)) *Subscription {
	s := &Subscription{
		c:         c,
		key:       key,
		staleTime: staleTime,
		fetch:     fn,
		active:    true,
		onValue:   onValue,
		stop:      make(chan struct{}),
	}
	c.mu.Lock()
	c.subs[key] = append(c.subs[key], s)
	c.mu.Unlock()

	if c.refetchEvery > 0 {
		go s.poll(c.refetchEvery)
	}
	return s
}

// Key is the subscribed cache key.
func (s *Subscription) Key() string { return s.key }

// Unsubscribe stops deliveries. Values produced after it returns are never
// passed to onValue.
func (s *Subscription) Unsubscribe() {
	c := s.c
	c.mu.Lock()
	subs := c.subs[s.key]
	for i, x := range subs {
		if x == s {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(c.subs, s.key)
	} else {
		c.subs[s.key] = subs
	}
	c.mu.Unlock()

	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Subscription) deliver(v any, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.onValue(v, err)
	}
}

func (s *Subscription) refetch() {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if !active {
		return
	}
	// the result reaches subscribers through run
	_, _ = s.c.join(context.Background(), s.key, s.staleTime, s.fetch, false)
}

func (s *Subscription) poll(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.refetch()
		}
	}
}
