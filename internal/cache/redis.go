package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decoder turns a stored JSON value back into the type the fetcher returned.
type Decoder func(data []byte) (any, error)

// DecodeJSON returns a Decoder producing T values.
func DecodeJSON[T any]() Decoder {
	return func(data []byte) (any, error) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

type envelope struct {
	Value       json.RawMessage `json:"v"`
	FetchedAt   time.Time       `json:"fetched_at"`
	StaleTime   time.Duration   `json:"stale_time"`
	Invalidated bool            `json:"invalidated,omitempty"`
}

// RedisStore shares entries between processes. Values are JSON encoded, so
// every key prefix must have a Decoder registered before it is read.
type RedisStore struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration

	mu       sync.RWMutex
	decoders map[string]Decoder
}

// NewRedisStore stores keys under namespace with the given expiry (0 keeps
// them until deleted). A ':' is appended to the namespace when missing so a
// prefix scan never reaches keys of another application sharing the server.
func NewRedisStore(client *redis.Client, namespace string, ttl time.Duration) *RedisStore {
	if namespace != "" && !strings.HasSuffix(namespace, ":") {
		namespace += ":"
	}
	return &RedisStore{client: client, namespace: namespace, ttl: ttl, decoders: map[string]Decoder{}}
}

// Namespace is the prefix every stored key carries.
func (s *RedisStore) Namespace() string { return s.namespace }

// Register sets the decoder for keys starting with prefix. The longest
// matching prefix wins.
func (s *RedisStore) Register(prefix string, d Decoder) {
	s.mu.Lock()
	s.decoders[prefix] = d
	s.mu.Unlock()
}

func (s *RedisStore) decoder(key string) (Decoder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	best, found := "", false
	var d Decoder
	for p, fn := range s.decoders {
		if strings.HasPrefix(key, p) && (!found || len(p) > len(best)) {
			best, d, found = p, fn, true
		}
	}
	return d, found
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := s.client.Get(ctx, s.namespace+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Entry{}, false, fmt.Errorf("cache entry %s: %w", key, err)
	}
	dec, ok := s.decoder(key)
	if !ok {
		return Entry{}, false, fmt.Errorf("cache entry %s: no decoder registered", key)
	}
	v, err := dec(env.Value)
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache entry %s: %w", key, err)
	}
	return Entry{Value: v, FetchedAt: env.FetchedAt, StaleTime: env.StaleTime, Invalidated: env.Invalidated}, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, e Entry) error {
	v, err := json.Marshal(e.Value)
	if err != nil {
		return fmt.Errorf("cache entry %s: %w", key, err)
	}
	raw, err := json.Marshal(envelope{Value: v, FetchedAt: e.FetchedAt, StaleTime: e.StaleTime, Invalidated: e.Invalidated})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.namespace+key, raw, s.ttl).Err()
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	pattern := globEscaper.Replace(s.namespace+prefix) + "*"
	var out []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), s.namespace))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	// SCAN may return a key more than once
	return dedupSorted(out), nil
}

func dedupSorted(keys []string) []string {
	if len(keys) < 2 {
		return keys
	}
	out := keys[:1]
	for _, k := range keys[1:] {
		if k != out[len(out)-1] {
			out = append(out, k)
		}
	}
	return out
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.namespace + k
	}
	return s.client.Del(ctx, full...).Err()
}
