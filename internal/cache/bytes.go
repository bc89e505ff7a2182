package cache

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ByteStore caches raw upstream response bytes. Providers use it so repeated
// price-history queries inside one analysis window do not re-hit the
// external API.
type ByteStore interface {
	Get(key string) ([]byte, bool)
	Set(key string, val []byte, ttl time.Duration)
}

type memoryBytes struct {
	mu sync.Mutex
	m  map[string]byteEntry
}

type byteEntry struct {
	b   []byte
	exp time.Time
}

// NewByteStore returns an in-process ByteStore.
func NewByteStore() ByteStore { return &memoryBytes{m: make(map[string]byteEntry)} }

func (c *memoryBytes) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok || (!e.exp.IsZero() && time.Now().After(e.exp)) {
		return nil, false
	}
	return e.b, true
}

func (c *memoryBytes) Set(key string, val []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := byteEntry{b: append([]byte(nil), val...)}
	if ttl > 0 {
		e.exp = time.Now().Add(ttl)
	}
	c.m[key] = e
}

// redisBytes backs ByteStore with Redis so provider responses are shared
// across instances.
type redisBytes struct{ r *redis.Client }

// NewByteStoreAuto returns a Redis-backed store when addr is non-empty,
// otherwise an in-process one.
func NewByteStoreAuto(addr string) ByteStore {
	if addr != "" {
		return &redisBytes{r: redis.NewClient(&redis.Options{Addr: addr})}
	}
	return NewByteStore()
}

func (r *redisBytes) Get(key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	v, err := r.r.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return v, true
}

func (r *redisBytes) Set(key string, val []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = r.r.Set(ctx, key, val, ttl).Err()
}
