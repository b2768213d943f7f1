// Package cache memoizes responses of non idempotent requests so that a
// client retrying a request gets the original response back instead of
// executing the operation twice.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/elnosh/starknuts/cashu/nuts/nut19"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL      = 5 * time.Minute
	DefaultCapacity = 100_000
)

var ErrCacheFull = errors.New("request cache is full")

type Key struct {
	Route       nut19.Route
	Fingerprint [32]byte
}

func (k Key) String() string {
	return fmt.Sprintf("%v:%x", k.Route, k.Fingerprint)
}

type Cache struct {
	// serializes the capacity check with the insert
	mu       sync.Mutex
	entries  *expirable.LRU[Key, []byte]
	capacity int
	ttl      time.Duration
	group    singleflight.Group
}

func New(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries:  expirable.NewLRU[Key, []byte](capacity, nil, ttl),
		capacity: capacity,
		ttl:      ttl,
	}
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) Len() int {
	return c.entries.Len()
}

func (c *Cache) Get(key Key) ([]byte, bool) {
	return c.entries.Get(key)
}

// Put stores the response for key. It does not evict live entries
// to make room, a full cache returns ErrCacheFull instead.
func (c *Cache) Put(key Key, response []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.entries.Contains(key) && c.entries.Len() >= c.capacity {
		return ErrCacheFull
	}
	c.entries.Add(key, response)
	return nil
}

// Acknowledge drops the entry for key. It reports whether an entry was present.
func (c *Cache) Acknowledge(key Key) bool {
	return c.entries.Remove(key)
}

// Do returns the cached response for key or runs fn to produce it.
// Concurrent callers with the same key share a single execution of fn.
// Errors are returned to every waiting caller but never cached.
//
// fn runs with a context detached from the caller's cancellation so that
// a caller going away does not fail the execution the others wait on.
func (c *Cache) Do(ctx context.Context, key Key, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	if response, ok := c.Get(key); ok {
		return response, nil
	}

	detached := context.WithoutCancel(ctx)
	resultChan := c.group.DoChan(key.String(), func() (any, error) {
		if response, ok := c.Get(key); ok {
			return response, nil
		}

		response, err := fn(detached)
		if err != nil {
			return nil, err
		}

		// a full cache still returns the response, it is just not replayable
		_ = c.Put(key, response)
		return response, nil
	})

	select {
	case result := <-resultChan:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
