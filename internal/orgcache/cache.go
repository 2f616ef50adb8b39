// Package orgcache is a short-TTL read-through cache for the current
// organization record, which many independent UI surfaces request and the
// backend computes expensively.
//
// Concurrent misses collapse into one in-flight fetch shared by all waiters.
// Failed fetches are cached with the same TTL so repeated failures do not
// hammer the backend.
package orgcache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/opsdeck/opsdeck-go/internal/platform"
)

// DefaultTTL is how long a fetched organization record stays fresh.
const DefaultTTL = 15 * time.Second

type entry struct {
	org       *platform.Org
	err       error
	fetchedAt time.Time
}

// Fetcher retrieves the current organization. Satisfied by
// (*platform.Client).CurrentOrg.
type Fetcher func(ctx context.Context) (*platform.Org, error)

// Cache is the TTL + single-flight cache.
type Cache struct {
	fetch Fetcher
	ttl   time.Duration
	now   func() time.Time

	mu         sync.Mutex
	current    *entry
	generation uint64

	group singleflight.Group
}

// New creates a Cache over fetch with the default TTL.
func New(fetch Fetcher) *Cache {
	return &Cache{
		fetch: fetch,
		ttl:   DefaultTTL,
		now:   time.Now,
	}
}

// WithTTL overrides the TTL. Used in tests.
func (c *Cache) WithTTL(ttl time.Duration) *Cache {
	c.ttl = ttl
	return c
}

// Get returns the current organization, serving from cache while the entry
// is fresh and collapsing concurrent misses into one backend call.
func (c *Cache) Get(ctx context.Context) (*platform.Org, error) {
	c.mu.Lock()
	if e := c.current; e != nil && c.now().Sub(e.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return e.org, e.err
	}
	generation := c.generation
	c.mu.Unlock()

	v, err, _ := c.group.Do("current_org", func() (interface{}, error) {
		// The fetch serves every collapsed waiter and its outcome is cached
		// for the full TTL, so it must not die with whichever caller
		// happened to initiate it.
		org, err := c.fetch(context.WithoutCancel(ctx))
		e := &entry{org: org, err: err, fetchedAt: c.now()}

		c.mu.Lock()
		// An Invalidate during the fetch means this result belongs to a
		// session that is gone; serve it to the waiters but do not cache it.
		if c.generation == generation {
			c.current = e
		}
		c.mu.Unlock()

		// The fetch outcome, error included, is the cached value; the error
		// is returned through the entry rather than through singleflight.
		return e, nil
	})
	if err != nil {
		return nil, platform.WrapError(platform.KindUnknown, "org fetch panicked", err)
	}
	e := v.(*entry)
	return e.org, e.err
}

// Invalidate drops the cached entry. Called on every login, logout, and
// session-ended transition so stale org data never outlives the session
// that produced it.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.current = nil
	c.generation++
	c.mu.Unlock()
	c.group.Forget("current_org")
}
