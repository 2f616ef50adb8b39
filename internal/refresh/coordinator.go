// Package refresh coordinates access-token refresh on behalf of every
// concurrent caller in the process.
//
// The Coordinator guarantees that at most one refresh network call is
// outstanding at any instant: the first caller installs an attempt slot
// under the mutex, later callers wait on that attempt's done channel and
// share its result. A failed refresh arms a cooldown during which Refresh
// returns false without touching the network.
package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/opsdeck/opsdeck-go/internal/log"
	"github.com/opsdeck/opsdeck-go/internal/platform"
	"github.com/opsdeck/opsdeck-go/internal/token"
)

// DefaultCooldown is how long the coordinator refuses to retry after a
// failed refresh.
const DefaultCooldown = 30 * time.Second

// attempt is the one in-flight slot. done is closed when the network call
// completes; ok is valid only after done is closed.
type attempt struct {
	done chan struct{}
	ok   bool
}

// Coordinator is the single-flight, cooldown-throttled refresh orchestrator.
type Coordinator struct {
	store  *token.Store
	client *platform.Client
	logger *log.Logger

	cooldown time.Duration
	now      func() time.Time

	mu            sync.Mutex
	inflight      *attempt
	cooldownUntil time.Time

	endedMu   sync.Mutex
	endedSubs []chan struct{}
}

// NewCoordinator creates a Coordinator. The client must reach the refresh
// endpoint without going through the token-attaching transport, otherwise a
// 401 on refresh would recurse back into the coordinator.
func NewCoordinator(store *token.Store, client *platform.Client, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.DefaultLogger()
	}
	return &Coordinator{
		store:    store,
		client:   client,
		logger:   logger,
		cooldown: DefaultCooldown,
		now:      time.Now,
	}
}

// WithCooldown overrides the failure cooldown. Used in tests.
func (c *Coordinator) WithCooldown(d time.Duration) *Coordinator {
	c.cooldown = d
	return c
}

// SessionEnded returns a channel that receives a signal when a refresh is
// definitively denied and the session is over. Each subscriber gets its own
// buffered channel; a slow subscriber drops signals rather than blocking
// the coordinator.
func (c *Coordinator) SessionEnded() <-chan struct{} {
	c.endedMu.Lock()
	defer c.endedMu.Unlock()

	ch := make(chan struct{}, 1)
	c.endedSubs = append(c.endedSubs, ch)
	return ch
}

func (c *Coordinator) signalSessionEnded() {
	c.endedMu.Lock()
	defer c.endedMu.Unlock()

	for _, ch := range c.endedSubs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Refresh obtains a fresh access token if one can be had. It returns true
// when the caller may re-read the token store for a fresh token. With no
// existing token there is nothing to refresh and it returns false without a
// network call.
func (c *Coordinator) Refresh(ctx context.Context) bool {
	if _, ok := c.store.Get(); !ok {
		return false
	}
	return c.refresh(ctx)
}

// RefreshSilent is the bootstrap variant: it attempts a refresh even when no
// token is held locally, covering refresh-credential-in-cookie flows where
// the access token was never persisted.
func (c *Coordinator) RefreshSilent(ctx context.Context) bool {
	return c.refresh(ctx)
}

func (c *Coordinator) refresh(ctx context.Context) bool {
	c.mu.Lock()

	if c.now().Before(c.cooldownUntil) {
		c.mu.Unlock()
		return false
	}

	if a := c.inflight; a != nil {
		// Single-flight: share the outstanding attempt.
		c.mu.Unlock()
		<-a.done
		return a.ok
	}

	// Install the slot before releasing the mutex so every caller arriving
	// from here on observes this attempt, not a gap.
	a := &attempt{done: make(chan struct{})}
	c.inflight = a
	generation := c.store.Generation()
	c.mu.Unlock()

	a.ok = c.execute(ctx, generation)

	c.mu.Lock()
	c.inflight = nil
	if a.ok {
		c.cooldownUntil = time.Time{}
	} else {
		c.cooldownUntil = c.now().Add(c.cooldown)
	}
	c.mu.Unlock()

	close(a.done)
	return a.ok
}

// execute performs the network call and applies the result. Returns true
// only when a fresh token was stored.
func (c *Coordinator) execute(ctx context.Context, generation uint64) bool {
	resp, err := c.client.Refresh(ctx)
	if err != nil {
		if platform.IsKind(err, platform.KindRefreshDenied) {
			c.logger.Warn("refresh denied, ending session", "error", err.Error())
			c.store.Clear()
			c.signalSessionEnded()
			return false
		}
		// Transient: keep the session, back off.
		c.logger.Warn("refresh failed", "error", err.Error())
		return false
	}

	prev, _ := c.store.Get()
	applied := c.store.SetIfGeneration(token.Token{
		AccessToken: resp.AccessToken,
		ExpiresAt:   resp.ExpiresAt(c.now()),
		Email:       prev.Email,
	}, generation)
	if !applied {
		// The session this refresh was issued against is gone (logout or a
		// new login raced us). Discard the result.
		c.logger.Debug("discarding refresh result for stale session generation")
		return false
	}
	c.logger.Debug("access token refreshed")
	return true
}
