package refresh

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/opsdeck-go/internal/platform"
	"github.com/opsdeck/opsdeck-go/internal/token"
)

// newTestServer starts an HTTP server bound to IPv4-only loopback so tests work
// inside restricted sandboxes that forbid IPv6 listeners.
func newTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("unable to start test server: %v", err)
	}

	server := &httptest.Server{
		Listener: listener,
		Config:   &http.Server{Handler: handler},
	}
	server.Start()
	t.Cleanup(server.Close)
	return server
}

func newCoordinator(t *testing.T, handler http.Handler) (*Coordinator, *token.Store) {
	t.Helper()

	server := newTestServer(t, handler)
	store := token.NewMemoryStore()
	client := platform.NewClient(server.URL, nil)
	return NewCoordinator(store, client, nil), store
}

func TestRefreshSuccess(t *testing.T) {
	coord, store := newCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(platform.LoginResponse{AccessToken: "tok-new", ExpiresIn: 900})
	}))
	store.Set(token.Token{AccessToken: "tok-old", Email: "a@b.com"})

	require.True(t, coord.Refresh(context.Background()))

	got, ok := store.Get()
	require.True(t, ok)
	assert.Equal(t, "tok-new", got.AccessToken)
	// The email travels across refreshes.
	assert.Equal(t, "a@b.com", got.Email)
	assert.False(t, got.ExpiresAt.IsZero())
}

func TestRefreshWithoutTokenShortCircuits(t *testing.T) {
	var calls int32
	coord, _ := newCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))

	assert.False(t, coord.Refresh(context.Background()))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestRefreshSilentWorksWithoutToken(t *testing.T) {
	coord, store := newCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(platform.LoginResponse{AccessToken: "tok-silent", ExpiresIn: 900})
	}))

	require.True(t, coord.RefreshSilent(context.Background()))

	got, ok := store.Get()
	require.True(t, ok)
	assert.Equal(t, "tok-silent", got.AccessToken)
}

func TestSingleFlight(t *testing.T) {
	const waiters = 8

	var calls int32
	release := make(chan struct{})
	coord, store := newCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release
		json.NewEncoder(w).Encode(platform.LoginResponse{AccessToken: "tok-new", ExpiresIn: 900})
	}))
	store.Set(token.Token{AccessToken: "tok-old"})

	results := make(chan bool, waiters)
	var started sync.WaitGroup
	started.Add(waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			started.Done()
			results <- coord.Refresh(context.Background())
		}()
	}

	// Let every goroutine reach the coordinator before the network call is
	// allowed to complete.
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(release)

	for i := 0; i < waiters; i++ {
		assert.True(t, <-results)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls),
		"concurrent refreshes must collapse into one network call")
}

func TestCooldownAfterFailure(t *testing.T) {
	var calls int32
	coord, store := newCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	store.Set(token.Token{AccessToken: "tok-old"})

	assert.False(t, coord.Refresh(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// Inside the cooldown: no further network calls, immediate false.
	assert.False(t, coord.Refresh(context.Background()))
	assert.False(t, coord.Refresh(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// A transient failure never clears the session.
	_, ok := store.Get()
	assert.True(t, ok)
}

func TestCooldownExpires(t *testing.T) {
	var calls int32
	coord, store := newCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	store.Set(token.Token{AccessToken: "tok-old"})

	now := time.Now()
	coord.now = func() time.Time { return now }

	assert.False(t, coord.Refresh(context.Background()))

	// Advance past the cooldown; the next call goes to the network again.
	now = now.Add(DefaultCooldown + time.Second)
	assert.False(t, coord.Refresh(context.Background()))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRefreshDeniedEndsSession(t *testing.T) {
	var calls int32
	coord, store := newCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	store.Set(token.Token{AccessToken: "tok-old"})

	ended := coord.SessionEnded()

	assert.False(t, coord.Refresh(context.Background()))

	// The session is definitively over: token cleared, subscribers told.
	_, ok := store.Get()
	assert.False(t, ok)
	select {
	case <-ended:
	default:
		t.Fatal("expected session-ended signal")
	}

	// And the cooldown keeps further 401 storms off the refresh endpoint.
	assert.False(t, coord.Refresh(context.Background()))
	assert.False(t, coord.RefreshSilent(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestStaleRefreshResultDiscarded(t *testing.T) {
	inHandler := make(chan struct{})
	release := make(chan struct{})
	coord, store := newCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(inHandler)
		<-release
		json.NewEncoder(w).Encode(platform.LoginResponse{AccessToken: "tok-resurrected", ExpiresIn: 900})
	}))
	store.Set(token.Token{AccessToken: "tok-old"})

	done := make(chan bool)
	go func() { done <- coord.Refresh(context.Background()) }()

	// The user logs out while the refresh is on the wire.
	<-inHandler
	store.Clear()
	close(release)

	// The refresh completes but must not resurrect the terminated session.
	assert.False(t, <-done)
	_, ok := store.Get()
	assert.False(t, ok)
}

func TestLogoutDuringSilentRefreshDiscardsResult(t *testing.T) {
	inHandler := make(chan struct{})
	release := make(chan struct{})
	coord, store := newCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(inHandler)
		<-release
		json.NewEncoder(w).Encode(platform.LoginResponse{AccessToken: "tok-resurrected", ExpiresIn: 900})
	}))

	// The store has seen a session before and is empty now, as after an
	// earlier login and logout.
	store.Set(token.Token{AccessToken: "tok-old"})
	store.Clear()

	done := make(chan bool)
	go func() { done <- coord.RefreshSilent(context.Background()) }()

	// A logout lands while the silent refresh is on the wire.
	<-inHandler
	store.Clear()
	close(release)

	assert.False(t, <-done)
	_, ok := store.Get()
	assert.False(t, ok)
}

func TestSessionEndedSubscriberDoesNotBlock(t *testing.T) {
	coord, store := newCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	store.Set(token.Token{AccessToken: "tok-old"})

	// Nobody ever reads this subscription.
	_ = coord.SessionEnded()

	done := make(chan struct{})
	go func() {
		coord.Refresh(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("refresh blocked on an unread session-ended subscriber")
	}
}
