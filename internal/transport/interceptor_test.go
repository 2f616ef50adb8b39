package transport

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/opsdeck-go/internal/platform"
	"github.com/opsdeck/opsdeck-go/internal/refresh"
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

// fixture wires an interceptor against two servers: one playing the business
// API, one playing the auth backend for the refresh coordinator.
type fixture struct {
	store        *token.Store
	client       *http.Client
	apiURL       string
	refreshCalls *int32
}

func newFixture(t *testing.T, api http.HandlerFunc, refreshHandler http.HandlerFunc) *fixture {
	t.Helper()

	var refreshCalls int32
	authServer := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshCalls, 1)
		refreshHandler(w, r)
	}))
	apiServer := newTestServer(t, api)

	store := token.NewMemoryStore()
	coord := refresh.NewCoordinator(store, platform.NewClient(authServer.URL, nil), nil)
	interceptor := NewInterceptor(nil, store, coord, nil)

	return &fixture{
		store:        store,
		client:       interceptor.Client(),
		apiURL:       apiServer.URL,
		refreshCalls: &refreshCalls,
	}
}

func okRefresh(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(platform.LoginResponse{AccessToken: "tok-fresh", ExpiresIn: 900})
}

func TestAttachesBearerToken(t *testing.T) {
	var gotAuth, gotRequestID string
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get("X-Request-Id")
	}))

	store := token.NewMemoryStore()
	store.Set(token.Token{AccessToken: "tok-1"})
	coord := refresh.NewCoordinator(store, platform.NewClient(server.URL, nil), nil)
	client := NewInterceptor(nil, store, coord, nil).Client()

	resp, err := client.Get(server.URL + "/tasks")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.NotEmpty(t, gotRequestID)
}

func TestUnauthenticatedRequestsGoOutBare(t *testing.T) {
	var gotAuth string
	var sawHeader bool
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, sawHeader = r.Header["Authorization"]
	}))

	store := token.NewMemoryStore()
	coord := refresh.NewCoordinator(store, platform.NewClient(server.URL, nil), nil)
	client := NewInterceptor(nil, store, coord, nil).Client()

	resp, err := client.Get(server.URL + "/public")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Empty(t, gotAuth)
	assert.False(t, sawHeader)
}

func TestRefreshAndRetryOn401(t *testing.T) {
	var apiCalls int32
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&apiCalls, 1)
		if n == 1 {
			assert.Equal(t, "Bearer tok-stale", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "Bearer tok-fresh", r.Header.Get("Authorization"))
		w.Write([]byte(`{"ok":true}`))
	}, okRefresh)
	f.store.Set(token.Token{AccessToken: "tok-stale"})

	resp, err := f.client.Get(f.apiURL + "/tasks")
	require.NoError(t, err)
	defer resp.Body.Close()

	// The expected trace: two business calls (401, then 200), one refresh.
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&apiCalls))
	assert.Equal(t, int32(1), atomic.LoadInt32(f.refreshCalls))
}

func TestRetriesAtMostOnce(t *testing.T) {
	var apiCalls int32
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&apiCalls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}, okRefresh)
	f.store.Set(token.Token{AccessToken: "tok-stale"})

	resp, err := f.client.Get(f.apiURL + "/tasks")
	require.NoError(t, err)
	defer resp.Body.Close()

	// The retried request 401s again; the failure propagates instead of
	// looping.
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&apiCalls))
}

func TestFailedRefreshPropagatesOriginal401(t *testing.T) {
	var apiCalls int32
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&apiCalls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	f.store.Set(token.Token{AccessToken: "tok-stale"})

	resp, err := f.client.Get(f.apiURL + "/tasks")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&apiCalls), "no retry without a fresh token")

	// The denied refresh also ended the session.
	_, ok := f.store.Get()
	assert.False(t, ok)
}

func TestNonAuthFailuresPassThrough(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{name: "server error", status: http.StatusInternalServerError},
		{name: "validation error", status: http.StatusUnprocessableEntity},
		{name: "not found", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}, okRefresh)
			f.store.Set(token.Token{AccessToken: "tok-1"})

			resp, err := f.client.Get(f.apiURL + "/tasks")
			require.NoError(t, err)
			resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, int32(0), atomic.LoadInt32(f.refreshCalls),
				"only authorization failures trigger a refresh")
		})
	}
}

func TestPlain403PassesThrough(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		// A permission denial on a valid session, not a token problem.
		w.WriteHeader(http.StatusForbidden)
	}, okRefresh)
	f.store.Set(token.Token{AccessToken: "tok-1"})

	resp, err := f.client.Get(f.apiURL + "/tasks")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, int32(0), atomic.LoadInt32(f.refreshCalls))
}

func TestInvalidToken403TriggersRefresh(t *testing.T) {
	var apiCalls int32
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&apiCalls, 1) == 1 {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(`{}`))
	}, okRefresh)
	f.store.Set(token.Token{AccessToken: "tok-stale"})

	resp, err := f.client.Get(f.apiURL + "/tasks")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(f.refreshCalls))
}

func TestRetryReplaysRequestBody(t *testing.T) {
	var bodies [][]byte
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, body)
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{}`))
	}, okRefresh)
	f.store.Set(token.Token{AccessToken: "tok-stale"})

	payload := []byte(`{"title":"ship it"}`)
	resp, err := f.client.Post(f.apiURL+"/tasks", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	resp.Body.Close()

	require.Len(t, bodies, 2)
	assert.Equal(t, payload, bodies[0])
	assert.Equal(t, payload, bodies[1])
}
