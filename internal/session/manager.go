// Package session exposes the authentication state machine the rest of the
// application drives: bootstrap, login, logout, and the identity projection
// of whoever currently holds the session.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/opsdeck/opsdeck-go/internal/log"
	"github.com/opsdeck/opsdeck-go/internal/orgcache"
	"github.com/opsdeck/opsdeck-go/internal/platform"
	"github.com/opsdeck/opsdeck-go/internal/refresh"
	"github.com/opsdeck/opsdeck-go/internal/token"
)

// timeNow is swapped out in tests.
var timeNow = time.Now

// State is the session state machine position.
type State int

const (
	// StateBootstrapping is the initial state before Bootstrap has resolved.
	StateBootstrapping State = iota
	// StateUnauthenticated means no valid session exists.
	StateUnauthenticated
	// StateAuthenticating means a login attempt is in flight.
	StateAuthenticating
	// StateRefreshing means bootstrap found an expired or absent token and a
	// silent refresh is in flight.
	StateRefreshing
	// StateAuthenticated means a valid session exists.
	StateAuthenticated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateBootstrapping:
		return "bootstrapping"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateRefreshing:
		return "refreshing"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Identity is the derived, read-only projection of the authenticated user
// and their org membership. Recomputed after every successful login or
// refresh, dropped on logout.
type Identity struct {
	UserID    string
	Email     string
	FirstName string
	LastName  string
	Role      string
	OrgID     string
}

func projectIdentity(u *platform.User) *Identity {
	return &Identity{
		UserID:    u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
		OrgID:     u.OrgID,
	}
}

// Manager is the session state machine. All methods are safe for concurrent
// use. Construct exactly one per application and pass it by reference to
// every consumer.
type Manager struct {
	store       *token.Store
	coordinator *refresh.Coordinator

	// authClient reaches the auth endpoints over the bare transport;
	// apiClient goes through the interceptor and serves identity reads.
	authClient *platform.Client
	apiClient  *platform.Client

	orgs   *orgcache.Cache
	logger *log.Logger

	mu       sync.Mutex
	state    State
	identity *Identity
	lastErr  error

	bootstrapOnce sync.Once
	closeOnce     sync.Once
	closed        chan struct{}
}

// NewManager wires the session state machine over its collaborators and
// subscribes to the coordinator's session-ended channel.
func NewManager(store *token.Store, coord *refresh.Coordinator, authClient, apiClient *platform.Client, orgs *orgcache.Cache, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.DefaultLogger()
	}
	m := &Manager{
		store:       store,
		coordinator: coord,
		authClient:  authClient,
		apiClient:   apiClient,
		orgs:        orgs,
		logger:      logger,
		state:       StateBootstrapping,
		closed:      make(chan struct{}),
	}

	ended := coord.SessionEnded()
	go func() {
		for {
			select {
			case <-ended:
				m.logger.Info("session ended by refresh denial")
				m.teardown(StateUnauthenticated, nil)
			case <-m.closed:
				return
			}
		}
	}()

	return m
}

// Close stops the session-ended watcher.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.closed) })
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Identity returns the current identity projection, or nil outside of an
// authenticated session.
func (m *Manager) Identity() *Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// Err returns the error surfaced by the most recent operation. It is
// retained until the next state-changing action or an explicit ClearErr.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// ClearErr drops the retained error.
func (m *Manager) ClearErr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = nil
}

// Bootstrap resolves the initial session state. It runs exactly once per
// Manager; repeated calls are no-ops, which keeps remount loops in the UI
// layer from triggering refresh storms.
func (m *Manager) Bootstrap(ctx context.Context) {
	m.bootstrapOnce.Do(func() { m.bootstrap(ctx) })
}

func (m *Manager) bootstrap(ctx context.Context) {
	tok, ok := m.store.Get()

	if ok && !m.store.IsExpired(tok) {
		m.logger.Debug("bootstrap: valid token on disk")
		m.becomeAuthenticated(ctx)
		return
	}

	m.setState(StateRefreshing)

	var refreshed bool
	if ok {
		m.logger.Debug("bootstrap: expired token, refreshing")
		refreshed = m.coordinator.Refresh(ctx)
	} else {
		m.logger.Debug("bootstrap: no token, attempting silent refresh")
		refreshed = m.coordinator.RefreshSilent(ctx)
	}

	if refreshed {
		m.becomeAuthenticated(ctx)
		return
	}
	m.setState(StateUnauthenticated)
}

// Login authenticates with email and password. On success the token is
// persisted, the identity projection fetched, and the org cache invalidated
// so no data from a previous session survives.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	m.mu.Lock()
	m.state = StateAuthenticating
	m.lastErr = nil
	m.mu.Unlock()

	resp, err := m.authClient.Login(ctx, email, password)
	if err != nil {
		m.logger.Warn("login failed", "email", email, "error", err.Error())
		m.mu.Lock()
		m.state = StateUnauthenticated
		m.lastErr = err
		m.mu.Unlock()
		return err
	}

	m.store.Set(token.Token{
		AccessToken: resp.AccessToken,
		ExpiresAt:   resp.ExpiresAt(timeNow()),
		Email:       email,
	})
	m.orgs.Invalidate()

	m.logger.Info("login succeeded", "email", email)
	m.becomeAuthenticated(ctx)
	return nil
}

// Logout tears the session down. The network call is best-effort: local
// state is cleared regardless of the outcome and Logout never returns an
// error.
func (m *Manager) Logout(ctx context.Context) {
	if err := m.authClient.Logout(ctx); err != nil {
		m.logger.Warn("logout endpoint failed, clearing local state anyway", "error", err.Error())
	}
	m.teardown(StateUnauthenticated, nil)
	m.logger.Info("logged out")
}

// becomeAuthenticated fetches the identity projection and transitions to
// authenticated. A failed identity fetch leaves the session authenticated
// with the error retained; the token itself is still valid.
func (m *Manager) becomeAuthenticated(ctx context.Context) {
	user, err := m.apiClient.CurrentUser(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateAuthenticated
	if err != nil {
		m.logger.Warn("identity fetch failed", "error", err.Error())
		m.identity = nil
		m.lastErr = err
		return
	}
	m.identity = projectIdentity(user)
}

// teardown clears everything downstream of the session: token, identity
// projection, and org cache, then parks in state with err retained.
func (m *Manager) teardown(state State, err error) {
	m.store.Clear()
	m.orgs.Invalidate()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	m.identity = nil
	m.lastErr = err
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
}
