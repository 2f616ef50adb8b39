// Package app wires the session coordinator and its collaborators into one
// explicitly constructed object. Nothing here is global: construct an App
// once and pass it by reference to every consumer.
package app

import (
	"net/http"

	"github.com/opsdeck/opsdeck-go/internal/config"
	"github.com/opsdeck/opsdeck-go/internal/log"
	"github.com/opsdeck/opsdeck-go/internal/orgcache"
	"github.com/opsdeck/opsdeck-go/internal/platform"
	"github.com/opsdeck/opsdeck-go/internal/refresh"
	"github.com/opsdeck/opsdeck-go/internal/session"
	"github.com/opsdeck/opsdeck-go/internal/token"
	"github.com/opsdeck/opsdeck-go/internal/transport"
)

// App bundles the constructed subsystem.
type App struct {
	Config config.Config
	Logger *log.Logger

	Store       *token.Store
	Coordinator *refresh.Coordinator
	Session     *session.Manager
	Orgs        *orgcache.Cache

	// API reaches business endpoints through the intercepting transport.
	API *platform.Client

	// HTTP is the intercepted client, for callers issuing raw requests.
	HTTP *http.Client
}

// New constructs the full subsystem from configuration.
//
// Two platform clients come out of this: an auth client over the bare
// transport (login, refresh, logout must never recurse into the
// interceptor) and an API client over the intercepted transport for
// everything else.
func New(cfg config.Config) *App {
	logger := log.New(log.Config{
		Level:       log.ParseLevel(cfg.LogLevel),
		Format:      log.ParseFormat(cfg.LogFormat),
		Output:      log.OutputStderr(),
		ServiceName: "opsdeck",
	})

	store := token.NewStore(cfg.TokenFile)

	baseHTTP := &http.Client{Timeout: cfg.RequestTimeout}
	authClient := platform.NewClient(cfg.APIURL, baseHTTP)

	coordinator := refresh.NewCoordinator(store, authClient, logger).
		WithCooldown(cfg.RefreshCooldown)

	interceptor := transport.NewInterceptor(nil, store, coordinator, logger)
	httpClient := interceptor.Client()
	httpClient.Timeout = cfg.RequestTimeout

	apiClient := platform.NewClient(cfg.APIURL, httpClient)

	orgs := orgcache.New(apiClient.CurrentOrg).WithTTL(cfg.OrgCacheTTL)

	sess := session.NewManager(store, coordinator, authClient, apiClient, orgs, logger)

	return &App{
		Config:      cfg,
		Logger:      logger,
		Store:       store,
		Coordinator: coordinator,
		Session:     sess,
		Orgs:        orgs,
		API:         apiClient,
		HTTP:        httpClient,
	}
}

// Close releases background resources.
func (a *App) Close() {
	a.Session.Close()
}
