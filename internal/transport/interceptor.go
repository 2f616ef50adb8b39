// Package transport wraps outbound HTTP calls with bearer-token attachment
// and a single coordinated refresh-and-retry on authorization failure.
//
// The Interceptor is an http.RoundTripper. Requests that do not fail with an
// authorization error are never delayed by an in-flight refresh; only a
// request that itself receives a 401 waits on the coordinator.
package transport

import (
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/opsdeck/opsdeck-go/internal/log"
	"github.com/opsdeck/opsdeck-go/internal/refresh"
	"github.com/opsdeck/opsdeck-go/internal/token"
)

// Interceptor attaches the current bearer token to every request and, on an
// authorization failure, refreshes once through the coordinator and retries
// the request exactly once.
type Interceptor struct {
	// Base is the underlying transport. Nil falls back to
	// http.DefaultTransport.
	Base http.RoundTripper

	Store       *token.Store
	Coordinator *refresh.Coordinator
	Logger      *log.Logger
}

// NewInterceptor builds an Interceptor over base.
func NewInterceptor(base http.RoundTripper, store *token.Store, coord *refresh.Coordinator, logger *log.Logger) *Interceptor {
	if logger == nil {
		logger = log.DefaultLogger()
	}
	return &Interceptor{
		Base:        base,
		Store:       store,
		Coordinator: coord,
		Logger:      logger,
	}
}

// Client returns an *http.Client whose transport is this interceptor.
func (i *Interceptor) Client() *http.Client {
	return &http.Client{Transport: i}
}

// RoundTrip implements http.RoundTripper.
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	out := cloneRequest(req)
	out.Header.Set("X-Request-Id", uuid.NewString())
	if tok, ok := i.Store.Get(); ok {
		out.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	}

	resp, err := i.base().RoundTrip(out)
	if err != nil {
		return nil, err
	}
	if !isAuthFailure(resp) {
		return resp, nil
	}

	// Requests without a rewindable body cannot be retried.
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	if !i.Coordinator.Refresh(req.Context()) {
		// Refresh impossible or denied; propagate the original failure.
		return resp, nil
	}

	tok, ok := i.Store.Get()
	if !ok {
		return resp, nil
	}

	i.Logger.Debug("retrying request after token refresh",
		"method", req.Method, "url", req.URL.String())

	// Drop the rejected response before re-issuing.
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	resp.Body.Close()

	retry := cloneRequest(req)
	retry.Header.Set("X-Request-Id", uuid.NewString())
	retry.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}

	return i.base().RoundTrip(retry)
}

func (i *Interceptor) base() http.RoundTripper {
	if i.Base != nil {
		return i.Base
	}
	return http.DefaultTransport
}

// cloneRequest makes a shallow copy of req with a deep copy of the headers,
// as required by the RoundTripper contract.
func cloneRequest(req *http.Request) *http.Request {
	out := req.Clone(req.Context())
	return out
}

// isAuthFailure reports whether resp is an authorization failure this layer
// handles: any 401, and a 403 only when the server marks the token itself as
// invalid. Permission 403s on a valid session pass through to the caller.
func isAuthFailure(resp *http.Response) bool {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return true
	case http.StatusForbidden:
		return strings.Contains(resp.Header.Get("WWW-Authenticate"), `error="invalid_token"`)
	default:
		return false
	}
}
