package platform

import (
	"context"
	"time"
)

// LoginRequest represents a login request.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse represents a login or refresh response.
type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	User         User   `json:"user"`
}

// ExpiresAt converts the relative expires_in field into an absolute instant.
// A missing expires_in yields the zero time.
func (r *LoginResponse) ExpiresAt(now time.Time) time.Time {
	if r.ExpiresIn <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(r.ExpiresIn) * time.Second)
}

// User represents a platform user together with their org membership.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
	OrgID     string `json:"org_id"`
}

// Login authenticates with the platform and returns tokens.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	req := LoginRequest{
		Email:    email,
		Password: password,
	}

	resp, err := c.doRequest(ctx, "POST", "/auth/login", req)
	if err != nil {
		return nil, err
	}

	var loginResp LoginResponse
	if err := parseResponse(resp, &loginResp, classifyStatus); err != nil {
		return nil, err
	}
	return &loginResp, nil
}

// Refresh exchanges the ambient refresh credential (cookie, carried by the
// HTTP client's jar) for a fresh access token. A 401 or 403 here is
// definitive and comes back as KindRefreshDenied; everything that might be
// transient comes back as KindNetwork.
func (c *Client) Refresh(ctx context.Context) (*LoginResponse, error) {
	resp, err := c.doRequest(ctx, "POST", "/auth/refresh", nil)
	if err != nil {
		return nil, err
	}

	var refreshResp LoginResponse
	err = parseResponse(resp, &refreshResp, func(status int) Kind {
		if status == 401 || status == 403 {
			return KindRefreshDenied
		}
		if status >= 500 {
			return KindNetwork
		}
		return KindUnknown
	})
	if err != nil {
		return nil, err
	}
	return &refreshResp, nil
}

// Logout invalidates the refresh credential server-side. Callers discard
// local state unconditionally regardless of the outcome here.
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.doRequest(ctx, "POST", "/auth/logout", nil)
	if err != nil {
		return err
	}
	return parseResponse(resp, nil, classifyStatus)
}

// Register creates a new user account and returns the created user. It does
// not log in; callers that want a session follow up with a login so the
// session state machine owns the token.
func (c *Client) Register(ctx context.Context, username, email, password, firstName, lastName string) (*User, error) {
	req := map[string]string{
		"username":   username,
		"email":      email,
		"password":   password,
		"first_name": firstName,
		"last_name":  lastName,
	}

	resp, err := c.doRequest(ctx, "POST", "/auth/register", req)
	if err != nil {
		return nil, err
	}

	var user User
	if err := parseResponse(resp, &user, classifyStatus); err != nil {
		return nil, err
	}
	return &user, nil
}

// CurrentUser retrieves the authenticated caller's user and membership.
// This is the identity projection endpoint; it must be called with a client
// whose transport attaches the bearer token.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	resp, err := c.doRequest(ctx, "GET", "/users/me", nil)
	if err != nil {
		return nil, err
	}

	var user User
	if err := parseResponse(resp, &user, classifyStatus); err != nil {
		return nil, err
	}
	return &user, nil
}
