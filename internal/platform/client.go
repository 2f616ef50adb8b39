// Package platform is the OpsDeck backend API client.
//
// Every call returns a tagged *Error so callers can match on the failure
// category (network, authorization, refresh denied, validation) instead of
// inspecting status codes. Authentication endpoints (login, refresh, logout)
// always go over the bare HTTP client; business endpoints are expected to be
// reached through a client whose transport attaches the bearer token.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is the OpsDeck platform API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a new platform API client. A nil httpClient falls back
// to a default client with a 30 second timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: httpClient,
	}
}

// doRequest performs an HTTP request with a JSON body.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, WrapError(KindUnknown, "failed to marshal request body", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return nil, WrapError(KindUnknown, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, WrapError(KindNetwork, "failed to perform request", err)
	}
	return resp, nil
}

// ErrorResponse represents an API error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// parseResponse decodes the response body into target, converting non-2xx
// responses into a tagged Error with the given kind classifier.
func parseResponse(resp *http.Response, target interface{}, classify func(int) Kind) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)

		msg := fmt.Sprintf("request failed with status %d", resp.StatusCode)
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil {
			if errResp.Error != "" {
				msg = errResp.Error
			} else if errResp.Message != "" {
				msg = errResp.Message
			}
		}

		return NewError(classify(resp.StatusCode), resp.StatusCode, msg)
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return WrapError(KindUnknown, "failed to decode response", err)
		}
	}
	return nil
}
