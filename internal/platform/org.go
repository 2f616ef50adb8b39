package platform

import (
	"context"
)

// Org represents the caller's current organization record.
type Org struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Plan    string `json:"plan"`
	Seats   int    `json:"seats"`
	OwnerID string `json:"owner_id"`
}

// CurrentOrg retrieves the caller's current organization. Expensive on the
// backend and requested by many independent surfaces, so consumers should go
// through orgcache.Cache rather than calling this directly.
func (c *Client) CurrentOrg(ctx context.Context) (*Org, error) {
	resp, err := c.doRequest(ctx, "GET", "/orgs/current", nil)
	if err != nil {
		return nil, err
	}

	var org Org
	if err := parseResponse(resp, &org, classifyStatus); err != nil {
		return nil, err
	}
	return &org, nil
}
