// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SchedLive Contributors

// Package directory talks to the external clinic/token/user API.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Client implements core.DirectoryService over the platform's HTTP API.
// Every call carries the service API key and runs under the caller's
// context; the embedded timeout is a hard upper bound on top of it.
type Client struct {
	httpClient  *http.Client
	authBaseURL string
	coreBaseURL string
	apiKey      string
}

// NewClient builds a directory client. timeout bounds each request even when
// the caller's context is unbounded.
func NewClient(authBaseURL, coreBaseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		authBaseURL: strings.TrimSuffix(authBaseURL, "/"),
		coreBaseURL: strings.TrimSuffix(coreBaseURL, "/"),
		apiKey:      apiKey,
	}
}

// ClinicExists reports whether the clinic identifier is known to the
// platform. A 404 is a definitive "no"; any other non-200 is an error.
func (c *Client) ClinicExists(ctx context.Context, clinicID int64) (bool, error) {
	url := fmt.Sprintf("%s/clinics/%d/", c.coreBaseURL, clinicID)
	resp, err := c.get(ctx, url, "")
	if err != nil {
		return false, oops.Code("DIRECTORY_UNAVAILABLE").
			With("operation", "clinic lookup").
			With("clinic_id", clinicID).
			Wrap(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, oops.Code("DIRECTORY_UNAVAILABLE").
			With("operation", "clinic lookup").
			With("status", resp.StatusCode).
			Errorf("unexpected directory response")
	}
}

// TokenValid checks a bearer token against the auth API. The endpoint
// answers 200 with a boolean body; anything else reads as invalid.
func (c *Client) TokenValid(ctx context.Context, token string) (bool, error) {
	resp, err := c.get(ctx, c.authBaseURL+"/auth/check-token/", token)
	if err != nil {
		return false, oops.Code("DIRECTORY_UNAVAILABLE").
			With("operation", "token check").
			Wrap(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}
	var valid bool
	if err := json.NewDecoder(resp.Body).Decode(&valid); err != nil {
		return false, oops.Code("DIRECTORY_UNAVAILABLE").
			With("operation", "token check").
			Wrap(err)
	}
	return valid, nil
}

// UserForToken resolves the authenticated user behind a token.
func (c *Client) UserForToken(ctx context.Context, token string) (int64, error) {
	resp, err := c.get(ctx, c.coreBaseURL+"/manager/me/", token)
	if err != nil {
		return 0, oops.Code("DIRECTORY_UNAVAILABLE").
			With("operation", "user resolution").
			Wrap(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return 0, oops.Code("AUTH_REJECTED").
			With("status", resp.StatusCode).
			Errorf("token does not resolve to a user")
	}

	var user struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return 0, oops.Code("DIRECTORY_UNAVAILABLE").
			With("operation", "user resolution").
			Wrap(err)
	}
	if user.ID == 0 {
		return 0, oops.Code("AUTH_REJECTED").Errorf("directory returned no user id")
	}
	return user.ID, nil
}

func (c *Client) get(ctx context.Context, url, bearer string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return c.httpClient.Do(req) //nolint:wrapcheck
}
