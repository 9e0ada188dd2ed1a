// Package account is the HTTP client for the registry account service.
package account

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"entityfiler/internal/filer/effects"
)

// Client calls the account service entity endpoints.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient targets baseURL. token, when set, is sent as a bearer token.
func NewClient(baseURL, token string, client *http.Client) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, client: client}
}

type entityBody struct {
	BusinessIdentifier string `json:"businessIdentifier"`
	Name               string `json:"name,omitempty"`
	CorpTypeCode       string `json:"corpTypeCode,omitempty"`
	State              string `json:"state,omitempty"`
}

type affiliationBody struct {
	BusinessIdentifier string `json:"businessIdentifier"`
	TempIdentifier     string `json:"tempIdentifier"`
	Name               string `json:"name,omitempty"`
	CorpTypeCode       string `json:"corpTypeCode,omitempty"`
}

// UpdateEntity patches the account service's copy of a business.
func (c *Client) UpdateEntity(ctx context.Context, u effects.EntityUpdate) error {
	return c.send(ctx, http.MethodPatch, "/entities/"+url.PathEscape(u.Identifier), entityBody{
		BusinessIdentifier: u.Identifier,
		Name:               u.Name,
		CorpTypeCode:       u.CorpTypeCode,
		State:              u.State,
	})
}

// Affiliate moves the temporary affiliation onto the new identifier.
func (c *Client) Affiliate(ctx context.Context, a effects.Affiliation) error {
	return c.send(ctx, http.MethodPost, "/entities/"+url.PathEscape(a.TempIdentifier)+"/affiliation", affiliationBody{
		BusinessIdentifier: a.Identifier,
		TempIdentifier:     a.TempIdentifier,
		Name:               a.Name,
		CorpTypeCode:       a.CorpTypeCode,
	})
}

func (c *Client) send(ctx context.Context, method, path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode account request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build account request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("account request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("account service %s %s returned %s", method, path, resp.Status)
	}
	return nil
}

var _ effects.AccountService = (*Client)(nil)
