// Package namerequest is the HTTP client for the name request service.
package namerequest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Name states the service reports for an approved choice.
const (
	StateApproved  = "APPROVED"
	StateCondition = "CONDITION"
	StateConsumed  = "CONSUMED"
)

// ErrNoApprovedName is returned when a request has no approved choice.
var ErrNoApprovedName = errors.New("name request has no approved name")

// Request is the subset of a name request the filer reads.
type Request struct {
	NRNum string `json:"nrNum"`
	State string `json:"state"`
	Names []struct {
		Name  string `json:"name"`
		State string `json:"state"`
	} `json:"names"`
}

// ApprovedName returns the approved or conditionally approved choice.
func (r Request) ApprovedName() (string, bool) {
	for _, n := range r.Names {
		if n.State == StateApproved || n.State == StateCondition {
			return n.Name, true
		}
	}
	return "", false
}

// Client calls the name request service.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient targets baseURL.
func NewClient(baseURL, token string, client *http.Client) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, client: client}
}

// Get fetches a name request.
func (c *Client) Get(ctx context.Context, nrNumber string) (Request, error) {
	resp, err := c.do(ctx, http.MethodGet, nrNumber, nil)
	if err != nil {
		return Request{}, err
	}
	defer resp.Body.Close()
	var out Request
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Request{}, fmt.Errorf("decode name request %s: %w", nrNumber, err)
	}
	return out, nil
}

// ApprovedName resolves nrNumber to its approved name.
func (c *Client) ApprovedName(ctx context.Context, nrNumber string) (string, error) {
	r, err := c.Get(ctx, nrNumber)
	if err != nil {
		return "", err
	}
	name, ok := r.ApprovedName()
	if !ok {
		return "", fmt.Errorf("%s: %w", nrNumber, ErrNoApprovedName)
	}
	return name, nil
}

// Consume marks nrNumber as used by a completed filing.
func (c *Client) Consume(ctx context.Context, nrNumber string) error {
	resp, err := c.do(ctx, http.MethodPatch, nrNumber, map[string]string{"state": StateConsumed})
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (c *Client) do(ctx context.Context, method, nrNumber string, body any) (*http.Response, error) {
	if nrNumber == "" {
		return nil, fmt.Errorf("name request number required")
	}
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode name request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/requests/"+url.PathEscape(nrNumber), reader)
	if err != nil {
		return nil, fmt.Errorf("build name request call: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("name request call: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("name request %s %s returned %s", method, nrNumber, resp.Status)
	}
	return resp, nil
}
