// Package upstream is a thin HTTP client for the opaque webset provider
// described in §6: create a webset search, poll its status, and page
// through its items with a cursor. The provider's own identity (which SaaS
// it is) is deliberately not hard-coded into types here; only the wire
// shape §6 specifies is.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultPageLimit = 100

// Client talks to the upstream webset search provider.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     zerolog.Logger
}

func New(baseURL, apiKey string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     logger.With().Str("component", "upstream_client").Logger(),
	}
}

// CreateRequest is the body for starting a new webset search (§4.7).
type CreateRequest struct {
	Query       string   `json:"query"`
	EntityType  string   `json:"entityType,omitempty"`
	Enrichments []string `json:"enrichments,omitempty"`
	Count       int      `json:"count,omitempty"`
}

type createBody struct {
	Search struct {
		Query      string `json:"query"`
		Count      int    `json:"count,omitempty"`
		EntityType string `json:"entity,omitempty"`
	} `json:"search"`
	Enrichments []string `json:"enrichments,omitempty"`
}

// CreateResult is the provider's acknowledgement of a new webset.
type CreateResult struct {
	WebsetID string `json:"id"`
	Status   string `json:"status"`
}

func (c *Client) CreateWebset(ctx context.Context, req CreateRequest) (CreateResult, error) {
	body := createBody{Enrichments: req.Enrichments}
	body.Search.Query = req.Query
	body.Search.Count = req.Count
	body.Search.EntityType = req.EntityType

	var out CreateResult
	if err := c.do(ctx, http.MethodPost, "/v0/websets", body, &out); err != nil {
		return CreateResult{}, fmt.Errorf("create webset: %w", err)
	}
	return out, nil
}

// StatusResult reports the provider-side progress of a webset.
type StatusResult struct {
	Status     string `json:"status"`
	ItemCount  int    `json:"itemCount"`
}

func (c *Client) GetStatus(ctx context.Context, websetID string) (StatusResult, error) {
	var out StatusResult
	if err := c.do(ctx, http.MethodGet, "/v0/websets/"+websetID, nil, &out); err != nil {
		return StatusResult{}, fmt.Errorf("get webset status: %w", err)
	}
	return out, nil
}

// Item is one raw upstream record; Properties is round-tripped verbatim.
type Item struct {
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
}

// Page is one cursor page of webset items (§4.7: limit 100/page).
type Page struct {
	Data       []Item  `json:"data"`
	HasMore    bool    `json:"hasMore"`
	NextCursor *string `json:"nextCursor"`
}

// ListItems fetches one page of items starting at cursor (empty for the
// first page), capped at defaultPageLimit per request.
func (c *Client) ListItems(ctx context.Context, websetID, cursor string) (Page, error) {
	query := url.Values{"limit": {strconv.Itoa(defaultPageLimit)}}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	path := "/v0/websets/" + websetID + "/items?" + query.Encode()
	var out Page
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return Page{}, fmt.Errorf("list webset items: %w", err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upstream status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
