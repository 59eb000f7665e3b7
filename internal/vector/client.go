// Package vector is a thin best-effort facade over the external
// row-recall service (§4.6): POST /add to index an accepted row's compare
// text, POST /query to recall near neighbours for a new row. Every call is
// best-effort — a transport or decode failure degrades to "no signal"
// (empty hits for Query, a dropped write for Add) rather than failing the
// item, mirroring the fail-open posture the LLM adjudicator uses.
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultTimeout = 10 * time.Second
)

// Client talks to the vector-recall sidecar described in §6's upstream
// contract: POST /add {row_id,text}, POST /query {text,k} -> {ids:[...]}.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

func New(baseURL string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		log:     logger.With().Str("component", "vector_client").Logger(),
	}
}

type addRequest struct {
	RowID string `json:"row_id"`
	Text  string `json:"text"`
}

type queryRequest struct {
	Text string `json:"text"`
	K    int    `json:"k"`
}

type queryResponse struct {
	IDs []string `json:"ids"`
}

// Add indexes rowID/text for future recall. Errors are logged and
// swallowed: a failed Add only means this row won't be vector-recallable
// later, never that the item currently being processed should fail.
func (c *Client) Add(ctx context.Context, rowID, text string) {
	if c == nil || c.baseURL == "" || strings.TrimSpace(text) == "" {
		return
	}
	body, err := json.Marshal(addRequest{RowID: rowID, Text: text})
	if err != nil {
		c.log.Warn().Err(err).Msg("marshal vector add request")
		return
	}
	if err := c.post(ctx, "/add", body, nil); err != nil {
		c.log.Warn().Err(err).Str("row_id", rowID).Msg("vector add failed, continuing without index entry")
	}
}

// Query returns up to k row ids the vector service judges near-neighbours
// of text. On any failure it returns nil, which the candidate pool builder
// treats identically to "no vector hits".
func (c *Client) Query(ctx context.Context, text string, k int) []string {
	if c == nil || c.baseURL == "" || strings.TrimSpace(text) == "" {
		return nil
	}
	body, err := json.Marshal(queryRequest{Text: text, K: k})
	if err != nil {
		c.log.Warn().Err(err).Msg("marshal vector query request")
		return nil
	}
	var resp queryResponse
	if err := c.post(ctx, "/query", body, &resp); err != nil {
		c.log.Warn().Err(err).Msg("vector query failed, continuing without recall hits")
		return nil
	}
	return resp.IDs
}

func (c *Client) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build vector request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send vector request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read vector response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("vector service status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode vector response: %w", err)
	}
	return nil
}
