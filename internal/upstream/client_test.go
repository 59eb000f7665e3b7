package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	return New(srv.URL, "test-key", zerolog.Nop())
}

func TestListItemsEscapesCursorInQueryString(t *testing.T) {
	t.Parallel()

	const rawCursor = "abc&def=ghi+jkl%mno"
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Page{})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if _, err := c.ListItems(context.Background(), "webset-1", rawCursor); err != nil {
		t.Fatalf("ListItems returned an error: %v", err)
	}

	values, err := url.ParseQuery(gotQuery)
	if err != nil {
		t.Fatalf("server received an unparseable query string %q: %v", gotQuery, err)
	}
	if got := values.Get("cursor"); got != rawCursor {
		t.Fatalf("expected cursor %q to round-trip through the query string, got %q", rawCursor, got)
	}
	if got := values.Get("limit"); got != "100" {
		t.Fatalf("expected default page limit 100, got %q", got)
	}
}

func TestListItemsFirstPageOmitsCursor(t *testing.T) {
	t.Parallel()

	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Page{})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if _, err := c.ListItems(context.Background(), "webset-1", ""); err != nil {
		t.Fatalf("ListItems returned an error: %v", err)
	}

	values, err := url.ParseQuery(gotQuery)
	if err != nil {
		t.Fatalf("server received an unparseable query string %q: %v", gotQuery, err)
	}
	if values.Has("cursor") {
		t.Fatalf("expected no cursor param on the first page, got %q", gotQuery)
	}
}

func TestListItemsDecodesPageBody(t *testing.T) {
	t.Parallel()

	next := "next-cursor"
	want := Page{
		Data:       []Item{{ID: "1", Properties: map[string]any{"name": "Acme"}}},
		HasMore:    true,
		NextCursor: &next,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	got, err := c.ListItems(context.Background(), "webset-1", "")
	if err != nil {
		t.Fatalf("ListItems returned an error: %v", err)
	}
	if len(got.Data) != 1 || got.Data[0].ID != "1" {
		t.Fatalf("expected one decoded item with id 1, got %+v", got.Data)
	}
	if !got.HasMore || got.NextCursor == nil || *got.NextCursor != next {
		t.Fatalf("expected hasMore=true and nextCursor=%q, got hasMore=%v nextCursor=%v", next, got.HasMore, got.NextCursor)
	}
}

func TestListItemsPropagatesUpstreamError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if _, err := c.ListItems(context.Background(), "webset-1", ""); err == nil {
		t.Fatalf("expected an error on a 500 response")
	}
}

func TestCreateWebsetSendsAPIKeyHeader(t *testing.T) {
	t.Parallel()

	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(CreateResult{WebsetID: "w1", Status: "running"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	result, err := c.CreateWebset(context.Background(), CreateRequest{Query: "acme"})
	if err != nil {
		t.Fatalf("CreateWebset returned an error: %v", err)
	}
	if gotKey != "test-key" {
		t.Fatalf("expected the api key header to be forwarded, got %q", gotKey)
	}
	if result.WebsetID != "w1" {
		t.Fatalf("expected webset id w1, got %q", result.WebsetID)
	}
}
