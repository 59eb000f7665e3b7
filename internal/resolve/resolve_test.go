package resolve

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func newTestClient() *Client {
	return New(zerolog.Nop())
}

func TestResolveEtld1FollowsRedirectToFinalHost(t *testing.T) {
	t.Parallel()

	var finalPathHit bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/short" {
			http.Redirect(w, r, "/final", http.StatusFound)
			return
		}
		finalPathHit = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient()
	got, ok := c.ResolveEtld1(context.Background(), srv.URL+"/short")
	if !ok {
		t.Fatalf("expected resolution to succeed")
	}
	if !finalPathHit {
		t.Fatalf("expected the redirect to be followed to /final")
	}
	if got == "" {
		t.Fatalf("expected a non-empty resolved host")
	}
}

func TestResolveEtld1FailsOnServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient()
	if _, ok := c.ResolveEtld1(context.Background(), srv.URL); ok {
		t.Fatalf("expected a 500 status to yield ok=false")
	}
}

func TestResolveEtld1FailsOnUnreachableHost(t *testing.T) {
	t.Parallel()

	c := newTestClient()
	if _, ok := c.ResolveEtld1(context.Background(), "http://127.0.0.1:1"); ok {
		t.Fatalf("expected an unreachable host to yield ok=false")
	}
}

func TestResolveEtld1RejectsEmptyAndMalformedURLs(t *testing.T) {
	t.Parallel()

	c := newTestClient()
	if _, ok := c.ResolveEtld1(context.Background(), ""); ok {
		t.Fatalf("expected empty URL to yield ok=false")
	}
	if _, ok := c.ResolveEtld1(context.Background(), "://not-a-url"); ok {
		t.Fatalf("expected malformed URL to yield ok=false")
	}
}

func TestResolveEtld1TwoDifferentURLsSameServerAgree(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient()
	a, okA := c.ResolveEtld1(context.Background(), srv.URL+"/one")
	b, okB := c.ResolveEtld1(context.Background(), srv.URL+"/two")
	if !okA || !okB {
		t.Fatalf("expected both resolutions to succeed, got okA=%v okB=%v", okA, okB)
	}
	if a != b {
		t.Fatalf("expected both URLs on the same server to resolve to the same host, got %q and %q", a, b)
	}
}
