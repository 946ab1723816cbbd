package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/storyforge/draftsync/internal/auth"
	apperrors "github.com/storyforge/draftsync/internal/errors"
	"github.com/storyforge/draftsync/internal/identity"
	"github.com/storyforge/draftsync/internal/models"
)

type staticSessions struct{ id string }

func (s staticSessions) SessionID() (string, error) { return s.id, nil }

func newTestResolver() *identity.Resolver {
	return identity.NewResolver(staticSessions{id: strings.Repeat("cd", 32)})
}

func sampleDrafts() []models.ServerDraft {
	return []models.ServerDraft{
		{ID: 1, TrackID: "origin", TrackTitle: "Origin Story", Answers: map[string]string{}, UpdatedAt: time.Now().UTC()},
	}
}

func TestListDraftsServesRepeatReadsFromCache(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		json.NewEncoder(w).Encode(sampleDrafts())
	}))
	defer srv.Close()

	c := New(srv.URL, newTestResolver())

	first, err := c.ListDrafts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.ListDrafts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected 1 server hit, got %d", hits.Load())
	}
	if len(first) != 1 || len(second) != 1 || second[0].ID != 1 {
		t.Fatalf("unexpected results: %v %v", first, second)
	}
}

func TestMutationInvalidatesListCache(t *testing.T) {
	var listHits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			listHits.Add(1)
			json.NewEncoder(w).Encode(sampleDrafts())
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(models.ServerDraft{ID: 2, TrackID: "origin", TrackTitle: "Origin Story"})
		}
	}))
	defer srv.Close()

	resolver := newTestResolver()
	c := New(srv.URL, resolver)
	ownerKey, _ := resolver.OwnerKey()

	if _, err := c.ListDrafts(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.CachedList(ownerKey); !ok {
		t.Fatal("expected a warm cache entry after the first list")
	}

	if _, err := c.CreateDraft(context.Background(), models.CreateDraftRequest{TrackID: "origin", TrackTitle: "Origin Story"}); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.CachedList(ownerKey); ok {
		t.Fatal("create should have invalidated the cache")
	}

	if _, err := c.ListDrafts(context.Background()); err != nil {
		t.Fatal(err)
	}
	if listHits.Load() != 2 {
		t.Fatalf("expected the post-mutation list to refetch, got %d hits", listHits.Load())
	}
}

func TestDeleteInvalidatesListCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(sampleDrafts())
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	resolver := newTestResolver()
	c := New(srv.URL, resolver)
	ownerKey, _ := resolver.OwnerKey()

	if _, err := c.ListDrafts(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteDraft(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.CachedList(ownerKey); ok {
		t.Fatal("delete should have invalidated the cache")
	}
}

// A list that resolves after the identity flipped to a user must not
// land in either key's cache.
func TestStaleEpochResultIsDropped(t *testing.T) {
	resolver := newTestResolver()
	anonKey, _ := resolver.OwnerKey()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Login completes while the request is in flight.
		if err := resolver.Authenticate("u1"); err != nil {
			t.Errorf("authenticate: %v", err)
		}
		json.NewEncoder(w).Encode(sampleDrafts())
	}))
	defer srv.Close()

	c := New(srv.URL, resolver)
	if _, err := c.ListDrafts(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, ok := c.CachedList(anonKey); ok {
		t.Fatal("stale result cached under the anonymous key")
	}
	if _, ok := c.CachedList("user:u1"); ok {
		t.Fatal("stale result cached under the user key")
	}
}

func TestAnonymousRequestCarriesSessionHeader(t *testing.T) {
	sessionID := strings.Repeat("cd", 32)
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("X-Session-ID"))
		json.NewEncoder(w).Encode([]models.ServerDraft{})
	}))
	defer srv.Close()

	c := New(srv.URL, newTestResolver())
	if _, err := c.ListDrafts(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got.Load() != sessionID {
		t.Fatalf("expected session header %q, got %q", sessionID, got.Load())
	}
}

func TestAuthenticatedRequestCarriesCredentialCookie(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie(auth.CookieName); err == nil {
			got.Store(cookie.Value)
		}
		json.NewEncoder(w).Encode([]models.ServerDraft{})
	}))
	defer srv.Close()

	resolver := newTestResolver()
	if err := resolver.Authenticate("u1"); err != nil {
		t.Fatal(err)
	}
	c := New(srv.URL, resolver)
	c.SetCredential("issued-credential")

	if _, err := c.ListDrafts(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got.Load() != "issued-credential" {
		t.Fatalf("expected credential cookie, got %v", got.Load())
	}
}

func TestStructuredRejectionMapsToValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "trackId is required"})
	}))
	defer srv.Close()

	c := New(srv.URL, newTestResolver())
	_, err := c.CreateDraft(context.Background(), models.CreateDraftRequest{TrackTitle: "No Track"})
	if !apperrors.IsValidationError(err) {
		t.Fatalf("expected a validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "trackId") {
		t.Fatalf("expected the server's reason, got %v", err)
	}
}

func TestServerFailureMapsToFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, newTestResolver())
	if _, err := c.ListDrafts(context.Background()); !apperrors.IsFetchError(err) {
		t.Fatalf("expected a fetch error, got %v", err)
	}
}

func TestUnreachableStoreMapsToFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := New(srv.URL, newTestResolver())
	if _, err := c.ListDrafts(context.Background()); !apperrors.IsFetchError(err) {
		t.Fatalf("expected a fetch error, got %v", err)
	}
}
