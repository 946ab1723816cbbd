// internal/client/drafts.go
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/storyforge/draftsync/internal/auth"
	apperrors "github.com/storyforge/draftsync/internal/errors"
	"github.com/storyforge/draftsync/internal/identity"
	"github.com/storyforge/draftsync/internal/models"
	"github.com/storyforge/draftsync/internal/utils"
)

// DefaultTimeout bounds each request when the caller's context has no
// deadline of its own. The remote must never be able to hang the flow.
const DefaultTimeout = 10 * time.Second

// Client talks to the authoritative draft store. Results of list
// queries are cached per owner key; every mutation invalidates the
// current key's entry so subsequent reads observe the mutation.
type Client struct {
	baseURL    string
	httpClient *http.Client
	resolver   *identity.Resolver
	timeout    time.Duration
	log        *utils.Logger

	mu         sync.Mutex
	credential string
	listCache  map[string][]models.ServerDraft
}

// New creates a draft store client.
func New(baseURL string, resolver *identity.Resolver) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		resolver:   resolver,
		timeout:    DefaultTimeout,
		log:        utils.GetLogger(),
		listCache:  make(map[string][]models.ServerDraft),
	}
}

// SetCredential installs the ambient session credential used for
// authenticated requests. The surrounding app calls this when login
// completes, after flipping the resolver.
func (c *Client) SetCredential(credential string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credential = credential
}

// ListDrafts returns the current owner's drafts, from cache when the
// key's entry is warm.
func (c *Client) ListDrafts(ctx context.Context) ([]models.ServerDraft, error) {
	id, epoch, err := c.resolver.Current()
	if err != nil {
		return nil, err
	}
	ownerKey := id.OwnerKey()

	c.mu.Lock()
	if cached, ok := c.listCache[ownerKey]; ok {
		out := make([]models.ServerDraft, len(cached))
		copy(out, cached)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	var drafts []models.ServerDraft
	if err := c.do(ctx, id, http.MethodGet, "/api/drafts", nil, &drafts); err != nil {
		return nil, err
	}

	// A result that resolved after an identity transition must not be
	// merged into the new key's cache.
	if c.resolver.StillCurrent(epoch) {
		c.mu.Lock()
		c.listCache[ownerKey] = drafts
		c.mu.Unlock()
	}

	out := make([]models.ServerDraft, len(drafts))
	copy(out, drafts)
	return out, nil
}

// CreateDraft stores a new server draft for the current owner.
func (c *Client) CreateDraft(ctx context.Context, req models.CreateDraftRequest) (*models.ServerDraft, error) {
	id, _, err := c.resolver.Current()
	if err != nil {
		return nil, err
	}

	var draft models.ServerDraft
	if err := c.do(ctx, id, http.MethodPost, "/api/drafts", req, &draft); err != nil {
		return nil, err
	}
	c.invalidate(id.OwnerKey())
	return &draft, nil
}

// UpdateDraft applies a partial update; only supplied fields change.
func (c *Client) UpdateDraft(ctx context.Context, draftID int64, req models.UpdateDraftRequest) (*models.ServerDraft, error) {
	id, _, err := c.resolver.Current()
	if err != nil {
		return nil, err
	}

	var draft models.ServerDraft
	path := fmt.Sprintf("/api/drafts/%d", draftID)
	if err := c.do(ctx, id, http.MethodPut, path, req, &draft); err != nil {
		return nil, err
	}
	c.invalidate(id.OwnerKey())
	return &draft, nil
}

// DeleteDraft removes a server draft.
func (c *Client) DeleteDraft(ctx context.Context, draftID int64) error {
	id, _, err := c.resolver.Current()
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/api/drafts/%d", draftID)
	if err := c.do(ctx, id, http.MethodDelete, path, nil, nil); err != nil {
		return err
	}
	c.invalidate(id.OwnerKey())
	return nil
}

// CachedList exposes the cache entry for an owner key. Used by tests
// and by the reconciliation path to decide whether a refetch is due.
func (c *Client) CachedList(ownerKey string) ([]models.ServerDraft, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cached, ok := c.listCache[ownerKey]
	return cached, ok
}

// Invalidate drops the cache entry for an owner key. The event stream
// handler calls this when another tab reports a mutation.
func (c *Client) Invalidate(ownerKey string) {
	c.invalidate(ownerKey)
}

func (c *Client) invalidate(ownerKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.listCache, ownerKey)
}

// do performs one JSON round-trip, attaching the identity mechanism
// the variant calls for: ambient credential cookie for authenticated
// users, session header for anonymous sessions.
func (c *Client) do(ctx context.Context, id identity.Identity, method, path string, body, out interface{}) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return apperrors.NewFetchError("serialize request", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperrors.NewFetchError("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	switch ident := id.(type) {
	case identity.Anonymous:
		req.Header.Set("X-Session-ID", ident.SessionID)
	case identity.Authenticated:
		c.mu.Lock()
		credential := c.credential
		c.mu.Unlock()
		req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: credential})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NewFetchError("draft store unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeFailure(resp)
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.NewFetchError("decode response", err)
		}
	}
	return nil
}

// decodeFailure maps a non-2xx response to the error taxonomy: a
// structured 400 reason becomes a ValidationError, anything else a
// FetchError. A body that does not parse degrades to a generic message.
func decodeFailure(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	reason := ""
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		reason = body.Error
	}

	if resp.StatusCode == http.StatusBadRequest && reason != "" {
		return apperrors.NewValidationError(reason, nil)
	}
	if reason == "" {
		reason = fmt.Sprintf("request failed with status %d", resp.StatusCode)
	}
	return apperrors.NewFetchError(reason, nil)
}
