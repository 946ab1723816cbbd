// internal/session/session.go
package session

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	apperrors "github.com/storyforge/draftsync/internal/errors"
	"github.com/storyforge/draftsync/internal/storage"
)

// Key under which the anonymous session identifier persists.
const sessionKey = "storyforge:session_id"

// Provider hands out the stable anonymous session identifier for this
// device. The identifier is generated once, persisted, and returned
// unchanged for the life of the storage; anonymous server drafts are
// keyed by it, so it must never silently change.
type Provider struct {
	store *storage.KVStore

	mu     sync.Mutex
	cached string
}

// NewProvider creates a provider on top of the local store.
func NewProvider(store *storage.KVStore) *Provider {
	return &Provider{store: store}
}

// SessionID returns the persisted identifier, generating it on first
// use: 32 cryptographically random bytes, lowercase hex. Generation or
// persistence failure is fatal to the calling flow; a weak substitute
// identifier is never produced.
func (p *Provider) SessionID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != "" {
		return p.cached, nil
	}

	value, ok, err := p.store.Get(sessionKey)
	if err != nil {
		return "", apperrors.NewIdentityError("read session identifier", err)
	}
	if ok && len(value) == 64 {
		p.cached = string(value)
		return p.cached, nil
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", apperrors.NewIdentityError("generate session identifier", err)
	}
	id := hex.EncodeToString(raw)

	if err := p.store.Set(sessionKey, []byte(id)); err != nil {
		return "", apperrors.NewIdentityError("persist session identifier", err)
	}

	p.cached = id
	return id, nil
}
