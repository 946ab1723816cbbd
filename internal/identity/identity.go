// internal/identity/identity.go
package identity

import (
	"fmt"
	"sync"
)

// Identity is the tagged owner of server-side drafts: either an
// authenticated user or an anonymous browser session. Each variant
// derives its own owner key, so call sites never branch on a flag.
type Identity interface {
	// OwnerKey derives the cache-partitioning key for this identity.
	OwnerKey() string
	isIdentity()
}

// Anonymous is a device-scoped identity backed by the persisted
// session identifier.
type Anonymous struct {
	SessionID string
}

func (a Anonymous) OwnerKey() string { return "session:" + a.SessionID }
func (Anonymous) isIdentity()        {}

// Authenticated is a logged-in user identity.
type Authenticated struct {
	UserID string
}

func (a Authenticated) OwnerKey() string { return "user:" + a.UserID }
func (Authenticated) isIdentity()        {}

// SessionSource yields the anonymous session identifier on demand.
type SessionSource interface {
	SessionID() (string, error)
}

// Resolver computes the effective identity on every call, never
// caching a derived key across an auth transition. The epoch counter
// advances on each transition; in-flight operations stamped with an
// older epoch must drop their results instead of merging them into the
// new key's cache.
type Resolver struct {
	sessions SessionSource

	mu     sync.Mutex
	userID string
	epoch  int64
}

// NewResolver creates a resolver that starts anonymous.
func NewResolver(sessions SessionSource) *Resolver {
	return &Resolver{sessions: sessions}
}

// Current returns the effective identity and the epoch it was derived
// under.
func (r *Resolver) Current() (Identity, int64, error) {
	r.mu.Lock()
	userID, epoch := r.userID, r.epoch
	r.mu.Unlock()

	if userID != "" {
		return Authenticated{UserID: userID}, epoch, nil
	}
	sessionID, err := r.sessions.SessionID()
	if err != nil {
		return nil, epoch, err
	}
	return Anonymous{SessionID: sessionID}, epoch, nil
}

// OwnerKey derives the current cache-partitioning key.
func (r *Resolver) OwnerKey() (string, error) {
	id, _, err := r.Current()
	if err != nil {
		return "", err
	}
	return id.OwnerKey(), nil
}

// Epoch reports the current identity epoch.
func (r *Resolver) Epoch() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch
}

// StillCurrent reports whether an operation started under epoch may
// still apply its results.
func (r *Resolver) StillCurrent(epoch int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch == epoch
}

// Authenticate flips the resolver to an authenticated identity. The
// transition happens at most once per flow; flipping to a different
// user or back to anonymous mid-flow is a programming error.
func (r *Resolver) Authenticate(userID string) error {
	if userID == "" {
		return fmt.Errorf("empty user id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.userID == userID {
		return nil
	}
	if r.userID != "" {
		return fmt.Errorf("identity already authenticated as %q", r.userID)
	}
	r.userID = userID
	r.epoch++
	return nil
}
