// internal/services/draft_cache.go
package services

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/storyforge/draftsync/internal/models"
	"github.com/storyforge/draftsync/internal/storage"
	"github.com/storyforge/draftsync/internal/utils"
)

const draftKeyPrefix = "storyforge:draft:"

// MaxCachedDrafts bounds the local cache. Abandoned sessions stop
// accumulating past this point; the common case of one active draft is
// always resident.
const MaxCachedDrafts = 5

// DraftCache is the device-local draft store. It works without the
// network and degrades to a failure signal, never a panic, when the
// underlying storage misbehaves.
type DraftCache struct {
	store *storage.KVStore
	log   *utils.Logger

	maxDrafts int
	now       func() time.Time
}

// NewDraftCache creates the local draft store.
func NewDraftCache(store *storage.KVStore) *DraftCache {
	return &DraftCache{
		store:     store,
		log:       utils.GetLogger(),
		maxDrafts: MaxCachedDrafts,
		now:       time.Now,
	}
}

// NewDraft builds a fresh local draft with an opaque identifier.
func NewDraft(trackID, trackTitle string) *models.Draft {
	return &models.Draft{
		ID:         uuid.NewString(),
		TrackID:    trackID,
		TrackTitle: trackTitle,
		Answers:    make(map[string]string),
	}
}

// List returns every readable draft, most recently saved first.
// Corrupted entries are skipped, not fatal: a single bad write must
// not take down recovery for the rest.
func (c *DraftCache) List() []models.Draft {
	keys, err := c.store.Keys(draftKeyPrefix)
	if err != nil {
		c.log.Warnf("list drafts: %v", err)
		return nil
	}

	drafts := make([]models.Draft, 0, len(keys))
	for _, key := range keys {
		value, ok, err := c.store.Get(key)
		if err != nil || !ok {
			continue
		}
		var draft models.Draft
		if err := json.Unmarshal(value, &draft); err != nil {
			c.log.Warnf("skipping corrupted draft entry %s: %v", key, err)
			continue
		}
		if draft.ID == "" {
			continue
		}
		drafts = append(drafts, draft)
	}

	sort.Slice(drafts, func(i, j int) bool {
		return drafts[i].LastSavedAt.After(drafts[j].LastSavedAt)
	})
	return drafts
}

// Get returns the draft stored under id, if present.
func (c *DraftCache) Get(id string) (*models.Draft, bool) {
	value, ok, err := c.store.Get(draftKeyPrefix + id)
	if err != nil || !ok {
		return nil, false
	}
	var draft models.Draft
	if err := json.Unmarshal(value, &draft); err != nil {
		c.log.Warnf("corrupted draft entry %s: %v", id, err)
		return nil, false
	}
	return &draft, true
}

// Save upserts the draft, stamping lastSavedAt with the current time
// regardless of what the caller supplied. When the draft id is new and
// the cache is full, the oldest draft by lastSavedAt is evicted first.
// Returns false on any storage failure so the flow can surface a
// "save failed" state without crashing.
func (c *DraftCache) Save(draft *models.Draft) bool {
	if draft == nil || draft.ID == "" {
		return false
	}

	now := c.now()
	draft.LastSavedAt = now
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = now
	}

	if _, exists := c.Get(draft.ID); !exists {
		c.evictIfFull()
	}

	value, err := json.Marshal(draft)
	if err != nil {
		c.log.Errorf("serialize draft %s: %v", draft.ID, err)
		return false
	}
	if err := c.store.Set(draftKeyPrefix+draft.ID, value); err != nil {
		c.log.Errorf("persist draft %s: %v", draft.ID, err)
		return false
	}
	return true
}

// Delete removes the draft. Deleting an absent id is a no-op.
func (c *DraftCache) Delete(id string) {
	if err := c.store.Delete(draftKeyPrefix + id); err != nil {
		c.log.Warnf("delete draft %s: %v", id, err)
	}
}

// evictIfFull drops the single oldest draft when inserting one more
// would exceed the cap. Unreadable entries count toward the cap and
// are preferred for eviction.
func (c *DraftCache) evictIfFull() {
	keys, err := c.store.Keys(draftKeyPrefix)
	if err != nil || len(keys) < c.maxDrafts {
		return
	}

	var (
		oldestKey  string
		oldestTime time.Time
	)
	for _, key := range keys {
		value, ok, err := c.store.Get(key)
		if err != nil || !ok {
			continue
		}
		var draft models.Draft
		if err := json.Unmarshal(value, &draft); err != nil {
			// A corrupted entry is dead weight; drop it first.
			oldestKey = key
			break
		}
		if oldestKey == "" || draft.LastSavedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = draft.LastSavedAt
		}
	}

	if oldestKey != "" {
		if err := c.store.Delete(oldestKey); err != nil {
			c.log.Warnf("evict draft %s: %v", oldestKey, err)
		} else {
			c.log.Infof("evicted oldest draft %s", strings.TrimPrefix(oldestKey, draftKeyPrefix))
		}
	}
}
