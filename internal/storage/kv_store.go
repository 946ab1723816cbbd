// internal/storage/kv_store.go
package storage

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrQuotaExceeded is returned when a write would push the store past
// its configured byte quota. Mirrors a full browser storage area.
var ErrQuotaExceeded = fmt.Errorf("storage quota exceeded")

// KVStore is a file-backed key/value store with the semantics of a
// browser storage area: flat namespace-prefixed string keys, one value
// per key, synchronous durability, bounded total size. One file per
// key under BaseDir.
type KVStore struct {
	BaseDir  string
	maxBytes int64

	// per-key write locks, path -> *sync.RWMutex
	keyLocks sync.Map

	cache       map[string]*cacheEntry
	cacheMutex  sync.RWMutex
	cacheExpiry time.Duration
	maxCached   int
}

type cacheEntry struct {
	data      []byte
	timestamp time.Time
}

// DefaultQuota bounds total persisted bytes, roughly what browsers
// grant a single origin.
const DefaultQuota int64 = 5 << 20

// NewKVStore creates the store rooted at baseDir. A maxBytes of 0
// applies DefaultQuota; a negative value disables the quota.
func NewKVStore(baseDir string, maxBytes int64) (*KVStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	if maxBytes == 0 {
		maxBytes = DefaultQuota
	}
	return &KVStore{
		BaseDir:     baseDir,
		maxBytes:    maxBytes,
		cache:       make(map[string]*cacheEntry),
		cacheExpiry: 5 * time.Minute,
		maxCached:   64,
	}, nil
}

func (s *KVStore) getKeyLock(path string) *sync.RWMutex {
	value, _ := s.keyLocks.LoadOrStore(path, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

// keyPath maps an arbitrary key to a flat filename. Hex keeps the
// mapping bijective regardless of what characters the key carries.
func (s *KVStore) keyPath(key string) string {
	return filepath.Join(s.BaseDir, hex.EncodeToString([]byte(key))+".kv")
}

func pathToKey(name string) (string, bool) {
	name = strings.TrimSuffix(name, ".kv")
	raw, err := hex.DecodeString(name)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// Set writes value under key, atomically replacing any prior value.
func (s *KVStore) Set(key string, value []byte) error {
	if s.maxBytes > 0 {
		used, err := s.usedBytes(key)
		if err != nil {
			return fmt.Errorf("check quota: %w", err)
		}
		if used+int64(len(value)) > s.maxBytes {
			return ErrQuotaExceeded
		}
	}

	fullPath := s.keyPath(key)
	lock := s.getKeyLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	// Atomic write: temp file then rename.
	tempPath := fullPath + ".tmp"
	if err := os.WriteFile(tempPath, value, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tempPath, fullPath); err != nil {
		if removeErr := os.Remove(tempPath); removeErr != nil {
			fmt.Printf("warning: failed to clean up temp file %s: %v\n", tempPath, removeErr)
		}
		return fmt.Errorf("write value: %w", err)
	}

	s.updateCache(fullPath, value)
	return nil
}

// Get returns the value stored under key. The boolean reports presence.
func (s *KVStore) Get(key string) ([]byte, bool, error) {
	fullPath := s.keyPath(key)

	s.cacheMutex.RLock()
	if entry, exists := s.cache[fullPath]; exists {
		if time.Since(entry.timestamp) < s.cacheExpiry {
			s.cacheMutex.RUnlock()
			return entry.data, true, nil
		}
	}
	s.cacheMutex.RUnlock()

	lock := s.getKeyLock(fullPath)
	lock.RLock()
	defer lock.RUnlock()

	content, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read value: %w", err)
	}

	s.updateCache(fullPath, content)
	return content, true, nil
}

// Delete removes key. Deleting an absent key is a no-op.
func (s *KVStore) Delete(key string) error {
	fullPath := s.keyPath(key)
	lock := s.getKeyLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete value: %w", err)
	}
	s.invalidateCache(fullPath)
	return nil
}

// Keys returns every stored key with the given prefix, in no
// particular order.
func (s *KVStore) Keys(prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("read storage dir: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".kv") {
			continue
		}
		key, ok := pathToKey(entry.Name())
		if !ok {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// usedBytes sums stored values, excluding the key about to be replaced.
func (s *KVStore) usedBytes(excludeKey string) (int64, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		return 0, err
	}
	exclude := filepath.Base(s.keyPath(excludeKey))
	var total int64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".kv") || entry.Name() == exclude {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

func (s *KVStore) updateCache(path string, data []byte) {
	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()

	s.cache[path] = &cacheEntry{data: data, timestamp: time.Now()}

	if len(s.cache) > s.maxCached {
		type agedEntry struct {
			key       string
			timestamp time.Time
		}
		var aged []agedEntry
		for key, entry := range s.cache {
			aged = append(aged, agedEntry{key: key, timestamp: entry.timestamp})
		}
		sort.Slice(aged, func(i, j int) bool {
			return aged[i].timestamp.Before(aged[j].timestamp)
		})
		for i := 0; i < len(aged)-s.maxCached; i++ {
			delete(s.cache, aged[i].key)
		}
	}
}

func (s *KVStore) invalidateCache(path string) {
	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()

	delete(s.cache, path)
}
