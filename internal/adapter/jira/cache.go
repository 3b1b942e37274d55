package jira

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// MetadataCache is an in-process TTL cache for Jira project metadata
// (components, issue types, visible projects). Those lookups are issued
// repeatedly by the capability verifier and on component updates, and the
// underlying data changes rarely.
type MetadataCache struct {
	c   *ristretto.Cache[string, []byte]
	ttl time.Duration
}

// NewMetadataCache creates a ristretto-backed metadata cache. maxCostBytes
// is the maximum total size of cached responses in bytes.
func NewMetadataCache(maxCostBytes int64, ttl time.Duration) (*MetadataCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCostBytes / 100 * 10, // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &MetadataCache{c: c, ttl: ttl}, nil
}

func (m *MetadataCache) get(key string) ([]byte, bool) {
	if m == nil {
		return nil, false
	}
	return m.c.Get(key)
}

func (m *MetadataCache) set(key string, value []byte) {
	if m == nil {
		return
	}
	m.c.SetWithTTL(key, value, int64(len(value)), m.ttl)
}

// wait blocks until buffered writes have been applied. Admission is
// asynchronous; only tests need this determinism.
func (m *MetadataCache) wait() {
	if m != nil {
		m.c.Wait()
	}
}

// Close shuts down the cache and releases resources.
func (m *MetadataCache) Close() {
	if m != nil {
		m.c.Close()
	}
}
