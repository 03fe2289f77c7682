package web

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/JonMunkholm/dedupeit/internal/core"
)

// ExpansionStore remembers which groups each viewer has expanded, per
// dataset. Entries expire after the TTL; a new dataset starts collapsed
// because its id is part of the key.
type ExpansionStore struct {
	mu    sync.Mutex // serialises read-modify-write toggles
	cache *cache.Cache
}

// NewExpansionStore creates a store whose entries live for ttl after last use.
func NewExpansionStore(ttl, cleanup time.Duration) *ExpansionStore {
	return &ExpansionStore{cache: cache.New(ttl, cleanup)}
}

func expansionKey(datasetID, viewerID string) string {
	return datasetID + "/" + viewerID
}

// Get returns a copy of the viewer's expansion set; empty if none is stored.
func (s *ExpansionStore) Get(datasetID, viewerID string) core.ExpansionSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(expansionKey(datasetID, viewerID)).Clone()
}

// Toggle flips a group for the viewer and reports whether it is now expanded.
func (s *ExpansionStore) Toggle(datasetID, viewerID, groupID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := expansionKey(datasetID, viewerID)
	set := s.load(key).Clone()
	open := set.Toggle(groupID)
	s.cache.Set(key, set, cache.DefaultExpiration)
	return open
}

// Set replaces the viewer's expansion set.
func (s *ExpansionStore) Set(datasetID, viewerID string, set core.ExpansionSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Set(expansionKey(datasetID, viewerID), set.Clone(), cache.DefaultExpiration)
}

// Len returns the number of live entries.
func (s *ExpansionStore) Len() int {
	return s.cache.ItemCount()
}

func (s *ExpansionStore) load(key string) core.ExpansionSet {
	if v, ok := s.cache.Get(key); ok {
		return v.(core.ExpansionSet)
	}
	return core.NewExpansionSet()
}
