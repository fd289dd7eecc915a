package querycache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore is an in-process LRU. maxEntries <= 0 disables size eviction
// and ttl <= 0 disables expiry.
type MemoryStore struct {
	lru *expirable.LRU[string, Entry]
}

func NewMemoryStore(maxEntries int, ttl time.Duration) *MemoryStore {
	if maxEntries < 0 {
		maxEntries = 0
	}
	return &MemoryStore{lru: expirable.NewLRU[string, Entry](maxEntries, nil, ttl)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Entry, error) {
	entry, ok := s.lru.Get(key)
	if !ok {
		return Entry{}, ErrMiss
	}
	return entry, nil
}

// Put stores entry under key. Writing the same entry again only marks it
// recently used and keeps its original expiry.
func (s *MemoryStore) Put(_ context.Context, key string, entry Entry) error {
	if _, err := encodeEntry(entry); err != nil {
		return err
	}
	if current, ok := s.lru.Peek(key); ok && current == entry {
		s.lru.Get(key)
		return nil
	}
	s.lru.Add(key, entry)
	return nil
}

func (s *MemoryStore) Len() int { return s.lru.Len() }

func (s *MemoryStore) Close() error {
	s.lru.Purge()
	return nil
}
