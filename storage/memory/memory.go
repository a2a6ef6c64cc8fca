// Package memory provides an in-process storage.Storage backed by
// github.com/hashicorp/golang-lru/v2. Expired entries are dropped lazily on
// read and by a periodic sweep.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/elixir-cloud-aai/foca-sub000/storage"
)

const sweepInterval = 5 * time.Minute

// Storage implements storage.Storage in memory.
type Storage struct {
	mu    sync.RWMutex
	cache *lru.Cache[string, *storage.Item]

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a store holding at most maxItems entries.
func New(maxItems int) (*Storage, error) {
	cache, err := lru.New[string, *storage.Item](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	s := &Storage{
		cache: cache,
		done:  make(chan struct{}),
	}
	go s.sweep()

	return s, nil
}

// Get returns the live item stored under key.
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	options := storage.Apply(opts...)
	storageKey := buildKey(options.Namespace, key)

	s.mu.RLock()
	item, exists := s.cache.Get(storageKey)
	s.mu.RUnlock()

	if !exists {
		return nil, nil
	}
	if item.IsExpired() {
		s.mu.Lock()
		s.cache.Remove(storageKey)
		s.mu.Unlock()
		return nil, nil
	}
	return item, nil
}

// Set stores a copy of data under key.
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	options := storage.Apply(opts...)
	if options.TTL != nil && *options.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive", storage.ErrInvalidOptions)
	}

	now := time.Now()
	item := &storage.Item{
		Data:      make([]byte, len(data)),
		CreatedAt: now,
	}
	copy(item.Data, data)
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
	}

	s.mu.Lock()
	s.cache.Add(buildKey(options.Namespace, key), item)
	s.mu.Unlock()
	return nil
}

// Delete removes one key or a whole namespace.
func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	options := storage.Apply(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()

	if options.Key != nil {
		s.cache.Remove(buildKey(options.Namespace, *options.Key))
		return nil
	}
	prefix := namespacePrefix(options.Namespace)
	for _, key := range s.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.cache.Remove(key)
		}
	}
	return nil
}

// Close purges the cache and stops the sweeper.
func (s *Storage) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	s.mu.Lock()
	s.cache.Purge()
	s.mu.Unlock()
	return nil
}

// Len returns the number of entries currently held, expired or not.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Len()
}

func buildKey(ns storage.Namespace, key string) string {
	return namespacePrefix(ns) + "key:" + key
}

func namespacePrefix(ns storage.Namespace) string {
	switch ns := ns.(type) {
	case storage.IssuerNamespace:
		return "issuer:" + ns.Segment() + ":"
	case nil:
		return "global:"
	default:
		return "unknown:"
	}
}

func (s *Storage) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
		s.mu.Lock()
		now := time.Now()
		for _, key := range s.cache.Keys() {
			if item, ok := s.cache.Peek(key); ok && item.ExpiresAt != nil && now.After(*item.ExpiresAt) {
				s.cache.Remove(key)
			}
		}
		s.mu.Unlock()
	}
}

var _ storage.Storage = (*Storage)(nil)
