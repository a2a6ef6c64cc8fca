// Package redis provides a storage.Storage backed by Redis, so that several
// validator processes can share discovery documents and key sets.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/elixir-cloud-aai/foca-sub000/storage"
)

// DefaultKeyPrefix is used when Config.KeyPrefix is empty.
const DefaultKeyPrefix = "foca:auth:"

// Config contains configuration options for the Redis storage.
type Config struct {
	// Client is the Redis client instance. Cluster and ring clients work too.
	Client redis.UniversalClient

	// KeyPrefix is prepended to every key. Default: DefaultKeyPrefix.
	KeyPrefix string
}

// Storage implements storage.Storage using Redis.
type Storage struct {
	client    redis.UniversalClient
	keyPrefix string
}

type storedItem struct {
	Data      []byte     `json:"data"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// New creates a Redis-backed store.
func New(config Config) (*Storage, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultKeyPrefix
	}
	return &Storage{
		client:    config.Client,
		keyPrefix: config.KeyPrefix,
	}, nil
}

// Get returns the live item stored under key.
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	options := storage.Apply(opts...)
	redisKey := s.buildKey(options.Namespace, key)

	raw, err := s.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get key %s: %w", redisKey, err)
	}

	var stored storedItem
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored data: %w", err)
	}
	item := &storage.Item{
		Data:      stored.Data,
		CreatedAt: stored.CreatedAt,
		ExpiresAt: stored.ExpiresAt,
	}
	// Redis expiry normally wins, but clock skew between hosts can leave a
	// stale entry visible for a moment.
	if item.IsExpired() {
		s.client.Del(ctx, redisKey)
		return nil, nil
	}
	return item, nil
}

// Set stores data under key.
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	options := storage.Apply(opts...)
	if options.TTL != nil && *options.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive", storage.ErrInvalidOptions)
	}
	redisKey := s.buildKey(options.Namespace, key)

	now := time.Now()
	stored := storedItem{Data: data, CreatedAt: now}
	var redisTTL time.Duration
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		stored.ExpiresAt = &expiresAt
		redisTTL = *options.TTL
	}

	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal storage item: %w", err)
	}
	if err := s.client.Set(ctx, redisKey, payload, redisTTL).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", redisKey, err)
	}
	return nil
}

// Delete removes one key or every key of a namespace.
func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	options := storage.Apply(opts...)

	if options.Key != nil {
		redisKey := s.buildKey(options.Namespace, *options.Key)
		if err := s.client.Del(ctx, redisKey).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", redisKey, err)
		}
		return nil
	}

	pattern := s.namespacePrefix(options.Namespace) + "*"
	keys, err := s.scanKeys(ctx, pattern)
	if err != nil {
		return fmt.Errorf("failed to scan keys for pattern %s: %w", pattern, err)
	}
	if len(keys) > 0 {
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete keys: %w", err)
		}
	}
	return nil
}

// Close closes the underlying client.
func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) buildKey(ns storage.Namespace, key string) string {
	return s.namespacePrefix(ns) + key
}

func (s *Storage) namespacePrefix(ns storage.Namespace) string {
	switch ns := ns.(type) {
	case storage.IssuerNamespace:
		return s.keyPrefix + "issuer:" + ns.Segment() + ":"
	default:
		return s.keyPrefix + "global:"
	}
}

func (s *Storage) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

var _ storage.Storage = (*Storage)(nil)
