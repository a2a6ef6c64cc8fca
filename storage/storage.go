// Package storage defines the cache backend used to keep provider metadata
// and key sets between validations. Entries are grouped per issuer so that
// everything learned about one provider can be dropped at once.
package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"time"
)

// Storage is a small key/value store with optional expiry.
type Storage interface {
	// Get returns the item stored under key, or nil when it is absent or
	// expired. An error is returned only for backend failures.
	Get(ctx context.Context, key string, opts ...Option) (*Item, error)

	// Set stores data under key.
	Set(ctx context.Context, key string, data []byte, opts ...Option) error

	// Delete removes a single key when WithKey is given, otherwise every key
	// in the selected namespace.
	Delete(ctx context.Context, opts ...Option) error

	// Close releases backend resources.
	Close() error
}

// Item is a stored value with its bookkeeping timestamps.
type Item struct {
	Data      []byte
	CreatedAt time.Time
	ExpiresAt *time.Time // nil means no expiry
}

// IsExpired reports whether the item is past its expiry.
func (it *Item) IsExpired() bool {
	return it.ExpiresAt != nil && time.Now().After(*it.ExpiresAt)
}

// Option configures a storage operation.
type Option func(*Options)

// Options is the resolved set of operation options.
type Options struct {
	Namespace Namespace
	Key       *string
	TTL       *time.Duration
}

// Apply resolves opts into an Options value.
func Apply(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Namespace selects a group of keys. A nil Namespace is the global one.
type Namespace interface {
	namespace()
}

// IssuerNamespace holds everything cached for one token issuer.
type IssuerNamespace struct {
	Issuer string
}

func (IssuerNamespace) namespace() {}

// Segment returns a representation of the issuer that is safe to embed in a
// backend key or glob pattern.
func (ns IssuerNamespace) Segment() string {
	return base64.RawURLEncoding.EncodeToString([]byte(ns.Issuer))
}

// WithIssuer scopes the operation to the given issuer.
func WithIssuer(issuer string) Option {
	return func(opts *Options) {
		opts.Namespace = IssuerNamespace{Issuer: issuer}
	}
}

// WithKey selects a single key for Delete.
func WithKey(key string) Option {
	return func(opts *Options) {
		opts.Key = &key
	}
}

// WithTTL sets the lifetime of the stored data.
func WithTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.TTL = &ttl
	}
}

// ErrInvalidOptions is returned when incompatible options are provided.
var ErrInvalidOptions = errors.New("storage: invalid option combination")
