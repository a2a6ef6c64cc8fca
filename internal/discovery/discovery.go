// Package discovery resolves OpenID Connect provider metadata for a token
// issuer.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/elixir-cloud-aai/foca-sub000/storage"
)

// WellKnownPath is appended to the issuer to locate its metadata document.
const WellKnownPath = "/.well-known/openid-configuration"

const cacheKey = "openid-configuration"

// ErrUnreachable indicates the metadata document could not be retrieved or
// was not a JSON object.
var ErrUnreachable = errors.New("discovery: provider metadata unreachable")

// ErrMissingEntry indicates the metadata document lacks a required entry.
var ErrMissingEntry = errors.New("discovery: metadata entry missing")

// URL returns the discovery document location for issuer. Trailing slashes
// on the issuer are removed first.
func URL(issuer string) string {
	return strings.TrimRight(issuer, "/") + WellKnownPath
}

// Metadata is a provider's discovery document.
type Metadata struct {
	Issuer           string `json:"issuer"`
	UserInfoEndpoint string `json:"userinfo_endpoint"`
	JWKSURI          string `json:"jwks_uri"`
}

// UserInfo returns the user-info endpoint or ErrMissingEntry.
func (m *Metadata) UserInfo() (string, error) {
	if m.UserInfoEndpoint == "" {
		return "", fmt.Errorf("%w: userinfo_endpoint", ErrMissingEntry)
	}
	return m.UserInfoEndpoint, nil
}

// KeySet returns the JWKS location or ErrMissingEntry.
func (m *Metadata) KeySet() (string, error) {
	if m.JWKSURI == "" {
		return "", fmt.Errorf("%w: jwks_uri", ErrMissingEntry)
	}
	return m.JWKSURI, nil
}

func parse(data []byte) (*Metadata, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.New("metadata document is not a JSON object")
	}
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, err
	}
	return &md, nil
}

// Resolver fetches provider metadata. A zero Resolver is usable.
type Resolver struct {
	Client *http.Client
	Log    *slog.Logger
	// Cache and TTL enable keeping raw documents per issuer. Both must be set.
	Cache storage.Storage
	TTL   time.Duration
}

// Resolve performs one GET against the issuer's discovery URL. The document's
// own issuer member is not required to equal issuer. Only a 200 response is
// accepted; any other status, 204 included, yields ErrUnreachable.
func (r *Resolver) Resolve(ctx context.Context, issuer string) (*Metadata, error) {
	if r.cacheEnabled() {
		item, err := r.Cache.Get(ctx, cacheKey, storage.WithIssuer(issuer))
		if err != nil {
			r.log().WarnContext(ctx, "discovery.cache.get.fail", slog.String("err", err.Error()))
		} else if item != nil {
			if md, err := parse(item.Data); err == nil {
				r.log().DebugContext(ctx, "discovery.cache.hit")
				return md, nil
			}
		}
	}

	base := strings.TrimRight(issuer, "/")
	octx := oidc.ClientContext(ctx, r.client())
	octx = oidc.InsecureIssuerURLContext(octx, base)

	provider, err := oidc.NewProvider(octx, base)
	if err != nil {
		r.log().WarnContext(ctx, "discovery.fetch.fail", slog.String("url", URL(issuer)), slog.String("err", err.Error()))
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, URL(issuer), err)
	}

	var raw json.RawMessage
	if err := provider.Claims(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	md, err := parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	r.log().DebugContext(ctx, "discovery.fetch.ok", slog.String("url", URL(issuer)))

	if r.cacheEnabled() {
		if err := r.Cache.Set(ctx, cacheKey, raw, storage.WithIssuer(issuer), storage.WithTTL(r.TTL)); err != nil {
			r.log().WarnContext(ctx, "discovery.cache.set.fail", slog.String("err", err.Error()))
		}
	}
	return md, nil
}

func (r *Resolver) cacheEnabled() bool {
	return r.Cache != nil && r.TTL > 0
}

func (r *Resolver) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return http.DefaultClient
}

func (r *Resolver) log() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.New(slog.DiscardHandler)
}
