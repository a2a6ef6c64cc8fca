package jwtauth

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/elixir-cloud-aai/foca-sub000/storage"
)

// maxKeySetSize bounds how much of a JWKS response is read.
const maxKeySetSize = 1 << 20

// Key is a single public verification key published by an issuer.
type Key struct {
	// ID is the value of the configured key-id member of the JWK entry. It
	// may be empty when the provider publishes anonymous keys.
	ID  string
	JWK jose.JSONWebKey
}

// PEM returns the SubjectPublicKeyInfo PEM encoding of the key.
func (k Key) PEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(k.JWK.Key)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// KeySet is an ordered list of keys in the order the provider returned them.
type KeySet []Key

// Lookup returns the key whose id equals kid.
func (ks KeySet) Lookup(kid string) (Key, bool) {
	for _, k := range ks {
		if k.ID == kid {
			return k, true
		}
	}
	return Key{}, false
}

// ParseKeySet decodes a JWKS document. Each entry is decoded on its own:
// entries that fail to decode or that are not public keys are logged and
// skipped. Only a document that is not a JWKS at all is an error.
func ParseKeySet(ctx context.Context, log *slog.Logger, data []byte, kidClaim string) (KeySet, error) {
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}
	if doc.Keys == nil {
		return nil, errors.New("decode jwks: missing keys member")
	}
	if kidClaim == "" {
		kidClaim = "kid"
	}

	keys := make(KeySet, 0, len(doc.Keys))
	for i, raw := range doc.Keys {
		var jwk jose.JSONWebKey
		if err := jwk.UnmarshalJSON(raw); err != nil {
			log.WarnContext(ctx, "jwks.key.skip", slog.Int("index", i), slog.String("err", err.Error()))
			continue
		}
		if !jwk.IsPublic() {
			log.WarnContext(ctx, "jwks.key.skip", slog.Int("index", i), slog.String("kid", jwk.KeyID), slog.String("err", "not a public key"))
			continue
		}
		id := jwk.KeyID
		if kidClaim != "kid" {
			var members map[string]any
			if err := json.Unmarshal(raw, &members); err == nil {
				id, _ = members[kidClaim].(string)
			}
		}
		keys = append(keys, Key{ID: id, JWK: jwk})
	}
	return keys, nil
}

// KeySetFetcher retrieves an issuer's JWKS. When Cache is set, raw documents
// are kept under the issuer's namespace for at most TTL.
type KeySetFetcher struct {
	Client *http.Client
	Log    *slog.Logger
	Cache  storage.Storage
	TTL    time.Duration
}

// Fetch performs a single GET against jwksURL (or serves it from cache) and
// parses the document.
func (f *KeySetFetcher) Fetch(ctx context.Context, issuer, jwksURL, kidClaim string) (KeySet, error) {
	cacheKey := "jwks:" + jwksURL
	if f.Cache != nil {
		item, err := f.Cache.Get(ctx, cacheKey, storage.WithIssuer(issuer))
		if err != nil {
			f.log().WarnContext(ctx, "jwks.cache.get.fail", slog.String("err", err.Error()))
		} else if item != nil {
			if keys, err := ParseKeySet(ctx, f.log(), item.Data, kidClaim); err == nil {
				f.log().DebugContext(ctx, "jwks.cache.hit")
				return keys, nil
			}
		}
	}

	data, err := f.download(ctx, jwksURL)
	if err != nil {
		return nil, err
	}
	keys, err := ParseKeySet(ctx, f.log(), data, kidClaim)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnection, jwksURL, err)
	}

	if f.Cache != nil && f.TTL > 0 {
		if err := f.Cache.Set(ctx, cacheKey, data, storage.WithIssuer(issuer), storage.WithTTL(f.TTL)); err != nil {
			f.log().WarnContext(ctx, "jwks.cache.set.fail", slog.String("err", err.Error()))
		}
	}
	return keys, nil
}

func (f *KeySetFetcher) download(ctx context.Context, jwksURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned %s", ErrConnection, jwksURL, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrConnection, jwksURL, err)
	}
	return data, nil
}

func (f *KeySetFetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

func (f *KeySetFetcher) log() *slog.Logger {
	if f.Log != nil {
		return f.Log
	}
	return slog.New(slog.DiscardHandler)
}
