package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// PublicKeyClaim is the claim under which the accepted key's PEM encoding is
// attached when Options.AddKeyToClaims is set.
const PublicKeyClaim = "public_key"

// keyOutcome classifies a single verification attempt with one key.
type keyOutcome int

const (
	// keyAccepted: the signature verified with this key.
	keyAccepted keyOutcome = iota
	// keyMismatch: the key could not verify the signature; try the next one.
	keyMismatch
	// keyRejected: the token itself is unacceptable; stop trying keys.
	keyRejected
)

func (o keyOutcome) String() string {
	switch o {
	case keyAccepted:
		return "accepted"
	case keyMismatch:
		return "mismatch"
	case keyRejected:
		return "rejected"
	}
	return "unknown"
}

// KeyResult describes the outcome of public-key verification. It is returned
// on failure too so callers can see how many keys were attempted.
type KeyResult struct {
	// Claims are the verified payload claims.
	Claims jwt.MapClaims
	// Key is the key that verified the signature.
	Key *Key
	// PEM is set when Options.AddKeyToClaims is true.
	PEM string
	// Tried counts the keys a signature check was attempted with.
	Tried int
}

// PublicKeyVerifier verifies token signatures against an issuer's JWKS.
type PublicKeyVerifier struct {
	Keys *KeySetFetcher
	Log  *slog.Logger
	// Now is used for exp/nbf checks; defaults to time.Now.
	Now func() time.Time
}

// Verify fetches the key set at jwksURL and verifies tok against it.
func (v *PublicKeyVerifier) Verify(ctx context.Context, tok string, u *Unverified, issuer, jwksURL string, opts Options) (*KeyResult, error) {
	keys, err := v.Keys.Fetch(ctx, issuer, jwksURL, opts.KeyIDClaim)
	if err != nil {
		return &KeyResult{}, err
	}
	v.log().DebugContext(ctx, "jwks.fetch.ok", slog.Int("keys", len(keys)))
	return v.VerifyWithKeys(ctx, tok, u, keys, opts)
}

// VerifyWithKeys runs the candidate-key loop against an already fetched key
// set. When the token names a key id only that key is tried; otherwise every
// key is tried in provider order until one verifies the signature.
func (v *PublicKeyVerifier) VerifyWithKeys(ctx context.Context, tok string, u *Unverified, keys KeySet, opts Options) (*KeyResult, error) {
	res := &KeyResult{}
	kidClaim := opts.KeyIDClaim
	if kidClaim == "" {
		kidClaim = "kid"
	}

	candidates := keys
	if raw, present := u.Header[kidClaim]; present {
		// A present member narrows to one key even when it cannot match.
		kid, _ := raw.(string)
		k, found := keys.Lookup(kid)
		if kid == "" || !found {
			v.log().WarnContext(ctx, "jwks.kid.missing", slog.Any("kid", raw))
			return res, fmt.Errorf("%w: %v", ErrKeyNotFound, raw)
		}
		candidates = KeySet{k}
	} else {
		v.log().DebugContext(ctx, "jwks.kid.absent", slog.Int("candidates", len(keys)))
	}

	if alg := u.Algorithm(); !slices.Contains(opts.Algorithms, alg) {
		return res, fmt.Errorf("%w: algorithm %q not accepted", ErrRejected, alg)
	}

	for i := range candidates {
		key := candidates[i]
		res.Tried++
		claims, outcome, err := tryKey(tok, key, opts.Algorithms)
		switch outcome {
		case keyMismatch:
			v.log().DebugContext(ctx, "jwks.key.mismatch", slog.String("kid", key.ID), slog.String("err", err.Error()))
			continue
		case keyRejected:
			return res, fmt.Errorf("%w: %v", ErrRejected, err)
		}

		if err := checkClaims(claims, &opts, v.now()); err != nil {
			return res, fmt.Errorf("%w: %w", ErrRejected, err)
		}
		res.Claims = claims
		res.Key = &key
		if opts.AddKeyToClaims {
			pem, err := key.PEM()
			if err != nil {
				return res, fmt.Errorf("%w: %v", ErrRejected, err)
			}
			res.PEM = pem
		}
		return res, nil
	}

	return res, fmt.Errorf("%w: signature could not be verified with any of %d key(s)", ErrRejected, len(candidates))
}

// tryKey verifies the signature of tok with a single key. Claim validation is
// left to checkClaims so that exp and aud can be configured independently.
func tryKey(tok string, key Key, algs []string) (jwt.MapClaims, keyOutcome, error) {
	parser := jwt.NewParser(jwt.WithValidMethods(algs), jwt.WithoutClaimsValidation())
	parsed, err := parser.Parse(tok, func(t *jwt.Token) (any, error) {
		if key.JWK.Algorithm != "" && key.JWK.Algorithm != t.Method.Alg() {
			return nil, fmt.Errorf("%w: key is for %s", jwt.ErrInvalidKeyType, key.JWK.Algorithm)
		}
		return key.JWK.Key, nil
	})
	switch {
	case err == nil:
		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			return nil, keyRejected, errors.New("unexpected claims type")
		}
		return claims, keyAccepted, nil
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrInvalidKeyType),
		errors.Is(err, jwt.ErrInvalidKey):
		return nil, keyMismatch, err
	default:
		return nil, keyRejected, err
	}
}

func (v *PublicKeyVerifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func (v *PublicKeyVerifier) log() *slog.Logger {
	if v.Log != nil {
		return v.Log
	}
	return slog.New(slog.DiscardHandler)
}
