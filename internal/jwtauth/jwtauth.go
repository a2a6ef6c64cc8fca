// Package jwtauth holds the token-level verification primitives used by the
// auth package: unverified decoding, JWKS retrieval, public-key signature
// verification and user-info endpoint checks.
package jwtauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed indicates the token is not a structurally valid compact JWT.
var ErrMalformed = errors.New("jwtauth: malformed token")

// ErrKeyNotFound indicates the token names a key id absent from the issuer's key set.
var ErrKeyNotFound = errors.New("jwtauth: key not found")

// ErrConnection indicates a user-info or JWKS endpoint could not be reached
// or did not return a usable document.
var ErrConnection = errors.New("jwtauth: connection failure")

// ErrRejected indicates a verifier ran and rejected the token (bad
// signature, expired, wrong audience, non-2xx user-info response).
var ErrRejected = errors.New("jwtauth: token rejected")

// Options controls how a token is checked against an issuer's public keys.
type Options struct {
	// Algorithms lists the accepted JWS algorithms. Tokens signed with any
	// other algorithm are rejected before a key is tried.
	Algorithms []string
	// Audience, when non-empty, must intersect the token's aud claim.
	Audience     []string
	AllowExpired bool
	Leeway       time.Duration
	// KeyIDClaim names the JOSE header member (and JWK member) that
	// identifies the signing key.
	KeyIDClaim     string
	AddKeyToClaims bool
}

// Unverified is the result of decoding a token without checking its signature.
type Unverified struct {
	Header map[string]any
	Claims jwt.MapClaims
}

// DecodeUnverified base64url-decodes and JSON-parses the header and payload
// of tok. It performs no signature or claim validation.
func DecodeUnverified(tok string) (*Unverified, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrMalformed)
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(tok, jwt.MapClaims{})
	if err != nil {
		// An unknown alg is reported as unverifiable after both segments
		// decoded; the algorithm policy is applied later by the verifiers.
		if !errors.Is(err, jwt.ErrTokenUnverifiable) || parsed == nil || parsed.Header == nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || claims == nil {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrMalformed)
	}
	return &Unverified{Header: parsed.Header, Claims: claims}, nil
}

// StringClaim returns the named payload claim if it is a non-empty string.
func (u *Unverified) StringClaim(name string) (string, bool) {
	s, ok := u.Claims[name].(string)
	return s, ok && s != ""
}

// HeaderValue returns the named JOSE header member if it is a non-empty string.
func (u *Unverified) HeaderValue(name string) (string, bool) {
	s, ok := u.Header[name].(string)
	return s, ok && s != ""
}

// Algorithm returns the token's alg header.
func (u *Unverified) Algorithm() string {
	alg, _ := u.Header["alg"].(string)
	return alg
}
