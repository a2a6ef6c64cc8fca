package jwtauth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

func slogDiscard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func genRSA(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	return pk
}

func publicJWK(t *testing.T, pk *rsa.PrivateKey, kid string) json.RawMessage {
	t.Helper()
	jwk := jose.JSONWebKey{Key: &pk.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"}
	b, err := jwk.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal jwk: %v", err)
	}
	return b
}

func jwksDoc(t *testing.T, entries ...json.RawMessage) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{"keys": entries})
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return b
}

func signToken(t *testing.T, pk *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(pk)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func baseClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": "https://idp.example",
		"sub": "user-123",
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	}
}

func baseOptions() Options {
	return Options{Algorithms: []string{"RS256"}, KeyIDClaim: "kid"}
}

func mustDecode(t *testing.T, tok string) *Unverified {
	t.Helper()
	u, err := DecodeUnverified(tok)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return u
}

func mustKeys(t *testing.T, doc []byte) KeySet {
	t.Helper()
	ks, err := ParseKeySet(context.Background(), slogDiscard(), doc, "kid")
	if err != nil {
		t.Fatalf("parse keyset: %v", err)
	}
	return ks
}

func TestDecodeUnverified(t *testing.T) {
	pk := genRSA(t)
	tok := signToken(t, pk, "k1", baseClaims())

	u, err := DecodeUnverified(tok)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if iss, ok := u.StringClaim("iss"); !ok || iss != "https://idp.example" {
		t.Fatalf("iss = %q, %v", iss, ok)
	}
	if kid, ok := u.HeaderValue("kid"); !ok || kid != "k1" {
		t.Fatalf("kid = %q, %v", kid, ok)
	}
	if u.Algorithm() != "RS256" {
		t.Fatalf("alg = %q", u.Algorithm())
	}
	if _, ok := u.StringClaim("missing"); ok {
		t.Fatalf("expected missing claim to be absent")
	}
}

func TestDecodeUnverified_Malformed(t *testing.T) {
	for _, tok := range []string{"", "abc", "a.b", "!!!.@@@.###", "eyJhbGciOiJSUzI1NiJ9.bm90LWpzb24.sig"} {
		if _, err := DecodeUnverified(tok); !errors.Is(err, ErrMalformed) {
			t.Fatalf("token %q: want ErrMalformed, got %v", tok, err)
		}
	}
}

func TestParseKeySet_SkipsBadEntries(t *testing.T) {
	pk := genRSA(t)
	ec, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("gen ec: %v", err)
	}
	privJWK, err := jose.JSONWebKey{Key: ec, KeyID: "private"}.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal private jwk: %v", err)
	}
	doc := jwksDoc(t,
		json.RawMessage(`{"kty":"nonsense","kid":"bad"}`),
		publicJWK(t, pk, "good"),
		privJWK,
		json.RawMessage(`{"kty":"oct","kid":"sym","k":"c2VjcmV0"}`),
	)

	ks := mustKeys(t, doc)
	if len(ks) != 1 || ks[0].ID != "good" {
		t.Fatalf("want only the public key, got %+v", ks)
	}
}

func TestParseKeySet_CustomKeyIDMember(t *testing.T) {
	pk := genRSA(t)
	var entry map[string]any
	if err := json.Unmarshal(publicJWK(t, pk, "standard"), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	entry["key_ref"] = "custom"
	raw, _ := json.Marshal(entry)

	ks, err := ParseKeySet(context.Background(), slogDiscard(), jwksDoc(t, raw), "key_ref")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := ks.Lookup("custom"); !ok {
		t.Fatalf("expected lookup by custom member to succeed: %+v", ks)
	}
}

func TestParseKeySet_NotAKeySet(t *testing.T) {
	if _, err := ParseKeySet(context.Background(), slogDiscard(), []byte(`<html>`), "kid"); err == nil {
		t.Fatalf("expected error for non-JSON document")
	}
	if _, err := ParseKeySet(context.Background(), slogDiscard(), []byte(`{"issuer":"x"}`), "kid"); err == nil {
		t.Fatalf("expected error for document without keys")
	}
}

func TestVerifyWithKeys_KidNotFound(t *testing.T) {
	pk := genRSA(t)
	ks := mustKeys(t, jwksDoc(t, publicJWK(t, pk, "a"), publicJWK(t, pk, "b")))
	tok := signToken(t, pk, "zzz", baseClaims())

	v := &PublicKeyVerifier{}
	res, err := v.VerifyWithKeys(context.Background(), tok, mustDecode(t, tok), ks, baseOptions())
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("want ErrKeyNotFound, got %v", err)
	}
	if res.Tried != 0 {
		t.Fatalf("no key should be attempted, tried %d", res.Tried)
	}
}

func TestVerifyWithKeys_KidPresentButEmpty(t *testing.T) {
	ka, kb := genRSA(t), genRSA(t)
	ks := mustKeys(t, jwksDoc(t, publicJWK(t, ka, "a"), publicJWK(t, kb, "b")))

	for name, kid := range map[string]any{"empty": "", "number": 7, "null": nil} {
		t.Run(name, func(t *testing.T) {
			tk := jwt.NewWithClaims(jwt.SigningMethodRS256, baseClaims())
			tk.Header["kid"] = kid
			tok, err := tk.SignedString(kb)
			if err != nil {
				t.Fatalf("sign: %v", err)
			}

			v := &PublicKeyVerifier{}
			res, err := v.VerifyWithKeys(context.Background(), tok, mustDecode(t, tok), ks, baseOptions())
			if !errors.Is(err, ErrKeyNotFound) {
				t.Fatalf("want ErrKeyNotFound, got %v", err)
			}
			if res.Tried != 0 {
				t.Fatalf("no key should be attempted, tried %d", res.Tried)
			}
		})
	}
}

func TestVerifyWithKeys_NoKidTriesInOrder(t *testing.T) {
	k1, k2, k3 := genRSA(t), genRSA(t), genRSA(t)
	ks := mustKeys(t, jwksDoc(t, publicJWK(t, k1, "one"), publicJWK(t, k2, "two"), publicJWK(t, k3, "three")))
	tok := signToken(t, k2, "", baseClaims())

	opts := baseOptions()
	opts.AddKeyToClaims = true
	v := &PublicKeyVerifier{}
	res, err := v.VerifyWithKeys(context.Background(), tok, mustDecode(t, tok), ks, opts)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Tried != 2 {
		t.Fatalf("want 2 attempts (stop at first success), got %d", res.Tried)
	}
	if res.Key == nil || res.Key.ID != "two" {
		t.Fatalf("want key two, got %+v", res.Key)
	}
	if !strings.HasPrefix(res.PEM, "-----BEGIN PUBLIC KEY-----") {
		t.Fatalf("expected PEM, got %q", res.PEM)
	}
	if res.Claims["sub"] != "user-123" {
		t.Fatalf("claims not returned: %v", res.Claims)
	}
}

func TestVerifyWithKeys_NoKidNoMatch(t *testing.T) {
	k1, k2, signer := genRSA(t), genRSA(t), genRSA(t)
	ks := mustKeys(t, jwksDoc(t, publicJWK(t, k1, "one"), publicJWK(t, k2, "two")))
	tok := signToken(t, signer, "", baseClaims())

	v := &PublicKeyVerifier{}
	res, err := v.VerifyWithKeys(context.Background(), tok, mustDecode(t, tok), ks, baseOptions())
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("want ErrRejected, got %v", err)
	}
	if res.Tried != 2 {
		t.Fatalf("want every key tried, got %d", res.Tried)
	}
}

func TestVerifyWithKeys_MatchingKidBadSignature(t *testing.T) {
	published, signer := genRSA(t), genRSA(t)
	ks := mustKeys(t, jwksDoc(t, publicJWK(t, published, "k1")))
	tok := signToken(t, signer, "k1", baseClaims())

	v := &PublicKeyVerifier{}
	res, err := v.VerifyWithKeys(context.Background(), tok, mustDecode(t, tok), ks, baseOptions())
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("want ErrRejected, got %v", err)
	}
	if res.Tried != 1 {
		t.Fatalf("want 1 attempt, got %d", res.Tried)
	}
}

func TestVerifyWithKeys_Expired(t *testing.T) {
	pk := genRSA(t)
	ks := mustKeys(t, jwksDoc(t, publicJWK(t, pk, "k1")))
	claims := baseClaims()
	claims["exp"] = time.Now().Add(-time.Hour).Unix()
	tok := signToken(t, pk, "k1", claims)

	v := &PublicKeyVerifier{}
	if _, err := v.VerifyWithKeys(context.Background(), tok, mustDecode(t, tok), ks, baseOptions()); !errors.Is(err, ErrRejected) {
		t.Fatalf("want ErrRejected for expired token, got %v", err)
	}

	opts := baseOptions()
	opts.AllowExpired = true
	if _, err := v.VerifyWithKeys(context.Background(), tok, mustDecode(t, tok), ks, opts); err != nil {
		t.Fatalf("allow_expired should accept expired token: %v", err)
	}
}

func TestVerifyWithKeys_ExpiredStopsKeyLoop(t *testing.T) {
	k1, k2 := genRSA(t), genRSA(t)
	ks := mustKeys(t, jwksDoc(t, publicJWK(t, k1, "one"), publicJWK(t, k2, "two")))
	claims := baseClaims()
	claims["exp"] = time.Now().Add(-time.Hour).Unix()
	tok := signToken(t, k1, "", claims)

	v := &PublicKeyVerifier{}
	res, err := v.VerifyWithKeys(context.Background(), tok, mustDecode(t, tok), ks, baseOptions())
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("want ErrRejected, got %v", err)
	}
	if res.Tried != 1 {
		t.Fatalf("claim failure must be terminal, tried %d keys", res.Tried)
	}
}

func TestVerifyWithKeys_Leeway(t *testing.T) {
	pk := genRSA(t)
	ks := mustKeys(t, jwksDoc(t, publicJWK(t, pk, "k1")))
	claims := baseClaims()
	claims["exp"] = time.Now().Add(-30 * time.Second).Unix()
	tok := signToken(t, pk, "k1", claims)

	opts := baseOptions()
	opts.Leeway = time.Minute
	v := &PublicKeyVerifier{}
	if _, err := v.VerifyWithKeys(context.Background(), tok, mustDecode(t, tok), ks, opts); err != nil {
		t.Fatalf("leeway should cover recent expiry: %v", err)
	}
}

func TestVerifyWithKeys_NotBefore(t *testing.T) {
	pk := genRSA(t)
	ks := mustKeys(t, jwksDoc(t, publicJWK(t, pk, "k1")))
	claims := baseClaims()
	claims["nbf"] = time.Now().Add(time.Hour).Unix()
	tok := signToken(t, pk, "k1", claims)

	v := &PublicKeyVerifier{}
	if _, err := v.VerifyWithKeys(context.Background(), tok, mustDecode(t, tok), ks, baseOptions()); !errors.Is(err, jwt.ErrTokenNotValidYet) {
		t.Fatalf("want ErrTokenNotValidYet, got %v", err)
	}
}

func TestVerifyWithKeys_Audience(t *testing.T) {
	pk := genRSA(t)
	ks := mustKeys(t, jwksDoc(t, publicJWK(t, pk, "k1")))
	v := &PublicKeyVerifier{}

	claims := baseClaims()
	claims["aud"] = "svc-b"
	tok := signToken(t, pk, "k1", claims)

	opts := baseOptions()
	opts.Audience = []string{"svc-a"}
	if _, err := v.VerifyWithKeys(context.Background(), tok, mustDecode(t, tok), ks, opts); !errors.Is(err, ErrRejected) {
		t.Fatalf("want ErrRejected for wrong audience, got %v", err)
	}

	// Audience checking is disabled when no audience is configured.
	if _, err := v.VerifyWithKeys(context.Background(), tok, mustDecode(t, tok), ks, baseOptions()); err != nil {
		t.Fatalf("audience unset should not check aud: %v", err)
	}

	claims["aud"] = []string{"other", "svc-a"}
	tok2 := signToken(t, pk, "k1", claims)
	if _, err := v.VerifyWithKeys(context.Background(), tok2, mustDecode(t, tok2), ks, opts); err != nil {
		t.Fatalf("array audience containing svc-a should pass: %v", err)
	}
}

func TestVerifyWithKeys_DisallowedAlgorithm(t *testing.T) {
	pk := genRSA(t)
	ks := mustKeys(t, jwksDoc(t, publicJWK(t, pk, "k1")))
	tok := signToken(t, pk, "k1", baseClaims())

	opts := baseOptions()
	opts.Algorithms = []string{"ES256"}
	v := &PublicKeyVerifier{}
	res, err := v.VerifyWithKeys(context.Background(), tok, mustDecode(t, tok), ks, opts)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("want ErrRejected, got %v", err)
	}
	if res.Tried != 0 {
		t.Fatalf("no key should be tried for a disallowed alg, tried %d", res.Tried)
	}
}

func TestPublicKeyVerifier_Fetch(t *testing.T) {
	pk := genRSA(t)
	doc := jwksDoc(t, json.RawMessage(`{"kty":"RSA","kid":"broken"}`), publicJWK(t, pk, "k1"))
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	}))
	defer srv.Close()

	tok := signToken(t, pk, "k1", baseClaims())
	v := &PublicKeyVerifier{Keys: &KeySetFetcher{Client: srv.Client()}}
	res, err := v.Verify(context.Background(), tok, mustDecode(t, tok), "https://idp.example", srv.URL, baseOptions())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Key.ID != "k1" {
		t.Fatalf("want k1, got %s", res.Key.ID)
	}
	if hits.Load() != 1 {
		t.Fatalf("want exactly one JWKS fetch, got %d", hits.Load())
	}
}

func TestPublicKeyVerifier_FetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	pk := genRSA(t)
	tok := signToken(t, pk, "k1", baseClaims())
	v := &PublicKeyVerifier{Keys: &KeySetFetcher{Client: srv.Client()}}
	if _, err := v.Verify(context.Background(), tok, mustDecode(t, tok), "https://idp.example", srv.URL, baseOptions()); !errors.Is(err, ErrConnection) {
		t.Fatalf("want ErrConnection, got %v", err)
	}

	srv.Close()
	if _, err := v.Verify(context.Background(), tok, mustDecode(t, tok), "https://idp.example", srv.URL, baseOptions()); !errors.Is(err, ErrConnection) {
		t.Fatalf("want ErrConnection for unreachable endpoint, got %v", err)
	}
}

func TestVerifyUserInfo(t *testing.T) {
	var gotHeader string
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Access-Token")
		w.WriteHeader(status)
		_, _ = w.Write([]byte("not even json"))
	}))
	defer srv.Close()

	ctx := context.Background()
	if err := VerifyUserInfo(ctx, srv.Client(), srv.URL, "tok-1", "X-Access-Token", "Token"); err != nil {
		t.Fatalf("userinfo: %v", err)
	}
	if gotHeader != "Token tok-1" {
		t.Fatalf("header = %q", gotHeader)
	}

	status = http.StatusUnauthorized
	if err := VerifyUserInfo(ctx, srv.Client(), srv.URL, "tok-1", "Authorization", "Bearer"); !errors.Is(err, ErrRejected) {
		t.Fatalf("want ErrRejected for 401, got %v", err)
	}
	status = http.StatusServiceUnavailable
	if err := VerifyUserInfo(ctx, srv.Client(), srv.URL, "tok-1", "Authorization", "Bearer"); !errors.Is(err, ErrRejected) || errors.Is(err, ErrConnection) {
		t.Fatalf("want ErrRejected for 503, got %v", err)
	}

	srv.Close()
	if err := VerifyUserInfo(ctx, srv.Client(), srv.URL, "tok-1", "Authorization", "Bearer"); !errors.Is(err, ErrConnection) {
		t.Fatalf("want ErrConnection when unreachable, got %v", err)
	}
}
