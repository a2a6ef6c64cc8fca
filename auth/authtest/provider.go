package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// Provider is an in-process identity provider serving a discovery document,
// a user-info endpoint and a JWKS. Hit counters let tests assert which
// endpoints a validation touched.
type Provider struct {
	Server *httptest.Server
	// Issuer is the server URL; tokens from Claims carry it as iss.
	Issuer string

	mu              sync.Mutex
	keys            []json.RawMessage
	discoveryStatus int
	userInfoStatus  int
	omitUserInfo    bool
	omitJWKS        bool
	userInfoHeader  http.Header

	discoveryHits atomic.Int32
	userInfoHits  atomic.Int32
	jwksHits      atomic.Int32
}

// NewProvider starts a Provider that is shut down when t finishes.
func NewProvider(t testing.TB) *Provider {
	t.Helper()
	p := &Provider{discoveryStatus: http.StatusOK, userInfoStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", p.serveDiscovery)
	mux.HandleFunc("/userinfo", p.serveUserInfo)
	mux.HandleFunc("/jwks", p.serveJWKS)
	p.Server = httptest.NewServer(mux)
	p.Issuer = p.Server.URL
	t.Cleanup(p.Server.Close)
	return p
}

func (p *Provider) serveDiscovery(w http.ResponseWriter, r *http.Request) {
	p.discoveryHits.Add(1)
	p.mu.Lock()
	status, omitUI, omitJWKS := p.discoveryStatus, p.omitUserInfo, p.omitJWKS
	p.mu.Unlock()
	if status != http.StatusOK {
		http.Error(w, "unavailable", status)
		return
	}
	doc := map[string]any{"issuer": p.Issuer}
	if !omitUI {
		doc["userinfo_endpoint"] = p.Issuer + "/userinfo"
	}
	if !omitJWKS {
		doc["jwks_uri"] = p.Issuer + "/jwks"
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

func (p *Provider) serveUserInfo(w http.ResponseWriter, r *http.Request) {
	p.userInfoHits.Add(1)
	p.mu.Lock()
	p.userInfoHeader = r.Header.Clone()
	status := p.userInfoStatus
	p.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{}`))
}

func (p *Provider) serveJWKS(w http.ResponseWriter, r *http.Request) {
	p.jwksHits.Add(1)
	p.mu.Lock()
	keys := append([]json.RawMessage{}, p.keys...)
	p.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"keys": keys})
}

// GenerateKey creates an RSA key and publishes its public half under kid.
// An empty kid publishes the key without a key id.
func (p *Provider) GenerateKey(t testing.TB, kid string) *rsa.PrivateKey {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	p.PublishKey(t, kid, &pk.PublicKey)
	return pk
}

// PublishKey appends pub to the JWKS.
func (p *Provider) PublishKey(t testing.TB, kid string, pub *rsa.PublicKey) {
	t.Helper()
	b, err := jose.JSONWebKey{Key: pub, KeyID: kid, Algorithm: "RS256", Use: "sig"}.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal jwk: %v", err)
	}
	p.PublishRaw(b)
}

// PublishRaw appends an arbitrary JWKS entry, e.g. a malformed one.
func (p *Provider) PublishRaw(entry json.RawMessage) {
	p.mu.Lock()
	p.keys = append(p.keys, entry)
	p.mu.Unlock()
}

// Claims returns a valid claim set for sub issued by p.
func (p *Provider) Claims(sub string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": p.Issuer,
		"sub": sub,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
}

// Sign signs claims with key using RS256, setting the kid header when kid is
// non-empty.
func (p *Provider) Sign(t testing.TB, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func (p *Provider) SetDiscoveryStatus(code int) {
	p.mu.Lock()
	p.discoveryStatus = code
	p.mu.Unlock()
}

func (p *Provider) SetUserInfoStatus(code int) {
	p.mu.Lock()
	p.userInfoStatus = code
	p.mu.Unlock()
}

// OmitEndpoints removes userinfo_endpoint and/or jwks_uri from the
// discovery document.
func (p *Provider) OmitEndpoints(userInfo, jwks bool) {
	p.mu.Lock()
	p.omitUserInfo, p.omitJWKS = userInfo, jwks
	p.mu.Unlock()
}

// UserInfoHeader returns the headers of the last user-info request.
func (p *Provider) UserInfoHeader() http.Header {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userInfoHeader.Clone()
}

func (p *Provider) DiscoveryHits() int { return int(p.discoveryHits.Load()) }
func (p *Provider) UserInfoHits() int  { return int(p.userInfoHits.Load()) }
func (p *Provider) JWKSHits() int      { return int(p.jwksHits.Load()) }

// Hits is the total number of requests served.
func (p *Provider) Hits() int {
	return p.DiscoveryHits() + p.UserInfoHits() + p.JWKSHits()
}
