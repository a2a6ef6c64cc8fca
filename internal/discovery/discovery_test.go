package discovery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/elixir-cloud-aai/foca-sub000/storage"
	"github.com/elixir-cloud-aai/foca-sub000/storage/memory"
)

type mockIdP struct {
	srv    *httptest.Server
	hits   atomic.Int32
	status int
	body   string
	ctype  string
}

func newMockIdP(t *testing.T) *mockIdP {
	t.Helper()
	m := &mockIdP{status: http.StatusOK, ctype: "application/json"}
	mux := http.NewServeMux()
	mux.HandleFunc(WellKnownPath, func(w http.ResponseWriter, r *http.Request) {
		m.hits.Add(1)
		w.Header().Set("Content-Type", m.ctype)
		w.WriteHeader(m.status)
		_, _ = w.Write([]byte(m.body))
	})
	m.srv = httptest.NewServer(mux)
	t.Cleanup(m.srv.Close)
	m.body = `{"issuer":"https://somewhere-else.example","userinfo_endpoint":"` + m.srv.URL + `/userinfo","jwks_uri":"` + m.srv.URL + `/jwks","scopes_supported":["openid"]}`
	return m
}

func TestURL(t *testing.T) {
	for in, want := range map[string]string{
		"https://idp.example":             "https://idp.example/.well-known/openid-configuration",
		"https://idp.example/":            "https://idp.example/.well-known/openid-configuration",
		"https://idp.example/realms/x///": "https://idp.example/realms/x/.well-known/openid-configuration",
	} {
		if got := URL(in); got != want {
			t.Fatalf("URL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolve(t *testing.T) {
	m := newMockIdP(t)
	r := &Resolver{Client: m.srv.Client()}

	md, err := r.Resolve(context.Background(), m.srv.URL+"/")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if md.UserInfoEndpoint != m.srv.URL+"/userinfo" || md.JWKSURI != m.srv.URL+"/jwks" {
		t.Fatalf("unexpected metadata: %+v", md)
	}
	if m.hits.Load() != 1 {
		t.Fatalf("want one request, got %d", m.hits.Load())
	}
}

func TestResolve_MissingEntries(t *testing.T) {
	m := newMockIdP(t)
	m.body = `{"issuer":"x"}`
	md, err := (&Resolver{Client: m.srv.Client()}).Resolve(context.Background(), m.srv.URL)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := md.UserInfo(); !errors.Is(err, ErrMissingEntry) {
		t.Fatalf("want ErrMissingEntry, got %v", err)
	}
	if _, err := md.KeySet(); !errors.Is(err, ErrMissingEntry) {
		t.Fatalf("want ErrMissingEntry, got %v", err)
	}
}

func TestResolve_Failures(t *testing.T) {
	cases := map[string]func(m *mockIdP){
		"server error": func(m *mockIdP) { m.status = http.StatusInternalServerError },
		"not found":    func(m *mockIdP) { m.status = http.StatusNotFound },
		"no content":   func(m *mockIdP) { m.status = http.StatusNoContent; m.body = "" },
		"html body":    func(m *mockIdP) { m.body = "<html></html>"; m.ctype = "text/html" },
		"json array":   func(m *mockIdP) { m.body = `[1,2,3]` },
		"json null":    func(m *mockIdP) { m.body = `null` },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			m := newMockIdP(t)
			mutate(m)
			_, err := (&Resolver{Client: m.srv.Client()}).Resolve(context.Background(), m.srv.URL)
			if !errors.Is(err, ErrUnreachable) {
				t.Fatalf("want ErrUnreachable, got %v", err)
			}
		})
	}
}

func TestResolve_Unreachable(t *testing.T) {
	m := newMockIdP(t)
	url := m.srv.URL
	m.srv.Close()
	if _, err := (&Resolver{}).Resolve(context.Background(), url); !errors.Is(err, ErrUnreachable) {
		t.Fatalf("want ErrUnreachable, got %v", err)
	}
}

func TestResolve_Cache(t *testing.T) {
	m := newMockIdP(t)
	store, err := memory.New(16)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	defer store.Close()

	r := &Resolver{Client: m.srv.Client(), Cache: store, TTL: time.Minute}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(ctx, m.srv.URL); err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
	}
	if m.hits.Load() != 1 {
		t.Fatalf("want one request with cache, got %d", m.hits.Load())
	}

	if err := store.Delete(ctx, storage.WithIssuer(m.srv.URL)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.Resolve(ctx, m.srv.URL); err != nil {
		t.Fatalf("resolve after invalidate: %v", err)
	}
	if m.hits.Load() != 2 {
		t.Fatalf("want refetch after invalidation, got %d", m.hits.Load())
	}
}

func TestResolve_NoCacheByDefault(t *testing.T) {
	m := newMockIdP(t)
	r := &Resolver{Client: m.srv.Client()}
	for i := 0; i < 2; i++ {
		if _, err := r.Resolve(context.Background(), m.srv.URL); err != nil {
			t.Fatalf("resolve: %v", err)
		}
	}
	if m.hits.Load() != 2 {
		t.Fatalf("every call should fetch, got %d", m.hits.Load())
	}
}
