package auth

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/elixir-cloud-aai/foca-sub000/internal/logctx"
	"github.com/elixir-cloud-aai/foca-sub000/storage"
)

// DefaultHTTPTimeout bounds each outbound request (discovery, user-info,
// JWKS) made with the default client.
const DefaultHTTPTimeout = 10 * time.Second

// Option configures a Validator.
type Option func(*Validator)

// WithHTTPClient sets the client used for every outbound request. The
// client's own Timeout applies; WithHTTPTimeout is ignored when set.
func WithHTTPClient(c *http.Client) Option {
	return func(v *Validator) { v.client = c }
}

// WithHTTPTimeout changes the timeout of the default client.
func WithHTTPTimeout(d time.Duration) Option {
	return func(v *Validator) { v.timeout = d }
}

// WithLogger sets the logger. Records logged with a validation context carry
// a "validation" group with the validation id and issuer.
func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) {
		if l == nil {
			return
		}
		if _, ok := l.Handler().(logctx.Handler); ok {
			v.log = l
			return
		}
		v.log = slog.New(logctx.Handler{Handler: l.Handler()})
	}
}

// WithCache keeps discovery documents and key sets in store, grouped by
// issuer, for at most ttl. Without it every validation fetches everything.
func WithCache(store storage.Storage, ttl time.Duration) Option {
	return func(v *Validator) {
		v.cache = store
		v.cacheTTL = ttl
	}
}

// WithClock overrides the time source used for exp and nbf checks.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}
