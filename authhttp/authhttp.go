// Package authhttp enforces bearer-token authentication on HTTP handlers.
//
// The middleware extracts "<prefix> <token>" from the configured header,
// hands the token to an auth.Authenticator and only calls the wrapped handler
// when the token is accepted. Rejections are answered with 401 and a Bearer
// challenge; the body is JSON or plain text depending on the Accept header.
package authhttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/elixir-cloud-aai/foca-sub000/auth"
	"github.com/elixir-cloud-aai/foca-sub000/internal/logctx"
)

const (
	wwwAuthenticateHeader = "WWW-Authenticate"
	requestIDHeader       = "X-Request-Id"
)

var (
	jsonMediaType  = contenttype.NewMediaType("application/json")
	textMediaType  = contenttype.NewMediaType("text/plain")
	bodyMediaTypes = []contenttype.MediaType{jsonMediaType, textMediaType}
)

type config struct {
	log      *slog.Logger
	realm    string
	header   string
	prefix   string
	required bool
}

// Option configures the middleware.
type Option func(*config)

// WithLogger sets the logger. Records carry a "req" group describing the
// request being authenticated.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l == nil {
			return
		}
		if _, ok := l.Handler().(logctx.Handler); ok {
			c.log = l
			return
		}
		c.log = slog.New(logctx.Handler{Handler: l.Handler()})
	}
}

// WithRealm sets the realm advertised in challenges.
func WithRealm(realm string) Option {
	return func(c *config) { c.realm = realm }
}

// WithHeader overrides the header and token prefix. By default they come from
// the authenticator's ValidationConfig when it has one, else
// "Authorization" and "Bearer".
func WithHeader(name, prefix string) Option {
	return func(c *config) {
		c.header = name
		c.prefix = prefix
	}
}

// WithRequired(false) disables enforcement: requests pass through without
// their token being looked at.
func WithRequired(required bool) Option {
	return func(c *config) { c.required = required }
}

// New returns middleware that authenticates requests with authn.
func New(authn auth.Authenticator, opts ...Option) func(http.Handler) http.Handler {
	c := &config{
		log:      slog.New(slog.DiscardHandler),
		header:   "Authorization",
		prefix:   "Bearer",
		required: true,
	}
	if d, ok := authn.(auth.ConfigDescriptor); ok {
		vc := d.ValidationConfig()
		if vc.HeaderName != "" {
			c.header = vc.HeaderName
		}
		if vc.TokenPrefix != "" {
			c.prefix = vc.TokenPrefix
		}
	}
	for _, opt := range opts {
		opt(c)
	}

	return func(next http.Handler) http.Handler {
		if !c.required {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(requestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, reqID)
			ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
				RequestID:  reqID,
				Method:     r.Method,
				UserAgent:  r.UserAgent(),
				RemoteAddr: r.RemoteAddr,
				Path:       r.URL.Path,
			})

			ui, ok := c.authenticate(ctx, authn, w, r)
			if !ok {
				return
			}
			ctx = context.WithValue(ctx, userInfoKey{}, ui)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (c *config) authenticate(ctx context.Context, authn auth.Authenticator, w http.ResponseWriter, r *http.Request) (auth.UserInfo, bool) {
	value := r.Header.Get(c.header)
	if value == "" {
		// No error code when the request carries no credentials at all.
		c.log.InfoContext(ctx, "auth.check.missing", slog.String("header", c.header))
		c.reject(w, r, auth.NewAuthenticationRequired(c.realm), "authentication required")
		return nil, false
	}

	tok, ok := c.extract(value)
	if !ok {
		c.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", "malformed authorization header"))
		c.reject(w, r, auth.NewInvalidAuthorizationHeader(c.realm), "invalid authorization header")
		return nil, false
	}

	ui, err := authn.CheckAuthentication(ctx, tok)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			c.log.InfoContext(ctx, "auth.check.fail", slog.String("kind", auth.KindOf(err).String()), slog.String("err", err.Error()))
			c.reject(w, r, auth.NewInvalidToken(c.realm, "token rejected"), "invalid token")
			return nil, false
		}
		c.log.ErrorContext(ctx, "auth.check.err", slog.String("err", err.Error()))
		writeBody(w, r, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	c.log.DebugContext(ctx, "auth.check.ok", slog.String("user_id", ui.UserID()))
	return ui, true
}

// extract returns the token from a "<prefix> <token>" header value. The
// prefix is matched case-sensitively.
func (c *config) extract(value string) (string, bool) {
	prefix, tok, found := strings.Cut(value, " ")
	if !found || prefix != c.prefix {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	if tok == "" || strings.ContainsAny(tok, " \t") {
		return "", false
	}
	return tok, true
}

func (c *config) reject(w http.ResponseWriter, r *http.Request, ch *auth.Challenge, msg string) {
	w.Header().Add(wwwAuthenticateHeader, ch.WWWAuthenticate)
	writeBody(w, r, ch.Status, msg)
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeBody(w http.ResponseWriter, r *http.Request, status int, msg string) {
	mt, _, err := contenttype.GetAcceptableMediaType(r, bodyMediaTypes)
	if err == nil && mt.Type == textMediaType.Type && mt.Subtype == textMediaType.Subtype {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(msg + "\n"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Code: status, Message: msg})
}

type userInfoKey struct{}

// UserInfoFromContext returns the principal stored by the middleware.
func UserInfoFromContext(ctx context.Context) (auth.UserInfo, bool) {
	ui, ok := ctx.Value(userInfoKey{}).(auth.UserInfo)
	return ui, ok
}

// ClaimsFromContext returns the validated claims when the authenticator
// produced an *auth.Claims.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	ui, ok := UserInfoFromContext(ctx)
	if !ok {
		return nil, false
	}
	c, ok := ui.(*auth.Claims)
	return c, ok
}
