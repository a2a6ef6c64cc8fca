// Package authgin adapts bearer-token authentication to gin routers.
package authgin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/elixir-cloud-aai/foca-sub000/auth"
	"github.com/elixir-cloud-aai/foca-sub000/internal/logctx"
)

// UserInfoKey is the gin context key holding the authenticated auth.UserInfo.
const UserInfoKey = "auth.user"

type config struct {
	log    *slog.Logger
	realm  string
	header string
	prefix string
}

// Option configures the middleware.
type Option func(*config)

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

func WithRealm(realm string) Option {
	return func(c *config) { c.realm = realm }
}

// Middleware returns a gin handler that aborts with 401 unless the request
// carries a token accepted by authn.
func Middleware(authn auth.Authenticator, opts ...Option) gin.HandlerFunc {
	c := &config{
		log:    slog.New(slog.DiscardHandler),
		header: "Authorization",
		prefix: "Bearer",
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

	return func(g *gin.Context) {
		reqID := g.GetHeader("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		g.Header("X-Request-Id", reqID)
		ctx := logctx.WithRequestData(g.Request.Context(), &logctx.RequestData{
			RequestID:  reqID,
			Method:     g.Request.Method,
			UserAgent:  g.Request.UserAgent(),
			RemoteAddr: g.ClientIP(),
			Path:       g.FullPath(),
		})

		value := g.GetHeader(c.header)
		if value == "" {
			c.log.InfoContext(ctx, "auth.check.missing", slog.String("header", c.header))
			c.abort(g, auth.NewAuthenticationRequired(c.realm), "authentication required")
			return
		}
		prefix, tok, found := strings.Cut(value, " ")
		tok = strings.TrimSpace(tok)
		if !found || prefix != c.prefix || tok == "" {
			c.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", "malformed authorization header"))
			c.abort(g, auth.NewInvalidAuthorizationHeader(c.realm), "invalid authorization header")
			return
		}

		ui, err := authn.CheckAuthentication(ctx, tok)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				c.log.InfoContext(ctx, "auth.check.fail", slog.String("kind", auth.KindOf(err).String()), slog.String("err", err.Error()))
				c.abort(g, auth.NewInvalidToken(c.realm, "token rejected"), "invalid token")
				return
			}
			c.log.ErrorContext(ctx, "auth.check.err", slog.String("err", err.Error()))
			g.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "internal error"})
			return
		}

		g.Set(UserInfoKey, ui)
		g.Request = g.Request.WithContext(context.WithValue(ctx, userInfoKey{}, ui))
		g.Next()
	}
}

func (c *config) abort(g *gin.Context, ch *auth.Challenge, msg string) {
	g.Header("WWW-Authenticate", ch.WWWAuthenticate)
	g.AbortWithStatusJSON(ch.Status, gin.H{"code": ch.Status, "message": msg})
}

type userInfoKey struct{}

// UserInfo returns the principal stored by Middleware.
func UserInfo(g *gin.Context) (auth.UserInfo, bool) {
	v, ok := g.Get(UserInfoKey)
	if !ok {
		return nil, false
	}
	ui, ok := v.(auth.UserInfo)
	return ui, ok
}

// UserInfoFromContext returns the principal from a request context, for code
// below the gin layer.
func UserInfoFromContext(ctx context.Context) (auth.UserInfo, bool) {
	ui, ok := ctx.Value(userInfoKey{}).(auth.UserInfo)
	return ui, ok
}
