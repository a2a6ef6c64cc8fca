// Package authgrpc enforces bearer-token authentication on gRPC servers.
//
// The interceptors read "<prefix> <token>" from the incoming metadata entry
// named by the authenticator's header (lower-cased, "authorization" by
// default) and answer every rejection with codes.Unauthenticated.
package authgrpc

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/elixir-cloud-aai/foca-sub000/auth"
	"github.com/elixir-cloud-aai/foca-sub000/internal/logctx"
)

const requestIDKey = "x-request-id"

type config struct {
	log    *slog.Logger
	key    string
	prefix string
}

// Option configures the interceptors.
type Option func(*config)

// WithLogger sets the logger used for authentication records.
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

// WithMetadataKey overrides the metadata key and token prefix.
func WithMetadataKey(key, prefix string) Option {
	return func(c *config) {
		c.key = strings.ToLower(key)
		c.prefix = prefix
	}
}

func newConfig(authn auth.Authenticator, opts []Option) *config {
	c := &config{
		log:    slog.New(slog.DiscardHandler),
		key:    "authorization",
		prefix: "Bearer",
	}
	if d, ok := authn.(auth.ConfigDescriptor); ok {
		vc := d.ValidationConfig()
		if vc.HeaderName != "" {
			c.key = strings.ToLower(vc.HeaderName)
		}
		if vc.TokenPrefix != "" {
			c.prefix = vc.TokenPrefix
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UnaryServerInterceptor authenticates unary calls with authn.
func UnaryServerInterceptor(authn auth.Authenticator, opts ...Option) grpc.UnaryServerInterceptor {
	c := newConfig(authn, opts)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := c.authenticate(ctx, authn, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor authenticates streaming calls with authn.
func StreamServerInterceptor(authn auth.Authenticator, opts ...Option) grpc.StreamServerInterceptor {
	c := newConfig(authn, opts)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := c.authenticate(ss.Context(), authn, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &serverStream{ServerStream: ss, ctx: ctx})
	}
}

func (c *config) authenticate(ctx context.Context, authn auth.Authenticator, fullMethod string) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	reqID := first(md, requestIDKey)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	ctx = logctx.WithRequestData(ctx, &logctx.RequestData{
		RequestID: reqID,
		Method:    "RPC",
		UserAgent: first(md, "user-agent"),
		Path:      fullMethod,
	})

	value := first(md, c.key)
	if value == "" {
		c.log.InfoContext(ctx, "auth.check.missing", slog.String("key", c.key))
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	tok, ok := extract(value, c.prefix)
	if !ok {
		c.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", "malformed authorization metadata"))
		return nil, status.Error(codes.Unauthenticated, "invalid authorization metadata")
	}

	ui, err := authn.CheckAuthentication(ctx, tok)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			c.log.InfoContext(ctx, "auth.check.fail", slog.String("kind", auth.KindOf(err).String()), slog.String("err", err.Error()))
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		c.log.ErrorContext(ctx, "auth.check.err", slog.String("err", err.Error()))
		return nil, status.Error(codes.Internal, "internal error")
	}
	c.log.DebugContext(ctx, "auth.check.ok", slog.String("user_id", ui.UserID()))
	return context.WithValue(ctx, userInfoKey{}, ui), nil
}

func first(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func extract(value, prefix string) (string, bool) {
	p, tok, found := strings.Cut(value, " ")
	if !found || p != prefix {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	if tok == "" || strings.ContainsAny(tok, " \t") {
		return "", false
	}
	return tok, true
}

// serverStream carries the authenticated context into stream handlers.
type serverStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *serverStream) Context() context.Context { return s.ctx }

type userInfoKey struct{}

// UserInfoFromContext returns the principal stored by the interceptors.
func UserInfoFromContext(ctx context.Context) (auth.UserInfo, bool) {
	ui, ok := ctx.Value(userInfoKey{}).(auth.UserInfo)
	return ui, ok
}
