package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/elixir-cloud-aai/foca-sub000/internal/discovery"
	"github.com/elixir-cloud-aai/foca-sub000/internal/jwtauth"
	"github.com/elixir-cloud-aai/foca-sub000/internal/logctx"
	"github.com/elixir-cloud-aai/foca-sub000/storage"
)

// verifyFunc runs one validation method against a decoded token.
type verifyFunc func(ctx context.Context, run *validation) error

// validation is the state of a single Validate call.
type validation struct {
	token    string
	cfg      Config
	decoded  *jwtauth.Unverified
	issuer   string
	metadata *discovery.Metadata
	// claims is what the caller gets back: the unverified payload, plus
	// public_key when the public-key method attached one.
	claims map[string]any
}

// Validator validates bearer tokens against OpenID Connect providers. It is
// safe for concurrent use; unless WithCache is given, no state is shared
// between calls.
type Validator struct {
	client   *http.Client
	timeout  time.Duration
	log      *slog.Logger
	cache    storage.Storage
	cacheTTL time.Duration
	now      func() time.Time

	resolver  *discovery.Resolver
	publicKey *jwtauth.PublicKeyVerifier
	verifiers map[Method]verifyFunc
}

// New constructs a Validator.
func New(opts ...Option) *Validator {
	v := &Validator{
		timeout: DefaultHTTPTimeout,
		log:     slog.New(slog.DiscardHandler),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.client == nil {
		v.client = &http.Client{Timeout: v.timeout}
	}

	v.resolver = &discovery.Resolver{Client: v.client, Log: v.log, Cache: v.cache, TTL: v.cacheTTL}
	v.publicKey = &jwtauth.PublicKeyVerifier{
		Keys: &jwtauth.KeySetFetcher{Client: v.client, Log: v.log, Cache: v.cache, TTL: v.cacheTTL},
		Log:  v.log,
		Now:  v.now,
	}
	v.verifiers = map[Method]verifyFunc{
		MethodUserInfo:  v.verifyUserInfo,
		MethodPublicKey: v.verifyPublicKey,
	}
	return v
}

// Validate decides whether tok is acceptable under cfg. On success it returns
// the assembled claims; on failure an *Error.
func (v *Validator) Validate(ctx context.Context, tok string, cfg Config) (*Claims, error) {
	cfg = cfg.Copy()
	cfg.Normalize()

	vd := &logctx.ValidationData{ValidationID: uuid.NewString(), Checks: string(cfg.ValidationChecks)}
	ctx = logctx.WithValidationData(ctx, vd)

	if len(cfg.ValidationMethods) == 0 {
		return nil, v.reject(ctx, &Error{Kind: KindNoMethodsConfigured})
	}
	if err := cfg.Validate(); err != nil {
		return nil, v.reject(ctx, &Error{Kind: KindInvalidConfig, Err: err})
	}

	decoded, err := jwtauth.DecodeUnverified(tok)
	if err != nil {
		return nil, v.reject(ctx, &Error{Kind: KindDecodeError, Err: err})
	}
	issuer, ok := decoded.StringClaim(cfg.ClaimIssuer)
	if !ok {
		return nil, v.reject(ctx, &Error{Kind: KindMissingClaim, Err: fmt.Errorf("claim %q", cfg.ClaimIssuer)})
	}
	vd.Issuer = issuer

	md, err := v.resolver.Resolve(ctx, issuer)
	if err != nil {
		return nil, v.reject(ctx, &Error{Kind: KindDiscoveryUnreachable, Err: err})
	}

	run := &validation{
		token:    tok,
		cfg:      cfg,
		decoded:  decoded,
		issuer:   issuer,
		metadata: md,
		claims:   maps.Clone(map[string]any(decoded.Claims)),
	}

	var failures []error
	passed := false
	for _, m := range cfg.ValidationMethods {
		mctx := logctx.WithMethodData(ctx, &logctx.MethodData{Name: string(m)})
		err := v.verifiers[m](mctx, run)
		if err == nil {
			v.log.DebugContext(mctx, "auth.method.ok")
			if cfg.ValidationChecks == ChecksAny {
				passed = true
				break
			}
			continue
		}

		merr := methodError(m, err)
		v.log.InfoContext(mctx, "auth.method.fail", slog.String("kind", merr.Kind.String()), slog.String("err", err.Error()))
		if cfg.ValidationChecks == ChecksAll {
			if merr.Kind == KindValidationFailed {
				return nil, v.reject(ctx, merr)
			}
			return nil, v.reject(ctx, &Error{Kind: KindValidationFailed, Method: m, Err: merr})
		}
		failures = append(failures, merr)
	}
	if cfg.ValidationChecks == ChecksAny && !passed {
		return nil, v.reject(ctx, &Error{Kind: KindAllMethodsFailed, Err: errors.Join(failures...)})
	}

	if _, ok := run.claims[cfg.ClaimIdentity]; !ok {
		return nil, v.reject(ctx, &Error{Kind: KindMissingClaim, Err: fmt.Errorf("claim %q", cfg.ClaimIdentity)})
	}

	claims := Assemble(run.claims, tok, cfg.ClaimIdentity)
	v.log.InfoContext(ctx, "auth.validate.ok", slog.String("user_id", claims.User))
	return claims, nil
}

// Authenticator binds cfg to v so it can be handed to transports.
func (v *Validator) Authenticator(cfg Config) Provider {
	cfg = cfg.Copy()
	cfg.Normalize()
	return &boundValidator{v: v, cfg: cfg}
}

// Invalidate drops everything cached for issuer. It is a no-op without a cache.
func (v *Validator) Invalidate(ctx context.Context, issuer string) error {
	if v.cache == nil {
		return nil
	}
	return v.cache.Delete(ctx, storage.WithIssuer(issuer))
}

func (v *Validator) verifyUserInfo(ctx context.Context, run *validation) error {
	endpoint, err := run.metadata.UserInfo()
	if err != nil {
		return err
	}
	return jwtauth.VerifyUserInfo(ctx, v.client, endpoint, run.token, run.cfg.HeaderName, run.cfg.TokenPrefix)
}

func (v *Validator) verifyPublicKey(ctx context.Context, run *validation) error {
	jwksURL, err := run.metadata.KeySet()
	if err != nil {
		return err
	}
	res, err := v.publicKey.Verify(ctx, run.token, run.decoded, run.issuer, jwksURL, run.cfg.keyOptions())
	if err != nil {
		return err
	}
	v.log.DebugContext(ctx, "auth.public_key.accepted", slog.String("kid", res.Key.ID), slog.Int("tried", res.Tried))
	if res.PEM != "" {
		run.claims[jwtauth.PublicKeyClaim] = res.PEM
	}
	return nil
}

func (v *Validator) reject(ctx context.Context, err *Error) *Error {
	attrs := []any{slog.String("kind", err.Kind.String())}
	if err.Err != nil {
		attrs = append(attrs, slog.String("err", err.Err.Error()))
	}
	v.log.InfoContext(ctx, "auth.validate.fail", attrs...)
	return err
}

// methodError attributes err to m, mapping internal sentinels to kinds.
func methodError(m Method, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		if e.Method == "" {
			e.Method = m
		}
		return e
	}
	return &Error{Kind: classify(err), Method: m, Err: err}
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, discovery.ErrMissingEntry), errors.Is(err, discovery.ErrUnreachable):
		return KindDiscoveryUnreachable
	case errors.Is(err, jwtauth.ErrKeyNotFound):
		return KindKeyNotFound
	case errors.Is(err, jwtauth.ErrConnection):
		return KindConnectionFailure
	case errors.Is(err, jwtauth.ErrMalformed):
		return KindDecodeError
	default:
		return KindValidationFailed
	}
}

type boundValidator struct {
	v   *Validator
	cfg Config
}

func (b *boundValidator) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	claims, err := b.v.Validate(ctx, tok, b.cfg)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (b *boundValidator) ValidationConfig() Config { return b.cfg.Copy() }
