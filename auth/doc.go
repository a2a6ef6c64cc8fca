// Package auth validates bearer tokens (JWTs) issued by OpenID Connect
// providers.
//
// A Validator takes a raw token and an explicit Config and either returns a
// Claims record or an *Error. The issuer is read from the unverified token,
// its discovery document is fetched, and then each configured method runs in
// order:
//
//   - userinfo: the token is presented to the provider's user-info endpoint;
//     a 2xx response is accepted as proof.
//   - public_key: the signature is checked against the provider's JWKS, along
//     with exp, nbf and (when configured) aud.
//
// With ValidationChecks "all" the first failing method aborts; with "any" the
// first passing method wins.
//
// Example:
//
//	v := auth.New(auth.WithLogger(logger))
//	cfg := auth.DefaultConfig()
//	cfg.ValidationMethods = []auth.Method{auth.MethodPublicKey}
//	cfg.Audience = []string{"svc-a"}
//
//	claims, err := v.Validate(ctx, token, cfg)
//	if errors.Is(err, auth.ErrUnauthorized) { /* reject the request */ }
//	userID := claims.UserID()
//
// # Errors
//
// Every failure matches ErrUnauthorized. The reason is kept in Error.Kind and
// matches its own sentinel as well (ErrKeyNotFound, ErrMissingClaim, ...), so
// logging can distinguish causes while callers make a single decision.
//
// # Caching
//
// By default nothing is cached and every call performs its own fetches.
// WithCache enables a time-bounded cache of discovery documents and key sets
// keyed by issuer; Invalidate drops one issuer's entries.
package auth
