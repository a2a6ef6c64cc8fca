package jwtauth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// checkClaims applies the time and audience policy to signature-verified
// claims. exp is skipped when AllowExpired is set and aud is skipped when no
// audience is configured. Neither exp nor nbf is required to be present.
func checkClaims(claims jwt.MapClaims, opts *Options, now time.Time) error {
	if !opts.AllowExpired {
		exp, err := claims.GetExpirationTime()
		if err != nil {
			return err
		}
		if exp != nil && now.After(exp.Add(opts.Leeway)) {
			return fmt.Errorf("%w: expired at %s", jwt.ErrTokenExpired, exp.UTC().Format(time.RFC3339))
		}
	}

	nbf, err := claims.GetNotBefore()
	if err != nil {
		return err
	}
	if nbf != nil && now.Add(opts.Leeway).Before(nbf.Time) {
		return jwt.ErrTokenNotValidYet
	}

	if len(opts.Audience) > 0 && !audIntersects(claims["aud"], opts.Audience) {
		return jwt.ErrTokenInvalidAudience
	}
	return nil
}

// audIntersects reports whether aud (string or array form) contains any of wants.
func audIntersects(aud any, wants []string) bool {
	wantSet := map[string]struct{}{}
	for _, w := range wants {
		wantSet[w] = struct{}{}
	}
	switch v := aud.(type) {
	case string:
		_, ok := wantSet[v]
		return ok
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				if _, ok2 := wantSet[s]; ok2 {
					return true
				}
			}
		}
	case []string:
		for _, s := range v {
			if _, ok := wantSet[s]; ok {
				return true
			}
		}
	}
	return false
}
