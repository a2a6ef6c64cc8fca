// Package authtest provides test doubles for code that consumes auth: a
// mock OpenID Connect provider and a static Authenticator.
package authtest

import (
	"context"

	"github.com/elixir-cloud-aai/foca-sub000/auth"
)

// Static is an Authenticator that accepts every token and reports a fixed
// user, or rejects every token with Err when it is set.
type Static struct {
	UserID string
	Values map[string]any
	Err    error
	Config auth.Config
}

var _ auth.Provider = (*Static)(nil)

// NewStatic creates a Static authenticator for userID. If userID is empty,
// it defaults to "test-user".
func NewStatic(userID string) *Static {
	if userID == "" {
		userID = "test-user"
	}
	return &Static{UserID: userID, Config: auth.DefaultConfig()}
}

// CheckAuthentication returns claims for the fixed user, or Err.
func (s *Static) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	values := map[string]any{"sub": s.UserID}
	for k, v := range s.Values {
		values[k] = v
	}
	return auth.Assemble(values, tok, "sub"), nil
}

func (s *Static) ValidationConfig() auth.Config { return s.Config.Copy() }
