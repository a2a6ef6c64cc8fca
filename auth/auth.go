package auth

import (
	"context"
	"errors"
)

// ErrUnauthorized is matched by every validation failure. Callers that only
// need the accept/reject decision test for it with errors.Is.
var ErrUnauthorized = errors.New("unauthorized")

// UserInfo represents an authenticated principal.
// Implementations should be lightweight and safe for concurrent use.
type UserInfo interface {
	// UserID returns the unique identifier for the user.
	UserID() string
	// Claims unmarshalls the user's claims into the provided struct reference.
	Claims(ref any) error
}

// Authenticator validates bearer tokens and returns associated user info.
// It should return an error matching ErrUnauthorized for invalid credentials.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (UserInfo, error)
}

// ConfigDescriptor exposes the validation configuration an Authenticator was
// bound to, so transports can learn the header name and token prefix.
type ConfigDescriptor interface{ ValidationConfig() Config }

// Provider combines validation + descriptor. Returned by Validator.Authenticator.
type Provider interface {
	Authenticator
	ConfigDescriptor
}
