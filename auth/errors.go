package auth

import (
	"errors"
	"strings"
)

// Kind classifies why a token was rejected. Every kind collapses to
// ErrUnauthorized for callers; the distinction is kept for diagnostics.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNoMethodsConfigured: the configuration lists no validation methods.
	KindNoMethodsConfigured
	// KindDecodeError: the token is not a structurally valid JWT.
	KindDecodeError
	// KindMissingClaim: the issuer or identity claim is absent.
	KindMissingClaim
	// KindDiscoveryUnreachable: provider metadata could not be fetched or parsed.
	KindDiscoveryUnreachable
	// KindConnectionFailure: the user-info or JWKS endpoint was unreachable.
	KindConnectionFailure
	// KindKeyNotFound: the token names a key id absent from the JWKS.
	KindKeyNotFound
	// KindValidationFailed: a verifier ran and rejected the token.
	KindValidationFailed
	// KindAllMethodsFailed: under the "any" policy every method failed.
	KindAllMethodsFailed
	// KindInvalidConfig: the configuration names unknown methods or policies.
	KindInvalidConfig
)

var (
	ErrNoMethodsConfigured  = errors.New("no validation methods configured")
	ErrDecode               = errors.New("token could not be decoded")
	ErrMissingClaim         = errors.New("required claim missing")
	ErrDiscoveryUnreachable = errors.New("provider metadata unreachable")
	ErrConnectionFailure    = errors.New("verification endpoint unreachable")
	ErrKeyNotFound          = errors.New("signing key not found")
	ErrValidationFailed     = errors.New("token validation failed")
	ErrAllMethodsFailed     = errors.New("all validation methods failed")
	ErrInvalidConfig        = errors.New("invalid validation config")
)

var kindNames = map[Kind]string{
	KindUnknown:              "Unknown",
	KindNoMethodsConfigured:  "NoMethodsConfigured",
	KindDecodeError:          "DecodeError",
	KindMissingClaim:         "MissingClaim",
	KindDiscoveryUnreachable: "DiscoveryUnreachable",
	KindConnectionFailure:    "ConnectionFailure",
	KindKeyNotFound:          "KeyNotFound",
	KindValidationFailed:     "ValidationFailed",
	KindAllMethodsFailed:     "AllMethodsFailed",
	KindInvalidConfig:        "InvalidConfig",
}

var kindSentinels = map[Kind]error{
	KindNoMethodsConfigured:  ErrNoMethodsConfigured,
	KindDecodeError:          ErrDecode,
	KindMissingClaim:         ErrMissingClaim,
	KindDiscoveryUnreachable: ErrDiscoveryUnreachable,
	KindConnectionFailure:    ErrConnectionFailure,
	KindKeyNotFound:          ErrKeyNotFound,
	KindValidationFailed:     ErrValidationFailed,
	KindAllMethodsFailed:     ErrAllMethodsFailed,
	KindInvalidConfig:        ErrInvalidConfig,
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "Unknown"
}

// Sentinel returns the error value matched by errors.Is for this kind.
func (k Kind) Sentinel() error {
	if err, ok := kindSentinels[k]; ok {
		return err
	}
	return ErrUnauthorized
}

// Error is the failure returned by Validator.Validate. It matches
// ErrUnauthorized, the sentinel of its Kind, and anything in Err's chain.
type Error struct {
	Kind Kind
	// Method is set when the failure came from a single validation method.
	Method Method
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Sentinel().Error())
	if e.Method != "" {
		b.WriteString(" [")
		b.WriteString(string(e.Method))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	errs := []error{ErrUnauthorized, e.Kind.Sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
