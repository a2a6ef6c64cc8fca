package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/elixir-cloud-aai/foca-sub000/internal/jwtauth"
)

// Method names a verification strategy.
type Method string

const (
	// MethodUserInfo presents the token to the provider's user-info endpoint.
	MethodUserInfo Method = "userinfo"
	// MethodPublicKey verifies the signature against the provider's JWKS.
	MethodPublicKey Method = "public_key"
)

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	return m == MethodUserInfo || m == MethodPublicKey
}

func (Method) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "string",
		Enum: []any{string(MethodUserInfo), string(MethodPublicKey)},
	}
}

// Checks is the aggregation policy over the configured methods.
type Checks string

const (
	// ChecksAll requires every method to pass; the first failure aborts.
	ChecksAll Checks = "all"
	// ChecksAny accepts on the first passing method.
	ChecksAny Checks = "any"
)

func (c Checks) Valid() bool {
	return c == ChecksAll || c == ChecksAny
}

func (Checks) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "string",
		Enum: []any{string(ChecksAll), string(ChecksAny)},
	}
}

// Config controls a single validation. It is passed explicitly to
// Validator.Validate; nothing is read from process-wide state.
type Config struct {
	AddKeyToClaims bool `json:"add_key_to_claims" jsonschema:"description=Attach the PEM of the verifying key under the public_key claim"`
	AllowExpired   bool `json:"allow_expired" jsonschema:"description=Skip exp validation"`
	// Audience disables audience checking when empty.
	Audience          []string      `json:"audience,omitempty" jsonschema:"description=Accepted audiences; empty disables the check"`
	ClaimIdentity     string        `json:"claim_identity" jsonschema:"default=sub"`
	ClaimIssuer       string        `json:"claim_issuer" jsonschema:"default=iss"`
	ClaimKeyID        string        `json:"claim_key_id" jsonschema:"default=kid"`
	Algorithms        []string      `json:"algorithms" jsonschema:"minItems=1"`
	ValidationMethods []Method      `json:"validation_methods" jsonschema:"minItems=1"`
	ValidationChecks  Checks        `json:"validation_checks"`
	HeaderName        string        `json:"header_name" jsonschema:"default=Authorization"`
	TokenPrefix       string        `json:"token_prefix" jsonschema:"default=Bearer"`
	Leeway            time.Duration `json:"leeway,omitempty" jsonschema:"description=Clock skew tolerance for exp and nbf in nanoseconds"`
}

// DefaultConfig returns the configuration used when nothing is overridden:
// both methods, all must pass, RS256 only.
func DefaultConfig() Config {
	return Config{
		ClaimIdentity:     "sub",
		ClaimIssuer:       "iss",
		ClaimKeyID:        "kid",
		Algorithms:        []string{"RS256"},
		ValidationMethods: []Method{MethodUserInfo, MethodPublicKey},
		ValidationChecks:  ChecksAll,
		HeaderName:        "Authorization",
		TokenPrefix:       "Bearer",
	}
}

// Normalize fills defaults for unset fields. ValidationMethods is left alone:
// an empty list is a configuration error, not a request for the default.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.ClaimIdentity == "" {
		c.ClaimIdentity = d.ClaimIdentity
	}
	if c.ClaimIssuer == "" {
		c.ClaimIssuer = d.ClaimIssuer
	}
	if c.ClaimKeyID == "" {
		c.ClaimKeyID = d.ClaimKeyID
	}
	if len(c.Algorithms) == 0 {
		c.Algorithms = d.Algorithms
	}
	if c.ValidationChecks == "" {
		c.ValidationChecks = d.ValidationChecks
	}
	if c.HeaderName == "" {
		c.HeaderName = d.HeaderName
	}
	if c.TokenPrefix == "" {
		c.TokenPrefix = d.TokenPrefix
	}
}

// Validate returns an error if the configuration cannot be applied. It does
// not report an empty method list; Validate on the Validator classifies that
// separately as KindNoMethodsConfigured.
func (c Config) Validate() error {
	var errs []error
	for _, m := range c.ValidationMethods {
		if !m.Valid() {
			errs = append(errs, fmt.Errorf("unknown validation method %q", m))
		}
	}
	if !c.ValidationChecks.Valid() {
		errs = append(errs, fmt.Errorf("unknown validation checks %q", c.ValidationChecks))
	}
	if len(c.Algorithms) == 0 {
		errs = append(errs, errors.New("at least one algorithm required"))
	}
	for _, alg := range c.Algorithms {
		if alg == "" || strings.EqualFold(alg, "none") {
			errs = append(errs, fmt.Errorf("algorithm %q not allowed", alg))
		}
	}
	if c.ClaimIssuer == "" || c.ClaimIdentity == "" || c.ClaimKeyID == "" {
		errs = append(errs, errors.New("claim names must not be empty"))
	}
	if strings.ContainsAny(c.HeaderName, " :\r\n") || c.HeaderName == "" {
		errs = append(errs, fmt.Errorf("invalid header name %q", c.HeaderName))
	}
	if c.Leeway < 0 {
		errs = append(errs, errors.New("leeway must not be negative"))
	}
	return errors.Join(errs...)
}

// Copy returns a deep copy safe for mutation by the caller.
func (c Config) Copy() Config {
	dup := c
	dup.Audience = slices.Clone(c.Audience)
	dup.Algorithms = slices.Clone(c.Algorithms)
	dup.ValidationMethods = slices.Clone(c.ValidationMethods)
	return dup
}

func (c Config) keyOptions() jwtauth.Options {
	return jwtauth.Options{
		Algorithms:     c.Algorithms,
		Audience:       c.Audience,
		AllowExpired:   c.AllowExpired,
		Leeway:         c.Leeway,
		KeyIDClaim:     c.ClaimKeyID,
		AddKeyToClaims: c.AddKeyToClaims,
	}
}
