package auth

import (
	"errors"
	"time"

	"github.com/joeshaw/envdecode"
)

// EnvConfig mirrors Config plus runtime settings, loaded from the environment
// with envdecode. List values are separated by semicolons.
type EnvConfig struct {
	AddKeyToClaims    bool          `env:"AUTH_ADD_KEY_TO_CLAIMS,default=false"`
	AllowExpired      bool          `env:"AUTH_ALLOW_EXPIRED,default=false"`
	Audience          []string      `env:"AUTH_AUDIENCE"`
	ClaimIdentity     string        `env:"AUTH_CLAIM_IDENTITY,default=sub"`
	ClaimIssuer       string        `env:"AUTH_CLAIM_ISSUER,default=iss"`
	ClaimKeyID        string        `env:"AUTH_CLAIM_KEY_ID,default=kid"`
	Algorithms        []string      `env:"AUTH_ALGORITHMS,default=RS256"`
	ValidationMethods []string      `env:"AUTH_VALIDATION_METHODS,default=userinfo;public_key"`
	ValidationChecks  string        `env:"AUTH_VALIDATION_CHECKS,default=all"`
	HeaderName        string        `env:"AUTH_HEADER_NAME,default=Authorization"`
	TokenPrefix       string        `env:"AUTH_TOKEN_PREFIX,default=Bearer"`
	Leeway            time.Duration `env:"AUTH_LEEWAY,default=0s"`
	// Required=false lets authhttp pass requests through unvalidated.
	Required bool `env:"AUTH_REQUIRED,default=true"`

	HTTPTimeout    time.Duration `env:"AUTH_HTTP_TIMEOUT,default=10s"`
	CacheTTL       time.Duration `env:"AUTH_CACHE_TTL,default=0s"`
	CacheSize      int           `env:"AUTH_CACHE_SIZE,default=256"`
	RedisAddr      string        `env:"REDIS_ADDR"`
	CacheKeyPrefix string        `env:"AUTH_CACHE_KEY_PREFIX,default=foca:auth:"`
}

// LoadEnv decodes EnvConfig from the process environment.
func LoadEnv() (*EnvConfig, error) {
	var ec EnvConfig
	if err := envdecode.Decode(&ec); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, err
	}
	return &ec, nil
}

// Config converts the environment settings into a normalized Config.
func (ec *EnvConfig) Config() Config {
	cfg := Config{
		AddKeyToClaims:   ec.AddKeyToClaims,
		AllowExpired:     ec.AllowExpired,
		Audience:         nonEmpty(ec.Audience),
		ClaimIdentity:    ec.ClaimIdentity,
		ClaimIssuer:      ec.ClaimIssuer,
		ClaimKeyID:       ec.ClaimKeyID,
		Algorithms:       nonEmpty(ec.Algorithms),
		ValidationChecks: Checks(ec.ValidationChecks),
		HeaderName:       ec.HeaderName,
		TokenPrefix:      ec.TokenPrefix,
		Leeway:           ec.Leeway,
	}
	for _, m := range nonEmpty(ec.ValidationMethods) {
		cfg.ValidationMethods = append(cfg.ValidationMethods, Method(m))
	}
	cfg.Normalize()
	return cfg
}

// Options returns the Validator options implied by the runtime settings.
// Cache backends are not constructed here; see WithCache.
func (ec *EnvConfig) Options() []Option {
	var opts []Option
	if ec.HTTPTimeout > 0 {
		opts = append(opts, WithHTTPTimeout(ec.HTTPTimeout))
	}
	return opts
}

// ConfigFromEnv is LoadEnv followed by Config.
func ConfigFromEnv() (Config, error) {
	ec, err := LoadEnv()
	if err != nil {
		return Config{}, err
	}
	return ec.Config(), nil
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
