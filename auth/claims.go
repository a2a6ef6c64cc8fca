package auth

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Claims is the record produced by a successful validation.
type Claims struct {
	// JWT is the raw token that was validated.
	JWT string `json:"jwt"`
	// Values holds the token's payload claims, plus public_key when requested.
	Values map[string]any `json:"claims"`
	User   string         `json:"user_id"`
	Scope  string         `json:"scope"`
}

var _ UserInfo = (*Claims)(nil)

func (c *Claims) UserID() string { return c.User }

// Claims decodes the claim map into ref via a JSON round trip.
func (c *Claims) Claims(ref any) error {
	b, err := json.Marshal(c.Values)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// Assemble builds the result record. It does not validate anything.
func Assemble(claims map[string]any, tok string, identityClaim string) *Claims {
	return &Claims{
		JWT:    tok,
		Values: claims,
		User:   claimString(claims[identityClaim]),
		Scope:  scopeString(claims["scope"]),
	}
}

func claimString(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// scopeString accepts the space-delimited form and the array form some
// providers emit.
func scopeString(v any) string {
	switch v := v.(type) {
	case []any:
		parts := make([]string, 0, len(v))
		for _, e := range v {
			if s := claimString(e); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	case []string:
		return strings.Join(v, " ")
	default:
		return claimString(v)
	}
}
