package auth

import (
	"net/http"
	"strings"
)

// Challenge describes an HTTP rejection (status + WWW-Authenticate header).
type Challenge struct {
	Status          int
	WWWAuthenticate string
}

var challengeEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// bearerChallenge renders a Bearer challenge with quoted parameters in the
// given order. Empty values are omitted.
func bearerChallenge(params ...[2]string) string {
	var b strings.Builder
	b.WriteString("Bearer")
	first := true
	for _, p := range params {
		if p[1] == "" {
			continue
		}
		if first {
			b.WriteByte(' ')
			first = false
		} else {
			b.WriteString(", ")
		}
		b.WriteString(p[0])
		b.WriteString(`="`)
		b.WriteString(challengeEscaper.Replace(p[1]))
		b.WriteByte('"')
	}
	return b.String()
}

// NewAuthenticationRequired builds the challenge sent when no credentials
// were supplied.
func NewAuthenticationRequired(realm string) *Challenge {
	return &Challenge{
		Status:          http.StatusUnauthorized,
		WWWAuthenticate: bearerChallenge([2]string{"realm", realm}),
	}
}

// NewInvalidAuthorizationHeader builds the challenge for a header that is
// present but not of the form "<prefix> <token>".
func NewInvalidAuthorizationHeader(realm string) *Challenge {
	return &Challenge{
		Status: http.StatusUnauthorized,
		WWWAuthenticate: bearerChallenge(
			[2]string{"realm", realm},
			[2]string{"error", "invalid_request"},
			[2]string{"error_description", "Invalid authorization header"},
		),
	}
}

// NewInvalidToken builds the challenge for a token that failed validation.
func NewInvalidToken(realm string, description string) *Challenge {
	return &Challenge{
		Status: http.StatusUnauthorized,
		WWWAuthenticate: bearerChallenge(
			[2]string{"realm", realm},
			[2]string{"error", "invalid_token"},
			[2]string{"error_description", description},
		),
	}
}
