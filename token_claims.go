package hooks

import (
	"github.com/golang-jwt/jwt/v5"
)

// Registered claims stay under the issuer's control; enrichment scripts can
// only add extension fields.
var protectedClaims = map[string]struct{}{
	"iss": {},
	"sub": {},
	"aud": {},
	"exp": {},
	"nbf": {},
	"iat": {},
	"jti": {},
}

// ApplyEnrichment merges the data returned by a token_claims dispatch into
// token claims. Later keys win against existing extension fields; registered
// claims are never overwritten.
func ApplyEnrichment(claims jwt.MapClaims, data map[string]any) jwt.MapClaims {
	if claims == nil {
		claims = jwt.MapClaims{}
	}

	for key, value := range data {
		if _, protected := protectedClaims[key]; protected {
			continue
		}
		claims[key] = value
	}

	return claims
}
