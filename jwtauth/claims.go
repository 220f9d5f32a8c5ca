package jwtauth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/infergate/infergate/models"
)

// claimsFromToken builds the verified claims view handed to the rest of the
// gateway. The full claim map is retained for authorization expressions.
func claimsFromToken(mapClaims jwt.MapClaims, issuer string, audience jwt.ClaimStrings) (*models.Claims, error) {
	claims := &models.Claims{
		Issuer:   issuer,
		Audience: []string(audience),
		Scopes:   scopesFromClaims(mapClaims),
		Raw:      map[string]any(mapClaims),
	}

	if sub, err := mapClaims.GetSubject(); err == nil {
		claims.Subject = sub
	}
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	if iat, err := mapClaims.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}

	return claims, nil
}

// scopesFromClaims reads OAuth2 scopes from either the space-separated
// "scope" claim or the "scp" array some issuers emit instead.
func scopesFromClaims(mapClaims jwt.MapClaims) []string {
	if raw, ok := mapClaims["scope"]; ok {
		if s, ok := raw.(string); ok && s != "" {
			return strings.Fields(s)
		}
	}
	if raw, ok := mapClaims["scp"]; ok {
		switch v := raw.(type) {
		case []interface{}:
			scopes := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					scopes = append(scopes, s)
				}
			}
			return scopes
		case string:
			return strings.Fields(v)
		}
	}
	return nil
}

