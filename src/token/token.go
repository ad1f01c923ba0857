/*
Package token mints and validates tunnel access tokens. A token binds
a subject's identity attributes and a space-delimited scope grant to a
tunnel, signed HS256 with the control plane's signing secret.
*/
package token

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"aquaduct.dev/sluice/src/access"
)

// Claims are the JWT claims carried by a tunnel access token. The
// registered Subject claim holds the user ID.
type Claims struct {
	jwt.RegisteredClaims

	// ClusterID and TunnelID bind the token to one tunnel. Empty on
	// operator tokens, which are not tunnel-bound.
	ClusterID string `json:"clusterId,omitempty"`
	TunnelID  string `json:"tunnelId,omitempty"`

	// Scopes is the space-delimited scope grant.
	Scopes string `json:"scp,omitempty"`

	// Identity attributes used for ACL evaluation.
	Groups          []string `json:"groups,omitempty"`
	Organizations   []string `json:"orgs,omitempty"`
	KeyFingerprints []string `json:"keys,omitempty"`
}

// Mint signs a token for the given claims, valid for ttl. The scope
// grant is validated against the closed scope vocabulary before
// signing; jti, iat, nbf and exp are filled in here.
func Mint(secret string, claims Claims, ttl time.Duration) (string, error) {
	if claims.Scopes != "" {
		if err := access.ValidateScopes([]string{claims.Scopes}, nil, true); err != nil {
			return "", err
		}
	}

	now := time.Now()
	claims.ID = uuid.NewString()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.NotBefore = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a token string against the signing
// secret. Rejects tokens signed with anything but HMAC.
func Validate(secret, tokenString string) (*Claims, error) {
	var claims Claims
	tok, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !tok.Valid {
		return nil, fmt.Errorf("token is not valid")
	}
	return &claims, nil
}

// ScopeList splits the space-delimited scope grant.
func (c *Claims) ScopeList() []string {
	return strings.Fields(c.Scopes)
}

// HasScope reports whether the token grants the given scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.ScopeList() {
		if s == scope {
			return true
		}
	}
	return false
}

// ForTunnel reports whether the token is bound to the given tunnel.
// Operator tokens with no binding apply to every tunnel in the
// cluster.
func (c *Claims) ForTunnel(clusterID, tunnelID string) bool {
	if c.TunnelID == "" {
		return c.ClusterID == "" || c.ClusterID == clusterID
	}
	return c.ClusterID == clusterID && c.TunnelID == tunnelID
}

// AccessSubject bridges token claims to the identity attributes the
// ACL evaluator matches on. The source IP and delegated authorities
// are the caller's to fill in per request.
func (c *Claims) AccessSubject() access.Subject {
	return access.Subject{
		UserID:          c.Subject,
		Groups:          c.Groups,
		Organizations:   c.Organizations,
		KeyFingerprints: c.KeyFingerprints,
	}
}
