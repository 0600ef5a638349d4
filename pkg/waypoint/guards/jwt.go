// Package guards provides authentication, authorization and rate-limit
// guards for waypoint actions.
package guards

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/toyz/waypoint/pkg/waypoint"
)

// ClaimsKey holds the verified *Claims of the request.
const ClaimsKey = "waypoint.claims"

// Claims are the JWT claims understood by JWTGuard.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims carry role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ClaimsFrom returns the claims stored by JWTGuard.
func ClaimsFrom(ctx waypoint.RequestContext) (*Claims, bool) {
	c, ok := ctx.Get(ClaimsKey).(*Claims)
	return c, ok && c != nil
}

// JWTGuard authenticates requests carrying an HS256 bearer token.
type JWTGuard struct {
	secret []byte
	issuer string
	realm  string
}

// JWTOption configures a JWTGuard
type JWTOption func(*JWTGuard)

// WithIssuer requires and issues tokens with the given iss claim.
func WithIssuer(issuer string) JWTOption {
	return func(g *JWTGuard) { g.issuer = issuer }
}

// WithRealm sets the realm advertised in WWW-Authenticate.
func WithRealm(realm string) JWTOption {
	return func(g *JWTGuard) { g.realm = realm }
}

// NewJWTGuard creates a guard verifying tokens signed with secret.
func NewJWTGuard(secret string, opts ...JWTOption) *JWTGuard {
	g := &JWTGuard{secret: []byte(secret), realm: "waypoint"}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *JWTGuard) Type() string { return "auth" }

// Validate verifies the bearer token and stores its claims on the request.
func (g *JWTGuard) Validate(ctx waypoint.RequestContext) (bool, error) {
	raw, ok := bearerToken(ctx.Request().Header("Authorization"))
	if !ok {
		return false, g.unauthorized("missing bearer token")
	}

	claims, err := g.Verify(raw)
	if err != nil {
		return false, g.unauthorized("invalid token").WithCause(err)
	}
	ctx.Set(ClaimsKey, claims)
	return true, nil
}

// Verify parses and validates a signed token.
func (g *JWTGuard) Verify(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if g.issuer != "" {
		opts = append(opts, jwt.WithIssuer(g.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return g.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// Issue signs a token for subject carrying roles, valid for ttl.
func (g *JWTGuard) Issue(subject string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    g.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
}

func (g *JWTGuard) unauthorized(message string) *waypoint.HttpError {
	return waypoint.ErrUnauthorized(message).
		WithHeader("WWW-Authenticate", fmt.Sprintf("Bearer realm=%q", g.realm))
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RoleGuard authorizes requests whose claims carry any of its roles.
// It must run after a JWTGuard.
type RoleGuard struct {
	roles []string
}

// RequireRole creates a RoleGuard accepting any of roles.
func RequireRole(roles ...string) *RoleGuard {
	return &RoleGuard{roles: roles}
}

func (g *RoleGuard) Type() string { return "authz" }

func (g *RoleGuard) Validate(ctx waypoint.RequestContext) (bool, error) {
	claims, ok := ClaimsFrom(ctx)
	if !ok {
		return false, waypoint.ErrUnauthorized("authentication required")
	}
	for _, role := range g.roles {
		if claims.HasRole(role) {
			return true, nil
		}
	}
	return false, nil
}
