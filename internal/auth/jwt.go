package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("invalid token")

// AdminRole is the role claim that grants administrator access.
const AdminRole = "admin"

// Claims carried by registry tokens.
type Claims struct {
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// JWTManager authenticates callers from an HMAC-signed bearer token found in
// the context (see WithToken). A context without a token is anonymous.
type JWTManager struct {
	key    []byte
	issuer string
}

// NewJWTManager builds a manager verifying tokens signed with key. An empty
// issuer accepts any issuer.
func NewJWTManager(key []byte, issuer string) *JWTManager {
	return &JWTManager{key: key, issuer: issuer}
}

// Issue signs a token for the given principal. Used by operators and tests.
func (m *JWTManager) Issue(p Principal, claims jwt.RegisteredClaims) (string, error) {
	c := Claims{Name: p.Name, RegisteredClaims: claims}
	c.Subject = p.ID
	if c.Issuer == "" {
		c.Issuer = m.issuer
	}
	if p.Admin {
		c.Roles = []string{AdminRole}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (m *JWTManager) parse(ctx context.Context) (*Claims, error) {
	raw := TokenFromContext(ctx)
	if raw == "" {
		return nil, nil
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return m.key, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

func (m *JWTManager) IsAdmin(ctx context.Context) (bool, error) {
	claims, err := m.parse(ctx)
	if err != nil || claims == nil {
		return false, err
	}
	return slices.Contains(claims.Roles, AdminRole), nil
}

func (m *JWTManager) CurrentPrincipal(ctx context.Context) (*Principal, error) {
	claims, err := m.parse(ctx)
	if err != nil || claims == nil {
		return nil, err
	}
	return &Principal{
		ID:    claims.Subject,
		Name:  claims.Name,
		Admin: slices.Contains(claims.Roles, AdminRole),
	}, nil
}

var _ Manager = (*JWTManager)(nil)
