// Package auth resolves who is calling and decides whether they may touch an
// organization.
package auth

import (
	"context"
)

// Principal is an authenticated identity.
type Principal struct {
	ID    string
	Name  string
	Admin bool
}

// Manager is the identity collaborator the registry core depends on.
type Manager interface {
	// IsAdmin reports whether the current principal bypasses ownership checks.
	IsAdmin(ctx context.Context) (bool, error)
	// CurrentPrincipal returns nil when the caller is anonymous.
	CurrentPrincipal(ctx context.Context) (*Principal, error)
}

// StaticManager always answers with the same principal. A nil Principal makes
// every caller anonymous.
type StaticManager struct {
	Principal *Principal
}

// Anonymous returns a manager for unauthenticated callers.
func Anonymous() *StaticManager { return &StaticManager{} }

// As returns a manager for a regular user.
func As(id string) *StaticManager {
	return &StaticManager{Principal: &Principal{ID: id, Name: id}}
}

// AsAdmin returns a manager for an administrator.
func AsAdmin(id string) *StaticManager {
	return &StaticManager{Principal: &Principal{ID: id, Name: id, Admin: true}}
}

func (m *StaticManager) IsAdmin(context.Context) (bool, error) {
	return m.Principal != nil && m.Principal.Admin, nil
}

func (m *StaticManager) CurrentPrincipal(context.Context) (*Principal, error) {
	if m.Principal == nil {
		return nil, nil
	}
	p := *m.Principal
	return &p, nil
}

type contextKey int

const tokenContextKey contextKey = iota

// WithToken stores a bearer token for managers that read it from the context.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey, token)
}

// TokenFromContext returns the token stored by WithToken.
func TokenFromContext(ctx context.Context) string {
	if tok, ok := ctx.Value(tokenContextKey).(string); ok {
		return tok
	}
	return ""
}

// Verify interface compliance.
var _ Manager = (*StaticManager)(nil)
