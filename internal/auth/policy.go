package auth

import (
	"context"
	"fmt"

	"github.com/dharsanguruparan/registry/internal/model"
)

// Snapshot is what the policy knows about the caller at decision time.
type Snapshot struct {
	Admin     bool
	Principal *Principal
}

// Take reads the caller from m.
func Take(ctx context.Context, m Manager) (Snapshot, error) {
	admin, err := m.IsAdmin(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("check admin: %w", err)
	}
	p, err := m.CurrentPrincipal(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("current principal: %w", err)
	}
	return Snapshot{Admin: admin, Principal: p}, nil
}

// Reason explains a decision.
type Reason int

const (
	Allowed Reason = iota
	DeniedUnauthenticated
	DeniedNotOwner
)

func (r Reason) String() string {
	switch r {
	case DeniedUnauthenticated:
		return "unauthenticated"
	case DeniedNotOwner:
		return "organization does not belong to the current user"
	default:
		return "allowed"
	}
}

// Decision is the outcome of CheckAccess.
type Decision struct {
	Reason Reason
}

// Allowed reports whether access was granted.
func (d Decision) Allowed() bool { return d.Reason == Allowed }

// CheckAccess applies, in order: administrators are always allowed; anonymous
// callers are denied; a private organization owned by someone else is denied;
// everything else is allowed.
func CheckAccess(s Snapshot, org *model.Organization) Decision {
	if s.Admin {
		return Decision{Reason: Allowed}
	}
	if s.Principal == nil {
		return Decision{Reason: DeniedUnauthenticated}
	}
	if org.OwnerID != nil && *org.OwnerID != s.Principal.ID && !org.IsPublic {
		return Decision{Reason: DeniedNotOwner}
	}
	return Decision{Reason: Allowed}
}

// UserName is the name recorded on batches and packages started by s.
func (s Snapshot) UserName() string {
	if s.Principal != nil {
		if s.Principal.Name != "" {
			return s.Principal.Name
		}
		return s.Principal.ID
	}
	if s.Admin {
		return "admin"
	}
	return ""
}
