package namespace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/registry/internal/apperr"
	"github.com/dharsanguruparan/registry/internal/auth"
	"github.com/dharsanguruparan/registry/internal/model"
	"github.com/dharsanguruparan/registry/internal/repository"
	"github.com/dharsanguruparan/registry/internal/slug"
)

// NewOrganization describes an organization to create. An empty Slug is
// derived from Name.
type NewOrganization struct {
	Slug        string
	Name        string
	Description string
	IsPublic    bool
}

// NewDataset describes a dataset to create. An empty Slug is derived from
// Name; a non-empty Password gates downloads.
type NewDataset struct {
	Slug        string
	Name        string
	Description string
	Password    string
}

func deriveSlug(op, what, explicit, name string) (string, error) {
	s := explicit
	if s == "" {
		s = slug.Normalize(name)
	}
	if err := checkSlug(op, what, s); err != nil {
		return "", err
	}
	if len(s) > slug.MaxLength {
		return "", apperr.E(apperr.BadRequest, op, fmt.Sprintf("%s id longer than %d characters", what, slug.MaxLength))
	}
	return s, nil
}

// CreateOrganization creates an organization owned by the current principal.
func (r *Resolver) CreateOrganization(ctx context.Context, in NewOrganization) (*model.Organization, error) {
	const op = "create organization"
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperr.E(apperr.BadRequest, op, "missing organization name")
	}
	s, err := deriveSlug(op, "organization", in.Slug, in.Name)
	if err != nil {
		return nil, err
	}
	snap, err := auth.Take(ctx, r.auth)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			return nil, apperr.Wrap(apperr.Unauthenticated, op, err).In(s, "")
		}
		return nil, apperr.Wrap(apperr.Internal, op, err).In(s, "")
	}
	if snap.Principal == nil {
		return nil, apperr.E(apperr.Unauthenticated, op, "invalid user").In(s, "")
	}
	owner := snap.Principal.ID
	org := &model.Organization{
		Slug:         s,
		Name:         in.Name,
		Description:  in.Description,
		IsPublic:     in.IsPublic,
		OwnerID:      &owner,
		CreationDate: time.Now().UTC(),
	}
	if err := r.store.CreateOrganization(ctx, org); err != nil {
		return nil, storeErr(op, err).In(s, "")
	}
	return org, nil
}

// CreateDataset creates a dataset in an organization the caller may access.
func (r *Resolver) CreateDataset(ctx context.Context, orgSlug string, in NewDataset) (*model.Dataset, error) {
	const op = "create dataset"
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperr.E(apperr.BadRequest, op, "missing dataset name").In(orgSlug, "")
	}
	s, err := deriveSlug(op, "dataset", in.Slug, in.Name)
	if err != nil {
		return nil, err
	}
	if _, err := r.ResolveOrganization(ctx, orgSlug, false); err != nil {
		return nil, err
	}
	ds := &model.Dataset{
		OrganizationSlug: orgSlug,
		Slug:             s,
		Name:             in.Name,
		Description:      in.Description,
		InternalRef:      uuid.NewString(),
		CreationDate:     time.Now().UTC(),
	}
	if in.Password != "" {
		hash, err := auth.HashPassword(in.Password)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, op, err).In(orgSlug, s)
		}
		ds.PasswordHash = &hash
	}
	if err := r.store.CreateDataset(ctx, ds); err != nil {
		return nil, storeErr(op, err).In(orgSlug, s)
	}
	return ds, nil
}

func storeErr(op string, err error) *apperr.Error {
	switch {
	case errors.Is(err, repository.ErrExists):
		return apperr.Wrap(apperr.Conflict, op, err)
	case errors.Is(err, repository.ErrNotFound):
		return apperr.Wrap(apperr.NotFound, op, err)
	default:
		return apperr.Wrap(apperr.Internal, op, err)
	}
}
