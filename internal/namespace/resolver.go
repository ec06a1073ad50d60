// Package namespace resolves organization and dataset references while
// enforcing the access policy. Every entry point of the registry goes through
// here before the object store is touched.
package namespace

import (
	"context"
	"errors"
	"strings"

	"github.com/dharsanguruparan/registry/internal/apperr"
	"github.com/dharsanguruparan/registry/internal/auth"
	"github.com/dharsanguruparan/registry/internal/model"
	"github.com/dharsanguruparan/registry/internal/repository"
	"github.com/dharsanguruparan/registry/internal/slug"
)

// Resolver validates slugs, loads records and checks access.
type Resolver struct {
	store repository.Store
	auth  auth.Manager
}

// NewResolver builds a Resolver.
func NewResolver(store repository.Store, am auth.Manager) *Resolver {
	return &Resolver{store: store, auth: am}
}

// Auth returns the identity collaborator the resolver checks against.
func (r *Resolver) Auth() auth.Manager { return r.auth }

func checkSlug(op, what, s string) error {
	if strings.TrimSpace(s) == "" {
		return apperr.E(apperr.BadRequest, op, "missing "+what+" id")
	}
	if !slug.IsValid(s) {
		return apperr.E(apperr.BadRequest, op, "invalid "+what+" id")
	}
	return nil
}

// ResolveOrganization loads the organization with its datasets and checks the
// caller may access it. With allowMissing a missing organization yields
// (nil, nil) instead of NotFound.
func (r *Resolver) ResolveOrganization(ctx context.Context, orgSlug string, allowMissing bool) (*model.Organization, error) {
	const op = "resolve organization"
	if err := checkSlug(op, "organization", orgSlug); err != nil {
		return nil, err
	}
	org, err := r.store.Organization(ctx, orgSlug)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			if allowMissing {
				return nil, nil
			}
			return nil, apperr.E(apperr.NotFound, op, "organization not found").In(orgSlug, "")
		}
		return nil, apperr.Wrap(apperr.Internal, op, err).In(orgSlug, "")
	}
	if err := r.authorize(ctx, op, org); err != nil {
		return nil, err
	}
	return org, nil
}

func (r *Resolver) authorize(ctx context.Context, op string, org *model.Organization) error {
	snap, err := auth.Take(ctx, r.auth)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			return apperr.Wrap(apperr.Unauthenticated, op, err).In(org.Slug, "")
		}
		return apperr.Wrap(apperr.Internal, op, err).In(org.Slug, "")
	}
	switch d := auth.CheckAccess(snap, org); d.Reason {
	case auth.Allowed:
		return nil
	case auth.DeniedUnauthenticated:
		return apperr.E(apperr.Unauthenticated, op, "invalid user").In(org.Slug, "")
	default:
		return apperr.E(apperr.Unauthorized, op, d.Reason.String()).In(org.Slug, "")
	}
}

// ResolveDataset validates both slugs, resolves the organization (including
// the access check) and only then looks the dataset up in the loaded
// collection, so unauthorized callers never learn whether it exists.
func (r *Resolver) ResolveDataset(ctx context.Context, orgSlug, dsSlug string, allowMissing bool) (*model.Dataset, error) {
	const op = "resolve dataset"
	if err := checkSlug(op, "dataset", dsSlug); err != nil {
		return nil, err
	}
	org, err := r.ResolveOrganization(ctx, orgSlug, false)
	if err != nil {
		return nil, err
	}
	ds, ok := org.FindDataset(dsSlug)
	if !ok {
		if allowMissing {
			return nil, nil
		}
		return nil, apperr.E(apperr.NotFound, op, "cannot find dataset").In(orgSlug, dsSlug)
	}
	return ds, nil
}

// ResolveTag splits an "org/dataset" tag and resolves it.
func (r *Resolver) ResolveTag(ctx context.Context, tag string) (*model.Dataset, error) {
	org, ds := slug.SplitTag(tag)
	return r.ResolveDataset(ctx, org, ds, false)
}

// ResolveDatasetByID resolves the dataset a batch or package points at,
// re-running the organization access check.
func (r *Resolver) ResolveDatasetByID(ctx context.Context, id int64) (*model.Dataset, error) {
	const op = "resolve dataset"
	ds, err := r.store.DatasetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.E(apperr.NotFound, op, "cannot find dataset")
		}
		return nil, apperr.Wrap(apperr.Internal, op, err)
	}
	return r.ResolveDataset(ctx, ds.OrganizationSlug, ds.Slug, false)
}

// VerifyDatasetPassword resolves the dataset and, when it is password gated,
// checks password against the stored hash.
func (r *Resolver) VerifyDatasetPassword(ctx context.Context, orgSlug, dsSlug, password string) (*model.Dataset, error) {
	const op = "verify dataset password"
	ds, err := r.ResolveDataset(ctx, orgSlug, dsSlug, false)
	if err != nil {
		return nil, err
	}
	if ds.PasswordHash == nil {
		return ds, nil
	}
	if err := auth.VerifyPassword(*ds.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, apperr.E(apperr.Unauthorized, op, "wrong dataset password").In(orgSlug, dsSlug)
		}
		return nil, apperr.Wrap(apperr.Internal, op, err).In(orgSlug, dsSlug)
	}
	return ds, nil
}

// ResolveUnlockedDataset resolves the dataset and enforces its download
// password. Administrators and the organization owner are never asked for it.
func (r *Resolver) ResolveUnlockedDataset(ctx context.Context, orgSlug, dsSlug, password string) (*model.Dataset, error) {
	const op = "unlock dataset"
	if err := checkSlug(op, "dataset", dsSlug); err != nil {
		return nil, err
	}
	org, err := r.ResolveOrganization(ctx, orgSlug, false)
	if err != nil {
		return nil, err
	}
	ds, ok := org.FindDataset(dsSlug)
	if !ok {
		return nil, apperr.E(apperr.NotFound, op, "cannot find dataset").In(orgSlug, dsSlug)
	}
	if ds.PasswordHash == nil {
		return ds, nil
	}
	snap, err := auth.Take(ctx, r.auth)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, err).In(orgSlug, dsSlug)
	}
	if snap.Admin || (snap.Principal != nil && org.OwnerID != nil && *org.OwnerID == snap.Principal.ID) {
		return ds, nil
	}
	if password == "" {
		return nil, apperr.E(apperr.Unauthorized, op, "dataset is password protected").In(orgSlug, dsSlug)
	}
	if err := auth.VerifyPassword(*ds.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, apperr.E(apperr.Unauthorized, op, "wrong dataset password").In(orgSlug, dsSlug)
		}
		return nil, apperr.Wrap(apperr.Internal, op, err).In(orgSlug, dsSlug)
	}
	return ds, nil
}
