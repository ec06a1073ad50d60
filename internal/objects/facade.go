// Package objects exposes read access to a dataset's bucket. Writes go
// through batches; the direct mutation entry points fail with NotImplemented.
package objects

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/registry/internal/apperr"
	"github.com/dharsanguruparan/registry/internal/auth"
	"github.com/dharsanguruparan/registry/internal/bucket"
	"github.com/dharsanguruparan/registry/internal/model"
	"github.com/dharsanguruparan/registry/internal/namespace"
	"github.com/dharsanguruparan/registry/internal/repository"
	"github.com/dharsanguruparan/registry/internal/s3storage"
)

// Object is a downloaded blob.
type Object struct {
	// Name is the full object key within the dataset.
	Name        string
	ContentType string
	Data        []byte
}

// Facade resolves the dataset, ensures its bucket and then talks to the
// object store.
type Facade struct {
	store    repository.Store
	resolver *namespace.Resolver
	buckets  *bucket.Manager
	objects  s3storage.ObjectSystem
	logger   *slog.Logger
	now      func() time.Time
}

// NewFacade builds a Facade. logger may be nil.
func NewFacade(store repository.Store, resolver *namespace.Resolver, buckets *bucket.Manager, objects s3storage.ObjectSystem, logger *slog.Logger) *Facade {
	if logger == nil {
		logger = slog.Default()
	}
	return &Facade{
		store:    store,
		resolver: resolver,
		buckets:  buckets,
		objects:  objects,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ReadOption customizes a read of a dataset's content.
type ReadOption func(*readOptions)

type readOptions struct {
	password string
}

// WithPassword supplies the password of a password-protected dataset.
func WithPassword(password string) ReadOption {
	return func(o *readOptions) { o.password = password }
}

func (f *Facade) open(ctx context.Context, op, orgSlug, dsSlug string, opts []ReadOption) (*model.Dataset, string, error) {
	var ro readOptions
	for _, opt := range opts {
		opt(&ro)
	}
	ds, err := f.resolver.ResolveUnlockedDataset(ctx, orgSlug, dsSlug, ro.password)
	if err != nil {
		return nil, "", err
	}
	name, err := f.buckets.EnsureBucket(ctx, orgSlug, dsSlug)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.Internal, op, err).In(orgSlug, dsSlug)
	}
	return ds, name, nil
}

// cleanPrefix accepts an empty prefix (the whole bucket) and keeps a
// trailing slash so "dir/" does not match "dir2/".
func cleanPrefix(p string) (string, bool) {
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return "", true
	}
	clean, ok := bucket.CleanPath(p)
	if !ok {
		return "", false
	}
	if strings.HasSuffix(p, "/") {
		clean += "/"
	}
	return clean, true
}

// List yields the objects under prefix. Staged batch uploads are skipped. The
// sequence is lazy and reflects the bucket while it is consumed.
func (f *Facade) List(ctx context.Context, orgSlug, dsSlug, prefix string, recursive bool, opts ...ReadOption) (iter.Seq2[s3storage.ObjectInfo, error], error) {
	const op = "list objects"
	clean, ok := cleanPrefix(prefix)
	if !ok {
		return nil, apperr.E(apperr.BadRequest, op, "invalid path").In(orgSlug, dsSlug)
	}
	_, name, err := f.open(ctx, op, orgSlug, dsSlug, opts)
	if err != nil {
		return nil, err
	}
	seq := f.objects.ListObjects(ctx, name, clean, recursive)
	return func(yield func(s3storage.ObjectInfo, error) bool) {
		for info, err := range seq {
			if err != nil {
				yield(s3storage.ObjectInfo{}, apperr.Wrap(apperr.Internal, op, err).In(orgSlug, dsSlug))
				return
			}
			if bucket.IsStaging(info.Key) {
				continue
			}
			if !yield(info, nil) {
				return
			}
		}
	}, nil
}

// Get downloads the object at p.
func (f *Facade) Get(ctx context.Context, orgSlug, dsSlug, p string, opts ...ReadOption) (*Object, error) {
	const op = "get object"
	key, ok := bucket.CleanPath(p)
	if !ok {
		return nil, apperr.E(apperr.BadRequest, op, "invalid path").In(orgSlug, dsSlug)
	}
	_, name, err := f.open(ctx, op, orgSlug, dsSlug, opts)
	if err != nil {
		return nil, err
	}
	info, err := f.objects.StatObject(ctx, name, key)
	if err != nil {
		return nil, f.mapObjectErr(op, orgSlug, dsSlug, err)
	}
	rc, err := f.objects.GetObject(ctx, name, key)
	if err != nil {
		return nil, f.mapObjectErr(op, orgSlug, dsSlug, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, err).In(orgSlug, dsSlug)
	}
	return &Object{Name: key, ContentType: info.ContentType, Data: data}, nil
}

func (f *Facade) mapObjectErr(op, orgSlug, dsSlug string, err error) error {
	if errors.Is(err, s3storage.ErrObjectNotFound) {
		return apperr.Wrap(apperr.NotFound, op, err).In(orgSlug, dsSlug)
	}
	return apperr.Wrap(apperr.Internal, op, err).In(orgSlug, dsSlug)
}

// DeleteAll removes the dataset's bucket with everything in it. A bucket that
// never existed is not an error, so no bucket is ensured first.
func (f *Facade) DeleteAll(ctx context.Context, orgSlug, dsSlug string) error {
	const op = "delete objects"
	if _, err := f.resolver.ResolveDataset(ctx, orgSlug, dsSlug, false); err != nil {
		return err
	}
	if err := f.buckets.RemoveBucket(ctx, orgSlug, dsSlug); err != nil {
		return apperr.Wrap(apperr.Internal, op, err).In(orgSlug, dsSlug)
	}
	return nil
}

// DeleteDataset removes the bucket and then the dataset's records.
func (f *Facade) DeleteDataset(ctx context.Context, orgSlug, dsSlug string) error {
	const op = "delete dataset"
	ds, err := f.resolver.ResolveDataset(ctx, orgSlug, dsSlug, false)
	if err != nil {
		return err
	}
	if err := f.buckets.RemoveBucket(ctx, orgSlug, dsSlug); err != nil {
		return apperr.Wrap(apperr.Internal, op, err).In(orgSlug, dsSlug)
	}
	if err := f.store.DeleteDataset(ctx, ds.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.Wrap(apperr.NotFound, op, err).In(orgSlug, dsSlug)
		}
		return apperr.Wrap(apperr.Internal, op, err).In(orgSlug, dsSlug)
	}
	f.logger.Info("dataset deleted", "org", orgSlug, "dataset", dsSlug)
	return nil
}

// Inventory returns the committed entries under prefix.
func (f *Facade) Inventory(ctx context.Context, orgSlug, dsSlug, prefix string, opts ...ReadOption) ([]model.Entry, error) {
	const op = "inventory"
	clean, ok := cleanPrefix(prefix)
	if !ok {
		return nil, apperr.E(apperr.BadRequest, op, "invalid path").In(orgSlug, dsSlug)
	}
	ds, _, err := f.open(ctx, op, orgSlug, dsSlug, opts)
	if err != nil {
		return nil, err
	}
	entries, err := f.store.CommittedEntries(ctx, ds.ID, clean)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, err).In(orgSlug, dsSlug)
	}
	return entries, nil
}

// PackageRequest describes a download package.
type PackageRequest struct {
	Paths    []string
	IsPublic bool

	// TTL of zero means the package does not expire.
	TTL time.Duration
}

// CreatePackage records a download manifest for the given paths.
func (f *Facade) CreatePackage(ctx context.Context, orgSlug, dsSlug string, req PackageRequest, opts ...ReadOption) (*model.DownloadPackage, error) {
	const op = "create package"
	if len(req.Paths) == 0 {
		return nil, apperr.E(apperr.BadRequest, op, "no paths").In(orgSlug, dsSlug)
	}
	paths := make([]string, 0, len(req.Paths))
	for _, p := range req.Paths {
		clean, ok := bucket.CleanPath(p)
		if !ok {
			return nil, apperr.E(apperr.BadRequest, op, "invalid path "+p).In(orgSlug, dsSlug)
		}
		paths = append(paths, clean)
	}
	if req.TTL < 0 {
		return nil, apperr.E(apperr.BadRequest, op, "negative expiration").In(orgSlug, dsSlug)
	}
	ds, _, err := f.open(ctx, op, orgSlug, dsSlug, opts)
	if err != nil {
		return nil, err
	}
	snap, err := auth.Take(ctx, f.resolver.Auth())
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, err).In(orgSlug, dsSlug)
	}
	now := f.now()
	pkg := &model.DownloadPackage{
		ID:           uuid.NewString(),
		DatasetID:    ds.ID,
		UserName:     snap.UserName(),
		CreationDate: now,
		IsPublic:     req.IsPublic,
		Paths:        paths,
	}
	if req.TTL > 0 {
		exp := now.Add(req.TTL)
		pkg.ExpirationDate = &exp
	}
	if err := f.store.CreateDownloadPackage(ctx, pkg); err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, err).In(orgSlug, dsSlug)
	}
	return pkg, nil
}

// Packages lists the dataset's download packages, newest first.
func (f *Facade) Packages(ctx context.Context, orgSlug, dsSlug string) ([]model.DownloadPackage, error) {
	const op = "list packages"
	ds, err := f.resolver.ResolveDataset(ctx, orgSlug, dsSlug, false)
	if err != nil {
		return nil, err
	}
	pkgs, err := f.store.DownloadPackages(ctx, ds.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, err).In(orgSlug, dsSlug)
	}
	return pkgs, nil
}

// AddNew always fails: objects are written through batches.
func (f *Facade) AddNew(ctx context.Context, orgSlug, dsSlug, p string, r io.Reader) error {
	return apperr.E(apperr.NotImplemented, "add object", "direct writes are not supported, use a batch").In(orgSlug, dsSlug)
}

// Delete always fails: objects are removed with their dataset.
func (f *Facade) Delete(ctx context.Context, orgSlug, dsSlug, p string) error {
	return apperr.E(apperr.NotImplemented, "delete object", "direct deletes are not supported").In(orgSlug, dsSlug)
}
