// Package batch implements ingestion transactions. A batch opens against a
// dataset, accumulates entries and then either commits them into the
// dataset's inventory or rolls back, exactly once.
package batch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/registry/internal/apperr"
	"github.com/dharsanguruparan/registry/internal/auth"
	"github.com/dharsanguruparan/registry/internal/bucket"
	"github.com/dharsanguruparan/registry/internal/metrics"
	"github.com/dharsanguruparan/registry/internal/model"
	"github.com/dharsanguruparan/registry/internal/namespace"
	"github.com/dharsanguruparan/registry/internal/queue"
	"github.com/dharsanguruparan/registry/internal/repository"
	"github.com/dharsanguruparan/registry/internal/s3storage"
)

// Dispatcher hands closed batches to the finalizer. queue.Client and
// processing.Processor implement it.
type Dispatcher interface {
	Promote(ctx context.Context, p queue.BatchPayload) error
	Purge(ctx context.Context, p queue.BatchPayload) error
}

// Service runs the batch state machine.
type Service struct {
	store    repository.Store
	resolver *namespace.Resolver
	buckets  *bucket.Manager
	objects  s3storage.ObjectSystem
	dispatch Dispatcher
	logger   *slog.Logger
	metrics  *metrics.Collectors
	now      func() time.Time
	newToken func() string
	locks    tokenLocks
}

// Option customizes a Service.
type Option func(*Service)

// WithDispatcher finalizes staged objects after commit and rollback.
func WithDispatcher(d Dispatcher) Option { return func(s *Service) { s.dispatch = d } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithMetrics records batch activity on c.
func WithMetrics(c *metrics.Collectors) Option { return func(s *Service) { s.metrics = c } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService builds a Service.
func NewService(store repository.Store, resolver *namespace.Resolver, buckets *bucket.Manager, objects s3storage.ObjectSystem, opts ...Option) *Service {
	s := &Service{
		store:    store,
		resolver: resolver,
		buckets:  buckets,
		objects:  objects,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		newToken: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EntryInput describes an entry recorded with AddEntry.
type EntryInput struct {
	Path string
	Hash string
	Size int64
	Type model.EntryType
}

// Begin opens a batch on org/ds for the current principal.
func (s *Service) Begin(ctx context.Context, orgSlug, dsSlug string) (*model.Batch, error) {
	const op = "begin batch"
	ds, err := s.resolver.ResolveDataset(ctx, orgSlug, dsSlug, false)
	if err != nil {
		return nil, err
	}
	snap, err := auth.Take(ctx, s.resolver.Auth())
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, err).In(orgSlug, dsSlug)
	}
	if _, err := s.buckets.EnsureBucket(ctx, orgSlug, dsSlug); err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, err).In(orgSlug, dsSlug)
	}
	b := &model.Batch{
		Token:     s.newToken(),
		DatasetID: ds.ID,
		UserName:  snap.UserName(),
		Status:    model.BatchOpen,
		Start:     s.now(),
	}
	if err := s.store.CreateBatch(ctx, b); err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, err).In(orgSlug, dsSlug).ForBatch(b.Token)
	}
	s.metrics.BatchTransition(model.BatchOpen.String())
	s.logger.Info("batch begun", "org", orgSlug, "dataset", dsSlug, "batch", b.Token, "user", b.UserName)
	return b, nil
}

// access loads the batch and re-checks the caller against its dataset.
func (s *Service) access(ctx context.Context, op, token string) (*model.Batch, *model.Dataset, error) {
	if token == "" {
		return nil, nil, apperr.E(apperr.BadRequest, op, "missing batch token")
	}
	b, err := s.store.Batch(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, apperr.E(apperr.NotFound, op, "batch not found").ForBatch(token)
		}
		return nil, nil, apperr.Wrap(apperr.Internal, op, err).ForBatch(token)
	}
	ds, err := s.resolver.ResolveDatasetByID(ctx, b.DatasetID)
	if err != nil {
		return nil, nil, tagToken(err, token)
	}
	return b, ds, nil
}

func tagToken(err error, token string) error {
	var e *apperr.Error
	if errors.As(err, &e) && e.Token == "" {
		e.Token = token
	}
	return err
}

// Get returns the batch and its entries.
func (s *Service) Get(ctx context.Context, token string) (*model.Batch, []model.Entry, error) {
	const op = "get batch"
	b, ds, err := s.access(ctx, op, token)
	if err != nil {
		return nil, nil, err
	}
	entries, err := s.store.Entries(ctx, token)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.Internal, op, err).In(ds.OrganizationSlug, ds.Slug).ForBatch(token)
	}
	return b, entries, nil
}

// AddEntry records an entry in an open batch. Dataset aggregates are not
// touched until Commit.
func (s *Service) AddEntry(ctx context.Context, token string, in EntryInput) (*model.Entry, error) {
	const op = "add entry"
	release, err := s.locks.acquire(ctx, token)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, err).ForBatch(token)
	}
	defer release()

	b, ds, err := s.access(ctx, op, token)
	if err != nil {
		return nil, err
	}
	fail := func(kind apperr.Kind, msg string) error {
		return apperr.E(kind, op, msg).In(ds.OrganizationSlug, ds.Slug).ForBatch(token)
	}
	if err := b.Status.Accepting(); err != nil {
		return nil, fail(apperr.Conflict, err.Error())
	}
	path, ok := bucket.CleanPath(in.Path)
	if !ok {
		return nil, fail(apperr.BadRequest, "invalid entry path")
	}
	if in.Size < 0 {
		return nil, fail(apperr.BadRequest, "negative entry size")
	}
	if in.Type == model.EntryFile && in.Hash == "" {
		return nil, fail(apperr.BadRequest, "missing entry hash")
	}
	e := &model.Entry{
		BatchToken: token,
		Path:       path,
		Hash:       in.Hash,
		Size:       in.Size,
		Type:       in.Type,
		AddedOn:    s.now(),
	}
	if err := s.record(ctx, op, ds, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) record(ctx context.Context, op string, ds *model.Dataset, e *model.Entry) error {
	if err := s.store.AddEntry(ctx, e); err != nil {
		if errors.Is(err, model.ErrBatchConflict) {
			return apperr.Wrap(apperr.Conflict, op, err).In(ds.OrganizationSlug, ds.Slug).ForBatch(e.BatchToken)
		}
		return apperr.Wrap(apperr.Internal, op, err).In(ds.OrganizationSlug, ds.Slug).ForBatch(e.BatchToken)
	}
	s.metrics.EntryAdded()
	return nil
}

// Upload streams a file into the batch's staging area, hashing it on the way,
// and records it as a file entry. contentType may be empty.
func (s *Service) Upload(ctx context.Context, token, path string, r io.Reader, size int64, contentType string) (*model.Entry, error) {
	const op = "upload entry"
	release, err := s.locks.acquire(ctx, token)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, err).ForBatch(token)
	}
	defer release()

	b, ds, err := s.access(ctx, op, token)
	if err != nil {
		return nil, err
	}
	if err := b.Status.Accepting(); err != nil {
		return nil, apperr.Wrap(apperr.Conflict, op, err).In(ds.OrganizationSlug, ds.Slug).ForBatch(token)
	}
	clean, ok := bucket.CleanPath(path)
	if !ok {
		return nil, apperr.E(apperr.BadRequest, op, "invalid entry path").In(ds.OrganizationSlug, ds.Slug).ForBatch(token)
	}
	name, err := s.buckets.EnsureBucket(ctx, ds.OrganizationSlug, ds.Slug)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, err).In(ds.OrganizationSlug, ds.Slug).ForBatch(token)
	}

	hasher := sha256.New()
	counter := &countingReader{r: io.TeeReader(r, hasher)}
	staged := bucket.StagingKey(token, clean)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := s.objects.PutObject(ctx, name, staged, counter, size, contentType); err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, err).In(ds.OrganizationSlug, ds.Slug).ForBatch(token)
	}
	e := &model.Entry{
		BatchToken: token,
		Path:       clean,
		Hash:       hex.EncodeToString(hasher.Sum(nil)),
		Size:       counter.n,
		Type:       model.EntryFile,
		AddedOn:    s.now(),
	}
	if err := s.record(ctx, op, ds, e); err != nil {
		if rmErr := s.objects.RemoveObject(context.WithoutCancel(ctx), name, staged); rmErr != nil {
			s.logger.Warn("staged object left behind", "bucket", name, "key", staged, "error", rmErr)
		}
		return nil, err
	}
	return e, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Commit folds the batch's entries into the dataset aggregates. Committing a
// committed batch again is a no-op; committing a rolled back one is a
// Conflict. On failure the batch stays open.
func (s *Service) Commit(ctx context.Context, token string) (*model.Batch, error) {
	return s.close(ctx, "commit batch", token, model.BatchCommitted)
}

// Rollback closes the batch without touching the dataset. Entries stay
// recorded for audit but never enter the inventory.
func (s *Service) Rollback(ctx context.Context, token string) (*model.Batch, error) {
	return s.close(ctx, "rollback batch", token, model.BatchRolledBack)
}

func (s *Service) close(ctx context.Context, op, token string, to model.BatchStatus) (*model.Batch, error) {
	release, err := s.locks.acquire(ctx, token)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, err).ForBatch(token)
	}
	defer release()

	_, ds, err := s.access(ctx, op, token)
	if err != nil {
		return nil, err
	}
	b, changed, err := s.store.CloseBatch(ctx, token, to, s.now())
	if err != nil {
		kind := apperr.Internal
		if errors.Is(err, model.ErrBatchConflict) {
			kind = apperr.Conflict
		}
		return nil, apperr.Wrap(kind, op, err).In(ds.OrganizationSlug, ds.Slug).ForBatch(token)
	}
	if changed {
		s.metrics.BatchTransition(to.String())
		attrs := []any{"org", ds.OrganizationSlug, "dataset", ds.Slug, "batch", token, "status", to.String()}
		if to == model.BatchCommitted {
			if entries, err := s.store.Entries(ctx, token); err == nil {
				size, objects := model.Totals(entries)
				s.metrics.BytesCommitted(size)
				attrs = append(attrs, "size", size, "objects", objects)
			}
		}
		s.logger.Info("batch closed", attrs...)
	}
	s.finalize(ctx, ds, b)
	return b, nil
}

// finalize dispatches the staged-object job. The batch outcome is already
// durable, so a dispatch failure is only logged.
func (s *Service) finalize(ctx context.Context, ds *model.Dataset, b *model.Batch) {
	if s.dispatch == nil {
		return
	}
	payload := queue.BatchPayload{
		Token:   b.Token,
		Bucket:  bucket.Name(ds.OrganizationSlug, ds.Slug),
		Org:     ds.OrganizationSlug,
		Dataset: ds.Slug,
	}
	var err error
	switch b.Status {
	case model.BatchCommitted:
		err = s.dispatch.Promote(ctx, payload)
	case model.BatchRolledBack:
		err = s.dispatch.Purge(ctx, payload)
	}
	if err != nil {
		s.logger.Error("dispatch finalization failed", "batch", b.Token, "status", b.Status.String(), "error", err)
	}
}
