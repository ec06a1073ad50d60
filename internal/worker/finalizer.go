// Package worker finalizes closed batches: staged objects of a committed batch
// are moved to their entry paths, those of a rolled back batch are deleted.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/registry/internal/bucket"
	"github.com/dharsanguruparan/registry/internal/metrics"
	"github.com/dharsanguruparan/registry/internal/model"
	"github.com/dharsanguruparan/registry/internal/queue"
	"github.com/dharsanguruparan/registry/internal/repository"
	"github.com/dharsanguruparan/registry/internal/s3storage"
)

// Finalizer performs promote and purge jobs. Both are safe to retry.
type Finalizer struct {
	store   repository.Store
	objects s3storage.ObjectSystem
	logger  *slog.Logger
	metrics *metrics.Collectors
}

// NewFinalizer constructs a Finalizer. logger and c may be nil.
func NewFinalizer(store repository.Store, objects s3storage.ObjectSystem, logger *slog.Logger, c *metrics.Collectors) *Finalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Finalizer{store: store, objects: objects, logger: logger, metrics: c}
}

// Promote copies every staged file entry of a committed batch to its path and
// removes the staged copy. Entries without a staged object are skipped.
func (f *Finalizer) Promote(ctx context.Context, p queue.BatchPayload) (err error) {
	defer func() { f.metrics.Finalization("promote", err) }()

	b, err := f.store.Batch(ctx, p.Token)
	if err != nil {
		return fmt.Errorf("promote batch %s: %w", p.Token, err)
	}
	if b.Status != model.BatchCommitted {
		return fmt.Errorf("promote batch %s: batch is %s: %w", p.Token, b.Status, asynq.SkipRetry)
	}
	entries, err := f.store.Entries(ctx, p.Token)
	if err != nil {
		return fmt.Errorf("promote batch %s: %w", p.Token, err)
	}
	moved := 0
	for _, e := range entries {
		if e.Type != model.EntryFile {
			continue
		}
		staged := bucket.StagingKey(p.Token, e.Path)
		if err := f.objects.CopyObject(ctx, p.Bucket, staged, e.Path); err != nil {
			if errors.Is(err, s3storage.ErrObjectNotFound) {
				f.logger.Debug("no staged object for entry", "batch", p.Token, "path", e.Path)
				continue
			}
			return fmt.Errorf("promote batch %s: %w", p.Token, err)
		}
		if err := f.objects.RemoveObject(ctx, p.Bucket, staged); err != nil {
			return fmt.Errorf("promote batch %s: %w", p.Token, err)
		}
		moved++
	}
	f.logger.Info("batch promoted", "batch", p.Token, "bucket", p.Bucket, "objects", moved)
	return nil
}

// Purge deletes everything the batch staged.
func (f *Finalizer) Purge(ctx context.Context, p queue.BatchPayload) (err error) {
	defer func() { f.metrics.Finalization("purge", err) }()

	var keys []string
	for info, lerr := range f.objects.ListObjects(ctx, p.Bucket, bucket.StagingDir(p.Token), true) {
		if lerr != nil {
			if errors.Is(lerr, s3storage.ErrBucketNotFound) {
				return nil
			}
			return fmt.Errorf("purge batch %s: %w", p.Token, lerr)
		}
		keys = append(keys, info.Key)
	}
	for _, key := range keys {
		if err := f.objects.RemoveObject(ctx, p.Bucket, key); err != nil {
			return fmt.Errorf("purge batch %s: %w", p.Token, err)
		}
	}
	f.logger.Info("batch purged", "batch", p.Token, "bucket", p.Bucket, "objects", len(keys))
	return nil
}
