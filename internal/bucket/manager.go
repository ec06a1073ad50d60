// Package bucket derives the physical bucket backing a dataset and makes sure
// it exists before any blob is touched.
package bucket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/dharsanguruparan/registry/internal/metrics"
	"github.com/dharsanguruparan/registry/internal/s3storage"
)

// Name returns the bucket backing org/ds.
func Name(orgSlug, dsSlug string) string {
	return fmt.Sprintf("%s-%s", orgSlug, dsSlug)
}

// Manager provisions and removes dataset buckets.
type Manager struct {
	objects s3storage.ObjectSystem
	region  string
	logger  *slog.Logger
	metrics *metrics.Collectors
	group   singleflight.Group
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics records bucket activity on c.
func WithMetrics(c *metrics.Collectors) Option {
	return func(m *Manager) { m.metrics = c }
}

// NewManager builds a Manager. region is the hint passed to bucket creation;
// it may be empty.
func NewManager(objects s3storage.ObjectSystem, region string, opts ...Option) *Manager {
	m := &Manager{objects: objects, region: region, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureBucket returns the bucket for org/ds, creating it when missing.
// Concurrent callers in this process share one creation attempt; a creator in
// another process winning the race surfaces as ErrBucketExists, which counts
// as success.
func (m *Manager) EnsureBucket(ctx context.Context, orgSlug, dsSlug string) (string, error) {
	name := Name(orgSlug, dsSlug)
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("ensure bucket %s: %w", name, err)
	}
	ch := m.group.DoChan(name, func() (any, error) {
		// Detached from the first caller so its cancellation does not fail
		// the others sharing this attempt.
		return nil, m.ensure(context.WithoutCancel(ctx), name)
	})
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("ensure bucket %s: %w", name, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return name, nil
	}
}

func (m *Manager) ensure(ctx context.Context, name string) error {
	exists, err := m.objects.BucketExists(ctx, name)
	if err != nil {
		return fmt.Errorf("ensure bucket %s: %w", name, err)
	}
	if exists {
		return nil
	}
	if m.region == "" {
		m.logger.Warn("no region specified in storage provider config", "bucket", name)
	}
	if err := m.objects.MakeBucket(ctx, name, m.region); err != nil {
		if errors.Is(err, s3storage.ErrBucketExists) {
			return nil
		}
		return fmt.Errorf("ensure bucket %s: %w", name, err)
	}
	m.metrics.BucketCreated()
	m.logger.Info("bucket created", "bucket", name, "region", m.region)
	return nil
}

// RemoveBucket deletes the bucket for org/ds with its contents. A missing
// bucket is not an error.
func (m *Manager) RemoveBucket(ctx context.Context, orgSlug, dsSlug string) error {
	name := Name(orgSlug, dsSlug)
	exists, err := m.objects.BucketExists(ctx, name)
	if err != nil {
		return fmt.Errorf("remove bucket %s: %w", name, err)
	}
	if !exists {
		return nil
	}
	if err := m.objects.RemoveBucket(ctx, name); err != nil {
		if errors.Is(err, s3storage.ErrBucketNotFound) {
			return nil
		}
		return fmt.Errorf("remove bucket %s: %w", name, err)
	}
	m.metrics.BucketRemoved()
	m.logger.Info("bucket removed", "bucket", name)
	return nil
}
