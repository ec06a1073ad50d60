package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dharsanguruparan/registry/internal/auth"
	"github.com/dharsanguruparan/registry/internal/batch"
	"github.com/dharsanguruparan/registry/internal/bucket"
	"github.com/dharsanguruparan/registry/internal/config"
	"github.com/dharsanguruparan/registry/internal/database"
	"github.com/dharsanguruparan/registry/internal/metrics"
	"github.com/dharsanguruparan/registry/internal/namespace"
	"github.com/dharsanguruparan/registry/internal/objects"
	"github.com/dharsanguruparan/registry/internal/queue"
	"github.com/dharsanguruparan/registry/internal/repository"
	"github.com/dharsanguruparan/registry/internal/s3storage"
)

// app is the wired registry core.
type app struct {
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Collectors
	db       *sql.DB
	store    repository.Store
	objects  s3storage.ObjectSystem
	resolver *namespace.Resolver
	buckets  *bucket.Manager
	batches  *batch.Service
	facade   *objects.Facade
	closers  []func()
}

// newApp wires the core over the given backends. dispatch may be nil.
func newApp(store repository.Store, objs s3storage.ObjectSystem, am auth.Manager, region string, dispatch batch.Dispatcher, logger *slog.Logger) *app {
	reg := prometheus.NewRegistry()
	c := metrics.New(reg)
	resolver := namespace.NewResolver(store, am)
	buckets := bucket.NewManager(objs, region, bucket.WithLogger(logger), bucket.WithMetrics(c))
	opts := []batch.Option{batch.WithLogger(logger), batch.WithMetrics(c)}
	if dispatch != nil {
		opts = append(opts, batch.WithDispatcher(dispatch))
	}
	return &app{
		logger:   logger,
		registry: reg,
		metrics:  c,
		store:    store,
		objects:  objs,
		resolver: resolver,
		buckets:  buckets,
		batches:  batch.NewService(store, resolver, buckets, objs, opts...),
		facade:   objects.NewFacade(store, resolver, buckets, objs, logger),
	}
}

func connect(ctx context.Context, cfg *config.Config, am auth.Manager, logger *slog.Logger) (*app, error) {
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	db := database.OpenDB(pool)

	objs, err := s3storage.NewMinio(s3storage.MinioOptions{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		UseSSL:    cfg.S3.UseSSL,
		Region:    cfg.Region(),
	})
	if err != nil {
		_ = db.Close()
		pool.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}

	client := asynq.NewClient(redisOpt(cfg))
	a := newApp(repository.NewPostgres(db), objs, am, cfg.Region(), queue.NewClient(client), logger)
	a.db = db
	a.closers = append(a.closers,
		func() { _ = client.Close() },
		func() { _ = db.Close() },
		pool.Close,
	)
	return a, nil
}

func redisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

// Close releases the backends in order.
func (a *app) Close() {
	for _, fn := range a.closers {
		fn()
	}
	a.closers = nil
}
