package main

import (
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/registry/internal/database"
	"github.com/dharsanguruparan/registry/internal/server"
	"github.com/dharsanguruparan/registry/internal/worker"
)

func (c *cli) newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate [up|down|version]",
		Short: "Apply or inspect the database schema",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "up"
			if len(args) == 1 {
				action = args[0]
			}
			pool, err := database.Connect(cmd.Context(), c.cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer pool.Close()
			db := database.OpenDB(pool)
			defer func() { _ = db.Close() }()

			switch action {
			case "up":
				return database.Migrate(db, c.logger)
			case "down":
				return database.Down(db)
			case "version":
				version, dirty, err := database.Version(db)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"version": version, "dirty": dirty})
			default:
				return fmt.Errorf("unknown migrate action %q", action)
			}
		},
	}
	return cmd
}

func (c *cli) newWorkerCmd() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the batch finalization worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if concurrency <= 0 {
				concurrency = c.cfg.Workers
			}
			finalizer := worker.NewFinalizer(a.store, a.objects, c.logger, a.metrics)
			srv := asynq.NewServer(redisOpt(c.cfg), asynq.Config{
				Concurrency: concurrency,
				Logger:      newAsynqLogger(c.logger),
			})

			ops := server.New(c.cfg.MetricsAddr, a.registry, c.logger)
			ops.AddCheck("database", a.db.PingContext)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return ops.Serve(ctx) })
			g.Go(func() error {
				if err := srv.Start(finalizer.Handler()); err != nil {
					return fmt.Errorf("start worker: %w", err)
				}
				<-ctx.Done()
				srv.Shutdown()
				return nil
			})
			if err := g.Wait(); err != nil && !errors.Is(err, ctx.Err()) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Concurrent finalization jobs (defaults to REGISTRY_WORKERS)")
	return cmd
}
