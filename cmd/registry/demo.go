package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/registry/internal/auth"
	"github.com/dharsanguruparan/registry/internal/batch"
	"github.com/dharsanguruparan/registry/internal/bucket"
	"github.com/dharsanguruparan/registry/internal/model"
	"github.com/dharsanguruparan/registry/internal/namespace"
	"github.com/dharsanguruparan/registry/internal/processing"
	"github.com/dharsanguruparan/registry/internal/s3storage"
	"github.com/dharsanguruparan/registry/internal/storage"
	"github.com/dharsanguruparan/registry/internal/worker"
)

var demoFiles = map[string]string{
	"readme.txt":       "sample dataset\n",
	"data/points.csv":  "x,y\n1,2\n3,4\n",
	"data/labels.json": `{"a":1}`,
}

// newDemoCmd runs a full ingestion against in-memory backends, with
// finalization on the in-process pool instead of Redis.
func (c *cli) newDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run an in-memory ingestion walkthrough",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store := storage.NewMemoryStore()
			objs := s3storage.NewMemory()

			proc := processing.New(worker.NewFinalizer(store, objs, c.logger, nil), c.cfg.Workers, c.logger)
			proc.Start(ctx)
			a := newApp(store, objs, auth.As("demo"), c.cfg.Region(), proc, c.logger)

			ds, err := demoIngest(ctx, a)
			// Stop drains the pool so every promote and purge has run.
			proc.Stop()
			if err != nil {
				return err
			}

			seq, err := a.facade.List(ctx, ds.OrganizationSlug, ds.Slug, "", true)
			if err != nil {
				return err
			}
			keys := []string{}
			for info, err := range seq {
				if err != nil {
					return err
				}
				keys = append(keys, info.Key)
			}
			final, err := a.resolver.ResolveDataset(ctx, ds.OrganizationSlug, ds.Slug, false)
			if err != nil {
				return err
			}
			inventory, err := a.facade.Inventory(ctx, ds.OrganizationSlug, ds.Slug, "")
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"dataset":   final.Tag(),
				"bucket":    bucket.Name(final.OrganizationSlug, final.Slug),
				"size":      final.Size,
				"objects":   final.ObjectsCount,
				"inventory": len(inventory),
				"listing":   keys,
			})
		},
	}
}

// demoIngest commits one batch of files and rolls back another.
func demoIngest(ctx context.Context, a *app) (*model.Dataset, error) {
	org, err := a.resolver.CreateOrganization(ctx, namespace.NewOrganization{Name: "Demo Org"})
	if err != nil {
		return nil, err
	}
	ds, err := a.resolver.CreateDataset(ctx, org.Slug, namespace.NewDataset{Name: "Sample Data"})
	if err != nil {
		return nil, err
	}

	kept, err := a.batches.Begin(ctx, org.Slug, ds.Slug)
	if err != nil {
		return nil, err
	}
	for path, body := range demoFiles {
		if _, err := a.batches.Upload(ctx, kept.Token, path, strings.NewReader(body), int64(len(body)), ""); err != nil {
			return nil, err
		}
	}
	if _, err := a.batches.AddEntry(ctx, kept.Token, batch.EntryInput{Path: "data", Type: model.EntryDirectory}); err != nil {
		return nil, err
	}
	if _, err := a.batches.Commit(ctx, kept.Token); err != nil {
		return nil, err
	}

	dropped, err := a.batches.Begin(ctx, org.Slug, ds.Slug)
	if err != nil {
		return nil, err
	}
	if _, err := a.batches.Upload(ctx, dropped.Token, "discarded.bin", strings.NewReader("xx"), 2, ""); err != nil {
		return nil, err
	}
	if _, err := a.batches.Rollback(ctx, dropped.Token); err != nil {
		return nil, err
	}
	return ds, nil
}
