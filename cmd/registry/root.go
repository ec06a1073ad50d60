package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/registry/internal/apperr"
	"github.com/dharsanguruparan/registry/internal/auth"
	"github.com/dharsanguruparan/registry/internal/config"
)

// cli holds the global flags and the lazily opened backends.
type cli struct {
	token      string
	localAdmin bool

	cfg    *config.Config
	logger *slog.Logger
	app    *app
}

func newRootCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Multi-tenant dataset registry",
		Long: `registry maps organizations and datasets onto bucket-per-dataset object storage
and ingests content through batches that either commit into the dataset inventory
or roll back.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.app != nil {
				c.app.Close()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&c.token, "token", "", "Bearer token (defaults to REGISTRY_TOKEN)")
	cmd.PersistentFlags().BoolVar(&c.localAdmin, "local-admin", false, "Act as administrator when no signing key is configured")
	cmd.AddCommand(
		c.newMigrateCmd(),
		c.newWorkerCmd(),
		c.newSlugCmd(),
		c.newTokenCmd(),
		c.newOrgCmd(),
		c.newDatasetCmd(),
		c.newObjectsCmd(),
		c.newPackageCmd(),
		c.newBatchCmd(),
		c.newDemoCmd(),
	)
	return cmd
}

func (c *cli) init() error {
	if c.cfg != nil {
		return nil
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	c.cfg = cfg
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	}
	slog.SetDefault(c.logger)
	if c.token == "" {
		c.token = cfg.Auth.Token
	}
	return nil
}

// authManager verifies bearer tokens when a signing key is configured.
// Without one the caller is anonymous unless --local-admin is given.
func (c *cli) authManager() auth.Manager {
	if len(c.cfg.Auth.SigningKey) > 0 {
		return auth.NewJWTManager(c.cfg.Auth.SigningKey, c.cfg.Auth.Issuer)
	}
	if c.localAdmin {
		c.logger.Warn("no auth signing key configured, running as local administrator")
		return auth.AsAdmin("local")
	}
	c.logger.Warn("no auth signing key configured, running anonymously")
	return auth.Anonymous()
}

// open connects the PostgreSQL, MinIO and Redis backends once per process.
func (c *cli) open(cmd *cobra.Command) (*app, error) {
	if c.app != nil {
		return c.app, nil
	}
	a, err := connect(cmd.Context(), c.cfg, c.authManager(), c.logger)
	if err != nil {
		return nil, err
	}
	c.app = a
	cmd.SetContext(auth.WithToken(cmd.Context(), c.token))
	return a, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitCode maps error kinds to distinct process exit codes.
func exitCode(err error) int {
	var e *apperr.Error
	if !errors.As(err, &e) {
		return 1
	}
	switch e.Kind {
	case apperr.BadRequest:
		return 2
	case apperr.Unauthenticated, apperr.Unauthorized:
		return 3
	case apperr.NotFound:
		return 4
	case apperr.Conflict:
		return 5
	case apperr.NotImplemented:
		return 6
	default:
		return 1
	}
}
