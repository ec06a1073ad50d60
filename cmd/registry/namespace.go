package main

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/registry/internal/apperr"
	"github.com/dharsanguruparan/registry/internal/auth"
	"github.com/dharsanguruparan/registry/internal/namespace"
	"github.com/dharsanguruparan/registry/internal/slug"
)

func (c *cli) newSlugCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slug",
		Short: "Normalize and validate identifiers",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "normalize <name>",
			Short: "Print the slug derived from a display name",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				s := slug.Normalize(args[0])
				return printJSON(cmd, map[string]any{"slug": s, "valid": slug.IsValid(s)})
			},
		},
		&cobra.Command{
			Use:   "check <slug|org/dataset>",
			Short: "Validate a slug or a tag",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				org, ds := slug.SplitTag(args[0])
				out := map[string]any{"dataset": ds, "datasetValid": slug.IsValid(ds)}
				if org != "" {
					out["organization"] = org
					out["organizationValid"] = slug.IsValid(org)
				}
				return printJSON(cmd, out)
			},
		},
	)
	return cmd
}

func (c *cli) newTokenCmd() *cobra.Command {
	var (
		name  string
		admin bool
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue a bearer token signed with REGISTRY_AUTH_SIGNING_KEY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(c.cfg.Auth.SigningKey) == 0 {
				return fmt.Errorf("REGISTRY_AUTH_SIGNING_KEY is not set")
			}
			if name == "" {
				name = args[0]
			}
			now := time.Now()
			claims := jwt.RegisteredClaims{IssuedAt: jwt.NewNumericDate(now)}
			if ttl > 0 {
				claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
			}
			m := auth.NewJWTManager(c.cfg.Auth.SigningKey, c.cfg.Auth.Issuer)
			tok, err := m.Issue(auth.Principal{ID: args[0], Name: name, Admin: admin}, claims)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to the subject)")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant the admin role")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime, 0 for none")
	return cmd
}

func (c *cli) newOrgCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "org",
		Short: "Manage organizations",
	}
	var in namespace.NewOrganization
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an organization owned by the caller",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			in.Name = args[0]
			org, err := a.resolver.CreateOrganization(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(cmd, org)
		},
	}
	create.Flags().StringVar(&in.Slug, "slug", "", "Explicit slug (derived from the name otherwise)")
	create.Flags().StringVar(&in.Description, "description", "", "Description")
	create.Flags().BoolVar(&in.IsPublic, "public", false, "Make the organization public")

	show := &cobra.Command{
		Use:   "show <org>",
		Short: "Show an organization and its datasets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			org, err := a.resolver.ResolveOrganization(cmd.Context(), args[0], false)
			if err != nil {
				return err
			}
			return printJSON(cmd, org)
		},
	}
	cmd.AddCommand(create, show)
	return cmd
}

func splitTag(op, tag string) (string, string, error) {
	org, ds := slug.SplitTag(tag)
	if org == "" || ds == "" {
		return "", "", apperr.E(apperr.BadRequest, op, "expected org/dataset, got "+tag)
	}
	return org, ds, nil
}

func (c *cli) newDatasetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Manage datasets",
	}

	var in namespace.NewDataset
	create := &cobra.Command{
		Use:   "create <org> <name>",
		Short: "Create a dataset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			in.Name = args[1]
			ds, err := a.resolver.CreateDataset(cmd.Context(), args[0], in)
			if err != nil {
				return err
			}
			return printJSON(cmd, ds)
		},
	}
	create.Flags().StringVar(&in.Slug, "slug", "", "Explicit slug (derived from the name otherwise)")
	create.Flags().StringVar(&in.Description, "description", "", "Description")
	create.Flags().StringVar(&in.Password, "password", "", "Password gating downloads")

	show := &cobra.Command{
		Use:   "show <org/dataset>",
		Short: "Show a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			ds, err := a.resolver.ResolveTag(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, ds)
		},
	}

	del := &cobra.Command{
		Use:   "delete <org/dataset>",
		Short: "Delete a dataset, its bucket and its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			org, ds, err := splitTag("delete dataset", args[0])
			if err != nil {
				return err
			}
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			return a.facade.DeleteDataset(cmd.Context(), org, ds)
		},
	}

	var password string
	unlock := &cobra.Command{
		Use:   "unlock <org/dataset>",
		Short: "Check a dataset download password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			org, ds, err := splitTag("unlock dataset", args[0])
			if err != nil {
				return err
			}
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			if _, err := a.resolver.VerifyDatasetPassword(cmd.Context(), org, ds, password); err != nil {
				return err
			}
			return printJSON(cmd, map[string]bool{"valid": true})
		},
	}
	unlock.Flags().StringVar(&password, "password", "", "Dataset password")

	cmd.AddCommand(create, show, del, unlock)
	return cmd
}
