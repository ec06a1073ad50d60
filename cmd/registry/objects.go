package main

import (
	"fmt"
	"os"
	"path"
	"time"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/registry/internal/objects"
	"github.com/dharsanguruparan/registry/internal/signing"
)

func (c *cli) newObjectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "objects",
		Short: "Read a dataset's objects",
	}
	var password string
	cmd.PersistentFlags().StringVar(&password, "password", "", "Password of a password-protected dataset")
	read := func() []objects.ReadOption {
		if password == "" {
			return nil
		}
		return []objects.ReadOption{objects.WithPassword(password)}
	}

	var recursive bool
	ls := &cobra.Command{
		Use:   "ls <org/dataset> [prefix]",
		Short: "List objects",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			org, ds, err := splitTag("list objects", args[0])
			if err != nil {
				return err
			}
			prefix := ""
			if len(args) == 2 {
				prefix = args[1]
			}
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			seq, err := a.facade.List(cmd.Context(), org, ds, prefix, recursive, read()...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for info, err := range seq {
				if err != nil {
					return err
				}
				if info.IsDir {
					fmt.Fprintf(out, "%12s  %s\n", "DIR", info.Key)
					continue
				}
				fmt.Fprintf(out, "%12d  %s\n", info.Size, info.Key)
			}
			return nil
		},
	}
	ls.Flags().BoolVarP(&recursive, "recursive", "r", false, "List recursively")

	var output string
	get := &cobra.Command{
		Use:   "get <org/dataset> <path>",
		Short: "Download an object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			org, ds, err := splitTag("get object", args[0])
			if err != nil {
				return err
			}
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			obj, err := a.facade.Get(cmd.Context(), org, ds, args[1], read()...)
			if err != nil {
				return err
			}
			if output == "" {
				output = path.Base(obj.Name)
			}
			if output == "-" {
				_, err = cmd.OutOrStdout().Write(obj.Data)
				return err
			}
			if err := os.WriteFile(output, obj.Data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			c.logger.Info("object downloaded", "path", args[1], "file", output, "contentType", obj.ContentType, "bytes", len(obj.Data))
			return nil
		},
	}
	get.Flags().StringVarP(&output, "output", "o", "", "Destination file, - for stdout (defaults to the object name)")

	rm := &cobra.Command{
		Use:   "rm <org/dataset>",
		Short: "Remove the dataset's bucket and everything in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			org, ds, err := splitTag("delete objects", args[0])
			if err != nil {
				return err
			}
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			return a.facade.DeleteAll(cmd.Context(), org, ds)
		},
	}

	inventory := &cobra.Command{
		Use:   "inventory <org/dataset> [prefix]",
		Short: "List committed entries",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			org, ds, err := splitTag("inventory", args[0])
			if err != nil {
				return err
			}
			prefix := ""
			if len(args) == 2 {
				prefix = args[1]
			}
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			entries, err := a.facade.Inventory(cmd.Context(), org, ds, prefix, read()...)
			if err != nil {
				return err
			}
			return printJSON(cmd, entries)
		},
	}

	cmd.AddCommand(ls, get, rm, inventory)
	return cmd
}

func (c *cli) newPackageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "package",
		Short: "Manage download packages",
	}

	var (
		req      objects.PackageRequest
		password string
	)
	create := &cobra.Command{
		Use:   "create <org/dataset> <path>...",
		Short: "Record a download package and print its share link",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			org, ds, err := splitTag("create package", args[0])
			if err != nil {
				return err
			}
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			req.Paths = args[1:]
			pkg, err := a.facade.CreatePackage(cmd.Context(), org, ds, req, objects.WithPassword(password))
			if err != nil {
				return err
			}
			out := map[string]any{"package": pkg}
			if len(c.cfg.Auth.SigningKey) > 0 {
				out["link"] = signing.NewSigner(c.cfg.Auth.SigningKey).Sign(pkg.ID, pkg.ExpirationDate).Query()
			}
			return printJSON(cmd, out)
		},
	}
	create.Flags().BoolVar(&req.IsPublic, "public", false, "Allow anonymous downloads")
	create.Flags().DurationVar(&req.TTL, "ttl", 0, "Expiry, 0 for none")
	create.Flags().StringVar(&password, "password", "", "Password of a password-protected dataset")

	ls := &cobra.Command{
		Use:   "ls <org/dataset>",
		Short: "List download packages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			org, ds, err := splitTag("list packages", args[0])
			if err != nil {
				return err
			}
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			pkgs, err := a.facade.Packages(cmd.Context(), org, ds)
			if err != nil {
				return err
			}
			return printJSON(cmd, pkgs)
		},
	}

	verify := &cobra.Command{
		Use:   "verify <link>",
		Short: "Check a package share link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(c.cfg.Auth.SigningKey) == 0 {
				return fmt.Errorf("REGISTRY_AUTH_SIGNING_KEY is not set")
			}
			link, err := signing.ParseLink(args[0])
			if err != nil {
				return err
			}
			if err := signing.NewSigner(c.cfg.Auth.SigningKey).Validate(link, time.Now()); err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"package": link.PackageID, "valid": true})
		},
	}

	cmd.AddCommand(create, ls, verify)
	return cmd
}
