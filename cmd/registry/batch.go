package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/registry/internal/batch"
	"github.com/dharsanguruparan/registry/internal/model"
)

func (c *cli) newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Ingest content through batches",
	}

	begin := &cobra.Command{
		Use:   "begin <org/dataset>",
		Short: "Open a batch and print its token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			org, ds, err := splitTag("begin batch", args[0])
			if err != nil {
				return err
			}
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			b, err := a.batches.Begin(cmd.Context(), org, ds)
			if err != nil {
				return err
			}
			return printJSON(cmd, b)
		},
	}

	var (
		in      batch.EntryInput
		typeArg string
	)
	add := &cobra.Command{
		Use:   "add <token> <path>",
		Short: "Record an entry uploaded out of band",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			in.Path = args[1]
			in.Type = model.ParseEntryType(typeArg)
			e, err := a.batches.AddEntry(cmd.Context(), args[0], in)
			if err != nil {
				return err
			}
			return printJSON(cmd, e)
		},
	}
	add.Flags().StringVar(&in.Hash, "hash", "", "Content hash")
	add.Flags().Int64Var(&in.Size, "size", 0, "Size in bytes")
	add.Flags().StringVar(&typeArg, "type", "file", "Entry type: file, directory or other")

	var dest string
	upload := &cobra.Command{
		Use:   "upload <token> <file>",
		Short: "Stage a local file in the batch",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[1], err)
			}
			defer f.Close()
			st, err := f.Stat()
			if err != nil {
				return fmt.Errorf("stat %s: %w", args[1], err)
			}
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			target := dest
			if target == "" {
				target = filepath.ToSlash(filepath.Base(args[1]))
			}
			contentType := mime.TypeByExtension(filepath.Ext(args[1]))
			e, err := a.batches.Upload(cmd.Context(), args[0], target, f, st.Size(), contentType)
			if err != nil {
				return err
			}
			return printJSON(cmd, e)
		},
	}
	upload.Flags().StringVar(&dest, "path", "", "Path inside the dataset (defaults to the file name)")

	commit := &cobra.Command{
		Use:   "commit <token>",
		Short: "Commit the batch into the dataset inventory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			b, err := a.batches.Commit(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, b)
		},
	}

	rollback := &cobra.Command{
		Use:   "rollback <token>",
		Short: "Discard the batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			b, err := a.batches.Rollback(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, b)
		},
	}

	show := &cobra.Command{
		Use:   "show <token>",
		Short: "Show a batch and its entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			b, entries, err := a.batches.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"batch": b, "entries": entries})
		},
	}

	cmd.AddCommand(begin, add, upload, commit, rollback, show)
	return cmd
}
