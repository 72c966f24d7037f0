package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/jsonindex"
	"github.com/hupe1980/jsonindex/snapshot"
)

func newSnapshotCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage index snapshots",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "take",
			Short: "Commit the index and archive it as a new snapshot",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx := cmd.Context()
				idx, err := a.openIndex(ctx, nil)
				if err != nil {
					return err
				}
				defer closeIndex(idx)

				info, err := idx.TakeSnapshot(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tgeneration %d\t%d files\t%d bytes\t%s\n",
					info.Name, info.Generation, len(info.Files), info.Bytes, info.Duration)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List snapshots newest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx := cmd.Context()
				store, err := openStore(ctx, a.cfg.Snapshot)
				if err != nil {
					return err
				}
				gens, err := snapshot.NewStorage(store).List(ctx)
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tGENERATION")
				for _, g := range gens {
					fmt.Fprintf(tw, "%s\t%d\n", snapshot.FileName(g), g)
				}
				return tw.Flush()
			},
		},
		&cobra.Command{
			Use:   "restore",
			Short: "Replace the index with the newest verifiable snapshot",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx := cmd.Context()
				idx, err := a.openIndex(ctx, nil)
				if err != nil {
					return err
				}
				defer closeIndex(idx)

				res, err := idx.Restore(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", snapshot.FileName(res.Generation))
				for area, gen := range res.Cursors() {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s: generation %d\n", area, gen)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "prune",
			Short: "Delete snapshots beyond snapshot.max_snapshots",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx := cmd.Context()
				idx, err := a.openIndex(ctx, nil)
				if err != nil {
					return err
				}
				defer closeIndex(idx)

				m := idx.Snapshots()
				if m == nil {
					return jsonindex.ErrSnapshotsDisabled
				}
				n, err := m.CleanOldSnapshots(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d snapshots\n", n)
				return err
			},
		},
	)
	return cmd
}
