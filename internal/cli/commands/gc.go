package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittostore/pkg/gc"
)

func newGCCmd(opts *globalOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Delete unreferenced blobs and repair drifted index records once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				cfg := a.cfg.GC
				cfg.DryRun = cfg.DryRun || dryRun

				stats, err := gc.NewCollector(a.reg, cfg).RunNow(ctx)
				for _, s := range stats {
					fmt.Fprintln(cmd.OutOrStdout(), s.Summary())
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report without deleting or repairing anything")
	return cmd
}
