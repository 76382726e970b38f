package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newMirrorCmd groups the mirror maintenance subcommands.
func newMirrorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Maintains the JSON mirror of the catalog",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "repair",
		Short: "Rewrites the mirror so it agrees with the catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, err := appInstance.RepairMirror(cmd.Context())
			if err != nil {
				return err
			}
			appInstance.Logger().Info("mirror repaired",
				zap.Int("upserted", len(report.Upserted)),
				zap.Int("removed", len(report.Removed)),
				zap.Bool("saved", report.Saved),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "upserted %d, removed %d\n", len(report.Upserted), len(report.Removed))
			return nil
		},
	})
	return cmd
}
