package cmd

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newScrapeCmd creates the 'scrape' subcommand, which runs a single pass and prints its report.
func newScrapeCmd() *cobra.Command {
	var pretty bool
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Runs one scrape pass over every configured publisher",
		Long: `Fetches every configured listing page, reconciles the observed releases
into the catalog, flushes pending alerts and prints the pass report as JSON.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, err := appInstance.RunPass(cmd.Context())
			if err != nil {
				return err
			}
			appInstance.Logger().Info("scrape finished",
				zap.String("pass_id", report.ID),
				zap.Int("created", report.Created),
				zap.Int("updated", report.Updated),
				zap.Int("failed", report.Failed),
			)

			enc := json.NewEncoder(cmd.OutOrStdout())
			if pretty {
				enc.SetIndent("", "  ")
			}
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("encode report: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent the JSON report")
	return cmd
}
