package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newMigrateCmd creates the 'migrate' subcommand. The schema is applied while the root command
// opens the catalog, so the command body only reports success.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "migrate",
		Short:       "Applies the catalog schema migrations",
		Annotations: map[string]string{forceMigrateAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := resolveConfig(cmd.Context())
			appInstance.Logger().Info("catalog schema is up to date")
			fmt.Fprintf(cmd.OutOrStdout(), "%s catalog migrated\n", cfg.Catalog.Driver)
			return nil
		},
	}
}
