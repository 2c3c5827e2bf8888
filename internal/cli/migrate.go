package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run the one-time flat-store migration",
		Long: `Copy legacy flat-store data into the structured store.

The migration runs at most once: a completion flag in the structured
store's meta table makes subsequent runs a no-op. Individual item
failures are recorded and skipped rather than aborting the run.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(rootOpts, cmd)
		},
	}

	return cmd
}

func runMigrate(opts *RootOptions, cmd *cobra.Command) error {
	st, err := opts.newStorage()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Ready(cmd.Context()); err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}

	res := st.MigrationResult()

	if opts.Format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	if res.Migrated {
		fmt.Fprintf(cmd.OutOrStdout(), "Migration complete: %d items migrated\n", res.ItemCount)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "Migration already complete; nothing to do.")
	}
	for _, e := range res.Errors {
		fmt.Fprintf(cmd.OutOrStdout(), "  warning: %s\n", e)
	}
	return nil
}
