package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/apstatquiz/quizstore/internal/backup"
)

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <backup-file>",
		Short: "Merge a backup document into the store",
		Long: `Validate a backup document and merge its contents into the store.

Incoming records never clobber newer local data: answers win only with
a strictly greater timestamp, attempt counts and progress take the
maximum, and badges keep their earliest earned date.

Example:
  quizstore import --db quiz.db backup.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runImport(opts *RootOptions, path string, cmd *cobra.Command) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	doc, err := backup.Decode(raw)
	if err != nil {
		return fmt.Errorf("invalid backup document: %w", err)
	}

	st, err := opts.newStorage()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	adapter, err := st.Adapter(ctx)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}

	res, err := backup.Import(ctx, adapter, doc)
	if err != nil {
		return fmt.Errorf("importing: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d record(s) across %d user(s)\n", res.Records, res.Users)
	return nil
}
