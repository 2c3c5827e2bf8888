package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/apstatquiz/quizstore/internal/backup"
	"github.com/apstatquiz/quizstore/internal/clock"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Output string
	Users  []string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export user data as a backup document",
		Long: `Export quiz data for one or more users as a checksummed JSON
backup document. With no --user flags, every user in the store is
exported.

Example:
  quizstore export --db quiz.db -o backup.json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the document to a file instead of stdout")
	cmd.Flags().StringArrayVar(&opts.Users, "user", nil, "export only these users (repeatable)")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
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

	doc, err := backup.Export(ctx, adapter, clock.System(), opts.Users...)
	if err != nil {
		return fmt.Errorf("exporting: %w", err)
	}
	if clientID, err := st.ClientID(ctx); err == nil {
		doc.ClientID = clientID
	}

	raw, err := backup.Encode(doc)
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}

	if opts.Output == "" {
		fmt.Fprintln(cmd.OutOrStdout(), string(raw))
		return nil
	}
	if err := os.WriteFile(opts.Output, raw, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", opts.Output, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d user(s) to %s\n", len(doc.Users), opts.Output)
	return nil
}
