package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apstatquiz/quizstore/internal/record"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	User string
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect [store]",
		Short: "Dump the contents of a store",
		Long: `Print every record in a store, or usage information when no store
is named. Use --user to restrict a per-user store to one user.

Example:
  quizstore inspect answers --user alice --db quiz.db`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := ""
			if len(args) > 0 {
				store = args[0]
			}
			return runInspect(opts, store, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "restrict to a single user")

	return cmd
}

func runInspect(opts *InspectOptions, store string, cmd *cobra.Command) error {
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

	if store == "" {
		usage, err := adapter.UsageInfo(ctx)
		if err != nil {
			return fmt.Errorf("reading usage: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stores: %v\n", record.Stores())
		if usage == nil {
			// In-memory fallback cannot account its footprint.
			fmt.Fprintln(cmd.OutOrStdout(), "Usage: unavailable")
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Usage: %d / %d bytes (%.1f%%)\n", usage.Used, usage.Quota, usage.PercentUsed)
		}
		return nil
	}

	if _, err := record.StoreSpec(store); err != nil {
		return err
	}

	var recs []record.Record
	if opts.User != "" {
		recs, err = adapter.GetAllForUser(ctx, store, opts.User)
	} else {
		recs, err = adapter.GetAll(ctx, store, "", "")
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", store, err)
	}

	if opts.Format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}

	for _, rec := range recs {
		fields, err := json.Marshal(rec.Fields)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%v\t%s\n", []string(rec.Key), fields)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d record(s)\n", len(recs))
	return nil
}
