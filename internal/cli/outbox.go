package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/apstatquiz/quizstore/internal/record"
)

// NewOutboxCommand creates the outbox command group.
func NewOutboxCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and maintain the sync outbox",
	}

	cmd.AddCommand(newOutboxStatusCommand(rootOpts))
	cmd.AddCommand(newOutboxPruneCommand(rootOpts))

	return cmd
}

func newOutboxStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "status",
		Short:         "Show queued and permanently failed outbox items",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOutboxStatus(rootOpts, cmd)
		},
	}
	return cmd
}

func runOutboxStatus(opts *RootOptions, cmd *cobra.Command) error {
	st, err := opts.newStorage()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	ob, err := st.Outbox(ctx)
	if err != nil {
		return fmt.Errorf("opening outbox: %w", err)
	}

	pending, err := ob.GetPending(ctx)
	if err != nil {
		return fmt.Errorf("reading outbox: %w", err)
	}
	failed, err := ob.FailedCount(ctx)
	if err != nil {
		return fmt.Errorf("counting failures: %w", err)
	}

	if opts.Format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Pending []record.OutboxItem `json:"pending"`
			Failed  int                 `json:"failed"`
		}{Pending: pending, Failed: failed})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d item(s) ready to send, %d permanently failed\n", len(pending), failed)
	for _, it := range pending {
		fmt.Fprintf(cmd.OutOrStdout(), "  #%d %s attempts=%d nonce=%s\n", it.ID, it.OpType, it.Attempts, it.Nonce)
	}
	return nil
}

// OutboxPruneOptions holds flags for the outbox prune command.
type OutboxPruneOptions struct {
	*RootOptions
	OlderThan time.Duration
}

func newOutboxPruneCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OutboxPruneOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "prune",
		Short:         "Delete permanently failed outbox items",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOutboxPrune(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.OlderThan, "older-than", 0, "only prune failures older than this (e.g. 168h)")

	return cmd
}

func runOutboxPrune(opts *OutboxPruneOptions, cmd *cobra.Command) error {
	st, err := opts.newStorage()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	ob, err := st.Outbox(ctx)
	if err != nil {
		return fmt.Errorf("opening outbox: %w", err)
	}

	n, err := ob.PruneFailed(ctx, opts.OlderThan)
	if err != nil {
		return fmt.Errorf("pruning: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d failed item(s)\n", n)
	return nil
}
