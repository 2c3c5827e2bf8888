package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/apstatquiz/quizstore/internal/syncer"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Endpoint string
	Interval time.Duration
	Once     bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push queued outbox items to the relay",
		Long: `Drain the outbox against the relay endpoint. By default this runs
as a loop; --once performs a single pass and exits.

Each item is marked in-flight before the network call so an interrupted
send retries rather than silently dropping. Items that keep failing
stop retrying after the attempt limit.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Endpoint, "endpoint", "", "relay endpoint URL")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "time between sync passes")
	cmd.Flags().BoolVar(&opts.Once, "once", false, "run a single sync pass and exit")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	endpoint := opts.Endpoint
	interval := opts.Interval
	var timeout time.Duration
	if opts.config != nil {
		if endpoint == "" {
			endpoint = opts.config.Relay.Endpoint
		}
		if interval == 0 {
			interval = opts.config.Relay.Interval
		}
		timeout = opts.config.Relay.Timeout
	}
	if endpoint == "" {
		return fmt.Errorf("no relay endpoint: pass --endpoint or set relay.endpoint in the config")
	}
	if interval <= 0 {
		interval = DefaultSyncInterval
	}

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

	consumer := syncer.New(ob, syncer.NewHTTPPusher(endpoint, timeout), slog.Default())

	if opts.Once {
		n, err := consumer.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Synced %d item(s)\n", n)
		return nil
	}

	return consumer.Run(ctx, interval)
}
