// Package cli implements the quizstore command line: migration,
// backup export/import, store inspection, outbox operations, and the
// sync loop.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/apstatquiz/quizstore/internal/facade"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	ConfigPath string
	Database   string
	Flat       string

	config *Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the quizstore CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "quizstore",
		Short: "Durable storage and sync core for the AP Statistics quiz app",
		Long: `quizstore manages the on-device quiz data stores: the structured
SQLite store (source of truth), the legacy flat key-value store, the
one-time migration between them, backup export/import, and the outbox
sync queue.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			configureLogging(opts.Verbose)
			return opts.applyConfig()
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to the structured store database")
	cmd.PersistentFlags().StringVar(&opts.Flat, "flat", "", "path to the legacy flat key-value store")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewOutboxCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func configureLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// applyConfig merges the optional config file under explicit flags;
// flags win.
func (opts *RootOptions) applyConfig() error {
	if opts.ConfigPath == "" {
		return nil
	}
	cfg, err := LoadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.Database == "" {
		opts.Database = cfg.Database
	}
	if opts.Flat == "" {
		opts.Flat = cfg.Flat
	}
	opts.config = cfg
	return nil
}

// newStorage builds the facade from the resolved options.
func (opts *RootOptions) newStorage() (*facade.Storage, error) {
	if opts.Database == "" && opts.Flat == "" {
		return nil, fmt.Errorf("no storage configured: pass --db and/or --flat (or --config)")
	}
	return facade.New(facade.Config{
		DatabasePath: opts.Database,
		FlatPath:     opts.Flat,
	}), nil
}
