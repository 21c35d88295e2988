package cli

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/Guizzs26/go-crm-sync/internal/app"
	"github.com/Guizzs26/go-crm-sync/internal/config"
	"github.com/Guizzs26/go-crm-sync/pkg/infra"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of syncctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "syncctl",
		Short: "syncctl - operate the CRM sync engine",
		Long:  "Operator tool for the CRM sync engine: schema, dispatch, queues, trigger rules and runtime switches.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewDispatchCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewRulesCommand(opts))
	cmd.AddCommand(NewSettingsCommand(opts))

	return cmd
}

// open wires the application from the environment. Logs go to stderr so
// they never mix with command output.
func (o *RootOptions) open(ctx context.Context) (*app.App, error) {
	cfg := config.Load()
	if o.Verbose {
		cfg.LogLevel = "DEBUG"
	}
	return app.New(ctx, cfg, infra.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat))
}
