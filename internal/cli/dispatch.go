package cli

import (
	"fmt"
	"io"

	"github.com/Guizzs26/go-crm-sync/internal/dispatch"
	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/spf13/cobra"
)

type batchResult struct {
	Kind models.JobKind `json:"kind"`
	dispatch.Summary
}

type DispatchOptions struct {
	*RootOptions
	Kind  string
	Limit int
}

func NewDispatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DispatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Run dispatch batches by hand",
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Run one batch per worker and print what happened",
		Long: `Claim and dispatch one batch of due items, then exit.

Honours the outbound_enabled and shadow_mode switches exactly like the
long-running dispatcher.

Examples:
  syncctl dispatch run
  syncctl dispatch run --kind sale --limit 10 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd, opts)
		},
	}
	run.Flags().StringVar(&opts.Kind, "kind", "", "only this queue (event|sale)")
	run.Flags().IntVar(&opts.Limit, "limit", 0, "batch size (defaults to BATCH_SIZE)")
	cmd.AddCommand(run)

	return cmd
}

func runDispatch(cmd *cobra.Command, opts *DispatchOptions) error {
	if opts.Kind != "" {
		if _, err := parseKind(opts.Kind); err != nil {
			return err
		}
	}

	a, err := opts.open(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	limit := opts.Limit
	if limit <= 0 {
		limit = a.Config.BatchSize
	}

	var results []batchResult
	for _, w := range a.Workers() {
		if opts.Kind != "" && string(w.Kind()) != opts.Kind {
			continue
		}
		sum, err := w.RunBatch(cmd.Context(), limit)
		if err != nil {
			return fmt.Errorf("%s batch: %w", w.Kind(), err)
		}
		results = append(results, batchResult{Kind: w.Kind(), Summary: sum})
	}

	return render(cmd, opts.RootOptions, results, func(w io.Writer) {
		line(w, "KIND", "CLAIMED", "SENT", "SHADOW", "RETRY", "FAILED", "RELEASED", "SKIPPED")
		for _, r := range results {
			s := r.Summary
			line(w, r.Kind, s.Claimed, s.Sent, s.ShadowSent, s.RetryScheduled, s.Failed, s.Released, s.Skipped)
		}
	})
}
