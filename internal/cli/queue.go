package cli

import (
	"fmt"
	"io"

	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/spf13/cobra"
)

type QueueOptions struct {
	*RootOptions
	Status string
	Limit  int
}

func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and replay outbound queue items",
	}

	list := &cobra.Command{
		Use:   "list <event|sale>",
		Short: "List queue items, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueList(cmd, opts, args[0])
		},
	}
	list.Flags().StringVar(&opts.Status, "status", "", "filter by status (pending|processing|sent|sent_shadow|failed)")
	list.Flags().IntVar(&opts.Limit, "limit", 50, "maximum rows")

	replay := &cobra.Command{
		Use:   "replay <event|sale> <id>",
		Short: "Reset a failed or shadow-sent item to pending with a fresh attempt budget",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Admin.Replay(cmd.Context(), kind, args[1]); err != nil {
				return err
			}
			cmd.Printf("%s %s replayed\n", kind, args[1])
			return nil
		},
	}

	cmd.AddCommand(list, replay)
	return cmd
}

func parseKind(s string) (models.JobKind, error) {
	switch k := models.JobKind(s); k {
	case models.JobEvent, models.JobSale:
		return k, nil
	}
	return "", fmt.Errorf("unknown queue %q: must be event or sale", s)
}

func runQueueList(cmd *cobra.Command, opts *QueueOptions, rawKind string) error {
	kind, err := parseKind(rawKind)
	if err != nil {
		return err
	}

	a, err := opts.open(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	status := models.Status(opts.Status)

	if kind == models.JobEvent {
		events, err := a.Events.List(ctx, status, opts.Limit)
		if err != nil {
			return err
		}
		return render(cmd, opts.RootOptions, events, func(w io.Writer) {
			line(w, "ID", "TYPE", "CARD", "STATUS", "ATTEMPTS", "EXTERNAL", "ERROR")
			for _, e := range events {
				line(w, e.ID, e.EventType, e.CardID, e.Status, fmt.Sprintf("%d/%d", e.Attempts, e.MaxAttempts), e.ExternalRef, e.ErrorMessage)
			}
		})
	}

	sales, err := a.Sales.List(ctx, status, opts.Limit)
	if err != nil {
		return err
	}
	return render(cmd, opts.RootOptions, sales, func(w io.Writer) {
		line(w, "ID", "CARD", "TOTAL", "STATUS", "ATTEMPTS", "EXTERNAL", "ERROR")
		for _, s := range sales {
			line(w, s.ID, s.CardID, fmt.Sprintf("%.2f", s.TotalValue), s.Status, fmt.Sprintf("%d/%d", s.Attempts, s.MaxAttempts), s.ExternalSaleID, s.ErrorMessage)
		}
	})
}
