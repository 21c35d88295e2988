package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Guizzs26/go-crm-sync/internal/db"
	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/Guizzs26/go-crm-sync/internal/rules"
	"github.com/spf13/cobra"
)

type RulesOptions struct {
	*RootOptions
	Source string

	// check
	File     string
	Event    string
	Pipeline string
	Stage    string
	Owner    string
	Status   string
	Field    string
}

func NewRulesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RulesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage outbound trigger rules",
	}

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the rule set of a source system with the rules in a YAML file",
		Long: `Validate every rule in the file, then replace the stored rule set of its
source system in one transaction. A file without rules clears the set,
which means every event of that source is allowed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesImport(cmd, opts, args[0])
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored rules in evaluation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesList(cmd, opts)
		},
	}
	list.Flags().StringVar(&opts.Source, "source", "", "source system id (required)")
	_ = list.MarkFlagRequired("source")

	check := &cobra.Command{
		Use:   "check",
		Short: "Explain whether a candidate event would be queued",
		Long: `Evaluate a candidate event against the stored rules, or against a YAML
file with --file, and print the decision.

Examples:
  syncctl rules check --source crm --event stage_change --pipeline p1 --stage s2
  syncctl rules check --file rules.yaml --event field_update --field budget`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesCheck(cmd, opts)
		},
	}
	check.Flags().StringVar(&opts.File, "file", "", "evaluate against a rules file instead of the database")
	check.Flags().StringVar(&opts.Source, "source", "", "source system id (defaults to the file's)")
	check.Flags().StringVar(&opts.Event, "event", string(models.EventStageChange), "event type")
	check.Flags().StringVar(&opts.Pipeline, "pipeline", "", "pipeline id")
	check.Flags().StringVar(&opts.Stage, "stage", "", "stage id")
	check.Flags().StringVar(&opts.Owner, "owner", "", "owner id")
	check.Flags().StringVar(&opts.Status, "status", "", "card status")
	check.Flags().StringVar(&opts.Field, "field", "", "field name for field_update")

	cmd.AddCommand(importCmd, list, check)
	return cmd
}

func runRulesImport(cmd *cobra.Command, opts *RulesOptions, path string) error {
	set, err := rules.LoadFile(path)
	if err != nil {
		return err
	}

	a, err := opts.open(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	err = a.Repo.WithTx(cmd.Context(), func(s *db.Store) error {
		return s.ReplaceRules(cmd.Context(), set.SourceSystemID, set.Rules)
	})
	if err != nil {
		return fmt.Errorf("replace rules: %w", err)
	}

	cmd.Printf("imported %d rules for %s\n", len(set.Rules), set.SourceSystemID)
	return nil
}

func runRulesList(cmd *cobra.Command, opts *RulesOptions) error {
	a, err := opts.open(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.Repo.Store().ListRules(cmd.Context(), opts.Source)
	if err != nil {
		return err
	}

	return render(cmd, opts.RootOptions, list, func(w io.Writer) {
		line(w, "PRIORITY", "NAME", "ACTION", "EVENTS", "FIELDS", "ACTIVE")
		for _, r := range list {
			line(w, r.Priority, r.Name, r.ActionMode, joinEvents(r.EventTypes), fieldScope(r), r.IsActive)
		}
	})
}

func runRulesCheck(cmd *cobra.Command, opts *RulesOptions) error {
	ev := models.EventType(opts.Event)
	if !ev.Valid() {
		return fmt.Errorf("unknown event type %q", opts.Event)
	}

	in := rules.Input{
		SourceSystemID: opts.Source,
		PipelineID:     opts.Pipeline,
		StageID:        opts.Stage,
		OwnerID:        opts.Owner,
		Status:         opts.Status,
		EventType:      ev,
		FieldName:      opts.Field,
	}

	decision, err := decide(cmd.Context(), opts, in)
	if err != nil {
		return err
	}

	return render(cmd, opts.RootOptions, decision, func(w io.Writer) {
		verdict := "BLOCK"
		if decision.Allowed {
			verdict = "ALLOW"
		}
		line(w, "decision:", verdict)
		line(w, "reason:", decision.Reason)
		if decision.RuleName != "" {
			line(w, "rule:", decision.RuleName)
		}
	})
}

func decide(ctx context.Context, opts *RulesOptions, in rules.Input) (rules.Decision, error) {
	if opts.File != "" {
		set, err := rules.LoadFile(opts.File)
		if err != nil {
			return rules.Decision{}, err
		}
		if in.SourceSystemID == "" {
			in.SourceSystemID = set.SourceSystemID
		}
		return rules.Evaluate(set.Rules, in), nil
	}

	if in.SourceSystemID == "" {
		return rules.Decision{}, fmt.Errorf("--source is required without --file")
	}

	a, err := opts.open(ctx)
	if err != nil {
		return rules.Decision{}, err
	}
	defer a.Close()

	return rules.NewEngine(a.Repo.Store(), a.Logger).Evaluate(ctx, in)
}

func joinEvents(types []models.EventType) string {
	if len(types) == 0 {
		return "*"
	}
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

func fieldScope(r models.TriggerRule) string {
	if r.SyncFieldMode == "" || r.SyncFieldMode == models.FieldModeAll {
		return "all"
	}
	return fmt.Sprintf("%s:%s", r.SyncFieldMode, strings.Join(r.SyncFields, ","))
}
