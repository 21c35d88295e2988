package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/Guizzs26/go-crm-sync/internal/httpapi"
	"github.com/spf13/cobra"
)

func NewSettingsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the runtime switches",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective switches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.Repo.Store().SyncSettings(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd, opts, s, func(w io.Writer) {
				line(w, "outbound_enabled", s.OutboundEnabled)
				line(w, "shadow_mode", s.ShadowMode)
				line(w, "allowed_event_types", joinEvents(s.AllowedEventTypes))
				line(w, "auto_create_contacts", s.AutoCreateContacts)
				line(w, "inbound_enabled", s.InboundEnabled)
			})
		},
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one switch",
		Long: `Change one switch. The value is JSON; a bare word is taken as a string.

Examples:
  syncctl settings set shadow_mode false
  syncctl settings set allowed_event_types '["stage_change","won"]'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := httpapi.ParseSetting(args[0], settingValue(args[1]))
			if err != nil {
				return err
			}

			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Repo.Store().SetSetting(cmd.Context(), args[0], value); err != nil {
				return fmt.Errorf("set %s: %w", args[0], err)
			}
			cmd.Printf("%s = %s\n", args[0], args[1])
			return nil
		},
	}

	cmd.AddCommand(show, set)
	return cmd
}

// settingValue treats anything that is not valid JSON as a quoted string
func settingValue(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(s)
	return b
}
