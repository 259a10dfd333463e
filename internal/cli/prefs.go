package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"lapnote/internal/output"
)

func NewPrefsCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show saved preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := deps.build(progressSink{f: output.NewFormatter(cmd.ErrOrStderr())}, "")
			if err != nil {
				return err
			}
			defer services.Close()

			tz := services.Preferences.Timezone()
			if tz == "" {
				tz = "(system local)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "timezone: %s\nmode:     %s\n", tz, services.Preferences.ModeID())
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "timezone <iana-name>",
		Short: "Set the timezone used in polishing prompts and exports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := deps.build(progressSink{f: output.NewFormatter(cmd.ErrOrStderr())}, "")
			if err != nil {
				return err
			}
			defer services.Close()

			if err := services.Preferences.SetTimezone(args[0]); err != nil {
				return err
			}
			output.NewFormatter(cmd.OutOrStdout()).Success("Timezone set to " + args[0])
			return nil
		},
	})

	return cmd
}
