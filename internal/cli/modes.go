package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"lapnote/internal/modes"
	"lapnote/internal/output"
)

func NewModesCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modes",
		Short: "List output modes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := deps.build(progressSink{f: output.NewFormatter(cmd.ErrOrStderr())}, "")
			if err != nil {
				return err
			}
			defer services.Close()

			f := output.NewFormatter(cmd.OutOrStdout())
			selected := services.Preferences.ModeID()
			for _, mode := range services.Modes.Modes() {
				f.ModeListItem(mode.ID(), mode.Name(), mode.ID() == selected)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nCustom mode instructions: %s\n", services.Instructions.Path())
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "use <id>",
		Short: "Select the mode used for new notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := deps.build(progressSink{f: output.NewFormatter(cmd.ErrOrStderr())}, "")
			if err != nil {
				return err
			}
			defer services.Close()

			mode, err := services.Modes.Lookup(args[0])
			if err != nil {
				return err
			}
			if mode.ID() == modes.CustomID {
				if _, err := mode.Instructions(); err != nil {
					output.NewFormatter(cmd.ErrOrStderr()).Warning(
						fmt.Sprintf("custom mode has no instructions yet; write them to %s", services.Instructions.Path()))
				}
			}
			if err := services.Preferences.SetModeID(mode.ID()); err != nil {
				return err
			}
			output.NewFormatter(cmd.OutOrStdout()).Success(fmt.Sprintf("Mode set to %s (%s)", mode.ID(), mode.Name()))
			return nil
		},
	})

	return cmd
}
