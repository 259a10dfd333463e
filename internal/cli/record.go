package cli

import (
	"errors"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"lapnote/internal/domain"
	"lapnote/internal/export"
	"lapnote/internal/tui"
)

func NewRecordCmd(deps *Dependencies) *cobra.Command {
	var modeID string
	var format string

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Open the interactive recorder",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(os.Stdin.Fd()) || !term.IsTerminal(os.Stdout.Fd()) {
				return errors.New("record needs an interactive terminal; use `lapnote transcribe <file>` instead")
			}
			exportFormat, err := export.ParseFormat(format)
			if err != nil {
				return err
			}

			sink := tui.NewSink()
			services, err := deps.build(sink, modeID)
			if err != nil {
				return err
			}
			defer services.Close()

			modeName := services.Preferences.ModeID()
			if modeID != "" {
				modeName = modeID
			}
			if mode, err := services.Modes.Lookup(modeName); err == nil {
				modeName = mode.Name()
			}

			ctx := cmd.Context()
			save := func(note domain.Note) (string, error) {
				return saveNote(ctx, services, note, exportFormat)
			}

			model := tui.New(ctx, services.Controller, modeName, save)
			program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
			sink.Attach(program)
			defer sink.Detach()

			_, err = program.Run()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&modeID, "mode", "m", "", "output mode for this session (default: saved preference)")
	cmd.Flags().StringVarP(&format, "format", "f", "md", "export format: md or json")
	return cmd
}
