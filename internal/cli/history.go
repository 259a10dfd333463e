package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"lapnote/internal/output"
)

func NewHistoryCmd(deps *Dependencies) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent notes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := deps.build(progressSink{f: output.NewFormatter(cmd.ErrOrStderr())}, "")
			if err != nil {
				return err
			}
			defer services.Close()

			notes, err := services.Preferences.RecentNotes(cmd.Context(), limit)
			if err != nil {
				return err
			}

			f := output.NewFormatter(cmd.OutOrStdout())
			if len(notes) == 0 {
				f.Info("No notes yet")
				return nil
			}
			loc := location(services.Preferences)
			f.HistoryHeader()
			for _, n := range notes {
				f.HistoryItem(n.CreatedAt.In(loc), n.ModeID, n.Duration, n.Laps, n.Cost, noteTitle(n.Polished))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of notes to show")
	return cmd
}

// noteTitle is the first heading of a polished note, or its first line.
func noteTitle(polished string) string {
	var first string
	for _, line := range strings.Split(polished, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			return truncate(strings.TrimSpace(strings.TrimLeft(line, "#")), 60)
		}
		if first == "" {
			first = line
		}
	}
	return truncate(first, 60)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
