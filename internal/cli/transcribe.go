package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"

	"lapnote/internal/bootstrap"
	"lapnote/internal/domain"
	"lapnote/internal/export"
	"lapnote/internal/output"
)

func NewTranscribeCmd(deps *Dependencies) *cobra.Command {
	var modeID string
	var format string
	var noSave bool

	cmd := &cobra.Command{
		Use:   "transcribe <file>",
		Short: "Transcribe and polish an existing recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exportFormat, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			if err := bootstrap.CheckCredentials(*deps.Config); err != nil {
				return err
			}
			audio, err := readRecording(args[0])
			if err != nil {
				return err
			}

			progress := output.NewFormatter(cmd.ErrOrStderr())
			services, err := deps.build(progressSink{f: progress}, modeID)
			if err != nil {
				return err
			}
			defer services.Close()

			note, err := services.Controller.TranscribeFile(cmd.Context(), audio)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(note.Polished))
			progress.Usage(note)

			if noSave {
				return nil
			}
			path, err := saveNote(cmd.Context(), services, note, exportFormat)
			if err != nil {
				return err
			}
			progress.NoteSaved(path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&modeID, "mode", "m", "", "output mode (default: saved preference)")
	cmd.Flags().StringVarP(&format, "format", "f", "md", "export format: md or json")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "print the note without exporting it or adding it to the history")
	return cmd
}

// readRecording loads an audio file and detects its container from content.
func readRecording(path string) (domain.CapturedAudio, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.CapturedAudio{}, fmt.Errorf("file not found: %s", path)
		}
		return domain.CapturedAudio{}, err
	}

	mt := mimetype.Detect(data)
	if !isMedia(mt) {
		return domain.CapturedAudio{}, fmt.Errorf("%s does not look like audio (detected %s)", path, mt.String())
	}
	return domain.CapturedAudio{Data: data, ContentType: mt.String()}, nil
}

func isMedia(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "audio/") || strings.HasPrefix(m.String(), "video/") {
			return true
		}
	}
	return false
}
