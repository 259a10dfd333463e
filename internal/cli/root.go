package cli

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"lapnote/internal/bootstrap"
	"lapnote/internal/config"
	"lapnote/internal/domain"
	"lapnote/internal/export"
	"lapnote/internal/ports"
	"lapnote/internal/store"
)

// Version is overridden at link time.
var Version = "dev"

// Dependencies are shared by every command. Config must be loaded.
type Dependencies struct {
	Config *config.Config
	Logger *slog.Logger
	// Capture replaces the ffmpeg recorder.
	Capture ports.CaptureDevice
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "lapnote",
		Short:         "Record in laps, transcribe each one, and polish the result into a note",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = Version

	rootCmd.AddCommand(NewRecordCmd(deps))
	rootCmd.AddCommand(NewTranscribeCmd(deps))
	rootCmd.AddCommand(NewModesCmd(deps))
	rootCmd.AddCommand(NewPrefsCmd(deps))
	rootCmd.AddCommand(NewHistoryCmd(deps))
	rootCmd.AddCommand(NewDoctorCmd(deps))

	return rootCmd
}

func (d *Dependencies) build(events ports.EventSink, modeID string) (bootstrap.Services, error) {
	return bootstrap.Build(events, bootstrap.Options{
		Config:  d.Config,
		Logger:  d.Logger,
		Capture: d.Capture,
		ModeID:  modeID,
	})
}

// saveNote exports a finished note and records it in the history.
func saveNote(ctx context.Context, services bootstrap.Services, note domain.Note, format export.Format) (string, error) {
	path, err := export.Write(services.Config.Paths.NotesDir, note, format, location(services.Preferences))
	if err != nil {
		return "", err
	}
	if err := services.Preferences.SaveNote(ctx, note); err != nil {
		return path, err
	}
	return path, nil
}

func location(prefs *store.Store) *time.Location {
	if tz := prefs.Timezone(); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return time.Local
}
