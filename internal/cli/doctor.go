package cli

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"lapnote/internal/bootstrap"
	"lapnote/internal/config"
	"lapnote/internal/output"
	"lapnote/internal/vocabulary"
)

func NewDoctorCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check prerequisites",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := deps.Config
			f := output.NewFormatter(cmd.OutOrStdout())
			ok := true

			if _, err := exec.LookPath(cfg.Audio.RecorderCommand); err != nil {
				f.SetupCheck(cfg.Audio.RecorderCommand, false, "not found. Install ffmpeg or set LAPNOTE_FFMPEG_COMMAND")
				ok = false
			} else {
				f.SetupCheck(cfg.Audio.RecorderCommand, true, "installed")
			}

			if cfg.OpenAI.APIKey != "" {
				f.SetupCheck("OpenAI API key", true, "configured")
			} else {
				f.SetupCheck("OpenAI API key", false, "not set. Set OPENAI_API_KEY or add [openai] api_key to the config")
				ok = false
			}

			if cfg.Transcription.Provider == config.ProviderDeepgram {
				if cfg.Deepgram.APIKey != "" {
					f.SetupCheck("Deepgram API key", true, "configured")
				} else {
					f.SetupCheck("Deepgram API key", false, "not set. Set DEEPGRAM_API_KEY")
					ok = false
				}
			}

			if glossary, err := vocabulary.Load(cfg.Vocabulary.Path, cfg.Vocabulary.IterationLimit); err != nil {
				f.SetupCheck("Vocabulary", false, err.Error())
				ok = false
			} else {
				f.SetupCheck("Vocabulary", true, fmt.Sprintf("%d entries from %s", glossary.Len(), cfg.Vocabulary.Path))
			}

			if err := os.MkdirAll(cfg.Paths.NotesDir, 0o755); err != nil {
				f.SetupCheck("Notes directory", false, err.Error())
				ok = false
			} else {
				f.SetupCheck("Notes directory", true, cfg.Paths.NotesDir)
			}

			info := bootstrap.Describe(*cfg)
			f.SetupCheck("Transcription", true, fmt.Sprintf("%s (%s), polishing with %s", info["provider"], info["model"], info["polishModel"]))
			f.SetupCheck("Audio input", true, fmt.Sprintf("%s via %s", info["audioInput"], info["audioInputFormat"]))

			if ok {
				f.Success("\nAll prerequisites met. Ready to record!")
			} else {
				f.Warning("\nSome prerequisites are missing.")
			}
			return nil
		},
	}
}
