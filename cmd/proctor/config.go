package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"proctor/internal/config"
)

func configCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configuration file and print the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				cfg *config.Config
				err error
			)
			if *configPath == "" {
				cfg = config.LoadFromEnv()
				err = cfg.Validate()
			} else {
				// Strict load: LoadConfigWithPrecedence would fall back silently
				cfg, err = config.LoadFromFile(*configPath)
			}
			if err != nil {
				return fmt.Errorf("configuration invalid: %w", err)
			}
			if cfg == nil {
				return errors.New("configuration invalid: empty")
			}

			t := cfg.Tuning()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "listen:        %s:%d\n", cfg.HTTP.Host, cfg.HTTP.Port)
			fmt.Fprintf(out, "database:      %s\n", cfg.Database.Path)
			fmt.Fprintf(out, "camera:        %s %dx%d@%d\n", cfg.Camera.Device, cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS)
			fmt.Fprintf(out, "audio:         enabled=%t threshold=%.0f\n", cfg.Audio.Enabled, t.AudioThreshold)
			fmt.Fprintf(out, "recordings:    %s (*%s, min %v)\n", cfg.Recording.Directory, cfg.Recording.Extension, t.MinClipDuration)
			fmt.Fprintf(out, "vote threshold: %d\n", t.VoteThreshold)
			fmt.Fprintf(out, "default exam:  %v\n", t.DefaultBudget)
			fmt.Fprintln(out, "configuration OK")
			return nil
		},
	})

	return cmd
}
