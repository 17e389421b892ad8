package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"proctor/internal/clips"
	"proctor/internal/config"
	"proctor/internal/database"
	pkgdatabase "proctor/pkg/database"
)

// clipsCmd manages recorded evidence without the service running
func clipsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clips",
		Short: "Inspect and prune recorded clips",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List clips, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(*configPath)
			lib := clips.NewLibrary(cfg.Recording.Directory, cfg.Recording.Extension)
			list, err := lib.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintf(out, "No clips in %s\n", lib.Dir())
				return nil
			}
			for _, c := range list {
				fmt.Fprintf(out, "%s\t%.2f MB\t%s\n", c.Filename, c.SizeMB, c.CreatedAt.Format(time.RFC3339))
			}
			fmt.Fprintf(out, "%d clips\n", len(list))
			return nil
		},
	})

	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete clips older than a given age",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(*configPath)
			age := olderThan
			if age <= 0 {
				age = cfg.Recording.Retention
			}
			if age <= 0 {
				return errors.New("no retention configured; pass --older-than")
			}

			lib := clips.NewLibrary(cfg.Recording.Directory, cfg.Recording.Extension)
			removed, err := lib.Prune(age)
			if err != nil {
				return err
			}
			if err := forgetClips(cfg.Database, removed); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "clip metadata not updated: %v\n", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d clips older than %v\n", len(removed), age)
			return nil
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 0, "minimum clip age (default: recording retention)")
	cmd.AddCommand(prune)

	return cmd
}

// forgetClips removes metadata rows for deleted files when a database exists
func forgetClips(cfg *config.DatabaseConfig, names []string) error {
	if len(names) == 0 {
		return nil
	}
	if _, err := os.Stat(cfg.Path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	db, err := database.NewManager(&pkgdatabase.Config{
		DatabasePath:    cfg.Path,
		MaxConnections:  1,
		ConnMaxLifetime: time.Minute,
		ConnMaxIdleTime: time.Minute,
		WriteTimeout:    cfg.Timeout,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := pkgdatabase.NewEmbeddedMigrationManager(db.GetDB()).ApplyMigrations(); err != nil {
		return err
	}
	for _, name := range names {
		if err := db.DeleteClip(context.Background(), name); err != nil {
			return fmt.Errorf("delete %s: %w", name, err)
		}
	}
	return nil
}
