package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"proctor/internal/app"
	"proctor/internal/config"
)

// shutdownTimeout bounds the graceful stop, including flushing the open clip
const shutdownTimeout = 30 * time.Second

// Main entry point with comprehensive error handling and signal management
func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Without a subcommand the station is served.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "proctor",
		Short:        "Single-station exam proctoring service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("PROCTOR_CONFIG_FILE"),
		"configuration file (JSON or YAML); env PROCTOR_CONFIG_FILE")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the proctoring HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	})
	root.AddCommand(clipsCmd(&configPath))
	root.AddCommand(configCmd(&configPath))
	return root
}

// loadConfig applies file > environment > defaults precedence
func loadConfig(path string) *config.Config {
	if path == "" {
		return config.LoadFromEnv()
	}
	return config.LoadConfigWithPrecedence(path)
}

// serve runs the station until SIGINT or SIGTERM
// Signal handling ensures graceful shutdown in production environments
func serve(configPath string) error {
	// STEP 1: Load configuration with precedence (file > env > defaults)
	cfg := loadConfig(configPath)

	// STEP 2: Create application with configuration
	application, err := app.NewApplication(cfg, configPath)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// STEP 3: Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	// STEP 4: Start application
	if err := application.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()
		_ = application.Stop(stopCtx)
		return fmt.Errorf("application error: %w", err)
	}

	// STEP 5: Wait for shutdown signal
	sig := <-signalCh
	log.Printf("Received signal %v, shutting down gracefully", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
