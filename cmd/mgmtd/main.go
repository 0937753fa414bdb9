package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/beegfs-io/mgmtd/pkg/app"
	"github.com/beegfs-io/mgmtd/pkg/config"
	"github.com/beegfs-io/mgmtd/pkg/log"
)

var (
	// Version information (set via ldflags during build).
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "mgmtd",
	Short:   "BeeGFS management daemon",
	Long:    "mgmtd tracks cluster topology, classifies target capacity, promotes buddy secondaries on failure, and aggregates quota usage for a BeeGFS-style parallel filesystem.",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("mgmtd version %s\ncommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	serveCmd.Flags().String("config", "/etc/beegfs/mgmtd.yaml", "Path to the mgmtd configuration file")
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the management daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		app.Version = Version

		a, err := app.New(cfg)
		if err != nil {
			return fmt.Errorf("initialize mgmtd: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		errCh := make(chan error, 1)
		go func() {
			errCh <- a.Run(ctx)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			cancel()
			return <-errCh
		case err := <-errCh:
			return err
		}
	},
}
