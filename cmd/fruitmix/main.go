package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wisnuc/appifi-sub000/internal/logger"
	"github.com/wisnuc/appifi-sub000/pkg/config"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fruitmix",
	Short: "Drive-rooted directory cache with content hashing",
	Long: `fruitmix keeps an in-memory forest of the drives under its storage root,
tags every file and directory with a persistent identity, hashes file content
in the background and extracts media metadata from hashed photos and videos.`,
	SilenceUsage: true,
}

var configPath string

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to config file (default: "+config.GetDefaultConfigPath()+")")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(fingerprintCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(driveCmd)
}

// loadConfig loads the configuration and sets up the process logger from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}
