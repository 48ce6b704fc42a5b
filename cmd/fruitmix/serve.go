package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wisnuc/appifi-sub000/internal/logger"
	"github.com/wisnuc/appifi-sub000/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the forest over every configured drive",
	Long: `Load the drive list, mount one root per drive and keep the cache in sync
until interrupted. SIGINT or SIGTERM triggers a graceful shutdown.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		return err
	}

	logger.Info("fruitmix %s starting, storage root %s", version, cfg.Storage.Root)
	return srv.Serve(ctx)
}
