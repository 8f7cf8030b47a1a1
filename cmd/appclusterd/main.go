// Command appclusterd runs an appcluster coordinator against one
// configuration file, registering every built-in syncplugin factory.
// It is an ambient entry point, not part of the core's contract surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ao-appcluster/appcluster/internal/cluster"
	"github.com/ao-appcluster/appcluster/internal/config"
	"github.com/ao-appcluster/appcluster/internal/syncplugin"
	"github.com/ao-appcluster/appcluster/internal/syncplugin/csync2"
	"github.com/ao-appcluster/appcluster/internal/syncplugin/imap"
	"github.com/ao-appcluster/appcluster/internal/syncplugin/jdbc"
	"github.com/ao-appcluster/appcluster/internal/syncplugin/manual"
	"github.com/ao-appcluster/appcluster/internal/syncplugin/rsync"
)

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:   "appclusterd",
		Short: "DNS-observed master/slave replication coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "/etc/appcluster/appcluster.properties", "path to the appcluster.properties configuration file")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	registry := syncplugin.NewRegistry()
	registry.Register("rsync", rsync.Factory)
	registry.Register("csync2", csync2.Factory)
	registry.Register("jdbc", jdbc.Factory)
	registry.Register("imap", imap.Factory)
	registry.Register("manual", manual.Factory)

	src := config.NewFileSource(configPath, log)
	c := cluster.New(src, registry, log)

	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("start cluster: %w", err)
	}

	log.Infow("appclusterd started", "config", configPath)
	<-ctx.Done()

	log.Infow("appclusterd shutting down")
	return c.Stop()
}
