package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tankobon/config"
	"tankobon/downloader"
	"tankobon/server"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var flagListen string

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the download workers",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "listen address (overrides the config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if flagListen != "" {
		cfg.Listen = flagListen
	}
	if !cfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if n, err := downloader.Sweep(cfg.DownloadDir, cfg.StaleAfter); err != nil {
		log.Printf("[Serve] ⚠️ Startup sweep failed: %v", err)
	} else if n > 0 {
		log.Printf("[Serve] Removed %d stale batch directories", n)
	}

	svc := config.NewServices(cfg)
	queue := config.NewJobQueue(svc.Registry, config.PackagedBatch(svc.Manager), config.QueueOptionsFrom(cfg))
	queue.Start()
	defer queue.Shutdown()

	go sweepLoop(ctx, cfg.DownloadDir, cfg.StaleAfter)

	handler := server.NewHandler(queue, svc.Registry, svc.HTTP)
	return server.Run(ctx, cfg.Listen, server.NewRouter(handler))
}

// sweepLoop reaps batches left behind by abandoned or never-served jobs.
func sweepLoop(ctx context.Context, downloadDir string, staleAfter time.Duration) {
	if staleAfter <= 0 {
		return
	}
	ticker := time.NewTicker(staleAfter / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := downloader.Sweep(downloadDir, staleAfter); err != nil {
				log.Printf("[Serve] ⚠️ Sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("[Serve] Removed %d stale batch directories", n)
			}
		}
	}
}
