package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"

	"zvuk-dl/internal/config"
	"zvuk-dl/internal/logger"
	"zvuk-dl/internal/services"
	"zvuk-dl/internal/shared"
)

const toolVersion = "1.0.0"

var (
	fetchID     string
	fetchTitle  string
	fetchHash   string
	fetchCookie string
)

var rootCmd = &cobra.Command{
	Use:     "zvuk-dl",
	Version: toolVersion,
	Short:   "Download backend that caches zvuk.com tracks under content-addressed paths.",
	Long: `zvuk-dl fetches a track's audio from zvuk.com and persists it under a
deterministic cache path (<TRI_CACHE>/<hash>/zvuk/<quality>.<ext>).

It is normally run as a local HTTP service (the "serve" command) invoked
by a media-library tool, but "fetch" performs the same pipeline once
from the command line.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP download service.",
	RunE: func(cmd *cobra.Command, args []string) error {
		container, err := buildContainer()
		if err != nil {
			return err
		}
		defer func() { _ = container.Logger.Sync() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runServer(ctx, container)
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download a single track into the cache without the HTTP server.",
	RunE: func(cmd *cobra.Command, args []string) error {
		container, err := buildContainer()
		if err != nil {
			return err
		}
		defer func() { _ = container.Logger.Sync() }()

		req := &shared.DownloadRequest{
			ID:         fetchID,
			Title:      fetchTitle,
			Hash:       fetchHash,
			AuthCookie: fetchCookie,
		}

		var bar *pb.ProgressBar
		if shared.IsTTY() {
			bar = pb.New64(0)
			bar.Set(pb.Bytes, true)
			bar.Start()
			defer bar.Finish()
		}

		entry, err := container.Coordinator.Download(cmd.Context(), req, bar)
		if err != nil {
			shared.ColorError.Printf("Download failed: %v\n", err)
			return err
		}

		if entry.FromCache {
			shared.ColorInfo.Println("Already cached:", entry.Path)
		} else {
			shared.ColorSuccess.Printf("Saved %s (%s)\n", entry.Path, entry.Quality)
		}
		return nil
	},
}

func buildContainer() (*services.ServiceContainer, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(cfg.Debug)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.UpstreamTimeout}
	return services.NewServiceContainer(cfg, httpClient, log), nil
}

func init() {
	shared.InitializeColors()

	fetchCmd.Flags().StringVar(&fetchID, "id", "", "Numeric track id")
	fetchCmd.Flags().StringVar(&fetchTitle, "title", "", "Track title to search for (alternative to --id)")
	fetchCmd.Flags().StringVar(&fetchHash, "hash", "", "Cache key the artifact is stored under")
	fetchCmd.Flags().StringVar(&fetchCookie, "cookie", "", "zvuk.com authentication cookie")
	_ = fetchCmd.MarkFlagRequired("hash")
	_ = fetchCmd.MarkFlagRequired("cookie")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fetchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
