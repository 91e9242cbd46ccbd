// Package services wires the service's components together.
package services

import (
	"net/http"

	"go.uber.org/zap"

	zvukapi "zvuk-dl/internal/api/zvuk"
	"zvuk-dl/internal/config"
	"zvuk-dl/internal/core/cache"
	"zvuk-dl/internal/core/coordinator"
	"zvuk-dl/internal/core/downloader"
)

// ServiceContainer holds the constructed components. Config and logger
// are threaded in explicitly; nothing here reads ambient state.
type ServiceContainer struct {
	Config      *config.Config
	Logger      *zap.SugaredLogger
	APIClient   *zvukapi.Client
	Store       *cache.Store
	Downloader  *downloader.Downloader
	Coordinator *coordinator.Coordinator
}

// NewServiceContainer builds all components from the configuration.
// The given client (with its per-call timeout) serves the API; the
// downloader gets a client without a global timeout, since a track
// transfer legitimately outlives any single-call deadline and is
// bounded by the pipeline context instead.
func NewServiceContainer(cfg *config.Config, httpClient *http.Client, log *zap.SugaredLogger) *ServiceContainer {
	apiClient := zvukapi.NewClient(cfg.ZvukAPIURL, httpClient)
	store := cache.NewStore(cfg.CacheDir)
	dl := downloader.New(&http.Client{Transport: httpClient.Transport})

	return &ServiceContainer{
		Config:      cfg,
		Logger:      log,
		APIClient:   apiClient,
		Store:       store,
		Downloader:  dl,
		Coordinator: coordinator.New(cfg, apiClient, dl, store, log),
	}
}
