package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cheggaaa/pb/v3"
	"go.uber.org/zap"

	"zvuk-dl/internal/services"
	"zvuk-dl/internal/shared"
)

// maxBodyBytes limits the request body to 1 MiB; the payload is a few
// short strings.
const maxBodyBytes = 1 << 20

const shutdownTimeout = 5 * time.Second

// trackDownloader is the coordinator surface the endpoint needs.
type trackDownloader interface {
	Download(ctx context.Context, req *shared.DownloadRequest, bar *pb.ProgressBar) (*shared.CacheEntry, error)
}

type downloadRequestBody struct {
	ID         interface{} `json:"id,omitempty"`
	Title      string      `json:"title,omitempty"`
	Hash       string      `json:"hash"`
	AuthCookie string      `json:"auth_cookie"`
}

type downloadResponseBody struct {
	OK      bool   `json:"ok"`
	Path    string `json:"path,omitempty"`
	Quality string `json:"quality,omitempty"`
	Cached  bool   `json:"cached,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Error   string `json:"error,omitempty"`
}

func newMux(dl trackDownloader, log *zap.SugaredLogger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/dl", downloadHandler(dl, log))
	return mux
}

func downloadHandler(dl trackDownloader, log *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

		var body downloadRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeDownloadResponse(w, http.StatusBadRequest, downloadResponseBody{
				OK:    false,
				Kind:  shared.ErrorKind(shared.ErrBadRequest),
				Error: fmt.Sprintf("invalid request body: %v", err),
			})
			return
		}

		req := &shared.DownloadRequest{
			ID:         shared.IdToString(body.ID),
			Title:      body.Title,
			Hash:       body.Hash,
			AuthCookie: body.AuthCookie,
		}

		entry, err := dl.Download(r.Context(), req, nil)
		if err != nil {
			status := statusForError(err)
			if status >= http.StatusInternalServerError {
				log.Errorw("download request failed", "hash", body.Hash, "err", err.Error())
			}
			writeDownloadResponse(w, status, downloadResponseBody{
				OK:    false,
				Kind:  shared.ErrorKind(err),
				Error: err.Error(),
			})
			return
		}

		writeDownloadResponse(w, http.StatusOK, downloadResponseBody{
			OK:      true,
			Path:    entry.Path,
			Quality: entry.Quality.String(),
			Cached:  entry.FromCache,
		})
	}
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, shared.ErrInvalidHash), errors.Is(err, shared.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrAuthInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrTrackNotFound), errors.Is(err, shared.ErrNoPlayableStream):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, shared.ErrDownloadInterrupted):
		return http.StatusGatewayTimeout
	case errors.Is(err, shared.ErrAlreadyInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeDownloadResponse(w http.ResponseWriter, status int, body downloadResponseBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// runServer serves the /dl endpoint until the context is canceled, then
// shuts down gracefully.
func runServer(ctx context.Context, container *services.ServiceContainer) error {
	addr := fmt.Sprintf(":%d", container.Config.ZvukPort)
	server := &http.Server{
		Addr:    addr,
		Handler: newMux(container.Coordinator, container.Logger),
	}

	done := make(chan error, 1)
	go func() {
		container.Logger.Infow("listening", "addr", addr, "cache", container.Config.CacheDir)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			done <- err
			return
		}
		done <- nil
	}()

	select {
	case <-ctx.Done():
		sdc, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(sdc); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}
		container.Logger.Info("http server shutdown")
		return nil
	case err := <-done:
		if err != nil {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	}
}
