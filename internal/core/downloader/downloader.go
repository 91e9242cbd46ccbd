// Package downloader streams audio bytes from a resolved stream URL to
// a temporary file. Memory use is bounded by the copy buffer regardless
// of track length; on any failure the temporary file is removed before
// the error propagates.
package downloader

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/cheggaaa/pb/v3"

	"zvuk-dl/internal/config"
	"zvuk-dl/internal/shared"
)

// extensionByMime maps the audio content types the upstream serves to
// cache file extensions.
var extensionByMime = map[string]string{
	"audio/flac":   "flac",
	"audio/x-flac": "flac",
	"audio/mpeg":   "mp3",
	"audio/mp3":    "mp3",
	"audio/mp4":    "m4a",
	"audio/aac":    "aac",
	"audio/ogg":    "ogg",
}

// Result describes a completed fetch.
type Result struct {
	BytesWritten int64
	// Extension is inferred from the response Content-Type, falling back
	// to the URL path and then the descriptor default.
	Extension string
}

// Downloader fetches stream URLs over HTTP.
type Downloader struct {
	client *http.Client
}

// New creates a downloader using the given HTTP client.
func New(client *http.Client) *Downloader {
	return &Downloader{client: client}
}

// Fetch streams the descriptor's URL into tmpPath. The optional
// progress bar proxies the response body for interactive use; pass nil
// on the server path. Connection-establishment failures map to
// ErrUpstreamUnavailable; a stream that ends short of the declared
// content length, or delivers zero bytes, maps to ErrDownloadInterrupted.
// tmpPath may already exist (the cache store pre-creates it); it is
// removed on every failure exit so the temp area never accumulates
// leftovers.
func (d *Downloader) Fetch(ctx context.Context, desc shared.StreamDescriptor, tmpPath string, bar *pb.ProgressBar) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.URL, nil)
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("error creating stream request: %w", err)
	}
	req.Header.Set("User-Agent", config.UserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("stream request failed: %v: %w", err, shared.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("stream returned status %d: %w", resp.StatusCode, shared.ErrUpstreamUnavailable)
	}

	body := resp.Body
	if bar != nil {
		if resp.ContentLength > 0 {
			bar.SetTotal(resp.ContentLength)
		}
		body = bar.NewProxyReader(resp.Body)
	}

	out, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to open temp file: %w", err)
	}

	bytesWritten, copyErr := io.Copy(out, body)
	closeErr := out.Close()

	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("stream ended after %d bytes: %v: %w", bytesWritten, copyErr, shared.ErrDownloadInterrupted)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to flush temp file: %w", closeErr)
	}
	if bytesWritten == 0 {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("received zero bytes: %w", shared.ErrDownloadInterrupted)
	}
	if resp.ContentLength > 0 && bytesWritten != resp.ContentLength {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("incomplete download: expected %d bytes, got %d: %w",
			resp.ContentLength, bytesWritten, shared.ErrDownloadInterrupted)
	}

	return &Result{
		BytesWritten: bytesWritten,
		Extension:    inferExtension(resp.Header.Get("Content-Type"), desc),
	}, nil
}

// inferExtension picks the cache file extension: Content-Type first,
// then the URL path, then the descriptor's per-tier default.
func inferExtension(contentType string, desc shared.StreamDescriptor) string {
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			if ext, ok := extensionByMime[mt]; ok {
				return ext
			}
		}
	}
	if u := desc.URL; u != "" {
		if i := strings.IndexAny(u, "?#"); i >= 0 {
			u = u[:i]
		}
		if ext := strings.TrimPrefix(path.Ext(u), "."); ext != "" && len(ext) <= 4 {
			return strings.ToLower(ext)
		}
	}
	return desc.Extension
}
