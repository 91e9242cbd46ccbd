// Package interfaces defines the seams between the coordinator and its
// collaborators so tests can substitute fakes.
package interfaces

import (
	"context"

	"github.com/cheggaaa/pb/v3"

	"zvuk-dl/internal/core/downloader"
	"zvuk-dl/internal/shared"
)

// StreamResolver speaks the upstream service's authenticated protocol.
type StreamResolver interface {
	// Authenticate validates a cookie and returns a session for it.
	Authenticate(ctx context.Context, cookie string) (*shared.Session, error)
	// ResolveTrack fetches per-tier stream descriptors for a track id.
	ResolveTrack(ctx context.Context, session *shared.Session, trackID string) (*shared.TrackStreamInfo, error)
	// SearchTrack resolves a free-text title to a single track id.
	SearchTrack(ctx context.Context, session *shared.Session, title string) (string, error)
}

// Fetcher streams a stream descriptor's bytes to a temporary file.
type Fetcher interface {
	Fetch(ctx context.Context, desc shared.StreamDescriptor, tmpPath string, bar *pb.ProgressBar) (*downloader.Result, error)
}
