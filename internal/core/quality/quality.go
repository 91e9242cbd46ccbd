// Package quality chooses the best available tier for a track.
// Deterministic; no I/O.
package quality

import (
	"fmt"

	"zvuk-dl/internal/shared"
)

// Preference is the ordered tier preference list. The first present
// tier wins.
var Preference = []shared.Quality{shared.QualityBest, shared.QualityMid}

// Select picks the highest available tier from the stream info. Fails
// with ErrNoPlayableStream when no preferred tier is present, e.g. for
// region-restricted or DRM-only tracks.
func Select(info *shared.TrackStreamInfo) (shared.Quality, shared.StreamDescriptor, error) {
	if info != nil {
		for _, tier := range Preference {
			if desc, ok := info.Streams[tier]; ok && desc.URL != "" {
				return tier, desc, nil
			}
		}
	}
	return shared.QualityUnknown, shared.StreamDescriptor{},
		fmt.Errorf("no stream in any preferred tier: %w", shared.ErrNoPlayableStream)
}
