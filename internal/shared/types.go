package shared

import (
	"fmt"
	"strings"
	"time"
)

// Quality is an ordered audio quality tier offered by the upstream
// service. Higher values are better.
type Quality int

const (
	QualityUnknown Quality = iota
	QualityMid
	QualityBest
)

func (q Quality) String() string {
	switch q {
	case QualityBest:
		return "best"
	case QualityMid:
		return "mid"
	default:
		return "unknown"
	}
}

// DefaultExtension is the container extension the upstream serves for
// the tier when the download response does not declare one (best tier
// is FLAC, mid tier is MP3).
func (q Quality) DefaultExtension() string {
	switch q {
	case QualityBest:
		return "flac"
	case QualityMid:
		return "mp3"
	default:
		return ""
	}
}

// StreamDescriptor is the upstream-provided location of one quality
// tier's audio bytes.
type StreamDescriptor struct {
	URL       string
	Extension string
	Expiry    time.Time
}

// TrackStreamInfo maps quality tiers to stream descriptors for a single
// track. Built per request from the upstream response and discarded
// after the download completes.
type TrackStreamInfo struct {
	TrackID string
	Streams map[Quality]StreamDescriptor
}

// Session holds the upstream credentials and identity resolved from an
// authentication cookie. Cookie-based and stateless: no session store.
type Session struct {
	Cookie    string
	UserID    int64
	Anonymous bool
}

// DownloadRequest is the validated input of the download pipeline.
// Exactly one of ID/Title identifies the track; Hash is the externally
// supplied cache key.
type DownloadRequest struct {
	ID         string
	Title      string
	Hash       string
	AuthCookie string
}

// Validate checks the request invariants: exactly one identifier, a
// numeric ID when present, a filesystem-safe hash and a non-empty
// cookie.
func (r *DownloadRequest) Validate() error {
	hasID := r.ID != ""
	hasTitle := strings.TrimSpace(r.Title) != ""

	if hasID == hasTitle {
		return fmt.Errorf("exactly one of id/title must be set: %w", ErrBadRequest)
	}
	if hasID && !isDigits(r.ID) {
		return fmt.Errorf("id %q is not numeric: %w", r.ID, ErrBadRequest)
	}
	if err := ValidateHash(r.Hash); err != nil {
		return err
	}
	if r.AuthCookie == "" {
		return fmt.Errorf("auth_cookie is required: %w", ErrBadRequest)
	}
	return nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// CacheEntry references a committed (or pre-existing) cache artifact.
type CacheEntry struct {
	Hash         string
	Quality      Quality
	Path         string
	BytesWritten int64
	FromCache    bool
}
