package shared

import "errors"

// Stable error taxonomy for the download pipeline. Every failure that
// reaches a caller wraps exactly one of these sentinels so the endpoint
// can map it to a status code and a stable kind tag.
var (
	ErrInvalidHash         = errors.New("invalid hash")
	ErrBadRequest          = errors.New("bad request")
	ErrAuthInvalid         = errors.New("authentication rejected")
	ErrTrackNotFound       = errors.New("track not found")
	ErrNoPlayableStream    = errors.New("no playable stream")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrDownloadInterrupted = errors.New("download interrupted")
	ErrAlreadyInProgress   = errors.New("download already in progress")
	ErrCommitFailed        = errors.New("cache commit failed")
)

// ErrorKind returns the stable tag for an error from the taxonomy.
// Unrecognized errors report as "internal".
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidHash):
		return "invalid_hash"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrAuthInvalid):
		return "auth_invalid"
	case errors.Is(err, ErrTrackNotFound):
		return "track_not_found"
	case errors.Is(err, ErrNoPlayableStream):
		return "no_playable_stream"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrDownloadInterrupted):
		return "download_interrupted"
	case errors.Is(err, ErrAlreadyInProgress):
		return "already_in_progress"
	case errors.Is(err, ErrCommitFailed):
		return "commit_failed"
	default:
		return "internal"
	}
}

// IsTransient reports whether an error is worth retrying when the
// coordinator's retry policy is enabled. Auth and not-found failures
// are never transient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, ErrDownloadInterrupted)
}
