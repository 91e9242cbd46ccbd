// Package zvuk speaks the streaming service's authenticated protocol:
// cookie validation, stream URL resolution and title search. Every call
// is a single attempt; retries belong to the coordinator.
package zvuk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"zvuk-dl/internal/config"
	"zvuk-dl/internal/shared"
)

const (
	graphqlPath = "/api/v1/graphql"
	profilePath = "/api/v2/tiny/profile"

	defaultRateLimit  = 250 * time.Millisecond // 4 req/sec
	defaultBurstLimit = 8

	searchLimit = 10
)

// getStreamQuery mirrors the service's getStream operation. flacdrm is
// excluded: DRM streams are not downloadable.
const getStreamQuery = `query getStream($ids: [ID!]!, $quality: String, $encodeType: String, $includeFlacDrm: Boolean!) {
  mediaContents(ids: $ids, quality: $quality, encodeType: $encodeType) {
    ... on Track {
      stream {
        expire
        high
        mid
        flacdrm @include(if: $includeFlacDrm)
      }
    }
  }
}`

const searchQuery = `query search($query: String!, $limit: Int!) {
  search(query: $query, limit: $limit) {
    tracks {
      items {
        id
        title
        score
      }
    }
  }
}`

// Client is an authenticated zvuk.com API client. Safe for concurrent
// use; the rate limiter is shared across all calls.
type Client struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewClient creates a client for the given base URL.
func NewClient(endpoint string, httpClient *http.Client) *Client {
	return &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   httpClient,
		limiter:  rate.NewLimiter(rate.Every(defaultRateLimit), defaultBurstLimit),
	}
}

// Authenticate validates the cookie against the profile endpoint and
// returns a session carrying it. A 401/403 from upstream maps to
// ErrAuthInvalid, transport failures to ErrUpstreamUnavailable.
func (c *Client) Authenticate(ctx context.Context, cookie string) (*shared.Session, error) {
	if cookie == "" {
		return nil, fmt.Errorf("empty cookie: %w", shared.ErrAuthInvalid)
	}

	resp, err := c.do(ctx, http.MethodGet, profilePath, cookie, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp.StatusCode, "profile"); err != nil {
		return nil, err
	}

	var profile profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile response: %w", shared.ErrUpstreamUnavailable)
	}
	if profile.Result.IsAnonymous {
		return nil, fmt.Errorf("cookie resolves to an anonymous profile: %w", shared.ErrAuthInvalid)
	}

	return &shared.Session{
		Cookie:    cookie,
		UserID:    profile.Result.ID,
		Anonymous: profile.Result.IsAnonymous,
	}, nil
}

// ResolveTrack fetches the stream URLs for a track id and returns the
// per-tier descriptors. A missing or deleted track maps to
// ErrTrackNotFound.
func (c *Client) ResolveTrack(ctx context.Context, session *shared.Session, trackID string) (*shared.TrackStreamInfo, error) {
	var out getStreamResponse
	err := c.graphql(ctx, session.Cookie, "getStream", getStreamQuery, map[string]interface{}{
		"ids":            []string{trackID},
		"quality":        "hq",
		"encodeType":     "wv",
		"includeFlacDrm": false,
	}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("getStream failed: %s: %w", out.Errors[0].Message, shared.ErrUpstreamUnavailable)
	}
	if len(out.Data.MediaContents) == 0 || out.Data.MediaContents[0].Stream == nil {
		return nil, fmt.Errorf("track %s has no media content: %w", trackID, shared.ErrTrackNotFound)
	}

	stream := out.Data.MediaContents[0].Stream
	expiry := parseExpiry(stream.Expire)

	info := &shared.TrackStreamInfo{
		TrackID: trackID,
		Streams: make(map[shared.Quality]shared.StreamDescriptor, 2),
	}
	if stream.High != "" {
		info.Streams[shared.QualityBest] = shared.StreamDescriptor{
			URL:       stream.High,
			Extension: shared.QualityBest.DefaultExtension(),
			Expiry:    expiry,
		}
	}
	if stream.Mid != "" {
		info.Streams[shared.QualityMid] = shared.StreamDescriptor{
			URL:       stream.Mid,
			Extension: shared.QualityMid.DefaultExtension(),
			Expiry:    expiry,
		}
	}
	return info, nil
}

// SearchTrack resolves a free-text title to a single track id. Results
// are ordered by relevance score descending; equal scores keep the
// upstream order and the first result wins. Zero results map to
// ErrTrackNotFound.
func (c *Client) SearchTrack(ctx context.Context, session *shared.Session, title string) (string, error) {
	var out searchResponse
	err := c.graphql(ctx, session.Cookie, "search", searchQuery, map[string]interface{}{
		"query": title,
		"limit": searchLimit,
	}, &out)
	if err != nil {
		return "", err
	}
	if len(out.Errors) > 0 {
		return "", fmt.Errorf("search failed: %s: %w", out.Errors[0].Message, shared.ErrUpstreamUnavailable)
	}

	items := out.Data.Search.Tracks.Items
	if len(items) == 0 {
		return "", fmt.Errorf("no tracks match %q: %w", title, shared.ErrTrackNotFound)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Score > items[j].Score
	})
	return items[0].ID.String(), nil
}

// graphql posts one operation and decodes the response into out.
func (c *Client) graphql(ctx context.Context, cookie, operation, query string, variables map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(graphqlRequest{
		Query:         query,
		OperationName: operation,
		Variables:     variables,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", operation, err)
	}

	resp, err := c.do(ctx, http.MethodPost, graphqlPath, cookie, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp.StatusCode, operation); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", operation, shared.ErrUpstreamUnavailable)
	}
	return nil
}

// do executes a single rate-limited request. No retries here.
func (c *Client) do(ctx context.Context, method, path, cookie string, body []byte) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("User-Agent", config.UserAgent)
	req.Header.Set("Cookie", cookie)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/graphql-response+json, application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %v: %w", path, err, shared.ErrUpstreamUnavailable)
	}
	return resp, nil
}

func checkStatus(code int, what string) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%s rejected with status %d: %w", what, code, shared.ErrAuthInvalid)
	case code == http.StatusNotFound:
		return fmt.Errorf("%s returned status %d: %w", what, code, shared.ErrTrackNotFound)
	default:
		return fmt.Errorf("%s returned status %d: %w", what, code, shared.ErrUpstreamUnavailable)
	}
}

// parseExpiry interprets the upstream expire field, which may be unix
// seconds or milliseconds. A zero or unparsable value means no expiry.
func parseExpiry(n json.Number) time.Time {
	v, err := n.Int64()
	if err != nil || v <= 0 {
		return time.Time{}
	}
	if v > 1e12 {
		return time.UnixMilli(v)
	}
	return time.Unix(v, 0)
}
