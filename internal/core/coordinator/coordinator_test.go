package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cheggaaa/pb/v3"

	"zvuk-dl/internal/config"
	"zvuk-dl/internal/core/cache"
	"zvuk-dl/internal/core/downloader"
	"zvuk-dl/internal/logger"
	"zvuk-dl/internal/shared"
)

type fakeResolver struct {
	authCalls    int32
	resolveCalls int32
	searchCalls  int32

	authErr    error
	resolveErr error
	searchErr  error

	searchID string
	streams  map[shared.Quality]shared.StreamDescriptor
}

func (f *fakeResolver) Authenticate(ctx context.Context, cookie string) (*shared.Session, error) {
	atomic.AddInt32(&f.authCalls, 1)
	if f.authErr != nil {
		return nil, f.authErr
	}
	return &shared.Session{Cookie: cookie, UserID: 1}, nil
}

func (f *fakeResolver) ResolveTrack(ctx context.Context, session *shared.Session, trackID string) (*shared.TrackStreamInfo, error) {
	atomic.AddInt32(&f.resolveCalls, 1)
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return &shared.TrackStreamInfo{TrackID: trackID, Streams: f.streams}, nil
}

func (f *fakeResolver) SearchTrack(ctx context.Context, session *shared.Session, title string) (string, error) {
	atomic.AddInt32(&f.searchCalls, 1)
	if f.searchErr != nil {
		return "", f.searchErr
	}
	return f.searchID, nil
}

type fakeFetcher struct {
	calls   int32
	err     error
	payload []byte
	ext     string

	// block, when set, stalls Fetch until it is closed.
	block chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, desc shared.StreamDescriptor, tmpPath string, bar *pb.ProgressBar) (*downloader.Result, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	if err := os.WriteFile(tmpPath, f.payload, 0o644); err != nil {
		return nil, err
	}
	ext := f.ext
	if ext == "" {
		ext = "flac"
	}
	return &downloader.Result{BytesWritten: int64(len(f.payload)), Extension: ext}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		CacheDir:               t.TempDir(),
		PipelineTimeout:        time.Minute,
		MaxConcurrentDownloads: 4,
	}
}

func bestStreams() map[shared.Quality]shared.StreamDescriptor {
	return map[shared.Quality]shared.StreamDescriptor{
		shared.QualityBest: {URL: "https://cdn/high", Extension: "flac"},
		shared.QualityMid:  {URL: "https://cdn/mid", Extension: "mp3"},
	}
}

func request(hash string) *shared.DownloadRequest {
	return &shared.DownloadRequest{ID: "123", Hash: hash, AuthCookie: "cookie"}
}

func newTestCoordinator(cfg *config.Config, resolver *fakeResolver, fetcher *fakeFetcher) *Coordinator {
	return New(cfg, resolver, fetcher, cache.NewStore(cfg.CacheDir), logger.NewNop())
}

func TestDownloadCommitsAndPopulatesCache(t *testing.T) {
	cfg := testConfig(t)
	resolver := &fakeResolver{streams: bestStreams()}
	fetcher := &fakeFetcher{payload: []byte("audio bytes")}
	c := newTestCoordinator(cfg, resolver, fetcher)

	entry, err := c.Download(context.Background(), request("abc"), nil)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if entry.FromCache {
		t.Error("fresh download marked FromCache")
	}
	if entry.Quality != shared.QualityBest {
		t.Errorf("quality = %v, want best", entry.Quality)
	}
	if want := filepath.Join(cfg.CacheDir, "abc", "zvuk", "best.flac"); entry.Path != want {
		t.Errorf("path = %q, want %q", entry.Path, want)
	}
	data, err := os.ReadFile(entry.Path)
	if err != nil {
		t.Fatalf("committed file unreadable: %v", err)
	}
	if string(data) != "audio bytes" {
		t.Errorf("committed content = %q", data)
	}
}

func TestDownloadCacheHitSkipsUpstream(t *testing.T) {
	cfg := testConfig(t)
	resolver := &fakeResolver{streams: bestStreams()}
	fetcher := &fakeFetcher{payload: []byte("audio bytes")}
	c := newTestCoordinator(cfg, resolver, fetcher)

	if _, err := c.Download(context.Background(), request("abc"), nil); err != nil {
		t.Fatalf("first Download failed: %v", err)
	}

	entry, err := c.Download(context.Background(), request("abc"), nil)
	if err != nil {
		t.Fatalf("second Download failed: %v", err)
	}
	if !entry.FromCache {
		t.Error("cache hit not marked FromCache")
	}
	if got := atomic.LoadInt32(&resolver.authCalls); got != 1 {
		t.Errorf("authenticate called %d times, want 1", got)
	}
	if got := atomic.LoadInt32(&fetcher.calls); got != 1 {
		t.Errorf("fetch called %d times, want 1", got)
	}
}

func TestDownloadDeduplicatesConcurrentRequests(t *testing.T) {
	cfg := testConfig(t)
	resolver := &fakeResolver{streams: bestStreams()}
	fetcher := &fakeFetcher{payload: []byte("audio bytes"), block: make(chan struct{})}
	c := newTestCoordinator(cfg, resolver, fetcher)

	const n = 8
	var (
		entered sync.WaitGroup
		done    sync.WaitGroup
		mu      sync.Mutex
		paths   = map[string]bool{}
		hits    int
	)
	entered.Add(n)
	done.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer done.Done()
			entered.Done()
			entry, err := c.Download(context.Background(), request("abc"), nil)
			if err != nil {
				t.Errorf("Download failed: %v", err)
				return
			}
			mu.Lock()
			paths[entry.Path] = true
			if entry.FromCache {
				hits++
			}
			mu.Unlock()
		}()
	}

	// Release the blocked fetch once every caller is at least launched;
	// the stalled download keeps the flight open for joiners.
	entered.Wait()
	time.Sleep(50 * time.Millisecond)
	close(fetcher.block)
	done.Wait()

	if got := atomic.LoadInt32(&fetcher.calls); got != 1 {
		t.Errorf("fetch called %d times for one hash, want 1", got)
	}
	if got := atomic.LoadInt32(&resolver.resolveCalls); got != 1 {
		t.Errorf("resolve called %d times for one hash, want 1", got)
	}
	if len(paths) != 1 {
		t.Errorf("callers observed %d distinct paths: %v", len(paths), paths)
	}
	if hits != n-1 {
		t.Errorf("%d callers saw a join/cache hit, want %d", hits, n-1)
	}
}

func TestDownloadRejectsMalformedRequest(t *testing.T) {
	cfg := testConfig(t)
	resolver := &fakeResolver{streams: bestStreams()}
	fetcher := &fakeFetcher{payload: []byte("x")}
	c := newTestCoordinator(cfg, resolver, fetcher)

	cases := []*shared.DownloadRequest{
		{Hash: "abc", AuthCookie: "cookie"},                         // neither id nor title
		{ID: "1", Title: "song", Hash: "abc", AuthCookie: "cookie"}, // both
		{ID: "x1", Hash: "abc", AuthCookie: "cookie"},               // non-numeric id
		{ID: "1", Hash: "abc"},                                      // no cookie
	}
	for i, req := range cases {
		if _, err := c.Download(context.Background(), req, nil); !errors.Is(err, shared.ErrBadRequest) {
			t.Errorf("case %d: got %v, want ErrBadRequest", i, err)
		}
	}

	if _, err := c.Download(context.Background(), &shared.DownloadRequest{ID: "1", Hash: "../x", AuthCookie: "c"}, nil); !errors.Is(err, shared.ErrInvalidHash) {
		t.Errorf("traversal hash: got %v, want ErrInvalidHash", err)
	}

	if atomic.LoadInt32(&resolver.authCalls) != 0 || atomic.LoadInt32(&fetcher.calls) != 0 {
		t.Error("malformed requests reached the pipeline")
	}
	entries, _ := os.ReadDir(cfg.CacheDir)
	if len(entries) != 0 {
		t.Errorf("malformed requests wrote to the cache: %v", entries)
	}
}

func TestDownloadFallsBackToMid(t *testing.T) {
	cfg := testConfig(t)
	resolver := &fakeResolver{streams: map[shared.Quality]shared.StreamDescriptor{
		shared.QualityMid: {URL: "https://cdn/mid", Extension: "mp3"},
	}}
	fetcher := &fakeFetcher{payload: []byte("mid audio"), ext: "mp3"}
	c := newTestCoordinator(cfg, resolver, fetcher)

	entry, err := c.Download(context.Background(), request("abc"), nil)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if entry.Quality != shared.QualityMid {
		t.Errorf("quality = %v, want mid", entry.Quality)
	}
	if filepath.Base(entry.Path) != "mid.mp3" {
		t.Errorf("path = %q", entry.Path)
	}
}

func TestDownloadNoPlayableStream(t *testing.T) {
	cfg := testConfig(t)
	resolver := &fakeResolver{streams: map[shared.Quality]shared.StreamDescriptor{}}
	fetcher := &fakeFetcher{}
	c := newTestCoordinator(cfg, resolver, fetcher)

	_, err := c.Download(context.Background(), request("abc"), nil)
	if !errors.Is(err, shared.ErrNoPlayableStream) {
		t.Fatalf("got %v, want ErrNoPlayableStream", err)
	}
	if atomic.LoadInt32(&fetcher.calls) != 0 {
		t.Error("fetch attempted without a playable stream")
	}
}

func TestDownloadByTitle(t *testing.T) {
	cfg := testConfig(t)
	resolver := &fakeResolver{streams: bestStreams(), searchID: "777"}
	fetcher := &fakeFetcher{payload: []byte("audio")}
	c := newTestCoordinator(cfg, resolver, fetcher)

	req := &shared.DownloadRequest{Title: "some song", Hash: "abc", AuthCookie: "cookie"}
	if _, err := c.Download(context.Background(), req, nil); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if got := atomic.LoadInt32(&resolver.searchCalls); got != 1 {
		t.Errorf("search called %d times, want 1", got)
	}
}

func TestDownloadSearchMiss(t *testing.T) {
	cfg := testConfig(t)
	resolver := &fakeResolver{searchErr: fmt.Errorf("no match: %w", shared.ErrTrackNotFound)}
	c := newTestCoordinator(cfg, resolver, &fakeFetcher{})

	req := &shared.DownloadRequest{Title: "unknown song", Hash: "abc", AuthCookie: "cookie"}
	_, err := c.Download(context.Background(), req, nil)
	if !errors.Is(err, shared.ErrTrackNotFound) {
		t.Fatalf("got %v, want ErrTrackNotFound", err)
	}
	if atomic.LoadInt32(&resolver.resolveCalls) != 0 {
		t.Error("resolve attempted after failed search")
	}
}

func TestDownloadAuthFailurePropagates(t *testing.T) {
	cfg := testConfig(t)
	resolver := &fakeResolver{authErr: fmt.Errorf("stale cookie: %w", shared.ErrAuthInvalid)}
	c := newTestCoordinator(cfg, resolver, &fakeFetcher{})

	_, err := c.Download(context.Background(), request("abc"), nil)
	if !errors.Is(err, shared.ErrAuthInvalid) {
		t.Fatalf("got %v, want ErrAuthInvalid", err)
	}
}

func TestDownloadFetchFailureLeavesNoArtifact(t *testing.T) {
	cfg := testConfig(t)
	resolver := &fakeResolver{streams: bestStreams()}
	fetcher := &fakeFetcher{err: fmt.Errorf("stream dropped: %w", shared.ErrDownloadInterrupted)}
	c := newTestCoordinator(cfg, resolver, fetcher)

	_, err := c.Download(context.Background(), request("abc"), nil)
	if !errors.Is(err, shared.ErrDownloadInterrupted) {
		t.Fatalf("got %v, want ErrDownloadInterrupted", err)
	}
	if _, ok, _ := cache.NewStore(cfg.CacheDir).Lookup("abc", shared.QualityBest, shared.QualityMid); ok {
		t.Error("failed download left a committed entry")
	}
}

func TestDownloadRetriesTransientFailures(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxRetryAttempts = 1 // one attempt, no retry backoff in tests
	resolver := &fakeResolver{streams: bestStreams()}
	fetcher := &fakeFetcher{err: fmt.Errorf("stream dropped: %w", shared.ErrDownloadInterrupted)}
	c := newTestCoordinator(cfg, resolver, fetcher)

	if _, err := c.Download(context.Background(), request("abc"), nil); err == nil {
		t.Fatal("expected failure")
	}
	if got := atomic.LoadInt32(&fetcher.calls); got != 1 {
		t.Errorf("fetch called %d times with a single-attempt policy, want 1", got)
	}
}
