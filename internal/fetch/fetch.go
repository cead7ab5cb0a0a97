// Package fetch implements the remote HTTP fetcher used to pull directory
// listings, file bodies and HEAD size probes from the mirrored site. It
// bounds concurrent outbound requests with a weighted semaphore (the "fetch
// gate"), grounded on example-main.py's fetch_limiter = asyncio.Semaphore(80)
// and implemented with golang.org/x/sync/semaphore the way rclone bounds
// concurrent backend operations, and it tracks in-flight requests in an
// instrumentation map so a periodic reporter can surface what the
// filesystem is currently waiting on.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ash2txt/htreefs/internal/logger"
)

// Config controls the fetcher's concurrency and transport behavior.
type Config struct {
	// MaxConcurrentFetches bounds the number of outbound HTTP requests the
	// fetcher allows in flight at once.
	MaxConcurrentFetches int64
	// MaxIdleConns and MaxIdleConnsPerHost tune the shared transport's
	// connection pool.
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	// RequestTimeout bounds a single HTTP round trip.
	RequestTimeout time.Duration
}

// DefaultConfig returns the fetcher configuration used unless overridden by
// flags or config file.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentFetches: 20,
		MaxIdleConns:         100,
		MaxIdleConnsPerHost:  100,
		RequestTimeout:       30 * time.Second,
	}
}

// inflight records one currently-running request for instrumentation.
type inflight struct {
	url       string
	startedAt time.Time
}

// Fetcher issues bounded, instrumented HTTP requests against a base URL.
type Fetcher struct {
	client  *http.Client
	gate    *semaphore.Weighted
	baseURL string

	mu   sync.Mutex
	inFl map[int64]inflight
	seq  int64
}

// New returns a Fetcher rooted at baseURL (e.g. "https://example.org/data/").
func New(baseURL string, cfg Config) *Fetcher {
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
	}
	return &Fetcher{
		client:  &http.Client{Transport: transport, Timeout: cfg.RequestTimeout},
		gate:    semaphore.NewWeighted(cfg.MaxConcurrentFetches),
		baseURL: baseURL,
		inFl:    make(map[int64]inflight),
	}
}

func (f *Fetcher) track(url string) func() {
	f.mu.Lock()
	f.seq++
	id := f.seq
	f.inFl[id] = inflight{url: url, startedAt: time.Now()}
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.inFl, id)
		f.mu.Unlock()
	}
}

// InFlight returns a snapshot of currently in-flight request URLs and how
// long each has been running, for the periodic fetch reporter.
func (f *Fetcher) InFlight() map[string]time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	out := make(map[string]time.Duration, len(f.inFl))
	for _, r := range f.inFl {
		out[r.url] = now.Sub(r.startedAt)
	}
	return out
}

// ReportInFlight logs, at DEBUG, the currently in-flight requests. It is
// grounded on example-main.py's forever_show_fetching 10-second reporter;
// no caller in this module schedules it, so it runs only when called.
func (f *Fetcher) ReportInFlight(log *logger.Logger) {
	snap := f.InFlight()
	if len(snap) == 0 {
		return
	}
	log.Debug("fetch: in-flight requests", "count", len(snap))
	for url, dur := range snap {
		log.Debug("fetch: in-flight", "url", url, "duration", dur)
	}
}

func (f *Fetcher) acquire(ctx context.Context) error {
	return f.gate.Acquire(ctx, 1)
}

func (f *Fetcher) release() {
	f.gate.Release(1)
}

// gatedBody wraps a response body so the fetch-gate permit acquired for the
// request is only released once the body is fully consumed and closed --
// not merely once headers have arrived. Without this, a streamed multi-
// hundred-MB body download would run entirely outside the gate, letting
// far more than MaxConcurrentFetches transfers run concurrently.
type gatedBody struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (b *gatedBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}

func (f *Fetcher) do(ctx context.Context, method, url string) (*http.Response, error) {
	if err := f.acquire(ctx); err != nil {
		return nil, fmt.Errorf("fetch: acquiring gate for %s %s: %w", method, url, err)
	}
	untrack := f.track(url)
	release := func() {
		f.release()
		untrack()
	}

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		release()
		return nil, fmt.Errorf("fetch: building request for %s: %w", url, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		release()
		return nil, fmt.Errorf("fetch: requesting %s: %w", url, err)
	}
	resp.Body = &gatedBody{ReadCloser: resp.Body, release: release}
	return resp, nil
}

// FetchText retrieves the full body of url as a string, used for directory
// listing HTML pages.
func (f *Fetcher) FetchText(ctx context.Context, url string) (string, error) {
	resp, err := f.do(ctx, http.MethodGet, url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch: %s returned status %s", url, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("fetch: reading body of %s: %w", url, err)
	}
	return string(body), nil
}

// FetchStream issues a GET for url and returns the live response body for
// the caller to stream and close, used to pull a file's bytes into its
// on-disk cache slot without buffering the whole body in memory.
func (f *Fetcher) FetchStream(ctx context.Context, url string) (io.ReadCloser, error) {
	resp, err := f.do(ctx, http.MethodGet, url)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch: %s returned status %s", url, resp.Status)
	}
	return resp.Body, nil
}

// FetchHeaders issues a HEAD request for url and returns its response
// headers, used to resolve a file's exact Content-Length without
// downloading its body.
func (f *Fetcher) FetchHeaders(ctx context.Context, url string) (http.Header, error) {
	resp, err := f.do(ctx, http.MethodHead, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch: HEAD %s returned status %s", url, resp.Status)
	}
	return resp.Header, nil
}
