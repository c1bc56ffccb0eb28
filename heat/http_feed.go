package heat

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"sync"
	"time"
)

const (
	// DefaultFetchTimeout is the default HTTP request timeout for snapshot fetches.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of retry attempts.
	DefaultMaxRetries = 3

	// defaultBaseBackoff is the base delay for exponential backoff.
	defaultBaseBackoff = 500 * time.Millisecond

	// maxResponseBytes limits the response body to 10 MB to prevent OOM.
	maxResponseBytes = 10 << 20
)

// FetchOption configures FetchSnapshot behavior.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	client      *http.Client
}

func defaultFetchConfig() fetchConfig {
	return fetchConfig{
		timeout:     DefaultFetchTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.timeout = d
	}
}

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) FetchOption {
	return func(c *fetchConfig) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the base delay for exponential backoff between retries.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.baseBackoff = d
	}
}

// WithHTTPClient overrides the default HTTP client (useful for testing).
func WithHTTPClient(client *http.Client) FetchOption {
	return func(c *fetchConfig) {
		c.client = client
	}
}

// FetchSnapshot fetches the current snapshot from url. Transient failures
// are retried with exponential backoff; parse errors are not, since the
// payload will not improve on a retry.
func FetchSnapshot(ctx context.Context, url string, opts ...FetchOption) (Snapshot, error) {
	if url == "" {
		return nil, fmt.Errorf("fetch snapshot: URL is empty")
	}

	cfg := defaultFetchConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}

	var lastErr error
	for attempt := 0; attempt < cfg.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := cfg.baseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("fetch snapshot: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		body, err := doFetch(ctx, client, url)
		if err != nil {
			lastErr = err
			continue
		}

		snap, err := DecodeSnapshot(body)
		if err != nil {
			return nil, fmt.Errorf("fetch snapshot: %w", err)
		}
		return snap, nil
	}

	return nil, fmt.Errorf("fetch snapshot: all %d attempts failed: %w", cfg.maxRetries, lastErr)
}

// doFetch performs a single HTTP GET and returns the response body bytes.
func doFetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP GET %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}

	return body, nil
}

// HTTPFeed is the polling fallback SnapshotSource for backends that only
// expose the snapshot over plain HTTP. Each subscription runs its own poll
// loop against the subscribed URL.
type HTTPFeed struct {
	interval time.Duration
	cfg      fetchConfig
}

// NewHTTPFeed creates a poller with the given interval between fetches.
func NewHTTPFeed(interval time.Duration, opts ...FetchOption) *HTTPFeed {
	if interval <= 0 {
		interval = DefaultPollSeconds * time.Second
	}
	cfg := defaultFetchConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &HTTPFeed{interval: interval, cfg: cfg}
}

// Subscribe starts polling the URL. The first successful fetch is
// delivered immediately; after that a snapshot is delivered only when the
// payload differs from the last delivery, approximating the push feed's
// on-change semantics.
func (f *HTTPFeed) Subscribe(path string, fn SnapshotHandler) (Subscription, error) {
	if path == "" {
		return nil, fmt.Errorf("url is required")
	}
	if fn == nil {
		return nil, fmt.Errorf("handler is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &httpSubscription{cancel: cancel, done: make(chan struct{})}
	go f.poll(ctx, path, fn, sub)
	return sub, nil
}

func (f *HTTPFeed) poll(ctx context.Context, url string, fn SnapshotHandler, sub *httpSubscription) {
	defer close(sub.done)

	client := f.cfg.client
	if client == nil {
		client = &http.Client{Timeout: f.cfg.timeout}
	}

	var lastBody []byte
	deliver := func() {
		body, err := doFetch(ctx, client, url)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[FEED] polling %s: %v", url, err)
			}
			return
		}
		if lastBody != nil && bytes.Equal(body, lastBody) {
			return
		}
		snap, err := DecodeSnapshot(body)
		if err != nil {
			log.Printf("[FEED] decoding poll response from %s: %v", url, err)
			return
		}
		lastBody = body
		fn(snap)
	}

	deliver()

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deliver()
		}
	}
}

// httpSubscription stops one poll loop.
type httpSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Cancel stops polling and waits for the loop to exit, so no delivery can
// follow Cancel returning.
func (s *httpSubscription) Cancel() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}
