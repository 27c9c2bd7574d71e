// Package fetch resolves image locators (http(s) URLs, s3:// objects, local paths) to decoded images.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/vismatch/internal/config"
	"github.com/hyperjump/vismatch/internal/models"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultMaxBytes   = 20 << 20
	defaultBackoff    = 250 * time.Millisecond
	defaultMaxBackoff = 5 * time.Second
)

// Fetcher resolves image locators to decoded images. All failures are ErrFetch.
type Fetcher struct {
	client      *http.Client
	objects     ObjectGetter
	userAgent   string
	timeout     time.Duration
	retries     int
	maxBytes    int64
	backoffBase time.Duration
	backoffMax  time.Duration
	logger      *zap.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger for the fetcher.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithObjectGetter enables s3:// locators.
func WithObjectGetter(g ObjectGetter) Option {
	return func(f *Fetcher) {
		f.objects = g
	}
}

// WithBackoff sets the base and maximum delay between HTTP retries.
func WithBackoff(base, max time.Duration) Option {
	return func(f *Fetcher) {
		f.backoffBase = base
		f.backoffMax = max
	}
}

// New creates a Fetcher from ingest settings.
func New(cfg *config.IngestConfig, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:      &http.Client{},
		userAgent:   cfg.UserAgent,
		timeout:     cfg.FetchTimeout,
		retries:     cfg.Retries,
		maxBytes:    cfg.MaxImageBytes,
		backoffBase: defaultBackoff,
		backoffMax:  defaultMaxBackoff,
	}
	if f.timeout <= 0 {
		f.timeout = defaultTimeout
	}
	if f.maxBytes <= 0 {
		f.maxBytes = defaultMaxBytes
	}
	if f.retries < 0 {
		f.retries = 0
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch resolves locator and decodes the image it points to.
func (f *Fetcher) Fetch(ctx context.Context, locator string) (image.Image, error) {
	data, err := f.FetchBytes(ctx, locator)
	if err != nil {
		return nil, err
	}
	img, _, err := Decode(data)
	if err != nil {
		return nil, models.FetchError("fetch "+locator, err)
	}
	return img, nil
}

// FetchBytes resolves locator and returns the raw bytes, at most the configured size cap.
func (f *Fetcher) FetchBytes(ctx context.Context, locator string) ([]byte, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return nil, models.FetchError("fetch", errors.New("empty image locator"))
	}

	u, err := url.Parse(locator)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Bare paths, including Windows drive letters that parse as a one-letter scheme.
		return f.fetchFile(locator)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return f.fetchHTTP(ctx, locator)
	case "s3":
		return f.fetchObject(ctx, u)
	case "file":
		return f.fetchFile(u.Path)
	default:
		return nil, models.FetchError("fetch "+locator, fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
}

func (f *Fetcher) fetchFile(path string) ([]byte, error) {
	op := "fetch " + path
	file, err := os.Open(path)
	if err != nil {
		return nil, models.FetchError(op, err)
	}
	defer file.Close()

	data, err := readLimited(file, f.maxBytes)
	if err != nil {
		return nil, models.FetchError(op, err)
	}
	return data, nil
}

func (f *Fetcher) fetchObject(ctx context.Context, u *url.URL) ([]byte, error) {
	op := "fetch " + u.String()
	if f.objects == nil {
		return nil, models.FetchError(op, errors.New("object store not configured"))
	}
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, models.FetchError(op, errors.New("s3 locator needs bucket and key"))
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	obj, err := f.objects.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, models.FetchError(op, err)
	}
	defer obj.Close()

	data, err := readLimited(obj, f.maxBytes)
	if err != nil {
		return nil, models.FetchError(op, err)
	}
	return data, nil
}

// statusError is a non-2xx HTTP response.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.code, http.StatusText(e.code))
}

func (e *statusError) retryable() bool {
	return e.code >= 500 || e.code == http.StatusTooManyRequests
}

func (f *Fetcher) fetchHTTP(ctx context.Context, locator string) ([]byte, error) {
	op := "fetch " + locator
	var lastErr error
	for attempt := 0; attempt <= f.retries; attempt++ {
		if attempt > 0 {
			delay := backoff(f.backoffBase, f.backoffMax, attempt-1)
			if f.logger != nil {
				f.logger.Debug("retrying image fetch",
					zap.String("url", locator),
					zap.Int("attempt", attempt),
					zap.Duration("delay", delay),
					zap.Error(lastErr))
			}
			select {
			case <-ctx.Done():
				return nil, models.FetchError(op, ctx.Err())
			case <-time.After(delay):
			}
		}

		data, err := f.getOnce(ctx, locator)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !f.shouldRetry(ctx, err) {
			break
		}
	}
	return nil, models.FetchError(op, lastErr)
}

func (f *Fetcher) shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.retryable()
	}
	var le *limitError
	return !errors.As(err, &le)
}

// limitError is a response body over the size cap. It is never retried.
type limitError struct {
	max int64
}

func (e *limitError) Error() string {
	return fmt.Sprintf("image larger than %d bytes", e.max)
}

func (f *Fetcher) getOnce(ctx context.Context, locator string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, err
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &statusError{code: resp.StatusCode}
	}
	if resp.ContentLength > f.maxBytes {
		return nil, &limitError{max: f.maxBytes}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > f.maxBytes {
		return nil, &limitError{max: f.maxBytes}
	}
	return data, nil
}
