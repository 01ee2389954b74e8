// Package httpclient implements the retrying download client used for every
// portal request. Transport failures are retried with capped exponential
// backoff and jitter; HTTP status errors are returned immediately because the
// portal answers 404 for retired archives and 403 for throttled clients.
package httpclient

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/openparl/parlingest/internal/ingest"
	"github.com/openparl/parlingest/internal/metrics"
)

// ErrBodyTooLarge marks a response that exceeded the configured body guard.
// Oversized bodies are not retried: the file will not shrink.
var ErrBodyTooLarge = errors.New("response body too large")

// Waiter blocks until the caller may contact the URL's host.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Options controls retry and transport behavior.
type Options struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the exponential delay growth.
	MaxBackoff time.Duration
	// BackoffMultiplier scales the delay between consecutive retries.
	BackoffMultiplier float64
	// Timeout bounds each individual attempt, not the whole call.
	Timeout time.Duration
	// UserAgent is sent on every request.
	UserAgent string
	// MaxBodyBytes bounds how much of a response body is read.
	MaxBodyBytes int64
}

// DefaultOptions returns the retry settings used when config leaves them
// unset.
func DefaultOptions() Options {
	return Options{
		MaxRetries:        5,
		InitialBackoff:    time.Second,
		MaxBackoff:        2 * time.Minute,
		BackoffMultiplier: 2.0,
		Timeout:           30 * time.Second,
		UserAgent:         "parlingest-bot/0.1",
		MaxBodyBytes:      256 << 20,
	}
}

// Client is the retrying HTTP client. The zero value is not usable; construct
// with New.
type Client struct {
	http    *http.Client
	opts    Options
	limiter Waiter
	logger  *zap.Logger

	// sleep and jitter are injectable so tests can observe the backoff
	// sequence without waiting for it.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// New constructs a Client. A nil limiter disables politeness waits; a nil
// logger silences the client.
func New(opts Options, limiter Waiter, logger *zap.Logger) *Client {
	def := DefaultOptions()
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = def.InitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = def.MaxBackoff
	}
	if opts.BackoffMultiplier < 1 {
		opts.BackoffMultiplier = def.BackoffMultiplier
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = def.MaxBodyBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:    &http.Client{Transport: newTransport()},
		opts:    opts,
		limiter: limiter,
		logger:  logger,
		sleep:   waitTimer,
		jitter:  cryptoUnit,
	}
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

// Get downloads the URL and returns the body. The backoff sequence restarts
// on every call: retries within one call sleep 1x, 2x, 4x... the initial
// delay, and the next call starts over at 1x.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt - 1)
			metrics.ObserveRetry(rawURL, delay)
			c.logger.Warn("retrying download",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, ingest.NewError(ingest.KindNetwork, "backoff wait", rawURL, err)
			}
		}

		body, err := c.fetchOnce(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !c.retryable(ctx, err) {
			break
		}
	}
	return nil, lastErr
}

// Head probes the URL and reports response metadata. It never errors: any
// failure yields ok=false, and the caller proceeds as if the probe had not
// happened.
func (c *Client) Head(ctx context.Context, rawURL string) (ingest.HeadProbe, bool) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rawURL); err != nil {
			return ingest.HeadProbe{}, false
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodHead, rawURL, nil)
	if err != nil {
		return ingest.HeadProbe{}, false
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return ingest.HeadProbe{}, false
	}
	defer resp.Body.Close() //nolint:errcheck // nothing useful to do on close failure

	probe := ingest.HeadProbe{
		StatusCode:    resp.StatusCode,
		ContentLength: resp.ContentLength,
		ContentType:   resp.Header.Get("Content-Type"),
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, perr := http.ParseTime(lm); perr == nil {
			probe.LastModified = t
		}
	}
	return probe, true
}

func (c *Client) fetchOnce(ctx context.Context, rawURL string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rawURL); err != nil {
			return nil, ingest.NewError(ingest.KindNetwork, "rate limit", rawURL, err)
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, ingest.NewError(ingest.KindNetwork, "build request", rawURL, err)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveDownload(rawURL, "error", 0)
		return nil, ingest.NewError(ingest.KindNetwork, "download", rawURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck // nothing useful to do on close failure

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		metrics.ObserveDownload(rawURL, strconv.Itoa(resp.StatusCode), 0)
		return nil, ingest.NewError(ingest.KindHTTPStatus, "download", rawURL,
			&ingest.StatusError{Code: resp.StatusCode, URL: rawURL})
	}

	limit := c.opts.MaxBodyBytes
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		metrics.ObserveDownload(rawURL, "error", 0)
		return nil, ingest.NewError(ingest.KindNetwork, "read body", rawURL, err)
	}
	if int64(len(body)) > limit {
		metrics.ObserveDownload(rawURL, "too_large", 0)
		return nil, ingest.NewError(ingest.KindNetwork, "read body", rawURL,
			fmt.Errorf("%w: exceeds %d bytes", ErrBodyTooLarge, limit))
	}

	metrics.ObserveDownload(rawURL, "ok", int64(len(body)))
	return body, nil
}

// retryable reports whether another attempt may help. Status errors and
// oversized bodies are permanent; everything else counts as transport noise
// unless the caller's context has ended.
func (c *Client) retryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, ErrBodyTooLarge) {
		return false
	}
	if _, ok := ingest.IsStatusError(err); ok {
		return false
	}
	return ingest.KindOf(err) == ingest.KindNetwork
}

// backoff computes the delay before retry number retry (0-based). The
// exponential base is capped at MaxBackoff first, then scaled by a jitter
// factor in [0.75, 1.25).
func (c *Client) backoff(retry int) time.Duration {
	base := float64(c.opts.InitialBackoff) * math.Pow(c.opts.BackoffMultiplier, float64(retry))
	if maxDelay := float64(c.opts.MaxBackoff); base > maxDelay {
		base = maxDelay
	}
	factor := 0.75 + 0.5*c.jitter()
	return time.Duration(base * factor)
}

func waitTimer(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func cryptoUnit() float64 {
	const resolution = 1 << 20
	n, err := rand.Int(rand.Reader, big.NewInt(resolution))
	if err != nil {
		return 0.5
	}
	return float64(n.Int64()) / resolution
}
