package client

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/ytget/ytcipher/errs"
	"github.com/ytget/ytcipher/internal/logger"
)

const (
	defaultTimeout = 30 * time.Second
	defaultRetries = 1

	userAgentValue      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	acceptEncodingValue = "gzip, deflate, br"
	initialBackoff      = 200 * time.Millisecond
	maxBackoff          = 3 * time.Second
	successMinCode      = http.StatusOK                  // 200
	clientErrorMinCode  = http.StatusBadRequest          // 400
	retryableMinCode    = http.StatusInternalServerError // 500
	maxBodySize         = 32 << 20
)

// ErrBodyTooLarge is returned when a decoded body exceeds the read limit.
var ErrBodyTooLarge = errors.New("response body too large")

// defaultTransport is a tuned HTTP transport reused across clients.
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ResponseHeaderTimeout: 10 * time.Second,
	ForceAttemptHTTP2:     true,
	// Bodies are decoded in FetchText so brotli is covered too.
	DisableCompression: true,
	ReadBufferSize:     16 * 1024,
	WriteBufferSize:    16 * 1024,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// Config holds optional client parameters. Zero values use defaults.
type Config struct {
	Timeout   time.Duration
	Retries   int
	UserAgent string
	ProxyURL  string
}

// Client wraps http.Client with retry/backoff and default headers.
type Client struct {
	HTTPClient *http.Client
	Retries    int
	UserAgent  string
}

// StatusError is returned for a response outside the 2xx range.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Is maps 429 to errs.ErrRateLimited.
func (e *StatusError) Is(target error) bool {
	return target == errs.ErrRateLimited && e.StatusCode == http.StatusTooManyRequests
}

// New creates a new Client with a tuned Transport, default timeout, and retries.
func New() *Client {
	return &Client{
		HTTPClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: defaultTransport,
		},
		Retries:   defaultRetries,
		UserAgent: userAgentValue,
	}
}

// NewWith creates a new client with provided config. Zero values use defaults.
func NewWith(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = userAgentValue
	}

	tr := defaultTransport.Clone()
	if cfg.ProxyURL != "" {
		if proxyFunc, err := proxyFromURLString(cfg.ProxyURL); err == nil {
			tr.Proxy = proxyFunc
		} else {
			logger.WithComponent(logger.ComponentClient).Warn("ignoring invalid proxy url", map[string]any{"proxy": cfg.ProxyURL, "error": err.Error()})
		}
	}

	return &Client{
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: tr,
		},
		Retries:   retries,
		UserAgent: ua,
	}
}

// Get performs a GET request, retrying HTTP 5xx and network failures with
// exponential backoff. Retries counts total attempts. Waiting stops early when
// ctx is done.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	log := logger.WithComponent(logger.ComponentClient)
	ua := c.UserAgent
	if ua == "" {
		ua = userAgentValue
	}
	retries := c.Retries
	if retries < 1 {
		retries = 1
	}
	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}

	var (
		resp *http.Response
		err  error
	)
	backoff := initialBackoff
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		req, rerr := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if rerr != nil {
			return nil, rerr
		}
		req.Header.Set("User-Agent", ua)
		req.Header.Set("Accept-Encoding", acceptEncodingValue)

		resp, err = hc.Do(req)
		if err == nil && resp.StatusCode >= successMinCode && resp.StatusCode < retryableMinCode {
			return resp, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Debug("request failed", map[string]any{"url": rawURL, "attempt": attempt + 1, "error": err.Error()})
			continue
		}
		log.Debug("retryable status", map[string]any{"url": rawURL, "attempt": attempt + 1, "status": resp.StatusCode})
		if attempt < retries-1 {
			_ = resp.Body.Close()
		}
	}
	return resp, err
}

// FetchText downloads rawURL and returns its decoded body. Any status outside
// 2xx is a *StatusError. A body over the read limit is ErrBodyTooLarge, never
// a truncated string.
func (c *Client) FetchText(ctx context.Context, rawURL string) (string, error) {
	resp, err := c.Get(ctx, rawURL)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < successMinCode || resp.StatusCode >= clientErrorMinCode {
		return "", &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	reader, err := decodeBody(resp)
	if err != nil {
		return "", err
	}
	defer func() { _ = reader.Close() }()

	body, err := io.ReadAll(io.LimitReader(reader, maxBodySize+1))
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	if len(body) > maxBodySize {
		return "", fmt.Errorf("GET %s: %w (limit %d bytes)", rawURL, ErrBodyTooLarge, maxBodySize)
	}
	logger.WithComponent(logger.ComponentClient).Debug("fetched", map[string]any{
		"url":      rawURL,
		"bytes":    len(body),
		"encoding": resp.Header.Get("Content-Encoding"),
	})
	return string(body), nil
}

func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
		return io.NopCloser(resp.Body), nil
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		return gz, nil
	case "br":
		return io.NopCloser(brotli.NewReader(resp.Body)), nil
	case "deflate":
		return flate.NewReader(resp.Body), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}
}

// proxyFromURLString parses a proxy URL and returns a Proxy function.
func proxyFromURLString(raw string) (func(*http.Request) (*url.URL, error), error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	return http.ProxyURL(u), nil
}
