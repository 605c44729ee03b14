// Package fetch retrieves remote and local resources for megacache.Fetch.
//
// http(s) URLs are fetched with hashicorp/go-retryablehttp; anything else
// (a plain path or a file:// URL) is read from the local filesystem.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const defaultMaxBytes = 32 << 20

var ErrFilesDisabled = errors.New("fetch: local files are disabled")

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: %s returned %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

type Config struct {
	RetryMax     int           // 0 => no retries
	RetryWaitMin time.Duration // 0 => retryablehttp default
	RetryWaitMax time.Duration
	Timeout      time.Duration // per attempt; 0 => 30s
	MaxBytes     int64         // 0 => 32MiB
	DisableFiles bool
	// Logger receives retry diagnostics; nil silences them.
	Logger retryablehttp.LeveledLogger
	// HTTPClient overrides the transport client (tests).
	HTTPClient *http.Client
}

type Client struct {
	hc       *retryablehttp.Client
	maxBytes int64
	files    bool
}

func New(cfg Config) *Client {
	hc := retryablehttp.NewClient()
	hc.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		hc.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		hc.RetryWaitMax = cfg.RetryWaitMax
	}
	if cfg.HTTPClient != nil {
		hc.HTTPClient = cfg.HTTPClient
	}
	hc.HTTPClient.Timeout = cfg.Timeout
	if hc.HTTPClient.Timeout == 0 {
		hc.HTTPClient.Timeout = 30 * time.Second
	}
	if cfg.Logger != nil {
		hc.Logger = cfg.Logger
	} else {
		hc.Logger = nil
	}

	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Client{hc: hc, maxBytes: maxBytes, files: !cfg.DisableFiles}
}

// Fetch returns the full content of resource.
func (c *Client) Fetch(ctx context.Context, resource string) ([]byte, error) {
	u, err := url.Parse(resource)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return c.fetchHTTP(ctx, resource)
	}
	if !c.files {
		return nil, ErrFilesDisabled
	}
	path := resource
	if err == nil && u.Scheme == "file" {
		path = u.Path
	} else if err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		return nil, fmt.Errorf("fetch: unsupported scheme %q", u.Scheme)
	}
	return c.readFile(path)
}

func (c *Client) fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}
	return readLimited(resp.Body, c.maxBytes)
}

func (c *Client) readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readLimited(f, c.maxBytes)
}

func readLimited(r io.Reader, max int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > max {
		return nil, fmt.Errorf("fetch: resource larger than %d bytes", max)
	}
	return b, nil
}
