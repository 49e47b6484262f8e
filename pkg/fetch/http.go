// Package fetch retrieves recipe pages over HTTP with host allowlisting,
// per-host rate limiting, size limits and charset decoding.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/time/rate"
)

// Fetcher retrieves the body of a page.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Config configures HTTPFetcher behavior.
type Config struct {
	// Timeout bounds one fetch including body read.
	// Default: 30s
	Timeout time.Duration

	// MaxBodyBytes caps the response body size.
	// Default: 5 MiB
	MaxBodyBytes int64

	// RatePerHost is the maximum requests per second to a single host.
	// Zero means unlimited.
	RatePerHost float64

	// UserAgent is sent with every request.
	UserAgent string
}

// DefaultConfig returns the default fetch configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:      30 * time.Second,
		MaxBodyBytes: 5 << 20,
		RatePerHost:  0,
		UserAgent:    "Mozilla/5.0 (compatible; Ramekin/1.0; +https://ramekin.app)",
	}
}

// HTTPFetcher is the network Fetcher.
type HTTPFetcher struct {
	client    *http.Client
	allowlist *Allowlist
	cfg       Config

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPFetcher creates a fetcher. A nil client gets a default one. The
// allowlist is re-checked on every redirect hop.
func NewHTTPFetcher(client *http.Client, allowlist *Allowlist, cfg Config) *HTTPFetcher {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = def.UserAgent
	}

	if client == nil {
		client = &http.Client{}
	}
	c := *client
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}
		if !allowlist.Allows(req.URL) {
			return &Error{URL: req.URL.String(), Err: ErrDisallowedHost}
		}
		return nil
	}

	return &HTTPFetcher{
		client:    &c,
		allowlist: allowlist,
		cfg:       cfg,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Fetch GETs rawURL and returns the body decoded to UTF-8.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	u, err := f.allowlist.Check(rawURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	if limiter := f.limiter(strings.ToLower(u.Host)); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, f.classify(ctx, rawURL, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &Error{URL: rawURL, Err: fmt.Errorf("%w: %v", ErrInvalidURL, err)}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, f.classify(ctx, rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &Error{URL: rawURL, StatusCode: resp.StatusCode, Err: ErrHTTPStatus}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, f.classify(ctx, rawURL, err)
	}
	if int64(len(body)) > f.cfg.MaxBodyBytes {
		return nil, &Error{URL: rawURL, Err: ErrTooLarge}
	}

	return decodeCharset(body, resp.Header.Get("Content-Type")), nil
}

func (f *HTTPFetcher) limiter(host string) *rate.Limiter {
	if f.cfg.RatePerHost <= 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(f.cfg.RatePerHost), 1)
		f.limiters[host] = l
	}
	return l
}

func (f *HTTPFetcher) classify(ctx context.Context, rawURL string, err error) error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{URL: rawURL, Err: fmt.Errorf("%w after %s", ErrTimeout, f.cfg.Timeout)}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{URL: rawURL, Err: fmt.Errorf("%w after %s", ErrTimeout, f.cfg.Timeout)}
	}
	return &Error{URL: rawURL, Err: fmt.Errorf("%w: %v", ErrNetwork, err)}
}

var metaCharset = regexp.MustCompile(`(?i)<meta[^>]+charset=["']?([a-zA-Z0-9_\-]+)`)

// decodeCharset converts body to UTF-8 using the Content-Type charset or a
// <meta charset> in the first KiB. Unknown charsets pass through unchanged.
func decodeCharset(body []byte, contentType string) []byte {
	label := ""
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		label = params["charset"]
	}
	if label == "" {
		head := body
		if len(head) > 1024 {
			head = head[:1024]
		}
		if m := metaCharset.FindSubmatch(head); m != nil {
			label = string(m[1])
		}
	}
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" || label == "utf-8" || label == "utf8" {
		return bytes.TrimPrefix(body, []byte("\xef\xbb\xbf"))
	}

	enc, err := htmlindex.Get(label)
	if err != nil {
		return body
	}
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return body
	}
	return decoded
}
