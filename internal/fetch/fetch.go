package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hyperifyio/form13f/internal/cache"
)

// Limiter paces outbound requests. *rate.Limiter from edgar.NewLimiter
// satisfies it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// ErrBodyTooLarge is returned when a response exceeds Client.MaxBodyBytes.
var ErrBodyTooLarge = errors.New("response body too large")

// StatusError reports a response whose status was not 200 OK.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.Code, e.URL)
}

// Client issues identified GET requests against the filings archive. There is
// no retry: a failed request is reported to the caller, which decides whether
// to move on to another candidate.
type Client struct {
	HTTPClient *http.Client
	// UserAgent is sent on every request; the archive rejects anonymous clients.
	UserAgent string
	// PerRequestTimeout bounds each request, including reading the body.
	PerRequestTimeout time.Duration
	// RedirectMaxHops caps redirect following to avoid loops. Zero means default (5).
	RedirectMaxHops int
	// MaxBodyBytes rejects bodies larger than this with ErrBodyTooLarge.
	// Zero means unlimited.
	MaxBodyBytes int64
	// Limiter is consulted before each request when set.
	Limiter Limiter
	// Cache, when set, serves previously fetched documents without a request.
	Cache *cache.Documents
}

// WithTimeout returns a shallow copy of c using d as its per-request timeout.
// The copy shares the HTTP client and limiter.
func (c *Client) WithTimeout(d time.Duration) *Client {
	cp := *c
	cp.PerRequestTimeout = d
	return &cp
}

func (c *Client) getHTTPClient() *http.Client {
	if c.HTTPClient != nil {
		// Clone to attach our redirect policy without mutating caller's client
		base := *c.HTTPClient
		base.CheckRedirect = c.checkRedirectFunc()
		return &base
	}
	return &http.Client{Timeout: c.PerRequestTimeout, CheckRedirect: c.checkRedirectFunc()}
}

// Get fetches url and returns its body and content type. Any status other
// than 200 yields a *StatusError.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("new request: %w", err)
	}
	// Reject non-HTTP(S) schemes early
	if req.URL == nil || !isHTTPScheme(req.URL) {
		return nil, "", fmt.Errorf("unsupported URL scheme: %q", rawURL)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if body, ct, ok := c.Cache.Load(ctx, rawURL); ok {
		return body, ct, nil
	}
	// Waiting for a slot does not count against the request timeout.
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	if c.PerRequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(req.Context(), c.PerRequestTimeout)
		defer cancel()
		req = req.WithContext(ctx)
	}

	resp, err := c.getHTTPClient().Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", &StatusError{URL: rawURL, Code: resp.StatusCode}
	}
	contentType := resp.Header.Get("Content-Type")
	if !isAllowedContentType(contentType) {
		return nil, "", fmt.Errorf("unsupported content type: %s", contentType)
	}
	var body io.Reader = resp.Body
	if c.MaxBodyBytes > 0 {
		body = io.LimitReader(resp.Body, c.MaxBodyBytes+1)
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	if c.MaxBodyBytes > 0 && int64(len(b)) > c.MaxBodyBytes {
		return nil, "", fmt.Errorf("%w: %s exceeds %d bytes", ErrBodyTooLarge, rawURL, c.MaxBodyBytes)
	}
	if c.Cache != nil {
		// A failed cache write only costs a refetch next time.
		_ = c.Cache.Save(ctx, rawURL, contentType, b)
	}
	return b, contentType, nil
}

// IsNotFound reports whether err is a 404 from the archive.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

func (c *Client) checkRedirectFunc() func(req *http.Request, via []*http.Request) error {
	max := c.RedirectMaxHops
	if max <= 0 {
		max = 5
	}
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= max {
			return errors.New("too many redirects")
		}
		// Only allow http/https during redirects
		if req.URL == nil || !isHTTPScheme(req.URL) {
			return errors.New("redirect to unsupported scheme")
		}
		if c.UserAgent != "" {
			req.Header.Set("User-Agent", c.UserAgent)
		}
		return nil
	}
}

func isHTTPScheme(u *url.URL) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

// isAllowedContentType admits the markup and text types the archive serves for
// filing documents, index pages and directory listings.
func isAllowedContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "" {
		return true
	}
	for _, p := range []string{"text/", "application/xml", "application/xhtml+xml", "application/octet-stream"} {
		if strings.HasPrefix(ct, p) {
			return true
		}
	}
	return false
}
