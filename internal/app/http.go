package app

import (
	"net"
	"net/http"
	"time"
)

// newArchiveHTTPClient returns an HTTP client for the filings archive. All
// traffic goes to one host at a throttled rate, so a small keep-alive pool is
// enough. Per-request deadlines are set by fetch.Client; the client timeout is
// only a backstop.
func newArchiveHTTPClient(backstop time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          8,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if backstop <= 0 {
		backstop = 2 * DefaultDocumentTimeout
	}
	return &http.Client{
		Transport: transport,
		Timeout:   backstop,
	}
}
