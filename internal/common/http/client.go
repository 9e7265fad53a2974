// Package http builds the shared outbound HTTP clients. Provider
// invokers and webhook delivery workers get their clients here so
// pooling and timeouts live in one place.
package http

import (
	"net/http"
	"time"
)

// Option tunes a client under construction. Options that touch the
// transport only apply when the default transport is in use.
type Option func(*http.Client, *http.Transport)

// WithTimeout sets the end-to-end request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *http.Client, _ *http.Transport) {
		c.Timeout = timeout
	}
}

// WithMaxIdleConnsPerHost sizes the per-host idle pool. Providers are
// a handful of hosts; webhook targets are many, so callers tune this.
func WithMaxIdleConnsPerHost(n int) Option {
	return func(_ *http.Client, t *http.Transport) {
		t.MaxIdleConnsPerHost = n
	}
}

// WithoutKeepAlives forces a fresh connection per request.
func WithoutKeepAlives() Option {
	return func(_ *http.Client, t *http.Transport) {
		t.DisableKeepAlives = true
	}
}

// WithoutRedirects stops the client from following redirects; the
// first response is returned as-is.
func WithoutRedirects() Option {
	return func(c *http.Client, _ *http.Transport) {
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
}

// WithTransport swaps in a custom round tripper, bypassing the pooled
// transport entirely.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *http.Client, _ *http.Transport) {
		c.Transport = rt
	}
}

// NewHTTPClient builds a pooled client with the given options applied
// in order.
func NewHTTPClient(opts ...Option) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	client := &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport,
	}

	for _, opt := range opts {
		opt(client, transport)
	}
	return client
}

// NewHTTPClientWithTimeout is the common case: pooled defaults with a
// caller-chosen timeout.
func NewHTTPClientWithTimeout(timeout time.Duration) *http.Client {
	return NewHTTPClient(WithTimeout(timeout))
}
