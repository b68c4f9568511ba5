// Package httpc provides shared HTTP clients with sensible defaults.
// Use this instead of http.DefaultClient to ensure timeouts are set.
package httpc

import (
	"fmt"
	"net"
	"net/http"
	"time"
)

// Default timeouts for HTTP operations.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultConnectTimeout  = 10 * time.Second
	DefaultKeepAlive       = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
)

// Client is a shared HTTP client with production-ready defaults.
var Client = NewClient(DefaultTimeout)

// NewClient creates a new HTTP client with the specified timeout.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: newTransport(),
	}
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   DefaultConnectTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// HeaderFunc supplies a header value for each request.
type HeaderFunc func() (string, error)

// WithHeader returns a copy of c that sets header name on every request.
// A HeaderFunc error fails the request before it is sent.
func WithHeader(c *http.Client, name string, value HeaderFunc) *http.Client {
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	out := *c
	out.Transport = &headerTransport{base: base, name: name, value: value}
	return &out
}

type headerTransport struct {
	base  http.RoundTripper
	name  string
	value HeaderFunc
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	v, err := t.value()
	if err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, fmt.Errorf("httpc: %s header: %w", t.name, err)
	}
	req = req.Clone(req.Context())
	req.Header.Set(t.name, v)
	return t.base.RoundTrip(req)
}
