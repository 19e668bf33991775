// Package httputil holds the shared HTTP client used for OCSP fetches and
// webhook delivery. One pooled transport keeps connections to the handful of
// responder hosts alive across a run instead of redialing per certificate.
package httputil

import (
	"net/http"
	"sync"
	"time"
)

var (
	defaultClient     *http.Client
	defaultClientOnce sync.Once
)

// DefaultClient returns the shared pooled client. The client is safe for
// concurrent use.
func DefaultClient() *http.Client {
	defaultClientOnce.Do(func() {
		defaultClient = newPooledClient(30 * time.Second)
	})
	return defaultClient
}

// NewClientWithTimeout returns a client with its own timeout that shares the
// pooled transport.
func NewClientWithTimeout(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: DefaultClient().Transport,
	}
}

func newPooledClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	// A run talks to a few responder hosts many times in a burst.
	transport.MaxIdleConns = 16
	transport.MaxIdleConnsPerHost = 4
	transport.IdleConnTimeout = 90 * time.Second
	transport.ForceAttemptHTTP2 = true
	transport.ResponseHeaderTimeout = 15 * time.Second
	transport.ExpectContinueTimeout = 1 * time.Second

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
