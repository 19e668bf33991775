// Package staple maintains OCSP staple files next to the proxy bundles.
// haproxy picks up a staple from <bundle>.ocsp when the file is present, so
// refreshing these files right after bundle composition keeps stapling
// working across renewals.
package staple

import (
	"bytes"
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"golang.org/x/crypto/ocsp"
	"golang.org/x/sync/errgroup"

	"github.com/huksley/haproxy-acme-validation-plugin/pkg/certstore"
	"github.com/huksley/haproxy-acme-validation-plugin/pkg/httputil"
	"github.com/huksley/haproxy-acme-validation-plugin/pkg/resilience"
	"github.com/huksley/haproxy-acme-validation-plugin/pkg/telemetry"
)

// StapleSuffix is appended to the bundle path, matching the haproxy
// convention of loading <cert>.ocsp next to <cert>.
const StapleSuffix = ".ocsp"

// maxResponseSize caps how much of a responder's body is read.
const maxResponseSize = 1 << 20

// Refresher fetches OCSP responses for bundled certificates and stores them
// next to the bundles. Responder outages degrade to warnings; only local
// write failures fail the refresh.
type Refresher struct {
	logger *slog.Logger
	client *http.Client
	window time.Duration
	limit  int
	now    func() time.Time

	mu       sync.Mutex
	breakers map[string]*resilience.ServiceBreaker
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithHTTPClient replaces the HTTP client used for responder requests.
func WithHTTPClient(client *http.Client) RefresherOption {
	return func(r *Refresher) {
		r.client = client
	}
}

// WithWindow sets how close to a staple's NextUpdate a refresh kicks in.
func WithWindow(window time.Duration) RefresherOption {
	return func(r *Refresher) {
		r.window = window
	}
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) RefresherOption {
	return func(r *Refresher) {
		r.now = now
	}
}

// NewRefresher creates a staple refresher.
func NewRefresher(logger *slog.Logger, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		logger:   logger.With("component", "staple"),
		client:   httputil.NewClientWithTimeout(10 * time.Second),
		window:   24 * time.Hour,
		limit:    4,
		now:      time.Now,
		breakers: make(map[string]*resilience.ServiceBreaker),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Refresh updates the staple files for every record in the scan. Responder
// fetches run concurrently; the bundle files themselves are not touched.
func (r *Refresher) Refresh(ctx context.Context, scan *certstore.ScanResult) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)

	for _, rec := range scan.Records {
		g.Go(func() error {
			return r.refreshOne(ctx, rec)
		})
	}

	return g.Wait()
}

func (r *Refresher) refreshOne(ctx context.Context, rec certstore.Record) error {
	staplePath := rec.BundlePath + StapleSuffix

	data, err := os.ReadFile(rec.FullChainPath)
	if err != nil {
		r.logger.Warn("skipping staple, chain unreadable", "domain", rec.BaseDomain, "error", err)
		return nil
	}
	certs, err := certcrypto.ParsePEMBundle(data)
	if err != nil {
		r.logger.Warn("skipping staple, chain unparsable", "domain", rec.BaseDomain, "error", err)
		return nil
	}

	leaf := certs[0]
	if len(leaf.OCSPServer) == 0 || len(certs) < 2 {
		// Without a responder URL or an issuer there is nothing to fetch,
		// and a leftover staple would go stale against a renewed leaf.
		r.removeStale(staplePath, rec.BaseDomain)
		return nil
	}
	issuer := certs[1]

	if r.fresh(staplePath, leaf, issuer) {
		r.logger.Debug("staple still fresh", "domain", rec.BaseDomain)
		return nil
	}

	raw, err := r.fetch(ctx, rec.BaseDomain, leaf, issuer)
	if err != nil {
		r.logger.Warn("OCSP fetch failed", "domain", rec.BaseDomain, "error", err)
		return nil
	}
	if raw == nil {
		return nil
	}

	if err := writeAtomic(staplePath, raw); err != nil {
		return fmt.Errorf("writing staple for %s: %w", rec.BaseDomain, err)
	}

	r.logger.Info("staple refreshed", "domain", rec.BaseDomain, "file", staplePath)
	return nil
}

// fresh reports whether the staple on disk still covers the leaf and does
// not need refreshing yet.
func (r *Refresher) fresh(path string, leaf, issuer *x509.Certificate) bool {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	resp, err := ocsp.ParseResponseForCert(raw, leaf, issuer)
	if err != nil || resp.Status != ocsp.Good {
		return false
	}
	return resp.NextUpdate.After(r.now().Add(r.window))
}

// fetch retrieves a DER-encoded OCSP response for the leaf. A nil result
// without error means the responder answered with a non-good status and the
// staple should not be written.
func (r *Refresher) fetch(ctx context.Context, domain string, leaf, issuer *x509.Certificate) ([]byte, error) {
	responder := leaf.OCSPServer[0]
	ctx, span := telemetry.TraceStaple(ctx, domain, responder)
	defer span.End()

	reqDER, err := ocsp.CreateRequest(leaf, issuer, nil)
	if err != nil {
		return nil, fmt.Errorf("building OCSP request: %w", err)
	}

	breaker := r.breakerFor(responder)

	var raw []byte
	err = resilience.RetryWithBackoff(ctx, func() error {
		return breaker.Execute(func() error {
			var postErr error
			raw, postErr = r.post(ctx, responder, reqDER)
			return postErr
		})
	},
		resilience.WithMaxRetries(2),
		resilience.WithInitialDelay(500*time.Millisecond),
		resilience.WithMaxElapsed(30*time.Second),
	)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	resp, err := ocsp.ParseResponseForCert(raw, leaf, issuer)
	if err != nil {
		return nil, fmt.Errorf("responder %s: %w", responder, err)
	}
	if resp.Status != ocsp.Good {
		r.logger.Warn("responder reports certificate not good",
			"domain", domain, "status", resp.Status)
		return nil, nil
	}

	return raw, nil
}

func (r *Refresher) post(ctx context.Context, responder string, reqDER []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, responder, bytes.NewReader(reqDER))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/ocsp-request")
	req.Header.Set("Accept", "application/ocsp-response")

	res, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("responder returned %s", res.Status)
	}

	return io.ReadAll(io.LimitReader(res.Body, maxResponseSize))
}

// breakerFor returns the circuit breaker for a responder host, creating it
// on first use. One breaker per host keeps an outage of one CA's responder
// from blocking fetches against another.
func (r *Refresher) breakerFor(responder string) *resilience.ServiceBreaker {
	name := responder
	if u, err := url.Parse(responder); err == nil && u.Host != "" {
		name = u.Host
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = resilience.NewServiceBreaker("ocsp:"+name,
			resilience.WithFailureThreshold(3),
			resilience.WithTimeout(time.Minute),
		)
		r.breakers[name] = b
	}
	return b
}

func (r *Refresher) removeStale(path, domain string) {
	err := os.Remove(path)
	if err == nil {
		r.logger.Info("removed stale staple", "domain", domain, "file", path)
	} else if !os.IsNotExist(err) {
		r.logger.Warn("could not remove stale staple", "domain", domain, "error", err)
	}
}

// writeAtomic replaces path via a temp file so haproxy never observes a
// partially written staple.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".ocsp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
