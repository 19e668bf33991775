// Package inspect answers the questions the renewal decision needs from a
// certificate on disk: how long it remains valid and which names it covers.
package inspect

import (
	"fmt"
	"os"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
)

// Details is the typed inspection result for one certificate.
type Details struct {
	// SubjectCN is the certificate's subject common name.
	SubjectCN string
	// AltNames holds the subject alternative DNS names, deduplicated and
	// with the common name excluded. Empty when the certificate carries no
	// SAN extension.
	AltNames []string
	// NotAfter is the end of the validity period.
	NotAfter time.Time
	// Remaining is the validity left at inspection time.
	Remaining time.Duration
	// ExpiresWithin reports whether Remaining is strictly below the
	// threshold. A certificate expiring in exactly the threshold is not
	// yet due.
	ExpiresWithin bool
}

// Names returns the requested-name sequence for a renewal: the common name
// first, then the alternative names.
func (d *Details) Names() []string {
	names := make([]string, 0, len(d.AltNames)+1)
	if d.SubjectCN != "" {
		names = append(names, d.SubjectCN)
	}
	return append(names, d.AltNames...)
}

// Option configures an Inspector.
type Option func(*Inspector)

// WithClock overrides the time source, used by expiry boundary tests.
func WithClock(now func() time.Time) Option {
	return func(i *Inspector) {
		i.now = now
	}
}

// Inspector evaluates certificates against a fixed day threshold.
type Inspector struct {
	threshold time.Duration
	now       func() time.Time
}

// New creates an Inspector with the given renewal threshold in days.
func New(days int, opts ...Option) *Inspector {
	i := &Inspector{
		threshold: time.Duration(days) * 24 * time.Hour,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Inspect reads and parses the certificate at path. A file that cannot be
// read or parsed is an inspection error for the caller to handle; it is
// never reported as "not expiring".
func (i *Inspector) Inspect(path string) (*Details, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}

	certs, err := certcrypto.ParsePEMBundle(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate %s: %w", path, err)
	}
	leaf := certs[0]

	remaining := leaf.NotAfter.Sub(i.now())

	cn := leaf.Subject.CommonName
	seen := map[string]bool{cn: true}
	var altNames []string
	for _, name := range leaf.DNSNames {
		if seen[name] {
			continue
		}
		seen[name] = true
		altNames = append(altNames, name)
	}

	return &Details{
		SubjectCN:     cn,
		AltNames:      altNames,
		NotAfter:      leaf.NotAfter,
		Remaining:     remaining,
		ExpiresWithin: remaining < i.threshold,
	}, nil
}
