package haproxy

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/huksley/haproxy-acme-validation-plugin/pkg/certstore"
)

// Composer regenerates the combined PEM bundles and the certificate-list
// file after renewals have settled.
type Composer struct {
	crtListPath string
	logger      *slog.Logger
}

// NewComposer creates a composer writing the given certificate-list file.
func NewComposer(crtListPath string, logger *slog.Logger) *Composer {
	return &Composer{
		crtListPath: crtListPath,
		logger:      logger.With("component", "composer"),
	}
}

// ComposeResult reports what one composition pass changed.
type ComposeResult struct {
	// Written lists domains whose bundle was created or rewritten.
	Written []string
	// Removed lists stale bundle files that were deleted.
	Removed []string
	// ListChanged is true when the certificate-list file was replaced.
	ListChanged bool
}

// Compose rebuilds every domain's haproxy.pem (private key followed by the
// full chain) and the certificate-list file. Bundles are only rewritten when
// their content differs, so an up-to-date domain's file is left untouched
// and a second pass changes nothing. Stale bundles from the scan are
// deleted. Any write failure is returned to the caller, which must treat it
// as fatal: a half-composed state is worse than a stale one.
func (c *Composer) Compose(scan *certstore.ScanResult) (*ComposeResult, error) {
	result := &ComposeResult{}

	for _, stale := range scan.StaleBundles {
		if err := os.Remove(stale); err != nil {
			return result, fmt.Errorf("failed to remove stale bundle %s: %w", stale, err)
		}
		c.logger.Info("removed stale bundle", "path", stale)
		result.Removed = append(result.Removed, stale)
	}

	var listPaths []string
	for _, rec := range scan.Records {
		changed, err := c.composeBundle(rec)
		if err != nil {
			return result, err
		}
		if changed {
			result.Written = append(result.Written, rec.BaseDomain)
		}
		listPaths = append(listPaths, rec.BundlePath)
	}

	changed, err := c.writeList(listPaths)
	if err != nil {
		return result, err
	}
	result.ListChanged = changed

	return result, nil
}

// composeBundle writes one domain's combined file when its content differs
// from the concatenation of the private key and the full chain.
func (c *Composer) composeBundle(rec certstore.Record) (bool, error) {
	key, err := os.ReadFile(rec.PrivateKeyPath)
	if err != nil {
		return false, fmt.Errorf("failed to read private key for %s: %w", rec.BaseDomain, err)
	}
	chain, err := os.ReadFile(rec.FullChainPath)
	if err != nil {
		return false, fmt.Errorf("failed to read full chain for %s: %w", rec.BaseDomain, err)
	}

	desired := make([]byte, 0, len(key)+len(chain))
	desired = append(desired, key...)
	desired = append(desired, chain...)

	current, err := os.ReadFile(rec.BundlePath)
	if err == nil && bytes.Equal(current, desired) {
		return false, nil
	}

	// The bundle contains the private key.
	if err := os.WriteFile(rec.BundlePath, desired, 0o600); err != nil {
		return false, fmt.Errorf("failed to write bundle for %s: %w", rec.BaseDomain, err)
	}
	c.logger.Info("bundle written", "domain", rec.BaseDomain, "path", rec.BundlePath)

	return true, nil
}

// writeList atomically replaces the certificate-list file, one bundle path
// per line in store order. The proxy may reload at any moment, so the new
// content lands under a temporary name first and is renamed over the live
// file. Identical content skips the replace.
func (c *Composer) writeList(paths []string) (bool, error) {
	var buf bytes.Buffer
	for _, p := range paths {
		buf.WriteString(p)
		buf.WriteByte('\n')
	}
	desired := buf.Bytes()

	current, err := os.ReadFile(c.crtListPath)
	if err == nil && bytes.Equal(current, desired) {
		return false, nil
	}

	dir := filepath.Dir(c.crtListPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("failed to create certificate list directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".crt-list-*")
	if err != nil {
		return false, fmt.Errorf("failed to create temporary list file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(desired); err != nil {
		tmp.Close()
		return false, fmt.Errorf("failed to write temporary list file: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return false, fmt.Errorf("failed to chmod temporary list file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("failed to close temporary list file: %w", err)
	}

	if err := os.Rename(tmpName, c.crtListPath); err != nil {
		return false, fmt.Errorf("failed to replace certificate list: %w", err)
	}
	c.logger.Info("certificate list updated", "path", c.crtListPath, "entries", len(paths))

	return true, nil
}
