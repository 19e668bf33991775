// Package certstore reads the certificate store maintained by the CA client:
// one directory per domain under a live root, optionally suffixed -NNNN when
// the CA client created a newer lineage for the same name.
package certstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

// File names the CA client writes into each version folder, and the combined
// file this tool maintains next to them.
const (
	CertFile       = "cert.pem"
	PrivateKeyFile = "privkey.pem"
	FullChainFile  = "fullchain.pem"
	BundleFile     = "haproxy.pem"
)

// ErrMissingRoot reports that the store root does not exist. Running without
// a store is a configuration error, not an empty inventory.
var ErrMissingRoot = errors.New("certificate store root does not exist")

// versionedFolder splits <domain>-NNNN into domain and numeric suffix. The
// rightmost hyphen followed only by digits is the version separator, so
// domains containing hyphens group correctly.
var versionedFolder = regexp.MustCompile(`^(.+)-(\d+)$`)

// Record points at the selected version folder for one base domain.
type Record struct {
	BaseDomain    string
	VersionFolder string // absolute path of the selected directory

	CertPath       string
	PrivateKeyPath string
	FullChainPath  string
	BundlePath     string
}

// ScanResult is the outcome of one store pass.
type ScanResult struct {
	// Records holds one entry per base domain, ordered by first appearance
	// in the sorted directory listing so runs are reproducible.
	Records []Record
	// Skipped counts folders without a cert.pem.
	Skipped int
	// StaleBundles lists combined files whose folder no longer holds a
	// certificate; the composer deletes them.
	StaleBundles []string
}

// Store reads a certificate store root.
type Store struct {
	root   string
	logger *slog.Logger
}

// New creates a reader for the given store root.
func New(root string, logger *slog.Logger) *Store {
	return &Store{root: root, logger: logger.With("component", "certstore")}
}

// Root returns the store root path.
func (s *Store) Root() string {
	return s.root
}

// Scan lists the store and selects the highest-versioned folder per base
// domain. Folders without cert.pem do not compete for selection; they are
// counted, and remembered for stale bundle cleanup when they still carry a
// combined file. The root must exist.
func (s *Store) Scan() (*ScanResult, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissingRoot, s.root)
		}
		return nil, fmt.Errorf("failed to read certificate store: %w", err)
	}

	type candidate struct {
		folder  string // absolute path
		version int    // -1 for the bare folder
	}

	result := &ScanResult{}
	best := make(map[string]candidate)
	var order []string

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		folder := filepath.Join(s.root, name)

		if _, err := os.Stat(filepath.Join(folder, CertFile)); err != nil {
			result.Skipped++
			s.logger.Debug("skipping folder without certificate", "folder", name)
			if _, err := os.Stat(filepath.Join(folder, BundleFile)); err == nil {
				result.StaleBundles = append(result.StaleBundles, filepath.Join(folder, BundleFile))
			}
			continue
		}

		base := name
		version := -1
		if m := versionedFolder.FindStringSubmatch(name); m != nil {
			if v, err := strconv.Atoi(m[2]); err == nil {
				base = m[1]
				version = v
			}
		}

		current, seen := best[base]
		if !seen {
			order = append(order, base)
		}
		if !seen || version > current.version {
			best[base] = candidate{folder: folder, version: version}
		}
	}

	for _, base := range order {
		folder := best[base].folder
		result.Records = append(result.Records, Record{
			BaseDomain:     base,
			VersionFolder:  folder,
			CertPath:       filepath.Join(folder, CertFile),
			PrivateKeyPath: filepath.Join(folder, PrivateKeyFile),
			FullChainPath:  filepath.Join(folder, FullChainFile),
			BundlePath:     filepath.Join(folder, BundleFile),
		})
	}

	s.logger.Debug("certificate store scanned",
		"records", len(result.Records),
		"skipped", result.Skipped,
		"stale_bundles", len(result.StaleBundles))

	return result, nil
}
