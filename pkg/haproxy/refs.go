// Package haproxy covers the proxy-facing side of the tool: extracting
// certificate references from the proxy configuration, composing the
// combined PEM bundles and the certificate-list file, and reloading the
// proxy.
package haproxy

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// RefKind tells where a certificate reference was declared.
type RefKind string

const (
	// RefDirect is a path named inline in the proxy configuration.
	RefDirect RefKind = "crt"
	// RefViaList is a path named inside a referenced crt-list file.
	RefViaList RefKind = "crt-list"
)

// CertReference is one certificate path the proxy configuration declares.
type CertReference struct {
	Path   string
	Kind   RefKind
	Source string // the file that declared the path
}

// ImpliedBaseDomain derives the domain from the reference path. This
// assumes the proxy always points at <domain>/haproxy.pem, which is the
// layout this tool maintains; the parent directory name is the domain.
func (r CertReference) ImpliedBaseDomain() string {
	return filepath.Base(filepath.Dir(r.Path))
}

// Extractor reads certificate references out of a proxy configuration.
type Extractor struct {
	logger *slog.Logger
}

// NewExtractor creates an extractor.
func NewExtractor(logger *slog.Logger) *Extractor {
	return &Extractor{logger: logger.With("component", "haproxy")}
}

// Extract parses the proxy configuration for crt and crt-list directives.
// Direct references come first in configuration order, then the contents of
// each referenced list file in file order. The union is deduplicated by
// path. A missing or unreadable list file is a warning, not an abort.
func (e *Extractor) Extract(configPath string) ([]CertReference, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read proxy configuration: %w", err)
	}

	var refs []CertReference
	var listFiles []string
	seen := make(map[string]bool)

	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		fields := strings.Fields(trimmed)
		for i, tok := range fields {
			if i+1 >= len(fields) {
				break
			}
			switch tok {
			case "crt":
				path := fields[i+1]
				if !seen[path] {
					seen[path] = true
					refs = append(refs, CertReference{Path: path, Kind: RefDirect, Source: configPath})
				}
			case "crt-list":
				listFiles = append(listFiles, fields[i+1])
			}
		}
	}

	for _, listPath := range listFiles {
		entries, err := e.readList(listPath)
		if err != nil {
			e.logger.Warn("certificate list file not readable", "path", listPath, "error", err)
			continue
		}
		for _, path := range entries {
			if !seen[path] {
				seen[path] = true
				refs = append(refs, CertReference{Path: path, Kind: RefViaList, Source: listPath})
			}
		}
	}

	e.logger.Debug("extracted certificate references", "config", configPath, "count", len(refs))

	return refs, nil
}

// readList reads one crt-list file. Lines may carry options and SNI filters
// after the path, so only the first field counts; blanks and comments are
// skipped.
func (e *Extractor) readList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries []string
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		entries = append(entries, strings.Fields(trimmed)[0])
	}
	return entries, nil
}
