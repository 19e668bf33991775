package certstore_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/huksley/haproxy-acme-validation-plugin/pkg/certstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// addFolder creates a store folder with the named files present.
func addFolder(t *testing.T, root, name string, files ...string) string {
	t.Helper()
	folder := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(folder, 0o755))
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(folder, f), []byte("pem"), 0o644))
	}
	return folder
}

func TestScanSelectsHighestVersion(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	addFolder(t, root, "example.com", certstore.CertFile)
	addFolder(t, root, "example.com-0001", certstore.CertFile)
	want := addFolder(t, root, "example.com-0002", certstore.CertFile)

	result, err := certstore.New(root, discardLogger()).Scan()
	require.NoError(t, err)

	require.Len(t, result.Records, 1)
	rec := result.Records[0]
	assert.Equal(t, "example.com", rec.BaseDomain)
	assert.Equal(t, want, rec.VersionFolder)
	assert.Equal(t, filepath.Join(want, "cert.pem"), rec.CertPath)
	assert.Equal(t, filepath.Join(want, "privkey.pem"), rec.PrivateKeyPath)
	assert.Equal(t, filepath.Join(want, "fullchain.pem"), rec.FullChainPath)
	assert.Equal(t, filepath.Join(want, "haproxy.pem"), rec.BundlePath)
}

func TestScanBareFolderLosesToVersioned(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	addFolder(t, root, "example.com", certstore.CertFile)
	want := addFolder(t, root, "example.com-0001", certstore.CertFile)

	result, err := certstore.New(root, discardLogger()).Scan()
	require.NoError(t, err)

	require.Len(t, result.Records, 1)
	assert.Equal(t, want, result.Records[0].VersionFolder)
}

func TestScanIgnoresVersionFolderWithoutCert(t *testing.T) {
	t.Parallel()

	// The newest folder has no cert.pem, so the older one stays selected.
	root := t.TempDir()
	want := addFolder(t, root, "example.com-0001", certstore.CertFile)
	addFolder(t, root, "example.com-0002")

	result, err := certstore.New(root, discardLogger()).Scan()
	require.NoError(t, err)

	require.Len(t, result.Records, 1)
	assert.Equal(t, want, result.Records[0].VersionFolder)
	assert.Equal(t, 1, result.Skipped)
}

func TestScanHyphenatedDomain(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	addFolder(t, root, "my-site.com", certstore.CertFile)
	want := addFolder(t, root, "my-site.com-0003", certstore.CertFile)

	result, err := certstore.New(root, discardLogger()).Scan()
	require.NoError(t, err)

	require.Len(t, result.Records, 1)
	assert.Equal(t, "my-site.com", result.Records[0].BaseDomain)
	assert.Equal(t, want, result.Records[0].VersionFolder)
}

func TestScanCountsSkippedAndStaleBundles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	addFolder(t, root, "a.com", certstore.CertFile)
	// Folder that lost its certificate but still has a combined file.
	stale := addFolder(t, root, "gone.org", certstore.BundleFile)
	// Folder with nothing relevant at all.
	addFolder(t, root, "empty.net")
	// Plain files in the root are not store folders.
	require.NoError(t, os.WriteFile(filepath.Join(root, "README"), []byte("x"), 0o644))

	result, err := certstore.New(root, discardLogger()).Scan()
	require.NoError(t, err)

	require.Len(t, result.Records, 1)
	assert.Equal(t, "a.com", result.Records[0].BaseDomain)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, []string{filepath.Join(stale, "haproxy.pem")}, result.StaleBundles)
}

func TestScanDeterministicOrder(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	addFolder(t, root, "b.com", certstore.CertFile)
	addFolder(t, root, "a.com", certstore.CertFile)
	addFolder(t, root, "c.com", certstore.CertFile)

	result, err := certstore.New(root, discardLogger()).Scan()
	require.NoError(t, err)

	var domains []string
	for _, rec := range result.Records {
		domains = append(domains, rec.BaseDomain)
	}
	assert.Equal(t, []string{"a.com", "b.com", "c.com"}, domains)
}

func TestScanMissingRoot(t *testing.T) {
	t.Parallel()

	_, err := certstore.New(filepath.Join(t.TempDir(), "missing"), discardLogger()).Scan()
	require.Error(t, err)
	assert.ErrorIs(t, err, certstore.ErrMissingRoot)
}
