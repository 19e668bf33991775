package inspect_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/huksley/haproxy-acme-validation-plugin/internal/testpki"
	"github.com/huksley/haproxy-acme-validation-plugin/pkg/inspect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedNow is second-aligned because X.509 validity has second precision.
var fixedNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func writeCert(t *testing.T, cert *testpki.Certificate) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cert.pem")
	require.NoError(t, os.WriteFile(path, cert.CertPEM, 0o644))
	return path
}

func TestExpiryBoundaryIsStrict(t *testing.T) {
	t.Parallel()

	const days = 30
	threshold := days * 24 * time.Hour

	// Exactly the threshold left: not due.
	atLimit := writeCert(t, testpki.SelfSigned(t, testpki.Spec{
		CN:       "example.com",
		NotAfter: fixedNow.Add(threshold),
	}))
	// One second less: due.
	justInside := writeCert(t, testpki.SelfSigned(t, testpki.Spec{
		CN:       "example.com",
		NotAfter: fixedNow.Add(threshold - time.Second),
	}))

	ins := inspect.New(days, inspect.WithClock(fixedClock))

	det, err := ins.Inspect(atLimit)
	require.NoError(t, err)
	assert.False(t, det.ExpiresWithin)
	assert.Equal(t, threshold, det.Remaining)

	det, err = ins.Inspect(justInside)
	require.NoError(t, err)
	assert.True(t, det.ExpiresWithin)
}

func TestSubjectAndAltNames(t *testing.T) {
	t.Parallel()

	path := writeCert(t, testpki.SelfSigned(t, testpki.Spec{
		CN:       "example.com",
		SANs:     []string{"example.com", "www.example.com", "www.example.com"},
		NotAfter: fixedNow.Add(60 * 24 * time.Hour),
	}))

	det, err := inspect.New(30, inspect.WithClock(fixedClock)).Inspect(path)
	require.NoError(t, err)

	assert.Equal(t, "example.com", det.SubjectCN)
	// CN is removed from the SAN set and duplicates collapse.
	assert.Equal(t, []string{"www.example.com"}, det.AltNames)
	assert.Equal(t, []string{"example.com", "www.example.com"}, det.Names())
}

func TestNoSANExtension(t *testing.T) {
	t.Parallel()

	path := writeCert(t, testpki.SelfSigned(t, testpki.Spec{
		CN:       "plain.org",
		NotAfter: fixedNow.Add(60 * 24 * time.Hour),
	}))

	det, err := inspect.New(30, inspect.WithClock(fixedClock)).Inspect(path)
	require.NoError(t, err)

	assert.Empty(t, det.AltNames)
	assert.Equal(t, []string{"plain.org"}, det.Names())
}

func TestUnreadableCertificateIsAnError(t *testing.T) {
	t.Parallel()

	ins := inspect.New(30)

	_, err := ins.Inspect(filepath.Join(t.TempDir(), "missing.pem"))
	assert.Error(t, err)

	garbage := filepath.Join(t.TempDir(), "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not a certificate"), 0o644))
	_, err = ins.Inspect(garbage)
	assert.Error(t, err)
}
