package reconcile_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/huksley/haproxy-acme-validation-plugin/pkg/certstore"
	"github.com/huksley/haproxy-acme-validation-plugin/pkg/haproxy"
	"github.com/huksley/haproxy-acme-validation-plugin/pkg/inspect"
	"github.com/huksley/haproxy-acme-validation-plugin/pkg/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// stubInspector maps cert paths to canned inspection results.
type stubInspector struct {
	details map[string]*inspect.Details
	errs    map[string]error
}

func (s *stubInspector) Inspect(certPath string) (*inspect.Details, error) {
	if err, ok := s.errs[certPath]; ok {
		return nil, err
	}
	if det, ok := s.details[certPath]; ok {
		return det, nil
	}
	return nil, errors.New("unexpected path: " + certPath)
}

func record(root, domain string) certstore.Record {
	folder := filepath.Join(root, domain)
	return certstore.Record{
		BaseDomain:     domain,
		VersionFolder:  folder,
		CertPath:       filepath.Join(folder, "cert.pem"),
		PrivateKeyPath: filepath.Join(folder, "privkey.pem"),
		FullChainPath:  filepath.Join(folder, "fullchain.pem"),
		BundlePath:     filepath.Join(folder, "haproxy.pem"),
	}
}

func expiring(names ...string) *inspect.Details {
	return &inspect.Details{
		SubjectCN:     names[0],
		AltNames:      names[1:],
		Remaining:     10 * 24 * time.Hour,
		ExpiresWithin: true,
	}
}

func current(names ...string) *inspect.Details {
	return &inspect.Details{
		SubjectCN:     names[0],
		AltNames:      names[1:],
		Remaining:     60 * 24 * time.Hour,
		ExpiresWithin: false,
	}
}

func TestPlanSelectsOnlyExpiring(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	a, b := record(root, "a.com"), record(root, "b.com")
	ins := &stubInspector{details: map[string]*inspect.Details{
		a.CertPath: expiring("a.com"),
		b.CertPath: current("b.com"),
	}}

	plan := reconcile.ComputePlan([]certstore.Record{a, b}, ins, nil, false, discardLogger())

	require.Len(t, plan.Entries, 1)
	entry := plan.Entries[0]
	assert.Equal(t, "a.com", entry.Domain)
	assert.Equal(t, reconcile.ReasonExpiringSoon, entry.Reason)
	assert.True(t, entry.HasCertificate)
	assert.Equal(t, 1, plan.Summary.ExpiringSoon)
	assert.Equal(t, 1, plan.Summary.UpToDate)
	assert.True(t, plan.NeedsAction())
}

func TestForceCoversEveryRecord(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	a, b := record(root, "a.com"), record(root, "b.com")
	ins := &stubInspector{details: map[string]*inspect.Details{
		a.CertPath: current("a.com"),
		b.CertPath: current("b.com"),
	}}

	plan := reconcile.ComputePlan([]certstore.Record{a, b}, ins, nil, true, discardLogger())

	require.Len(t, plan.Entries, 2)
	for _, entry := range plan.Entries {
		assert.Equal(t, reconcile.ReasonForcedRenew, entry.Reason)
	}
	assert.Equal(t, 2, plan.Summary.Forced)
	assert.Zero(t, plan.Summary.UpToDate)
}

func TestRequestedNamesKeepCNFirst(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	a := record(root, "example.com")
	ins := &stubInspector{details: map[string]*inspect.Details{
		a.CertPath: expiring("example.com", "www.example.com", "mail.example.com"),
	}}

	plan := reconcile.ComputePlan([]certstore.Record{a}, ins, nil, false, discardLogger())

	require.Len(t, plan.Entries, 1)
	assert.Equal(t, []string{"example.com", "www.example.com", "mail.example.com"},
		plan.Entries[0].RequestedNames)
}

func TestDeclaredButMissingFromReference(t *testing.T) {
	t.Parallel()

	refs := []haproxy.CertReference{{
		Path:   "/etc/letsencrypt/live/new.org/haproxy.pem",
		Kind:   haproxy.RefDirect,
		Source: "/etc/haproxy/haproxy.cfg",
	}}

	plan := reconcile.ComputePlan(nil, &stubInspector{}, refs, false, discardLogger())

	require.Len(t, plan.Entries, 1)
	entry := plan.Entries[0]
	assert.Equal(t, "new.org", entry.Domain)
	assert.Equal(t, reconcile.ReasonDeclaredButMissing, entry.Reason)
	assert.Equal(t, []string{"new.org"}, entry.RequestedNames)
	assert.False(t, entry.HasCertificate)
}

func TestDeclaredButMissingWithExistingCertificate(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	a := record(root, "a.com")
	ins := &stubInspector{details: map[string]*inspect.Details{
		a.CertPath: current("a.com"),
	}}
	// The bundle path does not exist even though the certificate does.
	refs := []haproxy.CertReference{{Path: a.BundlePath, Kind: haproxy.RefViaList, Source: "crt-list.txt"}}

	plan := reconcile.ComputePlan([]certstore.Record{a}, ins, refs, false, discardLogger())

	require.Len(t, plan.Entries, 1)
	entry := plan.Entries[0]
	assert.Equal(t, reconcile.ReasonDeclaredButMissing, entry.Reason)
	assert.True(t, entry.HasCertificate)
}

func TestExistingReferenceYieldsNoEntry(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bundle := filepath.Join(dir, "live", "a.com", "haproxy.pem")
	require.NoError(t, os.MkdirAll(filepath.Dir(bundle), 0o755))
	require.NoError(t, os.WriteFile(bundle, []byte("pem"), 0o600))

	refs := []haproxy.CertReference{{Path: bundle, Kind: haproxy.RefDirect, Source: "cfg"}}
	plan := reconcile.ComputePlan(nil, &stubInspector{}, refs, false, discardLogger())

	assert.Empty(t, plan.Entries)
	assert.False(t, plan.NeedsAction())
}

func TestMissingReferencesDeduplicatePerDomain(t *testing.T) {
	t.Parallel()

	refs := []haproxy.CertReference{
		{Path: "/etc/letsencrypt/live/new.org/haproxy.pem", Kind: haproxy.RefDirect, Source: "cfg"},
		{Path: "/etc/letsencrypt/live/new.org/haproxy.pem", Kind: haproxy.RefViaList, Source: "crt-list.txt"},
	}

	plan := reconcile.ComputePlan(nil, &stubInspector{}, refs, false, discardLogger())
	assert.Len(t, plan.Entries, 1)
}

func TestInspectionFailureIsRecordedNotPlanned(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	a, b := record(root, "a.com"), record(root, "b.com")
	ins := &stubInspector{
		details: map[string]*inspect.Details{b.CertPath: expiring("b.com")},
		errs:    map[string]error{a.CertPath: errors.New("asn1: structure error")},
	}

	plan := reconcile.ComputePlan([]certstore.Record{a, b}, ins, nil, false, discardLogger())

	require.Len(t, plan.Entries, 1)
	assert.Equal(t, "b.com", plan.Entries[0].Domain)
	require.Len(t, plan.InspectionFailures, 1)
	assert.Equal(t, "a.com", plan.InspectionFailures[0].Domain)
	assert.Equal(t, 1, plan.Summary.InspectionFailures)
}

func TestPlanOrderIsStable(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	a, b := record(root, "a.com"), record(root, "b.com")
	ins := &stubInspector{details: map[string]*inspect.Details{
		a.CertPath: expiring("a.com"),
		b.CertPath: expiring("b.com"),
	}}
	refs := []haproxy.CertReference{
		{Path: "/etc/letsencrypt/live/z.org/haproxy.pem", Kind: haproxy.RefDirect, Source: "cfg"},
		{Path: "/etc/letsencrypt/live/m.org/haproxy.pem", Kind: haproxy.RefDirect, Source: "cfg"},
	}

	for range 5 {
		plan := reconcile.ComputePlan([]certstore.Record{a, b}, ins, refs, false, discardLogger())
		var domains []string
		for _, entry := range plan.Entries {
			domains = append(domains, entry.Domain)
		}
		// Records in scan order first, then missing references in
		// declaration order.
		assert.Equal(t, []string{"a.com", "b.com", "z.org", "m.org"}, domains)
	}
}

func TestFormatPlanRendering(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	a := record(root, "a.com")
	ins := &stubInspector{details: map[string]*inspect.Details{
		a.CertPath: expiring("a.com", "www.a.com"),
	}}
	refs := []haproxy.CertReference{{Path: "/etc/letsencrypt/live/new.org/haproxy.pem", Kind: haproxy.RefDirect, Source: "cfg"}}

	plan := reconcile.ComputePlan([]certstore.Record{a}, ins, refs, false, discardLogger())
	out := plan.FormatPlan()

	assert.Contains(t, out, "a.com")
	assert.Contains(t, out, "~ RENEW")
	assert.Contains(t, out, "+ ISSUE")
	assert.Contains(t, out, "new.org")
	assert.Contains(t, out, "www.a.com")

	empty := reconcile.ComputePlan(nil, &stubInspector{}, nil, false, discardLogger())
	assert.Contains(t, empty.FormatPlan(), "Nothing to do")
}
