package haproxy_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/huksley/haproxy-acme-validation-plugin/pkg/haproxy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestExtractDirectReferences(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := writeFile(t, dir, "haproxy.cfg", `
global
    daemon

frontend https
    bind :443 ssl crt /etc/letsencrypt/live/a.com/haproxy.pem crt /etc/letsencrypt/live/b.com/haproxy.pem
    # bind :8443 ssl crt /etc/letsencrypt/live/commented.out/haproxy.pem
`)

	refs, err := haproxy.NewExtractor(discardLogger()).Extract(cfg)
	require.NoError(t, err)

	require.Len(t, refs, 2)
	assert.Equal(t, "/etc/letsencrypt/live/a.com/haproxy.pem", refs[0].Path)
	assert.Equal(t, haproxy.RefDirect, refs[0].Kind)
	assert.Equal(t, "/etc/letsencrypt/live/b.com/haproxy.pem", refs[1].Path)
}

func TestExtractViaListFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	list := writeFile(t, dir, "crt-list.txt", `
# managed list
/etc/letsencrypt/live/a.com/haproxy.pem

/etc/letsencrypt/live/b.com/haproxy.pem [alpn h2] b.com
`)
	cfg := writeFile(t, dir, "haproxy.cfg", "frontend https\n    bind :443 ssl crt-list "+list+"\n")

	refs, err := haproxy.NewExtractor(discardLogger()).Extract(cfg)
	require.NoError(t, err)

	require.Len(t, refs, 2)
	assert.Equal(t, haproxy.RefViaList, refs[0].Kind)
	assert.Equal(t, "/etc/letsencrypt/live/a.com/haproxy.pem", refs[0].Path)
	// Options and SNI filters after the path are ignored.
	assert.Equal(t, "/etc/letsencrypt/live/b.com/haproxy.pem", refs[1].Path)
	assert.Equal(t, list, refs[1].Source)
}

func TestExtractUnionDeduplicates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	list := writeFile(t, dir, "crt-list.txt", "/etc/letsencrypt/live/a.com/haproxy.pem\n")
	cfg := writeFile(t, dir, "haproxy.cfg",
		"bind :443 ssl crt /etc/letsencrypt/live/a.com/haproxy.pem crt-list "+list+"\n")

	refs, err := haproxy.NewExtractor(discardLogger()).Extract(cfg)
	require.NoError(t, err)

	require.Len(t, refs, 1)
	assert.Equal(t, haproxy.RefDirect, refs[0].Kind)
}

func TestExtractMissingListFileIsNonFatal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := writeFile(t, dir, "haproxy.cfg", `
bind :443 ssl crt /etc/letsencrypt/live/a.com/haproxy.pem
bind :8443 ssl crt-list /nonexistent/crt-list.txt
`)

	refs, err := haproxy.NewExtractor(discardLogger()).Extract(cfg)
	require.NoError(t, err)

	// References collected before the failure survive.
	require.Len(t, refs, 1)
	assert.Equal(t, "/etc/letsencrypt/live/a.com/haproxy.pem", refs[0].Path)
}

func TestExtractMissingConfig(t *testing.T) {
	t.Parallel()

	_, err := haproxy.NewExtractor(discardLogger()).Extract(filepath.Join(t.TempDir(), "missing.cfg"))
	assert.Error(t, err)
}

func TestImpliedBaseDomain(t *testing.T) {
	t.Parallel()

	ref := haproxy.CertReference{Path: "/etc/letsencrypt/live/new.org/haproxy.pem"}
	assert.Equal(t, "new.org", ref.ImpliedBaseDomain())
}
