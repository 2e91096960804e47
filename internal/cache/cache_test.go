package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir string, lines []string) string {
	t.Helper()
	path := filepath.Join(dir, "manifest.jsonl")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFSHandleFetchPlainFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "root.cer"), []byte("cert-bytes"), 0o644))

	manifest := writeManifest(t, dir, []string{
		`{"uri":"rsync://example.com/root.cer","path":"root.cer","sha256":"abc"}`,
	})

	h, err := NewFSHandle(dir, manifest)
	require.NoError(t, err)

	path, err := h.Fetch(nil, "rsync://example.com/root.cer")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "root.cer"), path)
}

func TestFSHandleFetchUnknownURI(t *testing.T) {
	dir := t.TempDir()
	manifest := writeManifest(t, dir, nil)

	h, err := NewFSHandle(dir, manifest)
	require.NoError(t, err)

	_, err = h.Fetch(nil, "rsync://example.com/missing.cer")
	require.Error(t, err)
}

func TestFSHandleFetchDecompressesGzip(t *testing.T) {
	dir := t.TempDir()

	gzPath := filepath.Join(dir, "root.cer.gz")
	f, err := os.Create(gzPath)
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	_, err = zw.Write([]byte("decompressed-cert-bytes"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	manifest := writeManifest(t, dir, []string{
		`{"uri":"rsync://example.com/root.cer.gz","path":"root.cer.gz","sha256":"def"}`,
	})

	h, err := NewFSHandle(dir, manifest)
	require.NoError(t, err)

	path, err := h.Fetch(nil, "rsync://example.com/root.cer.gz")
	require.NoError(t, err)
	require.NotEqual(t, gzPath, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "decompressed-cert-bytes", string(data))

	require.NoError(t, h.Close())
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestFSHandleSkipsMalformedManifestLines(t *testing.T) {
	dir := t.TempDir()
	manifest := writeManifest(t, dir, []string{
		`not json`,
		`{"uri":"rsync://example.com/a.cer","path":"a.cer"}`,
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.cer"), []byte("x"), 0o644))

	h, err := NewFSHandle(dir, manifest)
	require.NoError(t, err)
	require.Len(t, h.Manifest, 1)
}
