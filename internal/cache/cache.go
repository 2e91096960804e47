// Package cache implements the narrow Cache Handle interface through
// which the Validation Pipeline resolves a TAL's fetch URIs to local
// file paths (§4.2.1 of SPEC_FULL.md). The actual rsync/RRDP fetcher
// is an external collaborator, out of scope here; this package only
// reads what that fetcher already placed on disk, plus a manifest it
// wrote describing what it fetched.
package cache

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
)

// Handle resolves a TAL's fetch URIs to local paths, for one
// validation cycle. Cache handles are per-cycle, never process-global
// (§9 "Cache handle lifetime").
type Handle interface {
	// Fetch makes uri available locally, returning a path to the
	// fetched root certificate (or equivalent) for this TAL's SPKI.
	Fetch(ctx context.Context, uri string) (localPath string, err error)
	// Close releases cycle-scoped resources (e.g. decompression temp files).
	Close() error
}

// ManifestEntry describes one object the external fetcher placed in
// the local repository, as recorded in its cache manifest.
type ManifestEntry struct {
	URI       string
	LocalPath string
	SHA256    string
}

// FSHandle is the default Handle: it resolves URIs against a local
// repository root using a manifest file maintained by the external
// fetcher, decompressing objects transparently when needed.
type FSHandle struct {
	Root     string
	Manifest map[string]ManifestEntry // uri -> entry

	tmpFiles []string // decompressed temp files to clean up on Close
}

// NewFSHandle loads the manifest file at manifestPath (JSON Lines, one
// object per line: {"uri":...,"path":...,"sha256":...}) rooted at root,
// and returns a ready-to-use Handle for one validation cycle.
func NewFSHandle(root, manifestPath string) (*FSHandle, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("cache: reading manifest: %w", err)
	}

	h := &FSHandle{Root: root, Manifest: make(map[string]ManifestEntry)}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var entry ManifestEntry
		uri, err := jsonparser.GetString(line, "uri")
		if err != nil {
			continue // malformed entry; skip rather than fail the whole cycle
		}
		entry.URI = uri
		entry.LocalPath, _ = jsonparser.GetString(line, "path")
		entry.SHA256, _ = jsonparser.GetString(line, "sha256")
		h.Manifest[uri] = entry
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cache: scanning manifest: %w", err)
	}

	return h, nil
}

// Fetch implements Handle.
func (h *FSHandle) Fetch(ctx context.Context, uri string) (string, error) {
	entry, ok := h.Manifest[uri]
	if !ok {
		return "", fmt.Errorf("cache: %s: not present in fetch manifest", uri)
	}

	path := entry.LocalPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(h.Root, path)
	}

	switch {
	case strings.HasSuffix(path, ".gz"):
		return h.decompress(path, gzipReader)
	case strings.HasSuffix(path, ".bz2"):
		return h.decompress(path, bzip2Reader)
	default:
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("cache: %s: %w", uri, err)
		}
		return path, nil
	}
}

type readerFactory func(io.Reader) (io.ReadCloser, error)

func gzipReader(r io.Reader) (io.ReadCloser, error) { return gzip.NewReader(r) }
func bzip2Reader(r io.Reader) (io.ReadCloser, error) {
	zr, err := bzip2.NewReader(r, nil)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(zr), nil
}

// decompress reads the compressed file at path and writes its decoded
// contents to a cycle-scoped temp file, tracked for cleanup on Close.
func (h *FSHandle) decompress(path string, mk readerFactory) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	zr, err := mk(f)
	if err != nil {
		return "", fmt.Errorf("cache: decompressing %s: %w", path, err)
	}
	defer zr.Close()

	tmp, err := os.CreateTemp("", "rtrd-cache-*")
	if err != nil {
		return "", err
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, zr); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("cache: decompressing %s: %w", path, err)
	}

	h.tmpFiles = append(h.tmpFiles, tmp.Name())
	return tmp.Name(), nil
}

// Close removes any temp files created by decompression during this cycle.
func (h *FSHandle) Close() error {
	for _, f := range h.tmpFiles {
		os.Remove(f)
	}
	h.tmpFiles = nil
	return nil
}
