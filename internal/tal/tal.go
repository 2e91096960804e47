// Package tal parses Trust Anchor Locator files: a text format of
// comment lines, a list of fetch URIs, a blank separator, and a
// trailing base64 Subject Public Key Info block (§4.3).
package tal

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// TAL is a parsed trust anchor locator.
type TAL struct {
	FileName string
	URIs     []string
	SPKI     []byte // decoded DER SubjectPublicKeyInfo
}

var (
	ErrNoURIs      = fmt.Errorf("tal: no fetch URIs found")
	ErrBadScheme   = fmt.Errorf("tal: unsupported URI scheme")
	ErrNoSeparator = fmt.Errorf("tal: missing blank line separator before SPKI block")
	ErrNoSPKI      = fmt.Errorf("tal: missing SubjectPublicKeyInfo block")
	ErrBadSPKI     = fmt.Errorf("tal: could not decode base64 SubjectPublicKeyInfo")
)

// Load parses the contents of a TAL file named fileName.
func Load(fileName string, data []byte) (*TAL, error) {
	lines := splitLines(string(data))

	i := 0

	// comment lines: first char '#'
	for i < len(lines) && strings.HasPrefix(lines[i], "#") {
		i++
	}

	// URI lines, until the blank separator
	var uris []string
	for i < len(lines) && strings.TrimSpace(lines[i]) != "" {
		uri := strings.TrimSpace(lines[i])
		switch {
		case strings.HasPrefix(uri, "rsync://"):
		case strings.HasPrefix(uri, "https://"):
		default:
			return nil, fmt.Errorf("%w: %q", ErrBadScheme, uri)
		}
		uris = append(uris, uri)
		i++
	}
	if len(uris) == 0 {
		return nil, ErrNoURIs
	}

	// blank separator
	if i >= len(lines) || strings.TrimSpace(lines[i]) != "" {
		return nil, ErrNoSeparator
	}
	i++

	// remainder is the base64 SPKI, whitespace-insensitive
	var b64 strings.Builder
	for ; i < len(lines); i++ {
		b64.WriteString(strings.TrimSpace(lines[i]))
	}
	if b64.Len() == 0 {
		return nil, ErrNoSPKI
	}

	spki, err := base64.StdEncoding.DecodeString(b64.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSPKI, err)
	}

	return &TAL{
		FileName: fileName,
		URIs:     uris,
		SPKI:     spki,
	}, nil
}

// splitLines splits on both "\n" and "\r\n", permitting the two to be
// mixed within a single file.
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	// a trailing newline produces one spurious empty line; drop it
	// only when it's truly the final, file-ending newline (not a
	// meaningful blank separator followed by nothing, which ErrNoSPKI
	// already catches via b64.Len() == 0).
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
