package tal

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testSPKI = "MIIBIjANBgkqhkiG9w0BAQEFAAOCAQ8AMIIBCgKCAQEA"

func build(lines ...string) []byte {
	return []byte(strings.Join(lines, "\n"))
}

func TestParseValid(t *testing.T) {
	data := build(
		"# comment line",
		"rsync://rpki.example.net/repo/ta.cer",
		"https://rpki.example.net/repo/ta.cer",
		"",
		testSPKI,
		"",
	)

	tl, err := Load("example.tal", data)
	require.NoError(t, err)
	require.Equal(t, []string{
		"rsync://rpki.example.net/repo/ta.cer",
		"https://rpki.example.net/repo/ta.cer",
	}, tl.URIs)

	want, err := base64.StdEncoding.DecodeString(testSPKI)
	require.NoError(t, err)
	require.Equal(t, want, tl.SPKI)
}

func TestParseCRLF(t *testing.T) {
	data := []byte("rsync://rpki.example.net/repo/ta.cer\r\n\r\n" + testSPKI + "\r\n")
	tl, err := Load("crlf.tal", data)
	require.NoError(t, err)
	require.Equal(t, []string{"rsync://rpki.example.net/repo/ta.cer"}, tl.URIs)
}

func TestParseMixedLineEndings(t *testing.T) {
	data := []byte("rsync://a/ta.cer\r\nhttps://b/ta.cer\n\n" + testSPKI + "\n")
	tl, err := Load("mixed.tal", data)
	require.NoError(t, err)
	require.Len(t, tl.URIs, 2)
}

func TestParseSPKIWhitespaceInsensitive(t *testing.T) {
	half := len(testSPKI) / 2
	data := build(
		"rsync://a/ta.cer",
		"",
		testSPKI[:half],
		testSPKI[half:],
		"",
	)
	tl, err := Load("wrapped.tal", data)
	require.NoError(t, err)
	want, _ := base64.StdEncoding.DecodeString(testSPKI)
	require.Equal(t, want, tl.SPKI)
}

func TestParseBadScheme(t *testing.T) {
	data := build("ftp://a/ta.cer", "", testSPKI, "")
	_, err := Load("bad.tal", data)
	require.ErrorIs(t, err, ErrBadScheme)
}

func TestParseNoURIs(t *testing.T) {
	data := build("# only a comment", "", testSPKI, "")
	_, err := Load("nouris.tal", data)
	require.ErrorIs(t, err, ErrNoURIs)
}

func TestParseMissingSeparator(t *testing.T) {
	data := build("rsync://a/ta.cer", testSPKI)
	_, err := Load("nosep.tal", data)
	require.Error(t, err)
}

func TestParseMissingSPKI(t *testing.T) {
	data := build("rsync://a/ta.cer", "", "")
	_, err := Load("nospki.tal", data)
	require.ErrorIs(t, err, ErrNoSPKI)
}

func TestParseBadBase64(t *testing.T) {
	data := build("rsync://a/ta.cer", "", "not-valid-base64!!!", "")
	_, err := Load("badb64.tal", data)
	require.ErrorIs(t, err, ErrBadSPKI)
}
