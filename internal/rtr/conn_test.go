package rtr

import (
	"encoding/binary"
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rpkivp/rtrd/internal/vrp"
)

func newTestStoreWithOneVRP() *vrp.Store {
	store := vrp.NewStore(time.Hour, 10)
	table := vrp.NewTable()
	table.AddVRP(vrp.VRP{ASN: 64512, Prefix: netip.MustParsePrefix("192.0.2.0/24"), MaxLen: 24, Family: vrp.FamilyV4})
	store.Install(table)
	return store
}

func serveOnPipe(t *testing.T, h *connHandler) net.Conn {
	t.Helper()
	client, server := net.Pipe()
	h.conn = server
	go h.serve()
	t.Cleanup(func() { client.Close() })
	return client
}

func TestConnResetQueryEmptyStoreReturnsNoDataAvailable(t *testing.T) {
	store := vrp.NewStore(time.Hour, 10)
	h := &connHandler{log: zerolog.New(io.Discard), store: store, readyFn: func() bool { return true }}
	client := serveOnPipe(t, h)

	req := make([]byte, headerLen)
	putHeader(req, 1, TypeResetQuery, 0, headerLen)
	_, err := client.Write(req)
	require.NoError(t, err)

	raw, err := ReadPDU(client)
	require.NoError(t, err)
	require.Equal(t, TypeErrorReport, raw.Header.Type)
	e, err := raw.DecodeErrorReport()
	require.NoError(t, err)
	require.Equal(t, ErrNoDataAvailable, e.ErrorCode)
}

func TestConnResetQueryStreamsSnapshot(t *testing.T) {
	store := newTestStoreWithOneVRP()
	h := &connHandler{log: zerolog.New(io.Discard), store: store, readyFn: func() bool { return true }}
	client := serveOnPipe(t, h)

	req := make([]byte, headerLen)
	putHeader(req, 0, TypeResetQuery, 0, headerLen)
	_, err := client.Write(req)
	require.NoError(t, err)

	cacheResp, err := ReadPDU(client)
	require.NoError(t, err)
	require.Equal(t, TypeCacheResponse, cacheResp.Header.Type)
	require.Equal(t, store.SessionID(0), cacheResp.Header.SessionID)

	prefix, err := ReadPDU(client)
	require.NoError(t, err)
	require.Equal(t, TypeIPv4Prefix, prefix.Header.Type)

	eod, err := ReadPDU(client)
	require.NoError(t, err)
	require.Equal(t, TypeEndOfData, eod.Header.Type)
}

func TestConnSerialQuerySessionMismatchIsFatal(t *testing.T) {
	store := newTestStoreWithOneVRP()
	h := &connHandler{log: zerolog.New(io.Discard), store: store, readyFn: func() bool { return true }}
	client := serveOnPipe(t, h)

	req := make([]byte, 12)
	putHeader(req, 0, TypeSerialQuery, store.SessionID(0)^0xFFFF, 12)
	_, err := client.Write(req)
	require.NoError(t, err)

	raw, err := ReadPDU(client)
	require.NoError(t, err)
	require.Equal(t, TypeErrorReport, raw.Header.Type)
	e, err := raw.DecodeErrorReport()
	require.NoError(t, err)
	require.Equal(t, ErrCorruptData, e.ErrorCode)

	// fatal: the server closes, so the next read hits EOF.
	_, err = ReadPDU(client)
	require.Error(t, err)
}

func TestConnSerialQueryNoDiffSendsCacheResponseThenEndOfData(t *testing.T) {
	store := newTestStoreWithOneVRP()
	h := &connHandler{log: zerolog.New(io.Discard), store: store, readyFn: func() bool { return true }}
	client := serveOnPipe(t, h)

	req := make([]byte, 12)
	putHeader(req, 0, TypeSerialQuery, store.SessionID(0), 12)
	binary.BigEndian.PutUint32(req[8:12], store.CurrentSerial())
	_, err := client.Write(req)
	require.NoError(t, err)

	cacheResp, err := ReadPDU(client)
	require.NoError(t, err)
	require.Equal(t, TypeCacheResponse, cacheResp.Header.Type)

	eod, err := ReadPDU(client)
	require.NoError(t, err)
	require.Equal(t, TypeEndOfData, eod.Header.Type)
}

func TestConnUnsolicitedServerPDUGetsErrorReportNotClose(t *testing.T) {
	store := newTestStoreWithOneVRP()
	h := &connHandler{log: zerolog.New(io.Discard), store: store, readyFn: func() bool { return true }}
	client := serveOnPipe(t, h)

	bogus := CacheResetPDU{Version: 0}.Encode()
	_, err := client.Write(bogus)
	require.NoError(t, err)

	raw, err := ReadPDU(client)
	require.NoError(t, err)
	require.Equal(t, TypeErrorReport, raw.Header.Type)
	e, err := raw.DecodeErrorReport()
	require.NoError(t, err)
	require.Equal(t, ErrInvalidRequest, e.ErrorCode)

	// connection must stay open: a further valid Reset Query still works.
	req := make([]byte, headerLen)
	putHeader(req, 0, TypeResetQuery, 0, headerLen)
	_, err = client.Write(req)
	require.NoError(t, err)
	raw2, err := ReadPDU(client)
	require.NoError(t, err)
	require.Equal(t, TypeCacheResponse, raw2.Header.Type)
}

func TestConnNotReadyReturnsNoDataAvailable(t *testing.T) {
	store := newTestStoreWithOneVRP()
	h := &connHandler{log: zerolog.New(io.Discard), store: store, readyFn: func() bool { return false }}
	client := serveOnPipe(t, h)

	req := make([]byte, headerLen)
	putHeader(req, 0, TypeResetQuery, 0, headerLen)
	_, err := client.Write(req)
	require.NoError(t, err)

	raw, err := ReadPDU(client)
	require.NoError(t, err)
	e, err := raw.DecodeErrorReport()
	require.NoError(t, err)
	require.Equal(t, ErrNoDataAvailable, e.ErrorCode)
}
