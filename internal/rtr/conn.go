package rtr

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/time/rate"

	"github.com/rpkivp/rtrd/internal/vrp"
)

// Intervals carries the three RTR interval timers sent in End of Data
// (version >= 1 only); zero values are valid for version 0 connections.
type Intervals struct {
	Refresh uint32
	Retry   uint32
	Expire  uint32
}

// connHandler serves one accepted connection to completion: read a
// PDU, dispatch it, write the response burst, repeat (§4.4 "Per-
// connection dispatch" and "State per connection").
type connHandler struct {
	conn      net.Conn
	log       zerolog.Logger
	store     *vrp.Store
	intervals Intervals
	limiter   *rate.Limiter
	readyFn      func() bool // reports whether the driver has completed a first cycle
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// serve runs the read-dispatch-respond loop until the peer disconnects
// or a fatal protocol error occurs. It never returns an error: all
// failures are logged and result in the connection closing.
func (h *connHandler) serve() {
	defer h.conn.Close()

	for {
		if h.readTimeout > 0 {
			h.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		}
		raw, err := ReadPDU(h.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.log.Debug().Err(err).Msg("connection closed reading PDU")
			}
			return
		}

		if h.limiter != nil && isQueryType(raw.Header.Type) {
			if err := h.limiter.Wait(context.Background()); err != nil {
				h.log.Warn().Err(err).Msg("rate limiter wait failed")
				return
			}
		}

		if fatal := h.dispatch(raw); fatal {
			return
		}
	}
}

func isQueryType(t uint8) bool {
	return t == TypeSerialQuery || t == TypeResetQuery
}

// dispatch routes one PDU and writes its response burst. It returns
// true if the connection must now close.
func (h *connHandler) dispatch(raw RawPDU) (fatalClose bool) {
	switch raw.Header.Type {
	case TypeSerialQuery:
		return h.handleSerialQuery(raw)
	case TypeResetQuery:
		return h.handleResetQuery(raw)
	case TypeErrorReport:
		return h.handleErrorReport(raw)
	default:
		// any server-originated PDU type arriving from a client is a
		// protocol error, but not a fatal one (§4.4).
		h.log.Warn().Uint8("type", raw.Header.Type).Msg("unsupported PDU type from client")
		h.writeErrorReport(raw.Header.Version, ErrInvalidRequest, raw.Bytes, "unsupported PDU type")
		return false
	}
}

func (h *connHandler) handleSerialQuery(raw RawPDU) bool {
	q, err := raw.DecodeSerialQuery()
	if err != nil {
		h.log.Warn().Err(err).Msg("malformed Serial Query")
		h.writeErrorReport(raw.Header.Version, ErrCorruptData, raw.Bytes, err.Error())
		return true
	}

	version := q.Version
	if q.SessionID != h.store.SessionID(version) {
		h.log.Warn().Uint16("got", q.SessionID).Uint16("want", h.store.SessionID(version)).Msg("Serial Query session id mismatch")
		h.writeErrorReport(version, ErrCorruptData, raw.Bytes, "session id mismatch")
		return true
	}

	if !h.readyFn() {
		h.writeErrorReport(version, ErrNoDataAvailable, nil, "validation has not completed a first cycle")
		return false
	}

	serial := q.Serial
	switch h.store.DeltaStatus(&serial) {
	case vrp.NoDataAvailable:
		h.writeErrorReport(version, ErrNoDataAvailable, nil, "no data available")
		return false
	case vrp.DiffUndetermined:
		h.log.Debug().Uint32("serial", serial).Msg("requested serial outside retained window, sending Cache Reset")
		h.writePDUs(CacheResetPDU{Version: version}.Encode())
		return false
	case vrp.DiffAvailable:
		// Intent per spec: stream the real delta. Current policy: until
		// delta composition is trusted end-to-end, respond Cache Reset
		// instead of a fabricated partial stream (§9).
		h.log.Debug().Uint32("serial", serial).Msg("delta available; conservatively sending Cache Reset")
		h.writePDUs(CacheResetPDU{Version: version}.Encode())
		return false
	case vrp.NoDiff:
		h.sendCacheResponseThenPayloads(version, nil)
		return false
	default:
		return false
	}
}

func (h *connHandler) handleResetQuery(raw RawPDU) bool {
	_, err := raw.DecodeResetQuery()
	if err != nil {
		h.log.Warn().Err(err).Msg("malformed Reset Query")
		h.writeErrorReport(raw.Header.Version, ErrCorruptData, raw.Bytes, err.Error())
		return true
	}
	version := raw.Header.Version

	if !h.readyFn() {
		h.writeErrorReport(version, ErrNoDataAvailable, nil, "validation has not completed a first cycle")
		return false
	}

	if h.store.DeltaStatus(nil) == vrp.NoDataAvailable {
		h.writeErrorReport(version, ErrNoDataAvailable, nil, "no data available")
		return false
	}

	h.sendCacheResponseThenPayloads(version, h.store.SnapshotIter(version))
	return false
}

func (h *connHandler) handleErrorReport(raw RawPDU) bool {
	e, err := raw.DecodeErrorReport()
	if err != nil {
		h.log.Warn().Err(err).Msg("malformed Error Report from client")
		return true
	}
	if FatalErrorCode(e.ErrorCode) {
		h.log.Warn().Uint16("code", e.ErrorCode).Str("text", e.ErrorText).Msg("fatal Error Report from client, closing")
		return true
	}
	h.log.Info().Uint16("code", e.ErrorCode).Str("text", e.ErrorText).Msg("Error Report from client")
	return false
}

// sendCacheResponseThenPayloads emits one response burst: Cache
// Response, zero or more payload PDUs drawn from items (nil for an
// empty payload), then End of Data — all as a single Write (§4.4
// ordering guarantee, SPEC_FULL.md §4.4 pooled-buffer note).
func (h *connHandler) sendCacheResponseThenPayloads(version uint8, items func(func(vrp.Item) bool)) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	sessionID := h.store.SessionID(version)
	buf.Write(CacheResponsePDU{Version: version, SessionID: sessionID}.Encode())

	if items != nil {
		for it := range items {
			buf.Write(encodePayloadItem(version, it))
		}
	}

	eod := EndOfDataPDU{
		Version:   version,
		SessionID: sessionID,
		Serial:    h.store.CurrentSerial(),
		Refresh:   h.intervals.Refresh,
		Retry:     h.intervals.Retry,
		Expire:    h.intervals.Expire,
	}
	buf.Write(eod.Encode())

	h.writeBuf(buf)
}

// writePDUs writes a single preformed PDU (Cache Reset) as the whole
// response burst.
func (h *connHandler) writePDUs(encoded []byte) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.Write(encoded)
	h.writeBuf(buf)
}

func (h *connHandler) writeErrorReport(version uint8, code uint16, offending []byte, text string) {
	pdu := ErrorReportPDU{Version: version, ErrorCode: code, PDUCopy: offending, ErrorText: text}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.Write(pdu.Encode())
	h.writeBuf(buf)
}

func (h *connHandler) writeBuf(buf *bytebufferpool.ByteBuffer) {
	if h.writeTimeout > 0 {
		h.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	}
	if _, err := h.conn.Write(buf.B); err != nil {
		h.log.Debug().Err(err).Msg("write failed")
	}
}

// encodePayloadItem encodes a single snapshot/delta Item as its wire
// PDU, skipping Router Key items for version 0 connections (§4.4
// "Payload PDU emission").
func encodePayloadItem(version uint8, it vrp.Item) []byte {
	switch {
	case it.VRP != nil:
		v := it.VRP
		flag := uint8(it.Flag)
		if v.Family == vrp.FamilyV4 {
			p := IPv4PrefixPDU{Version: version, Flags: flag, Length: uint8(v.Prefix.Bits()), MaxLen: v.MaxLen, ASN: v.ASN}
			p.Prefix = v.Prefix.Addr().As4()
			return p.Encode()
		}
		p := IPv6PrefixPDU{Version: version, Flags: flag, Length: uint8(v.Prefix.Bits()), MaxLen: v.MaxLen, ASN: v.ASN}
		p.Prefix = v.Prefix.Addr().As16()
		return p.Encode()
	case it.RouterKey != nil && version >= 1:
		k := it.RouterKey
		p := RouterKeyPDU{Version: version, Flags: uint8(it.Flag), ASN: k.ASN, SKI: k.SKI, SPKI: []byte(k.SPKI)}
		return p.Encode()
	default:
		return nil
	}
}
