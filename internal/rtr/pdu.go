// Package rtr implements the RTR (RPKI-to-Router) wire protocol server
// (§4.4): PDU framing and encode/decode bit-exact per RFC 6810 (version
// 0) and RFC 8210 (version 1), and the per-connection dispatch state
// machine.
package rtr

import (
	"encoding/binary"
	"fmt"
)

// PDU type codes (§4.4 table).
const (
	TypeSerialNotify  uint8 = 0
	TypeSerialQuery   uint8 = 1
	TypeResetQuery    uint8 = 2
	TypeCacheResponse uint8 = 3
	TypeIPv4Prefix    uint8 = 4
	TypeIPv6Prefix    uint8 = 6
	TypeEndOfData     uint8 = 7
	TypeCacheReset    uint8 = 8
	TypeRouterKey     uint8 = 9
	TypeErrorReport   uint8 = 10
)

// Error Report codes (RFC 6810/8210 §8.1, referenced by §4.4).
const (
	ErrCorruptData       uint16 = 0
	ErrInternalError     uint16 = 1
	ErrNoDataAvailable   uint16 = 2
	ErrInvalidRequest    uint16 = 3 // "Unsupported PDU Type" per this server's usage
	ErrUnsupportedProto  uint16 = 4
	ErrUnsupportedPDU    uint16 = 5
	ErrWithdrawalUnknown uint16 = 6
	ErrDuplicateAnnounce uint16 = 7
	ErrUnexpectedProto   uint16 = 8
)

// headerLen is the fixed 8-byte PDU header present on every PDU.
const headerLen = 8

// FatalErrorCode reports whether an Error Report of the given code
// must close the connection. Per RFC 8210 §10, codes 0 (Corrupt Data),
// 1 (Internal Error), and 4 (Unsupported Protocol Version) are fatal;
// No Data Available (2) and the rest are not. Implementers must
// consult the RFC and not guess (SPEC_FULL.md §9).
func FatalErrorCode(code uint16) bool {
	switch code {
	case ErrCorruptData, ErrInternalError, ErrUnsupportedProto:
		return true
	default:
		return false
	}
}

// Header is the common 8-byte PDU prefix.
type Header struct {
	Version   uint8
	Type      uint8
	SessionID uint16
	Length    uint32
}

func decodeHeader(b []byte) (Header, error) {
	if len(b) < headerLen {
		return Header{}, fmt.Errorf("rtr: short header (%d bytes)", len(b))
	}
	h := Header{
		Version:   b[0],
		Type:      b[1],
		SessionID: binary.BigEndian.Uint16(b[2:4]),
		Length:    binary.BigEndian.Uint32(b[4:8]),
	}
	if h.Length < headerLen {
		return h, fmt.Errorf("rtr: declared length %d below minimum header size", h.Length)
	}
	return h, nil
}

func putHeader(b []byte, version, typ uint8, sessionID uint16, length uint32) {
	b[0] = version
	b[1] = typ
	binary.BigEndian.PutUint16(b[2:4], sessionID)
	binary.BigEndian.PutUint32(b[4:8], length)
}

// SerialNotifyPDU: server -> client, announces a new serial is ready.
type SerialNotifyPDU struct {
	Version   uint8
	SessionID uint16
	Serial    uint32
}

func (p SerialNotifyPDU) Encode() []byte {
	b := make([]byte, 12)
	putHeader(b, p.Version, TypeSerialNotify, p.SessionID, 12)
	binary.BigEndian.PutUint32(b[8:12], p.Serial)
	return b
}

// SerialQueryPDU: client -> server.
type SerialQueryPDU struct {
	Version   uint8
	SessionID uint16
	Serial    uint32
}

func decodeSerialQuery(h Header, body []byte) (SerialQueryPDU, error) {
	if h.Length != 12 || len(body) < 4 {
		return SerialQueryPDU{}, fmt.Errorf("rtr: malformed Serial Query (length %d)", h.Length)
	}
	return SerialQueryPDU{
		Version:   h.Version,
		SessionID: h.SessionID,
		Serial:    binary.BigEndian.Uint32(body[0:4]),
	}, nil
}

// ResetQueryPDU: client -> server. Carries only the header.
type ResetQueryPDU struct {
	Version uint8
}

func decodeResetQuery(h Header) (ResetQueryPDU, error) {
	if h.Length != headerLen {
		return ResetQueryPDU{}, fmt.Errorf("rtr: malformed Reset Query (length %d)", h.Length)
	}
	return ResetQueryPDU{Version: h.Version}, nil
}

// CacheResponsePDU: server -> client. Carries the session id.
type CacheResponsePDU struct {
	Version   uint8
	SessionID uint16
}

func (p CacheResponsePDU) Encode() []byte {
	b := make([]byte, headerLen)
	putHeader(b, p.Version, TypeCacheResponse, p.SessionID, headerLen)
	return b
}

// CacheResetPDU: server -> client. Header only.
type CacheResetPDU struct {
	Version uint8
}

func (p CacheResetPDU) Encode() []byte {
	b := make([]byte, headerLen)
	putHeader(b, p.Version, TypeCacheReset, 0, headerLen)
	return b
}

// EndOfDataPDU: server -> client.
type EndOfDataPDU struct {
	Version   uint8
	SessionID uint16
	Serial    uint32
	Refresh   uint32 // version >= 1 only
	Retry     uint32
	Expire    uint32
}

func (p EndOfDataPDU) Encode() []byte {
	if p.Version == 0 {
		b := make([]byte, 12)
		putHeader(b, 0, TypeEndOfData, p.SessionID, 12)
		binary.BigEndian.PutUint32(b[8:12], p.Serial)
		return b
	}
	b := make([]byte, 24)
	putHeader(b, p.Version, TypeEndOfData, p.SessionID, 24)
	binary.BigEndian.PutUint32(b[8:12], p.Serial)
	binary.BigEndian.PutUint32(b[12:16], p.Refresh)
	binary.BigEndian.PutUint32(b[16:20], p.Retry)
	binary.BigEndian.PutUint32(b[20:24], p.Expire)
	return b
}

// IPv4PrefixPDU: server -> client.
type IPv4PrefixPDU struct {
	Version uint8
	Flags   uint8 // bit0: announce=1, withdraw=0
	Length  uint8 // prefix length
	MaxLen  uint8
	Prefix  [4]byte
	ASN     uint32
}

func (p IPv4PrefixPDU) Encode() []byte {
	b := make([]byte, 20)
	putHeader(b, p.Version, TypeIPv4Prefix, 0, 20)
	b[8] = p.Flags
	b[9] = p.Length
	b[10] = p.MaxLen
	b[11] = 0 // zero byte
	copy(b[12:16], p.Prefix[:])
	binary.BigEndian.PutUint32(b[16:20], p.ASN)
	return b
}

// IPv6PrefixPDU: server -> client.
type IPv6PrefixPDU struct {
	Version uint8
	Flags   uint8
	Length  uint8
	MaxLen  uint8
	Prefix  [16]byte
	ASN     uint32
}

func (p IPv6PrefixPDU) Encode() []byte {
	b := make([]byte, 32)
	putHeader(b, p.Version, TypeIPv6Prefix, 0, 32)
	b[8] = p.Flags
	b[9] = p.Length
	b[10] = p.MaxLen
	b[11] = 0
	copy(b[12:28], p.Prefix[:])
	binary.BigEndian.PutUint32(b[28:32], p.ASN)
	return b
}

// RouterKeyPDU: server -> client, version >= 1 only. Per RFC 8210
// §5.10, the header's session_id field position is reused as a
// (flags, zero) byte pair instead.
type RouterKeyPDU struct {
	Version uint8
	Flags   uint8
	ASN     uint32
	SKI     [20]byte
	SPKI    []byte
}

func (p RouterKeyPDU) Encode() []byte {
	const fixed = headerLen + 20 + 4 + 4 // header + SKI + ASN + SPKI-length
	length := uint32(fixed + len(p.SPKI))
	b := make([]byte, length)
	putHeader(b, p.Version, TypeRouterKey, 0, length)
	b[2] = p.Flags
	b[3] = 0
	copy(b[8:28], p.SKI[:])
	binary.BigEndian.PutUint32(b[28:32], p.ASN)
	binary.BigEndian.PutUint32(b[32:36], uint32(len(p.SPKI)))
	copy(b[36:], p.SPKI)
	return b
}

// ErrorReportPDU: either direction.
type ErrorReportPDU struct {
	Version   uint8
	ErrorCode uint16
	PDUCopy   []byte // the offending PDU, verbatim (may be empty)
	ErrorText string
}

func (p ErrorReportPDU) Encode() []byte {
	length := uint32(headerLen + 4 + len(p.PDUCopy) + 4 + len(p.ErrorText))
	b := make([]byte, length)
	putHeader(b, p.Version, TypeErrorReport, p.ErrorCode, length)
	off := headerLen
	binary.BigEndian.PutUint32(b[off:off+4], uint32(len(p.PDUCopy)))
	off += 4
	copy(b[off:], p.PDUCopy)
	off += len(p.PDUCopy)
	binary.BigEndian.PutUint32(b[off:off+4], uint32(len(p.ErrorText)))
	off += 4
	copy(b[off:], p.ErrorText)
	return b
}

func decodeErrorReport(h Header, body []byte) (ErrorReportPDU, error) {
	if len(body) < 4 {
		return ErrorReportPDU{}, fmt.Errorf("rtr: malformed Error Report")
	}
	pduLen := binary.BigEndian.Uint32(body[0:4])
	off := 4
	if uint32(off)+pduLen+4 > uint32(len(body)) {
		return ErrorReportPDU{}, fmt.Errorf("rtr: malformed Error Report: bad PDU length")
	}
	pduCopy := append([]byte(nil), body[off:off+int(pduLen)]...)
	off += int(pduLen)
	textLen := binary.BigEndian.Uint32(body[off : off+4])
	off += 4
	if uint32(off)+textLen > uint32(len(body)) {
		return ErrorReportPDU{}, fmt.Errorf("rtr: malformed Error Report: bad text length")
	}
	text := string(body[off : off+int(textLen)])

	return ErrorReportPDU{
		Version:   h.Version,
		ErrorCode: h.SessionID,
		PDUCopy:   pduCopy,
		ErrorText: text,
	}, nil
}
