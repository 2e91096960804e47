package rtr

import (
	"fmt"
	"io"
)

// maxPDULen bounds a single PDU's declared length, guarding against a
// malicious or corrupt peer claiming a huge frame (Router Key PDUs are
// the largest legitimate variable-length PDU; SPKI blocks are small,
// but this still leaves generous headroom).
const maxPDULen = 1 << 20

// RawPDU is a PDU as read off the wire: its decoded header plus the
// full byte representation (header included), used both for dispatch
// and for echoing back in Error Report PDUs.
type RawPDU struct {
	Header Header
	Bytes  []byte
}

// ReadPDU reads one full PDU from r: first the 8-byte header, then the
// remainder per the header's declared length. A PDU whose declared
// length is less than 8 is a protocol error (§4.4).
func ReadPDU(r io.Reader) (RawPDU, error) {
	hdr := make([]byte, headerLen)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return RawPDU{}, err
	}

	h, err := decodeHeader(hdr)
	if err != nil {
		return RawPDU{}, err
	}
	if h.Length > maxPDULen {
		return RawPDU{}, fmt.Errorf("rtr: declared length %d exceeds maximum", h.Length)
	}

	full := make([]byte, h.Length)
	copy(full, hdr)
	if h.Length > headerLen {
		if _, err := io.ReadFull(r, full[headerLen:]); err != nil {
			return RawPDU{}, err
		}
	}

	return RawPDU{Header: h, Bytes: full}, nil
}

// DecodeSerialQuery decodes p as a Serial Query PDU.
func (p RawPDU) DecodeSerialQuery() (SerialQueryPDU, error) {
	return decodeSerialQuery(p.Header, p.Bytes[headerLen:])
}

// DecodeResetQuery decodes p as a Reset Query PDU.
func (p RawPDU) DecodeResetQuery() (ResetQueryPDU, error) {
	return decodeResetQuery(p.Header)
}

// DecodeErrorReport decodes p as an Error Report PDU.
func (p RawPDU) DecodeErrorReport() (ErrorReportPDU, error) {
	return decodeErrorReport(p.Header, p.Bytes[headerLen:])
}
