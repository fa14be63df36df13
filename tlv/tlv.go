// Record format is based on ToyTLV (MIT licence) written by Victor Grishchenko in 2024
// Original project: https://github.com/learn-decentralized-systems/toytlv

/*
Package tlv implements the compact TLV (Type-Length-Value) record format
used by plitka region files, index files and thumbnail metadata.

# TLV Record Format

Three encodings are selected automatically by record size:

 1. Tiny Format (1 byte header) - for records 0-9 bytes:
    [('0' + body_length)]
    Type information is lost (normalized to '0').
    Only produced for lowercase record types.

 2. Short Format (2 bytes header) - for records up to 255 bytes:
    [lowercase_type, body_length]

 3. Long Format (5 bytes header) - for records up to 2GB:
    [uppercase_type, length_as_4byte_little_endian]

Record types are uppercase letters A-Z. Passing a lowercase type to the
encoding functions permits the tiny format for small bodies; an uppercase
type forces an explicit header.

# Parsing and Safety

Two levels of parsing are provided:
  - Take, TakeAny: for trusted in-memory data, nil returns signal errors
  - TakeWary, TakeAnyWary: for untrusted data (anything read from disk),
    explicit error returns

Region files are parsed with the Wary functions exclusively. A damaged
header must surface as an error, never as a silent nil.

# Streaming Support

When the body length is not known upfront (a region payload is appended
item by item), use the streaming API:

	bookmark, buf := OpenHeader(buf, 'P') // placeholder length
	buf = append(buf, data...)            // body, incrementally
	CloseHeader(buf, bookmark)            // patch the length in
*/
package tlv

import (
	"encoding/binary"
	"errors"
)

const CaseBit uint8 = 'a' - 'A'

var (
	ErrIncomplete = errors.New("incomplete data")
	ErrBadRecord  = errors.New("bad TLV record format")
)

// ProbeHeader analyzes a TLV record header and extracts type and size information.
//
// Returns:
//   - lit: record type ('A'-'Z', '0' for tiny, '-' for error, 0 for incomplete)
//   - hdrlen: header length (1, 2, or 5 bytes)
//   - bodylen: body length in bytes
func ProbeHeader(data []byte) (lit byte, hdrlen, bodylen int) {
	if len(data) == 0 {
		return 0, 0, 0
	}
	dlit := data[0]
	if dlit >= '0' && dlit <= '9' { // tiny
		lit = '0'
		bodylen = int(dlit - '0')
		hdrlen = 1
	} else if dlit >= 'a' && dlit <= 'z' { // short
		if len(data) < 2 {
			return
		}
		lit = dlit - CaseBit
		hdrlen = 2
		bodylen = int(data[1])
	} else if dlit >= 'A' && dlit <= 'Z' { // long
		if len(data) < 5 {
			return
		}
		bl := binary.LittleEndian.Uint32(data[1:5])
		if bl > 0x7fffffff {
			lit = '-'
			return
		}
		lit = dlit
		bodylen = int(bl)
		hdrlen = 5
	} else {
		lit = '-'
	}
	return
}

// AppendHeader constructs and appends a TLV record header.
// Automatically selects format based on body length and case.
// Lowercase lit enables tiny format optimization for small bodies.
func AppendHeader(into []byte, lit byte, bodylen int) (ret []byte) {
	biglit := lit &^ CaseBit
	if biglit < 'A' || biglit > 'Z' {
		panic("TLV record type is A..Z")
	}
	if bodylen < 10 && (lit&CaseBit) != 0 {
		ret = append(into, byte('0'+bodylen))
	} else if bodylen > 0xff {
		if bodylen > 0x7fffffff {
			panic("oversized TLV record")
		}
		ret = append(into, biglit)
		ret = binary.LittleEndian.AppendUint32(ret, uint32(bodylen))
	} else {
		ret = append(into, lit|CaseBit, byte(bodylen))
	}
	return ret
}

// Take extracts a TLV record from trusted data. Uses nil returns for errors.
//
// Returns:
//   - body: record body content, nil if error
//   - rest: remaining data, original data if incomplete
func Take(lit byte, data []byte) (body, rest []byte) {
	flit, hdrlen, bodylen := ProbeHeader(data)
	if flit == 0 || hdrlen+bodylen > len(data) {
		return nil, data // Incomplete
	}
	if flit != lit && flit != '0' {
		return nil, nil // BadRecord
	}
	body = data[hdrlen : hdrlen+bodylen]
	rest = data[hdrlen+bodylen:]
	return
}

// TakeAny extracts any TLV record from trusted data without type restrictions.
//
// Returns:
//   - lit: record type found ('A'-'Z'), 0 if no data
//   - body: record body content, nil if error
//   - rest: remaining data, nil if error
func TakeAny(data []byte) (lit byte, body, rest []byte) {
	if len(data) == 0 {
		return 0, nil, nil
	}
	lit = data[0] & ^CaseBit
	body, rest = Take(lit, data)
	return
}

// TakeWary extracts a TLV record from untrusted data with explicit error handling.
//
// Returns:
//   - body: record body content, nil on error
//   - rest: remaining data, original data if incomplete
//   - err: ErrIncomplete or ErrBadRecord
func TakeWary(lit byte, data []byte) (body, rest []byte, err error) {
	flit, hdrlen, bodylen := ProbeHeader(data)
	if flit == 0 || hdrlen+bodylen > len(data) {
		return nil, data, ErrIncomplete
	}
	if flit != lit && flit != '0' {
		return nil, nil, ErrBadRecord
	}
	body = data[hdrlen : hdrlen+bodylen]
	rest = data[hdrlen+bodylen:]
	return
}

// TakeAnyWary extracts any TLV record from untrusted data with error handling.
//
// Returns:
//   - lit: record type found ('A'-'Z'), 0 on error
//   - body: record body content, nil on error
//   - rest: remaining data, nil on error
//   - err: ErrIncomplete or ErrBadRecord
func TakeAnyWary(data []byte) (lit byte, body, rest []byte, err error) {
	if len(data) == 0 {
		return 0, nil, nil, ErrIncomplete
	}
	flit, hdrlen, bodylen := ProbeHeader(data)
	if flit == '-' {
		return 0, nil, nil, ErrBadRecord
	}
	if flit == 0 || hdrlen+bodylen > len(data) {
		return 0, nil, data, ErrIncomplete
	}
	lit = data[0] & ^CaseBit
	if flit == '0' {
		lit = '0'
	}
	body = data[hdrlen : hdrlen+bodylen]
	rest = data[hdrlen+bodylen:]
	return
}

// TotalLen calculates the total length of multiple byte slices.
func TotalLen(inputs [][]byte) (sum int) {
	for _, input := range inputs {
		sum += len(input)
	}
	return
}

// Lit extracts the canonical record type from a TLV record's first byte.
// Returns ('A'-'Z', '0' for tiny format, or '-' for invalid).
func Lit(rec []byte) byte {
	b := rec[0]
	if b >= 'a' && b <= 'z' {
		return b - CaseBit
	} else if b >= 'A' && b <= 'Z' {
		return b
	} else if b >= '0' && b <= '9' {
		return '0'
	} else {
		return '-'
	}
}

// Append constructs a complete TLV record and appends it to the buffer.
// Lowercase lit enables tiny format optimization.
func Append(into []byte, lit byte, body ...[]byte) (res []byte) {
	total := TotalLen(body)
	res = AppendHeader(into, lit, total)
	for _, b := range body {
		res = append(res, b...)
	}
	return res
}

// Record creates a complete TLV record with pre-allocated capacity.
// Use Append() to add to an existing buffer.
func Record(lit byte, body ...[]byte) []byte {
	total := TotalLen(body)
	ret := make([]byte, 0, total+5)
	ret = AppendHeader(ret, lit, total)
	for _, b := range body {
		ret = append(ret, b...)
	}
	return ret
}

// Concat efficiently concatenates multiple byte slices with pre-allocation.
func Concat(msg ...[]byte) []byte {
	total := TotalLen(msg)
	ret := make([]byte, 0, total)
	for _, b := range msg {
		ret = append(ret, b...)
	}
	return ret
}

// OpenHeader begins a streamed TLV record for incremental construction.
// Must be paired with CloseHeader(). Use for large or dynamic records
// where the body size is not known in advance.
//
// Returns:
//   - bookmark: position marker needed for the CloseHeader() call
//   - res: buffer with the header appended (lit + 4 zero bytes for length)
//
// Always uses long format (5-byte header) for simplicity.
func OpenHeader(buf []byte, lit byte) (bookmark int, res []byte) {
	lit &= ^CaseBit
	if lit < 'A' || lit > 'Z' {
		panic("TLV liters are uppercase A-Z")
	}
	res = append(buf, lit)
	blanclen := []byte{0, 0, 0, 0}
	res = append(res, blanclen...)
	return len(res), res
}

// CloseHeader finalizes a streamed TLV record by writing the actual body
// length into the placeholder left by OpenHeader().
//
// Panics if the bookmark is invalid, indicating incorrect API usage.
func CloseHeader(buf []byte, bookmark int) {
	if bookmark < 5 || len(buf) < bookmark {
		panic("check the API docs")
	}
	binary.LittleEndian.PutUint32(buf[bookmark-4:bookmark], uint32(len(buf)-bookmark))
}
