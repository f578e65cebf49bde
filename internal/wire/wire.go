// Package wire frames durable values so readers can tell a record written by
// offsync from foreign or truncated bytes, and can compare per-key versions
// without decoding the payload.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version    byte = 1
	kindRecord byte = 1

	headerLen = 4 + 1 + 1 + 8 + 4
)

var (
	ErrCorrupt = errors.New("offsync: corrupt record")
	magic4     = [...]byte{'O', 'F', 'S', 'Y'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// EncodeRecord frames payload with its per-key version.
//
//	magic(4) | ver(1) | kind(1=record) | version(u64 be) | vlen(u32 be) | payload(vlen)
func EncodeRecord(ver uint64, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(headerLen + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindRecord)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], ver)
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// DecodeRecord is the inverse of EncodeRecord. The returned payload aliases b.
func DecodeRecord(b []byte) (ver uint64, payload []byte, err error) {
	if len(b) < headerLen || !hasMagic(b) || b[4] != version || b[5] != kindRecord {
		return 0, nil, ErrCorrupt
	}

	off := 6
	ver = binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	// exact length: trailing bytes mean a foreign writer or a torn write
	if vlen < 0 || vlen != len(b)-off {
		return 0, nil, ErrCorrupt
	}
	return ver, b[off : off+vlen], nil
}

// PeekVersion returns only the version of a framed record.
func PeekVersion(b []byte) (uint64, error) {
	v, _, err := DecodeRecord(b)
	return v, err
}
