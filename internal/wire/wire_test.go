package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func mustDecodeRecord(t *testing.T, b []byte) (uint64, []byte) {
	t.Helper()
	v, p, err := DecodeRecord(b)
	if err != nil {
		t.Fatalf("DecodeRecord error: %v", err)
	}
	return v, p
}

func TestRecordRTEmptyAndNonEmpty(t *testing.T) {
	cases := []struct {
		ver     uint64
		payload []byte
	}{
		{0, nil},
		{42, []byte("hello")},
		{math.MaxUint64, []byte{0, 1, 2, 3, 4}},
	}
	for _, tc := range cases {
		enc := EncodeRecord(tc.ver, tc.payload)
		ver, p := mustDecodeRecord(t, enc)
		if ver != tc.ver {
			t.Fatalf("version mismatch: got %d want %d", ver, tc.ver)
		}
		if !bytes.Equal(p, tc.payload) {
			t.Fatalf("payload mismatch: got %x want %x", p, tc.payload)
		}
	}
}

func TestRecordRejectsTrailingBytes(t *testing.T) {
	enc := EncodeRecord(7, []byte("x"))
	enc = append(enc, 0xDE, 0xAD)
	if _, _, err := DecodeRecord(enc); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt on trailing bytes, got %v", err)
	}
}

func TestRecordCorruptHeadersAndLengths(t *testing.T) {
	enc := EncodeRecord(1, []byte("abc"))

	badMagic := append([]byte(nil), enc...)
	badMagic[0] = 'X'
	if _, _, err := DecodeRecord(badMagic); err == nil {
		t.Fatalf("expected error on bad magic")
	}

	badVer := append([]byte(nil), enc...)
	badVer[4] = version + 1
	if _, _, err := DecodeRecord(badVer); err == nil {
		t.Fatalf("expected error on bad version")
	}

	badKind := append([]byte(nil), enc...)
	badKind[5] = kindRecord + 1
	if _, _, err := DecodeRecord(badKind); err == nil {
		t.Fatalf("expected error on bad kind")
	}

	// vlen claims more bytes than present
	long := append([]byte(nil), enc...)
	binary.BigEndian.PutUint32(long[14:18], 1000)
	if _, _, err := DecodeRecord(long); err == nil {
		t.Fatalf("expected error on oversized vlen")
	}

	if _, _, err := DecodeRecord(enc[:headerLen-1]); err == nil {
		t.Fatalf("expected error on short header")
	}
}

func TestRecordForeignBytes(t *testing.T) {
	if _, _, err := DecodeRecord([]byte(`{"key":"ns:a","value":"x"}`)); err == nil {
		t.Fatalf("expected plain JSON to be rejected")
	}
}

func TestPeekVersion(t *testing.T) {
	v, err := PeekVersion(EncodeRecord(99, []byte("p")))
	if err != nil || v != 99 {
		t.Fatalf("PeekVersion = %d, %v; want 99, nil", v, err)
	}
}
