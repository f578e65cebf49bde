package codec

import "errors"

// Bytes is an identity codec for []byte values. The background handler uses it
// to store payloads that foreground caches already encoded.
type Bytes struct{}

func (Bytes) Encode(b []byte) ([]byte, error) { return b, nil }
func (Bytes) Decode(b []byte) ([]byte, error) { return b, nil }

// String is a trivial UTF-8 codec for string values.
type String struct{}

func (String) Encode(s string) ([]byte, error) { return []byte(s), nil }
func (String) Decode(b []byte) (string, error) { return string(b), nil }

var errNoMode = errors.New("codec: CBOR codec built without NewCBOR")
