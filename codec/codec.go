// Package codec converts cache values to the bytes carried by SyncBridge
// messages and stored in the DurableStore.
//
// A cache and every process that hydrates it must agree on the codec; the
// durable bytes carry no codec marker.
package codec

import "fmt"

type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Names lists what ByName accepts, in the order the CLI documents them.
var Names = []string{"json", "json-strict", "cbor", "cbor-det", "msgpack", "msgpack-json"}

// ByName returns a schema-less codec by its configuration name. The empty
// name selects json.
func ByName[V any](name string) (Codec[V], error) {
	switch name {
	case "", "json":
		return JSON[V]{}, nil
	case "json-strict":
		return JSON[V]{Strict: true}, nil
	case "cbor", "cbor-det":
		return NewCBOR[V](name == "cbor-det")
	case "msgpack":
		return Msgpack[V]{}, nil
	case "msgpack-json":
		return Msgpack[V]{JSONTags: true}, nil
	}
	return nil, fmt.Errorf("codec: unknown codec %q (want one of %v)", name, Names)
}
