// Package bridge is the one-way SyncBridge between foreground caches and the
// background context. Foreground code posts CACHE_SYNC messages and never waits
// for an answer; the background broadcasts SYNC_* notifications to every client.
package bridge

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/unkn0wn-root/offsync/fault"
	"github.com/unkn0wn-root/offsync/store"
)

// TypeCacheSync is the only foreground -> background message type.
const TypeCacheSync = "CACHE_SYNC"

// Operation types as carried on the wire.
const (
	wireSet    = "set"
	wireDelete = "delete"
	wireClear  = "clear"
)

// Kind is the decoded operation variant.
type Kind int

const (
	OpInvalid Kind = iota
	OpSet
	OpDelete
	OpClear
	OpClearNamespace
)

func (k Kind) String() string {
	switch k {
	case OpSet:
		return "set"
	case OpDelete:
		return "delete"
	case OpClear:
		return "clear"
	case OpClearNamespace:
		return "clear-namespace"
	default:
		return "invalid"
	}
}

// EncodingBase64 marks a set whose value is not JSON: Value then holds a JSON
// string with the standard base64 of the codec bytes. Caches using a binary
// codec (CBOR, msgpack, protobuf) produce it; browser posters never do.
const EncodingBase64 = "base64"

// Operation is one immutable cache mutation. Key is the composite durable key
// ("<namespace>:<key>"). A clear carrying a Namespace clears that namespace only;
// a clear without one wipes the whole store.
//
// Value is the JSON value itself, so a JSON-codec payload travels verbatim and
// what a browser posts ({"answer":"cA"}, "cA", 3) is what gets stored.
type Operation struct {
	Type      string          `json:"type"`
	Key       string          `json:"key,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
	Encoding  string          `json:"encoding,omitempty"`
	Namespace string          `json:"namespace,omitempty"`
	// Version orders writes to one key when newest-version-wins is enabled; 0 = unversioned.
	Version uint64 `json:"version,omitempty"`
}

// Payload returns the bytes a set stores durably.
func (o Operation) Payload() ([]byte, error) {
	switch o.Encoding {
	case "":
		return []byte(o.Value), nil
	case EncodingBase64:
		var s string
		if err := json.Unmarshal(o.Value, &s); err != nil {
			return nil, fmt.Errorf("%w: base64 value is not a string: %v", fault.ErrProtocolMismatch, err)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", fault.ErrProtocolMismatch, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: unknown value encoding %q", fault.ErrProtocolMismatch, o.Encoding)
	}
}

// Kind maps the wire type onto the tagged variant.
func (o Operation) Kind() Kind {
	switch o.Type {
	case wireSet:
		return OpSet
	case wireDelete:
		return OpDelete
	case wireClear:
		if o.Namespace != "" {
			return OpClearNamespace
		}
		return OpClear
	default:
		return OpInvalid
	}
}

// Message is the CACHE_SYNC envelope naming the durable store to apply to.
type Message struct {
	Type      string    `json:"type"`
	DBName    string    `json:"dbName"`
	StoreName string    `json:"storeName"`
	Operation Operation `json:"operation"`
}

// Validate reports malformed messages as fault.ErrProtocolMismatch.
func (m Message) Validate() error {
	if m.Type != TypeCacheSync {
		return fmt.Errorf("%w: unknown message type %q", fault.ErrProtocolMismatch, m.Type)
	}
	if m.DBName == "" || m.StoreName == "" {
		return fmt.Errorf("%w: missing db or store name", fault.ErrProtocolMismatch)
	}
	op := m.Operation
	switch op.Kind() {
	case OpSet, OpDelete:
		if op.Key == "" {
			return fmt.Errorf("%w: %s without key", fault.ErrProtocolMismatch, op.Type)
		}
		if op.Kind() == OpSet {
			if _, err := op.Payload(); err != nil {
				return err
			}
		}
	case OpClearNamespace:
		if err := store.ValidNamespace(op.Namespace); err != nil {
			return fmt.Errorf("%w: %v", fault.ErrProtocolMismatch, err)
		}
	case OpClear:
	default:
		return fmt.Errorf("%w: unknown operation type %q", fault.ErrProtocolMismatch, op.Type)
	}
	return nil
}

// Target names the durable store a message is addressed to.
type Target struct {
	DBName    string
	StoreName string
}

func (t Target) message(op Operation) Message {
	return Message{Type: TypeCacheSync, DBName: t.DBName, StoreName: t.StoreName, Operation: op}
}

// Set builds a set message for composite key. Valid JSON goes on the wire as
// is; anything else is carried base64 under EncodingBase64.
func (t Target) Set(namespace, key string, value []byte, version uint64) Message {
	op := Operation{Type: wireSet, Key: key, Namespace: namespace, Version: version}
	if json.Valid(value) {
		op.Value = json.RawMessage(value)
	} else {
		op.Value, _ = json.Marshal(base64.StdEncoding.EncodeToString(value))
		op.Encoding = EncodingBase64
	}
	return t.message(op)
}

func (t Target) Delete(namespace, key string) Message {
	return t.message(Operation{Type: wireDelete, Key: key, Namespace: namespace})
}

// Clear wipes the entire store, every namespace included.
func (t Target) Clear() Message {
	return t.message(Operation{Type: wireClear})
}

func (t Target) ClearNamespace(namespace string) Message {
	return t.message(Operation{Type: wireClear, Namespace: namespace})
}
