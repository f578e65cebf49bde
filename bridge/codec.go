package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/unkn0wn-root/offsync/fault"
)

// Encode marshals m as the JSON envelope other processes expect.
func Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// Decode parses and validates a CACHE_SYNC envelope.
func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", fault.ErrProtocolMismatch, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

func EncodeNotification(n Notification) ([]byte, error) {
	if err := n.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", fault.ErrProtocolMismatch, err)
	}
	return json.Marshal(n)
}

func DecodeNotification(b []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(b, &n); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", fault.ErrProtocolMismatch, err)
	}
	if err := n.Validate(); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", fault.ErrProtocolMismatch, err)
	}
	return n, nil
}
