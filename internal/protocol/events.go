// Package protocol defines the events exchanged with chat clients over a
// relay connection and their JSON wire encoding.
package protocol

import (
	"bytes"
	"encoding/json"
)

// Event tags carried in the "type" field of every frame.
const (
	TypeMessage = "message"
	TypeSeen    = "seen"
	TypeStatus  = "status"
)

// Status is the delivery state reported back to the author of a message.
type Status string

const (
	// StatusSent means the relay accepted the message but the receiver was
	// not connected.
	StatusSent Status = "sent"
	// StatusDelivered means the message was handed to the receiver's live
	// connection. It does not mean the receiver read it.
	StatusDelivered Status = "delivered"
)

// Close codes used when the relay terminates a connection.
const (
	ClosePolicyViolation = 1008
	CloseGoingAway       = 1001
	CloseSendFailed      = 1011
	CloseSuperseded      = 4000
)

// ID is a client-chosen message identifier. The relay never interprets it and
// echoes the raw JSON value (string or number) back unchanged.
type ID json.RawMessage

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if len(id) == 0 {
		return []byte("null"), nil
	}
	return id, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	*id = append((*id)[:0], data...)
	return nil
}

// String returns the raw JSON text of the identifier.
func (id ID) String() string {
	return string(id)
}

func (id ID) missing() bool {
	return len(id) == 0 || bytes.Equal(id, []byte("null"))
}
