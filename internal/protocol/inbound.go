package protocol

import (
	"encoding/json"
	"fmt"
)

// Inbound is an event received from a client. The concrete type is one of
// Message, SeenReceipt or Unrecognized.
type Inbound interface {
	inbound()
}

// Message asks the relay to deliver Text to Receiver.
type Message struct {
	ID       ID
	Text     string
	Receiver string
}

// SeenReceipt reports that the current user has read message ID authored by
// Sender.
type SeenReceipt struct {
	ID     ID
	Sender string
}

// Unrecognized is produced for frames that are not valid JSON, carry an
// unknown type tag, or lack a field their type requires. The relay ignores
// them without replying.
type Unrecognized struct {
	Type   string
	Reason string
}

func (Message) inbound()      {}
func (SeenReceipt) inbound()  {}
func (Unrecognized) inbound() {}

type inboundFrame struct {
	Type     string  `json:"type"`
	ID       ID      `json:"id"`
	Text     *string `json:"text"`
	Receiver *string `json:"receiver"`
	Sender   *string `json:"sender"`
}

// Decode parses one client frame. It never fails: anything that cannot be
// mapped onto a known event becomes Unrecognized with a reason.
func Decode(raw []byte) Inbound {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Unrecognized{Reason: fmt.Sprintf("invalid json: %v", err)}
	}

	switch frame.Type {
	case TypeMessage:
		switch {
		case frame.ID.missing():
			return Unrecognized{Type: frame.Type, Reason: "missing field id"}
		case frame.Text == nil:
			return Unrecognized{Type: frame.Type, Reason: "missing field text"}
		case frame.Receiver == nil:
			return Unrecognized{Type: frame.Type, Reason: "missing field receiver"}
		}
		return Message{ID: frame.ID, Text: *frame.Text, Receiver: *frame.Receiver}
	case TypeSeen:
		switch {
		case frame.ID.missing():
			return Unrecognized{Type: frame.Type, Reason: "missing field id"}
		case frame.Sender == nil:
			return Unrecognized{Type: frame.Type, Reason: "missing field sender"}
		}
		return SeenReceipt{ID: frame.ID, Sender: *frame.Sender}
	case "":
		return Unrecognized{Reason: "missing type"}
	default:
		return Unrecognized{Type: frame.Type, Reason: "unknown type"}
	}
}
