package protocol

import "encoding/json"

// Outbound is an event the relay writes to a client. The concrete type is one
// of Delivery, StatusUpdate or SeenNotification.
type Outbound interface {
	outbound()
}

// Delivery carries a message to its receiver. Status is always StatusSent on
// the wire.
type Delivery struct {
	ID       ID
	Text     string
	Sender   string
	Receiver string
}

// StatusUpdate tells the author of a message whether it reached a live
// connection.
type StatusUpdate struct {
	ID     ID
	Status Status
}

// SeenNotification tells the author of message ID that it was read.
type SeenNotification struct {
	ID ID
}

func (Delivery) outbound()         {}
func (StatusUpdate) outbound()     {}
func (SeenNotification) outbound() {}

// MarshalJSON implements json.Marshaler.
func (d Delivery) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string `json:"type"`
		ID       ID     `json:"id"`
		Text     string `json:"text"`
		Sender   string `json:"sender"`
		Receiver string `json:"receiver"`
		Status   Status `json:"status"`
	}{TypeMessage, d.ID, d.Text, d.Sender, d.Receiver, StatusSent})
}

// MarshalJSON implements json.Marshaler.
func (s StatusUpdate) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type   string `json:"type"`
		ID     ID     `json:"id"`
		Status Status `json:"status"`
	}{TypeStatus, s.ID, s.Status})
}

// MarshalJSON implements json.Marshaler.
func (s SeenNotification) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		ID   ID     `json:"id"`
	}{TypeSeen, s.ID})
}

// Encode returns the wire form of ev.
func Encode(ev Outbound) ([]byte, error) {
	return json.Marshal(ev)
}
