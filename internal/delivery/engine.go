// Package delivery routes events received on one relay connection to the
// connections of the users they are addressed to.
package delivery

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/Tyrowin/directchat/internal/protocol"
	"github.com/Tyrowin/directchat/internal/registry"
)

// Stats counts routing outcomes since the engine was created.
type Stats struct {
	Delivered    int64
	Undelivered  int64
	SeenSent     int64
	SeenDropped  int64
	Ignored      int64
	PeerFailures int64
}

// Engine applies the routing rules for chat messages and seen receipts. A
// single Engine is shared by all connections; it holds no per-connection
// state.
type Engine struct {
	registry *registry.Registry
	log      *slog.Logger

	delivered    atomic.Int64
	undelivered  atomic.Int64
	seenSent     atomic.Int64
	seenDropped  atomic.Int64
	ignored      atomic.Int64
	peerFailures atomic.Int64
}

// NewEngine returns an Engine routing through reg.
func NewEngine(reg *registry.Registry, log *slog.Logger) *Engine {
	return &Engine{registry: reg, log: log}
}

// Handle processes one event received from user on conn. The returned error
// is non-nil only when writing to conn itself failed, in which case the
// caller must terminate that connection. Failures writing to other users'
// connections close those connections and are not returned.
func (e *Engine) Handle(user string, conn registry.Conn, ev protocol.Inbound) error {
	switch ev := ev.(type) {
	case protocol.Message:
		return e.routeMessage(user, conn, ev)
	case protocol.SeenReceipt:
		e.routeSeen(user, ev)
		return nil
	case protocol.Unrecognized:
		e.ignored.Add(1)
		e.log.Warn("Ignoring unrecognized event", "user", user, "type", ev.Type, "reason", ev.Reason)
		return nil
	default:
		e.ignored.Add(1)
		e.log.Warn("Ignoring unsupported event", "user", user, "event", fmt.Sprintf("%T", ev))
		return nil
	}
}

func (e *Engine) routeMessage(sender string, conn registry.Conn, msg protocol.Message) error {
	status := protocol.StatusSent

	if receiver, ok := e.registry.Lookup(msg.Receiver); ok {
		delivery := protocol.Delivery{
			ID:       msg.ID,
			Text:     msg.Text,
			Sender:   sender,
			Receiver: msg.Receiver,
		}
		if e.sendToPeer(msg.Receiver, receiver, delivery) {
			status = protocol.StatusDelivered
			e.delivered.Add(1)
		}
	}
	if status == protocol.StatusSent {
		e.undelivered.Add(1)
	}

	if err := conn.Send(protocol.StatusUpdate{ID: msg.ID, Status: status}); err != nil {
		return fmt.Errorf("send status to %s: %w", sender, err)
	}
	return nil
}

func (e *Engine) routeSeen(reader string, receipt protocol.SeenReceipt) {
	author, ok := e.registry.Lookup(receipt.Sender)
	if !ok {
		e.seenDropped.Add(1)
		e.log.Debug("Dropping seen receipt for offline user", "user", reader, "sender", receipt.Sender, "id", receipt.ID.String())
		return
	}

	if e.sendToPeer(receipt.Sender, author, protocol.SeenNotification{ID: receipt.ID}) {
		e.seenSent.Add(1)
	} else {
		e.seenDropped.Add(1)
	}
}

// sendToPeer writes ev to another user's connection. A failed write closes
// that connection so its own handler terminates and unregisters it.
func (e *Engine) sendToPeer(user string, conn registry.Conn, ev protocol.Outbound) bool {
	err := conn.Send(ev)
	if err == nil {
		return true
	}

	e.peerFailures.Add(1)
	e.log.Warn("Send to peer failed; closing its connection", "peer", user, "error", err)
	if closeErr := conn.Close(protocol.CloseSendFailed, "send failed"); closeErr != nil {
		e.log.Debug("Closing failed peer connection", "peer", user, "error", closeErr)
	}
	return false
}

// Stats returns a snapshot of the routing counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Delivered:    e.delivered.Load(),
		Undelivered:  e.undelivered.Load(),
		SeenSent:     e.seenSent.Load(),
		SeenDropped:  e.seenDropped.Load(),
		Ignored:      e.ignored.Load(),
		PeerFailures: e.peerFailures.Load(),
	}
}
