package delivery

import (
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/Tyrowin/directchat/internal/protocol"
	"github.com/Tyrowin/directchat/internal/registry"
	"github.com/stretchr/testify/require"
)

// trace records every event written to any fakeConn, in order.
type trace struct {
	mu     sync.Mutex
	writes []write
}

type write struct {
	to string
	ev protocol.Outbound
}

func (tr *trace) record(to string, ev protocol.Outbound) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.writes = append(tr.writes, write{to: to, ev: ev})
}

func (tr *trace) all() []write {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]write(nil), tr.writes...)
}

type fakeConn struct {
	name    string
	trace   *trace
	sendErr error
	closed  []int
}

func (c *fakeConn) Send(ev protocol.Outbound) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.trace.record(c.name, ev)
	return nil
}

func (c *fakeConn) Close(code int, _ string) error {
	c.closed = append(c.closed, code)
	return nil
}

type fixture struct {
	reg    *registry.Registry
	engine *Engine
	trace  *trace
}

func newFixture() *fixture {
	reg := registry.New()
	return &fixture{
		reg:    reg,
		engine: NewEngine(reg, slog.New(slog.DiscardHandler)),
		trace:  &trace{},
	}
}

func (f *fixture) connect(name string) *fakeConn {
	conn := &fakeConn{name: name, trace: f.trace}
	f.reg.Register(name, conn)
	return conn
}

func TestMessageToOnlineReceiver(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	alice := f.connect("alice")
	f.connect("bob")

	err := f.engine.Handle("alice", alice, protocol.Message{ID: protocol.ID("1"), Text: "hi", Receiver: "bob"})
	req.NoError(err)

	req.Equal([]write{
		{to: "bob", ev: protocol.Delivery{ID: protocol.ID("1"), Text: "hi", Sender: "alice", Receiver: "bob"}},
		{to: "alice", ev: protocol.StatusUpdate{ID: protocol.ID("1"), Status: protocol.StatusDelivered}},
	}, f.trace.all())
	req.Equal(int64(1), f.engine.Stats().Delivered)
}

func TestMessageToOfflineReceiver(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	alice := f.connect("alice")
	f.connect("carol")

	err := f.engine.Handle("alice", alice, protocol.Message{ID: protocol.ID("1"), Text: "hi", Receiver: "bob"})
	req.NoError(err)

	req.Equal([]write{
		{to: "alice", ev: protocol.StatusUpdate{ID: protocol.ID("1"), Status: protocol.StatusSent}},
	}, f.trace.all())
	req.Equal(int64(1), f.engine.Stats().Undelivered)
}

func TestMessageToSelf(t *testing.T) {
	f := newFixture()
	alice := f.connect("alice")

	require.NoError(t, f.engine.Handle("alice", alice, protocol.Message{ID: protocol.ID("5"), Text: "note", Receiver: "alice"}))

	require.Equal(t, []write{
		{to: "alice", ev: protocol.Delivery{ID: protocol.ID("5"), Text: "note", Sender: "alice", Receiver: "alice"}},
		{to: "alice", ev: protocol.StatusUpdate{ID: protocol.ID("5"), Status: protocol.StatusDelivered}},
	}, f.trace.all())
}

func TestSeenReceiptToOnlineSender(t *testing.T) {
	f := newFixture()
	f.connect("alice")
	bob := f.connect("bob")

	require.NoError(t, f.engine.Handle("bob", bob, protocol.SeenReceipt{ID: protocol.ID("2"), Sender: "alice"}))

	require.Equal(t, []write{
		{to: "alice", ev: protocol.SeenNotification{ID: protocol.ID("2")}},
	}, f.trace.all())
	require.Equal(t, int64(1), f.engine.Stats().SeenSent)
}

func TestSeenReceiptToOfflineSenderIsDropped(t *testing.T) {
	f := newFixture()
	bob := f.connect("bob")

	require.NoError(t, f.engine.Handle("bob", bob, protocol.SeenReceipt{ID: protocol.ID("2"), Sender: "alice"}))

	require.Empty(t, f.trace.all())
	require.Equal(t, int64(1), f.engine.Stats().SeenDropped)
}

func TestUnrecognizedEventIsIgnored(t *testing.T) {
	f := newFixture()
	alice := f.connect("alice")
	f.connect("bob")

	require.NoError(t, f.engine.Handle("alice", alice, protocol.Unrecognized{Type: "typing", Reason: "unknown type"}))

	require.Empty(t, f.trace.all())
	require.Equal(t, int64(1), f.engine.Stats().Ignored)
}

func TestFailedPeerSendClosesPeerAndReportsSent(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	alice := f.connect("alice")
	bob := f.connect("bob")
	bob.sendErr = errors.New("broken pipe")

	req.NoError(f.engine.Handle("alice", alice, protocol.Message{ID: protocol.ID("1"), Text: "hi", Receiver: "bob"}))

	req.Equal([]write{
		{to: "alice", ev: protocol.StatusUpdate{ID: protocol.ID("1"), Status: protocol.StatusSent}},
	}, f.trace.all())
	req.Equal([]int{protocol.CloseSendFailed}, bob.closed)
	req.Empty(alice.closed)
	req.Equal(int64(1), f.engine.Stats().PeerFailures)
}

func TestFailedSelfSendIsReturned(t *testing.T) {
	f := newFixture()
	alice := f.connect("alice")
	alice.sendErr = errors.New("connection reset")

	err := f.engine.Handle("alice", alice, protocol.Message{ID: protocol.ID("1"), Text: "hi", Receiver: "bob"})

	require.ErrorIs(t, err, alice.sendErr)
}
