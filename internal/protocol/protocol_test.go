package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Inbound
	}{
		{
			name: "message with numeric id",
			raw:  `{"type":"message","id":1,"text":"hi","receiver":"bob"}`,
			want: Message{ID: ID("1"), Text: "hi", Receiver: "bob"},
		},
		{
			name: "message with string id and empty text",
			raw:  `{"type":"message","id":"m-7","text":"","receiver":"bob"}`,
			want: Message{ID: ID(`"m-7"`), Text: "", Receiver: "bob"},
		},
		{
			name: "seen receipt",
			raw:  `{"type":"seen","id":2,"sender":"alice"}`,
			want: SeenReceipt{ID: ID("2"), Sender: "alice"},
		},
		{
			name: "unknown type",
			raw:  `{"type":"typing","id":3}`,
			want: Unrecognized{Type: "typing", Reason: "unknown type"},
		},
		{
			name: "missing type",
			raw:  `{"id":3}`,
			want: Unrecognized{Reason: "missing type"},
		},
		{
			name: "message without receiver",
			raw:  `{"type":"message","id":1,"text":"hi"}`,
			want: Unrecognized{Type: "message", Reason: "missing field receiver"},
		},
		{
			name: "message with null id",
			raw:  `{"type":"message","id":null,"text":"hi","receiver":"bob"}`,
			want: Unrecognized{Type: "message", Reason: "missing field id"},
		},
		{
			name: "seen without sender",
			raw:  `{"type":"seen","id":2}`,
			want: Unrecognized{Type: "seen", Reason: "missing field sender"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Decode([]byte(tt.raw)))
		})
	}
}

func TestDecodeInvalidJSON(t *testing.T) {
	ev := Decode([]byte("not json"))

	unknown, ok := ev.(Unrecognized)
	require.True(t, ok)
	require.Contains(t, unknown.Reason, "invalid json")
}

func TestEncode(t *testing.T) {
	req := require.New(t)

	payload, err := Encode(Delivery{ID: ID("1"), Text: "hi", Sender: "alice", Receiver: "bob"})
	req.NoError(err)
	req.JSONEq(`{"type":"message","id":1,"text":"hi","sender":"alice","receiver":"bob","status":"sent"}`, string(payload))

	payload, err = Encode(StatusUpdate{ID: ID(`"abc"`), Status: StatusDelivered})
	req.NoError(err)
	req.JSONEq(`{"type":"status","id":"abc","status":"delivered"}`, string(payload))

	payload, err = Encode(SeenNotification{ID: ID("2")})
	req.NoError(err)
	req.JSONEq(`{"type":"seen","id":2}`, string(payload))
}

func TestDecodedIDIsEchoedVerbatim(t *testing.T) {
	msg, ok := Decode([]byte(`{"type":"message","id":{"n":1},"text":"x","receiver":"r"}`)).(Message)
	require.True(t, ok)

	payload, err := Encode(StatusUpdate{ID: msg.ID, Status: StatusSent})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"status","id":{"n":1},"status":"sent"}`, string(payload))
}
