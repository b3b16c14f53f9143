package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "unknown", ConnectionState(42).String())
}

func TestConnectionState_ZeroValueIsDisconnected(t *testing.T) {
	var s ConnectionState
	assert.Equal(t, StateDisconnected, s)
}

func TestSendMessageRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     SendMessageRequest
		wantErr error
	}{
		{"room message", SendMessageRequest{RoomID: "r1", Content: "hi"}, nil},
		{"direct message", SendMessageRequest{ReceiverID: "u2", Content: "hi", MessageType: MessageTypeImage}, nil},
		{"no target", SendMessageRequest{Content: "hi"}, errNoTarget},
		{"both targets", SendMessageRequest{RoomID: "r1", ReceiverID: "u2", Content: "hi"}, errNoTarget},
		{"empty content", SendMessageRequest{RoomID: "r1"}, errEmptyContent},
		{"too long", SendMessageRequest{RoomID: "r1", Content: strings.Repeat("a", MaxContentLength+1)}, errContentTooLong},
		{"bad type", SendMessageRequest{RoomID: "r1", Content: "hi", MessageType: "video"}, errBadMessageType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			err := req.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestSendMessageRequest_DefaultsToText(t *testing.T) {
	req := SendMessageRequest{RoomID: "r1", Content: "hi"}
	require.NoError(t, req.Validate())
	assert.Equal(t, MessageTypeText, req.MessageType)
	assert.False(t, req.IsDirect())
}

func TestSendMessageRequest_CountsRunesNotBytes(t *testing.T) {
	req := SendMessageRequest{RoomID: "r1", Content: strings.Repeat("é", MaxContentLength)}
	assert.NoError(t, req.Validate())
}

func TestDirectMessage_Counterpart(t *testing.T) {
	msg := DirectMessage{
		Sender:   UserSummary{ID: "alice"},
		Receiver: UserSummary{ID: "bob"},
	}
	assert.Equal(t, UserIdType("bob"), msg.Counterpart("alice"))
	assert.Equal(t, UserIdType("alice"), msg.Counterpart("bob"))
}

func TestMessageBefore(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Second)

	assert.True(t, MessageBefore(t0, 5, t1, 1), "earlier timestamp wins")
	assert.False(t, MessageBefore(t1, 1, t0, 5))
	assert.True(t, MessageBefore(t0, 1, t0, 2), "id breaks ties")
	assert.False(t, MessageBefore(t0, 2, t0, 2))
}

func TestChatMessage_DecodesHubPayload(t *testing.T) {
	raw := `{"id":7,"chatRoomId":"lobby","sender":{"id":"u1","username":"neo"},"content":"gg","messageType":"text","sentAt":"2026-03-01T10:00:00Z","isEdited":false}`

	var msg ChatMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))

	assert.Equal(t, MessageIdType(7), msg.ID)
	assert.Equal(t, RoomIdType("lobby"), msg.RoomID)
	assert.Equal(t, "neo", msg.Sender.Username)
	assert.Equal(t, MessageTypeText, msg.MessageType)
	assert.Equal(t, 2026, msg.SentAt.Year())
}
